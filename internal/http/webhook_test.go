package http

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/go-github/v57/github"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/seagent/internal/config"
	"github.com/fyrsmithlabs/seagent/internal/resolve"
	"github.com/fyrsmithlabs/seagent/internal/runtime"
)

const hookSecret = "hook-secret"

type comment struct {
	owner, repo string
	number      int
	body        string
}

// fakeCommenter records posted comments.
type fakeCommenter struct {
	mu       sync.Mutex
	comments []comment
}

func (f *fakeCommenter) PostIssueComment(_ context.Context, owner, repo string, number int, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.comments = append(f.comments, comment{owner, repo, number, body})
	return nil
}

func (f *fakeCommenter) posted() []comment {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]comment(nil), f.comments...)
}

func webhookConfig() config.WebhookConfig {
	return config.WebhookConfig{
		Enabled:     true,
		Secret:      hookSecret,
		Mention:     "seagent",
		AssistantID: "resolver",
		Repos:       []config.WebhookRepo{{URL: "https://github.com/acme/widgets.git", SrcFolder: "src"}},
	}
}

func setupWebhookServer(t *testing.T) (*Server, *fakeCommenter) {
	t.Helper()
	s := setupTestServer(t, &replyGraph{})
	seed(t, s)
	commenter := &fakeCommenter{}
	require.NoError(t, s.EnableWebhook(webhookConfig(), commenter))
	return s, commenter
}

func issuePayload(action, title, body string, number int, fullName string) map[string]any {
	return map[string]any{
		"action": action,
		"issue": map[string]any{
			"number":   number,
			"title":    title,
			"body":     body,
			"html_url": fmt.Sprintf("https://github.com/%s/issues/%d", fullName, number),
		},
		"repository": map[string]any{
			"name":      fullName[len("acme/"):],
			"full_name": fullName,
			"html_url":  "https://github.com/" + fullName,
			"owner":     map[string]any{"login": "acme"},
		},
	}
}

func sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func deliver(t *testing.T, s *Server, event string, body any, secret string) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(payload))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set("X-GitHub-Event", event)
	req.Header.Set("X-Hub-Signature-256", sign(secret, payload))
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)
	return rec
}

func TestWebhook_AnswersMentioningIssue(t *testing.T) {
	s, commenter := setupWebhookServer(t)

	rec := deliver(t, s, "issues", issuePayload("opened", "Crash in handler", "@SeAgent any idea?", 7, "acme/widgets"), hookSecret)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	resp := decode[WebhookResponse](t, rec)
	assert.Equal(t, "accepted", resp.Status)
	assert.Equal(t, "github-acme-widgets-7", resp.ThreadID)
	assert.NotEmpty(t, resp.RunID)

	require.Eventually(t, func() bool { return len(commenter.posted()) == 1 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, comment{"acme", "widgets", 7, "looked at it"}, commenter.posted()[0])

	runs, err := s.runs.ListRuns(context.Background(), resp.ThreadID)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.NotNil(t, runs[0].Input.Repo)
	assert.Equal(t, "https://github.com/acme/widgets.git", runs[0].Input.Repo.URL)
	assert.Equal(t, "src", runs[0].Input.Repo.SrcFolder)
	assert.Equal(t, "Crash in handler\n@SeAgent any idea?", runs[0].Input.Messages[0].Content)

	// A redelivery does not start a second run.
	rec = deliver(t, s, "issues", issuePayload("opened", "Crash in handler", "@SeAgent any idea?", 7, "acme/widgets"), hookSecret)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "issue already handled", decode[WebhookResponse](t, rec).Reason)
	runs, err = s.runs.ListRuns(context.Background(), resp.ThreadID)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestWebhook_Ignored(t *testing.T) {
	s, commenter := setupWebhookServer(t)

	tests := []struct {
		name   string
		event  string
		body   any
		reason string
	}{
		{"not mentioned", "issues", issuePayload("opened", "Crash", "no handle here", 1, "acme/widgets"), "agent not mentioned"},
		{"edited", "issues", issuePayload("edited", "Crash", "seagent", 2, "acme/widgets"), `action "edited" not supported`},
		{"unknown repo", "issues", issuePayload("opened", "Crash", "seagent", 3, "acme/gadgets"), "repository not onboarded"},
		{"other event", "star", map[string]any{"action": "created"}, "event type not supported"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := deliver(t, s, tt.event, tt.body, hookSecret)
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			resp := decode[WebhookResponse](t, rec)
			assert.Equal(t, "ignored", resp.Status)
			assert.Equal(t, tt.reason, resp.Reason)
		})
	}

	rec := deliver(t, s, "ping", map[string]any{"zen": "Keep it logically awesome."}, hookSecret)
	assert.Equal(t, "pong", decode[WebhookResponse](t, rec).Status)
	assert.Empty(t, commenter.posted())
}

func TestWebhook_RejectsBadSignature(t *testing.T) {
	s, commenter := setupWebhookServer(t)

	rec := deliver(t, s, "issues", issuePayload("opened", "Crash", "seagent", 7, "acme/widgets"), "wrong-secret")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	_, err := s.runs.GetThread(context.Background(), "github-acme-widgets-7")
	assert.ErrorIs(t, err, runtime.ErrNotFound)
	assert.Empty(t, commenter.posted())
}

func TestWebhook_MissingAssistantFreesThread(t *testing.T) {
	s := setupTestServer(t, &replyGraph{})
	cfg := webhookConfig()
	cfg.AssistantID = "absent"
	require.NoError(t, s.EnableWebhook(cfg, &fakeCommenter{}))

	rec := deliver(t, s, "issues", issuePayload("opened", "Crash", "seagent", 7, "acme/widgets"), hookSecret)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	_, err := s.runs.GetThread(context.Background(), "github-acme-widgets-7")
	assert.ErrorIs(t, err, runtime.ErrNotFound)
}

func TestWebhook_RateLimited(t *testing.T) {
	s, _ := setupWebhookServer(t)

	var last int
	for range 12 {
		last = deliver(t, s, "ping", map[string]any{"zen": "hi"}, hookSecret).Code
	}
	assert.Equal(t, http.StatusTooManyRequests, last)
}

func TestEnableWebhook_Validates(t *testing.T) {
	s := setupTestServer(t, &replyGraph{})

	cfg := webhookConfig()
	cfg.Secret = ""
	assert.Error(t, s.EnableWebhook(cfg, &fakeCommenter{}))
	assert.Error(t, s.EnableWebhook(webhookConfig(), nil))
}

func TestWebhookLookup(t *testing.T) {
	w := &webhook{cfg: config.WebhookConfig{Repos: []config.WebhookRepo{
		{URL: "github://Acme/Widgets", Branch: "dev"},
		{URL: "https://github.com/acme/tools/"},
	}}}

	d, ok := w.lookup(&github.Repository{
		FullName: github.String("acme/widgets"),
		HTMLURL:  github.String("https://github.com/acme/widgets"),
	})
	require.True(t, ok)
	assert.Equal(t, "github://Acme/Widgets", d.URL)
	assert.Equal(t, "dev", d.Branch)

	_, ok = w.lookup(&github.Repository{HTMLURL: github.String("https://github.com/acme/tools")})
	assert.True(t, ok)

	_, ok = w.lookup(&github.Repository{})
	assert.False(t, ok)
}

func TestMentions(t *testing.T) {
	assert.True(t, Mentions("Hey @SEAGENT, look", "seagent"))
	assert.False(t, Mentions("Hey there", "seagent"))
	assert.False(t, Mentions("", "seagent"))
	assert.False(t, Mentions("seagent", ""))
}

func TestFinalAnswer(t *testing.T) {
	assert.Empty(t, FinalAnswer(nil))
	assert.Empty(t, FinalAnswer(&runtime.State{Messages: []resolve.Message{{Role: resolve.RoleUser, Content: "q"}}}))
	assert.Equal(t, "a", FinalAnswer(&runtime.State{Messages: []resolve.Message{
		{Role: resolve.RoleUser, Content: "q"}, {Role: resolve.RoleAssistant, Content: " a \n"},
	}}))
}
