package http

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/seagent/internal/config"
	"github.com/fyrsmithlabs/seagent/internal/logging"
	"github.com/fyrsmithlabs/seagent/internal/orchestrator"
	"github.com/fyrsmithlabs/seagent/internal/resolve"
	"github.com/fyrsmithlabs/seagent/internal/runtime"
)

// replyGraph answers the last message after walking the resolution stages.
// With gate set, it holds the first stage until the gate closes.
type replyGraph struct {
	gate chan struct{}
}

func (g *replyGraph) Stages() []orchestrator.Stage {
	return orchestrator.ResolveStages()
}

func (g *replyGraph) Prepare(_ runtime.State, in runtime.Input) (runtime.Input, error) {
	if len(in.Messages) == 0 {
		return in, errors.Join(runtime.ErrInvalidInput, errors.New("messages are required"))
	}
	return in, nil
}

func (g *replyGraph) Execute(ctx context.Context, exec runtime.Execution) (runtime.State, error) {
	for i, stage := range g.Stages() {
		if i == 0 && g.gate != nil {
			select {
			case <-g.gate:
			case <-ctx.Done():
				return runtime.State{}, &orchestrator.StageError{Stage: stage, Err: ctx.Err()}
			}
		}
		exec.Progress(ctx, runtime.StageUpdate{
			Result:     orchestrator.StageResult{Stage: stage, Status: orchestrator.StatusCompleted},
			Checkpoint: &runtime.Checkpoint{Completed: g.Stages()[:i+1]},
			Preview:    exec.State,
		})
	}
	out := exec.State
	out.Messages = slices.Concat(out.Messages, exec.Input.Messages,
		[]resolve.Message{{Role: resolve.RoleAssistant, Content: "looked at it"}})
	return out, nil
}

var resolverConfig = map[string]any{
	"localization_model":     "openai/gpt-4o",
	"code_suggestions_model": "openai/gpt-4o",
}

func setupTestServer(t *testing.T, g runtime.Graph) *Server {
	t.Helper()
	svc, err := runtime.NewService(context.Background(), runtime.Options{
		Repository: runtime.NewMemoryRepository(),
		Graphs: func(context.Context, runtime.Assistant) (runtime.Graph, error) {
			return g, nil
		},
		Logger: logging.NewNop(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close(context.Background()) })

	server, err := NewServer(svc, logging.NewTestLogger().Logger, &Config{Heartbeat: time.Hour})
	require.NoError(t, err)
	return server
}

func do(t *testing.T, s *Server, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	if body != nil {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

// seed creates the resolver assistant and thread t1.
func seed(t *testing.T, s *Server) {
	t.Helper()
	rec := do(t, s, http.MethodPost, "/api/v1/assistants", CreateAssistantRequest{
		AssistantID: "resolver", GraphID: config.GraphResolve, Config: resolverConfig,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = do(t, s, http.MethodPost, "/api/v1/threads", CreateThreadRequest{ThreadID: "t1"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func issue(text string) runtime.Input {
	return runtime.Input{Messages: []resolve.Message{{Role: resolve.RoleUser, Content: text}}}
}

func TestNewServer(t *testing.T) {
	svc, err := runtime.NewService(context.Background(), runtime.Options{
		Repository: runtime.NewMemoryRepository(),
		Graphs: func(context.Context, runtime.Assistant) (runtime.Graph, error) {
			return &replyGraph{}, nil
		},
	})
	require.NoError(t, err)

	t.Run("uses defaults when config is nil", func(t *testing.T) {
		server, err := NewServer(svc, logging.NewNop(), nil)
		require.NoError(t, err)
		assert.Equal(t, "localhost", server.config.Host)
		assert.Equal(t, 9090, server.config.Port)
		assert.Equal(t, 30*time.Second, server.config.Heartbeat)
	})

	t.Run("returns error when logger is nil", func(t *testing.T) {
		_, err := NewServer(svc, nil, nil)
		assert.ErrorContains(t, err, "logger is required")
	})

	t.Run("returns error when service is nil", func(t *testing.T) {
		_, err := NewServer(nil, logging.NewNop(), nil)
		assert.ErrorContains(t, err, "run service cannot be nil")
	})
}

func TestHandleHealth(t *testing.T) {
	server := setupTestServer(t, &replyGraph{})

	rec := do(t, server, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode[HealthResponse](t, rec).Status)
}

func TestMetricsEndpoint(t *testing.T) {
	server := setupTestServer(t, &replyGraph{})

	rec := do(t, server, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestAssistants(t *testing.T) {
	server := setupTestServer(t, &replyGraph{})
	req := CreateAssistantRequest{
		AssistantID: "resolver",
		GraphID:     config.GraphResolve,
		Config:      map[string]any{"localization_model": "openai/gpt-4o", "code_suggestions_model": "openai/gpt-4o", "gh_token": "ghp_secret"},
	}

	rec := do(t, server, http.MethodPost, "/api/v1/assistants", req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NotContains(t, rec.Body.String(), "ghp_secret")
	assert.Equal(t, 1, decode[runtime.Assistant](t, rec).Version)

	rec = do(t, server, http.MethodPost, "/api/v1/assistants", req)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, string(runtime.KindAlreadyExists), decode[ErrorResponse](t, rec).Kind)

	req.IfExists = runtime.IfExistsOverwrite
	rec = do(t, server, http.MethodPost, "/api/v1/assistants", req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, decode[runtime.Assistant](t, rec).Version)

	rec = do(t, server, http.MethodGet, "/api/v1/assistants/resolver", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, server, http.MethodPost, "/api/v1/assistants", CreateAssistantRequest{
		AssistantID: "partial", GraphID: config.GraphResolve, Config: map[string]any{"localization_model": "openai/gpt-4o"},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, string(runtime.KindConfigIncomplete), decode[ErrorResponse](t, rec).Kind)

	rec = do(t, server, http.MethodDelete, "/api/v1/assistants/resolver", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = do(t, server, http.MethodGet, "/api/v1/assistants/resolver", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBadRequestBody(t *testing.T) {
	server := setupTestServer(t, &replyGraph{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/threads", strings.NewReader("{not json"))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	server.echo.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateRun_Wait(t *testing.T) {
	server := setupTestServer(t, &replyGraph{})
	seed(t, server)

	rec := do(t, server, http.MethodPost, "/api/v1/threads/t1/runs", CreateRunRequest{
		AssistantID: "resolver", Input: issue("checksum panics"),
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	run := decode[runtime.Run](t, rec)
	assert.Equal(t, runtime.RunSucceeded, run.Status)
	assert.Equal(t, runtime.StreamWait, run.StreamMode)
	assert.Equal(t, run.ID, rec.Header().Get("X-Run-ID"))

	rec = do(t, server, http.MethodGet, "/api/v1/threads/t1/state", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	state := decode[runtime.State](t, rec)
	require.Len(t, state.Messages, 2)
	assert.Equal(t, "looked at it", state.Messages[1].Content)

	rec = do(t, server, http.MethodGet, "/api/v1/threads/t1/runs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	runs := decode[RunsResponse](t, rec).Runs
	require.Len(t, runs, 1)
	assert.Equal(t, run.ID, runs[0].ID)

	rec = do(t, server, http.MethodGet, "/api/v1/threads/t1/runs/"+run.ID, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, server, http.MethodPost, "/api/v1/threads/t1/runs/"+run.ID+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, string(runtime.KindInvalidTransition), decode[ErrorResponse](t, rec).Kind)

	rec = do(t, server, http.MethodDelete, "/api/v1/threads/t1/runs/"+run.ID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = do(t, server, http.MethodGet, "/api/v1/threads/t1/runs/"+run.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateRun_Validation(t *testing.T) {
	server := setupTestServer(t, &replyGraph{})
	seed(t, server)

	rec := do(t, server, http.MethodPost, "/api/v1/threads/t1/runs", CreateRunRequest{AssistantID: "resolver"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, server, http.MethodPost, "/api/v1/threads/t1/runs", CreateRunRequest{
		AssistantID: "resolver", Input: issue("x"), StreamMode: "updates",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, server, http.MethodPost, "/api/v1/threads/nope/runs", CreateRunRequest{
		AssistantID: "resolver", Input: issue("x"),
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateRun_ValuesStream(t *testing.T) {
	server := setupTestServer(t, &replyGraph{})
	seed(t, server)

	rec := do(t, server, http.MethodPost, "/api/v1/threads/t1/runs", CreateRunRequest{
		AssistantID: "resolver", Input: issue("checksum panics"), StreamMode: runtime.StreamValues,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get(echo.HeaderContentType))

	var events []string
	var snaps []runtime.Snapshot
	scanner := bufio.NewScanner(rec.Body)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			events = append(events, strings.TrimPrefix(line, "event: "))
		case strings.HasPrefix(line, "data: "):
			var snap runtime.Snapshot
			require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &snap))
			snaps = append(snaps, snap)
		}
	}

	stages := len(orchestrator.ResolveStages())
	require.Len(t, events, stages+2)
	assert.Equal(t, "end", events[len(events)-1])
	for _, e := range events[:len(events)-1] {
		assert.Equal(t, "values", e)
	}
	assert.Equal(t, orchestrator.StageLocalizePackages, snaps[1].Stage)
	last := snaps[len(snaps)-1]
	assert.Equal(t, runtime.RunSucceeded, last.Status)
	assert.Len(t, last.Values.Messages, 2)
}

func TestCreateRun_ThreadBusyAndCancel(t *testing.T) {
	g := &replyGraph{gate: make(chan struct{})}
	server := setupTestServer(t, g)
	seed(t, server)

	type result struct {
		rec *httptest.ResponseRecorder
	}
	first := make(chan result, 1)
	go func() {
		rec := httptest.NewRecorder()
		body, _ := json.Marshal(CreateRunRequest{AssistantID: "resolver", Input: issue("slow")})
		req := httptest.NewRequest(http.MethodPost, "/api/v1/threads/t1/runs", bytes.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		server.echo.ServeHTTP(rec, req)
		first <- result{rec}
	}()

	var runID string
	require.Eventually(t, func() bool {
		rec := do(t, server, http.MethodGet, "/api/v1/threads/t1/runs", nil)
		runs := decode[RunsResponse](t, rec).Runs
		if len(runs) == 1 && runs[0].Status == runtime.RunRunning {
			runID = runs[0].ID
			return true
		}
		return false
	}, 5*time.Second, 10*time.Millisecond)

	rec := do(t, server, http.MethodPost, "/api/v1/threads/t1/runs", CreateRunRequest{
		AssistantID: "resolver", Input: issue("second"),
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, string(runtime.KindThreadBusy), decode[ErrorResponse](t, rec).Kind)

	rec = do(t, server, http.MethodPost, "/api/v1/threads/t1/runs/"+runID+"/cancel", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, runtime.RunCancelled, decode[runtime.Run](t, rec).Status)

	select {
	case r := <-first:
		assert.Equal(t, http.StatusOK, r.rec.Code)
		assert.Equal(t, runtime.RunCancelled, decode[runtime.Run](t, r.rec).Status)
	case <-time.After(5 * time.Second):
		t.Fatal("waiting request never returned")
	}

	rec = do(t, server, http.MethodGet, "/api/v1/threads/t1/state", nil)
	assert.Empty(t, decode[runtime.State](t, rec).Messages)
}

func TestDeleteThread(t *testing.T) {
	server := setupTestServer(t, &replyGraph{})
	seed(t, server)

	rec := do(t, server, http.MethodDelete, "/api/v1/threads/t1", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = do(t, server, http.MethodGet, "/api/v1/threads/t1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = do(t, server, http.MethodGet, "/api/v1/threads/t1/runs", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{runtime.ErrNotFound, http.StatusNotFound},
		{runtime.ErrAlreadyExists, http.StatusConflict},
		{runtime.ErrThreadBusy, http.StatusConflict},
		{runtime.ErrInvalidTransition, http.StatusConflict},
		{config.ErrConfigIncomplete, http.StatusUnprocessableEntity},
		{runtime.ErrInvalidInput, http.StatusBadRequest},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StatusFor(tt.err), tt.err.Error())
	}
}
