package http

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/go-github/v57/github"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/seagent/internal/config"
	"github.com/fyrsmithlabs/seagent/internal/repository"
	"github.com/fyrsmithlabs/seagent/internal/resolve"
	"github.com/fyrsmithlabs/seagent/internal/runtime"
)

// maxWebhookBody bounds a webhook payload.
const maxWebhookBody = 1 << 20

// IssueCommenter posts the answer to an issue.
type IssueCommenter interface {
	PostIssueComment(ctx context.Context, owner, repo string, number int, body string) error
}

// webhook answers GitHub issues that mention the agent.
type webhook struct {
	cfg       config.WebhookConfig
	commenter IssueCommenter

	mu          sync.Mutex
	limiters    map[string]*rate.Limiter
	lastCleanup time.Time
}

// EnableWebhook serves POST /webhook. Opened issues that mention
// cfg.Mention start a resolve run on their own thread; the final answer is
// posted back as an issue comment.
func (s *Server) EnableWebhook(cfg config.WebhookConfig, commenter IssueCommenter) error {
	if !cfg.Secret.IsSet() {
		return errors.New("webhook secret is required")
	}
	if cfg.AssistantID == "" {
		return errors.New("webhook assistant id is required")
	}
	if commenter == nil {
		return errors.New("webhook needs an issue commenter")
	}
	if cfg.Mention == "" {
		cfg.Mention = "seagent"
	}
	s.webhook = &webhook{cfg: cfg, commenter: commenter}
	s.echo.POST("/webhook", s.handleWebhook)
	return nil
}

// limiter returns the rate limiter of a client address: one request per
// second with a burst of ten. Limiters are dropped every hour.
func (w *webhook) limiter(ip string) *rate.Limiter {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.limiters == nil || time.Since(w.lastCleanup) > time.Hour {
		w.limiters = make(map[string]*rate.Limiter)
		w.lastCleanup = time.Now()
	}
	l, ok := w.limiters[ip]
	if !ok {
		l = rate.NewLimiter(rate.Limit(1), 10)
		w.limiters[ip] = l
	}
	return l
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if ip, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return ip
	}
	return r.RemoteAddr
}

func (s *Server) handleWebhook(c echo.Context) error {
	req := c.Request()
	ctx := req.Context()
	w := s.webhook

	if ip := clientIP(req); !w.limiter(ip).Allow() {
		s.logger.Warn(ctx, "webhook rate limit exceeded", zap.String("ip", ip))
		return c.JSON(http.StatusTooManyRequests, ErrorResponse{Kind: string(runtime.KindRateLimited), Message: "rate limit exceeded"})
	}

	req.Body = http.MaxBytesReader(c.Response(), req.Body, maxWebhookBody)
	payload, err := github.ValidatePayload(req, []byte(w.cfg.Secret.Value()))
	if err != nil {
		s.logger.Warn(ctx, "invalid webhook signature", zap.Error(err))
		return c.JSON(http.StatusUnauthorized, ErrorResponse{Kind: "Unauthorized", Message: "invalid signature"})
	}
	event, err := github.ParseWebHook(github.WebHookType(req), payload)
	if err != nil {
		return s.badRequest(c, "invalid webhook payload")
	}

	switch e := event.(type) {
	case *github.IssuesEvent:
		return s.handleIssueEvent(c, e)
	case *github.PingEvent:
		return c.JSON(http.StatusOK, WebhookResponse{Status: "pong"})
	default:
		s.logger.Debug(ctx, "ignoring webhook event", zap.String("type", github.WebHookType(req)))
		return c.JSON(http.StatusOK, WebhookResponse{Status: "ignored", Reason: "event type not supported"})
	}
}

func (s *Server) handleIssueEvent(c echo.Context, e *github.IssuesEvent) error {
	ctx := c.Request().Context()
	w := s.webhook

	if action := e.GetAction(); action != "opened" {
		return c.JSON(http.StatusOK, WebhookResponse{Status: "ignored", Reason: fmt.Sprintf("action %q not supported", action)})
	}
	issue := e.GetIssue()
	text := issue.GetTitle() + "\n" + issue.GetBody()
	if !Mentions(text, w.cfg.Mention) {
		return c.JSON(http.StatusOK, WebhookResponse{Status: "ignored", Reason: "agent not mentioned"})
	}

	ghRepo := e.GetRepo()
	owner, name := ghRepo.GetOwner().GetLogin(), ghRepo.GetName()
	desc, ok := w.lookup(ghRepo)
	if !ok {
		s.logger.Warn(ctx, "issue for an unconfigured repository",
			zap.String("repo", ghRepo.GetFullName()))
		return c.JSON(http.StatusOK, WebhookResponse{Status: "ignored", Reason: "repository not onboarded"})
	}

	// Redeliveries of the same issue land on the same thread and are dropped.
	threadID := fmt.Sprintf("github-%s-%s-%d", owner, name, issue.GetNumber())
	_, err := s.runs.CreateThread(ctx, threadID, map[string]any{
		"issue_url":    issue.GetHTMLURL(),
		"issue_number": issue.GetNumber(),
	}, runtime.IfExistsRaise)
	if errors.Is(err, runtime.ErrAlreadyExists) {
		return c.JSON(http.StatusOK, WebhookResponse{Status: "ignored", Reason: "issue already handled", ThreadID: threadID})
	}
	if err != nil {
		return s.fail(c, err)
	}

	handle, err := s.runs.CreateRun(ctx, threadID, w.cfg.AssistantID, runtime.Input{
		Repo:     &desc,
		Messages: []resolve.Message{{Role: resolve.RoleUser, Content: text}},
	}, runtime.StreamWait)
	if err != nil {
		// Let a redelivery try again.
		if derr := s.runs.DeleteThread(ctx, threadID); derr != nil {
			s.logger.Warn(ctx, "removing issue thread", zap.String("thread_id", threadID), zap.Error(derr))
		}
		return s.fail(c, err)
	}

	s.logger.Info(ctx, "issue accepted",
		zap.String("repo", ghRepo.GetFullName()),
		zap.Int("issue", issue.GetNumber()),
		zap.String("run_id", handle.Run.ID))

	go s.answerIssue(context.WithoutCancel(ctx), handle, owner, name, issue.GetNumber())
	return c.JSON(http.StatusAccepted, WebhookResponse{Status: "accepted", ThreadID: threadID, RunID: handle.Run.ID})
}

// answerIssue waits for the run and posts its answer.
func (s *Server) answerIssue(ctx context.Context, handle *runtime.RunHandle, owner, repo string, number int) {
	fields := []zap.Field{zap.String("repo", owner+"/"+repo), zap.Int("issue", number), zap.String("run_id", handle.Run.ID)}

	run, err := handle.Wait(ctx)
	if err != nil {
		s.logger.Error(ctx, "waiting for issue run", append(fields, zap.Error(err))...)
		return
	}
	if run.Status != runtime.RunSucceeded {
		msg := ""
		if run.Error != nil {
			msg = run.Error.Message
		}
		s.logger.Error(ctx, "issue run did not succeed",
			append(fields, zap.String("status", string(run.Status)), zap.String("error", msg))...)
		return
	}
	answer := FinalAnswer(run.Output)
	if answer == "" {
		s.logger.Error(ctx, "issue run produced no answer", fields...)
		return
	}
	if err := s.webhook.commenter.PostIssueComment(ctx, owner, repo, number, answer); err != nil {
		s.logger.Error(ctx, "posting issue comment", append(fields, zap.Error(err))...)
		return
	}
	s.logger.Info(ctx, "issue answered", fields...)
}

// lookup finds the configured repository an event belongs to.
func (w *webhook) lookup(r *github.Repository) (repository.Descriptor, bool) {
	candidates := []string{
		normalizeRepoURL(r.GetHTMLURL()),
		normalizeRepoURL(r.GetCloneURL()),
		normalizeRepoURL("github://" + r.GetFullName()),
	}
	for _, cr := range w.cfg.Repos {
		u := normalizeRepoURL(cr.URL)
		for _, c := range candidates {
			if c != "" && u == c {
				return repository.Descriptor{URL: cr.URL, Branch: cr.Branch, SrcFolder: cr.SrcFolder}.Normalize(), true
			}
		}
	}
	return repository.Descriptor{}, false
}

func normalizeRepoURL(u string) string {
	u = strings.TrimSuffix(strings.TrimSuffix(strings.TrimSpace(u), "/"), ".git")
	if strings.HasSuffix(u, ":/") || strings.HasSuffix(u, "://") {
		return ""
	}
	return strings.ToLower(u)
}

// Mentions reports whether text mentions handle, case-insensitively.
func Mentions(text, handle string) bool {
	if text == "" || handle == "" {
		return false
	}
	return strings.Contains(strings.ToLower(text), strings.ToLower(handle))
}

// FinalAnswer returns the content of the last message of state when the
// assistant wrote it.
func FinalAnswer(state *runtime.State) string {
	if state == nil || len(state.Messages) == 0 {
		return ""
	}
	last := state.Messages[len(state.Messages)-1]
	if last.Role != resolve.RoleAssistant {
		return ""
	}
	return strings.TrimSpace(last.Content)
}
