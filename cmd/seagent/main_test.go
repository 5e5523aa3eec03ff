package main

import (
	"bytes"
	"context"
	"errors"
	"slices"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/seagent/internal/agent"
	"github.com/fyrsmithlabs/seagent/internal/config"
	"github.com/fyrsmithlabs/seagent/internal/logging"
	"github.com/fyrsmithlabs/seagent/internal/orchestrator"
	"github.com/fyrsmithlabs/seagent/internal/repository"
	"github.com/fyrsmithlabs/seagent/internal/resolve"
	"github.com/fyrsmithlabs/seagent/internal/runtime"
)

func TestRootCmd_Subcommands(t *testing.T) {
	var names []string
	for _, cmd := range rootCmd.Commands() {
		names = append(names, cmd.Name())
	}
	for _, want := range []string{"serve", "mcp", "onboard", "resolve", "worker", "watch"} {
		assert.Contains(t, names, want)
	}
	assert.NotNil(t, rootCmd.PersistentFlags().Lookup("config"))
}

func TestCommandFlags(t *testing.T) {
	tests := []struct {
		cmd   string
		flags []string
	}{
		{"serve", []string{"host", "port"}},
		{"onboard", []string{"repo", "branch", "src-folder", "model", "thread", "update", "temporal"}},
		{"resolve", []string{"repo", "localization-model", "suggest-model", "thread", "json"}},
		{"watch", []string{"repo", "model", "debounce", "skip-initial"}},
	}
	for _, tt := range tests {
		t.Run(tt.cmd, func(t *testing.T) {
			cmd, _, err := rootCmd.Find([]string{tt.cmd})
			require.NoError(t, err)
			assert.NotEmpty(t, cmd.Short)
			for _, f := range tt.flags {
				assert.NotNil(t, cmd.Flags().Lookup(f), "--%s", f)
			}
		})
	}
}

func TestThreadFor(t *testing.T) {
	id, err := threadFor("t1", nil)
	require.NoError(t, err)
	assert.Equal(t, "t1", id)

	repo := (&repoFlags{url: "https://github.com/org/repo"}).descriptor()
	id, err = threadFor("", repo)
	require.NoError(t, err)
	assert.Equal(t, "https://github.com/org/repo@main:", id)

	_, err = threadFor("", nil)
	assert.Error(t, err)
	assert.Nil(t, (&repoFlags{}).descriptor())
}

func TestIssueText(t *testing.T) {
	text, err := issueText([]string{"nil", "pointer"}, strings.NewReader("ignored"))
	require.NoError(t, err)
	assert.Equal(t, "nil pointer", text)

	text, err = issueText(nil, strings.NewReader("  from stdin\n"))
	require.NoError(t, err)
	assert.Equal(t, "from stdin", text)

	_, err = issueText(nil, strings.NewReader("   "))
	assert.Error(t, err)
}

// scriptedGraph answers every run with a fixed resolution, or fails when
// the last message says so.
type scriptedGraph struct{}

func (scriptedGraph) Stages() []orchestrator.Stage { return orchestrator.ResolveStages() }

func (scriptedGraph) Prepare(_ runtime.State, in runtime.Input) (runtime.Input, error) {
	return in, nil
}

func (scriptedGraph) Execute(_ context.Context, exec runtime.Execution) (runtime.State, error) {
	msgs := exec.Input.Messages
	if len(msgs) > 0 && msgs[len(msgs)-1].Content == "fail" {
		return exec.State, errors.New("model unavailable")
	}
	out := exec.State
	out.Messages = slices.Concat(out.Messages, msgs)
	out.Resolution = &resolve.Resolution{
		Packages: []resolve.Localized{{Name: "api", Rationale: "handles requests"}},
		Files:    []resolve.Localized{{Name: "api/handler.go", Rationale: "dereferences the body"}},
		Suggestion: &resolve.Suggestion{
			Text:  "Guard the nil body.",
			Diffs: []resolve.Diff{{FilePath: "api/handler.go", Diff: "+if body == nil { return }"}},
		},
	}
	return out, nil
}

func newTestApp(t *testing.T) *app {
	t.Helper()
	svc, err := runtime.NewService(context.Background(), runtime.Options{
		Repository: runtime.NewMemoryRepository(),
		Graphs: func(context.Context, runtime.Assistant) (runtime.Graph, error) {
			return scriptedGraph{}, nil
		},
		Logger: logging.NewNop(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close(context.Background()) })
	return &app{
		cfg:    &config.Config{},
		logger: logging.NewNop(),
		stack:  &agent.Stack{Service: svc},
	}
}

func TestEnsureAssistant(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()
	svc := a.stack.Service

	require.NoError(t, ensureAssistant(ctx, svc, "resolver", config.GraphResolve, map[string]any{
		"localization_model":     "openai/gpt-4o",
		"code_suggestions_model": "openai/gpt-4o",
	}))
	// Empty values keep the stored assistant as it is.
	require.NoError(t, ensureAssistant(ctx, svc, "resolver", config.GraphResolve, map[string]any{
		"localization_model": "",
	}))
	got, err := svc.GetAssistant(ctx, "resolver")
	require.NoError(t, err)
	assert.Equal(t, "openai/gpt-4o", got.Config.LocalizationModel)
	assert.Equal(t, 1, got.Version)

	require.NoError(t, ensureAssistant(ctx, svc, "resolver", config.GraphResolve, map[string]any{
		"localization_model":     "anthropic/claude",
		"code_suggestions_model": "openai/gpt-4o",
	}))
	got, err = svc.GetAssistant(ctx, "resolver")
	require.NoError(t, err)
	assert.Equal(t, "anthropic/claude", got.Config.LocalizationModel)
	assert.Equal(t, 2, got.Version)

	err = ensureAssistant(ctx, svc, "resolver", config.GraphOnboard, map[string]any{})
	assert.ErrorIs(t, err, runtime.ErrInvalidInput)
	err = ensureAssistant(ctx, svc, "missing", config.GraphResolve, map[string]any{})
	assert.ErrorIs(t, err, config.ErrConfigIncomplete)
}

func TestExecute(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()
	require.NoError(t, ensureAssistant(ctx, a.stack.Service, "resolver", config.GraphResolve, map[string]any{
		"localization_model":     "openai/gpt-4o",
		"code_suggestions_model": "openai/gpt-4o",
	}))

	var progress bytes.Buffer
	run, err := execute(ctx, a, &progress, "t1", "resolver", runtime.Input{
		Messages: []resolve.Message{{Role: "user", Content: "nil pointer"}},
	})
	require.NoError(t, err)
	assert.Equal(t, runtime.RunSucceeded, run.Status)
	require.NotNil(t, run.Output.Resolution)

	var out bytes.Buffer
	require.NoError(t, printResolution(&out, run.Output.Resolution))
	assert.Contains(t, out.String(), "api/handler.go: dereferences the body")
	assert.Contains(t, out.String(), "Guard the nil body.")
	assert.Contains(t, out.String(), "--- api/handler.go")

	_, err = execute(ctx, a, &progress, "t1", "resolver", runtime.Input{
		Messages: []resolve.Message{{Role: "user", Content: "fail"}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed")

	// The failed run left the committed conversation alone.
	state, err := a.stack.Service.GetState(ctx, "t1")
	require.NoError(t, err)
	assert.Len(t, state.Messages, 1)
}

func TestOnboardEvent(t *testing.T) {
	t.Cleanup(func() {
		onboardOpts.update = false
		onboardOpts.modified = nil
		onboardOpts.deleted = nil
	})
	assert.Equal(t, repository.EventOnboard, onboardEvent().Type)

	onboardOpts.update = true
	onboardOpts.modified = []string{"a.go"}
	onboardOpts.deleted = []string{"b.go"}
	ev := onboardEvent()
	assert.Equal(t, repository.EventUpdate, ev.Type)
	assert.Equal(t, []string{"a.go"}, ev.Modified)
	assert.Equal(t, []string{"b.go"}, ev.Deleted)
}

func TestFinished(t *testing.T) {
	_, err := finished(&runtime.Run{ID: "r1", Status: runtime.RunCancelled})
	assert.EqualError(t, err, "run r1 ended cancelled")

	_, err = finished(&runtime.Run{ID: "r1", Status: runtime.RunFailed, Error: &runtime.RunError{
		Kind: runtime.KindTimeout, Stage: "localize_packages", Message: "deadline exceeded",
	}})
	assert.EqualError(t, err, "run r1 failed at localize_packages: Timeout: deadline exceeded")
}
