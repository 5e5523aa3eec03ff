package mcp

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/fyrsmithlabs/seagent/internal/runtime"
)

// registerTools registers all MCP tools with the server.
func (s *Server) registerTools() {
	s.registerAssistantTools()
	s.registerThreadTools()
	s.registerRunTools()
	s.registerSearchTools()
}

// addTool records meta in the registry and registers h with metrics around
// every call. Like mcp.AddTool, it panics on a bad registration.
func addTool[In, Out any](s *Server, meta *ToolMetadata, h mcp.ToolHandlerFor[In, Out]) {
	if err := s.toolRegistry.Register(meta); err != nil {
		panic(err)
	}
	name := meta.Name
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        name,
		Description: meta.Description,
	}, func(ctx context.Context, req *mcp.CallToolRequest, args In) (*mcp.CallToolResult, Out, error) {
		done := s.metrics.Begin(ctx, name)
		res, out, err := h(ctx, req, args)
		done(err)
		return res, out, err
	})
}

// toolError prefixes err with its runtime error kind.
func toolError(err error) error {
	return fmt.Errorf("%s: %w", runtime.KindOf(err), err)
}

func text(format string, args ...any) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf(format, args...)}},
	}
}

// ===== ASSISTANT TOOLS =====

type assistantCreateInput struct {
	AssistantID string         `json:"assistant_id,omitempty" jsonschema:"Assistant identifier (generated when empty)"`
	GraphID     string         `json:"graph_id" jsonschema:"Graph to bind: onboard or resolve"`
	Config      map[string]any `json:"config" jsonschema:"Assistant configuration such as code_summary_model or localization_model"`
	Metadata    map[string]any `json:"metadata,omitempty" jsonschema:"Free-form metadata"`
	IfExists    string         `json:"if_exists,omitempty" jsonschema:"raise (default), do-nothing or overwrite"`
}

type assistantIDInput struct {
	AssistantID string `json:"assistant_id" jsonschema:"Assistant identifier"`
}

type assistantOutput struct {
	AssistantID string         `json:"assistant_id"`
	GraphID     string         `json:"graph_id"`
	Version     int            `json:"version"`
	Config      any            `json:"config"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

type deleteOutput struct {
	Deleted bool `json:"deleted"`
}

func toAssistantOutput(a *runtime.Assistant) assistantOutput {
	return assistantOutput{
		AssistantID: a.ID,
		GraphID:     a.GraphID,
		Version:     a.Version,
		Config:      a.Config,
		Metadata:    a.Metadata,
	}
}

func (s *Server) registerAssistantTools() {
	addTool(s, &ToolMetadata{
		Name:        "assistant_create",
		Description: "Create an assistant that binds a graph (onboard or resolve) to its model configuration",
		Category:    CategoryAssistant,
		Keywords:    []string{"configure", "graph", "model"},
	}, func(ctx context.Context, _ *mcp.CallToolRequest, args assistantCreateInput) (*mcp.CallToolResult, assistantOutput, error) {
		a, err := s.runs.CreateAssistant(ctx, runtime.AssistantSpec{
			ID:       args.AssistantID,
			GraphID:  args.GraphID,
			Config:   args.Config,
			Metadata: args.Metadata,
		}, runtime.IfExists(args.IfExists))
		if err != nil {
			return nil, assistantOutput{}, toolError(err)
		}
		return text("Assistant %s (graph %s, version %d)", a.ID, a.GraphID, a.Version), toAssistantOutput(a), nil
	})

	addTool(s, &ToolMetadata{
		Name:        "assistant_get",
		Description: "Get an assistant by ID. Secrets in its configuration are redacted",
		Category:    CategoryAssistant,
	}, func(ctx context.Context, _ *mcp.CallToolRequest, args assistantIDInput) (*mcp.CallToolResult, assistantOutput, error) {
		a, err := s.runs.GetAssistant(ctx, args.AssistantID)
		if err != nil {
			return nil, assistantOutput{}, toolError(err)
		}
		return text("Assistant %s (graph %s, version %d)", a.ID, a.GraphID, a.Version), toAssistantOutput(a), nil
	})

	addTool(s, &ToolMetadata{
		Name:        "assistant_delete",
		Description: "Delete an assistant",
		Category:    CategoryAssistant,
	}, func(ctx context.Context, _ *mcp.CallToolRequest, args assistantIDInput) (*mcp.CallToolResult, deleteOutput, error) {
		if err := s.runs.DeleteAssistant(ctx, args.AssistantID); err != nil {
			return nil, deleteOutput{}, toolError(err)
		}
		return text("Assistant %s deleted", args.AssistantID), deleteOutput{Deleted: true}, nil
	})
}

// ===== THREAD TOOLS =====

type threadCreateInput struct {
	ThreadID string         `json:"thread_id,omitempty" jsonschema:"Thread identifier (generated when empty)"`
	Metadata map[string]any `json:"metadata,omitempty" jsonschema:"Free-form metadata"`
	IfExists string         `json:"if_exists,omitempty" jsonschema:"raise (default), do-nothing or overwrite"`
}

type threadIDInput struct {
	ThreadID string `json:"thread_id" jsonschema:"Thread identifier"`
}

type threadOutput struct {
	ThreadID string         `json:"thread_id"`
	Status   string         `json:"status"`
	Metadata map[string]any `json:"metadata,omitempty"`
	State    any            `json:"state"`
}

func toThreadOutput(th *runtime.Thread) threadOutput {
	return threadOutput{
		ThreadID: th.ID,
		Status:   string(th.Status),
		Metadata: th.Metadata,
		State:    th.State,
	}
}

func (s *Server) registerThreadTools() {
	addTool(s, &ToolMetadata{
		Name:        "thread_create",
		Description: "Create a conversation thread that runs execute on",
		Category:    CategoryThread,
		Keywords:    []string{"conversation", "session"},
	}, func(ctx context.Context, _ *mcp.CallToolRequest, args threadCreateInput) (*mcp.CallToolResult, threadOutput, error) {
		th, err := s.runs.CreateThread(ctx, args.ThreadID, args.Metadata, runtime.IfExists(args.IfExists))
		if err != nil {
			return nil, threadOutput{}, toolError(err)
		}
		return text("Thread %s created", th.ID), toThreadOutput(th), nil
	})

	addTool(s, &ToolMetadata{
		Name:        "thread_state",
		Description: "Get a thread's status and committed state: repository, onboarding report, messages and latest resolution",
		Category:    CategoryThread,
		Keywords:    []string{"resolution", "messages", "report"},
	}, func(ctx context.Context, _ *mcp.CallToolRequest, args threadIDInput) (*mcp.CallToolResult, threadOutput, error) {
		th, err := s.runs.GetThread(ctx, args.ThreadID)
		if err != nil {
			return nil, threadOutput{}, toolError(err)
		}
		return text("Thread %s is %s", th.ID, th.Status), toThreadOutput(th), nil
	})

	addTool(s, &ToolMetadata{
		Name:        "thread_delete",
		Description: "Delete a thread and its runs, cancelling an active run first",
		Category:    CategoryThread,
	}, func(ctx context.Context, _ *mcp.CallToolRequest, args threadIDInput) (*mcp.CallToolResult, deleteOutput, error) {
		if err := s.runs.DeleteThread(ctx, args.ThreadID); err != nil {
			return nil, deleteOutput{}, toolError(err)
		}
		return text("Thread %s deleted", args.ThreadID), deleteOutput{Deleted: true}, nil
	})
}

// ===== RUN TOOLS =====

type runCreateInput struct {
	ThreadID    string        `json:"thread_id" jsonschema:"Thread to run on"`
	AssistantID string        `json:"assistant_id" jsonschema:"Assistant whose graph runs"`
	Input       runtime.Input `json:"input,omitempty" jsonschema:"Run input: repo and event for onboarding, repo and messages for resolution"`
}

type runRefInput struct {
	ThreadID string `json:"thread_id" jsonschema:"Thread identifier"`
	RunID    string `json:"run_id" jsonschema:"Run identifier"`
}

type runErrorOutput struct {
	Kind    string `json:"kind"`
	Stage   string `json:"stage,omitempty"`
	Message string `json:"message"`
}

type runOutput struct {
	RunID              string          `json:"run_id"`
	ThreadID           string          `json:"thread_id"`
	AssistantID        string          `json:"assistant_id"`
	Status             string          `json:"status"`
	LastCompletedStage string          `json:"last_completed_stage,omitempty"`
	Error              *runErrorOutput `json:"error,omitempty"`
	Output             any             `json:"output,omitempty"`
}

type runListOutput struct {
	Runs  []runOutput `json:"runs"`
	Count int         `json:"count"`
}

func toRunOutput(r *runtime.Run) runOutput {
	out := runOutput{
		RunID:              r.ID,
		ThreadID:           r.ThreadID,
		AssistantID:        r.AssistantID,
		Status:             string(r.Status),
		LastCompletedStage: string(r.LastCompletedStage),
	}
	if r.Error != nil {
		out.Error = &runErrorOutput{Kind: string(r.Error.Kind), Stage: string(r.Error.Stage), Message: r.Error.Message}
	}
	if r.Output != nil {
		out.Output = *r.Output
	}
	return out
}

// runSummary is the text content for a finished run.
func (s *Server) runSummary(r *runtime.Run) *mcp.CallToolResult {
	switch {
	case r.Error != nil:
		return text("Run %s %s: %s", r.ID, r.Status, s.scrub(r.Error.Message))
	case r.Output != nil && r.Output.Resolution != nil && r.Output.Resolution.Suggestion != nil:
		return text("Run %s %s\n\n%s", r.ID, r.Status, s.scrub(r.Output.Resolution.Suggestion.Text))
	default:
		return text("Run %s %s", r.ID, r.Status)
	}
}

func (s *Server) registerRunTools() {
	addTool(s, &ToolMetadata{
		Name:        "run_create",
		Description: "Run an assistant on a thread and wait for it to finish. Onboarding summarizes a repository; resolution localizes an issue and suggests changes",
		Category:    CategoryRun,
		Keywords:    []string{"onboard", "resolve", "issue", "localize", "suggest"},
	}, func(ctx context.Context, _ *mcp.CallToolRequest, args runCreateInput) (*mcp.CallToolResult, runOutput, error) {
		h, err := s.runs.CreateRun(ctx, args.ThreadID, args.AssistantID, args.Input, runtime.StreamWait)
		if err != nil {
			return nil, runOutput{}, toolError(err)
		}
		run, err := h.Wait(ctx)
		if err != nil {
			return nil, runOutput{}, fmt.Errorf("waiting for run %s: %w", h.Run.ID, err)
		}
		return s.runSummary(run), toRunOutput(run), nil
	})

	addTool(s, &ToolMetadata{
		Name:        "run_list",
		Description: "List a thread's runs in creation order",
		Category:    CategoryRun,
	}, func(ctx context.Context, _ *mcp.CallToolRequest, args threadIDInput) (*mcp.CallToolResult, runListOutput, error) {
		runs, err := s.runs.ListRuns(ctx, args.ThreadID)
		if err != nil {
			return nil, runListOutput{}, toolError(err)
		}
		out := runListOutput{Runs: make([]runOutput, 0, len(runs)), Count: len(runs)}
		for i := range runs {
			out.Runs = append(out.Runs, toRunOutput(&runs[i]))
		}
		return text("%d runs on thread %s", out.Count, args.ThreadID), out, nil
	})

	addTool(s, &ToolMetadata{
		Name:        "run_cancel",
		Description: "Cancel a pending, running or interrupted run. The thread state is left unchanged",
		Category:    CategoryRun,
	}, func(ctx context.Context, _ *mcp.CallToolRequest, args runRefInput) (*mcp.CallToolResult, runOutput, error) {
		run, err := s.runs.CancelRun(ctx, args.ThreadID, args.RunID)
		if err != nil {
			return nil, runOutput{}, toolError(err)
		}
		return s.runSummary(run), toRunOutput(run), nil
	})

	addTool(s, &ToolMetadata{
		Name:        "run_delete",
		Description: "Delete a finished run",
		Category:    CategoryRun,
	}, func(ctx context.Context, _ *mcp.CallToolRequest, args runRefInput) (*mcp.CallToolResult, deleteOutput, error) {
		if err := s.runs.DeleteRun(ctx, args.ThreadID, args.RunID); err != nil {
			return nil, deleteOutput{}, toolError(err)
		}
		return text("Run %s deleted", args.RunID), deleteOutput{Deleted: true}, nil
	})
}
