package http

import "github.com/fyrsmithlabs/seagent/internal/runtime"

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Kind    string `json:"error"`
	Message string `json:"message"`
}

// CreateAssistantRequest is the request body for POST /api/v1/assistants.
type CreateAssistantRequest struct {
	AssistantID string           `json:"assistant_id"`
	GraphID     string           `json:"graph_id"`
	Config      map[string]any   `json:"config"`
	Metadata    map[string]any   `json:"metadata"`
	IfExists    runtime.IfExists `json:"if_exists"`
}

// CreateThreadRequest is the request body for POST /api/v1/threads.
type CreateThreadRequest struct {
	ThreadID string           `json:"thread_id"`
	Metadata map[string]any   `json:"metadata"`
	IfExists runtime.IfExists `json:"if_exists"`
}

// CreateRunRequest is the request body for POST /api/v1/threads/:id/runs.
// StreamMode defaults to wait.
type CreateRunRequest struct {
	AssistantID string             `json:"assistant_id"`
	Input       runtime.Input      `json:"input"`
	StreamMode  runtime.StreamMode `json:"stream_mode"`
}

// ResumeRunRequest is the optional body of the resume endpoint.
type ResumeRunRequest struct {
	StreamMode runtime.StreamMode `json:"stream_mode"`
}

// RunsResponse lists a thread's runs in creation order.
type RunsResponse struct {
	Runs []runtime.Run `json:"runs"`
}

// WebhookResponse is the body of every handled POST /webhook.
type WebhookResponse struct {
	Status   string `json:"status"`
	Reason   string `json:"reason,omitempty"`
	ThreadID string `json:"thread_id,omitempty"`
	RunID    string `json:"run_id,omitempty"`
}
