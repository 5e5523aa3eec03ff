package runtime

import (
	"encoding/json"
	"time"

	"github.com/fyrsmithlabs/seagent/internal/config"
	"github.com/fyrsmithlabs/seagent/internal/onboard"
	"github.com/fyrsmithlabs/seagent/internal/orchestrator"
	"github.com/fyrsmithlabs/seagent/internal/repository"
	"github.com/fyrsmithlabs/seagent/internal/resolve"
)

// IfExists selects what a create operation does when the id is taken.
type IfExists string

const (
	IfExistsRaise     IfExists = "raise"
	IfExistsDoNothing IfExists = "do-nothing"
	IfExistsOverwrite IfExists = "overwrite"
)

// Valid reports whether p is a known policy. The empty policy means raise.
func (p IfExists) Valid() bool {
	switch p {
	case "", IfExistsRaise, IfExistsDoNothing, IfExistsOverwrite:
		return true
	}
	return false
}

// StreamMode selects how a caller observes a run.
type StreamMode string

const (
	StreamWait   StreamMode = "wait"
	StreamValues StreamMode = "values"
)

// Valid reports whether m is a known mode. The empty mode means wait.
func (m StreamMode) Valid() bool {
	return m == "" || m == StreamWait || m == StreamValues
}

// RunStatus is a state of the run state machine.
type RunStatus string

const (
	RunPending     RunStatus = "pending"
	RunRunning     RunStatus = "running"
	RunStreaming   RunStatus = "streaming"
	RunInterrupted RunStatus = "interrupted"
	RunSucceeded   RunStatus = "succeeded"
	RunFailed      RunStatus = "failed"
	RunCancelled   RunStatus = "cancelled"
)

// Terminal reports whether no further transition is possible.
func (s RunStatus) Terminal() bool {
	return s == RunSucceeded || s == RunFailed || s == RunCancelled
}

// ThreadStatus reports whether a thread has a non-terminal run.
type ThreadStatus string

const (
	ThreadIdle ThreadStatus = "idle"
	ThreadBusy ThreadStatus = "busy"
)

// AssistantSpec is the request to create an assistant.
type AssistantSpec struct {
	ID       string         `json:"assistant_id"`
	GraphID  string         `json:"graph_id"`
	Config   map[string]any `json:"config"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Assistant binds a graph to its configuration.
type Assistant struct {
	ID        string                 `json:"assistant_id"`
	GraphID   string                 `json:"graph_id"`
	Config    config.AssistantConfig `json:"config"`
	Version   int                    `json:"version"`
	Metadata  map[string]any         `json:"metadata,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
	UpdatedAt time.Time              `json:"updated_at"`

	// raw is the configuration map the assistant was created with. It keeps
	// secrets that Config refuses to serialize.
	raw map[string]any
}

// State is the committed state of a thread. Only successful runs change it.
type State struct {
	Messages   []resolve.Message     `json:"messages,omitempty"`
	Repo       *repository.Descriptor `json:"repo,omitempty"`
	Onboarding *onboard.Report        `json:"onboarding,omitempty"`
	Resolution *resolve.Resolution    `json:"resolution,omitempty"`
}

// Thread is a conversation with its committed state.
type Thread struct {
	ID        string         `json:"thread_id"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	State     State          `json:"state"`
	Status    ThreadStatus   `json:"status"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Input is what a run is started with. Onboarding reads Repo and Event;
// resolution reads Repo and Messages. A missing Repo falls back to the one
// committed on the thread.
type Input struct {
	Repo     *repository.Descriptor `json:"repo,omitempty"`
	Event    *repository.Event      `json:"event,omitempty"`
	Messages []resolve.Message      `json:"messages,omitempty"`
}

// RunError describes why a run failed.
type RunError struct {
	Kind    ErrorKind          `json:"kind"`
	Stage   orchestrator.Stage `json:"stage,omitempty"`
	Message string             `json:"message"`
}

// Checkpoint is the progress of a run after its last completed stage.
type Checkpoint struct {
	Completed []orchestrator.Stage `json:"completed,omitempty"`
	Working   json.RawMessage      `json:"working,omitempty"`
}

// Run is one execution of an assistant's graph on a thread.
type Run struct {
	ID                 string             `json:"run_id"`
	ThreadID           string             `json:"thread_id"`
	AssistantID        string             `json:"assistant_id"`
	GraphID            string             `json:"graph_id"`
	Status             RunStatus          `json:"status"`
	StreamMode         StreamMode         `json:"stream_mode"`
	Input              Input              `json:"input"`
	Output             *State             `json:"output,omitempty"`
	Error              *RunError          `json:"error,omitempty"`
	LastCompletedStage orchestrator.Stage `json:"last_completed_stage,omitempty"`
	Checkpoint         *Checkpoint        `json:"checkpoint,omitempty"`
	CreatedAt          time.Time          `json:"created_at"`
	UpdatedAt          time.Time          `json:"updated_at"`
}

// Snapshot is one observation of a run in values mode.
type Snapshot struct {
	RunID    string             `json:"run_id"`
	ThreadID string             `json:"thread_id"`
	Status   RunStatus          `json:"status"`
	Stage    orchestrator.Stage `json:"stage,omitempty"`
	Values   State              `json:"values"`
	Error    *RunError          `json:"error,omitempty"`
	At       time.Time          `json:"at"`
}

// Final reports whether s is the last snapshot of its run.
func (s Snapshot) Final() bool {
	return s.Status.Terminal() || s.Status == RunInterrupted
}
