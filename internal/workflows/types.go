package workflows

import (
	"fmt"

	"github.com/fyrsmithlabs/seagent/internal/onboard"
	"github.com/fyrsmithlabs/seagent/internal/orchestrator"
	"github.com/fyrsmithlabs/seagent/internal/repository"
)

// DefaultTaskQueue is used when temporal.task_queue is not configured.
const DefaultTaskQueue = "seagent-onboard"

// OnboardRequest starts an OnboardWorkflow.
type OnboardRequest struct {
	AssistantID string                `json:"assistant_id"`
	Repo        repository.Descriptor `json:"repo"`
	Event       repository.Event      `json:"event"`
}

// Validate checks that all required fields are set.
func (r OnboardRequest) Validate() error {
	if r.AssistantID == "" {
		return fmt.Errorf("assistant_id is required")
	}
	if err := r.Repo.Validate(); err != nil {
		return err
	}
	switch r.Event.Type {
	case "", repository.EventOnboard, repository.EventUpdate:
		return nil
	default:
		return fmt.Errorf("unknown event type %q", r.Event.Type)
	}
}

// WorkflowID is the Temporal workflow ID for onboarding r's repository. At
// most one onboarding per repository scope runs at a time.
func (r OnboardRequest) WorkflowID() string {
	return "onboard:" + r.Repo.Key()
}

// StageRequest is the input of the RunStage activity.
type StageRequest struct {
	AssistantID string             `json:"assistant_id"`
	Stage       orchestrator.Stage `json:"stage"`
	State       onboard.State      `json:"state"`
}

// StageResponse carries the state after one stage.
type StageResponse struct {
	Result orchestrator.StageResult `json:"result"`
	State  onboard.State            `json:"state"`
}

// OnboardResult is the outcome of an OnboardWorkflow.
type OnboardResult struct {
	Report onboard.Report             `json:"report"`
	Stages []orchestrator.StageResult `json:"stages"`
	Errors []string                   `json:"errors,omitempty"`
}
