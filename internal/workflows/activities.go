package workflows

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.temporal.io/sdk/activity"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/seagent/internal/config"
	"github.com/fyrsmithlabs/seagent/internal/logging"
	"github.com/fyrsmithlabs/seagent/internal/onboard"
	"github.com/fyrsmithlabs/seagent/internal/runtime"
)

// AssistantSource resolves assistants by ID. *runtime.Service satisfies it.
type AssistantSource interface {
	GetAssistant(ctx context.Context, id string) (*runtime.Assistant, error)
}

// Activities executes onboarding stages on a worker.
type Activities struct {
	Assistants AssistantSource
	Deps       onboard.Deps
	Logger     *logging.Logger
}

// RunStage runs one onboarding stage against req.State and returns the
// updated state.
func (a *Activities) RunStage(ctx context.Context, req StageRequest) (*StageResponse, error) {
	logger := a.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	info := activity.GetInfo(ctx)
	ctx = logging.WithStage(ctx, string(req.Stage))
	ctx = logging.WithLogger(ctx, logger)

	start := time.Now()
	resp, err := a.runStage(ctx, req)
	recordActivity(ctx, string(req.Stage), time.Since(start), err)
	if err != nil {
		logger.Warn(ctx, "onboarding stage failed",
			zap.String("workflow_id", info.WorkflowExecution.ID),
			zap.Int32("attempt", info.Attempt),
			zap.Error(err))
		return nil, activityError(string(req.Stage), err)
	}
	logger.Info(ctx, "onboarding stage completed",
		zap.String("workflow_id", info.WorkflowExecution.ID),
		zap.Duration("duration", resp.Result.Duration))
	return resp, nil
}

func (a *Activities) runStage(ctx context.Context, req StageRequest) (*StageResponse, error) {
	w, err := a.workflow(ctx, req.AssistantID)
	if err != nil {
		return nil, err
	}
	state := req.State
	result, err := w.Pipeline().RunStage(ctx, req.Stage, &state)
	if err != nil {
		return nil, err
	}
	return &StageResponse{Result: result, State: state}, nil
}

func (a *Activities) workflow(ctx context.Context, assistantID string) (*onboard.Workflow, error) {
	if a.Assistants == nil {
		return nil, errors.New("activities: no assistant source")
	}
	assistant, err := a.Assistants.GetAssistant(ctx, assistantID)
	if err != nil {
		return nil, err
	}
	if assistant.GraphID != config.GraphOnboard {
		return nil, fmt.Errorf("%w: assistant %q runs graph %q, not %q",
			config.ErrConfigIncomplete, assistantID, assistant.GraphID, config.GraphOnboard)
	}
	return onboard.New(a.Deps, assistant.Config)
}
