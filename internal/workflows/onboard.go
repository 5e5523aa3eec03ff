package workflows

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/fyrsmithlabs/seagent/internal/onboard"
	"github.com/fyrsmithlabs/seagent/internal/orchestrator"
)

// ActivityRunStage is the registered name of Activities.RunStage.
const ActivityRunStage = "RunStage"

// stageRetryPolicy retries transient stage failures with backoff. Failures
// classified as non-retryable by activityError stop immediately.
var stageRetryPolicy = &temporal.RetryPolicy{
	InitialInterval:    5 * time.Second,
	BackoffCoefficient: 2.0,
	MaximumInterval:    2 * time.Minute,
	MaximumAttempts:    5,
}

// stageTimeouts bound one attempt of each stage. Summarization stages call
// the model once per file or package and get the most room.
var stageTimeouts = map[orchestrator.Stage]time.Duration{
	orchestrator.StageDiscover:          5 * time.Minute,
	orchestrator.StageSummarizeFiles:    2 * time.Hour,
	orchestrator.StageGroupPackages:     2 * time.Minute,
	orchestrator.StageSummarizePackages: time.Hour,
}

func stageOptions(stage orchestrator.Stage) workflow.ActivityOptions {
	timeout, ok := stageTimeouts[stage]
	if !ok {
		timeout = 10 * time.Minute
	}
	return workflow.ActivityOptions{
		StartToCloseTimeout: timeout,
		RetryPolicy:         stageRetryPolicy,
	}
}

// OnboardWorkflow onboards req.Repo with the assistant req.AssistantID,
// running each onboarding stage as a separate activity.
func OnboardWorkflow(ctx workflow.Context, req OnboardRequest) (*OnboardResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("Starting onboarding",
		"assistant", req.AssistantID,
		"repo", req.Repo.Key(),
		"event", req.Event.Type)

	result := &OnboardResult{}
	if err := req.Validate(); err != nil {
		result.Errors = append(result.Errors, FormatErrorForResult("validate_request", err))
		return result, temporal.NewNonRetryableApplicationError(
			NewWorkflowError("validate_request", ErrorSeverityCritical, err, req.AssistantID).Error(),
			"InvalidInput", err)
	}

	state := onboard.NewState(onboard.Input{Repo: req.Repo, Event: req.Event})
	for _, stage := range orchestrator.OnboardStages() {
		actx := workflow.WithActivityOptions(ctx, stageOptions(stage))
		var resp StageResponse
		err := workflow.ExecuteActivity(actx, ActivityRunStage, StageRequest{
			AssistantID: req.AssistantID,
			Stage:       stage,
			State:       *state,
		}).Get(ctx, &resp)
		if err != nil {
			result.Report = state.Report
			result.Stages = append(result.Stages, orchestrator.StageResult{
				Stage:  stage,
				Status: orchestrator.StatusFailed,
				Error:  err.Error(),
			})
			result.Errors = append(result.Errors, FormatErrorForResult(string(stage), err))
			logger.Error("Onboarding stage failed", "stage", stage, "error", err)
			return result, err
		}
		*state = resp.State
		result.Stages = append(result.Stages, resp.Result)
		logger.Info("Onboarding stage completed", "stage", stage, "duration", resp.Result.Duration)
	}

	result.Report = state.Report
	logger.Info("Onboarding complete",
		"summarized", len(result.Report.FilesSummarized),
		"packages", len(result.Report.PackagesSummarized))
	return result, nil
}
