package workflows

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/converter"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/testsuite"

	"github.com/fyrsmithlabs/seagent/internal/llm"
	"github.com/fyrsmithlabs/seagent/internal/onboard"
	"github.com/fyrsmithlabs/seagent/internal/orchestrator"
	"github.com/fyrsmithlabs/seagent/internal/runtime"
)

func TestOnboardWorkflow(t *testing.T) {
	t.Run("runs every stage as an activity", func(t *testing.T) {
		testSuite := &testsuite.WorkflowTestSuite{}
		env := testSuite.NewTestWorkflowEnvironment()
		acts, summaries, _ := newActivities()
		env.RegisterWorkflow(OnboardWorkflow)
		env.RegisterActivity(acts)

		var stages []orchestrator.Stage
		env.SetOnActivityStartedListener(func(_ *activity.Info, _ context.Context, args converter.EncodedValues) {
			var req StageRequest
			require.NoError(t, args.Get(&req))
			stages = append(stages, req.Stage)
		})

		env.ExecuteWorkflow(OnboardWorkflow, OnboardRequest{AssistantID: "onboarder", Repo: testRepo})

		require.True(t, env.IsWorkflowCompleted())
		require.NoError(t, env.GetWorkflowError())
		var result OnboardResult
		require.NoError(t, env.GetWorkflowResult(&result))

		assert.Equal(t, orchestrator.OnboardStages(), stages)
		require.Len(t, result.Stages, 4)
		for _, s := range result.Stages {
			assert.Equal(t, orchestrator.StatusCompleted, s.Status)
		}
		assert.Equal(t, []string{"src/api/a.go", "src/api/b.go", "src/main.go"}, result.Report.FilesSummarized)
		assert.Equal(t, []string{"api", "base"}, result.Report.PackagesSummarized)
		assert.Empty(t, result.Errors)

		files, err := summaries.ListFiles(context.Background(), testRepo.Key())
		require.NoError(t, err)
		assert.Len(t, files, 3)
	})

	t.Run("retries transient stage failures", func(t *testing.T) {
		testSuite := &testsuite.WorkflowTestSuite{}
		env := testSuite.NewTestWorkflowEnvironment()
		env.RegisterWorkflow(OnboardWorkflow)
		env.RegisterActivity(&Activities{})

		attempts := map[orchestrator.Stage]int{}
		env.OnActivity(ActivityRunStage, mock.Anything, mock.Anything).Return(
			func(_ context.Context, req StageRequest) (*StageResponse, error) {
				attempts[req.Stage]++
				if req.Stage == orchestrator.StageSummarizeFiles && attempts[req.Stage] == 1 {
					return nil, activityError(string(req.Stage), llm.ErrGatewayTimeout)
				}
				return &StageResponse{
					Result: orchestrator.StageResult{Stage: req.Stage, Status: orchestrator.StatusCompleted},
					State:  req.State,
				}, nil
			})

		env.ExecuteWorkflow(OnboardWorkflow, OnboardRequest{AssistantID: "onboarder", Repo: testRepo})

		require.True(t, env.IsWorkflowCompleted())
		require.NoError(t, env.GetWorkflowError())
		assert.Equal(t, 2, attempts[orchestrator.StageSummarizeFiles])
		assert.Equal(t, 1, attempts[orchestrator.StageSummarizePackages])
	})

	t.Run("stops on non-retryable failure", func(t *testing.T) {
		testSuite := &testsuite.WorkflowTestSuite{}
		env := testSuite.NewTestWorkflowEnvironment()
		acts, _, calls := newActivities()
		env.RegisterWorkflow(OnboardWorkflow)
		env.RegisterActivity(acts)

		env.ExecuteWorkflow(OnboardWorkflow, OnboardRequest{AssistantID: "resolver", Repo: testRepo})

		require.True(t, env.IsWorkflowCompleted())
		err := env.GetWorkflowError()
		require.Error(t, err)
		assert.Equal(t, runtime.KindConfigIncomplete, ErrorKind(err))
		assert.Zero(t, calls.Load())
	})

	t.Run("rejects invalid requests", func(t *testing.T) {
		testSuite := &testsuite.WorkflowTestSuite{}
		env := testSuite.NewTestWorkflowEnvironment()
		env.RegisterWorkflow(OnboardWorkflow)
		env.RegisterActivity(&Activities{})

		env.ExecuteWorkflow(OnboardWorkflow, OnboardRequest{Repo: testRepo})

		require.True(t, env.IsWorkflowCompleted())
		err := env.GetWorkflowError()
		require.Error(t, err)
		var appErr *temporal.ApplicationError
		require.True(t, errors.As(err, &appErr))
		assert.Equal(t, "InvalidInput", appErr.Type())
		assert.Contains(t, err.Error(), "assistant_id is required")
	})
}

func TestRunStageActivity(t *testing.T) {
	testSuite := &testsuite.WorkflowTestSuite{}
	env := testSuite.NewTestActivityEnvironment()
	acts, summaries, _ := newActivities()
	env.RegisterActivity(acts)

	state := *onboard.NewState(onboard.Input{Repo: testRepo})
	for _, stage := range []orchestrator.Stage{orchestrator.StageDiscover, orchestrator.StageSummarizeFiles} {
		val, err := env.ExecuteActivity(acts.RunStage, StageRequest{AssistantID: "onboarder", Stage: stage, State: state})
		require.NoError(t, err)
		var resp StageResponse
		require.NoError(t, val.Get(&resp))
		assert.Equal(t, stage, resp.Result.Stage)
		state = resp.State
	}
	assert.Len(t, state.Report.FilesSummarized, 3)
	files, err := summaries.ListFiles(context.Background(), testRepo.Key())
	require.NoError(t, err)
	assert.Len(t, files, 3)

	_, err = env.ExecuteActivity(acts.RunStage, StageRequest{AssistantID: "missing", Stage: orchestrator.StageDiscover, State: state})
	require.Error(t, err)
	assert.Equal(t, runtime.KindNotFound, ErrorKind(err))

	_, err = env.ExecuteActivity(acts.RunStage, StageRequest{AssistantID: "onboarder", Stage: orchestrator.StageSuggest, State: state})
	require.Error(t, err)
	assert.ErrorContains(t, err, "unknown stage")
}

func TestOnboardRequest(t *testing.T) {
	req := OnboardRequest{AssistantID: "a", Repo: testRepo}
	require.NoError(t, req.Validate())
	assert.Equal(t, "onboard:https://example.com/r@main:src", req.WorkflowID())

	req.Event.Type = "rename"
	assert.ErrorContains(t, req.Validate(), "unknown event type")

	assert.Error(t, OnboardRequest{AssistantID: "a"}.Validate())
}
