package runtime

import (
	"context"

	"github.com/fyrsmithlabs/seagent/internal/orchestrator"
)

// StageUpdate reports one stage of a running graph. Checkpoint and Preview
// are set only when the stage completed.
type StageUpdate struct {
	Result     orchestrator.StageResult
	Checkpoint *Checkpoint
	// Preview is the state the run would commit if it ended now.
	Preview State
}

// Execution is one invocation of a graph.
type Execution struct {
	// State is the thread's committed state when the run started.
	State State
	Input Input
	// Checkpoint is set when resuming an interrupted run.
	Checkpoint *Checkpoint
	// Progress is called on the graph goroutine for every stage result.
	Progress func(ctx context.Context, update StageUpdate)
}

// Graph is an executable workflow an assistant is bound to.
type Graph interface {
	// Stages lists the stages in execution order.
	Stages() []orchestrator.Stage

	// Prepare validates in against the committed state and fills what the
	// run inherits from it. Errors wrap ErrInvalidInput.
	Prepare(state State, in Input) (Input, error)

	// Execute runs the stages not recorded in exec.Checkpoint and returns
	// the state to commit. Failures are *orchestrator.StageError values.
	Execute(ctx context.Context, exec Execution) (State, error)
}

// GraphFactory builds the graph for an assistant.
type GraphFactory func(ctx context.Context, a Assistant) (Graph, error)
