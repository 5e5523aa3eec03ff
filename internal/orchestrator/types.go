package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Stage names one step of a pipeline.
type Stage string

// Onboarding stages.
const (
	StageDiscover          Stage = "discover"
	StageSummarizeFiles    Stage = "summarize_files"
	StageGroupPackages     Stage = "group_packages"
	StageSummarizePackages Stage = "summarize_packages"
)

// Issue resolution stages.
const (
	StageLocalizePackages Stage = "localize_packages"
	StageLocalizeFiles    Stage = "localize_files"
	StageSuggest          Stage = "suggest"
)

// OnboardStages returns the onboarding stages in execution order.
func OnboardStages() []Stage {
	return []Stage{StageDiscover, StageSummarizeFiles, StageGroupPackages, StageSummarizePackages}
}

// ResolveStages returns the issue resolution stages in execution order.
func ResolveStages() []Stage {
	return []Stage{StageLocalizePackages, StageLocalizeFiles, StageSuggest}
}

// StageStatus is the outcome of one stage within a Run.
type StageStatus string

const (
	StatusCompleted StageStatus = "completed"
	StatusFailed    StageStatus = "failed"
	StatusSkipped   StageStatus = "skipped"
)

// StageResult captures the outcome of a stage execution.
type StageResult struct {
	Stage       Stage         `json:"stage"`
	Status      StageStatus   `json:"status"`
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt time.Time     `json:"completed_at,omitempty"`
	Duration    time.Duration `json:"duration,omitempty"`
	Error       string        `json:"error,omitempty"`
}

// Handler executes the work for a specific stage.
type Handler[S any] interface {
	// Stage returns the stage this handler manages.
	Stage() Stage

	// Execute runs the stage against the working state.
	Execute(ctx context.Context, state *S) error
}

// HandlerFunc adapts a function to a Handler.
func HandlerFunc[S any](stage Stage, fn func(ctx context.Context, state *S) error) Handler[S] {
	return funcHandler[S]{stage: stage, fn: fn}
}

type funcHandler[S any] struct {
	stage Stage
	fn    func(ctx context.Context, state *S) error
}

func (h funcHandler[S]) Stage() Stage { return h.stage }

func (h funcHandler[S]) Execute(ctx context.Context, state *S) error { return h.fn(ctx, state) }

// Gate is a precondition checked before a stage executes.
type Gate[S any] interface {
	// Name returns the gate identifier.
	Name() string

	// Check returns an error when the stage must not run.
	Check(ctx context.Context, state *S) error
}

// GateFunc adapts a function to a Gate.
func GateFunc[S any](name string, fn func(ctx context.Context, state *S) error) Gate[S] {
	return funcGate[S]{name: name, fn: fn}
}

type funcGate[S any] struct {
	name string
	fn   func(ctx context.Context, state *S) error
}

func (g funcGate[S]) Name() string { return g.name }

func (g funcGate[S]) Check(ctx context.Context, state *S) error { return g.fn(ctx, state) }

// Errors returned while building a pipeline.
var (
	ErrNoHandlers     = errors.New("pipeline has no handlers")
	ErrDuplicateStage = errors.New("duplicate stage")
	ErrUnknownStage   = errors.New("unknown stage")
)

// StageError reports the stage a pipeline stopped at.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// FailedStage returns the stage carried by err, if any.
func FailedStage(err error) (Stage, bool) {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage, true
	}
	return "", false
}
