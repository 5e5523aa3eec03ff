package orchestrator

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/seagent/internal/logging"
)

const tracerName = "github.com/fyrsmithlabs/seagent/internal/orchestrator"

// StageCallback receives each stage result as soon as it is known. It is
// called on the pipeline goroutine after the stage's state changes are
// visible.
type StageCallback func(ctx context.Context, result StageResult)

// RunOptions controls one Run.
type RunOptions struct {
	// Completed lists stages finished by an earlier run; they are skipped.
	Completed []Stage

	// OnStage is notified of every completed, skipped or failed stage.
	OnStage StageCallback
}

// Pipeline executes its handlers in registration order.
type Pipeline[S any] struct {
	name     string
	handlers []Handler[S]
	gates    map[Stage][]Gate[S]
}

// NewPipeline creates a pipeline over handlers. Stage names must be unique.
func NewPipeline[S any](name string, handlers ...Handler[S]) (*Pipeline[S], error) {
	if len(handlers) == 0 {
		return nil, fmt.Errorf("%s: %w", name, ErrNoHandlers)
	}
	seen := make(map[Stage]bool, len(handlers))
	for _, h := range handlers {
		if seen[h.Stage()] {
			return nil, fmt.Errorf("%s: %w: %s", name, ErrDuplicateStage, h.Stage())
		}
		seen[h.Stage()] = true
	}
	return &Pipeline[S]{
		name:     name,
		handlers: handlers,
		gates:    make(map[Stage][]Gate[S]),
	}, nil
}

// Name returns the pipeline name.
func (p *Pipeline[S]) Name() string {
	return p.name
}

// Stages returns the stage order.
func (p *Pipeline[S]) Stages() []Stage {
	stages := make([]Stage, len(p.handlers))
	for i, h := range p.handlers {
		stages[i] = h.Stage()
	}
	return stages
}

// RegisterGate registers a gate for a stage.
func (p *Pipeline[S]) RegisterGate(stage Stage, gate Gate[S]) error {
	for _, h := range p.handlers {
		if h.Stage() == stage {
			p.gates[stage] = append(p.gates[stage], gate)
			return nil
		}
	}
	return fmt.Errorf("%s: %w: %s", p.name, ErrUnknownStage, stage)
}

// Run executes every stage not listed in opts.Completed, in order. It stops
// at the first gate failure, stage error, or cancellation and returns a
// *StageError for it. The returned results cover every stage attempted.
func (p *Pipeline[S]) Run(ctx context.Context, state *S, opts RunOptions) ([]StageResult, error) {
	done := make(map[Stage]bool, len(opts.Completed))
	for _, s := range opts.Completed {
		done[s] = true
	}

	logger := logging.FromContext(ctx)
	results := make([]StageResult, 0, len(p.handlers))
	report := func(r StageResult) {
		results = append(results, r)
		if opts.OnStage != nil {
			opts.OnStage(ctx, r)
		}
	}

	for _, h := range p.handlers {
		stage := h.Stage()
		if done[stage] {
			report(StageResult{Stage: stage, Status: StatusSkipped, StartedAt: time.Now()})
			continue
		}

		// Stage boundary.
		if err := ctx.Err(); err != nil {
			return results, &StageError{Stage: stage, Err: err}
		}

		result, err := p.execute(ctx, h, state)
		report(result)
		if err != nil {
			logger.Warn(ctx, "stage failed",
				zap.String("pipeline", p.name),
				zap.String("stage", string(stage)),
				zap.Error(err))
			return results, &StageError{Stage: stage, Err: err}
		}
		logger.Debug(ctx, "stage completed",
			zap.String("pipeline", p.name),
			zap.String("stage", string(stage)),
			zap.Duration("duration", result.Duration))
	}
	return results, nil
}

// RunStage executes one stage, gates included, against state. It is the unit
// of work for executors that persist state between stages themselves.
func (p *Pipeline[S]) RunStage(ctx context.Context, stage Stage, state *S) (StageResult, error) {
	for _, h := range p.handlers {
		if h.Stage() != stage {
			continue
		}
		if err := ctx.Err(); err != nil {
			return StageResult{Stage: stage, Status: StatusFailed, StartedAt: time.Now(), Error: err.Error()},
				&StageError{Stage: stage, Err: err}
		}
		result, err := p.execute(ctx, h, state)
		if err != nil {
			return result, &StageError{Stage: stage, Err: err}
		}
		return result, nil
	}
	return StageResult{}, fmt.Errorf("%s: %w: %s", p.name, ErrUnknownStage, stage)
}

func (p *Pipeline[S]) execute(ctx context.Context, h Handler[S], state *S) (StageResult, error) {
	stage := h.Stage()
	ctx = logging.WithStage(ctx, string(stage))
	ctx, span := otel.Tracer(tracerName).Start(ctx, "stage."+string(stage))
	span.SetAttributes(
		attribute.String("pipeline", p.name),
		attribute.String("stage", string(stage)),
	)
	defer span.End()

	result := StageResult{Stage: stage, StartedAt: time.Now()}
	finish := func(err error) (StageResult, error) {
		result.CompletedAt = time.Now()
		result.Duration = result.CompletedAt.Sub(result.StartedAt)
		if err != nil {
			result.Status = StatusFailed
			result.Error = err.Error()
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return result, err
		}
		result.Status = StatusCompleted
		return result, nil
	}

	for _, gate := range p.gates[stage] {
		if err := gate.Check(ctx, state); err != nil {
			return finish(fmt.Errorf("gate %s: %w", gate.Name(), err))
		}
	}

	return finish(h.Execute(ctx, state))
}
