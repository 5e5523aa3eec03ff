// Package agent binds the onboarding and issue resolution workflows to the
// run runtime and wires their dependencies from service configuration.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/fyrsmithlabs/seagent/internal/config"
	"github.com/fyrsmithlabs/seagent/internal/index"
	"github.com/fyrsmithlabs/seagent/internal/llm"
	"github.com/fyrsmithlabs/seagent/internal/onboard"
	"github.com/fyrsmithlabs/seagent/internal/orchestrator"
	"github.com/fyrsmithlabs/seagent/internal/repository"
	"github.com/fyrsmithlabs/seagent/internal/resolve"
	"github.com/fyrsmithlabs/seagent/internal/runtime"
	"github.com/fyrsmithlabs/seagent/internal/secrets"
	"github.com/fyrsmithlabs/seagent/internal/store"
)

// Deps are shared by every graph. Scrubber and Index are optional.
type Deps struct {
	Accessor repository.Accessor
	Store    store.Store
	Gateway  llm.Gateway
	Scrubber *secrets.Scrubber
	Index    *index.Index
}

// Factory returns the runtime.GraphFactory for deps.
func Factory(deps Deps) runtime.GraphFactory {
	return func(_ context.Context, a runtime.Assistant) (runtime.Graph, error) {
		switch a.GraphID {
		case config.GraphOnboard:
			return NewOnboardGraph(deps, a.Config)
		case config.GraphResolve:
			return NewResolveGraph(deps, a.Config)
		default:
			return nil, fmt.Errorf("%w: unknown graph %q", config.ErrConfigIncomplete, a.GraphID)
		}
	}
}

// OnboardGraph runs onboarding for a thread's repository.
type OnboardGraph struct {
	workflow *onboard.Workflow
}

// NewOnboardGraph builds the onboarding graph.
func NewOnboardGraph(deps Deps, cfg config.AssistantConfig) (*OnboardGraph, error) {
	w, err := onboard.New(onboard.Deps{
		Accessor: deps.Accessor,
		Store:    deps.Store,
		Gateway:  deps.Gateway,
		Scrubber: deps.Scrubber,
		Index:    deps.Index,
	}, cfg)
	if err != nil {
		return nil, err
	}
	return &OnboardGraph{workflow: w}, nil
}

func (g *OnboardGraph) Stages() []orchestrator.Stage {
	return g.workflow.Pipeline().Stages()
}

func (g *OnboardGraph) Prepare(state runtime.State, in runtime.Input) (runtime.Input, error) {
	repo, err := descriptor(state, in)
	if err != nil {
		return in, err
	}
	in.Repo = repo
	if in.Event == nil {
		in.Event = &repository.Event{Type: repository.EventOnboard}
	}
	switch in.Event.Type {
	case repository.EventOnboard, repository.EventUpdate:
	default:
		return in, fmt.Errorf("%w: unknown event type %q", runtime.ErrInvalidInput, in.Event.Type)
	}
	return in, nil
}

func (g *OnboardGraph) Execute(ctx context.Context, exec runtime.Execution) (runtime.State, error) {
	working := onboard.NewState(onboard.Input{Repo: *exec.Input.Repo, Event: *exec.Input.Event})
	commit := func(s *onboard.State) runtime.State {
		out := exec.State
		repo := s.Input.Repo
		if out.Repo != nil && out.Repo.Key() != repo.Key() {
			out.Resolution = nil
		}
		out.Repo = &repo
		report := s.Report
		out.Onboarding = &report
		return out
	}
	if err := run(ctx, g.workflow.Pipeline(), working, exec, commit); err != nil {
		return runtime.State{}, err
	}
	return commit(working), nil
}

// ResolveGraph answers the thread's conversation with localized changes.
type ResolveGraph struct {
	workflow *resolve.Workflow
}

// NewResolveGraph builds the issue resolution graph.
func NewResolveGraph(deps Deps, cfg config.AssistantConfig) (*ResolveGraph, error) {
	w, err := resolve.New(resolve.Deps{
		Accessor: deps.Accessor,
		Store:    deps.Store,
		Gateway:  deps.Gateway,
		Scrubber: deps.Scrubber,
		Index:    deps.Index,
	}, cfg)
	if err != nil {
		return nil, err
	}
	return &ResolveGraph{workflow: w}, nil
}

func (g *ResolveGraph) Stages() []orchestrator.Stage {
	return g.workflow.Pipeline().Stages()
}

func (g *ResolveGraph) Prepare(state runtime.State, in runtime.Input) (runtime.Input, error) {
	repo, err := descriptor(state, in)
	if err != nil {
		return in, err
	}
	in.Repo = repo
	if len(in.Messages) == 0 && len(state.Messages) == 0 {
		return in, fmt.Errorf("%w: messages are required", runtime.ErrInvalidInput)
	}
	return in, nil
}

func (g *ResolveGraph) Execute(ctx context.Context, exec runtime.Execution) (runtime.State, error) {
	messages := slices.Concat(exec.State.Messages, exec.Input.Messages)
	working := resolve.NewState(resolve.Input{Repo: *exec.Input.Repo, Messages: messages})
	commit := func(s *resolve.State) runtime.State {
		out := exec.State
		repo := s.Input.Repo
		out.Repo = &repo
		out.Messages = slices.Clone(s.Messages)
		resolution := s.Resolution
		out.Resolution = &resolution
		return out
	}
	if err := run(ctx, g.workflow.Pipeline(), working, exec, commit); err != nil {
		return runtime.State{}, err
	}
	return commit(working), nil
}

// descriptor picks the run's repository: the input's, else the thread's.
func descriptor(state runtime.State, in runtime.Input) (*repository.Descriptor, error) {
	repo := in.Repo
	if repo == nil {
		repo = state.Repo
	}
	if repo == nil {
		return nil, fmt.Errorf("%w: repo is required", runtime.ErrInvalidInput)
	}
	if err := repo.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", runtime.ErrInvalidInput, err)
	}
	n := repo.Normalize()
	return &n, nil
}

// run executes p on working, restoring it from the checkpoint first and
// reporting a new checkpoint after every completed stage.
func run[S any](ctx context.Context, p *orchestrator.Pipeline[S], working *S, exec runtime.Execution, preview func(*S) runtime.State) error {
	var completed []orchestrator.Stage
	if cp := exec.Checkpoint; cp != nil {
		completed = slices.Clone(cp.Completed)
		if len(cp.Working) > 0 {
			if err := json.Unmarshal(cp.Working, working); err != nil {
				return fmt.Errorf("restoring checkpoint: %w", err)
			}
		}
	}

	_, err := p.Run(ctx, working, orchestrator.RunOptions{
		Completed: completed,
		OnStage: func(ctx context.Context, r orchestrator.StageResult) {
			update := runtime.StageUpdate{Result: r}
			if r.Status == orchestrator.StatusCompleted {
				completed = append(completed, r.Stage)
				data, err := json.Marshal(working)
				if err == nil {
					update.Checkpoint = &runtime.Checkpoint{Completed: slices.Clone(completed), Working: data}
					update.Preview = preview(working)
				}
			}
			if exec.Progress != nil {
				exec.Progress(ctx, update)
			}
		},
	})
	return err
}
