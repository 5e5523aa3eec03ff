// Package onboard builds the hierarchical summary index of a repository:
// file summaries first, then package summaries derived from them.
package onboard

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/seagent/internal/config"
	"github.com/fyrsmithlabs/seagent/internal/index"
	"github.com/fyrsmithlabs/seagent/internal/llm"
	"github.com/fyrsmithlabs/seagent/internal/orchestrator"
	"github.com/fyrsmithlabs/seagent/internal/prompts"
	"github.com/fyrsmithlabs/seagent/internal/repository"
	"github.com/fyrsmithlabs/seagent/internal/secrets"
	"github.com/fyrsmithlabs/seagent/internal/store"
)

// BasePackage groups files that sit directly in the source folder.
const BasePackage = "base"

// GroupFunc maps a repository-relative file path to its package name.
type GroupFunc func(srcFolder, filePath string) string

// Input starts an onboarding run.
type Input struct {
	Repo  repository.Descriptor `json:"repo"`
	Event repository.Event      `json:"event"`
}

// Report summarizes what an onboarding run changed.
type Report struct {
	Repo               repository.Descriptor `json:"repo"`
	FilesDiscovered    int                   `json:"files_discovered"`
	FilesSummarized    []string              `json:"files_summarized"`
	FilesSkipped       []string              `json:"files_skipped"`
	FilesDeleted       []string              `json:"files_deleted"`
	PartialFiles       []string              `json:"partial_files"`
	PackagesSummarized []string              `json:"packages_summarized"`
	PackagesRemoved    []string              `json:"packages_removed"`
}

// State is the working state of one onboarding run. It is serialized into
// run checkpoints, so every field round-trips through JSON.
type State struct {
	Input Input `json:"input"`

	// Paths are the files summarize_files looks at.
	Paths []string `json:"paths,omitempty"`
	// Deleted are files whose summaries were removed by this run.
	Deleted []string `json:"deleted,omitempty"`
	// Recomputed are files whose summaries were rewritten by this run.
	Recomputed []string `json:"recomputed,omitempty"`
	// Packages is the grouping of every stored file.
	Packages map[string][]string `json:"packages,omitempty"`
	// Impacted are packages whose summaries must be regenerated.
	Impacted []string `json:"impacted,omitempty"`

	Report Report `json:"report"`
}

// NewState returns the initial working state for in.
func NewState(in Input) *State {
	in.Repo = in.Repo.Normalize()
	if in.Event.Type == "" {
		in.Event.Type = repository.EventOnboard
	}
	return &State{Input: in, Report: Report{Repo: in.Repo}}
}

func (s *State) scope() string {
	return s.Input.Repo.Key()
}

// Deps are the collaborators of a Workflow. Scrubber, Index and Group are
// optional.
type Deps struct {
	Accessor repository.Accessor
	Store    store.Store
	Gateway  llm.Gateway
	Prompts  *prompts.Registry
	Scrubber *secrets.Scrubber
	Index    *index.Index
	Group    GroupFunc
	Now      func() time.Time
}

// Workflow runs the onboarding stages for one assistant configuration.
type Workflow struct {
	deps     Deps
	cfg      config.AssistantConfig
	pipeline *orchestrator.Pipeline[State]
}

// New creates a Workflow. cfg must already carry defaults.
func New(deps Deps, cfg config.AssistantConfig) (*Workflow, error) {
	if deps.Accessor == nil || deps.Store == nil || deps.Gateway == nil {
		return nil, errors.New("onboard: accessor, store and gateway are required")
	}
	if err := cfg.Validate(config.GraphOnboard); err != nil {
		return nil, err
	}
	if deps.Prompts == nil {
		p, err := prompts.ForAssistant(cfg)
		if err != nil {
			return nil, fmt.Errorf("onboard: prompts: %w", err)
		}
		deps.Prompts = p
	}
	if deps.Group == nil {
		deps.Group = TopLevelPackage
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	w := &Workflow{deps: deps, cfg: cfg}
	p, err := orchestrator.NewPipeline(config.GraphOnboard,
		orchestrator.HandlerFunc(orchestrator.StageDiscover, w.Discover),
		orchestrator.HandlerFunc(orchestrator.StageSummarizeFiles, w.SummarizeFiles),
		orchestrator.HandlerFunc(orchestrator.StageGroupPackages, w.GroupPackages),
		orchestrator.HandlerFunc(orchestrator.StageSummarizePackages, w.SummarizePackages),
	)
	if err != nil {
		return nil, err
	}
	w.pipeline = p
	return w, nil
}

// Pipeline returns the ordered onboarding stages.
func (w *Workflow) Pipeline() *orchestrator.Pipeline[State] {
	return w.pipeline
}

// Run executes every stage for in and returns the report.
func (w *Workflow) Run(ctx context.Context, in Input) (*Report, error) {
	state := NewState(in)
	if _, err := w.pipeline.Run(ctx, state, orchestrator.RunOptions{}); err != nil {
		return nil, err
	}
	return &state.Report, nil
}

func (w *Workflow) withCredential(ctx context.Context) context.Context {
	if w.cfg.GitHubToken.IsSet() {
		return repository.WithCredential(ctx, w.cfg.GitHubToken)
	}
	return ctx
}
