// Package resolve localizes an issue to packages and files of an onboarded
// repository and proposes code changes for it.
package resolve

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/seagent/internal/config"
	"github.com/fyrsmithlabs/seagent/internal/index"
	"github.com/fyrsmithlabs/seagent/internal/llm"
	"github.com/fyrsmithlabs/seagent/internal/orchestrator"
	"github.com/fyrsmithlabs/seagent/internal/prompts"
	"github.com/fyrsmithlabs/seagent/internal/repository"
	"github.com/fyrsmithlabs/seagent/internal/secrets"
	"github.com/fyrsmithlabs/seagent/internal/store"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Message is one turn of the conversation an issue is discussed in.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Transcript renders messages for a prompt.
func Transcript(messages []Message) string {
	parts := make([]string, 0, len(messages))
	for _, m := range messages {
		role := m.Role
		if role == "" {
			role = RoleUser
		}
		parts = append(parts, role+": "+strings.TrimSpace(m.Content))
	}
	return strings.Join(parts, "\n\n")
}

// Input starts an issue resolution run.
type Input struct {
	Repo     repository.Descriptor `json:"repo"`
	Messages []Message             `json:"messages"`
}

// Localized is one package or file chosen for the issue.
type Localized struct {
	Name      string `json:"name"`
	Rationale string `json:"rationale"`
}

// Diff is the proposed change to one file.
type Diff struct {
	FilePath string `json:"file_path"`
	Language string `json:"language,omitempty"`
	Diff     string `json:"diff"`
}

// Suggestion is the proposed change set.
type Suggestion struct {
	Text      string `json:"text"`
	Rationale string `json:"rationale,omitempty"`
	Diffs     []Diff `json:"diffs,omitempty"`
}

// Resolution is the output of a resolution run.
type Resolution struct {
	Packages   []Localized `json:"packages"`
	Files      []Localized `json:"files"`
	Suggestion *Suggestion `json:"suggestion,omitempty"`

	// Dropped lists diff targets outside the localized files.
	Dropped []string `json:"dropped,omitempty"`
}

// Names returns the localized names in order.
func Names(items []Localized) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.Name
	}
	return out
}

// State is the working state of one resolution run.
type State struct {
	Input      Input      `json:"input"`
	Messages   []Message  `json:"messages"`
	Resolution Resolution `json:"resolution"`
}

// NewState returns the initial working state for in.
func NewState(in Input) *State {
	in.Repo = in.Repo.Normalize()
	return &State{
		Input:    in,
		Messages: append([]Message(nil), in.Messages...),
	}
}

func (s *State) scope() string {
	return s.Input.Repo.Key()
}

// Deps are the collaborators of a Workflow. Scrubber and Index are optional.
type Deps struct {
	Accessor repository.Accessor
	Store    store.Store
	Gateway  llm.Gateway
	Prompts  *prompts.Registry
	Scrubber *secrets.Scrubber
	Index    *index.Index
}

// Workflow runs the resolution stages for one assistant configuration.
type Workflow struct {
	deps     Deps
	cfg      config.AssistantConfig
	pipeline *orchestrator.Pipeline[State]
}

// New creates a Workflow. cfg must already carry defaults.
func New(deps Deps, cfg config.AssistantConfig) (*Workflow, error) {
	if deps.Accessor == nil || deps.Store == nil || deps.Gateway == nil {
		return nil, errors.New("resolve: accessor, store and gateway are required")
	}
	if err := cfg.Validate(config.GraphResolve); err != nil {
		return nil, err
	}
	if deps.Prompts == nil {
		p, err := prompts.ForAssistant(cfg)
		if err != nil {
			return nil, fmt.Errorf("resolve: prompts: %w", err)
		}
		deps.Prompts = p
	}

	w := &Workflow{deps: deps, cfg: cfg}
	p, err := orchestrator.NewPipeline(config.GraphResolve,
		orchestrator.HandlerFunc(orchestrator.StageLocalizePackages, w.LocalizePackages),
		orchestrator.HandlerFunc(orchestrator.StageLocalizeFiles, w.LocalizeFiles),
		orchestrator.HandlerFunc(orchestrator.StageSuggest, w.Suggest),
	)
	if err != nil {
		return nil, err
	}
	if err := p.RegisterGate(orchestrator.StageLocalizePackages,
		orchestrator.GateFunc("onboarded", w.checkOnboarded)); err != nil {
		return nil, err
	}
	if err := p.RegisterGate(orchestrator.StageLocalizePackages,
		orchestrator.GateFunc("conversation", checkConversation)); err != nil {
		return nil, err
	}
	w.pipeline = p
	return w, nil
}

// Pipeline returns the ordered resolution stages.
func (w *Workflow) Pipeline() *orchestrator.Pipeline[State] {
	return w.pipeline
}

// Run executes every stage for in.
func (w *Workflow) Run(ctx context.Context, in Input) (*State, error) {
	state := NewState(in)
	if _, err := w.pipeline.Run(ctx, state, orchestrator.RunOptions{}); err != nil {
		return nil, err
	}
	return state, nil
}

func (w *Workflow) checkOnboarded(ctx context.Context, s *State) error {
	pkgs, err := w.deps.Store.ListPackages(ctx, s.scope())
	if err != nil {
		return err
	}
	if len(pkgs) == 0 {
		return fmt.Errorf("%w: %s", ErrRepoNotOnboarded, s.scope())
	}
	return nil
}

func checkConversation(_ context.Context, s *State) error {
	for _, m := range s.Messages {
		if strings.TrimSpace(m.Content) != "" {
			return nil
		}
	}
	return errors.New("conversation has no messages")
}

func (w *Workflow) withCredential(ctx context.Context) context.Context {
	if w.cfg.GitHubToken.IsSet() {
		return repository.WithCredential(ctx, w.cfg.GitHubToken)
	}
	return ctx
}
