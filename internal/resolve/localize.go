package resolve

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/seagent/internal/index"
	"github.com/fyrsmithlabs/seagent/internal/llm"
	"github.com/fyrsmithlabs/seagent/internal/logging"
	"github.com/fyrsmithlabs/seagent/internal/markdown"
	"github.com/fyrsmithlabs/seagent/internal/prompts"
	"github.com/fyrsmithlabs/seagent/internal/store"
	"github.com/fyrsmithlabs/seagent/internal/structured"
)

const packageFormatInstructions = `The output should be formatted as a JSON instance that conforms to the JSON schema below.

{"type": "object", "properties": {"packages": {"type": "array", "items": {"type": "object", "properties": {"package_name": {"type": "string", "description": "Name of the package relevant to the issue or conversation."}, "rationale": {"type": "string", "description": "Rationale for considering this package relevant."}}, "required": ["package_name", "rationale"]}}}, "required": ["packages"]}

Return only the JSON object.`

const fileFormatInstructions = `The output should be formatted as a JSON instance that conforms to the JSON schema below.

{"type": "object", "properties": {"files": {"type": "array", "items": {"type": "object", "properties": {"filepath": {"type": "string", "description": "Filepath of the file relevant to the issue or conversation."}, "rationale": {"type": "string", "description": "Rationale for considering this file relevant."}}, "required": ["filepath", "rationale"]}}}, "required": ["files"]}

Return only the JSON object.`

type packageChoice struct {
	PackageName string `json:"package_name"`
	Rationale   string `json:"rationale"`
}

type packageList struct {
	Packages []packageChoice `json:"packages"`
}

type fileChoice struct {
	Filepath  string `json:"filepath"`
	Rationale string `json:"rationale"`
}

type fileList struct {
	Files []fileChoice `json:"files"`
}

// entry is one candidate offered to the model.
type entry struct {
	name string
	text string
}

// LocalizePackages asks the localization model which packages the issue is
// about. Names outside the offered set are rejected and re-prompted.
func (w *Workflow) LocalizePackages(ctx context.Context, s *State) error {
	pkgs, err := w.deps.Store.ListPackages(ctx, s.scope())
	if err != nil {
		return fmt.Errorf("listing packages: %w", err)
	}
	if len(pkgs) == 0 {
		return fmt.Errorf("%w: %s", ErrRepoNotOnboarded, s.scope())
	}

	entries := make([]entry, 0, len(pkgs))
	for _, p := range pkgs {
		entries = append(entries, entry{name: p.PackageName, text: packageListing(p)})
	}
	conversation := Transcript(s.Messages)
	offered := w.fit(ctx, s.scope(), index.KindPackage, entries, conversation)

	prompt, err := w.deps.Prompts.Render(prompts.PackageLocalization, prompts.PackageLocalizationVars{
		PackageSummaries:   join(offered),
		FormatInstructions: packageFormatInstructions,
		Conversation:       conversation,
	})
	if err != nil {
		return err
	}

	known := nameSet(offered)
	out, outcome, err := structured.Generate[packageList](ctx, w.validator(ctx), w.cfg.LocalizationModel, prompt,
		func(v *packageList) error {
			var unknown []string
			seen := make(map[string]bool)
			kept := v.Packages[:0]
			for _, c := range v.Packages {
				name := strings.TrimSpace(c.PackageName)
				if !known[name] {
					unknown = append(unknown, c.PackageName)
					continue
				}
				if seen[name] {
					continue
				}
				seen[name] = true
				c.PackageName = name
				kept = append(kept, c)
			}
			if len(unknown) > 0 {
				return fmt.Errorf("unknown package names %q; choose only from the packages listed", unknown)
			}
			v.Packages = kept
			return nil
		})
	if err != nil {
		return localizationError(err)
	}
	if len(out.Packages) == 0 {
		return fmt.Errorf("%w: no packages", ErrEmptyLocalization)
	}

	s.Resolution.Packages = nil
	for _, c := range out.Packages {
		s.Resolution.Packages = append(s.Resolution.Packages, Localized{Name: c.PackageName, Rationale: c.Rationale})
	}
	logging.FromContext(ctx).Info(ctx, "localized packages",
		zap.Strings("packages", Names(s.Resolution.Packages)),
		zap.Int("offered", len(offered)),
		zap.Int("attempts", outcome.Attempts))
	return nil
}

// LocalizeFiles asks the localization model which files of the localized
// packages the issue is about. Only those files are offered, and paths
// outside them are rejected and re-prompted.
func (w *Workflow) LocalizeFiles(ctx context.Context, s *State) error {
	candidates, err := w.candidates(ctx, s)
	if err != nil {
		return err
	}
	if len(candidates) == 0 {
		return fmt.Errorf("%w: localized packages have no file summaries", ErrEmptyLocalization)
	}

	entries := make([]entry, 0, len(candidates))
	for _, f := range candidates {
		entries = append(entries, entry{
			name: f.FilePath,
			text: "# " + f.FilePath + "\n" + markdown.ShiftHeadings(f.Summary, 1),
		})
	}
	conversation := Transcript(s.Messages)
	offered := w.fit(ctx, s.scope(), index.KindFile, entries, conversation)

	prompt, err := w.deps.Prompts.Render(prompts.FileLocalization, prompts.FileLocalizationVars{
		FileSummaries:      join(offered),
		FormatInstructions: fileFormatInstructions,
		Conversation:       conversation,
	})
	if err != nil {
		return err
	}

	known := nameSet(offered)
	out, outcome, err := structured.Generate[fileList](ctx, w.validator(ctx), w.cfg.LocalizationModel, prompt,
		func(v *fileList) error {
			var unknown []string
			seen := make(map[string]bool)
			kept := v.Files[:0]
			for _, c := range v.Files {
				p := strings.TrimPrefix(strings.TrimSpace(c.Filepath), "./")
				if !known[p] {
					unknown = append(unknown, c.Filepath)
					continue
				}
				if seen[p] {
					continue
				}
				seen[p] = true
				c.Filepath = p
				kept = append(kept, c)
			}
			if len(unknown) > 0 {
				return fmt.Errorf("unknown file paths %q; choose only from the files listed", unknown)
			}
			v.Files = kept
			return nil
		})
	if err != nil {
		return localizationError(err)
	}
	if len(out.Files) == 0 {
		return fmt.Errorf("%w: no files", ErrEmptyLocalization)
	}

	s.Resolution.Files = nil
	for _, c := range out.Files {
		s.Resolution.Files = append(s.Resolution.Files, Localized{Name: c.Filepath, Rationale: c.Rationale})
	}
	logging.FromContext(ctx).Info(ctx, "localized files",
		zap.Strings("files", Names(s.Resolution.Files)),
		zap.Int("offered", len(offered)),
		zap.Int("attempts", outcome.Attempts))
	return nil
}

// candidates returns the stored summaries of files belonging to the
// localized packages, sorted by path.
func (w *Workflow) candidates(ctx context.Context, s *State) ([]store.FileSummary, error) {
	members := make(map[string]bool)
	for _, l := range s.Resolution.Packages {
		pkg, err := w.deps.Store.GetPackage(ctx, s.scope(), l.Name)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("loading package %s: %w", l.Name, err)
		}
		for _, m := range pkg.Members {
			members[m] = true
		}
	}

	files, err := w.deps.Store.ListFiles(ctx, s.scope())
	if err != nil {
		return nil, fmt.Errorf("listing file summaries: %w", err)
	}
	var out []store.FileSummary
	for _, f := range files {
		if members[f.FilePath] {
			out = append(out, f)
		}
	}
	return out, nil
}

func (w *Workflow) validator(ctx context.Context) structured.Validator {
	return structured.Validator{
		Gateway:     w.deps.Gateway,
		MaxAttempts: w.cfg.LocalizationMaxAttempts,
		Logger:      logging.FromContext(ctx),
	}
}

// fit returns the entries that fit the localization budget. When everything
// fits, all entries are offered in order. Otherwise entries are ranked by
// similarity to the conversation when an index is available, and taken in
// rank order until the budget is spent. At least one entry is offered.
func (w *Workflow) fit(ctx context.Context, scope string, kind index.Kind, entries []entry, conversation string) []entry {
	budget := w.cfg.LocalizationInputBudget
	if budget <= 0 || llm.CountTokens(join(entries)) <= budget {
		return entries
	}
	logger := logging.FromContext(ctx)

	ordered := entries
	if w.deps.Index != nil {
		hits, err := w.deps.Index.Rank(ctx, scope, kind, conversation, len(entries))
		if err != nil {
			logger.Warn(ctx, "ranking candidates failed, offering in listing order",
				zap.String("kind", string(kind)), zap.Error(err))
		} else {
			ordered = rankOrder(entries, hits)
		}
	}

	var (
		out  []entry
		used int
	)
	for _, e := range ordered {
		n := llm.CountTokens(e.text)
		if used+n > budget && len(out) > 0 {
			continue
		}
		out = append(out, e)
		used += n
	}
	logger.Info(ctx, "candidate listing over budget",
		zap.String("kind", string(kind)),
		zap.Int("offered", len(out)),
		zap.Int("total", len(entries)),
		zap.Int("budget", budget))
	return out
}

// rankOrder puts ranked entries first, in hit order, followed by the rest in
// their original order.
func rankOrder(entries []entry, hits []index.Hit) []entry {
	pos := make(map[string]int, len(hits))
	for i, h := range hits {
		pos[h.ID] = i
	}
	out := append([]entry(nil), entries...)
	sort.SliceStable(out, func(i, j int) bool {
		pi, iok := pos[out[i].name]
		pj, jok := pos[out[j].name]
		switch {
		case iok && jok:
			return pi < pj
		default:
			return iok && !jok
		}
	})
	return out
}

func localizationError(err error) error {
	if errors.Is(err, structured.ErrMalformed) {
		return fmt.Errorf("%w: %w", ErrLocalizationMalformed, err)
	}
	return err
}

// packageListing renders a package summary under a level-one heading naming
// the package.
func packageListing(p store.PackageSummary) string {
	summary := strings.TrimSpace(p.Summary)
	sections := markdown.Sections(summary)
	for _, sec := range sections {
		if sec.Level == 0 {
			continue
		}
		if sec.Level == 1 && strings.EqualFold(sec.Title, p.PackageName) {
			return summary
		}
		break
	}
	return "# " + p.PackageName + "\n" + markdown.ShiftHeadings(summary, 1)
}

func join(entries []entry) string {
	parts := make([]string, len(entries))
	for i, e := range entries {
		parts[i] = e.text
	}
	return strings.Join(parts, "\n\n")
}

func nameSet(entries []entry) map[string]bool {
	out := make(map[string]bool, len(entries))
	for _, e := range entries {
		out[e.name] = true
	}
	return out
}
