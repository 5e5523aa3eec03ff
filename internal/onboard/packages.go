package onboard

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/seagent/internal/index"
	"github.com/fyrsmithlabs/seagent/internal/llm"
	"github.com/fyrsmithlabs/seagent/internal/logging"
	"github.com/fyrsmithlabs/seagent/internal/markdown"
	"github.com/fyrsmithlabs/seagent/internal/prompts"
	"github.com/fyrsmithlabs/seagent/internal/store"
)

// TopLevelPackage names a file's package after its first directory below the
// source folder. Files directly in the source folder belong to BasePackage.
func TopLevelPackage(srcFolder, filePath string) string {
	rel := filePath
	if srcFolder != "" {
		rel = strings.TrimPrefix(filePath, srcFolder+"/")
	}
	if i := strings.IndexByte(rel, '/'); i > 0 {
		return rel[:i]
	}
	return BasePackage
}

// Group partitions paths into packages with fn. Member lists are sorted.
func Group(srcFolder string, paths []string, fn GroupFunc) map[string][]string {
	out := make(map[string][]string)
	for _, p := range paths {
		pkg := fn(srcFolder, p)
		out[pkg] = append(out[pkg], p)
	}
	for _, members := range out {
		sort.Strings(members)
	}
	return out
}

// GroupPackages groups every stored file into packages, deletes packages
// left without members, and marks the packages whose summaries are stale.
func (w *Workflow) GroupPackages(ctx context.Context, s *State) error {
	scope := s.scope()
	files, err := w.deps.Store.ListFiles(ctx, scope)
	if err != nil {
		return fmt.Errorf("listing stored summaries: %w", err)
	}
	paths := make([]string, 0, len(files))
	updated := make(map[string]time.Time, len(files))
	for _, f := range files {
		paths = append(paths, f.FilePath)
		updated[f.FilePath] = f.UpdatedAt
	}
	s.Packages = Group(s.Input.Repo.SrcFolder, paths, w.deps.Group)

	existing, err := w.deps.Store.ListPackages(ctx, scope)
	if err != nil {
		return fmt.Errorf("listing stored packages: %w", err)
	}
	previous := make(map[string]store.PackageSummary, len(existing))
	var orphans []string
	for _, pkg := range existing {
		previous[pkg.PackageName] = pkg
		if _, ok := s.Packages[pkg.PackageName]; !ok {
			orphans = append(orphans, pkg.PackageName)
		}
	}
	if len(orphans) > 0 {
		if err := w.deps.Store.DeletePackages(ctx, scope, orphans); err != nil {
			return fmt.Errorf("deleting orphan packages: %w", err)
		}
		w.removeFromIndex(ctx, scope, index.KindPackage, orphans)
	}
	s.Report.PackagesRemoved = orphans

	changed := make(map[string]bool, len(s.Recomputed)+len(s.Deleted))
	for _, p := range s.Recomputed {
		changed[p] = true
	}
	for _, p := range s.Deleted {
		changed[p] = true
	}

	s.Impacted = nil
	for name, members := range s.Packages {
		prev, ok := previous[name]
		if !ok || !slices.Equal(sortedUnique(prev.Members), members) ||
			containsAny(changed, members) || containsAny(changed, prev.Members) ||
			newerThan(updated, members, prev.UpdatedAt) {
			s.Impacted = append(s.Impacted, name)
		}
	}
	sort.Strings(s.Impacted)

	logging.FromContext(ctx).Info(ctx, "grouped packages",
		zap.Int("packages", len(s.Packages)),
		zap.Int("impacted", len(s.Impacted)),
		zap.Int("orphans", len(orphans)))
	return nil
}

// newerThan reports whether any member summary was written after t. This
// catches packages left stale by a run that failed after summarize_files.
func newerThan(updated map[string]time.Time, members []string, t time.Time) bool {
	for _, m := range members {
		if updated[m].After(t) {
			return true
		}
	}
	return false
}

func containsAny(set map[string]bool, items []string) bool {
	for _, it := range items {
		if set[it] {
			return true
		}
	}
	return false
}

// PackageInput is the rendered member listing of one package.
type PackageInput struct {
	Text    string
	Members []string
	Dropped []string
}

// BuildPackageInput renders each member as a "# <path>" heading followed by
// its summary shifted one heading level down. When the result exceeds
// budget, the shortest summaries are dropped first, ties broken by path.
func BuildPackageInput(members []store.FileSummary, budget int) PackageInput {
	kept := append([]store.FileSummary(nil), members...)
	sort.Slice(kept, func(i, j int) bool { return kept[i].FilePath < kept[j].FilePath })

	in := PackageInput{}
	for _, m := range kept {
		in.Members = append(in.Members, m.FilePath)
	}
	render := func(fs []store.FileSummary) string {
		parts := make([]string, 0, len(fs))
		for _, f := range fs {
			parts = append(parts, "# "+f.FilePath+"\n"+markdown.ShiftHeadings(f.Summary, 1))
		}
		return strings.Join(parts, "\n\n")
	}

	text := render(kept)
	if budget <= 0 || llm.CountTokens(text) <= budget {
		in.Text = text
		return in
	}

	order := append([]store.FileSummary(nil), kept...)
	sort.SliceStable(order, func(i, j int) bool {
		li, lj := llm.CountTokens(order[i].Summary), llm.CountTokens(order[j].Summary)
		if li != lj {
			return li < lj
		}
		return order[i].FilePath < order[j].FilePath
	})
	dropped := make(map[string]bool)
	for _, victim := range order {
		if llm.CountTokens(text) <= budget || len(dropped) == len(kept)-1 {
			break
		}
		dropped[victim.FilePath] = true
		in.Dropped = append(in.Dropped, victim.FilePath)
		remaining := kept[:0:0]
		for _, f := range kept {
			if !dropped[f.FilePath] {
				remaining = append(remaining, f)
			}
		}
		text = render(remaining)
	}
	sort.Strings(in.Dropped)
	// A single member larger than the budget is cut.
	text, _ = llm.TruncateToBudget(text, budget)
	in.Text = text
	return in
}

// SummarizePackages regenerates the summaries of impacted packages. The
// summaries are written together once every package is done.
func (w *Workflow) SummarizePackages(ctx context.Context, s *State) error {
	scope := s.scope()
	if len(s.Impacted) == 0 {
		return nil
	}
	files, err := w.deps.Store.ListFiles(ctx, scope)
	if err != nil {
		return fmt.Errorf("listing stored summaries: %w", err)
	}
	byPath := make(map[string]store.FileSummary, len(files))
	for _, f := range files {
		byPath[f.FilePath] = f
	}

	var results []store.PackageSummary
	for _, name := range s.Impacted {
		var members []store.FileSummary
		for _, p := range s.Packages[name] {
			if f, ok := byPath[p]; ok {
				members = append(members, f)
			}
		}
		if len(members) == 0 {
			continue
		}
		pkg, err := w.summarizePackage(ctx, name, members)
		if err != nil {
			return fmt.Errorf("package %s: %w", name, err)
		}
		results = append(results, pkg)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	docs := make([]index.Doc, 0, len(results))
	for _, pkg := range results {
		if err := w.deps.Store.PutPackage(ctx, scope, pkg); err != nil {
			return fmt.Errorf("writing package %s: %w", pkg.PackageName, err)
		}
		s.Report.PackagesSummarized = append(s.Report.PackagesSummarized, pkg.PackageName)
		docs = append(docs, index.Doc{ID: pkg.PackageName, Content: pkg.PackageName + "\n" + pkg.Summary})
	}
	w.upsertIndex(ctx, scope, index.KindPackage, docs)

	logging.FromContext(ctx).Info(ctx, "summarized packages", zap.Int("packages", len(results)))
	return nil
}

func (w *Workflow) summarizePackage(ctx context.Context, name string, members []store.FileSummary) (store.PackageSummary, error) {
	input := BuildPackageInput(members, w.cfg.PackageInputBudget)
	if len(input.Dropped) > 0 {
		logging.FromContext(ctx).Info(ctx, "dropped member summaries over budget",
			zap.String("package", name), zap.Strings("dropped", input.Dropped))
	}

	prompt, err := w.deps.Prompts.Render(prompts.PackageSummary, prompts.PackageSummaryVars{
		PackageName:   name,
		FileSummaries: input.Text,
		OutputBudget:  w.cfg.PackageOutputBudget,
	})
	if err != nil {
		return store.PackageSummary{}, err
	}
	if err := ctx.Err(); err != nil {
		return store.PackageSummary{}, err
	}
	resp, err := w.deps.Gateway.Complete(ctx, w.cfg.CodeSummaryModel, prompt)
	if err != nil {
		return store.PackageSummary{}, err
	}
	summary := markdown.ExtractCodeBlock(resp)

	var known []string
	for _, m := range members {
		known = append(known, m.StructureNames()...)
	}
	return store.PackageSummary{
		PackageName: name,
		Summary:     summary,
		Contains:    strings.Join(DeriveContains(summary, known), ", "),
		Members:     input.Members,
		Dropped:     input.Dropped,
		UpdatedAt:   w.deps.Now().UTC(),
	}, nil
}

// DeriveContains lists the known structure names a package summary
// mentions, in order of first mention. Names come from the "Contained code
// structure names" section when present, otherwise from every quoted name in
// the summary. Anything not in known is discarded.
func DeriveContains(summary string, known []string) []string {
	allowed := make(map[string]bool, len(known))
	for _, k := range known {
		allowed[k] = true
	}

	text := summary
	if body, ok := markdown.Find(markdown.Sections(summary), "Contained code structure names"); ok {
		text = body
	}
	candidates := markdown.QuotedNames(text)
	if len(candidates) == 0 {
		for _, part := range strings.Split(text, ",") {
			candidates = append(candidates, strings.TrimSpace(part))
		}
	}

	seen := make(map[string]bool)
	var out []string
	for _, c := range candidates {
		if allowed[c] && !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	return out
}
