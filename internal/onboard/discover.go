package onboard

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/seagent/internal/index"
	"github.com/fyrsmithlabs/seagent/internal/logging"
	"github.com/fyrsmithlabs/seagent/internal/repository"
)

// Discover selects the files to summarize and removes summaries of files
// that no longer exist.
//
// A repo-onboard event lists the whole source folder; stored summaries that
// are not in the listing are deleted. A repo-update event only looks at the
// modified and deleted paths it carries. An update for a repository that was
// never onboarded falls back to a full listing.
func (w *Workflow) Discover(ctx context.Context, s *State) error {
	ctx = w.withCredential(ctx)
	logger := logging.FromContext(ctx)
	repo := s.Input.Repo
	if err := repo.Validate(); err != nil {
		return err
	}

	stored, err := w.deps.Store.ListFiles(ctx, s.scope())
	if err != nil {
		return fmt.Errorf("listing stored summaries: %w", err)
	}
	storedPaths := make([]string, 0, len(stored))
	for _, f := range stored {
		storedPaths = append(storedPaths, f.FilePath)
	}

	var deleted []string
	if s.Input.Event.IsUpdate() && len(stored) > 0 {
		var dropped []string
		s.Paths, dropped, err = w.updatePaths(ctx, repo, s.Input.Event.Modified)
		if err != nil {
			return err
		}
		gone := append(append([]string(nil), s.Input.Event.Deleted...), dropped...)
		deleted = matchDeleted(storedPaths, gone)
	} else {
		if s.Input.Event.IsUpdate() {
			logger.Info(ctx, "repository not onboarded yet, listing all files",
				zap.String("repo", s.scope()))
		}
		paths, err := w.deps.Accessor.ListFiles(ctx, repo)
		if err != nil {
			return err
		}
		s.Paths = paths
		deleted = missingFrom(storedPaths, paths)
	}

	if len(deleted) > 0 {
		if err := w.deps.Store.DeleteFiles(ctx, s.scope(), deleted); err != nil {
			return fmt.Errorf("deleting summaries: %w", err)
		}
		w.removeFromIndex(ctx, s.scope(), index.KindFile, deleted)
	}
	s.Deleted = deleted
	s.Report.FilesDiscovered = len(s.Paths)
	s.Report.FilesDeleted = append([]string(nil), deleted...)

	logger.Info(ctx, "discovered files",
		zap.String("repo", s.scope()),
		zap.Int("files", len(s.Paths)),
		zap.Int("deleted", len(deleted)))
	return nil
}

// updatePaths keeps the modified paths a full listing would also return.
// Paths that are now filtered out are returned as dropped so their stored
// summaries go away too. Paths that escape the source folder are ignored.
func (w *Workflow) updatePaths(ctx context.Context, repo repository.Descriptor, modified []string) (keep, dropped []string, err error) {
	checker, _ := w.deps.Accessor.(repository.PathChecker)
	seen := make(map[string]bool, len(modified))
	for _, raw := range modified {
		p, ok := repository.CleanPath(raw)
		if !ok || seen[p] || !repo.Under(p) {
			continue
		}
		seen[p] = true
		admitted := !repository.IsMedia(p)
		if admitted && checker != nil {
			if admitted, err = checker.Admits(ctx, repo, p); err != nil {
				return nil, nil, fmt.Errorf("checking %s: %w", p, err)
			}
		}
		if admitted {
			keep = append(keep, p)
		} else {
			dropped = append(dropped, p)
		}
	}
	sort.Strings(keep)
	return keep, dropped, nil
}

// matchDeleted returns the stored paths removed by deleted. A deleted entry
// may name a directory, which removes everything under it.
func matchDeleted(stored, deleted []string) []string {
	var out []string
	for _, p := range stored {
		for _, raw := range deleted {
			d, ok := repository.CleanPath(raw)
			if !ok {
				continue
			}
			if p == d || strings.HasPrefix(p, d+"/") {
				out = append(out, p)
				break
			}
		}
	}
	return out
}

// missingFrom returns the stored paths absent from listed.
func missingFrom(stored, listed []string) []string {
	present := make(map[string]bool, len(listed))
	for _, p := range listed {
		present[p] = true
	}
	var out []string
	for _, p := range stored {
		if !present[p] {
			out = append(out, p)
		}
	}
	return out
}

func (w *Workflow) removeFromIndex(ctx context.Context, scope string, kind index.Kind, ids []string) {
	if w.deps.Index == nil || len(ids) == 0 {
		return
	}
	if err := w.deps.Index.Remove(ctx, scope, kind, ids); err != nil {
		logging.FromContext(ctx).Warn(ctx, "index removal failed",
			zap.String("kind", string(kind)), zap.Error(err))
	}
}

func (w *Workflow) upsertIndex(ctx context.Context, scope string, kind index.Kind, docs []index.Doc) {
	if w.deps.Index == nil || len(docs) == 0 {
		return
	}
	if err := w.deps.Index.Upsert(ctx, scope, kind, docs); err != nil {
		logging.FromContext(ctx).Warn(ctx, "index refresh failed",
			zap.String("kind", string(kind)), zap.Error(err))
	}
}
