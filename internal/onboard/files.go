package onboard

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/seagent/internal/index"
	"github.com/fyrsmithlabs/seagent/internal/llm"
	"github.com/fyrsmithlabs/seagent/internal/logging"
	"github.com/fyrsmithlabs/seagent/internal/markdown"
	"github.com/fyrsmithlabs/seagent/internal/prompts"
	"github.com/fyrsmithlabs/seagent/internal/repository"
	"github.com/fyrsmithlabs/seagent/internal/store"
)

// ContentHash is the hex sha256 of a file's content.
func ContentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

type fileOutcome struct {
	summary *store.FileSummary
	skipped bool
	gone    bool
}

// SummarizeFiles generates a summary for every discovered file whose content
// changed since it was last summarized. Files are processed concurrently;
// the resulting summaries are written in one batch once every file is done,
// so a failed or cancelled stage leaves the store untouched.
func (w *Workflow) SummarizeFiles(ctx context.Context, s *State) error {
	ctx = w.withCredential(ctx)
	logger := logging.FromContext(ctx)
	scope := s.scope()

	stored, err := w.deps.Store.ListFiles(ctx, scope)
	if err != nil {
		return fmt.Errorf("listing stored summaries: %w", err)
	}
	hashes := make(map[string]string, len(stored))
	for _, f := range stored {
		hashes[f.FilePath] = f.ContentHash
	}

	var (
		mu       sync.Mutex
		outcomes = make(map[string]fileOutcome, len(s.Paths))
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.cfg.Concurrency)
	for _, p := range s.Paths {
		g.Go(func() error {
			out, err := w.summarizeFile(gctx, s.Input.Repo, p, hashes[p])
			if err != nil {
				return fmt.Errorf("%s: %w", p, err)
			}
			mu.Lock()
			outcomes[p] = out
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	var (
		summaries []store.FileSummary
		gone      []string
	)
	for _, p := range s.Paths {
		out := outcomes[p]
		switch {
		case out.gone:
			if _, ok := hashes[p]; ok {
				gone = append(gone, p)
			}
		case out.skipped:
			s.Report.FilesSkipped = append(s.Report.FilesSkipped, p)
		default:
			summaries = append(summaries, *out.summary)
			s.Recomputed = append(s.Recomputed, p)
			s.Report.FilesSummarized = append(s.Report.FilesSummarized, p)
			if out.summary.Partial {
				s.Report.PartialFiles = append(s.Report.PartialFiles, p)
			}
		}
	}

	if len(summaries) > 0 {
		if err := w.deps.Store.PutFiles(ctx, scope, summaries); err != nil {
			return fmt.Errorf("writing file summaries: %w", err)
		}
	}
	if len(gone) > 0 {
		if err := w.deps.Store.DeleteFiles(ctx, scope, gone); err != nil {
			return fmt.Errorf("deleting summaries: %w", err)
		}
		s.Deleted = append(s.Deleted, gone...)
		s.Report.FilesDeleted = append(s.Report.FilesDeleted, gone...)
		w.removeFromIndex(ctx, scope, index.KindFile, gone)
	}

	docs := make([]index.Doc, 0, len(summaries))
	for _, f := range summaries {
		docs = append(docs, index.Doc{ID: f.FilePath, Content: f.FilePath + "\n" + f.Summary})
	}
	w.upsertIndex(ctx, scope, index.KindFile, docs)

	logger.Info(ctx, "summarized files",
		zap.Int("summarized", len(summaries)),
		zap.Int("skipped", len(s.Report.FilesSkipped)),
		zap.Int("partial", len(s.Report.PartialFiles)),
		zap.Int("gone", len(gone)))
	return nil
}

func (w *Workflow) summarizeFile(ctx context.Context, repo repository.Descriptor, filePath, storedHash string) (fileOutcome, error) {
	content, err := w.deps.Accessor.GetContent(ctx, repo, filePath)
	if errors.Is(err, repository.ErrPathNotFound) {
		return fileOutcome{gone: true}, nil
	}
	if err != nil {
		return fileOutcome{}, err
	}
	if strings.TrimSpace(content) == "" {
		return fileOutcome{gone: true}, nil
	}

	hash := ContentHash(content)
	if hash == storedHash {
		return fileOutcome{skipped: true}, nil
	}

	if w.deps.Scrubber != nil {
		scrubbed, findings := w.deps.Scrubber.Scrub(content)
		if len(findings) > 0 {
			logging.FromContext(ctx).Info(ctx, "redacted secrets before summarizing",
				zap.String("file", filePath), zap.Int("findings", len(findings)))
		}
		content = scrubbed
	}
	content, partial := llm.TruncateToBudget(content, w.cfg.FileTokenBudget)

	prompt, err := w.deps.Prompts.Render(prompts.FileSummary, prompts.FileSummaryVars{
		FilePath:    filePath,
		FileType:    fileType(filePath),
		FileContent: content,
		Partial:     partial,
	})
	if err != nil {
		return fileOutcome{}, err
	}
	if err := ctx.Err(); err != nil {
		return fileOutcome{}, err
	}
	resp, err := w.deps.Gateway.Complete(ctx, w.cfg.CodeSummaryModel, prompt)
	if err != nil {
		return fileOutcome{}, err
	}
	if err := ctx.Err(); err != nil {
		return fileOutcome{}, err
	}

	summary := markdown.ExtractCodeBlock(resp)
	return fileOutcome{summary: &store.FileSummary{
		FilePath:    filePath,
		Summary:     summary,
		Structures:  ParseStructures(summary),
		ContentHash: hash,
		Partial:     partial,
		UpdatedAt:   w.deps.Now().UTC(),
	}}, nil
}

// ParseStructures reads the "Code Structures" section of a file summary.
func ParseStructures(summary string) []store.Structure {
	body, ok := markdown.Find(markdown.Sections(summary), "Code Structures")
	if !ok {
		return nil
	}
	var out []store.Structure
	for _, item := range markdown.Items(body) {
		out = append(out, store.Structure{Name: item.Name, Summary: item.Description})
	}
	return out
}

func fileType(p string) string {
	return strings.TrimPrefix(path.Ext(p), ".")
}

func sortedUnique(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	sort.Strings(out)
	return out
}
