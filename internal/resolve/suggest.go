package resolve

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/gitleaks/go-gitdiff/gitdiff"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/seagent/internal/llm"
	"github.com/fyrsmithlabs/seagent/internal/logging"
	"github.com/fyrsmithlabs/seagent/internal/markdown"
	"github.com/fyrsmithlabs/seagent/internal/prompts"
	"github.com/fyrsmithlabs/seagent/internal/repository"
)

type codeFile struct {
	path      string
	rationale string
	content   string
}

// Suggest fetches the live content of the localized files and asks the
// suggestions model for changes. Diffs for files outside the localized set
// are dropped. The response is appended to the conversation.
func (w *Workflow) Suggest(ctx context.Context, s *State) error {
	ctx = w.withCredential(ctx)
	logger := logging.FromContext(ctx)

	var files []codeFile
	for _, f := range s.Resolution.Files {
		content, err := w.deps.Accessor.GetContent(ctx, s.Input.Repo, f.Name)
		if errors.Is(err, repository.ErrPathNotFound) {
			logger.Warn(ctx, "localized file no longer exists", zap.String("file", f.Name))
			continue
		}
		if err != nil {
			return fmt.Errorf("fetching %s: %w", f.Name, err)
		}
		if w.deps.Scrubber != nil {
			content, _ = w.deps.Scrubber.Scrub(content)
		}
		files = append(files, codeFile{path: f.Name, rationale: f.Rationale, content: content})
	}
	if len(files) == 0 {
		return fmt.Errorf("%w: none of the localized files could be read", repository.ErrPathNotFound)
	}

	conversation := Transcript(s.Messages)
	resp, err := w.complete(ctx, files, conversation, false)
	if llm.IsContextLimit(err) {
		logger.Warn(ctx, "suggestion prompt over the model context, retrying with truncated files",
			zap.Error(err))
		resp, err = w.complete(ctx, files, conversation, true)
	}
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	localized := make(map[string]bool, len(s.Resolution.Files))
	for _, f := range s.Resolution.Files {
		localized[f.Name] = true
	}
	diffs := ParseDiffs(resp)
	suggestion := &Suggestion{Text: resp, Rationale: Prose(resp)}
	s.Resolution.Dropped = nil
	for _, d := range diffs {
		if !localized[d.FilePath] {
			s.Resolution.Dropped = append(s.Resolution.Dropped, d.FilePath)
			continue
		}
		suggestion.Diffs = append(suggestion.Diffs, d)
	}
	if len(s.Resolution.Dropped) > 0 {
		logger.Info(ctx, "dropped diffs outside localized files", zap.Strings("files", s.Resolution.Dropped))
	}

	s.Resolution.Suggestion = suggestion
	s.Messages = append(s.Messages, Message{Role: RoleAssistant, Content: resp})
	return nil
}

func (w *Workflow) complete(ctx context.Context, files []codeFile, conversation string, truncate bool) (string, error) {
	perFile := 0
	if truncate {
		perFile = w.cfg.FileTokenBudget / len(files)
		if perFile < 1 {
			perFile = 1
		}
	}

	blocks := make([]string, 0, len(files))
	for _, f := range files {
		content := f.content
		if truncate {
			content, _ = llm.TruncateToBudget(content, perFile)
		}
		blocks = append(blocks, fmt.Sprintf("filepath: %s\nrationale: %s\n```%s\n%s\n```",
			f.path, f.rationale, language(f.path), strings.TrimRight(content, "\n")))
	}

	prompt, err := w.deps.Prompts.Render(prompts.CodeSuggestions, prompts.CodeSuggestionsVars{
		CodeFiles:    strings.Join(blocks, "\n\n"),
		Conversation: conversation,
	})
	if err != nil {
		return "", err
	}
	return w.deps.Gateway.Complete(ctx, w.cfg.CodeSuggestionsModel, prompt)
}

// ParseDiffs extracts one diff per file from the fenced blocks of a model
// response. A block may patch several files; each file is named by its
// ---/+++ headers.
func ParseDiffs(text string) []Diff {
	var (
		out   []Diff
		index = make(map[string]int)
	)
	add := func(d Diff) {
		if i, ok := index[d.FilePath]; ok {
			out[i].Diff += "\n" + d.Diff
			return
		}
		index[d.FilePath] = len(out)
		out = append(out, d)
	}

	for _, block := range markdown.CodeBlocks(text) {
		if !strings.Contains(block.Body, "+++ ") || !strings.Contains(block.Body, "--- ") {
			continue
		}
		for _, d := range splitDiff(block.Body) {
			add(d)
		}
	}
	return out
}

// splitDiff names the files a unified diff touches. Git-style patches are
// read with gitdiff; plain unified diffs are split at their ---/+++ headers.
func splitDiff(body string) []Diff {
	if !strings.HasPrefix(body, "diff --git ") && !strings.Contains(body, "\ndiff --git ") {
		return scanHeaders(body)
	}
	files, err := gitdiff.Parse(strings.NewReader(body + "\n"))
	if err != nil {
		return scanHeaders(body)
	}
	var names []string
	for f := range files {
		name := f.NewName
		if f.IsDelete || name == "" {
			name = f.OldName
		}
		if name = cleanDiffPath(name, false); name != "" {
			names = append(names, name)
		}
	}

	segments := splitAt(body, "diff --git ")
	if len(names) == 0 || len(segments) != len(names) {
		return scanHeaders(body)
	}
	out := make([]Diff, len(names))
	for i, name := range names {
		out[i] = Diff{FilePath: name, Language: language(name), Diff: segments[i]}
	}
	return out
}

// splitAt splits body before every line starting with prefix. Text before
// the first such line is dropped.
func splitAt(body, prefix string) []string {
	var (
		out []string
		cur []string
		in  bool
	)
	for _, line := range strings.Split(body, "\n") {
		if strings.HasPrefix(line, prefix) {
			if in {
				out = append(out, strings.Join(cur, "\n"))
			}
			cur, in = nil, true
		}
		if in {
			cur = append(cur, line)
		}
	}
	if in {
		out = append(out, strings.Join(cur, "\n"))
	}
	return out
}

// scanHeaders splits body at "--- " lines followed by "+++ " lines.
func scanHeaders(body string) []Diff {
	lines := strings.Split(body, "\n")
	var (
		out   []Diff
		start = -1
		name  string
	)
	flush := func(end int) {
		if start >= 0 && name != "" {
			out = append(out, Diff{
				FilePath: name,
				Language: language(name),
				Diff:     strings.Join(lines[start:end], "\n"),
			})
		}
	}
	for i := 0; i < len(lines); i++ {
		if !strings.HasPrefix(lines[i], "--- ") || i+1 >= len(lines) || !strings.HasPrefix(lines[i+1], "+++ ") {
			continue
		}
		flush(i)
		start = i
		oldName, newName := headerName(lines[i][4:]), headerName(lines[i+1][4:])
		prefixed := hasGitPrefix(oldName, "a/") && hasGitPrefix(newName, "b/")
		name = cleanDiffPath(newName, prefixed)
		if name == "" {
			name = cleanDiffPath(oldName, prefixed)
		}
		i++
	}
	flush(len(lines))
	return out
}

func headerName(h string) string {
	if i := strings.IndexByte(h, '\t'); i >= 0 {
		h = h[:i]
	}
	return strings.TrimSpace(h)
}

// cleanDiffPath turns a diff header name into a repository path. gitdiff
// already removes the a/ and b/ prefixes; plain headers carry them only when
// both sides do.
func cleanDiffPath(p string, prefixed bool) string {
	p = unquote(p)
	if p == "/dev/null" || p == "" {
		return ""
	}
	if prefixed {
		p = p[2:]
	}
	return strings.TrimPrefix(p, "./")
}

func hasGitPrefix(name, prefix string) bool {
	name = unquote(name)
	return name == "/dev/null" || strings.HasPrefix(name, prefix)
}

func unquote(p string) string {
	return strings.Trim(strings.TrimSpace(p), `"`)
}

// Prose returns text with its fenced code blocks removed.
func Prose(text string) string {
	var (
		kept    []string
		inFence bool
	)
	for _, line := range strings.Split(text, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			inFence = !inFence
			continue
		}
		if !inFence {
			kept = append(kept, line)
		}
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}

func language(p string) string {
	return strings.TrimPrefix(path.Ext(p), ".")
}
