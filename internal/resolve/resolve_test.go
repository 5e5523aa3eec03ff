package resolve

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/seagent/internal/config"
	"github.com/fyrsmithlabs/seagent/internal/index"
	"github.com/fyrsmithlabs/seagent/internal/llm"
	"github.com/fyrsmithlabs/seagent/internal/orchestrator"
	"github.com/fyrsmithlabs/seagent/internal/repository"
	"github.com/fyrsmithlabs/seagent/internal/store"
	"github.com/fyrsmithlabs/seagent/internal/structured"
)

var testRepo = repository.Descriptor{URL: "https://example.com/r", SrcFolder: "src"}

type mapAccessor map[string]string

func (m mapAccessor) ListFiles(context.Context, repository.Descriptor) ([]string, error) {
	return nil, errors.New("not used")
}

func (m mapAccessor) GetContent(_ context.Context, _ repository.Descriptor, p string) (string, error) {
	c, ok := m[p]
	if !ok {
		return "", fmt.Errorf("%w: %s", repository.ErrPathNotFound, p)
	}
	return c, nil
}

// scriptedGateway answers by prompt kind and records every prompt.
type scriptedGateway struct {
	mu       sync.Mutex
	prompts  []string
	packages func(prompt string, call int) (string, error)
	files    func(prompt string, call int) (string, error)
	suggest  func(prompt string, call int) (string, error)
	counts   map[string]int
}

func (g *scriptedGateway) Complete(_ context.Context, model, prompt string) (string, error) {
	g.mu.Lock()
	g.prompts = append(g.prompts, prompt)
	if g.counts == nil {
		g.counts = make(map[string]int)
	}
	var (
		kind string
		fn   func(string, int) (string, error)
	)
	switch {
	case strings.Contains(prompt, "code packages most relevant"):
		kind, fn = "packages", g.packages
	case strings.Contains(prompt, "code files most relevant"):
		kind, fn = "files", g.files
	default:
		kind, fn = "suggest", g.suggest
	}
	g.counts[kind]++
	call := g.counts[kind]
	g.mu.Unlock()
	if fn == nil {
		return "", fmt.Errorf("%w: no script for %s", llm.ErrGatewayError, kind)
	}
	return fn(prompt, call)
}

func (g *scriptedGateway) count(kind string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.counts[kind]
}

func reply(s string) func(string, int) (string, error) {
	return func(string, int) (string, error) { return s, nil }
}

const suggestion = "Guard the empty input.\n\n```diff\n--- a/src/pkg1/b.go\n+++ b/src/pkg1/b.go\n@@ -1,3 +1,4 @@\n func computeChecksum(data []byte) uint32 {\n+\tif len(data) == 0 { return 0 }\n \treturn crc32(data)\n }\n```\n\nAlso:\n\n```diff\n--- a/src/pkg2/c.go\n+++ b/src/pkg2/c.go\n@@ -1 +1 @@\n-x\n+y\n```\n"

func seededStore(t *testing.T) *store.Memory {
	t.Helper()
	ctx := context.Background()
	s := store.NewMemory()
	require.NoError(t, s.PutFiles(ctx, testRepo.Key(), []store.FileSummary{
		{FilePath: "src/pkg1/a.go", Summary: "# Semantic Summary\nParses headers.\n\n# Code Structures\n- Function `parseHeader`: parses."},
		{FilePath: "src/pkg1/b.go", Summary: "# Semantic Summary\nChecksums payloads.\n\n# Code Structures\n- Function `computeChecksum`: crc of data."},
		{FilePath: "src/pkg2/c.go", Summary: "# Semantic Summary\nRenders pages.\n\n# Code Structures\n- Function `renderPage`: renders."},
	}))
	require.NoError(t, s.PutPackage(ctx, testRepo.Key(), store.PackageSummary{
		PackageName: "pkg1",
		Summary:     "# pkg1\n\n## Semantic Summary\nWire format parsing and checksums.",
		Contains:    "parseHeader, computeChecksum",
		Members:     []string{"src/pkg1/a.go", "src/pkg1/b.go"},
	}))
	require.NoError(t, s.PutPackage(ctx, testRepo.Key(), store.PackageSummary{
		PackageName: "pkg2",
		Summary:     "## Semantic Summary\nHTML page rendering.",
		Contains:    "renderPage",
		Members:     []string{"src/pkg2/c.go"},
	}))
	return s
}

func newWorkflow(t *testing.T, st store.Store, gw llm.Gateway, idx *index.Index, overrides map[string]any) *Workflow {
	t.Helper()
	raw := map[string]any{
		"localization_model":     "stub/localize",
		"code_suggestions_model": "stub/suggest",
	}
	for k, v := range overrides {
		raw[k] = v
	}
	cfg, err := config.DecodeAssistantConfig(config.GraphResolve, raw)
	require.NoError(t, err)
	w, err := New(Deps{
		Accessor: mapAccessor{
			"src/pkg1/a.go": "package pkg1\n\nfunc parseHeader() {}\n",
			"src/pkg1/b.go": "package pkg1\n\nfunc computeChecksum(data []byte) uint32 {\n\treturn crc32(data)\n}\n",
			"src/pkg2/c.go": "package pkg2\n",
		},
		Store:   st,
		Gateway: gw,
		Index:   idx,
	}, cfg)
	require.NoError(t, err)
	return w
}

func issue(text string) Input {
	return Input{Repo: testRepo, Messages: []Message{{Role: RoleUser, Content: text}}}
}

func TestWorkflow_LocalizesAndSuggests(t *testing.T) {
	gw := &scriptedGateway{
		packages: reply(`{"packages":[{"package_name":"pkg1","rationale":"checksums live here"}]}`),
		files:    reply("```json\n{\"files\":[{\"filepath\":\"src/pkg1/b.go\",\"rationale\":\"defines computeChecksum\"}]}\n```"),
		suggest:  reply(suggestion),
	}
	w := newWorkflow(t, seededStore(t), gw, nil, nil)

	state, err := w.Run(context.Background(), issue("computeChecksum panics on empty input"))
	require.NoError(t, err)

	res := state.Resolution
	assert.Equal(t, []Localized{{Name: "pkg1", Rationale: "checksums live here"}}, res.Packages)
	assert.Equal(t, []Localized{{Name: "src/pkg1/b.go", Rationale: "defines computeChecksum"}}, res.Files)
	require.NotNil(t, res.Suggestion)
	require.Len(t, res.Suggestion.Diffs, 1)
	assert.Equal(t, "src/pkg1/b.go", res.Suggestion.Diffs[0].FilePath)
	assert.Equal(t, "go", res.Suggestion.Diffs[0].Language)
	assert.Equal(t, []string{"src/pkg2/c.go"}, res.Dropped)
	assert.Contains(t, res.Suggestion.Rationale, "Guard the empty input.")

	require.Len(t, state.Messages, 2)
	assert.Equal(t, RoleAssistant, state.Messages[1].Role)
	assert.Equal(t, suggestion, state.Messages[1].Content)

	// Only files of the localized package were offered.
	var filePrompt, suggestPrompt string
	for _, p := range gw.prompts {
		switch {
		case strings.Contains(p, "code files most relevant"):
			filePrompt = p
		case strings.Contains(p, "suggest changes"):
			suggestPrompt = p
		}
	}
	assert.Contains(t, filePrompt, "# src/pkg1/a.go")
	assert.Contains(t, filePrompt, "# src/pkg1/b.go")
	assert.NotContains(t, filePrompt, "src/pkg2/c.go")
	assert.Contains(t, suggestPrompt, "filepath: src/pkg1/b.go\nrationale: defines computeChecksum\n```go\n")
}

func TestLocalizePackages_RetryBound(t *testing.T) {
	gw := &scriptedGateway{packages: reply("I think pkg1 is relevant.")}
	w := newWorkflow(t, seededStore(t), gw, nil, map[string]any{"localization_max_attempts": 4})

	_, err := w.Run(context.Background(), issue("checksum bug"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLocalizationMalformed)
	assert.ErrorIs(t, err, structured.ErrMalformed)
	stage, _ := orchestrator.FailedStage(err)
	assert.Equal(t, orchestrator.StageLocalizePackages, stage)
	assert.Equal(t, 4, gw.count("packages"))
	assert.Zero(t, gw.count("files"))
}

func TestLocalizePackages_UnknownNameReprompts(t *testing.T) {
	gw := &scriptedGateway{
		packages: func(prompt string, call int) (string, error) {
			if call == 1 {
				return `{"packages":[{"package_name":"networking","rationale":"guess"}]}`, nil
			}
			assert.Contains(t, prompt, "unknown package names")
			return `{"packages":[{"package_name":"pkg1","rationale":"r"},{"package_name":"pkg1","rationale":"dup"}]}`, nil
		},
		files:   reply(`{"files":[{"filepath":"./src/pkg1/a.go","rationale":"r"}]}`),
		suggest: reply("No change needed."),
	}
	w := newWorkflow(t, seededStore(t), gw, nil, nil)

	state, err := w.Run(context.Background(), issue("header parsing"))
	require.NoError(t, err)
	assert.Equal(t, 2, gw.count("packages"))
	assert.Equal(t, []string{"pkg1"}, Names(state.Resolution.Packages))
	assert.Equal(t, []string{"src/pkg1/a.go"}, Names(state.Resolution.Files))
	assert.Empty(t, state.Resolution.Suggestion.Diffs)
}

func TestLocalizeFiles_RejectsOutsideCandidates(t *testing.T) {
	gw := &scriptedGateway{
		packages: reply(`{"packages":[{"package_name":"pkg1","rationale":"r"}]}`),
		files:    reply(`{"files":[{"filepath":"src/pkg2/c.go","rationale":"not offered"}]}`),
	}
	w := newWorkflow(t, seededStore(t), gw, nil, map[string]any{"localization_max_attempts": 2})

	_, err := w.Run(context.Background(), issue("anything"))
	require.ErrorIs(t, err, ErrLocalizationMalformed)
	stage, _ := orchestrator.FailedStage(err)
	assert.Equal(t, orchestrator.StageLocalizeFiles, stage)
	assert.Equal(t, 2, gw.count("files"))
}

func TestLocalizePackages_Empty(t *testing.T) {
	gw := &scriptedGateway{packages: reply(`{"packages":[]}`)}
	w := newWorkflow(t, seededStore(t), gw, nil, nil)

	_, err := w.Run(context.Background(), issue("anything"))
	assert.ErrorIs(t, err, ErrEmptyLocalization)
	assert.Equal(t, 1, gw.count("packages"))
}

func TestWorkflow_NotOnboarded(t *testing.T) {
	gw := &scriptedGateway{}
	w := newWorkflow(t, store.NewMemory(), gw, nil, nil)

	_, err := w.Run(context.Background(), issue("anything"))
	assert.ErrorIs(t, err, ErrRepoNotOnboarded)
	assert.Empty(t, gw.prompts)
}

func TestWorkflow_EmptyConversation(t *testing.T) {
	w := newWorkflow(t, seededStore(t), &scriptedGateway{}, nil, nil)
	_, err := w.Run(context.Background(), Input{Repo: testRepo})
	assert.ErrorContains(t, err, "conversation has no messages")
}

func TestSuggest_RetriesOnContextLimit(t *testing.T) {
	var lengths []int
	gw := &scriptedGateway{
		packages: reply(`{"packages":[{"package_name":"pkg1","rationale":"r"}]}`),
		files:    reply(`{"files":[{"filepath":"src/pkg1/b.go","rationale":"r"}]}`),
		suggest: func(prompt string, call int) (string, error) {
			lengths = append(lengths, len(prompt))
			if call == 1 {
				return "", fmt.Errorf("%w: maximum context length exceeded", llm.ErrGatewayError)
			}
			return suggestion, nil
		},
	}
	w := newWorkflow(t, seededStore(t), gw, nil, map[string]any{"file_token_budget": 4})

	state, err := w.Run(context.Background(), issue("checksum"))
	require.NoError(t, err)
	assert.Equal(t, 2, gw.count("suggest"))
	require.Len(t, lengths, 2)
	assert.Less(t, lengths[1], lengths[0])
	assert.NotNil(t, state.Resolution.Suggestion)
}

func TestSuggest_GatewayErrorIsTerminal(t *testing.T) {
	gw := &scriptedGateway{
		packages: reply(`{"packages":[{"package_name":"pkg1","rationale":"r"}]}`),
		files:    reply(`{"files":[{"filepath":"src/pkg1/b.go","rationale":"r"}]}`),
	}
	w := newWorkflow(t, seededStore(t), gw, nil, nil)

	_, err := w.Run(context.Background(), issue("checksum"))
	require.ErrorIs(t, err, llm.ErrGatewayError)
	stage, _ := orchestrator.FailedStage(err)
	assert.Equal(t, orchestrator.StageSuggest, stage)
	assert.Equal(t, 1, gw.count("suggest"))
}

// wordEmbedder hashes words into a small vector.
type wordEmbedder struct{}

func (wordEmbedder) vector(text string) []float32 {
	v := make([]float32, 32)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(strings.Trim(w, ".,:;`#")))
		v[h.Sum32()%32]++
	}
	v[31] += 0.01
	return v
}

func (e wordEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = e.vector(t)
	}
	return out, nil
}

func (e wordEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	return e.vector(text), nil
}

func TestLocalizePackages_RanksOverBudget(t *testing.T) {
	ctx := context.Background()
	st := seededStore(t)
	idx, err := index.New(config.IndexConfig{}, wordEmbedder{}, nil)
	require.NoError(t, err)
	require.NoError(t, idx.Upsert(ctx, testRepo.Key(), index.KindPackage, []index.Doc{
		{ID: "pkg1", Content: "wire format parsing and checksums"},
		{ID: "pkg2", Content: "html page rendering"},
	}))

	// pkg1 is not offered, so choosing it is rejected.
	gw := &scriptedGateway{packages: reply(`{"packages":[{"package_name":"pkg1","rationale":"r"}]}`)}
	w := newWorkflow(t, st, gw, idx, map[string]any{
		"localization_input_budget": 12,
		"localization_max_attempts": 1,
	})

	_, err = w.Run(ctx, issue("html page rendering is broken"))
	require.ErrorIs(t, err, ErrLocalizationMalformed)
	require.NotEmpty(t, gw.prompts)
	assert.Contains(t, gw.prompts[0], "HTML page rendering.")
	assert.NotContains(t, gw.prompts[0], "Wire format parsing")
}

func TestParseDiffs(t *testing.T) {
	text := "```diff\ndiff --git a/src/x.go b/src/x.go\n--- a/src/x.go\n+++ b/src/x.go\n@@ -1 +1 @@\n-a\n+b\n```\n" +
		"```\n--- src/y.py\n+++ src/y.py\n@@ -1 +1 @@\n-a\n+b\n--- /dev/null\n+++ b/src/new.rs\n@@ -0,0 +1 @@\n+fn main() {}\n```\n" +
		"```go\nfunc untouched() {}\n```"

	diffs := ParseDiffs(text)
	require.Len(t, diffs, 3)
	assert.Equal(t, "src/x.go", diffs[0].FilePath)
	assert.Equal(t, "go", diffs[0].Language)
	assert.Equal(t, "src/y.py", diffs[1].FilePath)
	assert.Equal(t, "py", diffs[1].Language)
	assert.NotContains(t, diffs[1].Diff, "new.rs")
	assert.Equal(t, "src/new.rs", diffs[2].FilePath)
}

func TestParseDiffs_TopLevelDirectoryNamedA(t *testing.T) {
	text := "```diff\ndiff --git a/a/x.go b/a/x.go\n--- a/a/x.go\n+++ b/a/x.go\n@@ -1 +1 @@\n-a\n+b\n```\n" +
		"```\n--- a/b/y.go\n+++ b/b/y.go\n@@ -1 +1 @@\n-a\n+b\n```\n" +
		"```\n--- a/z.go\n+++ a/z.go\n@@ -1 +1 @@\n-a\n+b\n```\n"

	diffs := ParseDiffs(text)
	require.Len(t, diffs, 3)
	assert.Equal(t, "a/x.go", diffs[0].FilePath)
	assert.Equal(t, "b/y.go", diffs[1].FilePath)
	// Unprefixed headers keep the path as written.
	assert.Equal(t, "a/z.go", diffs[2].FilePath)
}

func TestProse(t *testing.T) {
	assert.Equal(t, "Before\nAfter", Prose("Before\n```go\ncode\n```\nAfter"))
}

func TestTranscript(t *testing.T) {
	got := Transcript([]Message{{Role: RoleUser, Content: " hi "}, {Content: "again"}, {Role: RoleAssistant, Content: "ok"}})
	assert.Equal(t, "user: hi\n\nuser: again\n\nassistant: ok", got)
}
