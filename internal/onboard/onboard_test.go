package onboard

import (
	"context"
	"errors"
	"fmt"
	"path"
	"regexp"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/seagent/internal/config"
	"github.com/fyrsmithlabs/seagent/internal/orchestrator"
	"github.com/fyrsmithlabs/seagent/internal/repository"
	"github.com/fyrsmithlabs/seagent/internal/store"
)

// fakeAccessor serves files from memory.
type fakeAccessor struct {
	mu    sync.Mutex
	files map[string]string
	err   error
}

func (a *fakeAccessor) ListFiles(_ context.Context, d repository.Descriptor) ([]string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return nil, a.err
	}
	var out []string
	for p := range a.files {
		if d.Under(p) {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (a *fakeAccessor) GetContent(_ context.Context, _ repository.Descriptor, p string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	c, ok := a.files[p]
	if !ok {
		return "", fmt.Errorf("%w: %s", repository.ErrPathNotFound, p)
	}
	return c, nil
}

func (a *fakeAccessor) set(p, content string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.files[p] = content
}

var (
	filePathRe    = regexp.MustCompile(`File Path: (\S+)`)
	packageNameRe = regexp.MustCompile(`Package Name: (\S+)`)
	structureRe   = regexp.MustCompile("`(fn_\\w+)`")
)

// summaryGateway answers file and package summary prompts the way a model
// following the templates would.
type summaryGateway struct {
	mu      sync.Mutex
	prompts []string
	hook    func(prompt string) error
}

func (g *summaryGateway) Complete(ctx context.Context, model, prompt string) (string, error) {
	g.mu.Lock()
	g.prompts = append(g.prompts, prompt)
	g.mu.Unlock()
	if g.hook != nil {
		if err := g.hook(prompt); err != nil {
			return "", err
		}
	}

	if m := filePathRe.FindStringSubmatch(prompt); m != nil {
		name := strings.TrimSuffix(path.Base(m[1]), path.Ext(m[1]))
		return fmt.Sprintf("```markdown\n# Semantic Summary\nSummary of %s.\n\n# Code Structures\n- Function `fn_%s`: does %s things.\n```", m[1], name, name), nil
	}
	if m := packageNameRe.FindStringSubmatch(prompt); m != nil {
		var names []string
		for _, s := range structureRe.FindAllStringSubmatch(prompt, -1) {
			names = append(names, "`"+s[1]+"`")
		}
		names = append(names, "`Invented`")
		return fmt.Sprintf("# %s\n\n## Semantic Summary\nThe %s package.\n\n## Contained code structure names\n%s", m[1], m[1], strings.Join(names, ", ")), nil
	}
	return "", errors.New("unexpected prompt")
}

func (g *summaryGateway) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.prompts)
}

func (g *summaryGateway) reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prompts = nil
}

var testRepo = repository.Descriptor{URL: "https://example.com/r", SrcFolder: "src"}

func sampleFiles() map[string]string {
	return map[string]string{
		"README.md":           "# readme outside src",
		"src/main.go":         "package main\n\nfunc main() {}\n",
		"src/empty.go":        "   \n",
		"src/api/handler.go":  "package api\n\nfunc Handle() {}\n",
		"src/api/routes.go":   "package api\n\nfunc Routes() {}\n",
		"src/util/strings.go": "package util\n\nfunc Reverse(s string) string { return s }\n",
	}
}

type fixture struct {
	accessor *fakeAccessor
	store    *store.Memory
	gateway  *summaryGateway
	workflow *Workflow
}

func newFixture(t *testing.T, overrides map[string]any) *fixture {
	t.Helper()
	raw := map[string]any{"code_summary_model": "stub/summary"}
	for k, v := range overrides {
		raw[k] = v
	}
	cfg, err := config.DecodeAssistantConfig(config.GraphOnboard, raw)
	require.NoError(t, err)

	f := &fixture{
		accessor: &fakeAccessor{files: sampleFiles()},
		store:    store.NewMemory(),
		gateway:  &summaryGateway{},
	}
	f.workflow, err = New(Deps{Accessor: f.accessor, Store: f.store, Gateway: f.gateway}, cfg)
	require.NoError(t, err)
	return f
}

func (f *fixture) keys(t *testing.T) ([]string, []string) {
	t.Helper()
	ctx := context.Background()
	files, err := f.store.ListFiles(ctx, testRepo.Key())
	require.NoError(t, err)
	pkgs, err := f.store.ListPackages(ctx, testRepo.Key())
	require.NoError(t, err)
	var fk, pk []string
	for _, fs := range files {
		fk = append(fk, fs.FilePath)
	}
	for _, p := range pkgs {
		pk = append(pk, p.PackageName)
	}
	return fk, pk
}

func TestNew_RequiresModel(t *testing.T) {
	_, err := New(Deps{Accessor: &fakeAccessor{}, Store: store.NewMemory(), Gateway: &summaryGateway{}}, config.AssistantConfig{})
	assert.ErrorIs(t, err, config.ErrConfigIncomplete)
}

func TestWorkflow_OnboardsRepository(t *testing.T) {
	f := newFixture(t, nil)
	report, err := f.workflow.Run(context.Background(), Input{Repo: testRepo})
	require.NoError(t, err)

	files, pkgs := f.keys(t)
	assert.Equal(t, []string{"src/api/handler.go", "src/api/routes.go", "src/main.go", "src/util/strings.go"}, files)
	assert.Equal(t, []string{"api", "base", "util"}, pkgs)

	assert.Equal(t, 5, report.FilesDiscovered)
	assert.Len(t, report.FilesSummarized, 4)
	assert.Equal(t, []string{"api", "base", "util"}, report.PackagesSummarized)
	assert.Equal(t, 7, f.gateway.calls())

	ctx := context.Background()
	handler, err := f.store.GetFile(ctx, testRepo.Key(), "src/api/handler.go")
	require.NoError(t, err)
	assert.Equal(t, []store.Structure{{Name: "fn_handler", Summary: "does handler things."}}, handler.Structures)
	assert.Equal(t, ContentHash(sampleFiles()["src/api/handler.go"]), handler.ContentHash)
	assert.False(t, handler.Partial)

	api, err := f.store.GetPackage(ctx, testRepo.Key(), "api")
	require.NoError(t, err)
	assert.Equal(t, []string{"fn_handler", "fn_routes"}, api.ContainsList())
	assert.Equal(t, []string{"src/api/handler.go", "src/api/routes.go"}, api.Members)
	assert.Empty(t, api.Dropped)
}

func TestWorkflow_Idempotent(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	_, err := f.workflow.Run(ctx, Input{Repo: testRepo})
	require.NoError(t, err)
	files1, pkgs1 := f.keys(t)

	f.gateway.reset()
	report, err := f.workflow.Run(ctx, Input{Repo: testRepo})
	require.NoError(t, err)
	assert.Zero(t, f.gateway.calls())
	assert.Empty(t, report.FilesSummarized)
	assert.Empty(t, report.PackagesSummarized)
	files2, pkgs2 := f.keys(t)
	assert.Equal(t, files1, files2)
	assert.Equal(t, pkgs1, pkgs2)

	// One changed file re-summarizes that file and its package only.
	f.accessor.set("src/util/strings.go", "package util\n\nfunc Reverse(s string) string { return \"\" }\n")
	f.gateway.reset()
	report, err = f.workflow.Run(ctx, Input{Repo: testRepo})
	require.NoError(t, err)
	assert.Equal(t, 2, f.gateway.calls())
	assert.Equal(t, []string{"src/util/strings.go"}, report.FilesSummarized)
	assert.Equal(t, []string{"util"}, report.PackagesSummarized)
}

func TestWorkflow_UpdateEvent(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	_, err := f.workflow.Run(ctx, Input{Repo: testRepo})
	require.NoError(t, err)

	f.accessor.set("src/api/new.go", "package api\n\nfunc New() {}\n")
	f.accessor.mu.Lock()
	delete(f.accessor.files, "src/util/strings.go")
	f.accessor.mu.Unlock()
	f.gateway.reset()

	report, err := f.workflow.Run(ctx, Input{
		Repo: testRepo,
		Event: repository.Event{
			Type:     repository.EventUpdate,
			Modified: []string{"src/api/new.go", "docs/ignored.md", "src/logo.png"},
			Deleted:  []string{"src/util"},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, 1, report.FilesDiscovered)
	assert.Equal(t, []string{"src/util/strings.go"}, report.FilesDeleted)
	assert.Equal(t, []string{"util"}, report.PackagesRemoved)
	assert.Equal(t, []string{"api"}, report.PackagesSummarized)
	assert.Equal(t, 2, f.gateway.calls())

	files, pkgs := f.keys(t)
	assert.Equal(t, []string{"src/api/handler.go", "src/api/new.go", "src/api/routes.go", "src/main.go"}, files)
	assert.Equal(t, []string{"api", "base"}, pkgs)

	api, err := f.store.GetPackage(ctx, testRepo.Key(), "api")
	require.NoError(t, err)
	assert.Contains(t, api.ContainsList(), "fn_new")
}

func TestWorkflow_UpdateBeforeOnboardListsEverything(t *testing.T) {
	f := newFixture(t, nil)
	report, err := f.workflow.Run(context.Background(), Input{
		Repo:  testRepo,
		Event: repository.Event{Type: repository.EventUpdate, Modified: []string{"src/main.go"}},
	})
	require.NoError(t, err)
	assert.Equal(t, 5, report.FilesDiscovered)
}

func TestWorkflow_RemovedFileDeletedOnFullOnboard(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	_, err := f.workflow.Run(ctx, Input{Repo: testRepo})
	require.NoError(t, err)

	f.accessor.mu.Lock()
	delete(f.accessor.files, "src/main.go")
	f.accessor.mu.Unlock()

	report, err := f.workflow.Run(ctx, Input{Repo: testRepo})
	require.NoError(t, err)
	assert.Equal(t, []string{"src/main.go"}, report.FilesDeleted)
	assert.Equal(t, []string{"base"}, report.PackagesRemoved)
}

func TestWorkflow_CancelledSummarizeWritesNothing(t *testing.T) {
	f := newFixture(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.gateway.hook = func(string) error {
		cancel()
		return context.Canceled
	}

	_, err := f.workflow.Run(ctx, Input{Repo: testRepo})
	require.ErrorIs(t, err, context.Canceled)
	stage, ok := orchestrator.FailedStage(err)
	require.True(t, ok)
	assert.Equal(t, orchestrator.StageSummarizeFiles, stage)

	files, pkgs := f.keys(t)
	assert.Empty(t, files)
	assert.Empty(t, pkgs)
}

func TestWorkflow_GatewayErrorFailsStage(t *testing.T) {
	f := newFixture(t, nil)
	boom := errors.New("model exploded")
	f.gateway.hook = func(prompt string) error {
		if strings.Contains(prompt, "Package Name:") {
			return boom
		}
		return nil
	}

	_, err := f.workflow.Run(context.Background(), Input{Repo: testRepo})
	require.ErrorIs(t, err, boom)
	stage, _ := orchestrator.FailedStage(err)
	assert.Equal(t, orchestrator.StageSummarizePackages, stage)

	// File summaries from the completed stage are kept.
	files, pkgs := f.keys(t)
	assert.Len(t, files, 4)
	assert.Empty(t, pkgs)

	// A later run picks up the stale packages without re-summarizing files.
	f.gateway.hook = nil
	f.gateway.reset()
	report, err := f.workflow.Run(context.Background(), Input{Repo: testRepo})
	require.NoError(t, err)
	assert.Empty(t, report.FilesSummarized)
	assert.Equal(t, []string{"api", "base", "util"}, report.PackagesSummarized)
}

func TestWorkflow_RepoUnreachable(t *testing.T) {
	f := newFixture(t, nil)
	f.accessor.err = fmt.Errorf("%w: dns failure", repository.ErrRepoUnreachable)

	_, err := f.workflow.Run(context.Background(), Input{Repo: testRepo})
	require.ErrorIs(t, err, repository.ErrRepoUnreachable)
	stage, _ := orchestrator.FailedStage(err)
	assert.Equal(t, orchestrator.StageDiscover, stage)
	assert.Zero(t, f.gateway.calls())
}

func TestWorkflow_TruncatesLargeFiles(t *testing.T) {
	f := newFixture(t, map[string]any{"file_token_budget": 5})
	report, err := f.workflow.Run(context.Background(), Input{Repo: testRepo})
	require.NoError(t, err)
	assert.NotEmpty(t, report.PartialFiles)

	got, err := f.store.GetFile(context.Background(), testRepo.Key(), report.PartialFiles[0])
	require.NoError(t, err)
	assert.True(t, got.Partial)
	assert.Contains(t, f.gateway.prompts[0], "truncated")
}

func TestTopLevelPackage(t *testing.T) {
	assert.Equal(t, "api", TopLevelPackage("src", "src/api/v1/h.go"))
	assert.Equal(t, "base", TopLevelPackage("src", "src/main.go"))
	assert.Equal(t, "cmd", TopLevelPackage("", "cmd/tool/main.go"))
	assert.Equal(t, "base", TopLevelPackage("", "main.go"))
}

func TestGroup(t *testing.T) {
	got := Group("src", []string{"src/b/x.go", "src/a.go", "src/b/a.go"}, TopLevelPackage)
	assert.Equal(t, map[string][]string{
		"base": {"src/a.go"},
		"b":    {"src/b/a.go", "src/b/x.go"},
	}, got)
}

func TestBuildPackageInput(t *testing.T) {
	members := []store.FileSummary{
		{FilePath: "src/p/long.go", Summary: "# Semantic Summary\n" + strings.Repeat("word ", 40)},
		{FilePath: "src/p/b.go", Summary: "short b"},
		{FilePath: "src/p/a.go", Summary: "short a"},
	}

	full := BuildPackageInput(members, 0)
	assert.Empty(t, full.Dropped)
	assert.True(t, strings.HasPrefix(full.Text, "# src/p/a.go\nshort a\n\n# src/p/b.go\nshort b\n\n# src/p/long.go\n## Semantic Summary"))
	assert.Equal(t, []string{"src/p/a.go", "src/p/b.go", "src/p/long.go"}, full.Members)

	// Shortest summaries go first, ties broken by path.
	tight := BuildPackageInput(members, 50)
	assert.Equal(t, []string{"src/p/a.go", "src/p/b.go"}, tight.Dropped)
	assert.NotContains(t, tight.Text, "short a")
	assert.Contains(t, tight.Text, "# src/p/long.go")
}

func TestDeriveContains(t *testing.T) {
	summary := "# api\n\n## Semantic Summary\nMentions `Other`.\n\n## Contained code structure names\n`Handle`, `Route`, `Ghost`, `Handle`"
	assert.Equal(t, []string{"Handle", "Route"}, DeriveContains(summary, []string{"Route", "Handle", "Other"}))

	plain := "## Contained code structure names\nHandle, Route"
	assert.Equal(t, []string{"Handle"}, DeriveContains(plain, []string{"Handle"}))
	assert.Empty(t, DeriveContains("nothing", []string{"Handle"}))
}

func TestParseStructures(t *testing.T) {
	summary := "# Semantic Summary\nParses.\n\n# Code Structures\n- Class `Parser`: parses input.\n- Function `parse`: entry point."
	assert.Equal(t, []store.Structure{
		{Name: "Parser", Summary: "parses input."},
		{Name: "parse", Summary: "entry point."},
	}, ParseStructures(summary))
	assert.Nil(t, ParseStructures("no sections"))
}
