package workflows

import (
	"context"
	"fmt"
	"path"
	"regexp"
	"sort"
	"sync/atomic"

	"github.com/fyrsmithlabs/seagent/internal/config"
	"github.com/fyrsmithlabs/seagent/internal/llm"
	"github.com/fyrsmithlabs/seagent/internal/logging"
	"github.com/fyrsmithlabs/seagent/internal/onboard"
	"github.com/fyrsmithlabs/seagent/internal/repository"
	"github.com/fyrsmithlabs/seagent/internal/runtime"
	"github.com/fyrsmithlabs/seagent/internal/store"
)

var testRepo = repository.Descriptor{URL: "https://example.com/r", SrcFolder: "src"}

type mapAccessor map[string]string

func (m mapAccessor) ListFiles(_ context.Context, d repository.Descriptor) ([]string, error) {
	var out []string
	for p := range m {
		if d.Under(p) {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (m mapAccessor) GetContent(_ context.Context, _ repository.Descriptor, p string) (string, error) {
	c, ok := m[p]
	if !ok {
		return "", fmt.Errorf("%w: %s", repository.ErrPathNotFound, p)
	}
	return c, nil
}

type assistants map[string]*runtime.Assistant

func (a assistants) GetAssistant(_ context.Context, id string) (*runtime.Assistant, error) {
	if as, ok := a[id]; ok {
		return as, nil
	}
	return nil, fmt.Errorf("%w: assistant %q", runtime.ErrNotFound, id)
}

var (
	filePathRe    = regexp.MustCompile(`File Path: (\S+)`)
	packageNameRe = regexp.MustCompile(`Package Name: (\S+)`)
)

// newActivities returns activities over a three-file repository together
// with the store they write and a counter of model calls.
func newActivities() (*Activities, *store.Memory, *atomic.Int32) {
	cfg, err := config.DecodeAssistantConfig(config.GraphOnboard, map[string]any{"code_summary_model": "stub/summary"})
	if err != nil {
		panic(err)
	}
	calls := &atomic.Int32{}
	gateway := llm.GatewayFunc(func(_ context.Context, _, prompt string) (string, error) {
		calls.Add(1)
		if m := filePathRe.FindStringSubmatch(prompt); m != nil {
			name := path.Base(m[1])
			return fmt.Sprintf("# Semantic Summary\nSummary of %s.\n\n# Code Structures\n- Function `fn_%s`: does things.", m[1], name), nil
		}
		if m := packageNameRe.FindStringSubmatch(prompt); m != nil {
			return fmt.Sprintf("# %s\n\n## Semantic Summary\nThe %s package.", m[1], m[1]), nil
		}
		return "", fmt.Errorf("%w: unexpected prompt", llm.ErrGatewayError)
	})
	summaries := store.NewMemory()
	return &Activities{
		Assistants: assistants{
			"onboarder": {ID: "onboarder", GraphID: config.GraphOnboard, Config: cfg},
			"resolver":  {ID: "resolver", GraphID: config.GraphResolve},
		},
		Deps: onboard.Deps{
			Accessor: mapAccessor{
				"README.md":      "# outside src",
				"src/main.go":    "package main\n",
				"src/api/a.go":   "package api\n\nfunc A() {}\n",
				"src/api/b.go":   "package api\n\nfunc B() {}\n",
				"src/util/u.txt": "",
			},
			Store:   summaries,
			Gateway: gateway,
		},
		Logger: logging.NewNop(),
	}, summaries, calls
}
