package store

import (
	"context"
	"fmt"
	"sync"
)

// Memory is an in-process Store. Values are copied on the way in and out.
type Memory struct {
	mu       sync.RWMutex
	files    map[string]map[string]FileSummary
	packages map[string]map[string]PackageSummary
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		files:    make(map[string]map[string]FileSummary),
		packages: make(map[string]map[string]PackageSummary),
	}
}

func cloneFile(f FileSummary) FileSummary {
	f.Structures = append([]Structure(nil), f.Structures...)
	return f
}

func clonePackage(p PackageSummary) PackageSummary {
	p.Members = append([]string(nil), p.Members...)
	p.Dropped = append([]string(nil), p.Dropped...)
	return p
}

func (m *Memory) GetFile(ctx context.Context, scope, path string) (*FileSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.files[scope][path]
	if !ok {
		return nil, fmt.Errorf("%w: file %s", ErrNotFound, path)
	}
	f = cloneFile(f)
	return &f, nil
}

func (m *Memory) ListFiles(ctx context.Context, scope string) ([]FileSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]FileSummary, 0, len(m.files[scope]))
	for _, f := range m.files[scope] {
		out = append(out, cloneFile(f))
	}
	sortFiles(out)
	return out, nil
}

func (m *Memory) PutFiles(ctx context.Context, scope string, files []FileSummary) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.files[scope] == nil {
		m.files[scope] = make(map[string]FileSummary)
	}
	for _, f := range files {
		m.files[scope][f.FilePath] = cloneFile(f)
	}
	return nil
}

func (m *Memory) DeleteFiles(ctx context.Context, scope string, paths []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range paths {
		delete(m.files[scope], p)
	}
	return nil
}

func (m *Memory) GetPackage(ctx context.Context, scope, name string) (*PackageSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.packages[scope][name]
	if !ok {
		return nil, fmt.Errorf("%w: package %s", ErrNotFound, name)
	}
	p = clonePackage(p)
	return &p, nil
}

func (m *Memory) ListPackages(ctx context.Context, scope string) ([]PackageSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]PackageSummary, 0, len(m.packages[scope]))
	for _, p := range m.packages[scope] {
		out = append(out, clonePackage(p))
	}
	sortPackages(out)
	return out, nil
}

func (m *Memory) PutPackage(ctx context.Context, scope string, pkg PackageSummary) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.packages[scope] == nil {
		m.packages[scope] = make(map[string]PackageSummary)
	}
	m.packages[scope][pkg.PackageName] = clonePackage(pkg)
	return nil
}

func (m *Memory) DeletePackages(ctx context.Context, scope string, names []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, n := range names {
		delete(m.packages[scope], n)
	}
	return nil
}

func (m *Memory) DeleteScope(ctx context.Context, scope string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.files, scope)
	delete(m.packages, scope)
	return nil
}

func (m *Memory) Close() error { return nil }

var _ Store = (*Memory)(nil)
