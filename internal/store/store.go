// Package store persists file and package summaries, scoped per repository.
//
// A scope is a repository.Descriptor key. Writes are last-writer-wins per
// key; PutFiles applies a batch atomically so a stage either commits all of
// its summaries or none.
package store

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"
)

// ErrNotFound is returned when a summary does not exist in the scope.
var ErrNotFound = errors.New("summary not found")

// Structure is a named code element described in a file summary.
type Structure struct {
	Name    string `json:"name"`
	Summary string `json:"summary"`
}

// FileSummary is the semantic summary of one source file.
type FileSummary struct {
	FilePath    string      `json:"file_path"`
	Summary     string      `json:"summary"`
	Structures  []Structure `json:"structures,omitempty"`
	ContentHash string      `json:"content_hash"`
	Partial     bool        `json:"partial,omitempty"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// StructureNames returns the names of the file's structures.
func (f FileSummary) StructureNames() []string {
	names := make([]string, 0, len(f.Structures))
	for _, s := range f.Structures {
		names = append(names, s.Name)
	}
	return names
}

// PackageSummary is the semantic summary of a group of files.
type PackageSummary struct {
	PackageName string    `json:"package_name"`
	Summary     string    `json:"summary"`
	Contains    string    `json:"contains"`
	Members     []string  `json:"members"`
	Dropped     []string  `json:"dropped,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ContainsList splits Contains into names.
func (p PackageSummary) ContainsList() []string {
	if strings.TrimSpace(p.Contains) == "" {
		return nil
	}
	parts := strings.Split(p.Contains, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Store is the Summary Store.
type Store interface {
	GetFile(ctx context.Context, scope, path string) (*FileSummary, error)
	ListFiles(ctx context.Context, scope string) ([]FileSummary, error)
	PutFiles(ctx context.Context, scope string, files []FileSummary) error
	DeleteFiles(ctx context.Context, scope string, paths []string) error

	GetPackage(ctx context.Context, scope, name string) (*PackageSummary, error)
	ListPackages(ctx context.Context, scope string) ([]PackageSummary, error)
	PutPackage(ctx context.Context, scope string, pkg PackageSummary) error
	DeletePackages(ctx context.Context, scope string, names []string) error

	// DeleteScope removes every summary of a repository.
	DeleteScope(ctx context.Context, scope string) error

	Close() error
}

func sortFiles(files []FileSummary) {
	sort.Slice(files, func(i, j int) bool { return files[i].FilePath < files[j].FilePath })
}

func sortPackages(pkgs []PackageSummary) {
	sort.Slice(pkgs, func(i, j int) bool { return pkgs[i].PackageName < pkgs[j].PackageName })
}
