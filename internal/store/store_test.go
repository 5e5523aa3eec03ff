package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const scope = "https://example.com/r@main:src"

func implementations(t *testing.T) map[string]Store {
	t.Helper()
	sqlite, err := NewSQLite(filepath.Join(t.TempDir(), "data", "summaries.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlite.Close() })
	return map[string]Store{"memory": NewMemory(), "sqlite": sqlite}
}

func sampleFile(path string) FileSummary {
	return FileSummary{
		FilePath:    path,
		Summary:     "# Semantic Summary\nDoes things.",
		Structures:  []Structure{{Name: "Handle", Summary: "handles"}},
		ContentHash: "abc",
		UpdatedAt:   time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func TestStore_Files(t *testing.T) {
	for name, s := range implementations(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, err := s.GetFile(ctx, scope, "src/a.go")
			require.ErrorIs(t, err, ErrNotFound)

			a, b := sampleFile("src/a.go"), sampleFile("src/b.go")
			b.Partial = true
			require.NoError(t, s.PutFiles(ctx, scope, []FileSummary{b, a}))

			got, err := s.GetFile(ctx, scope, "src/a.go")
			require.NoError(t, err)
			if diff := cmp.Diff(a, *got); diff != "" {
				t.Errorf("GetFile mismatch (-want +got):\n%s", diff)
			}

			list, err := s.ListFiles(ctx, scope)
			require.NoError(t, err)
			require.Len(t, list, 2)
			assert.Equal(t, "src/a.go", list[0].FilePath)
			assert.True(t, list[1].Partial)

			// Last writer wins.
			a.Summary = "rewritten"
			require.NoError(t, s.PutFiles(ctx, scope, []FileSummary{a}))
			got, err = s.GetFile(ctx, scope, "src/a.go")
			require.NoError(t, err)
			assert.Equal(t, "rewritten", got.Summary)

			// Other scopes are isolated.
			other, err := s.ListFiles(ctx, "other")
			require.NoError(t, err)
			assert.Empty(t, other)

			require.NoError(t, s.DeleteFiles(ctx, scope, []string{"src/a.go", "src/missing.go"}))
			list, err = s.ListFiles(ctx, scope)
			require.NoError(t, err)
			require.Len(t, list, 1)
			assert.Equal(t, "src/b.go", list[0].FilePath)
		})
	}
}

func TestStore_Packages(t *testing.T) {
	for name, s := range implementations(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			pkg := PackageSummary{
				PackageName: "api",
				Summary:     "HTTP API",
				Contains:    "Handle, Route",
				Members:     []string{"src/api/a.go", "src/api/b.go"},
				Dropped:     []string{"src/api/b.go"},
				UpdatedAt:   time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
			}
			require.NoError(t, s.PutPackage(ctx, scope, pkg))
			require.NoError(t, s.PutPackage(ctx, scope, PackageSummary{PackageName: "base", Members: []string{"src/main.go"}}))

			got, err := s.GetPackage(ctx, scope, "api")
			require.NoError(t, err)
			if diff := cmp.Diff(pkg, *got); diff != "" {
				t.Errorf("GetPackage mismatch (-want +got):\n%s", diff)
			}
			assert.Equal(t, []string{"Handle", "Route"}, got.ContainsList())

			list, err := s.ListPackages(ctx, scope)
			require.NoError(t, err)
			names := []string{list[0].PackageName, list[1].PackageName}
			assert.Equal(t, []string{"api", "base"}, names)

			require.NoError(t, s.DeletePackages(ctx, scope, []string{"api"}))
			_, err = s.GetPackage(ctx, scope, "api")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStore_DeleteScope(t *testing.T) {
	for name, s := range implementations(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.PutFiles(ctx, scope, []FileSummary{sampleFile("src/a.go")}))
			require.NoError(t, s.PutFiles(ctx, "keep", []FileSummary{sampleFile("src/a.go")}))
			require.NoError(t, s.PutPackage(ctx, scope, PackageSummary{PackageName: "base"}))

			require.NoError(t, s.DeleteScope(ctx, scope))

			files, err := s.ListFiles(ctx, scope)
			require.NoError(t, err)
			assert.Empty(t, files)
			pkgs, err := s.ListPackages(ctx, scope)
			require.NoError(t, err)
			assert.Empty(t, pkgs)

			kept, err := s.ListFiles(ctx, "keep")
			require.NoError(t, err)
			assert.Len(t, kept, 1)
		})
	}
}

func TestMemory_CopiesValues(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	f := sampleFile("src/a.go")
	require.NoError(t, m.PutFiles(ctx, scope, []FileSummary{f}))

	f.Structures[0].Name = "mutated"
	got, err := m.GetFile(ctx, scope, "src/a.go")
	require.NoError(t, err)
	assert.Equal(t, "Handle", got.Structures[0].Name)
}

func TestStore_PutFilesCancelled(t *testing.T) {
	for name, s := range implementations(t) {
		t.Run(name, func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			assert.Error(t, s.PutFiles(ctx, scope, []FileSummary{sampleFile("src/a.go")}))

			files, err := s.ListFiles(context.Background(), scope)
			require.NoError(t, err)
			assert.Empty(t, files)
		})
	}
}

func TestSQLite_CorruptTimestamp(t *testing.T) {
	s, err := NewSQLite(filepath.Join(t.TempDir(), "summaries.db"))
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.PutFiles(ctx, scope, []FileSummary{sampleFile("src/a.go")}))
	require.NoError(t, s.PutPackage(ctx, scope, PackageSummary{PackageName: "api", Summary: "api"}))
	_, err = s.db.ExecContext(ctx, `UPDATE file_summaries SET updated_at = 'yesterday'`)
	require.NoError(t, err)
	_, err = s.db.ExecContext(ctx, `UPDATE package_summaries SET updated_at = ''`)
	require.NoError(t, err)

	_, err = s.GetFile(ctx, scope, "src/a.go")
	assert.ErrorContains(t, err, "decoding updated_at of src/a.go")
	_, err = s.ListFiles(ctx, scope)
	assert.Error(t, err)
	_, err = s.GetPackage(ctx, scope, "api")
	assert.ErrorContains(t, err, "decoding updated_at of api")
}
