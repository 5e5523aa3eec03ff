package repository

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"
)

// LocalAccessor reads a checkout on the local filesystem (file:// URLs).
type LocalAccessor struct {
	filter *Filter
}

// NewLocalAccessor creates a local accessor.
func NewLocalAccessor(filter *Filter) *LocalAccessor {
	if filter == nil {
		filter = NewFilter(0, nil, nil)
	}
	return &LocalAccessor{filter: filter}
}

// ListFiles implements Accessor.
func (a *LocalAccessor) ListFiles(ctx context.Context, d Descriptor) ([]string, error) {
	root, err := localRoot(d.URL)
	if err != nil {
		return nil, err
	}
	return walk(ctx, root, d.Normalize(), a.filter)
}

// GetContent implements Accessor.
func (a *LocalAccessor) GetContent(ctx context.Context, d Descriptor, path string) (string, error) {
	root, err := localRoot(d.URL)
	if err != nil {
		return "", err
	}
	return readFile(root, path)
}

// Admits implements PathChecker.
func (a *LocalAccessor) Admits(_ context.Context, d Descriptor, path string) (bool, error) {
	root, err := localRoot(d.URL)
	if err != nil {
		return false, err
	}
	return admitsInTree(root, d.Normalize(), path, a.filter)
}

// admitsInTree applies the listing rules of walk to one path of a checkout.
// A path that no longer exists is judged by name alone.
func admitsInTree(root string, d Descriptor, rel string, filter *Filter) (bool, error) {
	if !d.Under(rel) {
		return false, nil
	}
	matcher, err := filter.Matcher(root)
	if err != nil {
		return false, fmt.Errorf("loading ignore rules: %w", err)
	}
	full := filepath.Join(root, filepath.FromSlash(rel))
	size := int64(-1)
	if info, err := os.Stat(full); err == nil {
		if !info.Mode().IsRegular() {
			return false, nil
		}
		size = info.Size()
		if !filter.Admits(d.SrcFolder, rel, size, matcher) {
			return false, nil
		}
		return isText(full), nil
	}
	return filter.Admits(d.SrcFolder, rel, size, matcher), nil
}

// localRoot resolves a file:// URL to a directory that must exist.
func localRoot(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRepoUnreachable, err)
	}
	if u.Scheme != SchemeFile {
		return "", fmt.Errorf("%w: not a file url: %s", ErrRepoUnreachable, rawURL)
	}
	return validateRoot(filepath.Clean(filepath.FromSlash(u.Host + u.Path)))
}

// validateRoot checks that a repository root is an existing directory.
func validateRoot(root string) (string, error) {
	if root == "" {
		return "", fmt.Errorf("%w: empty path", ErrRepoUnreachable)
	}
	info, err := os.Stat(root)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: path does not exist: %s", ErrRepoUnreachable, root)
		}
		return "", fmt.Errorf("%w: stat path: %v", ErrRepoUnreachable, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%w: path must be a directory: %s", ErrRepoUnreachable, root)
	}
	return root, nil
}

// walk lists the files under the descriptor's source folder of a checkout.
func walk(ctx context.Context, root string, d Descriptor, filter *Filter) ([]string, error) {
	matcher, err := filter.Matcher(root)
	if err != nil {
		return nil, fmt.Errorf("loading ignore rules: %w", err)
	}

	start := filepath.Join(root, filepath.FromSlash(d.SrcFolder))
	info, err := os.Stat(start)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: src_folder %q", ErrPathNotFound, d.SrcFolder)
	}

	var paths []string
	err = filepath.WalkDir(start, func(filePath string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		// Check context cancellation
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		rel, err := filepath.Rel(root, filePath)
		if err != nil {
			return fmt.Errorf("computing relative path: %w", err)
		}
		rel = filepath.ToSlash(rel)

		if entry.IsDir() {
			if filePath != start && filter.SkipDir(rel, matcher) {
				return filepath.SkipDir
			}
			return nil
		}
		if !entry.Type().IsRegular() {
			return nil
		}

		info, err := entry.Info()
		if err != nil {
			return err
		}
		if filter.SkipFile(rel, info.Size(), matcher) {
			return nil
		}
		if !isText(filePath) {
			return nil
		}

		paths = append(paths, rel)
		return nil
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, fmt.Errorf("walking file tree: %w", err)
	}

	sort.Strings(paths)
	return paths, nil
}

// isText samples the head of a file and rejects invalid UTF-8.
func isText(filePath string) bool {
	f, err := os.Open(filePath)
	if err != nil {
		return false
	}
	defer f.Close()

	const sampleSize = 8192
	buf := make([]byte, sampleSize)
	n, _ := io.ReadFull(f, buf)
	buf = buf[:n]
	if utf8.Valid(buf) {
		return true
	}
	if n < sampleSize {
		return false
	}
	// A multi-byte rune may be cut at the sample boundary.
	for i := 1; i < utf8.UTFMax; i++ {
		if utf8.Valid(buf[:n-i]) {
			return true
		}
	}
	return false
}

// readFile reads a repository-relative path, refusing paths that escape root.
func readFile(root, rel string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(rel))
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s escapes the repository", ErrPathNotFound, rel)
	}
	content, err := os.ReadFile(filepath.Join(root, clean))
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", ErrPathNotFound, rel)
		}
		return "", fmt.Errorf("reading file %s: %w", rel, err)
	}
	return string(content), nil
}
