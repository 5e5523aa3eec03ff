// Package ignore decides which repository paths are excluded from
// onboarding, using gitignore semantics.
package ignore

import (
	"bufio"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-git/v5/plumbing/format/gitignore"
)

// Parser loads ignore rules for a repository checkout.
type Parser struct {
	// IgnoreFiles are read from the repository root, e.g. ".seagentignore".
	// ".gitignore" files are additionally read from every directory.
	IgnoreFiles []string

	// Extra patterns from configuration, in gitignore syntax.
	Extra []string
}

// NewParser creates a parser.
func NewParser(ignoreFiles, extra []string) *Parser {
	return &Parser{IgnoreFiles: ignoreFiles, Extra: extra}
}

// Matcher answers whether a slash-separated path relative to the
// repository root is ignored.
type Matcher struct {
	m gitignore.Matcher
}

// Ignored reports whether rel is excluded.
func (m *Matcher) Ignored(rel string, isDir bool) bool {
	if m == nil || m.m == nil {
		return false
	}
	return m.m.Match(strings.Split(filepath.ToSlash(rel), "/"), isDir)
}

// Load builds a Matcher for the checkout at root. Later patterns win, so
// configuration patterns are applied after the repository's own files.
func (p *Parser) Load(root string) (*Matcher, error) {
	var patterns []gitignore.Pattern

	for _, name := range p.IgnoreFiles {
		if name == ".gitignore" {
			nested, err := gitignore.ReadPatterns(osfs.New(root), nil)
			if err != nil {
				return nil, err
			}
			patterns = append(patterns, nested...)
			continue
		}
		lines, err := readLines(filepath.Join(root, name))
		if err != nil {
			return nil, err
		}
		for _, line := range lines {
			patterns = append(patterns, gitignore.ParsePattern(line, nil))
		}
	}

	for _, line := range p.Extra {
		if line = strings.TrimSpace(line); line != "" && !strings.HasPrefix(line, "#") {
			patterns = append(patterns, gitignore.ParsePattern(line, nil))
		}
	}

	return &Matcher{m: gitignore.NewMatcher(patterns)}, nil
}

// readLines returns the pattern lines of an ignore file, or nothing when the
// file does not exist.
func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), " \t")
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}
	return lines, scanner.Err()
}
