package repository

import (
	"path"
	"strings"

	"github.com/fyrsmithlabs/seagent/internal/ignore"
)

// DefaultMaxFileSize is applied when no limit is configured.
const DefaultMaxFileSize = 1024 * 1024

// defaultSkipDirs are directories that are never onboarded.
// These typically contain generated code, dependencies, or version control data.
var defaultSkipDirs = map[string]bool{
	".git":         true,
	".svn":         true,
	".hg":          true,
	"node_modules": true,
	"vendor":       true,
	".venv":        true,
	"venv":         true,
	"__pycache__":  true,
	".idea":        true,
	".vscode":      true,
	".cache":       true,
	"dist":         true,
	"build":        true,
	".next":        true,
	"target":       true, // Rust/Java build output
}

// mediaExtensions are image, audio and video files. They carry nothing a
// summary could use.
var mediaExtensions = map[string]bool{
	"png": true, "jpg": true, "jpeg": true, "gif": true, "bmp": true,
	"tiff": true, "svg": true, "ico": true, "webp": true,
	"mp3": true, "wav": true, "ogg": true, "flac": true, "aac": true, "m4a": true,
	"mp4": true, "mkv": true, "avi": true, "mov": true, "wmv": true, "flv": true, "webm": true,
}

// IsMedia reports whether the path has an image, audio or video extension.
func IsMedia(p string) bool {
	ext := strings.TrimPrefix(path.Ext(p), ".")
	return mediaExtensions[strings.ToLower(ext)]
}

// IsSkipDir reports whether a directory name is always skipped.
func IsSkipDir(name string) bool {
	return defaultSkipDirs[name]
}

// Filter decides which files an accessor returns.
type Filter struct {
	maxFileSize int64
	ignoreFiles []string
	exclude     []string
}

// NewFilter creates a filter. A zero maxFileSize uses DefaultMaxFileSize.
func NewFilter(maxFileSize int64, ignoreFiles, exclude []string) *Filter {
	if maxFileSize <= 0 {
		maxFileSize = DefaultMaxFileSize
	}
	return &Filter{maxFileSize: maxFileSize, ignoreFiles: ignoreFiles, exclude: exclude}
}

// Matcher loads ignore rules for a checkout. With an empty root only the
// configured exclude patterns apply.
func (f *Filter) Matcher(root string) (*ignore.Matcher, error) {
	if root == "" {
		return ignore.NewParser(nil, f.exclude).Load("")
	}
	return ignore.NewParser(f.ignoreFiles, f.exclude).Load(root)
}

// SkipDir reports whether the walk should not descend into rel.
func (f *Filter) SkipDir(rel string, m *ignore.Matcher) bool {
	return IsSkipDir(path.Base(rel)) || m.Ignored(rel, true)
}

// SkipFile reports whether a file is excluded. A negative size is unknown.
func (f *Filter) SkipFile(rel string, size int64, m *ignore.Matcher) bool {
	if IsMedia(rel) {
		return true
	}
	if size > f.maxFileSize {
		return true
	}
	for dir := path.Dir(rel); dir != "." && dir != "/"; dir = path.Dir(dir) {
		if IsSkipDir(path.Base(dir)) {
			return true
		}
	}
	return m.Ignored(rel, false)
}

// Admits reports whether rel would survive a listing of folder: no skipped
// or ignored directory between folder and rel, and the file itself passes
// SkipFile. A negative size is unknown.
func (f *Filter) Admits(folder, rel string, size int64, m *ignore.Matcher) bool {
	folder = cleanFolder(folder)
	for dir := path.Dir(rel); dir != "." && dir != "/" && dir != folder; dir = path.Dir(dir) {
		if f.SkipDir(dir, m) {
			return false
		}
	}
	return !f.SkipFile(rel, size, m)
}
