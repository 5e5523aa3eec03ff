package repository

import (
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
)

// DefaultBranch is used when a Descriptor leaves Branch empty.
const DefaultBranch = "main"

// Descriptor identifies the code universe an assistant works on.
type Descriptor struct {
	// URL of the repository. The scheme selects the accessor.
	URL string `json:"url"`

	// Branch to read. Defaults to "main".
	Branch string `json:"branch,omitempty"`

	// SrcFolder restricts onboarding to a subdirectory. Empty means the root.
	SrcFolder string `json:"src_folder,omitempty"`

	// Commit pins a specific revision. Only honored by the git accessor.
	Commit string `json:"commit,omitempty"`
}

// Normalize returns a copy with defaults applied and the source folder
// cleaned to a relative, slash separated form.
func (d Descriptor) Normalize() Descriptor {
	d.URL = strings.TrimSpace(d.URL)
	if d.Branch == "" {
		d.Branch = DefaultBranch
	}
	d.SrcFolder = cleanFolder(d.SrcFolder)
	return d
}

// Key is the Summary Store scope for the descriptor.
func (d Descriptor) Key() string {
	n := d.Normalize()
	return fmt.Sprintf("%s@%s:%s", n.URL, n.Branch, n.SrcFolder)
}

// Validate checks the URL and source folder.
func (d Descriptor) Validate() error {
	if strings.TrimSpace(d.URL) == "" {
		return errors.New("repository url is required")
	}
	u, err := url.Parse(d.URL)
	if err != nil {
		return fmt.Errorf("invalid repository url: %w", err)
	}
	switch u.Scheme {
	case SchemeFile, SchemeHTTPS, SchemeGitHub:
	default:
		return fmt.Errorf("unsupported repository scheme %q", u.Scheme)
	}
	for _, seg := range strings.Split(strings.ReplaceAll(d.SrcFolder, "\\", "/"), "/") {
		if seg == ".." {
			return fmt.Errorf("src_folder %q escapes the repository", d.SrcFolder)
		}
	}
	return nil
}

// Under reports whether a repository-relative path lies inside the source
// folder.
//
// p must already be clean: paths with "." or ".." segments, backslashes or a
// leading slash are never under the folder.
func (d Descriptor) Under(p string) bool {
	if clean, ok := CleanPath(p); !ok || clean != p {
		return false
	}
	folder := cleanFolder(d.SrcFolder)
	if folder == "" {
		return true
	}
	return strings.HasPrefix(p, folder+"/")
}

// CleanPath normalizes a repository path from an event or a request to the
// slash separated, relative form listings use. Absolute paths and paths with
// a ".." segment are rejected, whatever they would clean to.
func CleanPath(p string) (string, bool) {
	p = strings.ReplaceAll(strings.TrimSpace(p), "\\", "/")
	if p == "" || strings.HasPrefix(p, "/") {
		return "", false
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return "", false
		}
	}
	p = path.Clean(p)
	if p == "." {
		return "", false
	}
	return p, true
}

func cleanFolder(folder string) string {
	folder = strings.Trim(strings.ReplaceAll(folder, "\\", "/"), "/")
	if folder == "" {
		return ""
	}
	folder = path.Clean(folder)
	if folder == "." {
		return ""
	}
	return folder
}

// EventType distinguishes full onboarding from incremental updates.
type EventType string

const (
	EventOnboard EventType = "repo-onboard"
	EventUpdate  EventType = "repo-update"
)

// Event describes what changed in a repository since the last onboarding.
type Event struct {
	Type     EventType `json:"type"`
	Modified []string  `json:"modified,omitempty"`
	Deleted  []string  `json:"deleted,omitempty"`
}

// IsUpdate reports whether the event is an incremental update.
func (e *Event) IsUpdate() bool {
	return e != nil && e.Type == EventUpdate
}
