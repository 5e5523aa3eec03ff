// Package prompts provides the named, versioned prompt templates used by
// the onboarding and resolution workflows.
//
// Templates are TOML resources embedded in the binary and rendered with
// text/template. An assistant may replace any template's text; replacements
// use the same variables as the built-in template.
package prompts

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"text/template"

	"github.com/BurntSushi/toml"
)

// Template names.
const (
	FileSummary         = "file_summary"
	PackageSummary      = "package_summary"
	PackageLocalization = "package_localization"
	FileLocalization    = "file_localization"
	CodeSuggestions     = "code_suggestions"
)

// ErrUnknownPrompt is returned for a template name that is not registered.
var ErrUnknownPrompt = errors.New("unknown prompt")

//go:embed templates/*.toml
var builtin embed.FS

// Prompt is one template resource.
type Prompt struct {
	Name        string `toml:"name"`
	Version     int    `toml:"version"`
	Description string `toml:"description"`
	Template    string `toml:"template"`

	// Overridden is set when the text came from assistant configuration.
	Overridden bool `toml:"-"`

	tmpl *template.Template
}

// Registry holds parsed prompts by name. It is immutable once built.
type Registry struct {
	prompts map[string]*Prompt
}

// Load parses every *.toml file in fsys.
func Load(fsys fs.FS) (*Registry, error) {
	files, err := fs.Glob(fsys, "*.toml")
	if err != nil {
		return nil, err
	}
	r := &Registry{prompts: make(map[string]*Prompt)}
	for _, file := range files {
		data, err := fs.ReadFile(fsys, file)
		if err != nil {
			return nil, err
		}
		var p Prompt
		if _, err := toml.Decode(string(data), &p); err != nil {
			return nil, fmt.Errorf("decoding %s: %w", file, err)
		}
		if p.Name == "" {
			p.Name = strings.TrimSuffix(path.Base(file), ".toml")
		}
		if err := p.parse(); err != nil {
			return nil, err
		}
		r.prompts[p.Name] = &p
	}
	return r, nil
}

var defaultRegistry = func() *Registry {
	sub, err := fs.Sub(builtin, "templates")
	if err != nil {
		panic(err)
	}
	r, err := Load(sub)
	if err != nil {
		panic(fmt.Sprintf("prompts: built-in templates: %v", err))
	}
	return r
}()

// Default returns the registry of built-in templates.
func Default() *Registry {
	return defaultRegistry
}

func (p *Prompt) parse() error {
	t, err := template.New(p.Name).Option("missingkey=error").Parse(p.Template)
	if err != nil {
		return fmt.Errorf("parsing prompt %s: %w", p.Name, err)
	}
	p.tmpl = t
	return nil
}

// WithOverrides returns a registry in which the named templates are
// replaced. Empty override texts are ignored.
func (r *Registry) WithOverrides(overrides map[string]string) (*Registry, error) {
	out := &Registry{prompts: make(map[string]*Prompt, len(r.prompts))}
	for name, p := range r.prompts {
		out.prompts[name] = p
	}
	for name, text := range overrides {
		if strings.TrimSpace(text) == "" {
			continue
		}
		base, ok := r.prompts[name]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownPrompt, name)
		}
		p := &Prompt{
			Name:        name,
			Version:     base.Version,
			Description: base.Description,
			Template:    text,
			Overridden:  true,
		}
		if err := p.parse(); err != nil {
			return nil, err
		}
		out.prompts[name] = p
	}
	return out, nil
}

// Get returns the prompt registered under name.
func (r *Registry) Get(name string) (*Prompt, error) {
	p, ok := r.prompts[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPrompt, name)
	}
	return p, nil
}

// Names lists the registered prompts, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.prompts))
	for name := range r.prompts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Render executes the named template with vars.
func (r *Registry) Render(name string, vars any) (string, error) {
	p, err := r.Get(name)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := p.tmpl.Execute(&buf, vars); err != nil {
		return "", fmt.Errorf("rendering prompt %s: %w", name, err)
	}
	return strings.TrimSpace(buf.String()) + "\n", nil
}
