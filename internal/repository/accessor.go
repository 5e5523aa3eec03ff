package repository

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"

	"github.com/fyrsmithlabs/seagent/internal/config"
)

var (
	// ErrRepoUnreachable means the repository could not be opened or fetched.
	ErrRepoUnreachable = errors.New("repository unreachable")

	// ErrPathNotFound means the source folder or a file does not exist.
	ErrPathNotFound = errors.New("path not found")
)

// URL schemes understood by the Router.
const (
	SchemeFile   = "file"
	SchemeHTTPS  = "https"
	SchemeGitHub = "github"
)

// Accessor lists and reads source files of a repository.
type Accessor interface {
	// ListFiles returns every source path under the descriptor's source
	// folder, relative to the repository root and sorted.
	ListFiles(ctx context.Context, d Descriptor) ([]string, error)

	// GetContent returns the content of one repository-relative path.
	GetContent(ctx context.Context, d Descriptor, path string) (string, error)
}

// PathChecker is implemented by accessors that can tell whether a single
// path would appear in ListFiles without listing the repository. Update
// events use it so they agree with full onboarding.
type PathChecker interface {
	Admits(ctx context.Context, d Descriptor, path string) (bool, error)
}

type credentialKey struct{}

// WithCredential attaches an access token for repository reads. It takes
// precedence over the configured token.
func WithCredential(ctx context.Context, token config.Secret) context.Context {
	if !token.IsSet() {
		return ctx
	}
	return context.WithValue(ctx, credentialKey{}, token)
}

// CredentialFromContext returns the token set by WithCredential.
func CredentialFromContext(ctx context.Context) (config.Secret, bool) {
	token, ok := ctx.Value(credentialKey{}).(config.Secret)
	return token, ok
}

func credential(ctx context.Context, fallback config.Secret) config.Secret {
	if token, ok := CredentialFromContext(ctx); ok {
		return token
	}
	return fallback
}

// Options configures the accessors built by NewRouter.
type Options struct {
	WorkDir     string
	MaxFileSize int64
	IgnoreFiles []string
	Exclude     []string
	Token       config.Secret
}

// OptionsFromConfig maps the service configuration.
func OptionsFromConfig(cfg config.RepositoryConfig) Options {
	return Options{
		WorkDir:     cfg.WorkDir,
		MaxFileSize: cfg.MaxFileSize,
		IgnoreFiles: cfg.IgnoreFiles,
		Exclude:     cfg.Exclude,
		Token:       cfg.GitHubToken,
	}
}

// Router dispatches to an Accessor by URL scheme.
type Router struct {
	mu        sync.RWMutex
	accessors map[string]Accessor
}

// NewRouter creates a router with the local, git and GitHub accessors.
func NewRouter(opts Options) *Router {
	filter := NewFilter(opts.MaxFileSize, opts.IgnoreFiles, opts.Exclude)
	r := &Router{accessors: make(map[string]Accessor)}
	r.Register(SchemeFile, NewLocalAccessor(filter))
	r.Register(SchemeHTTPS, NewGitAccessor(opts.WorkDir, opts.Token, filter))
	r.Register(SchemeGitHub, NewGitHubAccessor(opts.Token, filter))
	return r
}

// Register sets the accessor for a scheme, replacing any existing one.
func (r *Router) Register(scheme string, a Accessor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.accessors[scheme] = a
}

func (r *Router) route(d Descriptor) (Accessor, error) {
	u, err := url.Parse(d.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRepoUnreachable, err)
	}
	r.mu.RLock()
	a, ok := r.accessors[u.Scheme]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: no accessor for scheme %q", ErrRepoUnreachable, u.Scheme)
	}
	return a, nil
}

// ListFiles implements Accessor.
func (r *Router) ListFiles(ctx context.Context, d Descriptor) ([]string, error) {
	a, err := r.route(d)
	if err != nil {
		return nil, err
	}
	return a.ListFiles(ctx, d.Normalize())
}

// GetContent implements Accessor.
func (r *Router) GetContent(ctx context.Context, d Descriptor, path string) (string, error) {
	a, err := r.route(d)
	if err != nil {
		return "", err
	}
	return a.GetContent(ctx, d.Normalize(), path)
}

// Admits implements PathChecker. Paths outside the source folder are never
// admitted; accessors without their own check admit the rest.
func (r *Router) Admits(ctx context.Context, d Descriptor, path string) (bool, error) {
	d = d.Normalize()
	if !d.Under(path) {
		return false, nil
	}
	a, err := r.route(d)
	if err != nil {
		return false, err
	}
	if c, ok := a.(PathChecker); ok {
		return c.Admits(ctx, d, path)
	}
	return true, nil
}

// GitHub returns the accessor serving github:// URLs.
func (r *Router) GitHub() (*GitHubAccessor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.accessors[SchemeGitHub].(*GitHubAccessor)
	return a, ok
}

// Close releases accessor resources such as cloned work trees.
func (r *Router) Close() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var errs []error
	for _, a := range r.accessors {
		if c, ok := a.(interface{ Close() error }); ok {
			errs = append(errs, c.Close())
		}
	}
	return errors.Join(errs...)
}
