package repository

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"

	"github.com/fyrsmithlabs/seagent/internal/config"
)

// GitAccessor clones repositories over https with go-git and reads the work
// tree. Clones are cached per descriptor and pulled on every listing.
type GitAccessor struct {
	workDir string
	token   config.Secret
	filter  *Filter
	depth   int

	mu     sync.Mutex
	clones map[string]string
	tmpDir string
}

// NewGitAccessor creates a git accessor. Clones go under workDir, or a
// temporary directory when workDir is empty.
func NewGitAccessor(workDir string, token config.Secret, filter *Filter) *GitAccessor {
	if filter == nil {
		filter = NewFilter(0, nil, nil)
	}
	return &GitAccessor{
		workDir: workDir,
		token:   token,
		filter:  filter,
		depth:   1,
		clones:  make(map[string]string),
	}
}

// ListFiles implements Accessor.
func (a *GitAccessor) ListFiles(ctx context.Context, d Descriptor) ([]string, error) {
	d = d.Normalize()
	dir, err := a.checkout(ctx, d, true)
	if err != nil {
		return nil, err
	}
	return walk(ctx, dir, d, a.filter)
}

// GetContent implements Accessor.
func (a *GitAccessor) GetContent(ctx context.Context, d Descriptor, path string) (string, error) {
	dir, err := a.checkout(ctx, d.Normalize(), false)
	if err != nil {
		return "", err
	}
	return readFile(dir, path)
}

// Admits implements PathChecker against the cached clone.
func (a *GitAccessor) Admits(ctx context.Context, d Descriptor, path string) (bool, error) {
	d = d.Normalize()
	dir, err := a.checkout(ctx, d, false)
	if err != nil {
		return false, err
	}
	return admitsInTree(dir, d, path, a.filter)
}

// Close removes every clone made by the accessor.
func (a *GitAccessor) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	var errs []error
	for key, dir := range a.clones {
		errs = append(errs, os.RemoveAll(dir))
		delete(a.clones, key)
	}
	if a.tmpDir != "" {
		errs = append(errs, os.RemoveAll(a.tmpDir))
		a.tmpDir = ""
	}
	return errors.Join(errs...)
}

func (a *GitAccessor) auth(ctx context.Context) *githttp.BasicAuth {
	token := credential(ctx, a.token)
	if !token.IsSet() {
		return nil
	}
	return &githttp.BasicAuth{Username: "x-access-token", Password: token.Value()}
}

// checkout returns the work tree for d, cloning it on first use. With
// refresh set, an existing clone is pulled first.
func (a *GitAccessor) checkout(ctx context.Context, d Descriptor, refresh bool) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	key := d.URL + "@" + d.Branch + "#" + d.Commit
	if dir, ok := a.clones[key]; ok {
		if !refresh || d.Commit != "" {
			return dir, nil
		}
		if err := a.pull(ctx, dir, d); err == nil {
			return dir, nil
		}
		// A failed pull leaves the clone in an unknown state; start over.
		_ = os.RemoveAll(dir)
		delete(a.clones, key)
	}

	base, err := a.baseDir()
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256([]byte(key))
	dir := filepath.Join(base, hex.EncodeToString(sum[:8]))
	if err := os.RemoveAll(dir); err != nil {
		return "", fmt.Errorf("clearing clone dir: %w", err)
	}

	if err := a.clone(ctx, dir, d); err != nil {
		_ = os.RemoveAll(dir)
		return "", err
	}
	a.clones[key] = dir
	return dir, nil
}

func (a *GitAccessor) baseDir() (string, error) {
	if a.workDir != "" {
		if err := os.MkdirAll(a.workDir, 0o755); err != nil {
			return "", fmt.Errorf("creating work dir: %w", err)
		}
		return a.workDir, nil
	}
	if a.tmpDir == "" {
		dir, err := os.MkdirTemp("", "seagent-clones-")
		if err != nil {
			return "", fmt.Errorf("creating temp dir: %w", err)
		}
		a.tmpDir = dir
	}
	return a.tmpDir, nil
}

func (a *GitAccessor) clone(ctx context.Context, dir string, d Descriptor) error {
	opts := &git.CloneOptions{
		URL:           d.URL,
		ReferenceName: plumbing.NewBranchReferenceName(d.Branch),
		SingleBranch:  true,
	}
	if auth := a.auth(ctx); auth != nil {
		opts.Auth = auth
	}
	// A pinned commit needs history to check it out.
	if d.Commit == "" {
		opts.Depth = a.depth
	}

	repo, err := git.PlainCloneContext(ctx, dir, false, opts)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: clone %s: %v", ErrRepoUnreachable, d.URL, err)
	}

	if d.Commit == "" {
		return nil
	}
	wt, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("%w: worktree: %v", ErrRepoUnreachable, err)
	}
	if err := wt.Checkout(&git.CheckoutOptions{Hash: plumbing.NewHash(d.Commit)}); err != nil {
		return fmt.Errorf("%w: checkout %s: %v", ErrRepoUnreachable, d.Commit, err)
	}
	return nil
}

func (a *GitAccessor) pull(ctx context.Context, dir string, d Descriptor) error {
	repo, err := git.PlainOpen(dir)
	if err != nil {
		return err
	}
	wt, err := repo.Worktree()
	if err != nil {
		return err
	}
	opts := &git.PullOptions{
		RemoteName:    git.DefaultRemoteName,
		ReferenceName: plumbing.NewBranchReferenceName(d.Branch),
		SingleBranch:  true,
		Depth:         a.depth,
	}
	if auth := a.auth(ctx); auth != nil {
		opts.Auth = auth
	}
	err = wt.PullContext(ctx, opts)
	if errors.Is(err, git.NoErrAlreadyUpToDate) {
		return nil
	}
	return err
}
