package repository

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/google/go-github/v57/github"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/fyrsmithlabs/seagent/internal/config"
	"github.com/fyrsmithlabs/seagent/internal/logging"
)

// GitHubAccessor reads repositories through the GitHub REST API
// (github://owner/repo URLs). Nothing is cloned, which suits incremental
// updates that touch a handful of files.
type GitHubAccessor struct {
	token   config.Secret
	filter  *Filter
	baseURL *url.URL
	retry   RetryConfig
}

// NewGitHubAccessor creates a GitHub accessor.
func NewGitHubAccessor(token config.Secret, filter *Filter) *GitHubAccessor {
	if filter == nil {
		filter = NewFilter(0, nil, nil)
	}
	return &GitHubAccessor{token: token, filter: filter, retry: DefaultRetryConfig()}
}

// WithBaseURL points the accessor at a GitHub Enterprise or test server.
// The URL must end with a slash.
func (a *GitHubAccessor) WithBaseURL(u *url.URL) *GitHubAccessor {
	a.baseURL = u
	return a
}

// WithRetry replaces the retry configuration.
func (a *GitHubAccessor) WithRetry(cfg RetryConfig) *GitHubAccessor {
	a.retry = cfg
	return a
}

func (a *GitHubAccessor) client(ctx context.Context) *github.Client {
	var hc *http.Client
	if token := credential(ctx, a.token); token.IsSet() {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token.Value()})
		hc = oauth2.NewClient(ctx, ts)
	}
	c := github.NewClient(hc)
	if a.baseURL != nil {
		c.BaseURL = a.baseURL
	}
	return c
}

// ownerRepo splits github://owner/repo.
func ownerRepo(rawURL string) (string, string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrRepoUnreachable, err)
	}
	repo := strings.Trim(strings.TrimSuffix(u.Path, ".git"), "/")
	if u.Scheme != SchemeGitHub || u.Host == "" || repo == "" || strings.Contains(repo, "/") {
		return "", "", fmt.Errorf("%w: expected github://owner/repo, got %s", ErrRepoUnreachable, rawURL)
	}
	return u.Host, repo, nil
}

func ref(d Descriptor) string {
	if d.Commit != "" {
		return d.Commit
	}
	return d.Branch
}

// ListFiles implements Accessor.
func (a *GitHubAccessor) ListFiles(ctx context.Context, d Descriptor) ([]string, error) {
	d = d.Normalize()
	owner, repo, err := ownerRepo(d.URL)
	if err != nil {
		return nil, err
	}
	matcher, err := a.filter.Matcher("")
	if err != nil {
		return nil, err
	}

	client := a.client(ctx)
	var tree *github.Tree
	_, err = withGitHubRetry(ctx, a.retry, func() (*github.Response, error) {
		var resp *github.Response
		var err error
		tree, resp, err = client.Git.GetTree(ctx, owner, repo, ref(d), true)
		return resp, err
	})
	if err != nil {
		return nil, classifyGitHubError(ctx, err, d.URL)
	}
	if tree.GetTruncated() {
		logging.FromContext(ctx).Warn(ctx, "github tree listing truncated",
			zap.String("repo", owner+"/"+repo), zap.Int("entries", len(tree.Entries)))
	}

	var paths []string
	sawFolder := d.SrcFolder == ""
	for _, e := range tree.Entries {
		p := e.GetPath()
		if e.GetType() == "tree" && p == d.SrcFolder {
			sawFolder = true
		}
		if e.GetType() != "blob" || !d.Under(p) {
			continue
		}
		sawFolder = true
		if a.filter.SkipFile(p, int64(e.GetSize()), matcher) {
			continue
		}
		paths = append(paths, p)
	}
	if !sawFolder {
		return nil, fmt.Errorf("%w: src_folder %q", ErrPathNotFound, d.SrcFolder)
	}
	sort.Strings(paths)
	return paths, nil
}

// Admits implements PathChecker by name alone; sizes are not fetched.
func (a *GitHubAccessor) Admits(_ context.Context, d Descriptor, path string) (bool, error) {
	d = d.Normalize()
	if !d.Under(path) {
		return false, nil
	}
	matcher, err := a.filter.Matcher("")
	if err != nil {
		return false, err
	}
	return !a.filter.SkipFile(path, -1, matcher), nil
}

// GetContent implements Accessor.
func (a *GitHubAccessor) GetContent(ctx context.Context, d Descriptor, path string) (string, error) {
	d = d.Normalize()
	owner, repo, err := ownerRepo(d.URL)
	if err != nil {
		return "", err
	}

	client := a.client(ctx)
	var file *github.RepositoryContent
	_, err = withGitHubRetry(ctx, a.retry, func() (*github.Response, error) {
		var resp *github.Response
		var err error
		file, _, resp, err = client.Repositories.GetContents(ctx, owner, repo, path,
			&github.RepositoryContentGetOptions{Ref: ref(d)})
		return resp, err
	})
	if err != nil {
		if notFound(err) {
			return "", fmt.Errorf("%w: %s", ErrPathNotFound, path)
		}
		return "", classifyGitHubError(ctx, err, d.URL)
	}
	if file == nil {
		return "", fmt.Errorf("%w: %s is a directory", ErrPathNotFound, path)
	}
	content, err := file.GetContent()
	if err != nil {
		return "", fmt.Errorf("decoding %s: %w", path, err)
	}
	return content, nil
}

func notFound(err error) bool {
	var ghErr *github.ErrorResponse
	return errors.As(err, &ghErr) && ghErr.Response != nil && ghErr.Response.StatusCode == http.StatusNotFound
}

func classifyGitHubError(ctx context.Context, err error, repoURL string) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return fmt.Errorf("%w: %s: %v", ErrRepoUnreachable, repoURL, err)
}

// PostIssueComment adds a comment to issue number of owner/repo. It is not
// retried: a comment that reached GitHub before a failure would be posted
// twice.
func (a *GitHubAccessor) PostIssueComment(ctx context.Context, owner, repo string, number int, body string) error {
	if owner == "" || repo == "" || number <= 0 {
		return fmt.Errorf("invalid issue %s/%s#%d", owner, repo, number)
	}
	_, _, err := a.client(ctx).Issues.CreateComment(ctx, owner, repo, number, &github.IssueComment{Body: &body})
	if err != nil {
		return classifyGitHubError(ctx, err, "github://"+owner+"/"+repo)
	}
	return nil
}
