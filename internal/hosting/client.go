// pattern: Imperative Shell

// Package hosting drives the code-hosting CLI (gh) for pull requests.
// Responses are mapped to a small status vocabulary and nothing more.
package hosting

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/schmug/karkinos/internal/gitcmd"
	"github.com/schmug/karkinos/internal/logging"
)

// Options configure a Client. Zero values mean gh, origin and a 30s cache.
type Options struct {
	Binary    string
	Remote    string
	StatusTTL time.Duration
}

// Client creates pull requests and reads their status through the same
// Command Runner used for git.
type Client struct {
	runner *gitcmd.Runner
	root   string
	opts   Options
	logger *logging.ScopedLogger

	mu    sync.Mutex
	cache map[string]cachedStatus
	now   func() time.Time
}

type cachedStatus struct {
	status PRStatus
	at     time.Time
}

func NewClient(runner *gitcmd.Runner, root string, opts Options, logger *logging.ScopedLogger) *Client {
	if opts.Binary == "" {
		opts.Binary = "gh"
	}
	if opts.Remote == "" {
		opts.Remote = "origin"
	}
	if opts.StatusTTL == 0 {
		opts.StatusTTL = 30 * time.Second
	}
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Client{
		runner: runner,
		root:   root,
		opts:   opts,
		logger: logger,
		cache:  make(map[string]cachedStatus),
		now:    time.Now,
	}
}

// PRRequest describes a pull request for an existing worker branch. An
// empty Title uses the subject of the branch's last commit.
type PRRequest struct {
	Branch    string `json:"branch" yaml:"branch"`
	Base      string `json:"base,omitempty" yaml:"base,omitempty"`
	Title     string `json:"title,omitempty" yaml:"title,omitempty"`
	Body      string `json:"body,omitempty" yaml:"body,omitempty"`
	AutoMerge bool   `json:"auto_merge" yaml:"auto_merge"`
}

// PullRequest is the result of CreatePR. AutoMergeError is set when the
// pull request was created but auto-merge could not be enabled.
type PullRequest struct {
	Branch         string `json:"branch" yaml:"branch"`
	URL            string `json:"url" yaml:"url"`
	Number         string `json:"number,omitempty" yaml:"number,omitempty"`
	Existing       bool   `json:"existing,omitempty" yaml:"existing,omitempty"`
	AutoMerge      bool   `json:"auto_merge" yaml:"auto_merge"`
	AutoMergeError string `json:"auto_merge_error,omitempty" yaml:"auto_merge_error,omitempty"`
}

// CreatePR pushes the branch and opens a pull request for it. When one is
// already open for the branch it is returned with Existing set.
func (c *Client) CreatePR(ctx context.Context, req PRRequest) (PullRequest, error) {
	if err := gitcmd.ValidateBranchName(req.Branch); err != nil {
		return PullRequest{}, err
	}
	if req.Base != "" {
		if err := gitcmd.ValidateBranchName(req.Base); err != nil {
			return PullRequest{}, err
		}
	}
	if err := gitcmd.ValidateRemote(c.opts.Remote); err != nil {
		return PullRequest{}, err
	}

	if url, ok := c.existing(ctx, req.Branch); ok {
		return PullRequest{Branch: req.Branch, URL: url, Number: prNumber(url), Existing: true}, nil
	}

	push := gitcmd.Git("push", "-u").EndOfOptions().Branch(c.opts.Remote).Branch(req.Branch)
	if _, err := c.runner.Git(ctx, c.root, push); err != nil {
		return PullRequest{}, fmt.Errorf("pushing %s: %w", req.Branch, err)
	}

	title := req.Title
	if title == "" {
		title = c.lastSubject(ctx, req.Branch)
	}
	args := []string{"pr", "create", "--head", req.Branch, "--title=" + title, "--body=" + req.Body}
	if req.Base != "" {
		args = append(args, "--base", req.Base)
	}
	res, err := c.runner.Run(ctx, c.root, c.opts.Binary, args...)
	if err != nil {
		return PullRequest{}, fmt.Errorf("creating pull request for %s: %w", req.Branch, err)
	}
	url := lastLine(res.Stdout)
	pr := PullRequest{Branch: req.Branch, URL: url, Number: prNumber(url)}
	c.forget(req.Branch)

	if req.AutoMerge && pr.Number != "" {
		if _, err := c.runner.Run(ctx, c.root, c.opts.Binary, "pr", "merge", pr.Number, "--auto", "--squash"); err != nil {
			pr.AutoMergeError = err.Error()
			c.logger.Warn("auto-merge not enabled", "branch", req.Branch, "pr", pr.Number, "error", err)
		} else {
			pr.AutoMerge = true
		}
	}
	c.logger.Info("pull request created", "branch", req.Branch, "url", pr.URL, "auto_merge", pr.AutoMerge)
	return pr, nil
}

func (c *Client) existing(ctx context.Context, branch string) (string, bool) {
	res, err := c.runner.Run(ctx, c.root, c.opts.Binary, "pr", "view", branch, "--json", "url")
	if err != nil {
		return "", false
	}
	var v struct {
		URL string `json:"url" yaml:"url"`
	}
	if json.Unmarshal([]byte(res.Stdout), &v) != nil || v.URL == "" {
		return "", false
	}
	return v.URL, true
}

func (c *Client) lastSubject(ctx context.Context, branch string) string {
	res, err := c.runner.Git(ctx, c.root, gitcmd.Git("log", "-1", "--format=%s").EndOfOptions().Rev(branch))
	if err != nil {
		return branch
	}
	if s := strings.TrimSpace(res.Stdout); s != "" {
		return s
	}
	return branch
}

// Status returns the pull request status for branch, reusing a recent
// answer within StatusTTL. A branch without a pull request reports none.
func (c *Client) Status(ctx context.Context, branch string) (PRStatus, error) {
	if err := gitcmd.ValidateBranchName(branch); err != nil {
		return PRStatus{}, err
	}

	c.mu.Lock()
	if cached, ok := c.cache[branch]; ok && c.now().Sub(cached.at) < c.opts.StatusTTL {
		c.mu.Unlock()
		return cached.status, nil
	}
	c.mu.Unlock()

	res, err := c.runner.Run(ctx, c.root, c.opts.Binary,
		"pr", "view", branch, "--json", "statusCheckRollup,reviewDecision,state")
	var status PRStatus
	switch {
	case err == nil:
		status, err = ParseStatus(branch, []byte(res.Stdout))
		if err != nil {
			return PRStatus{}, err
		}
	case isExit(err):
		status = PRStatus{Branch: branch, CI: CINone, Review: ReviewNone}
	default:
		return PRStatus{}, err
	}

	c.mu.Lock()
	c.cache[branch] = cachedStatus{status: status, at: c.now()}
	c.mu.Unlock()
	return status, nil
}

func (c *Client) forget(branch string) {
	c.mu.Lock()
	delete(c.cache, branch)
	c.mu.Unlock()
}

func isExit(err error) bool {
	var execErr *gitcmd.ExecutionError
	return errors.As(err, &execErr)
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}

// prNumber takes the trailing path segment of a pull request URL.
func prNumber(url string) string {
	url = strings.TrimRight(url, "/")
	i := strings.LastIndex(url, "/")
	if i < 0 || i == len(url)-1 {
		return ""
	}
	n := url[i+1:]
	for _, r := range n {
		if r < '0' || r > '9' {
			return ""
		}
	}
	return n
}
