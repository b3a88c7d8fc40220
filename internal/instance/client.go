// pattern: Imperative Shell

package instance

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/schmug/karkinos/internal/conflict"
	"github.com/schmug/karkinos/internal/engine"
	"github.com/schmug/karkinos/internal/worktree"
)

// Client talks to a running karkinos server so that CLI mutations go
// through the process that holds the repository lock.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a Client targeting the given base URL.
func NewClient(baseURL string) *Client {
	return NewClientWithTimeout(baseURL, 30*time.Second)
}

// NewClientWithTimeout creates a Client with a custom timeout. Update with
// fetch can take a while on large repositories.
func NewClientWithTimeout(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// APIError is a non-2xx answer from the server. Conflicts is set when a
// create was blocked by the conflict gate.
type APIError struct {
	StatusCode int
	Message    string
	Conflicts  []conflict.Record
}

func (e *APIError) Error() string {
	return fmt.Sprintf("karkinos server returned status %d: %s", e.StatusCode, e.Message)
}

// List returns the workers; all includes the main worktree.
func (c *Client) List(ctx context.Context, all bool) ([]engine.Entry, error) {
	path := "/api/worktrees"
	if all {
		path += "?all=true"
	}
	var entries []engine.Entry
	return entries, c.do(ctx, http.MethodGet, path, nil, &entries)
}

// Create asks the server to create a worker.
func (c *Client) Create(ctx context.Context, req engine.CreateRequest) (engine.CreateResult, error) {
	var res engine.CreateResult
	return res, c.do(ctx, http.MethodPost, "/api/worktrees", req, &res)
}

// Details fetches the drill-down view of one worker.
func (c *Client) Details(ctx context.Context, branch string) (engine.Details, error) {
	var d engine.Details
	return d, c.do(ctx, http.MethodGet, "/api/worktrees/"+escapeBranch(branch), nil, &d)
}

// Remove asks the server to remove one worker.
func (c *Client) Remove(ctx context.Context, branch string, opts worktree.RemoveOptions) (worktree.RemovalResult, error) {
	q := url.Values{}
	if opts.Force {
		q.Set("force", "true")
	}
	if opts.KeepBranch {
		q.Set("keep_branch", "true")
	}
	if opts.DryRun {
		q.Set("dry_run", "true")
	}
	path := "/api/worktrees/" + escapeBranch(branch)
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var res worktree.RemovalResult
	return res, c.do(ctx, http.MethodDelete, path, nil, &res)
}

// Check runs a read-only conflict check on the server.
func (c *Client) Check(ctx context.Context, files []string) (engine.CheckResult, error) {
	var res engine.CheckResult
	return res, c.do(ctx, http.MethodPost, "/api/conflicts", map[string][]string{"files": files}, &res)
}

// Cleanup removes every merged worker through the server.
func (c *Client) Cleanup(ctx context.Context, opts worktree.CleanupOptions) (worktree.CleanupReport, error) {
	var report worktree.CleanupReport
	body := map[string]bool{"dry_run": opts.DryRun, "force": opts.Force}
	return report, c.do(ctx, http.MethodPost, "/api/cleanup", body, &report)
}

// Update brings every worker up to date through the server.
func (c *Client) Update(ctx context.Context, opts worktree.UpdateOptions) (worktree.UpdateReport, error) {
	var report worktree.UpdateReport
	body := map[string]bool{"dry_run": opts.DryRun, "merge": opts.Merge, "fetch": opts.Fetch}
	return report, c.do(ctx, http.MethodPost, "/api/update", body, &report)
}

// escapeBranch escapes each path segment of a branch name. The slashes stay
// since the server route matches the rest of the path.
func escapeBranch(branch string) string {
	return (&url.URL{Path: branch}).EscapedPath()
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to karkinos server: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeError(resp.StatusCode, respBody)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// decodeError builds an *APIError from a response body. A body that is not
// a JSON error object is used verbatim as the message.
func decodeError(status int, body []byte) error {
	var errResp struct {
		Error     string            `json:"error"`
		Conflicts []conflict.Record `json:"conflicts"`
	}
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error != "" {
		return &APIError{StatusCode: status, Message: errResp.Error, Conflicts: errResp.Conflicts}
	}
	return &APIError{StatusCode: status, Message: string(bytes.TrimSpace(body))}
}
