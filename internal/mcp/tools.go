// pattern: Imperative Shell

package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	gomcp "github.com/mark3labs/mcp-go/mcp"

	"github.com/schmug/karkinos/internal/engine"
	"github.com/schmug/karkinos/internal/hosting"
	"github.com/schmug/karkinos/internal/worktree"
)

func jsonResult(v any) (*gomcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return gomcp.NewToolResultError("failed to marshal result: " + err.Error()), nil
	}
	return gomcp.NewToolResultText(string(data)), nil
}

func (s *Server) toolError(tool string, err error) (*gomcp.CallToolResult, error) {
	s.logger.Warn("tool failed", "tool", tool, "error", err)
	var conflictErr *engine.ConflictError
	if errors.As(err, &conflictErr) {
		lines := make([]string, 0, len(conflictErr.Records))
		for _, r := range conflictErr.Records {
			verb := "is changed by"
			if r.Declared {
				verb = "is declared by"
			}
			lines = append(lines, fmt.Sprintf("%s (matched %s) %s %s", r.Path, r.Pattern, verb, r.Owner))
		}
		return gomcp.NewToolResultError("conflict: " + conflictErr.Branch + " was not created\n" + strings.Join(lines, "\n")), nil
	}
	return gomcp.NewToolResultError(err.Error()), nil
}

// splitList splits a comma-separated argument, dropping blanks.
func splitList(s string) []string {
	var out []string
	for _, f := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(f); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func (s *Server) handleListWorkers(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
	s.logger.Debug("tool call", "tool", "karkinos_list_workers")
	list := s.eng.Snapshot
	if req.GetBool("all", false) {
		list = s.eng.SnapshotAll
	}
	entries, err := list(ctx)
	if err != nil {
		return s.toolError("karkinos_list_workers", err)
	}
	if len(entries) == 0 {
		return gomcp.NewToolResultText("No active workers."), nil
	}
	return jsonResult(entries)
}

func (s *Server) handleGetDetails(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
	branch := req.GetString("branch", "")
	if branch == "" {
		return gomcp.NewToolResultError("missing required parameter: branch"), nil
	}
	d, err := s.eng.Details(ctx, branch)
	if err != nil {
		return s.toolError("karkinos_get_worker_details", err)
	}
	return jsonResult(d)
}

func (s *Server) handleCheckConflicts(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
	files := splitList(req.GetString("files", ""))
	if len(files) == 0 {
		return gomcp.NewToolResultError("missing required parameter: files"), nil
	}
	res, err := s.eng.Check(ctx, files)
	if err != nil {
		return s.toolError("karkinos_check_conflicts", err)
	}
	return jsonResult(res)
}

func (s *Server) handleReadFile(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
	branch := req.GetString("branch", "")
	path := req.GetString("path", "")
	if branch == "" || path == "" {
		return gomcp.NewToolResultError("missing required parameters: branch and path"), nil
	}
	data, err := s.eng.ReadFile(ctx, branch, path)
	if err != nil {
		return s.toolError("karkinos_read_file", err)
	}
	return gomcp.NewToolResultText(string(data)), nil
}

func (s *Server) handleGetDiff(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
	branch := req.GetString("branch", "")
	if branch == "" {
		return gomcp.NewToolResultError("missing required parameter: branch"), nil
	}
	patch, err := s.eng.Diff(ctx, branch, req.GetString("file", ""))
	if err != nil {
		return s.toolError("karkinos_get_diff", err)
	}
	if patch == "" {
		return gomcp.NewToolResultText("No changes."), nil
	}
	return gomcp.NewToolResultText(patch), nil
}

func (s *Server) handleCreateWorker(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
	create := engine.CreateRequest{
		Branch: req.GetString("branch", ""),
		Kind:   req.GetString("kind", ""),
		Slug:   req.GetString("slug", ""),
		Base:   req.GetString("base", ""),
		Files:  splitList(req.GetString("files", "")),
	}
	res, err := s.eng.CreateWorker(ctx, create)
	if err != nil {
		return s.toolError("karkinos_create_worker", err)
	}
	s.logger.Info("worker created", "branch", res.Branch, "path", res.Path)
	return jsonResult(res)
}

func (s *Server) handleRemoveWorker(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
	branch := req.GetString("branch", "")
	if branch == "" {
		return gomcp.NewToolResultError("missing required parameter: branch"), nil
	}
	res, err := s.eng.Remove(ctx, branch, worktree.RemoveOptions{
		Force:      req.GetBool("force", false),
		KeepBranch: req.GetBool("keep_branch", false),
		DryRun:     req.GetBool("dry_run", false),
	})
	if err != nil {
		return s.toolError("karkinos_remove_worker", err)
	}
	return jsonResult(res)
}

func (s *Server) handleCleanup(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
	report, err := s.eng.Cleanup(ctx, worktree.CleanupOptions{
		DryRun: req.GetBool("dry_run", false),
		Force:  req.GetBool("force", false),
	})
	if err != nil {
		return s.toolError("karkinos_cleanup_workers", err)
	}
	return jsonResult(report)
}

func (s *Server) handleUpdateBranches(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
	report, err := s.eng.UpdateBranches(ctx, worktree.UpdateOptions{
		DryRun: !req.GetBool("apply", false),
		Merge:  req.GetBool("merge", false),
		Fetch:  req.GetBool("fetch", false),
	})
	if err != nil {
		return s.toolError("karkinos_update_branches", err)
	}
	return jsonResult(report)
}

func (s *Server) handleCreatePR(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
	branch := req.GetString("branch", "")
	if branch == "" {
		return gomcp.NewToolResultError("missing required parameter: branch"), nil
	}
	if _, err := s.eng.Find(ctx, branch); err != nil {
		return s.toolError("karkinos_create_pr", err)
	}
	pr, err := s.prs.CreatePR(ctx, hosting.PRRequest{
		Branch:    branch,
		Base:      req.GetString("base", ""),
		Title:     req.GetString("title", ""),
		Body:      req.GetString("body", ""),
		AutoMerge: req.GetBool("auto_merge", true),
	})
	if err != nil {
		return s.toolError("karkinos_create_pr", err)
	}
	return jsonResult(pr)
}
