// pattern: Imperative Shell

// Package mcp exposes the engine as tools over the Model Context Protocol
// so agents can inspect and coordinate workers themselves.
package mcp

import (
	"context"

	gomcp "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/schmug/karkinos/internal/engine"
	"github.com/schmug/karkinos/internal/hosting"
	"github.com/schmug/karkinos/internal/logging"
)

const serverInstructions = "You are running inside a repository managed by karkinos, which isolates each " +
	"agent in its own git worktree and branch. Before starting work, call karkinos_check_conflicts " +
	"with the files you intend to change; create workers with karkinos_create_worker and pass the same " +
	"files so the conflict gate can protect other agents. Merged workers can be removed with " +
	"karkinos_cleanup_workers."

// PullRequests opens pull requests for worker branches.
type PullRequests interface {
	CreatePR(ctx context.Context, req hosting.PRRequest) (hosting.PullRequest, error)
}

// Server wraps an MCP server bound to one engine.
type Server struct {
	server *mcpserver.MCPServer
	eng    *engine.Engine
	prs    PullRequests
	logger *logging.ScopedLogger
}

// NewServer registers every tool. prs may be nil, in which case
// karkinos_create_pr is not offered.
func NewServer(eng *engine.Engine, prs PullRequests, version string, logger *logging.ScopedLogger) *Server {
	if logger == nil {
		logger = logging.NopLogger()
	}
	s := &Server{
		server: mcpserver.NewMCPServer("karkinos", version, mcpserver.WithInstructions(serverInstructions)),
		eng:    eng,
		prs:    prs,
		logger: logger,
	}
	s.registerReadTools()
	s.registerWriteTools()
	logger.Info("mcp server created", "pr_tools", prs != nil)
	return s
}

func (s *Server) registerReadTools() {
	s.server.AddTool(gomcp.NewTool("karkinos_list_workers",
		gomcp.WithDescription("List active workers with ahead/behind counts, cleanliness and merge status "+
			"against the reference branch."),
		gomcp.WithBoolean("all", gomcp.Description("Include the main worktree.")),
		gomcp.WithReadOnlyHintAnnotation(true),
	), s.handleListWorkers)

	s.server.AddTool(gomcp.NewTool("karkinos_get_worker_details",
		gomcp.WithDescription("Status, commits and changed files of one worker."),
		gomcp.WithString("branch", gomcp.Required(), gomcp.Description("Worker branch or worktree path.")),
		gomcp.WithReadOnlyHintAnnotation(true),
	), s.handleGetDetails)

	s.server.AddTool(gomcp.NewTool("karkinos_check_conflicts",
		gomcp.WithDescription("Report which active workers already change any of the given files or globs. "+
			"Call this before starting work on a set of files."),
		gomcp.WithString("files", gomcp.Required(),
			gomcp.Description("Comma-separated repository-relative paths, directories or globs (e.g. src/api/**).")),
		gomcp.WithReadOnlyHintAnnotation(true),
	), s.handleCheckConflicts)

	s.server.AddTool(gomcp.NewTool("karkinos_read_file",
		gomcp.WithDescription("Read a file from a worker's checkout."),
		gomcp.WithString("branch", gomcp.Required(), gomcp.Description("Worker branch or worktree path.")),
		gomcp.WithString("path", gomcp.Required(), gomcp.Description("Path relative to the worktree root.")),
		gomcp.WithReadOnlyHintAnnotation(true),
	), s.handleReadFile)

	s.server.AddTool(gomcp.NewTool("karkinos_get_diff",
		gomcp.WithDescription("Patch of a worker's branch against the reference branch."),
		gomcp.WithString("branch", gomcp.Required(), gomcp.Description("Worker branch or worktree path.")),
		gomcp.WithString("file", gomcp.Description("Limit the diff to this file.")),
		gomcp.WithReadOnlyHintAnnotation(true),
	), s.handleGetDiff)
}

func (s *Server) registerWriteTools() {
	s.server.AddTool(gomcp.NewTool("karkinos_create_worker",
		gomcp.WithDescription("Create a worktree and branch for a new unit of work. When files are given "+
			"the worker is only created if no active worker already changes them."),
		gomcp.WithString("branch", gomcp.Description("Full branch name, e.g. feat/login.")),
		gomcp.WithString("kind", gomcp.Description("Branch kind (feat, fix, ...) used with slug instead of branch.")),
		gomcp.WithString("slug", gomcp.Description("Branch slug used with kind.")),
		gomcp.WithString("base", gomcp.Description("Start point; defaults to the reference branch.")),
		gomcp.WithString("files", gomcp.Description("Comma-separated files or globs the worker will change.")),
	), s.handleCreateWorker)

	s.server.AddTool(gomcp.NewTool("karkinos_remove_worker",
		gomcp.WithDescription("Remove a worker's worktree and branch. Unmerged or dirty workers are refused "+
			"unless force is set."),
		gomcp.WithString("branch", gomcp.Required(), gomcp.Description("Worker branch or worktree path.")),
		gomcp.WithBoolean("force", gomcp.Description("Remove even when unmerged or dirty.")),
		gomcp.WithBoolean("keep_branch", gomcp.Description("Remove only the worktree.")),
		gomcp.WithBoolean("dry_run", gomcp.Description("Report what would happen without changing anything.")),
	), s.handleRemoveWorker)

	s.server.AddTool(gomcp.NewTool("karkinos_cleanup_workers",
		gomcp.WithDescription("Remove every worker whose branch is merged into the reference branch."),
		gomcp.WithBoolean("dry_run", gomcp.Description("Report what would be removed.")),
		gomcp.WithBoolean("force", gomcp.Description("Also remove merged workers with uncommitted changes.")),
	), s.handleCleanup)

	s.server.AddTool(gomcp.NewTool("karkinos_update_branches",
		gomcp.WithDescription("Rebase (or merge) every clean worker onto the reference branch. "+
			"Without apply only reports what would change."),
		gomcp.WithBoolean("apply", gomcp.Description("Actually update the branches.")),
		gomcp.WithBoolean("merge", gomcp.Description("Merge instead of rebase.")),
		gomcp.WithBoolean("fetch", gomcp.Description("Fetch the remote first.")),
	), s.handleUpdateBranches)

	if s.prs != nil {
		s.server.AddTool(gomcp.NewTool("karkinos_create_pr",
			gomcp.WithDescription("Push a worker branch and open a pull request for it."),
			gomcp.WithString("branch", gomcp.Required(), gomcp.Description("Worker branch.")),
			gomcp.WithString("title", gomcp.Description("Title; defaults to the last commit subject.")),
			gomcp.WithString("body", gomcp.Description("Pull request body.")),
			gomcp.WithString("base", gomcp.Description("Target branch.")),
			gomcp.WithBoolean("auto_merge", gomcp.Description("Enable squash auto-merge. Defaults to true.")),
		), s.handleCreatePR)
	}
}

// MCPServer exposes the underlying server, e.g. for an in-process transport.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.server
}

// Serve blocks serving tools over stdio.
func (s *Server) Serve() error {
	return mcpserver.ServeStdio(s.server)
}

// Follow drops the engine's cached snapshot on every signal from changes,
// so a commit made by an agent shows in the next tool call. It returns when
// ctx is done or changes is closed.
func (s *Server) Follow(ctx context.Context, changes <-chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-changes:
			if !ok {
				return
			}
			s.eng.Invalidate()
			s.logger.Debug("snapshot invalidated by repository change")
		}
	}
}
