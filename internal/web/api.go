// pattern: Imperative Shell

package web

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/schmug/karkinos/internal/conflict"
	"github.com/schmug/karkinos/internal/engine"
	"github.com/schmug/karkinos/internal/gitcmd"
	"github.com/schmug/karkinos/internal/worktree"
)

const maxBodyBytes = 1 << 20

// ErrorResponse is the body of every non-2xx answer. Conflicts lists the
// overlapping files when a create was blocked.
type ErrorResponse struct {
	Error     string            `json:"error"`
	Conflicts []conflict.Record `json:"conflicts,omitempty"`
}

// CheckRequest is the body of POST /api/conflicts.
type CheckRequest struct {
	Files []string `json:"files"`
}

// CleanupRequest is the body of POST /api/cleanup.
type CleanupRequest struct {
	DryRun bool `json:"dry_run"`
	Force  bool `json:"force"`
}

// UpdateRequest is the body of POST /api/update.
type UpdateRequest struct {
	DryRun bool `json:"dry_run"`
	Merge  bool `json:"merge"`
	Fetch  bool `json:"fetch"`
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response with the given status code and message.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}

// writeEngineError maps engine errors onto status codes.
func writeEngineError(w http.ResponseWriter, err error) {
	var conflictErr *engine.ConflictError
	if errors.As(err, &conflictErr) {
		writeJSON(w, http.StatusConflict, ErrorResponse{Error: err.Error(), Conflicts: conflictErr.Records})
		return
	}
	writeError(w, StatusFor(err), err.Error())
}

// StatusFor returns the HTTP status for an engine error.
func StatusFor(err error) int {
	var (
		invalid    *gitcmd.InvalidNameError
		pattern    *conflict.PatternError
		notFound   *worktree.NotFoundError
		exists     *worktree.AlreadyExistsError
		unmerged   *worktree.UnmergedBranchError
		dirty      *worktree.DirtyWorktreeError
		protected  *worktree.ProtectedWorktreeError
		orphaned   *worktree.OrphanedEntryError
		conflicted *engine.ConflictError
	)
	switch {
	case errors.As(err, &invalid), errors.As(err, &pattern):
		return http.StatusBadRequest
	case errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.As(err, &protected):
		return http.StatusForbidden
	case errors.As(err, &exists), errors.As(err, &unmerged), errors.As(err, &dirty), errors.As(err, &conflicted):
		return http.StatusConflict
	case errors.As(err, &orphaned):
		return http.StatusGone
	default:
		return http.StatusInternalServerError
	}
}

// decodeBody decodes an optional JSON body into v; an empty body leaves v
// untouched.
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func queryBool(r *http.Request, name string) bool {
	v, _ := strconv.ParseBool(r.URL.Query().Get(name))
	return v
}

// handleListWorktrees handles GET /api/worktrees. ?all=true includes the
// main worktree.
func (s *Server) handleListWorktrees(w http.ResponseWriter, r *http.Request) {
	list := s.eng.Snapshot
	if queryBool(r, "all") {
		list = s.eng.SnapshotAll
	}
	entries, err := list(r.Context())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// handleCreateWorktree handles POST /api/worktrees with an engine.CreateRequest body.
func (s *Server) handleCreateWorktree(w http.ResponseWriter, r *http.Request) {
	var req engine.CreateRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	res, err := s.eng.CreateWorker(r.Context(), req)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	s.logger.Info("worker created", "branch", res.Branch, "path", res.Path)
	s.changed()
	writeJSON(w, http.StatusCreated, res)
}

// handleWorktreeDetails handles GET /api/worktrees/{branch...}.
func (s *Server) handleWorktreeDetails(w http.ResponseWriter, r *http.Request) {
	d, err := s.eng.Details(r.Context(), r.PathValue("branch"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// handleRemoveWorktree handles DELETE /api/worktrees/{branch...} with
// optional force, keep_branch and dry_run query flags.
func (s *Server) handleRemoveWorktree(w http.ResponseWriter, r *http.Request) {
	opts := worktree.RemoveOptions{
		Force:      queryBool(r, "force"),
		KeepBranch: queryBool(r, "keep_branch"),
		DryRun:     queryBool(r, "dry_run"),
	}
	res, err := s.eng.Remove(r.Context(), r.PathValue("branch"), opts)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if !opts.DryRun {
		s.changed()
	}
	writeJSON(w, http.StatusOK, res)
}

// handleCheckConflicts handles POST /api/conflicts.
func (s *Server) handleCheckConflicts(w http.ResponseWriter, r *http.Request) {
	var req CheckRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if len(req.Files) == 0 {
		writeError(w, http.StatusBadRequest, "files is required")
		return
	}
	res, err := s.eng.Check(r.Context(), req.Files)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleCleanup handles POST /api/cleanup.
func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	var req CleanupRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	report, err := s.eng.Cleanup(r.Context(), worktree.CleanupOptions{DryRun: req.DryRun, Force: req.Force})
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if !req.DryRun && len(report.Removed) > 0 {
		s.changed()
	}
	writeJSON(w, http.StatusOK, report)
}

// handleUpdate handles POST /api/update.
func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var req UpdateRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	report, err := s.eng.UpdateBranches(r.Context(), worktree.UpdateOptions{DryRun: req.DryRun, Merge: req.Merge, Fetch: req.Fetch})
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if !req.DryRun {
		s.changed()
	}
	writeJSON(w, http.StatusOK, report)
}
