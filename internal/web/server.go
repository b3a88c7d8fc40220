// pattern: Imperative Shell

// Package web serves the engine over HTTP for other processes and for CLI
// delegation while a server holds the repository.
package web

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/schmug/karkinos/internal/engine"
	"github.com/schmug/karkinos/internal/instance"
	"github.com/schmug/karkinos/internal/logging"
	"github.com/schmug/karkinos/internal/metrics"
)

// Server is the HTTP API for one repository.
type Server struct {
	httpServer *http.Server
	eng        *engine.Engine
	metrics    *metrics.Metrics
	notify     func()
	logger     *logging.ScopedLogger
	addr       string
	listener   net.Listener
	events     *eventBroker
}

// Config holds web server configuration.
type Config struct {
	Bind string
	Port int
}

// New creates a web server. m may be nil, in which case /metrics is not
// served. logProvider must not be nil.
func New(cfg Config, eng *engine.Engine, m *metrics.Metrics, logProvider logging.LoggerProvider) *Server {
	addr := net.JoinHostPort(cfg.Bind, fmt.Sprint(cfg.Port))
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
		eng:     eng,
		metrics: m,
		logger:  logProvider.For("web"),
		addr:    addr,
		events:  newEventBroker(),
	}

	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/events", s.handleEvents)
	mux.HandleFunc("GET /api/watch", s.handleWatch)
	mux.HandleFunc("GET /api/worktrees", s.handleListWorktrees)
	mux.HandleFunc("POST /api/worktrees", s.handleCreateWorktree)
	mux.HandleFunc("GET /api/worktrees/{branch...}", s.handleWorktreeDetails)
	mux.HandleFunc("DELETE /api/worktrees/{branch...}", s.handleRemoveWorktree)
	mux.HandleFunc("POST /api/conflicts", s.handleCheckConflicts)
	mux.HandleFunc("POST /api/cleanup", s.handleCleanup)
	mux.HandleFunc("POST /api/update", s.handleUpdate)
	if m != nil {
		mux.Handle("GET /metrics", m.Handler())
	}
	return s
}

// OnChange registers fn to run after every mutation served over HTTP, e.g.
// to refresh a monitor running in the same process.
func (s *Server) OnChange(fn func()) {
	s.notify = fn
}

// changed signals SSE subscribers and the in-process listener.
func (s *Server) changed() {
	s.events.Publish(Change{Generation: s.eng.Generation(), Source: "api"})
	if s.notify != nil {
		s.notify()
	}
}

// Refresh drops the cached snapshot and tells SSE subscribers, for changes
// made outside the server such as a commit inside a worker.
func (s *Server) Refresh() {
	s.eng.Invalidate()
	s.events.Publish(Change{Generation: s.eng.Generation(), Source: "watch"})
}

// Handler returns the request router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Listen binds the server to its configured address and returns the listener.
// Call Serve() after Listen() to start accepting connections.
func (s *Server) Listen() (net.Listener, error) {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return nil, fmt.Errorf("web server listen: %w", err)
	}
	s.listener = ln
	return ln, nil
}

// Serve accepts connections on the listener. Blocks until the server stops.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("web server started", "addr", ln.Addr().String(), "repo", s.eng.Root())
	return s.httpServer.Serve(ln)
}

// Start is a convenience that calls Listen() then Serve().
func (s *Server) Start() error {
	ln, err := s.Listen()
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Addr returns the bound address after Listen, the configured one before.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("web server shutting down")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, instance.Health{Status: "ok", Service: instance.ServiceName, Root: s.eng.Root()})
}
