package web_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/schmug/karkinos/internal/engine"
	"github.com/schmug/karkinos/internal/gitcmd/gitcmdtest"
	"github.com/schmug/karkinos/internal/instance"
	"github.com/schmug/karkinos/internal/logging"
	"github.com/schmug/karkinos/internal/metrics"
	"github.com/schmug/karkinos/internal/web"
)

func fakeEngine() *engine.Engine {
	return engine.New(gitcmdtest.New().Runner(), engine.Options{Root: "/src/proj", BaseBranch: "main"}, nil)
}

func newServer(t *testing.T, port int, eng *engine.Engine, m *metrics.Metrics) *web.Server {
	t.Helper()
	lm := logging.NewTestLogManager(10)
	t.Cleanup(func() { _ = lm.Close() })
	return web.New(web.Config{Bind: "127.0.0.1", Port: port}, eng, m, lm)
}

func serve(t *testing.T, s *web.Server) string {
	t.Helper()
	ln, err := s.Listen()
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	done := make(chan error, 1)
	go func() {
		done <- s.Serve(ln)
	}()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = s.Shutdown(ctx)
		<-done
	})
	return "http://" + s.Addr()
}

func TestHandleHealth(t *testing.T) {
	baseURL := serve(t, newServer(t, 0, fakeEngine(), nil))

	resp, err := http.Get(baseURL + "/api/health")
	if err != nil {
		t.Fatalf("GET /api/health error = %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want %q", ct, "application/json")
	}
	var h instance.Health
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if h.Status != "ok" || h.Service != instance.ServiceName || h.Root != "/src/proj" {
		t.Errorf("health = %+v", h)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	t.Run("served when metrics are configured", func(t *testing.T) {
		m := metrics.New()
		eng := fakeEngine()
		eng.SetMetrics(m)
		baseURL := serve(t, newServer(t, 0, eng, m))

		resp, err := http.Get(baseURL + "/api/worktrees")
		if err != nil {
			t.Fatal(err)
		}
		_ = resp.Body.Close()

		resp, err = http.Get(baseURL + "/metrics")
		if err != nil {
			t.Fatal(err)
		}
		defer func() { _ = resp.Body.Close() }()
		body, _ := io.ReadAll(resp.Body)
		if !strings.Contains(string(body), "karkinos_git_commands_total") {
			t.Errorf("metrics output missing git counter:\n%s", body)
		}
	})

	t.Run("absent without metrics", func(t *testing.T) {
		baseURL := serve(t, newServer(t, 0, fakeEngine(), nil))
		resp, err := http.Get(baseURL + "/metrics")
		if err != nil {
			t.Fatal(err)
		}
		_ = resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("status = %d, want 404", resp.StatusCode)
		}
	})
}

func TestServer_AddrBeforeListen(t *testing.T) {
	s := newServer(t, 8765, fakeEngine(), nil)

	if addr := s.Addr(); addr != "127.0.0.1:8765" {
		t.Errorf("Addr() before Listen() = %q, want %q", addr, "127.0.0.1:8765")
	}
}

// After Shutdown the server no longer accepts new connections.
func TestServer_GracefulShutdown(t *testing.T) {
	s := newServer(t, 0, fakeEngine(), nil)

	ln, err := s.Listen()
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	done := make(chan error, 1)
	go func() {
		done <- s.Serve(ln)
	}()
	addr := s.Addr()

	resp, err := http.Get("http://" + addr + "/api/health")
	if err != nil {
		t.Fatalf("pre-shutdown GET: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("pre-shutdown status = %d, want 200", resp.StatusCode)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer shutdownCancel()
	if err := s.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	select {
	case err := <-done:
		if err != nil && err != http.ErrServerClosed {
			t.Errorf("Serve() returned unexpected error: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Error("server did not stop after Shutdown()")
	}

	client := &http.Client{Timeout: 2 * time.Second}
	if _, err := client.Get("http://" + addr + "/api/health"); err == nil {
		t.Error("expected connection refused after Shutdown(), but GET succeeded")
	}
}

// Start returns an error when the configured port is already in use.
func TestServer_BindFailure(t *testing.T) {
	occupier, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("could not open occupier listener: %v", err)
	}
	defer func() { _ = occupier.Close() }()

	occupiedAddr := occupier.Addr().String()
	portStr := occupiedAddr[strings.LastIndex(occupiedAddr, ":")+1:]
	port := 0
	if _, err := fmt.Sscanf(portStr, "%d", &port); err != nil {
		t.Fatalf("parse port from %q: %v", occupiedAddr, err)
	}

	bindErr := newServer(t, port, fakeEngine(), nil).Start()
	if bindErr == nil {
		t.Fatal("Start() returned nil error, expected bind error")
	}
	if errStr := bindErr.Error(); !strings.Contains(errStr, "listen") {
		t.Errorf("Start() error = %q; expected listen error", errStr)
	}
}
