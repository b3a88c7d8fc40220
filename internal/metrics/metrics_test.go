package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveGit(t *testing.T) {
	m := New()
	m.ObserveGit("git rev-list", 0, 10*time.Millisecond)
	m.ObserveGit("git rev-list", 0, 20*time.Millisecond)
	m.ObserveGit("git merge-base", 1, time.Millisecond)
	m.ObserveGit("git worktree", -1, time.Millisecond)

	if got := testutil.ToFloat64(m.GitCommandsTotal.WithLabelValues("git rev-list", "ok")); got != 2 {
		t.Errorf("rev-list ok = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.GitCommandsTotal.WithLabelValues("git merge-base", "exit_1")); got != 1 {
		t.Errorf("merge-base exit_1 = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.GitCommandsTotal.WithLabelValues("git worktree", "error")); got != 1 {
		t.Errorf("worktree error = %v, want 1", got)
	}
}

func TestObserveSnapshotAndMutations(t *testing.T) {
	m := New()
	m.ObserveSnapshot(50*time.Millisecond, 4, 1)
	m.ObserveCacheHit()
	m.ObserveConflictCheck(CheckBlocked)
	m.ObserveMutation("remove", nil)
	m.ObserveMutation("remove", errors.New("dirty"))

	if got := testutil.ToFloat64(m.SnapshotEntries); got != 4 {
		t.Errorf("entries = %v", got)
	}
	if got := testutil.ToFloat64(m.SnapshotErrors); got != 1 {
		t.Errorf("entry errors = %v", got)
	}
	if got := testutil.ToFloat64(m.CacheHitsTotal); got != 1 {
		t.Errorf("cache hits = %v", got)
	}
	if got := testutil.ToFloat64(m.ConflictChecksTotal.WithLabelValues(CheckBlocked)); got != 1 {
		t.Errorf("blocked checks = %v", got)
	}
	if got := testutil.ToFloat64(m.MutationsTotal.WithLabelValues("remove", "error")); got != 1 {
		t.Errorf("remove errors = %v", got)
	}
}

func TestHandlerServesRegistry(t *testing.T) {
	m := New()
	m.ObserveGit("git status", 0, time.Millisecond)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `karkinos_git_commands_total{command="git status",outcome="ok"} 1`) {
		t.Errorf("exposition missing git counter:\n%s", body)
	}
}

func TestTwoInstancesDoNotCollide(t *testing.T) {
	a, b := New(), New()
	a.ObserveCacheHit()
	if got := testutil.ToFloat64(b.CacheHitsTotal); got != 0 {
		t.Errorf("second instance saw %v hits", got)
	}
}
