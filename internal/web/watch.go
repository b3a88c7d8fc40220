// pattern: Imperative Shell

package web

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/schmug/karkinos/internal/engine"
)

const (
	defaultWatchInterval = 2 * time.Second
	minWatchInterval     = 250 * time.Millisecond
	watchWriteTimeout    = 5 * time.Second
)

// WatchMessage is one websocket text frame on /api/watch.
type WatchMessage struct {
	Generation uint64         `json:"generation"`
	Entries    []engine.Entry `json:"entries,omitempty"`
	Error      string         `json:"error,omitempty"`
}

// handleWatch upgrades to a websocket and pushes a snapshot immediately,
// then every ?interval (default 2s) and after each mutation served here.
func (s *Server) handleWatch(w http.ResponseWriter, r *http.Request) {
	interval := defaultWatchInterval
	if v := r.URL.Query().Get("interval"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < minWatchInterval {
			http.Error(w, "interval must be a duration of at least "+minWatchInterval.String(), http.StatusBadRequest)
			return
		}
		interval = d
	}
	all := queryBool(r, "all")

	// r.Context() is not used after Accept.
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"127.0.0.1:*", "localhost:*"},
	})
	if err != nil {
		s.logger.Error("websocket accept failed", "error", err)
		return
	}
	defer func() { _ = conn.CloseNow() }()

	// The client only listens; CloseRead cancels ctx when it goes away.
	ctx := conn.CloseRead(context.Background())

	changes := s.events.Subscribe()
	defer s.events.Unsubscribe(changes)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Debug("watcher connected", "interval", interval)
	for {
		if err := s.pushSnapshot(ctx, conn, all); err != nil {
			s.logger.Debug("watcher disconnected", "error", err)
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-changes:
		}
	}
}

func (s *Server) pushSnapshot(ctx context.Context, conn *websocket.Conn, all bool) error {
	msg := WatchMessage{Generation: s.eng.Generation()}
	list := s.eng.Snapshot
	if all {
		list = s.eng.SnapshotAll
	}
	entries, err := list(ctx)
	if err != nil {
		msg.Error = err.Error()
	} else {
		msg.Entries = entries
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, watchWriteTimeout)
	defer cancel()
	return conn.Write(wctx, websocket.MessageText, data)
}
