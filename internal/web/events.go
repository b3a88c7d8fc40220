// pattern: Imperative Shell

package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"
)

const sseKeepAlive = 20 * time.Second

// Change is the payload of a "refresh" event on /api/events.
type Change struct {
	Generation uint64 `json:"generation"`
	// Source is "api" for mutations served here and "watch" for changes
	// noticed on disk.
	Source string `json:"source"`
}

// eventBroker fans out Change signals to SSE and websocket subscribers.
type eventBroker struct {
	mu   sync.Mutex
	subs map[chan Change]struct{}
}

func newEventBroker() *eventBroker {
	return &eventBroker{subs: make(map[chan Change]struct{})}
}

// Subscribe returns a channel holding at most one pending change. The
// caller must Unsubscribe.
func (b *eventBroker) Subscribe() chan Change {
	ch := make(chan Change, 1)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *eventBroker) Unsubscribe(ch chan Change) {
	b.mu.Lock()
	delete(b.subs, ch)
	b.mu.Unlock()
}

// Publish never blocks: a pending change a slow subscriber has not read is
// replaced by c.
func (b *eventBroker) Publish(c Change) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case <-ch:
		default:
		}
		ch <- c
	}
}

func writeEvent(w http.ResponseWriter, name string, c Change) error {
	data, err := json.Marshal(c)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", c.Generation, name, data)
	return err
}

// handleEvents streams "connected" on open and "refresh" after every change.
// Comment lines keep idle connections open through proxies.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch := s.events.Subscribe()
	defer s.events.Unsubscribe(ch)

	if err := writeEvent(w, "connected", Change{Generation: s.eng.Generation(), Source: "api"}); err != nil {
		return
	}
	flusher.Flush()

	ping := time.NewTicker(sseKeepAlive)
	defer ping.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ping.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
		case c := <-ch:
			if err := writeEvent(w, "refresh", c); err != nil {
				return
			}
		}
		flusher.Flush()
	}
}
