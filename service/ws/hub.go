// Package ws implements the WebSocket side of the legacy protocol:
// one-shot gateway tokens, the connection hub with filtered broadcast,
// and the per-connection heartbeat and read loops. What the frames
// mean is the caller's business; inbound text is handed to a dispatch
// callback and broadcast payloads arrive pre-shaped.
package ws

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/brojonat/kromer/service/metrics"
)

// Hub tracks every live session and fans events out to them.
type Hub struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]*Session

	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewHub returns an empty hub. metrics may be nil.
func NewHub(logger *slog.Logger, m *metrics.Metrics) *Hub {
	return &Hub{
		sessions: make(map[uuid.UUID]*Session),
		logger:   logger,
		metrics:  m,
	}
}

// Insert registers an accepted session.
func (h *Hub) Insert(s *Session) {
	h.mu.Lock()
	h.sessions[s.ID] = s
	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.RecordWSSessionChange(1)
	}
	h.logger.Debug("websocket session registered", "session", s.ID, "address", s.Address())
}

// Get returns a live session by id.
func (h *Hub) Get(id uuid.UUID) (*Session, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s, ok := h.sessions[id]
	return s, ok
}

// Count returns the number of connected sessions.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// Cleanup removes a session and closes its socket. The heartbeat loop,
// the read loop, and failed broadcast sends all funnel here; the
// session's closed flag makes teardown exactly-once.
func (h *Hub) Cleanup(id uuid.UUID) {
	h.mu.Lock()
	s, ok := h.sessions[id]
	if ok {
		delete(h.sessions, id)
	}
	h.mu.Unlock()

	if !ok || !s.markClosed() {
		return
	}
	s.conn.Close()

	if h.metrics != nil {
		h.metrics.RecordWSSessionChange(-1)
	}
	h.logger.Debug("websocket session cleaned up", "session", id)
}

// BroadcastEvent sends the event to every session whose subscription
// set and address match it, concurrently. Sessions whose send fails
// are cleaned up. Returns how many sessions matched.
func (h *Hub) BroadcastEvent(e Event) int {
	payload, err := json.Marshal(e.frame())
	if err != nil {
		h.logger.Error("failed to marshal event frame", "event", e.Kind, "error", err)
		return 0
	}

	h.mu.RLock()
	var targets []*Session
	for _, s := range h.sessions {
		if s.wantsEvent(e) {
			targets = append(targets, s)
		}
	}
	h.mu.RUnlock()

	h.fanOut(targets, payload)

	if h.metrics != nil {
		h.metrics.RecordWSBroadcast(string(e.Kind), len(targets))
	}
	return len(targets)
}

// Broadcast sends the same payload to every session.
func (h *Hub) Broadcast(payload []byte) int {
	h.mu.RLock()
	targets := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		targets = append(targets, s)
	}
	h.mu.RUnlock()

	h.fanOut(targets, payload)
	return len(targets)
}

func (h *Hub) fanOut(targets []*Session, payload []byte) {
	var wg sync.WaitGroup
	for _, s := range targets {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.writeText(payload); err != nil {
				h.logger.Warn("dropping session after failed send", "session", s.ID)
				h.Cleanup(s.ID)
			}
		}()
	}
	wg.Wait()
}
