package ws

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/brojonat/kromer/service/krist"
)

// writeWait bounds how long a single socket write may block.
const writeWait = 10 * time.Second

// Session is the live state of one WebSocket connection. It owns the
// socket handle; all text writes go through writeMu so frames for one
// event are never interleaved. The identity fields can be rewritten by
// the in-band login and logout messages.
type Session struct {
	ID uuid.UUID

	conn    *websocket.Conn
	writeMu sync.Mutex

	mu         sync.Mutex
	address    string
	privateKey string
	subs       map[SubscriptionKind]struct{}

	computerID *int32

	lastPong atomic.Int64
	closed   atomic.Bool
}

// NewSession builds the session state for an accepted connection. The
// id is the consumed gateway token, which stays the session's identity
// for the connection's lifetime. Default subscriptions are
// ownTransactions and blocks.
func NewSession(id uuid.UUID, conn *websocket.Conn, data TokenData) *Session {
	s := &Session{
		ID:         id,
		conn:       conn,
		address:    data.Address,
		privateKey: data.PrivateKey,
		computerID: data.ComputerID,
		subs: map[SubscriptionKind]struct{}{
			SubOwnTransactions: {},
			SubBlocks:          {},
		},
	}
	s.TouchPong()
	return s
}

// Address returns the address the session is authenticated as, or
// "guest".
func (s *Session) Address() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.address
}

// IsGuest reports whether the session is unauthenticated.
func (s *Session) IsGuest() bool {
	return s.Address() == krist.GuestAddress
}

// PrivateKey returns the in-memory private key, or "" for guests.
func (s *Session) PrivateKey() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.privateKey
}

// ComputerID returns the client-reported computer id, if any.
func (s *Session) ComputerID() *int32 {
	return s.computerID
}

// Login rewrites the session identity after an in-band login.
func (s *Session) Login(address, privateKey string) {
	s.mu.Lock()
	s.address = address
	s.privateKey = privateKey
	s.mu.Unlock()
}

// Logout resets the session to a guest. The private key is overwritten,
// not just dropped.
func (s *Session) Logout() {
	s.mu.Lock()
	s.address = krist.GuestAddress
	s.privateKey = ""
	s.mu.Unlock()
}

// Subscribe adds a subscription level and returns the resulting set.
func (s *Session) Subscribe(kind SubscriptionKind) []SubscriptionKind {
	s.mu.Lock()
	s.subs[kind] = struct{}{}
	s.mu.Unlock()
	return s.Subscriptions()
}

// Unsubscribe removes a subscription level and returns the resulting
// set.
func (s *Session) Unsubscribe(kind SubscriptionKind) []SubscriptionKind {
	s.mu.Lock()
	delete(s.subs, kind)
	s.mu.Unlock()
	return s.Subscriptions()
}

// Subscriptions returns the current set in the enum's stable order.
func (s *Session) Subscriptions() []SubscriptionKind {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []SubscriptionKind
	for _, kind := range ValidSubscriptionKinds() {
		if _, ok := s.subs[kind]; ok {
			out = append(out, kind)
		}
	}
	return out
}

// wantsEvent applies the per-session broadcast filter. Guests never
// match the Own* predicates.
func (s *Session) wantsEvent(e Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	guest := s.address == krist.GuestAddress
	has := func(kind SubscriptionKind) bool {
		_, ok := s.subs[kind]
		return ok
	}

	switch e.Kind {
	case EventTransaction:
		return has(SubTransactions) ||
			(!guest && (s.address == e.From || s.address == e.To) && has(SubOwnTransactions))
	case EventName:
		return has(SubNames) ||
			(!guest && s.address == e.Owner && has(SubOwnNames))
	case EventBlock:
		return has(SubBlocks) ||
			(!guest && s.address == e.Miner && has(SubOwnBlocks))
	}
	return false
}

// TouchPong records that the peer just answered a ping.
func (s *Session) TouchPong() {
	s.lastPong.Store(time.Now().UnixNano())
}

// LastPong returns when the peer last answered a ping.
func (s *Session) LastPong() time.Time {
	return time.Unix(0, s.lastPong.Load())
}

// markClosed flips the closed flag, reporting whether this caller won
// the race. Cleanup paths use it so teardown runs exactly once.
func (s *Session) markClosed() bool {
	return s.closed.CompareAndSwap(false, true)
}

// IsClosed reports whether the session has been torn down.
func (s *Session) IsClosed() bool {
	return s.closed.Load()
}

// WriteJSON marshals v and sends it as one text frame.
func (s *Session) WriteJSON(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.writeText(payload)
}

func (s *Session) writeText(payload []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(websocket.TextMessage, payload)
}

// ping sends a protocol ping. Control writes are safe concurrently
// with text writes.
func (s *Session) ping() error {
	return s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}
