// Package auth holds the in-memory bearer session registry that guards
// the native API. Sessions are keyed by UUIDv4 tokens, live for one
// hour, and are evicted lazily on any touch. Nothing here is persisted;
// a restart logs everyone out.
package auth

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/brojonat/kromer/service/db"
	"github.com/brojonat/kromer/service/kerr"
	"github.com/brojonat/kromer/service/krist"
)

// SessionTTL is how long a bearer session stays usable after Register.
const SessionTTL = time.Hour

const shardCount = 16

// WalletGetter is the single store lookup the registry needs to verify
// a private key login.
type WalletGetter interface {
	GetWallet(ctx context.Context, address string) (*db.Wallet, error)
}

type entry struct {
	address   string
	expiresAt time.Time
}

// usable reports whether the session is still valid at now.
func (e entry) usable(now time.Time) bool {
	return now.Before(e.expiresAt)
}

type shard struct {
	mu sync.Mutex
	m  map[uuid.UUID]entry
}

// Sessions is a sharded concurrent map of bearer sessions. The zero
// value is not usable; construct with NewSessions.
type Sessions struct {
	shards [shardCount]*shard
}

// NewSessions returns an empty session registry.
func NewSessions() *Sessions {
	s := &Sessions{}
	for i := range s.shards {
		s.shards[i] = &shard{m: make(map[uuid.UUID]entry)}
	}
	return s
}

func (s *Sessions) shardFor(id uuid.UUID) *shard {
	return s.shards[id[0]&(shardCount-1)]
}

// Register creates a session for an address the caller has already
// verified, returning the token and its expiry.
func (s *Sessions) Register(address string) (uuid.UUID, time.Time) {
	id := uuid.New()
	expires := time.Now().Add(SessionTTL)

	sh := s.shardFor(id)
	sh.mu.Lock()
	sh.m[id] = entry{address: address, expiresAt: expires}
	sh.mu.Unlock()

	return id, expires
}

// RegisterFromKey derives the address for a private key, verifies the
// wallet exists and is not locked, and registers a session for it. Any
// failure surfaces as InvalidSession without detail.
func (s *Sessions) RegisterFromKey(ctx context.Context, wallets WalletGetter, privateKey string) (uuid.UUID, time.Time, string, error) {
	address := krist.MakeV2Address(privateKey)
	w, err := wallets.GetWallet(ctx, address)
	if err != nil || w.Locked {
		return uuid.Nil, time.Time{}, "", kerr.ErrInvalidSession
	}
	id, expires := s.Register(address)
	return id, expires, address, nil
}

// Revoke removes a session and returns the address it was bound to.
func (s *Sessions) Revoke(id uuid.UUID) (string, error) {
	sh := s.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	e, ok := sh.m[id]
	if !ok {
		return "", kerr.ErrInvalidSession
	}
	delete(sh.m, id)
	return e.address, nil
}

// lookup fetches a live entry, evicting it if expired. The second
// return is false when the session is missing or expired.
func (s *Sessions) lookup(id uuid.UUID) (entry, bool) {
	sh := s.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	e, ok := sh.m[id]
	if !ok {
		return entry{}, false
	}
	if !e.usable(time.Now()) {
		delete(sh.m, id)
		return entry{}, false
	}
	return e, true
}

// IsAuthedAddr reports whether the session may operate on address. The
// second return is false when the session is missing or expired.
func (s *Sessions) IsAuthedAddr(id uuid.UUID, address string) (bool, bool) {
	e, ok := s.lookup(id)
	if !ok {
		return false, false
	}
	return e.address == address, true
}

// GetAddress returns the address a live session is bound to.
func (s *Sessions) GetAddress(id uuid.UUID) (string, bool) {
	e, ok := s.lookup(id)
	return e.address, ok
}

// SessionExists reports whether the session is live.
func (s *Sessions) SessionExists(id uuid.UUID) bool {
	_, ok := s.lookup(id)
	return ok
}

// Len counts live sessions. Expired entries not yet evicted are
// excluded from the count but left for Vacuum.
func (s *Sessions) Len() int {
	now := time.Now()
	n := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		for _, e := range sh.m {
			if e.usable(now) {
				n++
			}
		}
		sh.mu.Unlock()
	}
	return n
}

// Vacuum sweeps expired sessions and returns how many were removed.
func (s *Sessions) Vacuum() int {
	now := time.Now()
	removed := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		for id, e := range sh.m {
			if !e.usable(now) {
				delete(sh.m, id)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed
}

// CheckBearer extracts and validates the bearer token on a request,
// returning the session id.
func (s *Sessions) CheckBearer(r *http.Request) (uuid.UUID, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return uuid.Nil, kerr.ErrMissingBearer
	}
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return uuid.Nil, kerr.ErrMissingBearer
	}
	id, err := uuid.Parse(strings.TrimSpace(token))
	if err != nil {
		return uuid.Nil, kerr.ErrInvalidSession
	}
	if !s.SessionExists(id) {
		return uuid.Nil, kerr.ErrInvalidSession
	}
	return id, nil
}
