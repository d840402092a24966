package ws

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/brojonat/kromer/service/kerr"
)

// TokenExpiration is how long an issued gateway token stays usable.
const TokenExpiration = 30 * time.Second

// TokenData is what a gateway token hands off to the connection: the
// address the client authenticated as (or "guest"), the private key to
// keep for in-session transactions, and the caller's computer id if it
// sent one. PrivateKey must never be logged.
type TokenData struct {
	Address    string
	PrivateKey string
	ComputerID *int32
}

// Tokens is the registry of pending one-shot gateway tokens. Obtain
// schedules the token's removal; Use takes it. Whichever happens first
// wins, so a token works at most once.
type Tokens struct {
	mu      sync.Mutex
	pending map[uuid.UUID]TokenData
}

// NewTokens returns an empty token registry.
func NewTokens() *Tokens {
	return &Tokens{pending: make(map[uuid.UUID]TokenData)}
}

// Obtain stores data under a fresh token and returns it. The token
// self-destructs after TokenExpiration.
func (t *Tokens) Obtain(data TokenData) uuid.UUID {
	t.mu.Lock()
	id := uuid.New()
	for {
		if _, exists := t.pending[id]; !exists {
			break
		}
		id = uuid.New()
	}
	t.pending[id] = data
	t.mu.Unlock()

	time.AfterFunc(TokenExpiration, func() {
		t.mu.Lock()
		delete(t.pending, id)
		t.mu.Unlock()
	})

	return id
}

// Use takes the token, returning its data. A second Use of the same
// token fails TokenNotFound.
func (t *Tokens) Use(id uuid.UUID) (TokenData, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	data, ok := t.pending[id]
	if !ok {
		return TokenData{}, kerr.ErrTokenNotFound
	}
	delete(t.pending, id)
	return data, nil
}

// Len counts tokens not yet used or expired.
func (t *Tokens) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}
