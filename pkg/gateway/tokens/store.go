// Package tokens issues the one-time recording upload tokens handed to a
// client when its live session becomes ready.
//
// A token is redeemable once, only while the owning connection is still
// open, and only within the TTL.
package tokens

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"sync"
	"time"
)

// DefaultTTL bounds how long after minting a token may be redeemed.
const DefaultTTL = 10 * time.Minute

const tokenBytes = 32

type record struct {
	sessionID        string
	createdAt        time.Time
	used             bool
	connectionActive bool
}

// Result is the outcome of a redemption attempt.
type Result struct {
	Valid     bool
	SessionID string
}

// Store is a thread-safe in-memory token registry.
type Store struct {
	mu     sync.Mutex
	tokens map[string]*record
	ttl    time.Duration
	now    func() time.Time
}

type Option func(*Store)

// WithTTL overrides DefaultTTL. Non-positive values are ignored.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

func NewStore(opts ...Option) *Store {
	s := &Store{
		tokens: make(map[string]*record),
		ttl:    DefaultTTL,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// TTL reports the redemption window.
func (s *Store) TTL() time.Duration { return s.ttl }

// Generate mints a token for sessionID. The token carries 256 bits of
// randomness, encoded URL-safe without padding.
func (s *Store) Generate(sessionID string) string {
	buf := make([]byte, tokenBytes)
	_, _ = rand.Read(buf)
	token := base64.RawURLEncoding.EncodeToString(buf)

	s.mu.Lock()
	s.tokens[token] = &record{
		sessionID:        sessionID,
		createdAt:        s.now(),
		connectionActive: true,
	}
	s.mu.Unlock()
	return token
}

// ValidateAndUse redeems token. Only the first successful call for a token
// returns Valid; unknown, used, expired and closed-connection tokens are
// rejected. Expired records are evicted.
func (s *Store) ValidateAndUse(token string) Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.tokens[token]
	if !ok {
		return Result{}
	}
	if s.expired(rec, s.now()) {
		delete(s.tokens, token)
		return Result{}
	}
	if rec.used || !rec.connectionActive {
		return Result{}
	}
	rec.used = true
	return Result{Valid: true, SessionID: rec.sessionID}
}

// MarkConnectionClosed invalidates every unredeemed token of sessionID.
func (s *Store) MarkConnectionClosed(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.tokens {
		if rec.sessionID == sessionID {
			rec.connectionActive = false
		}
	}
}

func (s *Store) Revoke(token string) {
	s.mu.Lock()
	delete(s.tokens, token)
	s.mu.Unlock()
}

func (s *Store) RevokeSession(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for token, rec := range s.tokens {
		if rec.sessionID == sessionID {
			delete(s.tokens, token)
		}
	}
}

// Cleanup deletes every record older than the TTL and returns how many were
// removed.
func (s *Store) Cleanup() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	removed := 0
	for token, rec := range s.tokens {
		if s.expired(rec, now) {
			delete(s.tokens, token)
			removed++
		}
	}
	return removed
}

// Len returns the number of records currently held.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tokens)
}

// Run calls Cleanup every interval until ctx is done. onSweep, when non-nil,
// receives the number of records removed by each pass.
func (s *Store) Run(ctx context.Context, interval time.Duration, onSweep func(removed int)) {
	if interval <= 0 {
		interval = s.ttl
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed := s.Cleanup()
			if onSweep != nil {
				onSweep(removed)
			}
		}
	}
}

func (s *Store) expired(rec *record, now time.Time) bool {
	return now.Sub(rec.createdAt) > s.ttl
}
