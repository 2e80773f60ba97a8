// Package delegation keeps short-lived grants that let a game's other
// participants submit rounds on behalf of a thrower.
package delegation

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

type key struct {
	gameID string
	from   string
}

// Store holds grants in memory. Grants are advisory and do not survive a
// restart.
type Store struct {
	mu     sync.RWMutex
	grants map[key]time.Time
	now    func() time.Time
}

// New creates an empty store.
func New() *Store {
	return &Store{
		grants: make(map[key]time.Time),
		now:    time.Now,
	}
}

// Grant records that fromThrower allows others to score for them in gameID
// for ttl. A new grant replaces an older one.
func (s *Store) Grant(gameID, fromThrower string, ttl time.Duration) time.Time {
	exp := s.now().Add(ttl)
	s.mu.Lock()
	s.grants[key{gameID, fromThrower}] = exp
	s.mu.Unlock()
	return exp
}

// Valid reports whether fromThrower has an unexpired grant in gameID.
func (s *Store) Valid(gameID, fromThrower string) bool {
	s.mu.RLock()
	exp, ok := s.grants[key{gameID, fromThrower}]
	s.mu.RUnlock()
	return ok && s.now().Before(exp)
}

// Revoke drops every grant for a game.
func (s *Store) Revoke(gameID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.grants {
		if k.gameID == gameID {
			delete(s.grants, k)
		}
	}
}

// Len returns the number of stored grants, expired or not.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.grants)
}

// CleanupLoop removes expired grants periodically until ctx is done.
func (s *Store) CleanupLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.cleanup(); n > 0 {
				log.Debug().Int("removed", n).Msg("expired delegations removed")
			}
		}
	}
}

func (s *Store) cleanup() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	removed := 0
	for k, exp := range s.grants {
		if !now.Before(exp) {
			delete(s.grants, k)
			removed++
		}
	}
	return removed
}
