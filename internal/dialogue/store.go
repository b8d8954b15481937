package dialogue

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teslaelectricidad/teslabot/internal/clock"
	apperrors "github.com/teslaelectricidad/teslabot/internal/errors"
)

// Store keeps chat sessions in memory with an idle TTL and a size cap.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*Session
	ttl      time.Duration
	max      int
	clock    clock.Clock
	logger   *zap.Logger
}

// NewStore creates a session store. A zero ttl or max disables that limit.
func NewStore(ttl time.Duration, max int, clk clock.Clock, logger *zap.Logger) *Store {
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		sessions: make(map[string]*Session),
		ttl:      ttl,
		max:      max,
		clock:    clk,
		logger:   logger,
	}
}

// Create adds a new session. It fails with ErrSessionLimit when the store is
// full after expired sessions have been dropped.
func (s *Store) Create(sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.max > 0 && len(s.sessions) >= s.max {
		s.purgeLocked()
		if len(s.sessions) >= s.max {
			return apperrors.ErrSessionLimit
		}
	}
	s.sessions[sess.ID] = sess.Clone()
	return nil
}

// Get returns a copy of the session.
func (s *Store) Get(id string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.live(id)
	if !ok {
		return nil, apperrors.ErrSessionNotFound
	}
	return sess.Clone(), nil
}

// Update runs fn on the stored session while holding the store lock, so
// concurrent requests for one session are applied in order. Changes made by
// fn are kept even if it returns an error.
func (s *Store) Update(id string, fn func(*Session) error) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.live(id)
	if !ok {
		return nil, apperrors.ErrSessionNotFound
	}
	err := fn(sess)
	return sess.Clone(), err
}

// Delete removes a session.
func (s *Store) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
}

// Len returns the number of stored sessions, expired or not.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Purge drops expired sessions and returns how many were removed.
func (s *Store) Purge() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.purgeLocked()
}

// Run purges expired sessions every interval until ctx is done.
func (s *Store) Run(ctx context.Context, interval time.Duration) {
	ticker := s.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			if n := s.Purge(); n > 0 {
				s.logger.Debug("purged expired chat sessions", zap.Int("count", n))
			}
		}
	}
}

func (s *Store) live(id string) (*Session, bool) {
	sess, ok := s.sessions[id]
	if !ok {
		return nil, false
	}
	if s.expired(sess) {
		delete(s.sessions, id)
		return nil, false
	}
	return sess, true
}

func (s *Store) expired(sess *Session) bool {
	return s.ttl > 0 && s.clock.Since(sess.UpdatedAt) > s.ttl
}

func (s *Store) purgeLocked() int {
	removed := 0
	for id, sess := range s.sessions {
		if s.expired(sess) {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed
}
