package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"Urban-Render/server/internal/models"
)

var ErrSessionNotFound = errors.New("session not found")

type memoryEntry struct {
	state     models.RenderingState
	apiKey    string
	expiresAt time.Time
}

// MemoryStore keeps sessions in process. Used when Redis is unavailable.
type MemoryStore struct {
	sessions map[string]*memoryEntry
	ttl      time.Duration
	mu       sync.RWMutex
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*memoryEntry),
		ttl:      ttl,
	}
}

func (s *MemoryStore) Load(ctx context.Context, sessionID string) (*models.RenderingState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.sessions[sessionID]
	if !ok || s.expired(e) {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	state := e.state
	return &state, nil
}

func (s *MemoryStore) Save(ctx context.Context, state *models.RenderingState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.sessions[state.SessionID]
	if !ok || s.expired(e) {
		e = &memoryEntry{}
		s.sessions[state.SessionID] = e
	}
	e.state = *state
	e.expiresAt = s.expiry()
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, sessionID)
	return nil
}

func (s *MemoryStore) SetAPIKey(ctx context.Context, sessionID, apiKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.sessions[sessionID]
	if !ok || s.expired(e) {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	e.apiKey = apiKey
	return nil
}

func (s *MemoryStore) APIKey(ctx context.Context, sessionID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.sessions[sessionID]
	if !ok || s.expired(e) {
		return "", nil
	}
	return e.apiKey, nil
}

// CleanExpired drops expired sessions and returns how many were removed
func (s *MemoryStore) CleanExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for id, e := range s.sessions {
		if s.expired(e) {
			delete(s.sessions, id)
			count++
		}
	}
	return count
}

func (s *MemoryStore) expiry() time.Time {
	if s.ttl <= 0 {
		return time.Time{}
	}
	return time.Now().Add(s.ttl)
}

func (s *MemoryStore) expired(e *memoryEntry) bool {
	return !e.expiresAt.IsZero() && time.Now().After(e.expiresAt)
}
