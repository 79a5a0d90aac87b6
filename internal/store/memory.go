package store

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// memoryStore keeps all state in process memory behind a single RWMutex.
// Append-then-read under concurrent writers to the same session must not
// lose turns, so appends take the write lock for the whole operation.
type memoryStore struct {
	mu       sync.RWMutex
	sessions map[string][]Turn
	profiles map[string]*Profile
}

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore() Store {
	return &memoryStore{
		sessions: make(map[string][]Turn),
		profiles: make(map[string]*Profile),
	}
}

func (s *memoryStore) Ping(context.Context) error {
	return nil
}

func (s *memoryStore) AppendTurns(_ context.Context, sessionID string, turns ...Turn) error {
	if sessionID == "" {
		return fmt.Errorf("session id must not be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sessionID] = append(s.sessions[sessionID], turns...)
	return nil
}

func (s *memoryStore) RecentTurns(_ context.Context, sessionID string, limit int) ([]Turn, error) {
	if limit <= 0 {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	turns := s.sessions[sessionID]
	if len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}

	out := make([]Turn, len(turns))
	copy(out, turns)
	return out, nil
}

func (s *memoryStore) SaveProfile(_ context.Context, profile *Profile) error {
	if profile == nil {
		return fmt.Errorf("cannot save nil profile")
	}
	if profile.UserID == "" {
		return fmt.Errorf("profile must have a user id")
	}

	now := time.Now().UTC()
	profile.UpdatedAt = now

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.profiles[profile.UserID]; ok {
		profile.CreatedAt = existing.CreatedAt
	} else {
		profile.CreatedAt = now
	}

	copied := *profile
	s.profiles[profile.UserID] = &copied
	return nil
}

func (s *memoryStore) GetProfile(_ context.Context, userID string) (*Profile, error) {
	if userID == "" {
		return nil, fmt.Errorf("user id must not be empty")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	profile, ok := s.profiles[userID]
	if !ok {
		return nil, nil
	}

	copied := *profile
	return &copied, nil
}
