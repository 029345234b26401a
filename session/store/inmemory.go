package store

import (
	"context"
	"fmt"
	"sync"

	ferrors "github.com/sweetpotato0/factflow/errors"
	"github.com/sweetpotato0/factflow/session"
)

// InMemoryStore keeps records in process. With a session cap the least
// recently saved session is evicted first.
type InMemoryStore struct {
	mu          sync.RWMutex
	sessions    map[string]*session.Record
	order       []string
	maxSessions int
}

// NewInMemoryStore returns an empty store. maxSessions <= 0 disables the cap.
func NewInMemoryStore(maxSessions ...int) *InMemoryStore {
	s := &InMemoryStore{sessions: make(map[string]*session.Record)}
	if len(maxSessions) > 0 && maxSessions[0] > 0 {
		s.maxSessions = maxSessions[0]
	}
	return s
}

// Save stores a copy of record.
func (s *InMemoryStore) Save(_ context.Context, record *session.Record) error {
	if record == nil || record.ID == "" {
		return fmt.Errorf("session record needs an id: %w", ferrors.ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch(record.ID)
	s.sessions[record.ID] = record.Clone()
	for s.maxSessions > 0 && len(s.order) > s.maxSessions {
		delete(s.sessions, s.order[0])
		s.order = s.order[1:]
	}
	return nil
}

// Load returns a copy of the record for id.
func (s *InMemoryStore) Load(_ context.Context, id string) (*session.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", id, ferrors.ErrNotFound)
	}
	return rec.Clone(), nil
}

// Delete drops the record for id.
func (s *InMemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return fmt.Errorf("session %s: %w", id, ferrors.ErrNotFound)
	}
	delete(s.sessions, id)
	s.remove(id)
	return nil
}

// Count reports how many sessions are held.
func (s *InMemoryStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// touch moves id to the most recent end of the eviction order.
func (s *InMemoryStore) touch(id string) {
	s.remove(id)
	s.order = append(s.order, id)
}

func (s *InMemoryStore) remove(id string) {
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			return
		}
	}
}
