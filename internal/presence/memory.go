package presence

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is the single-instance presence store. All state is lost on
// restart, which is acceptable for ephemeral presence.
type MemoryStore struct {
	mu         sync.Mutex
	refs       map[string]int
	lastActive map[string]time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		refs:       make(map[string]int),
		lastActive: make(map[string]time.Time),
	}
}

func (s *MemoryStore) Connect(_ context.Context, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.refs[userID]++
	s.lastActive[userID] = time.Now().UTC()
	return s.refs[userID] == 1, nil
}

func (s *MemoryStore) Disconnect(_ context.Context, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.refs[userID]
	if !ok {
		return false, nil
	}

	if n <= 1 {
		delete(s.refs, userID)
		return true, nil
	}

	s.refs[userID] = n - 1
	return false, nil
}

func (s *MemoryStore) OnlineUsers(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	users := make([]string, 0, len(s.refs))
	for id := range s.refs {
		users = append(users, id)
	}
	sort.Strings(users)

	return users, nil
}

func (s *MemoryStore) IsOnline(_ context.Context, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.refs[userID]
	return ok, nil
}

func (s *MemoryStore) Touch(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastActive[userID] = time.Now().UTC()
	return nil
}

func (s *MemoryStore) LastActive(_ context.Context, userID string) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.lastActive[userID], nil
}

func (s *MemoryStore) Close() error {
	return nil
}
