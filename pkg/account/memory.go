package account

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is a process local Store. Username and token lookups are
// served from secondary indexes.
type MemoryStore struct {
	mu         sync.RWMutex
	byID       map[int64]*Account
	byUsername map[string]int64
	byToken    map[string]int64
	nextID     int64
	now        func() time.Time
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:       make(map[int64]*Account),
		byUsername: make(map[string]int64),
		byToken:    make(map[string]int64),
		now:        time.Now,
	}
}

func (s *MemoryStore) FindByID(_ context.Context, id int64) (*Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.byID[id].Clone(), nil
}

func (s *MemoryStore) FindByUsername(_ context.Context, username string) (*Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byUsername[username]
	if !ok {
		return nil, nil
	}
	return s.byID[id].Clone(), nil
}

func (s *MemoryStore) FindByToken(_ context.Context, token string) (*Account, error) {
	if token == "" {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byToken[token]
	if !ok {
		return nil, nil
	}
	return s.byID[id].Clone(), nil
}

func (s *MemoryStore) List(_ context.Context) ([]*Account, error) {
	s.mu.RLock()
	out := make([]*Account, 0, len(s.byID))
	for _, a := range s.byID {
		out = append(out, a.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) Create(_ context.Context, a *Account) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.byUsername[a.Username]; taken {
		return 0, ErrDuplicateUsername
	}
	if a.Token != "" {
		if _, taken := s.byToken[a.Token]; taken {
			return 0, ErrDuplicateToken
		}
	}

	s.nextID++
	now := s.now()
	stored := a.Clone()
	stored.ID = s.nextID
	if stored.Status == "" {
		stored.Status = StatusActive
	}
	stored.CreatedAt = now
	stored.UpdatedAt = now

	s.byID[stored.ID] = stored
	s.byUsername[stored.Username] = stored.ID
	if stored.Token != "" {
		s.byToken[stored.Token] = stored.ID
	}
	return stored.ID, nil
}

func (s *MemoryStore) Update(_ context.Context, id int64, u Update) (bool, error) {
	if u.Empty() {
		return false, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.byID[id]
	if !ok {
		return false, nil
	}
	if u.Token != nil && *u.Token != "" && *u.Token != cur.Token {
		if owner, taken := s.byToken[*u.Token]; taken && owner != id {
			return false, ErrDuplicateToken
		}
	}

	oldToken := cur.Token
	u.Apply(cur)
	cur.UpdatedAt = s.now()

	if cur.Token != oldToken {
		delete(s.byToken, oldToken)
		if cur.Token != "" {
			s.byToken[cur.Token] = id
		}
	}
	return true, nil
}

func (s *MemoryStore) Delete(_ context.Context, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.byID[id]
	if !ok {
		return false, nil
	}
	delete(s.byID, id)
	delete(s.byUsername, cur.Username)
	delete(s.byToken, cur.Token)
	return true, nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }
