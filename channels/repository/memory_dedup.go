package repository

import (
	"context"
	"sync"
	"time"
)

// MemoryDedupStore implementa webhook.DedupStore con un map en memoria.
// Es la implementación por defecto cuando Valkey no está habilitado; los
// ids se pierden al reiniciar el servidor.
type MemoryDedupStore struct {
	mu        sync.Mutex
	ttl       time.Duration
	seen      map[string]time.Time // key -> expireAt
	lastSweep time.Time
	now       func() time.Time
}

func NewMemoryDedupStore(ttl time.Duration) *MemoryDedupStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &MemoryDedupStore{
		ttl:  ttl,
		seen: make(map[string]time.Time),
		now:  time.Now,
	}
}

func (s *MemoryDedupStore) Seen(_ context.Context, instanceID, eventID string) (bool, error) {
	key := instanceID + "|" + eventID
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	// Limpieza perezosa: como mucho una pasada por minuto.
	if now.Sub(s.lastSweep) > time.Minute {
		for k, exp := range s.seen {
			if now.After(exp) {
				delete(s.seen, k)
			}
		}
		s.lastSweep = now
	}

	if exp, ok := s.seen[key]; ok && now.Before(exp) {
		return true, nil
	}
	s.seen[key] = now.Add(s.ttl)
	return false, nil
}

func (s *MemoryDedupStore) Release(_ context.Context, instanceID, eventID string) error {
	s.mu.Lock()
	delete(s.seen, instanceID+"|"+eventID)
	s.mu.Unlock()
	return nil
}

func (s *MemoryDedupStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}
