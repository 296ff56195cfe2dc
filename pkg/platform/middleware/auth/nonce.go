package auth

import (
	"context"
	"sync"
	"time"
)

// NonceStore remembers nonces for at least ttl. Claim reports false when the
// nonce was already claimed.
type NonceStore interface {
	Claim(ctx context.Context, nonce string, ttl time.Duration) (bool, error)
}

// MemoryNonceStore is a process-local NonceStore for single-instance
// deployments and tests.
type MemoryNonceStore struct {
	mu      sync.Mutex
	expires map[string]time.Time
	now     func() time.Time
	claims  int
}

func NewMemoryNonceStore() *MemoryNonceStore {
	return &MemoryNonceStore{expires: make(map[string]time.Time), now: time.Now}
}

func (s *MemoryNonceStore) Claim(_ context.Context, nonce string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if exp, ok := s.expires[nonce]; ok && now.Before(exp) {
		return false, nil
	}
	s.expires[nonce] = now.Add(ttl)

	// Sweep expired entries every so often so the map stays bounded.
	s.claims++
	if s.claims%1024 == 0 {
		for k, exp := range s.expires {
			if !now.Before(exp) {
				delete(s.expires, k)
			}
		}
	}
	return true, nil
}
