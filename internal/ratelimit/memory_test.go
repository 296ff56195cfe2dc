package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

const (
	testLimit  = 10
	testWindow = time.Minute
)

type MemoryStoreSuite struct {
	suite.Suite
	store *MemoryStore
	clock time.Time
	ctx   context.Context
}

func TestMemoryStoreSuite(t *testing.T) {
	suite.Run(t, new(MemoryStoreSuite))
}

func (s *MemoryStoreSuite) SetupTest() {
	s.clock = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	s.store = NewMemoryStore()
	s.store.now = func() time.Time { return s.clock }
	s.ctx = context.Background()
}

func (s *MemoryStoreSuite) fill(key string, n int) *Result {
	var result *Result
	for range n {
		var err error
		result, err = s.store.Allow(s.ctx, key, testLimit, testWindow)
		s.Require().NoError(err)
	}
	return result
}

func (s *MemoryStoreSuite) TestAllow() {
	s.Run("first request allowed", func() {
		result := s.fill("allow:first", 1)
		s.True(result.Allowed)
		s.Equal(testLimit, result.Limit)
		s.Equal(testLimit-1, result.Remaining)
		s.Equal(s.clock.Add(testWindow), result.ResetAt)
	})

	s.Run("requests up to limit allowed", func() {
		result := s.fill("allow:limit", testLimit)
		s.True(result.Allowed)
		s.Equal(0, result.Remaining)
	})

	s.Run("request over limit denied with retry hint", func() {
		s.fill("allow:over", testLimit)
		result := s.fill("allow:over", 1)
		s.False(result.Allowed)
		s.Equal(0, result.Remaining)
		s.Equal(60, result.RetryAfter)
	})

	s.Run("keys are independent", func() {
		s.fill("allow:a", testLimit)
		s.True(s.fill("allow:b", 1).Allowed)
	})
}

func (s *MemoryStoreSuite) TestWindowSlides() {
	s.fill("slide", testLimit/2)
	s.clock = s.clock.Add(30 * time.Second)
	s.fill("slide", testLimit/2)
	s.False(s.fill("slide", 1).Allowed)

	// The first half ages out; the second half is still inside the window.
	s.clock = s.clock.Add(31 * time.Second)
	result := s.fill("slide", 1)
	s.True(result.Allowed)
	s.Equal(testLimit/2-1, result.Remaining)
}

func (s *MemoryStoreSuite) TestSweepDropsIdleKeys() {
	s.fill("idle", 1)
	s.fill("busy", 1)
	s.clock = s.clock.Add(testWindow + time.Second)
	s.fill("busy", 1)

	s.store.Sweep()
	s.Equal(1, s.store.Len())
}

func (s *MemoryStoreSuite) TestConcurrentAllowNeverExceedsLimit() {
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := s.store.Allow(s.ctx, "race", testLimit, testWindow)
			s.NoError(err)
			if result.Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	s.Equal(testLimit, allowed)
}
