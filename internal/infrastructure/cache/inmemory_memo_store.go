package cache

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/tallydash/backend/internal/domain/credit"
)

// entry represents a stored memo key with expiration
type entry struct {
	expiresAt time.Time
}

// InMemoryMemoStore implements credit.MemoStore using an in-memory map.
// This is suitable for single-instance deployments and testing.
type InMemoryMemoStore struct {
	mu        sync.RWMutex
	entries   map[string]entry
	stopChan  chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewInMemoryMemoStore creates a new in-memory memo store.
// It starts a background goroutine to clean up expired entries.
func NewInMemoryMemoStore() *InMemoryMemoStore {
	store := &InMemoryMemoStore{
		entries:  make(map[string]entry),
		stopChan: make(chan struct{}),
	}

	store.wg.Add(1)
	go store.cleanupLoop()

	return store
}

// Get reports whether the key is present and unexpired.
func (s *InMemoryMemoStore) Get(ctx context.Context, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, exists := s.entries[key]
	if !exists {
		return false, nil
	}
	if time.Now().After(e.expiresAt) {
		return false, nil
	}
	return true, nil
}

// Set marks the key present for the given TTL.
func (s *InMemoryMemoStore) Set(ctx context.Context, key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[key] = entry{expiresAt: time.Now().Add(ttl)}
	return nil
}

// DeleteByPrefix removes all keys with the given prefix and returns how many
// were removed.
func (s *InMemoryMemoStore) DeleteByPrefix(ctx context.Context, prefix string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int
	for key := range s.entries {
		if strings.HasPrefix(key, prefix) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed, nil
}

// Close stops the cleanup goroutine. Safe to call multiple times.
func (s *InMemoryMemoStore) Close() error {
	s.closeOnce.Do(func() {
		close(s.stopChan)
	})
	s.wg.Wait()
	return nil
}

// cleanupLoop periodically removes expired entries so the map does not grow
// without bound under key churn.
func (s *InMemoryMemoStore) cleanupLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.removeExpired()
		}
	}
}

func (s *InMemoryMemoStore) removeExpired() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for key, e := range s.entries {
		if now.After(e.expiresAt) {
			delete(s.entries, key)
		}
	}
}

// Ensure InMemoryMemoStore implements MemoStore
var _ credit.MemoStore = (*InMemoryMemoStore)(nil)
