package storage

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps the latest snapshot per workload in a map. It is safe for
// concurrent use.
//
// With a TTL, a background goroutine drops snapshots whose StoredAt is older
// than the TTL; call Stop to end it.
type MemoryStore struct {
	mu        sync.RWMutex
	snapshots map[string]Snapshot
	ttl       time.Duration

	cleanupTicker *time.Ticker
	stopCleanup   chan struct{}
	cleanupDone   chan struct{}
	stopOnce      sync.Once
}

// NewMemoryStore creates a store without expiry.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		snapshots: make(map[string]Snapshot),
	}
}

// NewMemoryStoreWithTTL creates a store that expires snapshots older than ttl,
// checking every cleanupInterval (default one minute).
func NewMemoryStoreWithTTL(ttl, cleanupInterval time.Duration) *MemoryStore {
	if ttl <= 0 {
		panic("TTL must be positive")
	}
	if cleanupInterval <= 0 {
		cleanupInterval = time.Minute
	}

	store := &MemoryStore{
		snapshots:     make(map[string]Snapshot),
		ttl:           ttl,
		cleanupTicker: time.NewTicker(cleanupInterval),
		stopCleanup:   make(chan struct{}),
		cleanupDone:   make(chan struct{}),
	}
	go store.runCleanup()
	return store
}

// Stop ends the cleanup goroutine and waits for it. Safe to call more than
// once and on stores without TTL.
func (s *MemoryStore) Stop() {
	if s.cleanupTicker == nil {
		return
	}
	s.stopOnce.Do(func() {
		close(s.stopCleanup)
		<-s.cleanupDone
		s.cleanupTicker.Stop()
	})
}

func (s *MemoryStore) runCleanup() {
	defer close(s.cleanupDone)
	for {
		select {
		case <-s.cleanupTicker.C:
			s.expire(time.Now())
		case <-s.stopCleanup:
			return
		}
	}
}

func (s *MemoryStore) expire(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for workload, snap := range s.snapshots {
		if now.Sub(snap.StoredAt) > s.ttl {
			delete(s.snapshots, workload)
		}
	}
}

// Put replaces the snapshot for the snapshot's workload. A zero StoredAt is
// set to the current time.
func (s *MemoryStore) Put(ctx context.Context, snapshot Snapshot) error {
	if err := validateWorkload(snapshot.Workload()); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if snapshot.StoredAt.IsZero() {
		snapshot.StoredAt = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[snapshot.Workload()] = snapshot
	return nil
}

// GetLatest returns the snapshot for workload and whether one exists.
func (s *MemoryStore) GetLatest(ctx context.Context, workload string) (Snapshot, bool, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snapshots[workload]
	return snap, ok, nil
}

// Len returns the number of stored snapshots.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.snapshots)
}
