package session

import (
	"context"
	"sync"
	"time"

	"basegraph.app/council/internal/model"
)

type memoryEntry struct {
	snap      model.StatusSnapshot
	expiresAt time.Time
}

// MemoryRegistry is a process-local Registry for inline dispatch.
type MemoryRegistry struct {
	mu      sync.RWMutex
	entries map[int64]memoryEntry
	ttl     time.Duration
	now     func() time.Time
}

func NewMemoryRegistry(ttl time.Duration) *MemoryRegistry {
	return &MemoryRegistry{
		entries: make(map[int64]memoryEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// WithClock swaps the time source; used by tests to exercise expiry.
func (r *MemoryRegistry) WithClock(now func() time.Time) *MemoryRegistry {
	r.now = now
	return r
}

func (r *MemoryRegistry) Put(_ context.Context, snap model.StatusSnapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	r.sweep(now)

	if existing, ok := r.entries[snap.SessionID]; ok && existing.snap.State.Terminal() {
		return ErrTerminal
	}

	entry := memoryEntry{snap: snap}
	if r.ttl > 0 {
		entry.expiresAt = now.Add(r.ttl)
	}
	r.entries[snap.SessionID] = entry
	return nil
}

func (r *MemoryRegistry) Get(_ context.Context, sessionID int64) (model.StatusSnapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.entries[sessionID]
	if !ok || r.expired(entry, r.now()) {
		return model.StatusSnapshot{}, ErrNotFound
	}
	return entry.snap, nil
}

// Len reports how many snapshots are held, expired ones included.
func (r *MemoryRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

func (r *MemoryRegistry) sweep(now time.Time) {
	for id, entry := range r.entries {
		if r.expired(entry, now) {
			delete(r.entries, id)
		}
	}
}

func (r *MemoryRegistry) expired(entry memoryEntry, now time.Time) bool {
	return !entry.expiresAt.IsZero() && now.After(entry.expiresAt)
}
