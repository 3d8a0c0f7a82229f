// Package cache keeps the latest cycle status where the API can serve it
// without touching the artifact directory or the database.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"
)

// StatusKey is the key holding the latest cycle status.
const StatusKey = "agripredict:cycle:latest"

// CycleStatus summarizes the most recent retraining cycle.
type CycleStatus struct {
	CycleID     string    `json:"cycle_id"`
	Outcome     string    `json:"outcome"`
	FailedStage string    `json:"failed_stage,omitempty"`
	Error       string    `json:"error,omitempty"`
	DataSource  string    `json:"data_source,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
	AsOf        string    `json:"as_of,omitempty"`
	FeatureRows int       `json:"feature_rows"`
	Regions     []string  `json:"regions,omitempty"`
	RMSE        float64   `json:"rmse"`
	R2          float64   `json:"r2"`
	Generation  string    `json:"generation,omitempty"`
}

// Store is the key/value backend of a StatusCache.
type Store interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Get(ctx context.Context, key string, dest interface{}) error
}

// StatusCache stores and returns the latest CycleStatus
type StatusCache struct {
	store Store
	ttl   time.Duration
}

// NewStatusCache creates a status cache on top of store. A zero ttl keeps
// the status until it is overwritten.
func NewStatusCache(store Store, ttl time.Duration) *StatusCache {
	return &StatusCache{store: store, ttl: ttl}
}

// Save replaces the latest status
func (c *StatusCache) Save(ctx context.Context, status *CycleStatus) error {
	return c.store.Set(ctx, StatusKey, status, c.ttl)
}

// Latest returns the latest status, or false if no cycle has finished yet
func (c *StatusCache) Latest(ctx context.Context) (*CycleStatus, bool, error) {
	var status CycleStatus
	err := c.store.Get(ctx, StatusKey, &status)
	if errors.Is(err, ErrMiss) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return &status, true, nil
}

// MemoryStore is a process-local Store used when Redis is disabled.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	now     func() time.Time
}

type memoryEntry struct {
	data    []byte
	expires time.Time
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

// Set stores the JSON form of value, like RedisClient does
func (m *MemoryStore) Set(_ context.Context, key string, value interface{}, expiration time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}

	entry := memoryEntry{data: data}
	if expiration > 0 {
		entry.expires = m.now().Add(expiration)
	}

	m.mu.Lock()
	m.entries[key] = entry
	m.mu.Unlock()
	return nil
}

// Get decodes the stored value into dest
func (m *MemoryStore) Get(_ context.Context, key string, dest interface{}) error {
	m.mu.RLock()
	entry, ok := m.entries[key]
	m.mu.RUnlock()

	if !ok || (!entry.expires.IsZero() && m.now().After(entry.expires)) {
		return ErrMiss
	}
	return json.Unmarshal(entry.data, dest)
}
