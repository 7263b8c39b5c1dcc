package pagebatch

import (
	"encoding/json"
	"sort"
	"sync"
)

// Aggregate named counters accumulated across the chunks of one step run.
// Additions made while a chunk is open stay pending until the chunk commits and are dropped if it fails.
type Aggregate struct {
	mu        sync.Mutex
	committed map[string]int64
	pending   map[string]int64
}

func NewAggregate() *Aggregate {
	return &Aggregate{committed: map[string]int64{}, pending: map[string]int64{}}
}

func (a *Aggregate) Add(key string, delta int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pending[key] += delta
}

// Get committed value plus what the open chunk added
func (a *Aggregate) Get(key string) int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.committed[key] + a.pending[key]
}

// Committed value as of the last committed chunk
func (a *Aggregate) Committed(key string) int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.committed[key]
}

// Keys committed counter names, sorted
func (a *Aggregate) Keys() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	keys := make([]string, 0, len(a.committed))
	for k := range a.committed {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (a *Aggregate) commit() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for k, v := range a.pending {
		a.committed[k] += v
	}
	a.pending = map[string]int64{}
}

func (a *Aggregate) rollback() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pending = map[string]int64{}
}

// MarshalJSON committed counters only
func (a *Aggregate) MarshalJSON() ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return json.Marshal(a.committed)
}

func (a *Aggregate) UnmarshalJSON(b []byte) error {
	m := map[string]int64{}
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.committed = m
	a.pending = map[string]int64{}
	return nil
}
