package pagebatch

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/chararch/pagebatch/status"
)

// Checkpoint progress of a step saved after every committed chunk
type Checkpoint struct {
	StepId    string             `json:"stepId"`
	Status    status.BatchStatus `json:"status"`
	Cursor    Cursor             `json:"cursor"`
	ChunkSize int                `json:"chunkSize"`
	//Aggregate committed aggregate counters, opaque to the store
	Aggregate json.RawMessage `json:"aggregate,omitempty"`
	//Context step execution context holding reader and writer state
	Context     *BatchContext `json:"context,omitempty"`
	ReadCount   int64         `json:"readCount"`
	WriteCount  int64         `json:"writeCount"`
	FilterCount int64         `json:"filterCount"`
	CommitCount int64         `json:"commitCount"`
	Version     int64         `json:"-"`
	LastUpdated time.Time     `json:"lastUpdated"`
}

func (cp *Checkpoint) copy() (*Checkpoint, error) {
	b, err := json.Marshal(cp)
	if err != nil {
		return nil, err
	}
	result := &Checkpoint{}
	if err = json.Unmarshal(b, result); err != nil {
		return nil, err
	}
	result.Version = cp.Version
	return result, nil
}

// CheckpointStore durable storage of step checkpoints
type CheckpointStore interface {
	// Load last saved checkpoint of stepId, nil if none
	Load(ctx context.Context, stepId string) (*Checkpoint, BatchError)
	Save(ctx context.Context, stepId string, cp *Checkpoint) BatchError
}

// TxStore a CheckpointStore able to save inside the chunk transaction
type TxStore interface {
	CheckpointStore
	SaveTx(ctx context.Context, tx interface{}, stepId string, cp *Checkpoint) BatchError
}

type memoryCheckpointStore struct {
	mu          sync.RWMutex
	checkpoints map[string]*Checkpoint
}

// NewMemoryCheckpointStore store keeping checkpoints in memory, copied on save and load
func NewMemoryCheckpointStore() CheckpointStore {
	return &memoryCheckpointStore{checkpoints: map[string]*Checkpoint{}}
}

func (s *memoryCheckpointStore) Load(ctx context.Context, stepId string) (*Checkpoint, BatchError) {
	s.mu.RLock()
	cp, ok := s.checkpoints[stepId]
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	result, err := cp.copy()
	if err != nil {
		return nil, NewBatchError(ErrCodeCheckpoint, "copy checkpoint of step:%v", stepId, err)
	}
	return result, nil
}

func (s *memoryCheckpointStore) Save(ctx context.Context, stepId string, cp *Checkpoint) BatchError {
	saved, err := cp.copy()
	if err != nil {
		return NewBatchError(ErrCodeCheckpoint, "copy checkpoint of step:%v", stepId, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.checkpoints[stepId]; ok && old.Version != cp.Version {
		return NewBatchError(ErrCodeConcurrency, "checkpoint of step:%v was updated concurrently, version:%v, saved version:%v", stepId, cp.Version, old.Version)
	}
	saved.StepId = stepId
	saved.Version = cp.Version + 1
	saved.LastUpdated = time.Now()
	s.checkpoints[stepId] = saved
	cp.Version = saved.Version
	cp.LastUpdated = saved.LastUpdated
	return nil
}
