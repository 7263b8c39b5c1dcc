package pagebatch

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/pkg/errors"
)

//BatchContext key-value properties of a job or step execution, persisted with checkpoints
type BatchContext struct {
	mu  sync.RWMutex
	kvs map[string]interface{}
}

//NewBatchContext new instance
func NewBatchContext() *BatchContext {
	return &BatchContext{kvs: map[string]interface{}{}}
}

func (ctx *BatchContext) Put(key string, value interface{}) {
	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	ctx.kvs[key] = value
}

func (ctx *BatchContext) Exists(key string) bool {
	ctx.mu.RLock()
	defer ctx.mu.RUnlock()
	return ctx.kvs[key] != nil
}

func (ctx *BatchContext) Remove(key string) {
	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	delete(ctx.kvs, key)
}

func (ctx *BatchContext) Get(key string, def ...interface{}) interface{} {
	ctx.mu.RLock()
	val := ctx.kvs[key]
	ctx.mu.RUnlock()
	if val == nil && len(def) > 0 {
		val = def[0]
	}
	return val
}

func (ctx *BatchContext) GetInt(key string, def ...int) (int, error) {
	v := ctx.Get(key)
	if v == nil && len(def) > 0 {
		return def[0], nil
	}
	if n, ok := toInt64(v); ok {
		return int(n), nil
	}
	return 0, errors.Errorf("value of %v is nil or not int: %v", key, v)
}

func (ctx *BatchContext) GetInt64(key string, def ...int64) (int64, error) {
	v := ctx.Get(key)
	if v == nil && len(def) > 0 {
		return def[0], nil
	}
	if n, ok := toInt64(v); ok {
		return n, nil
	}
	return 0, errors.Errorf("value of %v is nil or not int64: %v", key, v)
}

func (ctx *BatchContext) GetString(key string, def ...string) (string, error) {
	v := ctx.Get(key)
	if v == nil && len(def) > 0 {
		return def[0], nil
	}
	if r, ok := v.(string); ok {
		return r, nil
	}
	return "", errors.Errorf("value of %v is nil or not string: %v", key, v)
}

func (ctx *BatchContext) GetBool(key string, def ...bool) (bool, error) {
	v := ctx.Get(key)
	if v == nil && len(def) > 0 {
		return def[0], nil
	}
	if r, ok := v.(bool); ok {
		return r, nil
	}
	return false, errors.Errorf("value of %v is nil or not bool: %v", key, v)
}

// values decoded from json are float64
func toInt64(v interface{}) (int64, bool) {
	switch r := v.(type) {
	case int:
		return int64(r), true
	case int8:
		return int64(r), true
	case int16:
		return int64(r), true
	case int32:
		return int64(r), true
	case int64:
		return r, true
	case uint:
		return int64(r), true
	case uint8:
		return int64(r), true
	case uint16:
		return int64(r), true
	case uint32:
		return int64(r), true
	case uint64:
		return int64(r), true
	case float32:
		return int64(r), true
	case float64:
		return int64(r), true
	case json.Number:
		n, err := r.Int64()
		return n, err == nil
	}
	return 0, false
}

func (ctx *BatchContext) DeepCopy() *BatchContext {
	result := NewBatchContext()
	if ctx == nil {
		return result
	}
	ctx.mu.RLock()
	defer ctx.mu.RUnlock()
	for key, value := range ctx.kvs {
		result.kvs[key] = value
	}
	return result
}

func (ctx *BatchContext) Merge(other *BatchContext) {
	if other == nil {
		return
	}
	other.mu.RLock()
	defer other.mu.RUnlock()
	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	for key, value := range other.kvs {
		ctx.kvs[key] = value
	}
}

func (ctx *BatchContext) MarshalJSON() ([]byte, error) {
	ctx.mu.RLock()
	defer ctx.mu.RUnlock()
	return json.Marshal(ctx.kvs)
}

func (ctx *BatchContext) UnmarshalJSON(b []byte) error {
	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	if ctx.kvs == nil {
		ctx.kvs = map[string]interface{}{}
	}
	return json.Unmarshal(b, &ctx.kvs)
}

//ChunkContext state shared by the reader, pipeline stages and writer within one chunk
type ChunkContext struct {
	StepExecution *StepExecution
	//Tx transaction opened by the step's TransactionManager for this chunk, nil if none
	Tx interface{}
	//Aggregate accumulator of the current step run
	Aggregate *Aggregate
	//Items number of accepted records in this chunk so far
	Items int
	End   bool
}

// detach keeps ctx values but drops its cancellation: a chunk, once started, runs to its commit or failure
func detach(ctx context.Context) context.Context {
	return context.WithoutCancel(ctx)
}
