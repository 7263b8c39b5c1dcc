package pagebatch

import (
	"context"
	"fmt"

	"github.com/chararch/pagebatch/util"
	"github.com/pkg/errors"
)

const (
	keySourceKeysKey   = "pagebatch.KeySource.keys"
	keySourceDigestKey = "pagebatch.KeySource.digest"
)

// ItemReader loads an ordered key list once and each record by its key
type ItemReader interface {
	ReadKeys(ctx context.Context) ([]interface{}, error)
	ReadItem(ctx context.Context, key interface{}) (interface{}, error)
}

// KeySource DataSource paging over the key list of an ItemReader. The key list is loaded on each Open and kept in
// the step context, so a partition step can be handed its share of keys up front. Checkpoints keep a digest of
// the list; a resumed run whose key list differs fails instead of reading at a shifted offset.
type KeySource struct {
	reader ItemReader
	fixed  []interface{}
	keys   []interface{}
}

// NewKeySource source over all keys returned by reader.ReadKeys
func NewKeySource(reader ItemReader) *KeySource {
	return &KeySource{reader: reader}
}

// NewKeySourceOf source over a fixed key list, e.g. one partition of SplitKeys
func NewKeySourceOf(reader ItemReader, keys []interface{}) *KeySource {
	if keys == nil {
		keys = []interface{}{}
	}
	return &KeySource{reader: reader, fixed: keys}
}

func (s *KeySource) Open(ctx context.Context, execution *StepExecution) BatchError {
	keys := s.fixed
	if keys == nil {
		if shared, ok := execution.StepContext.Get(keySourceKeysKey).([]interface{}); ok {
			keys = shared
		}
	}
	if keys == nil {
		loaded, err := s.reader.ReadKeys(ctx)
		if err != nil {
			return WrapError(ErrCodeFetch, err, "ReadKeys() err")
		}
		keys = loaded
		if keys == nil {
			keys = []interface{}{}
		}
	}
	digest, err := util.Digest(keys)
	if err != nil {
		return WrapError(ErrCodeFetch, err, "digest of key list")
	}
	executionCtx := execution.StepExecutionContext
	if last, _ := executionCtx.GetString(keySourceDigestKey, ""); last != "" && last != digest {
		return NewBatchError(ErrCodeFetch, "key list of step:%v changed since its last checkpoint, keys:%v", execution.StepName, len(keys))
	}
	executionCtx.Put(keySourceDigestKey, digest)
	s.keys = keys
	execution.StepContext.Put(keySourceKeysKey, keys)
	return nil
}

func (s *KeySource) Fetch(ctx context.Context, offset, limit int) ([]interface{}, bool, error) {
	if s.keys == nil {
		return nil, false, errors.New("key source is not open")
	}
	if offset >= len(s.keys) {
		return nil, false, nil
	}
	end := offset + limit
	if end > len(s.keys) {
		end = len(s.keys)
	}
	items := make([]interface{}, 0, end-offset)
	for _, key := range s.keys[offset:end] {
		item, err := s.reader.ReadItem(ctx, key)
		if err != nil {
			return nil, false, errors.WithMessagef(err, "read item of key:%v", key)
		}
		items = append(items, item)
	}
	return items, end < len(s.keys), nil
}

func (s *KeySource) Close(ctx context.Context, execution *StepExecution) BatchError {
	s.keys = nil
	execution.StepContext.Remove(keySourceKeysKey)
	return nil
}

// SplitKeys cut keys into consecutive parts of len(keys)/partitions keys, the part size clamped to
// [minSize, maxSize]; the last part may be shorter. A maxSize of 0 means no upper bound.
func SplitKeys(keys []interface{}, partitions, minSize, maxSize int) [][]interface{} {
	count := len(keys)
	if count == 0 || partitions <= 0 {
		return nil
	}
	size := (count + partitions - 1) / partitions
	if maxSize > 0 && size > maxSize {
		size = maxSize
	}
	if size < minSize {
		size = minSize
	}
	if size <= 0 {
		size = 1
	}
	parts := make([][]interface{}, 0, (count+size-1)/size)
	for start := 0; start < count; start += size {
		end := start + size
		if end > count {
			end = count
		}
		parts = append(parts, keys[start:end])
	}
	return parts
}

// PartitionName name of the i-th partition of a step
func PartitionName(stepName string, i int) string {
	return fmt.Sprintf("%s:%04d", stepName, i)
}
