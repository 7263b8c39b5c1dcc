package pagebatch

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bmizerany/assert"
)

func TestPagingReader_EndOfDataIsIdempotent(t *testing.T) {
	reader := NewPagingReader(NewOffsetPageFetcher(newMemSource(2)), 5)
	assert.Equal(t, 2, len(readAll(t, reader)))
	for i := 0; i < 3; i++ {
		item, err := reader.Read(context.Background(), nil)
		assert.Equal(t, nil, item)
		assert.Equal(t, ErrCodeEndOfData, err.Code())
	}
	assert.Equal(t, true, reader.Snapshot().Exhausted)
}

func TestPagingReader_RestoreAtEveryPosition(t *testing.T) {
	for _, key := range []KeyFunc{nil, recordKey} {
		for _, strategy := range []FetchStrategy{OffsetStrategy, FromZeroStrategy} {
			for stopAt := 0; stopAt <= 7; stopAt++ {
				source := newMemSource(7)
				fetcher, _ := NewPageFetcher(strategy, source, key)
				reader := NewPagingReader(fetcher, 3)
				var first []record
				for i := 0; i < stopAt; i++ {
					item, err := reader.Read(context.Background(), nil)
					assert.Equal(t, nil, err)
					first = append(first, item.(record))
				}
				cursor := reader.Snapshot()
				assert.Equal(t, int64(stopAt), cursor.SkipCount)

				fetcher2, _ := NewPageFetcher(strategy, source, key)
				resumed := NewPagingReader(fetcher2, 3)
				assert.Equal(t, nil, resumed.Restore(cursor))
				rest := readAll(t, resumed)
				assert.Equal(t, ids(source.rows), ids(append(first, rest...)), fmt.Sprintf("strategy:%v stopAt:%v", strategy, stopAt))
			}
		}
	}
}

func TestPagingReader_SnapshotPositions(t *testing.T) {
	reader := NewPagingReader(NewOffsetPageFetcher(newMemSource(7)), 3)
	ctx := context.Background()
	assert.Equal(t, Cursor{}, reader.Snapshot())

	reader.Read(ctx, nil)
	assert.Equal(t, Cursor{PageIndex: 0, Offset: 1, SkipCount: 1}, reader.Snapshot())
	reader.Read(ctx, nil)
	reader.Read(ctx, nil)
	assert.Equal(t, Cursor{PageIndex: 1, Offset: 0, SkipCount: 3}, reader.Snapshot())
	reader.Read(ctx, nil)
	assert.Equal(t, Cursor{PageIndex: 1, Offset: 1, SkipCount: 4}, reader.Snapshot())
}

func TestPagingReader_FetchFailure(t *testing.T) {
	source := newMemSource(6)
	source.failAt = 2
	reader := NewPagingReader(NewOffsetPageFetcher(source), 3)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := reader.Read(ctx, nil)
		assert.Equal(t, nil, err)
	}
	cursor := reader.Snapshot()
	_, err := reader.Read(ctx, nil)
	assert.Equal(t, ErrCodeFetch, err.Code())

	// the position before the failed fetch still reads the rest
	assert.Equal(t, nil, reader.Restore(cursor))
	assert.Equal(t, []int{40, 50, 60}, ids(readAll(t, reader)))
}

type slowSource struct {
	delay time.Duration
}

func (s *slowSource) Fetch(ctx context.Context, offset, limit int) ([]interface{}, bool, error) {
	select {
	case <-time.After(s.delay):
		return []interface{}{record{Id: 1}}, false, nil
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

func TestPagingReader_FetchTimeout(t *testing.T) {
	reader := NewPagingReader(NewOffsetPageFetcher(&slowSource{delay: time.Second}), 3)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := reader.Read(ctx, nil)
	assert.Equal(t, ErrCodeTimeout, err.Code())
}

func TestPagingReader_RestoreExhausted(t *testing.T) {
	reader := NewPagingReader(NewOffsetPageFetcher(newMemSource(3)), 2)
	assert.Equal(t, nil, reader.Restore(Cursor{PageIndex: 2, SkipCount: 3, Exhausted: true}))
	_, err := reader.Read(context.Background(), nil)
	assert.Equal(t, ErrCodeEndOfData, err.Code())

	assert.NotEqual(t, nil, reader.Restore(Cursor{PageIndex: -1}))
}
