package pagebatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/bmizerany/assert"
	"github.com/chararch/pagebatch/status"
)

var stepParams = map[string]interface{}{"date": "20260101"}

func countStage(ctx context.Context, item interface{}, chunkCtx *ChunkContext) (Outcome, error) {
	chunkCtx.Aggregate.Add("TOTAL", 1)
	return Continue(item.(record).Id), nil
}

func exportStep(source DataSource, sink Sink, store CheckpointStore, chunkSize, pageSize int) *stepBuilder {
	return NewStep("export").
		Pages(NewOffsetPageFetcher(source), pageSize).
		Stages(StageFunc(countStage)).
		Sink(sink).
		Header(func(execution *StepExecution) ([]byte, error) {
			return []byte("ID\n"), nil
		}).
		Footer(func(aggregate *Aggregate) ([]byte, error) {
			return []byte(fmt.Sprintf("TOTAL=%d\n", aggregate.Get("TOTAL"))), nil
		}).
		ChunkSize(chunkSize).
		CheckpointStore(store)
}

func runStep(t *testing.T, step Step) (*StepExecution, BatchError) {
	execution, err := NewStepExecution("testJob", step.Name(), stepParams)
	assert.Equal(t, nil, err)
	return execution, step.Exec(context.Background(), execution)
}

func TestChunkStep_ChunkBoundaries(t *testing.T) {
	sink := &memSink{}
	store := NewMemoryCheckpointStore()
	execution, err := runStep(t, exportStep(newMemSource(5), sink, store, 2, 3).Build())

	assert.Equal(t, nil, err)
	assert.Equal(t, status.COMPLETED, execution.StepStatus)
	assert.Equal(t, []int{2, 2, 1}, sink.sizes())
	assert.Equal(t, "ID\n10\n20\n30\n40\n50\nTOTAL=5\n", sink.out.String())
	assert.Equal(t, int64(5), execution.ReadCount)
	assert.Equal(t, int64(5), execution.WriteCount)
	assert.Equal(t, int64(3), execution.CommitCount)
	assert.Equal(t, status.COMPLETED, execution.Checkpoint.Status)

	cp, _ := store.Load(context.Background(), execution.CheckpointId())
	assert.Equal(t, status.COMPLETED, cp.Status)
	assert.Equal(t, true, cp.Cursor.Exhausted)
}

func TestChunkStep_DroppedRecordsDoNotCount(t *testing.T) {
	sink := &memSink{}
	step := NewStep("filter").
		Pages(NewOffsetPageFetcher(newMemSource(9)), 4).
		Stages(Filter(func(item interface{}) bool { return item.(record).Id%20 != 0 })).
		Sink(sink).
		ChunkSize(2).
		Build()
	execution, err := runStep(t, step)

	assert.Equal(t, nil, err)
	assert.Equal(t, []int{2, 2, 1}, sink.sizes())
	assert.Equal(t, false, strings.Contains(sink.out.String(), "20"))
	assert.Equal(t, int64(9), execution.ReadCount)
	assert.Equal(t, int64(4), execution.FilterCount)
	assert.Equal(t, int64(5), execution.WriteCount)
}

func TestChunkStep_EmptySource(t *testing.T) {
	sink := &memSink{}
	execution, err := runStep(t, exportStep(newMemSource(0), sink, NewMemoryCheckpointStore(), 2, 3).Build())
	assert.Equal(t, nil, err)
	assert.Equal(t, status.COMPLETED, execution.StepStatus)
	assert.Equal(t, 0, len(sink.batches))
	assert.Equal(t, "ID\nTOTAL=0\n", sink.out.String())
}

func TestChunkStep_FetchFailureThenResume(t *testing.T) {
	source := newMemSource(7)
	source.failAt = 3
	sink := &memSink{}
	store := NewMemoryCheckpointStore()

	execution, err := runStep(t, exportStep(source, sink, store, 2, 3).Build())
	assert.Equal(t, ErrCodeFetch, err.Code())
	assert.Equal(t, status.FAILED, execution.StepStatus)
	assert.Equal(t, []int{2, 2, 2}, sink.sizes())
	assert.Equal(t, int64(3), execution.Checkpoint.CommitCount)
	assert.Equal(t, Cursor{PageIndex: 2, SkipCount: 6}, execution.Checkpoint.Cursor)
	assert.Equal(t, int64(1), execution.RollbackCount)

	resumed, err := runStep(t, exportStep(source, sink, store, 2, 3).Build())
	assert.Equal(t, nil, err)
	assert.Equal(t, true, resumed.Resumed)
	assert.Equal(t, status.COMPLETED, resumed.StepStatus)
	assert.Equal(t, int64(7), resumed.ReadCount)
	assert.Equal(t, int64(4), resumed.CommitCount)

	whole := &memSink{}
	_, err = runStep(t, exportStep(newMemSource(7), whole, NewMemoryCheckpointStore(), 2, 3).Build())
	assert.Equal(t, nil, err)
	assert.Equal(t, whole.out.String(), sink.out.String())
	assert.Equal(t, "ID\n10\n20\n30\n40\n50\n60\n70\nTOTAL=7\n", sink.out.String())
}

func TestChunkStep_CompletedCheckpointStartsFresh(t *testing.T) {
	store := NewMemoryCheckpointStore()
	first := &memSink{}
	_, err := runStep(t, exportStep(newMemSource(3), first, store, 2, 2).Build())
	assert.Equal(t, nil, err)

	second := &memSink{}
	execution, err := runStep(t, exportStep(newMemSource(3), second, store, 2, 2).Build())
	assert.Equal(t, nil, err)
	assert.Equal(t, false, execution.Resumed)
	assert.Equal(t, first.out.String(), second.out.String())
	assert.Equal(t, int64(3), execution.ReadCount)
}

type failingStore struct {
	CheckpointStore
	saves  int
	failOn int
}

func (s *failingStore) Save(ctx context.Context, stepId string, cp *Checkpoint) BatchError {
	s.saves++
	if s.saves == s.failOn {
		return NewBatchError(ErrCodeDbFail, "connection refused")
	}
	return s.CheckpointStore.Save(ctx, stepId, cp)
}

func TestChunkStep_CheckpointFailure(t *testing.T) {
	sink := &memSink{}
	store := &failingStore{CheckpointStore: NewMemoryCheckpointStore(), failOn: 2}
	execution, err := runStep(t, exportStep(newMemSource(6), sink, store, 2, 3).Build())

	assert.Equal(t, ErrCodeCheckpoint, err.Code())
	assert.Equal(t, status.FAILED, execution.StepStatus)
	assert.Equal(t, int64(1), execution.Checkpoint.CommitCount)
	// the second chunk was flushed before its checkpoint failed
	assert.Equal(t, []int{2, 2}, sink.sizes())
}

type stopAfter struct {
	commits int64
}

func (l *stopAfter) BeforeChunk(chunkCtx *ChunkContext) BatchError {
	return nil
}

func (l *stopAfter) AfterChunk(chunkCtx *ChunkContext) BatchError {
	if chunkCtx.StepExecution.CommitCount == l.commits {
		chunkCtx.StepExecution.RequestStop()
	}
	return nil
}

func (l *stopAfter) OnError(chunkCtx *ChunkContext, err BatchError) {
}

func TestChunkStep_StopAtChunkBoundary(t *testing.T) {
	sink := &memSink{}
	store := NewMemoryCheckpointStore()
	execution, err := runStep(t, exportStep(newMemSource(5), sink, store, 2, 3).Listener(&stopAfter{commits: 1}).Build())

	assert.Equal(t, nil, err)
	assert.Equal(t, status.STOPPED, execution.StepStatus)
	assert.Equal(t, []int{2}, sink.sizes())
	cp, _ := store.Load(context.Background(), execution.CheckpointId())
	assert.Equal(t, status.RUNNING, cp.Status)

	resumed, err := runStep(t, exportStep(newMemSource(5), sink, store, 2, 3).Build())
	assert.Equal(t, nil, err)
	assert.Equal(t, status.COMPLETED, resumed.StepStatus)
	assert.Equal(t, "ID\n10\n20\n30\n40\n50\nTOTAL=5\n", sink.out.String())
}

func TestChunkStep_CancelledContextStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	execution, err := NewStepExecution("testJob", "export", stepParams)
	assert.Equal(t, nil, err)
	step := exportStep(newMemSource(3), &memSink{}, NewMemoryCheckpointStore(), 2, 3).Build()
	assert.Equal(t, nil, step.Exec(ctx, execution))
	assert.Equal(t, status.STOPPED, execution.StepStatus)
}

func TestChunkStep_FlushTimeout(t *testing.T) {
	sink := &memSink{delay: time.Second}
	step := exportStep(newMemSource(3), sink, NewMemoryCheckpointStore(), 2, 3).FlushTimeout(10 * time.Millisecond).Build()
	execution, err := runStep(t, step)
	assert.Equal(t, ErrCodeTimeout, err.Code())
	assert.Equal(t, status.FAILED, execution.StepStatus)
	assert.Equal(t, int64(0), execution.Checkpoint.CommitCount)
}

func TestChunkStep_FetchTimeout(t *testing.T) {
	step := NewStep("slow").
		Pages(NewOffsetPageFetcher(&slowSource{delay: time.Second}), 3).
		Sink(&memSink{}).
		FetchTimeout(10 * time.Millisecond).
		Build()
	execution, err := runStep(t, step)
	assert.Equal(t, ErrCodeTimeout, err.Code())
	assert.Equal(t, status.FAILED, execution.StepStatus)
}

func TestChunkStep_FromZeroResume(t *testing.T) {
	source := newMemSource(6)
	source.failAt = 3
	sink := &memSink{}
	store := NewMemoryCheckpointStore()
	build := func() Step {
		return NewStep("export").
			Pages(NewFromZeroPageFetcher(source, recordKey), 2).
			Stages(StageFunc(countStage)).
			Sink(sink).
			ChunkSize(2).
			CheckpointStore(store).
			Build()
	}
	_, err := runStep(t, build())
	assert.Equal(t, ErrCodeFetch, err.Code())

	source.insert(record{Id: 5})
	execution, err := runStep(t, build())
	assert.Equal(t, nil, err)
	assert.Equal(t, "10\n20\n30\n40\n5\n50\n60\n", sink.out.String())
	assert.Equal(t, int64(7), execution.WriteCount)
}

func TestChunkStep_OpensAndClosesSource(t *testing.T) {
	source := newMemSource(3)
	_, err := runStep(t, exportStep(source, &memSink{}, NewMemoryCheckpointStore(), 2, 3).Build())
	assert.Equal(t, nil, err)
	assert.Equal(t, 1, source.opened)
	assert.Equal(t, 1, source.closed)
}

func TestSimpleStep(t *testing.T) {
	ran := false
	step := NewStep("task", func(ctx context.Context, execution *StepExecution) BatchError {
		ran = true
		return nil
	}).Build()
	execution, err := runStep(t, step)
	assert.Equal(t, nil, err)
	assert.Equal(t, true, ran)
	assert.Equal(t, status.COMPLETED, execution.StepStatus)

	failing := NewStep("failing", func() error {
		return errors.New("upload refused")
	}).Build()
	execution, err = runStep(t, failing)
	assert.NotEqual(t, nil, err)
	assert.Equal(t, status.FAILED, execution.StepStatus)

	panicking := NewStep("panicking", func() error {
		panic("boom")
	}).Build()
	execution, err = runStep(t, panicking)
	assert.Equal(t, ErrCodeGeneral, err.Code())
	assert.Equal(t, status.FAILED, execution.StepStatus)
}

func TestPartitionStep(t *testing.T) {
	store := NewMemoryCheckpointStore()
	sinkA, sinkB := &memSink{}, &memSink{}
	stepA := NewStep("export:0").Pages(NewOffsetPageFetcher(newMemSource(3)), 2).Sink(sinkA).ChunkSize(2).CheckpointStore(store).Build()
	stepB := NewStep("export:1").Pages(NewOffsetPageFetcher(newMemSource(4)), 2).Sink(sinkB).ChunkSize(2).CheckpointStore(store).Build()

	execution, err := runStep(t, NewPartitionStep("export", stepA, stepB))
	assert.Equal(t, nil, err)
	assert.Equal(t, status.COMPLETED, execution.StepStatus)
	assert.Equal(t, int64(7), execution.WriteCount)
	assert.Equal(t, 3, len(execution.JobExecution.StepExecutions))

	failingSource := newMemSource(4)
	failingSource.failAt = 1
	stepC := NewStep("import:0").Pages(NewOffsetPageFetcher(failingSource), 2).Sink(&memSink{}).CheckpointStore(store).Build()
	stepD := NewStep("import:1").Pages(NewOffsetPageFetcher(newMemSource(2)), 2).Sink(&memSink{}).CheckpointStore(store).Build()
	execution, err = runStep(t, NewPartitionStep("import", stepC, stepD))
	assert.NotEqual(t, nil, err)
	assert.Equal(t, status.FAILED, execution.StepStatus)
}
