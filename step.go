package pagebatch

import (
	"context"
	"fmt"
	"reflect"
	"runtime/debug"
	"time"

	"github.com/chararch/pagebatch/status"
	"github.com/hashicorp/go-multierror"
)

// Step step interface
type Step interface {
	Name() string
	Exec(ctx context.Context, execution *StepExecution) BatchError
	addListener(listener StepListener)
}

// simpleStep runs a Task or Handler once
type simpleStep struct {
	name      string
	handler   Handler
	listeners []StepListener
}

type handlerAdapter struct {
	task Task
}

func (h *handlerAdapter) Handle(ctx context.Context, execution *StepExecution) BatchError {
	return h.task(ctx, execution)
}

func newSimpleStep(name string, handler Handler, listeners []StepListener) *simpleStep {
	return &simpleStep{
		name:      name,
		handler:   handler,
		listeners: listeners,
	}
}

func (step *simpleStep) Name() string {
	return step.name
}

func (step *simpleStep) Exec(ctx context.Context, execution *StepExecution) (err BatchError) {
	defer func() {
		err = execEnd(ctx, execution, err, recover())
	}()
	logger.Info(ctx, "step execute start, jobExecutionId:%v, stepName:%v", execution.JobExecution.JobExecutionId, execution.StepName)
	if err = beforeStep(ctx, step.listeners, execution); err != nil {
		return err
	}
	execution.start()
	err = step.handler.Handle(ctx, execution)
	if err != nil {
		logger.Error(ctx, "step execute failed, jobExecutionId:%v, stepName:%v, err:%v", execution.JobExecution.JobExecutionId, execution.StepName, err)
	}
	execution.finish(err)
	afterStep(ctx, step.listeners, execution)
	logger.Info(ctx, "step execute finish, jobExecutionId:%v, stepName:%v, stepStatus:%v", execution.JobExecution.JobExecutionId, execution.StepName, execution.StepStatus)
	return err
}

func (step *simpleStep) addListener(listener StepListener) {
	step.listeners = append(step.listeners, listener)
}

func beforeStep(ctx context.Context, listeners []StepListener, execution *StepExecution) BatchError {
	for _, listener := range listeners {
		if err := listener.BeforeStep(execution); err != nil {
			logger.Error(ctx, "step listener executing error, jobExecutionId:%v, stepName:%v, listener:%v, err:%v", execution.JobExecution.JobExecutionId, execution.StepName, reflect.TypeOf(listener).String(), err)
			return err
		}
	}
	return nil
}

func afterStep(ctx context.Context, listeners []StepListener, execution *StepExecution) {
	for _, listener := range listeners {
		if err := listener.AfterStep(execution); err != nil {
			logger.Error(ctx, "step listener executing error, jobExecutionId:%v, stepName:%v, listener:%v, err:%v", execution.JobExecution.JobExecutionId, execution.StepName, reflect.TypeOf(listener).String(), err)
			if execution.StepStatus != status.FAILED {
				execution.finish(err)
			}
		}
	}
}

// execEnd turns a panic or an error that escaped status bookkeeping into FAILED
func execEnd(ctx context.Context, execution *StepExecution, err BatchError, recoverErr interface{}) BatchError {
	if recoverErr != nil {
		logger.Error(ctx, "panic in step executing, jobExecutionId:%v, stepName:%v, err:%v, stack:%v", execution.JobExecution.JobExecutionId, execution.StepName, recoverErr, string(debug.Stack()))
		err = NewBatchError(ErrCodeGeneral, "panic in step execution", fmt.Errorf("%v", recoverErr))
	}
	if err != nil && execution.StepStatus != status.FAILED {
		logger.Error(ctx, "step executing error, jobExecutionId:%v, stepName:%v, err:%v", execution.JobExecution.JobExecutionId, execution.StepName, err)
		execution.finish(err)
	}
	return err
}

// chunkStep reads, processes and writes records in chunks, saving a checkpoint after each commit
type chunkStep struct {
	name           string
	reader         Reader
	processor      Processor
	writer         *ChunkWriter
	chunkSize      int
	store          CheckpointStore
	txManager      TransactionManager
	fetchTimeout   time.Duration
	flushTimeout   time.Duration
	listeners      []StepListener
	chunkListeners []ChunkListener
}

func (step *chunkStep) Name() string {
	return step.name
}

func (step *chunkStep) Exec(ctx context.Context, execution *StepExecution) (err BatchError) {
	defer func() {
		err = execEnd(ctx, execution, err, recover())
	}()
	jobExecutionId := execution.JobExecution.JobExecutionId
	logger.Info(ctx, "step execute start, jobExecutionId:%v, stepName:%v, checkpointId:%v", jobExecutionId, execution.StepName, execution.CheckpointId())
	execution.StepStatus = status.STARTING
	aggregate := NewAggregate()
	if err = step.restore(ctx, execution, aggregate); err != nil {
		logger.Error(ctx, "restore checkpoint failed, jobExecutionId:%v, stepName:%v, err:%v", jobExecutionId, execution.StepName, err)
		return err
	}
	if err = beforeStep(ctx, step.listeners, execution); err != nil {
		return err
	}
	if err = step.doOpen(ctx, execution); err != nil {
		logger.Error(ctx, "open resource failed, jobExecutionId:%v, stepName:%v, err:%v", jobExecutionId, execution.StepName, err)
		if e := step.doClose(ctx, execution); e != nil {
			logger.Error(ctx, "close resource failed, jobExecutionId:%v, stepName:%v, err:%v", jobExecutionId, execution.StepName, e)
		}
		return err
	}
	execution.start()
	err = step.run(ctx, execution, aggregate)
	if e := step.doClose(ctx, execution); e != nil {
		logger.Error(ctx, "close resource failed, jobExecutionId:%v, stepName:%v, err:%v", jobExecutionId, execution.StepName, e)
		if err == nil {
			err = e
		}
	}
	switch {
	case err != nil:
		execution.finish(err)
	case execution.StepStatus == status.STOPPED:
		execution.EndTime = time.Now()
	default:
		execution.finish(nil)
	}
	afterStep(ctx, step.listeners, execution)
	logger.Info(ctx, "step execute finish, jobExecutionId:%v, stepName:%v, stepStatus:%v, read:%v, write:%v, filter:%v, commit:%v", jobExecutionId, execution.StepName, execution.StepStatus, execution.ReadCount, execution.WriteCount, execution.FilterCount, execution.CommitCount)
	return err
}

// restore load the checkpoint; resume from it unless the last run completed
func (step *chunkStep) restore(ctx context.Context, execution *StepExecution, aggregate *Aggregate) BatchError {
	id := execution.CheckpointId()
	cp, err := step.store.Load(ctx, id)
	if err != nil {
		return NewBatchError(ErrCodeCheckpoint, "load checkpoint:%v", id, err)
	}
	working := &Checkpoint{StepId: id, Status: status.RUNNING, ChunkSize: step.chunkSize}
	if cp != nil {
		working.Version = cp.Version
	}
	if cp == nil || cp.Status == status.COMPLETED {
		if r, ok := step.reader.(Restartable); ok {
			if err = r.Restore(Cursor{}); err != nil {
				return err
			}
		}
		execution.Checkpoint = working
		return nil
	}
	execution.StepStatus = status.RESUMING
	execution.Resumed = true
	logger.Info(ctx, "resume step from checkpoint, jobExecutionId:%v, stepName:%v, cursor:%+v, commits:%v", execution.JobExecution.JobExecutionId, execution.StepName, cp.Cursor, cp.CommitCount)
	if r, ok := step.reader.(Restartable); ok {
		if err = r.Restore(cp.Cursor); err != nil {
			return err
		}
	} else if cp.Cursor.SkipCount > 0 {
		return NewBatchError(ErrCodeCheckpoint, "reader %T of step:%v can not resume from checkpoint:%v", step.reader, execution.StepName, id)
	}
	if len(cp.Aggregate) > 0 {
		if e := aggregate.UnmarshalJSON(cp.Aggregate); e != nil {
			return NewBatchError(ErrCodeCheckpoint, "parse aggregate of checkpoint:%v", id, e)
		}
	}
	execution.StepExecutionContext.Merge(cp.Context)
	execution.ReadCount = cp.ReadCount
	execution.WriteCount = cp.WriteCount
	execution.FilterCount = cp.FilterCount
	execution.CommitCount = cp.CommitCount
	if cp.ChunkSize != step.chunkSize {
		logger.Warn(ctx, "chunk size changed since last run, stepName:%v, old:%v, new:%v", execution.StepName, cp.ChunkSize, step.chunkSize)
	}
	working.Cursor = cp.Cursor
	working.Aggregate = cp.Aggregate
	working.Context = cp.Context
	working.ReadCount, working.WriteCount, working.FilterCount, working.CommitCount = cp.ReadCount, cp.WriteCount, cp.FilterCount, cp.CommitCount
	execution.Checkpoint = working
	return nil
}

func (step *chunkStep) run(ctx context.Context, execution *StepExecution, aggregate *Aggregate) BatchError {
	if scoped, ok := step.processor.(StepScoped); ok {
		if e := scoped.BindStep(execution); e != nil {
			return WrapError(ErrCodeProcess, e, "bind processor to step:%v", execution.StepName)
		}
	}
	for {
		if execution.stopRequested() || ctx.Err() != nil {
			logger.Info(ctx, "step stopped at chunk boundary, jobExecutionId:%v, stepName:%v, commits:%v", execution.JobExecution.JobExecutionId, execution.StepName, execution.CommitCount)
			execution.StepStatus = status.STOPPED
			return nil
		}
		end, err := step.doChunk(detach(ctx), execution, aggregate)
		if err != nil {
			return err
		}
		if end {
			return nil
		}
		execution.StepStatus = status.RUNNING
	}
}

type chunkStats struct {
	read     int64
	filtered int64
	written  int64
}

// doChunk fill, flush and commit one chunk. end is true once the footer and the final checkpoint are committed.
func (step *chunkStep) doChunk(ctx context.Context, execution *StepExecution, aggregate *Aggregate) (end bool, err BatchError) {
	jobExecutionId := execution.JobExecution.JobExecutionId
	tx, err := step.txManager.BeginTx(ctx)
	if err != nil {
		logger.Error(ctx, "start transaction err, jobExecutionId:%v, stepName:%v, err:%v", jobExecutionId, execution.StepName, err)
		return false, err
	}
	chunkCtx := &ChunkContext{StepExecution: execution, Tx: tx, Aggregate: aggregate}
	committed := false
	defer func() {
		if r := recover(); r != nil {
			logger.Error(ctx, "panic on chunk executing, jobExecutionId:%v, stepName:%v, err:%v, stack:%v", jobExecutionId, execution.StepName, r, string(debug.Stack()))
			err = NewBatchError(ErrCodeGeneral, "panic on chunk executing, stepName:%v", execution.StepName, fmt.Errorf("%v", r))
		}
		if err != nil && !committed {
			step.discard(ctx, chunkCtx, err)
		}
	}()
	for _, listener := range step.chunkListeners {
		if err = listener.BeforeChunk(chunkCtx); err != nil {
			logger.Error(ctx, "chunk listener executing error, jobExecutionId:%v, stepName:%v, listener:%v, err:%v", jobExecutionId, execution.StepName, reflect.TypeOf(listener).String(), err)
			return false, err
		}
	}
	stats, err := step.fill(ctx, chunkCtx)
	if err != nil {
		return false, err
	}
	final := chunkCtx.End && stats.read == 0
	execution.StepStatus = status.COMMITTING
	if final {
		err = step.withTimeout(ctx, step.flushTimeout, func(c context.Context) BatchError {
			return step.writer.Finish(c, chunkCtx)
		})
	} else {
		err = step.withTimeout(ctx, step.flushTimeout, func(c context.Context) BatchError {
			n, e := step.writer.Flush(c, chunkCtx)
			stats.written = int64(n)
			return e
		})
	}
	if err != nil {
		logger.Error(ctx, "write chunk data error, jobExecutionId:%v, stepName:%v, err:%v", jobExecutionId, execution.StepName, err)
		return false, err
	}
	if err = step.commit(ctx, chunkCtx, stats, final); err != nil {
		return false, err
	}
	committed = true
	logger.Debug(ctx, "chunk committed, jobExecutionId:%v, stepName:%v, read:%v, filter:%v, write:%v, cursor:%+v", jobExecutionId, execution.StepName, stats.read, stats.filtered, stats.written, execution.Checkpoint.Cursor)
	for _, listener := range step.chunkListeners {
		if err = listener.AfterChunk(chunkCtx); err != nil {
			logger.Error(ctx, "chunk listener executing error, jobExecutionId:%v, stepName:%v, listener:%v, err:%v", jobExecutionId, execution.StepName, reflect.TypeOf(listener).String(), err)
			return false, err
		}
	}
	return final, nil
}

// fill read and process until the chunk holds chunkSize accepted records or the reader is exhausted
func (step *chunkStep) fill(ctx context.Context, chunkCtx *ChunkContext) (chunkStats, BatchError) {
	stats := chunkStats{}
	for !step.writer.Full() {
		var item interface{}
		err := step.withTimeout(ctx, step.fetchTimeout, func(c context.Context) BatchError {
			var e BatchError
			item, e = step.reader.Read(c, chunkCtx)
			return e
		})
		if err != nil && err.Code() == ErrCodeEndOfData {
			chunkCtx.End = true
			break
		}
		if err != nil {
			logger.Error(ctx, "read chunk data error, jobExecutionId:%v, stepName:%v, err:%v", chunkCtx.StepExecution.JobExecution.JobExecutionId, chunkCtx.StepExecution.StepName, err)
			return stats, err
		}
		stats.read++
		out, err := step.processor.Process(ctx, item, chunkCtx)
		if err != nil {
			logger.Error(ctx, "process chunk item error, jobExecutionId:%v, stepName:%v, item:%v, err:%v", chunkCtx.StepExecution.JobExecution.JobExecutionId, chunkCtx.StepExecution.StepName, item, err)
			return stats, err
		}
		if out.Dropped() {
			stats.filtered++
			continue
		}
		if err = step.writer.Add(out.Item()); err != nil {
			return stats, err
		}
		chunkCtx.Items++
	}
	return stats, nil
}

// commit persist the checkpoint and commit the chunk transaction. A TxStore saves inside the transaction,
// any other store right after it commits.
func (step *chunkStep) commit(ctx context.Context, chunkCtx *ChunkContext, stats chunkStats, final bool) BatchError {
	execution := chunkCtx.StepExecution
	chunkCtx.Aggregate.commit()
	cp, err := step.nextCheckpoint(execution, chunkCtx.Aggregate, stats, final)
	if err != nil {
		return err
	}
	id := execution.CheckpointId()
	txStore, inTx := step.store.(TxStore)
	inTx = inTx && chunkCtx.Tx != nil
	if inTx {
		if err = txStore.SaveTx(ctx, chunkCtx.Tx, id, cp); err != nil {
			return NewBatchError(ErrCodeCheckpoint, "save checkpoint:%v", id, err)
		}
	}
	if err = step.txManager.Commit(chunkCtx.Tx); err != nil {
		logger.Error(ctx, "commit transaction err, jobExecutionId:%v, stepName:%v, err:%v", execution.JobExecution.JobExecutionId, execution.StepName, err)
		return err
	}
	if !inTx {
		if err = step.store.Save(ctx, id, cp); err != nil {
			logger.Error(ctx, "save checkpoint failed after flush, jobExecutionId:%v, stepName:%v, err:%v", execution.JobExecution.JobExecutionId, execution.StepName, err)
			return NewBatchError(ErrCodeCheckpoint, "save checkpoint:%v", id, err)
		}
	}
	execution.Checkpoint = cp
	execution.ReadCount, execution.FilterCount, execution.WriteCount, execution.CommitCount = cp.ReadCount, cp.FilterCount, cp.WriteCount, cp.CommitCount
	execution.LastUpdated = cp.LastUpdated
	return nil
}

func (step *chunkStep) nextCheckpoint(execution *StepExecution, aggregate *Aggregate, stats chunkStats, final bool) (*Checkpoint, BatchError) {
	prev := execution.Checkpoint
	cp := &Checkpoint{
		StepId:      prev.StepId,
		Status:      status.RUNNING,
		Cursor:      prev.Cursor,
		ChunkSize:   step.chunkSize,
		Context:     execution.StepExecutionContext.DeepCopy(),
		ReadCount:   prev.ReadCount + stats.read,
		FilterCount: prev.FilterCount + stats.filtered,
		WriteCount:  prev.WriteCount + stats.written,
		CommitCount: prev.CommitCount,
		Version:     prev.Version,
	}
	if !final {
		cp.CommitCount++
	} else {
		cp.Status = status.COMPLETED
	}
	if r, ok := step.reader.(Restartable); ok {
		cp.Cursor = r.Snapshot()
	}
	agg, err := aggregate.MarshalJSON()
	if err != nil {
		return nil, NewBatchError(ErrCodeCheckpoint, "serialize aggregate of step:%v", execution.StepName, err)
	}
	cp.Aggregate = agg
	return cp, nil
}

// discard roll back a failed chunk; the checkpoint stays at the last commit
func (step *chunkStep) discard(ctx context.Context, chunkCtx *ChunkContext, cause BatchError) {
	execution := chunkCtx.StepExecution
	if err := step.txManager.Rollback(chunkCtx.Tx); err != nil {
		logger.Error(ctx, "rollback transaction err, jobExecutionId:%v, stepName:%v, err:%v", execution.JobExecution.JobExecutionId, execution.StepName, err)
	}
	chunkCtx.Aggregate.rollback()
	step.writer.Discard()
	execution.RollbackCount++
	for _, listener := range step.chunkListeners {
		listener.OnError(chunkCtx, cause)
	}
}

func (step *chunkStep) withTimeout(ctx context.Context, timeout time.Duration, fn func(ctx context.Context) BatchError) BatchError {
	if timeout <= 0 {
		return fn(ctx)
	}
	c, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(c)
}

func (step *chunkStep) doOpen(ctx context.Context, execution *StepExecution) BatchError {
	if rc, ok := step.reader.(OpenCloser); ok {
		if err := rc.Open(ctx, execution); err != nil {
			return err
		}
	}
	return step.writer.Open(ctx, execution)
}

func (step *chunkStep) doClose(ctx context.Context, execution *StepExecution) BatchError {
	var result *multierror.Error
	if rc, ok := step.reader.(OpenCloser); ok {
		if err := rc.Close(ctx, execution); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if err := step.writer.Close(ctx, execution); err != nil {
		result = multierror.Append(result, err)
	}
	if err := result.ErrorOrNil(); err != nil {
		return NewBatchError(ErrCodeGeneral, "close resources of step:%v", execution.StepName, err)
	}
	return nil
}

func (step *chunkStep) addListener(listener StepListener) {
	step.listeners = append(step.listeners, listener)
}

func (step *chunkStep) addChunkListener(listener ChunkListener) {
	step.chunkListeners = append(step.chunkListeners, listener)
}

// partitionStep runs independent steps, each over its own slice of the data, in parallel on the step pool
type partitionStep struct {
	name      string
	steps     []Step
	listeners []StepListener
	taskPool  *taskPool
}

// NewPartitionStep step running steps in parallel. Each one keeps its own checkpoint, so their names must differ.
func NewPartitionStep(name string, steps ...Step) Step {
	if name == "" {
		panic("step name must not be empty")
	}
	seen := map[string]bool{}
	for _, s := range steps {
		if seen[s.Name()] {
			panic(fmt.Sprintf("duplicated partition name:%v in step:%v", s.Name(), name))
		}
		seen[s.Name()] = true
	}
	return &partitionStep{name: name, steps: steps, taskPool: stepPool}
}

func (step *partitionStep) Name() string {
	return step.name
}

func (step *partitionStep) Exec(ctx context.Context, execution *StepExecution) (err BatchError) {
	defer func() {
		err = execEnd(ctx, execution, err, recover())
	}()
	logger.Info(ctx, "start executing step, jobExecutionId:%v, stepName:%v, partitions:%v", execution.JobExecution.JobExecutionId, execution.StepName, len(step.steps))
	if err = beforeStep(ctx, step.listeners, execution); err != nil {
		return err
	}
	execution.start()
	subExecutions := make([]*StepExecution, len(step.steps))
	futures := make([]Future, len(step.steps))
	for i, sub := range step.steps {
		subExecution := execution.child(sub.Name())
		subExecutions[i] = subExecution
		execution.JobExecution.AddStepExecution(subExecution)
		s := sub
		futures[i] = step.taskPool.Submit(ctx, func() (interface{}, error) {
			if e := s.Exec(ctx, subExecution); e != nil {
				return nil, e
			}
			return nil, nil
		})
	}
	stepStatus := status.COMPLETED
	var failures *multierror.Error
	for i, fu := range futures {
		sub := subExecutions[i]
		if _, e := fu.Get(); e != nil {
			logger.Error(ctx, "sub-step execute failed, jobExecutionId:%v, sub-step name:%v, err:%v", execution.JobExecution.JobExecutionId, sub.StepName, e)
			failures = multierror.Append(failures, e)
			if sub.StepStatus != status.FAILED {
				sub.finish(e)
			}
		}
		stepStatus = stepStatus.And(sub.StepStatus)
		execution.ReadCount += sub.ReadCount
		execution.WriteCount += sub.WriteCount
		execution.FilterCount += sub.FilterCount
		execution.CommitCount += sub.CommitCount
		execution.RollbackCount += sub.RollbackCount
	}
	if e := failures.ErrorOrNil(); e != nil {
		err = NewBatchError(ErrCodeGeneral, "%v of %v partitions failed", len(failures.Errors), len(step.steps), e)
		execution.finish(err)
	} else {
		execution.StepStatus = stepStatus
		execution.EndTime = time.Now()
	}
	afterStep(ctx, step.listeners, execution)
	logger.Info(ctx, "finish step execution, jobExecutionId:%v, stepName:%v, stepStatus:%v", execution.JobExecution.JobExecutionId, execution.StepName, execution.StepStatus)
	return err
}

func (step *partitionStep) addListener(listener StepListener) {
	step.listeners = append(step.listeners, listener)
}

func (step *partitionStep) addChunkListener(listener ChunkListener) {
	for _, s := range step.steps {
		if cs, ok := s.(*chunkStep); ok {
			cs.addChunkListener(listener)
		}
	}
}
