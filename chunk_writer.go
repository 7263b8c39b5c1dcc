package pagebatch

import (
	"context"

	"github.com/pkg/errors"
)

const (
	headerWrittenKey = "pagebatch.ChunkWriter.headerWritten"
	footerWrittenKey = "pagebatch.ChunkWriter.footerWritten"
)

// HeaderCallback bytes written once before the first record of a step
type HeaderCallback func(execution *StepExecution) ([]byte, error)

// FooterCallback bytes written once after the last record of a step, given the final aggregate
type FooterCallback func(aggregate *Aggregate) ([]byte, error)

// WriteDecorator side effects around each successful batch write
type WriteDecorator interface {
	BeforeWrite(ctx context.Context, items []interface{}, chunkCtx *ChunkContext) error
	AfterWrite(ctx context.Context, items []interface{}, chunkCtx *ChunkContext) error
}

// ChunkWriter buffers processed records and writes them to a Sink in one batch per chunk
type ChunkWriter struct {
	sink       Sink
	chunkSize  int
	buffer     []interface{}
	header     HeaderCallback
	footer     FooterCallback
	decorators []WriteDecorator
}

// NewChunkWriter writer holding at most chunkSize records
func NewChunkWriter(sink Sink, chunkSize int) *ChunkWriter {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &ChunkWriter{sink: sink, chunkSize: chunkSize, buffer: make([]interface{}, 0, chunkSize)}
}

// OnHeader set the header callback; the sink must be a StreamSink
func (w *ChunkWriter) OnHeader(cb HeaderCallback) *ChunkWriter {
	w.header = cb
	return w
}

// OnFooter set the footer callback; the sink must be a StreamSink
func (w *ChunkWriter) OnFooter(cb FooterCallback) *ChunkWriter {
	w.footer = cb
	return w
}

func (w *ChunkWriter) Decorate(decorators ...WriteDecorator) *ChunkWriter {
	w.decorators = append(w.decorators, decorators...)
	return w
}

// Add buffer item; fails once the buffer holds chunkSize records
func (w *ChunkWriter) Add(item interface{}) BatchError {
	if len(w.buffer) >= w.chunkSize {
		return NewBatchError(ErrCodeWrite, "chunk buffer is full, size:%v", w.chunkSize)
	}
	w.buffer = append(w.buffer, item)
	return nil
}

func (w *ChunkWriter) Len() int {
	return len(w.buffer)
}

func (w *ChunkWriter) Full() bool {
	return len(w.buffer) >= w.chunkSize
}

// Discard drop buffered records of a failed chunk
func (w *ChunkWriter) Discard() {
	w.buffer = w.buffer[:0]
}

// Flush write all buffered records in one batch; the buffer is kept on failure
func (w *ChunkWriter) Flush(ctx context.Context, chunkCtx *ChunkContext) (int, BatchError) {
	if len(w.buffer) == 0 {
		return 0, nil
	}
	if err := w.writeHeader(ctx, chunkCtx); err != nil {
		return 0, err
	}
	items := w.buffer
	for _, d := range w.decorators {
		if err := d.BeforeWrite(ctx, items, chunkCtx); err != nil {
			return 0, WrapError(ErrCodeWrite, err, "before write decorator failed")
		}
	}
	if err := w.sink.WriteBatch(ctx, items, chunkCtx); err != nil {
		if ctx.Err() == context.DeadlineExceeded || errors.Is(err, context.DeadlineExceeded) {
			return 0, NewBatchError(ErrCodeTimeout, "flush of %v records timed out", len(items), err)
		}
		return 0, WrapError(ErrCodeWrite, err, "write %v records failed", len(items))
	}
	for _, d := range w.decorators {
		if err := d.AfterWrite(ctx, items, chunkCtx); err != nil {
			return 0, WrapError(ErrCodeWrite, err, "after write decorator failed")
		}
	}
	n := len(items)
	w.buffer = make([]interface{}, 0, w.chunkSize)
	return n, nil
}

func (w *ChunkWriter) writeHeader(ctx context.Context, chunkCtx *ChunkContext) BatchError {
	if w.header == nil {
		return nil
	}
	executionCtx := chunkCtx.StepExecution.StepExecutionContext
	if written, _ := executionCtx.GetBool(headerWrittenKey, false); written {
		return nil
	}
	data, err := w.header(chunkCtx.StepExecution)
	if err != nil {
		return WrapError(ErrCodeWrite, err, "header callback failed")
	}
	if err = w.writeRaw(ctx, data, chunkCtx); err != nil {
		return WrapError(ErrCodeWrite, err, "write header failed")
	}
	executionCtx.Put(headerWrittenKey, true)
	return nil
}

// Finish write the footer for the final aggregate, once per step. A step without records still gets its header first.
func (w *ChunkWriter) Finish(ctx context.Context, chunkCtx *ChunkContext) BatchError {
	if err := w.writeHeader(ctx, chunkCtx); err != nil {
		return err
	}
	if w.footer == nil {
		return nil
	}
	executionCtx := chunkCtx.StepExecution.StepExecutionContext
	if written, _ := executionCtx.GetBool(footerWrittenKey, false); written {
		return nil
	}
	data, err := w.footer(chunkCtx.Aggregate)
	if err != nil {
		return WrapError(ErrCodeWrite, err, "footer callback failed")
	}
	if err = w.writeRaw(ctx, data, chunkCtx); err != nil {
		return WrapError(ErrCodeWrite, err, "write footer failed")
	}
	executionCtx.Put(footerWrittenKey, true)
	return nil
}

func (w *ChunkWriter) writeRaw(ctx context.Context, data []byte, chunkCtx *ChunkContext) error {
	if len(data) == 0 {
		return nil
	}
	ss, ok := w.sink.(StreamSink)
	if !ok {
		return errors.Errorf("sink %T does not accept header or footer output", w.sink)
	}
	return ss.WriteRaw(ctx, data, chunkCtx)
}

func (w *ChunkWriter) Open(ctx context.Context, execution *StepExecution) BatchError {
	w.Discard()
	if oc, ok := w.sink.(OpenCloser); ok {
		return oc.Open(ctx, execution)
	}
	return nil
}

func (w *ChunkWriter) Close(ctx context.Context, execution *StepExecution) BatchError {
	if oc, ok := w.sink.(OpenCloser); ok {
		return oc.Close(ctx, execution)
	}
	return nil
}
