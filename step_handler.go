package pagebatch

import "context"

// Task body of a tasklet step
type Task func(ctx context.Context, execution *StepExecution) BatchError

// Handler body of a tasklet step
type Handler interface {
	Handle(ctx context.Context, execution *StepExecution) BatchError
}

// Reader returns the next record, or EndOfData once exhausted
type Reader interface {
	Read(ctx context.Context, chunkCtx *ChunkContext) (interface{}, BatchError)
}

// Processor turns a read record into its written form, or drops it
type Processor interface {
	Process(ctx context.Context, item interface{}, chunkCtx *ChunkContext) (Outcome, BatchError)
}

// Sink persists a batch of records, all or nothing
type Sink interface {
	WriteBatch(ctx context.Context, items []interface{}, chunkCtx *ChunkContext) error
}

// StreamSink a Sink that also accepts raw bytes, used for header and footer output
type StreamSink interface {
	Sink
	WriteRaw(ctx context.Context, data []byte, chunkCtx *ChunkContext) error
}

// OpenCloser resources opened before the first chunk and closed after the last one.
// Implemented optionally by readers, sinks and data sources.
type OpenCloser interface {
	Open(ctx context.Context, execution *StepExecution) BatchError
	Close(ctx context.Context, execution *StepExecution) BatchError
}

// Restartable a Reader whose position can be saved in and restored from a Cursor
type Restartable interface {
	Snapshot() Cursor
	Restore(cursor Cursor) BatchError
}
