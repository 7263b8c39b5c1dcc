package pagebatch

import (
	"context"
	"fmt"
	"time"
)

const (
	//DefaultChunkSize default number of records written per chunk
	DefaultChunkSize = 10
)

type stepBuilder struct {
	name           string
	task           Task
	handler        Handler
	reader         Reader
	processor      Processor
	stages         []Stage
	sink           Sink
	header         HeaderCallback
	footer         FooterCallback
	decorators     []WriteDecorator
	chunkSize      int
	store          CheckpointStore
	txManager      TransactionManager
	fetchTimeout   time.Duration
	flushTimeout   time.Duration
	stepListeners  []StepListener
	chunkListeners []ChunkListener
}

//NewStep initialize a step builder
func NewStep(name string, handler ...interface{}) *stepBuilder {
	if name == "" {
		panic("step name must not be empty")
	}
	builder := &stepBuilder{
		name:           name,
		chunkSize:      DefaultChunkSize,
		stepListeners:  make([]StepListener, 0),
		chunkListeners: make([]ChunkListener, 0),
	}
	for _, h := range handler {
		builder.Handler(h)
	}
	return builder
}

func (builder *stepBuilder) Handler(handler interface{}) *stepBuilder {
	valid := false
	switch val := handler.(type) {
	case Task:
		builder.Task(val)
		valid = true
	case func(ctx context.Context, execution *StepExecution) BatchError:
		builder.Task(val)
		valid = true
	case func(ctx context.Context) error:
		builder.Task(func(ctx context.Context, execution *StepExecution) BatchError {
			if e := val(ctx); e != nil {
				return WrapError(ErrCodeGeneral, e, "execute step:%v error", execution.StepName)
			}
			return nil
		})
		valid = true
	case func() error:
		builder.Task(func(ctx context.Context, execution *StepExecution) BatchError {
			if e := val(); e != nil {
				return WrapError(ErrCodeGeneral, e, "execute step:%v error", execution.StepName)
			}
			return nil
		})
		valid = true
	case Handler:
		builder.handler = val
		valid = true
	default:
		if r, ok := handler.(Reader); ok {
			builder.Reader(r)
			valid = true
		}
		if p, ok := handler.(Processor); ok {
			builder.Processor(p)
			valid = true
		}
		if s, ok := handler.(Stage); ok {
			builder.Stages(s)
			valid = true
		}
		if s, ok := handler.(Sink); ok {
			builder.Sink(s)
			valid = true
		}
		if l, ok := handler.(StepListener); ok {
			builder.stepListeners = append(builder.stepListeners, l)
			valid = true
		}
		if l, ok := handler.(ChunkListener); ok {
			builder.chunkListeners = append(builder.chunkListeners, l)
			valid = true
		}
	}
	if !valid {
		panic(fmt.Sprintf("invalid handler type:%T for step:%v", handler, builder.name))
	}
	return builder
}

func (builder *stepBuilder) Task(task Task) *stepBuilder {
	builder.task = task
	return builder
}

func (builder *stepBuilder) Reader(reader Reader) *stepBuilder {
	builder.reader = reader
	return builder
}

// Pages read through a PagingReader over fetcher
func (builder *stepBuilder) Pages(fetcher PageFetcher, pageSize int) *stepBuilder {
	builder.reader = NewPagingReader(fetcher, pageSize)
	return builder
}

func (builder *stepBuilder) Processor(processor Processor) *stepBuilder {
	builder.processor = processor
	return builder
}

// Stages append stages to the step's ProcessorPipeline, ignored when Processor is set
func (builder *stepBuilder) Stages(stages ...Stage) *stepBuilder {
	builder.stages = append(builder.stages, stages...)
	return builder
}

func (builder *stepBuilder) Sink(sink Sink) *stepBuilder {
	builder.sink = sink
	return builder
}

func (builder *stepBuilder) Header(cb HeaderCallback) *stepBuilder {
	builder.header = cb
	return builder
}

func (builder *stepBuilder) Footer(cb FooterCallback) *stepBuilder {
	builder.footer = cb
	return builder
}

func (builder *stepBuilder) Decorate(decorators ...WriteDecorator) *stepBuilder {
	builder.decorators = append(builder.decorators, decorators...)
	return builder
}

func (builder *stepBuilder) ChunkSize(chunkSize int) *stepBuilder {
	builder.chunkSize = chunkSize
	return builder
}

// CheckpointStore where checkpoints are saved, in memory by default
func (builder *stepBuilder) CheckpointStore(store CheckpointStore) *stepBuilder {
	builder.store = store
	return builder
}

func (builder *stepBuilder) TransactionManager(txManager TransactionManager) *stepBuilder {
	builder.txManager = txManager
	return builder
}

// FetchTimeout bound of each read, zero for none
func (builder *stepBuilder) FetchTimeout(timeout time.Duration) *stepBuilder {
	builder.fetchTimeout = timeout
	return builder
}

// FlushTimeout bound of each chunk write, zero for none
func (builder *stepBuilder) FlushTimeout(timeout time.Duration) *stepBuilder {
	builder.flushTimeout = timeout
	return builder
}

func (builder *stepBuilder) Listener(listener ...interface{}) *stepBuilder {
	for _, l := range listener {
		valid := false
		if ll, ok := l.(StepListener); ok {
			builder.stepListeners = append(builder.stepListeners, ll)
			valid = true
		}
		if ll, ok := l.(ChunkListener); ok {
			builder.chunkListeners = append(builder.chunkListeners, ll)
			valid = true
		}
		if !valid {
			panic(fmt.Sprintf("not supported listener:%T for step:%v", l, builder.name))
		}
	}
	return builder
}

func (builder *stepBuilder) Build() Step {
	if builder.handler != nil {
		return newSimpleStep(builder.name, builder.handler, builder.stepListeners)
	}
	if builder.task != nil {
		return newSimpleStep(builder.name, &handlerAdapter{task: builder.task}, builder.stepListeners)
	}
	if builder.reader == nil {
		panic(fmt.Sprintf("no handler or reader specified for step: %s", builder.name))
	}
	if builder.sink == nil {
		panic(fmt.Sprintf("no sink specified for chunk step: %s", builder.name))
	}
	if builder.chunkSize <= 0 {
		panic(fmt.Sprintf("chunk size of step:%s must be positive, got %d", builder.name, builder.chunkSize))
	}
	processor := builder.processor
	if processor == nil {
		processor = NewPipeline(builder.stages...)
	}
	store := builder.store
	if store == nil {
		store = NewMemoryCheckpointStore()
	}
	txManager := builder.txManager
	if txManager == nil {
		txManager = noopTxManager{}
	}
	writer := NewChunkWriter(builder.sink, builder.chunkSize).
		OnHeader(builder.header).
		OnFooter(builder.footer).
		Decorate(builder.decorators...)
	return &chunkStep{
		name:           builder.name,
		reader:         builder.reader,
		processor:      processor,
		writer:         writer,
		chunkSize:      builder.chunkSize,
		store:          store,
		txManager:      txManager,
		fetchTimeout:   builder.fetchTimeout,
		flushTimeout:   builder.flushTimeout,
		listeners:      builder.stepListeners,
		chunkListeners: builder.chunkListeners,
	}
}
