package pagebatch

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
)

// Outcome result of a Stage: the record to pass on, or a drop
type Outcome struct {
	item    interface{}
	dropped bool
}

// Continue pass item to the next stage
func Continue(item interface{}) Outcome {
	return Outcome{item: item}
}

// Drop exclude the record from the chunk; remaining stages are skipped
func Drop() Outcome {
	return Outcome{dropped: true}
}

func (o Outcome) Item() interface{} {
	return o.item
}

func (o Outcome) Dropped() bool {
	return o.dropped
}

// Stage one step of a ProcessorPipeline
type Stage interface {
	Apply(ctx context.Context, item interface{}, chunkCtx *ChunkContext) (Outcome, error)
}

// StageFunc adapts a function to Stage
type StageFunc func(ctx context.Context, item interface{}, chunkCtx *ChunkContext) (Outcome, error)

func (f StageFunc) Apply(ctx context.Context, item interface{}, chunkCtx *ChunkContext) (Outcome, error) {
	return f(ctx, item, chunkCtx)
}

// Transform stage replacing the record with fn's result
func Transform(fn func(item interface{}) (interface{}, error)) Stage {
	return StageFunc(func(ctx context.Context, item interface{}, chunkCtx *ChunkContext) (Outcome, error) {
		out, err := fn(item)
		if err != nil {
			return Outcome{}, err
		}
		return Continue(out), nil
	})
}

// Filter stage dropping records for which keep is false
func Filter(keep func(item interface{}) bool) Stage {
	return StageFunc(func(ctx context.Context, item interface{}, chunkCtx *ChunkContext) (Outcome, error) {
		if keep(item) {
			return Continue(item), nil
		}
		return Drop(), nil
	})
}

// StepScoped stages bound to the running step before its first record
type StepScoped interface {
	BindStep(execution *StepExecution) error
}

// ProcessorPipeline ordered stages applied to each record
type ProcessorPipeline struct {
	stages []Stage

	mu    sync.Mutex
	bound *StepExecution
}

// NewPipeline pipeline of stages, applied in order
func NewPipeline(stages ...Stage) *ProcessorPipeline {
	return &ProcessorPipeline{stages: stages}
}

// BindStep bind StepScoped stages once per step run
func (p *ProcessorPipeline) BindStep(execution *StepExecution) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.bound == execution {
		return nil
	}
	for _, stage := range p.stages {
		if scoped, ok := stage.(StepScoped); ok {
			if err := scoped.BindStep(execution); err != nil {
				return err
			}
		}
	}
	p.bound = execution
	return nil
}

// Process apply all stages to item; a panic in a stage is returned as a processing error
func (p *ProcessorPipeline) Process(ctx context.Context, item interface{}, chunkCtx *ChunkContext) (out Outcome, err BatchError) {
	if chunkCtx != nil && chunkCtx.StepExecution != nil {
		if e := p.BindStep(chunkCtx.StepExecution); e != nil {
			return Outcome{}, WrapError(ErrCodeProcess, e, "bind stages to step:%v", chunkCtx.StepExecution.StepName)
		}
	}
	defer func() {
		if r := recover(); r != nil {
			logger.Error(ctx, "panic in processor stage, item:%v, err:%v, stack:%v", item, r, string(debug.Stack()))
			out, err = Outcome{}, NewBatchError(ErrCodeProcess, "panic in processor stage", fmt.Errorf("%v", r))
		}
	}()
	current := Continue(item)
	for i, stage := range p.stages {
		res, e := stage.Apply(ctx, current.item, chunkCtx)
		if e != nil {
			return Outcome{}, WrapError(ErrCodeProcess, e, "stage %d failed on item:%v", i, current.item)
		}
		if res.dropped {
			return res, nil
		}
		current = res
	}
	return current, nil
}
