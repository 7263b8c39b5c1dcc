package pagebatch

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/panjf2000/ants/v2"
)

type taskPool struct {
	pool *ants.Pool
}

func newTaskPool(size int) *taskPool {
	pool, err := ants.NewPool(size)
	if err != nil {
		panic(fmt.Sprintf("create task pool of size %d: %v", size, err))
	}
	return &taskPool{
		pool: pool,
	}
}

// Future result of a task submitted to a pool
type Future interface {
	Get() (interface{}, error)
}

type taskResult struct {
	val interface{}
	err error
}

type futureImpl struct {
	ch <-chan taskResult
}

func (f *futureImpl) Get() (interface{}, error) {
	r := <-f.ch
	return r.val, r.err
}

// Submit run task on the pool; a panic in task becomes the future's error
func (pool *taskPool) Submit(ctx context.Context, task func() (interface{}, error)) Future {
	result := make(chan taskResult, 1)
	err := pool.pool.Submit(func() {
		defer func() {
			if er := recover(); er != nil {
				logger.Error(ctx, "panic in pooled task, err:%v, stack:%v", er, string(debug.Stack()))
				result <- taskResult{err: fmt.Errorf("panic:%v", er)}
			}
		}()
		val, err := task()
		result <- taskResult{val: val, err: err}
	})
	if err != nil {
		result <- taskResult{err: err}
	}
	return &futureImpl{
		ch: result,
	}
}

func (pool *taskPool) Release() {
	pool.pool.Release()
}

func (pool *taskPool) SetMaxSize(size int) {
	pool.pool.Tune(size)
}
