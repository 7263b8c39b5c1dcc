package pagebatch

import (
	"context"
	"testing"

	"github.com/bmizerany/assert"
)

func TestFutureImpl_Get(t *testing.T) {
	ctx := context.Background()
	pool := newTaskPool(2)
	fu := pool.Submit(ctx, func() (interface{}, error) {
		return "ok", nil
	})
	val, err := fu.Get()
	assert.Equal(t, "ok", val)
	assert.Equal(t, nil, err)

	fu = pool.Submit(ctx, func() (interface{}, error) {
		var m []string
		return m[0], nil
	})
	val, err = fu.Get()
	assert.Equal(t, nil, val)
	assert.NotEqual(t, nil, err)

	pool.Release()
	fu = pool.Submit(ctx, func() (interface{}, error) {
		return "ok", nil
	})
	val, err = fu.Get()
	assert.Equal(t, nil, val)
	assert.NotEqual(t, nil, err)
}
