package pagebatch

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/bmizerany/assert"
)

type bindCounter struct {
	binds int
	jobId string
}

func (b *bindCounter) BindStep(execution *StepExecution) error {
	b.binds++
	b.jobId = execution.JobExecution.JobExecutionId
	return nil
}

func (b *bindCounter) Apply(ctx context.Context, item interface{}, chunkCtx *ChunkContext) (Outcome, error) {
	return Continue(item.(string) + "@" + b.jobId[:4]), nil
}

func newTestExecution(t *testing.T, stepName string) *StepExecution {
	execution, err := NewStepExecution("testJob", stepName, map[string]interface{}{"date": "20260101"})
	assert.Equal(t, nil, err)
	return execution
}

func TestProcessorPipeline_StagesInOrder(t *testing.T) {
	var applied []string
	p := NewPipeline(
		Filter(func(item interface{}) bool { return len(item.(string)) > 1 }),
		Transform(func(item interface{}) (interface{}, error) {
			applied = append(applied, "upper")
			return strings.ToUpper(item.(string)), nil
		}),
		Transform(func(item interface{}) (interface{}, error) {
			applied = append(applied, "suffix")
			return item.(string) + "!", nil
		}),
	)
	chunkCtx := &ChunkContext{StepExecution: newTestExecution(t, "s")}

	out, err := p.Process(context.Background(), "ab", chunkCtx)
	assert.Equal(t, nil, err)
	assert.Equal(t, false, out.Dropped())
	assert.Equal(t, "AB!", out.Item())
	assert.Equal(t, []string{"upper", "suffix"}, applied)

	out, err = p.Process(context.Background(), "a", chunkCtx)
	assert.Equal(t, nil, err)
	assert.Equal(t, true, out.Dropped())
	assert.Equal(t, 2, len(applied))
}

func TestProcessorPipeline_BindOncePerStep(t *testing.T) {
	counter := &bindCounter{}
	p := NewPipeline(counter)
	first := &ChunkContext{StepExecution: newTestExecution(t, "s")}
	for i := 0; i < 3; i++ {
		_, err := p.Process(context.Background(), "x", first)
		assert.Equal(t, nil, err)
	}
	assert.Equal(t, 1, counter.binds)

	second := &ChunkContext{StepExecution: newTestExecution(t, "s")}
	out, err := p.Process(context.Background(), "x", second)
	assert.Equal(t, nil, err)
	assert.Equal(t, 2, counter.binds)
	assert.Equal(t, "x@"+second.StepExecution.JobExecution.JobExecutionId[:4], out.Item())
}

func TestProcessorPipeline_Errors(t *testing.T) {
	chunkCtx := &ChunkContext{StepExecution: newTestExecution(t, "s")}
	failing := NewPipeline(Transform(func(item interface{}) (interface{}, error) {
		return nil, errors.New("bad record")
	}))
	_, err := failing.Process(context.Background(), "x", chunkCtx)
	assert.Equal(t, ErrCodeProcess, err.Code())
	assert.Equal(t, true, strings.Contains(err.Error(), "bad record"))

	panicking := NewPipeline(Transform(func(item interface{}) (interface{}, error) {
		return item.(int) + 1, nil
	}))
	_, err = panicking.Process(context.Background(), "x", chunkCtx)
	assert.Equal(t, ErrCodeProcess, err.Code())
}

func TestProcessorPipeline_Empty(t *testing.T) {
	out, err := NewPipeline().Process(context.Background(), 42, nil)
	assert.Equal(t, nil, err)
	assert.Equal(t, 42, out.Item())
}
