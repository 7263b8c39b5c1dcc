package customer

import (
	"context"
	"fmt"
	"strings"

	"github.com/chararch/pagebatch"
	"github.com/chararch/pagebatch/config"
	"github.com/pkg/errors"
)

const (
	TotalCustomers = "TOTAL_CUSTOMERS"
	TotalAges      = "TOTAL_AGES"
)

//OlderThan keep customers strictly older than age
func OlderThan(age int) pagebatch.Stage {
	return pagebatch.Filter(func(item interface{}) bool {
		return item.(Customer).Age > age
	})
}

func AddYears(years int) pagebatch.Stage {
	return pagebatch.Transform(func(item interface{}) (interface{}, error) {
		c := item.(Customer)
		c.Age += years
		return c, nil
	})
}

//LowerCase lower-case name and gender
func LowerCase() pagebatch.Stage {
	return pagebatch.Transform(func(item interface{}) (interface{}, error) {
		c := item.(Customer)
		c.Name = strings.ToLower(c.Name)
		c.Gender = strings.ToLower(c.Gender)
		return c, nil
	})
}

//jobTagger appends "_(jobName, executionId)" to each name, bound to the running step
type jobTagger struct {
	suffix string
}

//TagWithJob stage marking each customer with the job execution that exported it
func TagWithJob() pagebatch.Stage {
	return &jobTagger{}
}

func (s *jobTagger) BindStep(execution *pagebatch.StepExecution) error {
	jobExecution := execution.JobExecution
	s.suffix = fmt.Sprintf("_(%s, %s)", jobExecution.JobName, jobExecution.JobExecutionId)
	return nil
}

func (s *jobTagger) Apply(ctx context.Context, item interface{}, chunkCtx *pagebatch.ChunkContext) (pagebatch.Outcome, error) {
	c := item.(Customer)
	c.Name += s.suffix
	return pagebatch.Continue(c), nil
}

//Totals count customers and sum their ages into the step aggregate
func Totals() pagebatch.Stage {
	return pagebatch.StageFunc(func(ctx context.Context, item interface{}, chunkCtx *pagebatch.ChunkContext) (pagebatch.Outcome, error) {
		c := item.(Customer)
		chunkCtx.Aggregate.Add(TotalCustomers, 1)
		chunkCtx.Aggregate.Add(TotalAges, int64(c.Age))
		return pagebatch.Continue(c), nil
	})
}

type ageOptions struct {
	Age int
}

type yearsOptions struct {
	Years int
}

//NewStage stage of a configured type: olderThan{age}, addYears{years}, lowerCase, tagWithJob, totals
func NewStage(cfg config.StageConfig) (pagebatch.Stage, error) {
	switch cfg.Type {
	case "olderThan":
		opts := ageOptions{Age: 20}
		if err := config.DecodeOptions(cfg.Options, &opts); err != nil {
			return nil, errors.WithMessagef(err, "stage:%v", cfg.Type)
		}
		return OlderThan(opts.Age), nil
	case "addYears":
		opts := yearsOptions{Years: 20}
		if err := config.DecodeOptions(cfg.Options, &opts); err != nil {
			return nil, errors.WithMessagef(err, "stage:%v", cfg.Type)
		}
		return AddYears(opts.Years), nil
	case "lowerCase":
		return LowerCase(), nil
	case "tagWithJob":
		return TagWithJob(), nil
	case "totals":
		return Totals(), nil
	}
	return nil, errors.Errorf("unknown stage type:%v", cfg.Type)
}

//Footer the two total lines, from the aggregate after the last chunk
func Footer(aggregate *pagebatch.Aggregate) ([]byte, error) {
	return []byte(fmt.Sprintf("%s=%d\n%s=%d\n", TotalCustomers, aggregate.Get(TotalCustomers), TotalAges, aggregate.Get(TotalAges))), nil
}
