package pagebatch

import (
	"context"
	"fmt"
	"reflect"
	"runtime/debug"
	"time"

	"github.com/chararch/pagebatch/status"
)

//Job job interface
type Job interface {
	Name() string
	Start(ctx context.Context, execution *JobExecution) BatchError
	Stop(ctx context.Context, execution *JobExecution) BatchError
	GetSteps() []Step
}

type simpleJob struct {
	name      string
	steps     []Step
	listeners []JobListener
}

func newSimpleJob(name string, steps []Step, listeners []JobListener) *simpleJob {
	return &simpleJob{
		name:      name,
		steps:     steps,
		listeners: listeners,
	}
}

func (job *simpleJob) Name() string {
	return job.name
}

func (job *simpleJob) Start(ctx context.Context, execution *JobExecution) (err BatchError) {
	defer func() {
		if er := recover(); er != nil {
			logger.Error(ctx, "panic in job executing, jobName:%v, jobExecutionId:%v, err:%v, stack:%v", job.name, execution.JobExecutionId, er, string(debug.Stack()))
			err = NewBatchError(ErrCodeGeneral, "panic in job execution", fmt.Errorf("%v", er))
		}
		if err != nil {
			execution.JobStatus = status.FAILED
			execution.FailError = err
			execution.EndTime = time.Now()
		}
	}()
	logger.Info(ctx, "start running job, jobName:%v, jobExecutionId:%v, jobKey:%v", job.name, execution.JobExecutionId, execution.JobKey)
	for _, listener := range job.listeners {
		if err = listener.BeforeJob(execution); err != nil {
			logger.Error(ctx, "job listener execute err, jobName:%v, jobExecutionId:%+v, listener:%v, err:%v", job.name, execution.JobExecutionId, reflect.TypeOf(listener).String(), err)
			return err
		}
	}
	execution.JobStatus = status.RUNNING
	execution.StartTime = time.Now()
	jobStatus := status.COMPLETED
	for _, step := range job.steps {
		if execution.StopRequested() {
			logger.Info(ctx, "job stopped before step, jobExecutionId:%v, stepName:%v", execution.JobExecutionId, step.Name())
			jobStatus = status.STOPPED
			break
		}
		if execution.completedSteps[step.Name()] {
			logger.Info(ctx, "skip completed step, jobExecutionId:%v, stepName:%v", execution.JobExecutionId, step.Name())
			continue
		}
		stepExecution := newStepExecution(step.Name(), execution)
		execution.AddStepExecution(stepExecution)
		if e := step.Exec(ctx, stepExecution); e != nil {
			logger.Error(ctx, "execute step failed, jobExecutionId:%v, stepName:%v, err:%v", execution.JobExecutionId, step.Name(), e)
			execution.FailError = e
		}
		jobStatus = jobStatus.And(stepExecution.StepStatus)
		if stepExecution.StepStatus != status.COMPLETED {
			break
		}
	}
	execution.JobStatus = jobStatus
	execution.EndTime = time.Now()
	for _, listener := range job.listeners {
		if e := listener.AfterJob(execution); e != nil {
			logger.Error(ctx, "job listener execute err, jobName:%v, jobExecutionId:%+v, listener:%v, err:%v", job.name, execution.JobExecutionId, reflect.TypeOf(listener).String(), e)
			execution.JobStatus = status.FAILED
			execution.FailError = e
			break
		}
	}
	logger.Info(ctx, "finish job execution, jobName:%v, jobExecutionId:%v, jobStatus:%v", job.name, execution.JobExecutionId, execution.JobStatus)
	if execution.JobStatus == status.FAILED && execution.FailError != nil {
		return WrapError(ErrCodeGeneral, execution.FailError, "job:%v failed", job.name)
	}
	return nil
}

// Stop ask the running steps to stop at their next chunk boundary
func (job *simpleJob) Stop(ctx context.Context, execution *JobExecution) BatchError {
	logger.Info(ctx, "stop job, jobName:%v, jobExecutionId:%v, jobStatus:%v", job.name, execution.JobExecutionId, execution.JobStatus)
	if execution.JobStatus.IsTerminal() {
		return NewBatchError(ErrCodeStop, "job execution:%v has already finished with status:%v", execution.JobExecutionId, execution.JobStatus)
	}
	execution.RequestStop()
	return nil
}

func (job *simpleJob) GetSteps() []Step {
	return job.steps
}
