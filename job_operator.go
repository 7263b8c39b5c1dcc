package pagebatch

import (
	"context"
	"fmt"
	"sync"

	"github.com/chararch/pagebatch/util"
	"github.com/pkg/errors"
)

type jobOperator struct {
	mu         sync.Mutex
	jobs       map[string]Job
	executions map[string]*JobExecution
	//last execution of each job, restarted with its parameters
	last map[string]*JobExecution
}

var operator = &jobOperator{
	jobs:       map[string]Job{},
	executions: map[string]*JobExecution{},
	last:       map[string]*JobExecution{},
}

// Register register job
func Register(job Job) error {
	operator.mu.Lock()
	defer operator.mu.Unlock()
	if _, ok := operator.jobs[job.Name()]; ok {
		return fmt.Errorf("job with name:%v has already been registered", job.Name())
	}
	operator.jobs[job.Name()] = job
	return nil
}

// Unregister unregister job
func Unregister(job Job) {
	operator.mu.Lock()
	defer operator.mu.Unlock()
	delete(operator.jobs, job.Name())
}

// Start start job by job name and params, returns when the job finished
func Start(ctx context.Context, jobName string, params string) (string, error) {
	return doStart(ctx, jobName, params, false)
}

// StartAsync start job by job name and params on the job pool
func StartAsync(ctx context.Context, jobName string, params string) (string, error) {
	return doStart(ctx, jobName, params, true)
}

func doStart(ctx context.Context, jobName string, params string, async bool) (string, error) {
	jobParams, err := parseJobParams(params)
	if err != nil {
		logger.Error(ctx, "parse job params error, jobName:%v, params:%v, err:%v", jobName, params, err)
		return "", err
	}
	return startWithParams(ctx, jobName, jobParams, nil, async)
}

func startWithParams(ctx context.Context, jobName string, jobParams map[string]interface{}, restartOf *JobExecution, async bool) (string, error) {
	operator.mu.Lock()
	job, ok := operator.jobs[jobName]
	if !ok {
		operator.mu.Unlock()
		logger.Error(ctx, "can not find job with name:%v", jobName)
		return "", errors.Errorf("can not find job with name:%v", jobName)
	}
	execution, err := newJobExecution(jobName, jobParams)
	if err != nil {
		operator.mu.Unlock()
		logger.Error(ctx, "create job execution error, jobName:%v, err:%v", jobName, err)
		return "", err
	}
	for _, running := range operator.executions {
		if running.JobName == jobName && running.JobKey == execution.JobKey {
			operator.mu.Unlock()
			logger.Error(ctx, "the job is in executing, jobName:%v, jobExecutionId:%v", jobName, running.JobExecutionId)
			return "", NewBatchError(ErrCodeConcurrency, "job:%v with the same params is in executing, jobExecutionId:%v", jobName, running.JobExecutionId)
		}
	}
	execution.skipCompletedOf(restartOf)
	operator.executions[execution.JobExecutionId] = execution
	operator.last[jobName] = execution
	operator.mu.Unlock()

	future := jobPool.Submit(ctx, func() (interface{}, error) {
		defer func() {
			operator.mu.Lock()
			delete(operator.executions, execution.JobExecutionId)
			operator.mu.Unlock()
		}()
		if er := job.Start(ctx, execution); er != nil {
			return nil, er
		}
		return nil, nil
	})
	logger.Info(ctx, "job started, jobName:%v, jobExecutionId:%v", jobName, execution.JobExecutionId)
	if async {
		return execution.JobExecutionId, nil
	}
	if _, er := future.Get(); er != nil {
		return execution.JobExecutionId, er
	}
	return execution.JobExecutionId, nil
}

func parseJobParams(params string) (map[string]interface{}, error) {
	ret := make(map[string]interface{})
	if len(params) == 0 {
		return ret, nil
	}
	if err := util.ParseJson(params, &ret); err != nil {
		return nil, errors.Wrapf(err, "invalid job params:%v", params)
	}
	return ret, nil
}

// Stop stop running executions by job name or job execution id; steps stop at their next chunk boundary
func Stop(ctx context.Context, jobId string) error {
	operator.mu.Lock()
	var targets []*JobExecution
	if execution, ok := operator.executions[jobId]; ok {
		targets = append(targets, execution)
	} else {
		for _, execution := range operator.executions {
			if execution.JobName == jobId {
				targets = append(targets, execution)
			}
		}
	}
	jobs := make([]Job, 0, len(targets))
	for _, execution := range targets {
		jobs = append(jobs, operator.jobs[execution.JobName])
	}
	operator.mu.Unlock()

	if len(targets) == 0 {
		logger.Error(ctx, "there is no running job execution with name or id:%v to stop", jobId)
		return errors.Errorf("there is no running job execution with name or id:%v to stop", jobId)
	}
	for i, execution := range targets {
		if jobs[i] == nil {
			execution.RequestStop()
			continue
		}
		logger.Info(ctx, "job will be stopped, jobName:%v, jobExecutionId:%v", execution.JobName, execution.JobExecutionId)
		if err := jobs[i].Stop(ctx, execution); err != nil {
			return err
		}
	}
	return nil
}

// Restart start the job again with the parameters of its last execution. Steps the last execution completed are
// skipped when it did not complete; the others resume from their checkpoints
func Restart(ctx context.Context, jobName string) (string, error) {
	return doRestart(ctx, jobName, false)
}

// RestartAsync asynchronous Restart
func RestartAsync(ctx context.Context, jobName string) (string, error) {
	return doRestart(ctx, jobName, true)
}

func doRestart(ctx context.Context, jobName string, async bool) (string, error) {
	operator.mu.Lock()
	last := operator.last[jobName]
	operator.mu.Unlock()
	params := map[string]interface{}{}
	if last != nil {
		params = last.JobParams
	}
	return startWithParams(ctx, jobName, params, last, async)
}

// GetExecution execution started by this process with the given id, running or the last one of its job
func GetExecution(jobExecutionId string) *JobExecution {
	operator.mu.Lock()
	defer operator.mu.Unlock()
	if execution, ok := operator.executions[jobExecutionId]; ok {
		return execution
	}
	for _, execution := range operator.last {
		if execution.JobExecutionId == jobExecutionId {
			return execution
		}
	}
	return nil
}
