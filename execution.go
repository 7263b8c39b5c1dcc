package pagebatch

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chararch/pagebatch/status"
	"github.com/chararch/pagebatch/util"
	"github.com/google/uuid"
)

// JobExecution one run of a job
type JobExecution struct {
	JobExecutionId string
	JobName        string
	//JobKey md5 of JobParams, the job instance identity shared by restarts
	JobKey         string
	JobParams      map[string]interface{}
	JobStatus      status.BatchStatus
	StepExecutions []*StepExecution
	JobContext     *BatchContext
	CreateTime     time.Time
	StartTime      time.Time
	EndTime        time.Time
	FailError      error

	stopping int32
	mu       sync.Mutex
	//completedSteps steps finished by the failed execution this one restarts
	completedSteps map[string]bool
}

func newJobExecution(jobName string, params map[string]interface{}) (*JobExecution, error) {
	if params == nil {
		params = map[string]interface{}{}
	}
	key, err := util.JobKey(params)
	if err != nil {
		return nil, err
	}
	return &JobExecution{
		JobExecutionId: uuid.New().String(),
		JobName:        jobName,
		JobKey:         key,
		JobParams:      params,
		JobStatus:      status.STARTING,
		JobContext:     NewBatchContext(),
		CreateTime:     time.Now(),
	}, nil
}

func (e *JobExecution) AddStepExecution(execution *StepExecution) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.StepExecutions = append(e.StepExecutions, execution)
}

// skipCompletedOf carry over the steps completed by last when it is an unfinished run of the same job instance
func (e *JobExecution) skipCompletedOf(last *JobExecution) {
	if last == nil || last.JobKey != e.JobKey {
		return
	}
	last.mu.Lock()
	defer last.mu.Unlock()
	if last.JobStatus == status.COMPLETED {
		return
	}
	e.completedSteps = map[string]bool{}
	for name := range last.completedSteps {
		e.completedSteps[name] = true
	}
	for _, se := range last.StepExecutions {
		if se.StepStatus == status.COMPLETED {
			e.completedSteps[se.StepName] = true
		}
	}
}

// RequestStop ask running steps to stop at their next chunk boundary
func (e *JobExecution) RequestStop() {
	atomic.StoreInt32(&e.stopping, 1)
}

// StopRequested whether RequestStop was called
func (e *JobExecution) StopRequested() bool {
	return atomic.LoadInt32(&e.stopping) == 1
}

// StepExecution one run of a step
type StepExecution struct {
	StepName   string
	StepStatus status.BatchStatus
	//StepContext values bound once per run, visible to all stages
	StepContext *BatchContext
	//StepExecutionContext state of readers and writers, saved with every checkpoint
	StepExecutionContext *BatchContext
	JobExecution         *JobExecution
	//Checkpoint last committed checkpoint of this run, or the one resumed from
	Checkpoint  *Checkpoint
	Resumed     bool
	CreateTime  time.Time
	StartTime   time.Time
	EndTime     time.Time
	ReadCount   int64
	WriteCount  int64
	CommitCount int64
	FilterCount int64
	//RollbackCount chunks discarded by an error
	RollbackCount int64
	FailError     error
	LastUpdated   time.Time

	stopping int32
}

// NewStepExecution standalone execution of a step outside of any job; jobName and params still form the checkpoint identity
func NewStepExecution(jobName, stepName string, params map[string]interface{}) (*StepExecution, error) {
	jobExecution, err := newJobExecution(jobName, params)
	if err != nil {
		return nil, err
	}
	execution := newStepExecution(stepName, jobExecution)
	jobExecution.AddStepExecution(execution)
	return execution, nil
}

func newStepExecution(stepName string, jobExecution *JobExecution) *StepExecution {
	return &StepExecution{
		StepName:             stepName,
		StepStatus:           status.STARTING,
		StepContext:          NewBatchContext(),
		StepExecutionContext: NewBatchContext(),
		JobExecution:         jobExecution,
		CreateTime:           time.Now(),
	}
}

// CheckpointId identity of the step's checkpoint: <jobName>.<jobKey>.<stepName>
func (execution *StepExecution) CheckpointId() string {
	return fmt.Sprintf("%s.%s.%s", execution.JobExecution.JobName, execution.JobExecution.JobKey, execution.StepName)
}

// RequestStop ask the step to stop at its next chunk boundary
func (execution *StepExecution) RequestStop() {
	atomic.StoreInt32(&execution.stopping, 1)
}

func (execution *StepExecution) stopRequested() bool {
	return atomic.LoadInt32(&execution.stopping) == 1 || execution.JobExecution.StopRequested()
}

func (execution *StepExecution) finish(err error) {
	execution.EndTime = time.Now()
	if err != nil {
		execution.StepStatus = status.FAILED
		execution.FailError = err
	} else {
		execution.StepStatus = status.COMPLETED
	}
}

func (execution *StepExecution) start() {
	execution.StartTime = time.Now()
	execution.StepStatus = status.RUNNING
}

func (execution *StepExecution) child(stepName string) *StepExecution {
	return &StepExecution{
		StepName:             stepName,
		StepStatus:           status.STARTING,
		StepContext:          execution.StepContext.DeepCopy(),
		StepExecutionContext: NewBatchContext(),
		JobExecution:         execution.JobExecution,
		CreateTime:           time.Now(),
	}
}
