package pagebatch

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricsListener records step and chunk metrics with prometheus. Add it to a job with Listener() to cover all steps.
type MetricsListener struct {
	stepDurationSeconds *prometheus.HistogramVec
	stepStatusCounter   *prometheus.CounterVec
	stepReadCount       *prometheus.CounterVec
	stepWriteCount      *prometheus.CounterVec
	stepFilterCount     *prometheus.CounterVec
	stepCommitCount     *prometheus.CounterVec
	stepRollbackCount   *prometheus.CounterVec
	jobStatusCounter    *prometheus.CounterVec

	mu       sync.Mutex
	recorded map[*StepExecution]counts
}

type counts struct {
	read, write, filter, commit int64
}

func countsOf(execution *StepExecution) counts {
	return counts{read: execution.ReadCount, write: execution.WriteCount, filter: execution.FilterCount, commit: execution.CommitCount}
}

// NewMetricsListener create the collectors and register them on registerer
func NewMetricsListener(registerer prometheus.Registerer) *MetricsListener {
	labels := []string{"job_name", "step_name"}
	l := &MetricsListener{
		stepDurationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pagebatch_step_duration_seconds",
			Help:    "Duration of step executions.",
			Buckets: prometheus.DefBuckets,
		}, []string{"job_name", "step_name", "status"}),
		stepStatusCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pagebatch_step_status_total",
			Help: "Finished step executions by status.",
		}, []string{"job_name", "step_name", "status"}),
		stepReadCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pagebatch_step_read_total",
			Help: "Records read and committed by step.",
		}, labels),
		stepWriteCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pagebatch_step_write_total",
			Help: "Records written by step.",
		}, labels),
		stepFilterCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pagebatch_step_filter_total",
			Help: "Records dropped by processor stages.",
		}, labels),
		stepCommitCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pagebatch_step_commit_total",
			Help: "Chunk commits by step.",
		}, labels),
		stepRollbackCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pagebatch_step_rollback_total",
			Help: "Chunks discarded by an error.",
		}, labels),
		jobStatusCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pagebatch_job_status_total",
			Help: "Finished job executions by status.",
		}, []string{"job_name", "status"}),
		recorded: map[*StepExecution]counts{},
	}
	registerer.MustRegister(l.stepDurationSeconds, l.stepStatusCounter, l.stepReadCount, l.stepWriteCount,
		l.stepFilterCount, l.stepCommitCount, l.stepRollbackCount, l.jobStatusCounter)
	return l
}

func (l *MetricsListener) BeforeJob(execution *JobExecution) BatchError {
	return nil
}

func (l *MetricsListener) AfterJob(execution *JobExecution) BatchError {
	l.jobStatusCounter.WithLabelValues(execution.JobName, string(execution.JobStatus)).Inc()
	return nil
}

// BeforeStep remember counters restored from a checkpoint, they were recorded by the previous run
func (l *MetricsListener) BeforeStep(execution *StepExecution) BatchError {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.recorded[execution] = countsOf(execution)
	return nil
}

func (l *MetricsListener) AfterStep(execution *StepExecution) BatchError {
	l.record(execution)
	l.mu.Lock()
	delete(l.recorded, execution)
	l.mu.Unlock()
	jobName := execution.JobExecution.JobName
	if !execution.StartTime.IsZero() && !execution.EndTime.IsZero() {
		l.stepDurationSeconds.WithLabelValues(jobName, execution.StepName, string(execution.StepStatus)).
			Observe(execution.EndTime.Sub(execution.StartTime).Seconds())
	}
	l.stepStatusCounter.WithLabelValues(jobName, execution.StepName, string(execution.StepStatus)).Inc()
	return nil
}

func (l *MetricsListener) BeforeChunk(chunkCtx *ChunkContext) BatchError {
	return nil
}

func (l *MetricsListener) AfterChunk(chunkCtx *ChunkContext) BatchError {
	l.record(chunkCtx.StepExecution)
	return nil
}

func (l *MetricsListener) OnError(chunkCtx *ChunkContext, err BatchError) {
	execution := chunkCtx.StepExecution
	l.stepRollbackCount.WithLabelValues(execution.JobExecution.JobName, execution.StepName).Inc()
}

// record add the counters committed since the last call
func (l *MetricsListener) record(execution *StepExecution) {
	current := countsOf(execution)
	l.mu.Lock()
	last := l.recorded[execution]
	l.recorded[execution] = current
	l.mu.Unlock()
	jobName := execution.JobExecution.JobName
	add := func(vec *prometheus.CounterVec, delta int64) {
		if delta > 0 {
			vec.WithLabelValues(jobName, execution.StepName).Add(float64(delta))
		}
	}
	add(l.stepReadCount, current.read-last.read)
	add(l.stepWriteCount, current.write-last.write)
	add(l.stepFilterCount, current.filter-last.filter)
	add(l.stepCommitCount, current.commit-last.commit)
}
