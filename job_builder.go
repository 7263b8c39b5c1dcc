package pagebatch

import "fmt"

type jobBuilder struct {
	name           string
	steps          []Step
	jobListeners   []JobListener
	stepListeners  []StepListener
	chunkListeners []ChunkListener
}

//NewJob new instance of job builder
func NewJob(name string, steps ...Step) *jobBuilder {
	if name == "" {
		panic("job name must not be empty")
	}
	builder := &jobBuilder{
		name:  name,
		steps: steps,
	}
	return builder
}

func (builder *jobBuilder) Step(step ...Step) *jobBuilder {
	builder.steps = append(builder.steps, step...)
	return builder
}

// Listener add job listeners, and step or chunk listeners applied to every step
func (builder *jobBuilder) Listener(listener ...interface{}) *jobBuilder {
	for _, l := range listener {
		valid := false
		if ll, ok := l.(JobListener); ok {
			builder.jobListeners = append(builder.jobListeners, ll)
			valid = true
		}
		if ll, ok := l.(StepListener); ok {
			builder.stepListeners = append(builder.stepListeners, ll)
			valid = true
		}
		if ll, ok := l.(ChunkListener); ok {
			builder.chunkListeners = append(builder.chunkListeners, ll)
			valid = true
		}
		if !valid {
			panic(fmt.Sprintf("not supported listener:%T for job:%v", l, builder.name))
		}
	}
	return builder
}

type chunkListenerAware interface {
	addChunkListener(listener ChunkListener)
}

func (builder *jobBuilder) Build() Job {
	names := map[string]bool{}
	for _, step := range builder.steps {
		if names[step.Name()] {
			panic(fmt.Sprintf("duplicated step name:%v in job:%v", step.Name(), builder.name))
		}
		names[step.Name()] = true
	}
	for _, sl := range builder.stepListeners {
		for _, step := range builder.steps {
			step.addListener(sl)
		}
	}
	for _, cl := range builder.chunkListeners {
		for _, step := range builder.steps {
			if s, ok := step.(chunkListenerAware); ok {
				s.addChunkListener(cl)
			}
		}
	}
	return newSimpleJob(builder.name, builder.steps, builder.jobListeners)
}
