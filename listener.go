package pagebatch

//JobListener job listener
type JobListener interface {
	//BeforeJob execute before job start
	BeforeJob(execution *JobExecution) BatchError
	//AfterJob execute after job end either normally or abnormally
	AfterJob(execution *JobExecution) BatchError
}

//StepListener step listener
type StepListener interface {
	//BeforeStep execute before step start, after a checkpoint was restored
	BeforeStep(execution *StepExecution) BatchError
	//AfterStep execute after step end either normally or abnormally
	AfterStep(execution *StepExecution) BatchError
}

//ChunkListener chunk listener
type ChunkListener interface {
	//BeforeChunk execute before start of a chunk in a chunkStep
	BeforeChunk(context *ChunkContext) BatchError
	//AfterChunk execute after a chunk was committed
	AfterChunk(context *ChunkContext) BatchError
	//OnError execute when an error discarded a chunk
	OnError(context *ChunkContext, err BatchError)
}
