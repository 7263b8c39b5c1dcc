package status

//BatchStatus status of job or step execution
type BatchStatus string

const (
	//STARTING represent beginning of a job or step execution
	STARTING BatchStatus = "STARTING"
	//RESUMING step found an unfinished checkpoint and is restoring from it
	RESUMING BatchStatus = "RESUMING"
	//RUNNING job or step is reading, processing and writing chunks
	RUNNING BatchStatus = "RUNNING"
	//COMMITTING step is flushing a chunk and saving its checkpoint
	COMMITTING BatchStatus = "COMMITTING"
	//STOPPING job or step to be stopped at the next chunk boundary
	STOPPING BatchStatus = "STOPPING"
	//STOPPED job or step have be stopped
	STOPPED BatchStatus = "STOPPED"
	//COMPLETED job or step have finished successfully
	COMPLETED BatchStatus = "COMPLETED"
	//FAILED job or step have failed
	FAILED BatchStatus = "FAILED"
	//UNKNOWN job or step have aborted due to unknown reason
	UNKNOWN BatchStatus = "UNKNOWN"
)

var statuses = map[BatchStatus]int{
	STARTING:   0,
	RESUMING:   1,
	RUNNING:    2,
	COMMITTING: 3,
	COMPLETED:  4,
	STOPPING:   5,
	STOPPED:    6,
	FAILED:     7,
	UNKNOWN:    8,
}

// And combine two statuses, the one with higher precedence wins
func (s BatchStatus) And(other BatchStatus) BatchStatus {
	i1, ok1 := statuses[s]
	i2, ok2 := statuses[other]
	if ok1 && ok2 {
		if i1 < i2 {
			return other
		}
		return s
	} else if ok2 {
		return other
	}
	return s
}

// IsTerminal whether no further transition happens within the current run
func (s BatchStatus) IsTerminal() bool {
	return s == STOPPED || s == COMPLETED || s == FAILED || s == UNKNOWN
}

// IsRunning whether an execution with this status is still in progress
func (s BatchStatus) IsRunning() bool {
	return s == STARTING || s == RESUMING || s == RUNNING || s == COMMITTING || s == STOPPING
}
