package status

import (
	"testing"

	"github.com/bmizerany/assert"
)

func TestBatchStatus_And(t *testing.T) {
	assert.Equal(t, COMPLETED, COMPLETED.And(COMPLETED))
	assert.Equal(t, FAILED, COMPLETED.And(FAILED))
	assert.Equal(t, FAILED, FAILED.And(STOPPED))
	assert.Equal(t, STOPPED, COMPLETED.And(STOPPED))
	assert.Equal(t, COMPLETED, BatchStatus("").And(COMPLETED))
	assert.Equal(t, RUNNING, RUNNING.And(BatchStatus("bogus")))
}

func TestBatchStatus_IsTerminal(t *testing.T) {
	for _, s := range []BatchStatus{STOPPED, COMPLETED, FAILED, UNKNOWN} {
		assert.Equal(t, true, s.IsTerminal())
		assert.Equal(t, false, s.IsRunning())
	}
	for _, s := range []BatchStatus{STARTING, RESUMING, RUNNING, COMMITTING, STOPPING} {
		assert.Equal(t, false, s.IsTerminal())
		assert.Equal(t, true, s.IsRunning())
	}
}
