package pagebatch

import (
	"testing"

	"github.com/bmizerany/assert"
)

func TestAggregate_CommitAndRollback(t *testing.T) {
	a := NewAggregate()
	a.Add("TOTAL", 2)
	assert.Equal(t, int64(2), a.Get("TOTAL"))
	assert.Equal(t, int64(0), a.Committed("TOTAL"))

	a.commit()
	assert.Equal(t, int64(2), a.Committed("TOTAL"))

	a.Add("TOTAL", 5)
	a.Add("AGES", 40)
	a.rollback()
	assert.Equal(t, int64(2), a.Get("TOTAL"))
	assert.Equal(t, int64(0), a.Get("AGES"))
	assert.Equal(t, []string{"TOTAL"}, a.Keys())
}

func TestAggregate_JSONHoldsCommittedOnly(t *testing.T) {
	a := NewAggregate()
	a.Add("TOTAL", 3)
	a.commit()
	a.Add("TOTAL", 100)

	b, err := a.MarshalJSON()
	assert.Equal(t, nil, err)
	assert.Equal(t, `{"TOTAL":3}`, string(b))

	restored := NewAggregate()
	restored.Add("STALE", 1)
	assert.Equal(t, nil, restored.UnmarshalJSON(b))
	assert.Equal(t, int64(3), restored.Get("TOTAL"))
	assert.Equal(t, int64(0), restored.Get("STALE"))
}
