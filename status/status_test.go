package status

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLaneStatusAnd(t *testing.T) {
	assert.Equal(t, COMPLETED, COMPLETED.And(COMPLETED))
	assert.Equal(t, STOPPED, COMPLETED.And(STOPPED))
	assert.Equal(t, FAILED, FAILED.And(STOPPED))
	assert.Equal(t, FAILED, COMPLETED.And(FAILED))
	assert.Equal(t, LaneStatus("bogus"), COMPLETED.And("bogus"))
}

func TestBatchStatusTerminal(t *testing.T) {
	assert.False(t, OPEN.Terminal())
	assert.False(t, COMMITTING.Terminal())
	assert.True(t, COMMITTED.Terminal())
	assert.True(t, ROLLED_BACK.Terminal())
}
