package trajingest

import (
	"time"

	"github.com/chararch/trajingest/status"
)

// LaneExecution is one worker lane of a run and its counters. The counters are
// only written by the lane itself and may be read once the lane has finished.
type LaneExecution struct {
	Name       string
	Lane       int
	LaneStatus status.LaneStatus
	// Units is the size of the lane's shard, FirstIndex..LastIndex its ordinals.
	Units      int
	FirstIndex int64
	LastIndex  int64
	StartTime  time.Time
	EndTime    time.Time

	ReadCount       int64
	WriteCount      int64
	SkipCount       int64
	CommitCount     int64
	RollbackCount   int64
	RetryCount      int64
	SucceededUnits  int64
	FailedUnits     int64
	IncompleteUnits int64
	Reconnects      int64
	FailError       error
}

func (execution *LaneExecution) start() {
	execution.StartTime = time.Now()
	execution.LaneStatus = status.STARTED
}

func (execution *LaneExecution) finish(err error) {
	execution.EndTime = time.Now()
	switch {
	case err == nil:
		execution.LaneStatus = status.COMPLETED
	case IsCode(err, ErrCodeStop):
		execution.LaneStatus = status.STOPPED
	default:
		execution.LaneStatus = status.FAILED
		execution.FailError = err
	}
}

// Duration is the wall-clock time the lane ran.
func (execution *LaneExecution) Duration() time.Duration {
	if execution.EndTime.IsZero() {
		return time.Since(execution.StartTime)
	}
	return execution.EndTime.Sub(execution.StartTime)
}
