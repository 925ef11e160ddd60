package trajingest

import (
	"fmt"
	"time"

	"github.com/chararch/trajingest/checkpoint"
	"github.com/chararch/trajingest/status"
)

// FailedUnit is a unit that failed in this run.
type FailedUnit struct {
	Name   string
	Index  int64
	Reason string
}

// BatchSample is the outcome of one batch.
type BatchSample struct {
	ID         string
	Lane       int
	Retry      bool
	Units      int
	Rows       int64
	Duration   time.Duration
	Throughput float64
	Status     status.BatchStatus
}

// Report summarizes a run. Failed units are units that failed entirely;
// SkippedRows are malformed rows inside units that succeeded.
type Report struct {
	Run    string
	Name   string
	Status status.LaneStatus
	// Total units enumerated, Resumed units already settled by an earlier run.
	Total   int64
	Resumed int64

	Attempted   int64
	Succeeded   int64
	Failed      int64
	Incomplete  int64
	FailedUnits []FailedUnit

	TotalRows   int64
	SkippedRows int64
	Batches     int64
	Commits     int64
	Rollbacks   int64

	StartTime        time.Time
	EndTime          time.Time
	Duration         time.Duration
	Throughput       float64
	PeakThroughput   float64
	TroughThroughput float64
	FinalBatchSize   int
	BatchSamples     []BatchSample

	Checkpoint checkpoint.Checkpoint
	Lanes      []*LaneExecution
	Err        error
}

func (r *Report) String() string {
	return fmt.Sprintf("run:%v, name:%v, status:%v, attempted:%d, succeeded:%d, failed:%d, incomplete:%d, rows:%d, skippedRows:%d, commits:%d, rollbacks:%d, duration:%v, throughput:%.1f rows/s",
		r.Run, r.Name, r.Status, r.Attempted, r.Succeeded, r.Failed, r.Incomplete, r.TotalRows, r.SkippedRows, r.Commits, r.Rollbacks, r.Duration, r.Throughput)
}
