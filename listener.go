package trajingest

import (
	"time"

	"github.com/chararch/trajingest/file"
)

// PipelineListener pipeline listener
type PipelineListener interface {
	//BeforeRun execute after the source is enumerated and the checkpoint loaded, before any lane starts
	BeforeRun(report *Report) BatchError
	//AfterRun execute after all lanes end either normally or abnormally
	AfterRun(report *Report)
}

// LaneListener lane listener
type LaneListener interface {
	//BeforeLane execute before lane start, an error fails the lane
	BeforeLane(execution *LaneExecution) BatchError
	//AfterLane execute after lane end either normally or abnormally
	AfterLane(execution *LaneExecution)
}

// BatchListener batch listener
type BatchListener interface {
	//BeforeBatch execute when a batch is opened
	BeforeBatch(batch *Batch)
	//AfterBatch execute after a batch committed and its progress is durable
	AfterBatch(batch *Batch)
	//OnError execute after a batch rolled back
	OnError(batch *Batch, err BatchError)
}

// ProgressListener receives progress every Config.ProgressEvery finished units
type ProgressListener interface {
	OnProgress(done, total int64, last file.SourceUnit)
}

// Recorder receives pipeline metrics. Implementations must be safe for concurrent use.
type Recorder interface {
	BatchCommitted(lane int, units int, rows int64, d time.Duration)
	BatchRolledBack(lane int, units int, d time.Duration)
	UnitsFailed(lane int, n int)
	RowsSkipped(lane int, n int64)
	TargetSize(size int)
}

type nopRecorder struct{}

func (nopRecorder) BatchCommitted(lane int, units int, rows int64, d time.Duration) {}
func (nopRecorder) BatchRolledBack(lane int, units int, d time.Duration)            {}
func (nopRecorder) UnitsFailed(lane int, n int)                                     {}
func (nopRecorder) RowsSkipped(lane int, n int64)                                   {}
func (nopRecorder) TargetSize(size int)                                             {}
