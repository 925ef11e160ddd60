package trajingest

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chararch/trajingest/checkpoint"
	"github.com/chararch/trajingest/file"
	"github.com/chararch/trajingest/internal/logs"
	"github.com/chararch/trajingest/record"
	"github.com/chararch/trajingest/sink"
	"github.com/chararch/trajingest/status"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Pipeline ingests the units of a source into a sink over parallel lanes.
// It is the only component that writes the checkpoint.
type Pipeline struct {
	name              string
	cfg               Config
	decoder           *record.Decoder
	source            *file.Enumerator
	sink              sink.Connector
	store             checkpoint.Store
	failedLog         checkpoint.FailedLog
	recorder          Recorder
	pipelineListeners []PipelineListener
	laneListeners     []LaneListener
	batchListeners    []BatchListener
	progressListeners []ProgressListener

	// per run state
	reporter   *record.ErrorReporter
	controller *ThroughputController
	cancel     context.CancelFunc
	total      int64
	resumed    int64

	cpMu sync.Mutex
	cp   checkpoint.Checkpoint

	mu          sync.Mutex
	failedUnits []FailedUnit
	samples     []BatchSample
	fatalErr    BatchError

	succeeded   int64
	failedCount int64
	rows        int64
	skipped     int64
	commits     int64
}

func (p *Pipeline) Name() string {
	return p.name
}

// Controller returns the throughput controller of the current or last run.
func (p *Pipeline) Controller() *ThroughputController {
	return p.controller
}

// Run enumerates the source, resumes from the checkpoint and processes the
// remaining units. The returned error is non-nil for setup failures and for
// a checkpoint that could not be saved; lane failures and stops are reported
// through Report.Status. A Pipeline must not run concurrently with itself.
func (p *Pipeline) Run(ctx context.Context) (*Report, error) {
	p.reset()
	report := &Report{
		Run:       uuid.NewString(),
		Name:      p.name,
		Status:    status.STARTING,
		StartTime: time.Now(),
	}
	ctx = logs.WithPrefix(ctx, p.name)
	logger.Info(ctx, "pipeline execute start, pipeline:%v, run:%v, source:%v, sink:%v", p.name, report.Run, p.source.Transport, p.sink)

	lanes, err := p.setup(ctx, report)
	if err != nil {
		logger.Error(ctx, "pipeline setup failed, pipeline:%v, err:%v", p.name, err)
		report.Status = status.FAILED
		report.Err = err
		p.finish(report, nil)
		return report, err
	}
	for _, listener := range p.pipelineListeners {
		if err = listener.BeforeRun(report); err != nil {
			for _, l := range lanes {
				l.close(ctx)
			}
			report.Status = status.FAILED
			report.Err = err
			p.finish(report, nil)
			return report, err
		}
	}
	if len(lanes) == 0 {
		logger.Info(ctx, "nothing to ingest, all %d units settled by checkpoint", report.Total)
		report.Status = status.COMPLETED
		p.finish(report, nil)
		return report, nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	p.cancel = cancel
	pool, perr := newLanePool(len(lanes))
	if perr != nil {
		for _, l := range lanes {
			l.close(ctx)
		}
		be := NewBatchError(ErrCodeSetup, "create lane pool", perr)
		report.Status = status.FAILED
		report.Err = be
		p.finish(report, nil)
		return report, be
	}
	defer pool.Release()

	report.Status = status.STARTED
	p.recorder.TargetSize(p.controller.Target())
	futures := make([]*laneFuture, len(lanes))
	for i, l := range lanes {
		l := l
		futures[i] = pool.Go(runCtx, l.execution.Name, func() BatchError {
			err := l.run(runCtx)
			if err != nil {
				p.onLaneError(ctx, l, err)
			}
			return err
		})
	}

	runStatus := status.COMPLETED
	for i, fu := range futures {
		execution := lanes[i].execution
		if err := fu.Wait(); err != nil && execution.EndTime.IsZero() {
			// the lane panicked or was never run
			execution.finish(err)
			execution.IncompleteUnits = int64(execution.Units) - execution.SucceededUnits - execution.FailedUnits
			p.setFatal(err)
		}
		runStatus = runStatus.And(execution.LaneStatus)
	}
	report.Status = runStatus
	if p.fatalErr != nil {
		report.Err = p.fatalErr
	}
	p.finish(report, lanes)
	if p.fatalErr != nil && p.fatalErr.Code() == ErrCodeCheckpoint {
		return report, p.fatalErr
	}
	return report, nil
}

func (p *Pipeline) reset() {
	p.reporter = record.NewErrorReporter(logger, p.cfg.MaxLoggedRowErrors, p.cfg.RowErrorLogRate)
	p.controller = NewThroughputController(p.cfg)
	p.cp = checkpoint.Checkpoint{}
	p.failedUnits = nil
	p.samples = nil
	p.fatalErr = nil
	p.total = 0
	p.resumed = 0
	for _, c := range []*int64{&p.succeeded, &p.failedCount, &p.rows, &p.skipped, &p.commits} {
		atomic.StoreInt64(c, 0)
	}
}

// setup enumerates, resumes, partitions and opens one sink session and one
// transport connection per lane. Any failure aborts before a lane starts.
func (p *Pipeline) setup(ctx context.Context, report *Report) ([]*lane, BatchError) {
	units, err := p.source.Enumerate(ctx)
	if err != nil {
		return nil, NewBatchError(ErrCodeSetup, "enumerate source:%v", p.source.Transport, err)
	}
	if len(units) == 0 {
		return nil, NewBatchError(ErrCodeSetup, "no source units found in %v, dir:%v", p.source.Transport, p.source.Dir)
	}
	cp, err := p.store.Load(ctx)
	if err != nil {
		return nil, NewBatchError(ErrCodeSetup, "load checkpoint", err)
	}
	if cp.Total != 0 && cp.Total != int64(len(units)) {
		logger.Warn(ctx, "source changed since checkpoint, checkpoint total:%d, enumerated:%d", cp.Total, len(units))
	}
	p.cp = cp
	p.total = int64(len(units))
	remaining := file.Remaining(units, cp.Settled)
	report.Total = int64(len(units))
	report.Resumed = int64(len(units) - len(remaining))
	p.resumed = report.Resumed
	report.Attempted = int64(len(remaining))
	if report.Resumed > 0 {
		logger.Info(ctx, "resume from checkpoint, index:%d, settled:%d, remaining:%d", cp.Index, report.Resumed, len(remaining))
	}

	shards := Partition(remaining, p.cfg.Workers)
	lanes := make([]*lane, len(shards))
	for i, shard := range shards {
		lanes[i] = &lane{
			p: p,
			execution: &LaneExecution{
				Name:       laneName(p.name, i),
				Lane:       i,
				LaneStatus: status.STARTING,
				Units:      len(shard),
				FirstIndex: shard[0].Index,
				LastIndex:  shard[len(shard)-1].Index,
			},
			asm: &assembler{shard: shard, cfg: p.cfg, ctl: p.controller},
		}
	}
	logger.Info(ctx, "source:%v split into %d lanes, units:%d", p.source.Transport, len(lanes), len(remaining))

	g, gctx := errgroup.WithContext(ctx)
	for _, l := range lanes {
		l := l
		g.Go(func() error {
			session, err := p.sink.Open(gctx, l.execution.Lane)
			if err != nil {
				return NewBatchError(ErrCodeSetup, "open sink session, lane:%v", l.execution.Name, err)
			}
			l.session = session
			conn, err := p.source.Transport.Connect(gctx)
			if err != nil {
				return NewBatchError(ErrCodeSetup, "connect transport, lane:%v", l.execution.Name, err)
			}
			l.conn = conn
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for _, l := range lanes {
			l.close(ctx)
		}
		return nil, err.(BatchError)
	}
	return lanes, nil
}

func (p *Pipeline) onLaneError(ctx context.Context, l *lane, err BatchError) {
	switch err.Code() {
	case ErrCodeStop:
		return
	case ErrCodeCheckpoint:
		logger.Error(ctx, "checkpoint failure stops all lanes, lane:%v, err:%v", l.execution.Name, err)
		p.setFatal(err)
		p.cancel()
	default:
		p.setFatal(err)
		if p.cfg.StopOnLaneFailure {
			logger.Error(ctx, "lane failure stops all lanes, lane:%v, err:%v", l.execution.Name, err)
			p.cancel()
		}
	}
}

func (p *Pipeline) setFatal(err BatchError) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fatalErr == nil || (err.Code() == ErrCodeCheckpoint && p.fatalErr.Code() != ErrCodeCheckpoint) {
		p.fatalErr = err
	}
}

// settle adds units to the checkpoint and returns once it is durable.
func (p *Pipeline) settle(ctx context.Context, units []file.SourceUnit) BatchError {
	indexes := make([]int64, len(units))
	for i, u := range units {
		indexes[i] = u.Index
	}
	p.cpMu.Lock()
	defer p.cpMu.Unlock()
	next := p.cp.Settle(indexes...)
	next.Total = p.total
	next.Updated = time.Now()
	if err := p.store.Save(ctx, next); err != nil {
		return NewBatchError(ErrCodeCheckpoint, "save checkpoint, index:%d", next.Index, err)
	}
	p.cp = next
	return nil
}

// committed makes the batch durable in the checkpoint before counting it.
func (p *Pipeline) committed(ctx context.Context, l *lane, b *Batch) BatchError {
	if len(b.Units) == 0 {
		return nil
	}
	if err := p.settle(ctx, b.Units); err != nil {
		return err
	}
	execution := l.execution
	execution.SucceededUnits += int64(len(b.Units))
	atomic.AddInt64(&p.rows, b.Rows)
	atomic.AddInt64(&p.skipped, b.SkippedRows)
	atomic.AddInt64(&p.commits, 1)

	sample := ThroughputSample{Rows: b.Rows, Duration: b.Duration()}
	target := p.controller.Observe(sample)
	if target != b.TargetSize && !b.Retry {
		logger.Debug(ctx, "target batch size changed, from:%d, to:%d, throughput:%.1f rows/s", b.TargetSize, target, sample.RowsPerSecond())
	}
	p.recorder.BatchCommitted(execution.Lane, len(b.Units), b.Rows, b.Duration())
	p.recorder.RowsSkipped(execution.Lane, b.SkippedRows)
	p.recorder.TargetSize(target)
	p.addSample(b)

	for _, listener := range p.batchListeners {
		listener.AfterBatch(b)
	}
	p.progress(ctx, atomic.AddInt64(&p.succeeded, int64(len(b.Units))), int64(len(b.Units)), b.Units[len(b.Units)-1])
	return nil
}

// failed logs units as failed; with SkipFailedOnResume they are also settled.
func (p *Pipeline) failed(ctx context.Context, l *lane, units []file.SourceUnit, cause error) BatchError {
	if len(units) == 0 {
		return nil
	}
	reason := cause.Error()
	for _, u := range units {
		logger.Error(ctx, "unit failed, unit:%v, index:%d, err:%v", u.Name, u.Index, cause)
		item := checkpoint.FailedItem{Name: u.Name, Index: u.Index, Reason: reason, Time: time.Now()}
		if err := p.failedLog.Append(ctx, item); err != nil {
			logger.Warn(ctx, "append failed log failed, unit:%v, err:%v", u.Name, err)
		}
	}
	if p.cfg.SkipFailedOnResume {
		if err := p.settle(ctx, units); err != nil {
			return err
		}
	}
	l.execution.FailedUnits += int64(len(units))
	p.mu.Lock()
	for _, u := range units {
		p.failedUnits = append(p.failedUnits, FailedUnit{Name: u.Name, Index: u.Index, Reason: reason})
	}
	p.mu.Unlock()
	p.recorder.UnitsFailed(l.execution.Lane, len(units))
	atomic.AddInt64(&p.failedCount, int64(len(units)))
	p.progress(ctx, atomic.AddInt64(&p.succeeded, 0), int64(len(units)), units[len(units)-1])
	return nil
}

func (p *Pipeline) addSample(b *Batch) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.samples = append(p.samples, BatchSample{
		ID:         b.ID,
		Lane:       b.Lane,
		Retry:      b.Retry,
		Units:      len(b.Units),
		Rows:       b.Rows,
		Duration:   b.Duration(),
		Throughput: ThroughputSample{Rows: b.Rows, Duration: b.Duration()}.RowsPerSecond(),
		Status:     b.Status,
	})
}

// progress reports when the finished unit count crosses a multiple of
// ProgressEvery. Units settled by earlier runs count as finished.
func (p *Pipeline) progress(ctx context.Context, succeeded, added int64, last file.SourceUnit) {
	every := int64(p.cfg.ProgressEvery)
	if every <= 0 {
		return
	}
	done := p.resumed + succeeded + atomic.LoadInt64(&p.failedCount)
	if done/every == (done-added)/every {
		return
	}
	logger.Info(ctx, "progress: %d/%d, last:%v", done, p.total, last.Name)
	for _, listener := range p.progressListeners {
		listener.OnProgress(done, p.total, last)
	}
}

func (p *Pipeline) finish(report *Report, lanes []*lane) {
	report.EndTime = time.Now()
	report.Duration = report.EndTime.Sub(report.StartTime)
	report.Succeeded = atomic.LoadInt64(&p.succeeded)
	report.Failed = atomic.LoadInt64(&p.failedCount)
	report.TotalRows = atomic.LoadInt64(&p.rows)
	report.SkippedRows = atomic.LoadInt64(&p.skipped)
	report.Commits = atomic.LoadInt64(&p.commits)
	for _, l := range lanes {
		report.Lanes = append(report.Lanes, l.execution)
		report.Rollbacks += l.execution.RollbackCount
		report.Incomplete += l.execution.IncompleteUnits
	}
	report.Batches = report.Commits + report.Rollbacks
	if report.Duration > 0 {
		report.Throughput = float64(report.TotalRows) / report.Duration.Seconds()
	}
	if p.controller != nil {
		report.PeakThroughput, report.TroughThroughput = p.controller.Extremes()
		report.FinalBatchSize = p.controller.Target()
	}
	p.mu.Lock()
	report.FailedUnits = append([]FailedUnit(nil), p.failedUnits...)
	sort.Slice(report.FailedUnits, func(i, j int) bool { return report.FailedUnits[i].Index < report.FailedUnits[j].Index })
	report.BatchSamples = append([]BatchSample(nil), p.samples...)
	p.mu.Unlock()
	p.cpMu.Lock()
	report.Checkpoint = p.cp
	p.cpMu.Unlock()

	for _, listener := range p.pipelineListeners {
		listener.AfterRun(report)
	}
	logger.Info(context.Background(), "pipeline execute finish, %v", report)
}

// nopStore keeps no progress.
type nopStore struct{}

func (nopStore) Load(ctx context.Context) (checkpoint.Checkpoint, error) {
	return checkpoint.Checkpoint{}, nil
}

func (nopStore) Save(ctx context.Context, cp checkpoint.Checkpoint) error {
	return nil
}

func (nopStore) Close() error {
	return nil
}

func (nopStore) Append(ctx context.Context, item checkpoint.FailedItem) error {
	return nil
}

func (nopStore) Items(ctx context.Context) ([]checkpoint.FailedItem, error) {
	return nil, nil
}
