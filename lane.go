package trajingest

import (
	"context"
	"reflect"
	"time"

	"github.com/chararch/trajingest/file"
	"github.com/chararch/trajingest/internal/logs"
	"github.com/chararch/trajingest/sink"
	"github.com/chararch/trajingest/status"
)

// lane processes one shard with its own sink session and transport connection.
type lane struct {
	p           *Pipeline
	execution   *LaneExecution
	asm         *assembler
	session     sink.Session
	conn        file.Conn
	seq         int
	consecutive int
}

func (l *lane) run(ctx context.Context) (err BatchError) {
	execution := l.execution
	ctx = logs.WithPrefix(ctx, execution.Name)
	defer l.close(ctx)
	logger.Info(ctx, "lane execute start, lane:%v, units:%d, indexes:[%d, %d]", execution.Name, execution.Units, execution.FirstIndex, execution.LastIndex)
	for _, listener := range l.p.laneListeners {
		if err = listener.BeforeLane(execution); err != nil {
			logger.Error(ctx, "lane listener executing error, lane:%v, listener:%v, err:%v", execution.Name, reflect.TypeOf(listener).String(), err)
			l.end(ctx, err)
			return err
		}
	}
	execution.start()
	err = l.process(ctx)
	l.end(ctx, err)
	return err
}

func (l *lane) process(ctx context.Context) BatchError {
	for !l.asm.exhausted() {
		if ctx.Err() != nil {
			return StopError
		}
		l.seq++
		b := l.asm.open(l.execution.Lane, l.seq, l.execution.Name)
		err := l.write(ctx, b, l.asm.admit)
		if err == nil {
			continue
		}
		if fatal(err) {
			return err
		}
		if err = l.retry(ctx, b, err); err != nil {
			return err
		}
	}
	return nil
}

func fatal(err BatchError) bool {
	return err.Code() == ErrCodeLane || err.Code() == ErrCodeCheckpoint || err.Code() == ErrCodeStop
}

// write runs one batch to commit or rollback. The batch is not interrupted by
// cancellation of ctx.
func (l *lane) write(ctx context.Context, b *Batch, admit func(*Batch) (file.SourceUnit, bool)) BatchError {
	execution := l.execution
	wctx := context.WithoutCancel(ctx)
	for _, listener := range l.p.batchListeners {
		listener.BeforeBatch(b)
	}
	rows := &batchRows{
		ctx:      wctx,
		batch:    b,
		admit:    admit,
		conn:     l.conn,
		decoder:  l.p.decoder,
		reporter: l.p.reporter,
		maxErrs:  l.p.cfg.MaxRowErrorsPerUnit,
	}
	n, werr := l.session.WriteBatch(wctx, rows)
	rows.release()
	b.End = time.Now()
	execution.ReadCount += b.Rows + b.SkippedRows

	if werr == nil {
		b.Status = status.COMMITTED
		b.Rows = n
		execution.CommitCount++
		execution.WriteCount += n
		execution.SkipCount += b.SkippedRows
		l.consecutive = 0
		logger.Debug(ctx, "batch committed, batch:%v, units:%d, rows:%d, skipped:%d, duration:%v", b.ID, len(b.Units), n, b.SkippedRows, b.Duration())
		return l.p.committed(wctx, l, b)
	}

	b.Status = status.ROLLED_BACK
	execution.RollbackCount++
	l.p.recorder.BatchRolledBack(execution.Lane, len(b.Units), b.Duration())

	var be BatchError
	u, unitFailed := failedUnit(werr)
	switch {
	case unitFailed && file.IsConnLoss(werr):
		// the unit is not at fault, the transport session is gone
		be = NewBatchError(ErrCodeCommit, "batch:%v rolled back, transport lost at unit:%v", b.ID, u.Name, werr)
		l.consecutive++
		logger.Warn(ctx, "transport connection lost, lane:%v, err:%v", execution.Name, werr)
		if err := l.reconnectTransport(wctx); err != nil {
			be = err
		}
	case unitFailed:
		be = NewBatchError(ErrCodeUnit, "batch:%v rolled back, unit:%v failed", b.ID, u.Name, werr)
	default:
		be = NewBatchError(ErrCodeCommit, "batch:%v rolled back", b.ID, werr)
		l.consecutive++
		if sink.IsConnLoss(werr) {
			logger.Warn(ctx, "sink connection lost, lane:%v, err:%v", execution.Name, werr)
			if err := l.reconnectSink(wctx); err != nil {
				be = err
			}
		}
	}
	if be.Code() == ErrCodeCommit && l.consecutive >= l.p.cfg.MaxConsecutiveFailures {
		be = NewBatchError(ErrCodeLane, "%d consecutive batch failures, lane:%v", l.consecutive, execution.Name, werr)
	}
	b.Err = be
	logger.Error(ctx, "batch rolled back, batch:%v, units:%d, retry:%v, err:%v", b.ID, len(b.Units), b.Retry, werr)
	for _, listener := range l.p.batchListeners {
		listener.OnError(b, be)
	}
	return be
}

// retry applies the retry policy to the members of a rolled back batch.
func (l *lane) retry(ctx context.Context, b *Batch, cause BatchError) BatchError {
	members := b.Units
	var groups [][]file.SourceUnit
	switch l.p.cfg.RetryPolicy {
	case RetryIndividually:
		for i := range members {
			groups = append(groups, members[i:i+1])
		}
	case RetrySplit:
		if len(members) <= 1 {
			groups = append(groups, members)
		} else {
			half := (len(members) + 1) / 2
			groups = append(groups, members[:half], members[half:])
		}
	default:
		return l.p.failed(context.WithoutCancel(ctx), l, members, cause)
	}

	for _, group := range groups {
		if ctx.Err() != nil {
			return StopError
		}
		l.seq++
		rb := l.asm.open(l.execution.Lane, l.seq, l.execution.Name)
		rb.Retry = true
		rb.TargetSize = len(group)
		l.execution.RetryCount++
		err := l.write(ctx, rb, fixedUnits(group))
		if err == nil {
			continue
		}
		if fatal(err) {
			return err
		}
		if err = l.p.failed(context.WithoutCancel(ctx), l, group, err); err != nil {
			return err
		}
	}
	return nil
}

func (l *lane) reconnectSink(ctx context.Context) BatchError {
	l.session.Close()
	l.execution.Reconnects++
	session, err := l.p.sink.Open(ctx, l.execution.Lane)
	if err != nil {
		l.session = closedSession{}
		return NewBatchError(ErrCodeLane, "reopen sink session, lane:%v", l.execution.Name, err)
	}
	logger.Info(ctx, "sink session re-established, lane:%v", l.execution.Name)
	l.session = session
	return nil
}

func (l *lane) reconnectTransport(ctx context.Context) BatchError {
	l.conn.Close()
	l.execution.Reconnects++
	conn, err := l.p.source.Transport.Connect(ctx)
	if err != nil {
		l.conn = nil
		return NewBatchError(ErrCodeLane, "reconnect transport, lane:%v", l.execution.Name, err)
	}
	logger.Info(ctx, "transport connection re-established, lane:%v", l.execution.Name)
	l.conn = conn
	return nil
}

func (l *lane) end(ctx context.Context, err BatchError) {
	execution := l.execution
	var cause error
	if err != nil {
		cause = err
	}
	execution.finish(cause)
	execution.IncompleteUnits = int64(execution.Units) - execution.SucceededUnits - execution.FailedUnits
	if err != nil && err.Code() != ErrCodeStop {
		logger.Error(ctx, "lane execute failed, lane:%v, incomplete units:%d, err:%v", execution.Name, execution.IncompleteUnits, err)
	}
	for _, listener := range l.p.laneListeners {
		listener.AfterLane(execution)
	}
	logger.Info(ctx, "lane execute finish, lane:%v, laneStatus:%v, commits:%d, rollbacks:%d, succeeded:%d, failed:%d, incomplete:%d",
		execution.Name, execution.LaneStatus, execution.CommitCount, execution.RollbackCount, execution.SucceededUnits, execution.FailedUnits, execution.IncompleteUnits)
}

func (l *lane) close(ctx context.Context) {
	if l.session != nil {
		if err := l.session.Close(); err != nil {
			logger.Warn(ctx, "close sink session failed, lane:%v, err:%v", l.execution.Name, err)
		}
	}
	if l.conn != nil {
		if err := l.conn.Close(); err != nil {
			logger.Warn(ctx, "close transport connection failed, lane:%v, err:%v", l.execution.Name, err)
		}
	}
}

// closedSession stands in for a session that could not be re-established.
type closedSession struct{}

func (closedSession) WriteBatch(ctx context.Context, rows sink.Rows) (int64, error) {
	return 0, sink.ErrSessionClosed
}

func (closedSession) Close() error {
	return nil
}
