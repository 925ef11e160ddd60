package trajingest

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/chararch/trajingest/file"
	"github.com/chararch/trajingest/record"
	"github.com/chararch/trajingest/status"
	"github.com/pkg/errors"
)

const maxLineBytes = 1 << 20

// Batch is a group of units of one lane committed in one sink transaction.
type Batch struct {
	ID         string
	Lane       int
	Seq        int
	TargetSize int
	// Retry is set on batches formed from the members of a rolled back batch.
	Retry       bool
	Units       []file.SourceUnit
	Rows        int64
	SkippedRows int64
	Start       time.Time
	End         time.Time
	Status      status.BatchStatus
	Err         error
}

// Duration is the time from open to commit or rollback.
func (b *Batch) Duration() time.Duration {
	if b.End.IsZero() {
		return time.Since(b.Start)
	}
	return b.End.Sub(b.Start)
}

func (b *Batch) estimatedRows() int64 {
	var n int64
	for _, u := range b.Units {
		n += u.EstimatedRows
	}
	if b.Rows+b.SkippedRows > n {
		return b.Rows + b.SkippedRows
	}
	return n
}

func (b *Batch) String() string {
	return fmt.Sprintf("batch %s(units:%d, rows:%d, status:%v)", b.ID, len(b.Units), b.Rows, b.Status)
}

// assembler hands out the units of one shard in order.
type assembler struct {
	shard []file.SourceUnit
	pos   int
	cfg   Config
	ctl   *ThroughputController
}

func (a *assembler) exhausted() bool {
	return a.pos >= len(a.shard)
}

func (a *assembler) remaining() []file.SourceUnit {
	return a.shard[a.pos:]
}

// open starts a batch with a snapshot of the current target size.
func (a *assembler) open(lane, seq int, name string) *Batch {
	return &Batch{
		ID:         fmt.Sprintf("%s-%d", name, seq),
		Lane:       lane,
		Seq:        seq,
		TargetSize: a.ctl.Target(),
		Start:      time.Now(),
		Status:     status.OPEN,
	}
}

// admit returns the next unit for b, or false once b has to close.
func (a *assembler) admit(b *Batch) (file.SourceUnit, bool) {
	if a.exhausted() {
		return file.SourceUnit{}, false
	}
	if len(b.Units) > 0 {
		if len(b.Units) >= b.TargetSize {
			return file.SourceUnit{}, false
		}
		if a.cfg.MaxBatchDuration > 0 && time.Since(b.Start) >= a.cfg.MaxBatchDuration {
			return file.SourceUnit{}, false
		}
		if a.cfg.MaxBatchRows > 0 && b.estimatedRows() >= a.cfg.MaxBatchRows {
			return file.SourceUnit{}, false
		}
	}
	u := a.shard[a.pos]
	a.pos++
	return u, true
}

// fixedUnits feeds a retry batch from a fixed member list.
func fixedUnits(units []file.SourceUnit) func(*Batch) (file.SourceUnit, bool) {
	i := 0
	return func(*Batch) (file.SourceUnit, bool) {
		if i >= len(units) {
			return file.SourceUnit{}, false
		}
		i++
		return units[i-1], true
	}
}

// unitError is a failure caused by one unit's content or by opening it.
type unitError struct {
	unit file.SourceUnit
	err  error
}

func (e *unitError) Error() string {
	return fmt.Sprintf("unit %v: %v", e.unit.Name, e.err)
}

func (e *unitError) Unwrap() error {
	return e.err
}

// batchRows streams the decoded records of a batch into a sink session,
// admitting units as it goes.
type batchRows struct {
	ctx      context.Context
	batch    *Batch
	admit    func(*Batch) (file.SourceUnit, bool)
	conn     file.Conn
	decoder  *record.Decoder
	reporter *record.ErrorReporter
	maxErrs  int

	unit     file.SourceUnit
	reader   io.ReadCloser
	scanner  *bufio.Scanner
	errs     *record.UnitErrors
	unitRows int64
	line     int64
	group    int64
	rec      record.Record
	err      error
}

func (r *batchRows) Next() bool {
	if r.err != nil {
		return false
	}
	for {
		if r.scanner == nil {
			u, ok := r.admit(r.batch)
			if !ok {
				r.batch.Status = status.COMMITTING
				return false
			}
			if err := r.openUnit(u); err != nil {
				r.err = err
				return false
			}
		}
		if r.scanner.Scan() {
			r.line++
			rec, err := r.decoder.Decode(r.scanner.Text(), r.group)
			if err == nil {
				r.rec = rec
				r.unitRows++
				r.batch.Rows++
				return true
			}
			if errors.Is(err, record.ErrEmptyLine) {
				continue
			}
			var de *record.DecodeError
			if errors.As(err, &de) {
				de.Line = r.line
			}
			r.batch.SkippedRows++
			r.errs.Report(r.ctx, err)
			if r.maxErrs > 0 && r.errs.Count() > int64(r.maxErrs) {
				r.err = r.fail(NewBatchError(ErrCodeUnit, "more than %d malformed rows", r.maxErrs))
				return false
			}
			continue
		}
		if err := r.scanner.Err(); err != nil {
			r.err = r.fail(NewBatchError(ErrCodeUnit, "read unit", err))
			return false
		}
		if r.errs.Count() > 0 && r.unitRows == 0 {
			r.err = r.fail(NewBatchError(ErrCodeUnit, "no valid rows, %d malformed", r.errs.Count()))
			return false
		}
		r.closeUnit()
	}
}

func (r *batchRows) openUnit(u file.SourceUnit) error {
	r.batch.Units = append(r.batch.Units, u)
	r.unit = u
	reader, err := r.conn.Open(r.ctx, u.Path)
	if err != nil {
		return &unitError{unit: u, err: NewBatchError(ErrCodeUnit, "open unit:%v", u.Name, err)}
	}
	r.reader = reader
	r.scanner = bufio.NewScanner(reader)
	r.scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	r.errs = r.reporter.Unit(u.Name)
	r.unitRows = 0
	r.line = 0
	r.group = 0
	if r.decoder.Layout().GroupColumn < 0 {
		r.group = record.GroupKeyFromName(u.Name)
	}
	return nil
}

func (r *batchRows) fail(err error) error {
	r.closeUnit()
	return &unitError{unit: r.unit, err: err}
}

func (r *batchRows) closeUnit() {
	if r.reader != nil {
		r.reader.Close()
		r.reader = nil
	}
	if r.errs != nil {
		r.errs.Done(r.ctx)
		r.errs = nil
	}
	r.scanner = nil
}

func (r *batchRows) Record() record.Record {
	return r.rec
}

func (r *batchRows) Err() error {
	return r.err
}

// release closes a unit left open when the sink stopped reading early.
func (r *batchRows) release() {
	if r.scanner != nil {
		r.closeUnit()
	}
}

// failedUnit returns the unit that caused err, if err is a unit failure.
func failedUnit(err error) (file.SourceUnit, bool) {
	var ue *unitError
	if errors.As(err, &ue) {
		return ue.unit, true
	}
	return file.SourceUnit{}, false
}
