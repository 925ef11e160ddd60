package record

import (
	"context"
	"sync/atomic"

	"golang.org/x/time/rate"

	"github.com/chararch/trajingest/internal/logs"
)

// ErrorReporter counts row-level decode errors and logs only a bounded number of them.
// Each source unit gets its own UnitErrors; the limiter is shared so many bad files
// cannot flood the log either.
type ErrorReporter struct {
	logger     logs.Logger
	perUnit    int
	limiter    *rate.Limiter
	total      int64
	suppressed int64
}

// NewErrorReporter logs at most perUnit errors per unit and at most perSecond errors overall.
func NewErrorReporter(logger logs.Logger, perUnit int, perSecond float64) *ErrorReporter {
	if logger == nil {
		logger = logs.Nop
	}
	limit := rate.Inf
	burst := 0
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
		burst = int(perSecond)
		if burst < 1 {
			burst = 1
		}
	}
	return &ErrorReporter{logger: logger, perUnit: perUnit, limiter: rate.NewLimiter(limit, burst)}
}

// Unit starts error accounting for one source unit.
func (r *ErrorReporter) Unit(name string) *UnitErrors {
	return &UnitErrors{reporter: r, name: name}
}

// Total is the number of row errors seen across all units.
func (r *ErrorReporter) Total() int64 {
	return atomic.LoadInt64(&r.total)
}

// Suppressed is the number of row errors that were counted but not logged.
func (r *ErrorReporter) Suppressed() int64 {
	return atomic.LoadInt64(&r.suppressed)
}

// UnitErrors accumulates the row errors of one unit. Not safe for concurrent use.
type UnitErrors struct {
	reporter *ErrorReporter
	name     string
	count    int64
	logged   int
}

// Report records one row error.
func (u *UnitErrors) Report(ctx context.Context, err error) {
	u.count++
	atomic.AddInt64(&u.reporter.total, 1)
	if u.logged < u.reporter.perUnit && u.reporter.limiter.Allow() {
		u.logged++
		u.reporter.logger.Warn(ctx, "skip malformed row, unit:%v, err:%v", u.name, err)
		return
	}
	atomic.AddInt64(&u.reporter.suppressed, 1)
}

// Count is the number of row errors reported for this unit.
func (u *UnitErrors) Count() int64 {
	return u.count
}

// Done logs a summary line when errors were suppressed for this unit.
func (u *UnitErrors) Done(ctx context.Context) {
	if extra := u.count - int64(u.logged); extra > 0 {
		u.reporter.logger.Warn(ctx, "unit:%v had %d more malformed rows not logged", u.name, extra)
	}
}
