// Package sink writes batches of records to a destination, one transaction per batch.
package sink

import (
	"context"
	"database/sql/driver"
	"io"
	"net"
	"syscall"

	"github.com/chararch/trajingest/record"
	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	"github.com/pkg/errors"
)

// ErrSessionClosed is returned by WriteBatch after Close.
var ErrSessionClosed = errors.New("sink session is closed")

// Rows streams the records of one batch.
type Rows interface {
	Next() bool
	Record() record.Record
	// Err reports the error that stopped iteration, if any. A session must
	// roll back when it is non-nil.
	Err() error
}

// Session is a connection to the sink owned by one lane.
type Session interface {
	// WriteBatch writes all rows as one transaction and returns the number of
	// rows committed. On error nothing of the batch is visible.
	WriteBatch(ctx context.Context, rows Rows) (int64, error)
	Close() error
}

// Connector opens sessions.
type Connector interface {
	Open(ctx context.Context, lane int) (Session, error)
	String() string
}

// IsConnLoss reports whether err means the session's connection is gone and
// the session has to be re-established.
func IsConnLoss(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, mysql.ErrInvalidConn) ||
		errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) || errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) || errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		// class 08: connection exception, 57P01..03: server shutting down
		return pqErr.Code.Class() == "08" || pqErr.Code == "57P01" || pqErr.Code == "57P02" || pqErr.Code == "57P03"
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// sliceRows adapts a slice to Rows.
type sliceRows struct {
	records []record.Record
	pos     int
}

// FromSlice returns Rows over records.
func FromSlice(records []record.Record) Rows {
	return &sliceRows{records: records, pos: -1}
}

func (r *sliceRows) Next() bool {
	r.pos++
	return r.pos < len(r.records)
}

func (r *sliceRows) Record() record.Record {
	return r.records[r.pos]
}

func (r *sliceRows) Err() error {
	return nil
}
