package sink

import (
	"bufio"
	"context"
	"database/sql"
	"fmt"
	"io"
	"strings"
	"sync/atomic"

	"github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"
)

// MySQL writes batches with LOAD DATA LOCAL INFILE streamed from memory.
//
// Times are written in UTC.
type MySQL struct {
	DSN   string
	Table string
	// Columns names the id, geometry, time and group key columns, DefaultColumns when empty.
	Columns []string
	// SRID passed to ST_GeomFromText, the record's own SRID when 0.
	SRID int

	db  sharedDB
	seq int64
}

func (m *MySQL) String() string {
	return fmt.Sprintf("mysql:%s", m.Table)
}

func (m *MySQL) columns() []string {
	if len(m.Columns) == 0 {
		return DefaultColumns
	}
	return m.Columns
}

func (m *MySQL) Open(ctx context.Context, lane int) (Session, error) {
	if m.Table == "" {
		return nil, errors.New("mysql sink needs a table")
	}
	if len(m.columns()) != 4 {
		return nil, errors.Errorf("mysql sink needs 4 columns, got %d", len(m.columns()))
	}
	db, err := m.db.get("mysql", m.DSN)
	if err != nil {
		return nil, err
	}
	return newTxSession(ctx, db, m.load)
}

// Close releases the connection pool shared by all sessions.
func (m *MySQL) Close() error {
	return m.db.close()
}

func quoteMySQL(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

func (m *MySQL) statement(handler string) string {
	cols := m.columns()
	return fmt.Sprintf("LOAD DATA LOCAL INFILE 'Reader::%s' INTO TABLE %s "+
		"FIELDS TERMINATED BY '|' ESCAPED BY '\\\\' LINES TERMINATED BY '\\n' "+
		"(%s, @srid, @geom, %s, %s) SET %s = ST_GeomFromText(@geom, @srid)",
		handler, quoteMySQL(m.Table), quoteMySQL(cols[0]), quoteMySQL(cols[2]), quoteMySQL(cols[3]), quoteMySQL(cols[1]))
}

var loadEscaper = strings.NewReplacer(`\`, `\\`, "|", `\|`, "\n", `\n`, "\r", `\r`)

func (m *MySQL) load(ctx context.Context, tx *sql.Tx, rows Rows) (int64, error) {
	handler := fmt.Sprintf("trajingest_%d", atomic.AddInt64(&m.seq, 1))
	pr, pw := io.Pipe()
	mysql.RegisterReaderHandler(handler, func() io.Reader { return pr })
	defer mysql.DeregisterReaderHandler(handler)

	done := make(chan struct{})
	go func() {
		defer close(done)
		w := bufio.NewWriter(pw)
		var err error
		for err == nil && rows.Next() {
			r := rows.Record()
			var g string
			if g, err = r.WKT(); err != nil {
				break
			}
			srid := m.SRID
			if srid == 0 {
				srid = r.SRID
			}
			_, err = fmt.Fprintf(w, "%s|%d|%s|%s|%d\n", loadEscaper.Replace(r.ID), srid, g,
				r.Time.UTC().Format("2006-01-02 15:04:05.000000"), r.GroupKey)
		}
		if err == nil {
			err = rows.Err()
		}
		if err == nil {
			err = w.Flush()
		}
		pw.CloseWithError(err)
	}()

	res, err := tx.ExecContext(ctx, m.statement(handler))
	// unblock the writer if the server stopped reading early
	pr.CloseWithError(io.ErrClosedPipe)
	<-done
	if err != nil {
		return 0, errors.Wrap(err, "load data")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "load data")
	}
	if err = rows.Err(); err != nil {
		return 0, err
	}
	return n, nil
}
