package sink

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/lib/pq"
	"github.com/pkg/errors"
)

// DefaultColumns are the destination columns for id, geometry, time and group key.
var DefaultColumns = []string{"fid", "geom", "dtg", "taxi_id"}

// Postgres writes batches with COPY FROM STDIN into a PostGIS table.
type Postgres struct {
	DSN    string
	Schema string
	Table  string
	// Columns names the id, geometry, time and group key columns, DefaultColumns when empty.
	Columns []string
	// LockTable, when set, is locked IN SHARE UPDATE EXCLUSIVE MODE at the start of each batch.
	LockTable string
	// PartitionQuery, when set, is run at the start of each batch and must
	// return the name of the physical table to copy into.
	PartitionQuery string

	db sharedDB
}

func (p *Postgres) String() string {
	return fmt.Sprintf("postgres:%s", p.qualified(p.Table))
}

func (p *Postgres) qualified(table string) string {
	if p.Schema == "" {
		return table
	}
	return p.Schema + "." + table
}

func (p *Postgres) columns() []string {
	if len(p.Columns) == 0 {
		return DefaultColumns
	}
	return p.Columns
}

func (p *Postgres) Open(ctx context.Context, lane int) (Session, error) {
	if p.Table == "" && p.PartitionQuery == "" {
		return nil, errors.New("postgres sink needs a table or a partition query")
	}
	if len(p.columns()) != 4 {
		return nil, errors.Errorf("postgres sink needs 4 columns, got %d", len(p.columns()))
	}
	db, err := p.db.get("postgres", p.DSN)
	if err != nil {
		return nil, err
	}
	return newTxSession(ctx, db, p.copy)
}

// Close releases the connection pool shared by all sessions.
func (p *Postgres) Close() error {
	return p.db.close()
}

func (p *Postgres) target(ctx context.Context, tx *sql.Tx) (string, error) {
	if p.PartitionQuery == "" {
		return p.Table, nil
	}
	var name string
	if err := tx.QueryRowContext(ctx, p.PartitionQuery).Scan(&name); err != nil {
		return "", errors.Wrap(err, "resolve partition table")
	}
	name = strings.Trim(strings.TrimSpace(name), `"`)
	if name == "" {
		return "", errors.New("partition query returned no table")
	}
	return name, nil
}

func (p *Postgres) copy(ctx context.Context, tx *sql.Tx, rows Rows) (int64, error) {
	if p.LockTable != "" {
		lock := fmt.Sprintf("LOCK TABLE %s IN SHARE UPDATE EXCLUSIVE MODE", quoteQualified(p.Schema, p.LockTable))
		if _, err := tx.ExecContext(ctx, lock); err != nil {
			return 0, errors.Wrap(err, "lock table")
		}
	}
	table, err := p.target(ctx, tx)
	if err != nil {
		return 0, err
	}
	var query string
	if p.Schema == "" {
		query = pq.CopyIn(table, p.columns()...)
	} else {
		query = pq.CopyInSchema(p.Schema, table, p.columns()...)
	}
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return 0, errors.Wrap(err, "prepare copy")
	}
	var n int64
	for rows.Next() {
		r := rows.Record()
		g, err := r.EWKT()
		if err != nil {
			stmt.Close()
			return 0, err
		}
		if _, err = stmt.ExecContext(ctx, r.ID, g, r.Time, r.GroupKey); err != nil {
			stmt.Close()
			return 0, errors.Wrap(err, "copy row")
		}
		n++
	}
	if err = rows.Err(); err != nil {
		stmt.Close()
		return 0, err
	}
	if _, err = stmt.ExecContext(ctx); err != nil {
		stmt.Close()
		return 0, errors.Wrap(err, "flush copy")
	}
	if err = stmt.Close(); err != nil {
		return 0, errors.Wrap(err, "close copy")
	}
	return n, nil
}

func quoteQualified(schema, table string) string {
	if schema == "" {
		return pq.QuoteIdentifier(table)
	}
	return pq.QuoteIdentifier(schema) + "." + pq.QuoteIdentifier(table)
}
