package checkpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
)

// MySQLSchema creates the tables used by SQLStore.
const MySQLSchema = `
CREATE TABLE IF NOT EXISTS ingest_checkpoint (
  run_name    VARCHAR(128) NOT NULL PRIMARY KEY,
  last_index  BIGINT       NOT NULL,
  done        TEXT         NOT NULL,
  total       BIGINT       NOT NULL,
  last_updated DATETIME(6) NOT NULL,
  version     BIGINT       NOT NULL
);
CREATE TABLE IF NOT EXISTS ingest_failed (
  failed_id   BIGINT       NOT NULL AUTO_INCREMENT PRIMARY KEY,
  run_name    VARCHAR(128) NOT NULL,
  unit_index  BIGINT       NOT NULL,
  unit_name   VARCHAR(512) NOT NULL,
  reason      TEXT         NOT NULL,
  create_time DATETIME(6)  NOT NULL,
  KEY idx_run (run_name)
);
`

// SQLStore keeps checkpoints in a MySQL database. The tables are created by MySQLSchema.
type SQLStore struct {
	db  *sql.DB
	run string
}

// NewSQLStore returns a store for the named run. The caller owns db.
func NewSQLStore(db *sql.DB, run string) (*SQLStore, error) {
	if db == nil {
		return nil, errors.New("db must not be nil")
	}
	if run == "" {
		return nil, errors.New("run name is required")
	}
	return &SQLStore{db: db, run: run}, nil
}

func (s *SQLStore) Load(ctx context.Context) (Checkpoint, error) {
	var cp Checkpoint
	rows, err := s.db.QueryContext(ctx, "select last_index, done, total, last_updated from ingest_checkpoint where run_name=?", s.run)
	if err != nil {
		return cp, errors.Wrap(err, "query checkpoint")
	}
	defer rows.Close()

	if rows.Next() {
		var done string
		if err = rows.Scan(&cp.Index, &done, &cp.Total, &cp.Updated); err != nil {
			return cp, errors.Wrap(err, "scan checkpoint")
		}
		if done != "" {
			if err = json.Unmarshal([]byte(done), &cp.Done); err != nil {
				return cp, errors.Wrap(err, "decode done set")
			}
		}
	}
	return cp, errors.Wrap(rows.Err(), "read checkpoint")
}

// Save upserts the run's row. The statement is committed when Exec returns.
func (s *SQLStore) Save(ctx context.Context, cp Checkpoint) error {
	done := "[]"
	if len(cp.Done) > 0 {
		b, err := json.Marshal(cp.Done)
		if err != nil {
			return errors.Wrap(err, "encode done set")
		}
		done = string(b)
	}
	_, err := s.db.ExecContext(ctx, "insert into ingest_checkpoint(run_name, last_index, done, total, last_updated, version) values(?, ?, ?, ?, ?, 1) "+
		"on duplicate key update last_index=values(last_index), done=values(done), total=values(total), last_updated=values(last_updated), version=version+1",
		s.run, cp.Index, done, cp.Total, cp.Updated)
	return errors.Wrap(err, "save checkpoint")
}

func (s *SQLStore) Append(ctx context.Context, item FailedItem) error {
	if item.Time.IsZero() {
		item.Time = time.Now()
	}
	_, err := s.db.ExecContext(ctx, "insert into ingest_failed(run_name, unit_index, unit_name, reason, create_time) values(?, ?, ?, ?, ?)",
		s.run, item.Index, item.Name, item.Reason, item.Time)
	return errors.Wrap(err, "append failed item")
}

func (s *SQLStore) Items(ctx context.Context) ([]FailedItem, error) {
	rows, err := s.db.QueryContext(ctx, "select unit_index, unit_name, reason, create_time from ingest_failed where run_name=? order by failed_id", s.run)
	if err != nil {
		return nil, errors.Wrap(err, "query failed items")
	}
	defer rows.Close()

	var items []FailedItem
	for rows.Next() {
		var item FailedItem
		if err = rows.Scan(&item.Index, &item.Name, &item.Reason, &item.Time); err != nil {
			return nil, errors.Wrap(err, "scan failed item")
		}
		items = append(items, item)
	}
	return items, errors.Wrap(rows.Err(), "read failed items")
}

// Close is a no-op, the db belongs to the caller.
func (s *SQLStore) Close() error {
	return nil
}
