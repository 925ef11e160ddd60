package sink

import (
	"context"
	"database/sql"
	"sync"

	"github.com/pkg/errors"
)

// writeFunc streams rows into an open transaction.
type writeFunc func(ctx context.Context, tx *sql.Tx, rows Rows) (int64, error)

// txSession runs every batch in its own transaction on one dedicated connection.
type txSession struct {
	mu     sync.Mutex
	conn   *sql.Conn
	write  writeFunc
	closed bool
}

func newTxSession(ctx context.Context, db *sql.DB, write writeFunc) (*txSession, error) {
	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "acquire connection failed")
	}
	if err = conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "ping failed")
	}
	return &txSession{conn: conn, write: write}, nil
}

func (s *txSession) WriteBatch(ctx context.Context, rows Rows) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrSessionClosed
	}
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, errors.Wrap(err, "start transaction failed")
	}
	n, err := s.write(ctx, tx, rows)
	if err == nil {
		err = rows.Err()
	}
	if err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return 0, errors.Wrapf(err, "transaction rollback failed: %v", rbErr)
		}
		return 0, err
	}
	if err = tx.Commit(); err != nil {
		return 0, errors.Wrap(err, "transaction commit failed")
	}
	return n, nil
}

func (s *txSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.conn.Close()
}

// sharedDB opens one *sql.DB lazily for all sessions of a connector.
type sharedDB struct {
	once sync.Once
	db   *sql.DB
	err  error
}

func (s *sharedDB) get(driverName, dsn string) (*sql.DB, error) {
	s.once.Do(func() {
		s.db, s.err = sql.Open(driverName, dsn)
		if s.err != nil {
			s.err = errors.Wrapf(s.err, "open %s", driverName)
		}
	})
	return s.db, s.err
}

func (s *sharedDB) close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
