package main

import (
	"context"
	"database/sql"
	"io"
	"strings"

	"github.com/pkg/errors"

	"github.com/chararch/trajingest/checkpoint"
	"github.com/chararch/trajingest/file"
	"github.com/chararch/trajingest/sink"
)

// newEnumerator resolves the source location into a transport and directory.
func newEnumerator(s SourceSettings) (*file.Enumerator, error) {
	if s.Location == "" {
		return nil, errors.New("source location is required")
	}
	loc, err := file.ParseLocation(s.Location)
	if err != nil {
		return nil, err
	}
	transport, dir := loc.Transport(file.Credentials{
		Password:    s.Password,
		KeyFile:     s.KeyFile,
		KnownHosts:  s.KnownHosts,
		Insecure:    s.Insecure,
		ConnTimeout: s.ConnTimeout,
	})
	return &file.Enumerator{
		Transport:   transport,
		Dir:         dir,
		Filter:      file.Filter{Suffix: s.Suffix, Pattern: s.Pattern},
		AvgRowBytes: s.AvgRowBytes,
	}, nil
}

// newSink returns the connector and a closer for the resources it holds.
func newSink(s SinkSettings, srid int) (sink.Connector, io.Closer, error) {
	switch strings.ToLower(s.Driver) {
	case "postgres", "postgresql", "pg":
		if s.DSN == "" {
			return nil, nil, errors.New("sink dsn is required for postgres")
		}
		pg := &sink.Postgres{
			DSN:            s.DSN,
			Schema:         s.Schema,
			Table:          s.Table,
			Columns:        s.Columns,
			LockTable:      s.LockTable,
			PartitionQuery: s.PartitionQuery,
		}
		return pg, pg, nil
	case "mysql":
		if s.DSN == "" {
			return nil, nil, errors.New("sink dsn is required for mysql")
		}
		my := &sink.MySQL{DSN: s.DSN, Table: s.Table, Columns: s.Columns, SRID: srid}
		return my, my, nil
	case "memory":
		return sink.NewMemory(), closerFunc(func() error { return nil }), nil
	}
	return nil, nil, errors.Errorf("unknown sink driver %q", s.Driver)
}

type closerFunc func() error

func (f closerFunc) Close() error {
	return f()
}

// progressStore is a checkpoint store that also keeps the failed log.
type progressStore interface {
	checkpoint.Store
	checkpoint.FailedLog
}

// openCheckpoint opens the configured store; run names the ingestion in shared backends.
func openCheckpoint(ctx context.Context, s CheckpointSettings, run string) (progressStore, error) {
	switch strings.ToLower(s.Backend) {
	case "file", "":
		return checkpoint.OpenFile(s.Dir)
	case "bolt":
		return checkpoint.OpenBolt(s.Path, run)
	case "mysql":
		if s.DSN == "" {
			return nil, errors.New("checkpoint dsn is required for mysql")
		}
		db, err := sql.Open("mysql", s.DSN)
		if err != nil {
			return nil, errors.Wrap(err, "open checkpoint database")
		}
		if err = db.PingContext(ctx); err != nil {
			db.Close()
			return nil, errors.Wrap(err, "connect checkpoint database")
		}
		if s.InitSchema {
			for _, stmt := range strings.Split(checkpoint.MySQLSchema, ";") {
				if strings.TrimSpace(stmt) == "" {
					continue
				}
				if _, err = db.ExecContext(ctx, stmt); err != nil {
					db.Close()
					return nil, errors.Wrap(err, "create checkpoint tables")
				}
			}
		}
		store, err := checkpoint.NewSQLStore(db, run)
		if err != nil {
			db.Close()
			return nil, err
		}
		return &ownedSQLStore{SQLStore: store, db: db}, nil
	case "none":
		return nil, nil
	}
	return nil, errors.Errorf("unknown checkpoint backend %q", s.Backend)
}

// ownedSQLStore closes the database it was opened on.
type ownedSQLStore struct {
	*checkpoint.SQLStore
	db *sql.DB
}

func (s *ownedSQLStore) Close() error {
	return s.db.Close()
}
