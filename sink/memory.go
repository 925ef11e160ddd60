package sink

import (
	"context"
	"sync"
	"time"

	"github.com/chararch/trajingest/record"
)

// Memory is a transactional in-memory sink. Each batch is staged and becomes
// visible only when it commits.
//
// The hook fields inject failures. They must be set before the first Open.
type Memory struct {
	// FailOpen is called by Open; a non-nil error fails the open.
	FailOpen func(lane int) error
	// FailRecord is called for every streamed record; a non-nil error aborts the batch.
	FailRecord func(lane int, r record.Record) error
	// FailCommit is called before a batch is published; a non-nil error rolls it back.
	FailCommit func(lane int, rows int) error
	// Delay is slept once per batch before commit.
	Delay time.Duration

	mu        sync.Mutex
	committed []record.Record
	commits   int
	rollbacks int
	sessions  int
}

// NewMemory returns an empty memory sink.
func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) String() string {
	return "memory"
}

func (m *Memory) Open(ctx context.Context, lane int) (Session, error) {
	if m.FailOpen != nil {
		if err := m.FailOpen(lane); err != nil {
			return nil, err
		}
	}
	m.mu.Lock()
	m.sessions++
	m.mu.Unlock()
	return &memorySession{sink: m, lane: lane}, nil
}

// Records returns a copy of every committed record in commit order.
func (m *Memory) Records() []record.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]record.Record(nil), m.committed...)
}

// Len is the number of committed records.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.committed)
}

// Commits is the number of committed batches.
func (m *Memory) Commits() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.commits
}

// Rollbacks is the number of rolled back batches.
func (m *Memory) Rollbacks() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rollbacks
}

// Sessions is the number of sessions opened so far.
func (m *Memory) Sessions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions
}

type memorySession struct {
	sink   *Memory
	lane   int
	mu     sync.Mutex
	closed bool
}

func (s *memorySession) WriteBatch(ctx context.Context, rows Rows) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrSessionClosed
	}
	staged, err := s.stage(rows)
	if err == nil && s.sink.Delay > 0 {
		time.Sleep(s.sink.Delay)
	}
	if err == nil && s.sink.FailCommit != nil {
		err = s.sink.FailCommit(s.lane, len(staged))
	}

	m := s.sink
	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.rollbacks++
		return 0, err
	}
	m.committed = append(m.committed, staged...)
	m.commits++
	return int64(len(staged)), nil
}

func (s *memorySession) stage(rows Rows) ([]record.Record, error) {
	var staged []record.Record
	for rows.Next() {
		r := rows.Record()
		if s.sink.FailRecord != nil {
			if err := s.sink.FailRecord(s.lane, r); err != nil {
				return nil, err
			}
		}
		staged = append(staged, r)
	}
	return staged, rows.Err()
}

func (s *memorySession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
