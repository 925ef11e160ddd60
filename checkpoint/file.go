package checkpoint

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
)

const (
	checkpointFile = "checkpoint.json"
	failedFile     = "failed.log"
)

// FileStore keeps the checkpoint as checkpoint.json and the failed log as
// failed.log inside one directory.
type FileStore struct {
	dir    string
	mu     sync.Mutex
	failed *os.File
}

// OpenFile opens (creating if needed) a file store in dir.
func OpenFile(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "create checkpoint dir %s", dir)
	}
	f, err := os.OpenFile(filepath.Join(dir, failedFile), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, errors.Wrap(err, "open failed log")
	}
	return &FileStore{dir: dir, failed: f}, nil
}

func (s *FileStore) Load(ctx context.Context) (Checkpoint, error) {
	var cp Checkpoint
	b, err := os.ReadFile(filepath.Join(s.dir, checkpointFile))
	if os.IsNotExist(err) {
		return cp, nil
	}
	if err != nil {
		return cp, errors.Wrap(err, "read checkpoint")
	}
	if err = json.Unmarshal(b, &cp); err != nil {
		return cp, errors.Wrap(err, "decode checkpoint")
	}
	return cp, nil
}

// Save writes a temp file, syncs it and renames it over checkpoint.json.
func (s *FileStore) Save(ctx context.Context, cp Checkpoint) error {
	b, err := json.Marshal(cp)
	if err != nil {
		return errors.Wrap(err, "encode checkpoint")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tmp, err := os.CreateTemp(s.dir, checkpointFile+".*")
	if err != nil {
		return errors.Wrap(err, "create temp checkpoint")
	}
	defer os.Remove(tmp.Name())
	if _, err = tmp.Write(b); err == nil {
		err = tmp.Sync()
	}
	if e := tmp.Close(); err == nil {
		err = e
	}
	if err != nil {
		return errors.Wrap(err, "write temp checkpoint")
	}
	if err = os.Rename(tmp.Name(), filepath.Join(s.dir, checkpointFile)); err != nil {
		return errors.Wrap(err, "replace checkpoint")
	}
	return syncDir(s.dir)
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return errors.Wrap(err, "open checkpoint dir")
	}
	defer d.Close()
	if err = d.Sync(); err != nil && !errors.Is(err, os.ErrInvalid) {
		return errors.Wrap(err, "sync checkpoint dir")
	}
	return nil
}

// Append writes one tab separated line: time, index, name, reason.
func (s *FileStore) Append(ctx context.Context, item FailedItem) error {
	if item.Time.IsZero() {
		item.Time = time.Now()
	}
	reason := strings.NewReplacer("\t", " ", "\n", " ").Replace(item.Reason)
	line := fmt.Sprintf("%s\t%d\t%s\t%s\n", item.Time.Format(time.RFC3339Nano), item.Index, item.Name, reason)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.failed.WriteString(line); err != nil {
		return errors.Wrap(err, "append failed log")
	}
	return errors.Wrap(s.failed.Sync(), "sync failed log")
}

func (s *FileStore) Items(ctx context.Context) ([]FailedItem, error) {
	f, err := os.Open(filepath.Join(s.dir, failedFile))
	if err != nil {
		return nil, errors.Wrap(err, "open failed log")
	}
	defer f.Close()

	var items []FailedItem
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		parts := strings.SplitN(scanner.Text(), "\t", 4)
		if len(parts) != 4 {
			continue
		}
		item := FailedItem{Name: parts[2], Reason: parts[3]}
		item.Time, _ = time.Parse(time.RFC3339Nano, parts[0])
		item.Index, _ = strconv.ParseInt(parts[1], 10, 64)
		items = append(items, item)
	}
	return items, errors.Wrap(scanner.Err(), "read failed log")
}

func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failed.Close()
}
