package checkpoint

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketCheckpoint = []byte("checkpoint")
	bucketFailed     = []byte("failed")
	keyCheckpoint    = []byte("current")
)

// BoltStore keeps checkpoints of any number of runs in one bbolt file, one
// bucket per run name.
type BoltStore struct {
	db  *bolt.DB
	run []byte
}

// OpenBolt opens the bbolt file at path for the named run.
func OpenBolt(path, run string) (*BoltStore, error) {
	if run == "" {
		return nil, errors.New("run name is required")
	}
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, errors.Wrapf(err, "open bolt %s", path)
	}
	s := &BoltStore{db: db, run: []byte(run)}
	err = db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(s.run)
		if err != nil {
			return err
		}
		if _, err = b.CreateBucketIfNotExists(bucketCheckpoint); err != nil {
			return err
		}
		_, err = b.CreateBucketIfNotExists(bucketFailed)
		return err
	})
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "create run buckets")
	}
	return s, nil
}

func (s *BoltStore) bucket(tx *bolt.Tx, name []byte) *bolt.Bucket {
	return tx.Bucket(s.run).Bucket(name)
}

func (s *BoltStore) Load(ctx context.Context) (Checkpoint, error) {
	var cp Checkpoint
	err := s.db.View(func(tx *bolt.Tx) error {
		v := s.bucket(tx, bucketCheckpoint).Get(keyCheckpoint)
		if v == nil {
			return nil
		}
		return json.Unmarshal(v, &cp)
	})
	return cp, errors.Wrap(err, "load checkpoint")
}

// Save commits in its own bbolt transaction, which fsyncs before returning.
func (s *BoltStore) Save(ctx context.Context, cp Checkpoint) error {
	v, err := json.Marshal(cp)
	if err != nil {
		return errors.Wrap(err, "encode checkpoint")
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		return s.bucket(tx, bucketCheckpoint).Put(keyCheckpoint, v)
	})
	return errors.Wrap(err, "save checkpoint")
}

func (s *BoltStore) Append(ctx context.Context, item FailedItem) error {
	if item.Time.IsZero() {
		item.Time = time.Now()
	}
	v, err := json.Marshal(item)
	if err != nil {
		return errors.Wrap(err, "encode failed item")
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		b := s.bucket(tx, bucketFailed)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		key := make([]byte, 8)
		binary.BigEndian.PutUint64(key, seq)
		return b.Put(key, v)
	})
	return errors.Wrap(err, "append failed item")
}

func (s *BoltStore) Items(ctx context.Context) ([]FailedItem, error) {
	var items []FailedItem
	err := s.db.View(func(tx *bolt.Tx) error {
		return s.bucket(tx, bucketFailed).ForEach(func(k, v []byte) error {
			var item FailedItem
			if err := json.Unmarshal(v, &item); err != nil {
				return err
			}
			items = append(items, item)
			return nil
		})
	})
	return items, errors.Wrap(err, "read failed items")
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
