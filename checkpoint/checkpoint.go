// Package checkpoint persists ingestion progress so an interrupted run can resume.
package checkpoint

import (
	"context"
	"sort"
	"time"
)

// Checkpoint is the durable progress of a run.
//
// Every unit with ordinal < Index is settled. Done holds the settled ordinals
// >= Index as sorted, disjoint and non-adjacent ranges. Lanes work on
// contiguous shards, so Done stays about as long as the number of lanes.
type Checkpoint struct {
	Index   int64     `json:"index"`
	Done    []Range   `json:"done,omitempty"`
	Total   int64     `json:"total"`
	Updated time.Time `json:"updated"`
}

// Range is an inclusive run of settled ordinals.
type Range struct {
	First int64 `json:"first"`
	Last  int64 `json:"last"`
}

func (r Range) Len() int64 {
	return r.Last - r.First + 1
}

// Settled reports whether the unit with the given ordinal needs no further processing.
func (c Checkpoint) Settled(index int64) bool {
	if index < c.Index {
		return true
	}
	i := sort.Search(len(c.Done), func(i int) bool { return c.Done[i].Last >= index })
	return i < len(c.Done) && c.Done[i].First <= index
}

// Count is the number of settled units.
func (c Checkpoint) Count() int64 {
	n := c.Index
	for _, r := range c.Done {
		n += r.Len()
	}
	return n
}

// Settle returns a copy with the given ordinals added. The watermark only
// ever moves forward.
func (c Checkpoint) Settle(indexes ...int64) Checkpoint {
	next := Checkpoint{Index: c.Index, Total: c.Total, Updated: c.Updated}
	done := append([]Range(nil), c.Done...)
	for _, i := range indexes {
		if i >= next.Index {
			done = insert(done, i)
		}
	}
	for len(done) > 0 && done[0].First <= next.Index {
		next.Index = done[0].Last + 1
		done = done[1:]
	}
	if len(done) > 0 {
		next.Done = done
	}
	return next
}

// insert adds i to the sorted ranges, merging with its neighbours.
func insert(done []Range, i int64) []Range {
	k := sort.Search(len(done), func(k int) bool { return done[k].Last >= i-1 })
	if k < len(done) && done[k].First <= i+1 {
		switch {
		case i >= done[k].First && i <= done[k].Last:
		case i == done[k].Last+1:
			done[k].Last = i
			if k+1 < len(done) && done[k+1].First == i+1 {
				done[k].Last = done[k+1].Last
				done = append(done[:k+1], done[k+2:]...)
			}
		default:
			done[k].First = i
		}
		return done
	}
	done = append(done, Range{})
	copy(done[k+1:], done[k:])
	done[k] = Range{First: i, Last: i}
	return done
}

// FailedItem is one entry of the failed-items log.
type FailedItem struct {
	Name   string    `json:"name"`
	Index  int64     `json:"index"`
	Reason string    `json:"reason"`
	Time   time.Time `json:"time"`
}

// Store loads and saves the checkpoint of one run.
type Store interface {
	// Load returns the zero Checkpoint when nothing was saved yet.
	Load(ctx context.Context) (Checkpoint, error)
	// Save returns once the checkpoint is durable.
	Save(ctx context.Context, cp Checkpoint) error
	Close() error
}

// FailedLog records units that failed. It is advisory and never consulted for skip decisions.
type FailedLog interface {
	Append(ctx context.Context, item FailedItem) error
	Items(ctx context.Context) ([]FailedItem, error)
}
