package checkpoint

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckpoint_Settle(t *testing.T) {
	var cp Checkpoint
	cp = cp.Settle(2, 3)
	assert.Equal(t, int64(0), cp.Index)
	assert.Equal(t, []Range{{First: 2, Last: 3}}, cp.Done)
	assert.False(t, cp.Settled(0))
	assert.True(t, cp.Settled(3))

	cp = cp.Settle(0)
	assert.Equal(t, int64(1), cp.Index)
	cp = cp.Settle(1, 1)
	assert.Equal(t, int64(4), cp.Index)
	assert.Empty(t, cp.Done)
	assert.Equal(t, int64(4), cp.Count())

	// already settled ordinals are ignored
	again := cp.Settle(0, 2, 7)
	assert.Equal(t, int64(4), again.Index)
	assert.Equal(t, []Range{{First: 7, Last: 7}}, again.Done)
	assert.True(t, again.Settled(1))
	assert.False(t, again.Settled(5))
	assert.Equal(t, int64(5), again.Count())
}

func TestCheckpoint_SettleDoesNotAlias(t *testing.T) {
	cp := Checkpoint{}.Settle(5)
	next := cp.Settle(6)
	assert.Equal(t, []Range{{First: 5, Last: 5}}, cp.Done)
	assert.Equal(t, []Range{{First: 5, Last: 6}}, next.Done)
}

func TestCheckpoint_SettleMergesRanges(t *testing.T) {
	cp := Checkpoint{}.Settle(10, 12, 20)
	assert.Equal(t, []Range{{First: 10, Last: 10}, {First: 12, Last: 12}, {First: 20, Last: 20}}, cp.Done)
	cp = cp.Settle(11, 19)
	assert.Equal(t, []Range{{First: 10, Last: 12}, {First: 19, Last: 20}}, cp.Done)
	assert.True(t, cp.Settled(11))
	assert.False(t, cp.Settled(13))
	assert.Equal(t, int64(5), cp.Count())
}

func TestCheckpoint_SettleInterleavedLanes(t *testing.T) {
	const lanes, perLane = 4, 250
	var cp Checkpoint
	settled := map[int64]bool{}
	for step := int64(0); step < perLane; step++ {
		for lane := int64(0); lane < lanes; lane++ {
			i := lane*perLane + step
			cp = cp.Settle(i)
			settled[i] = true
			assert.LessOrEqual(t, len(cp.Done), lanes)
		}
		assert.Equal(t, int64(len(settled)), cp.Count())
	}
	for i := int64(0); i < lanes*perLane; i++ {
		assert.True(t, cp.Settled(i), i)
	}
	assert.Equal(t, int64(lanes*perLane), cp.Index)
	assert.Empty(t, cp.Done)
}

func testStore(t *testing.T, store Store, log FailedLog) {
	ctx := context.Background()
	cp, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, Checkpoint{}, cp)

	now := time.Now().UTC().Truncate(time.Millisecond)
	want := Checkpoint{Index: 3, Done: []Range{{First: 5, Last: 5}, {First: 9, Last: 9}}, Total: 12, Updated: now}
	require.NoError(t, store.Save(ctx, want))
	got, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, want.Index, got.Index)
	assert.Equal(t, want.Done, got.Done)
	assert.Equal(t, want.Total, got.Total)
	assert.True(t, want.Updated.Equal(got.Updated))

	want = want.Settle(3, 4)
	require.NoError(t, store.Save(ctx, want))
	got, err = store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(6), got.Index)
	assert.Equal(t, []Range{{First: 9, Last: 9}}, got.Done)

	require.NoError(t, log.Append(ctx, FailedItem{Name: "taxi_7.tbl", Index: 7, Reason: "no valid rows\tat all"}))
	require.NoError(t, log.Append(ctx, FailedItem{Name: "taxi_8.tbl", Index: 8, Reason: "commit failed", Time: now}))
	items, err := log.Items(ctx)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "taxi_7.tbl", items[0].Name)
	assert.Equal(t, int64(7), items[0].Index)
	assert.False(t, items[0].Time.IsZero())
	assert.Equal(t, "taxi_8.tbl", items[1].Name)
	assert.Equal(t, "commit failed", items[1].Reason)
}

func TestFileStore(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "cp")
	s, err := OpenFile(dir)
	require.NoError(t, err)
	testStore(t, s, s)
	require.NoError(t, s.Close())

	// reopen sees the saved state
	s, err = OpenFile(dir)
	require.NoError(t, err)
	defer s.Close()
	cp, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(6), cp.Index)
	items, err := s.Items(context.Background())
	require.NoError(t, err)
	assert.Len(t, items, 2)
	assert.Equal(t, "no valid rows at all", items[0].Reason)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2, "temp files must not be left behind")
}

func TestFileStore_Corrupt(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, checkpointFile), []byte("{"), 0o644))
	s, err := OpenFile(dir)
	require.NoError(t, err)
	defer s.Close()
	_, err = s.Load(context.Background())
	assert.Error(t, err)
}

func TestBoltStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cp.db")
	s, err := OpenBolt(path, "taxi")
	require.NoError(t, err)
	testStore(t, s, s)
	require.NoError(t, s.Close())

	// runs are isolated
	other, err := OpenBolt(path, "other")
	require.NoError(t, err)
	defer other.Close()
	cp, err := other.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Checkpoint{}, cp)

	_, err = OpenBolt(path, "")
	assert.Error(t, err)
}

// TestSQLStore runs against a real MySQL when TRAJINGEST_TEST_MYSQL_DSN is set,
// e.g. "root:root@tcp(127.0.0.1:3306)/test?parseTime=true".
func TestSQLStore(t *testing.T) {
	dsn := os.Getenv("TRAJINGEST_TEST_MYSQL_DSN")
	if dsn == "" {
		t.Skip("TRAJINGEST_TEST_MYSQL_DSN not set")
	}
	db, err := sql.Open("mysql", dsn)
	require.NoError(t, err)
	defer db.Close()
	for _, stmt := range strings.Split(MySQLSchema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		_, err = db.Exec(stmt)
		require.NoError(t, err)
	}
	s, err := NewSQLStore(db, "test-"+uuid.NewString())
	require.NoError(t, err)
	testStore(t, s, s)
}

func TestNewSQLStore_Invalid(t *testing.T) {
	_, err := NewSQLStore(nil, "x")
	assert.Error(t, err)
	_, err = NewSQLStore(&sql.DB{}, "")
	assert.Error(t, err)
}
