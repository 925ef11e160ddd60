package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chararch/trajingest"
	"github.com/chararch/trajingest/checkpoint"
	"github.com/chararch/trajingest/file"
	"github.com/chararch/trajingest/sink"
	"github.com/chararch/trajingest/status"
)

func TestLoadSettingsDefaults(t *testing.T) {
	s, err := LoadSettings("", nil)
	require.NoError(t, err)
	assert.Equal(t, "trajectory", s.Name)
	assert.Equal(t, ".tbl", s.Source.Suffix)
	assert.Equal(t, "|", s.Layout.Delimiter)
	assert.Equal(t, -1, s.Layout.GroupColumn)
	assert.Equal(t, "postgres", s.Sink.Driver)
	assert.Equal(t, "file", s.Checkpoint.Backend)
	assert.Equal(t, trajingest.DefaultConfig(), s.Pipeline)
}

func TestLoadSettingsPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ingest.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
name: beijing
source:
  location: /data/taxi
sink:
  driver: mysql
  columns: [fid, geom, dtg, taxi_id]
pipeline:
  workers: 4
  batch_size: 20
  max_batch_duration: 90s
  retry_policy: split
`), 0o644))
	t.Setenv("TRAJINGEST_PIPELINE_WORKERS", "6")
	t.Setenv("TRAJINGEST_SINK_DSN", "gis:secret@tcp(db:3306)/gis")

	cmd := newRunCommand(&path)
	require.NoError(t, cmd.Flags().Parse([]string{"--batch-size", "30", "--retry-policy", "none"}))
	s, err := LoadSettings(path, cmd.Flags())
	require.NoError(t, err)

	assert.Equal(t, "beijing", s.Name)
	assert.Equal(t, "/data/taxi", s.Source.Location)
	assert.Equal(t, "mysql", s.Sink.Driver)
	assert.Equal(t, []string{"fid", "geom", "dtg", "taxi_id"}, s.Sink.Columns)
	assert.Equal(t, "gis:secret@tcp(db:3306)/gis", s.Sink.DSN)
	assert.Equal(t, 6, s.Pipeline.Workers)
	assert.Equal(t, 30, s.Pipeline.BatchSize)
	assert.Equal(t, 90*time.Second, s.Pipeline.MaxBatchDuration)
	assert.Equal(t, trajingest.RetryNone, s.Pipeline.RetryPolicy)
	// untouched flags keep the configured defaults
	assert.True(t, s.Pipeline.Adaptive)
}

func TestLoadSettingsInvalid(t *testing.T) {
	t.Setenv("TRAJINGEST_PIPELINE_RETRY_POLICY", "forever")
	_, err := LoadSettings("", nil)
	assert.Error(t, err)

	_, err = LoadSettings(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	assert.Error(t, err)
}

func TestRecordLayout(t *testing.T) {
	layout, err := LayoutSettings{Delimiter: ",", IDColumn: 0, GeomColumn: 2, TimeColumn: 1, GroupColumn: 3, TimeLayout: time.RFC3339, TimeZone: "UTC", SRID: 3857}.RecordLayout()
	require.NoError(t, err)
	assert.Equal(t, time.UTC, layout.Location)
	assert.Equal(t, 3857, layout.DefaultSRID)

	_, err = LayoutSettings{TimeZone: "Mars/Olympus"}.RecordLayout()
	assert.Error(t, err)
}

func TestNewEnumerator(t *testing.T) {
	e, err := newEnumerator(SourceSettings{Location: "/data/taxi", Suffix: ".tbl"})
	require.NoError(t, err)
	assert.Equal(t, ".", e.Dir)
	assert.Equal(t, ".tbl", e.Filter.Suffix)

	e, err = newEnumerator(SourceSettings{Location: "gis@10.0.0.5:/data/taxi", KeyFile: "id_rsa"})
	require.NoError(t, err)
	assert.Equal(t, "/data/taxi", e.Dir)
	sftp, ok := e.Transport.(*file.SFTP)
	require.True(t, ok)
	assert.Equal(t, "id_rsa", sftp.KeyFile)

	_, err = newEnumerator(SourceSettings{})
	assert.Error(t, err)
}

func TestNewSink(t *testing.T) {
	c, closer, err := newSink(SinkSettings{Driver: "memory"}, 4326)
	require.NoError(t, err)
	assert.IsType(t, &sink.Memory{}, c)
	assert.NoError(t, closer.Close())

	c, _, err = newSink(SinkSettings{Driver: "mysql", DSN: "u@tcp(h)/db", Table: "trajectory"}, 4326)
	require.NoError(t, err)
	assert.Equal(t, 4326, c.(*sink.MySQL).SRID)

	c, _, err = newSink(SinkSettings{Driver: "PG", DSN: "postgres://h/db", Table: "trajectory", LockTable: "trajectory"}, 4326)
	require.NoError(t, err)
	assert.Equal(t, "trajectory", c.(*sink.Postgres).LockTable)

	_, _, err = newSink(SinkSettings{Driver: "postgres"}, 4326)
	assert.Error(t, err)
	_, _, err = newSink(SinkSettings{Driver: "oracle", DSN: "x"}, 4326)
	assert.Error(t, err)
}

func TestOpenCheckpoint(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	store, err := openCheckpoint(ctx, CheckpointSettings{Backend: "file", Dir: dir}, "run")
	require.NoError(t, err)
	require.NoError(t, store.Save(ctx, checkpoint.Checkpoint{Index: 3, Total: 9}))
	require.NoError(t, store.Close())

	store, err = openCheckpoint(ctx, CheckpointSettings{Backend: "bolt", Path: filepath.Join(dir, "cp.db")}, "run")
	require.NoError(t, err)
	require.NoError(t, store.Close())

	store, err = openCheckpoint(ctx, CheckpointSettings{Backend: "none"}, "run")
	require.NoError(t, err)
	assert.Nil(t, store)

	_, err = openCheckpoint(ctx, CheckpointSettings{Backend: "mysql"}, "run")
	assert.Error(t, err)
	_, err = openCheckpoint(ctx, CheckpointSettings{Backend: "redis"}, "run")
	assert.Error(t, err)
}

func writeTaxiFiles(t *testing.T, dir string, n int) {
	for i := 0; i < n; i++ {
		line := fmt.Sprintf("%d|SRID=4326;POINT(116.%d 39.9)|2008-02-02 15:36:08\n", i, i)
		require.NoError(t, os.WriteFile(filepath.Join(dir, fmt.Sprintf("taxi_%d.tbl", i)), []byte(line), 0o644))
	}
}

func TestRunAndStatusCommands(t *testing.T) {
	src := t.TempDir()
	state := t.TempDir()
	writeTaxiFiles(t, src, 7)

	var out bytes.Buffer
	root := newRootCommand()
	root.SetOut(&out)
	root.SetArgs([]string{"run", "--source", src, "--sink", "memory", "--checkpoint-dir", state, "--workers", "2", "--batch-size", "2", "--log-level", "error"})
	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), string(status.COMPLETED))
	assert.Contains(t, out.String(), "trajectory:0001")

	out.Reset()
	root = newRootCommand()
	root.SetOut(&out)
	root.SetArgs([]string{"status", "--checkpoint-dir", state})
	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "7 / 7 (100.0%)")
}

func TestRunReportsFailedUnits(t *testing.T) {
	src := t.TempDir()
	writeTaxiFiles(t, src, 3)
	require.NoError(t, os.WriteFile(filepath.Join(src, "taxi_9.tbl"), []byte("9|POINT(x)|2008-02-02 15:36:08\n"), 0o644))

	var out bytes.Buffer
	root := newRootCommand()
	root.SetOut(&out)
	root.SetArgs([]string{"run", "--source", src, "--sink", "memory", "--checkpoint", "none", "--log-level", "error"})
	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 units failed")
	assert.Contains(t, out.String(), "taxi_9.tbl")
	assert.True(t, strings.Contains(out.String(), "Total: 1 failed") || strings.Contains(out.String(), "TOTAL: 1 FAILED"))
}
