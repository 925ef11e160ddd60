package logs

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerLevelAndPrefix(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&buf, Warn)
	ctx := WithPrefix(context.Background(), "lane:0001")

	l.Info(ctx, "hidden %d", 1)
	l.Warn(ctx, "shown %d", 2)
	l.Error(WithPrefix(ctx, "batch:7"), "boom")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "[WARN]")
	assert.Contains(t, lines[0], "[lane:0001] shown 2")
	assert.Contains(t, lines[0], "logger_test.go")
	assert.Contains(t, lines[1], "[lane:0001 batch:7] boom")
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]LogLevel{"debug": Debug, "": Info, "Warning": Warn, "ERROR": Error} {
		got, err := ParseLevel(in)
		require.NoError(t, err)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseLevel("chatty")
	assert.Error(t, err)
}
