package recordings

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilename_Deterministic(t *testing.T) {
	ts := time.Date(2026, 3, 4, 5, 6, 7, 890_000_000, time.FixedZone("x", 3600))

	assert.Equal(t, "recording-2026-03-04T04-06-07-890Z.webm", Filename(ts, ""))
	assert.Equal(t, Filename(ts, ".wav"), Filename(ts, "wav"))
	assert.Equal(t, "recording-2026-03-04T04-06-07-890Z.webm", Filename(ts, ".we/bm"))
}

func TestParseTimestamp(t *testing.T) {
	now := time.Unix(1700000000, 0)

	got, err := ParseTimestamp("", now)
	require.NoError(t, err)
	assert.True(t, got.Equal(now))

	got, err = ParseTimestamp("2026-01-02T03:04:05.5Z", now)
	require.NoError(t, err)
	assert.Equal(t, int64(1767323045500), got.UnixMilli())

	got, err = ParseTimestamp("1767323045500", now)
	require.NoError(t, err)
	assert.Equal(t, int64(1767323045500), got.UnixMilli())

	_, err = ParseTimestamp("yesterday", now)
	require.Error(t, err)
	_, err = ParseTimestamp("123abc", now)
	require.Error(t, err)
}

func TestExtFromName(t *testing.T) {
	cases := map[string]string{
		"call.WAV":         ".wav",
		"dir/call.webm":    ".webm",
		"noext":            "",
		"weird.mp3?x=1":    "",
		"long.extension12": "",
	}
	for in, want := range cases {
		assert.Equal(t, want, ExtFromName(in), in)
	}
}

func TestLocalSink_Save(t *testing.T) {
	base := t.TempDir()
	started := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	sink, err := NewLocalSink(base, started)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(base, "run-2026-01-01T00-00-00-000Z"), sink.Dir())

	n, err := sink.Save(context.Background(), "a.webm", strings.NewReader("hello"), "audio/webm")
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)

	data, err := os.ReadFile(filepath.Join(sink.Dir(), "a.webm"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	entries, err := os.ReadDir(sink.Dir())
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")
}

func TestLocalSink_RejectsPathNames(t *testing.T) {
	sink, err := NewLocalSink(t.TempDir(), time.Now())
	require.NoError(t, err)

	for _, name := range []string{"", "..", "../x.webm", "a/b.webm"} {
		_, err := sink.Save(context.Background(), name, strings.NewReader("x"), "")
		assert.Error(t, err, name)
	}
}

func TestLocalSink_RequiresBase(t *testing.T) {
	_, err := NewLocalSink(" ", time.Now())
	require.Error(t, err)
}

func TestLocalSink_CanceledContext(t *testing.T) {
	sink, err := NewLocalSink(t.TempDir(), time.Now())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = sink.Save(ctx, "a.webm", strings.NewReader("x"), "")
	require.ErrorIs(t, err, context.Canceled)
}
