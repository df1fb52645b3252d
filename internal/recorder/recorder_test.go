package recorder

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quantix/internal/clock"
	"quantix/internal/schema"
)

var base = time.Date(2024, 6, 3, 14, 0, 0, 0, time.UTC)

func header(seq uint64, at time.Time) schema.EventHeader {
	return schema.NewHeader(schema.EventMarketData, schema.SourceCapture, seq, at.UnixNano(), at.UnixNano()+1)
}

func writeAll(t *testing.T, cfg Config, n int, step time.Duration) {
	t.Helper()
	w, err := NewWriter(cfg)
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	for i := 0; i < n; i++ {
		require.NoError(t, w.Append(context.Background(), header(uint64(i+1), base.Add(time.Duration(i)*step)), []byte{byte(i), 0xAB}))
	}
	require.NoError(t, w.Close())
}

func TestWriteThenCursor(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig(dir)
	cfg.SegmentMaxDuration = time.Minute
	writeAll(t, cfg, 6, 30*time.Second)

	files, err := Segments(dir, "")
	require.NoError(t, err)
	require.Len(t, files, 3, "a new segment every minute of event time")
	assert.Equal(t, "wal-20240603-140000-000001.wal", filepath.Base(files[0]))
	assert.Equal(t, "wal-20240603-140100-000002.wal", filepath.Base(files[1]))

	cur, err := OpenCursor(dir, "", ReaderOptions{})
	require.NoError(t, err)
	defer cur.Close()
	for i := 0; i < 6; i++ {
		h, payload, err := cur.Next()
		require.NoError(t, err)
		assert.Equal(t, uint64(i+1), h.Seq)
		assert.Equal(t, schema.EventMarketData, h.Type)
		assert.Equal(t, schema.SourceCapture, h.Source)
		assert.Equal(t, schema.SchemaVersion, h.Version)
		assert.Equal(t, base.Add(time.Duration(i)*30*time.Second).UnixNano(), h.TsEvent)
		assert.Equal(t, []byte{byte(i), 0xAB}, payload)
	}
	_, _, err = cur.Next()
	assert.Equal(t, io.EOF, err)
}

func TestSegmentNamesAreDeterministic(t *testing.T) {
	a, b := t.TempDir(), t.TempDir()
	cfg := DefaultConfig(a)
	cfg.SegmentMaxBytes = 200
	writeAll(t, cfg, 10, time.Second)
	cfg.Dir = b
	writeAll(t, cfg, 10, time.Second)

	fa, err := Segments(a, "")
	require.NoError(t, err)
	fb, err := Segments(b, "")
	require.NoError(t, err)
	require.Greater(t, len(fa), 1)
	require.Equal(t, len(fa), len(fb))
	for i := range fa {
		assert.Equal(t, filepath.Base(fa[i]), filepath.Base(fb[i]))
		da, _ := os.ReadFile(fa[i])
		db, _ := os.ReadFile(fb[i])
		assert.Equal(t, da, db)
	}
}

func TestChecksumAndTruncation(t *testing.T) {
	dir := t.TempDir()
	writeAll(t, DefaultConfig(dir), 2, time.Second)
	files, err := Segments(dir, "")
	require.NoError(t, err)
	require.Len(t, files, 1)

	data, err := os.ReadFile(files[0])
	require.NoError(t, err)
	recordLen := recordHeaderSize + 2 + recordChecksumSize
	require.Len(t, data, 2*recordLen)

	// cut the second record short
	require.NoError(t, os.WriteFile(files[0], data[:recordLen+recordHeaderSize], 0o644))
	cur, err := OpenCursor(dir, "", ReaderOptions{})
	require.NoError(t, err)
	_, _, err = cur.Next()
	require.NoError(t, err)
	_, _, err = cur.Next()
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)

	tolerant, err := OpenCursor(dir, "", ReaderOptions{AllowTruncatedTail: true})
	require.NoError(t, err)
	_, _, err = tolerant.Next()
	require.NoError(t, err)
	_, _, err = tolerant.Next()
	assert.Equal(t, io.EOF, err)

	corrupt := append([]byte(nil), data...)
	corrupt[recordHeaderSize] ^= 0xFF
	require.NoError(t, os.WriteFile(files[0], corrupt, 0o644))
	cur, err = OpenCursor(dir, "", ReaderOptions{})
	require.NoError(t, err)
	_, _, err = cur.Next()
	assert.ErrorIs(t, err, ErrChecksumMismatch)
}

func TestWriterLifecycle(t *testing.T) {
	w, err := NewWriter(DefaultConfig(t.TempDir()))
	require.NoError(t, err)
	assert.ErrorIs(t, w.TryAppend(header(1, base), nil), ErrNotStarted)
	require.NoError(t, w.Start(context.Background()))
	assert.ErrorIs(t, w.Start(context.Background()), ErrAlreadyStarted)
	require.NoError(t, w.TryAppend(header(1, base), nil))
	require.NoError(t, w.Close())
	assert.ErrorIs(t, w.Append(context.Background(), header(2, base), nil), ErrClosed)

	_, err = NewWriter(Config{})
	assert.Error(t, err)
}

func TestWriterKeepsRecordsAfterCancel(t *testing.T) {
	dir := t.TempDir()
	for round := 0; round < 20; round++ {
		prefix := fmt.Sprintf("run%02d", round)
		cfg := DefaultConfig(dir)
		cfg.FilePrefix = prefix
		w, err := NewWriter(cfg)
		require.NoError(t, err)

		ctx, cancel := context.WithCancel(context.Background())
		require.NoError(t, w.Start(ctx))
		require.NoError(t, w.Append(ctx, header(1, base), []byte{1}))
		cancel()
		require.NoError(t, w.Append(context.WithoutCancel(ctx), header(2, base), []byte{2}))
		require.NoError(t, w.Close())

		cur, err := OpenCursor(dir, prefix, ReaderOptions{})
		require.NoError(t, err)
		var seqs []uint64
		for {
			h, _, err := cur.Next()
			if err == io.EOF {
				break
			}
			require.NoError(t, err)
			seqs = append(seqs, h.Seq)
		}
		require.NoError(t, cur.Close())
		require.Equal(t, []uint64{1, 2}, seqs, "round %d", round)
	}
}

func TestPlaybackPacing(t *testing.T) {
	dir := t.TempDir()
	writeAll(t, DefaultConfig(dir), 3, 2*time.Second)

	p, err := NewPlayback(PlaybackConfig{Dir: dir, Speed: 2})
	require.NoError(t, err)
	sleeper := &clock.NopSleeper{}
	p.WithSleeper(sleeper)

	var seqs []uint64
	require.NoError(t, p.Run(context.Background(), func(h schema.EventHeader, _ []byte) error {
		seqs = append(seqs, h.Seq)
		return nil
	}))
	assert.Equal(t, []uint64{1, 2, 3}, seqs)
	assert.Equal(t, []time.Duration{time.Second, time.Second}, sleeper.Slept)

	_, err = NewPlayback(PlaybackConfig{Dir: dir, Speed: -1})
	assert.Error(t, err)
}
