package feed

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quantix/internal/recorder"
	"quantix/internal/schema"
	"quantix/pkg/exception"
)

func captureRegistry(t *testing.T) *schema.Registry {
	t.Helper()
	reg := schema.NewRegistry()
	v, err := reg.AddVenue(schema.VenueSimulated)
	require.NoError(t, err)
	for _, sym := range []string{"A", "B"} {
		_, err := reg.AddInstrument(schema.Instrument{Symbol: sym, Venue: v})
		require.NoError(t, err)
	}
	return reg
}

func TestCaptureThenReplay(t *testing.T) {
	dir := t.TempDir()
	reg := captureRegistry(t)
	w, err := recorder.NewWriter(recorder.DefaultConfig(dir))
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	capture, err := NewCapture(w, reg)
	require.NoError(t, err)

	events := []schema.MarketEvent{event("A", 1, "10.5"), event("B", 1, "20"), event("A", 3, "10.25")}
	for _, ev := range events {
		require.NoError(t, capture.Record(ev, ev.Timestamp.Add(time.Millisecond)))
	}
	assert.ErrorIs(t, capture.Record(event("Z", 4, "1"), t0), exception.ErrUnknownInstrument)
	require.NoError(t, w.Close())

	src, err := NewWALSource(dir, "", reg)
	require.NoError(t, err)
	defer src.Close()
	h, err := NewHistorical(src)
	require.NoError(t, err)

	for i, want := range events {
		got, ok := h.Next()
		require.True(t, ok)
		assert.Equal(t, want.Symbol, got.Symbol)
		assert.Equal(t, want.Timestamp, got.Timestamp)
		assert.True(t, want.Price.Equal(got.Price))
		assert.Equal(t, uint64(i+1), got.Seq)
	}
	_, ok := h.Next()
	assert.False(t, ok)
	assert.NoError(t, h.Err())
}

func TestWALSourceSkipsOtherRecords(t *testing.T) {
	dir := t.TempDir()
	reg := captureRegistry(t)
	w, err := recorder.NewWriter(recorder.DefaultConfig(dir))
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	require.NoError(t, w.TryAppend(schema.NewHeader(schema.EventFill, schema.SourceBacktest, 1, t0.UnixNano(), 0), []byte("{}")))
	require.NoError(t, w.Close())

	src, err := NewWALSource(dir, "", reg)
	require.NoError(t, err)
	_, err = src.Next()
	assert.Equal(t, io.EOF, err)

	_, err = NewHistorical(src)
	assert.ErrorIs(t, err, exception.ErrEmptyDataset)
}
