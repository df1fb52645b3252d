package audit

import (
	"bytes"
	"context"
	"sync"

	"quantix/internal/errors"
	"quantix/internal/recorder"
	"quantix/internal/schema"
)

// Sink stores encoded audit records.
type Sink interface {
	Write(ctx context.Context, header schema.EventHeader, payload []byte) error
	Close() error
}

// Log numbers records and fans them out to its sinks. It is append only and
// is used from the engine goroutine.
type Log struct {
	source schema.Source
	sinks  []Sink
	seq    uint64
}

// NewLog creates a log tagging records with source.
func NewLog(source schema.Source, sinks ...Sink) *Log {
	return &Log{source: source, sinks: sinks}
}

// ResumeAt continues numbering after seq, the last record of a recovered log.
func (l *Log) ResumeAt(seq uint64) *Log {
	l.seq = seq
	return l
}

// Append assigns the next sequence number to r and writes it to every sink.
func (l *Log) Append(ctx context.Context, r Record) (Record, error) {
	l.seq++
	r.Seq = l.seq
	payload, err := Encode(r)
	if err != nil {
		return r, errors.Wrapf(err, "encode audit record %d", r.Seq)
	}
	ts := r.Timestamp.UnixNano()
	header := schema.NewHeader(r.Kind, l.source, r.Seq, ts, ts)
	for _, sink := range l.sinks {
		if err := sink.Write(ctx, header, payload); err != nil {
			return r, errors.Wrapf(err, "write audit record %d", r.Seq)
		}
	}
	return r, nil
}

// Len returns the sequence number of the last appended record.
func (l *Log) Len() uint64 {
	return l.seq
}

// Close closes every sink and returns the first error.
func (l *Log) Close() error {
	var first error
	for _, sink := range l.sinks {
		if err := sink.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Memory keeps encoded records as JSON lines.
type Memory struct {
	mu    sync.Mutex
	lines [][]byte
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Write(_ context.Context, _ schema.EventHeader, payload []byte) error {
	cp := make([]byte, len(payload))
	copy(cp, payload)
	m.mu.Lock()
	m.lines = append(m.lines, cp)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Close() error {
	return nil
}

// Bytes returns every record joined by newlines.
func (m *Memory) Bytes() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	var buf bytes.Buffer
	for _, line := range m.lines {
		buf.Write(line)
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

// Records decodes the stored records.
func (m *Memory) Records() ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Record, 0, len(m.lines))
	for _, line := range m.lines {
		r, err := Decode(line)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// WAL stores records in recorder segments. Writes wait for queue space so no
// record is dropped.
type WAL struct {
	w *recorder.Writer
}

// OpenWAL starts a recorder writer for cfg. The writer outlives ctx and only
// stops on Close, so records written while a run winds down still land.
func OpenWAL(ctx context.Context, cfg recorder.Config) (*WAL, error) {
	cfg.CopyPayload = true
	w, err := recorder.NewWriter(cfg)
	if err != nil {
		return nil, err
	}
	if err := w.Start(context.WithoutCancel(ctx)); err != nil {
		return nil, err
	}
	return &WAL{w: w}, nil
}

func (s *WAL) Write(ctx context.Context, header schema.EventHeader, payload []byte) error {
	return s.w.Append(ctx, header, payload)
}

func (s *WAL) Close() error {
	return s.w.Close()
}
