package obs

import (
	"errors"
	"sync/atomic"
	"time"

	"quantix/pkg/exception"
)

// RejectReason is a coarse reason code for refused intents and orders.
type RejectReason uint8

const (
	RejectNone RejectReason = iota
	RejectValidation
	RejectDuplicate
	RejectInsufficientFunds
	RejectInsufficientPosition
	RejectVenue
	maxRejectReason = RejectVenue
)

func (r RejectReason) String() string {
	switch r {
	case RejectValidation:
		return "validation"
	case RejectDuplicate:
		return "duplicate"
	case RejectInsufficientFunds:
		return "insufficient_funds"
	case RejectInsufficientPosition:
		return "insufficient_position"
	case RejectVenue:
		return "venue"
	default:
		return "none"
	}
}

// ReasonOf classifies a rejection cause.
func ReasonOf(err error) RejectReason {
	switch {
	case err == nil:
		return RejectNone
	case errors.Is(err, exception.ErrDuplicateOrder):
		return RejectDuplicate
	case errors.Is(err, exception.ErrValidation):
		return RejectValidation
	case errors.Is(err, exception.ErrInsufficientFunds):
		return RejectInsufficientFunds
	case errors.Is(err, exception.ErrInsufficientPosition):
		return RejectInsufficientPosition
	default:
		return RejectVenue
	}
}

// Metrics collects lightweight counters and latency stats. A nil *Metrics is a no-op.
type Metrics struct {
	events       uint64
	intents      uint64
	submitted    uint64
	fills        uint64
	cancels      uint64
	retries      uint64
	queueDrops   uint64
	queueClosed  uint64
	rejectCounts [maxRejectReason + 1]uint64

	stepLatency   LatencyStats
	submitLatency LatencyStats
}

// LatencyStats aggregates duration samples in nanoseconds.
type LatencyStats struct {
	count uint64
	sum   uint64
	min   uint64
	max   uint64
}

// LatencySnapshot is a point-in-time view of latency stats.
type LatencySnapshot struct {
	Count uint64        `json:"count"`
	Min   time.Duration `json:"min"`
	Max   time.Duration `json:"max"`
	Avg   time.Duration `json:"avg"`
}

// Snapshot captures the current metrics values.
type Snapshot struct {
	Events        uint64            `json:"events"`
	Intents       uint64            `json:"intents"`
	Submitted     uint64            `json:"submitted"`
	Fills         uint64            `json:"fills"`
	Cancels       uint64            `json:"cancels"`
	Retries       uint64            `json:"retries"`
	QueueDrops    uint64            `json:"queueDrops"`
	QueueClosed   uint64            `json:"queueClosed"`
	Rejects       map[string]uint64 `json:"rejects"`
	StepLatency   LatencySnapshot   `json:"stepLatency"`
	SubmitLatency LatencySnapshot   `json:"submitLatency"`
}

// NewMetrics allocates a metrics container.
func NewMetrics() *Metrics {
	return &Metrics{}
}

func (m *Metrics) IncEvent() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.events, 1)
}

func (m *Metrics) IncIntent() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.intents, 1)
}

func (m *Metrics) IncSubmitted() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.submitted, 1)
}

func (m *Metrics) IncFill() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.fills, 1)
}

func (m *Metrics) IncCancel() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.cancels, 1)
}

// IncRetry records a retried broker call.
func (m *Metrics) IncRetry() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.retries, 1)
}

// IncReject increments the reject reason counter.
func (m *Metrics) IncReject(reason RejectReason) {
	if m == nil {
		return
	}
	idx := int(reason)
	if idx >= 0 && idx < len(m.rejectCounts) {
		atomic.AddUint64(&m.rejectCounts[idx], 1)
	}
}

// IncQueueDrop records a queue drop.
func (m *Metrics) IncQueueDrop() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.queueDrops, 1)
}

// IncQueueClosed records a closed-queue publish attempt.
func (m *Metrics) IncQueueClosed() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.queueClosed, 1)
}

// ObserveStep measures one engine step.
func (m *Metrics) ObserveStep(d time.Duration) {
	if m == nil {
		return
	}
	m.stepLatency.Observe(d)
}

// ObserveSubmit measures one broker submission.
func (m *Metrics) ObserveSubmit(d time.Duration) {
	if m == nil {
		return
	}
	m.submitLatency.Observe(d)
}

// Snapshot returns a copy of the current metrics values.
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	rejects := make(map[string]uint64)
	for i := range m.rejectCounts {
		if v := atomic.LoadUint64(&m.rejectCounts[i]); v > 0 {
			rejects[RejectReason(i).String()] = v
		}
	}
	return Snapshot{
		Events:        atomic.LoadUint64(&m.events),
		Intents:       atomic.LoadUint64(&m.intents),
		Submitted:     atomic.LoadUint64(&m.submitted),
		Fills:         atomic.LoadUint64(&m.fills),
		Cancels:       atomic.LoadUint64(&m.cancels),
		Retries:       atomic.LoadUint64(&m.retries),
		QueueDrops:    atomic.LoadUint64(&m.queueDrops),
		QueueClosed:   atomic.LoadUint64(&m.queueClosed),
		Rejects:       rejects,
		StepLatency:   m.stepLatency.Snapshot(),
		SubmitLatency: m.submitLatency.Snapshot(),
	}
}

// Observe records a duration sample.
func (l *LatencyStats) Observe(d time.Duration) {
	if d < 0 {
		return
	}
	nanos := uint64(d)
	atomic.AddUint64(&l.count, 1)
	atomic.AddUint64(&l.sum, nanos)

	for {
		min := atomic.LoadUint64(&l.min)
		if min != 0 && nanos >= min {
			break
		}
		if atomic.CompareAndSwapUint64(&l.min, min, nanos) {
			break
		}
	}

	for {
		max := atomic.LoadUint64(&l.max)
		if nanos <= max {
			break
		}
		if atomic.CompareAndSwapUint64(&l.max, max, nanos) {
			break
		}
	}
}

// Snapshot returns the aggregated latency stats.
func (l *LatencyStats) Snapshot() LatencySnapshot {
	count := atomic.LoadUint64(&l.count)
	if count == 0 {
		return LatencySnapshot{}
	}
	sum := atomic.LoadUint64(&l.sum)
	min := atomic.LoadUint64(&l.min)
	max := atomic.LoadUint64(&l.max)
	return LatencySnapshot{
		Count: count,
		Min:   time.Duration(min),
		Max:   time.Duration(max),
		Avg:   time.Duration(sum / count),
	}
}
