package schema

import "fmt"

// SchemaVersion is the current record schema version.
const SchemaVersion uint16 = 1

// EventType defines the category of a record stored in a WAL segment.
type EventType uint16

const (
	EventUnknown EventType = iota
	EventMarketData
	EventOrderSubmitted
	EventOrderRejected
	EventOrderUpdated
	EventFill
	EventCheckpoint
)

func (t EventType) String() string {
	switch t {
	case EventMarketData:
		return "market_data"
	case EventOrderSubmitted:
		return "order_submitted"
	case EventOrderRejected:
		return "order_rejected"
	case EventOrderUpdated:
		return "order_updated"
	case EventFill:
		return "fill"
	case EventCheckpoint:
		return "checkpoint"
	default:
		return "unknown"
	}
}

// ParseEventType is the inverse of EventType.String.
func ParseEventType(s string) (EventType, error) {
	for t := EventMarketData; t <= EventCheckpoint; t++ {
		if t.String() == s {
			return t, nil
		}
	}
	return EventUnknown, fmt.Errorf("unknown event type: %q", s)
}

func (t EventType) MarshalJSON() ([]byte, error) {
	return []byte(`"` + t.String() + `"`), nil
}

func (t *EventType) UnmarshalJSON(data []byte) error {
	v, err := ParseEventType(trimQuotes(data))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// Source identifies the component that produced a record.
type Source uint16

const (
	SourceUnknown Source = iota
	SourceBacktest
	SourceLive
	SourceCapture
)

// EventHeader is the common metadata attached to every WAL record.
type EventHeader struct {
	Type    EventType
	Version uint16
	Source  Source
	Flags   uint16
	Seq     uint64
	TsEvent int64
	TsRecv  int64
}

// NewHeader builds a header with the current schema version.
func NewHeader(eventType EventType, source Source, seq uint64, tsEvent, tsRecv int64) EventHeader {
	return EventHeader{
		Type:    eventType,
		Version: SchemaVersion,
		Source:  source,
		Seq:     seq,
		TsEvent: tsEvent,
		TsRecv:  tsRecv,
	}
}
