package audit

import (
	"time"

	"github.com/bytedance/sonic"

	"quantix/internal/order"
	"quantix/internal/portfolio"
	"quantix/internal/schema"
)

// Record is one audit entry. Fill records carry the portfolio as it stood right
// after the fill was applied.
type Record struct {
	Seq       uint64             `json:"seq"`
	Kind      schema.EventType   `json:"kind"`
	Timestamp time.Time          `json:"timestamp"`
	Order     order.View         `json:"order"`
	Fill      *schema.Fill       `json:"fill,omitempty"`
	Portfolio portfolio.Snapshot `json:"portfolio"`
}

// Encode renders r as JSON. Records hold no maps, so equal records always
// encode to equal bytes.
func Encode(r Record) ([]byte, error) {
	return sonic.ConfigFastest.Marshal(r)
}

// Decode parses a record produced by Encode.
func Decode(data []byte) (Record, error) {
	var r Record
	if err := sonic.ConfigFastest.Unmarshal(data, &r); err != nil {
		return Record{}, err
	}
	return r, nil
}
