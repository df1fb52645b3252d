package codec

import (
	"encoding/binary"
	"time"

	"github.com/shopspring/decimal"

	"quantix/internal/errors"
	"quantix/internal/schema"
	"quantix/pkg/exception"
)

// MarketEventPayloadSize is the fixed size of an encoded market event.
//
//	instrument u32 flags u16 reserved u16 ts_unix_nano i64
//	price, bid, ask, volume: coefficient i64 exponent i32
const MarketEventPayloadSize = 64

const (
	flagBid uint16 = 1 << iota
	flagAsk
	flagVolume
)

// EncodeMarketEvent serializes ev for the instrument id into a fixed-size
// payload. Decimals whose coefficient does not fit in 64 bits fail with
// ErrDecimalOverflow.
func EncodeMarketEvent(dst []byte, id schema.InstrumentID, ev schema.MarketEvent) ([]byte, error) {
	if cap(dst) < MarketEventPayloadSize {
		dst = make([]byte, MarketEventPayloadSize)
	} else {
		dst = dst[:MarketEventPayloadSize]
	}

	var flags uint16
	if ev.Bid.Valid {
		flags |= flagBid
	}
	if ev.Ask.Valid {
		flags |= flagAsk
	}
	if ev.Volume.Valid {
		flags |= flagVolume
	}

	binary.LittleEndian.PutUint32(dst[0:4], uint32(id))
	binary.LittleEndian.PutUint16(dst[4:6], flags)
	binary.LittleEndian.PutUint16(dst[6:8], 0)
	binary.LittleEndian.PutUint64(dst[8:16], uint64(ev.Timestamp.UnixNano()))
	if err := putDecimal(dst[16:28], ev.Price); err != nil {
		return nil, errors.Wrap(err, "price")
	}
	if err := putDecimal(dst[28:40], ev.Bid.Decimal); err != nil {
		return nil, errors.Wrap(err, "bid")
	}
	if err := putDecimal(dst[40:52], ev.Ask.Decimal); err != nil {
		return nil, errors.Wrap(err, "ask")
	}
	if err := putDecimal(dst[52:64], ev.Volume.Decimal); err != nil {
		return nil, errors.Wrap(err, "volume")
	}
	return dst, nil
}

// DecodeMarketEvent parses a payload produced by EncodeMarketEvent and resolves
// the instrument symbol through reg.
func DecodeMarketEvent(src []byte, reg *schema.Registry) (schema.MarketEvent, error) {
	if len(src) < MarketEventPayloadSize {
		return schema.MarketEvent{}, exception.ErrBuffTooSmall
	}
	id := schema.InstrumentID(binary.LittleEndian.Uint32(src[0:4]))
	inst, ok := reg.InstrumentByID(id)
	if !ok {
		return schema.MarketEvent{}, errors.Wrapf(exception.ErrUnknownInstrument, "instrument id %d", id)
	}
	flags := binary.LittleEndian.Uint16(src[4:6])
	ev := schema.MarketEvent{
		Symbol:    inst.Symbol,
		Timestamp: time.Unix(0, int64(binary.LittleEndian.Uint64(src[8:16]))).UTC(),
		Price:     getDecimal(src[16:28]),
	}
	if flags&flagBid != 0 {
		ev.Bid = decimal.NewNullDecimal(getDecimal(src[28:40]))
	}
	if flags&flagAsk != 0 {
		ev.Ask = decimal.NewNullDecimal(getDecimal(src[40:52]))
	}
	if flags&flagVolume != 0 {
		ev.Volume = decimal.NewNullDecimal(getDecimal(src[52:64]))
	}
	return ev, nil
}

func putDecimal(dst []byte, d decimal.Decimal) error {
	coef := d.Coefficient()
	if !coef.IsInt64() {
		return exception.ErrDecimalOverflow
	}
	binary.LittleEndian.PutUint64(dst[0:8], uint64(coef.Int64()))
	binary.LittleEndian.PutUint32(dst[8:12], uint32(d.Exponent()))
	return nil
}

func getDecimal(src []byte) decimal.Decimal {
	coef := int64(binary.LittleEndian.Uint64(src[0:8]))
	exp := int32(binary.LittleEndian.Uint32(src[8:12]))
	return decimal.New(coef, exp)
}
