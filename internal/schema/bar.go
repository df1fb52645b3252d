package schema

import (
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"quantix/internal/errors"
	"quantix/pkg/exception"
)

// TimeFrameUnit is the base unit of a TimeFrame.
type TimeFrameUnit string

const (
	UnitMinute TimeFrameUnit = "Min"
	UnitHour   TimeFrameUnit = "Hour"
	UnitDay    TimeFrameUnit = "Day"
	UnitWeek   TimeFrameUnit = "Week"
	UnitMonth  TimeFrameUnit = "Month"
)

// TimeFrame is the interval covered by a bar.
type TimeFrame struct {
	Amount int
	Unit   TimeFrameUnit
}

// NewTimeFrame validates and builds a timeframe.
func NewTimeFrame(amount int, unit TimeFrameUnit) (TimeFrame, error) {
	tf := TimeFrame{Amount: amount, Unit: unit}
	if err := tf.Validate(); err != nil {
		return TimeFrame{}, err
	}
	return tf, nil
}

// Validate checks that the amount is consistent with the unit.
func (tf TimeFrame) Validate() error {
	if tf.Amount <= 0 {
		return errors.Wrap(exception.ErrInvalidTimeFrame, "amount must be a positive integer")
	}
	switch tf.Unit {
	case UnitMinute:
		if tf.Amount > 59 {
			return errors.Wrap(exception.ErrInvalidTimeFrame, "minute units can only be used with amounts 1-59")
		}
	case UnitHour:
		if tf.Amount > 23 {
			return errors.Wrap(exception.ErrInvalidTimeFrame, "hour units can only be used with amounts 1-23")
		}
	case UnitDay, UnitWeek:
		if tf.Amount != 1 {
			return errors.Wrap(exception.ErrInvalidTimeFrame, "day and week units can only be used with amount 1")
		}
	case UnitMonth:
		switch tf.Amount {
		case 1, 2, 3, 6, 12:
		default:
			return errors.Wrap(exception.ErrInvalidTimeFrame, "month units can only be used with amounts 1, 2, 3, 6 and 12")
		}
	default:
		return errors.Wrapf(exception.ErrInvalidTimeFrame, "unknown unit %q", tf.Unit)
	}
	return nil
}

// Value is the canonical form stored with bars, e.g. "5Min".
func (tf TimeFrame) Value() string {
	return strconv.Itoa(tf.Amount) + string(tf.Unit)
}

// Name is the short form, e.g. "5m", "1h", "1M".
func (tf TimeFrame) Name() string {
	var suffix string
	switch tf.Unit {
	case UnitMinute:
		suffix = "m"
	case UnitHour:
		suffix = "h"
	case UnitDay:
		suffix = "d"
	case UnitWeek:
		suffix = "w"
	case UnitMonth:
		suffix = "M"
	}
	return strconv.Itoa(tf.Amount) + suffix
}

func (tf TimeFrame) String() string {
	return tf.Name()
}

func (tf TimeFrame) MarshalText() ([]byte, error) {
	return []byte(tf.Name()), nil
}

func (tf *TimeFrame) UnmarshalText(data []byte) error {
	v, err := ParseTimeFrame(string(data))
	if err != nil {
		return err
	}
	*tf = v
	return nil
}

// End returns the close time of a bar that opened at start.
func (tf TimeFrame) End(start time.Time) time.Time {
	switch tf.Unit {
	case UnitMinute:
		return start.Add(time.Duration(tf.Amount) * time.Minute)
	case UnitHour:
		return start.Add(time.Duration(tf.Amount) * time.Hour)
	case UnitDay:
		return start.AddDate(0, 0, tf.Amount)
	case UnitWeek:
		return start.AddDate(0, 0, 7*tf.Amount)
	case UnitMonth:
		return start.AddDate(0, tf.Amount, 0)
	default:
		return start
	}
}

// ParseTimeFrame accepts either the short form ("15m", "1d", "3M") or the
// canonical form ("15Min", "1Day").
func ParseTimeFrame(s string) (TimeFrame, error) {
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	if i == 0 || i == len(s) {
		return TimeFrame{}, errors.Wrapf(exception.ErrInvalidTimeFrame, "parse %q", s)
	}
	amount, err := strconv.Atoi(s[:i])
	if err != nil {
		return TimeFrame{}, errors.Wrapf(exception.ErrInvalidTimeFrame, "parse %q", s)
	}

	var unit TimeFrameUnit
	switch s[i:] {
	case "m", "Min":
		unit = UnitMinute
	case "h", "Hour":
		unit = UnitHour
	case "d", "Day":
		unit = UnitDay
	case "w", "Week":
		unit = UnitWeek
	case "M", "Month":
		unit = UnitMonth
	default:
		return TimeFrame{}, errors.Wrapf(exception.ErrInvalidTimeFrame, "unknown unit in %q", s)
	}
	return NewTimeFrame(amount, unit)
}

// Bar is an OHLCV aggregate. Timestamp is the bar open time; (Timestamp, Venue,
// Symbol, TimeFrame) is unique.
type Bar struct {
	Timestamp time.Time           `json:"timestamp"`
	Venue     string              `json:"venue"`
	Symbol    string              `json:"symbol"`
	TimeFrame TimeFrame           `json:"timeframe"`
	Open      decimal.Decimal     `json:"open"`
	High      decimal.Decimal     `json:"high"`
	Low       decimal.Decimal     `json:"low"`
	Close     decimal.Decimal     `json:"close"`
	Volume    decimal.Decimal     `json:"volume"`
	VWAP      decimal.NullDecimal `json:"vwap"`
}

// Validate checks the OHLC relationship and timeframe.
func (b Bar) Validate() error {
	if b.Symbol == "" {
		return errors.Wrap(exception.ErrInvalidBar, "symbol is empty")
	}
	if err := b.TimeFrame.Validate(); err != nil {
		return err
	}
	if b.High.LessThan(b.Low) {
		return errors.Wrap(exception.ErrInvalidBar, fmt.Sprintf("high %s < low %s", b.High, b.Low))
	}
	for _, px := range []decimal.Decimal{b.Open, b.Close} {
		if px.GreaterThan(b.High) || px.LessThan(b.Low) {
			return errors.Wrap(exception.ErrInvalidBar, fmt.Sprintf("price %s outside [%s, %s]", px, b.Low, b.High))
		}
	}
	if b.Volume.IsNegative() {
		return errors.Wrap(exception.ErrInvalidBar, "volume is negative")
	}
	return nil
}

// Event converts the bar to a market event stamped at the bar close, so a
// consumer never observes the close price before the interval has ended.
func (b Bar) Event() MarketEvent {
	return MarketEvent{
		Symbol:    b.Symbol,
		Timestamp: b.TimeFrame.End(b.Timestamp).UTC(),
		Price:     b.Close,
	}.WithVolume(b.Volume)
}
