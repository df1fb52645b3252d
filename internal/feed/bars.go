package feed

import (
	"cmp"
	"io"
	"os"
	"slices"

	"github.com/bytedance/sonic"

	"quantix/internal/errors"
	"quantix/internal/schema"
	"quantix/pkg/exception"
)

// LoadBars decodes a JSON array of bars, validates every bar and returns them
// sorted by close time then symbol. Two bars sharing (timestamp, venue, symbol,
// timeframe) are ErrDuplicateBar.
func LoadBars(r io.Reader) ([]schema.Bar, error) {
	var bars []schema.Bar
	if err := sonic.ConfigStd.NewDecoder(r).Decode(&bars); err != nil {
		return nil, errors.Wrap(err, "decode bars")
	}
	for i := range bars {
		if err := bars[i].Validate(); err != nil {
			return nil, errors.Wrapf(err, "bar %d", i)
		}
		bars[i].Timestamp = bars[i].Timestamp.UTC()
	}
	if err := SortBars(bars); err != nil {
		return nil, err
	}
	return bars, nil
}

// OpenBars reads a bar file from disk.
func OpenBars(path string) ([]schema.Bar, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open bars %s", path)
	}
	defer f.Close()
	return LoadBars(f)
}

// SortBars orders bars the way BarSource expects and rejects duplicates.
func SortBars(bars []schema.Bar) error {
	slices.SortStableFunc(bars, compareBars)
	for i := 1; i < len(bars); i++ {
		a, b := bars[i-1], bars[i]
		if a.Timestamp.Equal(b.Timestamp) && a.Venue == b.Venue && a.Symbol == b.Symbol && a.TimeFrame == b.TimeFrame {
			return errors.Wrapf(exception.ErrDuplicateBar, "%s %s %s at %s", b.Venue, b.Symbol, b.TimeFrame, b.Timestamp)
		}
	}
	return nil
}

func compareBars(a, b schema.Bar) int {
	if c := a.TimeFrame.End(a.Timestamp).Compare(b.TimeFrame.End(b.Timestamp)); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Symbol, b.Symbol); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Venue, b.Venue); c != 0 {
		return c
	}
	return cmp.Compare(a.TimeFrame.Value(), b.TimeFrame.Value())
}
