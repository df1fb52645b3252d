package schema

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// VenueID is the numeric identifier for a venue.
type VenueID uint16

// InstrumentID is the numeric identifier for an instrument. It is only used by
// compact binary payloads; everything else refers to instruments by symbol.
type InstrumentID uint32

// Well-known venue names.
const (
	VenueSimulated = "SIM"
	VenueAlpaca    = "ALPACA"
	VenueBinance   = "BINANCE"
)

// AssetClass tags an instrument. The engine treats every class the same way.
type AssetClass string

const (
	AssetEquity AssetClass = "equity"
	AssetCrypto AssetClass = "crypto"
	AssetForex  AssetClass = "forex"
	AssetOption AssetClass = "option"
	AssetFuture AssetClass = "future"
)

// Venue describes a trading venue or broker.
type Venue struct {
	ID   VenueID
	Name string
}

// Instrument describes a tradable instrument. Zero tick or lot size disables the
// corresponding alignment check.
type Instrument struct {
	ID       InstrumentID
	Symbol   string
	Venue    VenueID
	Class    AssetClass
	TickSize decimal.Decimal
	LotSize  decimal.Decimal
}

// Registry stores venue and instrument definitions. It is built once per run and
// read-only afterwards.
type Registry struct {
	venues       []Venue
	instruments  []Instrument
	venueByName  map[string]VenueID
	symbolLookup map[string]InstrumentID
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		venueByName:  make(map[string]VenueID),
		symbolLookup: make(map[string]InstrumentID),
	}
}

// AddVenue registers a new venue and returns its ID.
func (r *Registry) AddVenue(name string) (VenueID, error) {
	if name == "" {
		return 0, fmt.Errorf("venue name is empty")
	}
	if id, ok := r.venueByName[name]; ok {
		return id, fmt.Errorf("venue already exists: %s", name)
	}
	id := VenueID(len(r.venues) + 1)
	r.venues = append(r.venues, Venue{ID: id, Name: name})
	r.venueByName[name] = id
	return id, nil
}

// AddInstrument registers an instrument and returns its assigned ID.
func (r *Registry) AddInstrument(inst Instrument) (InstrumentID, error) {
	if inst.Symbol == "" {
		return 0, fmt.Errorf("instrument symbol is empty")
	}
	if _, ok := r.Venue(inst.Venue); !ok {
		return 0, fmt.Errorf("venue id not found: %d", inst.Venue)
	}
	if id, ok := r.symbolLookup[inst.Symbol]; ok {
		return id, fmt.Errorf("instrument already exists: %s", inst.Symbol)
	}
	if inst.TickSize.IsNegative() || inst.LotSize.IsNegative() {
		return 0, fmt.Errorf("instrument %s: tick and lot size must be >= 0", inst.Symbol)
	}
	if inst.Class == "" {
		inst.Class = AssetEquity
	}
	inst.ID = InstrumentID(len(r.instruments) + 1)
	r.instruments = append(r.instruments, inst)
	r.symbolLookup[inst.Symbol] = inst.ID
	return inst.ID, nil
}

// Venue returns the venue by ID.
func (r *Registry) Venue(id VenueID) (Venue, bool) {
	if id == 0 || int(id) > len(r.venues) {
		return Venue{}, false
	}
	return r.venues[id-1], true
}

// VenueIDByName returns the venue ID for a name.
func (r *Registry) VenueIDByName(name string) (VenueID, bool) {
	id, ok := r.venueByName[name]
	return id, ok
}

// Instrument returns the instrument registered under symbol.
func (r *Registry) Instrument(symbol string) (Instrument, bool) {
	id, ok := r.symbolLookup[symbol]
	if !ok {
		return Instrument{}, false
	}
	return r.instruments[id-1], true
}

// InstrumentByID returns the instrument by ID.
func (r *Registry) InstrumentByID(id InstrumentID) (Instrument, bool) {
	if id == 0 || int(id) > len(r.instruments) {
		return Instrument{}, false
	}
	return r.instruments[id-1], true
}

// Symbols returns every registered symbol in lexical order.
func (r *Registry) Symbols() []string {
	out := make([]string, 0, len(r.instruments))
	for _, inst := range r.instruments {
		out = append(out, inst.Symbol)
	}
	sort.Strings(out)
	return out
}

// InstrumentCount returns the number of instruments in the registry.
func (r *Registry) InstrumentCount() int {
	return len(r.instruments)
}
