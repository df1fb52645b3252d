package strategy

import (
	"github.com/shopspring/decimal"

	"quantix/internal/errors"
	"quantix/pkg/exception"
)

const (
	KindSMACross   = "sma_cross"
	KindBuyAndHold = "buy_and_hold"
)

// Config selects and parameterises a built-in strategy.
type Config struct {
	Kind       string          `json:"kind" yaml:"kind" validate:"required,oneof=sma_cross buy_and_hold"`
	Symbol     string          `json:"symbol" yaml:"symbol" validate:"required"`
	Short      int             `json:"short" yaml:"short" validate:"gte=0"`
	Long       int             `json:"long" yaml:"long" validate:"gte=0"`
	Quantity   decimal.Decimal `json:"quantity" yaml:"quantity"`
	AllowShort bool            `json:"allowShort" yaml:"allowShort"`
	IDPrefix   string          `json:"idPrefix" yaml:"idPrefix"`
}

// Build creates the strategy named by cfg.Kind.
func Build(cfg Config) (Strategy, error) {
	ids := NewIDs(cfg.IDPrefix)
	switch cfg.Kind {
	case KindSMACross:
		s, err := NewSMACross(cfg.Symbol, cfg.Short, cfg.Long, cfg.Quantity, cfg.AllowShort, ids)
		if err != nil {
			return nil, err
		}
		return s, nil
	case KindBuyAndHold:
		if cfg.Symbol == "" || !cfg.Quantity.IsPositive() {
			return nil, errors.Wrapf(exception.ErrInvalidArgument, "buy and hold symbol=%q qty=%s", cfg.Symbol, cfg.Quantity)
		}
		return NewBuyAndHold(cfg.Symbol, cfg.Quantity, ids), nil
	default:
		return nil, errors.Wrapf(exception.ErrTypeUnsupported, "strategy %q", cfg.Kind)
	}
}
