// Package fee implements the fee service (C9): maker/taker rates applied
// at every fill, with funding and commission exposed as unused policy
// hooks. Grounded on the teacher's struct-of-rates configuration style
// (internal/config.StrategyConfig / RiskConfig).
package fee

import (
	"time"

	"github.com/shopspring/decimal"

	"candlebt/internal/order"
)

// Config carries the four rate knobs from the data model, with the
// documented defaults.
type Config struct {
	MakerFeeRate   decimal.Decimal
	TakerFeeRate   decimal.Decimal
	FundingFeeRate decimal.Decimal
	CommissionRate decimal.Decimal
}

// DefaultConfig returns the spec's stated default rates.
func DefaultConfig() Config {
	return Config{
		MakerFeeRate:   decimal.NewFromFloat(0.0002),
		TakerFeeRate:   decimal.NewFromFloat(0.0004),
		FundingFeeRate: decimal.NewFromFloat(0.0001),
		CommissionRate: decimal.NewFromFloat(0.001),
	}
}

// Type identifies which rate produced a Fee.
type Type string

const (
	Maker      Type = "MAKER"
	Taker      Type = "TAKER"
	Funding    Type = "FUNDING"
	Commission Type = "COMMISSION"
)

// Fee is one computed charge against an account.
type Fee struct {
	Type      Type
	Amount    decimal.Decimal
	Currency  string
	Timestamp time.Time
	OrderID   string
}

// Service computes fees from a Config.
type Service struct {
	cfg Config
}

// NewService builds a fee service from cfg.
func NewService(cfg Config) *Service {
	return &Service{cfg: cfg}
}

// Calculate computes the fee for a fill: notional = quantity * fillPrice,
// rate is TakerFeeRate for Market orders and MakerFeeRate for every other
// kind (Limit, StopMarket, StopLimit, TakeProfit all rest on the book
// before they trigger, so they are charged the maker rate here).
func (s *Service) Calculate(kind order.Kind, orderID string, quantity, fillPrice decimal.Decimal, currency string, at time.Time) Fee {
	notional := quantity.Mul(fillPrice)
	rate := s.cfg.MakerFeeRate
	feeType := Maker
	if kind == order.Market {
		rate = s.cfg.TakerFeeRate
		feeType = Taker
	}

	return Fee{
		Type:      feeType,
		Amount:    notional.Mul(rate),
		Currency:  currency,
		Timestamp: at,
		OrderID:   orderID,
	}
}

// FundingFee is a policy hook for future use: the event loop does not
// apply it in this design (spec §4.9).
func (s *Service) FundingFee(orderID string, notional decimal.Decimal, currency string, at time.Time) Fee {
	return Fee{
		Type:      Funding,
		Amount:    notional.Mul(s.cfg.FundingFeeRate),
		Currency:  currency,
		Timestamp: at,
		OrderID:   orderID,
	}
}

// CommissionFee is a policy hook for future use: the event loop does not
// apply it in this design (spec §4.9).
func (s *Service) CommissionFee(orderID string, notional decimal.Decimal, currency string, at time.Time) Fee {
	return Fee{
		Type:      Commission,
		Amount:    notional.Mul(s.cfg.CommissionRate),
		Currency:  currency,
		Timestamp: at,
		OrderID:   orderID,
	}
}
