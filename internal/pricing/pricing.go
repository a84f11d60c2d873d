package pricing

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"github.com/xtrntr/gridledger/internal/models"
)

// pricePlaces is the precision prices are rounded to after adjustment
const pricePlaces = 6

// Config holds the pricing parameters. Prices are tokens per kWh.
type Config struct {
	BasePrice         decimal.Decimal
	MinPrice          decimal.Decimal
	MaxPrice          decimal.Decimal
	PeakStartHour     int
	PeakEndHour       int
	PeakMultiplier    decimal.Decimal
	OffPeakMultiplier decimal.Decimal
	CongestionFactor  decimal.Decimal
	RenewableDiscount decimal.Decimal
	EmergencyFloor    decimal.Decimal
	EmergencyCeiling  decimal.Decimal
	Indicative        IndicativeConfig
}

// IndicativeConfig shapes the supply/demand curve used for the indicative price
type IndicativeConfig struct {
	BalancePrice float64
	Contribution float64
	Steepness    float64
	MinRatio     float64
	Floor        float64
}

// DefaultConfig returns the parameters the exchange ships with
func DefaultConfig() Config {
	return Config{
		BasePrice:         decimal.NewFromInt(4),
		MinPrice:          decimal.RequireFromString("0.01"),
		MaxPrice:          decimal.NewFromInt(50),
		PeakStartHour:     18,
		PeakEndHour:       22,
		PeakMultiplier:    decimal.RequireFromString("1.5"),
		OffPeakMultiplier: decimal.NewFromInt(1),
		CongestionFactor:  decimal.RequireFromString("0.5"),
		RenewableDiscount: decimal.RequireFromString("0.05"),
		EmergencyFloor:    decimal.NewFromInt(8),
		EmergencyCeiling:  decimal.NewFromInt(20),
		Indicative: IndicativeConfig{
			BalancePrice: 4.0,
			Contribution: 2.0,
			Steepness:    1.0,
			MinRatio:     0.01,
			Floor:        0.01,
		},
	}
}

// Validate checks the bounds are coherent
func (c Config) Validate() error {
	if !c.MinPrice.IsPositive() || c.MaxPrice.LessThan(c.MinPrice) {
		return fmt.Errorf("price bounds [%s, %s] invalid", c.MinPrice, c.MaxPrice)
	}
	if !c.BasePrice.IsPositive() {
		return fmt.Errorf("base price %s must be positive", c.BasePrice)
	}
	if c.EmergencyCeiling.LessThan(c.EmergencyFloor) || !c.EmergencyFloor.IsPositive() {
		return fmt.Errorf("emergency band [%s, %s] invalid", c.EmergencyFloor, c.EmergencyCeiling)
	}
	if c.PeakStartHour < 0 || c.PeakEndHour > 24 || c.PeakStartHour > c.PeakEndHour {
		return fmt.Errorf("peak hours %d-%d invalid", c.PeakStartHour, c.PeakEndHour)
	}
	if c.RenewableDiscount.IsNegative() || c.RenewableDiscount.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("renewable discount %s out of [0, 1)", c.RenewableDiscount)
	}
	return nil
}

// Quote describes the order leg being priced
type Quote struct {
	Side      models.Side
	Base      *decimal.Decimal
	Zone      models.Zone
	Window    models.Window
	Renewable bool
}

// Service computes execution prices. It holds no mutable state.
type Service struct {
	cfg Config
}

// NewService creates a pricing service
func NewService(cfg Config) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Service{cfg: cfg}, nil
}

// PriceFor adjusts the base price for time of use, congestion and renewable
// sourcing, then clamps to the configured bounds. Without a base the
// configured base price is used.
func (s *Service) PriceFor(q Quote, snap models.GridSnapshot) decimal.Decimal {
	base := s.cfg.BasePrice
	if q.Base != nil {
		base = *q.Base
	}

	one := decimal.NewFromInt(1)
	congestion := decimal.NewFromFloat(snap.Congestion).Mul(s.cfg.CongestionFactor)
	price := base.Mul(s.TimeOfUse(q.Window)).Mul(one.Add(congestion))
	if q.Renewable {
		price = price.Mul(one.Sub(s.cfg.RenewableDiscount))
	}
	return s.clamp(price.Round(pricePlaces))
}

// TimeOfUse returns the multiplier for the hour the window starts in
func (s *Service) TimeOfUse(w models.Window) decimal.Decimal {
	h := w.Start.UTC().Hour()
	if h >= s.cfg.PeakStartHour && h < s.cfg.PeakEndHour {
		return s.cfg.PeakMultiplier
	}
	return s.cfg.OffPeakMultiplier
}

// EmergencyPrice places the trade inside the emergency band by congestion
func (s *Service) EmergencyPrice(snap models.GridSnapshot) decimal.Decimal {
	c := math.Min(math.Max(snap.Congestion, 0), 1)
	span := s.cfg.EmergencyCeiling.Sub(s.cfg.EmergencyFloor)
	return s.cfg.EmergencyFloor.Add(span.Mul(decimal.NewFromFloat(c))).Round(pricePlaces)
}

// IndicativePrice maps the supply/demand ratio onto a tanh curve around the
// balance price. A book without demand is priced at the minimum ratio.
func (s *Service) IndicativePrice(supply, demand decimal.Decimal) decimal.Decimal {
	ic := s.cfg.Indicative
	ratio := ic.MinRatio
	if demand.IsPositive() {
		ratio = math.Max(supply.Div(demand).InexactFloat64(), ic.MinRatio)
	}

	p := math.Pi/2*ic.Contribution*math.Tanh(ic.Steepness*math.Log(ratio)) + ic.BalancePrice
	p = math.Max(p, ic.Floor)
	return decimal.NewFromFloat(p).Round(pricePlaces)
}

func (s *Service) clamp(p decimal.Decimal) decimal.Decimal {
	if p.LessThan(s.cfg.MinPrice) {
		return s.cfg.MinPrice
	}
	if p.GreaterThan(s.cfg.MaxPrice) {
		return s.cfg.MaxPrice
	}
	return p
}
