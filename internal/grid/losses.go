package grid

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/xtrntr/gridledger/internal/models"
)

// LossModel estimates the energy lost moving amount through a zone
type LossModel interface {
	TransmissionLoss(zone models.Zone, amount decimal.Decimal) (decimal.Decimal, error)
}

// DistanceLoss charges a loss fraction proportional to the zone's mean
// transmission distance, capped at MaxFraction.
type DistanceLoss struct {
	distances   map[models.Zone]decimal.Decimal
	ratePerKm   decimal.Decimal
	maxFraction decimal.Decimal
}

func NewDistanceLoss(distancesKm map[models.Zone]float64, ratePerKm, maxFraction float64) *DistanceLoss {
	d := &DistanceLoss{
		distances:   make(map[models.Zone]decimal.Decimal, len(distancesKm)),
		ratePerKm:   decimal.NewFromFloat(ratePerKm),
		maxFraction: decimal.NewFromFloat(maxFraction),
	}
	for zone, km := range distancesKm {
		d.distances[zone] = decimal.NewFromFloat(km)
	}
	return d
}

func (d *DistanceLoss) TransmissionLoss(zone models.Zone, amount decimal.Decimal) (decimal.Decimal, error) {
	km, ok := d.distances[zone]
	if !ok {
		return decimal.Zero, fmt.Errorf("loss model for zone %q: %w", zone, models.ErrUnknownZone)
	}
	fraction := decimal.Min(km.Mul(d.ratePerKm), d.maxFraction)
	return amount.Mul(fraction), nil
}
