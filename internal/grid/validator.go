package grid

import (
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xtrntr/gridledger/internal/models"
)

// Config holds the validator tunables
type Config struct {
	// Tolerance is the conservation slack in kWh
	Tolerance decimal.Decimal
	// MeteringPlaces is the decimal precision delivered energy is metered at
	MeteringPlaces          int32
	MaxSnapshotAge          time.Duration
	NominalFrequencyHz      float64
	MaxFrequencyDeviationHz float64
}

func DefaultConfig() Config {
	return Config{
		Tolerance:               decimal.RequireFromString("0.01"),
		MeteringPlaces:          6,
		MaxSnapshotAge:          2 * time.Minute,
		NominalFrequencyHz:      50,
		MaxFrequencyDeviationHz: 0.2,
	}
}

// Flow accumulates the energy matched in one (zone, window)
type Flow struct {
	Sold      decimal.Decimal
	Delivered decimal.Decimal
	Losses    decimal.Decimal
	// Consumed is the capacity used since the snapshot in SnapshotVersion
	Consumed        decimal.Decimal
	SnapshotVersion uint64
}

// Imbalance is sold minus delivered plus losses
func (f Flow) Imbalance() decimal.Decimal {
	return f.Sold.Sub(f.Delivered.Add(f.Losses))
}

// Observe rebases capacity accounting on a newer snapshot
func (f *Flow) Observe(snap models.GridSnapshot) {
	if snap.Version != f.SnapshotVersion {
		f.SnapshotVersion = snap.Version
		f.Consumed = decimal.Zero
	}
}

// Record adds an accepted match
func (f *Flow) Record(amount decimal.Decimal, a Assessment) {
	f.Sold = f.Sold.Add(amount)
	f.Delivered = f.Delivered.Add(a.Delivered)
	f.Losses = f.Losses.Add(a.Loss)
	f.Consumed = f.Consumed.Add(amount)
}

// Candidate is a proposed match awaiting validation
type Candidate struct {
	Zone   models.Zone
	Amount decimal.Decimal
	// Emergency is set when either order is of the Emergency kind
	Emergency bool
	// Authority is set when either order was injected by an authority
	Authority bool
	// Forced marks an authority ForceMatch; it bypasses the halt check only
	Forced bool
	// ZoneHalted reflects an authority HaltZone on the book
	ZoneHalted bool
}

// Assessment is what the validator derived for an accepted candidate
type Assessment struct {
	// Loss is the modelled transmission loss plus what metering truncated
	Loss      decimal.Decimal
	Delivered decimal.Decimal
}

// Validator checks candidate matches against physical grid constraints.
// It never mutates its inputs.
type Validator struct {
	cfg    Config
	losses LossModel
}

func NewValidator(cfg Config, losses LossModel) *Validator {
	return &Validator{cfg: cfg, losses: losses}
}

// CheckSnapshot fails closed when no usable snapshot is available
func (v *Validator) CheckSnapshot(zone models.Zone, snap *models.GridSnapshot, now time.Time) error {
	if snap == nil {
		return fmt.Errorf("zone %s: no snapshot: %w", zone, models.ErrStaleSnapshot)
	}
	if snap.Zone != zone {
		return fmt.Errorf("snapshot for zone %s used for %s: %w", snap.Zone, zone, models.ErrStaleSnapshot)
	}
	if v.cfg.MaxSnapshotAge > 0 && now.Sub(snap.Timestamp) > v.cfg.MaxSnapshotAge {
		return fmt.Errorf("zone %s: snapshot v%d is %s old: %w",
			zone, snap.Version, now.Sub(snap.Timestamp).Truncate(time.Second), models.ErrStaleSnapshot)
	}
	return nil
}

// Validate runs conservation, capacity and halt checks in that order
func (v *Validator) Validate(c Candidate, snap *models.GridSnapshot, flow Flow, now time.Time) (Assessment, error) {
	if err := v.CheckSnapshot(c.Zone, snap, now); err != nil {
		return Assessment{}, err
	}

	a, err := v.conservation(c, flow)
	if err != nil {
		return Assessment{}, err
	}

	consumed := flow.Consumed
	if flow.SnapshotVersion != snap.Version {
		consumed = decimal.Zero
	}
	if consumed.Add(c.Amount).GreaterThan(snap.CapacityRemaining) {
		return Assessment{}, fmt.Errorf("%s kWh with %s of %s used: %w",
			c.Amount, consumed, snap.CapacityRemaining, models.ErrCapacityExceeded)
	}

	if v.Emergency(snap, c.ZoneHalted) && !c.Emergency && !c.Authority && !c.Forced {
		return Assessment{}, fmt.Errorf("zone %s: %w", c.Zone, models.ErrZoneHalted)
	}
	return a, nil
}

func (v *Validator) conservation(c Candidate, flow Flow) (Assessment, error) {
	loss, err := v.losses.TransmissionLoss(c.Zone, c.Amount)
	if err != nil {
		return Assessment{}, fmt.Errorf("transmission loss: %w: %w", models.ErrConservationViolation, err)
	}
	if loss.IsNegative() || loss.GreaterThan(c.Amount) {
		return Assessment{}, fmt.Errorf("loss %s for %s kWh: %w", loss, c.Amount, models.ErrConservationViolation)
	}

	// Energy below metering precision is booked as loss, so Delivered + Loss
	// equals Amount and only a broken loss model or flow can drift.
	delivered := c.Amount.Sub(loss).Truncate(v.cfg.MeteringPlaces)
	a := Assessment{Loss: c.Amount.Sub(delivered), Delivered: delivered}

	after := flow
	after.Record(c.Amount, a)
	if after.Imbalance().Abs().GreaterThan(v.cfg.Tolerance) {
		return Assessment{}, fmt.Errorf("imbalance %s exceeds %s: %w",
			after.Imbalance(), v.cfg.Tolerance, models.ErrConservationViolation)
	}
	return a, nil
}

// Emergency reports whether only emergency and authority flows may pass:
// the snapshot flags an emergency, an authority halted the zone, or the
// reported frequency left the stability band.
func (v *Validator) Emergency(snap *models.GridSnapshot, halted bool) bool {
	if halted || snap.Emergency {
		return true
	}
	if snap.FrequencyHz == 0 || v.cfg.MaxFrequencyDeviationHz <= 0 {
		return false
	}
	return math.Abs(snap.FrequencyHz-v.cfg.NominalFrequencyHz) > v.cfg.MaxFrequencyDeviationHz
}
