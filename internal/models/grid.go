package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// GridSnapshot is the grid operator's view of a zone at a point in time.
// Snapshots are read-only inputs; Version increases per zone.
type GridSnapshot struct {
	Zone              Zone            `json:"zone"`
	Version           uint64          `json:"version"`
	CapacityRemaining decimal.Decimal `json:"capacity_remaining_kwh"`
	Congestion        float64         `json:"congestion"`
	FrequencyHz       float64         `json:"frequency_hz"`
	Emergency         bool            `json:"emergency"`
	Timestamp         time.Time       `json:"timestamp"`
}

// NewerThan reports whether s supersedes other
func (s GridSnapshot) NewerThan(other GridSnapshot) bool {
	if s.Version != other.Version {
		return s.Version > other.Version
	}
	return s.Timestamp.After(other.Timestamp)
}

// Validate rejects snapshots the validator cannot reason about
func (s GridSnapshot) Validate() error {
	if s.Zone == "" {
		return ErrUnknownZone
	}
	if s.CapacityRemaining.IsNegative() {
		return ErrInvalidSnapshot
	}
	if s.Congestion < 0 || s.Congestion > 1 {
		return ErrInvalidSnapshot
	}
	if s.Timestamp.IsZero() {
		return ErrInvalidSnapshot
	}
	return nil
}
