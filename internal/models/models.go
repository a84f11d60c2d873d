package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ParticipantID identifies a registered producer or consumer
type ParticipantID int64

// OrderID is assigned by the exchange sequencer; ascending ids follow insertion order
type OrderID uint64

// Zone names a grid zone
type Zone string

// Participant represents a registered market participant
type Participant struct {
	ID           ParticipantID
	Username     string
	PasswordHash string
	CreatedAt    time.Time
}

// Side is the direction of an order
type Side uint8

const (
	Buy Side = iota + 1
	Sell
)

func (s Side) String() string {
	switch s {
	case Buy:
		return "buy"
	case Sell:
		return "sell"
	default:
		return "unknown"
	}
}

// Opposite returns the side an order of this side matches against
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// ParseSide accepts "buy" or "sell"
func ParseSide(s string) (Side, error) {
	switch strings.ToLower(s) {
	case "buy":
		return Buy, nil
	case "sell":
		return Sell, nil
	default:
		return 0, fmt.Errorf("side %q: %w", s, ErrInvalidSide)
	}
}

func (s Side) MarshalText() ([]byte, error) {
	if s != Buy && s != Sell {
		return nil, ErrInvalidSide
	}
	return []byte(s.String()), nil
}

func (s *Side) UnmarshalText(b []byte) error {
	parsed, err := ParseSide(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// OrderStatus tracks the order lifecycle
type OrderStatus string

const (
	StatusPending         OrderStatus = "pending"
	StatusActive          OrderStatus = "active"
	StatusPartiallyFilled OrderStatus = "partially_filled"
	StatusFilled          OrderStatus = "filled"
	StatusCancelled       OrderStatus = "cancelled"
	StatusRejected        OrderStatus = "rejected"
	StatusExpired         OrderStatus = "expired"
)

// Terminal reports whether no further transition is possible
func (s OrderStatus) Terminal() bool {
	switch s {
	case StatusFilled, StatusCancelled, StatusRejected, StatusExpired:
		return true
	}
	return false
}

// Matchable reports whether an order in this status may rest in a book
func (s OrderStatus) Matchable() bool {
	return s == StatusActive || s == StatusPartiallyFilled
}

// Order represents an energy buy or sell order
type Order struct {
	ID                OrderID         `json:"id"`
	ParticipantID     ParticipantID   `json:"participant_id"`
	Side              Side            `json:"side"`
	Kind              OrderKind       `json:"kind"`
	Amount            decimal.Decimal `json:"amount_kwh"`
	Remaining         decimal.Decimal `json:"remaining_kwh"`
	Zone              Zone            `json:"zone"`
	Window            Window          `json:"window"`
	RenewableOnly     bool            `json:"renewable_only"`
	AuthorityInjected bool            `json:"authority_injected"`
	CreatedAt         time.Time       `json:"created_at"`
	ExpiresAt         *time.Time      `json:"expires_at,omitempty"`
	Status            OrderStatus     `json:"status"`
}

// Expired reports whether the order's expiry has passed at now
func (o *Order) Expired(now time.Time) bool {
	return o.ExpiresAt != nil && !now.Before(*o.ExpiresAt)
}

// Filled is the amount matched so far
func (o *Order) Filled() decimal.Decimal {
	return o.Amount.Sub(o.Remaining)
}

// ValidateShape checks the fields an order must carry regardless of market state.
// Zone registry, window and halt checks belong to the book that receives it.
func (o *Order) ValidateShape(ceiling decimal.Decimal) error {
	if o.Side != Buy && o.Side != Sell {
		return ErrInvalidSide
	}
	if !o.Amount.IsPositive() {
		return ErrInvalidAmount
	}
	if ceiling.IsPositive() && o.Amount.GreaterThan(ceiling) {
		return ErrAmountAboveCeiling
	}
	if o.Zone == "" {
		return ErrUnknownZone
	}
	if err := o.Kind.Validate(); err != nil {
		return err
	}
	return nil
}
