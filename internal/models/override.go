package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// AuthorityType names the regulatory body issuing an override
type AuthorityType string

const (
	AuthorityGridOperator AuthorityType = "grid_operator"
	AuthorityRegulator    AuthorityType = "regulator"
)

// OverrideAction discriminates the override variants
type OverrideAction string

const (
	ActionInjectOrder OverrideAction = "inject_order"
	ActionHaltZone    OverrideAction = "halt_zone"
	ActionResumeZone  OverrideAction = "resume_zone"
	ActionForceMatch  OverrideAction = "force_match"
	// ActionCancelOrder cancels OrderA regardless of its owner
	ActionCancelOrder OverrideAction = "cancel_order"
)

// AuthorityOverride is a signed command from a grid authority.
// Which fields are meaningful depends on Action.
type AuthorityOverride struct {
	Authority AuthorityType  `json:"authority"`
	Action    OverrideAction `json:"action"`
	Order     *Order         `json:"order,omitempty"`
	Zone      Zone           `json:"zone,omitempty"`
	OrderA    OrderID        `json:"order_a,omitempty"`
	OrderB    OrderID        `json:"order_b,omitempty"`
	Signature string         `json:"signature"`
	Timestamp time.Time      `json:"timestamp"`
}

// Validate checks the variant carries what its action needs
func (o AuthorityOverride) Validate() error {
	if o.Authority == "" {
		return ErrUnverifiedAuthority
	}
	switch o.Action {
	case ActionInjectOrder:
		if o.Order == nil {
			return fmt.Errorf("inject_order without order: %w", ErrInvalidOverride)
		}
	case ActionHaltZone, ActionResumeZone:
		if o.Zone == "" {
			return fmt.Errorf("%s without zone: %w", o.Action, ErrInvalidOverride)
		}
	case ActionForceMatch:
		if o.OrderA == 0 || o.OrderB == 0 || o.OrderA == o.OrderB {
			return fmt.Errorf("force_match needs two distinct orders: %w", ErrInvalidOverride)
		}
	case ActionCancelOrder:
		if o.OrderA == 0 {
			return fmt.Errorf("cancel_order without order_a: %w", ErrInvalidOverride)
		}
	default:
		return fmt.Errorf("action %q: %w", o.Action, ErrInvalidOverride)
	}
	return nil
}

// Payload is the canonical byte form the signature covers
func (o AuthorityOverride) Payload() ([]byte, error) {
	unsigned := o
	unsigned.Signature = ""
	return json.Marshal(unsigned)
}
