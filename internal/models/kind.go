package models

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// KindTag discriminates the OrderKind variants
type KindTag uint8

const (
	KindMarket KindTag = iota + 1
	KindLimit
	KindGridBalancing
	KindEmergency
)

func (t KindTag) String() string {
	switch t {
	case KindMarket:
		return "market"
	case KindLimit:
		return "limit"
	case KindGridBalancing:
		return "grid_balancing"
	case KindEmergency:
		return "emergency"
	default:
		return "unknown"
	}
}

// OrderKind is a closed variant. Only Limit carries a price; the zero value is invalid.
type OrderKind struct {
	tag   KindTag
	price decimal.Decimal
}

func Market() OrderKind        { return OrderKind{tag: KindMarket} }
func GridBalancing() OrderKind { return OrderKind{tag: KindGridBalancing} }
func Emergency() OrderKind     { return OrderKind{tag: KindEmergency} }

// Limit builds a limit kind at the given price per kWh
func Limit(price decimal.Decimal) OrderKind {
	return OrderKind{tag: KindLimit, price: price}
}

func (k OrderKind) Tag() KindTag { return k.tag }

// LimitPrice returns the limit price, false for every non-Limit kind
func (k OrderKind) LimitPrice() (decimal.Decimal, bool) {
	if k.tag != KindLimit {
		return decimal.Zero, false
	}
	return k.price, true
}

// Priority reports whether the kind bypasses price-time ordering
func (k OrderKind) Priority() bool {
	return k.tag == KindEmergency || k.tag == KindGridBalancing
}

// Class orders kinds on a book side: lower ranks first
func (k OrderKind) Class() int {
	switch k.tag {
	case KindEmergency:
		return 0
	case KindGridBalancing:
		return 1
	case KindMarket:
		return 2
	case KindLimit:
		return 3
	default:
		return 4
	}
}

func (k OrderKind) Validate() error {
	switch k.tag {
	case KindMarket, KindGridBalancing, KindEmergency:
		return nil
	case KindLimit:
		if !k.price.IsPositive() {
			return ErrInvalidPrice
		}
		return nil
	default:
		return ErrInvalidKind
	}
}

func (k OrderKind) String() string {
	if k.tag == KindLimit {
		return fmt.Sprintf("limit(%s)", k.price)
	}
	return k.tag.String()
}

type kindJSON struct {
	Type  string           `json:"type"`
	Price *decimal.Decimal `json:"price,omitempty"`
}

func (k OrderKind) MarshalJSON() ([]byte, error) {
	out := kindJSON{Type: k.tag.String()}
	if p, ok := k.LimitPrice(); ok {
		out.Price = &p
	}
	return json.Marshal(out)
}

func (k *OrderKind) UnmarshalJSON(b []byte) error {
	var in kindJSON
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}
	parsed, err := ParseKind(in.Type, in.Price)
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// ParseKind builds a kind from its wire name; price is required for "limit" only
func ParseKind(name string, price *decimal.Decimal) (OrderKind, error) {
	switch name {
	case "market":
		return Market(), nil
	case "grid_balancing":
		return GridBalancing(), nil
	case "emergency":
		return Emergency(), nil
	case "limit":
		if price == nil || !price.IsPositive() {
			return OrderKind{}, ErrInvalidPrice
		}
		return Limit(*price), nil
	default:
		return OrderKind{}, fmt.Errorf("kind %q: %w", name, ErrInvalidKind)
	}
}
