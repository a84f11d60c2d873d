package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Trade represents an executed match. Amount is what both orders were
// decremented by; Delivered plus Loss accounts for it at the buyer's meter.
type Trade struct {
	ID             uuid.UUID       `json:"id"`
	BuyOrderID     OrderID         `json:"buy_order_id"`
	SellOrderID    OrderID         `json:"sell_order_id"`
	BuyerID        ParticipantID   `json:"buyer_id"`
	SellerID       ParticipantID   `json:"seller_id"`
	Amount         decimal.Decimal `json:"amount_kwh"`
	Delivered      decimal.Decimal `json:"delivered_kwh"`
	Loss           decimal.Decimal `json:"loss_kwh"`
	Price          decimal.Decimal `json:"price"`
	Zone           Zone            `json:"zone"`
	Window         Window          `json:"window"`
	Renewable      bool            `json:"renewable"`
	CertificateRef string          `json:"certificate_ref,omitempty"`
	Emergency      bool            `json:"emergency"`
	Forced         bool            `json:"forced"`
	Sequence       uint64          `json:"sequence"`
	ExecutedAt     time.Time       `json:"executed_at"`
}

// Notional is the token value of the trade before fees
func (t *Trade) Notional() decimal.Decimal {
	return t.Amount.Mul(t.Price)
}

// Fill records that an order was decremented for a trade
type Fill struct {
	TradeID uuid.UUID
	OrderID OrderID
	Amount  decimal.Decimal
}
