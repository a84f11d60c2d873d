package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// BalanceDelta is the change applied to one account by a settlement
type BalanceDelta struct {
	Participant ParticipantID   `json:"participant"`
	Tokens      decimal.Decimal `json:"tokens"`
	EnergyKWh   decimal.Decimal `json:"energy_kwh"`
}

// SettlementRecord is the ledger entry finalizing a trade
type SettlementRecord struct {
	ID             uuid.UUID       `json:"id"`
	TradeID        uuid.UUID       `json:"trade_id"`
	Buyer          BalanceDelta    `json:"buyer"`
	Seller         BalanceDelta    `json:"seller"`
	ProtocolFee    decimal.Decimal `json:"protocol_fee"`
	FeeAccount     ParticipantID   `json:"fee_account"`
	CertificateRef string          `json:"certificate_ref,omitempty"`
	Zone           Zone            `json:"zone"`
	Window         Window          `json:"window"`
	SettledAt      time.Time       `json:"settled_at"`
}
