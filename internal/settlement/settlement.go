package settlement

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xtrntr/gridledger/internal/logger"
	"github.com/xtrntr/gridledger/internal/models"
)

// tokenPlaces is the precision token amounts are rounded to
const tokenPlaces = 6

// FillSource exposes the fill journal of the book a trade came from
type FillSource interface {
	Fills(tradeID uuid.UUID) []models.Fill
}

// Store persists settlement records keyed by trade id
type Store interface {
	Get(ctx context.Context, tradeID uuid.UUID) (models.SettlementRecord, bool, error)
	// Save stores rec unless a record for the same trade exists, in which
	// case the existing record is returned with created false.
	Save(ctx context.Context, rec models.SettlementRecord) (models.SettlementRecord, bool, error)
}

type Config struct {
	FeeRate           decimal.Decimal
	FeeAccount        models.ParticipantID
	CertificatePrefix string
}

func DefaultConfig() Config {
	return Config{
		FeeRate:           decimal.RequireFromString("0.001"),
		FeeAccount:        0,
		CertificatePrefix: "REC",
	}
}

// Balance is the running position of one account
type Balance struct {
	Tokens    decimal.Decimal `json:"tokens"`
	EnergyKWh decimal.Decimal `json:"energy_kwh"`
}

// Coordinator finalizes executed trades into ledger records and balances
type Coordinator struct {
	cfg   Config
	store Store
	now   func() time.Time

	mu       sync.Mutex
	balances map[models.ParticipantID]Balance
}

func NewCoordinator(cfg Config, store Store) (*Coordinator, error) {
	if cfg.FeeRate.IsNegative() || cfg.FeeRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return nil, fmt.Errorf("fee rate %s out of range [0, 1)", cfg.FeeRate)
	}
	if store == nil {
		store = NewMemoryStore()
	}
	return &Coordinator{
		cfg:      cfg,
		store:    store,
		now:      time.Now,
		balances: make(map[models.ParticipantID]Balance),
	}, nil
}

// Settle records trade exactly once. A repeated call for the same trade
// returns the stored record with created false and leaves balances alone.
func (c *Coordinator) Settle(ctx context.Context, trade models.Trade, fills FillSource) (models.SettlementRecord, bool, error) {
	existing, ok, err := c.store.Get(ctx, trade.ID)
	if err != nil {
		return models.SettlementRecord{}, false, fmt.Errorf("settle %s: %w: %w", trade.ID, models.ErrPersistence, err)
	}
	if ok {
		return existing, false, nil
	}

	if err := backed(trade, fills); err != nil {
		logger.Error(ctx, "refusing to settle unbacked trade",
			zap.String("trade_id", trade.ID.String()), zap.Error(err))
		return models.SettlementRecord{}, false, err
	}

	rec := c.record(trade)
	stored, created, err := c.store.Save(ctx, rec)
	if err != nil {
		return models.SettlementRecord{}, false, fmt.Errorf("settle %s: %w: %w", trade.ID, models.ErrPersistence, err)
	}
	if !created {
		return stored, false, nil
	}

	c.apply(stored)
	logger.Debug(ctx, "trade settled",
		zap.String("trade_id", trade.ID.String()),
		zap.String("notional", trade.Notional().String()),
		zap.String("fee", stored.ProtocolFee.String()),
	)
	return stored, true, nil
}

func (c *Coordinator) record(trade models.Trade) models.SettlementRecord {
	notional := trade.Notional().Round(tokenPlaces)
	fee := notional.Mul(c.cfg.FeeRate).Round(tokenPlaces)

	rec := models.SettlementRecord{
		ID:      uuid.New(),
		TradeID: trade.ID,
		Buyer: models.BalanceDelta{
			Participant: trade.BuyerID,
			Tokens:      notional.Neg(),
			EnergyKWh:   trade.Delivered,
		},
		Seller: models.BalanceDelta{
			Participant: trade.SellerID,
			Tokens:      notional.Sub(fee),
			EnergyKWh:   trade.Amount.Neg(),
		},
		ProtocolFee: fee,
		FeeAccount:  c.cfg.FeeAccount,
		Zone:        trade.Zone,
		Window:      trade.Window,
		SettledAt:   c.now(),
	}
	rec.CertificateRef = c.CertificateRef(trade)
	return rec
}

// CertificateRef names the renewable energy certificate issued for a
// renewable trade, empty otherwise
func (c *Coordinator) CertificateRef(trade models.Trade) string {
	if !trade.Renewable {
		return ""
	}
	return fmt.Sprintf("%s-%s-%s", c.cfg.CertificatePrefix, trade.Zone, trade.ID)
}

func (c *Coordinator) apply(rec models.SettlementRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, d := range []models.BalanceDelta{rec.Buyer, rec.Seller} {
		b := c.balances[d.Participant]
		b.Tokens = b.Tokens.Add(d.Tokens)
		b.EnergyKWh = b.EnergyKWh.Add(d.EnergyKWh)
		c.balances[d.Participant] = b
	}
	fb := c.balances[rec.FeeAccount]
	fb.Tokens = fb.Tokens.Add(rec.ProtocolFee)
	c.balances[rec.FeeAccount] = fb
}

// Balance returns the settled position of a participant
func (c *Coordinator) Balance(id models.ParticipantID) Balance {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.balances[id]
}

// backed checks the fill journal shows both orders decremented by exactly
// the traded amount
func backed(trade models.Trade, fills FillSource) error {
	if fills == nil {
		return fmt.Errorf("trade %s has no fill journal: %w", trade.ID, models.ErrUnbackedTrade)
	}
	var buy, sell decimal.Decimal
	for _, f := range fills.Fills(trade.ID) {
		switch f.OrderID {
		case trade.BuyOrderID:
			buy = buy.Add(f.Amount)
		case trade.SellOrderID:
			sell = sell.Add(f.Amount)
		default:
			return fmt.Errorf("trade %s has fill for foreign order %d: %w", trade.ID, f.OrderID, models.ErrUnbackedTrade)
		}
	}
	if !buy.Equal(trade.Amount) || !sell.Equal(trade.Amount) {
		return fmt.Errorf("trade %s amount %s, fills buy %s sell %s: %w",
			trade.ID, trade.Amount, buy, sell, models.ErrUnbackedTrade)
	}
	return nil
}

// MemoryStore keeps settlement records in process
type MemoryStore struct {
	mu      sync.Mutex
	records map[uuid.UUID]models.SettlementRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[uuid.UUID]models.SettlementRecord)}
}

func (s *MemoryStore) Get(_ context.Context, tradeID uuid.UUID) (models.SettlementRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[tradeID]
	return rec, ok, nil
}

func (s *MemoryStore) Save(_ context.Context, rec models.SettlementRecord) (models.SettlementRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.records[rec.TradeID]; ok {
		return existing, false, nil
	}
	s.records[rec.TradeID] = rec
	return rec, true, nil
}
