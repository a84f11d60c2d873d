package matching

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xtrntr/gridledger/internal/grid"
	"github.com/xtrntr/gridledger/internal/logger"
	"github.com/xtrntr/gridledger/internal/models"
	"github.com/xtrntr/gridledger/internal/orderbook"
	"github.com/xtrntr/gridledger/internal/pricing"
)

// Pricer prices a candidate match
type Pricer interface {
	PriceFor(q pricing.Quote, snap models.GridSnapshot) decimal.Decimal
	EmergencyPrice(snap models.GridSnapshot) decimal.Decimal
}

// Validator checks a candidate match against grid constraints
type Validator interface {
	CheckSnapshot(zone models.Zone, snap *models.GridSnapshot, now time.Time) error
	Validate(c grid.Candidate, snap *models.GridSnapshot, flow grid.Flow, now time.Time) (grid.Assessment, error)
	Emergency(snap *models.GridSnapshot, halted bool) bool
}

// Config holds engine policy
type Config struct {
	// PartialRetry retries a capacity-rejected pair once at the capacity left
	PartialRetry bool
}

// Rejection is a candidate pair skipped for the current pass
type Rejection struct {
	BuyOrderID  models.OrderID
	SellOrderID models.OrderID
	Amount      decimal.Decimal
	Err         error
}

// Result collects what one matching pass produced
type Result struct {
	Trades     []models.Trade
	Expired    []models.OrderID
	Rejections []Rejection
}

// Engine runs matching passes over a book. It keeps no per-book state;
// the caller owns the book, the snapshot and the window flow.
type Engine struct {
	pricer    Pricer
	validator Validator
	cfg       Config
	newID     func() uuid.UUID
}

func NewEngine(pricer Pricer, validator Validator, cfg Config) *Engine {
	return &Engine{pricer: pricer, validator: validator, cfg: cfg, newID: uuid.New}
}

type pair struct {
	bid, ask models.OrderID
}

// Run executes one matching pass. A missing or stale snapshot produces no
// trades. An invariant violation faults the book and ends the pass.
func (e *Engine) Run(ctx context.Context, book *orderbook.Book, snap *models.GridSnapshot, flow *grid.Flow, now time.Time) (Result, error) {
	var res Result
	if err := book.Fault(); err != nil {
		return res, fmt.Errorf("%s: %w", book.Key(), models.ErrBookFaulted)
	}

	expired, err := book.ExpireStale(now)
	res.Expired = expired
	if err != nil {
		return res, err
	}

	if err := e.validator.CheckSnapshot(book.Zone(), snap, now); err != nil {
		return res, err
	}
	flow.Observe(*snap)
	book.SetGridEmergency(e.validator.Emergency(snap, false))

	skipped := make(map[pair]struct{})
	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		bid, ask, ok := nextPair(book, skipped)
		if !ok {
			return res, nil
		}

		trade, err := e.Match(ctx, book, bid, ask, snap, flow, now, false)
		switch {
		case err == nil:
			trade.Sequence = uint64(len(res.Trades) + 1)
			res.Trades = append(res.Trades, trade)
		case models.IsConstraint(err):
			skipped[pair{bid.ID, ask.ID}] = struct{}{}
			res.Rejections = append(res.Rejections, Rejection{
				BuyOrderID:  bid.ID,
				SellOrderID: ask.ID,
				Amount:      decimal.Min(bid.Remaining, ask.Remaining),
				Err:         err,
			})
		default:
			return res, err
		}
	}
}

// Match validates, prices and executes a single pair. forced marks an
// authority ForceMatch, which bypasses the halt check only.
func (e *Engine) Match(ctx context.Context, book *orderbook.Book, bid, ask *models.Order,
	snap *models.GridSnapshot, flow *grid.Flow, now time.Time, forced bool) (models.Trade, error) {

	if bid.Side != models.Buy || ask.Side != models.Sell {
		return models.Trade{}, fmt.Errorf("pair %d/%d has wrong sides: %w", bid.ID, ask.ID, models.ErrInvariantViolation)
	}
	if !bid.Status.Matchable() || !ask.Status.Matchable() ||
		!bid.Remaining.IsPositive() || !ask.Remaining.IsPositive() {
		book.MarkFaulted(models.ErrInvariantViolation)
		return models.Trade{}, fmt.Errorf("pair %d/%d not matchable: %w", bid.ID, ask.ID, models.ErrInvariantViolation)
	}

	candidate := grid.Candidate{
		Zone:       book.Zone(),
		Amount:     decimal.Min(bid.Remaining, ask.Remaining),
		Emergency:  bid.Kind.Tag() == models.KindEmergency || ask.Kind.Tag() == models.KindEmergency,
		Authority:  bid.AuthorityInjected || ask.AuthorityInjected,
		Forced:     forced,
		ZoneHalted: book.Halted(),
	}
	assessment, err := e.validator.Validate(candidate, snap, *flow, now)
	if err != nil && e.cfg.PartialRetry && errors.Is(err, models.ErrCapacityExceeded) {
		left := snap.CapacityRemaining.Sub(flow.Consumed)
		if left.IsPositive() && left.LessThan(candidate.Amount) {
			candidate.Amount = left
			assessment, err = e.validator.Validate(candidate, snap, *flow, now)
		}
	}
	if err != nil {
		logger.Warn(ctx, "grid constraint violation",
			zap.String("book", book.Key().String()),
			zap.Uint64("buy_order_id", uint64(bid.ID)),
			zap.Uint64("sell_order_id", uint64(ask.ID)),
			zap.String("amount_kwh", candidate.Amount.String()),
			zap.String("reason", models.ReasonCode(err)),
			zap.Error(err),
		)
		return models.Trade{}, err
	}

	trade := models.Trade{
		ID:          e.newID(),
		BuyOrderID:  bid.ID,
		SellOrderID: ask.ID,
		BuyerID:     bid.ParticipantID,
		SellerID:    ask.ParticipantID,
		Amount:      candidate.Amount,
		Delivered:   assessment.Delivered,
		Loss:        assessment.Loss,
		Price:       e.price(bid, ask, snap, book.Window()),
		Zone:        book.Zone(),
		Window:      book.Window(),
		Renewable:   ask.RenewableOnly,
		Emergency:   bid.Kind.Priority() || ask.Kind.Priority(),
		Forced:      forced,
		ExecutedAt:  now,
	}

	// From here on the trade must complete or the book is faulted
	if err := e.apply(book, trade, bid.ID, ask.ID, now); err != nil {
		book.MarkFaulted(err)
		logger.Error(ctx, "order book faulted",
			zap.String("book", book.Key().String()),
			zap.String("trade_id", trade.ID.String()),
			zap.Error(err),
		)
		return models.Trade{}, err
	}
	flow.Record(trade.Amount, assessment)
	return trade, nil
}

func (e *Engine) apply(book *orderbook.Book, trade models.Trade, bidID, askID models.OrderID, now time.Time) error {
	if err := book.RegisterTrade(trade.ID); err != nil {
		return err
	}
	if err := book.Fill(trade.ID, bidID, trade.Amount, now); err != nil {
		return err
	}
	return book.Fill(trade.ID, askID, trade.Amount, now)
}

// price picks the execution price for a crossing pair
func (e *Engine) price(bid, ask *models.Order, snap *models.GridSnapshot, w models.Window) decimal.Decimal {
	if bid.Kind.Priority() || ask.Kind.Priority() {
		return e.pricer.EmergencyPrice(*snap)
	}

	bp, bidLimit := bid.Kind.LimitPrice()
	ap, askLimit := ask.Kind.LimitPrice()
	switch {
	case bidLimit && askLimit:
		if resting(bid, ask) == bid {
			return bp
		}
		return ap
	case bidLimit:
		return e.pricer.PriceFor(pricing.Quote{Side: models.Sell, Base: &bp, Zone: bid.Zone, Window: w, Renewable: ask.RenewableOnly}, *snap)
	case askLimit:
		return e.pricer.PriceFor(pricing.Quote{Side: models.Buy, Base: &ap, Zone: ask.Zone, Window: w, Renewable: ask.RenewableOnly}, *snap)
	default:
		return e.pricer.PriceFor(pricing.Quote{Side: models.Buy, Zone: bid.Zone, Window: w, Renewable: ask.RenewableOnly}, *snap)
	}
}

// resting returns the order that was in the book first
func resting(a, b *models.Order) *models.Order {
	if a.CreatedAt.Before(b.CreatedAt) {
		return a
	}
	if b.CreatedAt.Before(a.CreatedAt) {
		return b
	}
	if a.ID < b.ID {
		return a
	}
	return b
}

// nextPair finds the highest priority compatible crossing pair not yet skipped.
// Bids are walked in priority order; for each bid the asks in priority order.
func nextPair(book *orderbook.Book, skipped map[pair]struct{}) (*models.Order, *models.Order, bool) {
	asks := book.Side(models.Sell)
	for _, bid := range book.Side(models.Buy) {
		for _, ask := range asks {
			if _, skip := skipped[pair{bid.ID, ask.ID}]; skip {
				continue
			}
			if bid.RenewableOnly && !ask.RenewableOnly {
				continue
			}
			if crosses(bid, ask) {
				return bid, ask, true
			}
			if _, askLimit := ask.Kind.LimitPrice(); askLimit {
				// Later asks are limits at the same or a worse price
				break
			}
		}
	}
	return nil, nil, false
}

// crosses reports whether a bid and an ask can trade. Market and priority
// kinds match against any opposite order.
func crosses(bid, ask *models.Order) bool {
	bp, bidLimit := bid.Kind.LimitPrice()
	ap, askLimit := ask.Kind.LimitPrice()
	if !bidLimit || !askLimit {
		return true
	}
	return bp.GreaterThanOrEqual(ap)
}
