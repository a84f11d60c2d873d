package orderbook

import (
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/xtrntr/gridledger/internal/models"
)

// Observer receives every order status transition, exactly once per transition
type Observer func(models.OrderStatusChanged)

// ReasonAuthorityCancel is the transition reason when an authority cancels
// an order it does not own
const ReasonAuthorityCancel = "AUTHORITY_CANCEL"

// Book holds the resting orders of one (zone, window). It is not safe for
// concurrent use; the exchange serializes writers per book.
type Book struct {
	zone    models.Zone
	window  models.Window
	ceiling decimal.Decimal

	bids   []*models.Order
	asks   []*models.Order
	orders map[models.OrderID]*models.Order

	// terminal remembers the final status of orders that left the book
	terminal map[models.OrderID]models.OrderStatus
	trades   map[uuid.UUID][]models.Fill

	halted        bool
	gridEmergency bool
	fault         error
	observer      Observer
}

// New creates an empty book for the given zone and window
func New(zone models.Zone, window models.Window, ceiling decimal.Decimal, observer Observer) *Book {
	if observer == nil {
		observer = func(models.OrderStatusChanged) {}
	}
	return &Book{
		zone:     zone,
		window:   window,
		ceiling:  ceiling,
		orders:   make(map[models.OrderID]*models.Order),
		terminal: make(map[models.OrderID]models.OrderStatus),
		trades:   make(map[uuid.UUID][]models.Fill),
		observer: observer,
	}
}

func (b *Book) Zone() models.Zone     { return b.zone }
func (b *Book) Window() models.Window { return b.window }
func (b *Book) Key() models.BookKey   { return models.KeyOf(b.zone, b.window) }
func (b *Book) Len() int              { return len(b.orders) }
func (b *Book) SetHalted(halted bool) { b.halted = halted }

// Halted reports whether an authority halted the zone
func (b *Book) Halted() bool { return b.halted }

// SetGridEmergency records whether the latest snapshot puts the zone in emergency
func (b *Book) SetGridEmergency(emergency bool) { b.gridEmergency = emergency }

// Restricted reports whether only emergency and authority orders are admitted
func (b *Book) Restricted() bool { return b.halted || b.gridEmergency }

// Fault returns the invariant violation that halted the book, if any
func (b *Book) Fault() error { return b.fault }

// MarkFaulted halts the book until Reset
func (b *Book) MarkFaulted(err error) {
	if b.fault == nil {
		b.fault = err
	}
}

// Submit validates the order and inserts it in priority order.
// The caller assigns ID and CreatedAt.
func (b *Book) Submit(o *models.Order, now time.Time) (models.OrderID, error) {
	if b.fault != nil {
		return 0, models.ErrBookFaulted
	}
	o.Status = models.StatusPending
	if err := b.admit(o, now); err != nil {
		b.transition(o, models.StatusRejected, models.ReasonCode(err), now)
		return 0, err
	}
	if _, exists := b.orders[o.ID]; exists {
		return 0, fmt.Errorf("order %d already resting: %w", o.ID, models.ErrInvariantViolation)
	}

	o.Remaining = o.Amount
	b.orders[o.ID] = o
	b.insert(o)
	b.transition(o, models.StatusActive, "", now)
	return o.ID, nil
}

func (b *Book) admit(o *models.Order, now time.Time) error {
	if err := o.ValidateShape(b.ceiling); err != nil {
		return err
	}
	if o.Zone != b.zone {
		return models.ErrUnknownZone
	}
	if !o.Window.Start.Equal(b.window.Start) || b.window.Closed(now) {
		return models.ErrWindowClosed
	}
	if o.Expired(now) {
		return models.ErrWindowClosed
	}
	if b.Restricted() && o.Kind.Tag() != models.KindEmergency && !o.AuthorityInjected {
		return models.ErrZoneHalted
	}
	return nil
}

// Cancel removes an open order. Only the owner or an authority may cancel.
func (b *Book) Cancel(id models.OrderID, requester models.ParticipantID, authority bool, now time.Time) error {
	if b.fault != nil {
		return models.ErrBookFaulted
	}
	o, ok := b.orders[id]
	if !ok {
		if _, done := b.terminal[id]; done {
			return models.ErrAlreadyTerminal
		}
		return models.ErrOrderNotFound
	}
	if o.ParticipantID != requester && !authority {
		return models.ErrUnauthorized
	}
	if err := b.remove(o); err != nil {
		b.MarkFaulted(err)
		return err
	}
	reason := ""
	if o.ParticipantID != requester {
		reason = ReasonAuthorityCancel
	}
	b.transition(o, models.StatusCancelled, reason, now)
	return nil
}

// ExpireStale expires orders past their expiry, or all orders once the window closed
func (b *Book) ExpireStale(now time.Time) ([]models.OrderID, error) {
	if b.fault != nil {
		return nil, models.ErrBookFaulted
	}
	closed := b.window.Closed(now)
	var expired []models.OrderID
	for _, side := range [][]*models.Order{slices.Clone(b.bids), slices.Clone(b.asks)} {
		for _, o := range side {
			if !closed && !o.Expired(now) {
				continue
			}
			if err := b.remove(o); err != nil {
				b.MarkFaulted(err)
				return expired, err
			}
			b.transition(o, models.StatusExpired, "", now)
			expired = append(expired, o.ID)
		}
	}
	return expired, nil
}

// BestBid returns a copy of the highest priority buy order
func (b *Book) BestBid() (models.Order, bool) {
	if len(b.bids) == 0 {
		return models.Order{}, false
	}
	return *b.bids[0], true
}

// BestAsk returns a copy of the highest priority sell order
func (b *Book) BestAsk() (models.Order, bool) {
	if len(b.asks) == 0 {
		return models.Order{}, false
	}
	return *b.asks[0], true
}

// Side returns the resting orders of one side in priority order.
// The slice is a copy; the orders are live and must only be changed through Fill.
func (b *Book) Side(side models.Side) []*models.Order {
	if side == models.Buy {
		return slices.Clone(b.bids)
	}
	return slices.Clone(b.asks)
}

// Get returns the live resting order with the given id
func (b *Book) Get(id models.OrderID) (*models.Order, bool) {
	o, ok := b.orders[id]
	return o, ok
}

// Status reports the current status of an order that passed through this book
func (b *Book) Status(id models.OrderID) (models.OrderStatus, bool) {
	if o, ok := b.orders[id]; ok {
		return o.Status, true
	}
	s, ok := b.terminal[id]
	return s, ok
}

// Fill decrements a resting order by amount on behalf of a trade
func (b *Book) Fill(tradeID uuid.UUID, id models.OrderID, amount decimal.Decimal, now time.Time) error {
	if b.fault != nil {
		return models.ErrBookFaulted
	}
	o, ok := b.orders[id]
	if !ok {
		return fmt.Errorf("fill of order %d not in book: %w", id, models.ErrInvariantViolation)
	}
	if !amount.IsPositive() || amount.GreaterThan(o.Remaining) {
		return fmt.Errorf("fill %s exceeds remaining %s of order %d: %w",
			amount, o.Remaining, id, models.ErrInvariantViolation)
	}

	o.Remaining = o.Remaining.Sub(amount)
	b.trades[tradeID] = append(b.trades[tradeID], models.Fill{TradeID: tradeID, OrderID: id, Amount: amount})

	if o.Remaining.IsZero() {
		if err := b.remove(o); err != nil {
			return err
		}
		b.transition(o, models.StatusFilled, "", now)
		return nil
	}
	if o.Status != models.StatusPartiallyFilled {
		b.transition(o, models.StatusPartiallyFilled, "", now)
	}
	return nil
}

// RegisterTrade reserves a trade id; a repeated id is an invariant violation
func (b *Book) RegisterTrade(id uuid.UUID) error {
	if _, seen := b.trades[id]; seen {
		return fmt.Errorf("trade %s: %w", id, models.ErrDuplicateTrade)
	}
	b.trades[id] = nil
	return nil
}

// Fills returns the order decrements recorded for a trade
func (b *Book) Fills(tradeID uuid.UUID) []models.Fill {
	return slices.Clone(b.trades[tradeID])
}

// Reset clears a fault and rebuilds both sides from the resting orders
func (b *Book) Reset() {
	b.fault = nil
	b.bids = b.bids[:0]
	b.asks = b.asks[:0]
	for id, o := range b.orders {
		if !o.Status.Matchable() || !o.Remaining.IsPositive() {
			delete(b.orders, id)
			b.terminal[id] = o.Status
			continue
		}
		if o.Side == models.Buy {
			b.bids = append(b.bids, o)
		} else {
			b.asks = append(b.asks, o)
		}
	}
	sort.Slice(b.bids, func(i, j int) bool { return before(models.Buy, b.bids[i], b.bids[j]) })
	sort.Slice(b.asks, func(i, j int) bool { return before(models.Sell, b.asks[i], b.asks[j]) })
}

func (b *Book) transition(o *models.Order, to models.OrderStatus, reason string, now time.Time) {
	from := o.Status
	if from == to {
		return
	}
	o.Status = to
	if to.Terminal() {
		b.terminal[o.ID] = to
	}
	b.observer(models.OrderStatusChanged{
		OrderID:     o.ID,
		Participant: o.ParticipantID,
		Zone:        o.Zone,
		Window:      o.Window,
		From:        from,
		To:          to,
		Remaining:   o.Remaining,
		Reason:      reason,
		At:          now,
	})
}

func (b *Book) sidePtr(side models.Side) *[]*models.Order {
	if side == models.Buy {
		return &b.bids
	}
	return &b.asks
}

func (b *Book) insert(o *models.Order) {
	orders := b.sidePtr(o.Side)
	i := sort.Search(len(*orders), func(i int) bool { return before(o.Side, o, (*orders)[i]) })
	*orders = slices.Insert(*orders, i, o)
}

func (b *Book) remove(o *models.Order) error {
	orders := b.sidePtr(o.Side)
	i := sort.Search(len(*orders), func(i int) bool { return !before(o.Side, (*orders)[i], o) })
	if i >= len(*orders) || (*orders)[i].ID != o.ID {
		return fmt.Errorf("order %d missing from %s side: %w", o.ID, o.Side, models.ErrInvariantViolation)
	}
	*orders = slices.Delete(*orders, i, i+1)
	delete(b.orders, o.ID)
	return nil
}

// before reports whether x ranks ahead of y on the given side: kind class,
// then price for limits, then renewable sells, then time, then id.
func before(side models.Side, x, y *models.Order) bool {
	if cx, cy := x.Kind.Class(), y.Kind.Class(); cx != cy {
		return cx < cy
	}
	if px, ok := x.Kind.LimitPrice(); ok {
		py, _ := y.Kind.LimitPrice()
		if c := px.Cmp(py); c != 0 {
			if side == models.Buy {
				return c > 0
			}
			return c < 0
		}
	}
	if side == models.Sell && x.RenewableOnly != y.RenewableOnly {
		return x.RenewableOnly
	}
	if !x.CreatedAt.Equal(y.CreatedAt) {
		return x.CreatedAt.Before(y.CreatedAt)
	}
	return x.ID < y.ID
}
