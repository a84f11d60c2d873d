package exchange

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xtrntr/gridledger/internal/grid"
	"github.com/xtrntr/gridledger/internal/logger"
	"github.com/xtrntr/gridledger/internal/matching"
	"github.com/xtrntr/gridledger/internal/metrics"
	"github.com/xtrntr/gridledger/internal/models"
	"github.com/xtrntr/gridledger/internal/orderbook"
	"github.com/xtrntr/gridledger/internal/outbox"
	"github.com/xtrntr/gridledger/internal/override"
	"github.com/xtrntr/gridledger/internal/pricing"
	"github.com/xtrntr/gridledger/internal/settlement"
)

// Config holds market structure settings
type Config struct {
	Zones        []models.Zone
	WindowLength time.Duration
	OrderCeiling decimal.Decimal
	// Continuous runs a matching pass on the affected book after every accepted order
	Continuous bool
	// Workers bounds how many books RunAllTicks matches in parallel
	Workers int
}

// Services are the collaborators the exchange drives
type Services struct {
	Engine    *matching.Engine
	Validator matching.Validator
	Pricer    *pricing.Service
	Settler   *settlement.Coordinator
	Outbox    *outbox.Outbox
	Guard     *override.Guard
	Metrics   *metrics.Metrics
}

// TickResult is what one matching pass over a book produced
type TickResult struct {
	Trades      []models.Trade
	Settlements []models.SettlementRecord
	Expired     []models.OrderID
	Rejections  []matching.Rejection
}

// OverrideResult reports what an authority override did
type OverrideResult struct {
	OrderID    models.OrderID           `json:"order_id,omitempty"`
	Trade      *models.Trade            `json:"trade,omitempty"`
	Settlement *models.SettlementRecord `json:"settlement,omitempty"`
}

// book is one (zone, window) order book with its writer lock
type book struct {
	mu     sync.RWMutex
	key    models.BookKey
	window models.Window
	book   *orderbook.Book
	flow   grid.Flow
	// unsettled holds executed trades whose settlement must be retried
	unsettled []models.Trade
}

// Exchange routes operations to per-(zone, window) books. A book lock may
// be held while taking e.mu or a zone capacity lock, never the other way
// round.
type Exchange struct {
	cfg       Config
	svc       Services
	zones     map[models.Zone]struct{}
	snapshots *grid.Snapshots
	// capacity is shared by all books of a zone; the map is fixed at creation
	capacity  map[models.Zone]*grid.Capacity
	now       func() time.Time
	nextID    atomic.Uint64

	mu     sync.RWMutex
	books  map[models.BookKey]*book
	index  map[models.OrderID]models.BookKey
	halted map[models.Zone]bool
}

// NewExchange creates an exchange serving the configured zones
func NewExchange(cfg Config, svc Services) (*Exchange, error) {
	if len(cfg.Zones) == 0 {
		return nil, fmt.Errorf("exchange needs at least one zone")
	}
	if cfg.WindowLength <= 0 {
		return nil, fmt.Errorf("window length must be positive")
	}
	if svc.Engine == nil || svc.Validator == nil || svc.Pricer == nil || svc.Settler == nil || svc.Outbox == nil {
		return nil, fmt.Errorf("exchange services incomplete")
	}
	if svc.Guard == nil {
		// Without a verifier every override is rejected
		svc.Guard = override.NewGuard(nil, 0)
	}
	if svc.Metrics == nil {
		svc.Metrics = metrics.New(prometheus.NewRegistry())
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}

	zones := make(map[models.Zone]struct{}, len(cfg.Zones))
	capacity := make(map[models.Zone]*grid.Capacity, len(cfg.Zones))
	for _, z := range cfg.Zones {
		zones[z] = struct{}{}
		capacity[z] = &grid.Capacity{}
	}
	return &Exchange{
		cfg:       cfg,
		svc:       svc,
		zones:     zones,
		snapshots: grid.NewSnapshots(),
		capacity:  capacity,
		now:       time.Now,
		books:     make(map[models.BookKey]*book),
		index:     make(map[models.OrderID]models.BookKey),
		halted:    make(map[models.Zone]bool),
	}, nil
}

// Zones lists the zones the exchange serves
func (e *Exchange) Zones() []models.Zone {
	out := make([]models.Zone, 0, len(e.zones))
	for z := range e.zones {
		out = append(out, z)
	}
	slices.Sort(out)
	return out
}

// Books lists the books currently open
func (e *Exchange) Books() []models.BookKey {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]models.BookKey, 0, len(e.books))
	for k := range e.books {
		out = append(out, k)
	}
	slices.SortFunc(out, func(a, b models.BookKey) int {
		if c := cmp.Compare(a.Zone, b.Zone); c != 0 {
			return c
		}
		return cmp.Compare(a.Start, b.Start)
	})
	return out
}

// WindowFor returns the aligned window containing t
func (e *Exchange) WindowFor(t time.Time) models.Window {
	return models.WindowAt(t, e.cfg.WindowLength)
}

func (e *Exchange) knownZone(z models.Zone) bool {
	_, ok := e.zones[z]
	return ok
}

func (e *Exchange) bookFor(zone models.Zone, w models.Window) *book {
	key := models.KeyOf(zone, w)
	e.mu.RLock()
	b, ok := e.books[key]
	e.mu.RUnlock()
	if ok {
		return b
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if b, ok := e.books[key]; ok {
		return b
	}
	b = &book{
		key:    key,
		window: w,
		book:   orderbook.New(zone, w, e.cfg.OrderCeiling, e.observe),
	}
	b.book.SetHalted(e.halted[zone])
	e.books[key] = b
	return b
}

func (e *Exchange) latest(zone models.Zone) *models.GridSnapshot {
	if s, ok := e.snapshots.Latest(zone); ok {
		return &s
	}
	return nil
}

func (e *Exchange) lookup(key models.BookKey) (*book, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	b, ok := e.books[key]
	return b, ok
}

func (e *Exchange) locate(id models.OrderID) (*book, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	key, ok := e.index[id]
	if !ok {
		return nil, false
	}
	b, ok := e.books[key]
	return b, ok
}

// observe turns every order status transition into a ledger event
func (e *Exchange) observe(c models.OrderStatusChanged) {
	e.svc.Outbox.Enqueue(models.StatusEvent(c))
	e.svc.Metrics.StatusTransitions.WithLabelValues(string(c.To)).Inc()
	if c.To == models.StatusRejected {
		e.svc.Metrics.OrdersRejected.WithLabelValues(c.Reason).Inc()
	}
}

// SubmitOrder assigns the order an id and creation time and places it in the
// book of its zone and window. A zero window means the current one.
func (e *Exchange) SubmitOrder(ctx context.Context, o models.Order) (models.OrderID, error) {
	o.AuthorityInjected = false
	return e.submit(ctx, o, e.now())
}

func (e *Exchange) submit(ctx context.Context, o models.Order, now time.Time) (models.OrderID, error) {
	o.ID = models.OrderID(e.nextID.Add(1))
	o.CreatedAt = now
	if o.Window.Start.IsZero() {
		o.Window = e.WindowFor(now)
	} else {
		o.Window = e.WindowFor(o.Window.Start)
	}

	if !e.knownZone(o.Zone) {
		e.observe(models.OrderStatusChanged{
			OrderID:     o.ID,
			Participant: o.ParticipantID,
			Zone:        o.Zone,
			Window:      o.Window,
			From:        models.StatusPending,
			To:          models.StatusRejected,
			Remaining:   o.Amount,
			Reason:      models.ReasonCode(models.ErrUnknownZone),
			At:          now,
		})
		return 0, fmt.Errorf("submit: zone %q: %w", o.Zone, models.ErrUnknownZone)
	}

	b := e.bookFor(o.Zone, o.Window)
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if snap := e.latest(o.Zone); snap != nil {
		b.book.SetGridEmergency(e.svc.Validator.Emergency(snap, false))
	}

	order := o
	id, err := b.book.Submit(&order, now)
	if err != nil {
		logger.Info(ctx, "order rejected",
			zap.Uint64("order_id", uint64(o.ID)),
			zap.String("book", b.key.String()),
			zap.String("reason", models.ReasonCode(err)),
		)
		return 0, fmt.Errorf("submit: %w", err)
	}

	e.mu.Lock()
	e.index[id] = b.key
	e.mu.Unlock()
	e.svc.Metrics.OrdersSubmitted.WithLabelValues(string(o.Zone), o.Side.String(), o.Kind.Tag().String()).Inc()

	if e.cfg.Continuous {
		if _, err := e.runLocked(ctx, b, now); err != nil && !errors.Is(err, models.ErrStaleSnapshot) {
			logger.Warn(ctx, "continuous matching pass failed", zap.String("book", b.key.String()), zap.Error(err))
		}
	}
	return id, nil
}

// CancelOrder cancels an open order on behalf of its owner
func (e *Exchange) CancelOrder(ctx context.Context, id models.OrderID, requester models.ParticipantID) error {
	return e.cancel(ctx, id, requester, false)
}

func (e *Exchange) cancel(ctx context.Context, id models.OrderID, requester models.ParticipantID, authority bool) error {
	b, ok := e.locate(id)
	if !ok {
		return fmt.Errorf("cancel %d: %w", id, models.ErrOrderNotFound)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := b.book.Cancel(id, requester, authority, e.now()); err != nil {
		return fmt.Errorf("cancel %d: %w", id, err)
	}
	return nil
}

// GetOrder returns a copy of a resting order, or its final status
func (e *Exchange) GetOrder(id models.OrderID) (models.Order, models.OrderStatus, error) {
	b, ok := e.locate(id)
	if !ok {
		return models.Order{}, "", fmt.Errorf("order %d: %w", id, models.ErrOrderNotFound)
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if o, ok := b.book.Get(id); ok {
		return *o, o.Status, nil
	}
	status, _ := b.book.Status(id)
	return models.Order{}, status, nil
}

// OrderBookSnapshot returns the depth of a book with its indicative price
func (e *Exchange) OrderBookSnapshot(zone models.Zone, w models.Window) (orderbook.Depth, error) {
	if !e.knownZone(zone) {
		return orderbook.Depth{}, fmt.Errorf("depth: zone %q: %w", zone, models.ErrUnknownZone)
	}
	if w.Start.IsZero() {
		w = e.WindowFor(e.now())
	} else {
		w = e.WindowFor(w.Start)
	}

	var d orderbook.Depth
	if b, ok := e.lookup(models.KeyOf(zone, w)); ok {
		b.mu.RLock()
		d = b.book.Depth()
		b.mu.RUnlock()
	} else {
		empty := orderbook.New(zone, w, e.cfg.OrderCeiling, nil)
		e.mu.RLock()
		empty.SetHalted(e.halted[zone])
		e.mu.RUnlock()
		d = empty.Depth()
	}

	price := e.svc.Pricer.IndicativePrice(d.TotalSellKWh, d.TotalBuyKWh)
	d.IndicativePrice = &price
	return d, nil
}

// UpdateGridSnapshot installs a snapshot for its zone. An older snapshot
// than the one in use is discarded and reported as not applied.
func (e *Exchange) UpdateGridSnapshot(ctx context.Context, snap models.GridSnapshot) (bool, error) {
	if err := snap.Validate(); err != nil {
		return false, fmt.Errorf("snapshot: %w", err)
	}
	if !e.knownZone(snap.Zone) {
		return false, fmt.Errorf("snapshot: zone %q: %w", snap.Zone, models.ErrUnknownZone)
	}
	if !e.snapshots.Update(snap) {
		e.svc.Metrics.SnapshotsDiscarded.WithLabelValues(string(snap.Zone)).Inc()
		logger.Debug(ctx, "discarded older grid snapshot",
			zap.String("zone", string(snap.Zone)), zap.Uint64("version", snap.Version))
		return false, nil
	}
	return true, nil
}

// RunMatchingTick runs one matching pass over the book of zone and window.
// A non-nil snapshot is installed first, unless a newer one is in use.
func (e *Exchange) RunMatchingTick(ctx context.Context, zone models.Zone, w models.Window, snap *models.GridSnapshot) (TickResult, error) {
	if !e.knownZone(zone) {
		return TickResult{}, fmt.Errorf("tick: zone %q: %w", zone, models.ErrUnknownZone)
	}
	if snap != nil {
		if snap.Zone != zone {
			return TickResult{}, fmt.Errorf("tick: snapshot for %s given for %s: %w", snap.Zone, zone, models.ErrInvalidSnapshot)
		}
		if _, err := e.UpdateGridSnapshot(ctx, *snap); err != nil {
			return TickResult{}, err
		}
	}
	if w.Start.IsZero() {
		w = e.WindowFor(e.now())
	} else {
		w = e.WindowFor(w.Start)
	}

	b := e.bookFor(zone, w)
	b.mu.Lock()
	res, err := e.runLocked(ctx, b, e.now())
	b.mu.Unlock()

	if ferr := e.Flush(ctx); ferr != nil {
		err = errors.Join(err, ferr)
	}
	return res, err
}

// RunAllTicks runs a matching pass over every book holding orders, books in
// parallel. A missing or stale snapshot only skips its own books.
func (e *Exchange) RunAllTicks(ctx context.Context) (map[models.BookKey]TickResult, error) {
	now := e.now()

	e.mu.RLock()
	books := make([]*book, 0, len(e.books))
	for _, b := range e.books {
		books = append(books, b)
	}
	e.mu.RUnlock()

	var (
		mu      sync.Mutex
		errs    []error
		results = make(map[models.BookKey]TickResult, len(books))
	)
	g := new(errgroup.Group)
	g.SetLimit(e.cfg.Workers)
	for _, b := range books {
		g.Go(func() error {
			b.mu.Lock()
			if b.book.Len() == 0 && len(b.unsettled) == 0 {
				b.mu.Unlock()
				return nil
			}
			res, err := e.runLocked(ctx, b, now)
			b.mu.Unlock()

			mu.Lock()
			defer mu.Unlock()
			results[b.key] = res
			if err != nil && !errors.Is(err, models.ErrStaleSnapshot) {
				errs = append(errs, fmt.Errorf("%s: %w", b.key, err))
			}
			return nil
		})
	}
	_ = g.Wait()

	e.prune(ctx, now)
	if err := e.Flush(ctx); err != nil {
		errs = append(errs, err)
	}
	return results, errors.Join(errs...)
}

// runLocked runs a pass over b, settles what it produced and retries
// earlier settlement failures. The caller holds b.mu.
func (e *Exchange) runLocked(ctx context.Context, b *book, now time.Time) (TickResult, error) {
	zone := b.key.Zone
	start := time.Now()
	defer func() {
		e.svc.Metrics.TickDuration.WithLabelValues(string(zone)).Observe(time.Since(start).Seconds())
	}()

	zc := e.capacity[zone]
	zc.Lock()
	snap := e.latest(zone)
	if snap != nil {
		zc.Load(*snap, &b.flow)
	}
	wasFaulted := b.book.Fault() != nil
	res, err := e.svc.Engine.Run(ctx, b.book, snap, &b.flow, now)
	zc.Store(b.flow)
	zc.Unlock()

	out := TickResult{Expired: res.Expired, Rejections: res.Rejections}
	for _, r := range res.Rejections {
		e.svc.Metrics.ConstraintViolations.WithLabelValues(string(zone), models.ReasonCode(r.Err)).Inc()
	}
	if err != nil {
		if errors.Is(err, models.ErrStaleSnapshot) {
			logger.Warn(ctx, "matching skipped, no usable grid snapshot", zap.String("book", b.key.String()), zap.Error(err))
		} else if !wasFaulted {
			logger.Error(ctx, "matching pass failed", zap.String("book", b.key.String()), zap.Error(err))
		}
	}

	var settleErr error
	out.Trades = e.record(b, res.Trades)
	out.Settlements, settleErr = e.settlePending(ctx, b)

	if !wasFaulted && b.book.Fault() != nil {
		e.svc.Metrics.FaultedBooks.Inc()
	}
	return out, errors.Join(err, settleErr)
}

// record queues trade events and marks the trades for settlement
func (e *Exchange) record(b *book, trades []models.Trade) []models.Trade {
	for i := range trades {
		trades[i].CertificateRef = e.svc.Settler.CertificateRef(trades[i])
		e.svc.Outbox.Enqueue(models.TradeEvent(trades[i]))
		e.svc.Metrics.Trades.WithLabelValues(string(trades[i].Zone)).Inc()
		e.svc.Metrics.MatchedEnergy.WithLabelValues(string(trades[i].Zone)).Add(trades[i].Amount.InexactFloat64())
	}
	b.unsettled = append(b.unsettled, trades...)
	return trades
}

// settlePending settles every unsettled trade of b. Persistence failures
// keep the trade for the next pass; an unbacked trade faults the book.
func (e *Exchange) settlePending(ctx context.Context, b *book) ([]models.SettlementRecord, error) {
	var (
		recs []models.SettlementRecord
		errs []error
		keep []models.Trade
	)
	for _, tr := range b.unsettled {
		rec, _, err := e.svc.Settler.Settle(ctx, tr, b.book)
		switch {
		case err == nil:
			e.svc.Outbox.Enqueue(models.SettlementEvent(rec))
			recs = append(recs, rec)
		case models.IsInternal(err):
			b.book.MarkFaulted(err)
			logger.Error(ctx, "order book faulted by settlement",
				zap.String("book", b.key.String()), zap.String("trade_id", tr.ID.String()), zap.Error(err))
			errs = append(errs, err)
		default:
			keep = append(keep, tr)
			errs = append(errs, err)
		}
	}
	b.unsettled = keep
	return recs, errors.Join(errs...)
}

// prune drops books of closed windows once nothing is left in them
func (e *Exchange) prune(ctx context.Context, now time.Time) {
	e.mu.RLock()
	var closed []*book
	for _, b := range e.books {
		if b.window.Closed(now) {
			closed = append(closed, b)
		}
	}
	e.mu.RUnlock()

	var retired []models.BookKey
	for _, b := range closed {
		b.mu.RLock()
		if b.book.Len() == 0 && len(b.unsettled) == 0 && b.book.Fault() == nil {
			retired = append(retired, b.key)
		}
		b.mu.RUnlock()
	}
	if len(retired) == 0 {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for _, key := range retired {
		delete(e.books, key)
	}
	for id, key := range e.index {
		if slices.Contains(retired, key) {
			delete(e.index, id)
		}
	}
	logger.Debug(ctx, "pruned closed books", zap.Int("books", len(retired)))
}

// ApplyAuthorityOverride verifies and executes a signed authority command.
// An unverified or replayed override changes nothing.
func (e *Exchange) ApplyAuthorityOverride(ctx context.Context, o models.AuthorityOverride) (OverrideResult, error) {
	now := e.now()
	outcome := "applied"
	defer func() {
		e.svc.Metrics.Overrides.WithLabelValues(string(o.Authority), string(o.Action), outcome).Inc()
	}()

	if err := e.svc.Guard.Admit(o, now); err != nil {
		outcome = "rejected"
		logger.Warn(ctx, "authority override rejected",
			zap.String("authority", string(o.Authority)),
			zap.String("action", string(o.Action)),
			zap.Error(err),
		)
		return OverrideResult{}, fmt.Errorf("override: %w", err)
	}

	var (
		res OverrideResult
		err error
	)
	switch o.Action {
	case models.ActionInjectOrder:
		order := *o.Order
		order.AuthorityInjected = true
		res.OrderID, err = e.submit(ctx, order, now)
	case models.ActionHaltZone:
		err = e.setHalted(o.Zone, true)
	case models.ActionResumeZone:
		err = e.setHalted(o.Zone, false)
	case models.ActionForceMatch:
		res, err = e.forceMatch(ctx, o.OrderA, o.OrderB, now)
	case models.ActionCancelOrder:
		res.OrderID = o.OrderA
		err = e.cancel(ctx, o.OrderA, 0, true)
	}
	if err != nil {
		outcome = "failed"
		logger.Warn(ctx, "authority override failed",
			zap.String("authority", string(o.Authority)),
			zap.String("action", string(o.Action)),
			zap.Error(err),
		)
		return res, fmt.Errorf("override %s: %w", o.Action, err)
	}

	logger.Info(ctx, "authority override applied",
		zap.String("authority", string(o.Authority)),
		zap.String("action", string(o.Action)),
		zap.String("zone", string(o.Zone)),
	)
	return res, nil
}

func (e *Exchange) setHalted(zone models.Zone, halted bool) error {
	if !e.knownZone(zone) {
		return fmt.Errorf("zone %q: %w", zone, models.ErrUnknownZone)
	}
	e.mu.Lock()
	e.halted[zone] = halted
	var affected []*book
	for key, b := range e.books {
		if key.Zone == zone {
			affected = append(affected, b)
		}
	}
	e.mu.Unlock()

	for _, b := range affected {
		b.mu.Lock()
		b.book.SetHalted(halted)
		b.mu.Unlock()
	}
	return nil
}

// forceMatch executes exactly the two given orders against each other.
// Only the halt check is bypassed; capacity and conservation still apply.
func (e *Exchange) forceMatch(ctx context.Context, a, c models.OrderID, now time.Time) (OverrideResult, error) {
	e.mu.RLock()
	keyA, okA := e.index[a]
	keyC, okC := e.index[c]
	b := e.books[keyA]
	e.mu.RUnlock()
	if !okA || !okC || b == nil {
		return OverrideResult{}, fmt.Errorf("force match %d/%d: %w", a, c, models.ErrOrderNotFound)
	}
	if keyA != keyC {
		return OverrideResult{}, fmt.Errorf("orders %d and %d rest in different books: %w", a, c, models.ErrInvalidOverride)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return OverrideResult{}, err
	}

	bid, ok := b.book.Get(a)
	if !ok {
		return OverrideResult{}, fmt.Errorf("order %d: %w", a, models.ErrAlreadyTerminal)
	}
	ask, ok := b.book.Get(c)
	if !ok {
		return OverrideResult{}, fmt.Errorf("order %d: %w", c, models.ErrAlreadyTerminal)
	}
	if bid.Side == models.Sell {
		bid, ask = ask, bid
	}
	if bid.Side != models.Buy || ask.Side != models.Sell {
		return OverrideResult{}, fmt.Errorf("orders %d and %d are on the same side: %w", a, c, models.ErrInvalidOverride)
	}

	zc := e.capacity[b.key.Zone]
	zc.Lock()
	snap := e.latest(b.key.Zone)
	if err := e.svc.Validator.CheckSnapshot(b.key.Zone, snap, now); err != nil {
		zc.Unlock()
		return OverrideResult{}, err
	}
	zc.Load(*snap, &b.flow)
	trade, err := e.svc.Engine.Match(ctx, b.book, bid, ask, snap, &b.flow, now, true)
	zc.Store(b.flow)
	zc.Unlock()
	if err != nil {
		return OverrideResult{}, err
	}
	trade.Sequence = 1
	trades := e.record(b, []models.Trade{trade})
	res := OverrideResult{Trade: &trades[0]}

	recs, err := e.settlePending(ctx, b)
	for i := range recs {
		if recs[i].TradeID == trade.ID {
			res.Settlement = &recs[i]
		}
	}
	return res, err
}

// ResetBook clears an invariant fault after operator inspection
func (e *Exchange) ResetBook(ctx context.Context, zone models.Zone, w models.Window) error {
	b, ok := e.lookup(models.KeyOf(zone, e.WindowFor(w.Start)))
	if !ok {
		return fmt.Errorf("reset %s: no such book", models.KeyOf(zone, w))
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	fault := b.book.Fault()
	b.book.Reset()
	if fault != nil {
		e.svc.Metrics.FaultedBooks.Dec()
	}
	logger.Info(ctx, "order book reset", zap.String("book", b.key.String()), zap.NamedError("fault", fault))
	return nil
}

// Flush hands queued ledger events to the persistence sink
func (e *Exchange) Flush(ctx context.Context) error {
	err := e.svc.Outbox.Flush(ctx)
	e.svc.Metrics.OutboxPending.Set(float64(e.svc.Outbox.Pending()))
	return err
}

// Balance returns the settled position of a participant
func (e *Exchange) Balance(id models.ParticipantID) settlement.Balance {
	return e.svc.Settler.Balance(id)
}
