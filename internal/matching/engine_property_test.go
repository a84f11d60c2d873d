package matching

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"pgregory.net/rapid"

	"github.com/xtrntr/gridledger/internal/grid"
	"github.com/xtrntr/gridledger/internal/models"
	"github.com/xtrntr/gridledger/internal/orderbook"
	"github.com/xtrntr/gridledger/internal/pricing"
)

// drawBook fills a book with random limit and market orders
func drawBook(t *rapid.T) (*orderbook.Book, []*models.Order) {
	book := orderbook.New("north", window, decimal.NewFromInt(1000), nil)
	n := rapid.IntRange(1, 40).Draw(t, "orders")
	orders := make([]*models.Order, 0, n)
	for i := 0; i < n; i++ {
		side := models.Buy
		if rapid.Bool().Draw(t, "sell") {
			side = models.Sell
		}
		kind := models.Limit(decimal.NewFromInt(rapid.Int64Range(1, 8).Draw(t, "price")))
		if rapid.IntRange(0, 9).Draw(t, "market") == 0 {
			kind = models.Market()
		}
		o := &models.Order{
			ID:            models.OrderID(i + 1),
			ParticipantID: models.ParticipantID(i + 1),
			Side:          side,
			Kind:          kind,
			Amount:        decimal.NewFromInt(rapid.Int64Range(1, 100).Draw(t, "amount")),
			Zone:          "north",
			Window:        window,
			RenewableOnly: rapid.IntRange(0, 4).Draw(t, "renewable") == 0,
			// Coarse timestamps force id tie-breaks
			CreatedAt: now.Add(-time.Duration(rapid.IntRange(0, 5).Draw(t, "age")) * time.Second),
		}
		if _, err := book.Submit(o, now); err != nil {
			t.Fatalf("submit: %v", err)
		}
		orders = append(orders, o)
	}
	return book, orders
}

func propertyEngine(t *rapid.T) *Engine {
	pricer, err := pricing.NewService(pricing.DefaultConfig())
	if err != nil {
		t.Fatalf("pricing: %v", err)
	}
	validator := grid.NewValidator(grid.DefaultConfig(),
		grid.NewDistanceLoss(map[models.Zone]float64{"north": 20}, 0.001, 0.1))
	return NewEngine(pricer, validator, Config{})
}

func TestEngine_PropertyFillsAndConservation(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		engine := propertyEngine(t)
		book, orders := drawBook(t)
		capacity := rapid.Int64Range(0, 2000).Draw(t, "capacity")
		snap := snapshot(capacity)
		flow := &grid.Flow{}

		res, err := engine.Run(context.Background(), book, snap, flow, now)
		if err != nil {
			t.Fatalf("run: %v", err)
		}

		filled := make(map[models.OrderID]decimal.Decimal)
		sold, delivered, losses := decimal.Zero, decimal.Zero, decimal.Zero
		for i, tr := range res.Trades {
			if tr.Sequence != uint64(i+1) {
				t.Fatalf("trade %d has sequence %d", i, tr.Sequence)
			}
			filled[tr.BuyOrderID] = filled[tr.BuyOrderID].Add(tr.Amount)
			filled[tr.SellOrderID] = filled[tr.SellOrderID].Add(tr.Amount)
			sold = sold.Add(tr.Amount)
			delivered = delivered.Add(tr.Delivered)
			losses = losses.Add(tr.Loss)
		}

		for _, o := range orders {
			if o.Remaining.IsNegative() {
				t.Fatalf("order %d remaining %s", o.ID, o.Remaining)
			}
			if !o.Remaining.Add(filled[o.ID]).Equal(o.Amount) {
				t.Fatalf("order %d: remaining %s + filled %s != amount %s", o.ID, o.Remaining, filled[o.ID], o.Amount)
			}
			if o.Remaining.IsZero() != (o.Status == models.StatusFilled) {
				t.Fatalf("order %d status %s with remaining %s", o.ID, o.Status, o.Remaining)
			}
		}

		if sold.GreaterThan(snap.CapacityRemaining) {
			t.Fatalf("matched %s over capacity %s", sold, snap.CapacityRemaining)
		}
		if sold.Sub(delivered.Add(losses)).Abs().GreaterThan(grid.DefaultConfig().Tolerance) {
			t.Fatalf("sold %s != delivered %s + losses %s", sold, delivered, losses)
		}
	})
}

func TestEngine_PropertyPriceTimePriority(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		engine := propertyEngine(t)
		book, orders := drawBook(t)

		// Unlimited capacity so no pair is skipped
		if _, err := engine.Run(context.Background(), book, snapshot(1_000_000), &grid.Flow{}, now); err != nil {
			t.Fatalf("run: %v", err)
		}

		for _, early := range orders {
			for _, late := range orders {
				if early.Side != late.Side || early.ID == late.ID || early.RenewableOnly != late.RenewableOnly {
					continue
				}
				ep, eLimit := early.Kind.LimitPrice()
				lp, lLimit := late.Kind.LimitPrice()
				if !eLimit || !lLimit || !ep.Equal(lp) {
					continue
				}
				earlier := early.CreatedAt.Before(late.CreatedAt) ||
					(early.CreatedAt.Equal(late.CreatedAt) && early.ID < late.ID)
				if earlier && late.Filled().IsPositive() && early.Remaining.IsPositive() {
					t.Fatalf("order %d filled %s while earlier order %d at the same price still has %s",
						late.ID, late.Filled(), early.ID, early.Remaining)
				}
			}
		}
	})
}
