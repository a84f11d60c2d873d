package settlement

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xtrntr/gridledger/internal/models"
)

type journal []models.Fill

func (j journal) Fills(id uuid.UUID) []models.Fill {
	var out []models.Fill
	for _, f := range j {
		if f.TradeID == id {
			out = append(out, f)
		}
	}
	return out
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newTrade(renewable bool) (models.Trade, journal) {
	t := models.Trade{
		ID:          uuid.New(),
		BuyOrderID:  1,
		SellOrderID: 2,
		BuyerID:     10,
		SellerID:    20,
		Amount:      dec("10"),
		Delivered:   dec("9.8"),
		Loss:        dec("0.2"),
		Price:       dec("5"),
		Zone:        "north",
		Renewable:   renewable,
		ExecutedAt:  time.Now(),
	}
	return t, journal{
		{TradeID: t.ID, OrderID: 1, Amount: t.Amount},
		{TradeID: t.ID, OrderID: 2, Amount: t.Amount},
	}
}

func newCoordinator(t *testing.T) *Coordinator {
	cfg := DefaultConfig()
	cfg.FeeAccount = 99
	c, err := NewCoordinator(cfg, nil)
	require.NoError(t, err)
	return c
}

func TestSettle(t *testing.T) {
	ctx := context.Background()

	t.Run("balances and fee", func(t *testing.T) {
		c := newCoordinator(t)
		trade, fills := newTrade(false)

		rec, created, err := c.Settle(ctx, trade, fills)
		require.NoError(t, err)
		assert.True(t, created)
		assert.Equal(t, trade.ID, rec.TradeID)
		assert.Empty(t, rec.CertificateRef)
		assert.True(t, rec.ProtocolFee.Equal(dec("0.05")), rec.ProtocolFee.String())

		buyer := c.Balance(10)
		assert.True(t, buyer.Tokens.Equal(dec("-50")))
		assert.True(t, buyer.EnergyKWh.Equal(dec("9.8")))

		seller := c.Balance(20)
		assert.True(t, seller.Tokens.Equal(dec("49.95")))
		assert.True(t, seller.EnergyKWh.Equal(dec("-10")))

		assert.True(t, c.Balance(99).Tokens.Equal(dec("0.05")))

		// Tokens are conserved across buyer, seller and fee account
		total := buyer.Tokens.Add(seller.Tokens).Add(c.Balance(99).Tokens)
		assert.True(t, total.IsZero(), total.String())
	})

	t.Run("renewable certificate", func(t *testing.T) {
		c := newCoordinator(t)
		trade, fills := newTrade(true)
		rec, _, err := c.Settle(ctx, trade, fills)
		require.NoError(t, err)
		assert.Equal(t, "REC-north-"+trade.ID.String(), rec.CertificateRef)
	})

	t.Run("idempotent", func(t *testing.T) {
		c := newCoordinator(t)
		trade, fills := newTrade(false)

		first, created, err := c.Settle(ctx, trade, fills)
		require.NoError(t, err)
		require.True(t, created)

		second, created, err := c.Settle(ctx, trade, fills)
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, first.ID, second.ID)
		assert.True(t, c.Balance(10).Tokens.Equal(dec("-50")))
	})

	t.Run("concurrent retries settle once", func(t *testing.T) {
		c := newCoordinator(t)
		trade, fills := newTrade(false)

		var wg sync.WaitGroup
		var mu sync.Mutex
		created := 0
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, ok, err := c.Settle(ctx, trade, fills)
				assert.NoError(t, err)
				if ok {
					mu.Lock()
					created++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, 1, created)
		assert.True(t, c.Balance(20).Tokens.Equal(dec("49.95")))
	})

	t.Run("unbacked trade", func(t *testing.T) {
		c := newCoordinator(t)
		trade, fills := newTrade(false)
		fills[1].Amount = dec("9")

		_, _, err := c.Settle(ctx, trade, fills)
		assert.ErrorIs(t, err, models.ErrUnbackedTrade)
		assert.True(t, c.Balance(10).Tokens.IsZero())

		_, _, err = c.Settle(ctx, trade, journal{})
		assert.ErrorIs(t, err, models.ErrUnbackedTrade)

		_, _, err = c.Settle(ctx, trade, nil)
		assert.ErrorIs(t, err, models.ErrUnbackedTrade)
	})
}

func TestNewCoordinator_FeeRate(t *testing.T) {
	_, err := NewCoordinator(Config{FeeRate: dec("-0.1")}, nil)
	assert.Error(t, err)
	_, err = NewCoordinator(Config{FeeRate: dec("1")}, nil)
	assert.Error(t, err)
}
