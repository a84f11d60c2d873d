package db

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xtrntr/gridledger/internal/models"
)

var testDB *DB

func TestMain(m *testing.M) {
	url := os.Getenv("GRIDLEDGER_TEST_DATABASE_URL")
	if url == "" {
		// Database tests skip individually
		os.Exit(m.Run())
	}

	ctx := context.Background()
	if err := Migrate(ctx, url); err != nil {
		fmt.Fprintf(os.Stderr, "Unable to apply migrations: %v\n", err)
		os.Exit(1)
	}
	var err error
	testDB, err = NewDB(ctx, url)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Unable to create DB: %v\n", err)
		os.Exit(1)
	}
	code := m.Run()
	testDB.Close()
	os.Exit(code)
}

func cleanDB(t *testing.T) {
	t.Helper()
	if testDB == nil {
		t.Skip("GRIDLEDGER_TEST_DATABASE_URL not set")
	}
	_, err := testDB.Pool.Exec(context.Background(),
		"TRUNCATE TABLE settlements, trades, order_events, events, participants RESTART IDENTITY")
	require.NoError(t, err)
}

func TestDB_CreateParticipant(t *testing.T) {
	cleanDB(t)
	ctx := context.Background()

	p, err := testDB.CreateParticipant(ctx, "alice", "hash")
	require.NoError(t, err)
	assert.Equal(t, models.ParticipantID(1), p.ID)

	_, err = testDB.CreateParticipant(ctx, "alice", "hash")
	assert.ErrorIs(t, err, ErrDuplicateUsername)

	got, err := testDB.GetParticipantByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)

	_, err = testDB.GetParticipantByUsername(ctx, "nobody")
	assert.Error(t, err)
}

func TestDB_Append(t *testing.T) {
	cleanDB(t)
	ctx := context.Background()

	window := models.WindowAt(time.Now(), 15*time.Minute)
	at := time.Now().UTC().Truncate(time.Second)
	trade := models.Trade{
		ID:          uuid.New(),
		BuyOrderID:  1,
		SellOrderID: 2,
		BuyerID:     10,
		SellerID:    20,
		Amount:      decimal.RequireFromString("10"),
		Delivered:   decimal.RequireFromString("9.8"),
		Loss:        decimal.RequireFromString("0.2"),
		Price:       decimal.RequireFromString("4.5"),
		Zone:        "north",
		Window:      window,
		Renewable:   true,
		Sequence:    1,
		ExecutedAt:  at,
	}
	events := []models.Event{
		models.StatusEvent(models.OrderStatusChanged{
			OrderID: 1, Participant: 10, Zone: "north", Window: window,
			From: models.StatusPending, To: models.StatusActive,
			Remaining: decimal.RequireFromString("10"), At: at,
		}),
		models.StatusEvent(models.OrderStatusChanged{
			OrderID: 1, Participant: 10, Zone: "north", Window: window,
			From: models.StatusActive, To: models.StatusFilled,
			Remaining: decimal.Zero, At: at,
		}),
		models.TradeEvent(trade),
		models.SettlementEvent(models.SettlementRecord{
			ID: uuid.New(), TradeID: trade.ID,
			Buyer:       models.BalanceDelta{Participant: 10, Tokens: decimal.RequireFromString("-45"), EnergyKWh: trade.Delivered},
			Seller:      models.BalanceDelta{Participant: 20, Tokens: decimal.RequireFromString("44.955"), EnergyKWh: trade.Amount.Neg()},
			ProtocolFee: decimal.RequireFromString("0.045"),
			Zone:        "north", Window: window, SettledAt: at,
		}),
	}
	for i := range events {
		events[i].Sequence = uint64(i + 1)
	}

	require.NoError(t, testDB.Append(ctx, events))
	// Redelivery is a no-op
	require.NoError(t, testDB.Append(ctx, events))

	n, err := testDB.EventCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)

	last, err := testDB.LastSequence(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), last)

	orders, err := testDB.GetParticipantOrders(ctx, 10)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, models.StatusFilled, orders[0].To)

	trades, err := testDB.GetParticipantTrades(ctx, 20)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, trade.ID, trades[0].ID)
	assert.True(t, trades[0].Price.Equal(trade.Price))
	assert.True(t, trades[0].Renewable)
}
