package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xtrntr/gridledger/internal/models"
)

func newTestStore(t *testing.T) *SettlementStore {
	addr := os.Getenv("GRIDLEDGER_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("GRIDLEDGER_TEST_REDIS_ADDR not set")
	}
	store, err := New(context.Background(), addr, "", 0, time.Minute)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSettlementStore(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rec := models.SettlementRecord{
		ID:          uuid.New(),
		TradeID:     uuid.New(),
		ProtocolFee: decimal.RequireFromString("0.05"),
		Zone:        "north",
		SettledAt:   time.Now().UTC().Truncate(time.Second),
	}

	_, ok, err := store.Get(ctx, rec.TradeID)
	require.NoError(t, err)
	assert.False(t, ok)

	saved, created, err := store.Save(ctx, rec)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, rec.ID, saved.ID)

	dup := rec
	dup.ID = uuid.New()
	existing, created, err := store.Save(ctx, dup)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, rec.ID, existing.ID)

	got, ok, err := store.Get(ctx, rec.TradeID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, got.ProtocolFee.Equal(rec.ProtocolFee))
}
