package journal

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xtrntr/gridledger/internal/models"
)

func event(seq uint64, id models.OrderID) models.Event {
	ev := models.StatusEvent(models.OrderStatusChanged{
		OrderID: id,
		Zone:    "north",
		From:    models.StatusPending,
		To:      models.StatusActive,
		At:      time.Unix(1_700_000_000, 0).UTC(),
	})
	ev.Sequence = seq
	return ev
}

func TestJournal(t *testing.T) {
	j, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	ctx := context.Background()

	last, err := j.Last()
	require.NoError(t, err)
	assert.Zero(t, last)

	require.NoError(t, j.Append(ctx, []models.Event{event(1, 10), event(2, 11), event(10, 12)}))
	// Redelivery of the same sequence overwrites
	require.NoError(t, j.Append(ctx, []models.Event{event(2, 11)}))

	last, err = j.Last()
	require.NoError(t, err)
	assert.Equal(t, uint64(10), last)

	var seqs []uint64
	require.NoError(t, j.Replay(2, func(ev models.Event) error {
		seqs = append(seqs, ev.Sequence)
		require.NotNil(t, ev.StatusChange)
		return nil
	}))
	assert.Equal(t, []uint64{2, 10}, seqs)
}

func TestJournal_CancelledContext(t *testing.T) {
	j, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, j.Append(ctx, []models.Event{event(1, 1)}), context.Canceled)
}
