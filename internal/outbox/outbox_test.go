package outbox

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xtrntr/gridledger/internal/models"
)

var errDown = errors.New("sink down")

// flakySink fails the first `failures` appends
type flakySink struct {
	mu       sync.Mutex
	failures int
	calls    int
	got      []models.Event
}

func (s *flakySink) Name() string { return "flaky" }

func (s *flakySink) Append(_ context.Context, events []models.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.failures > 0 {
		s.failures--
		return errDown
	}
	s.got = append(s.got, events...)
	return nil
}

func statusEvents(n int) []models.Event {
	out := make([]models.Event, n)
	for i := range out {
		out[i] = models.StatusEvent(models.OrderStatusChanged{
			OrderID: models.OrderID(i + 1),
			Zone:    "north",
			From:    models.StatusPending,
			To:      models.StatusActive,
			At:      time.Now(),
		})
	}
	return out
}

func TestOutbox_SequencesAndBatches(t *testing.T) {
	sink := &flakySink{}
	ob := New(sink, 2)
	ob.Enqueue(statusEvents(5)...)
	assert.Equal(t, 5, ob.Pending())

	require.NoError(t, ob.Flush(context.Background()))
	assert.Equal(t, 0, ob.Pending())
	assert.Equal(t, 3, sink.calls)
	require.Len(t, sink.got, 5)
	for i, ev := range sink.got {
		assert.Equal(t, uint64(i+1), ev.Sequence)
	}
}

func TestOutbox_Resume(t *testing.T) {
	sink := &flakySink{}
	ob := New(sink, 0)
	ob.Resume(41)
	ob.Resume(7)
	ob.Enqueue(statusEvents(2)...)

	require.NoError(t, ob.Flush(context.Background()))
	require.Len(t, sink.got, 2)
	assert.Equal(t, uint64(42), sink.got[0].Sequence)
	assert.Equal(t, uint64(43), sink.got[1].Sequence)
}

func TestOutbox_FailureKeepsEvents(t *testing.T) {
	sink := &flakySink{failures: 1}
	ob := New(sink, 10)
	ob.Enqueue(statusEvents(3)...)

	err := ob.Flush(context.Background())
	assert.ErrorIs(t, err, models.ErrPersistence)
	assert.ErrorIs(t, err, errDown)
	assert.Equal(t, 3, ob.Pending())

	ob.Enqueue(statusEvents(1)...)
	require.NoError(t, ob.Flush(context.Background()))
	assert.Equal(t, 0, ob.Pending())
	require.Len(t, sink.got, 4)
	assert.Equal(t, uint64(4), sink.got[3].Sequence)
}

func TestFanout(t *testing.T) {
	ok := NewMemory()
	bad := &flakySink{failures: 1}
	ob := New(Fanout{ok, bad}, 10)
	ob.Enqueue(statusEvents(2)...)

	assert.Error(t, ob.Flush(context.Background()))
	assert.Len(t, ok.Events(), 2)

	// Redelivery to the memory sink is deduplicated by sequence
	require.NoError(t, ob.Flush(context.Background()))
	assert.Len(t, ok.Events(), 2)
	assert.Len(t, bad.got, 2)
}

func TestBreaker_OpensAfterFailures(t *testing.T) {
	sink := &flakySink{failures: 100}
	b := WithBreaker(sink, BreakerConfig{MaxRequests: 1, Timeout: time.Minute, MaxFailures: 2})

	ctx := context.Background()
	assert.ErrorIs(t, b.Append(ctx, statusEvents(1)), errDown)
	assert.ErrorIs(t, b.Append(ctx, statusEvents(1)), errDown)
	assert.Equal(t, gobreaker.StateOpen, b.State())

	err := b.Append(ctx, statusEvents(1))
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, 2, sink.calls)
}
