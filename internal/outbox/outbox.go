package outbox

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/xtrntr/gridledger/internal/logger"
	"github.com/xtrntr/gridledger/internal/models"
)

// Sink durably records ledger events. Append must be idempotent per event
// sequence since a batch is redelivered after a partial failure.
type Sink interface {
	Name() string
	Append(ctx context.Context, events []models.Event) error
}

// Outbox queues events in sequence order until a sink accepts them.
// Events are never dropped on sink failure.
type Outbox struct {
	sink     Sink
	maxBatch int

	flushMu sync.Mutex

	mu      sync.Mutex
	seq     uint64
	pending []models.Event
}

func New(sink Sink, maxBatch int) *Outbox {
	if maxBatch <= 0 {
		maxBatch = 256
	}
	return &Outbox{sink: sink, maxBatch: maxBatch}
}

// Enqueue stamps events with the next sequence numbers and queues them
func (o *Outbox) Enqueue(events ...models.Event) {
	if len(events) == 0 {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, ev := range events {
		o.seq++
		ev.Sequence = o.seq
		o.pending = append(o.pending, ev)
	}
}

// Resume continues numbering after last, the highest sequence a sink
// already holds from an earlier run. It only moves the sequence forward.
func (o *Outbox) Resume(last uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if last > o.seq {
		o.seq = last
	}
}

// Pending reports how many events await a sink
func (o *Outbox) Pending() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.pending)
}

// Flush hands queued events to the sink in batches. On failure the
// remaining events stay queued and ErrPersistence is returned.
func (o *Outbox) Flush(ctx context.Context) error {
	if o.sink == nil {
		return nil
	}
	o.flushMu.Lock()
	defer o.flushMu.Unlock()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		o.mu.Lock()
		n := min(len(o.pending), o.maxBatch)
		batch := make([]models.Event, n)
		copy(batch, o.pending[:n])
		o.mu.Unlock()

		if n == 0 {
			return nil
		}

		if err := o.sink.Append(ctx, batch); err != nil {
			logger.Warn(ctx, "event sink append failed",
				zap.String("sink", o.sink.Name()),
				zap.Int("batch", n),
				zap.Uint64("first_sequence", batch[0].Sequence),
				zap.Error(err),
			)
			return fmt.Errorf("flush to %s: %w: %w", o.sink.Name(), models.ErrPersistence, err)
		}

		o.mu.Lock()
		o.pending = o.pending[n:]
		o.mu.Unlock()
	}
}

// Fanout appends every batch to all of its sinks
type Fanout []Sink

func (f Fanout) Name() string { return "fanout" }

func (f Fanout) Append(ctx context.Context, events []models.Event) error {
	var errs []error
	for _, s := range f {
		if err := s.Append(ctx, events); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Memory is an in-process sink, used when no durable sink is configured
// and by tests
type Memory struct {
	mu     sync.Mutex
	events map[uint64]models.Event
	order  []uint64
}

func NewMemory() *Memory {
	return &Memory{events: make(map[uint64]models.Event)}
}

func (m *Memory) Name() string { return "memory" }

func (m *Memory) Append(_ context.Context, events []models.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ev := range events {
		if _, dup := m.events[ev.Sequence]; dup {
			continue
		}
		m.events[ev.Sequence] = ev
		m.order = append(m.order, ev.Sequence)
	}
	return nil
}

// Events returns everything appended, in append order
func (m *Memory) Events() []models.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Event, 0, len(m.order))
	for _, seq := range m.order {
		out = append(out, m.events[seq])
	}
	return out
}
