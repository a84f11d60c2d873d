package outbox

import (
	"context"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/xtrntr/gridledger/internal/logger"
	"github.com/xtrntr/gridledger/internal/models"
)

type BreakerConfig struct {
	MaxRequests uint32
	Interval    time.Duration
	Timeout     time.Duration
	MaxFailures uint32
}

// Breaker stops calling a failing sink until its timeout elapses.
// While open, Append fails fast and the outbox keeps the events.
type Breaker struct {
	sink Sink
	cb   *gobreaker.CircuitBreaker[struct{}]
}

func WithBreaker(sink Sink, cfg BreakerConfig) *Breaker {
	cb := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        sink.Name(),
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.MaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn(context.Background(), "sink breaker state changed",
				zap.String("sink", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
	return &Breaker{sink: sink, cb: cb}
}

func (b *Breaker) Name() string { return b.sink.Name() }

func (b *Breaker) State() gobreaker.State { return b.cb.State() }

func (b *Breaker) Append(ctx context.Context, events []models.Event) error {
	_, err := b.cb.Execute(func() (struct{}, error) {
		return struct{}{}, b.sink.Append(ctx, events)
	})
	return err
}
