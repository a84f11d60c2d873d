package broker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xtrntr/gridledger/internal/models"
)

func statusEvent(seq uint64) models.Event {
	ev := models.StatusEvent(models.OrderStatusChanged{
		OrderID: models.OrderID(seq),
		Zone:    "north",
		From:    models.StatusPending,
		To:      models.StatusActive,
		At:      time.Now(),
	})
	ev.Sequence = seq
	return ev
}

func TestPublisher_Append(t *testing.T) {
	producer := mocks.NewSyncProducer(t, sarama.NewConfig())
	pub := NewPublisher(producer, "gridledger")

	for i := 1; i <= 2; i++ {
		want := uint64(i)
		producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
			var ev models.Event
			if err := json.Unmarshal(val, &ev); err != nil {
				return err
			}
			if ev.Sequence != want {
				return errors.New("out of order")
			}
			return nil
		})
	}

	require.NoError(t, pub.Append(context.Background(), []models.Event{statusEvent(1), statusEvent(2)}))
	require.NoError(t, pub.Close())
}

func TestPublisher_AppendFailure(t *testing.T) {
	producer := mocks.NewSyncProducer(t, sarama.NewConfig())
	pub := NewPublisher(producer, "gridledger")

	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)
	err := pub.Append(context.Background(), []models.Event{statusEvent(1)})
	assert.ErrorIs(t, err, sarama.ErrOutOfBrokers)
	require.NoError(t, pub.Close())
}

func TestPublisher_Topic(t *testing.T) {
	pub := NewPublisher(nil, "gridledger")
	assert.Equal(t, "gridledger.trade.executed", pub.Topic(models.EventTradeExecuted))
}
