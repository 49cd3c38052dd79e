package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/x-xyz/bidding/base/ctx"
	"github.com/x-xyz/bidding/base/metrics"
	"github.com/x-xyz/bidding/domain"
	"github.com/x-xyz/bidding/domain/mocks"
)

type fakePublisher struct {
	mu   sync.Mutex
	keys []string
	msgs []amqp.Publishing
	err  error
}

func (f *fakePublisher) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.keys = append(f.keys, exchange+"/"+key)
	f.msgs = append(f.msgs, msg)
	return nil
}

func (f *fakePublisher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.msgs)
}

func event(typ domain.EventType) domain.Event {
	return domain.Event{
		Id:          domain.NewId(),
		Type:        typ,
		AggregateId: "card-1",
		Recipients:  []string{"homeowner-1"},
		Payload:     map[string]interface{}{"bidId": "b1"},
		OccurredAt:  time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
	}
}

func TestRabbitMQPublishesByEventType(t *testing.T) {
	pub := &fakePublisher{}
	n := newRabbitMQ(pub, &RabbitMQCfg{Metrics: metrics.New("test", metrics.WithLogClient())})
	defer n.pool.Release()

	evt := event(domain.EventAcceptancePaid)
	n.Notify(ctx.Background(), evt)

	require.Eventually(t, func() bool { return pub.count() == 1 }, time.Second, 5*time.Millisecond)
	pub.mu.Lock()
	defer pub.mu.Unlock()
	require.Equal(t, "bidding_events/acceptance.paid", pub.keys[0])
	msg := pub.msgs[0]
	require.Equal(t, evt.Id, msg.MessageId)
	require.Equal(t, amqp.Persistent, msg.DeliveryMode)

	got := domain.Event{}
	require.NoError(t, json.Unmarshal(msg.Body, &got))
	require.Equal(t, evt.Type, got.Type)
	require.Equal(t, evt.AggregateId, got.AggregateId)
}

func TestRabbitMQNotifyOutlivesRequestCtx(t *testing.T) {
	pub := &fakePublisher{}
	n := newRabbitMQ(pub, &RabbitMQCfg{Exchange: "x", Metrics: metrics.New("test", metrics.WithLogClient())})
	defer n.pool.Release()

	c, cancel := ctx.WithCancel(ctx.Background())
	n.Notify(c, event(domain.EventBidSubmitted))
	cancel()

	require.Eventually(t, func() bool { return pub.count() == 1 }, time.Second, 5*time.Millisecond)
}

func TestRabbitMQFailureDoesNotPanic(t *testing.T) {
	pub := &fakePublisher{err: errors.New("channel closed")}
	n := newRabbitMQ(pub, &RabbitMQCfg{Metrics: metrics.New("test", metrics.WithLogClient())})
	n.Notify(ctx.Background(), event(domain.EventBidSubmitted))
	n.pool.Release()
	require.Equal(t, 0, pub.count())
}

func TestMulti(t *testing.T) {
	a, b := &mocks.Notifier{}, &mocks.Notifier{}
	evt := event(domain.EventBidSubmitted)
	a.On("Notify", mock.Anything, evt).Return().Once()
	b.On("Notify", mock.Anything, evt).Return().Once()

	NewMulti(a, NewLog(), b).Notify(ctx.Background(), evt)
	a.AssertExpectations(t)
	b.AssertExpectations(t)
}
