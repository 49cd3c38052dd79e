package notifier

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/viney-shih/goroutines"

	"github.com/x-xyz/bidding/base/ctx"
	"github.com/x-xyz/bidding/base/log"
	"github.com/x-xyz/bidding/base/metrics"
	"github.com/x-xyz/bidding/domain"
)

const (
	defaultExchange       = "bidding_events"
	defaultWorkers        = 8
	defaultPublishTimeout = 5 * time.Second
)

type RabbitMQCfg struct {
	URL      string
	Exchange string
	Workers  int
	Timeout  time.Duration
	Metrics  metrics.Service
}

type publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// RabbitMQNotifier publishes events on a topic exchange, the routing key is
// the event type. Publishing runs on a worker pool so callers never block on
// the broker.
type RabbitMQNotifier struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	pub      publisher
	mu       sync.Mutex
	exchange string
	timeout  time.Duration
	pool     *goroutines.Pool
	met      metrics.Service
}

func NewRabbitMQ(cfg *RabbitMQCfg) (*RabbitMQNotifier, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}

	n := newRabbitMQ(ch, cfg)
	if err := ch.ExchangeDeclare(n.exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}
	n.conn, n.ch = conn, ch
	return n, nil
}

func newRabbitMQ(pub publisher, cfg *RabbitMQCfg) *RabbitMQNotifier {
	n := &RabbitMQNotifier{
		pub:      pub,
		exchange: cfg.Exchange,
		timeout:  cfg.Timeout,
		met:      cfg.Metrics,
	}
	if n.exchange == "" {
		n.exchange = defaultExchange
	}
	if n.timeout <= 0 {
		n.timeout = defaultPublishTimeout
	}
	if n.met == nil {
		n.met = metrics.New("notifier")
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	n.pool = goroutines.NewPool(workers, goroutines.WithTaskQueueLength(1024), goroutines.WithPreAllocWorkers(workers/2))
	return n
}

func (n *RabbitMQNotifier) Notify(c ctx.Ctx, evt domain.Event) {
	body, err := json.Marshal(evt)
	if err != nil {
		c.WithFields(log.Fields{"err": err, "eventId": evt.Id}).Error("failed to json.Marshal")
		return
	}
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    evt.Id,
		Type:         string(evt.Type),
		Timestamp:    evt.OccurredAt,
		Body:         body,
	}
	// the request ctx may be gone by the time a worker picks this up
	c = ctx.Detach(c)
	if err := n.pool.ScheduleWithTimeout(time.Second, func() {
		n.publish(c, string(evt.Type), msg)
	}); err != nil {
		n.met.BumpSum("publish.dropped", 1)
		c.WithFields(log.Fields{"err": err, "eventId": evt.Id}).Error("failed to pool.ScheduleWithTimeout")
	}
}

func (n *RabbitMQNotifier) publish(c ctx.Ctx, key string, msg amqp.Publishing) {
	cont, cancel := ctx.WithTimeout(c, n.timeout)
	defer cancel()

	n.mu.Lock()
	err := n.pub.PublishWithContext(cont, n.exchange, key, false, false, msg)
	n.mu.Unlock()
	if err != nil {
		n.met.BumpSum("publish.err", 1, "type", key)
		c.WithFields(log.Fields{"err": err, "eventId": msg.MessageId}).Error("failed to PublishWithContext")
		return
	}
	n.met.BumpSum("publish", 1, "type", key)
}

// Close drains the worker pool then closes the broker connection
func (n *RabbitMQNotifier) Close() {
	n.pool.Release()
	if n.ch != nil {
		n.ch.Close()
	}
	if n.conn != nil {
		n.conn.Close()
	}
}
