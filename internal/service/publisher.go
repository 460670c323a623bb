package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/iliyamo/grow4bot/internal/queue"
)

// defaultDialTimeout caps the TCP connect and AMQP handshake of a publish.
const defaultDialTimeout = 2 * time.Second

// AMQPPublisher publishes ledger events to the durable ledger.events queue.
// Every Publish dials its own connection so a broker outage never leaves a
// broken shared channel behind; the ledger publishes once per committed
// operation, which keeps the dial rate low.
type AMQPPublisher struct {
	url         string
	queue       string
	dialTimeout time.Duration
	log         *zap.Logger
}

// NewAMQPPublisher returns a publisher for the broker at url.
func NewAMQPPublisher(url string, log *zap.Logger) *AMQPPublisher {
	if log == nil {
		log = zap.NewNop()
	}
	return &AMQPPublisher{url: url, queue: queue.LedgerQueueName, dialTimeout: defaultDialTimeout, log: log}
}

// dial connects within the smaller of the dial timeout and the time left
// on ctx; amqp.Dial alone would wait up to 30s on an unreachable broker.
func (p *AMQPPublisher) dial(ctx context.Context) (*amqp.Connection, error) {
	timeout := p.dialTimeout
	if dl, ok := ctx.Deadline(); ok {
		if left := time.Until(dl); left < timeout {
			timeout = left
		}
	}
	if timeout <= 0 {
		return nil, context.DeadlineExceeded
	}
	return amqp.DialConfig(p.url, amqp.Config{
		Heartbeat: 10 * time.Second,
		Locale:    "en_US",
		Dial:      amqp.DefaultDial(timeout),
	})
}

// Publish sends ev as a persistent JSON message.  Errors are returned, not
// logged; the caller decides how loud a lost event is.
func (p *AMQPPublisher) Publish(ctx context.Context, ev queue.LedgerEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	conn, err := p.dial(ctx)
	if err != nil {
		return fmt.Errorf("rabbitmq dial: %w", err)
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("rabbitmq channel: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if _, err := ch.QueueDeclare(p.queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue %s: %w", p.queue, err)
	}

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Type:         ev.Kind,
		Body:         body,
	}
	if err := ch.PublishWithContext(ctx, "", p.queue, false, false, msg); err != nil {
		return fmt.Errorf("publish %s: %w", ev.Kind, err)
	}
	p.log.Debug("ledger event published", zap.String("kind", ev.Kind), zap.Uint64("user_id", ev.UserID))
	return nil
}
