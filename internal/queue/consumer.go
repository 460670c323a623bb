package queue

import (
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "time"

    amqp "github.com/rabbitmq/amqp091-go"
    "go.uber.org/zap"
)

// AuditConsumer reads ledger.events and appends one structured record per
// event to the audit logger.  It reconnects with exponential backoff until
// its context is cancelled.
type AuditConsumer struct {
    url   string
    log   *zap.Logger // operational messages
    audit *zap.Logger // the audit trail itself
}

// NewAuditConsumer returns a consumer for the broker at url.
func NewAuditConsumer(url string, log, audit *zap.Logger) *AuditConsumer {
    if log == nil {
        log = zap.NewNop()
    }
    return &AuditConsumer{url: url, log: log, audit: audit}
}

// Run blocks until ctx is cancelled and returns ctx.Err().
func (c *AuditConsumer) Run(ctx context.Context) error {
    backoff := time.Second
    for {
        conn, err := amqp.Dial(c.url)
        if err != nil {
            c.log.Warn("audit consumer: dial failed", zap.Error(err), zap.Duration("retry_in", backoff))
            if !sleep(ctx, backoff) {
                return ctx.Err()
            }
            if backoff < 30*time.Second {
                backoff *= 2
            }
            continue
        }
        backoff = time.Second

        err = c.consume(ctx, conn)
        _ = conn.Close()
        if ctx.Err() != nil {
            return ctx.Err()
        }
        c.log.Warn("audit consumer: consume loop ended, reconnecting", zap.Error(err))
        if !sleep(ctx, 2*time.Second) {
            return ctx.Err()
        }
    }
}

func (c *AuditConsumer) consume(ctx context.Context, conn *amqp.Connection) error {
    ch, err := conn.Channel()
    if err != nil {
        return fmt.Errorf("channel open: %w", err)
    }
    defer func() { _ = ch.Close() }()

    if err := ch.Qos(50, 0, false); err != nil {
        c.log.Warn("audit consumer: set QoS failed", zap.Error(err))
    }
    if _, err := ch.QueueDeclare(LedgerQueueName, true, false, false, false, nil); err != nil {
        return fmt.Errorf("queue declare: %w", err)
    }
    msgs, err := ch.Consume(LedgerQueueName, "", false, false, false, false, nil)
    if err != nil {
        return fmt.Errorf("queue consume: %w", err)
    }

    for {
        select {
        case <-ctx.Done():
            return ctx.Err()
        case d, ok := <-msgs:
            if !ok {
                return errors.New("deliveries channel closed")
            }
            if err := c.Handle(d.Body); err != nil {
                c.log.Warn("audit consumer: rejecting message", zap.Error(err))
                _ = d.Nack(false, false) // no requeue: a bad payload would loop forever
                continue
            }
            _ = d.Ack(false)
        }
    }
}

// Handle decodes one message body and writes it to the audit trail.
func (c *AuditConsumer) Handle(body []byte) error {
    var ev LedgerEvent
    if err := json.Unmarshal(body, &ev); err != nil {
        return fmt.Errorf("unmarshal: %w", err)
    }
    if ev.Kind == "" {
        return errors.New("event without kind")
    }
    fields := []zap.Field{
        zap.String("kind", ev.Kind),
        zap.Uint64("user_id", ev.UserID),
        zap.Int64("balance_cents", ev.BalanceCents),
        zap.Time("occurred_at", ev.OccurredAt),
    }
    if ev.ActorID != 0 {
        fields = append(fields, zap.Uint64("actor_id", ev.ActorID))
    }
    if ev.ProductID != 0 {
        fields = append(fields, zap.Uint64("product_id", ev.ProductID), zap.String("product_name", ev.ProductName))
    }
    if ev.PurchaseID != 0 {
        fields = append(fields, zap.Uint64("purchase_id", ev.PurchaseID))
    }
    if ev.TransactionID != 0 {
        fields = append(fields, zap.Uint64("transaction_id", ev.TransactionID))
    }
    if ev.AmountCents != 0 {
        fields = append(fields, zap.Int64("amount_cents", ev.AmountCents))
    }
    c.audit.Info("ledger event", fields...)
    return nil
}

func sleep(ctx context.Context, d time.Duration) bool {
    t := time.NewTimer(d)
    defer t.Stop()
    select {
    case <-ctx.Done():
        return false
    case <-t.C:
        return true
    }
}
