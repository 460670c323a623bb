// Package queue defines message payloads exchanged over the message broker
// and the consumer that turns them into an audit trail.
package queue

import "time"

// LedgerQueueName is the durable queue ledger events are published to.
const LedgerQueueName = "ledger.events"

// Event kinds published by the ledger.
const (
    KindPurchaseCompleted = "purchase.completed"
    KindWalletTopUp       = "wallet.topup"
    KindWalletAdminAdd    = "wallet.admin_add"
    KindWalletRefund      = "wallet.refund"
    KindUserBanned        = "user.banned"
    KindUserUnbanned      = "user.unbanned"
)

// LedgerEvent is published after a ledger unit of work committed.  It
// carries enough information for downstream consumers to log, notify or
// feed analytics without querying the primary database.  The purchased
// stock item is deliberately absent.
type LedgerEvent struct {
    Kind          string    `json:"kind"`
    UserID        uint64    `json:"user_id"`
    ActorID       uint64    `json:"actor_id,omitempty"`
    ProductID     uint64    `json:"product_id,omitempty"`
    ProductName   string    `json:"product_name,omitempty"`
    PurchaseID    uint64    `json:"purchase_id,omitempty"`
    TransactionID uint64    `json:"transaction_id,omitempty"`
    AmountCents   int64     `json:"amount_cents,omitempty"`
    BalanceCents  int64     `json:"balance_cents"`
    OccurredAt    time.Time `json:"occurred_at"`
}
