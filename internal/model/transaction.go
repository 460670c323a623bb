package model

import "time"

// TransactionType enumerates the kinds of balance movements.
type TransactionType string

const (
    TxTopUp    TransactionType = "topup"
    TxPurchase TransactionType = "purchase"
    TxRefund   TransactionType = "refund"
    TxAdminAdd TransactionType = "admin_add"
)

// Transaction is an immutable ledger entry.  Amount is always positive; the
// type determines whether the balance went up or down.  Reference is an
// optional idempotency key (unique when set), e.g. "refund:42".
type Transaction struct {
    ID          uint64          `json:"id"`                  // transactions.id
    UserID      uint64          `json:"userId"`              // transactions.user_id
    Type        TransactionType `json:"type"`                // transactions.type
    Amount      Cents           `json:"amount"`              // transactions.amount_cents
    Description string          `json:"description"`         // transactions.description
    Reference   *string         `json:"reference,omitempty"` // transactions.reference (nullable)
    CreatedAt   time.Time       `json:"createdAt"`           // transactions.created_at
}

// Credit reports whether the transaction increases the balance.
func (t TransactionType) Credit() bool { return t != TxPurchase }
