package ledger

import (
	"context"

	"github.com/iliyamo/grow4bot/internal/queue"
)

// Publisher receives ledger events after their unit of work committed.
type Publisher interface {
	Publish(ctx context.Context, ev queue.LedgerEvent) error
}
