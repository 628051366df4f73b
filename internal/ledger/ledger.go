// Package ledger holds the durable points balances. Everything the rest of
// the server keeps in memory is a cache over this store: callers refresh
// before any balance-gated check and write through immediately after every
// change.
package ledger

import (
	"context"
	"errors"
)

// ErrNoAccount is returned when the requested account has never been created.
var ErrNoAccount = errors.New("account not found")

// Store is the contract against the durable keyed balance store.
type Store interface {
	// Ensure returns the current balance for the account, creating it with
	// the starting balance when it has never been seen before.
	Ensure(ctx context.Context, accountID string, starting int64) (int64, error)
	// Balance reads the durable balance for the account.
	Balance(ctx context.Context, accountID string) (int64, error)
	// SetBalance overwrites the durable balance for the account.
	SetBalance(ctx context.Context, accountID string, value int64) error
	// Close releases any underlying resources.
	Close() error
}
