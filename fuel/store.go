/*
store.go - Persistence interface for the station's local records

PURPOSE:
  Defines the interface between the domain logic and storage. The local
  store is the single source of truth for payment status; the External
  Ledger is only a secondary mirror and the source of operator-entered
  OTP codes.

KEY CONTRACTS:
  - CreateTransaction assigns a monotonic id and CreatedAt; transactions
    are never deleted afterwards.
  - ListTransactions returns newest-first by CreatedAt (id descending on
    ties), so "the most recent purchase" is always element zero.
  - GetOrCreateCustomer is idempotent on phone number.
  - Writes per transaction id are serialized by the implementation, so a
    poll-triggered code assignment and a concurrent reset cannot lose
    updates.

IMPLEMENTATIONS:
  - store/memory: in-memory, for development and tests
  - store/sqlite: SQLite-backed, for a real station deployment
  Selected at startup; everything above depends only on this interface.

SEE ALSO:
  - reconcile.go: the main consumer
  - store/memory/memory.go, store/sqlite/sqlite.go
*/
package fuel

import "context"

// Store is the authoritative local record of settings, customers,
// transactions and the fallback OTP pool.
type Store interface {
	// GetSettings returns current pricing, bootstrapping defaults when
	// nothing has been stored yet.
	GetSettings(ctx context.Context) (Settings, error)

	// UpdateSettings applies a partial update and returns the result.
	// Nil patch fields keep their current values.
	UpdateSettings(ctx context.Context, patch SettingsPatch) (Settings, error)

	// GetOrCreateCustomer looks up a customer by phone, creating one if
	// absent. A new non-empty vehicleNumber replaces the stored one.
	GetOrCreateCustomer(ctx context.Context, phone, vehicleNumber string) (Customer, error)

	// ListCustomers returns all customers.
	ListCustomers(ctx context.Context) ([]Customer, error)

	// CreateTransaction persists tx with a fresh monotonic ID, CreatedAt
	// set to now, and returns the stored record.
	CreateTransaction(ctx context.Context, tx Transaction) (Transaction, error)

	// GetTransaction returns the record or ErrTransactionNotFound.
	GetTransaction(ctx context.Context, id int64) (Transaction, error)

	// UpdateTransactionStatus mutates status (and auth code when non-empty)
	// in place. Returns the updated record or ErrTransactionNotFound.
	UpdateTransactionStatus(ctx context.Context, id int64, status Status, authCode string) (Transaction, error)

	// ListTransactions returns transactions newest-first by CreatedAt,
	// optionally narrowed by filter.
	ListTransactions(ctx context.Context, filter TxFilter) ([]Transaction, error)

	// NextOTP returns the first unused code from the local pool, or
	// ok=false when the pool is exhausted.
	NextOTP(ctx context.Context) (OTP, bool, error)

	// MarkOTPUsed consumes a pool code.
	MarkOTPUsed(ctx context.Context, id int64) error

	// SeedOTPs appends fresh codes to the local pool.
	SeedOTPs(ctx context.Context, codes []string) error
}
