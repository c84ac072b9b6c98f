/*
reconcile.go - The authorization-code reconciliation protocol

PURPOSE:
  Matches a pending transaction to a later-arriving, operator-entered OTP
  record from the External Ledger. Owns the PENDING -> resolved transition
  and the bounded reset policy.

THE PROTOCOL:
  A transaction is created locally with the "PENDING" sentinel and mirrored
  to the ledger on a best-effort basis. The customer's client then polls:

    1. Resolved already?  Return the code. No ledger call is made.
    2. Fetch all OTP records from the ledger (bounded timeout).
    3. Keep records strictly newer than the transaction's CreatedAt. This
       guards against redeeming a stale code entered before this purchase.
    4. Pick the latest of the survivors (later row wins a timestamp tie,
       since the ledger preserves append order as read order).
    5. Assign the code atomically; return it.
    6. No survivor, or any ledger failure: return the sentinel and let the
       client poll again after a short delay.

  A reset reverts the code to the sentinel so polling can re-match. Resets
  are bounded: after MaxResets the engine refuses with ErrRetryLimitExceeded
  and the customer must restart the flow with the attendant.

KNOWN GAP:
  Reset deliberately does NOT advance CreatedAt. If no newer OTP has been
  entered since, the next poll re-matches the same stale code. This mirrors
  the station's established flow and is pinned by a test; changing it is a
  product decision, not a refactor.

LOCAL-FALLBACK MODE:
  With no ledger configured the engine degrades to a pre-seeded pool of
  single-use codes and assigns one synchronously at creation, refilling the
  pool with random 4-digit codes when exhausted.

SEE ALSO:
  - store.go: the local store interface
  - ledger/client.go: the External Ledger client
*/
package fuel

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"time"
)

// =============================================================================
// LEDGER - What the reconciler needs from the External Ledger
// =============================================================================

// Ledger is the engine's view of the external spreadsheet-like store.
// It is append-and-read only; no update or delete exists and the engine
// must never assume one does.
type Ledger interface {
	// OTPRecords returns every operator-entered OTP row, in append order.
	OTPRecords(ctx context.Context) ([]OTPRecord, error)

	// AppendCustomer mirrors a customer row.
	AppendCustomer(ctx context.Context, c Customer) error

	// AppendTransaction mirrors a transaction row.
	AppendTransaction(ctx context.Context, tx Transaction) error

	// CustomersByPhone returns ledger customer rows matching a phone.
	CustomersByPhone(ctx context.Context, phone string) ([]Customer, error)

	// TransactionsByCustomer returns ledger transaction rows for a customer.
	TransactionsByCustomer(ctx context.Context, customerID string) ([]Transaction, error)
}

// =============================================================================
// RECONCILER
// =============================================================================

// DefaultMaxResets bounds how many times a transaction's auth code may be
// reset before the flow must restart with station staff.
const DefaultMaxResets = 3

// mirrorTimeout bounds the fire-and-forget mirror writes, which run outside
// the request's context.
const mirrorTimeout = 15 * time.Second

// Reconciler owns the pending -> resolved state transition for transaction
// auth codes. It depends only on the Store interface; the ledger is
// optional and its absence selects local-fallback mode.
type Reconciler struct {
	store  Store
	ledger Ledger // nil = local-fallback mode

	maxResets int
	now       func() time.Time

	mu     sync.Mutex
	resets map[int64]int // reset attempts per transaction id
}

// NewReconciler creates a reconciler over the given store. ledger may be
// nil, which enables the local OTP pool fallback.
func NewReconciler(store Store, ledger Ledger) *Reconciler {
	return &Reconciler{
		store:     store,
		ledger:    ledger,
		maxResets: DefaultMaxResets,
		now:       time.Now,
		resets:    make(map[int64]int),
	}
}

// MaxResets returns the configured reset bound.
func (r *Reconciler) MaxResets() int { return r.maxResets }

// =============================================================================
// TRANSACTION CREATION
// =============================================================================

// Create validates and persists a new transaction. The local record is
// authoritative: the mirror write to the ledger is scheduled fire-and-forget
// and its failure is logged, never surfaced. In local-fallback mode the
// auth code is assigned synchronously from the OTP pool instead.
func (r *Reconciler) Create(ctx context.Context, tx Transaction) (Transaction, error) {
	if !tx.PaymentMethod.Valid() {
		return Transaction{}, fmt.Errorf("%w: %q", ErrInvalidPaymentMethod, tx.PaymentMethod)
	}
	if !tx.OriginalAmount.IsPositive() {
		return Transaction{}, ErrInvalidAmount
	}
	if !tx.OriginalAmount.Sub(tx.DiscountAmount).Equal(tx.FinalAmount) {
		return Transaction{}, ErrAmountMismatch
	}

	tx.AuthCode = AuthCodePending
	tx.Status = StatusPaid
	tx.Savings = tx.DiscountAmount
	tx.TimestampStr = r.now().Format(TimestampLayout)

	created, err := r.store.CreateTransaction(ctx, tx)
	if err != nil {
		return Transaction{}, err
	}

	if r.ledger == nil {
		return r.assignLocalCode(ctx, created)
	}

	r.mirror("transaction", func(mctx context.Context) error {
		return r.ledger.AppendTransaction(mctx, created)
	})
	return created, nil
}

// assignLocalCode pops the next unused pool code and assigns it, refilling
// the pool when exhausted. Runs synchronously at creation time.
func (r *Reconciler) assignLocalCode(ctx context.Context, tx Transaction) (Transaction, error) {
	otp, ok, err := r.store.NextOTP(ctx)
	if err != nil {
		return Transaction{}, err
	}
	if !ok {
		if err := r.store.SeedOTPs(ctx, randomCodes(5)); err != nil {
			return Transaction{}, err
		}
		otp, ok, err = r.store.NextOTP(ctx)
		if err != nil || !ok {
			return Transaction{}, fmt.Errorf("otp pool refill failed: %w", err)
		}
	}
	if err := r.store.MarkOTPUsed(ctx, otp.ID); err != nil {
		return Transaction{}, err
	}
	return r.store.UpdateTransactionStatus(ctx, tx.ID, StatusPaid, otp.Code)
}

// mirror runs a best-effort ledger write in the background. Failure must
// never roll back the local record or block the caller.
func (r *Reconciler) mirror(kind string, fn func(context.Context) error) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			log.Printf("ledger mirror (%s) failed: %v", kind, err)
		}
	}()
}

// =============================================================================
// POLL
// =============================================================================

// PollAuthCode attempts to resolve a transaction's authorization code from
// the External Ledger. Returns the resolved code, or the "PENDING" sentinel
// when no candidate exists yet; the caller polls again after a short delay.
// Ledger errors and timeouts are treated identically to "no candidate".
func (r *Reconciler) PollAuthCode(ctx context.Context, id int64) (string, error) {
	tx, err := r.store.GetTransaction(ctx, id)
	if err != nil {
		return "", err
	}

	// Fast path: already resolved. No external call.
	if tx.Resolved() {
		return tx.AuthCode, nil
	}

	if r.ledger == nil {
		return AuthCodePending, nil
	}

	records, err := r.ledger.OTPRecords(ctx)
	if err != nil {
		log.Printf("otp fetch failed for transaction %d: %v", id, err)
		return AuthCodePending, nil
	}

	candidate, ok := latestAfter(records, tx.CreatedAt)
	if !ok {
		return AuthCodePending, nil
	}

	updated, err := r.store.UpdateTransactionStatus(ctx, id, StatusPaid, candidate.Code)
	if err != nil {
		return "", err
	}
	return updated.AuthCode, nil
}

// latestAfter picks the newest record strictly later than cutoff. A later
// row wins a timestamp tie, matching the ledger's append order.
func latestAfter(records []OTPRecord, cutoff time.Time) (OTPRecord, bool) {
	var best OTPRecord
	found := false
	for _, rec := range records {
		if rec.Code == "" || !rec.Timestamp.After(cutoff) {
			continue
		}
		if !found || !rec.Timestamp.Before(best.Timestamp) {
			best = rec
			found = true
		}
	}
	return best, found
}

// =============================================================================
// RESET
// =============================================================================

// ResetAuthCode reverts a transaction's auth code to the sentinel so
// polling can re-match. Bounded to MaxResets attempts per transaction;
// beyond that it returns ErrRetryLimitExceeded and the customer must
// restart the flow with the attendant.
//
// The transaction's CreatedAt is intentionally left untouched; see the
// KNOWN GAP note in the file header.
func (r *Reconciler) ResetAuthCode(ctx context.Context, id int64) (Transaction, error) {
	tx, err := r.store.GetTransaction(ctx, id)
	if err != nil {
		return Transaction{}, err
	}

	r.mu.Lock()
	attempts := r.resets[id]
	if attempts >= r.maxResets {
		r.mu.Unlock()
		return Transaction{}, &RetryLimitError{TransactionID: id, Attempts: attempts, Limit: r.maxResets}
	}
	r.resets[id] = attempts + 1
	r.mu.Unlock()

	return r.store.UpdateTransactionStatus(ctx, id, tx.Status, AuthCodePending)
}

// =============================================================================
// QUERIES AND SUPPORTING OPERATIONS
// =============================================================================

// ListTransactions returns transactions newest-first. When a customer
// filter is given and the ledger holds a non-empty mirrored copy for that
// customer, the ledger copy is preferred; the local set is the fallback.
func (r *Reconciler) ListTransactions(ctx context.Context, filter TxFilter) ([]Transaction, error) {
	if filter.CustomerID != "" && r.ledger != nil {
		mirrored, err := r.ledger.TransactionsByCustomer(ctx, filter.CustomerID)
		if err != nil {
			log.Printf("ledger transaction fetch failed for customer %s: %v", filter.CustomerID, err)
		} else if len(mirrored) > 0 {
			return mirrored, nil
		}
	}
	return r.store.ListTransactions(ctx, filter)
}

// Login finds or creates a customer by phone. The ledger is consulted
// first so a customer enrolled at another terminal keeps their ID; misses
// fall back to local creation with a fire-and-forget mirror.
func (r *Reconciler) Login(ctx context.Context, phone, vehicleNumber string) (Customer, error) {
	if r.ledger != nil {
		matches, err := r.ledger.CustomersByPhone(ctx, phone)
		if err != nil {
			log.Printf("ledger customer fetch failed for %s: %v", phone, err)
		} else if len(matches) > 0 {
			existing := matches[0]
			vn := vehicleNumber
			if vn == "" {
				vn = existing.VehicleNumber
			}
			customer, err := r.store.GetOrCreateCustomer(ctx, existing.Phone, vn)
			if err != nil {
				return Customer{}, err
			}
			customer.ID = existing.ID
			return customer, nil
		}
	}

	customer, err := r.store.GetOrCreateCustomer(ctx, phone, vehicleNumber)
	if err != nil {
		return Customer{}, err
	}
	if r.ledger != nil {
		c := customer
		r.mirror("customer", func(mctx context.Context) error {
			return r.ledger.AppendCustomer(mctx, c)
		})
	}
	return customer, nil
}

// SyncAll pushes every local customer and transaction to the ledger.
// Admin-triggered; returns the first hard failure.
func (r *Reconciler) SyncAll(ctx context.Context) error {
	if r.ledger == nil {
		return ErrLedgerUnavailable
	}

	customers, err := r.store.ListCustomers(ctx)
	if err != nil {
		return err
	}
	for _, c := range customers {
		if err := r.ledger.AppendCustomer(ctx, c); err != nil {
			return fmt.Errorf("sync customer %s: %w", c.ID, err)
		}
	}

	txs, err := r.store.ListTransactions(ctx, TxFilter{})
	if err != nil {
		return err
	}
	for _, tx := range txs {
		if err := r.ledger.AppendTransaction(ctx, tx); err != nil {
			return fmt.Errorf("sync transaction %d: %w", tx.ID, err)
		}
	}
	return nil
}

// RefreshOTPs seeds two fresh random codes into the local pool.
func (r *Reconciler) RefreshOTPs(ctx context.Context) error {
	return r.store.SeedOTPs(ctx, randomCodes(2))
}

// randomCodes generates n random 4-digit codes.
func randomCodes(n int) []string {
	codes := make([]string, n)
	for i := range codes {
		codes[i] = fmt.Sprintf("%04d", 1000+rand.Intn(9000))
	}
	return codes
}
