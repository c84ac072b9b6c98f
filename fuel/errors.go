/*
errors.go - Centralized error types for the fuel domain

PURPOSE:
  All domain error types in one place for consistency and discoverability.
  Handlers map these to HTTP statuses; nothing below the API layer knows
  about status codes.

ERROR CATEGORIES:
  1. Validation errors - bad pricing, bad amounts, bad payment methods
  2. Lookup errors     - missing transactions or customers
  3. Protocol errors   - reset retry limit exhausted

USAGE:
  if errors.Is(err, fuel.ErrRetryLimitExceeded) {
      // tell the customer to restart with the attendant
  }

SEE ALSO:
  - reconcile.go: returns ErrRetryLimitExceeded
  - api/handlers.go: maps errors to HTTP statuses
*/
package fuel

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidFuelPrice is returned when a quote is requested while the
	// configured fuel price is not positive. The quote is refused.
	ErrInvalidFuelPrice = errors.New("invalid fuel price")

	// ErrInvalidAmount is returned for non-positive purchase amounts.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrInvalidPaymentMethod is returned for unknown payment methods.
	ErrInvalidPaymentMethod = errors.New("invalid payment method")

	// ErrTransactionNotFound is returned when a transaction id is unknown.
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrCustomerNotFound is returned when a customer lookup misses.
	ErrCustomerNotFound = errors.New("customer not found")

	// ErrRetryLimitExceeded is returned when a transaction's auth code has
	// been reset the maximum number of times. The flow must be restarted
	// with station staff; callers must not keep retrying.
	ErrRetryLimitExceeded = errors.New("retry limit exceeded")

	// ErrAmountMismatch is returned when a submitted transaction's amounts
	// do not satisfy final = original - discount.
	ErrAmountMismatch = errors.New("amount mismatch")

	// ErrLedgerUnavailable is returned by ledger operations that require a
	// configured External Ledger when none is present.
	ErrLedgerUnavailable = errors.New("external ledger not configured")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// RetryLimitError reports how many resets a transaction has consumed.
type RetryLimitError struct {
	TransactionID int64
	Attempts      int
	Limit         int
}

func (e *RetryLimitError) Error() string {
	return fmt.Sprintf("transaction %d: %d of %d reset attempts used, re-initiate with the attendant",
		e.TransactionID, e.Attempts, e.Limit)
}

func (e *RetryLimitError) Unwrap() error {
	return ErrRetryLimitExceeded
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrTransactionNotFound) ||
		errors.Is(err, ErrCustomerNotFound)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidFuelPrice) ||
		errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInvalidPaymentMethod) ||
		errors.Is(err, ErrAmountMismatch)
}
