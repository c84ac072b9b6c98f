/*
Package fuel provides the core domain for the fuel-station point of sale.

PURPOSE:
  This package contains the records and algorithms the rest of the system is
  built around: pricing settings, customers, discounted transactions, the
  operator-entered OTP records that authorize a fuel redemption, and the
  reconciliation protocol that ties the two together.

KEY CONCEPTS IN THIS FILE (types.go):
  - Settings: singleton pricing configuration (fuel price, discount per liter)
  - Customer: identified by phone number, text ID
  - Transaction: a paid purchase awaiting an authorization code
  - OTPRecord: an operator-entered code/amount pair read from the ledger
  - OTP: a single-use code from the local fallback pool

DESIGN PRINCIPLES:
  1. Precision: all money and volume uses decimal.Decimal, never float64
  2. The sentinel "PENDING" marks a transaction whose code is unresolved
  3. Transactions are never deleted; only status and auth code mutate
  4. CreatedAt is the authoritative ordering key for matching and listing

SEE ALSO:
  - calc.go: discount quote computation
  - reconcile.go: the poll/reset protocol
  - store.go: persistence interface
*/
package fuel

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINELS AND ENUMERATIONS
// =============================================================================

// AuthCodePending marks a transaction whose authorization code has not yet
// been matched to an operator-entered OTP.
const AuthCodePending = "PENDING"

// PaymentMethod is how the customer paid.
type PaymentMethod string

const (
	PayCash       PaymentMethod = "cash"
	PayCard       PaymentMethod = "card"
	PayUPI        PaymentMethod = "upi"
	PayNetBanking PaymentMethod = "net_banking"
)

// Valid reports whether m is one of the accepted payment methods.
func (m PaymentMethod) Valid() bool {
	switch m {
	case PayCash, PayCard, PayUPI, PayNetBanking:
		return true
	}
	return false
}

// Status is the lifecycle state of a transaction.
type Status string

const (
	StatusPending  Status = "pending"
	StatusPaid     Status = "paid"
	StatusVerified Status = "verified"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusPaid, StatusVerified:
		return true
	}
	return false
}

// =============================================================================
// SETTINGS - Singleton pricing configuration
// =============================================================================

// Settings holds the station's current pricing. There is exactly one row;
// it is created with defaults at startup and updated in place by an admin.
type Settings struct {
	FuelPrice        decimal.Decimal // currency per liter, must stay positive
	DiscountPerLiter decimal.Decimal // non-negative
}

// DefaultSettings are applied when no settings have been stored yet.
func DefaultSettings() Settings {
	return Settings{
		FuelPrice:        decimal.RequireFromString("100.00"),
		DiscountPerLiter: decimal.RequireFromString("0.70"),
	}
}

// SettingsPatch is a partial settings update. Nil fields keep current values.
type SettingsPatch struct {
	FuelPrice        *decimal.Decimal
	DiscountPerLiter *decimal.Decimal
}

// =============================================================================
// CUSTOMER
// =============================================================================

// Customer is identified by phone number. IDs are text (UUIDs locally;
// ledger-assigned IDs are adopted verbatim when a customer is found there).
type Customer struct {
	ID            string
	Phone         string
	VehicleNumber string
	CreatedAt     time.Time
}

// =============================================================================
// TRANSACTION
// =============================================================================

// Transaction is a paid fuel purchase. The store assigns a monotonic ID and
// CreatedAt; AuthCode starts at the sentinel and is resolved by the
// reconciler. Transactions are never deleted.
type Transaction struct {
	ID             int64
	CustomerID     string // empty when the purchase was anonymous; weak ref
	OriginalAmount decimal.Decimal
	DiscountAmount decimal.Decimal
	FinalAmount    decimal.Decimal
	Savings        decimal.Decimal
	PaymentMethod  PaymentMethod
	AuthCode       string
	Status         Status
	TimestampStr   string // human-readable mirror of CreatedAt for the ledger
	CreatedAt      time.Time
}

// Resolved reports whether the transaction has a real authorization code.
func (t Transaction) Resolved() bool {
	return t.AuthCode != "" && t.AuthCode != AuthCodePending
}

// TimestampLayout is the human-readable form mirrored to the ledger,
// matching what the station spreadsheet displays.
const TimestampLayout = "2006-01-02 15:04:05"

// =============================================================================
// OTP RECORDS
// =============================================================================

// OTPRecord is an operator-entered code/amount pair read from the External
// Ledger. Records are append-only from the engine's perspective: they are
// read and filtered, never mutated.
type OTPRecord struct {
	Timestamp time.Time
	Code      string
	Amount    decimal.Decimal
}

// OTP is a single-use code from the local fallback pool, used when no
// External Ledger is configured.
type OTP struct {
	ID        int64
	Code      string
	Used      bool
	CreatedAt time.Time
}

// =============================================================================
// TRANSACTION FILTERS
// =============================================================================

// TxFilter narrows a transaction listing. The zero value lists everything.
type TxFilter struct {
	CustomerID string // only this customer's transactions
	TodayOnly  bool   // only transactions created today (local time)
}
