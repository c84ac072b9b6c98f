// Package memory provides an in-memory fuel.Store implementation,
// used in development and tests and as the original deployment mode of
// the station (the External Ledger being the durable record).
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fuelpay/station/fuel"
)

// =============================================================================
// MEMORY STORE
// =============================================================================

// Store is a mutex-guarded in-memory fuel.Store. All writes take the
// write lock, which serializes a poll-triggered code assignment against a
// concurrent reset on the same transaction.
type Store struct {
	mu           sync.RWMutex
	settings     *fuel.Settings
	customers    []fuel.Customer
	transactions []fuel.Transaction
	otps         []fuel.OTP
	txCounter    int64
	otpCounter   int64

	now func() time.Time
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{now: time.Now}
}

// SetClock replaces the store's clock. Tests only.
func (s *Store) SetClock(now func() time.Time) { s.now = now }

// =============================================================================
// SETTINGS
// =============================================================================

func (s *Store) GetSettings(_ context.Context) (fuel.Settings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.settings == nil {
		return fuel.DefaultSettings(), nil
	}
	return *s.settings, nil
}

func (s *Store) UpdateSettings(_ context.Context, patch fuel.SettingsPatch) (fuel.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := fuel.DefaultSettings()
	if s.settings != nil {
		current = *s.settings
	}
	if patch.FuelPrice != nil {
		current.FuelPrice = *patch.FuelPrice
	}
	if patch.DiscountPerLiter != nil {
		current.DiscountPerLiter = *patch.DiscountPerLiter
	}
	s.settings = &current
	return current, nil
}

// =============================================================================
// CUSTOMERS
// =============================================================================

func (s *Store) GetOrCreateCustomer(_ context.Context, phone, vehicleNumber string) (fuel.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.customers {
		if s.customers[i].Phone == phone {
			if vehicleNumber != "" {
				s.customers[i].VehicleNumber = vehicleNumber
			}
			return s.customers[i], nil
		}
	}

	customer := fuel.Customer{
		ID:            uuid.NewString(),
		Phone:         phone,
		VehicleNumber: vehicleNumber,
		CreatedAt:     s.now(),
	}
	s.customers = append(s.customers, customer)
	return customer, nil
}

func (s *Store) ListCustomers(_ context.Context) ([]fuel.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]fuel.Customer, len(s.customers))
	copy(out, s.customers)
	return out, nil
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// CreateTransaction assigns the next monotonic ID. CreatedAt is set to now
// unless the caller supplied one (tests pin specific instants).
func (s *Store) CreateTransaction(_ context.Context, tx fuel.Transaction) (fuel.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.txCounter++
	tx.ID = s.txCounter
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = s.now()
	}
	s.transactions = append(s.transactions, tx)
	return tx, nil
}

func (s *Store) GetTransaction(_ context.Context, id int64) (fuel.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, tx := range s.transactions {
		if tx.ID == id {
			return tx, nil
		}
	}
	return fuel.Transaction{}, fuel.ErrTransactionNotFound
}

func (s *Store) UpdateTransactionStatus(_ context.Context, id int64, status fuel.Status, authCode string) (fuel.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.transactions {
		if s.transactions[i].ID == id {
			s.transactions[i].Status = status
			if authCode != "" {
				s.transactions[i].AuthCode = authCode
			}
			return s.transactions[i], nil
		}
	}
	return fuel.Transaction{}, fuel.ErrTransactionNotFound
}

func (s *Store) ListTransactions(_ context.Context, filter fuel.TxFilter) ([]fuel.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []fuel.Transaction
	dayStart := startOfDay(s.now())
	for _, tx := range s.transactions {
		if filter.CustomerID != "" && tx.CustomerID != filter.CustomerID {
			continue
		}
		if filter.TodayOnly && tx.CreatedAt.Before(dayStart) {
			continue
		}
		out = append(out, tx)
	}

	// Newest first; ID breaks ties from same-instant creation.
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// =============================================================================
// LOCAL OTP POOL
// =============================================================================

func (s *Store) NextOTP(_ context.Context) (fuel.OTP, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, otp := range s.otps {
		if !otp.Used {
			return otp, true, nil
		}
	}
	return fuel.OTP{}, false, nil
}

func (s *Store) MarkOTPUsed(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.otps {
		if s.otps[i].ID == id {
			s.otps[i].Used = true
			return nil
		}
	}
	return nil
}

func (s *Store) SeedOTPs(_ context.Context, codes []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, code := range codes {
		s.otpCounter++
		s.otps = append(s.otps, fuel.OTP{
			ID:        s.otpCounter,
			Code:      code,
			CreatedAt: s.now(),
		})
	}
	return nil
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
