package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fuelpay/station/fuel"
	"github.com/fuelpay/station/store/memory"
)

// =============================================================================
// SETTINGS
// =============================================================================

func TestSettings_DefaultsUntilUpdated(t *testing.T) {
	store := memory.New()
	ctx := context.Background()

	settings, err := store.GetSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, "100.00", settings.FuelPrice.StringFixed(2))
	assert.Equal(t, "0.70", settings.DiscountPerLiter.StringFixed(2))
}

func TestSettings_PatchKeepsUnsetFields(t *testing.T) {
	store := memory.New()
	ctx := context.Background()

	price := decimal.RequireFromString("107.31")
	updated, err := store.UpdateSettings(ctx, fuel.SettingsPatch{FuelPrice: &price})
	require.NoError(t, err)

	assert.Equal(t, "107.31", updated.FuelPrice.StringFixed(2))
	assert.Equal(t, "0.70", updated.DiscountPerLiter.StringFixed(2), "unset field keeps default")
}

// =============================================================================
// CUSTOMERS
// =============================================================================

func TestGetOrCreateCustomer_IdempotentOnPhone(t *testing.T) {
	store := memory.New()
	ctx := context.Background()

	first, err := store.GetOrCreateCustomer(ctx, "9990001111", "KA01AB1234")
	require.NoError(t, err)
	assert.NotEmpty(t, first.ID)

	second, err := store.GetOrCreateCustomer(ctx, "9990001111", "")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "KA01AB1234", second.VehicleNumber, "empty vehicle number keeps existing")

	third, err := store.GetOrCreateCustomer(ctx, "9990001111", "KA99ZZ0001")
	require.NoError(t, err)
	assert.Equal(t, first.ID, third.ID)
	assert.Equal(t, "KA99ZZ0001", third.VehicleNumber, "new vehicle number replaces")

	customers, err := store.ListCustomers(ctx)
	require.NoError(t, err)
	assert.Len(t, customers, 1)
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func newTx(customerID string) fuel.Transaction {
	return fuel.Transaction{
		CustomerID:     customerID,
		OriginalAmount: decimal.RequireFromString("500"),
		DiscountAmount: decimal.RequireFromString("3.50"),
		FinalAmount:    decimal.RequireFromString("496.50"),
		Savings:        decimal.RequireFromString("3.50"),
		PaymentMethod:  fuel.PayCash,
		AuthCode:       fuel.AuthCodePending,
		Status:         fuel.StatusPaid,
	}
}

func TestCreateTransaction_MonotonicIDs(t *testing.T) {
	store := memory.New()
	ctx := context.Background()

	tx1, err := store.CreateTransaction(ctx, newTx(""))
	require.NoError(t, err)
	tx2, err := store.CreateTransaction(ctx, newTx(""))
	require.NoError(t, err)

	assert.Equal(t, tx1.ID+1, tx2.ID)
	assert.False(t, tx1.CreatedAt.IsZero())
}

func TestListTransactions_NewestFirstPerCustomer(t *testing.T) {
	// GIVEN: two transactions for the same customer at distinct instants
	// WHEN: listing by customer
	// THEN: newest comes first

	store := memory.New()
	ctx := context.Background()
	base := time.Date(2026, time.March, 10, 9, 0, 0, 0, time.UTC)

	older := newTx("c-1")
	older.CreatedAt = base
	newer := newTx("c-1")
	newer.CreatedAt = base.Add(5 * time.Minute)
	other := newTx("c-2")
	other.CreatedAt = base.Add(10 * time.Minute)

	olderStored, err := store.CreateTransaction(ctx, older)
	require.NoError(t, err)
	newerStored, err := store.CreateTransaction(ctx, newer)
	require.NoError(t, err)
	_, err = store.CreateTransaction(ctx, other)
	require.NoError(t, err)

	txs, err := store.ListTransactions(ctx, fuel.TxFilter{CustomerID: "c-1"})
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, newerStored.ID, txs[0].ID)
	assert.Equal(t, olderStored.ID, txs[1].ID)
}

func TestListTransactions_SameInstant_HigherIDFirst(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	at := time.Date(2026, time.March, 10, 9, 0, 0, 0, time.UTC)

	a := newTx("")
	a.CreatedAt = at
	b := newTx("")
	b.CreatedAt = at

	_, err := store.CreateTransaction(ctx, a)
	require.NoError(t, err)
	second, err := store.CreateTransaction(ctx, b)
	require.NoError(t, err)

	txs, err := store.ListTransactions(ctx, fuel.TxFilter{})
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, second.ID, txs[0].ID)
}

func TestUpdateTransactionStatus(t *testing.T) {
	store := memory.New()
	ctx := context.Background()

	tx, err := store.CreateTransaction(ctx, newTx(""))
	require.NoError(t, err)

	updated, err := store.UpdateTransactionStatus(ctx, tx.ID, fuel.StatusVerified, "4321")
	require.NoError(t, err)
	assert.Equal(t, fuel.StatusVerified, updated.Status)
	assert.Equal(t, "4321", updated.AuthCode)

	// Empty auth code leaves the stored code untouched.
	updated, err = store.UpdateTransactionStatus(ctx, tx.ID, fuel.StatusPaid, "")
	require.NoError(t, err)
	assert.Equal(t, "4321", updated.AuthCode)

	_, err = store.UpdateTransactionStatus(ctx, 404, fuel.StatusPaid, "")
	assert.ErrorIs(t, err, fuel.ErrTransactionNotFound)
}

func TestGetTransaction_NotFound(t *testing.T) {
	store := memory.New()
	_, err := store.GetTransaction(context.Background(), 404)
	assert.ErrorIs(t, err, fuel.ErrTransactionNotFound)
}

// =============================================================================
// OTP POOL
// =============================================================================

func TestOTPPool_FIFOSingleUse(t *testing.T) {
	store := memory.New()
	ctx := context.Background()

	_, ok, err := store.NextOTP(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "empty pool")

	require.NoError(t, store.SeedOTPs(ctx, []string{"1234", "5678"}))

	otp, ok, err := store.NextOTP(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "1234", otp.Code)

	require.NoError(t, store.MarkOTPUsed(ctx, otp.ID))

	otp, ok, err = store.NextOTP(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "5678", otp.Code)
}
