/*
reconcile_test.go - Unit tests for the auth-code reconciliation protocol

Tests pin the protocol's contract:
- resolved transactions never trigger a ledger fetch (call counting)
- only OTP records strictly newer than the transaction match
- the latest valid record wins
- resets are bounded and do not advance the matching cutoff (known gap)
- local-fallback mode assigns pool codes synchronously at creation
*/
package fuel_test

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fuelpay/station/fuel"
	"github.com/fuelpay/station/store/memory"
)

// =============================================================================
// TEST SETUP
// =============================================================================

// fakeLedger is a scripted fuel.Ledger that counts calls.
type fakeLedger struct {
	mu sync.Mutex

	records  []fuel.OTPRecord
	fetchErr error

	customersByPhone map[string][]fuel.Customer
	txByCustomer     map[string][]fuel.Transaction

	otpCalls          int
	appendedCustomers []fuel.Customer
	appendedTxs       []fuel.Transaction
}

func (f *fakeLedger) OTPRecords(context.Context) ([]fuel.OTPRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.otpCalls++
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return f.records, nil
}

func (f *fakeLedger) AppendCustomer(_ context.Context, c fuel.Customer) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.appendedCustomers = append(f.appendedCustomers, c)
	return nil
}

func (f *fakeLedger) AppendTransaction(_ context.Context, tx fuel.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.appendedTxs = append(f.appendedTxs, tx)
	return nil
}

func (f *fakeLedger) CustomersByPhone(_ context.Context, phone string) ([]fuel.Customer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.customersByPhone[phone], nil
}

func (f *fakeLedger) TransactionsByCustomer(_ context.Context, id string) ([]fuel.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.txByCustomer[id], nil
}

func (f *fakeLedger) otpCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.otpCalls
}

func (f *fakeLedger) appendedTxCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.appendedTxs)
}

func paidTx(amount, discount string) fuel.Transaction {
	orig := decimal.RequireFromString(amount)
	disc := decimal.RequireFromString(discount)
	return fuel.Transaction{
		OriginalAmount: orig,
		DiscountAmount: disc,
		FinalAmount:    orig.Sub(disc),
		PaymentMethod:  fuel.PayUPI,
	}
}

func newEngine(ledger fuel.Ledger) (*fuel.Reconciler, *memory.Store) {
	store := memory.New()
	return fuel.NewReconciler(store, ledger), store
}

// =============================================================================
// CREATION
// =============================================================================

func TestCreate_SetsSentinelAndStatus(t *testing.T) {
	ldg := &fakeLedger{}
	engine, _ := newEngine(ldg)

	tx, err := engine.Create(context.Background(), paidTx("500", "3.50"))
	require.NoError(t, err)

	assert.Equal(t, fuel.AuthCodePending, tx.AuthCode)
	assert.Equal(t, fuel.StatusPaid, tx.Status)
	assert.True(t, tx.Savings.Equal(tx.DiscountAmount))
	assert.NotEmpty(t, tx.TimestampStr)
	assert.False(t, tx.CreatedAt.IsZero())
}

func TestCreate_MirrorsToLedgerWithoutBlocking(t *testing.T) {
	// GIVEN: a configured ledger
	// WHEN: creating a transaction
	// THEN: the local record returns immediately and the mirror write
	//       arrives in the background

	ldg := &fakeLedger{}
	engine, _ := newEngine(ldg)

	_, err := engine.Create(context.Background(), paidTx("500", "3.50"))
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return ldg.appendedTxCount() == 1 },
		2*time.Second, 10*time.Millisecond, "mirror write should arrive")
}

func TestCreate_RejectsInvalidPaymentMethod(t *testing.T) {
	engine, _ := newEngine(&fakeLedger{})

	tx := paidTx("500", "3.50")
	tx.PaymentMethod = "cheque"
	_, err := engine.Create(context.Background(), tx)
	assert.ErrorIs(t, err, fuel.ErrInvalidPaymentMethod)
}

func TestCreate_RejectsAmountMismatch(t *testing.T) {
	engine, _ := newEngine(&fakeLedger{})

	tx := paidTx("500", "3.50")
	tx.FinalAmount = decimal.RequireFromString("400.00") // != 500 - 3.50
	_, err := engine.Create(context.Background(), tx)
	assert.ErrorIs(t, err, fuel.ErrAmountMismatch)
}

// =============================================================================
// POLLING
// =============================================================================

func TestPoll_FastPathSkipsLedger(t *testing.T) {
	// GIVEN: a transaction whose code is already resolved
	// WHEN: polling
	// THEN: the code comes back with zero ledger calls

	ldg := &fakeLedger{}
	engine, store := newEngine(ldg)
	ctx := context.Background()

	tx, err := engine.Create(ctx, paidTx("500", "3.50"))
	require.NoError(t, err)
	_, err = store.UpdateTransactionStatus(ctx, tx.ID, fuel.StatusPaid, "4321")
	require.NoError(t, err)

	code, err := engine.PollAuthCode(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, "4321", code)
	assert.Equal(t, 0, ldg.otpCallCount(), "resolved poll must not hit the ledger")
}

func TestPoll_MatchesOnlyNewerRecords(t *testing.T) {
	// GIVEN: a transaction created at t0, an OTP at t1 > t0 and one at t2 < t0
	// WHEN: polling
	// THEN: the t1 code is assigned; the stale t2 code is never matched

	ldg := &fakeLedger{}
	engine, store := newEngine(ldg)
	ctx := context.Background()

	tx, err := engine.Create(ctx, paidTx("500", "3.50"))
	require.NoError(t, err)
	t0 := mustGet(t, store, tx.ID).CreatedAt

	ldg.records = []fuel.OTPRecord{
		{Timestamp: t0.Add(-time.Minute), Code: "9999"}, // stale, predates tx
		{Timestamp: t0.Add(time.Minute), Code: "4321"},
	}

	code, err := engine.PollAuthCode(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, "4321", code)
	assert.Equal(t, "4321", mustGet(t, store, tx.ID).AuthCode)
}

func TestPoll_StaleRecordsOnly_StaysPending(t *testing.T) {
	ldg := &fakeLedger{}
	engine, store := newEngine(ldg)
	ctx := context.Background()

	tx, err := engine.Create(ctx, paidTx("500", "3.50"))
	require.NoError(t, err)
	t0 := mustGet(t, store, tx.ID).CreatedAt

	ldg.records = []fuel.OTPRecord{
		{Timestamp: t0.Add(-2 * time.Minute), Code: "9999"},
	}

	code, err := engine.PollAuthCode(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, fuel.AuthCodePending, code)
	assert.Equal(t, fuel.AuthCodePending, mustGet(t, store, tx.ID).AuthCode)
}

func TestPoll_PicksLatestValidRecord(t *testing.T) {
	// Two valid records: the operator's most recent entry wins.
	ldg := &fakeLedger{}
	engine, store := newEngine(ldg)
	ctx := context.Background()

	tx, err := engine.Create(ctx, paidTx("500", "3.50"))
	require.NoError(t, err)
	t0 := mustGet(t, store, tx.ID).CreatedAt

	ldg.records = []fuel.OTPRecord{
		{Timestamp: t0.Add(time.Minute), Code: "1111"},
		{Timestamp: t0.Add(3 * time.Minute), Code: "2222"},
		{Timestamp: t0.Add(2 * time.Minute), Code: "3333"},
	}

	code, err := engine.PollAuthCode(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, "2222", code)
}

func TestPoll_TimestampTie_LaterRowWins(t *testing.T) {
	// The ledger preserves append order; two rows at the same instant
	// resolve to the one entered last.
	ldg := &fakeLedger{}
	engine, store := newEngine(ldg)
	ctx := context.Background()

	tx, err := engine.Create(ctx, paidTx("500", "3.50"))
	require.NoError(t, err)
	at := mustGet(t, store, tx.ID).CreatedAt.Add(time.Minute)

	ldg.records = []fuel.OTPRecord{
		{Timestamp: at, Code: "1111"},
		{Timestamp: at, Code: "2222"},
	}

	code, err := engine.PollAuthCode(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, "2222", code)
}

func TestPoll_LedgerErrorTreatedAsNoData(t *testing.T) {
	ldg := &fakeLedger{fetchErr: errors.New("ledger timeout")}
	engine, _ := newEngine(ldg)
	ctx := context.Background()

	tx, err := engine.Create(ctx, paidTx("500", "3.50"))
	require.NoError(t, err)

	code, err := engine.PollAuthCode(ctx, tx.ID)
	require.NoError(t, err, "ledger failure must not surface")
	assert.Equal(t, fuel.AuthCodePending, code)
}

func TestPoll_UnknownTransaction(t *testing.T) {
	engine, _ := newEngine(&fakeLedger{})

	_, err := engine.PollAuthCode(context.Background(), 404)
	assert.ErrorIs(t, err, fuel.ErrTransactionNotFound)
}

// =============================================================================
// RESET
// =============================================================================

func TestReset_RevertsToSentinel_BoundedAttempts(t *testing.T) {
	// GIVEN: a resolved transaction
	// WHEN: resetting repeatedly
	// THEN: exactly MaxResets resets succeed, then ErrRetryLimitExceeded

	ldg := &fakeLedger{}
	engine, store := newEngine(ldg)
	ctx := context.Background()

	tx, err := engine.Create(ctx, paidTx("500", "3.50"))
	require.NoError(t, err)

	for i := 0; i < engine.MaxResets(); i++ {
		_, err := store.UpdateTransactionStatus(ctx, tx.ID, fuel.StatusPaid, "4321")
		require.NoError(t, err)

		reset, err := engine.ResetAuthCode(ctx, tx.ID)
		require.NoError(t, err, "reset %d should succeed", i+1)
		assert.Equal(t, fuel.AuthCodePending, reset.AuthCode)
	}

	_, err = engine.ResetAuthCode(ctx, tx.ID)
	assert.ErrorIs(t, err, fuel.ErrRetryLimitExceeded)

	var limitErr *fuel.RetryLimitError
	require.ErrorAs(t, err, &limitErr)
	assert.Equal(t, engine.MaxResets(), limitErr.Attempts)
}

func TestReset_DoesNotAdvanceCutoff_RematchesStaleCode(t *testing.T) {
	// Pins the known gap: reset keeps the original CreatedAt, so with no
	// newer ledger row the next poll re-matches the code just cleared.

	ldg := &fakeLedger{}
	engine, store := newEngine(ldg)
	ctx := context.Background()

	tx, err := engine.Create(ctx, paidTx("500", "3.50"))
	require.NoError(t, err)
	t0 := mustGet(t, store, tx.ID).CreatedAt

	ldg.records = []fuel.OTPRecord{{Timestamp: t0.Add(time.Minute), Code: "1111"}}

	code, err := engine.PollAuthCode(ctx, tx.ID)
	require.NoError(t, err)
	require.Equal(t, "1111", code)

	_, err = engine.ResetAuthCode(ctx, tx.ID)
	require.NoError(t, err)

	code, err = engine.PollAuthCode(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, "1111", code, "stale code re-matches until a newer row arrives")
}

func TestReset_UnknownTransaction(t *testing.T) {
	engine, _ := newEngine(&fakeLedger{})

	_, err := engine.ResetAuthCode(context.Background(), 404)
	assert.ErrorIs(t, err, fuel.ErrTransactionNotFound)
}

// =============================================================================
// LOCAL-FALLBACK MODE
// =============================================================================

func TestLocalFallback_AssignsPoolCodeAtCreation(t *testing.T) {
	// GIVEN: no ledger and a seeded pool
	// WHEN: creating transactions
	// THEN: codes are assigned synchronously, in pool order, single-use

	engine, store := newEngine(nil)
	ctx := context.Background()
	require.NoError(t, store.SeedOTPs(ctx, []string{"1234", "5678"}))

	tx1, err := engine.Create(ctx, paidTx("500", "3.50"))
	require.NoError(t, err)
	assert.Equal(t, "1234", tx1.AuthCode)
	assert.Equal(t, fuel.StatusPaid, tx1.Status)

	tx2, err := engine.Create(ctx, paidTx("300", "2.10"))
	require.NoError(t, err)
	assert.Equal(t, "5678", tx2.AuthCode)
}

func TestLocalFallback_RefillsExhaustedPool(t *testing.T) {
	// An empty pool refills itself with fresh 4-digit codes.
	engine, _ := newEngine(nil)

	tx, err := engine.Create(context.Background(), paidTx("500", "3.50"))
	require.NoError(t, err)

	assert.Regexp(t, regexp.MustCompile(`^\d{4}$`), tx.AuthCode)
	assert.NotEqual(t, fuel.AuthCodePending, tx.AuthCode)
}

func TestLocalFallback_PollReturnsAssignedCode(t *testing.T) {
	engine, store := newEngine(nil)
	ctx := context.Background()
	require.NoError(t, store.SeedOTPs(ctx, []string{"1234"}))

	tx, err := engine.Create(ctx, paidTx("500", "3.50"))
	require.NoError(t, err)

	code, err := engine.PollAuthCode(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, "1234", code)
}

func TestRefreshOTPs_SeedsFreshCodes(t *testing.T) {
	engine, store := newEngine(nil)
	ctx := context.Background()

	require.NoError(t, engine.RefreshOTPs(ctx))

	otp, ok, err := store.NextOTP(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Regexp(t, regexp.MustCompile(`^\d{4}$`), otp.Code)
}

// =============================================================================
// QUERIES, LOGIN AND SYNC
// =============================================================================

func TestListTransactions_PrefersLedgerCopyForCustomer(t *testing.T) {
	mirrored := []fuel.Transaction{{ID: 42, CustomerID: "c-1", AuthCode: "4321"}}
	ldg := &fakeLedger{txByCustomer: map[string][]fuel.Transaction{"c-1": mirrored}}
	engine, _ := newEngine(ldg)
	ctx := context.Background()

	_, err := engine.Create(ctx, paidTx("500", "3.50"))
	require.NoError(t, err)

	txs, err := engine.ListTransactions(ctx, fuel.TxFilter{CustomerID: "c-1"})
	require.NoError(t, err)
	assert.Equal(t, mirrored, txs, "non-empty ledger copy wins")

	// No mirrored rows for this customer: fall back to local.
	local, err := engine.ListTransactions(ctx, fuel.TxFilter{CustomerID: "c-2"})
	require.NoError(t, err)
	assert.Empty(t, local)
}

func TestLogin_LedgerHitKeepsLedgerID(t *testing.T) {
	ldg := &fakeLedger{customersByPhone: map[string][]fuel.Customer{
		"9990001111": {{ID: "ledger-7", Phone: "9990001111", VehicleNumber: "KA01AB1234"}},
	}}
	engine, _ := newEngine(ldg)

	customer, err := engine.Login(context.Background(), "9990001111", "KA99ZZ0001")
	require.NoError(t, err)

	assert.Equal(t, "ledger-7", customer.ID, "ledger ID is adopted")
	assert.Equal(t, "KA99ZZ0001", customer.VehicleNumber, "submitted vehicle number wins")
}

func TestLogin_MissCreatesLocallyAndMirrors(t *testing.T) {
	ldg := &fakeLedger{}
	engine, store := newEngine(ldg)

	customer, err := engine.Login(context.Background(), "9990002222", "KA02CD5678")
	require.NoError(t, err)
	assert.NotEmpty(t, customer.ID)

	customers, err := store.ListCustomers(context.Background())
	require.NoError(t, err)
	require.Len(t, customers, 1)

	assert.Eventually(t, func() bool {
		ldg.mu.Lock()
		defer ldg.mu.Unlock()
		return len(ldg.appendedCustomers) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSyncAll_PushesEverything(t *testing.T) {
	ldg := &fakeLedger{}
	engine, store := newEngine(ldg)
	ctx := context.Background()

	_, err := store.GetOrCreateCustomer(ctx, "9990003333", "KA03EF9012")
	require.NoError(t, err)
	_, err = engine.Create(ctx, paidTx("500", "3.50"))
	require.NoError(t, err)
	_, err = engine.Create(ctx, paidTx("300", "2.10"))
	require.NoError(t, err)

	require.NoError(t, engine.SyncAll(ctx))

	ldg.mu.Lock()
	defer ldg.mu.Unlock()
	assert.Len(t, ldg.appendedCustomers, 1)
	// Two sync appends plus two fire-and-forget mirrors from Create.
	assert.GreaterOrEqual(t, len(ldg.appendedTxs), 2)
}

func TestSyncAll_RequiresLedger(t *testing.T) {
	engine, _ := newEngine(nil)
	err := engine.SyncAll(context.Background())
	assert.ErrorIs(t, err, fuel.ErrLedgerUnavailable)
}

func mustGet(t *testing.T, store fuel.Store, id int64) fuel.Transaction {
	t.Helper()
	tx, err := store.GetTransaction(context.Background(), id)
	require.NoError(t, err)
	return tx
}
