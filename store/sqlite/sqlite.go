/*
Package sqlite provides a SQLite-backed implementation of fuel.Store.

PURPOSE:
  Durable local storage for a real station deployment. The same patterns
  apply to PostgreSQL - only minor SQL dialect differences.

KEY TABLES:
  settings:     single pricing row (id fixed at 1)
  customers:    phone-keyed customer records, text IDs
  transactions: purchase records; rows are never deleted, only status and
                auth_code are updated
  otps:         the local fallback pool of single-use codes

MONEY:
  Amounts are stored as TEXT and parsed with shopspring/decimal, never as
  REAL. SQLite floats would reintroduce the precision problems decimals
  exist to avoid.

WAL MODE:
  Opened with WAL for better concurrency: readers don't block, single
  writer at a time, better crash recovery. Combined with the mutex this
  serializes the poll-assign vs. reset race per transaction.

MIGRATION:
  Schema is auto-migrated on New(). Use ":memory:" for tests.

SEE ALSO:
  - fuel/store.go: interface definition
  - store/memory: in-memory implementation
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/fuelpay/station/fuel"
)

// Store implements fuel.Store on SQLite.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// New opens (creating if needed) the database at dbPath and migrates the
// schema. Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS settings (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		fuel_price TEXT NOT NULL,
		discount_per_liter TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS customers (
		id TEXT PRIMARY KEY,
		phone TEXT NOT NULL UNIQUE,
		vehicle_number TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_customers_phone ON customers(phone);

	CREATE TABLE IF NOT EXISTS transactions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		customer_id TEXT NOT NULL DEFAULT '',
		original_amount TEXT NOT NULL,
		discount_amount TEXT NOT NULL,
		final_amount TEXT NOT NULL,
		savings TEXT NOT NULL,
		payment_method TEXT NOT NULL,
		auth_code TEXT NOT NULL,
		status TEXT NOT NULL,
		timestamp_str TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_customer
		ON transactions(customer_id);
	CREATE INDEX IF NOT EXISTS idx_transactions_created_at
		ON transactions(created_at DESC);

	CREATE TABLE IF NOT EXISTS otps (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		code TEXT NOT NULL,
		used INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// SETTINGS
// =============================================================================

func (s *Store) GetSettings(ctx context.Context) (fuel.Settings, error) {
	var fuelPrice, discount string
	err := s.db.QueryRowContext(ctx,
		`SELECT fuel_price, discount_per_liter FROM settings WHERE id = 1`).
		Scan(&fuelPrice, &discount)
	if errors.Is(err, sql.ErrNoRows) {
		return fuel.DefaultSettings(), nil
	}
	if err != nil {
		return fuel.Settings{}, err
	}
	return parseSettings(fuelPrice, discount)
}

func (s *Store) UpdateSettings(ctx context.Context, patch fuel.SettingsPatch) (fuel.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.GetSettings(ctx)
	if err != nil {
		return fuel.Settings{}, err
	}
	if patch.FuelPrice != nil {
		current.FuelPrice = *patch.FuelPrice
	}
	if patch.DiscountPerLiter != nil {
		current.DiscountPerLiter = *patch.DiscountPerLiter
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO settings (id, fuel_price, discount_per_liter)
		VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			fuel_price = excluded.fuel_price,
			discount_per_liter = excluded.discount_per_liter`,
		current.FuelPrice.String(), current.DiscountPerLiter.String())
	if err != nil {
		return fuel.Settings{}, err
	}
	return current, nil
}

func parseSettings(fuelPrice, discount string) (fuel.Settings, error) {
	fp, err := decimal.NewFromString(fuelPrice)
	if err != nil {
		return fuel.Settings{}, fmt.Errorf("stored fuel price %q: %w", fuelPrice, err)
	}
	dpl, err := decimal.NewFromString(discount)
	if err != nil {
		return fuel.Settings{}, fmt.Errorf("stored discount %q: %w", discount, err)
	}
	return fuel.Settings{FuelPrice: fp, DiscountPerLiter: dpl}, nil
}

// =============================================================================
// CUSTOMERS
// =============================================================================

func (s *Store) GetOrCreateCustomer(ctx context.Context, phone, vehicleNumber string) (fuel.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var c fuel.Customer
	var createdAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, phone, vehicle_number, created_at FROM customers WHERE phone = ?`, phone).
		Scan(&c.ID, &c.Phone, &c.VehicleNumber, &createdAt)
	switch {
	case err == nil:
		if vehicleNumber != "" && vehicleNumber != c.VehicleNumber {
			if _, err := s.db.ExecContext(ctx,
				`UPDATE customers SET vehicle_number = ? WHERE id = ?`, vehicleNumber, c.ID); err != nil {
				return fuel.Customer{}, err
			}
			c.VehicleNumber = vehicleNumber
		}
		c.CreatedAt = parseTime(createdAt)
		return c, nil
	case errors.Is(err, sql.ErrNoRows):
		c = fuel.Customer{
			ID:            uuid.NewString(),
			Phone:         phone,
			VehicleNumber: vehicleNumber,
			CreatedAt:     time.Now(),
		}
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO customers (id, phone, vehicle_number, created_at) VALUES (?, ?, ?, ?)`,
			c.ID, c.Phone, c.VehicleNumber, formatTime(c.CreatedAt))
		if err != nil {
			return fuel.Customer{}, err
		}
		return c, nil
	default:
		return fuel.Customer{}, err
	}
}

func (s *Store) ListCustomers(ctx context.Context) ([]fuel.Customer, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, phone, vehicle_number, created_at FROM customers ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var customers []fuel.Customer
	for rows.Next() {
		var c fuel.Customer
		var createdAt string
		if err := rows.Scan(&c.ID, &c.Phone, &c.VehicleNumber, &createdAt); err != nil {
			return nil, err
		}
		c.CreatedAt = parseTime(createdAt)
		customers = append(customers, c)
	}
	return customers, rows.Err()
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func (s *Store) CreateTransaction(ctx context.Context, tx fuel.Transaction) (fuel.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO transactions
			(customer_id, original_amount, discount_amount, final_amount, savings,
			 payment_method, auth_code, status, timestamp_str, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tx.CustomerID,
		tx.OriginalAmount.String(), tx.DiscountAmount.String(),
		tx.FinalAmount.String(), tx.Savings.String(),
		string(tx.PaymentMethod), tx.AuthCode, string(tx.Status),
		tx.TimestampStr, formatTime(tx.CreatedAt))
	if err != nil {
		return fuel.Transaction{}, err
	}
	tx.ID, err = res.LastInsertId()
	if err != nil {
		return fuel.Transaction{}, err
	}
	return tx, nil
}

func (s *Store) GetTransaction(ctx context.Context, id int64) (fuel.Transaction, error) {
	tx, err := scanTransaction(s.db.QueryRowContext(ctx,
		selectTransaction+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return fuel.Transaction{}, fuel.ErrTransactionNotFound
	}
	return tx, err
}

func (s *Store) UpdateTransactionStatus(ctx context.Context, id int64, status fuel.Status, authCode string) (fuel.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var err error
	if authCode != "" {
		_, err = s.db.ExecContext(ctx,
			`UPDATE transactions SET status = ?, auth_code = ? WHERE id = ?`,
			string(status), authCode, id)
	} else {
		_, err = s.db.ExecContext(ctx,
			`UPDATE transactions SET status = ? WHERE id = ?`, string(status), id)
	}
	if err != nil {
		return fuel.Transaction{}, err
	}
	return s.GetTransaction(ctx, id)
}

func (s *Store) ListTransactions(ctx context.Context, filter fuel.TxFilter) ([]fuel.Transaction, error) {
	query := selectTransaction
	var args []any
	var where []string

	if filter.CustomerID != "" {
		where = append(where, `customer_id = ?`)
		args = append(args, filter.CustomerID)
	}
	if filter.TodayOnly {
		y, m, d := time.Now().Date()
		dayStart := time.Date(y, m, d, 0, 0, 0, 0, time.Local)
		where = append(where, `created_at >= ?`)
		args = append(args, formatTime(dayStart))
	}
	for i, w := range where {
		if i == 0 {
			query += ` WHERE ` + w
		} else {
			query += ` AND ` + w
		}
	}
	query += ` ORDER BY created_at DESC, id DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txs []fuel.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}

const selectTransaction = `
	SELECT id, customer_id, original_amount, discount_amount, final_amount,
	       savings, payment_method, auth_code, status, timestamp_str, created_at
	FROM transactions`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (fuel.Transaction, error) {
	var tx fuel.Transaction
	var original, discount, final, savings, method, status, createdAt string
	err := row.Scan(&tx.ID, &tx.CustomerID, &original, &discount, &final,
		&savings, &method, &tx.AuthCode, &status, &tx.TimestampStr, &createdAt)
	if err != nil {
		return fuel.Transaction{}, err
	}

	for _, pair := range []struct {
		dst *decimal.Decimal
		src string
	}{
		{&tx.OriginalAmount, original},
		{&tx.DiscountAmount, discount},
		{&tx.FinalAmount, final},
		{&tx.Savings, savings},
	} {
		d, err := decimal.NewFromString(pair.src)
		if err != nil {
			return fuel.Transaction{}, fmt.Errorf("stored amount %q: %w", pair.src, err)
		}
		*pair.dst = d
	}

	tx.PaymentMethod = fuel.PaymentMethod(method)
	tx.Status = fuel.Status(status)
	tx.CreatedAt = parseTime(createdAt)
	return tx, nil
}

// =============================================================================
// LOCAL OTP POOL
// =============================================================================

func (s *Store) NextOTP(ctx context.Context) (fuel.OTP, bool, error) {
	var otp fuel.OTP
	var createdAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, code, created_at FROM otps WHERE used = 0 ORDER BY id LIMIT 1`).
		Scan(&otp.ID, &otp.Code, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return fuel.OTP{}, false, nil
	}
	if err != nil {
		return fuel.OTP{}, false, err
	}
	otp.CreatedAt = parseTime(createdAt)
	return otp, true, nil
}

func (s *Store) MarkOTPUsed(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE otps SET used = 1 WHERE id = ?`, id)
	return err
}

func (s *Store) SeedOTPs(ctx context.Context, codes []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := formatTime(time.Now())
	for _, code := range codes {
		if _, err := s.db.ExecContext(ctx,
			`INSERT INTO otps (code, used, created_at) VALUES (?, 0, ?)`, code, now); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// TIME ENCODING
// =============================================================================

// timeLayout is fixed-width (no trailing-zero trimming) so lexicographic
// ordering equals chronological ordering, which the created_at index and
// the today-filter comparison rely on.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
