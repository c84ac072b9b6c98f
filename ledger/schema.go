/*
schema.go - Explicit, fail-closed parsing of ledger rows

PURPOSE:
  The spreadsheet derives JSON keys from its column headers, which humans
  edit, so rows arrive as loose maps with drifting key names. This file is
  the one place that knows those names. Everything inward of here works
  with typed fuel.* records.

FAIL-CLOSED RULE:
  A row that cannot produce its required fields (an OTP without a code or
  a parseable timestamp, a customer without a phone) is dropped and logged.
  Malformed external data never propagates past this boundary.

KNOWN KEY DRIFT:
  The OTP sheet has carried its code under "otp" and under "b" (the raw
  column letter) at different times; both are accepted. Timestamps appear
  both as RFC3339 and as the sheet's "2006-01-02 15:04:05" display format.
*/
package ledger

import (
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fuelpay/station/fuel"
)

// row is a raw ledger row before schema validation.
type row map[string]any

// timestampLayouts are tried in order when parsing row timestamps.
var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	fuel.TimestampLayout,
	"2006-01-02",
}

// =============================================================================
// ROW PARSERS (ledger -> domain)
// =============================================================================

// parseOTPRows converts raw OTP rows, preserving append order. Rows lacking
// a code or a parseable timestamp are dropped.
func parseOTPRows(rows []row) []fuel.OTPRecord {
	records := make([]fuel.OTPRecord, 0, len(rows))
	for i, r := range rows {
		ts, ok := r.timestamp("timestamp")
		if !ok {
			log.Printf("ledger: dropping otp row %d: missing or unparseable timestamp", i)
			continue
		}
		code := r.str("otp")
		if code == "" {
			code = r.str("b") // raw column-letter key, seen on older sheets
		}
		if code == "" {
			log.Printf("ledger: dropping otp row %d: no code", i)
			continue
		}
		records = append(records, fuel.OTPRecord{
			Timestamp: ts,
			Code:      code,
			Amount:    r.dec("amount"),
		})
	}
	return records
}

// parseCustomerRows converts raw customer rows. Phone is required.
func parseCustomerRows(rows []row) []fuel.Customer {
	customers := make([]fuel.Customer, 0, len(rows))
	for i, r := range rows {
		phone := r.str("phone")
		if phone == "" {
			log.Printf("ledger: dropping customer row %d: no phone", i)
			continue
		}
		created, _ := r.timestamp("createdat")
		customers = append(customers, fuel.Customer{
			ID:            r.str("id"),
			Phone:         phone,
			VehicleNumber: r.str("vehicleNumber"),
			CreatedAt:     created,
		})
	}
	return customers
}

// parseTransactionRows converts raw transaction rows. Rows without an id
// or amounts are dropped.
func parseTransactionRows(rows []row) []fuel.Transaction {
	txs := make([]fuel.Transaction, 0, len(rows))
	for i, r := range rows {
		id, ok := r.int64("id")
		if !ok {
			log.Printf("ledger: dropping transaction row %d: no id", i)
			continue
		}
		created, _ := r.timestamp("date")
		if created.IsZero() {
			created, _ = r.timestamp("createdat")
		}
		txs = append(txs, fuel.Transaction{
			ID:             id,
			CustomerID:     r.str("customerId"),
			OriginalAmount: r.dec("originalAmount"),
			DiscountAmount: r.dec("discountAmount"),
			FinalAmount:    r.dec("finalAmount"),
			Savings:        r.dec("savings"),
			PaymentMethod:  fuel.PaymentMethod(r.str("method")),
			AuthCode:       r.str("authCode"),
			Status:         fuel.Status(r.str("status")),
			CreatedAt:      created,
		})
	}
	return txs
}

// =============================================================================
// ROW BUILDERS (domain -> ledger)
// =============================================================================

func customerRow(c fuel.Customer) map[string]any {
	return map[string]any{
		"id":            c.ID,
		"phone":         c.Phone,
		"vehicleNumber": c.VehicleNumber,
		"createdAt":     c.CreatedAt.Format(fuel.TimestampLayout),
	}
}

func transactionRow(tx fuel.Transaction) map[string]any {
	return map[string]any{
		"id":             tx.ID,
		"customerId":     tx.CustomerID,
		"originalAmount": tx.OriginalAmount.StringFixed(2),
		"discountAmount": tx.DiscountAmount.StringFixed(2),
		"finalAmount":    tx.FinalAmount.StringFixed(2),
		"savings":        tx.Savings.StringFixed(2),
		"paymentMethod":  string(tx.PaymentMethod),
		"authCode":       tx.AuthCode,
		"status":         string(tx.Status),
		"timestampStr":   tx.TimestampStr,
		"createdAt":      tx.CreatedAt.Format(fuel.TimestampLayout),
	}
}

// =============================================================================
// LOOSE-VALUE ACCESSORS
// =============================================================================

func (r row) str(key string) string {
	switch v := r[key].(type) {
	case string:
		return v
	case float64:
		// Sheets hand back numeric cells as numbers even for code columns.
		if v == float64(int64(v)) {
			return fmt.Sprintf("%d", int64(v))
		}
		return fmt.Sprintf("%v", v)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}

func (r row) int64(key string) (int64, bool) {
	switch v := r[key].(type) {
	case float64:
		return int64(v), true
	case string:
		var id int64
		if _, err := fmt.Sscan(v, &id); err == nil {
			return id, true
		}
	}
	return 0, false
}

func (r row) dec(key string) decimal.Decimal {
	s := r.str(key)
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func (r row) timestamp(key string) (time.Time, bool) {
	s := r.str(key)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}
