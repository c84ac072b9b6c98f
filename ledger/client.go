/*
Package ledger speaks to the External Ledger, a spreadsheet-backed webhook
that acts as the station's secondary record and the source of
operator-entered OTP codes.

PURPOSE:
  The ledger exposes exactly two operations and this client never assumes
  more exist:
    GET  ?type={customer|transaction|otp-amount-data}&filter  -> {data:[...]}
    POST {type, data, timestamp}                              -> append a row

  Rows can never be updated or deleted. The station treats the ledger as
  eventually consistent and best-effort: every fetch has a bounded timeout
  and every failure is reported to the caller, who degrades to local data.

SCHEMA BOUNDARY:
  The spreadsheet derives JSON keys from human-edited column headers, so
  rows arrive loosely typed. schema.go is the explicit parser that fails
  closed: rows missing required fields are dropped and logged rather than
  propagated inward.

SEE ALSO:
  - schema.go: row parsing and row building
  - fuel/reconcile.go: the consumer (via the fuel.Ledger interface)
*/
package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/fuelpay/station/fuel"
)

// Row type discriminators understood by the ledger webhook.
const (
	typeCustomer    = "customer"
	typeTransaction = "transaction"
	typeOTPData     = "otp-amount-data"
)

// DefaultTimeout bounds every ledger round trip. A slow ledger must not
// stall a poll request.
const DefaultTimeout = 10 * time.Second

// Client is an External Ledger client. The zero value is not usable;
// construct with New.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a client for the webhook at baseURL.
func New(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: DefaultTimeout},
	}
}

// NewWithHTTPClient creates a client with a caller-supplied http.Client,
// used by tests to control timeouts.
func NewWithHTTPClient(baseURL string, hc *http.Client) *Client {
	return &Client{baseURL: baseURL, http: hc}
}

// =============================================================================
// READS
// =============================================================================

// OTPRecords returns every operator-entered OTP row in append order.
// Unparseable rows are dropped by the schema boundary.
func (c *Client) OTPRecords(ctx context.Context) ([]fuel.OTPRecord, error) {
	rows, err := c.fetch(ctx, typeOTPData, nil)
	if err != nil {
		return nil, err
	}
	return parseOTPRows(rows), nil
}

// CustomersByPhone returns ledger customer rows matching a phone number.
func (c *Client) CustomersByPhone(ctx context.Context, phone string) ([]fuel.Customer, error) {
	rows, err := c.fetch(ctx, typeCustomer, url.Values{"phone": {phone}})
	if err != nil {
		return nil, err
	}
	return parseCustomerRows(rows), nil
}

// TransactionsByCustomer returns ledger transaction rows for a customer.
func (c *Client) TransactionsByCustomer(ctx context.Context, customerID string) ([]fuel.Transaction, error) {
	rows, err := c.fetch(ctx, typeTransaction, url.Values{"customerId": {customerID}})
	if err != nil {
		return nil, err
	}
	return parseTransactionRows(rows), nil
}

// fetch performs a filtered read. The response envelope is {data:[...]}.
func (c *Client) fetch(ctx context.Context, rowType string, filter url.Values) ([]row, error) {
	q := url.Values{"type": {rowType}}
	for k, vs := range filter {
		for _, v := range vs {
			q.Add(k, v)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ledger fetch %s: %w", rowType, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ledger fetch %s: status %d", rowType, resp.StatusCode)
	}

	var envelope struct {
		Data []row `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("ledger fetch %s: malformed response: %w", rowType, err)
	}
	return envelope.Data, nil
}

// =============================================================================
// APPENDS
// =============================================================================

// AppendCustomer mirrors a customer row to the ledger.
func (c *Client) AppendCustomer(ctx context.Context, customer fuel.Customer) error {
	return c.append(ctx, typeCustomer, customerRow(customer))
}

// AppendTransaction mirrors a transaction row to the ledger.
func (c *Client) AppendTransaction(ctx context.Context, tx fuel.Transaction) error {
	return c.append(ctx, typeTransaction, transactionRow(tx))
}

// append posts one row. The ledger offers no update or delete; a retried
// append produces a duplicate row, which reads tolerate.
func (c *Client) append(ctx context.Context, rowType string, data map[string]any) error {
	body, err := json.Marshal(map[string]any{
		"type":      rowType,
		"data":      data,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("ledger append %s: %w", rowType, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ledger append %s: status %d", rowType, resp.StatusCode)
	}
	return nil
}
