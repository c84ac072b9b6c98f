/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract.

MONEY AS STRINGS:
  Every monetary field crosses the wire as a string with exactly two
  decimal places ("496.50"). Clients display the values verbatim and never
  do float arithmetic on them.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/fuelpay/station/fuel"
)

// =============================================================================
// REQUEST/RESPONSE TYPES
// =============================================================================

// SettingsDTO represents pricing settings in API responses.
type SettingsDTO struct {
	FuelPrice        string `json:"fuelPrice"`
	DiscountPerLiter string `json:"discountPerLiter"`
}

// UpdateSettingsRequest is a partial settings update. Absent fields keep
// their current values.
type UpdateSettingsRequest struct {
	FuelPrice        *string `json:"fuelPrice,omitempty"`
	DiscountPerLiter *string `json:"discountPerLiter,omitempty"`
}

// CalculateRequest asks for a discount quote.
type CalculateRequest struct {
	Amount float64 `json:"amount"`
}

// QuoteDTO is the calculated discount quote.
type QuoteDTO struct {
	OriginalAmount   string `json:"originalAmount"`
	FinalAmount      string `json:"finalAmount"`
	DiscountAmount   string `json:"discountAmount"`
	Savings          string `json:"savings"`
	FuelPrice        string `json:"fuelPrice"`
	DiscountPerLiter string `json:"discountPerLiter"`
	Liters           string `json:"liters"`
}

// CreateTransactionRequest submits a paid purchase.
type CreateTransactionRequest struct {
	OriginalAmount string `json:"originalAmount"`
	DiscountAmount string `json:"discountAmount"`
	FinalAmount    string `json:"finalAmount"`
	Savings        string `json:"savings"`
	PaymentMethod  string `json:"paymentMethod"`
	CustomerID     string `json:"customerId,omitempty"`
}

// TransactionDTO represents a transaction in API responses.
type TransactionDTO struct {
	ID             int64  `json:"id"`
	CustomerID     string `json:"customerId,omitempty"`
	OriginalAmount string `json:"originalAmount"`
	DiscountAmount string `json:"discountAmount"`
	FinalAmount    string `json:"finalAmount"`
	Savings        string `json:"savings"`
	PaymentMethod  string `json:"paymentMethod"`
	AuthCode       string `json:"authCode"`
	Status         string `json:"status"`
	TimestampStr   string `json:"timestampStr,omitempty"`
	CreatedAt      string `json:"createdAt"`
}

// AuthCodeDTO is the poll/reset response.
type AuthCodeDTO struct {
	AuthCode string `json:"authCode"`
}

// LoginRequest identifies a customer by phone.
type LoginRequest struct {
	Phone         string `json:"phone"`
	VehicleNumber string `json:"vehicleNumber"`
}

// CustomerDTO represents a customer in API responses.
type CustomerDTO struct {
	ID            string `json:"id"`
	Phone         string `json:"phone"`
	VehicleNumber string `json:"vehicleNumber,omitempty"`
	CreatedAt     string `json:"createdAt,omitempty"`
}

// MessageDTO is a plain informational response.
type MessageDTO struct {
	Message string `json:"message"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toSettingsDTO(s fuel.Settings) SettingsDTO {
	return SettingsDTO{
		FuelPrice:        s.FuelPrice.StringFixed(2),
		DiscountPerLiter: s.DiscountPerLiter.StringFixed(2),
	}
}

func toQuoteDTO(q fuel.Quote) QuoteDTO {
	return QuoteDTO{
		OriginalAmount:   q.OriginalAmount.StringFixed(2),
		FinalAmount:      q.FinalAmount.StringFixed(2),
		DiscountAmount:   q.DiscountAmount.StringFixed(2),
		Savings:          q.Savings.StringFixed(2),
		FuelPrice:        q.FuelPrice.StringFixed(2),
		DiscountPerLiter: q.DiscountPerLiter.StringFixed(2),
		Liters:           q.Liters.StringFixed(2),
	}
}

func toTransactionDTO(tx fuel.Transaction) TransactionDTO {
	return TransactionDTO{
		ID:             tx.ID,
		CustomerID:     tx.CustomerID,
		OriginalAmount: tx.OriginalAmount.StringFixed(2),
		DiscountAmount: tx.DiscountAmount.StringFixed(2),
		FinalAmount:    tx.FinalAmount.StringFixed(2),
		Savings:        tx.Savings.StringFixed(2),
		PaymentMethod:  string(tx.PaymentMethod),
		AuthCode:       tx.AuthCode,
		Status:         string(tx.Status),
		TimestampStr:   tx.TimestampStr,
		CreatedAt:      tx.CreatedAt.Format(time.RFC3339),
	}
}

func toTransactionDTOs(txs []fuel.Transaction) []TransactionDTO {
	dtos := make([]TransactionDTO, len(txs))
	for i, tx := range txs {
		dtos[i] = toTransactionDTO(tx)
	}
	return dtos
}

func toCustomerDTO(c fuel.Customer) CustomerDTO {
	dto := CustomerDTO{
		ID:            c.ID,
		Phone:         c.Phone,
		VehicleNumber: c.VehicleNumber,
	}
	if !c.CreatedAt.IsZero() {
		dto.CreatedAt = c.CreatedAt.Format(time.RFC3339)
	}
	return dto
}

// parseMoney parses a client-supplied decimal string.
func parseMoney(s string) (decimal.Decimal, bool) {
	if s == "" {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}
