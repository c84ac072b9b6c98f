/*
handlers.go - HTTP API handlers for the station point of sale

PURPOSE:
  Exposes the fuel domain via REST. Handles HTTP request/response, JSON
  serialization, and delegates to the store and the reconciliation engine.

ENDPOINTS:
  Settings:
    GET    /api/settings                     Current pricing
    POST   /api/settings                     Update pricing (admin)

  Transactions:
    POST   /api/transactions/calculate       Discount quote
    POST   /api/transactions                 Create a paid transaction
    GET    /api/transactions                 List (customerId=, today= filters)
    GET    /api/transactions/{id}/otp-poll   Resolve the auth code
    POST   /api/transactions/{id}/reset      Revert code to PENDING (bounded)

  Customers:
    POST   /api/customers/login              Find-or-create by phone
    GET    /api/customers                    List customers (admin)

  Admin:
    POST   /api/admin/sync-all               Push all local records to ledger
    POST   /api/otps/refresh                 Seed fresh local pool codes

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 401: Missing/invalid admin token
  - 404: Transaction not found
  - 429: Reset retry limit exhausted
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/fuelpay/station/fuel"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store      fuel.Store
	Reconciler *fuel.Reconciler

	// AdminToken guards the admin endpoints. Empty disables them entirely
	// rather than leaving them open.
	AdminToken string
}

// NewHandler creates a handler over the given store and reconciler.
func NewHandler(store fuel.Store, reconciler *fuel.Reconciler, adminToken string) *Handler {
	return &Handler{Store: store, Reconciler: reconciler, AdminToken: adminToken}
}

// =============================================================================
// SETTINGS HANDLERS
// =============================================================================

// GetSettings returns current pricing.
func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := h.Store.GetSettings(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load settings", err)
		return
	}
	writeJSON(w, http.StatusOK, toSettingsDTO(settings))
}

// UpdateSettings applies a partial pricing update. Admin only.
func (h *Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req UpdateSettingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	var patch fuel.SettingsPatch
	if req.FuelPrice != nil {
		d, ok := parseMoney(*req.FuelPrice)
		if !ok || !d.IsPositive() {
			writeError(w, http.StatusBadRequest, "fuelPrice must be a positive decimal", nil)
			return
		}
		patch.FuelPrice = &d
	}
	if req.DiscountPerLiter != nil {
		d, ok := parseMoney(*req.DiscountPerLiter)
		if !ok || d.IsNegative() {
			writeError(w, http.StatusBadRequest, "discountPerLiter must be a non-negative decimal", nil)
			return
		}
		patch.DiscountPerLiter = &d
	}

	settings, err := h.Store.UpdateSettings(r.Context(), patch)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to update settings", err)
		return
	}
	writeJSON(w, http.StatusOK, toSettingsDTO(settings))
}

// =============================================================================
// TRANSACTION HANDLERS
// =============================================================================

// Calculate returns a discount quote for a purchase amount.
func (h *Handler) Calculate(w http.ResponseWriter, r *http.Request) {
	var req CalculateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	settings, err := h.Store.GetSettings(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load settings", err)
		return
	}

	quote, err := fuel.Calculate(settings, decimal.NewFromFloat(req.Amount))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toQuoteDTO(quote))
}

// CreateTransaction persists a paid purchase and schedules the ledger
// mirror write (or assigns a local code in fallback mode).
func (h *Handler) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	var req CreateTransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	original, ok := parseMoney(req.OriginalAmount)
	if !ok {
		writeError(w, http.StatusBadRequest, "originalAmount must be a decimal", nil)
		return
	}
	discount, ok := parseMoney(req.DiscountAmount)
	if !ok {
		writeError(w, http.StatusBadRequest, "discountAmount must be a decimal", nil)
		return
	}
	final, ok := parseMoney(req.FinalAmount)
	if !ok {
		writeError(w, http.StatusBadRequest, "finalAmount must be a decimal", nil)
		return
	}

	tx := fuel.Transaction{
		CustomerID:     req.CustomerID,
		OriginalAmount: original,
		DiscountAmount: discount,
		FinalAmount:    final,
		PaymentMethod:  fuel.PaymentMethod(req.PaymentMethod),
	}

	created, err := h.Reconciler.Create(r.Context(), tx)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTransactionDTO(created))
}

// ListTransactions returns transactions newest-first, optionally filtered
// by customer or to today only.
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	filter := fuel.TxFilter{
		CustomerID: r.URL.Query().Get("customerId"),
		TodayOnly:  r.URL.Query().Get("today") == "true",
	}

	txs, err := h.Reconciler.ListTransactions(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list transactions", err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTOs(txs))
}

// PollAuthCode resolves a transaction's authorization code, or returns the
// sentinel so the client retries after a short delay.
func (h *Handler) PollAuthCode(w http.ResponseWriter, r *http.Request) {
	id, ok := transactionID(w, r)
	if !ok {
		return
	}

	code, err := h.Reconciler.PollAuthCode(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, AuthCodeDTO{AuthCode: code})
}

// ResetAuthCode reverts a transaction's code to the sentinel. Bounded;
// once the limit is hit the customer must restart with the attendant.
func (h *Handler) ResetAuthCode(w http.ResponseWriter, r *http.Request) {
	id, ok := transactionID(w, r)
	if !ok {
		return
	}

	tx, err := h.Reconciler.ResetAuthCode(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, AuthCodeDTO{AuthCode: tx.AuthCode})
}

func transactionID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid transaction id", err)
		return 0, false
	}
	return id, true
}

// =============================================================================
// CUSTOMER HANDLERS
// =============================================================================

// Login finds or creates a customer by phone number.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Phone == "" || req.VehicleNumber == "" {
		writeError(w, http.StatusBadRequest, "Phone and vehicle number required", nil)
		return
	}

	customer, err := h.Reconciler.Login(r.Context(), req.Phone, req.VehicleNumber)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Login failed", err)
		return
	}
	writeJSON(w, http.StatusOK, toCustomerDTO(customer))
}

// ListCustomers returns all customers. Admin only.
func (h *Handler) ListCustomers(w http.ResponseWriter, r *http.Request) {
	customers, err := h.Store.ListCustomers(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list customers", err)
		return
	}

	dtos := make([]CustomerDTO, len(customers))
	for i, c := range customers {
		dtos[i] = toCustomerDTO(c)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// SyncAll pushes every local customer and transaction to the ledger.
func (h *Handler) SyncAll(w http.ResponseWriter, r *http.Request) {
	if err := h.Reconciler.SyncAll(r.Context()); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageDTO{Message: "Sync initiated for all records"})
}

// RefreshOTPs seeds fresh codes into the local fallback pool.
func (h *Handler) RefreshOTPs(w http.ResponseWriter, r *http.Request) {
	if err := h.Reconciler.RefreshOTPs(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to refresh OTPs", err)
		return
	}
	writeJSON(w, http.StatusOK, MessageDTO{Message: "OTPs refreshed"})
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string, err error) {
	if err != nil {
		log.Printf("%s: %v", msg, err)
	}
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// writeDomainError maps fuel errors onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case fuel.IsNotFound(err):
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: err.Error(), Code: "not_found"})
	case errors.Is(err, fuel.ErrRetryLimitExceeded):
		writeJSON(w, http.StatusTooManyRequests, ErrorResponse{
			Error: "Reset limit reached. Please re-initiate the transaction with the attendant.",
			Code:  "retry_limit_exceeded",
		})
	case errors.Is(err, fuel.ErrLedgerUnavailable):
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: err.Error(), Code: "ledger_unavailable"})
	case fuel.IsClientError(err):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "invalid_input"})
	default:
		writeError(w, http.StatusInternalServerError, "Internal error", err)
	}
}
