/**
 * @description
 * This file contains the HTTP handlers for the market-service's user-facing API
 * endpoints. Handlers are responsible for parsing incoming requests, calling the
 * appropriate methods on the application service, and writing the HTTP response.
 * They act as the bridge between the web layer and the business logic layer.
 *
 * @dependencies
 * - encoding/json, log, net/http: Standard Go libraries.
 * - internal/app, internal/domain, internal/store: For service logic, models, and custom errors.
 */

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"

	"github.com/unitedworld/market-service/internal/app"
	"github.com/unitedworld/market-service/internal/domain"
	"github.com/unitedworld/market-service/internal/store"
)

// MarketHandlers holds the application service that handlers will use.
type MarketHandlers struct {
	service *app.Service
}

// NewMarketHandlers creates a new instance of MarketHandlers.
func NewMarketHandlers(service *app.Service) *MarketHandlers {
	return &MarketHandlers{service: service}
}

// PriceHandler serves the live pool price. Public.
func (h *MarketHandlers) PriceHandler(w http.ResponseWriter, r *http.Request) {
	price, err := h.service.CurrentPrice(r.Context())
	if err != nil {
		log.Printf("level=error component=api endpoint=price outcome=failed err=%v", err)
		h.writeError(w, http.StatusInternalServerError, "Unable to read market price")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]float64{"price": price})
}

// MarketStatsHandler serves the public market snapshot.
func (h *MarketHandlers) MarketStatsHandler(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.MarketStats(r.Context())
	if err != nil {
		log.Printf("level=error component=api endpoint=market_stats outcome=failed err=%v", err)
		h.writeError(w, http.StatusInternalServerError, "Unable to read market stats")
		return
	}
	h.writeJSON(w, http.StatusOK, stats)
}

// AccelerateOrderHandler handles buy order submission.
func (h *MarketHandlers) AccelerateOrderHandler(w http.ResponseWriter, r *http.Request) {
	email, ok := GetUserEmail(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	var req domain.AccelerateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("level=warn component=api endpoint=accelerate_order outcome=reject reason=invalid_json err=%v", err)
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}

	result, err := h.service.AccelerateOrder(r.Context(), email, req)
	if err != nil {
		log.Printf("level=warn component=api endpoint=accelerate_order outcome=failed user=%s amount=%.2f err=%v", email, req.Amount, err)
		h.writeServiceError(w, err)
		return
	}

	log.Printf("level=info component=api endpoint=accelerate_order outcome=executed user=%s amount=%.2f txn=%s", email, result.INRInvested, result.TransactionID)
	h.writeJSON(w, http.StatusCreated, result)
}

// BalanceHandler serves the wallet view of the authenticated user.
func (h *MarketHandlers) BalanceHandler(w http.ResponseWriter, r *http.Request) {
	email, ok := GetUserEmail(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	snapshot, err := h.service.Balance(r.Context(), email)
	if err != nil {
		log.Printf("level=warn component=api endpoint=balance outcome=failed user=%s err=%v", email, err)
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, snapshot)
}

// DailyLimitHandler serves only the daily trading headroom.
func (h *MarketHandlers) DailyLimitHandler(w http.ResponseWriter, r *http.Request) {
	email, ok := GetUserEmail(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	snapshot, err := h.service.DailyLimit(r.Context(), email)
	if err != nil {
		log.Printf("level=warn component=api endpoint=daily_limit outcome=failed user=%s err=%v", email, err)
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, snapshot)
}

// TransactionsHandler lists the authenticated user's ledger history.
func (h *MarketHandlers) TransactionsHandler(w http.ResponseWriter, r *http.Request) {
	email, ok := GetUserEmail(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	transactions, err := h.service.Transactions(r.Context(), email, queryInt(r, "limit"))
	if err != nil {
		log.Printf("level=warn component=api endpoint=transactions outcome=failed user=%s err=%v", email, err)
		h.writeServiceError(w, err)
		return
	}
	if transactions == nil {
		transactions = []domain.Transaction{}
	}
	h.writeJSON(w, http.StatusOK, transactions)
}

// DepositHandler files a new deposit claim.
func (h *MarketHandlers) DepositHandler(w http.ResponseWriter, r *http.Request) {
	email, ok := GetUserEmail(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	var sub domain.DepositSubmission
	if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
		log.Printf("level=warn component=api endpoint=deposit outcome=reject reason=invalid_json err=%v", err)
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}

	req, err := h.service.SubmitDeposit(r.Context(), email, sub)
	if err != nil {
		log.Printf("level=warn component=api endpoint=deposit outcome=failed user=%s err=%v", email, err)
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, req)
}

// DepositHistoryHandler lists the authenticated user's deposit requests.
func (h *MarketHandlers) DepositHistoryHandler(w http.ResponseWriter, r *http.Request) {
	email, ok := GetUserEmail(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	requests, err := h.service.DepositHistory(r.Context(), email, queryInt(r, "limit"))
	if err != nil {
		log.Printf("level=warn component=api endpoint=deposit_history outcome=failed user=%s err=%v", email, err)
		h.writeServiceError(w, err)
		return
	}
	if requests == nil {
		requests = []domain.DepositRequest{}
	}
	h.writeJSON(w, http.StatusOK, requests)
}

// WithdrawHandler files a new withdrawal request with the amount escrowed.
func (h *MarketHandlers) WithdrawHandler(w http.ResponseWriter, r *http.Request) {
	email, ok := GetUserEmail(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	var sub domain.WithdrawSubmission
	if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
		log.Printf("level=warn component=api endpoint=withdraw outcome=reject reason=invalid_json err=%v", err)
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}

	req, err := h.service.RequestWithdrawal(r.Context(), email, sub)
	if err != nil {
		log.Printf("level=warn component=api endpoint=withdraw outcome=failed user=%s amount=%.2f err=%v", email, sub.Amount, err)
		h.writeServiceError(w, err)
		return
	}

	// Never echo the full account number back.
	req.AccountNumber = req.MaskedAccountNumber()
	h.writeJSON(w, http.StatusCreated, req)
}

// WithdrawalHistoryHandler lists the authenticated user's withdrawal requests.
func (h *MarketHandlers) WithdrawalHistoryHandler(w http.ResponseWriter, r *http.Request) {
	email, ok := GetUserEmail(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	requests, err := h.service.WithdrawalHistory(r.Context(), email)
	if err != nil {
		log.Printf("level=warn component=api endpoint=withdrawal_history outcome=failed user=%s err=%v", email, err)
		h.writeServiceError(w, err)
		return
	}
	if requests == nil {
		requests = []domain.WithdrawRequest{}
	}
	h.writeJSON(w, http.StatusOK, requests)
}

// writeServiceError maps service and store errors onto HTTP statuses.
func (h *MarketHandlers) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrInsufficientFunds):
		h.writeError(w, http.StatusPaymentRequired, err.Error())
	case errors.Is(err, store.ErrUserNotFound):
		h.writeError(w, http.StatusNotFound, "User not found")
	case errors.Is(err, store.ErrDepositNotFound),
		errors.Is(err, store.ErrWithdrawalNotFound),
		errors.Is(err, store.ErrDailyTotalNotFound):
		h.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrInvalidStatusChange):
		h.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, app.ErrConcurrentUpdate):
		h.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, app.ErrRateLimited):
		h.writeError(w, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, app.ErrDailyLimitReached),
		errors.Is(err, app.ErrOrderTooLarge),
		errors.Is(err, app.ErrInvalidAmount),
		errors.Is(err, app.ErrSellDisabled),
		errors.Is(err, app.ErrInvalidSentiment),
		errors.Is(err, app.ErrInvalidDeposit),
		errors.Is(err, app.ErrInvalidWithdrawal):
		h.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, app.ErrPriceFloorBreached),
		errors.Is(err, app.ErrPoolDrained),
		errors.Is(err, app.ErrPoolProtection),
		errors.Is(err, app.ErrInsufficientPosition),
		errors.Is(err, app.ErrMarketUnavailable):
		h.writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, app.ErrForbidden):
		h.writeError(w, http.StatusForbidden, err.Error())
	default:
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

// queryInt parses an integer query parameter, zero when absent or malformed.
func queryInt(r *http.Request, name string) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return value
}

// writeJSON is a helper for writing JSON responses.
func (h *MarketHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func (h *MarketHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
