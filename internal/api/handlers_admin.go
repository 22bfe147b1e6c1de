/**
 * @description
 * This file contains the HTTP handlers for the admin console endpoints: the
 * dashboard aggregate, system health, pool adjustment, daily limit resets,
 * deposit and withdrawal review, tax reporting and the audit log. All routes in
 * this file sit behind the AdminOnly middleware.
 *
 * @dependencies
 * - encoding/json, log, net/http: Standard Go libraries.
 * - github.com/go-chi/chi/v5: For URL parameters.
 * - internal/domain: For domain models.
 */

package api

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/unitedworld/market-service/internal/domain"
)

// DashboardHandler serves the admin landing aggregate.
func (h *MarketHandlers) DashboardHandler(w http.ResponseWriter, r *http.Request) {
	dashboard, err := h.service.Dashboard(r.Context())
	if err != nil {
		log.Printf("level=error component=api endpoint=admin_dashboard outcome=failed err=%v", err)
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, dashboard)
}

// SystemHealthHandler serves the pool state and supply reconciliation.
func (h *MarketHandlers) SystemHealthHandler(w http.ResponseWriter, r *http.Request) {
	health, err := h.service.SystemHealth(r.Context())
	if err != nil {
		log.Printf("level=error component=api endpoint=admin_system_health outcome=failed err=%v", err)
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, health)
}

// PriceFloorHandler serves the price floor guard status.
func (h *MarketHandlers) PriceFloorHandler(w http.ResponseWriter, r *http.Request) {
	status, err := h.service.PriceFloorStatus(r.Context())
	if err != nil {
		log.Printf("level=error component=api endpoint=admin_price_floor outcome=failed err=%v", err)
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, status)
}

// AdjustPoolHandler overwrites the pool reserves.
func (h *MarketHandlers) AdjustPoolHandler(w http.ResponseWriter, r *http.Request) {
	adminEmail, _ := GetUserEmail(r.Context())

	var req struct {
		INRReserve float64 `json:"inr_pool"`
		MRXReserve float64 `json:"mrx_pool"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}

	pool, err := h.service.AdjustPool(r.Context(), adminEmail, r.RemoteAddr, req.INRReserve, req.MRXReserve)
	if err != nil {
		log.Printf("level=warn component=api endpoint=admin_adjust_pool outcome=failed admin=%s err=%v", adminEmail, err)
		h.writeServiceError(w, err)
		return
	}

	log.Printf("level=info component=api endpoint=admin_adjust_pool outcome=applied admin=%s inr=%.2f mrx=%.6f", adminEmail, pool.INRReserve, pool.MRXReserve)
	h.writeJSON(w, http.StatusOK, pool)
}

// ResetDailyLimitHandler clears a user's buy volume for today.
func (h *MarketHandlers) ResetDailyLimitHandler(w http.ResponseWriter, r *http.Request) {
	adminEmail, _ := GetUserEmail(r.Context())

	var req struct {
		UserEmail string `json:"user_email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}
	if req.UserEmail == "" {
		h.writeError(w, http.StatusBadRequest, "user_email is required")
		return
	}

	cleared, err := h.service.ResetDailyLimit(r.Context(), adminEmail, r.RemoteAddr, req.UserEmail)
	if err != nil {
		log.Printf("level=warn component=api endpoint=admin_reset_daily_limit outcome=failed admin=%s user=%s err=%v", adminEmail, req.UserEmail, err)
		h.writeServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"user_email":     req.UserEmail,
		"cleared_amount": cleared,
	})
}

// AdminUsersHandler lists users with an optional search filter.
func (h *MarketHandlers) AdminUsersHandler(w http.ResponseWriter, r *http.Request) {
	users, err := h.service.AdminUsers(r.Context(), r.URL.Query().Get("search"))
	if err != nil {
		log.Printf("level=error component=api endpoint=admin_users outcome=failed err=%v", err)
		h.writeServiceError(w, err)
		return
	}
	if users == nil {
		users = []domain.User{}
	}
	h.writeJSON(w, http.StatusOK, users)
}

// AdminUserDetailHandler serves one user's full picture.
func (h *MarketHandlers) AdminUserDetailHandler(w http.ResponseWriter, r *http.Request) {
	email := chi.URLParam(r, "email")
	user, snapshot, transactions, err := h.service.AdminUserDetail(r.Context(), email)
	if err != nil {
		log.Printf("level=warn component=api endpoint=admin_user_detail outcome=failed user=%s err=%v", email, err)
		h.writeServiceError(w, err)
		return
	}
	if transactions == nil {
		transactions = []domain.Transaction{}
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"user":         user,
		"balance":      snapshot,
		"transactions": transactions,
	})
}

// AdminTransactionsHandler lists recent transactions with filters.
func (h *MarketHandlers) AdminTransactionsHandler(w http.ResponseWriter, r *http.Request) {
	transactions, err := h.service.AdminTransactions(r.Context(), domain.ListOptions{
		Limit:  queryInt(r, "limit"),
		Status: r.URL.Query().Get("status"),
		Search: r.URL.Query().Get("search"),
	})
	if err != nil {
		log.Printf("level=error component=api endpoint=admin_transactions outcome=failed err=%v", err)
		h.writeServiceError(w, err)
		return
	}
	if transactions == nil {
		transactions = []domain.Transaction{}
	}
	h.writeJSON(w, http.StatusOK, transactions)
}

// AdminDepositsHandler lists deposit requests for review.
func (h *MarketHandlers) AdminDepositsHandler(w http.ResponseWriter, r *http.Request) {
	requests, err := h.service.AdminDeposits(r.Context(), queryInt(r, "limit"))
	if err != nil {
		log.Printf("level=error component=api endpoint=admin_deposits outcome=failed err=%v", err)
		h.writeServiceError(w, err)
		return
	}
	if requests == nil {
		requests = []domain.DepositRequest{}
	}
	h.writeJSON(w, http.StatusOK, requests)
}

// AdminDepositStatusHandler applies an admin decision to a deposit request.
func (h *MarketHandlers) AdminDepositStatusHandler(w http.ResponseWriter, r *http.Request) {
	adminEmail, _ := GetUserEmail(r.Context())
	requestID := chi.URLParam(r, "requestID")

	var req struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}

	if err := h.service.ResolveDeposit(r.Context(), adminEmail, r.RemoteAddr, requestID, req.Status); err != nil {
		log.Printf("level=warn component=api endpoint=admin_deposit_status outcome=failed admin=%s request=%s err=%v", adminEmail, requestID, err)
		h.writeServiceError(w, err)
		return
	}

	log.Printf("level=info component=api endpoint=admin_deposit_status outcome=applied admin=%s request=%s status=%s", adminEmail, requestID, req.Status)
	h.writeJSON(w, http.StatusOK, map[string]string{
		"request_id": requestID,
		"status":     req.Status,
	})
}

// AdminWithdrawalsHandler lists withdrawal requests with filters.
func (h *MarketHandlers) AdminWithdrawalsHandler(w http.ResponseWriter, r *http.Request) {
	requests, err := h.service.AdminWithdrawals(r.Context(), domain.ListOptions{
		Limit:  queryInt(r, "limit"),
		Status: r.URL.Query().Get("status"),
	})
	if err != nil {
		log.Printf("level=error component=api endpoint=admin_withdrawals outcome=failed err=%v", err)
		h.writeServiceError(w, err)
		return
	}
	if requests == nil {
		requests = []domain.WithdrawRequest{}
	}
	h.writeJSON(w, http.StatusOK, requests)
}

// AdminWithdrawalStatsHandler serves withdrawal aggregates by status.
func (h *MarketHandlers) AdminWithdrawalStatsHandler(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.WithdrawalStats(r.Context())
	if err != nil {
		log.Printf("level=error component=api endpoint=admin_withdrawal_stats outcome=failed err=%v", err)
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, stats)
}

// AdminWithdrawalStatusHandler applies an admin decision to a withdrawal request.
func (h *MarketHandlers) AdminWithdrawalStatusHandler(w http.ResponseWriter, r *http.Request) {
	adminEmail, _ := GetUserEmail(r.Context())
	requestID := chi.URLParam(r, "requestID")

	var req struct {
		Status  string `json:"status"`
		Remarks string `json:"remarks"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}

	if err := h.service.SetWithdrawalStatus(r.Context(), adminEmail, r.RemoteAddr, requestID, req.Status, req.Remarks); err != nil {
		log.Printf("level=warn component=api endpoint=admin_withdrawal_status outcome=failed admin=%s request=%s status=%s err=%v", adminEmail, requestID, req.Status, err)
		h.writeServiceError(w, err)
		return
	}

	log.Printf("level=info component=api endpoint=admin_withdrawal_status outcome=applied admin=%s request=%s status=%s", adminEmail, requestID, req.Status)
	h.writeJSON(w, http.StatusOK, map[string]string{
		"request_id": requestID,
		"status":     req.Status,
	})
}

// AdminTaxStatsHandler serves tax totals by order type.
func (h *MarketHandlers) AdminTaxStatsHandler(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.TaxStats(r.Context())
	if err != nil {
		log.Printf("level=error component=api endpoint=admin_tax_stats outcome=failed err=%v", err)
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, stats)
}

// AdminTaxRecordsHandler lists tax ledger entries with filters.
func (h *MarketHandlers) AdminTaxRecordsHandler(w http.ResponseWriter, r *http.Request) {
	records, err := h.service.TaxRecords(r.Context(), domain.ListOptions{
		Limit:     queryInt(r, "limit"),
		OrderType: r.URL.Query().Get("order_type"),
		Search:    r.URL.Query().Get("search"),
	})
	if err != nil {
		log.Printf("level=error component=api endpoint=admin_tax_records outcome=failed err=%v", err)
		h.writeServiceError(w, err)
		return
	}
	if records == nil {
		records = []domain.TaxRecord{}
	}
	h.writeJSON(w, http.StatusOK, records)
}

// AdminAuditLogHandler lists the newest audit entries.
func (h *MarketHandlers) AdminAuditLogHandler(w http.ResponseWriter, r *http.Request) {
	entries, err := h.service.AuditLog(r.Context(), queryInt(r, "limit"))
	if err != nil {
		log.Printf("level=error component=api endpoint=admin_audit_log outcome=failed err=%v", err)
		h.writeServiceError(w, err)
		return
	}
	if entries == nil {
		entries = []domain.AdminAuditEntry{}
	}
	h.writeJSON(w, http.StatusOK, entries)
}
