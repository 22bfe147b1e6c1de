/**
 * @description
 * This file sets up the HTTP router for the market-service. It defines the API
 * endpoints, associates them with their corresponding handlers, and applies any
 * necessary middleware, such as for authentication.
 *
 * @dependencies
 * - net/http: Standard Go library for HTTP functionality.
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 * - github.com/go-chi/cors: CORS middleware for browser clients.
 */

package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// MarketRoutes creates and returns a new router for the market service.
func MarketRoutes(h *MarketHandlers, jwtSecret, jwtIssuer, allowedOrigins string, isAdmin func(ctx context.Context, email string) (bool, error)) http.Handler {
	r := chi.NewRouter()

	// Add standard middleware for logging, panic recovery, and timeouts.
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   splitOrigins(allowedOrigins),
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	// Public market data.
	r.Get("/api/price", h.PriceHandler)
	r.Get("/api/market/stats", h.MarketStatsHandler)

	// Group routes that require authentication.
	r.Group(func(r chi.Router) {
		r.Use(JWTAuthMiddleware(jwtSecret, jwtIssuer))

		r.Post("/api/accelerate-order", h.AccelerateOrderHandler)
		r.Get("/api/balance", h.BalanceHandler)
		r.Get("/api/daily-limit", h.DailyLimitHandler)
		r.Get("/api/transactions", h.TransactionsHandler)

		r.Post("/api/deposit", h.DepositHandler)
		r.Get("/api/deposits", h.DepositHistoryHandler)

		r.Post("/api/withdraw", h.WithdrawHandler)
		r.Get("/api/withdrawals", h.WithdrawalHistoryHandler)

		// Admin console, gated on the role column.
		r.Group(func(r chi.Router) {
			r.Use(AdminOnly(isAdmin))

			r.Get("/api/admin/dashboard", h.DashboardHandler)
			r.Get("/api/admin/system-health", h.SystemHealthHandler)
			r.Get("/api/admin/price-floor", h.PriceFloorHandler)
			r.Post("/api/admin/adjust-pool", h.AdjustPoolHandler)
			r.Post("/api/admin/reset-daily-limit", h.ResetDailyLimitHandler)

			r.Get("/api/admin/users", h.AdminUsersHandler)
			r.Get("/api/admin/users/{email}", h.AdminUserDetailHandler)
			r.Get("/api/admin/transactions", h.AdminTransactionsHandler)

			r.Get("/api/admin/deposits", h.AdminDepositsHandler)
			r.Put("/api/admin/deposits/{requestID}/status", h.AdminDepositStatusHandler)

			r.Get("/api/admin/withdrawals", h.AdminWithdrawalsHandler)
			r.Get("/api/admin/withdrawals/stats", h.AdminWithdrawalStatsHandler)
			r.Put("/api/admin/withdrawals/{requestID}/status", h.AdminWithdrawalStatusHandler)

			r.Get("/api/admin/tax/stats", h.AdminTaxStatsHandler)
			r.Get("/api/admin/tax/records", h.AdminTaxRecordsHandler)
			r.Get("/api/admin/audit-log", h.AdminAuditLogHandler)
		})
	})

	return r
}

func splitOrigins(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "*" {
		return []string{"*"}
	}
	parts := strings.Split(raw, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}
