/**
 * @description
 * This file contains the admin-facing business logic: the dashboard aggregate,
 * the system health report with the token supply reconciliation, pool
 * adjustments, daily limit resets and the admin listings over users,
 * transactions, deposits, withdrawals, tax records and the audit log.
 *
 * @dependencies
 * - context, fmt, log, math, strings: Standard Go libraries.
 * - internal/domain, internal/store: For domain models and data access.
 */

package app

import (
	"context"
	"fmt"
	"log"
	"math"
	"strings"

	"github.com/unitedworld/market-service/internal/domain"
	"github.com/unitedworld/market-service/internal/store"
)

// Listing caps for the admin console. These bound response sizes, not the data.
const (
	adminTransactionCap = 50
	adminTaxRecordCap   = 100
	adminWithdrawalCap  = 1000
	adminAuditCap       = 50
)

// IsAdmin reports whether the user exists and carries the admin role. A
// missing user is simply not an admin, not an error.
func (s *Service) IsAdmin(ctx context.Context, email string) (bool, error) {
	user, err := s.repo.FindUserByEmail(ctx, email)
	if err != nil {
		if err == store.ErrUserNotFound {
			return false, nil
		}
		return false, err
	}
	return user.IsAdmin(), nil
}

// Dashboard assembles the admin landing aggregate.
func (s *Service) Dashboard(ctx context.Context) (*domain.AdminDashboard, error) {
	users, err := s.repo.ListUsers(ctx)
	if err != nil {
		return nil, err
	}

	totalINR, err := s.repo.SumUserINRBalances(ctx)
	if err != nil {
		return nil, err
	}

	pool, err := s.repo.GetMarketPool(ctx)
	if err != nil {
		return nil, err
	}

	deposits, err := s.repo.ListDepositRequests(ctx, 0)
	if err != nil {
		return nil, err
	}
	pendingDeposits := 0
	for i := range deposits {
		if deposits[i].Status == domain.StatusPending {
			pendingDeposits++
		}
	}

	withdrawalStats, err := s.repo.GetWithdrawalStats(ctx)
	if err != nil {
		return nil, err
	}

	taxStats, err := s.repo.GetTaxStats(ctx)
	if err != nil {
		return nil, err
	}

	recent, err := s.repo.FindRecentTransactions(ctx, adminTransactionCap)
	if err != nil {
		return nil, err
	}

	audit, err := s.repo.FindRecentAdminAudit(ctx, adminAuditCap)
	if err != nil {
		return nil, err
	}

	return &domain.AdminDashboard{
		TotalUsers:         len(users),
		TotalINRBalances:   domain.RoundINR(totalINR),
		Pool:               *pool,
		Price:              domain.RoundPrice(pool.Price()),
		PendingDeposits:    pendingDeposits,
		Withdrawals:        *withdrawalStats,
		TaxCollected:       domain.RoundINR(taxStats.TotalTax),
		RecentTransactions: recent,
		RecentAuditEntries: audit,
	}, nil
}

// SystemHealth runs the token supply reconciliation: the pool reserve plus all
// hidden positions must equal the fixed initial supply within tolerance. A
// mismatch means a conservation bug, not a data entry problem.
func (s *Service) SystemHealth(ctx context.Context) (*domain.SystemHealth, error) {
	pool, err := s.repo.GetMarketPool(ctx)
	if err != nil {
		return nil, err
	}

	totalInternal, err := s.repo.SumInternalMRX(ctx)
	if err != nil {
		return nil, err
	}

	systemTotal := pool.MRXReserve + totalInternal
	discrepancy := systemTotal - InitialMRXSupply
	reconciled := math.Abs(discrepancy) <= SupplyTolerance
	if !reconciled {
		log.Printf("WARN: SystemHealth: supply mismatch: pool=%.6f internal=%.6f discrepancy=%.6f", pool.MRXReserve, totalInternal, discrepancy)
	}

	price := pool.Price()
	return &domain.SystemHealth{
		Pool:  *pool,
		Price: domain.RoundPrice(price),
		Reconciliation: domain.Reconciliation{
			TotalInternalMRX: domain.RoundMRX(totalInternal),
			SystemMRXTotal:   domain.RoundMRX(systemTotal),
			InitialSupply:    InitialMRXSupply,
			Reconciled:       reconciled,
			Discrepancy:      domain.RoundMRX(discrepancy),
		},
		PriceFloor: s.priceFloorStatus(pool),
	}, nil
}

// PriceFloorStatus reports the floor guard on its own.
func (s *Service) PriceFloorStatus(ctx context.Context) (*domain.PriceFloorStatus, error) {
	pool, err := s.repo.GetMarketPool(ctx)
	if err != nil {
		return nil, err
	}
	status := s.priceFloorStatus(pool)
	return &status, nil
}

func (s *Service) priceFloorStatus(pool *domain.MarketPool) domain.PriceFloorStatus {
	price := pool.Price()
	return domain.PriceFloorStatus{
		Floor:        PriceFloor,
		CurrentPrice: domain.RoundPrice(price),
		AboveFloor:   price >= PriceFloor,
		Margin:       domain.RoundPrice(price - PriceFloor),
	}
}

// AdjustPool overwrites both reserves. The write carries the version the admin
// read, so it loses cleanly to any trade that landed in between.
func (s *Service) AdjustPool(ctx context.Context, adminEmail, origin string, inrReserve, mrxReserve float64) (*domain.MarketPool, error) {
	if inrReserve <= 0 || mrxReserve <= 0 {
		return nil, fmt.Errorf("%w: reserves must be greater than zero", ErrInvalidAmount)
	}
	if inrReserve/mrxReserve < PriceFloor {
		return nil, ErrPriceFloorBreached
	}

	pool, err := s.repo.GetMarketPool(ctx)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	adjustment := store.PoolAdjustment{
		INRReserve:          domain.RoundINR(inrReserve),
		MRXReserve:          domain.RoundMRX(mrxReserve),
		ExpectedPoolVersion: pool.Version,
		Audit: domain.AdminAuditEntry{
			LogID:      domain.NewRecordID("LOG", now),
			AdminEmail: adminEmail,
			Action:     "pool_adjustment",
			TargetID:   "market_pool",
			TargetType: "market_pool",
			Details:    fmt.Sprintf("reserves set to inr=%.2f mrx=%.6f (was inr=%.2f mrx=%.6f)", inrReserve, mrxReserve, pool.INRReserve, pool.MRXReserve),
			Origin:     origin,
			CreatedAt:  now,
		},
	}

	if err := s.repo.SetMarketPool(ctx, adjustment); err != nil {
		if err == store.ErrPoolConflict {
			return nil, ErrConcurrentUpdate
		}
		return nil, err
	}

	log.Printf("AdjustPool: %s set reserves inr=%.2f mrx=%.6f", adminEmail, inrReserve, mrxReserve)
	return s.repo.GetMarketPool(ctx)
}

// ResetDailyLimit clears a user's buy volume for today, returning the total
// that was cleared.
func (s *Service) ResetDailyLimit(ctx context.Context, adminEmail, origin, userEmail string) (float64, error) {
	now := s.now().UTC()
	tradeDate := s.tradeDate()

	cleared, err := s.repo.ResetDailyTradeTotal(ctx, tradeDate, userEmail, domain.AdminAuditEntry{
		LogID:      domain.NewRecordID("LOG", now),
		AdminEmail: adminEmail,
		Action:     "daily_limit_reset",
		TargetID:   userEmail,
		TargetType: "daily_trade_total",
		Details:    "cleared daily trade total for " + tradeDate,
		Origin:     origin,
		CreatedAt:  now,
	})
	if err != nil {
		return 0, err
	}

	log.Printf("ResetDailyLimit: %s cleared %.2f for %s on %s", adminEmail, cleared, userEmail, tradeDate)
	return cleared, nil
}

// AdminUsers lists all users with an optional free-text filter over name,
// email and mobile.
func (s *Service) AdminUsers(ctx context.Context, search string) ([]domain.User, error) {
	users, err := s.repo.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	search = strings.ToLower(strings.TrimSpace(search))
	if search == "" {
		return users, nil
	}

	filtered := make([]domain.User, 0, len(users))
	for _, u := range users {
		if strings.Contains(strings.ToLower(u.FullName), search) ||
			strings.Contains(strings.ToLower(u.Email), search) ||
			strings.Contains(u.Mobile, search) {
			filtered = append(filtered, u)
		}
	}
	return filtered, nil
}

// AdminUserDetail assembles one user's full picture for the admin console.
func (s *Service) AdminUserDetail(ctx context.Context, email string) (*domain.User, *domain.BalanceSnapshot, []domain.Transaction, error) {
	user, err := s.repo.FindUserByEmail(ctx, email)
	if err != nil {
		return nil, nil, nil, err
	}

	snapshot, err := s.Balance(ctx, email)
	if err != nil {
		return nil, nil, nil, err
	}

	transactions, err := s.repo.FindTransactionsByUser(ctx, email, adminTransactionCap)
	if err != nil {
		return nil, nil, nil, err
	}

	return user, snapshot, transactions, nil
}

// AdminTransactions lists recent transactions with optional filters.
func (s *Service) AdminTransactions(ctx context.Context, opts domain.ListOptions) ([]domain.Transaction, error) {
	limit := opts.Limit
	if limit <= 0 || limit > adminTransactionCap {
		limit = adminTransactionCap
	}
	transactions, err := s.repo.FindRecentTransactions(ctx, limit)
	if err != nil {
		return nil, err
	}

	search := strings.ToLower(strings.TrimSpace(opts.Search))
	status := strings.ToLower(strings.TrimSpace(opts.Status))
	if search == "" && status == "" {
		return transactions, nil
	}

	filtered := make([]domain.Transaction, 0, len(transactions))
	for _, txn := range transactions {
		if status != "" && txn.Status != status {
			continue
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(txn.UserEmail), search) &&
			!strings.Contains(strings.ToLower(txn.TxnID), search) &&
			!strings.Contains(strings.ToLower(txn.Type), search) {
			continue
		}
		filtered = append(filtered, txn)
	}
	return filtered, nil
}

// AdminDeposits lists deposit requests for review, pending first.
func (s *Service) AdminDeposits(ctx context.Context, limit int) ([]domain.DepositRequest, error) {
	return s.repo.ListDepositRequests(ctx, limit)
}

// AdminWithdrawals lists withdrawal requests with optional status filter,
// pending first.
func (s *Service) AdminWithdrawals(ctx context.Context, opts domain.ListOptions) ([]domain.WithdrawRequest, error) {
	limit := opts.Limit
	if limit <= 0 || limit > adminWithdrawalCap {
		limit = adminWithdrawalCap
	}
	requests, err := s.repo.ListWithdrawRequests(ctx, limit)
	if err != nil {
		return nil, err
	}

	status := strings.ToLower(strings.TrimSpace(opts.Status))
	if status == "" {
		return requests, nil
	}

	filtered := make([]domain.WithdrawRequest, 0, len(requests))
	for _, req := range requests {
		if req.Status == status {
			filtered = append(filtered, req)
		}
	}
	return filtered, nil
}

// WithdrawalStats aggregates withdrawal requests by status.
func (s *Service) WithdrawalStats(ctx context.Context) (*domain.WithdrawalStats, error) {
	return s.repo.GetWithdrawalStats(ctx)
}

// TaxStats aggregates the tax ledger by order type.
func (s *Service) TaxStats(ctx context.Context) (*domain.TaxStats, error) {
	return s.repo.GetTaxStats(ctx)
}

// TaxRecords lists tax ledger entries with optional order type and free-text
// filters.
func (s *Service) TaxRecords(ctx context.Context, opts domain.ListOptions) ([]domain.TaxRecord, error) {
	limit := opts.Limit
	if limit <= 0 || limit > adminTaxRecordCap {
		limit = adminTaxRecordCap
	}
	records, err := s.repo.FindTaxRecords(ctx, limit)
	if err != nil {
		return nil, err
	}

	orderType := strings.ToLower(strings.TrimSpace(opts.OrderType))
	search := strings.ToLower(strings.TrimSpace(opts.Search))
	if orderType == "" && search == "" {
		return records, nil
	}

	filtered := make([]domain.TaxRecord, 0, len(records))
	for _, rec := range records {
		if orderType != "" && rec.OrderType != orderType {
			continue
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(rec.UserEmail), search) &&
			!strings.Contains(strings.ToLower(rec.UserName), search) {
			continue
		}
		filtered = append(filtered, rec)
	}
	return filtered, nil
}

// AuditLog lists the newest admin audit entries.
func (s *Service) AuditLog(ctx context.Context, limit int) ([]domain.AdminAuditEntry, error) {
	if limit <= 0 || limit > adminAuditCap {
		limit = adminAuditCap
	}
	return s.repo.FindRecentAdminAudit(ctx, limit)
}
