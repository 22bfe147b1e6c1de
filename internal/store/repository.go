/**
 * @description
 * This file defines the `Repository` interface, the contract for all data access
 * required by the market-service. The business logic in internal/app depends only
 * on this interface, which keeps the trade engine and the withdrawal state machine
 * testable against in-memory stubs and independent of PostgreSQL specifics.
 *
 * The multi-write operations (order commit, withdrawal transitions, deposit
 * approval) are deliberately exposed as single atomic methods: the ledger rules
 * they enforce — pool compare-and-swap, escrow, exactly-once credit — only hold
 * if all of their writes land in one database transaction.
 *
 * @dependencies
 * - context: Standard Go library.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"

	"github.com/unitedworld/market-service/internal/domain"
)

// Repository defines the set of methods for interacting with the ledger store.
type Repository interface {
	// User methods
	FindUserByEmail(ctx context.Context, email string) (*domain.User, error)
	ListUsers(ctx context.Context) ([]domain.User, error)
	SumUserINRBalances(ctx context.Context) (float64, error)

	// Market pool methods
	EnsureMarketPool(ctx context.Context, inrReserve, mrxReserve float64) error
	GetMarketPool(ctx context.Context) (*domain.MarketPool, error)
	// SetMarketPool persists an admin pool adjustment with a version check and
	// writes the audit entry in the same transaction.
	SetMarketPool(ctx context.Context, adjustment PoolAdjustment) error

	// Trade commit: all step-8 writes of an accelerate order as one transaction.
	CommitAccelerateOrder(ctx context.Context, commit AccelerateCommit) error

	// Internal MRX balance methods
	GetInternalMRXBalance(ctx context.Context, email string) (float64, error)
	SumInternalMRX(ctx context.Context) (float64, error)

	// Daily trade total methods
	GetDailyTradeTotal(ctx context.Context, tradeDate, email string) (*domain.DailyTradeTotal, error)
	ListDailyTradeTotals(ctx context.Context, tradeDate string) ([]domain.DailyTradeTotal, error)
	// ResetDailyTradeTotal deletes the user's row for the given date and audit-logs
	// the prior total atomically. Returns the deleted total.
	ResetDailyTradeTotal(ctx context.Context, tradeDate, email string, audit domain.AdminAuditEntry) (float64, error)

	// Transaction ledger methods
	AppendTransaction(ctx context.Context, txn *domain.Transaction) error
	FindTransactionsByUser(ctx context.Context, email string, limit int) ([]domain.Transaction, error)
	FindRecentTransactions(ctx context.Context, limit int) ([]domain.Transaction, error)

	// Deposit request methods
	CreateDepositRequest(ctx context.Context, req *domain.DepositRequest) error
	GetDepositRequest(ctx context.Context, requestID string) (*domain.DepositRequest, error)
	FindDepositRequestsByUser(ctx context.Context, email string, limit int) ([]domain.DepositRequest, error)
	ListDepositRequests(ctx context.Context, limit int) ([]domain.DepositRequest, error)
	// SetDepositStatus performs the guarded status transition. A transition into
	// approved credits the user's balance exactly once, appends the deposit
	// transaction and the audit entry, all in one database transaction. The
	// returned flag reports whether a credit happened.
	SetDepositStatus(ctx context.Context, transition DepositTransition) (bool, error)

	// Withdrawal request methods
	// CreateWithdrawRequestEscrow inserts the pending request, deducts the amount
	// from the user's visible balance and appends the escrow transaction as one
	// database transaction. Fails with ErrInsufficientFunds without side effects.
	CreateWithdrawRequestEscrow(ctx context.Context, req *domain.WithdrawRequest, escrowTxn *domain.Transaction) error
	GetWithdrawRequest(ctx context.Context, requestID string) (*domain.WithdrawRequest, error)
	FindWithdrawRequestsByUser(ctx context.Context, email string) ([]domain.WithdrawRequest, error)
	ListWithdrawRequests(ctx context.Context, limit int) ([]domain.WithdrawRequest, error)
	GetWithdrawalStats(ctx context.Context) (*domain.WithdrawalStats, error)
	// ApproveWithdrawal commits the pending→approved transition: status guard,
	// pool compare-and-swap, internal MRX debit, ledger transaction and audit
	// entry in one database transaction.
	ApproveWithdrawal(ctx context.Context, approval WithdrawalApproval) error
	// RejectWithdrawalWithRefund commits pending→rejected: status guard, balance
	// refund, compensating transaction and audit entry in one database transaction.
	RejectWithdrawalWithRefund(ctx context.Context, rejection WithdrawalRejection) error
	// MarkWithdrawalProcessed commits approved→processed (record-only).
	MarkWithdrawalProcessed(ctx context.Context, requestID string, audit domain.AdminAuditEntry, txn *domain.Transaction) error
	// ForceWithdrawalStatus writes a status with no business effect, guarded by
	// the expected current status, plus the audit entry.
	ForceWithdrawalStatus(ctx context.Context, requestID, fromStatus, toStatus, remarks string, audit domain.AdminAuditEntry) error

	// Tax and order ledger methods
	FindTaxRecords(ctx context.Context, limit int) ([]domain.TaxRecord, error)
	GetTaxStats(ctx context.Context) (*domain.TaxStats, error)

	// Admin audit methods
	AppendAdminAudit(ctx context.Context, entry *domain.AdminAuditEntry) error
	FindRecentAdminAudit(ctx context.Context, limit int) ([]domain.AdminAuditEntry, error)
}

// AccelerateCommit carries every write of an executed buy order. The pool update
// is a compare-and-swap against ExpectedPoolVersion; the user debit/credit is a
// delta applied under a row lock; the daily total upsert re-enforces DailyLimit
// so two concurrent trades cannot both slip under the ceiling.
type AccelerateCommit struct {
	UserEmail string

	// Amount is the gross INR leaving the wallet; MRXValue is the mark-to-market
	// value credited back, so the visible balance nets to -Amount+MRXValue.
	Amount   float64
	MRXValue float64

	// MRXReceived is credited to the user's internal MRX balance.
	MRXReceived float64

	NewINRReserve       float64
	NewMRXReserve       float64
	ExpectedPoolVersion int64

	TradeDate  string
	DailyLimit float64

	Txn   domain.Transaction
	Tax   domain.TaxRecord
	Order domain.OrderRecord
}

// WithdrawalApproval carries the writes of a pending→approved transition.
type WithdrawalApproval struct {
	RequestID string
	UserEmail string
	Amount    float64
	MRXToSell float64

	NewINRReserve       float64
	NewMRXReserve       float64
	ExpectedPoolVersion int64

	Txn   domain.Transaction
	Audit domain.AdminAuditEntry
}

// WithdrawalRejection carries the writes of a pending→rejected transition,
// including the escrow refund. Audit is skipped when AdminEmail is empty
// (auto-rejections triggered by pool guards still record it with the acting
// admin as author).
type WithdrawalRejection struct {
	RequestID string
	UserEmail string
	Amount    float64
	Remarks   string

	Txn   domain.Transaction
	Audit domain.AdminAuditEntry
}

// DepositTransition carries a guarded deposit status change. CreditTxn is only
// written when the transition into approved actually credits the balance.
type DepositTransition struct {
	RequestID string
	NewStatus string

	CreditTxn *domain.Transaction
	Audit     domain.AdminAuditEntry
}

// PoolAdjustment carries an admin pool override.
type PoolAdjustment struct {
	INRReserve          float64
	MRXReserve          float64
	ExpectedPoolVersion int64
	Audit               domain.AdminAuditEntry
}
