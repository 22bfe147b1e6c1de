/**
 * @description
 * This file defines the core domain models for the market-service. These structs
 * represent the ledger entities (users, pool, transactions, requests, tax and
 * audit records) and the data transfer objects used by the business logic,
 * database and API layers.
 *
 * @notes
 * - Monetary amounts are float64: INR values are rounded to 2 decimal places and
 *   MRX quantities to 6 decimal places at every persistence boundary (see
 *   RoundINR / RoundMRX). Accumulated rounding drift is accepted and surfaced by
 *   the reconciliation check rather than corrected.
 * - The user-facing MRX balance is always reported as zero. The real token
 *   position lives in InternalMRXBalance and is only ever shown converted to its
 *   INR value inside the visible wallet balance.
 */

package domain

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Withdrawal and deposit request statuses.
const (
	StatusPending    = "pending"
	StatusApproved   = "approved"
	StatusProcessing = "processing"
	StatusProcessed  = "processed"
	StatusRejected   = "rejected"
)

// User roles. Admin status is an explicit role column, not a naming convention.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// User represents an account holder. INRBalance is the visible wallet balance;
// MRXBalance is always zero in any user-facing view.
type User struct {
	UserID     string    `json:"user_id"`
	FullName   string    `json:"full_name"`
	Email      string    `json:"email"`
	Mobile     string    `json:"mobile"`
	Referral   string    `json:"referral"`
	Role       string    `json:"-"`
	INRBalance float64   `json:"inr_balance"`
	MRXBalance float64   `json:"mrx_balance"`
	CreatedAt  time.Time `json:"created_at"`
}

// IsAdmin reports whether the user carries the admin role.
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// MarketPool is the singleton two-sided reserve whose ratio defines the MRX
// price. Version is a compare-and-swap stamp: every pool mutation must name the
// version it read, and loses to any concurrent writer.
type MarketPool struct {
	INRReserve float64   `json:"inr_pool"`
	MRXReserve float64   `json:"mrx_pool"`
	Version    int64     `json:"-"`
	UpdatedAt  time.Time `json:"last_updated"`
}

// Price derives the INR-per-MRX price. Callers must treat 0 as "market
// unavailable"; a non-positive MRX reserve has no meaningful price.
func (p *MarketPool) Price() float64 {
	if p.MRXReserve <= 0 {
		return 0
	}
	return p.INRReserve / p.MRXReserve
}

// Transaction is an append-only record of a balance-affecting event. Rows are
// never updated after creation; they are the audit trail, not a balance source.
type Transaction struct {
	TxnID     string    `json:"txn_id"`
	UserEmail string    `json:"user_email"`
	Type      string    `json:"type"`
	AmountINR float64   `json:"amount_inr"`
	AmountMRX float64   `json:"amount_mrx"`
	Price     float64   `json:"price"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"timestamp"`
}

// Transaction type tags.
const (
	TxnAccelerateBullish      = "accelerate_bullish"
	TxnDepositApproved        = "deposit_approved"
	TxnWithdrawalRequested    = "withdrawal_requested"
	TxnWithdrawalApproved     = "withdrawal_approved"
	TxnWithdrawalRejected     = "withdrawal_rejected_refund"
	TxnWithdrawalInsufficient = "withdrawal_rejected_insufficient_mrx"
	TxnWithdrawalProcessed    = "withdrawal_processed"
)

// DepositRequest is a user's claim of an external payment awaiting admin
// verification. No balance moves until an admin approves it.
type DepositRequest struct {
	RequestID     string    `json:"request_id"`
	UserEmail     string    `json:"user_email"`
	Amount        float64   `json:"amount"`
	ExternalRef   string    `json:"transaction_id"`
	Phone         string    `json:"phone"`
	PaymentMethod string    `json:"payment_method"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"created_at"`
}

// WithdrawRequest is a request to move INR out of the platform. The amount is
// escrowed out of the visible balance the moment the request is created.
type WithdrawRequest struct {
	RequestID     string     `json:"request_id"`
	UserEmail     string     `json:"user_email"`
	UserName      string     `json:"user_name"`
	Amount        float64    `json:"amount"`
	Status        string     `json:"status"`
	BankName      string     `json:"bank_name"`
	AccountNumber string     `json:"account_number"`
	IFSCCode      string     `json:"ifsc_code"`
	CreatedAt     time.Time  `json:"created_at"`
	ProcessedAt   *time.Time `json:"processed_at,omitempty"`
	Remarks       string     `json:"remarks"`
}

// MaskedAccountNumber returns the bank account number reduced to its last four
// digits, the only form ever exposed to non-admin views.
func (w *WithdrawRequest) MaskedAccountNumber() string {
	return MaskAccountNumber(w.AccountNumber)
}

// MaskAccountNumber reduces an account number to "****" plus its last four
// characters. Short or empty inputs collapse to "****".
func MaskAccountNumber(accountNumber string) string {
	trimmed := strings.TrimSpace(accountNumber)
	if len(trimmed) < 4 {
		return "****"
	}
	return "****" + trimmed[len(trimmed)-4:]
}

// TaxRecord is the append-only ledger of tax collected per taxable order.
type TaxRecord struct {
	TaxID       string    `json:"tax_id"`
	UserEmail   string    `json:"user_email"`
	UserName    string    `json:"user_name"`
	OrderType   string    `json:"order_type"`
	OrderAmount float64   `json:"order_amount"`
	TaxAmount   float64   `json:"tax_amount"`
	OrderWorth  float64   `json:"order_worth"`
	CreatedAt   time.Time `json:"timestamp"`
	Remarks     string    `json:"remarks"`
}

// OrderRecord is an immutable snapshot of a completed buy order for reporting.
type OrderRecord struct {
	OrderID      string    `json:"order_id"`
	UserEmail    string    `json:"user_email"`
	UserName     string    `json:"user_name"`
	OrderType    string    `json:"order_type"`
	AmountINR    float64   `json:"order_amount_inr"`
	AmountMRX    float64   `json:"order_amount_mrx"`
	PriceAtOrder float64   `json:"price_at_order"`
	TaxAmount    float64   `json:"tax_amount"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
	Remarks      string    `json:"remarks"`
}

// InternalMRXBalance is the hidden per-user token position. It is credited only
// by executed buy orders and debited only by approved withdrawals.
type InternalMRXBalance struct {
	UserEmail string    `json:"user_email"`
	Balance   float64   `json:"internal_mrx_balance"`
	UpdatedAt time.Time `json:"last_updated"`
}

// DailyTradeTotal is the per-user, per-calendar-day running sum of executed buy
// volume. One row per (trade date, user); deleted only by an admin reset.
type DailyTradeTotal struct {
	TradeDate   string    `json:"date"`
	UserEmail   string    `json:"user_email"`
	TotalAmount float64   `json:"total_amount"`
	TradeCount  int       `json:"transaction_count"`
	UpdatedAt   time.Time `json:"last_updated"`
}

// AdminAuditEntry is the append-only record of a privileged mutation.
type AdminAuditEntry struct {
	LogID      string    `json:"log_id"`
	AdminEmail string    `json:"admin_email"`
	Action     string    `json:"action"`
	TargetID   string    `json:"target_id"`
	TargetType string    `json:"target_type"`
	Details    string    `json:"details"`
	Origin     string    `json:"ip_address"`
	CreatedAt  time.Time `json:"timestamp"`
}

// WithdrawalStats aggregates withdrawal requests by status for dashboards.
type WithdrawalStats struct {
	Total       int     `json:"total"`
	Pending     int     `json:"pending"`
	Approved    int     `json:"approved"`
	Processing  int     `json:"processing"`
	Processed   int     `json:"processed"`
	Rejected    int     `json:"rejected"`
	TotalAmount float64 `json:"total_amount"`
}

// TaxStats aggregates the tax ledger by order type.
type TaxStats struct {
	TotalTax      float64 `json:"total_tax"`
	TotalRecords  int     `json:"total_transactions"`
	BuyTax        float64 `json:"buy_tax"`
	WithdrawalTax float64 `json:"withdrawal_tax"`
	SellTax       float64 `json:"sell_tax"`
	DepositTax    float64 `json:"deposit_tax"`
}

// AccelerateOrderRequest is the DTO for incoming accelerate (buy) orders.
type AccelerateOrderRequest struct {
	Amount    float64 `json:"amount"`
	Sentiment string  `json:"sentiment"`
}

// AccelerateOrderResult reports an executed buy order back to the caller.
type AccelerateOrderResult struct {
	TransactionID    string  `json:"transaction_id"`
	OrderID          string  `json:"order_id"`
	TaxLogID         string  `json:"tax_log_id"`
	INRInvested      float64 `json:"inr_invested"`
	TaxAmount        float64 `json:"tax_amount"`
	AmountToPool     float64 `json:"amount_to_pool"`
	MRXAllocated     float64 `json:"mrx_allocated_internally"`
	MRXCurrentValue  float64 `json:"mrx_current_value"`
	PriceBefore      float64 `json:"price_before"`
	PriceAfter       float64 `json:"price_after"`
	NewINRBalance    float64 `json:"new_inr_balance"`
	NewMRXBalance    float64 `json:"new_mrx_balance"`
	Profit           float64 `json:"profit"`
	PercentageReturn float64 `json:"percentage_return"`
	DailyLimit       float64 `json:"daily_trading_limit"`
	DailyTotalUsed   float64 `json:"daily_total_used"`
	DailyRemaining   float64 `json:"daily_remaining"`
}

// BalanceSnapshot is the wallet view: visible INR balance plus the diagnostic
// internal MRX position and its mark-to-market total.
type BalanceSnapshot struct {
	INRBalance       float64 `json:"inr_balance"`
	MRXBalance       float64 `json:"mrx_balance"`
	InternalMRX      float64 `json:"internal_mrx_balance"`
	CurrentPrice     float64 `json:"current_price"`
	TotalWalletValue float64 `json:"total_wallet_value"`
	DailyLimit       float64 `json:"daily_trading_limit"`
	DailyTotalUsed   float64 `json:"daily_total_used"`
	DailyRemaining   float64 `json:"daily_remaining"`
	DailyLimitHit    bool    `json:"daily_limit_reached"`
}

// DepositSubmission is the DTO for new deposit requests.
type DepositSubmission struct {
	Amount        float64 `json:"amount"`
	ExternalRef   string  `json:"transaction_id"`
	Phone         string  `json:"phone"`
	PaymentMethod string  `json:"payment_method"`
}

// WithdrawSubmission is the DTO for new withdrawal requests.
type WithdrawSubmission struct {
	Amount        float64 `json:"amount"`
	BankName      string  `json:"bank_name"`
	AccountNumber string  `json:"account_number"`
	IFSCCode      string  `json:"ifsc_code"`
}

// ListOptions controls admin listings: result cap, status filter and free-text
// search over identifying fields.
type ListOptions struct {
	Limit     int
	Status    string
	Search    string
	OrderType string
}

// MarketStats is the public market snapshot.
type MarketStats struct {
	Price           float64 `json:"price"`
	INRReserve      float64 `json:"inr_pool"`
	MRXReserve      float64 `json:"mrx_pool"`
	PriceFloor      float64 `json:"price_floor"`
	AboveFloor      bool    `json:"above_floor"`
	MinINRReserve   float64 `json:"min_inr_pool"`
	ReserveAboveMin bool    `json:"inr_pool_above_min"`
}

// Reconciliation is the diagnostic token-supply cross-check: pool reserve plus
// all internal balances against the constant initial supply.
type Reconciliation struct {
	TotalInternalMRX float64 `json:"total_internal_mrx"`
	SystemMRXTotal   float64 `json:"system_mrx_total"`
	InitialSupply    float64 `json:"initial_mrx"`
	Reconciled       bool    `json:"reconciled"`
	Discrepancy      float64 `json:"discrepancy"`
}

// RoundINR rounds an INR amount to 2 decimal places.
func RoundINR(v float64) float64 {
	return math.Round(v*100) / 100
}

// RoundMRX rounds an MRX quantity to 6 decimal places.
func RoundMRX(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}

// RoundPrice rounds a price to the 4 decimal places used in reporting.
func RoundPrice(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}

// NewRecordID builds a prefixed record id in the ledger's historical shape:
// prefix, unix seconds, six hex characters of entropy (e.g. "TXN1712345678A1B2C3").
func NewRecordID(prefix string, now time.Time) string {
	entropy := strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", "")[:6])
	return fmt.Sprintf("%s%d%s", prefix, now.Unix(), entropy)
}
