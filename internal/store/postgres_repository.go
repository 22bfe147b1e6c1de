/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository` interface
 * for users, the transaction ledger, deposit requests, the tax ledger and the
 * admin audit log. Pool, daily-limit and withdrawal operations live in
 * postgres_market.go and postgres_withdrawals.go.
 *
 * @dependencies
 * - context, errors, strings: Standard Go libraries.
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/unitedworld/market-service/internal/domain"
)

var (
	ErrUserNotFound        = errors.New("user not found")
	ErrInsufficientFunds   = errors.New("insufficient funds")
	ErrPoolNotFound        = errors.New("market pool not found")
	ErrPoolConflict        = errors.New("market pool version conflict")
	ErrDailyLimitExceeded  = errors.New("daily trading limit exceeded")
	ErrDepositNotFound     = errors.New("deposit request not found")
	ErrWithdrawalNotFound  = errors.New("withdrawal request not found")
	ErrInvalidStatusChange = errors.New("invalid status transition")
	ErrInsufficientMRX     = errors.New("insufficient internal mrx balance")
	ErrDailyTotalNotFound  = errors.New("daily trade total not found")
	ErrTransactionNotFound = errors.New("transaction not found")
)

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// FindUserByEmail retrieves a user from the database by their email.
func (r *PostgresRepository) FindUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	var user domain.User
	query := `
		SELECT user_id, full_name, lower(btrim(email)), mobile, COALESCE(referral, ''), role, inr_balance, mrx_balance, created_at
		FROM users
		WHERE lower(btrim(email)) = lower(btrim($1))
	`
	err := r.db.QueryRow(ctx, query, email).Scan(
		&user.UserID, &user.FullName, &user.Email, &user.Mobile, &user.Referral,
		&user.Role, &user.INRBalance, &user.MRXBalance, &user.CreatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

// ListUsers retrieves all users ordered by registration time.
func (r *PostgresRepository) ListUsers(ctx context.Context) ([]domain.User, error) {
	query := `
		SELECT user_id, full_name, lower(btrim(email)), mobile, COALESCE(referral, ''), role, inr_balance, mrx_balance, created_at
		FROM users
		ORDER BY created_at DESC
	`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []domain.User
	for rows.Next() {
		var user domain.User
		err := rows.Scan(
			&user.UserID, &user.FullName, &user.Email, &user.Mobile, &user.Referral,
			&user.Role, &user.INRBalance, &user.MRXBalance, &user.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}

	return users, nil
}

// SumUserINRBalances returns the total visible INR held across all wallets.
func (r *PostgresRepository) SumUserINRBalances(ctx context.Context) (float64, error) {
	var total float64
	err := r.db.QueryRow(ctx, `SELECT COALESCE(SUM(inr_balance), 0) FROM users`).Scan(&total)
	if err != nil {
		return 0, err
	}
	return total, nil
}

// AppendTransaction inserts a new ledger transaction record.
func (r *PostgresRepository) AppendTransaction(ctx context.Context, txn *domain.Transaction) error {
	query := `
		INSERT INTO transactions (txn_id, user_email, type, amount_inr, amount_mrx, price, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.db.Exec(ctx, query,
		txn.TxnID,
		txn.UserEmail,
		txn.Type,
		txn.AmountINR,
		txn.AmountMRX,
		txn.Price,
		txn.Status,
		txn.CreatedAt,
	)
	return err
}

// FindTransactionsByUser retrieves a user's transactions, most recent first.
func (r *PostgresRepository) FindTransactionsByUser(ctx context.Context, email string, limit int) ([]domain.Transaction, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT txn_id, user_email, type, amount_inr, amount_mrx, price, status, created_at
		FROM transactions
		WHERE lower(btrim(user_email)) = lower(btrim($1))
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := r.db.Query(ctx, query, email, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTransactions(rows)
}

// FindRecentTransactions retrieves the newest transactions across all users.
func (r *PostgresRepository) FindRecentTransactions(ctx context.Context, limit int) ([]domain.Transaction, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT txn_id, user_email, type, amount_inr, amount_mrx, price, status, created_at
		FROM transactions
		ORDER BY created_at DESC
		LIMIT $1
	`
	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTransactions(rows)
}

func scanTransactions(rows pgx.Rows) ([]domain.Transaction, error) {
	var transactions []domain.Transaction
	for rows.Next() {
		var txn domain.Transaction
		err := rows.Scan(
			&txn.TxnID, &txn.UserEmail, &txn.Type, &txn.AmountINR,
			&txn.AmountMRX, &txn.Price, &txn.Status, &txn.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, txn)
	}
	return transactions, nil
}

// CreateDepositRequest inserts a new pending deposit request.
func (r *PostgresRepository) CreateDepositRequest(ctx context.Context, req *domain.DepositRequest) error {
	query := `
		INSERT INTO deposit_requests (request_id, user_email, amount, external_ref, phone, payment_method, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.db.Exec(ctx, query,
		req.RequestID,
		req.UserEmail,
		req.Amount,
		req.ExternalRef,
		req.Phone,
		req.PaymentMethod,
		req.Status,
		req.CreatedAt,
	)
	return err
}

// GetDepositRequest retrieves a single deposit request by its id.
func (r *PostgresRepository) GetDepositRequest(ctx context.Context, requestID string) (*domain.DepositRequest, error) {
	var req domain.DepositRequest
	query := `
		SELECT request_id, user_email, amount, external_ref, phone, payment_method, status, created_at
		FROM deposit_requests
		WHERE request_id = $1
	`
	err := r.db.QueryRow(ctx, query, requestID).Scan(
		&req.RequestID, &req.UserEmail, &req.Amount, &req.ExternalRef,
		&req.Phone, &req.PaymentMethod, &req.Status, &req.CreatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrDepositNotFound
		}
		return nil, err
	}
	return &req, nil
}

// FindDepositRequestsByUser retrieves a user's deposit requests, most recent first.
func (r *PostgresRepository) FindDepositRequestsByUser(ctx context.Context, email string, limit int) ([]domain.DepositRequest, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT request_id, user_email, amount, external_ref, phone, payment_method, status, created_at
		FROM deposit_requests
		WHERE lower(btrim(user_email)) = lower(btrim($1))
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := r.db.Query(ctx, query, email, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanDepositRequests(rows)
}

// ListDepositRequests retrieves deposit requests across all users, pending first.
func (r *PostgresRepository) ListDepositRequests(ctx context.Context, limit int) ([]domain.DepositRequest, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT request_id, user_email, amount, external_ref, phone, payment_method, status, created_at
		FROM deposit_requests
		ORDER BY (status = 'pending') DESC, created_at DESC
		LIMIT $1
	`
	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanDepositRequests(rows)
}

func scanDepositRequests(rows pgx.Rows) ([]domain.DepositRequest, error) {
	var requests []domain.DepositRequest
	for rows.Next() {
		var req domain.DepositRequest
		err := rows.Scan(
			&req.RequestID, &req.UserEmail, &req.Amount, &req.ExternalRef,
			&req.Phone, &req.PaymentMethod, &req.Status, &req.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		requests = append(requests, req)
	}
	return requests, nil
}

// SetDepositStatus applies a guarded deposit status change. Crediting the user's
// balance happens only on a transition into 'approved' from a non-approved
// status, so re-approving an already approved request is a no-op on the wallet.
func (r *PostgresRepository) SetDepositStatus(ctx context.Context, transition DepositTransition) (bool, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	var userEmail, currentStatus string
	var amount float64
	err = tx.QueryRow(ctx,
		`SELECT user_email, amount, status FROM deposit_requests WHERE request_id = $1 FOR UPDATE`,
		transition.RequestID,
	).Scan(&userEmail, &amount, &currentStatus)
	if err != nil {
		if err == pgx.ErrNoRows {
			return false, ErrDepositNotFound
		}
		return false, err
	}

	credited := transition.NewStatus == domain.StatusApproved && currentStatus != domain.StatusApproved

	_, err = tx.Exec(ctx,
		`UPDATE deposit_requests SET status = $1, updated_at = NOW() WHERE request_id = $2`,
		transition.NewStatus, transition.RequestID,
	)
	if err != nil {
		return false, err
	}

	if credited {
		tag, err := tx.Exec(ctx,
			`UPDATE users SET inr_balance = round((inr_balance + $1)::numeric, 2), updated_at = NOW() WHERE lower(btrim(email)) = lower(btrim($2))`,
			amount, userEmail,
		)
		if err != nil {
			return false, err
		}
		if tag.RowsAffected() == 0 {
			return false, ErrUserNotFound
		}

		if transition.CreditTxn != nil {
			if err := insertTransactionTx(ctx, tx, transition.CreditTxn); err != nil {
				return false, err
			}
		}
	}

	if err := insertAdminAuditTx(ctx, tx, &transition.Audit); err != nil {
		return false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	return credited, nil
}

// FindTaxRecords retrieves tax ledger records, most recent first.
func (r *PostgresRepository) FindTaxRecords(ctx context.Context, limit int) ([]domain.TaxRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT tax_id, user_email, user_name, order_type, order_amount, tax_amount, order_worth, created_at, COALESCE(remarks, '')
		FROM tax_records
		ORDER BY created_at DESC
		LIMIT $1
	`
	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []domain.TaxRecord
	for rows.Next() {
		var rec domain.TaxRecord
		err := rows.Scan(
			&rec.TaxID, &rec.UserEmail, &rec.UserName, &rec.OrderType,
			&rec.OrderAmount, &rec.TaxAmount, &rec.OrderWorth, &rec.CreatedAt, &rec.Remarks,
		)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}

	return records, nil
}

// GetTaxStats aggregates the tax ledger by order type in a single query.
func (r *PostgresRepository) GetTaxStats(ctx context.Context) (*domain.TaxStats, error) {
	query := `
		SELECT
			COALESCE(SUM(tax_amount), 0) AS total_tax,
			COUNT(*) AS total_records,
			COALESCE(SUM(tax_amount) FILTER (WHERE order_type = 'buy'), 0) AS buy_tax,
			COALESCE(SUM(tax_amount) FILTER (WHERE order_type = 'withdrawal'), 0) AS withdrawal_tax,
			COALESCE(SUM(tax_amount) FILTER (WHERE order_type = 'sell'), 0) AS sell_tax,
			COALESCE(SUM(tax_amount) FILTER (WHERE order_type = 'deposit'), 0) AS deposit_tax
		FROM tax_records
	`
	var stats domain.TaxStats
	err := r.db.QueryRow(ctx, query).Scan(
		&stats.TotalTax, &stats.TotalRecords, &stats.BuyTax,
		&stats.WithdrawalTax, &stats.SellTax, &stats.DepositTax,
	)
	if err != nil {
		return nil, err
	}
	return &stats, nil
}

// AppendAdminAudit inserts an admin audit log entry.
func (r *PostgresRepository) AppendAdminAudit(ctx context.Context, entry *domain.AdminAuditEntry) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := insertAdminAuditTx(ctx, tx, entry); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// FindRecentAdminAudit retrieves the newest audit log entries.
func (r *PostgresRepository) FindRecentAdminAudit(ctx context.Context, limit int) ([]domain.AdminAuditEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT log_id, admin_email, action, COALESCE(target_id, ''), COALESCE(target_type, ''), COALESCE(details, ''), COALESCE(origin, ''), created_at
		FROM admin_audit_log
		ORDER BY created_at DESC
		LIMIT $1
	`
	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.AdminAuditEntry
	for rows.Next() {
		var entry domain.AdminAuditEntry
		err := rows.Scan(
			&entry.LogID, &entry.AdminEmail, &entry.Action, &entry.TargetID,
			&entry.TargetType, &entry.Details, &entry.Origin, &entry.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}

	return entries, nil
}

// insertTransactionTx appends a ledger transaction inside an open database transaction.
func insertTransactionTx(ctx context.Context, tx pgx.Tx, txn *domain.Transaction) error {
	query := `
		INSERT INTO transactions (txn_id, user_email, type, amount_inr, amount_mrx, price, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := tx.Exec(ctx, query,
		txn.TxnID, txn.UserEmail, txn.Type, txn.AmountINR,
		txn.AmountMRX, txn.Price, txn.Status, txn.CreatedAt,
	)
	return err
}

// insertAdminAuditTx appends an audit entry inside an open database transaction.
// Entries with an empty admin email are skipped so system-triggered transitions
// can reuse the composite operations without fabricating an author.
func insertAdminAuditTx(ctx context.Context, tx pgx.Tx, entry *domain.AdminAuditEntry) error {
	if entry == nil || strings.TrimSpace(entry.AdminEmail) == "" {
		return nil
	}
	query := `
		INSERT INTO admin_audit_log (log_id, admin_email, action, target_id, target_type, details, origin, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := tx.Exec(ctx, query,
		entry.LogID, entry.AdminEmail, entry.Action, entry.TargetID,
		entry.TargetType, entry.Details, entry.Origin, entry.CreatedAt,
	)
	return err
}
