/**
 * @description
 * This file implements the withdrawal portion of the `Repository` interface
 * against PostgreSQL. Withdrawals are a small state machine with money
 * attached: the amount leaves the visible balance the moment the request is
 * created (escrow), comes back on rejection, and leaves the pool only on
 * approval. Each transition is one database transaction with the request row
 * locked, so a request can never be approved and rejected at once.
 *
 * @dependencies
 * - context: Standard Go libraries.
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/unitedworld/market-service/internal/domain"
)

// CreateWithdrawRequestEscrow inserts the pending request and moves the amount
// out of the user's visible balance in one transaction. The balance check runs
// under a row lock; a shortfall fails the whole operation with no writes.
func (r *PostgresRepository) CreateWithdrawRequestEscrow(ctx context.Context, req *domain.WithdrawRequest, escrowTxn *domain.Transaction) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var balance float64
	err = tx.QueryRow(ctx,
		`SELECT inr_balance FROM users WHERE lower(btrim(email)) = lower(btrim($1)) FOR UPDATE`,
		req.UserEmail,
	).Scan(&balance)
	if err != nil {
		if err == pgx.ErrNoRows {
			return ErrUserNotFound
		}
		return err
	}
	if balance < req.Amount {
		return ErrInsufficientFunds
	}

	_, err = tx.Exec(ctx,
		`UPDATE users SET inr_balance = round((inr_balance - $1)::numeric, 2), updated_at = NOW() WHERE lower(btrim(email)) = lower(btrim($2))`,
		req.Amount, req.UserEmail,
	)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO withdraw_requests (request_id, user_email, user_name, amount, status, bank_name, account_number, ifsc_code, created_at, remarks)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		req.RequestID, req.UserEmail, req.UserName, req.Amount, req.Status,
		req.BankName, req.AccountNumber, req.IFSCCode, req.CreatedAt, req.Remarks,
	)
	if err != nil {
		return err
	}

	if err := insertTransactionTx(ctx, tx, escrowTxn); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// GetWithdrawRequest retrieves a single withdrawal request by its id.
func (r *PostgresRepository) GetWithdrawRequest(ctx context.Context, requestID string) (*domain.WithdrawRequest, error) {
	var req domain.WithdrawRequest
	query := `
		SELECT request_id, user_email, user_name, amount, status, bank_name, account_number, ifsc_code, created_at, processed_at, COALESCE(remarks, '')
		FROM withdraw_requests
		WHERE request_id = $1
	`
	err := r.db.QueryRow(ctx, query, requestID).Scan(
		&req.RequestID, &req.UserEmail, &req.UserName, &req.Amount, &req.Status,
		&req.BankName, &req.AccountNumber, &req.IFSCCode, &req.CreatedAt, &req.ProcessedAt, &req.Remarks,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrWithdrawalNotFound
		}
		return nil, err
	}
	return &req, nil
}

// FindWithdrawRequestsByUser retrieves a user's withdrawal requests, most recent first.
func (r *PostgresRepository) FindWithdrawRequestsByUser(ctx context.Context, email string) ([]domain.WithdrawRequest, error) {
	query := `
		SELECT request_id, user_email, user_name, amount, status, bank_name, account_number, ifsc_code, created_at, processed_at, COALESCE(remarks, '')
		FROM withdraw_requests
		WHERE lower(btrim(user_email)) = lower(btrim($1))
		ORDER BY created_at DESC
	`
	rows, err := r.db.Query(ctx, query, email)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanWithdrawRequests(rows)
}

// ListWithdrawRequests retrieves withdrawal requests across all users, pending first.
func (r *PostgresRepository) ListWithdrawRequests(ctx context.Context, limit int) ([]domain.WithdrawRequest, error) {
	if limit <= 0 {
		limit = 1000
	}
	query := `
		SELECT request_id, user_email, user_name, amount, status, bank_name, account_number, ifsc_code, created_at, processed_at, COALESCE(remarks, '')
		FROM withdraw_requests
		ORDER BY (status = 'pending') DESC, created_at DESC
		LIMIT $1
	`
	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanWithdrawRequests(rows)
}

func scanWithdrawRequests(rows pgx.Rows) ([]domain.WithdrawRequest, error) {
	var requests []domain.WithdrawRequest
	for rows.Next() {
		var req domain.WithdrawRequest
		err := rows.Scan(
			&req.RequestID, &req.UserEmail, &req.UserName, &req.Amount, &req.Status,
			&req.BankName, &req.AccountNumber, &req.IFSCCode, &req.CreatedAt, &req.ProcessedAt, &req.Remarks,
		)
		if err != nil {
			return nil, err
		}
		requests = append(requests, req)
	}
	return requests, nil
}

// GetWithdrawalStats aggregates withdrawal requests by status in one query.
func (r *PostgresRepository) GetWithdrawalStats(ctx context.Context) (*domain.WithdrawalStats, error) {
	query := `
		SELECT
			COUNT(*) AS total,
			COUNT(*) FILTER (WHERE status = 'pending') AS pending,
			COUNT(*) FILTER (WHERE status = 'approved') AS approved,
			COUNT(*) FILTER (WHERE status = 'processing') AS processing,
			COUNT(*) FILTER (WHERE status = 'processed') AS processed,
			COUNT(*) FILTER (WHERE status = 'rejected') AS rejected,
			COALESCE(SUM(amount) FILTER (WHERE status IN ('pending', 'approved', 'processing', 'processed')), 0) AS total_amount
		FROM withdraw_requests
	`
	var stats domain.WithdrawalStats
	err := r.db.QueryRow(ctx, query).Scan(
		&stats.Total, &stats.Pending, &stats.Approved,
		&stats.Processing, &stats.Processed, &stats.Rejected, &stats.TotalAmount,
	)
	if err != nil {
		return nil, err
	}
	return &stats, nil
}

// ApproveWithdrawal commits the pending→approved transition: request row lock
// with a status guard, pool compare-and-swap, internal MRX debit, ledger
// transaction and audit entry.
func (r *PostgresRepository) ApproveWithdrawal(ctx context.Context, approval WithdrawalApproval) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := lockWithdrawalInStatus(ctx, tx, approval.RequestID, domain.StatusPending); err != nil {
		return err
	}

	if err := swapPoolTx(ctx, tx, approval.NewINRReserve, approval.NewMRXReserve, approval.ExpectedPoolVersion); err != nil {
		return err
	}

	// Debit the hidden position only if it still covers the sale.
	tag, err := tx.Exec(ctx, `
		UPDATE internal_mrx_balances
		SET balance = round((balance - $1)::numeric, 6), updated_at = NOW()
		WHERE lower(btrim(user_email)) = lower(btrim($2)) AND balance >= $1
	`, approval.MRXToSell, approval.UserEmail)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrInsufficientMRX
	}

	_, err = tx.Exec(ctx, `
		UPDATE withdraw_requests
		SET status = $1, processed_at = NOW(), updated_at = NOW()
		WHERE request_id = $2
	`, domain.StatusApproved, approval.RequestID)
	if err != nil {
		return err
	}

	if err := insertTransactionTx(ctx, tx, &approval.Txn); err != nil {
		return err
	}

	if err := insertAdminAuditTx(ctx, tx, &approval.Audit); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// RejectWithdrawalWithRefund commits pending→rejected and returns the escrowed
// amount to the user's visible balance.
func (r *PostgresRepository) RejectWithdrawalWithRefund(ctx context.Context, rejection WithdrawalRejection) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := lockWithdrawalInStatus(ctx, tx, rejection.RequestID, domain.StatusPending); err != nil {
		return err
	}

	tag, err := tx.Exec(ctx,
		`UPDATE users SET inr_balance = round((inr_balance + $1)::numeric, 2), updated_at = NOW() WHERE lower(btrim(email)) = lower(btrim($2))`,
		rejection.Amount, rejection.UserEmail,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}

	_, err = tx.Exec(ctx, `
		UPDATE withdraw_requests
		SET status = $1, remarks = $2, processed_at = NOW(), updated_at = NOW()
		WHERE request_id = $3
	`, domain.StatusRejected, rejection.Remarks, rejection.RequestID)
	if err != nil {
		return err
	}

	if err := insertTransactionTx(ctx, tx, &rejection.Txn); err != nil {
		return err
	}

	if err := insertAdminAuditTx(ctx, tx, &rejection.Audit); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// MarkWithdrawalProcessed commits approved→processed. The payout already left
// the pool at approval time; this only records that the bank transfer happened.
func (r *PostgresRepository) MarkWithdrawalProcessed(ctx context.Context, requestID string, audit domain.AdminAuditEntry, txn *domain.Transaction) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := lockWithdrawalInStatus(ctx, tx, requestID, domain.StatusApproved); err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		UPDATE withdraw_requests
		SET status = $1, processed_at = NOW(), updated_at = NOW()
		WHERE request_id = $2
	`, domain.StatusProcessed, requestID)
	if err != nil {
		return err
	}

	if txn != nil {
		if err := insertTransactionTx(ctx, tx, txn); err != nil {
			return err
		}
	}

	if err := insertAdminAuditTx(ctx, tx, &audit); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// ForceWithdrawalStatus writes a status with no balance or pool effect, guarded
// by the expected current status. Used for the remaining admin transitions
// (e.g. approved→processing) that only track operational progress.
func (r *PostgresRepository) ForceWithdrawalStatus(ctx context.Context, requestID, fromStatus, toStatus, remarks string, audit domain.AdminAuditEntry) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := lockWithdrawalInStatus(ctx, tx, requestID, fromStatus); err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		UPDATE withdraw_requests
		SET status = $1, remarks = CASE WHEN $2 <> '' THEN $2 ELSE remarks END, updated_at = NOW()
		WHERE request_id = $3
	`, toStatus, remarks, requestID)
	if err != nil {
		return err
	}

	if err := insertAdminAuditTx(ctx, tx, &audit); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// lockWithdrawalInStatus locks a request row and verifies it still holds the
// expected status. Distinguishes a missing request from a stale transition.
func lockWithdrawalInStatus(ctx context.Context, tx pgx.Tx, requestID, expectedStatus string) error {
	var current string
	err := tx.QueryRow(ctx,
		`SELECT status FROM withdraw_requests WHERE request_id = $1 FOR UPDATE`,
		requestID,
	).Scan(&current)
	if err != nil {
		if err == pgx.ErrNoRows {
			return ErrWithdrawalNotFound
		}
		return err
	}
	if current != expectedStatus {
		return ErrInvalidStatusChange
	}
	return nil
}
