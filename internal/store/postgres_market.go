/**
 * @description
 * This file implements the market pool, internal MRX balance and daily trade
 * total portions of the `Repository` interface against PostgreSQL.
 *
 * The market pool is a single row guarded by a version column. Every mutation
 * is a compare-and-swap: the UPDATE names the version the caller read, and a
 * zero-row result means another writer got there first. Callers retry with a
 * fresh read. CommitAccelerateOrder bundles every write of an executed buy
 * order into one database transaction so a failure at any step leaves no trace.
 *
 * @dependencies
 * - context: Standard Go library.
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/unitedworld/market-service/internal/domain"
)

// EnsureMarketPool seeds the singleton pool row if it does not exist yet.
func (r *PostgresRepository) EnsureMarketPool(ctx context.Context, inrReserve, mrxReserve float64) error {
	query := `
		INSERT INTO market_pool (id, inr_reserve, mrx_reserve, version, updated_at)
		VALUES (1, $1, $2, 0, NOW())
		ON CONFLICT (id) DO NOTHING
	`
	_, err := r.db.Exec(ctx, query, inrReserve, mrxReserve)
	return err
}

// GetMarketPool reads the pool row including its version stamp.
func (r *PostgresRepository) GetMarketPool(ctx context.Context) (*domain.MarketPool, error) {
	var pool domain.MarketPool
	query := `SELECT inr_reserve, mrx_reserve, version, updated_at FROM market_pool WHERE id = 1`
	err := r.db.QueryRow(ctx, query).Scan(&pool.INRReserve, &pool.MRXReserve, &pool.Version, &pool.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrPoolNotFound
		}
		return nil, err
	}
	return &pool, nil
}

// SetMarketPool overwrites both reserves with a version check, writing the
// admin audit entry in the same transaction.
func (r *PostgresRepository) SetMarketPool(ctx context.Context, adjustment PoolAdjustment) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := swapPoolTx(ctx, tx, adjustment.INRReserve, adjustment.MRXReserve, adjustment.ExpectedPoolVersion); err != nil {
		return err
	}

	if err := insertAdminAuditTx(ctx, tx, &adjustment.Audit); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// CommitAccelerateOrder persists every write of an executed buy order
// atomically: pool compare-and-swap, wallet debit/credit under a row lock,
// internal MRX credit, daily total upsert with the limit re-checked, plus the
// transaction, tax and order ledger rows.
func (r *PostgresRepository) CommitAccelerateOrder(ctx context.Context, commit AccelerateCommit) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := swapPoolTx(ctx, tx, commit.NewINRReserve, commit.NewMRXReserve, commit.ExpectedPoolVersion); err != nil {
		return err
	}

	// Lock the wallet row and re-check funds: the service's pre-check raced
	// against other spenders.
	var balance float64
	err = tx.QueryRow(ctx,
		`SELECT inr_balance FROM users WHERE lower(btrim(email)) = lower(btrim($1)) FOR UPDATE`,
		commit.UserEmail,
	).Scan(&balance)
	if err != nil {
		if err == pgx.ErrNoRows {
			return ErrUserNotFound
		}
		return err
	}
	if balance < commit.Amount {
		return ErrInsufficientFunds
	}

	_, err = tx.Exec(ctx,
		`UPDATE users SET inr_balance = round((inr_balance - $1 + $2)::numeric, 2), updated_at = NOW() WHERE lower(btrim(email)) = lower(btrim($3))`,
		commit.Amount, commit.MRXValue, commit.UserEmail,
	)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO internal_mrx_balances (user_email, balance, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (user_email)
		DO UPDATE SET balance = round((internal_mrx_balances.balance + EXCLUDED.balance)::numeric, 6), updated_at = NOW()
	`, commit.UserEmail, commit.MRXReceived)
	if err != nil {
		return err
	}

	// The upsert enforces the ceiling itself: two trades that both passed the
	// service pre-check cannot both land past the limit.
	var newTotal float64
	err = tx.QueryRow(ctx, `
		INSERT INTO daily_trade_totals (trade_date, user_email, total_amount, trade_count, updated_at)
		VALUES ($1, $2, $3, 1, NOW())
		ON CONFLICT (trade_date, user_email)
		DO UPDATE SET
			total_amount = round((daily_trade_totals.total_amount + EXCLUDED.total_amount)::numeric, 2),
			trade_count = daily_trade_totals.trade_count + 1,
			updated_at = NOW()
		RETURNING total_amount
	`, commit.TradeDate, commit.UserEmail, commit.Amount).Scan(&newTotal)
	if err != nil {
		return err
	}
	if newTotal > commit.DailyLimit+0.001 {
		return ErrDailyLimitExceeded
	}

	if err := insertTransactionTx(ctx, tx, &commit.Txn); err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO tax_records (tax_id, user_email, user_name, order_type, order_amount, tax_amount, order_worth, created_at, remarks)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		commit.Tax.TaxID, commit.Tax.UserEmail, commit.Tax.UserName, commit.Tax.OrderType,
		commit.Tax.OrderAmount, commit.Tax.TaxAmount, commit.Tax.OrderWorth, commit.Tax.CreatedAt, commit.Tax.Remarks,
	)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO order_records (order_id, user_email, user_name, order_type, amount_inr, amount_mrx, price_at_order, tax_amount, status, created_at, remarks)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		commit.Order.OrderID, commit.Order.UserEmail, commit.Order.UserName, commit.Order.OrderType,
		commit.Order.AmountINR, commit.Order.AmountMRX, commit.Order.PriceAtOrder, commit.Order.TaxAmount,
		commit.Order.Status, commit.Order.CreatedAt, commit.Order.Remarks,
	)
	if err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// GetInternalMRXBalance returns a user's hidden token position, zero when no
// row exists yet.
func (r *PostgresRepository) GetInternalMRXBalance(ctx context.Context, email string) (float64, error) {
	var balance float64
	err := r.db.QueryRow(ctx,
		`SELECT balance FROM internal_mrx_balances WHERE lower(btrim(user_email)) = lower(btrim($1))`,
		email,
	).Scan(&balance)
	if err != nil {
		if err == pgx.ErrNoRows {
			return 0, nil
		}
		return 0, err
	}
	return balance, nil
}

// SumInternalMRX totals the hidden token positions across all users.
func (r *PostgresRepository) SumInternalMRX(ctx context.Context) (float64, error) {
	var total float64
	err := r.db.QueryRow(ctx, `SELECT COALESCE(SUM(balance), 0) FROM internal_mrx_balances`).Scan(&total)
	if err != nil {
		return 0, err
	}
	return total, nil
}

// GetDailyTradeTotal returns a user's running buy volume for a trade date.
func (r *PostgresRepository) GetDailyTradeTotal(ctx context.Context, tradeDate, email string) (*domain.DailyTradeTotal, error) {
	var total domain.DailyTradeTotal
	query := `
		SELECT trade_date, user_email, total_amount, trade_count, updated_at
		FROM daily_trade_totals
		WHERE trade_date = $1 AND lower(btrim(user_email)) = lower(btrim($2))
	`
	err := r.db.QueryRow(ctx, query, tradeDate, email).Scan(
		&total.TradeDate, &total.UserEmail, &total.TotalAmount, &total.TradeCount, &total.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrDailyTotalNotFound
		}
		return nil, err
	}
	return &total, nil
}

// ListDailyTradeTotals returns all users' totals for a trade date.
func (r *PostgresRepository) ListDailyTradeTotals(ctx context.Context, tradeDate string) ([]domain.DailyTradeTotal, error) {
	query := `
		SELECT trade_date, user_email, total_amount, trade_count, updated_at
		FROM daily_trade_totals
		WHERE trade_date = $1
		ORDER BY total_amount DESC
	`
	rows, err := r.db.Query(ctx, query, tradeDate)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var totals []domain.DailyTradeTotal
	for rows.Next() {
		var total domain.DailyTradeTotal
		err := rows.Scan(&total.TradeDate, &total.UserEmail, &total.TotalAmount, &total.TradeCount, &total.UpdatedAt)
		if err != nil {
			return nil, err
		}
		totals = append(totals, total)
	}

	return totals, nil
}

// ResetDailyTradeTotal deletes a user's total for a trade date and records the
// audit entry atomically, returning the total that was cleared.
func (r *PostgresRepository) ResetDailyTradeTotal(ctx context.Context, tradeDate, email string, audit domain.AdminAuditEntry) (float64, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	var cleared float64
	err = tx.QueryRow(ctx, `
		DELETE FROM daily_trade_totals
		WHERE trade_date = $1 AND lower(btrim(user_email)) = lower(btrim($2))
		RETURNING total_amount
	`, tradeDate, email).Scan(&cleared)
	if err != nil {
		if err == pgx.ErrNoRows {
			return 0, ErrDailyTotalNotFound
		}
		return 0, err
	}

	if err := insertAdminAuditTx(ctx, tx, &audit); err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return cleared, nil
}

// swapPoolTx applies a compare-and-swap pool write inside an open transaction.
func swapPoolTx(ctx context.Context, tx pgx.Tx, inrReserve, mrxReserve float64, expectedVersion int64) error {
	tag, err := tx.Exec(ctx, `
		UPDATE market_pool
		SET inr_reserve = $1, mrx_reserve = $2, version = version + 1, updated_at = NOW()
		WHERE id = 1 AND version = $3
	`, inrReserve, mrxReserve, expectedVersion)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrPoolConflict
	}
	return nil
}
