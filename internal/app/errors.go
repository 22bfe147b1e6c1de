/**
 * @description
 * This file defines the service-level error values for the market-service.
 * Handlers map these to HTTP statuses; the messages themselves are safe to
 * return to clients.
 */

package app

import "errors"

var (
	ErrInvalidAmount        = errors.New("amount must be greater than zero")
	ErrOrderTooLarge        = errors.New("order exceeds the maximum single order size")
	ErrDailyLimitReached    = errors.New("daily trading limit reached")
	ErrSellDisabled         = errors.New("Sell is disabled. Withdraw to exit your position.")
	ErrInvalidSentiment     = errors.New("sentiment must be bullish")
	ErrMarketUnavailable    = errors.New("market is not available")
	ErrPriceFloorBreached   = errors.New("order would push the price below the floor")
	ErrPoolDrained          = errors.New("order would drain the token pool")
	ErrPoolProtection       = errors.New("withdrawals are paused to protect pool liquidity")
	ErrInsufficientPosition = errors.New("insufficient internal token balance")
	ErrInvalidDeposit       = errors.New("invalid deposit request")
	ErrInvalidWithdrawal    = errors.New("invalid withdrawal request")
	ErrConcurrentUpdate     = errors.New("the market moved, please retry")
	ErrRateLimited          = errors.New("too many orders, slow down")
	ErrForbidden            = errors.New("admin access required")
)
