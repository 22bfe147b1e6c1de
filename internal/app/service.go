/**
 * @description
 * This file contains the core business logic for the market-service. The
 * `Service` struct orchestrates the trade engine: accelerate (buy) orders
 * against the liquidity pool, wallet balance views and the public market
 * snapshot, coordinating the database repository, the message broker and the
 * optional Redis rate limiter.
 *
 * Key features:
 * - Implements the accelerate order flow: validation gates in a fixed order,
 *   tax, pool pricing and the atomic commit.
 * - Pool writes use optimistic concurrency: the commit names the pool version
 *   the computation was based on and the whole order is recomputed on conflict.
 * - Publishes events to RabbitMQ for asynchronous processing by other services.
 *
 * @dependencies
 * - context, errors, fmt, log, time: Standard Go libraries.
 * - internal/domain, internal/store: For domain models and data access.
 * - pkg/rabbitmq: For event publishing.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/unitedworld/market-service/internal/domain"
	"github.com/unitedworld/market-service/internal/store"
	"github.com/unitedworld/market-service/pkg/rabbitmq"
)

const (
	PriceFloor        = 1.00
	TaxRate           = 0.05
	MaxSingleOrder    = 1000.00
	DailyTradingLimit = 10000.00
	MinINRReserve     = 1000.00
	InitialMRXSupply  = 1000.0
	InitialINRReserve = 2000.00

	// An order may never take more than this share of the token reserve.
	MaxPoolShare = 0.95

	// Reconciliation tolerance for accumulated float rounding.
	SupplyTolerance = 0.001

	poolCommitRetries = 3
)

// TradeRateLimiter throttles order submission per user. A nil limiter disables
// throttling.
type TradeRateLimiter interface {
	ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (count int, retryAfterSeconds int, err error)
}

// Service provides the core business logic for the market.
type Service struct {
	repo          store.Repository
	eventProducer rabbitmq.Publisher

	rateLimiter     TradeRateLimiter
	tradeRateLimit  int
	tradeRateWindow time.Duration

	now func() time.Time
}

// NewService creates a new market service instance.
func NewService(repo store.Repository, producer rabbitmq.Publisher) *Service {
	return &Service{
		repo:          repo,
		eventProducer: producer,
		now:           time.Now,
	}
}

// WithTradeRateLimiter attaches a per-user order throttle.
func (s *Service) WithTradeRateLimiter(limiter TradeRateLimiter, limit int, window time.Duration) *Service {
	s.rateLimiter = limiter
	s.tradeRateLimit = limit
	s.tradeRateWindow = window
	return s
}

// tradeDate returns the calendar day bucket for daily limits, in UTC.
func (s *Service) tradeDate() string {
	return s.now().UTC().Format("2006-01-02")
}

// AccelerateOrder executes a buy order for the given user. Validation gates run
// in a fixed order so clients see stable error precedence; the commit itself is
// recomputed and retried when a concurrent order moved the pool first.
func (s *Service) AccelerateOrder(ctx context.Context, email string, req domain.AccelerateOrderRequest) (*domain.AccelerateOrderResult, error) {
	amount := domain.RoundINR(req.Amount)

	// 1. Structural gates, cheapest first.
	if amount > MaxSingleOrder {
		return nil, ErrOrderTooLarge
	}
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	sentiment := strings.ToLower(strings.TrimSpace(req.Sentiment))
	if sentiment == "bearish" {
		return nil, ErrSellDisabled
	}
	if sentiment != "bullish" {
		return nil, ErrInvalidSentiment
	}

	if s.rateLimiter != nil && s.tradeRateLimit > 0 {
		count, retryAfter, err := s.rateLimiter.ConsumeRateLimit(ctx, "accelerate", email, s.tradeRateLimit, s.tradeRateWindow)
		if err != nil {
			// Redis being down must not halt trading.
			log.Printf("WARN: AccelerateOrder: rate limiter unavailable for %s: %v", email, err)
		} else if count > s.tradeRateLimit {
			log.Printf("AccelerateOrder: throttled %s (count=%d retry_after=%ds)", email, count, retryAfter)
			return nil, ErrRateLimited
		}
	}

	// 2. Daily limit pre-check. The commit re-enforces this under the row lock.
	tradeDate := s.tradeDate()
	usedToday, err := s.dailyUsed(ctx, tradeDate, email)
	if err != nil {
		return nil, fmt.Errorf("failed to read daily trade total: %w", err)
	}
	if usedToday+amount > DailyTradingLimit+SupplyTolerance {
		return nil, ErrDailyLimitReached
	}

	// 3. User and funds.
	user, err := s.repo.FindUserByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if user.INRBalance < amount {
		return nil, store.ErrInsufficientFunds
	}

	// 4. Compute against the current pool and commit, retrying when a
	// concurrent order wins the version race.
	var result *domain.AccelerateOrderResult
	for attempt := 0; attempt < poolCommitRetries; attempt++ {
		pool, err := s.repo.GetMarketPool(ctx)
		if err != nil {
			return nil, err
		}

		result, err = s.executeAccelerate(ctx, user, amount, tradeDate, usedToday, pool)
		if err == nil {
			break
		}
		if errors.Is(err, store.ErrPoolConflict) {
			log.Printf("AccelerateOrder: pool version conflict for %s (attempt %d), recomputing", email, attempt+1)
			continue
		}
		if errors.Is(err, store.ErrDailyLimitExceeded) {
			return nil, ErrDailyLimitReached
		}
		return nil, err
	}
	if result == nil {
		return nil, ErrConcurrentUpdate
	}

	if s.eventProducer != nil {
		s.eventProducer.Publish(ctx, "market.events", "order.executed", result)
	}

	return result, nil
}

// executeAccelerate prices one order against a pool snapshot and commits it.
// usedBefore is the daily total from the pre-check, kept as a fallback so the
// response never under-reports consumed headroom.
func (s *Service) executeAccelerate(ctx context.Context, user *domain.User, amount float64, tradeDate string, usedBefore float64, pool *domain.MarketPool) (*domain.AccelerateOrderResult, error) {
	if pool.MRXReserve <= 0 {
		return nil, ErrMarketUnavailable
	}

	// Tax and pool math run at full precision; rounding happens only at the
	// persistence boundary.
	priceBefore := pool.Price()
	tax := amount * TaxRate
	afterTax := amount - tax

	mrxReceived := domain.RoundMRX(afterTax / priceBefore)
	if mrxReceived <= 0 {
		return nil, ErrInvalidAmount
	}
	if mrxReceived > MaxPoolShare*pool.MRXReserve {
		return nil, ErrPoolDrained
	}

	newINR := domain.RoundINR(pool.INRReserve + afterTax)
	newMRX := domain.RoundMRX(pool.MRXReserve - mrxReceived)
	if newMRX <= 0 {
		return nil, ErrPoolDrained
	}
	priceAfter := newINR / newMRX
	if priceAfter < PriceFloor {
		return nil, ErrPriceFloorBreached
	}

	mrxValue := domain.RoundINR(mrxReceived * priceAfter)
	now := s.now().UTC()

	txnID := domain.NewRecordID("TXN", now)
	orderID := domain.NewRecordID("ORD", now)
	taxID := domain.NewRecordID("TAX", now)

	commit := store.AccelerateCommit{
		UserEmail:           user.Email,
		Amount:              amount,
		MRXValue:            mrxValue,
		MRXReceived:         mrxReceived,
		NewINRReserve:       newINR,
		NewMRXReserve:       newMRX,
		ExpectedPoolVersion: pool.Version,
		TradeDate:           tradeDate,
		DailyLimit:          DailyTradingLimit,
		Txn: domain.Transaction{
			TxnID:     txnID,
			UserEmail: user.Email,
			Type:      domain.TxnAccelerateBullish,
			AmountINR: amount,
			AmountMRX: mrxReceived,
			Price:     domain.RoundPrice(priceBefore),
			Status:    "completed",
			CreatedAt: now,
		},
		Tax: domain.TaxRecord{
			TaxID:       taxID,
			UserEmail:   user.Email,
			UserName:    user.FullName,
			OrderType:   "buy",
			OrderAmount: amount,
			TaxAmount:   domain.RoundINR(tax),
			OrderWorth:  domain.RoundINR(afterTax),
			CreatedAt:   now,
			Remarks:     "accelerate order tax",
		},
		Order: domain.OrderRecord{
			OrderID:      orderID,
			UserEmail:    user.Email,
			UserName:     user.FullName,
			OrderType:    "buy",
			AmountINR:    amount,
			AmountMRX:    mrxReceived,
			PriceAtOrder: domain.RoundPrice(priceBefore),
			TaxAmount:    domain.RoundINR(tax),
			Status:       "completed",
			CreatedAt:    now,
			Remarks:      "bullish",
		},
	}

	if err := s.repo.CommitAccelerateOrder(ctx, commit); err != nil {
		return nil, err
	}

	usedToday, err := s.dailyUsed(ctx, tradeDate, user.Email)
	if err != nil {
		log.Printf("WARN: AccelerateOrder: could not re-read daily total for %s: %v", user.Email, err)
		usedToday = usedBefore + amount
	}

	profit := domain.RoundINR(mrxValue - amount)
	percentage := 0.0
	if amount > 0 {
		percentage = domain.RoundINR(profit / amount * 100)
	}

	return &domain.AccelerateOrderResult{
		TransactionID:    txnID,
		OrderID:          orderID,
		TaxLogID:         taxID,
		INRInvested:      amount,
		TaxAmount:        domain.RoundINR(tax),
		AmountToPool:     domain.RoundINR(afterTax),
		MRXAllocated:     mrxReceived,
		MRXCurrentValue:  mrxValue,
		PriceBefore:      domain.RoundPrice(priceBefore),
		PriceAfter:       domain.RoundPrice(priceAfter),
		NewINRBalance:    domain.RoundINR(user.INRBalance - amount + mrxValue),
		NewMRXBalance:    0,
		Profit:           profit,
		PercentageReturn: percentage,
		DailyLimit:       DailyTradingLimit,
		DailyTotalUsed:   usedToday,
		DailyRemaining:   domain.RoundINR(DailyTradingLimit - usedToday),
	}, nil
}

// dailyUsed reads a user's buy volume for the given trade date, zero when no
// trades happened yet.
func (s *Service) dailyUsed(ctx context.Context, tradeDate, email string) (float64, error) {
	total, err := s.repo.GetDailyTradeTotal(ctx, tradeDate, email)
	if err != nil {
		if errors.Is(err, store.ErrDailyTotalNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return total.TotalAmount, nil
}

// Balance assembles the wallet view: visible INR balance, the mark-to-market
// internal position and the daily limit headroom. The MRX balance shown to the
// user is always zero.
func (s *Service) Balance(ctx context.Context, email string) (*domain.BalanceSnapshot, error) {
	user, err := s.repo.FindUserByEmail(ctx, email)
	if err != nil {
		return nil, err
	}

	internalMRX, err := s.repo.GetInternalMRXBalance(ctx, email)
	if err != nil {
		return nil, err
	}

	pool, err := s.repo.GetMarketPool(ctx)
	if err != nil {
		return nil, err
	}
	price := pool.Price()

	used, err := s.dailyUsed(ctx, s.tradeDate(), email)
	if err != nil {
		return nil, err
	}

	remaining := domain.RoundINR(DailyTradingLimit - used)
	if remaining < 0 {
		remaining = 0
	}

	return &domain.BalanceSnapshot{
		INRBalance:       domain.RoundINR(user.INRBalance),
		MRXBalance:       0,
		InternalMRX:      domain.RoundMRX(internalMRX),
		CurrentPrice:     domain.RoundPrice(price),
		TotalWalletValue: domain.RoundINR(user.INRBalance + internalMRX*price),
		DailyLimit:       DailyTradingLimit,
		DailyTotalUsed:   used,
		DailyRemaining:   remaining,
		DailyLimitHit:    used >= DailyTradingLimit-SupplyTolerance,
	}, nil
}

// DailyLimit reports only the daily trading headroom for the user.
func (s *Service) DailyLimit(ctx context.Context, email string) (*domain.BalanceSnapshot, error) {
	used, err := s.dailyUsed(ctx, s.tradeDate(), email)
	if err != nil {
		return nil, err
	}
	remaining := domain.RoundINR(DailyTradingLimit - used)
	if remaining < 0 {
		remaining = 0
	}
	return &domain.BalanceSnapshot{
		DailyLimit:     DailyTradingLimit,
		DailyTotalUsed: used,
		DailyRemaining: remaining,
		DailyLimitHit:  used >= DailyTradingLimit-SupplyTolerance,
	}, nil
}

// Transactions lists a user's ledger history, newest first.
func (s *Service) Transactions(ctx context.Context, email string, limit int) ([]domain.Transaction, error) {
	return s.repo.FindTransactionsByUser(ctx, email, limit)
}

// CurrentPrice exposes the live pool price.
func (s *Service) CurrentPrice(ctx context.Context) (float64, error) {
	pool, err := s.repo.GetMarketPool(ctx)
	if err != nil {
		return 0, err
	}
	return domain.RoundPrice(pool.Price()), nil
}

// MarketStats assembles the public market snapshot.
func (s *Service) MarketStats(ctx context.Context) (*domain.MarketStats, error) {
	pool, err := s.repo.GetMarketPool(ctx)
	if err != nil {
		return nil, err
	}
	price := pool.Price()
	return &domain.MarketStats{
		Price:           domain.RoundPrice(price),
		INRReserve:      domain.RoundINR(pool.INRReserve),
		MRXReserve:      domain.RoundMRX(pool.MRXReserve),
		PriceFloor:      PriceFloor,
		AboveFloor:      price >= PriceFloor,
		MinINRReserve:   MinINRReserve,
		ReserveAboveMin: pool.INRReserve >= MinINRReserve,
	}, nil
}
