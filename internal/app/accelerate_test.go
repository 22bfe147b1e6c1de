package app

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/unitedworld/market-service/internal/domain"
	"github.com/unitedworld/market-service/internal/store"
)

// stubRepo implements only the Repository methods the trade tests touch.
// Anything else panics via the embedded nil interface.
type stubRepo struct {
	store.Repository

	user *domain.User
	pool domain.MarketPool

	daily       map[string]float64
	internalMRX map[string]float64

	commits        []store.AccelerateCommit
	conflictsLeft  int
	failCommitWith error

	failDailyReadPostCommit bool
}

func newStubRepo(balance float64, inr, mrx float64) *stubRepo {
	return &stubRepo{
		user: &domain.User{
			UserID:     "USR1",
			FullName:   "Asha Verma",
			Email:      "asha@example.com",
			Role:       domain.RoleUser,
			INRBalance: balance,
		},
		pool:        domain.MarketPool{INRReserve: inr, MRXReserve: mrx, Version: 7},
		daily:       map[string]float64{},
		internalMRX: map[string]float64{},
	}
}

func (r *stubRepo) FindUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	if r.user == nil || r.user.Email != email {
		return nil, store.ErrUserNotFound
	}
	u := *r.user
	return &u, nil
}

func (r *stubRepo) GetMarketPool(ctx context.Context) (*domain.MarketPool, error) {
	p := r.pool
	return &p, nil
}

func (r *stubRepo) GetDailyTradeTotal(ctx context.Context, tradeDate, email string) (*domain.DailyTradeTotal, error) {
	if r.failDailyReadPostCommit && len(r.commits) > 0 {
		return nil, errors.New("connection reset")
	}
	total, ok := r.daily[tradeDate+"|"+email]
	if !ok {
		return nil, store.ErrDailyTotalNotFound
	}
	return &domain.DailyTradeTotal{TradeDate: tradeDate, UserEmail: email, TotalAmount: total}, nil
}

func (r *stubRepo) GetInternalMRXBalance(ctx context.Context, email string) (float64, error) {
	return r.internalMRX[email], nil
}

func (r *stubRepo) CommitAccelerateOrder(ctx context.Context, commit store.AccelerateCommit) error {
	if r.conflictsLeft > 0 {
		r.conflictsLeft--
		r.pool.Version++
		return store.ErrPoolConflict
	}
	if r.failCommitWith != nil {
		return r.failCommitWith
	}
	if commit.ExpectedPoolVersion != r.pool.Version {
		return store.ErrPoolConflict
	}

	key := commit.TradeDate + "|" + commit.UserEmail
	newTotal := r.daily[key] + commit.Amount
	if newTotal > commit.DailyLimit+0.001 {
		return store.ErrDailyLimitExceeded
	}
	r.daily[key] = newTotal

	r.pool.INRReserve = commit.NewINRReserve
	r.pool.MRXReserve = commit.NewMRXReserve
	r.pool.Version++
	r.user.INRBalance = domain.RoundINR(r.user.INRBalance - commit.Amount + commit.MRXValue)
	r.internalMRX[commit.UserEmail] += commit.MRXReceived
	r.commits = append(r.commits, commit)
	return nil
}

func newTestService(repo store.Repository) *Service {
	s := NewService(repo, nil)
	s.now = func() time.Time { return time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC) }
	return s
}

func TestAccelerateOrder_ExecutesBuy(t *testing.T) {
	repo := newStubRepo(1000.00, 2000.00, 1000.0)
	svc := newTestService(repo)

	result, err := svc.AccelerateOrder(context.Background(), "asha@example.com", domain.AccelerateOrderRequest{
		Amount:    100.00,
		Sentiment: "bullish",
	})
	if err != nil {
		t.Fatalf("AccelerateOrder returned error: %v", err)
	}

	if result.TaxAmount != 5.00 {
		t.Errorf("expected tax 5.00, got %.2f", result.TaxAmount)
	}
	if result.AmountToPool != 95.00 {
		t.Errorf("expected 95.00 sent to pool, got %.2f", result.AmountToPool)
	}
	// priceBefore 2.0, so 95/2.0 tokens.
	if result.MRXAllocated != 47.5 {
		t.Errorf("expected 47.5 MRX allocated, got %.6f", result.MRXAllocated)
	}
	if result.PriceBefore != 2.0 {
		t.Errorf("expected price before 2.0, got %.4f", result.PriceBefore)
	}
	// New reserves 2095 / 952.5.
	if result.PriceAfter != 2.1995 {
		t.Errorf("expected price after 2.1995, got %.4f", result.PriceAfter)
	}
	if result.MRXCurrentValue != 104.48 {
		t.Errorf("expected mark-to-market value 104.48, got %.2f", result.MRXCurrentValue)
	}
	if result.NewINRBalance != 1004.48 {
		t.Errorf("expected new balance 1004.48, got %.2f", result.NewINRBalance)
	}
	if result.Profit != 4.48 {
		t.Errorf("expected profit 4.48, got %.2f", result.Profit)
	}
	if result.NewMRXBalance != 0 {
		t.Errorf("user-facing MRX balance must stay 0, got %.6f", result.NewMRXBalance)
	}

	if len(repo.commits) != 1 {
		t.Fatalf("expected exactly one commit, got %d", len(repo.commits))
	}
	commit := repo.commits[0]
	if commit.NewINRReserve != 2095.00 || commit.NewMRXReserve != 952.5 {
		t.Errorf("unexpected pool write: inr=%.2f mrx=%.6f", commit.NewINRReserve, commit.NewMRXReserve)
	}
	if commit.Tax.OrderType != "buy" || commit.Tax.TaxAmount != 5.00 {
		t.Errorf("unexpected tax record: %+v", commit.Tax)
	}
	if commit.Txn.Type != domain.TxnAccelerateBullish {
		t.Errorf("unexpected transaction type %q", commit.Txn.Type)
	}
	if result.DailyTotalUsed != 100.00 {
		t.Errorf("expected daily total 100.00, got %.2f", result.DailyTotalUsed)
	}
}

func TestAccelerateOrder_KeepsFullPrecisionUntilPersistence(t *testing.T) {
	// 999.99 at price 2.0: the unrounded after-tax amount 949.9905 prices the
	// allocation. Rounding the tax first would truncate it to 474.995 MRX.
	repo := newStubRepo(5000.00, 2000.00, 1000.0)
	svc := newTestService(repo)

	result, err := svc.AccelerateOrder(context.Background(), "asha@example.com", domain.AccelerateOrderRequest{
		Amount:    999.99,
		Sentiment: "bullish",
	})
	if err != nil {
		t.Fatalf("AccelerateOrder returned error: %v", err)
	}

	if math.Abs(result.MRXAllocated-474.99525) > 1e-9 {
		t.Errorf("expected 474.99525 MRX allocated, got %.6f", result.MRXAllocated)
	}
	if result.TaxAmount != 50.00 {
		t.Errorf("expected reported tax 50.00, got %.2f", result.TaxAmount)
	}
	commit := repo.commits[0]
	if commit.NewINRReserve != 2949.99 {
		t.Errorf("expected INR reserve rounded at persistence to 2949.99, got %.2f", commit.NewINRReserve)
	}
	if math.Abs(commit.NewMRXReserve-525.00475) > 1e-9 {
		t.Errorf("expected MRX reserve 525.00475, got %.6f", commit.NewMRXReserve)
	}
	if commit.Tax.TaxAmount != 50.00 {
		t.Errorf("expected persisted tax 50.00, got %.2f", commit.Tax.TaxAmount)
	}
}

func TestAccelerateOrder_ReportsHeadroomWhenReReadFails(t *testing.T) {
	repo := newStubRepo(1000.00, 2000.00, 1000.0)
	repo.failDailyReadPostCommit = true
	svc := newTestService(repo)

	result, err := svc.AccelerateOrder(context.Background(), "asha@example.com", domain.AccelerateOrderRequest{
		Amount:    100.00,
		Sentiment: "bullish",
	})
	if err != nil {
		t.Fatalf("AccelerateOrder returned error: %v", err)
	}
	// The re-read failed; the response still reflects the headroom this trade
	// consumed instead of resetting to the full limit.
	if result.DailyTotalUsed != 100.00 {
		t.Errorf("expected daily total 100.00, got %.2f", result.DailyTotalUsed)
	}
	if result.DailyRemaining != 9900.00 {
		t.Errorf("expected remaining 9900.00, got %.2f", result.DailyRemaining)
	}
}

func TestAccelerateOrder_RejectsOversizedOrder(t *testing.T) {
	repo := newStubRepo(5000.00, 2000.00, 1000.0)
	svc := newTestService(repo)

	_, err := svc.AccelerateOrder(context.Background(), "asha@example.com", domain.AccelerateOrderRequest{
		Amount:    1500.00,
		Sentiment: "bullish",
	})
	if !errors.Is(err, ErrOrderTooLarge) {
		t.Fatalf("expected ErrOrderTooLarge, got %v", err)
	}
	if len(repo.commits) != 0 {
		t.Fatalf("oversized order must not commit, got %d commits", len(repo.commits))
	}
}

func TestAccelerateOrder_RejectsNonPositiveAmount(t *testing.T) {
	repo := newStubRepo(1000.00, 2000.00, 1000.0)
	svc := newTestService(repo)

	for _, amount := range []float64{0, -10} {
		_, err := svc.AccelerateOrder(context.Background(), "asha@example.com", domain.AccelerateOrderRequest{
			Amount:    amount,
			Sentiment: "bullish",
		})
		if !errors.Is(err, ErrInvalidAmount) {
			t.Errorf("amount %.2f: expected ErrInvalidAmount, got %v", amount, err)
		}
	}
}

func TestAccelerateOrder_SellIsDisabled(t *testing.T) {
	repo := newStubRepo(1000.00, 2000.00, 1000.0)
	svc := newTestService(repo)

	_, err := svc.AccelerateOrder(context.Background(), "asha@example.com", domain.AccelerateOrderRequest{
		Amount:    100.00,
		Sentiment: "bearish",
	})
	if !errors.Is(err, ErrSellDisabled) {
		t.Fatalf("expected ErrSellDisabled, got %v", err)
	}

	_, err = svc.AccelerateOrder(context.Background(), "asha@example.com", domain.AccelerateOrderRequest{
		Amount:    100.00,
		Sentiment: "sideways",
	})
	if !errors.Is(err, ErrInvalidSentiment) {
		t.Fatalf("expected ErrInvalidSentiment, got %v", err)
	}
}

func TestAccelerateOrder_EnforcesDailyLimit(t *testing.T) {
	repo := newStubRepo(50000.00, 100000.00, 50000.0)
	svc := newTestService(repo)
	tradeDate := svc.tradeDate()

	// First trades filled the day up to 9000.01; the next 1000.00 would total
	// 10000.01 and must be refused.
	repo.daily[tradeDate+"|asha@example.com"] = 9000.01

	_, err := svc.AccelerateOrder(context.Background(), "asha@example.com", domain.AccelerateOrderRequest{
		Amount:    1000.00,
		Sentiment: "bullish",
	})
	if !errors.Is(err, ErrDailyLimitReached) {
		t.Fatalf("expected ErrDailyLimitReached, got %v", err)
	}
	if len(repo.commits) != 0 {
		t.Fatalf("over-limit order must not commit")
	}
}

func TestAccelerateOrder_DailyLimitRaceLosesAtCommit(t *testing.T) {
	// The pre-check sees an empty day, but a concurrent request consumed the
	// budget before this one committed. The transactional re-check wins.
	repo := newStubRepo(50000.00, 100000.00, 50000.0)
	repo.failCommitWith = store.ErrDailyLimitExceeded
	svc := newTestService(repo)

	_, err := svc.AccelerateOrder(context.Background(), "asha@example.com", domain.AccelerateOrderRequest{
		Amount:    1000.00,
		Sentiment: "bullish",
	})
	if !errors.Is(err, ErrDailyLimitReached) {
		t.Fatalf("expected ErrDailyLimitReached from commit re-check, got %v", err)
	}
}

func TestAccelerateOrder_InsufficientFunds(t *testing.T) {
	repo := newStubRepo(50.00, 2000.00, 1000.0)
	svc := newTestService(repo)

	_, err := svc.AccelerateOrder(context.Background(), "asha@example.com", domain.AccelerateOrderRequest{
		Amount:    100.00,
		Sentiment: "bullish",
	})
	if !errors.Is(err, store.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
}

func TestAccelerateOrder_EmptyPoolIsUnavailable(t *testing.T) {
	repo := newStubRepo(1000.00, 2000.00, 0)
	svc := newTestService(repo)

	_, err := svc.AccelerateOrder(context.Background(), "asha@example.com", domain.AccelerateOrderRequest{
		Amount:    100.00,
		Sentiment: "bullish",
	})
	if !errors.Is(err, ErrMarketUnavailable) {
		t.Fatalf("expected ErrMarketUnavailable, got %v", err)
	}
}

func TestAccelerateOrder_LiquidityCap(t *testing.T) {
	// Tiny INR reserve: 95 INR after tax would buy more than 95% of the token
	// reserve regardless of its size.
	repo := newStubRepo(1000.00, 99.00, 99.0)
	svc := newTestService(repo)

	_, err := svc.AccelerateOrder(context.Background(), "asha@example.com", domain.AccelerateOrderRequest{
		Amount:    100.00,
		Sentiment: "bullish",
	})
	if !errors.Is(err, ErrPoolDrained) {
		t.Fatalf("expected ErrPoolDrained, got %v", err)
	}
}

func TestAccelerateOrder_RetriesOnPoolConflict(t *testing.T) {
	repo := newStubRepo(1000.00, 2000.00, 1000.0)
	repo.conflictsLeft = 2
	svc := newTestService(repo)

	result, err := svc.AccelerateOrder(context.Background(), "asha@example.com", domain.AccelerateOrderRequest{
		Amount:    100.00,
		Sentiment: "bullish",
	})
	if err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if result == nil || len(repo.commits) != 1 {
		t.Fatalf("expected one committed order after retries")
	}
}

func TestAccelerateOrder_GivesUpAfterRepeatedConflicts(t *testing.T) {
	repo := newStubRepo(1000.00, 2000.00, 1000.0)
	repo.conflictsLeft = 10
	svc := newTestService(repo)

	_, err := svc.AccelerateOrder(context.Background(), "asha@example.com", domain.AccelerateOrderRequest{
		Amount:    100.00,
		Sentiment: "bullish",
	})
	if !errors.Is(err, ErrConcurrentUpdate) {
		t.Fatalf("expected ErrConcurrentUpdate, got %v", err)
	}
}

func TestBalance_ReportsZeroMRXAndMarkToMarket(t *testing.T) {
	repo := newStubRepo(500.00, 2000.00, 1000.0)
	repo.internalMRX["asha@example.com"] = 47.5
	svc := newTestService(repo)

	snapshot, err := svc.Balance(context.Background(), "asha@example.com")
	if err != nil {
		t.Fatalf("Balance returned error: %v", err)
	}
	if snapshot.MRXBalance != 0 {
		t.Errorf("visible MRX balance must be 0, got %.6f", snapshot.MRXBalance)
	}
	if snapshot.InternalMRX != 47.5 {
		t.Errorf("expected internal MRX 47.5, got %.6f", snapshot.InternalMRX)
	}
	// 500 + 47.5 * 2.0
	if snapshot.TotalWalletValue != 595.00 {
		t.Errorf("expected wallet value 595.00, got %.2f", snapshot.TotalWalletValue)
	}
	if snapshot.DailyRemaining != DailyTradingLimit {
		t.Errorf("expected full daily headroom, got %.2f", snapshot.DailyRemaining)
	}
}
