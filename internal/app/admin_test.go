package app

import (
	"context"
	"errors"
	"testing"

	"github.com/unitedworld/market-service/internal/domain"
	"github.com/unitedworld/market-service/internal/store"
)

type adminStubRepo struct {
	*stubRepo

	totalInternalMRX float64
	adjustments      []store.PoolAdjustment
	adjustErr        error
	clearedTotals    []string
}

func newAdminStub(inr, mrx float64) *adminStubRepo {
	return &adminStubRepo{stubRepo: newStubRepo(1000.00, inr, mrx)}
}

func (r *adminStubRepo) SumInternalMRX(ctx context.Context) (float64, error) {
	return r.totalInternalMRX, nil
}

func (r *adminStubRepo) SetMarketPool(ctx context.Context, adjustment store.PoolAdjustment) error {
	if r.adjustErr != nil {
		return r.adjustErr
	}
	if adjustment.ExpectedPoolVersion != r.pool.Version {
		return store.ErrPoolConflict
	}
	r.pool.INRReserve = adjustment.INRReserve
	r.pool.MRXReserve = adjustment.MRXReserve
	r.pool.Version++
	r.adjustments = append(r.adjustments, adjustment)
	return nil
}

func (r *adminStubRepo) ResetDailyTradeTotal(ctx context.Context, tradeDate, email string, audit domain.AdminAuditEntry) (float64, error) {
	key := tradeDate + "|" + email
	total, ok := r.daily[key]
	if !ok {
		return 0, store.ErrDailyTotalNotFound
	}
	delete(r.daily, key)
	r.clearedTotals = append(r.clearedTotals, key)
	return total, nil
}

func TestIsAdmin(t *testing.T) {
	repo := newAdminStub(2000.00, 1000.0)
	svc := newTestService(repo)
	ctx := context.Background()

	isAdmin, err := svc.IsAdmin(ctx, "asha@example.com")
	if err != nil || isAdmin {
		t.Errorf("plain user must not be admin, got %v %v", isAdmin, err)
	}

	repo.user.Role = domain.RoleAdmin
	isAdmin, err = svc.IsAdmin(ctx, "asha@example.com")
	if err != nil || !isAdmin {
		t.Errorf("expected admin role to grant access, got %v %v", isAdmin, err)
	}

	// A missing user is not an admin, not an error.
	isAdmin, err = svc.IsAdmin(ctx, "nobody@example.com")
	if err != nil || isAdmin {
		t.Errorf("missing user must not be admin, got %v %v", isAdmin, err)
	}
}

func TestSystemHealth_Reconciliation(t *testing.T) {
	// 952.5 in the pool plus 47.5 held internally equals the initial supply.
	repo := newAdminStub(2095.00, 952.5)
	repo.totalInternalMRX = 47.5
	svc := newTestService(repo)

	health, err := svc.SystemHealth(context.Background())
	if err != nil {
		t.Fatalf("SystemHealth returned error: %v", err)
	}
	if !health.Reconciliation.Reconciled {
		t.Errorf("expected reconciled supply, discrepancy=%.6f", health.Reconciliation.Discrepancy)
	}
	if health.Reconciliation.SystemMRXTotal != 1000.0 {
		t.Errorf("expected system total 1000.0, got %.6f", health.Reconciliation.SystemMRXTotal)
	}
	if !health.PriceFloor.AboveFloor {
		t.Errorf("expected price above floor at %.4f", health.Price)
	}
}

func TestSystemHealth_DetectsSupplyLeak(t *testing.T) {
	repo := newAdminStub(2095.00, 952.5)
	repo.totalInternalMRX = 40.0
	svc := newTestService(repo)

	health, err := svc.SystemHealth(context.Background())
	if err != nil {
		t.Fatalf("SystemHealth returned error: %v", err)
	}
	if health.Reconciliation.Reconciled {
		t.Errorf("expected supply mismatch to be reported")
	}
	if health.Reconciliation.Discrepancy != -7.5 {
		t.Errorf("expected discrepancy -7.5, got %.6f", health.Reconciliation.Discrepancy)
	}
}

func TestSystemHealth_ToleratesRoundingDust(t *testing.T) {
	repo := newAdminStub(2095.00, 952.5)
	repo.totalInternalMRX = 47.5005
	svc := newTestService(repo)

	health, err := svc.SystemHealth(context.Background())
	if err != nil {
		t.Fatalf("SystemHealth returned error: %v", err)
	}
	if !health.Reconciliation.Reconciled {
		t.Errorf("sub-tolerance drift must reconcile, discrepancy=%.6f", health.Reconciliation.Discrepancy)
	}
}

func TestAdjustPool(t *testing.T) {
	repo := newAdminStub(2000.00, 1000.0)
	svc := newTestService(repo)
	ctx := context.Background()

	pool, err := svc.AdjustPool(ctx, "admin@example.com", "10.0.0.1", 3000.00, 1000.0)
	if err != nil {
		t.Fatalf("AdjustPool returned error: %v", err)
	}
	if pool.INRReserve != 3000.00 {
		t.Errorf("expected INR reserve 3000.00, got %.2f", pool.INRReserve)
	}
	if len(repo.adjustments) != 1 {
		t.Fatalf("expected one adjustment, got %d", len(repo.adjustments))
	}
	if repo.adjustments[0].Audit.Action != "pool_adjustment" {
		t.Errorf("unexpected audit action %q", repo.adjustments[0].Audit.Action)
	}
}

func TestAdjustPool_RefusesFloorBreach(t *testing.T) {
	repo := newAdminStub(2000.00, 1000.0)
	svc := newTestService(repo)

	// 900/1000 would put the price at 0.9, under the floor.
	_, err := svc.AdjustPool(context.Background(), "admin@example.com", "", 900.00, 1000.0)
	if !errors.Is(err, ErrPriceFloorBreached) {
		t.Fatalf("expected ErrPriceFloorBreached, got %v", err)
	}

	_, err = svc.AdjustPool(context.Background(), "admin@example.com", "", 0, 1000.0)
	if !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount for zero reserve, got %v", err)
	}
}

func TestAdjustPool_LosesVersionRace(t *testing.T) {
	repo := newAdminStub(2000.00, 1000.0)
	repo.adjustErr = store.ErrPoolConflict
	svc := newTestService(repo)

	_, err := svc.AdjustPool(context.Background(), "admin@example.com", "", 3000.00, 1000.0)
	if !errors.Is(err, ErrConcurrentUpdate) {
		t.Fatalf("expected ErrConcurrentUpdate, got %v", err)
	}
}

func TestResetDailyLimit(t *testing.T) {
	repo := newAdminStub(2000.00, 1000.0)
	svc := newTestService(repo)
	tradeDate := svc.tradeDate()
	repo.daily[tradeDate+"|asha@example.com"] = 7500.00

	cleared, err := svc.ResetDailyLimit(context.Background(), "admin@example.com", "10.0.0.1", "asha@example.com")
	if err != nil {
		t.Fatalf("ResetDailyLimit returned error: %v", err)
	}
	if cleared != 7500.00 {
		t.Errorf("expected cleared total 7500.00, got %.2f", cleared)
	}
	if _, ok := repo.daily[tradeDate+"|asha@example.com"]; ok {
		t.Errorf("daily total not cleared")
	}

	_, err = svc.ResetDailyLimit(context.Background(), "admin@example.com", "", "asha@example.com")
	if !errors.Is(err, store.ErrDailyTotalNotFound) {
		t.Fatalf("expected ErrDailyTotalNotFound on empty day, got %v", err)
	}
}
