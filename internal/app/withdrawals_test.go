package app

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/unitedworld/market-service/internal/domain"
	"github.com/unitedworld/market-service/internal/store"
)

type withdrawStubRepo struct {
	*stubRepo

	requests map[string]*domain.WithdrawRequest

	escrowed   []*domain.WithdrawRequest
	approvals  []store.WithdrawalApproval
	rejections []store.WithdrawalRejection
	processed  []string
	forced     []string

	approveErrs []error
}

func newWithdrawStub(balance, inr, mrx float64) *withdrawStubRepo {
	return &withdrawStubRepo{
		stubRepo: newStubRepo(balance, inr, mrx),
		requests: map[string]*domain.WithdrawRequest{},
	}
}

func (r *withdrawStubRepo) CreateWithdrawRequestEscrow(ctx context.Context, req *domain.WithdrawRequest, escrowTxn *domain.Transaction) error {
	if r.user.INRBalance < req.Amount {
		return store.ErrInsufficientFunds
	}
	r.user.INRBalance = domain.RoundINR(r.user.INRBalance - req.Amount)
	stored := *req
	r.requests[req.RequestID] = &stored
	r.escrowed = append(r.escrowed, req)
	return nil
}

func (r *withdrawStubRepo) GetWithdrawRequest(ctx context.Context, requestID string) (*domain.WithdrawRequest, error) {
	req, ok := r.requests[requestID]
	if !ok {
		return nil, store.ErrWithdrawalNotFound
	}
	copied := *req
	return &copied, nil
}

func (r *withdrawStubRepo) ApproveWithdrawal(ctx context.Context, approval store.WithdrawalApproval) error {
	if len(r.approveErrs) > 0 {
		err := r.approveErrs[0]
		r.approveErrs = r.approveErrs[1:]
		if err != nil {
			if errors.Is(err, store.ErrPoolConflict) {
				r.pool.Version++
			}
			return err
		}
	}
	r.pool.INRReserve = approval.NewINRReserve
	r.pool.MRXReserve = approval.NewMRXReserve
	r.pool.Version++
	r.internalMRX[approval.UserEmail] -= approval.MRXToSell
	r.requests[approval.RequestID].Status = domain.StatusApproved
	r.approvals = append(r.approvals, approval)
	return nil
}

func (r *withdrawStubRepo) RejectWithdrawalWithRefund(ctx context.Context, rejection store.WithdrawalRejection) error {
	r.user.INRBalance = domain.RoundINR(r.user.INRBalance + rejection.Amount)
	if req, ok := r.requests[rejection.RequestID]; ok {
		req.Status = domain.StatusRejected
		req.Remarks = rejection.Remarks
	}
	r.rejections = append(r.rejections, rejection)
	return nil
}

func (r *withdrawStubRepo) MarkWithdrawalProcessed(ctx context.Context, requestID string, audit domain.AdminAuditEntry, txn *domain.Transaction) error {
	req, ok := r.requests[requestID]
	if !ok {
		return store.ErrWithdrawalNotFound
	}
	if req.Status != domain.StatusApproved {
		return store.ErrInvalidStatusChange
	}
	req.Status = domain.StatusProcessed
	r.processed = append(r.processed, requestID)
	return nil
}

func (r *withdrawStubRepo) ForceWithdrawalStatus(ctx context.Context, requestID, fromStatus, toStatus, remarks string, audit domain.AdminAuditEntry) error {
	req, ok := r.requests[requestID]
	if !ok {
		return store.ErrWithdrawalNotFound
	}
	if req.Status != fromStatus {
		return store.ErrInvalidStatusChange
	}
	req.Status = toStatus
	r.forced = append(r.forced, requestID+":"+toStatus)
	return nil
}

func submitWithdrawal(t *testing.T, svc *Service, amount float64) *domain.WithdrawRequest {
	t.Helper()
	req, err := svc.RequestWithdrawal(context.Background(), "asha@example.com", domain.WithdrawSubmission{
		Amount:        amount,
		BankName:      "State Bank",
		AccountNumber: "123456789012",
		IFSCCode:      "sbin0001234",
	})
	if err != nil {
		t.Fatalf("RequestWithdrawal returned error: %v", err)
	}
	return req
}

func TestRequestWithdrawal_EscrowsAmount(t *testing.T) {
	repo := newWithdrawStub(2000.00, 5000.00, 1000.0)
	svc := newTestService(repo)

	req := submitWithdrawal(t, svc, 500.00)

	if req.Status != domain.StatusPending {
		t.Errorf("expected pending status, got %q", req.Status)
	}
	if req.IFSCCode != "SBIN0001234" {
		t.Errorf("expected IFSC uppercased, got %q", req.IFSCCode)
	}
	if repo.user.INRBalance != 1500.00 {
		t.Errorf("expected escrowed balance 1500.00, got %.2f", repo.user.INRBalance)
	}
	if len(repo.escrowed) != 1 {
		t.Fatalf("expected one escrow, got %d", len(repo.escrowed))
	}
}

func TestRequestWithdrawal_PoolProtectionLeavesBalanceUntouched(t *testing.T) {
	// Paying out 1500 from a 2000 reserve would leave 500, under the 1000 floor.
	repo := newWithdrawStub(5000.00, 2000.00, 1000.0)
	svc := newTestService(repo)

	_, err := svc.RequestWithdrawal(context.Background(), "asha@example.com", domain.WithdrawSubmission{
		Amount:        1500.00,
		BankName:      "State Bank",
		AccountNumber: "123456789012",
		IFSCCode:      "SBIN0001234",
	})
	if !errors.Is(err, ErrPoolProtection) {
		t.Fatalf("expected ErrPoolProtection, got %v", err)
	}
	if repo.user.INRBalance != 5000.00 {
		t.Errorf("refused request must not touch the balance, got %.2f", repo.user.INRBalance)
	}
	if len(repo.escrowed) != 0 {
		t.Errorf("refused request must not create an escrow")
	}
}

func TestRequestWithdrawal_ValidatesBankDetails(t *testing.T) {
	repo := newWithdrawStub(5000.00, 5000.00, 1000.0)
	svc := newTestService(repo)

	_, err := svc.RequestWithdrawal(context.Background(), "asha@example.com", domain.WithdrawSubmission{
		Amount:   500.00,
		BankName: "State Bank",
	})
	if !errors.Is(err, ErrInvalidWithdrawal) {
		t.Fatalf("expected ErrInvalidWithdrawal, got %v", err)
	}

	_, err = svc.RequestWithdrawal(context.Background(), "asha@example.com", domain.WithdrawSubmission{
		Amount:        -5,
		BankName:      "State Bank",
		AccountNumber: "123456789012",
		IFSCCode:      "SBIN0001234",
	})
	if !errors.Is(err, ErrInvalidWithdrawal) {
		t.Fatalf("expected ErrInvalidWithdrawal for negative amount, got %v", err)
	}
}

func TestApproveWithdrawal_SellsPositionIntoPool(t *testing.T) {
	repo := newWithdrawStub(2000.00, 5000.00, 1000.0)
	repo.internalMRX["asha@example.com"] = 500.0
	svc := newTestService(repo)

	req := submitWithdrawal(t, svc, 1000.00)

	err := svc.SetWithdrawalStatus(context.Background(), "admin@example.com", "10.0.0.1", req.RequestID, domain.StatusApproved, "")
	if err != nil {
		t.Fatalf("approval returned error: %v", err)
	}

	if len(repo.approvals) != 1 {
		t.Fatalf("expected one approval commit, got %d", len(repo.approvals))
	}
	approval := repo.approvals[0]
	// Price 5.0, so 1000 INR sells 200 MRX back.
	if approval.MRXToSell != 200.0 {
		t.Errorf("expected 200 MRX sold, got %.6f", approval.MRXToSell)
	}
	if approval.NewINRReserve != 4000.00 || approval.NewMRXReserve != 1200.0 {
		t.Errorf("unexpected pool write: inr=%.2f mrx=%.6f", approval.NewINRReserve, approval.NewMRXReserve)
	}
	if repo.requests[req.RequestID].Status != domain.StatusApproved {
		t.Errorf("request status not updated, got %q", repo.requests[req.RequestID].Status)
	}
	if approval.Txn.Type != domain.TxnWithdrawalApproved {
		t.Errorf("unexpected transaction type %q", approval.Txn.Type)
	}
}

func TestApproveWithdrawal_PoolGuardAutoRejectsWithRefund(t *testing.T) {
	repo := newWithdrawStub(5000.00, 5000.00, 1000.0)
	svc := newTestService(repo)

	req := submitWithdrawal(t, svc, 1000.00)
	// The pool drained after the request was filed.
	repo.pool.INRReserve = 1500.00

	err := svc.SetWithdrawalStatus(context.Background(), "admin@example.com", "10.0.0.1", req.RequestID, domain.StatusApproved, "")
	if !errors.Is(err, ErrPoolProtection) {
		t.Fatalf("expected ErrPoolProtection, got %v", err)
	}

	stored := repo.requests[req.RequestID]
	if stored.Status != domain.StatusRejected {
		t.Errorf("expected auto-rejected request, got %q", stored.Status)
	}
	if !strings.Contains(stored.Remarks, "auto-rejected") {
		t.Errorf("expected auto-reject remark, got %q", stored.Remarks)
	}
	// Escrow refunded: 5000 - 1000 + 1000.
	if repo.user.INRBalance != 5000.00 {
		t.Errorf("expected refunded balance 5000.00, got %.2f", repo.user.INRBalance)
	}
}

func TestApproveWithdrawal_PostSaleFloorBreachAutoRejects(t *testing.T) {
	// Price sits at 1.05, just above the floor, and the reserve check passes:
	// 2000 - 900 leaves 1100. But selling 857.142857 MRX back in moves the pool
	// to (1100, 2761.904762), price 0.3983 — the approval must refuse.
	repo := newWithdrawStub(2000.00, 2000.00, 1904.761905)
	repo.internalMRX["asha@example.com"] = 1000.0
	svc := newTestService(repo)

	req := submitWithdrawal(t, svc, 900.00)

	err := svc.SetWithdrawalStatus(context.Background(), "admin@example.com", "10.0.0.1", req.RequestID, domain.StatusApproved, "")
	if !errors.Is(err, ErrPriceFloorBreached) {
		t.Fatalf("expected ErrPriceFloorBreached, got %v", err)
	}

	if len(repo.approvals) != 0 {
		t.Fatalf("floor-crossing sale must not commit, got %d approvals", len(repo.approvals))
	}
	stored := repo.requests[req.RequestID]
	if stored.Status != domain.StatusRejected {
		t.Errorf("expected auto-rejected request, got %q", stored.Status)
	}
	if !strings.Contains(stored.Remarks, "below the 1.00 floor") {
		t.Errorf("expected floor remark, got %q", stored.Remarks)
	}
	// Escrow refunded: 2000 - 900 + 900.
	if repo.user.INRBalance != 2000.00 {
		t.Errorf("expected refunded balance 2000.00, got %.2f", repo.user.INRBalance)
	}
	if repo.internalMRX["asha@example.com"] != 1000.0 {
		t.Errorf("refused sale must not touch the position, got %.6f", repo.internalMRX["asha@example.com"])
	}
}

func TestApproveWithdrawal_InsufficientPositionAutoRejects(t *testing.T) {
	repo := newWithdrawStub(5000.00, 5000.00, 1000.0)
	repo.internalMRX["asha@example.com"] = 1.0
	svc := newTestService(repo)

	req := submitWithdrawal(t, svc, 1000.00)

	err := svc.SetWithdrawalStatus(context.Background(), "admin@example.com", "10.0.0.1", req.RequestID, domain.StatusApproved, "")
	if !errors.Is(err, ErrInsufficientPosition) {
		t.Fatalf("expected ErrInsufficientPosition, got %v", err)
	}

	if len(repo.rejections) != 1 {
		t.Fatalf("expected one rejection, got %d", len(repo.rejections))
	}
	if repo.rejections[0].Txn.Type != domain.TxnWithdrawalInsufficient {
		t.Errorf("expected insufficient-position refund transaction, got %q", repo.rejections[0].Txn.Type)
	}
	if repo.user.INRBalance != 5000.00 {
		t.Errorf("expected refunded balance 5000.00, got %.2f", repo.user.INRBalance)
	}
}

func TestApproveWithdrawal_RetriesPoolConflict(t *testing.T) {
	repo := newWithdrawStub(5000.00, 5000.00, 1000.0)
	repo.internalMRX["asha@example.com"] = 500.0
	repo.approveErrs = []error{store.ErrPoolConflict, store.ErrPoolConflict}
	svc := newTestService(repo)

	req := submitWithdrawal(t, svc, 1000.00)

	err := svc.SetWithdrawalStatus(context.Background(), "admin@example.com", "10.0.0.1", req.RequestID, domain.StatusApproved, "")
	if err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if len(repo.approvals) != 1 {
		t.Fatalf("expected one committed approval, got %d", len(repo.approvals))
	}
}

func TestRejectWithdrawal_RefundsEscrow(t *testing.T) {
	repo := newWithdrawStub(2000.00, 5000.00, 1000.0)
	svc := newTestService(repo)

	req := submitWithdrawal(t, svc, 500.00)

	err := svc.SetWithdrawalStatus(context.Background(), "admin@example.com", "10.0.0.1", req.RequestID, domain.StatusRejected, "")
	if err != nil {
		t.Fatalf("rejection returned error: %v", err)
	}
	if repo.user.INRBalance != 2000.00 {
		t.Errorf("expected refunded balance 2000.00, got %.2f", repo.user.INRBalance)
	}
	if repo.rejections[0].Remarks != "rejected by admin" {
		t.Errorf("expected default rejection remark, got %q", repo.rejections[0].Remarks)
	}
}

func TestWithdrawalLifecycle_LinearTransitions(t *testing.T) {
	repo := newWithdrawStub(5000.00, 5000.00, 1000.0)
	repo.internalMRX["asha@example.com"] = 500.0
	svc := newTestService(repo)
	ctx := context.Background()

	req := submitWithdrawal(t, svc, 1000.00)

	// Rejecting a non-pending request is refused.
	if err := svc.SetWithdrawalStatus(ctx, "admin@example.com", "", req.RequestID, domain.StatusApproved, ""); err != nil {
		t.Fatalf("approval failed: %v", err)
	}
	if err := svc.SetWithdrawalStatus(ctx, "admin@example.com", "", req.RequestID, domain.StatusRejected, "nope"); !errors.Is(err, store.ErrInvalidStatusChange) {
		t.Fatalf("expected ErrInvalidStatusChange rejecting an approved request, got %v", err)
	}

	if err := svc.SetWithdrawalStatus(ctx, "admin@example.com", "", req.RequestID, domain.StatusProcessing, ""); err != nil {
		t.Fatalf("processing transition failed: %v", err)
	}
	if err := svc.SetWithdrawalStatus(ctx, "admin@example.com", "", req.RequestID, domain.StatusProcessed, ""); err != nil {
		t.Fatalf("processed transition failed: %v", err)
	}
	if got := repo.requests[req.RequestID].Status; got != domain.StatusProcessed {
		t.Errorf("expected processed, got %q", got)
	}

	if err := svc.SetWithdrawalStatus(ctx, "admin@example.com", "", req.RequestID, "frozen", ""); !errors.Is(err, ErrInvalidWithdrawal) {
		t.Fatalf("expected ErrInvalidWithdrawal for unknown status, got %v", err)
	}
}

func TestMarkProcessed_DirectlyFromApproved(t *testing.T) {
	repo := newWithdrawStub(5000.00, 5000.00, 1000.0)
	repo.internalMRX["asha@example.com"] = 500.0
	svc := newTestService(repo)
	ctx := context.Background()

	req := submitWithdrawal(t, svc, 1000.00)
	if err := svc.SetWithdrawalStatus(ctx, "admin@example.com", "", req.RequestID, domain.StatusApproved, ""); err != nil {
		t.Fatalf("approval failed: %v", err)
	}
	if err := svc.SetWithdrawalStatus(ctx, "admin@example.com", "", req.RequestID, domain.StatusProcessed, ""); err != nil {
		t.Fatalf("processed transition failed: %v", err)
	}
	if len(repo.processed) != 1 {
		t.Fatalf("expected MarkWithdrawalProcessed path, got forced=%v", repo.forced)
	}
}
