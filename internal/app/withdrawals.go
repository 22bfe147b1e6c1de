/**
 * @description
 * This file contains the withdrawal flow. The lifecycle is linear:
 *
 *   pending → approved → processing → processed
 *       └──→ rejected (escrow refunded)
 *
 * The amount is escrowed out of the visible balance when the request is
 * created. Approval is the only transition that touches the pool: it sells the
 * user's internal MRX back into the reserve. When any approval guard fails the
 * request is auto-rejected with the escrow refunded and a remark explaining
 * why, in place of the approval — there is no partial state to unwind.
 *
 * @dependencies
 * - context, errors, fmt, log, strings: Standard Go libraries.
 * - internal/domain, internal/store: For domain models and data access.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/unitedworld/market-service/internal/domain"
	"github.com/unitedworld/market-service/internal/store"
)

// RequestWithdrawal escrows the amount and files a pending withdrawal request.
func (s *Service) RequestWithdrawal(ctx context.Context, email string, sub domain.WithdrawSubmission) (*domain.WithdrawRequest, error) {
	amount := domain.RoundINR(sub.Amount)
	if amount <= 0 {
		return nil, fmt.Errorf("%w: amount must be greater than zero", ErrInvalidWithdrawal)
	}

	bankName := strings.TrimSpace(sub.BankName)
	accountNumber := strings.TrimSpace(sub.AccountNumber)
	ifsc := strings.ToUpper(strings.TrimSpace(sub.IFSCCode))
	if bankName == "" || accountNumber == "" || ifsc == "" {
		return nil, fmt.Errorf("%w: bank name, account number and IFSC code are required", ErrInvalidWithdrawal)
	}

	user, err := s.repo.FindUserByEmail(ctx, email)
	if err != nil {
		return nil, err
	}

	// Liquidity gate before the balance check: a request that could never be
	// paid out should not lock the user's funds.
	pool, err := s.repo.GetMarketPool(ctx)
	if err != nil {
		return nil, err
	}
	if pool.INRReserve-amount < MinINRReserve {
		return nil, ErrPoolProtection
	}

	if user.INRBalance < amount {
		return nil, store.ErrInsufficientFunds
	}

	now := s.now().UTC()
	req := &domain.WithdrawRequest{
		RequestID:     domain.NewRecordID("WDR", now),
		UserEmail:     user.Email,
		UserName:      user.FullName,
		Amount:        amount,
		Status:        domain.StatusPending,
		BankName:      bankName,
		AccountNumber: accountNumber,
		IFSCCode:      ifsc,
		CreatedAt:     now,
	}
	escrowTxn := &domain.Transaction{
		TxnID:     domain.NewRecordID("TXN", now),
		UserEmail: user.Email,
		Type:      domain.TxnWithdrawalRequested,
		AmountINR: amount,
		Status:    domain.StatusPending,
		CreatedAt: now,
	}

	if err := s.repo.CreateWithdrawRequestEscrow(ctx, req, escrowTxn); err != nil {
		return nil, err
	}

	log.Printf("RequestWithdrawal: created %s for %s amount=%.2f", req.RequestID, email, amount)
	if s.eventProducer != nil {
		s.eventProducer.Publish(ctx, "market.events", "withdrawal.requested", req)
	}
	return req, nil
}

// WithdrawalHistory lists a user's withdrawal requests with account numbers
// masked, newest first.
func (s *Service) WithdrawalHistory(ctx context.Context, email string) ([]domain.WithdrawRequest, error) {
	requests, err := s.repo.FindWithdrawRequestsByUser(ctx, email)
	if err != nil {
		return nil, err
	}
	for i := range requests {
		requests[i].AccountNumber = requests[i].MaskedAccountNumber()
	}
	return requests, nil
}

// SetWithdrawalStatus applies an admin decision to a withdrawal request. Each
// target status maps to exactly one transition; anything else is refused.
func (s *Service) SetWithdrawalStatus(ctx context.Context, adminEmail, origin, requestID, newStatus, remarks string) error {
	newStatus = strings.ToLower(strings.TrimSpace(newStatus))

	req, err := s.repo.GetWithdrawRequest(ctx, requestID)
	if err != nil {
		return err
	}

	switch newStatus {
	case domain.StatusApproved:
		return s.approveWithdrawal(ctx, adminEmail, origin, req)
	case domain.StatusRejected:
		if req.Status != domain.StatusPending {
			return store.ErrInvalidStatusChange
		}
		if remarks == "" {
			remarks = "rejected by admin"
		}
		return s.rejectWithdrawal(ctx, adminEmail, origin, req, remarks, domain.TxnWithdrawalRejected)
	case domain.StatusProcessing:
		audit := s.withdrawalAudit(adminEmail, origin, req.RequestID, "status set to processing")
		return s.repo.ForceWithdrawalStatus(ctx, req.RequestID, domain.StatusApproved, domain.StatusProcessing, remarks, audit)
	case domain.StatusProcessed:
		return s.markProcessed(ctx, adminEmail, origin, req)
	default:
		return fmt.Errorf("%w: unknown status %q", ErrInvalidWithdrawal, newStatus)
	}
}

// approveWithdrawal runs the approval guards and commits the pool sale. A
// failed guard auto-rejects the request with the escrow refunded, so the admin
// sees the outcome in the request's remarks rather than a dangling pending row.
func (s *Service) approveWithdrawal(ctx context.Context, adminEmail, origin string, req *domain.WithdrawRequest) error {
	if req.Status != domain.StatusPending {
		return store.ErrInvalidStatusChange
	}

	for attempt := 0; attempt < poolCommitRetries; attempt++ {
		pool, err := s.repo.GetMarketPool(ctx)
		if err != nil {
			return err
		}

		// Guard 1: the payout may not drain the reserve below its floor.
		if pool.INRReserve-req.Amount < MinINRReserve {
			remark := fmt.Sprintf("auto-rejected: payout would drop the INR pool below %.2f", MinINRReserve)
			if err := s.rejectWithdrawal(ctx, adminEmail, origin, req, remark, domain.TxnWithdrawalRejected); err != nil {
				return err
			}
			return ErrPoolProtection
		}

		price := pool.Price()
		if price < PriceFloor {
			remark := "auto-rejected: market price is below the floor"
			if err := s.rejectWithdrawal(ctx, adminEmail, origin, req, remark, domain.TxnWithdrawalRejected); err != nil {
				return err
			}
			return ErrPriceFloorBreached
		}

		mrxToSell := domain.RoundMRX(req.Amount / price)
		newINRReserve := domain.RoundINR(pool.INRReserve - req.Amount)
		newMRXReserve := domain.RoundMRX(pool.MRXReserve + mrxToSell)

		// Guard 2: the sale itself lowers the price; it may not cross the floor.
		if newINRReserve/newMRXReserve < PriceFloor {
			remark := fmt.Sprintf("auto-rejected: payout would push the price below the %.2f floor", PriceFloor)
			if err := s.rejectWithdrawal(ctx, adminEmail, origin, req, remark, domain.TxnWithdrawalRejected); err != nil {
				return err
			}
			return ErrPriceFloorBreached
		}

		// Guard 3: the user's hidden position must cover the sale.
		internalMRX, err := s.repo.GetInternalMRXBalance(ctx, req.UserEmail)
		if err != nil {
			return err
		}
		if internalMRX < mrxToSell {
			remark := "auto-rejected: insufficient internal token balance to cover the payout"
			if err := s.rejectWithdrawal(ctx, adminEmail, origin, req, remark, domain.TxnWithdrawalInsufficient); err != nil {
				return err
			}
			return ErrInsufficientPosition
		}

		now := s.now().UTC()
		approval := store.WithdrawalApproval{
			RequestID:           req.RequestID,
			UserEmail:           req.UserEmail,
			Amount:              req.Amount,
			MRXToSell:           mrxToSell,
			NewINRReserve:       newINRReserve,
			NewMRXReserve:       newMRXReserve,
			ExpectedPoolVersion: pool.Version,
			Txn: domain.Transaction{
				TxnID:     domain.NewRecordID("TXN", now),
				UserEmail: req.UserEmail,
				Type:      domain.TxnWithdrawalApproved,
				AmountINR: req.Amount,
				AmountMRX: mrxToSell,
				Price:     domain.RoundPrice(price),
				Status:    domain.StatusApproved,
				CreatedAt: now,
			},
			Audit: s.withdrawalAudit(adminEmail, origin, req.RequestID, fmt.Sprintf("approved payout of %.2f", req.Amount)),
		}

		err = s.repo.ApproveWithdrawal(ctx, approval)
		if err == nil {
			log.Printf("approveWithdrawal: %s approved %s amount=%.2f mrx=%.6f", adminEmail, req.RequestID, req.Amount, mrxToSell)
			if s.eventProducer != nil {
				s.eventProducer.Publish(ctx, "market.events", "withdrawal.approved", approval.Txn)
			}
			return nil
		}
		if errors.Is(err, store.ErrPoolConflict) {
			log.Printf("approveWithdrawal: pool version conflict on %s (attempt %d), recomputing", req.RequestID, attempt+1)
			continue
		}
		if errors.Is(err, store.ErrInsufficientMRX) {
			// The position shrank between the read and the commit.
			remark := "auto-rejected: insufficient internal token balance to cover the payout"
			if rejErr := s.rejectWithdrawal(ctx, adminEmail, origin, req, remark, domain.TxnWithdrawalInsufficient); rejErr != nil {
				return rejErr
			}
			return ErrInsufficientPosition
		}
		return err
	}

	return ErrConcurrentUpdate
}

// rejectWithdrawal commits pending→rejected with the escrow refunded.
func (s *Service) rejectWithdrawal(ctx context.Context, adminEmail, origin string, req *domain.WithdrawRequest, remarks, txnType string) error {
	now := s.now().UTC()
	rejection := store.WithdrawalRejection{
		RequestID: req.RequestID,
		UserEmail: req.UserEmail,
		Amount:    req.Amount,
		Remarks:   remarks,
		Txn: domain.Transaction{
			TxnID:     domain.NewRecordID("TXN", now),
			UserEmail: req.UserEmail,
			Type:      txnType,
			AmountINR: req.Amount,
			Status:    domain.StatusRejected,
			CreatedAt: now,
		},
		Audit: s.withdrawalAudit(adminEmail, origin, req.RequestID, "rejected: "+remarks),
	}

	if err := s.repo.RejectWithdrawalWithRefund(ctx, rejection); err != nil {
		return err
	}
	log.Printf("rejectWithdrawal: %s rejected with refund (%s)", req.RequestID, remarks)
	if s.eventProducer != nil {
		s.eventProducer.Publish(ctx, "market.events", "withdrawal.rejected", rejection.Txn)
	}
	return nil
}

// markProcessed records the completed bank transfer. Accepted from approved or
// processing; the money already left the pool at approval.
func (s *Service) markProcessed(ctx context.Context, adminEmail, origin string, req *domain.WithdrawRequest) error {
	now := s.now().UTC()
	audit := s.withdrawalAudit(adminEmail, origin, req.RequestID, "marked processed")

	if req.Status == domain.StatusProcessing {
		return s.repo.ForceWithdrawalStatus(ctx, req.RequestID, domain.StatusProcessing, domain.StatusProcessed, "", audit)
	}

	txn := &domain.Transaction{
		TxnID:     domain.NewRecordID("TXN", now),
		UserEmail: req.UserEmail,
		Type:      domain.TxnWithdrawalProcessed,
		AmountINR: req.Amount,
		Status:    domain.StatusProcessed,
		CreatedAt: now,
	}
	return s.repo.MarkWithdrawalProcessed(ctx, req.RequestID, audit, txn)
}

func (s *Service) withdrawalAudit(adminEmail, origin, requestID, details string) domain.AdminAuditEntry {
	return domain.AdminAuditEntry{
		LogID:      domain.NewRecordID("LOG", s.now().UTC()),
		AdminEmail: adminEmail,
		Action:     "withdrawal_status_update",
		TargetID:   requestID,
		TargetType: "withdraw_request",
		Details:    details,
		Origin:     origin,
		CreatedAt:  s.now().UTC(),
	}
}
