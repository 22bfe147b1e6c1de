/**
 * @description
 * This file contains the deposit request flow: users submit a claim of an
 * external payment, admins verify and resolve it. Money only moves on the
 * transition into approved, and re-approving an already approved request never
 * credits twice.
 *
 * @dependencies
 * - context, fmt, log, strings, unicode: Standard Go libraries.
 * - internal/domain, internal/store: For domain models and data access.
 */

package app

import (
	"context"
	"fmt"
	"log"
	"strings"
	"unicode"

	"github.com/unitedworld/market-service/internal/domain"
	"github.com/unitedworld/market-service/internal/store"
)

const (
	MinDepositAmount = 500.00
	MaxDepositAmount = 100000.00
	minExternalRef   = 5
	phoneDigits      = 10
)

// SubmitDeposit records a pending deposit claim after validating its fields.
func (s *Service) SubmitDeposit(ctx context.Context, email string, sub domain.DepositSubmission) (*domain.DepositRequest, error) {
	amount := domain.RoundINR(sub.Amount)
	if amount < MinDepositAmount || amount > MaxDepositAmount {
		return nil, fmt.Errorf("%w: amount must be between %.2f and %.2f", ErrInvalidDeposit, MinDepositAmount, MaxDepositAmount)
	}

	ref := strings.TrimSpace(sub.ExternalRef)
	if len(ref) < minExternalRef {
		return nil, fmt.Errorf("%w: transaction reference must be at least %d characters", ErrInvalidDeposit, minExternalRef)
	}

	phone := strings.TrimSpace(sub.Phone)
	if !isAllDigits(phone) || len(phone) != phoneDigits {
		return nil, fmt.Errorf("%w: phone must be exactly %d digits", ErrInvalidDeposit, phoneDigits)
	}

	if _, err := s.repo.FindUserByEmail(ctx, email); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	req := &domain.DepositRequest{
		RequestID:     domain.NewRecordID("DPR", now),
		UserEmail:     email,
		Amount:        amount,
		ExternalRef:   ref,
		Phone:         phone,
		PaymentMethod: strings.TrimSpace(sub.PaymentMethod),
		Status:        domain.StatusPending,
		CreatedAt:     now,
	}
	if err := s.repo.CreateDepositRequest(ctx, req); err != nil {
		return nil, fmt.Errorf("failed to create deposit request: %w", err)
	}

	log.Printf("SubmitDeposit: created %s for %s amount=%.2f", req.RequestID, email, amount)
	return req, nil
}

// DepositHistory lists a user's deposit requests, newest first.
func (s *Service) DepositHistory(ctx context.Context, email string, limit int) ([]domain.DepositRequest, error) {
	return s.repo.FindDepositRequestsByUser(ctx, email, limit)
}

// ResolveDeposit applies an admin decision to a deposit request. The credit is
// idempotent: only a transition into approved from another status moves money.
func (s *Service) ResolveDeposit(ctx context.Context, adminEmail, origin, requestID, newStatus string) error {
	newStatus = strings.ToLower(strings.TrimSpace(newStatus))
	switch newStatus {
	case domain.StatusPending, domain.StatusApproved, domain.StatusRejected:
	default:
		return fmt.Errorf("%w: unknown status %q", ErrInvalidDeposit, newStatus)
	}

	now := s.now().UTC()
	transition := store.DepositTransition{
		RequestID: requestID,
		NewStatus: newStatus,
		Audit: domain.AdminAuditEntry{
			LogID:      domain.NewRecordID("LOG", now),
			AdminEmail: adminEmail,
			Action:     "deposit_status_update",
			TargetID:   requestID,
			TargetType: "deposit_request",
			Details:    "status set to " + newStatus,
			Origin:     origin,
			CreatedAt:  now,
		},
	}

	if newStatus == domain.StatusApproved {
		req, err := s.repo.GetDepositRequest(ctx, requestID)
		if err != nil {
			return err
		}
		transition.CreditTxn = &domain.Transaction{
			TxnID:     domain.NewRecordID("TXN", now),
			UserEmail: req.UserEmail,
			Type:      domain.TxnDepositApproved,
			AmountINR: req.Amount,
			Status:    "completed",
			CreatedAt: now,
		}
	}

	credited, err := s.repo.SetDepositStatus(ctx, transition)
	if err != nil {
		return err
	}

	log.Printf("ResolveDeposit: %s set %s to %s (credited=%v)", adminEmail, requestID, newStatus, credited)
	if credited && s.eventProducer != nil {
		s.eventProducer.Publish(ctx, "market.events", "deposit.approved", transition.CreditTxn)
	}
	return nil
}

func isAllDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}
