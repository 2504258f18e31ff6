package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"agri-ledger/internal/apperr"
	"agri-ledger/internal/metrics"
	"agri-ledger/internal/models"
	"agri-ledger/internal/store"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type ScheduleService struct {
	ledger *Ledger
	store  store.Store
	logger zerolog.Logger
}

func NewScheduleService(ledger *Ledger) *ScheduleService {
	return &ScheduleService{
		ledger: ledger,
		store:  ledger.store,
		logger: ledger.logger.With().Str("service", "schedule").Logger(),
	}
}

// CreateScheduledPayment registers a recurring debit. Without an explicit first date the
// first occurrence is one frequency step from now.
func (s *ScheduleService) CreateScheduledPayment(ctx context.Context, req models.ScheduledPaymentRequest) (*models.ScheduledPayment, error) {
	if err := requirePositive(req.Amount); err != nil {
		return nil, err
	}
	if !req.Frequency.Valid() {
		return nil, apperr.InvalidInput(fmt.Sprintf("unknown frequency %q", req.Frequency), "تكرار الدفع غير معروف")
	}
	if _, err := s.store.GetWallet(ctx, req.WalletID); err != nil {
		return nil, err
	}
	if req.LoanID != "" {
		loan, err := s.store.GetLoan(ctx, req.LoanID)
		if err != nil {
			return nil, err
		}
		if loan.WalletID != req.WalletID {
			return nil, apperr.InvalidInput("loan does not belong to this wallet", "القرض لا يخص هذه المحفظة")
		}
	}

	now := s.ledger.now()
	next := req.Frequency.Next(now)
	if req.NextPaymentDate != nil {
		next = *req.NextPaymentDate
	}

	p := &models.ScheduledPayment{
		ID:              uuid.NewString(),
		WalletID:        req.WalletID,
		LoanID:          optional(req.LoanID),
		Amount:          req.Amount,
		Frequency:       req.Frequency,
		NextPaymentDate: next,
		IsActive:        true,
		Description:     orDefault(req.Description, "Scheduled payment"),
		DescriptionAr:   orDefault(req.DescriptionAr, "دفعة مجدولة"),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.store.CreateScheduledPayment(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to create scheduled payment: %w", err)
	}

	s.logger.Info().
		Str("payment_id", p.ID).
		Str("wallet_id", p.WalletID).
		Str("frequency", string(p.Frequency)).
		Time("next_payment_date", p.NextPaymentDate).
		Msg("Scheduled payment created")
	return p, nil
}

// CancelScheduledPayment deactivates the schedule. History is kept.
func (s *ScheduleService) CancelScheduledPayment(ctx context.Context, paymentID string) (*models.ScheduledPayment, error) {
	p, err := s.store.GetScheduledPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if !p.IsActive {
		return p, nil
	}
	p.IsActive = false
	p.UpdatedAt = s.ledger.now()
	if err := s.store.UpdateScheduledPayment(ctx, p); err != nil {
		return nil, err
	}
	s.logger.Info().Str("payment_id", paymentID).Msg("Scheduled payment cancelled")
	return p, nil
}

func (s *ScheduleService) GetScheduledPayment(ctx context.Context, paymentID string) (*models.ScheduledPayment, error) {
	return s.store.GetScheduledPayment(ctx, paymentID)
}

func (s *ScheduleService) GetScheduledPayments(ctx context.Context, walletID string, activeOnly bool) ([]*models.ScheduledPayment, error) {
	return s.store.ListScheduledPayments(ctx, walletID, activeOnly)
}

// ExecuteScheduledPayment debits one occurrence and advances the schedule. A short balance
// is recorded on the schedule and returned as InsufficientFunds.
func (s *ScheduleService) ExecuteScheduledPayment(ctx context.Context, paymentID string, opts models.MoneyOptions) (*models.ScheduledPaymentResult, error) {
	return s.execute(ctx, paymentID, nil, opts)
}

// executeDue charges the occurrence due at the given date only; it fails with IllegalState
// once the schedule has moved past it.
func (s *ScheduleService) executeDue(ctx context.Context, paymentID string, due time.Time, opts models.MoneyOptions) (*models.ScheduledPaymentResult, error) {
	return s.execute(ctx, paymentID, &due, opts)
}

func (s *ScheduleService) execute(ctx context.Context, paymentID string, expectDue *time.Time, opts models.MoneyOptions) (*models.ScheduledPaymentResult, error) {
	if res, err := s.replay(ctx, opts.IdempotencyKey); res != nil || err != nil {
		return res, err
	}

	var res models.ScheduledPaymentResult
	j, err := s.ledger.run(ctx, "scheduled_payment", func(ctx context.Context, tx store.Tx, j *journal) error {
		p, err := tx.GetScheduledPayment(ctx, paymentID)
		if err != nil {
			return err
		}
		if !p.IsActive {
			return apperr.IllegalState("scheduled payment is not active", "الدفعة المجدولة غير نشطة")
		}
		if expectDue != nil && !p.NextPaymentDate.Equal(*expectDue) {
			return apperr.IllegalState("scheduled occurrence was already charged", "تم خصم هذه الدفعة المجدولة مسبقا")
		}

		w, err := tx.LockWalletForUpdate(ctx, p.WalletID)
		if err != nil {
			return err
		}
		if w.Balance.LessThan(p.Amount) {
			return apperr.InsufficientFunds()
		}

		now := s.ledger.now()
		due := p.NextPaymentDate
		p.LastPaymentDate = &now
		p.NextPaymentDate = p.Frequency.Next(due)
		p.FailedAttempts = 0
		p.LastFailureReason = nil
		p.UpdatedAt = now
		if err := tx.UpdateScheduledPayment(ctx, p); err != nil {
			return err
		}

		before := *w
		w.Balance = w.Balance.Sub(p.Amount)
		md := models.Metadata{"due_date": due.Format("2006-01-02"), "frequency": string(p.Frequency)}
		if p.LoanID != nil {
			md["loan_id"] = *p.LoanID
		}
		t, err := s.ledger.apply(ctx, tx, j, w, before, entry{
			txType:        models.TransactionTypeScheduledPayment,
			amount:        p.Amount.Neg(),
			operation:     models.AuditOpScheduledPayment,
			referenceType: models.ReferenceTypeSchedule,
			referenceID:   p.ID,
			description:   orDefault(opts.Description, p.Description),
			descriptionAr: p.DescriptionAr,
			withKey:       true,
			opts:          opts,
			metadata:      md,
		})
		if err != nil {
			return err
		}
		res = models.ScheduledPaymentResult{Payment: p, Wallet: w, Transaction: t}
		return nil
	})
	metrics.ObserveScheduled(err)
	if err != nil {
		if keyRace(err, opts.IdempotencyKey) {
			return s.replay(ctx, opts.IdempotencyKey)
		}
		if errors.Is(err, apperr.ErrInsufficientFunds) {
			if ferr := s.store.IncrementScheduleFailures(ctx, paymentID, "insufficient balance"); ferr != nil {
				s.logger.Error().Err(ferr).Str("payment_id", paymentID).Msg("Failed to record scheduled payment failure")
			}
		}
		s.logger.Warn().Err(err).Str("payment_id", paymentID).Msg("Scheduled payment failed")
		return nil, err
	}

	s.ledger.afterCommit(ctx, opts.IdempotencyKey, res.Transaction, j)
	s.logger.Info().
		Str("payment_id", paymentID).
		Str("wallet_id", res.Wallet.ID).
		Str("amount", res.Payment.Amount.String()).
		Time("next_payment_date", res.Payment.NextPaymentDate).
		Msg("Scheduled payment executed")
	return &res, nil
}

func (s *ScheduleService) replay(ctx context.Context, key string) (*models.ScheduledPaymentResult, error) {
	prior, err := s.ledger.priorTransaction(ctx, key, models.TransactionTypeScheduledPayment)
	if err != nil || prior == nil {
		return nil, err
	}
	p, err := s.store.GetScheduledPayment(ctx, deref(prior.ReferenceID))
	if err != nil {
		return nil, err
	}
	w, err := s.store.GetWallet(ctx, prior.WalletID)
	if err != nil {
		return nil, err
	}
	return &models.ScheduledPaymentResult{Payment: p, Wallet: w, Transaction: prior, Duplicate: true}, nil
}
