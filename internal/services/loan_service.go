package services

import (
	"context"
	"fmt"

	"agri-ledger/internal/apperr"
	"agri-ledger/internal/models"
	"agri-ledger/internal/store"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	minLoanTermMonths = 1
	maxLoanTermMonths = 60
)

// DefaultAdminFeeRate is the flat administrative fee added to every loan principal.
var DefaultAdminFeeRate = decimal.RequireFromString("0.02")

type LoanService struct {
	ledger       *Ledger
	store        store.Store
	logger       zerolog.Logger
	adminFeeRate decimal.Decimal
}

func NewLoanService(ledger *Ledger, adminFeeRate decimal.Decimal) *LoanService {
	if adminFeeRate.IsNegative() || adminFeeRate.IsZero() {
		adminFeeRate = DefaultAdminFeeRate
	}
	return &LoanService{
		ledger:       ledger,
		store:        ledger.store,
		logger:       ledger.logger.With().Str("service", "loan").Logger(),
		adminFeeRate: adminFeeRate,
	}
}

func creditLimitExceeded(available decimal.Decimal) error {
	return apperr.LimitExceeded(
		fmt.Sprintf("requested amount exceeds available credit of %s", available),
		"المبلغ المطلوب يتجاوز الائتمان المتاح")
}

// RequestLoan records a PENDING loan. No money moves until approval.
func (s *LoanService) RequestLoan(ctx context.Context, req models.LoanRequest) (*models.Loan, error) {
	if err := requirePositive(req.Amount); err != nil {
		return nil, err
	}
	if req.TermMonths < minLoanTermMonths || req.TermMonths > maxLoanTermMonths {
		return nil, apperr.InvalidInput(
			fmt.Sprintf("term must be between %d and %d months", minLoanTermMonths, maxLoanTermMonths),
			"مدة القرض غير صالحة")
	}
	if !req.Purpose.Valid() {
		return nil, apperr.InvalidInput(fmt.Sprintf("unknown loan purpose %q", req.Purpose), "غرض القرض غير معروف")
	}

	w, err := s.store.GetWallet(ctx, req.WalletID)
	if err != nil {
		return nil, err
	}
	if available := w.AvailableCredit(); req.Amount.GreaterThan(available) {
		return nil, creditLimitExceeded(available)
	}

	now := s.ledger.now()
	fee := req.Amount.Mul(s.adminFeeRate).Round(2)
	loan := &models.Loan{
		ID:              uuid.NewString(),
		WalletID:        w.ID,
		Amount:          req.Amount,
		InterestRate:    decimal.Zero,
		TotalDue:        req.Amount.Add(fee),
		PaidAmount:      decimal.Zero,
		TermMonths:      req.TermMonths,
		StartDate:       now,
		DueDate:         now.AddDate(0, req.TermMonths, 0),
		Purpose:         req.Purpose,
		PurposeDetails:  optional(req.PurposeDetails),
		CollateralType:  optional(req.CollateralType),
		CollateralValue: req.CollateralValue,
		Status:          models.LoanStatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.store.CreateLoan(ctx, loan); err != nil {
		return nil, fmt.Errorf("failed to create loan: %w", err)
	}

	s.logger.Info().
		Str("loan_id", loan.ID).
		Str("wallet_id", w.ID).
		Str("amount", loan.Amount.String()).
		Str("total_due", loan.TotalDue.String()).
		Msg("Loan requested")
	return loan, nil
}

// ApproveLoan activates a PENDING loan and disburses the principal.
func (s *LoanService) ApproveLoan(ctx context.Context, loanID string, opts models.MoneyOptions) (*models.LoanResult, error) {
	if res, err := s.replay(ctx, opts.IdempotencyKey, models.TransactionTypeLoan); res != nil || err != nil {
		return res, err
	}

	var res models.LoanResult
	j, err := s.ledger.run(ctx, "loan_approve", func(ctx context.Context, tx store.Tx, j *journal) error {
		loan, err := tx.GetLoan(ctx, loanID)
		if err != nil {
			return err
		}
		if loan.Status != models.LoanStatusPending {
			return apperr.IllegalState(
				fmt.Sprintf("loan is %s, only pending loans can be approved", loan.Status),
				"لا يمكن الموافقة إلا على القروض المعلقة")
		}

		w, err := tx.LockWalletForUpdate(ctx, loan.WalletID)
		if err != nil {
			return err
		}
		if available := w.AvailableCredit(); loan.Amount.GreaterThan(available) {
			return creditLimitExceeded(available)
		}

		now := s.ledger.now()
		loan.Status = models.LoanStatusActive
		loan.UpdatedAt = now
		if err := tx.UpdateLoan(ctx, loan); err != nil {
			return err
		}

		before := *w
		w.Balance = w.Balance.Add(loan.Amount)
		w.CurrentLoan = w.CurrentLoan.Add(loan.TotalDue)
		t, err := s.ledger.apply(ctx, tx, j, w, before, entry{
			txType:        models.TransactionTypeLoan,
			amount:        loan.Amount,
			operation:     models.AuditOpLoanDisburse,
			referenceType: models.ReferenceTypeLoan,
			referenceID:   loan.ID,
			description:   orDefault(opts.Description, fmt.Sprintf("Loan disbursement (%s)", loan.Purpose)),
			descriptionAr: "صرف قرض",
			withKey:       true,
			opts:          opts,
			metadata:      models.Metadata{"total_due": loan.TotalDue.String(), "term_months": loan.TermMonths},
		})
		if err != nil {
			return err
		}
		res = models.LoanResult{Loan: loan, Wallet: w, Transaction: t}
		return nil
	})
	if err != nil {
		if keyRace(err, opts.IdempotencyKey) {
			return s.replay(ctx, opts.IdempotencyKey, models.TransactionTypeLoan)
		}
		s.logger.Warn().Err(err).Str("loan_id", loanID).Msg("Loan approval rejected")
		return nil, err
	}

	s.ledger.afterCommit(ctx, opts.IdempotencyKey, res.Transaction, j)
	s.logger.Info().
		Str("loan_id", loanID).
		Str("wallet_id", res.Wallet.ID).
		Str("amount", res.Loan.Amount.String()).
		Msg("Loan approved")
	return &res, nil
}

// RepayLoan applies up to the remaining amount due. Overpayment is capped, not charged.
func (s *LoanService) RepayLoan(ctx context.Context, loanID string, amount decimal.Decimal, opts models.MoneyOptions) (*models.LoanResult, error) {
	if err := requirePositive(amount); err != nil {
		return nil, err
	}
	if res, err := s.replay(ctx, opts.IdempotencyKey, models.TransactionTypeRepayment); res != nil || err != nil {
		return res, err
	}

	var res models.LoanResult
	j, err := s.ledger.run(ctx, "loan_repay", func(ctx context.Context, tx store.Tx, j *journal) error {
		loan, err := tx.GetLoan(ctx, loanID)
		if err != nil {
			return err
		}
		if loan.Status != models.LoanStatusActive {
			return apperr.IllegalState(
				fmt.Sprintf("loan is %s, only active loans can be repaid", loan.Status),
				"لا يمكن سداد إلا القروض النشطة")
		}

		w, err := tx.LockWalletForUpdate(ctx, loan.WalletID)
		if err != nil {
			return err
		}
		payment := decimal.Min(amount, loan.Remaining())
		if w.Balance.LessThan(payment) {
			return apperr.InsufficientFunds()
		}

		now := s.ledger.now()
		loan.PaidAmount = loan.PaidAmount.Add(payment)
		fullyPaid := loan.PaidAmount.GreaterThanOrEqual(loan.TotalDue)
		if fullyPaid {
			loan.Status = models.LoanStatusPaid
		}
		loan.UpdatedAt = now
		if err := tx.UpdateLoan(ctx, loan); err != nil {
			return err
		}

		before := *w
		w.Balance = w.Balance.Sub(payment)
		w.CurrentLoan = w.CurrentLoan.Sub(payment)
		if w.CurrentLoan.IsNegative() {
			w.CurrentLoan = decimal.Zero
		}
		t, err := s.ledger.apply(ctx, tx, j, w, before, entry{
			txType:        models.TransactionTypeRepayment,
			amount:        payment.Neg(),
			operation:     models.AuditOpLoanRepay,
			referenceType: models.ReferenceTypeLoan,
			referenceID:   loan.ID,
			description:   orDefault(opts.Description, "Loan repayment"),
			descriptionAr: "سداد قرض",
			withKey:       true,
			opts:          opts,
			metadata:      models.Metadata{"paid_amount": loan.PaidAmount.String(), "fully_paid": fullyPaid},
		})
		if err != nil {
			return err
		}

		if fullyPaid {
			eventType := models.CreditEventLoanRepaidOnTime
			if now.After(loan.DueDate) {
				eventType = models.CreditEventLoanRepaidLate
			}
			if _, err := s.ledger.applyCreditEvent(ctx, tx, j, w, models.CreditEventRequest{
				WalletID:    w.ID,
				EventType:   eventType,
				Amount:      decimal.NewNullDecimal(loan.TotalDue),
				Description: fmt.Sprintf("Loan %s repaid", loan.ID),
				Metadata:    models.Metadata{"loan_id": loan.ID},
			}, models.AuditOpCreditScore, opts); err != nil {
				return err
			}
		}

		res = models.LoanResult{Loan: loan, Wallet: w, Transaction: t, FullyPaid: fullyPaid}
		return nil
	})
	if err != nil {
		if keyRace(err, opts.IdempotencyKey) {
			return s.replay(ctx, opts.IdempotencyKey, models.TransactionTypeRepayment)
		}
		s.logger.Warn().Err(err).Str("loan_id", loanID).Str("amount", amount.String()).Msg("Loan repayment rejected")
		return nil, err
	}

	s.ledger.afterCommit(ctx, opts.IdempotencyKey, res.Transaction, j)
	s.logger.Info().
		Str("loan_id", loanID).
		Str("paid", res.Transaction.Amount.Neg().String()).
		Bool("fully_paid", res.FullyPaid).
		Msg("Loan repayment completed")
	return &res, nil
}

// MarkLoanDefaulted closes an ACTIVE loan as DEFAULTED. The outstanding amount stays on
// the wallet's current loan.
func (s *LoanService) MarkLoanDefaulted(ctx context.Context, loanID, reason string, opts models.MoneyOptions) (*models.LoanResult, error) {
	var res models.LoanResult
	j, err := s.ledger.run(ctx, "loan_default", func(ctx context.Context, tx store.Tx, j *journal) error {
		loan, err := tx.GetLoan(ctx, loanID)
		if err != nil {
			return err
		}
		if loan.Status != models.LoanStatusActive {
			return apperr.IllegalState(
				fmt.Sprintf("loan is %s, only active loans can default", loan.Status),
				"لا يمكن تعثر إلا القروض النشطة")
		}
		w, err := tx.LockWalletForUpdate(ctx, loan.WalletID)
		if err != nil {
			return err
		}

		loan.Status = models.LoanStatusDefaulted
		loan.UpdatedAt = s.ledger.now()
		if err := tx.UpdateLoan(ctx, loan); err != nil {
			return err
		}

		if _, err := s.ledger.applyCreditEvent(ctx, tx, j, w, models.CreditEventRequest{
			WalletID:    w.ID,
			EventType:   models.CreditEventLoanDefaulted,
			Amount:      decimal.NewNullDecimal(loan.Remaining()),
			Description: orDefault(reason, fmt.Sprintf("Loan %s defaulted", loan.ID)),
			Metadata:    models.Metadata{"loan_id": loan.ID, "outstanding": loan.Remaining().String()},
		}, models.AuditOpLoanDefault, opts); err != nil {
			return err
		}
		res = models.LoanResult{Loan: loan, Wallet: w}
		return nil
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("loan_id", loanID).Msg("Loan default rejected")
		return nil, err
	}

	s.ledger.afterCommit(ctx, "", nil, j)
	s.logger.Warn().
		Str("loan_id", loanID).
		Str("wallet_id", res.Wallet.ID).
		Int("credit_score", res.Wallet.CreditScore).
		Msg("Loan marked as defaulted")
	return &res, nil
}

func (s *LoanService) GetLoan(ctx context.Context, loanID string) (*models.Loan, error) {
	return s.store.GetLoan(ctx, loanID)
}

func (s *LoanService) GetUserLoans(ctx context.Context, walletID string) ([]*models.Loan, error) {
	return s.store.ListLoansByWallet(ctx, walletID)
}

func (s *LoanService) replay(ctx context.Context, key string, typ models.TransactionType) (*models.LoanResult, error) {
	prior, err := s.ledger.priorTransaction(ctx, key, typ)
	if err != nil || prior == nil {
		return nil, err
	}
	loan, err := s.store.GetLoan(ctx, deref(prior.ReferenceID))
	if err != nil {
		return nil, err
	}
	w, err := s.store.GetWallet(ctx, prior.WalletID)
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("idempotency_key", key).Str("loan_id", loan.ID).Msg("Duplicate request replayed")
	return &models.LoanResult{
		Loan:        loan,
		Wallet:      w,
		Transaction: prior,
		FullyPaid:   typ == models.TransactionTypeRepayment && loan.Status == models.LoanStatusPaid,
		Duplicate:   true,
	}, nil
}
