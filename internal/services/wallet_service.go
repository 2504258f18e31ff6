package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"agri-ledger/internal/apperr"
	"agri-ledger/internal/models"
	"agri-ledger/internal/store"
	"agri-ledger/internal/tier"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"
)

const (
	defaultTransactionLimit = 20
	maxTransactionLimit     = 100
)

var pinPattern = regexp.MustCompile(`^[0-9]{4,6}$`)

type WalletService struct {
	ledger  *Ledger
	store   store.Store
	logger  zerolog.Logger
	pinCost int
}

func NewWalletService(ledger *Ledger) *WalletService {
	return &WalletService{
		ledger:  ledger,
		store:   ledger.store,
		logger:  ledger.logger.With().Str("service", "wallet").Logger(),
		pinCost: bcrypt.DefaultCost,
	}
}

// GetWallet returns the user's wallet, opening one with BRONZE defaults on first use.
func (s *WalletService) GetWallet(ctx context.Context, userID, userType string) (*models.WalletView, error) {
	w, err := s.ensureWallet(ctx, userID, userType)
	if err != nil {
		return nil, err
	}
	return walletView(w), nil
}

func (s *WalletService) GetWalletByID(ctx context.Context, walletID string) (*models.WalletView, error) {
	w, err := s.store.GetWallet(ctx, walletID)
	if err != nil {
		return nil, err
	}
	return walletView(w), nil
}

func (s *WalletService) ensureWallet(ctx context.Context, userID, userType string) (*models.Wallet, error) {
	if userID == "" {
		return nil, apperr.InvalidInput("user id is required", "معرف المستخدم مطلوب")
	}

	w, err := s.store.GetWalletByUserID(ctx, userID)
	if err == nil {
		return w, nil
	}
	if !errors.Is(err, apperr.ErrNotFound) {
		return nil, err
	}

	if userType == "" {
		userType = "farmer"
	}
	now := s.ledger.now()
	w = &models.Wallet{
		ID:                  uuid.NewString(),
		UserID:              userID,
		UserType:            userType,
		Balance:             decimal.Zero,
		EscrowBalance:       decimal.Zero,
		CurrentLoan:         decimal.Zero,
		DailyWithdrawnToday: decimal.Zero,
		LastWithdrawReset:   now,
		Version:             1,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	tier.ApplyScore(w, models.MinCreditScore)

	if err := s.store.CreateWallet(ctx, w); err != nil {
		// Another request opened the wallet first.
		if errors.Is(err, apperr.ErrDuplicate) {
			return s.store.GetWalletByUserID(ctx, userID)
		}
		return nil, fmt.Errorf("failed to create wallet: %w", err)
	}

	s.logger.Info().Str("wallet_id", w.ID).Str("user_id", userID).Msg("Wallet created")
	return w, nil
}

func (s *WalletService) Deposit(ctx context.Context, walletID string, amount decimal.Decimal, opts models.MoneyOptions) (*models.WalletResult, error) {
	if err := requirePositive(amount); err != nil {
		return nil, err
	}
	if res, err := s.replay(ctx, opts.IdempotencyKey, models.TransactionTypeDeposit); res != nil || err != nil {
		return res, err
	}

	var res models.WalletResult
	j, err := s.ledger.run(ctx, "deposit", func(ctx context.Context, tx store.Tx, j *journal) error {
		w, err := tx.LockWalletForUpdate(ctx, walletID)
		if err != nil {
			return err
		}
		before := *w
		w.Balance = w.Balance.Add(amount)

		t, err := s.ledger.apply(ctx, tx, j, w, before, entry{
			txType:        models.TransactionTypeDeposit,
			amount:        amount,
			operation:     models.AuditOpDeposit,
			description:   orDefault(opts.Description, "Wallet deposit"),
			descriptionAr: "إيداع في المحفظة",
			withKey:       true,
			opts:          opts,
		})
		if err != nil {
			return err
		}
		res = models.WalletResult{Wallet: w, Transaction: t}
		return nil
	})
	if err != nil {
		if keyRace(err, opts.IdempotencyKey) {
			return s.replay(ctx, opts.IdempotencyKey, models.TransactionTypeDeposit)
		}
		s.logger.Warn().Err(err).Str("wallet_id", walletID).Str("amount", amount.String()).Msg("Deposit rejected")
		return nil, err
	}

	s.ledger.afterCommit(ctx, opts.IdempotencyKey, res.Transaction, j)
	s.logger.Info().
		Str("wallet_id", walletID).
		Str("amount", amount.String()).
		Str("balance", res.Wallet.Balance.String()).
		Int64("version", res.Wallet.Version).
		Msg("Deposit completed")
	return &res, nil
}

func (s *WalletService) Withdraw(ctx context.Context, walletID string, amount decimal.Decimal, opts models.MoneyOptions) (*models.WalletResult, error) {
	if err := requirePositive(amount); err != nil {
		return nil, err
	}
	if res, err := s.replay(ctx, opts.IdempotencyKey, models.TransactionTypeWithdrawal); res != nil || err != nil {
		return res, err
	}

	var res models.WalletResult
	j, err := s.ledger.run(ctx, "withdraw", func(ctx context.Context, tx store.Tx, j *journal) error {
		w, err := tx.LockWalletForUpdate(ctx, walletID)
		if err != nil {
			return err
		}
		before := *w
		now := s.ledger.now()

		if w.Balance.LessThan(amount) {
			return apperr.InsufficientFunds()
		}
		if amount.GreaterThan(w.SingleTransactionLimit) {
			return apperr.LimitExceeded(
				fmt.Sprintf("amount exceeds single transaction limit of %s", w.SingleTransactionLimit),
				"المبلغ يتجاوز حد العملية الواحدة")
		}
		if !s.ledger.sameDay(w.LastWithdrawReset, now) {
			w.DailyWithdrawnToday = decimal.Zero
		}
		if w.DailyWithdrawnToday.Add(amount).GreaterThan(w.DailyWithdrawLimit) {
			return apperr.LimitExceeded(
				fmt.Sprintf("amount exceeds remaining daily limit of %s", w.DailyWithdrawLimit.Sub(w.DailyWithdrawnToday)),
				"المبلغ يتجاوز الحد اليومي المتبقي للسحب")
		}
		if w.HasPin() && amount.GreaterThan(w.RequiresPinForAmount) {
			if opts.Pin == "" || bcrypt.CompareHashAndPassword([]byte(w.PinHash), []byte(opts.Pin)) != nil {
				return apperr.PinRequired()
			}
		}

		w.Balance = w.Balance.Sub(amount)
		w.DailyWithdrawnToday = w.DailyWithdrawnToday.Add(amount)
		w.LastWithdrawReset = now

		t, err := s.ledger.apply(ctx, tx, j, w, before, entry{
			txType:        models.TransactionTypeWithdrawal,
			amount:        amount.Neg(),
			operation:     models.AuditOpWithdraw,
			description:   orDefault(opts.Description, "Wallet withdrawal"),
			descriptionAr: "سحب من المحفظة",
			withKey:       true,
			opts:          opts,
			metadata:      models.Metadata{"daily_withdrawn": w.DailyWithdrawnToday.String()},
		})
		if err != nil {
			return err
		}
		res = models.WalletResult{Wallet: w, Transaction: t}
		return nil
	})
	if err != nil {
		if keyRace(err, opts.IdempotencyKey) {
			return s.replay(ctx, opts.IdempotencyKey, models.TransactionTypeWithdrawal)
		}
		s.logger.Warn().Err(err).Str("wallet_id", walletID).Str("amount", amount.String()).Msg("Withdrawal rejected")
		return nil, err
	}

	s.ledger.afterCommit(ctx, opts.IdempotencyKey, res.Transaction, j)
	s.logger.Info().
		Str("wallet_id", walletID).
		Str("amount", amount.String()).
		Str("balance", res.Wallet.Balance.String()).
		Int64("version", res.Wallet.Version).
		Msg("Withdrawal completed")
	return &res, nil
}

// replay returns the stored outcome of a previously used idempotency key, or nil.
func (s *WalletService) replay(ctx context.Context, key string, typ models.TransactionType) (*models.WalletResult, error) {
	prior, err := s.ledger.priorTransaction(ctx, key, typ)
	if err != nil || prior == nil {
		return nil, err
	}
	w, err := s.store.GetWallet(ctx, prior.WalletID)
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("idempotency_key", key).Str("transaction_id", prior.ID).Msg("Duplicate request replayed")
	return &models.WalletResult{Wallet: w, Transaction: prior, Duplicate: true}, nil
}

func (s *WalletService) GetTransactions(ctx context.Context, walletID string, limit int) ([]*models.Transaction, error) {
	if limit <= 0 {
		limit = defaultTransactionLimit
	}
	if limit > maxTransactionLimit {
		limit = maxTransactionLimit
	}
	if _, err := s.store.GetWallet(ctx, walletID); err != nil {
		return nil, err
	}
	return s.store.ListTransactions(ctx, walletID, limit)
}

func (s *WalletService) GetWalletLimits(ctx context.Context, walletID string) (*models.WalletLimits, error) {
	w, err := s.store.GetWallet(ctx, walletID)
	if err != nil {
		return nil, err
	}
	return s.limitsOf(w), nil
}

func (s *WalletService) limitsOf(w *models.Wallet) *models.WalletLimits {
	withdrawn := w.DailyWithdrawnToday
	if !s.ledger.sameDay(w.LastWithdrawReset, s.ledger.now()) {
		withdrawn = decimal.Zero
	}
	remaining := w.DailyWithdrawLimit.Sub(withdrawn)
	if remaining.IsNegative() {
		remaining = decimal.Zero
	}
	return &models.WalletLimits{
		WalletID:               w.ID,
		CreditTier:             w.CreditTier,
		DailyWithdrawLimit:     w.DailyWithdrawLimit,
		SingleTransactionLimit: w.SingleTransactionLimit,
		RequiresPinForAmount:   w.RequiresPinForAmount,
		DailyWithdrawnToday:    withdrawn,
		RemainingToday:         remaining,
	}
}

// UpdateWalletLimits re-derives the limits from the wallet's current tier. Balances and
// version are left untouched.
func (s *WalletService) UpdateWalletLimits(ctx context.Context, walletID string) (*models.WalletLimits, error) {
	w, err := s.store.GetWallet(ctx, walletID)
	if err != nil {
		return nil, err
	}
	tier.ApplyLimits(w, tier.ForTier(w.CreditTier))

	limits := s.limitsOf(w)
	if err := s.store.UpdateWalletLimits(ctx, limits); err != nil {
		return nil, err
	}
	s.logger.Info().Str("wallet_id", walletID).Str("tier", string(w.CreditTier)).Msg("Wallet limits updated")
	return limits, nil
}

func (s *WalletService) SetWalletPin(ctx context.Context, walletID, pin string) error {
	if !pinPattern.MatchString(pin) {
		return apperr.InvalidInput("PIN must be 4 to 6 digits", "يجب أن يتكون رمز PIN من 4 إلى 6 أرقام")
	}
	if _, err := s.store.GetWallet(ctx, walletID); err != nil {
		return err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(pin), s.pinCost)
	if err != nil {
		return fmt.Errorf("failed to hash pin: %w", err)
	}
	if err := s.store.SetWalletPin(ctx, walletID, string(hash)); err != nil {
		return err
	}
	s.logger.Info().Str("wallet_id", walletID).Msg("Wallet PIN set")
	return nil
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
