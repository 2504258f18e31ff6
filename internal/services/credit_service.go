package services

import (
	"context"
	"fmt"

	"agri-ledger/internal/models"
	"agri-ledger/internal/store"
	"agri-ledger/internal/tier"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	creditHistoryLimit = 1000
	reportEventsLimit  = 10
)

type CreditService struct {
	ledger  *Ledger
	store   store.Store
	wallets *WalletService
	factors FactorSource
	logger  zerolog.Logger
}

func NewCreditService(ledger *Ledger, wallets *WalletService, factors FactorSource) *CreditService {
	if factors == nil {
		factors = DemoFactorSource{}
	}
	return &CreditService{
		ledger:  ledger,
		store:   ledger.store,
		wallets: wallets,
		factors: factors,
		logger:  ledger.logger.With().Str("service", "credit").Logger(),
	}
}

// CalculateCreditScore scores farm data and stores the result on the user's wallet.
func (s *CreditService) CalculateCreditScore(ctx context.Context, userID string, farm models.FarmData, opts models.MoneyOptions) (*models.CreditScoreResult, error) {
	score := CalculateBasicScore(farm)
	w, err := s.persistScore(ctx, userID, score, "basic", opts)
	if err != nil {
		return nil, err
	}
	return scoreResult(w, nil, nil), nil
}

// CalculateAdvancedCreditScore scores the full factor set and stores the result.
func (s *CreditService) CalculateAdvancedCreditScore(ctx context.Context, userID string, factors models.CreditFactors, opts models.MoneyOptions) (*models.CreditScoreResult, error) {
	score, breakdown := CalculateAdvancedScore(factors)
	w, err := s.persistScore(ctx, userID, score, "advanced", opts)
	if err != nil {
		return nil, err
	}
	return scoreResult(w, &breakdown, BuildRecommendations(factors)), nil
}

func scoreResult(w *models.Wallet, breakdown *models.ScoreBreakdown, recs []models.Recommendation) *models.CreditScoreResult {
	return &models.CreditScoreResult{
		WalletID:        w.ID,
		Score:           w.CreditScore,
		Tier:            w.CreditTier,
		TierName:        tier.ForTier(w.CreditTier).Name,
		LoanLimit:       w.LoanLimit,
		Breakdown:       breakdown,
		RiskLevel:       tier.RiskLevel(w.CreditScore),
		Recommendations: recs,
	}
}

func (s *CreditService) persistScore(ctx context.Context, userID string, score int, model string, opts models.MoneyOptions) (*models.Wallet, error) {
	existing, err := s.wallets.ensureWallet(ctx, userID, "")
	if err != nil {
		return nil, err
	}

	var out *models.Wallet
	j, err := s.ledger.run(ctx, "credit_score", func(ctx context.Context, tx store.Tx, j *journal) error {
		w, err := tx.LockWalletForUpdate(ctx, existing.ID)
		if err != nil {
			return err
		}
		out = w
		if w.CreditScore == tier.ClampScore(score) && w.CreditTier == tier.ForScore(w.CreditScore).Tier {
			return nil
		}
		return s.ledger.applyScore(ctx, tx, j, w, score, models.AuditOpCreditScore, opts, models.Metadata{"model": model})
	})
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to store credit score")
		return nil, err
	}

	s.ledger.afterCommit(ctx, "", nil, j)
	s.logger.Info().
		Str("wallet_id", out.ID).
		Str("model", model).
		Int("score", out.CreditScore).
		Str("tier", string(out.CreditTier)).
		Msg("Credit score calculated")
	return out, nil
}

// RecordCreditEvent appends an event and moves the wallet's score by its fixed impact.
func (s *CreditService) RecordCreditEvent(ctx context.Context, req models.CreditEventRequest, opts models.MoneyOptions) (*models.CreditEventResult, error) {
	var res models.CreditEventResult
	j, err := s.ledger.run(ctx, "credit_event", func(ctx context.Context, tx store.Tx, j *journal) error {
		w, err := tx.LockWalletForUpdate(ctx, req.WalletID)
		if err != nil {
			return err
		}
		oldScore, oldTier := w.CreditScore, w.CreditTier

		ev, err := s.ledger.applyCreditEvent(ctx, tx, j, w, req, models.AuditOpCreditScore, opts)
		if err != nil {
			return err
		}
		res = models.CreditEventResult{
			Event:    ev,
			Wallet:   w,
			OldScore: oldScore,
			NewScore: w.CreditScore,
			OldTier:  oldTier,
			NewTier:  w.CreditTier,
		}
		return nil
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("wallet_id", req.WalletID).Str("event_type", string(req.EventType)).Msg("Credit event rejected")
		return nil, err
	}

	s.ledger.afterCommit(ctx, "", nil, j)
	s.logger.Info().
		Str("wallet_id", req.WalletID).
		Str("event_type", string(req.EventType)).
		Int("old_score", res.OldScore).
		Int("new_score", res.NewScore).
		Msg("Credit event recorded")
	return &res, nil
}

// GetCreditFactors merges the external farm profile with behaviour recorded in the ledger.
func (s *CreditService) GetCreditFactors(ctx context.Context, userID string) (*models.CreditFactors, error) {
	w, err := s.wallets.ensureWallet(ctx, userID, "")
	if err != nil {
		return nil, err
	}
	f, err := s.creditFactors(ctx, w)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func (s *CreditService) creditFactors(ctx context.Context, w *models.Wallet) (models.CreditFactors, error) {
	f, err := s.factors.FarmFactors(ctx, w.UserID)
	if err != nil {
		return models.CreditFactors{}, fmt.Errorf("failed to load farm factors: %w", err)
	}

	loans, err := s.store.ListLoansByWallet(ctx, w.ID)
	if err != nil {
		return models.CreditFactors{}, err
	}
	evs, err := s.store.ListCreditEvents(ctx, w.ID, creditHistoryLimit)
	if err != nil {
		return models.CreditFactors{}, err
	}

	var decided, paid int
	for _, l := range loans {
		switch l.Status {
		case models.LoanStatusPaid:
			paid++
			decided++
		case models.LoanStatusActive, models.LoanStatusDefaulted:
			decided++
		}
	}
	f.LoanRepaymentRate = 0
	if decided > 0 {
		f.LoanRepaymentRate = float64(paid) / float64(decided) * 100
	}

	var onTime, late int
	f.MarketplaceHistory = 0
	if w.IsVerified && f.VerificationLevel != "premium" {
		f.VerificationLevel = "verified"
	}
	for _, e := range evs {
		switch e.EventType {
		case models.CreditEventOrderCompleted:
			f.MarketplaceHistory++
		case models.CreditEventVerificationUpgrade:
			if f.VerificationLevel != "premium" {
				f.VerificationLevel = "verified"
			}
		case models.CreditEventFarmVerified:
			f.SatelliteVerified = true
		case models.CreditEventLandVerified:
			f.LandOwnership = "owned"
		case models.CreditEventCooperativeJoined:
			f.CooperativeMember = true
		case models.CreditEventLoanRepaidOnTime:
			onTime++
		case models.CreditEventLoanRepaidLate, models.CreditEventLoanDefaulted:
			late++
		}
	}
	if onTime+late > 0 {
		f.PaymentHistory = float64(onTime) / float64(onTime+late) * 100
	}
	return f, nil
}

// GetCreditReport evaluates the advanced model without storing it.
func (s *CreditService) GetCreditReport(ctx context.Context, userID string) (*models.CreditReport, error) {
	w, err := s.wallets.ensureWallet(ctx, userID, "")
	if err != nil {
		return nil, err
	}
	f, err := s.creditFactors(ctx, w)
	if err != nil {
		return nil, err
	}
	recent, err := s.store.ListCreditEvents(ctx, w.ID, reportEventsLimit)
	if err != nil {
		return nil, err
	}
	loans, err := s.store.ListLoansByWallet(ctx, w.ID)
	if err != nil {
		return nil, err
	}

	summary := models.LoanSummary{Total: len(loans), Outstanding: decimal.Zero}
	for _, l := range loans {
		switch l.Status {
		case models.LoanStatusActive:
			summary.Active++
			summary.Outstanding = summary.Outstanding.Add(l.Remaining())
		case models.LoanStatusPaid:
			summary.Paid++
		case models.LoanStatusDefaulted:
			summary.Defaulted++
			summary.Outstanding = summary.Outstanding.Add(l.Remaining())
		}
	}

	score, breakdown := CalculateAdvancedScore(f)
	return &models.CreditReport{
		Wallet:          walletView(w),
		Factors:         f,
		Score:           score,
		Tier:            tier.ForScore(score).Tier,
		Breakdown:       breakdown,
		RiskLevel:       tier.RiskLevel(score),
		Recommendations: BuildRecommendations(f),
		RecentEvents:    recent,
		Loans:           summary,
		GeneratedAt:     s.ledger.now(),
	}, nil
}
