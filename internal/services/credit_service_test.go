package services

import (
	"context"
	"errors"
	"testing"

	"agri-ledger/internal/apperr"
	"agri-ledger/internal/models"
)

func TestRecordCreditEventDemotes(t *testing.T) {
	f := newFixture(t)
	w := f.walletWithScore(t, "farmer-1", 500)
	if w.CreditTier != models.TierSilver {
		t.Fatalf("starting tier = %s", w.CreditTier)
	}

	res, err := f.credit.RecordCreditEvent(context.Background(), models.CreditEventRequest{
		WalletID:  w.ID,
		EventType: models.CreditEventLoanDefaulted,
	}, models.MoneyOptions{})
	if err != nil {
		t.Fatalf("RecordCreditEvent: %v", err)
	}
	if res.OldScore != 500 || res.NewScore != 450 || res.OldTier != models.TierSilver || res.NewTier != models.TierBronze {
		t.Fatalf("result = %d/%s -> %d/%s", res.OldScore, res.OldTier, res.NewScore, res.NewTier)
	}
	if res.Event.Impact != -50 {
		t.Fatalf("impact = %d", res.Event.Impact)
	}

	got := f.reload(t, w.ID)
	if got.CreditTier != models.TierBronze || !got.LoanLimit.Equal(dec("4500")) || !got.DailyWithdrawLimit.Equal(dec("10000")) {
		t.Fatalf("wallet after demotion: tier=%s limit=%s daily=%s", got.CreditTier, got.LoanLimit, got.DailyWithdrawLimit)
	}
	f.checkLedger(t, w.ID)
}

func TestRecordCreditEventClampsAtCeiling(t *testing.T) {
	f := newFixture(t)
	w := f.walletWithScore(t, "farmer-1", 840)

	res, err := f.credit.RecordCreditEvent(context.Background(), models.CreditEventRequest{
		WalletID:  w.ID,
		EventType: models.CreditEventVerificationUpgrade,
	}, models.MoneyOptions{})
	if err != nil {
		t.Fatalf("RecordCreditEvent: %v", err)
	}
	if res.NewScore != models.MaxCreditScore {
		t.Fatalf("score = %d, want %d", res.NewScore, models.MaxCreditScore)
	}
}

func TestRecordCreditEventRejectsUnknownType(t *testing.T) {
	f := newFixture(t)
	w := f.walletWithScore(t, "farmer-1", 500)

	_, err := f.credit.RecordCreditEvent(context.Background(), models.CreditEventRequest{
		WalletID:  w.ID,
		EventType: "HARVEST_FESTIVAL",
	}, models.MoneyOptions{})
	if !errors.Is(err, apperr.ErrInvalidInput) {
		t.Fatalf("expected InvalidInput, got %v", err)
	}
	if got := f.reload(t, w.ID); got.Version != 1 || got.CreditScore != 500 {
		t.Fatalf("rejected event changed the wallet: version=%d score=%d", got.Version, got.CreditScore)
	}

	_, err = f.credit.RecordCreditEvent(context.Background(), models.CreditEventRequest{
		WalletID:  "missing",
		EventType: models.CreditEventFarmVerified,
	}, models.MoneyOptions{})
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestGetCreditFactorsFromLedger(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	w := f.walletWithScore(t, "farmer-1", 650)

	for _, typ := range []models.CreditEventType{
		models.CreditEventOrderCompleted,
		models.CreditEventOrderCompleted,
		models.CreditEventFarmVerified,
		models.CreditEventLandVerified,
		models.CreditEventCooperativeJoined,
		models.CreditEventVerificationUpgrade,
	} {
		if _, err := f.credit.RecordCreditEvent(ctx, models.CreditEventRequest{WalletID: w.ID, EventType: typ}, models.MoneyOptions{}); err != nil {
			t.Fatalf("RecordCreditEvent(%s): %v", typ, err)
		}
	}

	paid := f.activeLoan(t, w, "100", 3)
	if _, err := f.wallets.Deposit(ctx, w.ID, dec("2"), models.MoneyOptions{}); err != nil {
		t.Fatalf("Deposit: %v", err)
	}
	if _, err := f.loans.RepayLoan(ctx, paid.ID, dec("102"), models.MoneyOptions{}); err != nil {
		t.Fatalf("RepayLoan: %v", err)
	}
	f.activeLoan(t, w, "100", 3)

	factors, err := f.credit.GetCreditFactors(ctx, "farmer-1")
	if err != nil {
		t.Fatalf("GetCreditFactors: %v", err)
	}
	if factors.MarketplaceHistory != 2 || !factors.SatelliteVerified || !factors.CooperativeMember {
		t.Fatalf("behavioural factors not derived: %+v", factors)
	}
	if factors.LandOwnership != "owned" || factors.VerificationLevel != "verified" {
		t.Fatalf("land=%s verification=%s", factors.LandOwnership, factors.VerificationLevel)
	}
	if factors.LoanRepaymentRate != 50 || factors.PaymentHistory != 100 {
		t.Fatalf("repaymentRate=%v paymentHistory=%v", factors.LoanRepaymentRate, factors.PaymentHistory)
	}
	// Farm-side factors still come from the source.
	if factors.FarmArea != 5 || factors.YieldScore != 80 {
		t.Fatalf("farm factors = %+v", factors)
	}
}

func TestGetCreditFactorsWithoutHistory(t *testing.T) {
	f := newFixture(t)
	factors, err := f.credit.GetCreditFactors(context.Background(), "new-farmer")
	if err != nil {
		t.Fatalf("GetCreditFactors: %v", err)
	}
	if factors.LoanRepaymentRate != 0 || factors.PaymentHistory != 70 || factors.MarketplaceHistory != 0 {
		t.Fatalf("factors = %+v", factors)
	}
}

func TestGetCreditReport(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	w := f.walletWithScore(t, "farmer-1", 650)
	active := f.activeLoan(t, w, "1000", 6)
	defaulted := f.activeLoan(t, w, "500", 6)
	if _, err := f.loans.MarkLoanDefaulted(ctx, defaulted.ID, "", models.MoneyOptions{}); err != nil {
		t.Fatalf("MarkLoanDefaulted: %v", err)
	}

	report, err := f.credit.GetCreditReport(ctx, "farmer-1")
	if err != nil {
		t.Fatalf("GetCreditReport: %v", err)
	}
	if report.Loans.Total != 2 || report.Loans.Active != 1 || report.Loans.Defaulted != 1 {
		t.Fatalf("loan summary = %+v", report.Loans)
	}
	if want := active.TotalDue.Add(defaulted.TotalDue); !report.Loans.Outstanding.Equal(want) {
		t.Fatalf("outstanding = %s, want %s", report.Loans.Outstanding, want)
	}
	if len(report.RecentEvents) != 1 || report.RecentEvents[0].EventType != models.CreditEventLoanDefaulted {
		t.Fatalf("recent events = %d", len(report.RecentEvents))
	}
	if score, _ := CalculateAdvancedScore(report.Factors); score != report.Score {
		t.Fatalf("report score %d does not match its factors (%d)", report.Score, score)
	}

	// The report is read-only.
	before := f.reload(t, w.ID)
	if _, err := f.credit.GetCreditReport(ctx, "farmer-1"); err != nil {
		t.Fatalf("second GetCreditReport: %v", err)
	}
	if after := f.reload(t, w.ID); after.Version != before.Version || after.CreditScore != before.CreditScore {
		t.Fatalf("report changed the wallet")
	}
}
