package tier

import (
	"testing"

	"agri-ledger/internal/models"

	"github.com/shopspring/decimal"
)

func TestForScoreThresholds(t *testing.T) {
	cases := []struct {
		score int
		want  models.CreditTier
	}{
		{300, models.TierBronze},
		{499, models.TierBronze},
		{500, models.TierSilver},
		{649, models.TierSilver},
		{650, models.TierGold},
		{749, models.TierGold},
		{750, models.TierPlatinum},
		{850, models.TierPlatinum},
	}
	for _, c := range cases {
		if got := ForScore(c.score).Tier; got != c.want {
			t.Errorf("score %d: expected %s, got %s", c.score, c.want, got)
		}
	}
}

func TestTierMonotoneInScore(t *testing.T) {
	rank := map[models.CreditTier]int{
		models.TierBronze: 0, models.TierSilver: 1, models.TierGold: 2, models.TierPlatinum: 3,
	}
	prev := -1
	for s := models.MinCreditScore; s <= models.MaxCreditScore; s++ {
		r := rank[ForScore(s).Tier]
		if r < prev {
			t.Fatalf("tier decreased at score %d", s)
		}
		prev = r
	}
}

func TestApplyScoreSetsLimits(t *testing.T) {
	w := &models.Wallet{}
	ApplyScore(w, 900)

	if w.CreditScore != 850 {
		t.Fatalf("expected clamp to 850, got %d", w.CreditScore)
	}
	if w.CreditTier != models.TierPlatinum {
		t.Fatalf("expected PLATINUM, got %s", w.CreditTier)
	}
	if !w.LoanLimit.Equal(decimal.NewFromInt(850 * 50)) {
		t.Errorf("unexpected loan limit %s", w.LoanLimit)
	}
	if !w.DailyWithdrawLimit.Equal(decimal.NewFromInt(100000)) {
		t.Errorf("unexpected daily limit %s", w.DailyWithdrawLimit)
	}
	if !w.RequiresPinForAmount.Equal(decimal.NewFromInt(50000)) {
		t.Errorf("unexpected pin threshold %s", w.RequiresPinForAmount)
	}

	ApplyScore(w, 120)
	if w.CreditScore != 300 || w.CreditTier != models.TierBronze {
		t.Fatalf("expected 300/BRONZE, got %d/%s", w.CreditScore, w.CreditTier)
	}
	if !w.SingleTransactionLimit.Equal(decimal.NewFromInt(50000)) {
		t.Errorf("unexpected single txn limit %s", w.SingleTransactionLimit)
	}
}

func TestRiskLevel(t *testing.T) {
	if RiskLevel(700) != "low" || RiskLevel(699) != "medium" || RiskLevel(500) != "medium" || RiskLevel(499) != "high" {
		t.Fatalf("unexpected risk bands")
	}
}
