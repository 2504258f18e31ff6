// Package tier maps credit scores to tiers, loan ceilings and transactional limits.
package tier

import (
	"agri-ledger/internal/models"

	"github.com/shopspring/decimal"
)

type Policy struct {
	Tier                   models.CreditTier
	MinScore               int
	LoanMultiplier         int64
	DailyWithdrawLimit     decimal.Decimal
	SingleTransactionLimit decimal.Decimal
	RequiresPinForAmount   decimal.Decimal
	Name                   string
	NameAr                 string
}

// Ordered from the highest threshold down.
var policies = []Policy{
	{
		Tier:                   models.TierPlatinum,
		MinScore:               750,
		LoanMultiplier:         50,
		DailyWithdrawLimit:     decimal.NewFromInt(100000),
		SingleTransactionLimit: decimal.NewFromInt(500000),
		RequiresPinForAmount:   decimal.NewFromInt(50000),
		Name:                   "Platinum",
		NameAr:                 "بلاتيني",
	},
	{
		Tier:                   models.TierGold,
		MinScore:               650,
		LoanMultiplier:         35,
		DailyWithdrawLimit:     decimal.NewFromInt(50000),
		SingleTransactionLimit: decimal.NewFromInt(200000),
		RequiresPinForAmount:   decimal.NewFromInt(20000),
		Name:                   "Gold",
		NameAr:                 "ذهبي",
	},
	{
		Tier:                   models.TierSilver,
		MinScore:               500,
		LoanMultiplier:         20,
		DailyWithdrawLimit:     decimal.NewFromInt(20000),
		SingleTransactionLimit: decimal.NewFromInt(100000),
		RequiresPinForAmount:   decimal.NewFromInt(10000),
		Name:                   "Silver",
		NameAr:                 "فضي",
	},
	{
		Tier:                   models.TierBronze,
		MinScore:               0,
		LoanMultiplier:         10,
		DailyWithdrawLimit:     decimal.NewFromInt(10000),
		SingleTransactionLimit: decimal.NewFromInt(50000),
		RequiresPinForAmount:   decimal.NewFromInt(5000),
		Name:                   "Bronze",
		NameAr:                 "برونزي",
	},
}

// ForScore returns the policy of the highest tier whose threshold the score meets.
func ForScore(score int) Policy {
	for _, p := range policies {
		if score >= p.MinScore {
			return p
		}
	}
	return policies[len(policies)-1]
}

// ForTier returns the policy of a tier, falling back to BRONZE for unknown values.
func ForTier(t models.CreditTier) Policy {
	for _, p := range policies {
		if p.Tier == t {
			return p
		}
	}
	return policies[len(policies)-1]
}

// LoanLimit is score × multiplier.
func (p Policy) LoanLimit(score int) decimal.Decimal {
	return decimal.NewFromInt(int64(score) * p.LoanMultiplier)
}

// ClampScore bounds a score to the valid credit range.
func ClampScore(score int) int {
	if score < models.MinCreditScore {
		return models.MinCreditScore
	}
	if score > models.MaxCreditScore {
		return models.MaxCreditScore
	}
	return score
}

// ApplyScore sets score, tier, loan ceiling and tier limits on the wallet.
func ApplyScore(w *models.Wallet, score int) {
	score = ClampScore(score)
	p := ForScore(score)
	w.CreditScore = score
	w.CreditTier = p.Tier
	w.LoanLimit = p.LoanLimit(score)
	ApplyLimits(w, p)
}

// ApplyLimits overwrites the tier-derived transactional limits.
func ApplyLimits(w *models.Wallet, p Policy) {
	w.DailyWithdrawLimit = p.DailyWithdrawLimit
	w.SingleTransactionLimit = p.SingleTransactionLimit
	w.RequiresPinForAmount = p.RequiresPinForAmount
}

// RiskLevel classifies a score for reports.
func RiskLevel(score int) string {
	switch {
	case score >= 700:
		return "low"
	case score < 500:
		return "high"
	default:
		return "medium"
	}
}
