package services

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"agri-ledger/internal/models"
	"agri-ledger/internal/tier"
)

const baseCreditScore = models.MinCreditScore

// Advanced score sub-score ceilings.
const (
	farmDataCap       = 340
	paymentHistoryCap = 255
	verificationCap   = 170
	bonusCap          = 85
)

const maxRecommendations = 5

// CalculateBasicScore scores a farm profile plus repayment record, clamped to the credit range.
func CalculateBasicScore(f models.FarmData) int {
	score := baseCreditScore

	switch {
	case f.TotalArea >= 10:
		score += 100
	case f.TotalArea >= 5:
		score += 75
	case f.TotalArea >= 2:
		score += 50
	case f.TotalArea > 0:
		score += 25
	}

	switch {
	case f.FieldsCount >= 5:
		score += 50
	case f.FieldsCount >= 3:
		score += 30
	case f.FieldsCount >= 2:
		score += 15
	}

	switch {
	case f.ActiveSeasons >= 5:
		score += 100
	case f.ActiveSeasons >= 3:
		score += 75
	case f.ActiveSeasons >= 2:
		score += 50
	case f.ActiveSeasons >= 1:
		score += 25
	}

	switch strings.ToLower(f.DiseaseRisk) {
	case "low":
		score += 100
	case "medium":
		score += 50
	}

	switch irrigation := strings.ToLower(f.IrrigationType); irrigation {
	case "drip", "sprinkler", "smart":
		score += 50
	case "", "none":
	default:
		score += 25
	}

	switch {
	case f.AvgYieldScore >= 80:
		score += 100
	case f.AvgYieldScore >= 60:
		score += 75
	case f.AvgYieldScore >= 40:
		score += 50
	case f.AvgYieldScore > 0:
		score += 25
	}

	// No repayment history neither helps nor hurts.
	if total := f.OnTimePayments + f.LatePayments; total > 0 {
		ratio := float64(f.OnTimePayments) / float64(total)
		switch {
		case ratio >= 0.95:
			score += 100
		case ratio >= 0.85:
			score += 75
		case ratio >= 0.70:
			score += 50
		case ratio >= 0.50:
			score += 25
		default:
			score -= 50
		}
	}

	return tier.ClampScore(score)
}

// CalculateAdvancedScore sums four capped sub-scores over the base and clamps the result.
func CalculateAdvancedScore(f models.CreditFactors) (int, models.ScoreBreakdown) {
	b := models.ScoreBreakdown{
		Base:           baseCreditScore,
		FarmData:       min(farmDataCap, farmDataScore(f)),
		PaymentHistory: min(paymentHistoryCap, paymentHistoryScore(f)),
		Verification:   min(verificationCap, verificationScore(f)),
		Bonus:          min(bonusCap, bonusScore(f)),
	}
	total := b.Base + b.FarmData + b.PaymentHistory + b.Verification + b.Bonus
	return tier.ClampScore(total), b
}

func farmDataScore(f models.CreditFactors) int {
	score := 0
	switch {
	case f.FarmArea >= 10:
		score += 100
	case f.FarmArea >= 5:
		score += 75
	case f.FarmArea >= 2:
		score += 50
	case f.FarmArea > 0:
		score += 25
	}

	score += min(60, max(0, f.CropDiversity*6))

	switch {
	case f.ExperienceYears >= 10:
		score += 80
	case f.ExperienceYears >= 5:
		score += 60
	case f.ExperienceYears >= 3:
		score += 40
	case f.ExperienceYears >= 1:
		score += 20
	}

	switch strings.ToLower(f.IrrigationType) {
	case "drip", "smart":
		score += 50
	case "sprinkler":
		score += 40
	case "flood":
		score += 25
	case "rainfed":
		score += 10
	}

	score += int(math.Round(math.Min(50, clampPercent(f.DiseaseRiskScore)*0.5)))
	return score
}

func paymentHistoryScore(f models.CreditFactors) int {
	marketplace := math.Min(55, float64(max(0, f.MarketplaceHistory))*0.55)
	return int(math.Round(clampPercent(f.PaymentHistory) + clampPercent(f.LoanRepaymentRate) + marketplace))
}

func verificationScore(f models.CreditFactors) int {
	score := 0
	switch strings.ToLower(f.VerificationLevel) {
	case "premium":
		score += 70
	case "verified":
		score += 50
	case "basic":
		score += 20
	}
	switch strings.ToLower(f.LandOwnership) {
	case "owned":
		score += 50
	case "leased":
		score += 30
	case "shared":
		score += 15
	}
	if f.SatelliteVerified {
		score += 50
	}
	return score
}

func bonusScore(f models.CreditFactors) int {
	score := 0
	if f.CooperativeMember {
		score += 40
	}
	score += int(math.Round(math.Min(45, clampPercent(f.YieldScore)*0.45)))
	return score
}

func clampPercent(v float64) float64 {
	return math.Max(0, math.Min(100, v))
}

var priorityWeight = map[string]int{"high": 3, "medium": 2, "low": 1}

// BuildRecommendations lists the most valuable next steps for improving a score.
func BuildRecommendations(f models.CreditFactors) []models.Recommendation {
	var recs []models.Recommendation
	add := func(action, actionAr string, impact int, priority string) {
		recs = append(recs, models.Recommendation{Action: action, ActionAr: actionAr, Impact: impact, Priority: priority})
	}

	verification := strings.ToLower(f.VerificationLevel)
	irrigation := strings.ToLower(f.IrrigationType)

	if !f.SatelliteVerified {
		add("Verify your farm via satellite imagery", "وثّق مزرعتك عبر صور الأقمار الصناعية", 20, "high")
	}
	if verification == "basic" {
		add("Upgrade your account to verified", "قم بترقية حسابك إلى موثّق", 30, "high")
	}
	if verification == "verified" {
		add("Upgrade your account to premium", "قم بترقية حسابك إلى مميز", 20, "medium")
	}
	if f.MarketplaceHistory < 5 {
		n := 5 - f.MarketplaceHistory
		add(fmt.Sprintf("Complete %d more marketplace orders", n),
			fmt.Sprintf("أكمل %d طلبات إضافية في السوق", n), 15, "medium")
	}
	if !f.CooperativeMember {
		add("Join an agricultural cooperative", "انضم إلى جمعية تعاونية زراعية", 10, "medium")
	}
	if strings.ToLower(f.LandOwnership) != "owned" {
		add("Document your land ownership", "وثّق ملكيتك للأرض", 35, "high")
	}
	if f.CropDiversity < 3 {
		add("Increase your crop diversity", "نوّع محاصيلك الزراعية", 12, "low")
	}
	if irrigation == "rainfed" || irrigation == "flood" {
		add("Upgrade to drip or sprinkler irrigation", "انتقل إلى الري بالتنقيط أو الرش", 25, "medium")
	}
	if f.LoanRepaymentRate > 0 && f.LoanRepaymentRate < 90 {
		add("Repay your loans on time", "سدد قروضك في مواعيدها", 20, "high")
	}

	sort.SliceStable(recs, func(i, j int) bool {
		wi, wj := priorityWeight[recs[i].Priority], priorityWeight[recs[j].Priority]
		if wi != wj {
			return wi > wj
		}
		return recs[i].Impact > recs[j].Impact
	})
	if len(recs) > maxRecommendations {
		recs = recs[:maxRecommendations]
	}
	return recs
}
