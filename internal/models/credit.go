package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type CreditEventType string

const (
	CreditEventLoanRepaidOnTime    CreditEventType = "LOAN_REPAID_ONTIME"
	CreditEventLoanRepaidLate      CreditEventType = "LOAN_REPAID_LATE"
	CreditEventLoanDefaulted       CreditEventType = "LOAN_DEFAULTED"
	CreditEventOrderCompleted      CreditEventType = "ORDER_COMPLETED"
	CreditEventOrderCancelled      CreditEventType = "ORDER_CANCELLED"
	CreditEventVerificationUpgrade CreditEventType = "VERIFICATION_UPGRADE"
	CreditEventFarmVerified        CreditEventType = "FARM_VERIFIED"
	CreditEventCooperativeJoined   CreditEventType = "COOPERATIVE_JOINED"
	CreditEventLandVerified        CreditEventType = "LAND_VERIFIED"
)

var creditEventImpact = map[CreditEventType]int{
	CreditEventLoanRepaidOnTime:    15,
	CreditEventLoanRepaidLate:      -10,
	CreditEventLoanDefaulted:       -50,
	CreditEventOrderCompleted:      5,
	CreditEventOrderCancelled:      -5,
	CreditEventVerificationUpgrade: 30,
	CreditEventFarmVerified:        20,
	CreditEventCooperativeJoined:   10,
	CreditEventLandVerified:        15,
}

// Impact returns the fixed score delta of the event type.
func (t CreditEventType) Impact() (int, bool) {
	v, ok := creditEventImpact[t]
	return v, ok
}

type CreditEvent struct {
	ID          string              `json:"id"`
	WalletID    string              `json:"wallet_id"`
	EventType   CreditEventType     `json:"event_type"`
	Amount      decimal.NullDecimal `json:"amount"`
	Impact      int                 `json:"impact"`
	Description string              `json:"description"`
	Metadata    Metadata            `json:"metadata,omitempty"`
	CreatedAt   time.Time           `json:"created_at"`
	UpdatedAt   time.Time           `json:"updated_at"`
}

type CreditEventRequest struct {
	WalletID    string              `json:"wallet_id"`
	EventType   CreditEventType     `json:"event_type"`
	Amount      decimal.NullDecimal `json:"amount"`
	Description string              `json:"description"`
	Metadata    Metadata            `json:"metadata"`
}

type CreditEventResult struct {
	Event    *CreditEvent `json:"event"`
	Wallet   *Wallet      `json:"wallet"`
	OldScore int          `json:"old_score"`
	NewScore int          `json:"new_score"`
	OldTier  CreditTier   `json:"old_tier"`
	NewTier  CreditTier   `json:"new_tier"`
}

// FarmData feeds the basic credit score.
type FarmData struct {
	TotalArea      float64 `json:"total_area"`
	FieldsCount    int     `json:"fields_count"`
	ActiveSeasons  int     `json:"active_seasons"`
	DiseaseRisk    string  `json:"disease_risk"`
	IrrigationType string  `json:"irrigation_type"`
	AvgYieldScore  float64 `json:"avg_yield_score"`
	OnTimePayments int     `json:"on_time_payments"`
	LatePayments   int     `json:"late_payments"`
}

// CreditFactors feed the advanced credit score.
type CreditFactors struct {
	FarmArea           float64 `json:"farm_area"`
	CropDiversity      int     `json:"crop_diversity"`
	ExperienceYears    int     `json:"experience_years"`
	IrrigationType     string  `json:"irrigation_type"`
	DiseaseRiskScore   float64 `json:"disease_risk_score"`
	PaymentHistory     float64 `json:"payment_history"`
	LoanRepaymentRate  float64 `json:"loan_repayment_rate"`
	MarketplaceHistory int     `json:"marketplace_history"`
	VerificationLevel  string  `json:"verification_level"`
	LandOwnership      string  `json:"land_ownership"`
	SatelliteVerified  bool    `json:"satellite_verified"`
	CooperativeMember  bool    `json:"cooperative_member"`
	YieldScore         float64 `json:"yield_score"`
}

type ScoreBreakdown struct {
	Base           int `json:"base"`
	FarmData       int `json:"farm_data"`
	PaymentHistory int `json:"payment_history"`
	Verification   int `json:"verification"`
	Bonus          int `json:"bonus"`
}

type Recommendation struct {
	Action   string `json:"action"`
	ActionAr string `json:"action_ar"`
	Impact   int    `json:"impact"`
	Priority string `json:"priority"`
}

type CreditScoreResult struct {
	WalletID        string           `json:"wallet_id"`
	Score           int              `json:"score"`
	Tier            CreditTier       `json:"tier"`
	TierName        string           `json:"tier_name"`
	LoanLimit       decimal.Decimal  `json:"loan_limit"`
	Breakdown       *ScoreBreakdown  `json:"breakdown,omitempty"`
	RiskLevel       string           `json:"risk_level"`
	Recommendations []Recommendation `json:"recommendations,omitempty"`
}

type CreditReport struct {
	Wallet          *WalletView      `json:"wallet"`
	Factors         CreditFactors    `json:"factors"`
	Score           int              `json:"score"`
	Tier            CreditTier       `json:"tier"`
	Breakdown       ScoreBreakdown   `json:"breakdown"`
	RiskLevel       string           `json:"risk_level"`
	Recommendations []Recommendation `json:"recommendations"`
	RecentEvents    []*CreditEvent   `json:"recent_events"`
	Loans           LoanSummary      `json:"loans"`
	GeneratedAt     time.Time        `json:"generated_at"`
}

type LoanSummary struct {
	Total       int             `json:"total"`
	Active      int             `json:"active"`
	Paid        int             `json:"paid"`
	Defaulted   int             `json:"defaulted"`
	Outstanding decimal.Decimal `json:"outstanding"`
}
