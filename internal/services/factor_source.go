package services

import (
	"context"

	"agri-ledger/internal/models"
)

// FactorSource supplies the farm-side credit factors (area, crops, yield, land) that come
// from outside the ledger. Behavioural factors are derived from the ledger itself.
type FactorSource interface {
	FarmFactors(ctx context.Context, userID string) (models.CreditFactors, error)
}

// DemoFactorSource returns the same placeholder profile for every user.
type DemoFactorSource struct{}

func (DemoFactorSource) FarmFactors(context.Context, string) (models.CreditFactors, error) {
	return models.CreditFactors{
		FarmArea:          5,
		CropDiversity:     3,
		ExperienceYears:   3,
		IrrigationType:    "sprinkler",
		DiseaseRiskScore:  70,
		PaymentHistory:    70,
		VerificationLevel: "basic",
		LandOwnership:     "leased",
		YieldScore:        80,
	}, nil
}
