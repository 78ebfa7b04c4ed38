package ml

import (
	"fmt"
	"math"
)

func EncodeGender(g Gender) float64 {
	if g == GenderMale {
		return 1
	}
	return 0
}

func EncodePlan(p SubscriptionPlan) float64 {
	switch p {
	case PlanStandard:
		return 1
	case PlanPremium:
		return 2
	default:
		return 0
	}
}

func EncodeContract(c Contract) float64 {
	if c == ContractAnnual {
		return 1
	}
	return 0
}

// FeatureVector orders features by the names a model was fitted on. A name the
// feature map does not carry is a schema mismatch.
func FeatureVector(features map[string]float64, names []string) ([]float64, error) {
	vector := make([]float64, len(names))
	for i, name := range names {
		value, ok := features[name]
		if !ok {
			return nil, fmt.Errorf("feature schema mismatch: model expects %q", name)
		}
		if math.IsNaN(value) || math.IsInf(value, 0) {
			return nil, fmt.Errorf("feature %q is not finite", name)
		}
		vector[i] = value
	}
	return vector, nil
}
