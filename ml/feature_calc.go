package ml

// MinTenure is the floor applied to tenure before any division by it.
const MinTenure = 1

// DerivedRecord is a customer record augmented with the engineered features.
type DerivedRecord struct {
	CustomerRecord
	ChargePerTenure float64 `json:"charge_per_tenure"`
	IncomePerFamily float64 `json:"income_per_family"`
}

// Derive clamps tenure to MinTenure, then divides by tenure+1.
func Derive(record CustomerRecord) DerivedRecord {
	record.Tenure = ClampTenure(record.Tenure)
	divisor := float64(record.Tenure + 1)
	return DerivedRecord{
		CustomerRecord:  record,
		ChargePerTenure: record.MonthlyCharge / divisor,
		IncomePerFamily: float64(record.IncomeNumeric) / divisor,
	}
}

func ClampTenure(tenure int) int {
	if tenure < MinTenure {
		return MinTenure
	}
	return tenure
}

// Features returns the derived record keyed by FeatureNames, with categorical
// fields encoded numerically.
func (d DerivedRecord) Features() map[string]float64 {
	return map[string]float64{
		"age":                float64(d.Age),
		"gender":             EncodeGender(d.Gender),
		"income_numeric":     float64(d.IncomeNumeric),
		"tenure":             float64(d.Tenure),
		"sub_plan":           EncodePlan(d.SubPlan),
		"contract":           EncodeContract(d.Contract),
		"monthly_charge":     d.MonthlyCharge,
		"auto_renewal":       float64(d.AutoRenewal),
		"late_payment":       float64(d.LatePayment),
		"failed_transaction": float64(d.FailedTransaction),
		"charge_per_tenure":  d.ChargePerTenure,
		"income_per_family":  d.IncomePerFamily,
	}
}
