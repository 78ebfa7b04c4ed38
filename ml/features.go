package ml

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
)

type Gender string

const (
	GenderMale   Gender = "M"
	GenderFemale Gender = "F"
)

type SubscriptionPlan string

const (
	PlanBasic    SubscriptionPlan = "basic"
	PlanStandard SubscriptionPlan = "standard"
	PlanPremium  SubscriptionPlan = "premium"
)

type Contract string

const (
	ContractMonthly Contract = "monthly"
	ContractAnnual  Contract = "annual"
)

// CustomerRecord is a validated customer profile. It is comparable so it can
// key the prediction cache.
type CustomerRecord struct {
	Age               int
	Gender            Gender
	IncomeNumeric     int
	Tenure            int
	SubPlan           SubscriptionPlan
	Contract          Contract
	MonthlyCharge     float64
	AutoRenewal       int
	LatePayment       int
	FailedTransaction int
}

// RawRecord is the wire form of a customer profile. Every field is a pointer so
// that an absent field can be told apart from a zero value.
type RawRecord struct {
	Age               *json.Number `json:"age"`
	Gender            *string      `json:"gender"`
	IncomeNumeric     *json.Number `json:"income_numeric"`
	Tenure            *json.Number `json:"tenure"`
	SubPlan           *string      `json:"sub_plan"`
	Contract          *string      `json:"contract"`
	MonthlyCharge     *json.Number `json:"monthly_charge"`
	AutoRenewal       *json.Number `json:"auto_renewal"`
	LatePayment       *json.Number `json:"late_payment"`
	FailedTransaction *json.Number `json:"failed_transaction"`
}

// RawFieldNames lists the ten fields a request carries, in wire order.
func RawFieldNames() []string {
	return []string{
		"age",
		"gender",
		"income_numeric",
		"tenure",
		"sub_plan",
		"contract",
		"monthly_charge",
		"auto_renewal",
		"late_payment",
		"failed_transaction",
	}
}

// FeatureNames is the full feature set handed to the classifier: the raw
// fields followed by the two derived ones.
func FeatureNames() []string {
	return append(RawFieldNames(), "charge_per_tenure", "income_per_family")
}

// DecodeRecord reads a single JSON object. Unknown fields, including the
// derived ones, are rejected.
func DecodeRecord(r io.Reader) (RawRecord, error) {
	var raw RawRecord
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&raw); err != nil {
		return RawRecord{}, decodeError(err)
	}
	if dec.More() {
		return RawRecord{}, &ValidationError{Reason: "request body must contain a single JSON object"}
	}
	return raw, nil
}

// ParseRecord is DecodeRecord over a byte slice.
func ParseRecord(data []byte) (RawRecord, error) {
	return DecodeRecord(bytes.NewReader(data))
}

func decodeError(err error) error {
	var typeErr *json.UnmarshalTypeError
	var syntaxErr *json.SyntaxError
	switch {
	case errors.As(err, &typeErr):
		return &ValidationError{Field: typeErr.Field, Reason: fmt.Sprintf("wrong type %s", typeErr.Value)}
	case errors.As(err, &syntaxErr):
		return &ValidationError{Reason: fmt.Sprintf("malformed JSON at offset %d", syntaxErr.Offset)}
	case errors.Is(err, io.EOF):
		return &ValidationError{Reason: "request body is empty"}
	case strings.HasPrefix(err.Error(), "json: unknown field "):
		field := strings.Trim(strings.TrimPrefix(err.Error(), "json: unknown field "), `"`)
		return &ValidationError{Field: field, Reason: "unknown field"}
	default:
		return &ValidationError{Reason: err.Error()}
	}
}

// Validate checks presence, type and domain of every field.
func (r RawRecord) Validate() (CustomerRecord, error) {
	var rec CustomerRecord
	var err error

	if rec.Age, err = requireInt("age", r.Age); err != nil {
		return CustomerRecord{}, err
	}
	gender, err := requireEnum("gender", r.Gender, string(GenderMale), string(GenderFemale))
	if err != nil {
		return CustomerRecord{}, err
	}
	rec.Gender = Gender(gender)
	if rec.IncomeNumeric, err = requireInt("income_numeric", r.IncomeNumeric); err != nil {
		return CustomerRecord{}, err
	}
	if rec.IncomeNumeric < 1 || rec.IncomeNumeric > 3 {
		return CustomerRecord{}, &ValidationError{Field: "income_numeric", Reason: "must be one of 1, 2, 3"}
	}
	if rec.Tenure, err = requireInt("tenure", r.Tenure); err != nil {
		return CustomerRecord{}, err
	}
	plan, err := requireEnum("sub_plan", r.SubPlan, string(PlanBasic), string(PlanStandard), string(PlanPremium))
	if err != nil {
		return CustomerRecord{}, err
	}
	rec.SubPlan = SubscriptionPlan(plan)
	contract, err := requireEnum("contract", r.Contract, string(ContractMonthly), string(ContractAnnual))
	if err != nil {
		return CustomerRecord{}, err
	}
	rec.Contract = Contract(contract)
	if rec.MonthlyCharge, err = requireFloat("monthly_charge", r.MonthlyCharge); err != nil {
		return CustomerRecord{}, err
	}
	if rec.AutoRenewal, err = requireBinary("auto_renewal", r.AutoRenewal); err != nil {
		return CustomerRecord{}, err
	}
	if rec.LatePayment, err = requireBinary("late_payment", r.LatePayment); err != nil {
		return CustomerRecord{}, err
	}
	if rec.FailedTransaction, err = requireBinary("failed_transaction", r.FailedTransaction); err != nil {
		return CustomerRecord{}, err
	}
	return rec, nil
}

// Raw converts a validated record back into its wire form.
func (c CustomerRecord) Raw() RawRecord {
	num := func(s string) *json.Number {
		n := json.Number(s)
		return &n
	}
	str := func(s string) *string { return &s }
	return RawRecord{
		Age:               num(fmt.Sprint(c.Age)),
		Gender:            str(string(c.Gender)),
		IncomeNumeric:     num(fmt.Sprint(c.IncomeNumeric)),
		Tenure:            num(fmt.Sprint(c.Tenure)),
		SubPlan:           str(string(c.SubPlan)),
		Contract:          str(string(c.Contract)),
		MonthlyCharge:     num(fmt.Sprint(c.MonthlyCharge)),
		AutoRenewal:       num(fmt.Sprint(c.AutoRenewal)),
		LatePayment:       num(fmt.Sprint(c.LatePayment)),
		FailedTransaction: num(fmt.Sprint(c.FailedTransaction)),
	}
}

func requireFloat(field string, n *json.Number) (float64, error) {
	if n == nil {
		return 0, &ValidationError{Field: field, Reason: "is required"}
	}
	v, err := n.Float64()
	if err != nil {
		return 0, &ValidationError{Field: field, Reason: fmt.Sprintf("must be numeric, got %q", n.String())}
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, &ValidationError{Field: field, Reason: "must be finite"}
	}
	return v, nil
}

// requireInt accepts integral floats (30.0) because tabular sources often
// widen integer columns.
func requireInt(field string, n *json.Number) (int, error) {
	v, err := requireFloat(field, n)
	if err != nil {
		return 0, err
	}
	if v != math.Trunc(v) {
		return 0, &ValidationError{Field: field, Reason: fmt.Sprintf("must be an integer, got %s", n.String())}
	}
	if v > math.MaxInt32 || v < math.MinInt32 {
		return 0, &ValidationError{Field: field, Reason: "out of range"}
	}
	return int(v), nil
}

func requireBinary(field string, n *json.Number) (int, error) {
	v, err := requireInt(field, n)
	if err != nil {
		return 0, err
	}
	if v != 0 && v != 1 {
		return 0, &ValidationError{Field: field, Reason: "must be 0 or 1"}
	}
	return v, nil
}

func requireEnum(field string, s *string, allowed ...string) (string, error) {
	if s == nil {
		return "", &ValidationError{Field: field, Reason: "is required"}
	}
	for _, a := range allowed {
		if *s == a {
			return a, nil
		}
	}
	return "", &ValidationError{Field: field, Reason: fmt.Sprintf("must be one of %s, got %q", strings.Join(allowed, ", "), *s)}
}
