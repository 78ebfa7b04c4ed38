package pipeline

import (
	"encoding/json"
	"fmt"
	"strings"

	"churnintel/ml"
)

// MissingColumnsError lists required columns absent from an upload.
type MissingColumnsError struct {
	Columns []string
}

func (e *MissingColumnsError) Error() string {
	return fmt.Sprintf("missing required columns: %s", strings.Join(e.Columns, ", "))
}

// NormalizeHeader trims and lower-cases column names.
func NormalizeHeader(header []string) []string {
	out := make([]string, len(header))
	for i, name := range header {
		out[i] = strings.ToLower(strings.TrimSpace(name))
	}
	return out
}

// CleanRow trims every cell and pads or truncates the row to width. Rows with
// no non-empty cell are reported as not ok.
func CleanRow(row []string, width int) ([]string, bool) {
	out := make([]string, width)
	blank := true
	for i := 0; i < width && i < len(row); i++ {
		out[i] = strings.TrimSpace(row[i])
		if out[i] != "" {
			blank = false
		}
	}
	return out, !blank
}

// RecordFromRow maps the ten raw columns of a row onto the wire record. Empty
// cells become absent fields; type and domain checks are left to validation.
func RecordFromRow(t *Table, row int) ml.RawRecord {
	var raw ml.RawRecord
	num := func(name string) *json.Number {
		v := t.Value(row, name)
		if v == "" {
			return nil
		}
		n := json.Number(v)
		return &n
	}
	str := func(name string) *string {
		v := t.Value(row, name)
		if v == "" {
			return nil
		}
		return &v
	}
	raw.Age = num("age")
	raw.Gender = str("gender")
	raw.IncomeNumeric = num("income_numeric")
	raw.Tenure = num("tenure")
	raw.SubPlan = str("sub_plan")
	raw.Contract = str("contract")
	raw.MonthlyCharge = num("monthly_charge")
	raw.AutoRenewal = num("auto_renewal")
	raw.LatePayment = num("late_payment")
	raw.FailedTransaction = num("failed_transaction")
	return raw
}
