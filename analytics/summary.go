// Package analytics computes descriptive statistics over a labelled customer
// dataset.
package analytics

import (
	"errors"
	"math"
	"sort"
	"strconv"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"churnintel/pipeline"
)

const (
	LabelColumn   = "default"
	TenureBins    = 30
	labelRetained = "Retained"
	labelChurned  = "Churned"
)

var ErrNoRows = errors.New("dataset has no usable rows")

type Bin struct {
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
	Count int     `json:"count"`
}

// FiveNumber is min, quartiles and max.
type FiveNumber struct {
	Count  int     `json:"count"`
	Min    float64 `json:"min"`
	Q1     float64 `json:"q1"`
	Median float64 `json:"median"`
	Q3     float64 `json:"q3"`
	Max    float64 `json:"max"`
}

type Summary struct {
	TotalCustomers  int                   `json:"total_customers"`
	ChurnEvents     int                   `json:"churn_events"`
	ChurnRate       float64               `json:"churn_rate"`
	Retention       map[string]int        `json:"retention"`
	TenureHistogram []Bin                 `json:"tenure_histogram"`
	MonthlyCharge   map[string]FiveNumber `json:"monthly_charge"`
	SkippedRows     int                   `json:"skipped_rows"`
}

// Summarize requires the label, tenure and monthly_charge columns. Rows whose
// label is not 0 or 1 are skipped and counted; rows with an unreadable
// tenure or charge still count toward the totals but not the distributions.
func Summarize(table *pipeline.Table) (*Summary, error) {
	if err := table.Require(LabelColumn, "tenure", "monthly_charge"); err != nil {
		return nil, err
	}

	s := &Summary{
		Retention:     map[string]int{labelRetained: 0, labelChurned: 0},
		MonthlyCharge: make(map[string]FiveNumber, 2),
	}
	var tenures []float64
	charges := map[string][]float64{}

	for i := 0; i < table.Len(); i++ {
		label, err := strconv.ParseFloat(table.Value(i, LabelColumn), 64)
		if err != nil || (label != 0 && label != 1) {
			s.SkippedRows++
			continue
		}
		status := labelRetained
		if label == 1 {
			status = labelChurned
			s.ChurnEvents++
		}
		s.TotalCustomers++
		s.Retention[status]++

		if v, ok := finite(table.Value(i, "tenure")); ok {
			tenures = append(tenures, v)
		}
		if v, ok := finite(table.Value(i, "monthly_charge")); ok {
			charges[status] = append(charges[status], v)
		}
	}
	if s.TotalCustomers == 0 {
		return nil, ErrNoRows
	}

	s.ChurnRate = 100 * float64(s.ChurnEvents) / float64(s.TotalCustomers)
	s.TenureHistogram = Histogram(tenures, TenureBins)
	for status, values := range charges {
		s.MonthlyCharge[status] = Describe(values)
	}
	return s, nil
}

// Histogram splits values into n equal-width bins over their range. The last
// bin is closed on the right. A degenerate range is widened by 0.5 each way.
func Histogram(values []float64, n int) []Bin {
	if len(values) == 0 || n <= 0 {
		return []Bin{}
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	lo, hi := floats.Min(sorted), floats.Max(sorted)
	if lo == hi {
		lo, hi = widen(lo, -0.5), widen(hi, 0.5)
	}
	edges := binEdges(lo, hi, n)

	// stat.Histogram bins are half-open; nudge the top edge so the maximum
	// lands in the last bin.
	dividers := append([]float64(nil), edges...)
	dividers[n] = math.Nextafter(hi, math.Inf(1))
	counts := stat.Histogram(nil, dividers, sorted, nil)

	bins := make([]Bin, n)
	for i := range bins {
		bins[i] = Bin{Lower: edges[i], Upper: edges[i+1], Count: int(counts[i])}
	}
	return bins
}

// binEdges returns n+1 evenly spaced edges from lo to hi. Ranges too wide to
// subtract without overflow are spanned at half scale.
func binEdges(lo, hi float64, n int) []float64 {
	edges := make([]float64, n+1)
	if math.IsInf(hi-lo, 0) {
		floats.Span(edges, lo/2, hi/2)
		floats.Scale(2, edges)
	} else {
		floats.Span(edges, lo, hi)
	}
	edges[0], edges[n] = lo, hi
	return edges
}

func widen(v, delta float64) float64 {
	if w := v + delta; w != v {
		return w
	}
	return math.Nextafter(v, math.Copysign(math.Inf(1), delta))
}

// Describe returns the five-number summary. Quartiles interpolate the
// empirical distribution linearly.
func Describe(values []float64) FiveNumber {
	if len(values) == 0 {
		return FiveNumber{}
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	return FiveNumber{
		Count:  len(sorted),
		Min:    floats.Min(sorted),
		Q1:     stat.Quantile(0.25, stat.LinInterp, sorted, nil),
		Median: stat.Quantile(0.5, stat.LinInterp, sorted, nil),
		Q3:     stat.Quantile(0.75, stat.LinInterp, sorted, nil),
		Max:    floats.Max(sorted),
	}
}

func finite(s string) (float64, bool) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}
