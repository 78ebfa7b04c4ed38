package batch

import (
	"io"
	"strconv"
	"time"

	"churnintel/pipeline"
)

// Report is the augmented batch: the processed rows plus one outcome each.
type Report struct {
	RunID      string
	Name       string
	TotalRows  int
	Table      *pipeline.Table
	Outcomes   []Outcome
	StartedAt  time.Time
	FinishedAt time.Time
}

type Summary struct {
	RunID      string    `json:"run_id"`
	Name       string    `json:"name"`
	TotalRows  int       `json:"total_rows"`
	Processed  int       `json:"processed"`
	Predicted  int       `json:"predicted"`
	Failed     int       `json:"failed"`
	LowRisk    int       `json:"low_risk"`
	HighRisk   int       `json:"high_risk"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

func (r *Report) Summary() Summary {
	s := Summary{
		RunID:      r.RunID,
		Name:       r.Name,
		TotalRows:  r.TotalRows,
		Processed:  len(r.Outcomes),
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
	}
	for _, o := range r.Outcomes {
		switch {
		case o.Prediction == nil:
			s.Failed++
		case *o.Prediction == 1:
			s.Predicted++
			s.HighRisk++
		default:
			s.Predicted++
			s.LowRisk++
		}
	}
	return s
}

// HighRisk returns the indices of rows predicted to churn.
func (r *Report) HighRisk() []int {
	var rows []int
	for _, o := range r.Outcomes {
		if o.Prediction != nil && *o.Prediction == 1 {
			rows = append(rows, o.Row)
		}
	}
	return rows
}

// WriteCSV exports the processed rows with the prediction column. Failed rows
// and rows a cancelled run never reached get an empty cell.
func (r *Report) WriteCSV(w io.Writer) error {
	return r.Table.WriteCSV(w, []string{PredictionColumn}, func(row int) []string {
		if row >= len(r.Outcomes) || r.Outcomes[row].Prediction == nil {
			return []string{""}
		}
		return []string{strconv.Itoa(*r.Outcomes[row].Prediction)}
	})
}
