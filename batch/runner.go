// Package batch runs a tabular file through the prediction contract one row
// at a time.
package batch

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"churnintel/ml"
	"churnintel/pipeline"
)

// DefaultMaxRows bounds the rows processed per run.
const DefaultMaxRows = 200

// PredictionColumn is the column appended to exported rows.
const PredictionColumn = "churn_prediction"

// Predictor is satisfied by the remote client and by the in-process
// predictor alike.
type Predictor interface {
	Predict(ctx context.Context, raw ml.RawRecord) (ml.Result, error)
}

// Outcome is the per-row result. Prediction and Probability are nil when the
// row failed; Err says why.
type Outcome struct {
	Row         int      `json:"row"`
	Prediction  *int     `json:"prediction"`
	Probability *float64 `json:"probability"`
	Err         error    `json:"-"`
	Error       string   `json:"error,omitempty"`
}

// Progress is reported after every row.
type Progress struct {
	RunID string `json:"run_id"`
	Done  int    `json:"done"`
	Total int    `json:"total"`
}

type Runner struct {
	predictor Predictor
	maxRows   int
	logger    *zap.Logger
	progress  func(Progress)
}

type Option func(*Runner)

func WithMaxRows(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.maxRows = n
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

func WithProgress(fn func(Progress)) Option {
	return func(r *Runner) { r.progress = fn }
}

func NewRunner(predictor Predictor, opts ...Option) *Runner {
	r := &Runner{
		predictor: predictor,
		maxRows:   DefaultMaxRows,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run predicts the first maxRows rows of table. A failing row never aborts
// the run; only cancellation of ctx does, and the rows already predicted are
// still returned.
func (r *Runner) Run(ctx context.Context, name string, table *pipeline.Table) (*Report, error) {
	if err := table.Require(ml.RawFieldNames()...); err != nil {
		return nil, err
	}

	process := table.Head(r.maxRows)
	report := &Report{
		RunID:     uuid.NewString(),
		Name:      name,
		TotalRows: table.Len(),
		Table:     process,
		Outcomes:  make([]Outcome, 0, process.Len()),
		StartedAt: time.Now().UTC(),
	}
	logger := r.logger.With(zap.String("run_id", report.RunID), zap.String("file", name))
	logger.Info("batch started", zap.Int("rows", process.Len()), zap.Int("total_rows", report.TotalRows))

	var runErr error
	for i := 0; i < process.Len(); i++ {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}
		outcome := Outcome{Row: i}
		result, err := r.predictor.Predict(ctx, pipeline.RecordFromRow(process, i))
		if err != nil {
			outcome.Err = err
			outcome.Error = err.Error()
			logger.Warn("row prediction failed", zap.Int("row", i), zap.Error(err))
		} else {
			prediction, probability := result.Prediction, result.Probability
			outcome.Prediction = &prediction
			outcome.Probability = &probability
		}
		report.Outcomes = append(report.Outcomes, outcome)

		if r.progress != nil {
			r.progress(Progress{RunID: report.RunID, Done: i + 1, Total: process.Len()})
		}
	}

	report.FinishedAt = time.Now().UTC()
	summary := report.Summary()
	logger.Info("batch finished",
		zap.Int("processed", summary.Processed),
		zap.Int("predicted", summary.Predicted),
		zap.Int("failed", summary.Failed),
		zap.Duration("elapsed", report.FinishedAt.Sub(report.StartedAt)),
	)
	return report, runErr
}
