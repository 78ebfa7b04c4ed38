package ml

import "context"

// DefaultThreshold is the decision threshold used when an artifact does not
// carry its own.
const DefaultThreshold = 0.5

// Classifier is a frozen binary model. Implementations must be safe for
// concurrent use without locking: they are read-only after loading.
type Classifier interface {
	Predict(features map[string]float64) (int, error)
	PredictProba(features map[string]float64) ([2]float64, error)
}

// ModelProvider is anything that turns a raw record into a prediction.
type ModelProvider interface {
	Predict(ctx context.Context, raw RawRecord) (Result, error)
}

// Result is the outcome of a single prediction.
type Result struct {
	Prediction  int     `json:"prediction"`
	Probability float64 `json:"probability"`
}

func labelFor(probability, threshold float64) int {
	if probability >= threshold {
		return 1
	}
	return 0
}
