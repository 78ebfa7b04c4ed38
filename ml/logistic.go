package ml

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
)

// LogisticModel is a fitted logistic regression head over named features.
type LogisticModel struct {
	features  []string
	weights   []float64
	intercept float64
	threshold float64
}

type logisticArtifact struct {
	Features  []string  `json:"features"`
	Weights   []float64 `json:"weights"`
	Intercept float64   `json:"intercept"`
	Threshold *float64  `json:"threshold"`
}

func NewLogisticModel(features []string, weights []float64, intercept, threshold float64) (*LogisticModel, error) {
	m := &LogisticModel{}
	if err := m.init(logisticArtifact{Features: features, Weights: weights, Intercept: intercept, Threshold: &threshold}); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *LogisticModel) Predict(features map[string]float64) (int, error) {
	proba, err := m.PredictProba(features)
	if err != nil {
		return 0, err
	}
	return labelFor(proba[1], m.threshold), nil
}

func (m *LogisticModel) PredictProba(features map[string]float64) ([2]float64, error) {
	if len(m.weights) == 0 {
		return [2]float64{}, errors.New("model not loaded")
	}
	vector, err := FeatureVector(features, m.features)
	if err != nil {
		return [2]float64{}, err
	}
	z := m.intercept
	for i, w := range m.weights {
		z += w * vector[i]
	}
	p := sigmoid(z)
	if math.IsNaN(p) {
		return [2]float64{}, errors.New("model produced NaN probability")
	}
	return [2]float64{1 - p, p}, nil
}

func (m *LogisticModel) Threshold() float64 { return m.threshold }

func (m *LogisticModel) FeatureNames() []string {
	return append([]string(nil), m.features...)
}

func (m *LogisticModel) Load(path string) error {
	payload, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var artifact logisticArtifact
	if err := json.Unmarshal(payload, &artifact); err != nil {
		return fmt.Errorf("decode logistic model: %w", err)
	}
	return m.init(artifact)
}

func (m *LogisticModel) init(artifact logisticArtifact) error {
	if len(artifact.Features) == 0 {
		return errors.New("logistic model has no features")
	}
	if len(artifact.Features) != len(artifact.Weights) {
		return fmt.Errorf("logistic model has %d features but %d weights", len(artifact.Features), len(artifact.Weights))
	}
	for i, w := range artifact.Weights {
		if math.IsNaN(w) || math.IsInf(w, 0) {
			return fmt.Errorf("weight %d is not finite", i)
		}
	}
	threshold, err := resolveThreshold(artifact.Threshold)
	if err != nil {
		return err
	}
	m.features = artifact.Features
	m.weights = artifact.Weights
	m.intercept = artifact.Intercept
	m.threshold = threshold
	return nil
}

// sigmoid is split by sign so large |z| saturates to 0 or 1 instead of
// overflowing.
func sigmoid(z float64) float64 {
	if z >= 0 {
		return 1 / (1 + math.Exp(-z))
	}
	e := math.Exp(z)
	return e / (1 + e)
}
