package ml

import (
	"fmt"
)

const (
	ModelTypeLogistic     = "logistic"
	ModelTypeDecisionTree = "decision_tree"
)

// LoadedModel is a classifier together with the schema it was fitted on.
type LoadedModel interface {
	Classifier
	Threshold() float64
	FeatureNames() []string
}

func LoadModel(modelType, path string) (LoadedModel, error) {
	switch modelType {
	case ModelTypeLogistic:
		model := &LogisticModel{}
		if err := model.Load(path); err != nil {
			return nil, fmt.Errorf("load %s model from %s: %w", modelType, path, err)
		}
		return model, nil
	case ModelTypeDecisionTree:
		model := &DecisionTree{}
		if err := model.Load(path); err != nil {
			return nil, fmt.Errorf("load %s model from %s: %w", modelType, path, err)
		}
		return model, nil
	default:
		return nil, fmt.Errorf("unsupported model type %q", modelType)
	}
}
