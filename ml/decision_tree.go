package ml

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
)

// DecisionTree is a frozen binary tree whose leaves carry P(churn).
type DecisionTree struct {
	features  []string
	threshold float64
	nodes     []TreeNode
}

type TreeNode struct {
	FeatureIdx  int     `json:"feature_idx"`
	Threshold   float64 `json:"threshold"`
	LeftChild   int     `json:"left_child"`
	RightChild  int     `json:"right_child"`
	IsLeaf      bool    `json:"is_leaf"`
	Probability float64 `json:"probability"`
}

type treeArtifact struct {
	Features  []string   `json:"features"`
	Threshold *float64   `json:"threshold"`
	Nodes     []TreeNode `json:"nodes"`
}

func NewDecisionTree(features []string, nodes []TreeNode, threshold float64) (*DecisionTree, error) {
	dt := &DecisionTree{}
	if err := dt.init(treeArtifact{Features: features, Threshold: &threshold, Nodes: nodes}); err != nil {
		return nil, err
	}
	return dt, nil
}

func (dt *DecisionTree) Predict(features map[string]float64) (int, error) {
	proba, err := dt.PredictProba(features)
	if err != nil {
		return 0, err
	}
	return labelFor(proba[1], dt.threshold), nil
}

func (dt *DecisionTree) PredictProba(features map[string]float64) ([2]float64, error) {
	if len(dt.nodes) == 0 {
		return [2]float64{}, errors.New("model not loaded")
	}
	vector, err := FeatureVector(features, dt.features)
	if err != nil {
		return [2]float64{}, err
	}
	idx := 0
	// a valid tree reaches a leaf in at most len(nodes) steps
	for steps := 0; steps <= len(dt.nodes); steps++ {
		node := dt.nodes[idx]
		if node.IsLeaf {
			return [2]float64{1 - node.Probability, node.Probability}, nil
		}
		if vector[node.FeatureIdx] <= node.Threshold {
			idx = node.LeftChild
		} else {
			idx = node.RightChild
		}
	}
	return [2]float64{}, errors.New("invalid tree state")
}

func (dt *DecisionTree) Threshold() float64 { return dt.threshold }

func (dt *DecisionTree) FeatureNames() []string {
	return append([]string(nil), dt.features...)
}

func (dt *DecisionTree) Load(path string) error {
	payload, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var artifact treeArtifact
	if err := json.Unmarshal(payload, &artifact); err != nil {
		return fmt.Errorf("decode decision tree: %w", err)
	}
	return dt.init(artifact)
}

func (dt *DecisionTree) init(artifact treeArtifact) error {
	if len(artifact.Features) == 0 {
		return errors.New("decision tree has no features")
	}
	if len(artifact.Nodes) == 0 {
		return errors.New("decision tree has no nodes")
	}
	for i, node := range artifact.Nodes {
		if node.IsLeaf {
			if node.Probability < 0 || node.Probability > 1 || math.IsNaN(node.Probability) {
				return fmt.Errorf("node %d: probability %v outside [0,1]", i, node.Probability)
			}
			continue
		}
		if node.FeatureIdx < 0 || node.FeatureIdx >= len(artifact.Features) {
			return fmt.Errorf("node %d: feature index %d out of range", i, node.FeatureIdx)
		}
		if !validChild(node.LeftChild, len(artifact.Nodes)) || !validChild(node.RightChild, len(artifact.Nodes)) {
			return fmt.Errorf("node %d: child index out of range", i)
		}
	}
	threshold, err := resolveThreshold(artifact.Threshold)
	if err != nil {
		return err
	}
	dt.features = artifact.Features
	dt.threshold = threshold
	dt.nodes = artifact.Nodes
	return nil
}

func validChild(idx, count int) bool {
	return idx > 0 && idx < count
}

// resolveThreshold falls back to DefaultThreshold only when the artifact
// carries no threshold at all; an explicit 0 labels every record as churn.
func resolveThreshold(threshold *float64) (float64, error) {
	if threshold == nil {
		return DefaultThreshold, nil
	}
	t := *threshold
	if t < 0 || t > 1 || math.IsNaN(t) {
		return 0, fmt.Errorf("threshold %v outside [0,1]", t)
	}
	return t, nil
}
