// Package model implements the Trainer: a gradient-boosted regression tree
// ensemble fitted on the feature table, its validation, and its on-disk form.
package model

import (
	"errors"
	"fmt"
	"math"
	"time"

	"agripredict/features"
)

// RegionPrefix prefixes the indicator column of each region.
const RegionPrefix = "County_"

var (
	// ErrInvalidModel reports a model that must not be published or used.
	ErrInvalidModel = errors.New("invalid model")
	// ErrUnknownRegion is returned when predicting for a region the model
	// was not trained on.
	ErrUnknownRegion = errors.New("region not present in model")
)

// Hyperparameters are fixed per deployment; they are not tuned per cycle.
type Hyperparameters struct {
	Trees          int
	LearningRate   float64
	MaxDepth       int
	MinSamplesLeaf int
	Subsample      float64
	Seed           int64
}

// DefaultHyperparameters returns 500 trees, learning rate 0.05, depth 6.
func DefaultHyperparameters() Hyperparameters {
	return Hyperparameters{
		Trees:          500,
		LearningRate:   0.05,
		MaxDepth:       6,
		MinSamplesLeaf: 1,
		Subsample:      1.0,
		Seed:           42,
	}
}

// Validate rejects values the booster cannot work with.
func (h Hyperparameters) Validate() error {
	switch {
	case h.Trees < 1:
		return fmt.Errorf("trees must be positive, got %d", h.Trees)
	case !(h.LearningRate > 0 && h.LearningRate <= 1):
		return fmt.Errorf("learning rate must be in (0, 1], got %v", h.LearningRate)
	case h.MaxDepth < 1:
		return fmt.Errorf("max depth must be positive, got %d", h.MaxDepth)
	case h.MinSamplesLeaf < 1:
		return fmt.Errorf("min samples per leaf must be positive, got %d", h.MinSamplesLeaf)
	case !(h.Subsample > 0 && h.Subsample <= 1):
		return fmt.Errorf("subsample must be in (0, 1], got %v", h.Subsample)
	}
	return nil
}

// FitStats are in-sample fit statistics recorded at training time.
type FitStats struct {
	Rows int
	RMSE float64
	MAE  float64
	R2   float64
}

// Model is a trained ensemble together with the input layout it expects.
type Model struct {
	FeatureNames []string
	Regions      []string
	BaseScore    float64
	LearningRate float64
	Params       Hyperparameters
	Stats        FitStats
	TrainedAt    time.Time

	trees []tree
}

// Trees returns the number of fitted trees.
func (m *Model) Trees() int {
	return len(m.trees)
}

// Layout returns the input column names for a model over regions: the
// numeric feature columns followed by one indicator per region.
func Layout(regions []string) []string {
	names := make([]string, 0, len(features.NumericColumns)+len(regions))
	names = append(names, features.NumericColumns...)
	for _, r := range regions {
		names = append(names, RegionPrefix+r)
	}
	return names
}

// encode builds the input vector for row given the region order.
func encode(row features.Row, regions []string, regionIndex map[string]int) ([]float64, error) {
	idx, ok := regionIndex[row.Region]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownRegion, row.Region)
	}
	x := make([]float64, len(features.NumericColumns)+len(regions))
	copy(x, row.Inputs())
	x[len(features.NumericColumns)+idx] = 1
	return x, nil
}

func indexRegions(regions []string) map[string]int {
	index := make(map[string]int, len(regions))
	for i, r := range regions {
		index[r] = i
	}
	return index
}

// Predict evaluates the model on a raw input vector in FeatureNames order.
func (m *Model) Predict(x []float64) (float64, error) {
	if len(x) != len(m.FeatureNames) {
		return 0, fmt.Errorf("expected %d inputs, got %d", len(m.FeatureNames), len(x))
	}
	return m.predict(x), nil
}

func (m *Model) predict(x []float64) float64 {
	out := m.BaseScore
	for i := range m.trees {
		out += m.LearningRate * m.trees[i].predict(x)
	}
	return out
}

// PredictRow predicts the price for one feature row.
func (m *Model) PredictRow(row features.Row) (float64, error) {
	x, err := encode(row, m.Regions, indexRegions(m.Regions))
	if err != nil {
		return 0, err
	}
	return m.predict(x), nil
}

// Validate checks that the model is structurally sound and that its input
// layout is exactly what inference will build for its regions.
func (m *Model) Validate() error {
	expected := Layout(m.Regions)
	if len(m.FeatureNames) != len(expected) {
		return fmt.Errorf("%w: %d feature names, layout has %d", ErrInvalidModel, len(m.FeatureNames), len(expected))
	}
	for i, name := range expected {
		if m.FeatureNames[i] != name {
			return fmt.Errorf("%w: feature %d is %q, want %q", ErrInvalidModel, i, m.FeatureNames[i], name)
		}
	}
	if len(m.Regions) == 0 {
		return fmt.Errorf("%w: no regions", ErrInvalidModel)
	}
	if len(m.trees) == 0 {
		return fmt.Errorf("%w: no trees", ErrInvalidModel)
	}
	if !finite(m.BaseScore) || !finite(m.LearningRate) {
		return fmt.Errorf("%w: non-finite base score or learning rate", ErrInvalidModel)
	}

	nFeatures := int32(len(m.FeatureNames))
	for ti, t := range m.trees {
		if len(t.nodes) == 0 {
			return fmt.Errorf("%w: tree %d is empty", ErrInvalidModel, ti)
		}
		for ni, n := range t.nodes {
			if !finite(n.Value) {
				return fmt.Errorf("%w: tree %d node %d has non-finite value", ErrInvalidModel, ti, ni)
			}
			if n.Feature == leafFeature {
				continue
			}
			self := int32(ni)
			switch {
			case n.Feature < 0 || n.Feature >= nFeatures:
				return fmt.Errorf("%w: tree %d node %d splits on feature %d", ErrInvalidModel, ti, ni, n.Feature)
			case !finite(n.Threshold):
				return fmt.Errorf("%w: tree %d node %d has non-finite threshold", ErrInvalidModel, ti, ni)
			case n.Left <= self || n.Right <= self || int(n.Left) >= len(t.nodes) || int(n.Right) >= len(t.nodes):
				return fmt.Errorf("%w: tree %d node %d has bad children", ErrInvalidModel, ti, ni)
			}
		}
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
