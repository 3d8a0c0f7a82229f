package model

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"agripredict/features"
)

// ErrTrainingFailed matches every error returned by Trainer.Train.
var ErrTrainingFailed = errors.New("training failed")

// Trainer fits models with fixed hyperparameters.
type Trainer struct {
	params Hyperparameters
	log    zerolog.Logger
	now    func() time.Time
}

// NewTrainer creates a trainer
func NewTrainer(params Hyperparameters, log zerolog.Logger) *Trainer {
	return &Trainer{
		params: params,
		log:    log,
		now:    time.Now,
	}
}

// Params returns the trainer's hyperparameters.
func (t *Trainer) Params() Hyperparameters {
	return t.params
}

// Train fits a model on table and validates it before returning. Any panic
// inside the fit is reported as a training failure rather than crashing the
// service.
func (t *Trainer) Train(ctx context.Context, table *features.Table) (m *Model, err error) {
	defer func() {
		if r := recover(); r != nil {
			m = nil
			err = fmt.Errorf("%w: fit panicked: %v", ErrTrainingFailed, r)
		}
	}()

	if err := t.params.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTrainingFailed, err)
	}
	if table == nil || len(table.Rows) == 0 {
		return nil, fmt.Errorf("%w: no training rows", ErrTrainingFailed)
	}

	regions := table.Regions()
	regionIndex := indexRegions(regions)

	x := make([][]float64, len(table.Rows))
	y := make([]float64, len(table.Rows))
	for i, row := range table.Rows {
		vec, err := encode(row, regions, regionIndex)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrTrainingFailed, err)
		}
		x[i] = vec
		y[i] = row.Price
	}

	start := time.Now()
	t.log.Info().
		Int("rows", len(y)).
		Int("regions", len(regions)).
		Int("trees", t.params.Trees).
		Float64("learning_rate", t.params.LearningRate).
		Int("max_depth", t.params.MaxDepth).
		Msg("🧠 Training gradient boosted model...")

	m = &Model{
		FeatureNames: Layout(regions),
		Regions:      regions,
		BaseScore:    stat.Mean(y, nil),
		LearningRate: t.params.LearningRate,
		Params:       t.params,
		TrainedAt:    t.now().UTC(),
	}

	pred := make([]float64, len(y))
	for i := range pred {
		pred[i] = m.BaseScore
	}
	residual := make([]float64, len(y))

	b := newBooster(t.params, x, y)
	for k := 0; k < t.params.Trees; k++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrTrainingFailed, err)
		}

		floats.SubTo(residual, y, pred)
		tr := b.fitTree(residual)
		for i := range pred {
			pred[i] += m.LearningRate * tr.predict(x[i])
		}
		m.trees = append(m.trees, tr)
	}

	m.Stats = fitStats(pred, y)

	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTrainingFailed, err)
	}
	for i := range x {
		if p := m.predict(x[i]); !finite(p) {
			return nil, fmt.Errorf("%w: %v: non-finite prediction for row %d", ErrTrainingFailed, ErrInvalidModel, i)
		}
	}

	t.log.Info().
		Float64("rmse", m.Stats.RMSE).
		Float64("mae", m.Stats.MAE).
		Float64("r2", m.Stats.R2).
		Dur("took", time.Since(start)).
		Msg("✅ Model trained")
	return m, nil
}

func fitStats(pred, y []float64) FitStats {
	n := float64(len(y))
	s := FitStats{
		Rows: len(y),
		RMSE: floats.Distance(pred, y, 2) / math.Sqrt(n),
		MAE:  floats.Distance(pred, y, 1) / n,
		R2:   stat.RSquaredFrom(pred, y, nil),
	}
	// R² is undefined for a constant label
	if !finite(s.R2) {
		s.R2 = 0
	}
	return s
}
