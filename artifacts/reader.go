package artifacts

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"agripredict/features"
	"agripredict/model"
	"agripredict/series"
)

// ForecastHorizon is the distance between the last observation and the
// predicted price.
const ForecastHorizon = 7 * 24 * time.Hour

// ErrNotPublished is returned when no generation has been published yet.
var ErrNotPublished = errors.New("no artifacts published yet")

// loadAttempts bounds how often Load re-resolves the manifest when the
// generation it named was pruned mid-read.
const loadAttempts = 3

// Snapshot is one consistent published pair.
type Snapshot struct {
	Manifest Manifest
	Model    *model.Model
	Table    *features.Table
}

// Forecast is the next-week prediction for one region.
type Forecast struct {
	Region     string    `json:"region"`
	LastDate   time.Time `json:"last_date"`
	LastPrice  float64   `json:"last_price"`
	TargetDate time.Time `json:"target_date"`
	Prediction float64   `json:"prediction"`
	Delta      float64   `json:"delta"`
}

// ReadManifest returns the current manifest of dir.
func ReadManifest(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotPublished
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to decode manifest: %w", err)
	}
	if m.Generation == "" {
		return nil, fmt.Errorf("manifest names no generation")
	}
	return &m, nil
}

// Load resolves the manifest and reads the model and feature table it names.
func Load(dir string) (*Snapshot, error) {
	var lastErr error
	for attempt := 0; attempt < loadAttempts; attempt++ {
		manifest, err := ReadManifest(dir)
		if err != nil {
			return nil, err
		}

		snap, err := loadGeneration(dir, manifest)
		if err == nil {
			return snap, nil
		}
		// The generation can only disappear after a newer manifest replaced
		// it, so resolving again picks that one up.
		if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

func loadGeneration(dir string, manifest *Manifest) (*Snapshot, error) {
	genDir := filepath.Join(dir, GenerationsDir, manifest.Generation)

	data, err := os.ReadFile(filepath.Join(genDir, ModelFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read model of generation %s: %w", manifest.Generation, err)
	}
	m, err := model.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode model of generation %s: %w", manifest.Generation, err)
	}

	f, err := os.Open(filepath.Join(genDir, FeaturesFile))
	if err != nil {
		return nil, fmt.Errorf("failed to open feature table of generation %s: %w", manifest.Generation, err)
	}
	defer f.Close()

	table, err := features.ReadCSV(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read feature table of generation %s: %w", manifest.Generation, err)
	}
	if asOf, err := time.Parse(series.DateLayout, manifest.AsOf); err == nil {
		table.AsOf = asOf
	}

	return &Snapshot{Manifest: *manifest, Model: m, Table: table}, nil
}

// Regions returns the regions the published model can predict for.
func (s *Snapshot) Regions() []string {
	return s.Model.Regions
}

// PredictLatest predicts the price one week after the region's most recent
// observation, using that observation's features.
func (s *Snapshot) PredictLatest(region string) (*Forecast, error) {
	row, ok := s.Table.Latest(region)
	if !ok {
		return nil, fmt.Errorf("%w: %q", model.ErrUnknownRegion, region)
	}

	prediction, err := s.Model.PredictRow(row)
	if err != nil {
		return nil, err
	}

	return &Forecast{
		Region:     region,
		LastDate:   row.Date,
		LastPrice:  row.Price,
		TargetDate: row.Date.Add(ForecastHorizon),
		Prediction: prediction,
		Delta:      prediction - row.Price,
	}, nil
}
