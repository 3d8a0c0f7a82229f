// Package artifacts implements the Artifact Publisher and its read side.
//
// Every publication writes a fresh generation directory holding the model and
// the feature table, then swaps the current.json manifest to point at it with
// a single atomic rename. A reader that resolves the manifest therefore always
// sees a model and a table from the same cycle.
package artifacts

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"agripredict/features"
	"agripredict/helpers"
	"agripredict/model"
	"agripredict/series"
)

// File names inside the artifact directory.
const (
	ManifestFile   = "current.json"
	GenerationsDir = "generations"
	ModelFile      = "model.bin"
	FeaturesFile   = "features.csv"
)

// ErrPublicationFailed matches any PublicationError.
var ErrPublicationFailed = errors.New("artifact publication failed")

// PublicationError reports that a generation could not be published. The
// previously published generation remains current.
type PublicationError struct {
	Generation string
	Err        error
}

// Error implements the error interface
func (e *PublicationError) Error() string {
	return fmt.Sprintf("%v: generation %s: %v", ErrPublicationFailed, e.Generation, e.Err)
}

// Unwrap returns the underlying error
func (e *PublicationError) Unwrap() error {
	return e.Err
}

// Is reports whether target is ErrPublicationFailed
func (e *PublicationError) Is(target error) bool {
	return target == ErrPublicationFailed
}

// Manifest describes the currently published generation.
type Manifest struct {
	Generation    string    `json:"generation"`
	PublishedAt   time.Time `json:"published_at"`
	AsOf          string    `json:"as_of"`
	Rows          int       `json:"rows"`
	Regions       []string  `json:"regions"`
	Trees         int       `json:"trees"`
	RMSE          float64   `json:"rmse"`
	R2            float64   `json:"r2"`
	FormatVersion int       `json:"format_version"`
}

// Publisher writes model and feature table pairs into dir.
type Publisher struct {
	dir  string
	keep int
	log  zerolog.Logger

	now       func() time.Time
	writeFile func(path string, perm os.FileMode, write func(w io.Writer) error) error
}

// NewPublisher creates a publisher rooted at dir that retains the newest keep
// generations (at least 2, so the previous pair survives one more cycle).
func NewPublisher(dir string, keep int, log zerolog.Logger) *Publisher {
	if keep < 2 {
		keep = 2
	}
	return &Publisher{
		dir:       dir,
		keep:      keep,
		log:       log,
		now:       time.Now,
		writeFile: helpers.WriteFileAtomic,
	}
}

// Dir returns the artifact root.
func (p *Publisher) Dir() string {
	return p.dir
}

// Publish makes table and m the current artifacts. On error nothing visible
// to readers has changed.
func (p *Publisher) Publish(table *features.Table, m *model.Model) (*Manifest, error) {
	publishedAt := p.now().UTC()
	generation := publishedAt.Format("20060102T150405.000000000Z") + "-" + uuid.NewString()[:8]

	if table == nil || len(table.Rows) == 0 {
		return nil, &PublicationError{Generation: generation, Err: features.ErrEmptyTable}
	}
	if m == nil {
		return nil, &PublicationError{Generation: generation, Err: model.ErrInvalidModel}
	}
	if err := m.Validate(); err != nil {
		return nil, &PublicationError{Generation: generation, Err: err}
	}

	genDir := filepath.Join(p.dir, GenerationsDir, generation)
	manifest := &Manifest{
		Generation:    generation,
		PublishedAt:   publishedAt,
		AsOf:          table.AsOf.Format(series.DateLayout),
		Rows:          len(table.Rows),
		Regions:       m.Regions,
		Trees:         m.Trees(),
		RMSE:          m.Stats.RMSE,
		R2:            m.Stats.R2,
		FormatVersion: model.FormatVersion,
	}

	if err := p.writeGeneration(genDir, table, m); err != nil {
		if rmErr := os.RemoveAll(genDir); rmErr != nil {
			p.log.Warn().Err(rmErr).Str("generation", generation).Msg("⚠️ Failed to clean up partial generation")
		}
		return nil, &PublicationError{Generation: generation, Err: err}
	}

	err := p.writeFile(filepath.Join(p.dir, ManifestFile), 0o644, func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(manifest)
	})
	if err != nil {
		if rmErr := os.RemoveAll(genDir); rmErr != nil {
			p.log.Warn().Err(rmErr).Str("generation", generation).Msg("⚠️ Failed to clean up partial generation")
		}
		return nil, &PublicationError{Generation: generation, Err: err}
	}

	p.log.Info().
		Str("generation", generation).
		Int("rows", manifest.Rows).
		Int("regions", len(manifest.Regions)).
		Msg("📦 Artifacts published")

	p.prune(generation)
	return manifest, nil
}

func (p *Publisher) writeGeneration(genDir string, table *features.Table, m *model.Model) error {
	if err := os.MkdirAll(genDir, 0o755); err != nil {
		return fmt.Errorf("failed to create generation directory: %w", err)
	}

	err := p.writeFile(filepath.Join(genDir, ModelFile), 0o644, func(w io.Writer) error {
		_, err := w.Write(model.Marshal(m))
		return err
	})
	if err != nil {
		return err
	}

	return p.writeFile(filepath.Join(genDir, FeaturesFile), 0o644, func(w io.Writer) error {
		return features.WriteCSV(w, table)
	})
}

// prune removes all but the newest p.keep generations. current is never
// removed. Failures only cost disk space and are logged.
func (p *Publisher) prune(current string) {
	generations, err := p.Generations()
	if err != nil {
		p.log.Warn().Err(err).Msg("⚠️ Failed to list artifact generations")
		return
	}
	if len(generations) <= p.keep {
		return
	}

	for _, g := range generations[:len(generations)-p.keep] {
		if g == current {
			continue
		}
		if err := os.RemoveAll(filepath.Join(p.dir, GenerationsDir, g)); err != nil {
			p.log.Warn().Err(err).Str("generation", g).Msg("⚠️ Failed to remove old generation")
			continue
		}
		p.log.Debug().Str("generation", g).Msg("Removed old generation")
	}
}

// Generations lists generation names oldest first.
func (p *Publisher) Generations() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(p.dir, GenerationsDir))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}
