// Package acquire implements the Data Acquirer: fetch the remote series, keep
// a known-good local backup of it, and fall back to that backup when the
// remote source is unavailable or returns garbage.
package acquire

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"

	"agripredict/helpers"
	"agripredict/metrics"
	"agripredict/series"
)

// Where the returned series came from.
const (
	FromRemote = "remote"
	FromBackup = "backup"
)

// ErrTotalFailure matches any TotalFailureError.
var ErrTotalFailure = errors.New("remote fetch and backup read both failed")

// TotalFailureError reports that neither the remote source nor the backup
// produced a series. It is terminal for the current cycle.
type TotalFailureError struct {
	FetchErr  error
	BackupErr error
}

// Error implements the error interface
func (e *TotalFailureError) Error() string {
	return fmt.Sprintf("%v (fetch: %v; backup: %v)", ErrTotalFailure, e.FetchErr, e.BackupErr)
}

// Is reports whether target is ErrTotalFailure
func (e *TotalFailureError) Is(target error) bool {
	return target == ErrTotalFailure
}

// Unwrap returns both underlying errors
func (e *TotalFailureError) Unwrap() []error {
	return []error{e.FetchErr, e.BackupErr}
}

// Backup is the durable local copy of the last successfully fetched series.
type Backup struct {
	path string
}

// NewBackup creates a backup stored at path
func NewBackup(path string) *Backup {
	return &Backup{path: path}
}

// Path returns the backup file location.
func (b *Backup) Path() string {
	return b.path
}

// Load reads the backup. A missing file is reported with os.ErrNotExist.
func (b *Backup) Load() (series.Series, error) {
	f, err := os.Open(b.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open backup: %w", err)
	}
	defer f.Close()

	data, err := series.Parse(f)
	if err != nil {
		return nil, fmt.Errorf("failed to parse backup %s: %w", b.path, err)
	}
	return data, nil
}

// Save replaces the backup contents atomically.
func (b *Backup) Save(data series.Series) error {
	return helpers.WriteFileAtomic(b.path, 0o644, func(w io.Writer) error {
		return series.Encode(w, data)
	})
}

// Result is an acquired series plus how it was obtained.
type Result struct {
	Series   series.Series
	Source   string
	FetchErr error // set when Source is FromBackup
}

// Acquirer is the Data Acquirer.
type Acquirer struct {
	source Source
	backup *Backup
	log    zerolog.Logger
}

// NewAcquirer creates an acquirer over source with backup as its fallback.
func NewAcquirer(source Source, backup *Backup, log zerolog.Logger) *Acquirer {
	return &Acquirer{
		source: source,
		backup: backup,
		log:    log,
	}
}

// Acquire returns the freshest series available. On a successful fetch the
// backup is replaced before returning; on failure the backup is read and left
// untouched. Cancellation of ctx aborts without touching the backup.
func (a *Acquirer) Acquire(ctx context.Context) (*Result, error) {
	a.log.Info().Msg("📥 Downloading price series...")

	data, fetchErr := a.source.Fetch(ctx)
	if fetchErr == nil {
		metrics.AcquisitionsTotal.WithLabelValues(FromRemote, "ok").Inc()
		first, last := data.Span()
		a.log.Info().
			Int("observations", len(data)).
			Int("regions", len(data.Regions())).
			Time("first", first).
			Time("last", last).
			Msg("✅ Fresh series retrieved")

		if err := a.backup.Save(data); err != nil {
			// The fetched series is still good for this cycle
			a.log.Warn().Err(err).Str("path", a.backup.Path()).Msg("⚠️  Failed to refresh backup")
		} else {
			a.log.Debug().Str("path", a.backup.Path()).Msg("💾 Backup refreshed")
		}
		return &Result{Series: data, Source: FromRemote}, nil
	}

	metrics.AcquisitionsTotal.WithLabelValues(FromRemote, "error").Inc()
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	a.log.Warn().Err(fetchErr).Str("backup", a.backup.Path()).Msg("⚠️  Source unreachable, using local backup")

	data, backupErr := a.backup.Load()
	if backupErr != nil {
		metrics.AcquisitionsTotal.WithLabelValues(FromBackup, "error").Inc()
		return nil, &TotalFailureError{FetchErr: fetchErr, BackupErr: backupErr}
	}

	metrics.AcquisitionsTotal.WithLabelValues(FromBackup, "ok").Inc()
	a.log.Info().Int("observations", len(data)).Msg("📦 Backup series loaded")
	return &Result{Series: data, Source: FromBackup, FetchErr: fetchErr}, nil
}
