package app

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"agripredict/acquire"
	"agripredict/artifacts"
	"agripredict/cache"
	"agripredict/database"
	"agripredict/features"
	"agripredict/logger"
	"agripredict/metrics"
	"agripredict/model"
	"agripredict/notifications"
	"agripredict/realtime"
	"agripredict/series"
)

// RunRecorder persists cycle history.
type RunRecorder interface {
	SaveRun(ctx context.Context, run *database.TrainingRun) error
}

// StatusStore keeps the latest cycle status.
type StatusStore interface {
	Save(ctx context.Context, status *cache.CycleStatus) error
}

// EventDispatcher announces publications.
type EventDispatcher interface {
	Dispatch(ctx context.Context, event *notifications.PublishEvent) int
}

// Broadcaster pushes lifecycle events to live clients.
type Broadcaster interface {
	Broadcast(event string, payload interface{})
}

// CycleReport describes one finished cycle.
type CycleReport struct {
	ID           string
	StartedAt    time.Time
	FinishedAt   time.Time
	AsOf         time.Time
	Source       string
	Observations int
	FeatureRows  int
	Regions      []string
	Stats        model.FitStats
	Manifest     *artifacts.Manifest
	Forecasts    []artifacts.Forecast
	Err          error
}

// Retrainer runs Acquire → Build → Train → Publish. Cycles never overlap.
type Retrainer struct {
	acquirer  *acquire.Acquirer
	trainer   *model.Trainer
	publisher *artifacts.Publisher

	runs     RunRecorder
	status   StatusStore
	notifier EventDispatcher
	events   Broadcaster

	log zerolog.Logger
	now func() time.Time
	mu  sync.Mutex
}

// RetrainerOption configures optional collaborators.
type RetrainerOption func(*Retrainer)

// WithRunRecorder records every cycle
func WithRunRecorder(r RunRecorder) RetrainerOption {
	return func(rt *Retrainer) { rt.runs = r }
}

// WithStatusStore caches the latest status
func WithStatusStore(s StatusStore) RetrainerOption {
	return func(rt *Retrainer) { rt.status = s }
}

// WithNotifier dispatches publish events
func WithNotifier(n EventDispatcher) RetrainerOption {
	return func(rt *Retrainer) { rt.notifier = n }
}

// WithBroadcaster streams lifecycle events
func WithBroadcaster(b Broadcaster) RetrainerOption {
	return func(rt *Retrainer) { rt.events = b }
}

// WithClock overrides the clock used for asOf and timestamps
func WithClock(now func() time.Time) RetrainerOption {
	return func(rt *Retrainer) { rt.now = now }
}

// NewRetrainer creates a retrainer
func NewRetrainer(acquirer *acquire.Acquirer, trainer *model.Trainer, publisher *artifacts.Publisher, log zerolog.Logger, opts ...RetrainerOption) *Retrainer {
	r := &Retrainer{
		acquirer:  acquirer,
		trainer:   trainer,
		publisher: publisher,
		log:       log,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RunCycle executes one full cycle. The returned error is a *CycleError;
// the report is always non-nil.
func (r *Retrainer) RunCycle(ctx context.Context) (*CycleReport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	report := &CycleReport{
		ID:        uuid.NewString(),
		StartedAt: r.now().UTC(),
	}
	report.AsOf = series.Day(report.StartedAt)

	log := r.log.With().Str("cycle", report.ID).Logger()
	log.Info().Str("as_of", report.AsOf.Format(series.DateLayout)).Msg("🚀 Retraining cycle started")
	r.broadcast(realtime.EventCycleStarted, map[string]interface{}{
		"cycle_id":   report.ID,
		"started_at": report.StartedAt,
	})

	report.Err = r.run(ctx, report, log)
	report.FinishedAt = r.now().UTC()

	r.finish(ctx, report, log)
	return report, report.Err
}

func (r *Retrainer) run(ctx context.Context, report *CycleReport, log zerolog.Logger) error {
	acquired, err := r.acquirer.Acquire(ctx)
	if err != nil {
		return &CycleError{Stage: StageAcquisition, Err: err}
	}
	report.Source = acquired.Source
	report.Observations = len(acquired.Series)

	table, err := features.Build(acquired.Series, report.AsOf)
	if err != nil {
		return &CycleError{Stage: StageFeatures, Err: err}
	}
	report.FeatureRows = len(table.Rows)
	report.Regions = table.Regions()
	metrics.FeatureRows.Set(float64(len(table.Rows)))
	log.Info().Int("rows", len(table.Rows)).Int("regions", len(report.Regions)).Msg("🧮 Feature table built")

	m, err := r.trainer.Train(ctx, table)
	if err != nil {
		return &CycleError{Stage: StageTraining, Err: err}
	}
	report.Stats = m.Stats
	metrics.TrainingRMSE.Set(m.Stats.RMSE)

	manifest, err := r.publisher.Publish(table, m)
	if err != nil {
		return &CycleError{Stage: StagePublication, Err: err}
	}
	report.Manifest = manifest
	metrics.LastPublished.Set(float64(manifest.PublishedAt.Unix()))

	snap := &artifacts.Snapshot{Manifest: *manifest, Model: m, Table: table}
	for _, region := range report.Regions {
		f, err := snap.PredictLatest(region)
		if err != nil {
			log.Warn().Err(err).Str("region", region).Msg("⚠️ Could not forecast region")
			continue
		}
		report.Forecasts = append(report.Forecasts, *f)
	}
	return nil
}

// finish logs, records and announces the outcome. Nothing here can fail the
// cycle.
func (r *Retrainer) finish(ctx context.Context, report *CycleReport, log zerolog.Logger) {
	duration := report.FinishedAt.Sub(report.StartedAt)
	metrics.CycleDuration.Observe(duration.Seconds())

	outcome := database.OutcomeSuccess
	if report.Err != nil {
		outcome = database.OutcomeFailed
	}
	metrics.CyclesTotal.WithLabelValues(outcome).Inc()

	switch {
	case report.Err == nil:
		log.Info().
			Str("generation", report.Manifest.Generation).
			Str("source", report.Source).
			Dur("took", duration).
			Msg("✅ Retraining cycle completed")
	case errors.Is(report.Err, context.Canceled):
		log.Warn().Str("stage", StageOf(report.Err)).Msg("🛑 Retraining cycle cancelled")
	case errors.Is(report.Err, ErrTotalAcquisition), errors.Is(report.Err, ErrEmptyFeatureTable):
		logger.Alert().Err(report.Err).Str("cycle", report.ID).Str("stage", StageOf(report.Err)).
			Msg("🚨 Retraining cycle aborted, previous artifacts stay current")
	default:
		log.Error().Err(report.Err).Str("stage", StageOf(report.Err)).
			Msg("❌ Retraining cycle failed, previous artifacts stay current")
	}

	// Bookkeeping must still happen when the cycle was cancelled
	bgCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	if r.runs != nil {
		if err := r.runs.SaveRun(bgCtx, report.run()); err != nil {
			log.Warn().Err(err).Msg("⚠️ Failed to record training run")
		}
	}
	if r.status != nil {
		if err := r.status.Save(bgCtx, report.status()); err != nil {
			log.Warn().Err(err).Msg("⚠️ Failed to cache cycle status")
		}
	}

	if report.Err != nil {
		r.broadcast(realtime.EventCycleFailed, map[string]interface{}{
			"cycle_id": report.ID,
			"stage":    StageOf(report.Err),
			"error":    report.Err.Error(),
		})
		return
	}

	if r.notifier != nil {
		failed := r.notifier.Dispatch(bgCtx, report.event())
		if failed > 0 {
			log.Warn().Int("failed_channels", failed).Msg("⚠️ Some publish notifications failed")
		}
	}
}

func (r *Retrainer) broadcast(event string, payload interface{}) {
	if r.events != nil {
		r.events.Broadcast(event, payload)
	}
}

func (rep *CycleReport) run() *database.TrainingRun {
	run := &database.TrainingRun{
		ID:           rep.ID,
		StartedAt:    rep.StartedAt,
		FinishedAt:   rep.FinishedAt,
		Outcome:      database.OutcomeSuccess,
		DataSource:   rep.Source,
		AsOf:         rep.AsOf,
		Observations: rep.Observations,
		FeatureRows:  rep.FeatureRows,
		Regions:      len(rep.Regions),
		RMSE:         rep.Stats.RMSE,
		R2:           rep.Stats.R2,
	}
	if rep.Manifest != nil {
		run.Generation = rep.Manifest.Generation
	}
	if rep.Err != nil {
		run.Outcome = database.OutcomeFailed
		run.FailedStage = StageOf(rep.Err)
		run.ErrorMessage = rep.Err.Error()
	}
	return run
}

func (rep *CycleReport) status() *cache.CycleStatus {
	run := rep.run()
	s := &cache.CycleStatus{
		CycleID:     rep.ID,
		Outcome:     run.Outcome,
		FailedStage: run.FailedStage,
		Error:       run.ErrorMessage,
		DataSource:  rep.Source,
		StartedAt:   rep.StartedAt,
		FinishedAt:  rep.FinishedAt,
		AsOf:        rep.AsOf.Format(series.DateLayout),
		FeatureRows: rep.FeatureRows,
		Regions:     rep.Regions,
		RMSE:        rep.Stats.RMSE,
		R2:          rep.Stats.R2,
		Generation:  run.Generation,
	}
	return s
}

func (rep *CycleReport) event() *notifications.PublishEvent {
	return &notifications.PublishEvent{
		CycleID:     rep.ID,
		Generation:  rep.Manifest.Generation,
		PublishedAt: rep.Manifest.PublishedAt,
		AsOf:        rep.Manifest.AsOf,
		DataSource:  rep.Source,
		Rows:        rep.Manifest.Rows,
		RMSE:        rep.Stats.RMSE,
		R2:          rep.Stats.R2,
		Forecasts:   rep.Forecasts,
	}
}
