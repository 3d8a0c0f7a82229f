package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"agripredict/acquire"
	"agripredict/api"
	"agripredict/artifacts"
	"agripredict/cache"
	"agripredict/config"
	"agripredict/database"
	"agripredict/logger"
	"agripredict/model"
	"agripredict/notifications"
	"agripredict/realtime"
)

// notifyTimeout bounds one publish notification fan-out.
const notifyTimeout = 30 * time.Second

// shutdownTimeout bounds graceful shutdown.
const shutdownTimeout = 10 * time.Second

// App represents the main application
type App struct {
	config *config.Config
	log    zerolog.Logger

	db        *database.Database
	runRepo   *database.RunRepository
	redis     *cache.RedisClient
	kafka     *notifications.KafkaNotifier
	status    *cache.StatusCache
	broker    *realtime.Broker
	retrainer *Retrainer
	scheduler *Scheduler
	apiServer *api.Server
}

// New creates a new application instance
func New(cfg *config.Config) *App {
	return &App{
		config: cfg,
		log:    logger.With("app"),
	}
}

// Start runs the service until SIGINT or SIGTERM
func (a *App) Start() error {
	// Setup context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := a.setup(ctx); err != nil {
		a.close()
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.broker.Run(gctx)
		return nil
	})

	g.Go(func() error {
		a.scheduler.Start(gctx)
		return nil
	})

	if a.config.API.Enabled {
		g.Go(func() error {
			return a.apiServer.Start(a.config.API.Port)
		})
	}

	return a.gracefulShutdown(gctx, cancel, g)
}

// RunOnce runs exactly one cycle with the full stack and returns its outcome
func (a *App) RunOnce(ctx context.Context) (*CycleReport, error) {
	if err := a.setup(ctx); err != nil {
		a.close()
		return nil, err
	}
	defer a.close()

	return a.retrainer.RunCycle(ctx)
}

// setup connects optional backends and builds the cycle pipeline
func (a *App) setup(ctx context.Context) error {
	cfg := a.config
	if err := cfg.Validate(); err != nil {
		return err
	}
	weekly, err := cfg.WeeklySchedule()
	if err != nil {
		return err
	}

	// 1. Database (run history)
	if cfg.Database.Enabled {
		a.log.Info().Str("host", cfg.Database.Host).Msg("🗄️  Connecting to database...")
		db, err := database.Connect(ctx, database.Config{
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			DBName:   cfg.Database.Name,
			SSLMode:  cfg.Database.SSLMode,
		})
		if err != nil {
			return fmt.Errorf("database connection failed: %w", err)
		}
		a.db = db

		a.runRepo = database.NewRunRepository(db)
		if err := a.runRepo.InitSchema(); err != nil {
			return fmt.Errorf("schema initialization failed: %w", err)
		}
	} else {
		a.log.Info().Msg("ℹ️  Run history DISABLED (DB_ENABLED=false)")
	}

	// 2. Redis (status cache and pub/sub)
	var store cache.Store = cache.NewMemoryStore()
	if cfg.Redis.Enabled {
		a.log.Info().Str("addr", cfg.Redis.RedisAddr()).Msg("🧠 Connecting to Redis...")
		client, err := cache.NewRedisClient(ctx, cfg.Redis.RedisAddr(), cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			a.log.Warn().Err(err).Msg("⚠️  Redis connection failed. Using in-memory status cache.")
		} else {
			a.redis = client
			store = client
		}
	}
	a.status = cache.NewStatusCache(store, cfg.Redis.StatusTTL)

	// 3. Realtime broker and publish notifications
	a.broker = realtime.NewBroker()

	dispatcher := notifications.NewDispatcher(logger.With("notifications"), notifyTimeout,
		notifications.NewBroadcastNotifier(a.broker))
	if a.redis != nil {
		dispatcher.Add(notifications.NewRedisNotifier(a.redis, cfg.Redis.Channel))
	}
	if cfg.Kafka.Enabled {
		a.kafka = notifications.NewKafkaNotifier(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		dispatcher.Add(a.kafka)
	}
	if len(cfg.Webhooks.URLs) > 0 {
		targets := make([]notifications.WebhookTarget, 0, len(cfg.Webhooks.URLs))
		for _, url := range cfg.Webhooks.URLs {
			targets = append(targets, notifications.WebhookTarget{
				URL:        url,
				AuthHeader: cfg.Webhooks.AuthHeader,
				AuthValue:  cfg.Webhooks.AuthValue,
			})
		}
		var deliveries notifications.DeliveryLogger
		if a.runRepo != nil {
			deliveries = a.runRepo
		}
		dispatcher.Add(notifications.NewWebhookNotifier(targets, cfg.Webhooks.Retries,
			cfg.Webhooks.RetryDelay, cfg.Webhooks.Timeout, deliveries, logger.With("webhook")))
	}
	a.log.Info().Strs("channels", dispatcher.Channels()).Msg("📣 Publish notifications configured")

	// 4. Cycle pipeline
	source := acquire.NewHTTPSource(cfg.Source.URL, cfg.Source.Timeout, cfg.Source.RetryAttempts, cfg.Source.RetryDelay)
	acquirer := acquire.NewAcquirer(source, acquire.NewBackup(cfg.Source.BackupPath), logger.With("acquire"))
	trainer := model.NewTrainer(cfg.Training, logger.With("trainer"))
	publisher := artifacts.NewPublisher(cfg.Artifacts.Dir, cfg.Artifacts.Generations, logger.With("artifacts"))

	opts := []RetrainerOption{
		WithStatusStore(a.status),
		WithNotifier(dispatcher),
		WithBroadcaster(a.broker),
	}
	if a.runRepo != nil {
		opts = append(opts, WithRunRecorder(a.runRepo))
	}
	a.retrainer = NewRetrainer(acquirer, trainer, publisher, logger.With("retrainer"), opts...)
	a.scheduler = NewScheduler(a.retrainer, weekly, logger.With("scheduler"))

	// 5. API
	apiOpts := api.Options{
		ArtifactsDir:   cfg.Artifacts.Dir,
		Status:         a.status,
		Broker:         a.broker,
		AllowedOrigins: cfg.API.AllowedOrigins,
		NextRun:        a.scheduler.NextRun,
		Log:            logger.With("api"),
	}
	checks := map[string]api.HealthCheck{}
	if a.db != nil {
		checks["postgres"] = a.db.Ping
	}
	if a.redis != nil {
		checks["redis"] = a.redis.Ping
	}
	apiOpts.Checks = checks
	if a.runRepo != nil {
		apiOpts.Runs = a.runRepo
	}
	a.apiServer = api.NewServer(apiOpts)

	a.log.Info().
		Int("window_months", cfg.Features.WindowMonths).
		Int("lag_depth", cfg.Features.LagDepth).
		Int("trees", cfg.Training.Trees).
		Str("artifacts", cfg.Artifacts.Dir).
		Str("schedule", weekly.String()).
		Msg("✅ Retraining pipeline ready")
	return nil
}

// gracefulShutdown waits for a signal (or a failed component), then stops
// everything within shutdownTimeout
func (a *App) gracefulShutdown(ctx context.Context, cancel context.CancelFunc, g *errgroup.Group) error {
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(interrupt)

	select {
	case <-interrupt:
		a.log.Info().Msg("🛑 Shutdown signal received, initiating graceful shutdown...")
	case <-ctx.Done():
		a.log.Warn().Msg("🛑 Component stopped unexpectedly, shutting down...")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	a.log.Info().Msg("📅 Stopping retraining scheduler...")
	a.scheduler.Stop()
	cancel()

	if err := a.apiServer.Shutdown(shutdownCtx); err != nil {
		a.log.Warn().Err(err).Msg("Error stopping API server")
	}

	runErr := make(chan error, 1)
	go func() {
		runErr <- g.Wait()
	}()

	var err error
	select {
	case err = <-runErr:
	case <-shutdownCtx.Done():
		a.log.Warn().Msg("⚠️  Shutdown timeout exceeded, forcing exit")
		err = errors.New("shutdown timeout")
	}

	a.close()
	if err == nil {
		a.log.Info().Msg("✅ Graceful shutdown completed")
	}
	return err
}

// close releases backend connections
func (a *App) close() {
	if a.kafka != nil {
		if err := a.kafka.Close(); err != nil {
			a.log.Warn().Err(err).Msg("Error closing Kafka producer")
		}
	}

	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.Warn().Err(err).Msg("Error closing database")
		} else {
			a.log.Info().Msg("✅ Database connection closed")
		}
	}

	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.Warn().Err(err).Msg("Error closing redis")
		} else {
			a.log.Info().Msg("✅ Redis connection closed")
		}
	}
}
