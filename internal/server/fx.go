// Package server builds the ImportScout dependency graph and runs the HTTP server.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/importscout/internal/agent"
	"github.com/JakeFAU/importscout/internal/agent/gemini"
	"github.com/JakeFAU/importscout/internal/api"
	"github.com/JakeFAU/importscout/internal/clock/system"
	"github.com/JakeFAU/importscout/internal/collection"
	"github.com/JakeFAU/importscout/internal/config"
	"github.com/JakeFAU/importscout/internal/delivery"
	"github.com/JakeFAU/importscout/internal/hash/sha256"
	"github.com/JakeFAU/importscout/internal/id/uuid"
	"github.com/JakeFAU/importscout/internal/ingest"
	"github.com/JakeFAU/importscout/internal/lead"
	"github.com/JakeFAU/importscout/internal/logging"
	"github.com/JakeFAU/importscout/internal/metrics"
	"github.com/JakeFAU/importscout/internal/progress"
	progresssinks "github.com/JakeFAU/importscout/internal/progress/sinks"
	memorypublisher "github.com/JakeFAU/importscout/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/importscout/internal/publisher/pubsub"
	"github.com/JakeFAU/importscout/internal/settings"
	gcsstorage "github.com/JakeFAU/importscout/internal/storage/gcs"
	localstorage "github.com/JakeFAU/importscout/internal/storage/local"
	memorystorage "github.com/JakeFAU/importscout/internal/storage/memory"
	pgstore "github.com/JakeFAU/importscout/internal/storage/postgres"
	"github.com/JakeFAU/importscout/internal/store"
	"github.com/JakeFAU/importscout/internal/telemetry"
)

const (
	notificationTopic = "ingestion.completed"
	shutdownTimeout   = 10 * time.Second
)

// App contains the application's dependencies.
type App struct {
	cfg         *config.Config
	logger      *zap.Logger
	apiServer   *api.Server
	pipeline    *ingest.Pipeline
	dispatcher  *delivery.Dispatcher
	leads       *collection.Collection
	settings    settings.Store
	runs        store.RunRepository
	progressHub *progress.Hub

	closers        []closer
	tracerShutdown func(context.Context) error
	closeOnce      sync.Once
	closeErr       error
}

type closer struct {
	name string
	fn   func() error
}

// Option customizes Build.
type Option func(*options)

type options struct {
	logger     *zap.Logger
	agent      agent.Agent
	httpClient delivery.Doer
	registerer prometheus.Registerer
}

// WithLogger replaces the logger built from configuration.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithAgent replaces the Gemini agent; the rate limiter still applies.
func WithAgent(a agent.Agent) Option {
	return func(o *options) { o.agent = a }
}

// WithHTTPClient replaces the client used for webhook deliveries.
func WithHTTPClient(client delivery.Doer) Option {
	return func(o *options) { o.httpClient = client }
}

// WithRegisterer replaces the Prometheus registerer used by the progress sink.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// NewApp creates a new App with the given configuration.
func NewApp(cfg *config.Config, logger *zap.Logger) (*App, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Info("creating application",
		zap.Int("server_port", cfg.Server.Port),
		zap.String("storage_backend", cfg.Storage.Backend),
		zap.Bool("database", cfg.Database.DSN != ""),
		zap.Bool("pubsub", cfg.PubSub.TopicName != ""),
		zap.Strings("missions", cfg.MissionNames()),
	)
	return &App{cfg: cfg, logger: logger}, nil
}

// Handler returns the HTTP handler for the API.
func (a *App) Handler() http.Handler { return a.apiServer.Handler() }

// Pipeline returns the ingestion pipeline, or nil when no agent is configured.
func (a *App) Pipeline() *ingest.Pipeline { return a.pipeline }

// Scouter returns the pipeline as an api.Scouter, or nil when scouting is disabled.
func (a *App) Scouter() api.Scouter {
	if a.pipeline == nil {
		return nil
	}
	return a.pipeline
}

// Deliverer returns the dispatcher as an api.Deliverer.
func (a *App) Deliverer() api.Deliverer {
	if a.dispatcher == nil {
		return nil
	}
	return a.dispatcher
}

// Dispatcher returns the webhook dispatcher.
func (a *App) Dispatcher() *delivery.Dispatcher { return a.dispatcher }

// Leads returns the in-process lead collection.
func (a *App) Leads() *collection.Collection { return a.leads }

// Settings returns the webhook settings store.
func (a *App) Settings() settings.Store { return a.settings }

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Run starts the HTTP server and blocks until ctx is canceled, a signal
// arrives, or the server fails. Dependencies are closed before returning.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutdown initiated")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return nil
	})
	runErr := g.Wait()

	closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return errors.Join(runErr, a.Close(closeCtx))
}

// Close flushes progress events and releases infrastructure clients. Only the
// first call does any work.
func (a *App) Close(ctx context.Context) error {
	a.closeOnce.Do(func() { a.closeErr = a.close(ctx) })
	return a.closeErr
}

func (a *App) close(ctx context.Context) error {
	var errs []error
	if a.progressHub != nil {
		if err := a.progressHub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
			errs = append(errs, err)
		}
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.fn(); err != nil {
			a.logger.Warn("close failed", zap.String("component", c.name), zap.Error(err))
			errs = append(errs, fmt.Errorf("close %s: %w", c.name, err))
		}
	}
	if a.tracerShutdown != nil {
		if err := a.tracerShutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
	a.logger.Info("shutdown complete")
	_ = a.logger.Sync()
	return errors.Join(errs...)
}

func (a *App) onClose(name string, fn func() error) {
	a.closers = append(a.closers, closer{name: name, fn: fn})
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger
	if logger == nil {
		var err error
		logger, err = logging.New(cfg.Logging.Development)
		if err != nil {
			return nil, fmt.Errorf("logger init failed: %w", err)
		}
		zap.ReplaceGlobals(logger)
	}

	app, err := NewApp(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("app init failed: %w", err)
	}

	tp, err := telemetry.InitTracerProvider(ctx, telemetry.Config{
		ServiceName: cfg.Telemetry.ServiceName,
		Version:     cfg.Telemetry.Version,
		Exporter:    cfg.Telemetry.Exporter,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return nil, fmt.Errorf("tracer init failed: %w", err)
	}
	app.tracerShutdown = tp.Shutdown
	metrics.Init()

	app.logger.Info("building application dependencies")
	if err := app.build(ctx, o); err != nil {
		if closeErr := app.Close(context.Background()); closeErr != nil {
			app.logger.Warn("cleanup after failed build", zap.Error(closeErr))
		}
		return nil, err
	}
	return app, nil
}

func (a *App) build(ctx context.Context, o options) error {
	blobStore, err := a.setupStorage(ctx)
	if err != nil {
		return err
	}
	if err := a.setupDatabase(ctx); err != nil {
		return err
	}
	publisher, err := a.setupPublisher(ctx)
	if err != nil {
		return err
	}
	events, err := a.setupProgress(ctx, o.registerer)
	if err != nil {
		return err
	}

	a.settings, err = settings.NewMemoryStore(a.cfg.Webhook.URL)
	if err != nil {
		return fmt.Errorf("webhook settings init failed: %w", err)
	}
	a.leads = collection.New()

	ids := uuid.New()
	clock := system.New()
	a.dispatcher = delivery.NewDispatcher(o.httpClient, ids, clock, events, delivery.Config{
		Source:  a.cfg.Webhook.Source,
		Timeout: a.cfg.WebhookTimeout(),
	}, a.logger.Named("delivery"))

	searchAgent, err := a.setupAgent(ctx, o.agent)
	if err != nil {
		return err
	}
	var scouter api.Scouter
	if searchAgent != nil {
		a.pipeline = ingest.NewPipeline(
			searchAgent,
			blobStore,
			sha256.New(),
			publisher,
			events,
			ids,
			clock,
			ingest.Config{
				AgentTimeout:  a.cfg.AgentTimeout(),
				ArchivePrefix: a.cfg.Storage.Prefix,
				Topic:         notificationTopic,
			},
			a.logger.Named("ingest"),
		)
		scouter = a.pipeline
	}

	deps := api.Dependencies{
		Scouter:   scouter,
		Deliverer: a.dispatcher,
		Leads:     a.leads,
		Settings:  a.settings,
		Runs:      a.runs,
	}
	if pinger, ok := a.runs.(interface{ Ping(context.Context) error }); ok {
		deps.Ready = pinger.Ping
	}
	a.apiServer = api.NewServer(deps, *a.cfg, a.logger.Named("api"))
	return nil
}

func (a *App) setupStorage(ctx context.Context) (lead.BlobStore, error) {
	switch a.cfg.Storage.Backend {
	case config.StorageGCS:
		a.logger.Info("using GCS storage backend", zap.String("bucket", a.cfg.Storage.Bucket))
		blobStore, err := gcsstorage.Open(ctx, gcsstorage.Config{Bucket: a.cfg.Storage.Bucket}, a.logger.Named("gcs"))
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		a.onClose("gcs", blobStore.Close)
		return blobStore, nil
	case config.StorageLocal:
		a.logger.Info("using local storage backend", zap.String("path", a.cfg.Storage.Local.BaseDir))
		blobStore, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Storage.Local.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		return blobStore, nil
	default:
		a.logger.Info("using in-memory storage backend")
		return memorystorage.NewBlobStore(), nil
	}
}

func (a *App) setupDatabase(ctx context.Context) error {
	if a.cfg.Database.DSN == "" {
		a.logger.Warn("no database DSN configured, keeping run history in memory")
		a.runs = memorystorage.NewRunStore()
		return nil
	}
	runStore, err := pgstore.NewRunStore(ctx, pgstore.Config{
		DSN:             a.cfg.Database.DSN,
		RunsTable:       a.cfg.Database.RunsTable,
		DeliveriesTable: a.cfg.Database.DeliveriesTable,
		MaxConns:        a.cfg.Database.MaxConns,
		MinConns:        a.cfg.Database.MinConns,
		MaxConnLifetime: a.cfg.Database.MaxConnLifetime,
	})
	if err != nil {
		return fmt.Errorf("run store init failed: %w", err)
	}
	a.onClose("postgres", func() error {
		runStore.Close()
		return nil
	})
	if err := runStore.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("run store schema failed: %w", err)
	}
	a.logger.Info("run store initialized",
		zap.String("runs_table", a.cfg.Database.RunsTable),
		zap.String("deliveries_table", a.cfg.Database.DeliveriesTable),
	)
	a.runs = runStore
	return nil
}

func (a *App) setupPublisher(ctx context.Context) (lead.Publisher, error) {
	if a.cfg.PubSub.TopicName == "" || a.cfg.PubSub.ProjectID == "" {
		a.logger.Warn("no Pub/Sub topic configured, using in-memory publisher")
		return memorypublisher.New(), nil
	}
	publisher, err := gcppublisher.Open(ctx, a.cfg.PubSub.ProjectID, a.cfg.PubSub.TopicName, a.logger.Named("pubsub"))
	if err != nil {
		return nil, fmt.Errorf("pubsub publisher init failed: %w", err)
	}
	a.onClose("pubsub", publisher.Close)
	return publisher, nil
}

func (a *App) setupProgress(ctx context.Context, reg prometheus.Registerer) (progress.Emitter, error) {
	if !a.cfg.Progress.Enabled {
		a.logger.Info("progress tracking disabled")
		return nil, nil
	}
	sinkList := []progress.Sink{
		progresssinks.NewStoreSink(a.runs, a.logger.Named("progress_store")),
	}
	promSink, err := progresssinks.NewPrometheusSink(reg)
	if err != nil {
		return nil, fmt.Errorf("progress prometheus sink init failed: %w", err)
	}
	sinkList = append(sinkList, promSink)
	if a.cfg.Progress.LogEnabled {
		sinkList = append(sinkList, progresssinks.NewLogSink(a.logger.Named("progress_log")))
	}
	hubCfg := progress.Config{
		BufferSize:     a.cfg.Progress.BufferSize,
		MaxBatchEvents: a.cfg.Progress.Batch.MaxEvents,
		MaxBatchWait:   time.Duration(a.cfg.Progress.Batch.MaxWaitMs) * time.Millisecond,
		SinkTimeout:    time.Duration(a.cfg.Progress.SinkTimeoutMs) * time.Millisecond,
		BaseContext:    context.WithoutCancel(ctx),
		Logger:         a.logger.Named("progress_hub"),
	}
	a.progressHub = progress.NewHub(hubCfg, sinkList...)
	a.logger.Info("progress hub initialized",
		zap.Int("sinks", len(sinkList)),
		zap.Int("buffer_size", hubCfg.BufferSize),
		zap.Int("max_batch_events", hubCfg.MaxBatchEvents),
		zap.Duration("max_batch_wait", hubCfg.MaxBatchWait),
		zap.Duration("sink_timeout", hubCfg.SinkTimeout),
	)
	return a.progressHub, nil
}

func (a *App) setupAgent(ctx context.Context, override agent.Agent) (agent.Agent, error) {
	next := override
	if next == nil {
		if a.cfg.Agent.APIKey == "" {
			a.logger.Warn("no agent API key configured, scouting disabled")
			return nil, nil
		}
		client, err := gemini.New(ctx, gemini.Config{
			APIKey:      a.cfg.Agent.APIKey,
			Model:       a.cfg.Agent.Model,
			Temperature: a.cfg.Agent.Temperature,
			SearchTool:  a.cfg.Agent.SearchTool,
			MapsTool:    a.cfg.Agent.MapsTool,
		}, a.logger.Named("gemini"))
		if err != nil {
			return nil, fmt.Errorf("gemini client init failed: %w", err)
		}
		next = client
		a.logger.Info("gemini agent initialized", zap.String("model", a.cfg.Agent.Model))
	}
	return agent.NewRateLimited(next, agent.RateLimitConfig{
		PerMinute: a.cfg.Agent.RatePerMinute,
		Burst:     a.cfg.Agent.Burst,
	}), nil
}
