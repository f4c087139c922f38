// Package server provides the core application container and dependency wiring.
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

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/JakeFAU/creator-suite/internal/api"
	"github.com/JakeFAU/creator-suite/internal/clock/system"
	"github.com/JakeFAU/creator-suite/internal/config"
	"github.com/JakeFAU/creator-suite/internal/events"
	"github.com/JakeFAU/creator-suite/internal/events/sinks"
	"github.com/JakeFAU/creator-suite/internal/gateway"
	"github.com/JakeFAU/creator-suite/internal/id/uuid"
	"github.com/JakeFAU/creator-suite/internal/jobs"
	"github.com/JakeFAU/creator-suite/internal/logging"
	"github.com/JakeFAU/creator-suite/internal/metrics"
	"github.com/JakeFAU/creator-suite/internal/poller"
	"github.com/JakeFAU/creator-suite/internal/session"
	persist "github.com/JakeFAU/creator-suite/internal/storage"
	gcspersister "github.com/JakeFAU/creator-suite/internal/storage/gcs"
	localpersister "github.com/JakeFAU/creator-suite/internal/storage/local"
	memorypersister "github.com/JakeFAU/creator-suite/internal/storage/memory"
	pgstore "github.com/JakeFAU/creator-suite/internal/storage/postgres"
	sqlitepersister "github.com/JakeFAU/creator-suite/internal/storage/sqlite"
	"github.com/JakeFAU/creator-suite/internal/suite"
	"github.com/JakeFAU/creator-suite/internal/tracker"
)

// App contains the application's dependencies.
type App struct {
	cfg     *config.Config
	logger  *zap.Logger
	session *session.Provider
	gateway *gateway.Client
	store   *jobs.Store
	hub     *events.Hub
	recent  *sinks.RecentSink
	manager *poller.Manager
	tracker *tracker.Service

	persister       suite.Persister
	gcsClient       *storage.Client
	sqlite          *sqlitepersister.Persister
	jobHistory      *pgstore.JobStore
	pubsubClient    *pubsub.Client
	pubsubPublisher *pubsub.Publisher

	syncCancel context.CancelFunc
	syncDone   chan struct{}
	closeOnce  sync.Once
}

// NewApp creates a new App with the given configuration.
func NewApp(cfg *config.Config, logger *zap.Logger) (*App, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	type SanitizedConfig struct {
		ServerPort     int    `json:"server_port"`
		GatewayBaseURL string `json:"gateway_base_url"`
		Storage        string `json:"storage"`
		Remote         string `json:"remote"`
	}
	logger.Info("Creating application", zap.Any("config", SanitizedConfig{
		ServerPort:     cfg.Server.Port,
		GatewayBaseURL: cfg.Gateway.BaseURL,
		Storage:        cfg.Storage.Backend,
		Remote:         cfg.Remote.Backend,
	}))
	return &App{cfg: cfg, logger: logger}, nil
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Tracker returns the submission service.
func (a *App) Tracker() *tracker.Service { return a.tracker }

// Jobs returns the tracked job collection.
func (a *App) Jobs() *jobs.Store { return a.store }

// Gateway returns the backend client.
func (a *App) Gateway() *gateway.Client { return a.gateway }

// Session returns the session provider.
func (a *App) Session() *session.Provider { return a.session }

// Pollers returns the poll loop manager.
func (a *App) Pollers() *poller.Manager { return a.manager }

// Handler builds the local HTTP API.
func (a *App) Handler() http.Handler {
	services := api.NewServiceHandler(a.gateway, a.session, a.recent, a.logger.Named("api"))
	return api.NewServer(a.tracker, a.store, services, api.Options{
		Auth:   a.cfg.Auth,
		Ready:  a.ready,
		Logger: a.logger.Named("api"),
	}).Handler()
}

// ready reports whether the persisted collection is reachable.
func (a *App) ready(ctx context.Context) error {
	if a.persister == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if _, err := a.persister.Get(ctx, a.cfg.Jobs.StorageKey); err != nil && !errors.Is(err, suite.ErrNotFound) {
		return fmt.Errorf("job storage unavailable: %w", err)
	}
	return nil
}

// Run starts the pollers and HTTP server and blocks until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("application started")
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pollersDone := make(chan struct{})
	go func() {
		defer close(pollersDone)
		a.logger.Info("poll manager started")
		if err := a.manager.Run(ctx); err != nil {
			a.logger.Error("poll manager stopped", zap.Error(err))
		}
	}()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	<-pollersDone

	return a.Close(shutdownCtx)
}

// Close stops pollers, drains remote saves and notifications, and releases
// clients. Calls after the first are no-ops.
func (a *App) Close(ctx context.Context) error {
	a.closeOnce.Do(func() { a.close(ctx) })
	return nil
}

func (a *App) close(ctx context.Context) {
	if a.syncCancel != nil {
		a.syncCancel()
		<-a.syncDone
	}
	if a.manager != nil {
		a.manager.StopAll()
	}
	if a.store != nil {
		if err := a.store.Wait(ctx); err != nil {
			a.logger.Warn("remote saves did not drain", zap.Error(err))
		}
	}
	a.closeInfrastructure(ctx)
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
	a.logger.Info("shutdown complete")
}

func (a *App) closeInfrastructure(ctx context.Context) {
	if a.hub != nil {
		if err := a.hub.Close(ctx); err != nil {
			a.logger.Warn("event hub close failed", zap.Error(err))
		}
	}
	if a.pubsubPublisher != nil {
		a.pubsubPublisher.Stop()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.sqlite != nil {
		if err := a.sqlite.Close(); err != nil {
			a.logger.Warn("sqlite close failed", zap.Error(err))
		}
	}
	if a.jobHistory != nil {
		a.jobHistory.Close()
	}
}

// Build creates the application's dependencies and restores persisted jobs.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)

	app, err := NewApp(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("app init failed: %w", err)
	}
	metrics.Init()
	otel.SetTextMapPropagator(
		propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}),
	)

	app.logger.Info("building application dependencies")
	if err := app.build(ctx); err != nil {
		_ = app.Close(context.Background())
		return nil, err
	}
	return app, nil
}

func (a *App) build(ctx context.Context) error {
	if err := setupSession(a); err != nil {
		return err
	}
	if err := setupGateway(a); err != nil {
		return err
	}
	if err := setupStorage(ctx, a); err != nil {
		return err
	}
	remote, err := setupRemote(ctx, a)
	if err != nil {
		return err
	}
	if err := setupEvents(ctx, a); err != nil {
		return err
	}

	a.store = jobs.New(jobs.Config{
		MaxJobs:       a.cfg.Jobs.MaxJobs,
		ReducedSize:   a.cfg.Jobs.ReducedSize,
		StorageKey:    a.cfg.Jobs.StorageKey,
		RemoteTimeout: a.cfg.Jobs.RemoteTimeout,
		Logger:        a.logger.Named("jobs"),
	}, a.persister, remote)
	if err := a.store.Load(ctx); err != nil {
		a.logger.Warn("persisted jobs could not be restored", zap.Error(err))
	}
	a.logger.Info("job store ready", zap.Int("jobs", a.store.Len()))

	p := poller.New(poller.Config{
		Interval:             a.cfg.Poll.Interval,
		DirectorInterval:     a.cfg.Poll.DirectorInterval,
		RequestTimeout:       a.cfg.Poll.RequestTimeout,
		MaxTransportFailures: a.cfg.Poll.MaxTransportFailures,
		Logger:               a.logger.Named("poller"),
	}, a.gateway, a.store, a.hub)
	a.manager = poller.NewManager(p, a.store)

	a.tracker, err = tracker.New(tracker.Config{
		Clock:  system.New(),
		IDs:    uuid.NewUUIDGenerator(),
		Logger: a.logger,
	}, a.gateway, a.store, a.manager, a.hub)
	if err != nil {
		return fmt.Errorf("tracker init failed: %w", err)
	}
	a.startRemoteSync(ctx)
	return nil
}

// startRemoteSync replaces the restored collection with the signed-in user's
// remote history without holding up startup. Close cancels it.
func (a *App) startRemoteSync(ctx context.Context) {
	user, ok := a.session.CurrentUser()
	if !ok {
		return
	}
	syncCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	a.syncCancel = cancel
	a.syncDone = make(chan struct{})
	logger := a.logger.With(zap.String("user_id", user.ID))
	go func() {
		defer close(a.syncDone)
		defer cancel()
		if err := a.store.SyncRemote(syncCtx); err != nil {
			logger.Warn("remote job history sync failed", zap.Error(err))
			return
		}
		logger.Info("remote job history synced", zap.Int("jobs", a.store.Len()))
	}()
}

func setupSession(app *App) error {
	app.session = session.New()
	sc := app.cfg.Session
	if sc.UserID == "" {
		app.logger.Info("no session configured, running signed out")
		return nil
	}
	source := session.SourceFor(sc.Token, sc.TokenFile, sc.TokenEnv)
	if err := app.session.SignIn(suite.User{ID: sc.UserID, Email: sc.Email}, source); err != nil {
		return fmt.Errorf("session sign-in failed: %w", err)
	}
	app.logger.Info("session signed in", zap.String("user_id", sc.UserID))
	return nil
}

func setupGateway(app *App) error {
	urls, err := app.cfg.ServiceURLs()
	if err != nil {
		return err
	}
	app.gateway, err = gateway.New(gateway.Config{
		BaseURL:        app.cfg.Gateway.BaseURL,
		ServiceURLs:    urls,
		Timeout:        app.cfg.Gateway.Timeout,
		RateLimitRPS:   app.cfg.Gateway.RateLimitRPS,
		RateLimitBurst: app.cfg.Gateway.RateLimitBurst,
		Logger:         app.logger.Named("gateway"),
	}, app.session)
	if err != nil {
		return fmt.Errorf("gateway init failed: %w", err)
	}
	app.logger.Info("gateway client ready",
		zap.String("base_url", app.cfg.Gateway.BaseURL),
		zap.Int("dedicated_services", len(urls)),
		zap.Float64("rate_limit_rps", app.cfg.Gateway.RateLimitRPS),
	)
	return nil
}

func setupStorage(ctx context.Context, app *App) error {
	sc := app.cfg.Storage
	switch sc.Backend {
	case config.StorageGCS:
		app.logger.Info("using GCS storage backend", zap.String("bucket", sc.GCS.Bucket))
		var opts []option.ClientOption
		if sc.GCS.Endpoint != "" {
			opts = append(opts, option.WithEndpoint(sc.GCS.Endpoint), option.WithoutAuthentication())
		}
		client, err := storage.NewClient(ctx, opts...)
		if err != nil {
			return fmt.Errorf("gcs client init failed: %w", err)
		}
		app.gcsClient = client
		app.persister, err = gcspersister.New(client, gcspersister.Config{
			Bucket:   sc.GCS.Bucket,
			Prefix:   sc.GCS.Prefix,
			MaxBytes: sc.GCS.MaxBytes,
		})
		if err != nil {
			return fmt.Errorf("gcs persister init failed: %w", err)
		}
	case config.StorageSQLite:
		app.logger.Info("using sqlite storage backend", zap.String("path", sc.SQLite.Path))
		p, err := sqlitepersister.Open(sqlitepersister.Config{Path: sc.SQLite.Path, MaxBytes: sc.SQLite.MaxBytes})
		if err != nil {
			return fmt.Errorf("sqlite persister init failed: %w", err)
		}
		app.sqlite = p
		app.persister = p
	case config.StorageFile:
		app.logger.Info("using local storage backend", zap.String("path", sc.Local.BaseDir))
		p, err := localpersister.New(localpersister.Config{BaseDir: sc.Local.BaseDir, MaxBytes: sc.Local.MaxBytes})
		if err != nil {
			return fmt.Errorf("local persister init failed: %w", err)
		}
		app.persister = p
	case config.StorageNone:
		app.logger.Warn("job persistence disabled")
		app.persister = persist.NoOp{}
	default:
		app.logger.Info("using in-memory storage backend")
		app.persister = memorypersister.New(sc.Memory.MaxBytes)
	}
	return nil
}

func setupRemote(ctx context.Context, app *App) (jobs.Remote, error) {
	remote := jobs.Remote{Session: app.session}
	switch app.cfg.Remote.Backend {
	case config.RemotePostgres:
		pc := app.cfg.Remote.Postgres
		history, err := pgstore.NewJobStore(ctx, pgstore.Config{
			DSN:       pc.DSN,
			Table:     pc.Table,
			ListLimit: pc.ListLimit,
			MaxConns:  pc.MaxConns,
		})
		if err != nil {
			return remote, fmt.Errorf("job history init failed: %w", err)
		}
		app.jobHistory = history
		if pc.Migrate {
			if err := history.EnsureSchema(ctx); err != nil {
				return remote, fmt.Errorf("job history migrate failed: %w", err)
			}
		}
		remote.Saver = history
		remote.Sources = []suite.JobLister{history}
		app.logger.Info("using postgres job history", zap.String("table", pc.Table))
	case config.RemoteHTTP:
		remote.Saver = app.gateway
		remote.Sources = app.gateway.Sources()
		app.logger.Info("using backend job history")
	default:
		app.logger.Info("remote job history disabled")
	}
	return remote, nil
}

func setupEvents(ctx context.Context, app *App) error {
	ec := app.cfg.Events
	app.recent = sinks.NewRecentSink(ec.RecentLimit)
	sinkList := []events.Sink{app.recent}
	if ec.LogEnabled {
		sinkList = append(sinkList, sinks.NewLogSink(app.logger.Named("events")))
		app.logger.Debug("Added event log sink")
	}
	if ec.PrometheusEnabled {
		promSink, err := sinks.NewPrometheusSink(prometheus.DefaultRegisterer)
		if err != nil {
			return fmt.Errorf("prometheus sink init failed: %w", err)
		}
		sinkList = append(sinkList, promSink)
		app.logger.Debug("Added event prometheus sink")
	}
	if ec.PubSub.Enabled() {
		var err error
		app.pubsubClient, err = pubsub.NewClient(ctx, ec.PubSub.ProjectID)
		if err != nil {
			return fmt.Errorf("pubsub client init failed: %w", err)
		}
		app.pubsubPublisher = app.pubsubClient.Publisher(ec.PubSub.Topic)
		sinkList = append(sinkList, sinks.NewPubSubSink(
			sinks.NewTopicPublisher(app.pubsubPublisher),
			otel.GetTextMapPropagator(),
		))
		app.logger.Info("Pub/Sub event sink initialized",
			zap.String("project", ec.PubSub.ProjectID),
			zap.String("topic", ec.PubSub.Topic),
		)
	}

	hubCfg := events.Config{
		BufferSize:     ec.BufferSize,
		MaxBatchEvents: ec.MaxBatchEvents,
		MaxBatchWait:   ec.MaxBatchWait,
		SinkTimeout:    ec.SinkTimeout,
		BaseContext:    context.WithoutCancel(ctx),
		Logger:         app.logger.Named("event_hub"),
	}
	app.hub = events.NewHub(hubCfg, sinkList...)
	app.logger.Info("event hub initialized",
		zap.Int("buffer_size", ec.BufferSize),
		zap.Int("sinks", len(sinkList)),
	)
	return nil
}
