package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/genricoloni/nowplaying/internal/bridge"
	"github.com/genricoloni/nowplaying/internal/config"
	"github.com/genricoloni/nowplaying/internal/display"
	"github.com/genricoloni/nowplaying/internal/domain"
	"github.com/genricoloni/nowplaying/internal/engine"
	"github.com/genricoloni/nowplaying/internal/fetcher"
	"github.com/genricoloni/nowplaying/internal/metrics"
	"github.com/genricoloni/nowplaying/internal/monitor"
	"github.com/genricoloni/nowplaying/internal/overlay"
	"github.com/genricoloni/nowplaying/internal/session"
	"github.com/genricoloni/nowplaying/internal/storage"
	"github.com/genricoloni/nowplaying/internal/store"
	"github.com/genricoloni/nowplaying/internal/thumbnail"
	"github.com/jonboulle/clockwork"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// AppOptions is the complete dependency graph of the daemon
var AppOptions = fx.Options(
	// Logger configuration
	fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
		return &fxevent.ZapLogger{Logger: log}
	}),

	// Provide dependencies
	fx.Provide(
		newLogger,
		newClock,
		metrics.New,
		fx.Annotate(config.NewAppConfig, fx.As(new(domain.Config))),
		fx.Annotate(newStorage, fx.As(new(domain.KeyValueStore))),
		store.New,
		session.NewTracker,
		newBridge,
		fx.Annotate(monitor.NewMprisMonitor, fx.As(new(domain.Monitor))),
		fx.Annotate(fetcher.NewArtworkFetcher, fx.As(new(domain.Fetcher))),
		display.NewScreenResolution,
		fx.Annotate(thumbnail.NewConverter, fx.As(new(domain.ThumbnailConverter))),
		newEngine,
		newServer,
	),

	// Lifecycle hooks
	fx.Invoke(registerHooks),
)

func main() {
	app := fx.New(AppOptions)

	// Handle graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := app.Start(ctx); err != nil {
		panic(err)
	}

	// Wait for interrupt signal
	<-ctx.Done()

	if err := app.Stop(context.Background()); err != nil {
		panic(err)
	}
}

// newLogger creates a new zap logger instance. NP_LOG_LEVEL overrides the default info level.
func newLogger() (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if raw := os.Getenv("NP_LOG_LEVEL"); raw != "" {
		level, err := zapcore.ParseLevel(raw)
		if err != nil {
			return nil, err
		}
		cfg.Level = zap.NewAtomicLevelAt(level)
	}
	return cfg.Build()
}

func newClock() clockwork.Clock {
	return clockwork.NewRealClock()
}

// newStorage opens the preference database and closes it on shutdown
func newStorage(lc fx.Lifecycle, logger *zap.Logger, cfg domain.Config) (*storage.SQLiteStore, error) {
	kv, err := storage.Open(context.Background(), logger, cfg.GetDBPath())
	if err != nil {
		return nil, err
	}
	lc.Append(fx.StopHook(kv.Close))
	return kv, nil
}

func newBridge(logger *zap.Logger, st *store.Store, tracker *session.Tracker, m *metrics.Metrics) *bridge.Bridge {
	return bridge.New(logger, st, tracker, m)
}

func newEngine(
	logger *zap.Logger,
	cfg domain.Config,
	clock clockwork.Clock,
	mon domain.Monitor,
	tracker *session.Tracker,
	fetch domain.Fetcher,
	m *metrics.Metrics,
) *engine.Engine {
	return engine.NewEngine(logger, cfg, clock, mon, tracker, fetch, m)
}

func newServer(
	logger *zap.Logger,
	cfg domain.Config,
	st *store.Store,
	br *bridge.Bridge,
	conv domain.ThumbnailConverter,
	m *metrics.Metrics,
) *overlay.Server {
	return overlay.NewServer(logger, cfg, st, br, conv, m)
}

// registerHooks sets up application lifecycle hooks
func registerHooks(
	lc fx.Lifecycle,
	logger *zap.Logger,
	mon domain.Monitor,
	eng *engine.Engine,
	br *bridge.Bridge,
	srv *overlay.Server,
) {
	runCtx, cancel := context.WithCancel(context.Background())

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := srv.Start(ctx); err != nil {
				cancel()
				return err
			}
			if err := eng.Start(ctx); err != nil {
				cancel()
				return err
			}

			go func() {
				if err := br.Run(runCtx, eng.Events()); err != nil && !errors.Is(err, context.Canceled) {
					logger.Error("Bridge stopped", zap.Error(err))
				}
			}()

			go func() {
				if err := mon.Start(runCtx); err != nil && !errors.Is(err, context.Canceled) {
					logger.Error("Media monitor failed", zap.Error(err))
				}
			}()

			logger.Info("Now playing daemon started")
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("Shutting down")

			var err error
			err = multierr.Append(err, mon.Stop(ctx))
			err = multierr.Append(err, eng.Stop(ctx))
			cancel()
			err = multierr.Append(err, srv.Shutdown(ctx))
			return err
		},
	})
}
