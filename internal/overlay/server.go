// Package overlay serves the now playing state to the overlay front end over
// HTTP and websockets.
package overlay

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/genricoloni/nowplaying/internal/domain"
	"github.com/genricoloni/nowplaying/internal/metrics"
	"github.com/genricoloni/nowplaying/internal/prefs"
	"github.com/genricoloni/nowplaying/internal/store"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// writeRate caps requests per second and client on the mutating endpoints
const writeRate = 50

// StateStore is the part of the store the API reads and writes
type StateStore interface {
	Subscriber
	Snapshot() store.State
	UpdatePreferences(fn func(*prefs.Preferences)) prefs.Preferences
}

// EventHandler accepts host events as JSON envelopes
type EventHandler interface {
	HandleMessage(raw []byte) error
}

type Server struct {
	echo      *echo.Echo
	logger    *zap.Logger
	cfg       domain.Config
	store     StateStore
	hub       *Hub
	events    EventHandler
	converter domain.ThumbnailConverter
	metrics   *metrics.Metrics
	listener  net.Listener
}

// NewServer wires the routes. m may be nil, in which case /metrics is not served.
func NewServer(
	logger *zap.Logger,
	cfg domain.Config,
	st StateStore,
	events EventHandler,
	conv domain.ThumbnailConverter,
	m *metrics.Metrics,
) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:   true,
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			fields := []zap.Field{
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
			}
			if v.Error != nil {
				logger.Warn("Request failed", append(fields, zap.Error(v.Error))...)
				return nil
			}
			logger.Debug("Request", fields...)
			return nil
		},
	}))

	srv := &Server{
		echo:      e,
		logger:    logger,
		cfg:       cfg,
		store:     st,
		hub:       NewHub(logger, st, conv, m),
		events:    events,
		converter: conv,
		metrics:   m,
	}

	srv.registerRoutes()

	return srv
}

func (s *Server) registerRoutes() {
	limiter := middleware.RateLimiter(middleware.NewRateLimiterMemoryStore(rate.Limit(writeRate)))

	// Observability endpoints
	s.echo.GET("/healthz", s.handleHealth)
	if s.metrics != nil {
		s.echo.GET("/metrics", echo.WrapHandler(s.metrics.Handler()))
	}

	// Read API
	s.echo.GET("/api/state", s.handleState)
	s.echo.GET("/api/nowplaying", s.handleNowPlaying)

	// Write API
	s.echo.PUT("/api/preferences", s.handlePutPreferences, limiter)
	s.echo.POST("/api/events", s.handleEvents, limiter)

	// Live updates
	s.echo.GET("/ws", s.handleWebSocket)
}

// Start binds the listen address and serves in the background
func (s *Server) Start(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.cfg.GetListenAddr())
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.GetListenAddr(), err)
	}
	s.listener = ln
	s.echo.Listener = ln

	s.hub.Start()

	s.logger.Info("Overlay API listening", zap.String("addr", ln.Addr().String()))

	go func() {
		if err := s.echo.Start(""); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Overlay API stopped unexpectedly", zap.Error(err))
		}
	}()
	return nil
}

// Shutdown disconnects overlay clients and stops the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Stop()
	return s.echo.Shutdown(ctx)
}

// Addr returns the bound address once Start succeeded
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// ServeHTTP lets the server be mounted without Start, mainly for tests
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}
