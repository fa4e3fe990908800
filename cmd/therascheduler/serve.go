package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/gabeliss/therascheduler-sub001/internal/config"
	"github.com/gabeliss/therascheduler-sub001/internal/domain/scheduling"
	"github.com/gabeliss/therascheduler-sub001/internal/platform/auth"
	"github.com/gabeliss/therascheduler-sub001/internal/platform/cache"
	"github.com/gabeliss/therascheduler-sub001/internal/platform/db"
	"github.com/gabeliss/therascheduler-sub001/internal/platform/events"
	"github.com/gabeliss/therascheduler-sub001/internal/platform/middleware"
	"github.com/gabeliss/therascheduler-sub001/internal/platform/telemetry"
	"github.com/gabeliss/therascheduler-sub001/internal/platform/validate"
	"github.com/gabeliss/therascheduler-sub001/internal/platform/websocket"
)

const version = "0.1.0"

// deps is everything the scheduling service runs against.
type deps struct {
	pool    *pgxpool.Pool
	store   cache.Store
	events  scheduling.EventPublisher
	checks  map[string]db.Check
	closers []io.Closer
}

func (d *deps) Close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		d.closers[i].Close()
	}
	if d.pool != nil {
		d.pool.Close()
	}
}

func connect(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*deps, error) {
	d := &deps{checks: map[string]db.Check{}}

	pool, err := db.NewPool(ctx, db.PoolConfig{
		URL:      cfg.DatabaseURL,
		MaxConns: cfg.DBMaxConns,
		MinConns: cfg.DBMinConns,
	}, logger)
	if err != nil {
		return nil, err
	}
	d.pool = pool
	logger.Info().Msg("connected to database")

	if cfg.RedisURL != "" {
		rs, err := cache.NewRedisStore(cfg.RedisURL, "therascheduler:", cfg.TimelineCacheTTL)
		if err != nil {
			d.Close()
			return nil, err
		}
		d.store = rs
		d.closers = append(d.closers, rs)
		d.checks["redis"] = rs.Ping
		logger.Info().Msg("timeline cache: redis")
	} else {
		d.store = cache.NewMemoryStore(cfg.TimelineCacheTTL)
		logger.Info().Msg("timeline cache: in-memory")
	}

	if cfg.RabbitMQURL != "" {
		pub, err := events.Dial(cfg.RabbitMQURL, cfg.BookingEventsQueue)
		if err != nil {
			d.Close()
			return nil, err
		}
		d.events = pub
		d.closers = append(d.closers, pub)
		d.checks["rabbitmq"] = pub.Ping
		logger.Info().Str("queue", cfg.BookingEventsQueue).Msg("booking events: rabbitmq")
	} else {
		d.events = events.NewLogPublisher(logger)
		logger.Info().Msg("booking events: log only")
	}

	return d, nil
}

// jwtConfig returns nil when requests should go through the development
// identity instead of token verification.
func jwtConfig(cfg *config.Config) *auth.JWTConfig {
	if cfg.IsDev() && cfg.AuthSigningKey == "" && cfg.AuthIssuer == "" && cfg.AuthJWKSURL == "" {
		return nil
	}
	jc := &auth.JWTConfig{
		Issuer:   cfg.AuthIssuer,
		Audience: cfg.AuthAudience,
		JWKSURL:  cfg.AuthJWKSURL,
	}
	if cfg.AuthSigningKey != "" {
		jc.SigningKey = []byte(cfg.AuthSigningKey)
	} else if jc.JWKSURL == "" && jc.Issuer != "" {
		jc.JWKSURL = jc.Issuer + "/.well-known/jwks.json"
	}
	return jc
}

func newService(cfg *config.Config, d *deps, hub *websocket.Hub, logger zerolog.Logger) (*scheduling.Service, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	engine := scheduling.NewEngine(logger.With().Str("component", "engine").Logger(), scheduling.WithLocation(loc))

	opts := []scheduling.ServiceOption{
		scheduling.WithTxRunner(db.NewTransactor(d.pool)),
		scheduling.WithTimelineCache(scheduling.NewTimelineCache(d.store, logger)),
		scheduling.WithEventPublisher(d.events),
	}
	if hub != nil {
		opts = append(opts, scheduling.WithChangeNotifier(scheduling.NewHubNotifier(hub)))
	}

	return scheduling.NewService(engine,
		scheduling.NewAvailabilityRepoPG(d.pool, logger),
		scheduling.NewTimeOffRepoPG(d.pool, logger),
		scheduling.NewAppointmentRepoPG(d.pool),
		logger,
		opts...,
	), nil
}

func newRouter(cfg *config.Config, logger zerolog.Logger, metrics *telemetry.Metrics) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(metrics.Middleware())
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
	}))
	e.Use(middleware.BodyLimit(cfg.BodyLimit))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	e.GET("/metrics", metrics.Handler())
	return e
}

// mount wires authentication, rate limiting and every scheduling route.
func mount(e *echo.Echo, cfg *config.Config, svc *scheduling.Service, hub *websocket.Hub) error {
	authMW := auth.DevAuthMiddleware()
	if jc := jwtConfig(cfg); jc != nil {
		authMW = auth.JWTMiddleware(*jc)
	}
	limiter := middleware.RateLimit(middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	})

	v, err := validate.New()
	if err != nil {
		return fmt.Errorf("init validator: %w", err)
	}

	api := e.Group("/api/v1", limiter, authMW)
	widget := e.Group("/widget/v1", limiter, authMW)
	scheduling.NewHandler(svc, v).RegisterRoutes(api, widget)

	// Change notices carry only dates, so any signed-in caller may watch a
	// therapist: the owner's calendar view and clients on the booking widget.
	ws := websocket.NewHandler(hub, cfg.CORSOrigins)
	e.GET("/ws/therapists/:id", ws.HandleTherapist, authMW,
		auth.RequireRole(auth.RoleTherapist, auth.RoleClient))
	return nil
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.IsDev())
	if err := cfg.Validate(); err != nil {
		logger.Error().Err(err).Msg("invalid configuration")
		return err
	}
	if jwtConfig(cfg) == nil {
		logger.Warn().Msg("development auth is active: unauthenticated requests act as admin")
	}

	ctx := context.Background()
	d, err := connect(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("failed to connect dependencies")
		return err
	}
	defer d.Close()

	metrics := telemetry.New()
	d.events = metrics.CountingPublisher(d.events)

	hub := websocket.NewHub(logger.With().Str("component", "ws").Logger())
	metrics.Gauge("websocket_clients", "Connected timeline websocket clients.", func() float64 {
		return float64(hub.ClientCount())
	})
	metrics.Gauge("db_pool_acquired_connections", "Database connections in use.", func() float64 {
		return float64(d.pool.Stat().AcquiredConns())
	})
	metrics.Gauge("db_pool_idle_connections", "Idle database connections.", func() float64 {
		return float64(d.pool.Stat().IdleConns())
	})

	svc, err := newService(cfg, d, hub, logger)
	if err != nil {
		return err
	}

	e := newRouter(cfg, logger, metrics)
	if err := mount(e, cfg, svc, hub); err != nil {
		return err
	}
	e.GET("/health/db", db.HealthHandler(d.pool, d.checks))

	errCh := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("version", version).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		logger.Error().Err(err).Msg("server error")
		return err
	}

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}
