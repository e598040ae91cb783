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

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/hl7mapper/hl7mapper/internal/config"
	"github.com/hl7mapper/hl7mapper/internal/domain/profile"
	"github.com/hl7mapper/hl7mapper/internal/platform/auth"
	"github.com/hl7mapper/hl7mapper/internal/platform/db"
	"github.com/hl7mapper/hl7mapper/internal/platform/definitions"
	"github.com/hl7mapper/hl7mapper/internal/platform/hl7v2"
	"github.com/hl7mapper/hl7mapper/internal/platform/middleware"
	"github.com/hl7mapper/hl7mapper/internal/platform/openapi"
	"github.com/hl7mapper/hl7mapper/internal/platform/telemetry"
)

const version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:           "hl7mapper",
		Short:         "HL7 v2 message assembler and segment definition service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(segmentsCmd())
	rootCmd.AddCommand(detailCmd())
	rootCmd.AddCommand(assembleCmd())
	rootCmd.AddCommand(profilesCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func newLogger(w io.Writer, dev bool) zerolog.Logger {
	if dev {
		w = zerolog.ConsoleWriter{Out: w}
	}
	return zerolog.New(w).With().Timestamp().Logger()
}

// headerFromConfig builds the synthesized MSH values. Blank settings keep
// the assembler's defaults.
func headerFromConfig(cfg *config.Config) hl7v2.Header {
	h := hl7v2.DefaultHeader()
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&h.SendingApp, cfg.MSHSendingApp)
	set(&h.SendingFacility, cfg.MSHSendingFacility)
	set(&h.ReceivingApp, cfg.MSHReceivingApp)
	set(&h.ReceivingFacility, cfg.MSHReceivingFacility)
	set(&h.MessageType, cfg.MSHMessageType)
	set(&h.ControlID, cfg.MSHControlID)
	set(&h.ProcessingID, cfg.MSHProcessingID)
	return h
}

func newDefinitionCache(cfg *config.Config, logger zerolog.Logger) *definitions.Cache {
	client := definitions.NewClient(cfg.DefinitionsBaseURL,
		definitions.WithTimeout(cfg.FetchTimeout),
		definitions.WithMaxRetries(cfg.FetchMaxRetries),
		definitions.WithRetryDelay(cfg.FetchRetryDelay),
		definitions.WithRateLimit(cfg.UpstreamRateLimitRPS, cfg.UpstreamRateBurst),
		definitions.WithLogger(logger),
	)
	return definitions.NewCache(client,
		definitions.WithEntryTTL(cfg.CacheTTL),
		definitions.WithCacheLogger(logger),
	)
}

func newAssembler(cfg *config.Config, logger zerolog.Logger) *hl7v2.Assembler {
	return hl7v2.NewAssembler(
		hl7v2.WithHeader(headerFromConfig(cfg)),
		hl7v2.WithLogger(logger),
	)
}

func newSender(addr string, cfg *config.Config, logger zerolog.Logger) *hl7v2.MLLPSender {
	if addr == "" {
		return nil
	}
	return hl7v2.NewMLLPSender(addr,
		hl7v2.WithSendTimeout(cfg.MLLPTimeout),
		hl7v2.WithSenderLogger(logger),
	)
}

// operations names the routes counted in hl7_operations_total.
var operations = map[string]string{
	"/api/v1/hl7v2/segments":        "segments",
	"/api/v1/hl7v2/segments/detail": "segment_detail",
	"/api/v1/hl7v2/parse":           "parse",
	"/api/v1/hl7v2/assemble":        "assemble",
	"/api/v1/hl7v2/send":            "send",
	"/api/v1/profiles/:id/assemble": "assemble_profile",
}

func newMetrics(cfg *config.Config, defs hl7v2.DefinitionSource) *telemetry.Provider {
	tp := telemetry.NewProvider(telemetry.Config{
		ServiceName:    "hl7mapper",
		ServiceVersion: version,
		Disabled:       !cfg.MetricsEnabled,
		Operations:     operations,
	})

	cache, ok := defs.(*definitions.Cache)
	if !ok {
		return tp
	}
	stat := func(pick func(definitions.Stats) float64) func() float64 {
		return func() float64 { return pick(cache.Stats()) }
	}
	tp.RegisterGaugeFunc("hl7_definition_cache_hits", "Definition cache hits.",
		stat(func(s definitions.Stats) float64 { return float64(s.Hits) }))
	tp.RegisterGaugeFunc("hl7_definition_cache_misses", "Definition cache misses.",
		stat(func(s definitions.Stats) float64 { return float64(s.Misses) }))
	tp.RegisterGaugeFunc("hl7_definition_fetches", "Upstream definition fetches.",
		stat(func(s definitions.Stats) float64 { return float64(s.Fetches) }))
	tp.RegisterGaugeFunc("hl7_definition_cache_evictions", "Definition cache evictions.",
		stat(func(s definitions.Stats) float64 { return float64(s.Evictions) }))
	tp.RegisterGaugeFunc("hl7_definition_cache_entries", "Cached segment lists and details.",
		stat(func(s definitions.Stats) float64 { return float64(s.SegmentLists + s.Details) }))
	return tp
}

// server groups what newServer wires into the router.
type server struct {
	cfg       *config.Config
	logger    zerolog.Logger
	defs      hl7v2.DefinitionSource
	assembler *hl7v2.Assembler
	sender    *hl7v2.MLLPSender
	profiles  profile.Repository
	database  db.Pinger
}

func newServer(s server) *echo.Echo {
	cfg := s.cfg

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(s.logger))
	e.Use(middleware.RequestID())
	metrics := newMetrics(cfg, s.defs)
	e.Use(metrics.Middleware())
	e.Use(middleware.Logger(s.logger, "/health", "/metrics"))
	e.Use(middleware.SecurityHeaders("/api/v1/docs"))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "Accept", "X-Request-ID"},
	}))
	e.Use(middleware.BodyLimit(cfg.BodyLimit))
	e.Use(middleware.RateLimit(middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}))
	// MLLP delivery carries its own deadline.
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout, "/api/v1/hl7v2/send"))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	if s.database != nil {
		e.GET("/health/db", db.HealthHandler(s.database))
	}
	if cfg.MetricsEnabled {
		e.GET("/metrics", metrics.Handler())
	}

	apiV1 := e.Group("/api/v1")
	if cfg.AuthEnabled() {
		apiV1.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			SigningKey: []byte(cfg.AuthSigningKey),
			Skipper:    auth.AuthSkipper,
		}))
	}

	openapi.NewGenerator(version, "").RegisterRoutes(apiV1)
	hl7v2.NewHandler(s.defs, s.assembler, s.sender).RegisterRoutes(apiV1)

	profileSvc := profile.NewService(s.profiles, s.assembler, s.logger)
	profile.NewHandler(profileSvc).RegisterRoutes(apiV1)

	return e
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(os.Stdout, cfg.IsDev())
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}
	if !cfg.AuthEnabled() {
		logger.Warn().Msg("AUTH_SIGNING_KEY not set; /api/v1 is open")
	}

	ctx := context.Background()
	s := server{
		cfg:       cfg,
		logger:    logger,
		defs:      newDefinitionCache(cfg, logger),
		assembler: newAssembler(cfg, logger),
		sender:    newSender(cfg.MLLPAddr, cfg, logger),
		profiles:  profile.NewMemoryRepo(),
	}

	// Database
	if cfg.DatabaseURL != "" {
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer pool.Close()

		n, err := db.NewMigrator(pool, profile.Migrations()).Up(ctx)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to apply migrations")
		}
		logger.Info().Int("applied", n).Msg("connected to database")

		s.profiles = profile.NewProfileRepoPG(pool)
		s.database = pool
	} else {
		logger.Info().Msg("DATABASE_URL not set; mapping profiles are kept in memory")
	}

	if s.sender != nil {
		logger.Info().Str("addr", s.sender.Addr()).Msg("MLLP delivery enabled")
	}

	e := newServer(s)

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("definitions", cfg.DefinitionsBaseURL).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}
