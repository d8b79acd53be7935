package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/pophealth/pophealth/internal/config"
	"github.com/pophealth/pophealth/internal/domain/dashboard"
	"github.com/pophealth/pophealth/internal/domain/registry"
	"github.com/pophealth/pophealth/internal/engine"
	"github.com/pophealth/pophealth/internal/platform/db"
	"github.com/pophealth/pophealth/internal/platform/middleware"
	"github.com/pophealth/pophealth/internal/platform/usage"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "pophealth-server",
		Short: "Population health reporting API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(loadCmd())
	rootCmd.AddCommand(reportCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the reporting API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if dir == "" {
				dir = cfg.MigrationsDir
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			count, err := migrator.Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "", "Path to migrations directory (defaults to MIGRATIONS_DIR)")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if dir == "" {
				dir = cfg.MigrationsDir
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			migrator := db.NewMigrator(pool, dir)
			statuses, err := migrator.Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("dir", "", "Path to migrations directory (defaults to MIGRATIONS_DIR)")
	cmd.AddCommand(statusCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Rollback last migration (not supported)",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("WARNING: migrate down is destructive and not supported by the built-in runner.")
			fmt.Println("Restore from a database backup or write a forward migration instead.")
			return nil
		},
	})

	return cmd
}

func loadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "load <extract.json>",
		Short: "Bulk load a population extract file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			extract, err := readExtract(args[0])
			if err != nil {
				return err
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			svc := registry.NewService(registry.NewPatientRepoPG(pool), registry.NewEventRepoPG(pool))
			svc.SetTxRunner(func(ctx context.Context, fn func(ctx context.Context) error) error {
				return db.WithTx(ctx, pool, fn)
			})

			res, err := svc.BulkLoad(ctx, extract)
			if err != nil {
				return fmt.Errorf("bulk load failed: %w", err)
			}

			fmt.Printf("Loaded %d patient(s), %d event(s); skipped %d malformed row(s).\n",
				res.PatientsLoaded, res.EventsLoaded, res.Skipped)
			return nil
		},
	}
}

func reportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Print a risk stratification summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			rawKind, _ := cmd.Flags().GetString("kind")
			kind := engine.EventKind(rawKind)
			if rawKind != "" && !engine.ValidKinds[kind] {
				return fmt.Errorf("invalid kind: %s", rawKind)
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			analytics, err := config.LoadAnalytics(cfg.AnalyticsConfig)
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			registrySvc := registry.NewService(registry.NewPatientRepoPG(pool), registry.NewEventRepoPG(pool))
			dashSvc := dashboard.NewService(registrySvc, dashboard.NewSnapshotRepoPG(pool), dashboard.Definitions{
				Buckets:    analytics.RiskBuckets,
				Thresholds: analytics.TierThresholds,
				Themes:     analytics.Themes,
			}, 0)

			summary, err := dashSvc.Summary(ctx, engine.Criteria{})
			if err != nil {
				return fmt.Errorf("summary failed: %w", err)
			}
			buckets, err := dashSvc.Risk(ctx, kind, engine.Criteria{})
			if err != nil {
				return fmt.Errorf("risk stratification failed: %w", err)
			}

			fmt.Printf("Patients: %d   Events: %d   Unique patients in events: %d\n\n",
				summary.TotalPatients, summary.TotalEvents, summary.UniquePatients)
			fmt.Printf("%-14s %-10s %10s %6s\n", "RISK", "EVENTS", "PATIENTS", "%")
			for _, b := range buckets {
				fmt.Printf("%-14s %-10s %10d %5d%%\n", b.Label, formatBucketRange(b), b.PatientCount, b.Percentage)
			}
			return nil
		},
	}
	cmd.Flags().String("kind", "", "Restrict stratification to one event kind")
	return cmd
}

// readExtract parses a bulk extract file in the registry's ingest shape.
func readExtract(path string) (*registry.BulkExtract, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read extract: %w", err)
	}
	var extract registry.BulkExtract
	if err := json.Unmarshal(data, &extract); err != nil {
		return nil, fmt.Errorf("parse extract: %w", err)
	}
	return &extract, nil
}

// formatBucketRange renders a bucket's event-count range: "0", "1-9",
// or "100+" for an unbounded upper edge.
func formatBucketRange(b engine.RiskBucket) string {
	if b.MaxCount < 0 {
		return fmt.Sprintf("%d+", b.MinCount)
	}
	if b.MinCount == b.MaxCount {
		return fmt.Sprintf("%d", b.MinCount)
	}
	return fmt.Sprintf("%d-%d", b.MinCount, b.MaxCount)
}

func runServer() error {
	// Logger
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	// Config
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	// Analytics definitions (risk buckets, tier thresholds, themes)
	analytics, err := config.LoadAnalytics(cfg.AnalyticsConfig)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load analytics definitions")
	}

	// Database
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.SanitizeWithLogger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Content-Type", "X-Request-ID"},
	}))
	e.Use(middleware.BodyLimit("1M", "50M"))

	// Usage tracking
	tracker := usage.NewTracker(10000)
	e.Use(usage.Middleware(tracker))

	// API group
	apiV1 := e.Group("/api/v1")

	// Rate limiting
	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	apiV1.Use(middleware.RateLimit(rateLimitCfg))
	apiV1.Use(middleware.RequestTimeout(30 * time.Second))

	// HTTP caching on aggregate reads. Record-level reads are excluded
	// so a write is visible on the next GET.
	uncached := []string{"/api/v1/patients", "/api/v1/events", "/api/v1/registry", "/api/v1/usage"}
	cacheTTL := time.Duration(cfg.CacheTTLSeconds) * time.Second
	cacheCfg := middleware.DefaultCacheConfig()
	cacheCfg.MaxAge = cfg.CacheTTLSeconds
	cacheCfg.ExcludePaths = uncached
	cacheStore := middleware.NewInMemoryCacheStore()
	cacheStore.StartCleanup(ctx, time.Minute)
	apiV1.Use(middleware.ETagMiddleware(cacheCfg))
	apiV1.Use(middleware.ResponseCacheMiddleware(cacheStore, cacheTTL, uncached...))

	// Services
	registrySvc := registry.NewService(registry.NewPatientRepoPG(pool), registry.NewEventRepoPG(pool))
	registrySvc.SetTxRunner(func(ctx context.Context, fn func(ctx context.Context) error) error {
		return db.WithTx(ctx, pool, fn)
	})

	dashSvc := dashboard.NewService(registrySvc, dashboard.NewSnapshotRepoPG(pool), dashboard.Definitions{
		Buckets:    analytics.RiskBuckets,
		Thresholds: analytics.TierThresholds,
		Themes:     analytics.Themes,
	}, cacheTTL)
	dashSvc.StartCacheCleanup(ctx, time.Minute)

	// Routes
	registry.NewHandler(registrySvc).RegisterRoutes(apiV1)
	dashboard.NewHandler(dashSvc, cfg.DefaultCategoryCount).RegisterRoutes(apiV1)
	usage.NewHandler(tracker).RegisterRoutes(apiV1)

	// Health checks
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": "0.1.0",
		})
	})
	e.GET("/health/db", db.HealthHandler(pool))

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("env", cfg.Env).Msg("starting server")
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
