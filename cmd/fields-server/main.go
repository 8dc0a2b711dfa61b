package main

import (
	"context"
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

	"github.com/cliniccore/cliniccore/internal/config"
	"github.com/cliniccore/cliniccore/internal/domain/fields"
	"github.com/cliniccore/cliniccore/internal/domain/measure"
	"github.com/cliniccore/cliniccore/internal/platform/auth"
	"github.com/cliniccore/cliniccore/internal/platform/db"
	"github.com/cliniccore/cliniccore/internal/platform/middleware"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "fields-server",
		Short: "Clinic custom-field and calculation API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
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

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			count, err := db.NewMigrator(pool, dir).Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(upCmd)

	return cmd
}

func runServer() error {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))

	var access auth.AccessChecker
	if cfg.IsDev() {
		e.Use(auth.DevAuth())
		access = auth.AllowAll{}
		logger.Warn().Msg("development mode: every request runs as admin")
	} else {
		e.Use(auth.JWT([]byte(cfg.AuthSecret)))
		access = auth.NewCareTeamChecker(pool)
	}

	// Repositories and services.
	categories := fields.NewCategoryRepoPG(pool)
	definitions := fields.NewDefinitionRepoPG(pool)
	patientValues := fields.NewPatientValueStorePG(pool)
	visitValues := fields.NewVisitValueStorePG(pool)
	visits := fields.NewVisitDirectoryPG(pool)
	measures := measure.NewRepoPG(pool)
	translator := fields.NewTranslatorPG(pool)
	txRunner := db.NewRunner(pool)
	cache := fields.NewCalcCache()

	patientSvc := fields.NewPatientService(
		categories, definitions, patientValues, visitValues, visits,
		access, translator, txRunner, measures, cache, logger)
	visitSvc := fields.NewVisitService(
		categories, definitions, visitValues, patientValues, visits,
		access, translator, txRunner, measures, cache, logger)
	adminSvc := fields.NewAdminService(categories, definitions, cache, logger)

	e.GET("/health", db.HealthHandler(pool))

	api := e.Group("/api/v1")
	fields.NewHandler(patientSvc, visitSvc, adminSvc).RegisterRoutes(api)

	// Start and wait for shutdown.
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("server listening")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server stopped")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Info().Msg("server stopped cleanly")
	return nil
}
