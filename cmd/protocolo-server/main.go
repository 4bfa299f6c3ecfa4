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
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/protocolo/protocolo/internal/config"
	"github.com/protocolo/protocolo/internal/domain/protocol"
	"github.com/protocolo/protocolo/internal/platform/auth"
	"github.com/protocolo/protocolo/internal/platform/db"
	"github.com/protocolo/protocolo/internal/platform/metrics"
	"github.com/protocolo/protocolo/internal/platform/middleware"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "protocolo-server",
		Short: "Clinic reception protocol desk",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(cfg *config.Config) zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", "protocolo").Logger()
	if cfg.IsDev() {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stdout})
	}
	return logger
}

func loadUsers(cfg *config.Config) (auth.Directory, error) {
	if cfg.UsersFile == "" {
		return auth.DefaultDirectory(), nil
	}
	return auth.LoadDirectory(cfg.UsersFile)
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			logger := newLogger(cfg)

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			users, err := loadUsers(cfg)
			if err != nil {
				return err
			}
			sessions := auth.NewSessions(cfg.SessionSecret, time.Duration(cfg.SessionTTLHours)*time.Hour)

			m := metrics.New("protocolo")

			repo := protocol.NewRepo(pool)
			svc := protocol.NewService(repo)
			svc.SetMetrics(m)
			handler := protocol.NewHandler(svc, sessions, users)

			e := echo.New()
			e.HideBanner = true
			e.HidePort = true
			e.Use(middleware.RequestID())
			e.Use(middleware.Logger(logger))
			e.Use(middleware.Recovery(logger))
			e.Use(m.Middleware())

			e.GET("/health", db.HealthHandler(pool))
			e.GET("/metrics", m.Handler())
			handler.RegisterRoutes(e, auth.RequireSession(sessions))

			// Graceful shutdown on SIGINT/SIGTERM.
			go func() {
				quit := make(chan os.Signal, 1)
				signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
				<-quit
				logger.Info().Msg("shutting down")
				shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer shutdownCancel()
				if err := e.Shutdown(shutdownCtx); err != nil {
					logger.Error().Err(err).Msg("shutdown")
				}
			}()

			logger.Info().Str("port", cfg.Port).Str("env", cfg.Env).Msg("starting server")
			if err := e.Start(":" + cfg.Port); err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage database migrations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := newLogger(cfg)

			ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
			defer cancel()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			applied, err := db.NewMigrator(pool, cfg.MigrationsDir).Up(ctx)
			if err != nil {
				return err
			}
			logger.Info().Int("applied", applied).Msg("migrations up to date")
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, cfg.MigrationsDir).Status(ctx)
			if err != nil {
				return err
			}
			for _, st := range statuses {
				state := "pending"
				if st.Applied {
					state = "applied " + st.AppliedAt.Format(time.RFC3339)
				}
				fmt.Printf("%03d %-30s %s\n", st.Version, st.Name, state)
			}
			return nil
		},
	})

	return cmd
}
