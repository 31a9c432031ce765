package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/spf13/cobra"

	"github.com/Penn-Medicine-CHCI/cobalt-api-sub001/internal/config"
	"github.com/Penn-Medicine-CHCI/cobalt-api-sub001/internal/domain/directory"
	"github.com/Penn-Medicine-CHCI/cobalt-api-sub001/internal/domain/screening"
	"github.com/Penn-Medicine-CHCI/cobalt-api-sub001/internal/platform/db"
	"github.com/Penn-Medicine-CHCI/cobalt-api-sub001/internal/platform/middleware"
	"github.com/Penn-Medicine-CHCI/cobalt-api-sub001/internal/platform/notification"
	"github.com/Penn-Medicine-CHCI/cobalt-api-sub001/internal/platform/sandbox"
	"github.com/Penn-Medicine-CHCI/cobalt-api-sub001/migrations"
)

const version = "0.1.0"

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "cobalt-server",
		Short:        "Cobalt mental health screening API",
		SilenceUsage: true,
	}
	root.AddCommand(serveCmd())
	root.AddCommand(migrateCmd())
	root.AddCommand(screeningCmd())
	root.AddCommand(seedCmd())
	return root
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
		Short: "Run postgres migrations (sqlite applies its schema on open)",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, _ := cmd.Flags().GetString("schema")
			dir, _ := cmd.Flags().GetString("dir")
			return withMigrator(cmd.Context(), dir, func(ctx context.Context, m *db.Migrator) error {
				fmt.Fprintf(cmd.OutOrStdout(), "Running migrations on schema: %s\n", schema)
				count, err := m.Up(ctx, schema)
				if err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
				return nil
			})
		},
	}
	upCmd.Flags().String("schema", "public", "Target schema for migrations")
	upCmd.Flags().String("dir", "", "Read migrations from this directory instead of the embedded set")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, _ := cmd.Flags().GetString("schema")
			dir, _ := cmd.Flags().GetString("dir")
			return withMigrator(cmd.Context(), dir, func(ctx context.Context, m *db.Migrator) error {
				statuses, err := m.Status(ctx, schema)
				if err != nil {
					return fmt.Errorf("failed to get migration status: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Migration status for schema: %s\n", schema)
				printMigrationStatus(cmd.OutOrStdout(), statuses)
				return nil
			})
		},
	}
	statusCmd.Flags().String("schema", "public", "Target schema for migrations")
	statusCmd.Flags().String("dir", "", "Read migrations from this directory instead of the embedded set")
	cmd.AddCommand(statusCmd)

	return cmd
}

func withMigrator(ctx context.Context, dir string, fn func(context.Context, *db.Migrator) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.DBDriver != config.DriverPostgres {
		return fmt.Errorf("migrate only applies to %q; %q creates its schema on open", config.DriverPostgres, cfg.DBDriver)
	}

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return err
	}
	defer pool.Close()

	var files fs.FS = migrations.Postgres
	if dir != "" {
		files = os.DirFS(dir)
	}
	return fn(ctx, db.NewMigrator(pool, files))
}

func screeningCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "screening",
		Short: "Inspect the screening catalog and cascade results",
	}

	catalogCmd := &cobra.Command{
		Use:   "catalog",
		Short: "Print instruments, questions and thresholds",
		Long:  "Print the compiled-in catalog, or load and check the YAML catalog given by --file.",
		RunE: func(cmd *cobra.Command, args []string) error {
			file, _ := cmd.Flags().GetString("file")
			catalog, err := loadCatalog(file)
			if err != nil {
				return err
			}
			printCatalog(cmd.OutOrStdout(), catalog)
			return nil
		},
	}
	catalogCmd.Flags().String("file", "", "Catalog YAML to check instead of the compiled-in one")
	cmd.AddCommand(catalogCmd)

	resolveCmd := &cobra.Command{
		Use:   "resolve",
		Short: "Print an account's cascade result or what is still outstanding",
		RunE: func(cmd *cobra.Command, args []string) error {
			accountID, err := accountFlag(cmd)
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				result, err := a.screening.Resolve(ctx, accountID)
				var nre *screening.NotResolvableError
				if errors.As(err, &nre) {
					printOutstanding(cmd.OutOrStdout(), nre)
					return nil
				}
				if err != nil {
					return err
				}
				printResult(cmd.OutOrStdout(), result)
				return nil
			})
		},
	}
	resolveCmd.Flags().String("account", "", "Account id")
	_ = resolveCmd.MarkFlagRequired("account")
	cmd.AddCommand(resolveCmd)

	progressCmd := &cobra.Command{
		Use:   "progress",
		Short: "Print where an account stands and which instrument comes next",
		RunE: func(cmd *cobra.Command, args []string) error {
			accountID, err := accountFlag(cmd)
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				progress, err := a.screening.Progress(ctx, accountID)
				if err != nil {
					return err
				}
				printProgress(cmd.OutOrStdout(), progress)
				return nil
			})
		},
	}
	progressCmd.Flags().String("account", "", "Account id")
	_ = progressCmd.MarkFlagRequired("account")
	cmd.AddCommand(progressCmd)

	return cmd
}

func accountFlag(cmd *cobra.Command) (uuid.UUID, error) {
	raw, _ := cmd.Flags().GetString("account")
	accountID, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("--account must be a UUID: %w", err)
	}
	return accountID, nil
}

func loadCatalog(file string) (*screening.Catalog, error) {
	if file == "" {
		return screening.DefaultCatalog()
	}
	f, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return screening.LoadCatalog(f)
}

func seedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Create a demo institution with accounts and crisis contacts",
		RunE: func(cmd *cobra.Command, args []string) error {
			seedCfg := sandbox.DefaultSeedConfig()
			seedCfg.InstitutionName, _ = cmd.Flags().GetString("institution")
			seedCfg.AccountCount, _ = cmd.Flags().GetInt("accounts")
			seedCfg.ContactCount, _ = cmd.Flags().GetInt("contacts")
			seedCfg.Seed, _ = cmd.Flags().GetInt64("seed")

			return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				result, err := sandbox.NewSeeder(seedCfg).Seed(ctx, a.directory)
				if err != nil {
					return err
				}
				printSeedResult(cmd.OutOrStdout(), result)
				return nil
			})
		},
	}
	defaults := sandbox.DefaultSeedConfig()
	cmd.Flags().String("institution", defaults.InstitutionName, "Institution name")
	cmd.Flags().Int("accounts", defaults.AccountCount, "Number of accounts")
	cmd.Flags().Int("contacts", defaults.ContactCount, "Number of crisis contacts")
	cmd.Flags().Int64("seed", 0, "Random seed (0 picks one)")
	return cmd
}

func withApp(ctx context.Context, fn func(context.Context, *app) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	a, err := newApp(ctx, cfg, newLogger(cfg))
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := newLogger(cfg)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("failed to start")
		return err
	}
	defer a.Close()
	logger.Info().Str("driver", cfg.DBDriver).Msg("connected to database")

	a.messages.Start(ctx, 4)

	e := newEcho(a)

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
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
		logger.Error().Err(err).Msg("server shutdown failed")
	}

	stop()
	a.messages.Wait()
	if pending := a.messages.Flush(shutdownCtx); pending > 0 {
		logger.Info().Int("count", pending).Msg("delivered queued notifications before exit")
	}
	logger.Info().Msg("server stopped")
	return nil
}

func newEcho(a *app) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(a.logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(a.logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.BodyLimit("64K"))
	e.Use(middleware.RequestTimeout(30 * time.Second))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: a.cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut},
		AllowHeaders: []string{"Content-Type", middleware.RequestIDHeader},
	}))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	e.GET("/health/db", db.HealthHandler(a.store.health))

	apiV1 := e.Group("/api/v1")
	apiV1.Use(middleware.RateLimit(middleware.DefaultRateLimitConfig()))

	screening.NewHandler(a.screening).RegisterRoutes(apiV1)
	directory.NewHandler(a.directory).RegisterRoutes(apiV1)
	notification.NewHandler(a.messages).RegisterRoutes(apiV1)

	return e
}
