// Package cmd defines the CLI commands of the jobs-ingest executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/jobs-ingest/internal/app"
	"github.com/JakeFAU/jobs-ingest/internal/config"
	"github.com/JakeFAU/jobs-ingest/internal/ingest"
	"github.com/JakeFAU/jobs-ingest/internal/logging"
)

var cfgFile string

// appKeyType is the key for storing the runtime in the context.
type appKeyType string

const appKey appKeyType = "app"

// App is the part of *app.App the commands use. Tests inject a fake.
type App interface {
	Serve(ctx context.Context) error
	Ingest(ctx context.Context, ownerID string, flags ingest.Flags, poll time.Duration) (ingest.Run, error)
	Migrate(ctx context.Context) error
	Sources() []ingest.Source
	Settings() ingest.SettingsStore
	Close(ctx context.Context) error
}

// runtime is what PersistentPreRunE hands to subcommands.
type runtime struct {
	app    App
	cfg    config.Config
	logger *zap.Logger
}

// newApp is the application factory; tests replace it.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (App, error) {
	return app.Build(ctx, cfg, logger)
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs-ingest",
		Short: "Ingests job postings from company career sites.",
		Long: `jobs-ingest discovers job postings from configured career sites, fetches
each posting page, skips pages whose content has not changed and extracts the
description and requirements into the posting store.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			logger, err := logging.New(logging.Config{
				Development: cfg.Logging.Development,
				Level:       cfg.Logging.Level,
			})
			if err != nil {
				return err
			}
			appInstance, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			rt := &runtime{app: appInstance, cfg: cfg, logger: logger}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, rt))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			rt, err := resolveRuntime(cmd.Context())
			if err != nil {
				return
			}
			if err := rt.app.Close(context.Background()); err != nil {
				rt.logger.Warn("failed to close application", zap.Error(err))
			}
			_ = rt.logger.Sync()
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML); INGEST_* environment variables override it")

	cmd.AddCommand(
		newServeCmd(),
		newRunCmd(),
		newMigrateCmd(),
		newSourcesCmd(),
	)
	return cmd
}

func resolveRuntime(ctx context.Context) (*runtime, error) {
	if ctx == nil {
		return nil, errors.New("application services not initialized")
	}
	rt, ok := ctx.Value(appKey).(*runtime)
	if !ok || rt == nil {
		return nil, errors.New("application services not initialized")
	}
	return rt, nil
}

// Execute is the main entry point.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
