package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/jobs-ingest/internal/app"
	"github.com/JakeFAU/jobs-ingest/internal/ingest"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Runs the HTTP API and the pipeline worker pools",
		Long: `Starts the coordinator, crawl and extract worker pools and the HTTP API.
When the scheduler is enabled, runs are triggered for every owner with an
enabled source on the configured cron spec.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := resolveRuntime(cmd.Context())
			if err != nil {
				return err
			}
			return rt.app.Serve(cmd.Context())
		},
	}
}

func newRunCmd() *cobra.Command {
	var (
		owner string
		force bool
		alt   bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Triggers one run for an owner and waits for it to finish",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := resolveRuntime(cmd.Context())
			if err != nil {
				return err
			}
			flags := ingest.Flags{Force: force, UseAltStorage: alt}
			rt.logger.Info("starting run", zap.String("owner_id", owner), zap.Bool("force", force), zap.Bool("alt", alt))

			run, err := rt.app.Ingest(cmd.Context(), owner, flags, app.DefaultPollInterval)
			if err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("run failed: %w", err)
			}
			out, err := json.MarshalIndent(run, "", "  ")
			if err != nil {
				return fmt.Errorf("encode run: %w", err)
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), string(out))
			if run.Status == ingest.RunStatusError {
				return fmt.Errorf("run %s ended in error: %s", run.ID, run.ErrorMessage)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "owner id to ingest for")
	cmd.Flags().BoolVar(&force, "force", false, "re-extract postings even when content is unchanged")
	cmd.Flags().BoolVar(&alt, "alt", false, "write to the alternate stores")
	_ = cmd.MarkFlagRequired("owner")
	return cmd
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Applies the Postgres schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := resolveRuntime(cmd.Context())
			if err != nil {
				return err
			}
			if err := rt.app.Migrate(cmd.Context()); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			return nil
		},
	}
}

func newSourcesCmd() *cobra.Command {
	var owner string
	cmd := &cobra.Command{
		Use:   "sources",
		Short: "Lists supported sources, or an owner's enabled source settings",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := resolveRuntime(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if owner == "" {
				for _, s := range rt.app.Sources() {
					_, _ = fmt.Fprintln(out, s)
				}
				return nil
			}
			settings, err := rt.app.Settings().EnabledSettings(cmd.Context(), owner)
			if err != nil {
				return fmt.Errorf("load settings: %w", err)
			}
			for _, s := range settings {
				_, _ = fmt.Fprintf(out, "%s\tinclude=%v\texclude=%v\n", s.Source, s.Filter.Include, s.Filter.Exclude)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "show enabled settings for this owner")
	return cmd
}
