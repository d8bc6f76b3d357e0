// CIPulse - CI/CD Pipeline Analytics and Anomaly Features
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cipulse

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/tomtom215/cipulse/internal/cache"
	"github.com/tomtom215/cipulse/internal/config"
	"github.com/tomtom215/cipulse/internal/database"
	"github.com/tomtom215/cipulse/internal/etl"
	"github.com/tomtom215/cipulse/internal/export"
	"github.com/tomtom215/cipulse/internal/featureschema"
	"github.com/tomtom215/cipulse/internal/logging"
	"github.com/tomtom215/cipulse/internal/models"
	"github.com/tomtom215/cipulse/internal/supervisor"
	"github.com/tomtom215/cipulse/internal/supervisor/services"
)

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

type runOptions struct {
	windowDays        int
	featureWindowDays int
	featureVersion    int
}

func newRunCmd(g *globalOptions) *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one ingest, aggregate and feature pass",
		Long: `Run appends staged events newer than each source's watermark, recomputes
daily metrics for the last --window-days days (0 = all history) and publishes
feature vectors over the last --feature-window-days days. The run summary is
printed as JSON on stdout.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(g, func(c *config.Config) {
				flags := cmd.Flags()
				if flags.Changed("window-days") {
					c.ETL.ReprocessWindowDays = opts.windowDays
				}
				if flags.Changed("feature-window-days") {
					c.ETL.FeatureWindowDays = opts.featureWindowDays
				}
				if flags.Changed("feature-version") {
					c.ETL.FeatureVersion = opts.featureVersion
				}
			})
			if err != nil {
				return err
			}
			ctx, stop := signalContext()
			defer stop()
			return runOnce(ctx, cfg, cmd.OutOrStdout())
		},
	}
	cmd.Flags().IntVar(&opts.windowDays, "window-days", 3, "metrics re-aggregation window in days, 0 = all history")
	cmd.Flags().IntVar(&opts.featureWindowDays, "feature-window-days", 30, "feature window in days, forced to 0 with --window-days 0")
	cmd.Flags().IntVar(&opts.featureVersion, "feature-version", 0, "feature schema version, 0 = registry current")
	return cmd
}

func runOnce(ctx context.Context, cfg *config.Config, out io.Writer) error {
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer closeDatabase(db)

	p, err := newPipeline(cfg, db)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := p.Close(); cerr != nil {
			logging.Warn().Err(cerr).Msg("Error closing run lock")
		}
	}()

	stats, runErr := p.orchestrator.Run(ctx, etl.DefaultParams(&cfg.ETL))
	if stats != nil {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(stats); err != nil {
			return errors.Join(runErr, err)
		}
	}
	return runErr
}

func newServeCmd(g *globalOptions) *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run on the configured schedule and serve ops endpoints",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(g, func(c *config.Config) {
				if cmd.Flags().Changed("listen") {
					c.Schedule.ListenAddr = listen
				}
			})
			if err != nil {
				return err
			}
			ctx, stop := signalContext()
			defer stop()
			return serve(ctx, cfg)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "ops HTTP listen address (overrides schedule.listen_addr)")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config) error {
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer closeDatabase(db)

	p, err := newPipeline(cfg, db)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := p.Close(); cerr != nil {
			logging.Warn().Err(cerr).Msg("Error closing run lock")
		}
	}()

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.TreeConfig{
		ShutdownTimeout: cfg.ETL.RunTimeout + 10*time.Second,
	})
	if err != nil {
		return fmt.Errorf("create supervisor tree: %w", err)
	}

	if cfg.Schedule.Cron != "" {
		tree.AddETLService(services.NewScheduleService(
			p.orchestrator, cfg.Schedule.Cron, etl.DefaultParams(&cfg.ETL), cfg.Schedule.RunOnStart))
	} else {
		logging.Warn().Msg("No schedule configured, serving ops endpoints only")
	}

	online := cache.NewOnlineFeatures(db, p.registry, cfg.Schedule.FeatureCacheSize, cfg.Schedule.FeatureCacheTTL)
	server := &http.Server{
		Addr:              cfg.Schedule.ListenAddr,
		Handler:           services.NewOpsRouter(db, services.WithFeatureLookup(online)),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
	}
	tree.AddOpsService(services.NewHTTPServerService(server, 10*time.Second))

	logging.Info().
		Str("listen_addr", cfg.Schedule.ListenAddr).
		Str("schedule", cfg.Schedule.Cron).
		Str("lock_backend", cfg.Lock.Backend).
		Msg("Starting CIPulse supervisor tree")

	err = tree.Serve(ctx)
	if errors.Is(err, context.Canceled) {
		logging.Info().Msg("Shutdown complete")
		return nil
	}
	if report, rerr := tree.UnstoppedServiceReport(); rerr == nil && len(report) > 0 {
		logging.Warn().Int("count", len(report)).Msg("Services did not stop within the shutdown timeout")
	}
	return err
}

type exportOptions struct {
	out     string
	from    string
	to      string
	version int
	verify  bool
}

func newExportCmd(g *globalOptions) *cobra.Command {
	opts := &exportOptions{}
	cmd := &cobra.Command{
		Use:   "export-offline",
		Short: "Write offline feature vectors to a Parquet file",
		Long: `Export reads the offline feature store, decodes every payload against its
registered schema version and writes one Parquet row per (entity, version,
event day). --from is inclusive and --to exclusive; both take YYYY-MM-DD.
--verify re-reads the published file and checks its row count.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			filter, err := opts.filter()
			if err != nil {
				return err
			}
			cfg, err := loadConfig(g, nil)
			if err != nil {
				return err
			}
			ctx, stop := signalContext()
			defer stop()

			db, err := openDatabase(cfg)
			if err != nil {
				return err
			}
			defer closeDatabase(db)

			registry, err := featureschema.Load(cfg.Features.SchemaDir)
			if err != nil {
				return fmt.Errorf("load feature schemas: %w", err)
			}
			n, err := export.NewExporter(db, registry).WriteFile(ctx, opts.out, filter)
			if err != nil {
				return err
			}
			if opts.verify {
				if err := export.VerifyFile(opts.out, n, registry); err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "exported %d rows to %s\n", n, opts.out)
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.out, "out", "", "output Parquet file (required)")
	cmd.Flags().StringVar(&opts.from, "from", "", "first event day to include, YYYY-MM-DD")
	cmd.Flags().StringVar(&opts.to, "to", "", "first event day to exclude, YYYY-MM-DD")
	cmd.Flags().IntVar(&opts.version, "version", 0, "export only this feature version, 0 = all")
	cmd.Flags().BoolVar(&opts.verify, "verify", false, "re-read the written file and compare row counts")
	_ = cmd.MarkFlagRequired("out")
	return cmd
}

func (o *exportOptions) filter() (database.OfflineFilter, error) {
	f := database.OfflineFilter{Version: o.version}
	if o.version < 0 {
		return f, fmt.Errorf("--version must be >= 0")
	}
	var err error
	if o.from != "" {
		if f.From, err = models.ParseTimestamp(o.from); err != nil {
			return f, fmt.Errorf("--from: %w", err)
		}
	}
	if o.to != "" {
		if f.To, err = models.ParseTimestamp(o.to); err != nil {
			return f, fmt.Errorf("--to: %w", err)
		}
	}
	if !f.From.IsZero() && !f.To.IsZero() && !f.From.Before(f.To) {
		return f, fmt.Errorf("--from (%s) must be before --to (%s)", o.from, o.to)
	}
	return f, nil
}

func newWatermarksCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "watermarks",
		Short: "Print per-source watermarks and the last run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(g, nil)
			if err != nil {
				return err
			}
			db, err := openDatabase(cfg)
			if err != nil {
				return err
			}
			defer closeDatabase(db)
			return printWatermarks(cmd.Context(), db, cmd.OutOrStdout())
		},
	}
}

// statusStore is what printWatermarks reads.
type statusStore interface {
	ListWatermarks(ctx context.Context) ([]models.Watermark, error)
	LastRun(ctx context.Context) (*models.RunStats, error)
}

func printWatermarks(ctx context.Context, store statusStore, out io.Writer) error {
	wms, err := store.ListWatermarks(ctx)
	if err != nil {
		return err
	}
	last, err := store.LastRun(ctx)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SOURCE\tWATERMARK\tUPDATED")
	if len(wms) == 0 {
		fmt.Fprintln(tw, "(none)\t-\t-")
	}
	for _, w := range wms {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", w.Source, w.LastTS.Format(time.RFC3339), w.UpdatedAt.Format(time.RFC3339))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if last == nil {
		_, err = fmt.Fprintln(out, "\nlast run: none")
		return err
	}
	_, err = fmt.Fprintf(out, "\nlast run: %s %s at %s (%s)\n",
		last.RunID, last.State, last.FinishedAt.Format(time.RFC3339), last.Duration().Round(time.Millisecond))
	if err == nil && last.Error != "" {
		_, err = fmt.Fprintf(out, "error: %s\n", last.Error)
	}
	return err
}
