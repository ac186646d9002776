package cmd

import (
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/savagescraper/savage/internal/browser"
	"github.com/savagescraper/savage/internal/config"
	"github.com/savagescraper/savage/internal/input"
	"github.com/savagescraper/savage/internal/logging"
	"github.com/savagescraper/savage/internal/runner"
	"github.com/savagescraper/savage/internal/scrape"
	"github.com/savagescraper/savage/internal/scrapers"
	"github.com/savagescraper/savage/internal/snapshot"
	"github.com/savagescraper/savage/internal/store"
)

type runFlags struct {
	scraper       string
	workers       int
	configDir     string
	outputDir     string
	logsDir       string
	errorPagesDir string
	inputFile     string
	headless      bool
	translate     bool
	static        bool
	dev           bool
	pgDSN         string
	userAgent     string
}

func newRunCmd() *cobra.Command {
	flags := runFlags{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Runs a scraper across a worker pool",
		Long: `Loads the item list, skips items already present in the output,
splits the rest evenly across workers, and streams results to the
output store through a single writer.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPipeline(cmd, flags)
		},
	}

	cmd.Flags().StringVarP(&flags.scraper, "scraper", "s", "",
		fmt.Sprintf("scraper to run (%s)", strings.Join(scrapers.Names(), ", ")))
	cmd.Flags().IntVarP(&flags.workers, "workers", "w", 4, "number of parallel workers")
	cmd.Flags().StringVar(&flags.configDir, "config-dir", "./config", "directory holding config.json")
	cmd.Flags().StringVar(&flags.outputDir, "output-dir", "./results", "directory for output files")
	cmd.Flags().StringVar(&flags.logsDir, "logs-dir", "./logs", "directory for run logs")
	cmd.Flags().StringVar(&flags.errorPagesDir, "error-pages-dir", "./error_pages",
		"directory for unrecovered error page snapshots")
	cmd.Flags().StringVarP(&flags.inputFile, "input", "i", "",
		"input CSV of items to process (defaults to a single item built from base_url)")
	cmd.Flags().BoolVar(&flags.headless, "headless", true, "run the browser headless")
	cmd.Flags().BoolVar(&flags.translate, "translate", false, "allow the browser to translate pages")
	cmd.Flags().BoolVar(&flags.static, "static", false,
		"fetch pages over plain HTTP without a browser (CSS selectors only)")
	cmd.Flags().BoolVar(&flags.dev, "dev", false, "verbose console logging")
	cmd.Flags().StringVar(&flags.pgDSN, "pg-dsn", "",
		"write results to Postgres at this DSN instead of CSV")
	cmd.Flags().StringVar(&flags.userAgent, "user-agent", "", "override the browser user agent")
	_ = cmd.MarkFlagRequired("scraper")

	return cmd
}

func runPipeline(cmd *cobra.Command, flags runFlags) error {
	logger, err := logging.NewRunLogger(flags.logsDir, flags.scraper, flags.dev)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load(flags.configDir)
	if err != nil {
		return err
	}

	behavior, err := scrapers.New(flags.scraper, cfg)
	if err != nil {
		return err
	}

	var items []scrape.Item
	if flags.inputFile != "" {
		items, err = input.LoadCSV(flags.inputFile, behavior.TrackingKey(), logger)
		if err != nil {
			return err
		}
	} else {
		items = input.Single(behavior.TrackingKey(), cfg.BaseURL)
	}
	if len(items) == 0 {
		logger.Info("no items to process")
		return nil
	}

	recordStore, err := buildStore(cmd, flags, cfg, behavior, logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := recordStore.Close(cmd.Context()); cerr != nil {
			logger.Warn("store close failed", zap.Error(cerr))
		}
	}()

	snapshots, err := snapshot.NewSink(flags.errorPagesDir, logger)
	if err != nil {
		return err
	}

	r, err := runner.New(runner.Params{
		Behavior:  behavior,
		Items:     items,
		Workers:   flags.workers,
		Config:    cfg,
		Sessions:  buildSessionFactory(flags, cfg, logger),
		Store:     recordStore,
		Snapshots: snapshots,
		Registry:  prometheus.NewRegistry(),
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	summary, err := r.Run(cmd.Context())
	if err != nil {
		return err
	}
	if summary.Failed > 0 {
		logger.Warn("run completed with failures",
			zap.Int("failed", summary.Failed),
			zap.Int("completed", summary.Completed))
	}
	return nil
}

func buildStore(
	cmd *cobra.Command,
	flags runFlags,
	cfg config.Config,
	behavior scrape.Behavior,
	logger *zap.Logger,
) (store.RecordStore, error) {
	if flags.pgDSN != "" {
		return store.NewPostgresStore(cmd.Context(), store.PostgresStoreConfig{
			DSN:      flags.pgDSN,
			Table:    behavior.Name() + "_results",
			KeyField: behavior.ResumeKeyField(),
		})
	}
	return store.NewCSVStore(behavior.OutputFile(flags.outputDir), cfg.Run.LockTimeout, logger)
}

func buildSessionFactory(flags runFlags, cfg config.Config, logger *zap.Logger) scrape.SessionFactory {
	if flags.static {
		return browser.NewStaticFactory(browser.StaticOptions{
			UserAgent:      flags.userAgent,
			RequestTimeout: cfg.Run.NavTimeout,
			Logger:         logger,
		})
	}
	return browser.NewChromeFactory(browser.ChromeOptions{
		Headless:  flags.headless,
		Translate: flags.translate,
		UserAgent: flags.userAgent,
		Logger:    logger,
	})
}

func newScrapersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scrapers",
		Short: "Lists the available scrapers",
		Run: func(cmd *cobra.Command, _ []string) {
			for _, name := range scrapers.Names() {
				cmd.Println(name)
			}
		},
	}
}
