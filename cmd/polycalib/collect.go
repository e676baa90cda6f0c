package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/rewired-gh/polycalib/internal/archive"
	"github.com/rewired-gh/polycalib/internal/collector"
	"github.com/rewired-gh/polycalib/internal/dataset"
	"github.com/rewired-gh/polycalib/internal/logger"
	"github.com/rewired-gh/polycalib/internal/models"
	"github.com/rewired-gh/polycalib/internal/polymarket"
	"github.com/rewired-gh/polycalib/internal/storage"
	"github.com/rewired-gh/polycalib/internal/telegram"
)

var collectFlags struct {
	strategy         string
	numMarkets       int
	weeksBack        int
	marketsPerWindow int
	maxTrades        int
	sampleThreshold  int
	category         string
	outputDir        string
	saveRaw          bool
	resume           bool
}

var collectCmd = &cobra.Command{
	Use:   "collect",
	Short: "Collect resolved markets and their trades into a dataset",
	Long: `Selects resolved markets (by volume or across weekly windows), fetches each
market's trades, and writes a flat CSV dataset. Progress is checkpointed after
every market, so an interrupted run resumes where it stopped.`,
	Args: cobra.NoArgs,
	RunE: runCollect,
}

func init() {
	f := collectCmd.Flags()
	f.StringVar(&collectFlags.strategy, "strategy", "", "Market selection strategy: volume or windowed")
	f.IntVar(&collectFlags.numMarkets, "num-markets", 0, "Markets to collect (volume strategy)")
	f.IntVar(&collectFlags.weeksBack, "weeks-back", 0, "Weekly windows to span (windowed strategy)")
	f.IntVar(&collectFlags.marketsPerWindow, "markets-per-window", 0, "Markets per window (windowed strategy)")
	f.IntVar(&collectFlags.maxTrades, "max-trades", 0, "Cap on trades kept per market (0 = sample threshold)")
	f.IntVar(&collectFlags.sampleThreshold, "sample-threshold", 0, "Trade count above which only the newest trades are kept")
	f.StringVar(&collectFlags.category, "category", "", "Only collect markets with this tag")
	f.StringVar(&collectFlags.outputDir, "output-dir", "", "Directory for dataset and checkpoint files")
	f.BoolVar(&collectFlags.saveRaw, "save-raw", false, "Also save raw Gamma market payloads")
	f.BoolVar(&collectFlags.resume, "resume", true, "Resume from an existing checkpoint")
}

func applyCollectFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	if f.Changed("strategy") {
		cfg.Collector.Strategy = collectFlags.strategy
	}
	if f.Changed("num-markets") {
		cfg.Collector.NumMarkets = collectFlags.numMarkets
	}
	if f.Changed("weeks-back") {
		cfg.Collector.WeeksBack = collectFlags.weeksBack
	}
	if f.Changed("markets-per-window") {
		cfg.Collector.MarketsPerWindow = collectFlags.marketsPerWindow
	}
	if f.Changed("max-trades") {
		cfg.Collector.MaxTradesPerMarket = collectFlags.maxTrades
	}
	if f.Changed("sample-threshold") {
		cfg.Collector.SampleThreshold = collectFlags.sampleThreshold
	}
	if f.Changed("category") {
		cfg.Collector.Category = collectFlags.category
	}
	if f.Changed("output-dir") {
		cfg.Storage.OutputDir = collectFlags.outputDir
	}
	if f.Changed("save-raw") {
		cfg.Storage.SaveRaw = collectFlags.saveRaw
	}
	if f.Changed("resume") {
		cfg.Storage.Resume = collectFlags.resume
	}
}

func runCollect(cmd *cobra.Command, args []string) error {
	applyCollectFlags(cmd)
	if err := validateConfig(); err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	polyClient := polymarket.NewClient(
		cfg.Polymarket.GammaAPIURL,
		cfg.Polymarket.DataAPIURL,
		cfg.Polymarket.Timeout,
		polymarket.ClientConfig{
			MinRequestInterval:  cfg.Polymarket.MinRequestInterval,
			MaxRetries:          cfg.Polymarket.MaxRetries,
			RetryDelayBase:      cfg.Polymarket.RetryDelayBase,
			MaxIdleConns:        cfg.Polymarket.MaxIdleConns,
			MaxIdleConnsPerHost: cfg.Polymarket.MaxIdleConnsPerHost,
			IdleConnTimeout:     cfg.Polymarket.IdleConnTimeout,
		},
	)

	rc := collector.RetryConfig{Retries: cfg.Polymarket.PageRetries, BackoffBase: cfg.Polymarket.PageBackoffBase}
	marketFetcher := collector.NewMarketFetcher(polyClient, cfg.Collector.MarketPageSize, rc)
	tradeFetcher := collector.NewTradeFetcher(polyClient, cfg.Collector.TradePageSize, cfg.Collector.SampleThreshold, rc)

	store := storage.New(cfg.Storage.OutputDir, cfg.Storage.FilePermissions, cfg.Storage.DirPermissions)
	checkpoint, err := storage.OpenCheckpoint(store.Path(storage.CheckpointFile), cfg.Storage.Resume,
		store.FilePermissions(), store.DirPermissions())
	if err != nil {
		return fmt.Errorf("failed to open checkpoint: %w", err)
	}
	defer func() {
		if err := checkpoint.Close(); err != nil {
			logger.Error("Failed to close checkpoint: %v", err)
		}
	}()

	notifier := newNotifier()

	c := collector.New(newStrategy(marketFetcher), tradeFetcher, store, checkpoint, collector.Options{
		MaxTradesPerMarket: cfg.Collector.MaxTradesPerMarket,
		Resume:             cfg.Storage.Resume,
		SaveRaw:            cfg.Storage.SaveRaw,
	})
	logger.Info("Starting collection run %s (output: %s)", c.RunID(), store.Dir())

	res, err := c.Run(ctx)
	if err != nil {
		notifyFailure(notifier, "collection", err)
		return err
	}

	// The log holds this run's markets and any checkpointed by earlier runs
	replayed, err := storage.ReplayCheckpoint(checkpoint.Path())
	if err != nil {
		return fmt.Errorf("failed to replay checkpoint: %w", err)
	}
	if replayed.Corrupt > 0 {
		logger.Warn("Skipped %d unreadable checkpoint lines", replayed.Corrupt)
	}

	asm := dataset.NewAssembler()
	asm.AddAll(replayed.Records)
	rows := asm.Rows()
	logDiscards(asm.Tally())

	name := dataset.FileName(time.Now())
	err = store.WriteFile(name, func(w io.Writer) error {
		return dataset.WriteCSV(w, rows)
	})
	if err != nil {
		notifyFailure(notifier, "collection", err)
		return fmt.Errorf("failed to write dataset: %w", err)
	}
	datasetPath := store.Path(name)
	logger.Info("Wrote %d rows to %s", len(rows), datasetPath)

	summary := dataset.Summarize(rows)
	printCollectionReport(os.Stdout, res, asm, summary, datasetPath)

	postCtx, cancel := notifyContext()
	defer cancel()

	if cfg.Storage.SQLitePath != "" {
		if err := saveSQLite(postCtx, rows); err != nil {
			logger.Error("SQLite sink failed: %v", err)
		}
	}

	if cfg.Archive.Enabled && !res.Interrupted {
		if err := archiveRun(postCtx, res.RunID, datasetPath, checkpoint.Path(), store.Path(storage.MarketsFile)); err != nil {
			logger.Error("Archive upload failed: %v", err)
		}
	}

	if notifier != nil {
		if err := notifier.SendCollection(postCtx, res, summary, asm.Tally()); err != nil {
			logger.Warn("Failed to send collection summary to Telegram: %v", err)
		}
	}
	return nil
}

func newStrategy(f *collector.MarketFetcher) collector.Strategy {
	if cfg.Collector.Strategy == "windowed" {
		return &collector.TimeWindowed{
			Fetcher:           f,
			Weeks:             cfg.Collector.WeeksBack,
			Window:            cfg.Collector.Window,
			MarketsPerWindow:  cfg.Collector.MarketsPerWindow,
			MaxPagesPerWindow: cfg.Collector.MaxPagesPerWindow,
			Category:          cfg.Collector.Category,
		}
	}
	return &collector.VolumeOrdered{
		Fetcher:    f,
		NumMarkets: cfg.Collector.NumMarkets,
		Category:   cfg.Collector.Category,
	}
}

func saveSQLite(ctx context.Context, rows []models.TradeRow) error {
	sink, err := storage.OpenSQLite(cfg.Storage.SQLitePath, cfg.Storage.DirPermissions)
	if err != nil {
		return err
	}
	defer sink.Close()

	inserted, err := sink.InsertRows(ctx, rows)
	if err != nil {
		return err
	}
	total, err := sink.Count(ctx)
	if err != nil {
		return err
	}
	logger.Info("SQLite: %d new rows, %d total in %s", inserted, total, cfg.Storage.SQLitePath)
	return nil
}

func archiveRun(ctx context.Context, runID string, paths ...string) error {
	a, err := archive.New(ctx, archive.Config{
		Endpoint:  cfg.Archive.Endpoint,
		Region:    cfg.Archive.Region,
		Bucket:    cfg.Archive.Bucket,
		Prefix:    cfg.Archive.Prefix,
		AccessKey: cfg.Archive.AccessKey,
		SecretKey: cfg.Archive.SecretKey,
		PartSize:  cfg.Archive.PartSizeMB * 1024 * 1024,
	})
	if err != nil {
		return err
	}

	var existing []string
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
		}
	}
	keys, err := a.UploadFiles(ctx, runID, existing...)
	if err != nil {
		return err
	}
	logger.Info("Archived %d files to bucket %s", len(keys), cfg.Archive.Bucket)
	return nil
}

func notifyFailure(notifier *telegram.Client, stage string, runErr error) {
	if notifier == nil {
		return
	}
	ctx, cancel := notifyContext()
	defer cancel()
	if err := notifier.SendError(ctx, stage, runErr); err != nil {
		logger.Warn("Failed to send error notification to Telegram: %v", err)
	}
}
