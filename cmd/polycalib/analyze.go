package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"

	"github.com/rewired-gh/polycalib/internal/calibration"
	"github.com/rewired-gh/polycalib/internal/config"
	"github.com/rewired-gh/polycalib/internal/dataset"
	"github.com/rewired-gh/polycalib/internal/logger"
	"github.com/rewired-gh/polycalib/internal/models"
	"github.com/rewired-gh/polycalib/internal/storage"
)

var analyzeFlags struct {
	mode       string
	width      float64
	minSamples int
	confidence float64
	weighting  string
	marketCap  int
	stratify   string
	side       string
	fromSQLite bool
	notify     bool
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze [dataset.csv ...]",
	Short: "Measure price calibration of a collected dataset",
	Long: `Buckets trades by price and compares each bucket's win rate with its price.
With no arguments the newest dataset in the output directory is analyzed;
several files are merged and deduplicated first.`,
	RunE: runAnalyze,
}

func init() {
	f := analyzeCmd.Flags()
	f.StringVar(&analyzeFlags.mode, "mode", "", "Bucketing: fixed or cent")
	f.Float64Var(&analyzeFlags.width, "width", 0, "Bucket width for fixed mode, e.g. 0.05")
	f.IntVar(&analyzeFlags.minSamples, "min-samples", 0, "Minimum trades for a bucket to be reported")
	f.Float64Var(&analyzeFlags.confidence, "confidence", 0, "Confidence level of the Wilson interval")
	f.StringVar(&analyzeFlags.weighting, "weighting", "", "unweighted, weighted or both")
	f.IntVar(&analyzeFlags.marketCap, "market-cap", 0, "Max equivalent trades per market per bucket")
	f.StringVar(&analyzeFlags.stratify, "stratify", "", "none, side, outcome, time_to_resolution, category or liquidity")
	f.StringVar(&analyzeFlags.side, "side", "", "Only analyze BUY or SELL trades")
	f.BoolVar(&analyzeFlags.fromSQLite, "from-sqlite", false, "Read rows from the configured SQLite database")
	f.BoolVar(&analyzeFlags.notify, "notify", false, "Send the summary to Telegram")
}

func applyAnalyzeFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	a := &cfg.Analysis
	if f.Changed("mode") {
		a.BucketMode = analyzeFlags.mode
	}
	if f.Changed("width") {
		a.BucketWidth = analyzeFlags.width
	}
	if f.Changed("min-samples") {
		a.MinSamples = analyzeFlags.minSamples
	}
	if f.Changed("confidence") {
		a.Confidence = analyzeFlags.confidence
	}
	if f.Changed("weighting") {
		a.Weighting = analyzeFlags.weighting
	}
	if f.Changed("market-cap") {
		a.MarketCap = analyzeFlags.marketCap
	}
	if f.Changed("stratify") {
		a.Stratify = analyzeFlags.stratify
	}
	if f.Changed("side") {
		a.Side = analyzeFlags.side
	}
}

func analysisConfig(a config.AnalysisConfig) calibration.Config {
	return calibration.Config{
		BucketWidth:      a.BucketWidth,
		Mode:             a.BucketMode,
		MinSamples:       a.MinSamples,
		Confidence:       a.Confidence,
		Weighting:        a.Weighting,
		MarketCap:        float64(a.MarketCap),
		Stratify:         a.Stratify,
		Side:             a.Side,
		TimeBucketsHours: a.TimeBucketsHours,
		LiquidityTiers:   a.LiquidityTiers,
	}
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	applyAnalyzeFlags(cmd)
	if err := validateConfig(); err != nil {
		return err
	}

	rows, discarded, err := loadRows(cmd.Context(), args)
	if err != nil {
		return err
	}
	logDiscards(discarded)
	printDatasetSummary(os.Stdout, dataset.Summarize(rows))
	printDiscards(os.Stdout, discarded)
	fmt.Println()

	report, err := calibration.Analyze(rows, analysisConfig(cfg.Analysis))
	if err != nil {
		return fmt.Errorf("analysis failed: %w", err)
	}
	printCalibrationReport(os.Stdout, report)

	if analyzeFlags.notify {
		notifier := newNotifier()
		if notifier == nil {
			logger.Warn("--notify given but Telegram is not enabled")
			return nil
		}
		ctx, cancel := notifyContext()
		defer cancel()
		if err := notifier.SendCalibration(ctx, report); err != nil {
			logger.Warn("Failed to send calibration summary to Telegram: %v", err)
		}
	}
	return nil
}

// loadRows reads the analysis input from SQLite, the given files, or the
// newest dataset in the output directory. Rows failing the data-quality
// checks are dropped and tallied.
func loadRows(ctx context.Context, paths []string) ([]models.TradeRow, dataset.DiscardTally, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	if analyzeFlags.fromSQLite {
		if cfg.Storage.SQLitePath == "" {
			return nil, nil, fmt.Errorf("--from-sqlite requires storage.sqlite_path")
		}
		sink, err := storage.OpenSQLite(cfg.Storage.SQLitePath, cfg.Storage.DirPermissions)
		if err != nil {
			return nil, nil, err
		}
		defer sink.Close()
		rows, err := sink.LoadRows(ctx)
		if err != nil {
			return nil, nil, err
		}
		rows, discarded := dataset.FilterRows(rows)
		logger.Info("Loaded %d rows from %s", len(rows), cfg.Storage.SQLitePath)
		return rows, discarded, nil
	}

	if len(paths) == 0 {
		latest, err := latestDataset(cfg.Storage.OutputDir)
		if err != nil {
			return nil, nil, err
		}
		paths = []string{latest}
	}

	res, err := dataset.Combine(paths)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("Loaded %d rows from %d files (%d duplicates dropped, %d invalid)",
		len(res.Rows), res.Files, res.Duplicates, res.Discarded.Total())
	return res.Rows, res.Discarded, nil
}

// latestDataset returns the newest polymarket_trades_*.csv in dir. File names
// carry a sortable timestamp.
func latestDataset(dir string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "polymarket_trades_*.csv"))
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("no dataset found in %s; run collect first or pass a file", dir)
	}
	sort.Strings(matches)
	return matches[len(matches)-1], nil
}
