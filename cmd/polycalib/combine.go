package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/rewired-gh/polycalib/internal/dataset"
	"github.com/rewired-gh/polycalib/internal/logger"
	"github.com/rewired-gh/polycalib/internal/storage"
)

var combineFlags struct {
	output        string
	sampleMarkets int
	seed          uint64
}

var combineCmd = &cobra.Command{
	Use:   "combine dataset.csv [dataset.csv ...]",
	Short: "Merge dataset files, dropping duplicate trades",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runCombine,
}

func init() {
	f := combineCmd.Flags()
	f.StringVarP(&combineFlags.output, "output", "o", "", "Output file (default: a new dataset in the output directory)")
	f.IntVar(&combineFlags.sampleMarkets, "sample-markets", 0, "Keep all trades of this many randomly chosen markets (0 = keep all)")
	f.Uint64Var(&combineFlags.seed, "seed", 42, "Random seed for --sample-markets")
}

func runCombine(cmd *cobra.Command, args []string) error {
	if err := validateConfig(); err != nil {
		return err
	}

	res, err := dataset.Combine(args)
	if err != nil {
		return err
	}

	if combineFlags.sampleMarkets > 0 {
		before := dataset.Summarize(res.Rows).Markets
		res.Rows = dataset.SampleMarkets(res.Rows, combineFlags.sampleMarkets, combineFlags.seed)
		logger.Info("Sampled %d of %d markets (seed %d): %d rows kept",
			min(combineFlags.sampleMarkets, before), before, combineFlags.seed, len(res.Rows))
	}

	out := combineFlags.output
	if out == "" {
		out = filepath.Join(cfg.Storage.OutputDir, dataset.FileName(time.Now()))
	}
	store := storage.New(filepath.Dir(out), cfg.Storage.FilePermissions, cfg.Storage.DirPermissions)
	err = store.WriteFile(filepath.Base(out), func(w io.Writer) error {
		return dataset.WriteCSV(w, res.Rows)
	})
	if err != nil {
		return fmt.Errorf("failed to write combined dataset: %w", err)
	}
	logger.Info("Combined %d files: %d rows read, %d duplicates dropped, %d invalid rows discarded",
		res.Files, res.Read, res.Duplicates, res.Discarded.Total())
	logDiscards(res.Discarded)

	fmt.Println(rule)
	fmt.Println("COMBINED DATASET")
	fmt.Println(rule)
	printDatasetSummary(os.Stdout, dataset.Summarize(res.Rows))
	printDiscards(os.Stdout, res.Discarded)
	fmt.Printf("\nWritten to: %s\n", out)
	return nil
}
