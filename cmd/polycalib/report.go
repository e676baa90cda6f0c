package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/rewired-gh/polycalib/internal/calibration"
	"github.com/rewired-gh/polycalib/internal/collector"
	"github.com/rewired-gh/polycalib/internal/dataset"
	"github.com/rewired-gh/polycalib/internal/logger"
)

var rule = strings.Repeat("=", 80)

func comma(n int) string {
	return humanize.Comma(int64(n))
}

// printCollectionReport displays the outcome of a collection run
func printCollectionReport(w io.Writer, res *collector.Result, asm *dataset.Assembler, summary dataset.Summary, path string) {
	fmt.Fprintln(w, rule)
	if res.Interrupted {
		fmt.Fprintln(w, "COLLECTION INTERRUPTED (partial dataset written; rerun to resume)")
	} else {
		fmt.Fprintln(w, "COLLECTION SUMMARY")
	}
	fmt.Fprintln(w, rule)

	st := res.Stats
	fmt.Fprintf(w, "Run:                 %s (%s strategy, %s)\n", res.RunID, res.Strategy, res.Duration.Round(time.Second))
	fmt.Fprintf(w, "Markets selected:    %s\n", comma(st.Selected))
	fmt.Fprintf(w, "  processed:         %s\n", comma(st.Processed))
	fmt.Fprintf(w, "  with trades:       %s\n", comma(st.WithTrades))
	fmt.Fprintf(w, "  no trades:         %s\n", comma(st.NoTrades))
	fmt.Fprintf(w, "  resumed:           %s\n", comma(st.Resumed))
	fmt.Fprintf(w, "  failed:            %s\n", comma(st.Failed))
	fmt.Fprintf(w, "  sampled:           %s\n", comma(st.Sampled))
	if sel := res.Selection; sel != nil && (sel.Unresolved > 0 || sel.FailedPages > 0) {
		fmt.Fprintf(w, "Skipped unresolved:  %s (%d failed pages)\n", comma(sel.Unresolved), sel.FailedPages)
	}

	if d := st.Distribution(); st.WithTrades > 0 {
		fmt.Fprintln(w, "\nTrades per market (this run):")
		fmt.Fprintf(w, "  min %d / median %d / max %d / mean %.1f\n", d.Min, d.Median, d.Max, d.Mean)
		fmt.Fprintf(w, "  <10: %d  <50: %d  <100: %d  >=100: %d\n", d.Under10, d.Under50, d.Under100, d.AtLeast100)
	}

	printDiscards(w, asm.Tally())
	if dup := asm.Duplicates(); dup > 0 {
		fmt.Fprintf(w, "Duplicate rows dropped: %s\n", comma(dup))
	}

	fmt.Fprintln(w)
	printDatasetSummary(w, summary)
	fmt.Fprintf(w, "\nDataset: %s\n", path)
	fmt.Fprintln(w, rule)
}

// printDiscards lists rows excluded by the data-quality checks, if any
func printDiscards(w io.Writer, tally dataset.DiscardTally) {
	if tally.Total() == 0 {
		return
	}
	fmt.Fprintf(w, "\nDiscarded rows: %s\n", comma(tally.Total()))
	for _, reason := range tally.Reasons() {
		fmt.Fprintf(w, "  %-30s %s\n", reason, comma(tally[reason]))
	}
}

func logDiscards(tally dataset.DiscardTally) {
	for _, reason := range tally.Reasons() {
		logger.Warn("Discarded %d rows: %s", tally[reason], reason)
	}
}

// printDatasetSummary displays dataset-wide statistics
func printDatasetSummary(w io.Writer, s dataset.Summary) {
	fmt.Fprintf(w, "Total trades:        %s\n", comma(s.Trades))
	fmt.Fprintf(w, "Unique markets:      %s (%s sampled)\n", comma(s.Markets), comma(s.SampledMarkets))
	if s.Trades == 0 {
		return
	}
	fmt.Fprintf(w, "Date range:          %s to %s\n", s.First.Format("2006-01-02"), s.Last.Format("2006-01-02"))
	fmt.Fprintf(w, "Overall win rate:    %.1f%%\n", s.WinRate*100)
	fmt.Fprintf(w, "Average price:       %.1f¢\n", s.AvgPrice*100)

	fmt.Fprintln(w, "\nOutcomes:")
	printCounts(w, s.Outcomes, s.Trades, 10)
	fmt.Fprintln(w, "\nCategories:")
	printCounts(w, s.Categories, s.Trades, 10)
}

func printCounts(w io.Writer, counts []dataset.Count, total, limit int) {
	for i, c := range counts {
		if i == limit {
			fmt.Fprintf(w, "  ... and %d more\n", len(counts)-limit)
			break
		}
		fmt.Fprintf(w, "  %-28s %10s  (%.1f%%)\n", c.Label, comma(c.N), float64(c.N)/float64(total)*100)
	}
}

// printCalibrationReport displays every stratum's curves and error summary
func printCalibrationReport(w io.Writer, report *calibration.Report) {
	cfg := report.Config
	fmt.Fprintln(w, rule)
	fmt.Fprintln(w, "CALIBRATION REPORT")
	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "Trades analyzed: %s", comma(report.Trades))
	if report.Filtered > 0 {
		fmt.Fprintf(w, " (%s excluded by side filter %s)", comma(report.Filtered), strings.ToUpper(cfg.Side))
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Buckets: %s, width %.0f¢ | min samples %d | confidence %.0f%% | market cap %.0f | stratify: %s\n",
		cfg.Mode, cfg.Width()*100, cfg.MinSamples, cfg.Confidence*100, cfg.MarketCap, cfg.Stratify)

	for _, s := range report.Strata {
		fmt.Fprintf(w, "\n%s\n", strings.Repeat("-", 80))
		fmt.Fprintf(w, "%s: %s trades, %s markets", s.Name, comma(s.Trades), comma(s.Markets))
		if s.SampledMarkets > 0 {
			fmt.Fprintf(w, " (%s sampled markets, %s trades)", comma(s.SampledMarkets), comma(s.SampledTrades))
		}
		fmt.Fprintln(w)

		for _, c := range []*calibration.Curve{s.Unweighted, s.Weighted} {
			if c != nil {
				printCurve(w, c)
			}
		}

		if len(s.Insufficient) > 0 {
			labels := make([]string, 0, len(s.Insufficient))
			for _, b := range s.Insufficient {
				labels = append(labels, fmt.Sprintf("%s (n=%d)", b.Label(), b.Trades))
			}
			fmt.Fprintf(w, "\n  Insufficient data (< %d trades): %s\n", cfg.MinSamples, strings.Join(labels, ", "))
		}
	}
	fmt.Fprintln(w, rule)
}

func printCurve(w io.Writer, c *calibration.Curve) {
	view := "Unweighted"
	nLabel := "n"
	if c.Weighted {
		view = "Market-capped"
		nLabel = "n_eff"
	}
	fmt.Fprintf(w, "\n  %s\n", view)
	if len(c.Points) == 0 {
		fmt.Fprintln(w, "  no bucket has enough trades")
		return
	}

	fmt.Fprintf(w, "  %-14s %8s %8s %9s %17s %10s %8s\n", "Bucket", "Trades", nLabel, "Win rate", "CI", "Deviation", "Markets")
	for _, p := range c.Points {
		n := fmt.Sprintf("%.0f", p.EffectiveN)
		fmt.Fprintf(w, "  %-14s %8d %8s %8.1f%% %7.1f%% - %5.1f%% %+9.1f¢ %8d\n",
			p.Label(), p.Trades, n, p.WinRate*100, p.CILower*100, p.CIUpper*100, p.DeviationCents, p.Markets)
	}
	fmt.Fprintf(w, "  MACE %.2f¢ | mean deviation %+.2f¢ over %s trades | %s\n",
		c.MACECents, c.MeanDeviationCents, comma(c.Trades), c.Verdict)
}
