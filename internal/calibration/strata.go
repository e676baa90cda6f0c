package calibration

import (
	"fmt"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/rewired-gh/polycalib/internal/models"
)

const (
	allStratum           = "all"
	uncategorizedStratum = "uncategorized"
)

// tiers maps a continuous value onto labelled half-open ranges
type tiers struct {
	edges  []float64
	labels []string
}

func (t tiers) index(v float64) int {
	return sort.Search(len(t.edges), func(i int) bool { return v < t.edges[i] })
}

func newTimeTiers(edges []float64) tiers {
	return tiers{edges: edges, labels: tierLabels(edges, formatHours)}
}

func newLiquidityTiers(edges []float64) tiers {
	return tiers{edges: edges, labels: tierLabels(edges, formatUSD)}
}

func tierLabels(edges []float64, format func(float64) string) []string {
	labels := make([]string, 0, len(edges)+1)
	labels = append(labels, "<"+format(edges[0]))
	for i := 1; i < len(edges); i++ {
		labels = append(labels, format(edges[i-1])+"-"+format(edges[i]))
	}
	labels = append(labels, ">="+format(edges[len(edges)-1]))
	return labels
}

// formatHours prints whole days as "7d" and anything else in hours
func formatHours(h float64) string {
	if h >= 24 && int64(h)%24 == 0 && h == float64(int64(h)) {
		return fmt.Sprintf("%dd", int64(h)/24)
	}
	return humanize.FtoaWithDigits(h, 2) + "h"
}

func formatUSD(v float64) string {
	return "$" + humanize.Comma(int64(v))
}

// stratifier assigns each row to a named stratum and orders the strata
type stratifier struct {
	key   func(r *models.TradeRow) string
	order []string // fixed order for tiered dimensions; nil sorts by size
}

func newStratifier(cfg *Config) stratifier {
	switch cfg.Stratify {
	case StratifySide:
		return stratifier{key: func(r *models.TradeRow) string { return strings.ToUpper(r.Side) }}
	case StratifyOutcome:
		return stratifier{key: func(r *models.TradeRow) string { return r.Outcome }}
	case StratifyCategory:
		return stratifier{key: func(r *models.TradeRow) string {
			if r.Category == "" {
				return uncategorizedStratum
			}
			return r.Category
		}}
	case StratifyTimeToResolution:
		t := newTimeTiers(cfg.TimeBucketsHours)
		return stratifier{
			key:   func(r *models.TradeRow) string { return t.labels[t.index(r.TimeToResolutionHours)] },
			order: t.labels,
		}
	case StratifyLiquidity:
		t := newLiquidityTiers(cfg.LiquidityTiers)
		return stratifier{
			key:   func(r *models.TradeRow) string { return t.labels[t.index(r.Liquidity)] },
			order: t.labels,
		}
	default:
		return stratifier{key: func(*models.TradeRow) string { return allStratum }}
	}
}

// sortStrata orders strata by the fixed tier order when there is one,
// otherwise by trade count descending then name.
func (s stratifier) sortStrata(strata []Stratum) {
	if s.order != nil {
		rank := make(map[string]int, len(s.order))
		for i, name := range s.order {
			rank[name] = i
		}
		sort.SliceStable(strata, func(i, j int) bool {
			return rank[strata[i].Name] < rank[strata[j].Name]
		})
		return
	}
	sort.SliceStable(strata, func(i, j int) bool {
		if strata[i].Trades != strata[j].Trades {
			return strata[i].Trades > strata[j].Trades
		}
		return strata[i].Name < strata[j].Name
	})
}
