package dataset

import (
	"sort"
	"time"

	"github.com/rewired-gh/polycalib/internal/models"
)

// Count is a label with its number of rows
type Count struct {
	Label string
	N     int
}

// Summary describes a dataset at a glance
type Summary struct {
	Trades         int
	Markets        int
	SampledMarkets int
	First          time.Time
	Last           time.Time
	WinRate        float64
	AvgPrice       float64
	Outcomes       []Count // most frequent first
	Categories     []Count // most frequent first
}

// Summarize computes dataset-wide statistics
func Summarize(rows []models.TradeRow) Summary {
	s := Summary{Trades: len(rows)}
	if len(rows) == 0 {
		return s
	}

	markets := make(map[string]bool)
	sampled := make(map[string]bool)
	outcomes := make(map[string]int)
	categories := make(map[string]int)
	wins := 0
	priceSum := 0.0

	s.First = rows[0].Timestamp
	s.Last = rows[0].Timestamp
	for i := range rows {
		r := &rows[i]
		markets[r.ConditionID] = true
		if r.Sampled {
			sampled[r.ConditionID] = true
		}
		outcomes[r.Outcome]++
		cat := r.Category
		if cat == "" {
			cat = "uncategorized"
		}
		categories[cat]++
		if r.Won {
			wins++
		}
		priceSum += r.Price
		if r.Timestamp.Before(s.First) {
			s.First = r.Timestamp
		}
		if r.Timestamp.After(s.Last) {
			s.Last = r.Timestamp
		}
	}

	s.Markets = len(markets)
	s.SampledMarkets = len(sampled)
	s.WinRate = float64(wins) / float64(len(rows))
	s.AvgPrice = priceSum / float64(len(rows))
	s.Outcomes = sortedCounts(outcomes)
	s.Categories = sortedCounts(categories)
	return s
}

func sortedCounts(m map[string]int) []Count {
	counts := make([]Count, 0, len(m))
	for label, n := range m {
		counts = append(counts, Count{Label: label, N: n})
	}
	sort.Slice(counts, func(i, j int) bool {
		if counts[i].N != counts[j].N {
			return counts[i].N > counts[j].N
		}
		return counts[i].Label < counts[j].Label
	})
	return counts
}
