package collector

import "sort"

// Stats counts what happened to each selected market
type Stats struct {
	Selected    int
	Processed   int // markets fetched and checkpointed in this run
	Resumed     int // markets skipped because an earlier run checkpointed them
	WithTrades  int
	NoTrades    int
	Failed      int
	Sampled     int
	Trades      int
	TradeCounts []int // per processed market with trades
}

func (s *Stats) record(trades int, sampled bool) {
	s.Processed++
	s.Trades += trades
	if trades == 0 {
		s.NoTrades++
		return
	}
	s.WithTrades++
	s.TradeCounts = append(s.TradeCounts, trades)
	if sampled {
		s.Sampled++
	}
}

// Distribution summarises trades per market
type Distribution struct {
	Min        int
	Median     int
	Max        int
	Mean       float64
	Under10    int
	Under50    int
	Under100   int
	AtLeast100 int
}

// Distribution computes the trades-per-market distribution over markets with trades
func (s *Stats) Distribution() Distribution {
	var d Distribution
	if len(s.TradeCounts) == 0 {
		return d
	}

	counts := make([]int, len(s.TradeCounts))
	copy(counts, s.TradeCounts)
	sort.Ints(counts)

	total := 0
	for _, c := range counts {
		total += c
		switch {
		case c < 10:
			d.Under10++
		case c < 50:
			d.Under50++
		case c < 100:
			d.Under100++
		default:
			d.AtLeast100++
		}
	}
	d.Min = counts[0]
	d.Max = counts[len(counts)-1]
	d.Median = counts[len(counts)/2]
	d.Mean = float64(total) / float64(len(counts))
	return d
}
