// Package calibration measures how well traded prices predicted outcomes.
//
// Trades are grouped into price buckets centred on multiples of the bucket
// width. For every bucket holding at least MinSamples trades it reports:
//
//	win rate       = wins / n
//	interval       = Wilson score interval at the configured confidence
//	deviation (¢)  = (win rate − bucket price) × 100
//
// A positive deviation means the contracts in that bucket won more often than
// their price implied (underpriced); negative means overpriced. Buckets below
// MinSamples are listed as insufficient and left out of every aggregate.
//
// The mean absolute calibration error (MACE) is the sample-weighted mean of
// |deviation| across qualifying buckets.
//
// The weighted view caps each market's contribution to a bucket at MarketCap
// equivalent trades: a market with c trades in the bucket gives each of them
// weight min(1, cap/c). Its interval uses the Kish effective sample size
// (Σw)²/Σw². The unweighted view counts every trade once.
//
// Analyze is a pure function of its inputs.
package calibration

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/rewired-gh/polycalib/internal/models"
)

// ErrNoTrades is returned when no rows remain after filtering
var ErrNoTrades = errors.New("no trades to analyze")

// Point is one qualifying bucket on a calibration curve
type Point struct {
	Bucket
	Trades         int     // raw trade count
	Markets        int     // distinct markets
	SampledTrades  int     // trades from markets truncated at collection
	Weight         float64 // total weight; equals Trades in the unweighted view
	EffectiveN     float64
	Wins           float64
	WinRate        float64
	CILower        float64
	CIUpper        float64
	DeviationCents float64
}

// Curve is the calibration curve of one stratum under one weighting
type Curve struct {
	Weighted           bool
	Points             []Point
	Trades             int // raw trades in qualifying buckets
	MACECents          float64
	MeanDeviationCents float64
	Verdict            string
}

// InsufficientBucket is a bucket with fewer than MinSamples trades
type InsufficientBucket struct {
	Bucket
	Trades  int
	Markets int
}

// Stratum holds the analysis of one slice of the dataset
type Stratum struct {
	Name           string
	Trades         int
	Markets        int
	SampledMarkets int
	SampledTrades  int
	Unweighted     *Curve // nil unless requested
	Weighted       *Curve // nil unless requested
	Insufficient   []InsufficientBucket
}

// Report is the result of Analyze
type Report struct {
	Config   Config
	Trades   int // rows analyzed
	Filtered int // rows dropped by the side filter
	Strata   []Stratum
}

// Analyze buckets rows by price within each stratum and computes the
// calibration curves requested by cfg.
func Analyze(rows []models.TradeRow, cfg Config) (*Report, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid analysis config: %w", err)
	}

	side := strings.ToUpper(cfg.Side)
	width := cfg.Width()
	strat := newStratifier(&cfg)

	report := &Report{Config: cfg}
	groups := make(map[string]*stratumAcc)
	var names []string

	for i := range rows {
		r := &rows[i]
		if side != "" && strings.ToUpper(r.Side) != side {
			report.Filtered++
			continue
		}
		if !models.ValidPrice(r.Price) {
			return nil, fmt.Errorf("row %d of market %s: price %v outside [0, 1]", i, r.ConditionID, r.Price)
		}
		name := strat.key(r)
		acc, ok := groups[name]
		if !ok {
			acc = newStratumAcc()
			groups[name] = acc
			names = append(names, name)
		}
		acc.add(r, bucketIndex(r.Price, width))
		report.Trades++
	}

	if report.Trades == 0 {
		return nil, ErrNoTrades
	}

	z := ZScore(cfg.Confidence)
	for _, name := range names {
		report.Strata = append(report.Strata, groups[name].finish(name, &cfg, width, z))
	}
	strat.sortStrata(report.Strata)
	return report, nil
}

type marketTally struct {
	n    int
	wins int
}

type bucketAcc struct {
	n       int
	wins    int
	sampled int
	markets map[string]*marketTally
	order   []string // first-seen order keeps float sums reproducible
}

type stratumAcc struct {
	trades         int
	sampledTrades  int
	markets        map[string]bool
	sampledMarkets map[string]bool
	buckets        map[int]*bucketAcc
}

func newStratumAcc() *stratumAcc {
	return &stratumAcc{
		markets:        make(map[string]bool),
		sampledMarkets: make(map[string]bool),
		buckets:        make(map[int]*bucketAcc),
	}
}

func (s *stratumAcc) add(r *models.TradeRow, index int) {
	s.trades++
	s.markets[r.ConditionID] = true
	if r.Sampled {
		s.sampledTrades++
		s.sampledMarkets[r.ConditionID] = true
	}

	b, ok := s.buckets[index]
	if !ok {
		b = &bucketAcc{markets: make(map[string]*marketTally)}
		s.buckets[index] = b
	}
	m, ok := b.markets[r.ConditionID]
	if !ok {
		m = &marketTally{}
		b.markets[r.ConditionID] = m
		b.order = append(b.order, r.ConditionID)
	}

	b.n++
	m.n++
	if r.Won {
		b.wins++
		m.wins++
	}
	if r.Sampled {
		b.sampled++
	}
}

func (s *stratumAcc) finish(name string, cfg *Config, width, z float64) Stratum {
	st := Stratum{
		Name:           name,
		Trades:         s.trades,
		Markets:        len(s.markets),
		SampledMarkets: len(s.sampledMarkets),
		SampledTrades:  s.sampledTrades,
	}
	if cfg.wantUnweighted() {
		st.Unweighted = &Curve{}
	}
	if cfg.wantWeighted() {
		st.Weighted = &Curve{Weighted: true}
	}

	indices := make([]int, 0, len(s.buckets))
	for idx := range s.buckets {
		indices = append(indices, idx)
	}
	sort.Ints(indices)

	for _, idx := range indices {
		b := s.buckets[idx]
		bucket := newBucket(idx, width)
		if b.n < cfg.MinSamples {
			st.Insufficient = append(st.Insufficient, InsufficientBucket{
				Bucket: bucket, Trades: b.n, Markets: len(b.markets),
			})
			continue
		}
		if st.Unweighted != nil {
			n := float64(b.n)
			st.Unweighted.Points = append(st.Unweighted.Points,
				newPoint(bucket, b, n, float64(b.wins), n, z))
		}
		if st.Weighted != nil {
			weight, wins, effN := b.capped(cfg.MarketCap)
			st.Weighted.Points = append(st.Weighted.Points,
				newPoint(bucket, b, weight, wins, effN, z))
		}
	}

	for _, c := range []*Curve{st.Unweighted, st.Weighted} {
		if c != nil {
			c.summarize()
		}
	}
	return st
}

// capped returns the bucket's total weight, weighted wins and Kish effective
// sample size when each market contributes at most limit equivalent trades.
func (b *bucketAcc) capped(limit float64) (weight, wins, effN float64) {
	var sumSq float64
	for _, id := range b.order {
		m := b.markets[id]
		w := math.Min(1, limit/float64(m.n))
		weight += w * float64(m.n)
		wins += w * float64(m.wins)
		sumSq += w * w * float64(m.n)
	}
	if sumSq > 0 {
		effN = weight * weight / sumSq
	}
	return weight, wins, effN
}

func newPoint(bucket Bucket, b *bucketAcc, weight, wins, effN, z float64) Point {
	p := Point{
		Bucket:        bucket,
		Trades:        b.n,
		Markets:       len(b.markets),
		SampledTrades: b.sampled,
		Weight:        weight,
		EffectiveN:    effN,
		Wins:          wins,
	}
	if weight > 0 {
		p.WinRate = wins / weight
	}
	p.CILower, p.CIUpper = Wilson(p.WinRate, effN, z)
	p.DeviationCents = (p.WinRate - bucket.Price) * 100
	return p
}

func (c *Curve) summarize() {
	var total, absSum, signedSum float64
	for _, p := range c.Points {
		c.Trades += p.Trades
		total += p.Weight
		absSum += p.Weight * math.Abs(p.DeviationCents)
		signedSum += p.Weight * p.DeviationCents
	}
	if total > 0 {
		c.MACECents = absSum / total
		c.MeanDeviationCents = signedSum / total
	}
	c.Verdict = Interpret(c)
}
