package calibration

import (
	"fmt"
	"math"
	"strings"

	"github.com/rewired-gh/polycalib/internal/models"
)

// Bucketing modes
const (
	ModeFixed = "fixed" // BucketWidth-wide buckets
	ModeCent  = "cent"  // one bucket per cent
)

// Weighting views
const (
	WeightingUnweighted = "unweighted"
	WeightingWeighted   = "weighted"
	WeightingBoth       = "both"
)

// Stratification dimensions
const (
	StratifyNone             = "none"
	StratifySide             = "side"
	StratifyOutcome          = "outcome"
	StratifyTimeToResolution = "time_to_resolution"
	StratifyCategory         = "category"
	StratifyLiquidity        = "liquidity"
)

const centWidth = 0.01

// Config controls one analysis run
type Config struct {
	BucketWidth float64
	Mode        string
	MinSamples  int
	Confidence  float64
	Weighting   string
	MarketCap   float64 // max equivalent trades per market per bucket
	Stratify    string
	Side        string // BUY, SELL or empty for both

	// Interior edges in hours; the first tier starts at 0 and the last is open.
	TimeBucketsHours []float64
	// Interior edges in USD.
	LiquidityTiers []float64
}

// DefaultConfig returns the default analysis configuration
func DefaultConfig() Config {
	return Config{
		BucketWidth:      0.05,
		Mode:             ModeFixed,
		MinSamples:       30,
		Confidence:       0.95,
		Weighting:        WeightingBoth,
		MarketCap:        100,
		Stratify:         StratifyNone,
		TimeBucketsHours: []float64{24, 168, 720, 2160},
		LiquidityTiers:   []float64{1000, 10000, 100000},
	}
}

// Validate checks that the configuration is usable
func (c *Config) Validate() error {
	switch c.Mode {
	case ModeFixed:
		if c.BucketWidth <= 0 || c.BucketWidth > 0.5 {
			return fmt.Errorf("bucket width must be in (0, 0.5], got %v", c.BucketWidth)
		}
	case ModeCent:
	default:
		return fmt.Errorf("unknown bucket mode %q", c.Mode)
	}
	if c.MinSamples < 1 {
		return fmt.Errorf("min samples must be at least 1, got %d", c.MinSamples)
	}
	if c.Confidence <= 0 || c.Confidence >= 1 {
		return fmt.Errorf("confidence must be in (0, 1), got %v", c.Confidence)
	}
	switch c.Weighting {
	case WeightingUnweighted, WeightingWeighted, WeightingBoth:
	default:
		return fmt.Errorf("unknown weighting %q", c.Weighting)
	}
	if c.Weighting != WeightingUnweighted && c.MarketCap < 1 {
		return fmt.Errorf("market cap must be at least 1, got %v", c.MarketCap)
	}
	switch c.Stratify {
	case StratifyNone, StratifySide, StratifyOutcome, StratifyCategory:
	case StratifyTimeToResolution:
		if err := checkEdges(c.TimeBucketsHours, formatHours); err != nil {
			return fmt.Errorf("time buckets: %w", err)
		}
	case StratifyLiquidity:
		if err := checkEdges(c.LiquidityTiers, formatUSD); err != nil {
			return fmt.Errorf("liquidity tiers: %w", err)
		}
	default:
		return fmt.Errorf("unknown stratification %q", c.Stratify)
	}
	if side := strings.ToUpper(c.Side); side != "" && side != models.SideBuy && side != models.SideSell {
		return fmt.Errorf("side must be BUY, SELL or empty, got %q", c.Side)
	}
	return nil
}

// Width returns the effective bucket width for the configured mode
func (c *Config) Width() float64 {
	if c.Mode == ModeCent {
		return centWidth
	}
	return c.BucketWidth
}

func (c *Config) wantUnweighted() bool {
	return c.Weighting == WeightingUnweighted || c.Weighting == WeightingBoth
}

func (c *Config) wantWeighted() bool {
	return c.Weighting == WeightingWeighted || c.Weighting == WeightingBoth
}

// checkEdges also requires neighbouring edges to print distinct labels, since
// strata are keyed by label.
func checkEdges(edges []float64, format func(float64) string) error {
	if len(edges) == 0 {
		return fmt.Errorf("at least one edge is required")
	}
	for i, e := range edges {
		if e <= 0 || math.IsInf(e, 0) || math.IsNaN(e) {
			return fmt.Errorf("edge %v must be positive and finite", e)
		}
		if i > 0 && e <= edges[i-1] {
			return fmt.Errorf("edges must be strictly increasing")
		}
		if i > 0 && format(e) == format(edges[i-1]) {
			return fmt.Errorf("edges %v and %v both print as %s", edges[i-1], e, format(e))
		}
	}
	return nil
}
