package collector

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/rewired-gh/polycalib/internal/logger"
	"github.com/rewired-gh/polycalib/internal/models"
	"github.com/rewired-gh/polycalib/internal/storage"
)

// Options controls a collection run
type Options struct {
	MaxTradesPerMarket int
	Resume             bool // reuse the saved market list and skip checkpointed markets
	SaveRaw            bool // keep raw Gamma payloads next to the dataset
}

// MarketError represents a per-market failure during collection
type MarketError struct {
	ConditionID string
	Err         error
}

func (e MarketError) Error() string {
	return fmt.Sprintf("collection error for market %s: %v", e.ConditionID, e.Err)
}

// Result summarises a collection run
type Result struct {
	RunID       string
	Strategy    string
	Selection   *Selection
	Stats       Stats
	Failures    []MarketError
	Interrupted bool
	Duration    time.Duration
}

// Collector drives market selection and per-market trade collection
type Collector struct {
	strategy   Strategy
	trades     *TradeFetcher
	store      *storage.Store
	checkpoint *storage.Checkpoint
	opts       Options
	runID      string
	now        func() time.Time
}

// New creates a Collector. Each finished market is appended to checkpoint.
func New(strategy Strategy, trades *TradeFetcher, store *storage.Store, checkpoint *storage.Checkpoint, opts Options) *Collector {
	return &Collector{
		strategy:   strategy,
		trades:     trades,
		store:      store,
		checkpoint: checkpoint,
		opts:       opts,
		runID:      uuid.New().String(),
		now:        time.Now,
	}
}

// RunID returns the identifier stamped on every record of this run
func (c *Collector) RunID() string {
	return c.runID
}

// Run selects markets and collects their trades one market at a time. It
// returns early with Interrupted set when ctx is cancelled; everything
// collected so far is already in the checkpoint.
func (c *Collector) Run(ctx context.Context) (*Result, error) {
	start := c.now()
	res := &Result{RunID: c.runID, Strategy: c.strategy.Name()}

	sel, err := c.selectMarkets(ctx)
	if err != nil {
		if ctx.Err() != nil {
			res.Interrupted = true
			res.Duration = c.now().Sub(start)
			return res, nil
		}
		return nil, fmt.Errorf("failed to select markets: %w", err)
	}
	res.Selection = sel
	res.Stats.Selected = len(sel.Markets)
	logger.Info("Collecting trades for %d markets (strategy: %s, run: %s)", len(sel.Markets), res.Strategy, c.runID)

	for i := range sel.Markets {
		market := sel.Markets[i]
		if ctx.Err() != nil {
			res.Interrupted = true
			logger.Warn("Collection interrupted after %d of %d markets", i, len(sel.Markets))
			break
		}

		if c.checkpoint.Contains(market.ConditionID) {
			res.Stats.Resumed++
			continue
		}

		trades, sampled, err := c.trades.FetchTrades(ctx, market, c.opts.MaxTradesPerMarket)
		if err != nil {
			if ctx.Err() != nil {
				res.Interrupted = true
				logger.Warn("Collection interrupted while fetching market %s", market.ConditionID)
				break
			}
			res.Stats.Failed++
			res.Failures = append(res.Failures, MarketError{ConditionID: market.ConditionID, Err: err})
			logger.WithFields(logger.Fields{"market": market.ConditionID, "run": c.runID}).
				Warnf("Skipping market, it will be retried on the next run: %v", err)
			continue
		}

		rec := models.MarketRecord{
			RunID:     c.runID,
			Market:    market,
			Trades:    trades,
			Sampled:   sampled,
			Status:    models.StatusComplete,
			FetchedAt: c.now().UTC(),
		}
		if len(trades) == 0 {
			rec.Status = models.StatusNoTrades
		}
		if err := c.checkpoint.Append(rec); err != nil {
			return res, fmt.Errorf("failed to checkpoint market %s: %w", market.ConditionID, err)
		}
		res.Stats.record(len(trades), sampled)

		if sampled {
			logger.WithFields(logger.Fields{"market": market.ConditionID, "kept": len(trades)}).
				Debug("Market truncated to its newest trades")
		}
		if processed := res.Stats.Processed; processed%10 == 0 {
			logger.Info("Progress: %d/%d markets, %d trades collected", i+1, len(sel.Markets), res.Stats.Trades)
		}
	}

	res.Duration = c.now().Sub(start)
	logger.Info("Collection finished in %v: %d processed, %d resumed, %d failed, %d sampled",
		res.Duration.Round(time.Second), res.Stats.Processed, res.Stats.Resumed, res.Stats.Failed, res.Stats.Sampled)
	if res.Stats.Sampled > 0 {
		logger.Warn("%d markets were truncated to their newest trades; early-life prices are under-represented for them", res.Stats.Sampled)
	}
	return res, nil
}

// savedSelection is the market list persisted for resume, tagged with the
// strategy settings that produced it.
type savedSelection struct {
	Strategy string          `json:"strategy"`
	Params   string          `json:"params"`
	SavedAt  time.Time       `json:"saved_at"`
	Markets  []models.Market `json:"markets"`
}

// selectMarkets reuses the saved market list on resume when it was built with
// the same strategy settings, otherwise runs the strategy and saves its result.
// Markets already in the checkpoint are skipped either way.
func (c *Collector) selectMarkets(ctx context.Context) (*Selection, error) {
	name, params := c.strategy.Name(), c.strategy.Params()
	if c.opts.Resume {
		var saved savedSelection
		found, err := c.store.LoadJSON(storage.MarketsFile, &saved)
		switch {
		case err != nil:
			logger.Warn("Ignoring unreadable market list: %v", err)
		case !found || len(saved.Markets) == 0:
		case saved.Strategy != name || saved.Params != params:
			logger.Info("Saved market list came from %s (%s); selecting again with %s (%s)",
				saved.Strategy, saved.Params, name, params)
		default:
			logger.Info("Resuming with %d saved markets (%d already checkpointed)", len(saved.Markets), c.checkpoint.Len())
			return &Selection{Markets: saved.Markets}, nil
		}
	}

	sel, err := c.strategy.Select(ctx)
	if err != nil {
		return nil, err
	}
	logger.Info("Strategy %s selected %d markets (%d unresolved, %d duplicates, %d failed pages)",
		name, len(sel.Markets), sel.Unresolved, sel.Duplicates, sel.FailedPages)

	saved := savedSelection{Strategy: name, Params: params, SavedAt: c.now().UTC(), Markets: sel.Markets}
	if err := c.store.SaveJSON(storage.MarketsFile, saved); err != nil {
		return nil, fmt.Errorf("failed to save market list: %w", err)
	}
	if c.opts.SaveRaw {
		if err := c.store.SaveJSON(storage.RawMarketsFile, sel.Raw); err != nil {
			logger.Warn("Failed to save raw market payloads: %v", err)
		}
	}
	return sel, nil
}
