package collector

import (
	"context"
	"fmt"
	"sort"

	"github.com/rewired-gh/polycalib/internal/models"
	"github.com/rewired-gh/polycalib/internal/polymarket"
)

// DefaultSampleThreshold is the trade count above which a market is truncated
const DefaultSampleThreshold = 2000

// TradeAPI is the subset of the Polymarket client the trade fetcher needs
type TradeAPI interface {
	FetchTradesPage(ctx context.Context, conditionID string, limit, offset int) ([]polymarket.DataTrade, error)
}

// TradeFetcher pulls a market's trade history and truncates large markets to
// their newest trades.
type TradeFetcher struct {
	api       TradeAPI
	pageSize  int
	threshold int
	retry     RetryConfig
}

// NewTradeFetcher creates a TradeFetcher
func NewTradeFetcher(api TradeAPI, pageSize, threshold int, rc RetryConfig) *TradeFetcher {
	if pageSize <= 0 || pageSize > polymarket.MaxTradePageSize {
		pageSize = polymarket.MaxTradePageSize
	}
	if threshold <= 0 {
		threshold = DefaultSampleThreshold
	}
	return &TradeFetcher{api: api, pageSize: pageSize, threshold: threshold, retry: rc}
}

// RetentionLimit is the number of trades kept for a market: the sampling
// threshold, lowered to maxTrades when that is smaller and positive.
func (f *TradeFetcher) RetentionLimit(maxTrades int) int {
	if maxTrades > 0 && maxTrades < f.threshold {
		return maxTrades
	}
	return f.threshold
}

// FetchTrades returns the market's trades and whether they were truncated.
// Markets with at most RetentionLimit trades are returned whole; larger ones
// are cut to the newest RetentionLimit trades by timestamp. Paging stops as
// soon as the limit is exceeded, so a large market costs at most one page
// more than the limit.
func (f *TradeFetcher) FetchTrades(ctx context.Context, market models.Market, maxTrades int) ([]models.Trade, bool, error) {
	limit := f.RetentionLimit(maxTrades)
	cid := market.ConditionID

	var trades []models.Trade
	offset := 0
	for {
		var page []polymarket.DataTrade
		err := withRetry(ctx, f.retry, func(ctx context.Context) error {
			var err error
			page, err = f.api.FetchTradesPage(ctx, cid, f.pageSize, offset)
			return err
		})
		if err != nil {
			return nil, false, fmt.Errorf("failed to fetch trades for market %s: %w", cid, err)
		}

		for i := range page {
			trades = append(trades, page[i].ToTrade(cid))
		}

		if len(page) < f.pageSize || len(trades) > limit {
			break
		}
		offset += len(page)
	}

	sampled := len(trades) > limit
	if sampled {
		sort.SliceStable(trades, func(i, j int) bool {
			return trades[i].Timestamp.After(trades[j].Timestamp)
		})
		trades = trades[:limit]
	}
	return trades, sampled, nil
}
