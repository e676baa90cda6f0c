// Package collector turns Polymarket's paginated APIs into a set of resolved
// markets and their trade histories.
//
// A MarketFetcher pages through closed markets and keeps the resolved ones.
// Strategies (VolumeOrdered, TimeWindowed) decide which pages to ask for and
// when to stop. A TradeFetcher pulls trades per market and truncates large
// markets to their newest trades. Collector drives the whole run and appends
// each finished market to a checkpoint log.
package collector

import (
	"context"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/rewired-gh/polycalib/internal/logger"
	"github.com/rewired-gh/polycalib/internal/models"
	"github.com/rewired-gh/polycalib/internal/polymarket"
)

// MarketAPI is the subset of the Polymarket client the market fetcher needs
type MarketAPI interface {
	FetchMarketsPage(ctx context.Context, q polymarket.MarketQuery) ([]polymarket.GammaMarket, error)
}

// RetryConfig controls fetcher-level backoff on top of the client's own retries
type RetryConfig struct {
	Retries     uint64
	BackoffBase time.Duration
}

func (rc RetryConfig) backoff() retry.Backoff {
	base := rc.BackoffBase
	if base <= 0 {
		base = time.Millisecond
	}
	return retry.WithMaxRetries(rc.Retries, retry.NewExponential(base))
}

// withRetry runs fn, retrying only transient Polymarket errors
func withRetry(ctx context.Context, rc RetryConfig, fn func(ctx context.Context) error) error {
	return retry.Do(ctx, rc.backoff(), func(ctx context.Context) error {
		err := fn(ctx)
		if err != nil && polymarket.IsTransient(err) {
			return retry.RetryableError(err)
		}
		return err
	})
}

// MarketFilter narrows the markets a fetcher asks for
type MarketFilter struct {
	Category   string
	EndDateMin time.Time
	EndDateMax time.Time
}

// ResolvedPage is one page of the closed-market listing reduced to resolved markets
type ResolvedPage struct {
	Markets    []models.Market
	Raw        []polymarket.GammaMarket // payloads of Markets, same order
	Fetched    int                      // markets returned by the API
	Unresolved int                      // closed but without a winning outcome
	Malformed  int                      // payloads that could not be parsed
	NextOffset int
	HasMore    bool
}

// MarketFetcher pages through closed markets, ordered by volume descending
type MarketFetcher struct {
	api      MarketAPI
	pageSize int
	retry    RetryConfig
}

// NewMarketFetcher creates a MarketFetcher
func NewMarketFetcher(api MarketAPI, pageSize int, rc RetryConfig) *MarketFetcher {
	if pageSize <= 0 {
		pageSize = 100
	}
	return &MarketFetcher{api: api, pageSize: pageSize, retry: rc}
}

// PageSize returns the number of markets requested per page
func (f *MarketFetcher) PageSize() int {
	return f.pageSize
}

// FetchResolvedMarkets fetches the page at offset and keeps the resolved markets
func (f *MarketFetcher) FetchResolvedMarkets(ctx context.Context, filter MarketFilter, offset int) (*ResolvedPage, error) {
	q := polymarket.MarketQuery{
		Limit:      f.pageSize,
		Offset:     offset,
		Order:      "volume",
		Ascending:  false,
		Tag:        filter.Category,
		EndDateMin: filter.EndDateMin,
		EndDateMax: filter.EndDateMax,
	}

	var raw []polymarket.GammaMarket
	err := withRetry(ctx, f.retry, func(ctx context.Context) error {
		var err error
		raw, err = f.api.FetchMarketsPage(ctx, q)
		return err
	})
	if err != nil {
		return nil, err
	}

	page := &ResolvedPage{
		Fetched:    len(raw),
		NextOffset: offset + len(raw),
		HasMore:    len(raw) >= f.pageSize,
	}
	for i := range raw {
		m, ok, err := raw[i].ToMarket()
		if err != nil {
			page.Malformed++
			logger.Debug("Skipping malformed market %s: %v", raw[i].ConditionID, err)
			continue
		}
		if !ok {
			page.Unresolved++
			continue
		}
		page.Markets = append(page.Markets, m)
		page.Raw = append(page.Raw, raw[i])
	}
	return page, nil
}
