package collector

import (
	"context"
	"fmt"
	"time"

	"github.com/rewired-gh/polycalib/internal/logger"
	"github.com/rewired-gh/polycalib/internal/models"
	"github.com/rewired-gh/polycalib/internal/polymarket"
)

// maxConsecutivePageFailures ends a strategy once this many pages in a row fail
const maxConsecutivePageFailures = 3

// Strategy selects which resolved markets a run collects
type Strategy interface {
	Name() string
	// Params renders the settings that shape the selection. A saved market
	// list is only reused by a strategy with the same name and params.
	Params() string
	Select(ctx context.Context) (*Selection, error)
}

// WindowStat reports how many markets one time window yielded
type WindowStat struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
	Found int       `json:"found"`
	Pages int       `json:"pages"`
}

// Selection is the outcome of a strategy run
type Selection struct {
	Markets     []models.Market
	Raw         []polymarket.GammaMarket
	Unresolved  int
	Malformed   int
	Duplicates  int
	OutOfWindow int
	FailedPages int
	Windows     []WindowStat

	seen map[string]bool
}

func newSelection() *Selection {
	return &Selection{seen: make(map[string]bool)}
}

// add keeps the first occurrence of each condition ID
func (s *Selection) add(m models.Market, raw polymarket.GammaMarket) bool {
	if s.seen[m.ConditionID] {
		s.Duplicates++
		return false
	}
	s.seen[m.ConditionID] = true
	s.Markets = append(s.Markets, m)
	s.Raw = append(s.Raw, raw)
	return true
}

func (s *Selection) countPage(p *ResolvedPage) {
	s.Unresolved += p.Unresolved
	s.Malformed += p.Malformed
}

// pager walks offsets, skipping pages that fail after retries
type pager struct {
	fetcher  *MarketFetcher
	filter   MarketFilter
	offset   int
	failures int
	done     bool
}

// next returns the next page, nil with done set once paging must stop
func (p *pager) next(ctx context.Context, sel *Selection) (*ResolvedPage, error) {
	for !p.done {
		page, err := p.fetcher.FetchResolvedMarkets(ctx, p.filter, p.offset)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			sel.FailedPages++
			p.failures++
			logger.Warn("Skipping market page at offset %d: %v", p.offset, err)
			p.offset += p.fetcher.PageSize()
			if p.failures >= maxConsecutivePageFailures {
				logger.Error("Giving up after %d consecutive failed market pages", p.failures)
				p.done = true
			}
			continue
		}
		p.failures = 0
		sel.countPage(page)
		if !page.HasMore {
			p.done = true
		}
		p.offset = page.NextOffset
		return page, nil
	}
	return nil, nil
}

// VolumeOrdered collects the top markets by lifetime volume
type VolumeOrdered struct {
	Fetcher    *MarketFetcher
	NumMarkets int
	Category   string
}

// Name implements Strategy
func (s *VolumeOrdered) Name() string { return "volume" }

// Params implements Strategy
func (s *VolumeOrdered) Params() string {
	return fmt.Sprintf("num_markets=%d category=%q", s.NumMarkets, s.Category)
}

// Select pages by descending volume until NumMarkets resolved markets are found
func (s *VolumeOrdered) Select(ctx context.Context) (*Selection, error) {
	if s.NumMarkets < 1 {
		return nil, fmt.Errorf("num markets must be at least 1, got %d", s.NumMarkets)
	}

	sel := newSelection()
	p := &pager{fetcher: s.Fetcher, filter: MarketFilter{Category: s.Category}}
	for len(sel.Markets) < s.NumMarkets {
		page, err := p.next(ctx, sel)
		if err != nil {
			return sel, err
		}
		if page == nil {
			break
		}
		for i, m := range page.Markets {
			sel.add(m, page.Raw[i])
			if len(sel.Markets) >= s.NumMarkets {
				break
			}
		}
		logger.Debug("Volume strategy: %d/%d resolved markets after offset %d", len(sel.Markets), s.NumMarkets, p.offset)
	}

	if len(sel.Markets) < s.NumMarkets {
		logger.Warn("Volume strategy found only %d of %d requested resolved markets", len(sel.Markets), s.NumMarkets)
	}
	return sel, nil
}

// TimeWindowed spreads collection across consecutive windows ending now, so the
// dataset is not dominated by a few very large markets.
type TimeWindowed struct {
	Fetcher           *MarketFetcher
	Weeks             int
	Window            time.Duration
	MarketsPerWindow  int
	MaxPagesPerWindow int
	Category          string
	Now               func() time.Time
}

// Name implements Strategy
func (s *TimeWindowed) Name() string { return "windowed" }

// Params implements Strategy
func (s *TimeWindowed) Params() string {
	return fmt.Sprintf("weeks=%d window=%s markets_per_window=%d max_pages=%d category=%q",
		s.Weeks, s.windowLength(), s.MarketsPerWindow, s.pageBudget(), s.Category)
}

func (s *TimeWindowed) windowLength() time.Duration {
	if s.Window <= 0 {
		return 7 * 24 * time.Hour
	}
	return s.Window
}

func (s *TimeWindowed) pageBudget() int {
	if s.MaxPagesPerWindow <= 0 {
		return 20
	}
	return s.MaxPagesPerWindow
}

// Select walks windows [now-(k+1)W, now-kW) for k = 0..Weeks-1. Each window is
// paged until MarketsPerWindow markets resolved inside it are found or the page
// budget runs out. Short windows are not topped up from other windows.
func (s *TimeWindowed) Select(ctx context.Context) (*Selection, error) {
	if s.Weeks < 1 {
		return nil, fmt.Errorf("weeks must be at least 1, got %d", s.Weeks)
	}
	if s.MarketsPerWindow < 1 {
		return nil, fmt.Errorf("markets per window must be at least 1, got %d", s.MarketsPerWindow)
	}
	window := s.windowLength()
	maxPages := s.pageBudget()
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	end0 := now().UTC()

	sel := newSelection()
	for k := 0; k < s.Weeks; k++ {
		end := end0.Add(-time.Duration(k) * window)
		start := end.Add(-window)
		stat := WindowStat{Start: start, End: end}

		p := &pager{
			fetcher: s.Fetcher,
			filter:  MarketFilter{Category: s.Category, EndDateMin: start, EndDateMax: end},
		}
		for stat.Found < s.MarketsPerWindow && stat.Pages < maxPages {
			page, err := p.next(ctx, sel)
			if err != nil {
				return sel, err
			}
			if page == nil {
				break
			}
			stat.Pages++
			for i, m := range page.Markets {
				if m.ResolvedAt.Before(start) || !m.ResolvedAt.Before(end) {
					sel.OutOfWindow++
					continue
				}
				if sel.add(m, page.Raw[i]) {
					stat.Found++
				}
				if stat.Found >= s.MarketsPerWindow {
					break
				}
			}
		}

		sel.Windows = append(sel.Windows, stat)
		if stat.Found < s.MarketsPerWindow {
			logger.Info("Window %s to %s is sparse: %d of %d markets",
				start.Format("2006-01-02"), end.Format("2006-01-02"), stat.Found, s.MarketsPerWindow)
		} else {
			logger.Debug("Window %s to %s: %d markets in %d pages",
				start.Format("2006-01-02"), end.Format("2006-01-02"), stat.Found, stat.Pages)
		}
	}
	return sel, nil
}
