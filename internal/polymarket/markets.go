package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rewired-gh/polycalib/internal/models"
)

// winnerPriceThreshold is the settled outcome price above which an outcome is the winner.
const winnerPriceThreshold = 0.99

// GammaMarket represents a market from the Gamma API.
// Note: Outcomes and OutcomePrices are JSON strings, not arrays.
type GammaMarket struct {
	ID            string     `json:"id"`
	ConditionID   string     `json:"conditionId"`
	Question      string     `json:"question"`
	Slug          string     `json:"slug"`
	Category      string     `json:"category"`
	Active        bool       `json:"active"`
	Closed        bool       `json:"closed"`
	Outcomes      string     `json:"outcomes"`      // JSON string: "[\"Yes\", \"No\"]"
	OutcomePrices string     `json:"outcomePrices"` // JSON string: "[\"1\", \"0\"]"
	VolumeNum     float64    `json:"volumeNum"`
	LiquidityNum  float64    `json:"liquidityNum"`
	CreatedAt     string     `json:"createdAt"`
	EndDate       string     `json:"endDate"`
	ClosedTime    string     `json:"closedTime"`
	Events        []GammaRef `json:"events"`
	Tags          []GammaTag `json:"tags"`
}

// GammaRef is the slice of a parent event embedded in a market payload
type GammaRef struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Category string `json:"category"`
}

// GammaTag represents a tag attached to a market
type GammaTag struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Slug  string `json:"slug"`
}

// MarketQuery selects one page of closed markets
type MarketQuery struct {
	Limit      int
	Offset     int
	Order      string // Gamma sort field, "volume" if empty
	Ascending  bool
	Tag        string
	EndDateMin time.Time // narrowing hint only, the API does not filter reliably
	EndDateMax time.Time
}

func (q MarketQuery) values() url.Values {
	params := url.Values{}
	params.Set("closed", "true")
	params.Set("limit", strconv.Itoa(q.Limit))
	params.Set("offset", strconv.Itoa(q.Offset))
	order := q.Order
	if order == "" {
		order = "volume"
	}
	params.Set("order", order)
	params.Set("ascending", strconv.FormatBool(q.Ascending))
	if q.Tag != "" {
		params.Set("tag", q.Tag)
	}
	if !q.EndDateMin.IsZero() {
		params.Set("end_date_min", q.EndDateMin.UTC().Format("2006-01-02"))
	}
	if !q.EndDateMax.IsZero() {
		params.Set("end_date_max", q.EndDateMax.UTC().Format("2006-01-02"))
	}
	return params
}

// FetchMarketsPage retrieves one page of closed markets from the Gamma API
func (c *Client) FetchMarketsPage(ctx context.Context, q MarketQuery) ([]GammaMarket, error) {
	var markets []GammaMarket
	if err := c.GetJSON(ctx, c.gammaAPIURL, "/markets", q.values(), &markets); err != nil {
		return nil, fmt.Errorf("failed to fetch markets (offset %d): %w", q.Offset, err)
	}
	return markets, nil
}

// ToMarket converts a Gamma payload into a resolved market. ok is false when the
// market is not closed or has no outcome settled above the winner threshold.
func (gm *GammaMarket) ToMarket() (market models.Market, ok bool, err error) {
	if !gm.Closed {
		return models.Market{}, false, nil
	}

	outcomes, err := parseStringArray(gm.Outcomes)
	if err != nil {
		return models.Market{}, false, fmt.Errorf("failed to parse outcomes for %s: %w", gm.ConditionID, err)
	}
	prices, err := parseStringArray(gm.OutcomePrices)
	if err != nil {
		return models.Market{}, false, fmt.Errorf("failed to parse outcome prices for %s: %w", gm.ConditionID, err)
	}
	if len(outcomes) == 0 || len(prices) == 0 {
		return models.Market{}, false, nil
	}

	winner := ""
	for i := 0; i < len(outcomes) && i < len(prices); i++ {
		p, err := strconv.ParseFloat(prices[i], 64)
		if err != nil {
			continue
		}
		if p > winnerPriceThreshold {
			winner = outcomes[i]
			break
		}
	}
	if winner == "" {
		return models.Market{}, false, nil
	}

	endDate := parseTime(gm.EndDate)
	resolvedAt := parseTime(gm.ClosedTime)
	if resolvedAt.IsZero() {
		resolvedAt = endDate
	}
	if resolvedAt.IsZero() {
		return models.Market{}, false, nil
	}

	return models.Market{
		ConditionID:    gm.ConditionID,
		MarketID:       gm.ID,
		Question:       gm.Question,
		Slug:           gm.Slug,
		Category:       gm.category(),
		Volume:         gm.VolumeNum,
		Liquidity:      gm.LiquidityNum,
		CreatedAt:      parseTime(gm.CreatedAt),
		EndDate:        endDate,
		ResolvedAt:     resolvedAt,
		WinningOutcome: winner,
		Outcomes:       outcomes,
	}, true, nil
}

// category falls back from the market's own field to its event, then its first tag.
func (gm *GammaMarket) category() string {
	if gm.Category != "" {
		return gm.Category
	}
	for _, e := range gm.Events {
		if e.Category != "" {
			return e.Category
		}
	}
	for _, t := range gm.Tags {
		if t.Label != "" {
			return t.Label
		}
	}
	return "uncategorized"
}

// parseStringArray decodes the JSON-in-a-string arrays Gamma uses for outcomes and prices
func parseStringArray(s string) ([]string, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	var out []string
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil, err
	}
	return out, nil
}

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05Z07",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05-07",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// parseTime accepts the handful of timestamp layouts Gamma returns; unparseable
// input yields the zero time.
func parseTime(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
