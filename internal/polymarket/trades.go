package polymarket

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rewired-gh/polycalib/internal/models"
)

// MaxTradePageSize is the largest page the Data API serves.
const MaxTradePageSize = 500

// DataTrade represents a trade from the Data API
type DataTrade struct {
	ProxyWallet     string  `json:"proxyWallet"`
	Side            string  `json:"side"`
	Asset           string  `json:"asset"`
	ConditionID     string  `json:"conditionId"`
	Size            float64 `json:"size"`
	Price           float64 `json:"price"`
	Timestamp       int64   `json:"timestamp"` // Unix seconds
	Outcome         string  `json:"outcome"`
	OutcomeIndex    int     `json:"outcomeIndex"`
	TransactionHash string  `json:"transactionHash"`
}

// FetchTradesPage retrieves one page of trades for a market, newest first
func (c *Client) FetchTradesPage(ctx context.Context, conditionID string, limit, offset int) ([]DataTrade, error) {
	if limit <= 0 || limit > MaxTradePageSize {
		limit = MaxTradePageSize
	}
	params := url.Values{}
	params.Set("market", conditionID)
	params.Set("limit", strconv.Itoa(limit))
	params.Set("offset", strconv.Itoa(offset))

	var trades []DataTrade
	if err := c.GetJSON(ctx, c.dataAPIURL, "/trades", params, &trades); err != nil {
		return nil, fmt.Errorf("failed to fetch trades for %s (offset %d): %w", conditionID, offset, err)
	}
	return trades, nil
}

// ToTrade converts a Data API trade. The condition ID falls back to the
// requested market when the payload omits it.
func (dt *DataTrade) ToTrade(conditionID string) models.Trade {
	cid := dt.ConditionID
	if cid == "" {
		cid = conditionID
	}
	return models.Trade{
		ConditionID:     cid,
		Timestamp:       time.Unix(dt.Timestamp, 0).UTC(),
		Price:           dt.Price,
		Size:            dt.Size,
		Side:            strings.ToUpper(dt.Side),
		Outcome:         dt.Outcome,
		OutcomeIndex:    dt.OutcomeIndex,
		TransactionHash: dt.TransactionHash,
		Asset:           dt.Asset,
	}
}
