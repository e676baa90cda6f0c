package models

import (
	"errors"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Trade sides as reported by the Data API
const (
	SideBuy  = "BUY"
	SideSell = "SELL"
)

// Trade is a single fill on one outcome of a market.
type Trade struct {
	ConditionID     string    `json:"condition_id"`
	Timestamp       time.Time `json:"timestamp"`
	Price           float64   `json:"price"` // Implied probability of Outcome (0–1)
	Size            float64   `json:"size"`  // Shares
	Side            string    `json:"side"`
	Outcome         string    `json:"outcome"`
	OutcomeIndex    int       `json:"outcome_index"`
	TransactionHash string    `json:"transaction_hash,omitempty"`
	Asset           string    `json:"asset,omitempty"`
}

// Validate checks that all trade fields are valid.
func (t *Trade) Validate() error {
	if t.ConditionID == "" {
		return errors.New("condition ID must not be empty")
	}
	if t.Timestamp.IsZero() {
		return errors.New("timestamp must be set")
	}
	if !ValidPrice(t.Price) {
		return errors.New("price must be between 0.0 and 1.0")
	}
	if !ValidSize(t.Size) {
		return errors.New("size must be positive")
	}
	if t.Side != SideBuy && t.Side != SideSell {
		return errors.New("side must be BUY or SELL")
	}
	return nil
}

// ValidPrice reports whether p is a probability in [0, 1]. NaN is rejected.
func ValidPrice(p float64) bool {
	return p >= 0 && p <= 1
}

// ValidSize reports whether s is a positive finite share count.
func ValidSize(s float64) bool {
	return s > 0 && !math.IsInf(s, 1)
}

// TradeKey identifies a trade for deduplication.
type TradeKey struct {
	ConditionID string
	Timestamp   int64
	Price       string
	Size        string
	Side        string
}

// NewTradeKey builds the dedup key. Price and size go through decimal so that
// 0.1 and 0.10000000000000001 produce the same key.
func NewTradeKey(conditionID string, ts time.Time, price, size float64, side string) TradeKey {
	return TradeKey{
		ConditionID: conditionID,
		Timestamp:   ts.Unix(),
		Price:       decimal.NewFromFloat(price).String(),
		Size:        decimal.NewFromFloat(size).String(),
		Side:        strings.ToUpper(side),
	}
}

// Key returns the trade's dedup key.
func (t *Trade) Key() TradeKey {
	return NewTradeKey(t.ConditionID, t.Timestamp, t.Price, t.Size, t.Side)
}
