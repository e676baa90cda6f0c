package models

import (
	"errors"
	"math"
	"time"
)

// Record statuses written to the checkpoint log
const (
	StatusComplete = "complete"
	StatusNoTrades = "no_trades"
)

// MarketRecord is the nested per-market form appended to the checkpoint log
// once a market's trades have been fully fetched.
type MarketRecord struct {
	RunID     string    `json:"run_id"`
	Market    Market    `json:"market"`
	Trades    []Trade   `json:"trades"`
	Sampled   bool      `json:"sampled"`
	Status    string    `json:"status"`
	FetchedAt time.Time `json:"fetched_at"`
}

// Validate checks that the record is internally consistent.
func (r *MarketRecord) Validate() error {
	if err := r.Market.Validate(); err != nil {
		return err
	}
	if r.Status != StatusComplete && r.Status != StatusNoTrades {
		return errors.New("status must be complete or no_trades")
	}
	if r.Status == StatusNoTrades && len(r.Trades) > 0 {
		return errors.New("no_trades record must not carry trades")
	}
	return nil
}

// TradeRow is one row of the flat dataset: a trade joined with its resolved market.
type TradeRow struct {
	ConditionID           string    `json:"condition_id"`
	Question              string    `json:"question"`
	Category              string    `json:"category"`
	Timestamp             time.Time `json:"trade_timestamp"`
	Price                 float64   `json:"price"`
	Size                  float64   `json:"size"`
	Side                  string    `json:"side"`
	Outcome               string    `json:"outcome"`
	OutcomeIndex          int       `json:"outcome_index"`
	TransactionHash       string    `json:"transaction_hash"`
	WinningOutcome        string    `json:"winning_outcome"`
	Won                   bool      `json:"won"`
	ResolvedAt            time.Time `json:"resolved_at"`
	TimeToResolutionHours float64   `json:"time_to_resolution_hours"`
	VolumeTotal           float64   `json:"volume_total"`
	Liquidity             float64   `json:"liquidity"`
	Sampled               bool      `json:"sampled"`
}

// Key returns the row's dedup key.
func (r *TradeRow) Key() TradeKey {
	return NewTradeKey(r.ConditionID, r.Timestamp, r.Price, r.Size, r.Side)
}

// Validate checks that all row fields are valid.
func (r *TradeRow) Validate() error {
	if r.ConditionID == "" {
		return errors.New("condition ID must not be empty")
	}
	if !ValidPrice(r.Price) {
		return errors.New("price must be between 0.0 and 1.0")
	}
	if !ValidSize(r.Size) {
		return errors.New("size must be positive")
	}
	if !(r.TimeToResolutionHours >= 0) || math.IsInf(r.TimeToResolutionHours, 1) {
		return errors.New("time to resolution must be a non-negative finite number")
	}
	if r.WinningOutcome == "" {
		return errors.New("winning outcome must not be empty")
	}
	return nil
}
