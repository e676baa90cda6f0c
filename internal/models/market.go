// Package models defines the core domain entities for polycalib.
// These models represent resolved prediction markets, the trades executed on them,
// and the flat trade rows the calibration analysis consumes.
// All models include built-in validation to ensure data integrity throughout the application.
//
// Terminology (matching Polymarket's own naming):
//   - Market: a single question with two or more outcomes, keyed by its condition ID.
//   - Trade: one fill on one outcome token of a market.
package models

import (
	"errors"
	"time"
)

// Market represents a resolved Polymarket market. Once resolved its fields never change.
type Market struct {
	ConditionID    string    `json:"condition_id"` // Unique key across the dataset
	MarketID       string    `json:"market_id"`    // Gamma numeric ID
	Question       string    `json:"question"`
	Slug           string    `json:"slug,omitempty"`
	Category       string    `json:"category"`
	Volume         float64   `json:"volume"`    // Lifetime volume in USD
	Liquidity      float64   `json:"liquidity"` // Liquidity in USD at fetch time
	CreatedAt      time.Time `json:"created_at"`
	EndDate        time.Time `json:"end_date"`    // Scheduled end
	ResolvedAt     time.Time `json:"resolved_at"` // Actual close, falls back to EndDate
	WinningOutcome string    `json:"winning_outcome"`
	Outcomes       []string  `json:"outcomes"`
}

// Validate checks that all market fields are valid.
func (m *Market) Validate() error {
	if m.ConditionID == "" {
		return errors.New("condition ID must not be empty")
	}
	if m.WinningOutcome == "" {
		return errors.New("winning outcome must not be empty")
	}
	if m.ResolvedAt.IsZero() {
		return errors.New("resolution time must be set")
	}
	if m.Volume < 0 {
		return errors.New("volume must not be negative")
	}
	if m.Liquidity < 0 {
		return errors.New("liquidity must not be negative")
	}
	return nil
}

// HasOutcome reports whether name is one of the market's outcome labels.
func (m *Market) HasOutcome(name string) bool {
	for _, o := range m.Outcomes {
		if o == name {
			return true
		}
	}
	return false
}
