// Package dataset joins collected trades with their resolved markets into the
// flat rows the calibration analysis reads, and moves those rows in and out of
// CSV files.
//
// Every row carries won (did the traded outcome win) and the time between the
// trade and the market's resolution. Rows that fail data-quality checks are
// dropped and counted by reason. Rows are unique on
// (condition_id, trade_timestamp, price, size, side).
package dataset

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/rewired-gh/polycalib/internal/models"
)

// Assembler accumulates dataset rows from checkpointed market records
type Assembler struct {
	rows       []models.TradeRow
	seen       map[models.TradeKey]bool
	markets    map[string]bool
	sampled    map[string]bool
	tally      DiscardTally
	duplicates int
}

// NewAssembler creates an empty Assembler
func NewAssembler() *Assembler {
	return &Assembler{
		seen:    make(map[models.TradeKey]bool),
		markets: make(map[string]bool),
		sampled: make(map[string]bool),
		tally:   make(DiscardTally),
	}
}

// Add joins rec's trades to its market and appends the valid, unseen rows.
// It returns the number of rows added.
func (a *Assembler) Add(rec models.MarketRecord) int {
	added := 0
	for i := range rec.Trades {
		row, err := BuildRow(rec.Market, rec.Trades[i], rec.Sampled)
		if err != nil {
			var dq *DataQualityError
			if errors.As(err, &dq) {
				a.tally.Add(dq.Reason)
			}
			continue
		}
		key := row.Key()
		if a.seen[key] {
			a.duplicates++
			continue
		}
		a.seen[key] = true
		a.rows = append(a.rows, row)
		a.markets[row.ConditionID] = true
		if row.Sampled {
			a.sampled[row.ConditionID] = true
		}
		added++
	}
	return added
}

// AddAll adds every record and returns the number of rows added
func (a *Assembler) AddAll(recs []models.MarketRecord) int {
	added := 0
	for i := range recs {
		added += a.Add(recs[i])
	}
	return added
}

// Rows returns the assembled rows sorted by trade time
func (a *Assembler) Rows() []models.TradeRow {
	rows := make([]models.TradeRow, len(a.rows))
	copy(rows, a.rows)
	SortByTime(rows)
	return rows
}

// Tally returns the discard counts by reason
func (a *Assembler) Tally() DiscardTally {
	return a.tally
}

// Duplicates returns how many rows were dropped as duplicates
func (a *Assembler) Duplicates() int {
	return a.duplicates
}

// Markets returns the number of distinct markets with at least one row
func (a *Assembler) Markets() int {
	return len(a.markets)
}

// SampledMarkets returns the number of distinct markets whose trades were truncated
func (a *Assembler) SampledMarkets() int {
	return len(a.sampled)
}

// BuildRow joins one trade to its market, stamping won and the time to resolution.
func BuildRow(market models.Market, trade models.Trade, sampled bool) (models.TradeRow, error) {
	cid := market.ConditionID
	if trade.ConditionID != cid {
		return models.TradeRow{}, &DataQualityError{
			Reason: ReasonMarketMismatch, ConditionID: cid,
			Detail: fmt.Sprintf("trade belongs to %s", trade.ConditionID),
		}
	}
	if market.WinningOutcome == "" || market.ResolvedAt.IsZero() {
		return models.TradeRow{}, &DataQualityError{Reason: ReasonMissingResolution, ConditionID: cid, Detail: "market has no resolution"}
	}
	if trade.Outcome == "" {
		return models.TradeRow{}, &DataQualityError{Reason: ReasonMissingOutcome, ConditionID: cid, Detail: "trade has no outcome"}
	}
	if len(market.Outcomes) > 0 && !market.HasOutcome(trade.Outcome) {
		return models.TradeRow{}, &DataQualityError{
			Reason: ReasonMarketMismatch, ConditionID: cid,
			Detail: fmt.Sprintf("outcome %q is not one of %v", trade.Outcome, market.Outcomes),
		}
	}
	if !models.ValidPrice(trade.Price) {
		return models.TradeRow{}, &DataQualityError{
			Reason: ReasonPriceOutOfRange, ConditionID: cid,
			Detail: fmt.Sprintf("price %v outside [0, 1]", trade.Price),
		}
	}
	if !models.ValidSize(trade.Size) {
		return models.TradeRow{}, &DataQualityError{
			Reason: ReasonNonPositiveSize, ConditionID: cid,
			Detail: fmt.Sprintf("size %v", trade.Size),
		}
	}
	side := strings.ToUpper(trade.Side)
	if side != models.SideBuy && side != models.SideSell {
		return models.TradeRow{}, &DataQualityError{
			Reason: ReasonInvalidSide, ConditionID: cid,
			Detail: fmt.Sprintf("side %q", trade.Side),
		}
	}

	ttr := market.ResolvedAt.Sub(trade.Timestamp).Hours()
	if ttr < 0 {
		return models.TradeRow{}, &DataQualityError{
			Reason: ReasonNegativeTTR, ConditionID: cid,
			Detail: fmt.Sprintf("trade at %s after resolution at %s", trade.Timestamp.Format("2006-01-02T15:04:05Z"), market.ResolvedAt.Format("2006-01-02T15:04:05Z")),
		}
	}

	return models.TradeRow{
		ConditionID:           cid,
		Question:              market.Question,
		Category:              market.Category,
		Timestamp:             trade.Timestamp,
		Price:                 trade.Price,
		Size:                  trade.Size,
		Side:                  side,
		Outcome:               trade.Outcome,
		OutcomeIndex:          trade.OutcomeIndex,
		TransactionHash:       trade.TransactionHash,
		WinningOutcome:        market.WinningOutcome,
		Won:                   trade.Outcome == market.WinningOutcome,
		ResolvedAt:            market.ResolvedAt,
		TimeToResolutionHours: ttr,
		VolumeTotal:           market.Volume,
		Liquidity:             market.Liquidity,
		Sampled:               sampled,
	}, nil
}

// Dedupe keeps the first occurrence of every dedup key, preserving order.
// Applying it twice gives the same result as applying it once.
func Dedupe(rows []models.TradeRow) (unique []models.TradeRow, removed int) {
	seen := make(map[models.TradeKey]bool, len(rows))
	unique = make([]models.TradeRow, 0, len(rows))
	for i := range rows {
		key := rows[i].Key()
		if seen[key] {
			removed++
			continue
		}
		seen[key] = true
		unique = append(unique, rows[i])
	}
	return unique, removed
}

// SortByTime orders rows by trade time, then market, oldest first
func SortByTime(rows []models.TradeRow) {
	sort.SliceStable(rows, func(i, j int) bool {
		if !rows[i].Timestamp.Equal(rows[j].Timestamp) {
			return rows[i].Timestamp.Before(rows[j].Timestamp)
		}
		return rows[i].ConditionID < rows[j].ConditionID
	})
}
