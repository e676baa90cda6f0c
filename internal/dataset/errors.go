package dataset

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/rewired-gh/polycalib/internal/models"
)

// Discard reasons
const (
	ReasonPriceOutOfRange   = "price_out_of_range"
	ReasonNonPositiveSize   = "non_positive_size"
	ReasonNegativeTTR       = "negative_time_to_resolution"
	ReasonMissingResolution = "missing_resolution"
	ReasonMissingOutcome    = "missing_outcome"
	ReasonMarketMismatch    = "market_mismatch"
	ReasonInvalidSide       = "invalid_side"
	ReasonMissingMarket     = "missing_condition_id"
)

// DataQualityError describes a trade row that cannot enter the dataset
type DataQualityError struct {
	Reason      string
	ConditionID string
	Detail      string
}

func (e *DataQualityError) Error() string {
	return fmt.Sprintf("data quality error (%s) for market %s: %s", e.Reason, e.ConditionID, e.Detail)
}

// CheckRow applies the row-level data-quality rules to a row that did not come
// through BuildRow, such as one read back from a dataset file.
func CheckRow(r *models.TradeRow) error {
	cid := r.ConditionID
	switch {
	case cid == "":
		return &DataQualityError{Reason: ReasonMissingMarket, Detail: "row has no condition id"}
	case !models.ValidPrice(r.Price):
		return &DataQualityError{Reason: ReasonPriceOutOfRange, ConditionID: cid, Detail: fmt.Sprintf("price %v outside [0, 1]", r.Price)}
	case !models.ValidSize(r.Size):
		return &DataQualityError{Reason: ReasonNonPositiveSize, ConditionID: cid, Detail: fmt.Sprintf("size %v", r.Size)}
	case r.Side != models.SideBuy && r.Side != models.SideSell:
		return &DataQualityError{Reason: ReasonInvalidSide, ConditionID: cid, Detail: fmt.Sprintf("side %q", r.Side)}
	case r.Outcome == "":
		return &DataQualityError{Reason: ReasonMissingOutcome, ConditionID: cid, Detail: "trade has no outcome"}
	case r.WinningOutcome == "":
		return &DataQualityError{Reason: ReasonMissingResolution, ConditionID: cid, Detail: "market has no resolution"}
	case !(r.TimeToResolutionHours >= 0) || math.IsInf(r.TimeToResolutionHours, 1):
		return &DataQualityError{
			Reason: ReasonNegativeTTR, ConditionID: cid,
			Detail: fmt.Sprintf("time to resolution %vh", r.TimeToResolutionHours),
		}
	}
	return nil
}

// FilterRows drops rows that fail CheckRow and counts them by reason
func FilterRows(rows []models.TradeRow) ([]models.TradeRow, DiscardTally) {
	tally := make(DiscardTally)
	kept := make([]models.TradeRow, 0, len(rows))
	for i := range rows {
		var dq *DataQualityError
		if err := CheckRow(&rows[i]); errors.As(err, &dq) {
			tally.Add(dq.Reason)
			continue
		}
		kept = append(kept, rows[i])
	}
	return kept, tally
}

// Merge adds other's counts to t
func (t DiscardTally) Merge(other DiscardTally) {
	for reason, n := range other {
		t[reason] += n
	}
}

// DiscardTally counts excluded rows by reason
type DiscardTally map[string]int

// Add records one discarded row
func (t DiscardTally) Add(reason string) {
	t[reason]++
}

// Total returns the number of discarded rows
func (t DiscardTally) Total() int {
	total := 0
	for _, n := range t {
		total += n
	}
	return total
}

// Reasons returns the recorded reasons in a stable order
func (t DiscardTally) Reasons() []string {
	reasons := make([]string, 0, len(t))
	for r := range t {
		reasons = append(reasons, r)
	}
	sort.Strings(reasons)
	return reasons
}
