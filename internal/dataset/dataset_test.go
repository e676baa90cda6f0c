package dataset

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rewired-gh/polycalib/internal/models"
)

var resolvedAt = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func market(cid, winner string) models.Market {
	return models.Market{
		ConditionID:    cid,
		Question:       "Will " + cid + " resolve yes?",
		Category:       "politics",
		Volume:         50000,
		Liquidity:      2500,
		ResolvedAt:     resolvedAt,
		WinningOutcome: winner,
		Outcomes:       []string{"Yes", "No"},
	}
}

func trade(cid, outcome string, price float64, hoursBefore float64) models.Trade {
	return models.Trade{
		ConditionID: cid,
		Timestamp:   resolvedAt.Add(-time.Duration(hoursBefore * float64(time.Hour))),
		Price:       price,
		Size:        10,
		Side:        models.SideBuy,
		Outcome:     outcome,
	}
}

func TestBuildRow_StampsWonAndTTR(t *testing.T) {
	m := market("0x1", "No")

	row, err := BuildRow(m, trade("0x1", "No", 0.35, 48), true)
	if err != nil {
		t.Fatalf("BuildRow failed: %v", err)
	}
	if !row.Won {
		t.Error("Expected trade on winning outcome to be marked won")
	}
	if math.Abs(row.TimeToResolutionHours-48) > 1e-9 {
		t.Errorf("Expected 48h to resolution, got %v", row.TimeToResolutionHours)
	}
	if !row.Sampled || row.VolumeTotal != 50000 || row.Category != "politics" {
		t.Errorf("Expected market fields to be joined, got %+v", row)
	}

	row, err = BuildRow(m, trade("0x1", "Yes", 0.65, 1), false)
	if err != nil {
		t.Fatalf("BuildRow failed: %v", err)
	}
	if row.Won {
		t.Error("Expected trade on losing outcome not to be marked won")
	}
}

func TestBuildRow_DataQualityErrors(t *testing.T) {
	tests := []struct {
		name   string
		market models.Market
		trade  models.Trade
		reason string
	}{
		{"price above one", market("0x1", "Yes"), trade("0x1", "Yes", 1.2, 5), ReasonPriceOutOfRange},
		{"negative price", market("0x1", "Yes"), trade("0x1", "Yes", -0.1, 5), ReasonPriceOutOfRange},
		{"NaN price", market("0x1", "Yes"), trade("0x1", "Yes", math.NaN(), 5), ReasonPriceOutOfRange},
		{"trade after resolution", market("0x1", "Yes"), trade("0x1", "Yes", 0.5, -2), ReasonNegativeTTR},
		{"unresolved market", market("0x1", ""), trade("0x1", "Yes", 0.5, 5), ReasonMissingResolution},
		{"missing outcome", market("0x1", "Yes"), trade("0x1", "", 0.5, 5), ReasonMissingOutcome},
		{"foreign trade", market("0x1", "Yes"), trade("0x2", "Yes", 0.5, 5), ReasonMarketMismatch},
		{"unknown outcome", market("0x1", "Yes"), trade("0x1", "Maybe", 0.5, 5), ReasonMarketMismatch},
		{"zero size", market("0x1", "Yes"), func() models.Trade { tr := trade("0x1", "Yes", 0.5, 5); tr.Size = 0; return tr }(), ReasonNonPositiveSize},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := BuildRow(tt.market, tt.trade, false)
			var dq *DataQualityError
			if !errors.As(err, &dq) {
				t.Fatalf("Expected DataQualityError, got %v", err)
			}
			if dq.Reason != tt.reason {
				t.Errorf("Expected reason %s, got %s", tt.reason, dq.Reason)
			}
		})
	}
}

func TestAssembler_TalliesDiscardsAndDedupes(t *testing.T) {
	a := NewAssembler()
	rec := models.MarketRecord{
		Market: market("0x1", "Yes"),
		Trades: []models.Trade{
			trade("0x1", "Yes", 0.6, 10),
			trade("0x1", "Yes", 0.6, 10), // exact duplicate
			trade("0x1", "No", 0.4, 9),
			trade("0x1", "Yes", 1.5, 8),  // bad price
			trade("0x1", "Yes", 0.5, -1), // after resolution
		},
		Status: models.StatusComplete,
	}

	if added := a.Add(rec); added != 2 {
		t.Errorf("Expected 2 rows added, got %d", added)
	}
	// Replaying the same record adds nothing
	if added := a.Add(rec); added != 0 {
		t.Errorf("Expected replay to add 0 rows, got %d", added)
	}

	if len(a.Rows()) != 2 {
		t.Errorf("Expected 2 rows, got %d", len(a.Rows()))
	}
	if a.Duplicates() != 3 {
		t.Errorf("Expected 3 duplicates, got %d", a.Duplicates())
	}
	tally := a.Tally()
	if tally[ReasonPriceOutOfRange] != 2 || tally[ReasonNegativeTTR] != 2 {
		t.Errorf("Unexpected tally: %v", tally)
	}
	if tally.Total() != 4 {
		t.Errorf("Expected 4 discarded rows, got %d", tally.Total())
	}
	if got := tally.Reasons(); len(got) != 2 || got[0] != ReasonNegativeTTR {
		t.Errorf("Expected sorted reasons, got %v", got)
	}
	if a.Markets() != 1 {
		t.Errorf("Expected 1 market, got %d", a.Markets())
	}
}

func TestAssembler_ExcludesUnresolvedMarketEntirely(t *testing.T) {
	a := NewAssembler()
	rec := models.MarketRecord{
		Market: market("0x9", ""),
		Trades: []models.Trade{trade("0x9", "Yes", 0.5, 3), trade("0x9", "No", 0.5, 2)},
	}
	if added := a.Add(rec); added != 0 {
		t.Errorf("Expected no rows from unresolved market, got %d", added)
	}
	if a.Tally()[ReasonMissingResolution] != 2 {
		t.Errorf("Expected 2 missing_resolution discards, got %v", a.Tally())
	}
}

func TestDedupe_Idempotent(t *testing.T) {
	m := market("0x1", "Yes")
	var rows []models.TradeRow
	for _, tr := range []models.Trade{
		trade("0x1", "Yes", 0.6, 10),
		trade("0x1", "Yes", 0.6, 10),
		trade("0x1", "Yes", 0.7, 10),
		trade("0x1", "Yes", 0.6, 9),
	} {
		row, err := BuildRow(m, tr, false)
		if err != nil {
			t.Fatal(err)
		}
		rows = append(rows, row)
	}
	// Same fill reported on the other side is a different row
	sell := rows[0]
	sell.Side = models.SideSell
	rows = append(rows, sell)

	once, removed := Dedupe(rows)
	if removed != 1 || len(once) != 4 {
		t.Fatalf("Expected 4 unique rows and 1 removed, got %d and %d", len(once), removed)
	}
	twice, removed := Dedupe(once)
	if removed != 0 || len(twice) != len(once) {
		t.Errorf("Expected second dedup to be a no-op, got %d rows and %d removed", len(twice), removed)
	}
	for i := range once {
		if once[i].Key() != twice[i].Key() {
			t.Errorf("Row %d changed between dedup passes", i)
		}
	}
}

func TestCSV_RoundTrip(t *testing.T) {
	m := market("0x1", "Yes")
	m.Question = `He said "yes", then left`
	var rows []models.TradeRow
	for _, tr := range []models.Trade{trade("0x1", "Yes", 0.6, 10), trade("0x1", "No", 0.41, 5)} {
		row, err := BuildRow(m, tr, true)
		if err != nil {
			t.Fatal(err)
		}
		rows = append(rows, row)
	}

	var buf bytes.Buffer
	if err := WriteCSV(&buf, rows); err != nil {
		t.Fatalf("WriteCSV failed: %v", err)
	}
	if lines := strings.Count(buf.String(), "\n"); lines != 3 {
		t.Errorf("Expected header plus 2 lines, got %d lines", lines)
	}

	parsed, discarded, err := ReadCSV(&buf)
	if err != nil {
		t.Fatalf("ReadCSV failed: %v", err)
	}
	if discarded.Total() != 0 {
		t.Errorf("Expected no discarded rows, got %v", discarded)
	}
	if len(parsed) != 2 {
		t.Fatalf("Expected 2 rows, got %d", len(parsed))
	}
	for i := range rows {
		if parsed[i].Key() != rows[i].Key() {
			t.Errorf("Row %d key mismatch: %+v vs %+v", i, parsed[i].Key(), rows[i].Key())
		}
		if parsed[i].Won != rows[i].Won || parsed[i].Question != rows[i].Question || !parsed[i].Sampled {
			t.Errorf("Row %d fields mismatch: %+v", i, parsed[i])
		}
	}
}

func TestReadCSV_MissingColumn(t *testing.T) {
	_, _, err := ReadCSV(strings.NewReader("condition_id,price\n0x1,0.5\n"))
	if err == nil {
		t.Error("Expected error for missing required columns")
	}
}

func TestReadCSV_DerivesWonWhenAbsent(t *testing.T) {
	input := "condition_id,trade_timestamp,price,size,side,outcome,winning_outcome\n" +
		"0x1,1700000000,0.3,5,buy,No,No\n"
	rows, _, err := ReadCSV(strings.NewReader(input))
	if err != nil {
		t.Fatalf("ReadCSV failed: %v", err)
	}
	if len(rows) != 1 || !rows[0].Won || rows[0].Side != "BUY" {
		t.Errorf("Unexpected row: %+v", rows)
	}
}

func TestReadCSV_DiscardsInvalidRows(t *testing.T) {
	input := "condition_id,trade_timestamp,price,size,side,outcome,winning_outcome,resolved_at\n" +
		"0x1,1700000000,0.3,5,BUY,No,No,1700086400\n" + // valid, 24h before resolution
		"0x1,1700000001,1.5,5,BUY,No,No,1700086400\n" +
		"0x1,1700000002,NaN,5,BUY,No,No,1700086400\n" +
		"0x1,1700000003,0.3,5,BUY,No,No,1699990000\n" + // traded after resolution
		"0x1,1700000004,0.3,0,BUY,No,No,1700086400\n" +
		"0x1,1700000005,0.3,Inf,BUY,No,No,1700086400\n" +
		"0x1,1700000006,0.3,5,HOLD,No,No,1700086400\n" +
		"0x2,1700000007,0.3,5,SELL,Yes,,1700086400\n"

	rows, discarded, err := ReadCSV(strings.NewReader(input))
	if err != nil {
		t.Fatalf("ReadCSV failed: %v", err)
	}
	if len(rows) != 1 || rows[0].TimeToResolutionHours != 24 {
		t.Fatalf("Expected only the valid row to survive, got %+v", rows)
	}

	want := DiscardTally{
		ReasonPriceOutOfRange:   2,
		ReasonNegativeTTR:       1,
		ReasonNonPositiveSize:   2,
		ReasonInvalidSide:       1,
		ReasonMissingResolution: 1,
	}
	if discarded.Total() != want.Total() {
		t.Errorf("Expected %d discarded rows, got %d (%v)", want.Total(), discarded.Total(), discarded)
	}
	for reason, n := range want {
		if discarded[reason] != n {
			t.Errorf("Expected %d rows discarded for %s, got %d", n, reason, discarded[reason])
		}
	}
}

func TestFilterRows(t *testing.T) {
	good, _ := BuildRow(market("0x1", "Yes"), trade("0x1", "Yes", 0.6, 5), false)
	nan := good
	nan.Price = math.NaN()
	late := good
	late.TimeToResolutionHours = -3
	orphan := good
	orphan.ConditionID = ""

	kept, tally := FilterRows([]models.TradeRow{good, nan, late, orphan})
	if len(kept) != 1 || kept[0].Key() != good.Key() {
		t.Errorf("Expected only the valid row to be kept, got %+v", kept)
	}
	if tally[ReasonPriceOutOfRange] != 1 || tally[ReasonNegativeTTR] != 1 || tally[ReasonMissingMarket] != 1 {
		t.Errorf("Unexpected tally %v", tally)
	}

	// Surviving rows are safe to key; NaN would panic in decimal.
	if unique, removed := Dedupe(kept); len(unique) != 1 || removed != 0 {
		t.Errorf("Unexpected dedup result %d/%d", len(unique), removed)
	}
}

func TestCombine_MergesDedupesAndSorts(t *testing.T) {
	dir := t.TempDir()
	m := market("0x1", "Yes")
	newer, _ := BuildRow(m, trade("0x1", "Yes", 0.6, 1), false)
	older, _ := BuildRow(m, trade("0x1", "No", 0.4, 20), false)

	write := func(name string, rows []models.TradeRow) string {
		path := filepath.Join(dir, name)
		var buf bytes.Buffer
		if err := WriteCSV(&buf, rows); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
			t.Fatal(err)
		}
		return path
	}
	bad := newer
	bad.Price = 1.5
	a := write("a.csv", []models.TradeRow{newer})
	b := write("b.csv", []models.TradeRow{newer, older, bad})

	res, err := Combine([]string{a, b})
	if err != nil {
		t.Fatalf("Combine failed: %v", err)
	}
	if res.Files != 2 || res.Read != 3 || res.Duplicates != 1 {
		t.Errorf("Unexpected combine stats: %+v", res)
	}
	if res.Discarded.Total() != 1 || res.Discarded[ReasonPriceOutOfRange] != 1 {
		t.Errorf("Expected one out-of-range row discarded, got %v", res.Discarded)
	}
	if len(res.Rows) != 2 || !res.Rows[0].Timestamp.Before(res.Rows[1].Timestamp) {
		t.Errorf("Expected 2 rows sorted oldest first, got %+v", res.Rows)
	}
}

func TestSummarize(t *testing.T) {
	rows := []models.TradeRow{
		{ConditionID: "0x1", Outcome: "Yes", Category: "politics", Price: 0.6, Won: true, Timestamp: time.Unix(100, 0)},
		{ConditionID: "0x1", Outcome: "No", Category: "politics", Price: 0.4, Won: false, Timestamp: time.Unix(300, 0), Sampled: true},
		{ConditionID: "0x2", Outcome: "Yes", Category: "", Price: 0.2, Won: false, Timestamp: time.Unix(200, 0)},
	}
	s := Summarize(rows)
	if s.Trades != 3 || s.Markets != 2 || s.SampledMarkets != 1 {
		t.Errorf("Unexpected counts: %+v", s)
	}
	if math.Abs(s.WinRate-1.0/3.0) > 1e-9 || math.Abs(s.AvgPrice-0.4) > 1e-9 {
		t.Errorf("Unexpected rates: win %v avg %v", s.WinRate, s.AvgPrice)
	}
	if !s.First.Equal(time.Unix(100, 0)) || !s.Last.Equal(time.Unix(300, 0)) {
		t.Errorf("Unexpected date range %v - %v", s.First, s.Last)
	}
	if s.Outcomes[0].Label != "Yes" || s.Outcomes[0].N != 2 {
		t.Errorf("Unexpected outcome counts: %+v", s.Outcomes)
	}
	if s.Categories[0].Label != "politics" || s.Categories[1].Label != "uncategorized" {
		t.Errorf("Unexpected category counts: %+v", s.Categories)
	}
}

func TestFileName(t *testing.T) {
	got := FileName(time.Date(2025, 4, 2, 13, 5, 9, 0, time.UTC))
	if got != "polymarket_trades_20250402_130509.csv" {
		t.Errorf("Unexpected file name %s", got)
	}
}

func TestSampleMarkets(t *testing.T) {
	var rows []models.TradeRow
	sizes := make(map[string]int)
	for m := 0; m < 10; m++ {
		cid := fmt.Sprintf("0x%02d", m)
		sizes[cid] = m + 1
		for k := 0; k < m+1; k++ {
			rows = append(rows, models.TradeRow{ConditionID: cid, Timestamp: time.Unix(int64(k), 0)})
		}
	}

	sample := SampleMarkets(rows, 4, 42)
	markets := make(map[string]int)
	for _, r := range sample {
		markets[r.ConditionID]++
	}
	if len(markets) != 4 {
		t.Fatalf("Expected 4 markets, got %d", len(markets))
	}
	for cid, n := range markets {
		if n != sizes[cid] {
			t.Errorf("Expected all %d trades of %s to be kept, got %d", sizes[cid], cid, n)
		}
	}

	// Same seed and market set give the same sample, whatever the row order
	reversed := make([]models.TradeRow, len(rows))
	for i := range rows {
		reversed[len(rows)-1-i] = rows[i]
	}
	again := SampleMarkets(reversed, 4, 42)
	for _, r := range again {
		if markets[r.ConditionID] == 0 {
			t.Errorf("Expected the same markets for the same seed, got extra %s", r.ConditionID)
		}
	}

	if got := SampleMarkets(rows, 10, 1); len(got) != len(rows) {
		t.Errorf("Expected all rows when n covers every market, got %d", len(got))
	}
	if got := SampleMarkets(rows, 0, 1); len(got) != len(rows) {
		t.Errorf("Expected n=0 to disable sampling, got %d rows", len(got))
	}
}
