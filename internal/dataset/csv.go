package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rewired-gh/polycalib/internal/models"
)

// Columns is the dataset header, in file order
var Columns = []string{
	"condition_id",
	"question",
	"category",
	"trade_timestamp",
	"price",
	"size",
	"side",
	"outcome",
	"outcome_index",
	"transaction_hash",
	"winning_outcome",
	"won",
	"resolved_at",
	"time_to_resolution_hours",
	"volume_total",
	"liquidity",
	"sampled",
}

// FileName returns the dataset file name for a run started at t
func FileName(t time.Time) string {
	return fmt.Sprintf("polymarket_trades_%s.csv", t.UTC().Format("20060102_150405"))
}

// WriteCSV writes a header row followed by one line per row
func WriteCSV(w io.Writer, rows []models.TradeRow) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Columns); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	record := make([]string, len(Columns))
	for i := range rows {
		r := &rows[i]
		record[0] = r.ConditionID
		record[1] = r.Question
		record[2] = r.Category
		record[3] = r.Timestamp.UTC().Format(time.RFC3339)
		record[4] = formatFloat(r.Price)
		record[5] = formatFloat(r.Size)
		record[6] = r.Side
		record[7] = r.Outcome
		record[8] = strconv.Itoa(r.OutcomeIndex)
		record[9] = r.TransactionHash
		record[10] = r.WinningOutcome
		record[11] = strconv.FormatBool(r.Won)
		record[12] = r.ResolvedAt.UTC().Format(time.RFC3339)
		record[13] = strconv.FormatFloat(r.TimeToResolutionHours, 'f', 4, 64)
		record[14] = formatFloat(r.VolumeTotal)
		record[15] = formatFloat(r.Liquidity)
		record[16] = strconv.FormatBool(r.Sampled)
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("failed to write row %d: %w", i, err)
		}
	}

	cw.Flush()
	return cw.Error()
}

// ReadCSV parses a dataset file. Columns are matched by header name, so extra
// or reordered columns are tolerated; the core columns are required. Rows that
// parse but fail CheckRow are left out and counted in the returned tally.
func ReadCSV(r io.Reader) ([]models.TradeRow, DiscardTally, error) {
	cr := csv.NewReader(r)
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, nil, fmt.Errorf("empty dataset: missing header")
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read header: %w", err)
	}

	idx := make(map[string]int, len(header))
	for i, name := range header {
		idx[strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))] = i
	}
	for _, required := range []string{"condition_id", "trade_timestamp", "price", "size", "side", "outcome", "winning_outcome"} {
		if _, ok := idx[required]; !ok {
			return nil, nil, fmt.Errorf("dataset is missing required column %q", required)
		}
	}

	get := func(rec []string, name string) string {
		i, ok := idx[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	var rows []models.TradeRow
	tally := make(DiscardTally)
	line := 1
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read line %d: %w", line, err)
		}

		row, err := parseRow(rec, get)
		if err != nil {
			return nil, nil, fmt.Errorf("line %d: %w", line, err)
		}
		var dq *DataQualityError
		if err := CheckRow(&row); errors.As(err, &dq) {
			tally.Add(dq.Reason)
			continue
		}
		rows = append(rows, row)
	}
	return rows, tally, nil
}

func parseRow(rec []string, get func([]string, string) string) (models.TradeRow, error) {
	var (
		row models.TradeRow
		err error
	)
	row.ConditionID = get(rec, "condition_id")
	row.Question = get(rec, "question")
	row.Category = get(rec, "category")
	row.Side = strings.ToUpper(get(rec, "side"))
	row.Outcome = get(rec, "outcome")
	row.TransactionHash = get(rec, "transaction_hash")
	row.WinningOutcome = get(rec, "winning_outcome")

	if row.Timestamp, err = parseTimestamp(get(rec, "trade_timestamp")); err != nil {
		return row, fmt.Errorf("invalid trade_timestamp: %w", err)
	}
	if row.Price, err = strconv.ParseFloat(get(rec, "price"), 64); err != nil {
		return row, fmt.Errorf("invalid price: %w", err)
	}
	if row.Size, err = strconv.ParseFloat(get(rec, "size"), 64); err != nil {
		return row, fmt.Errorf("invalid size: %w", err)
	}
	if v := get(rec, "outcome_index"); v != "" {
		if row.OutcomeIndex, err = strconv.Atoi(v); err != nil {
			return row, fmt.Errorf("invalid outcome_index: %w", err)
		}
	}
	if v := get(rec, "resolved_at"); v != "" {
		if row.ResolvedAt, err = parseTimestamp(v); err != nil {
			return row, fmt.Errorf("invalid resolved_at: %w", err)
		}
	}
	if v := get(rec, "won"); v != "" {
		if row.Won, err = strconv.ParseBool(v); err != nil {
			return row, fmt.Errorf("invalid won: %w", err)
		}
	} else {
		row.Won = row.Outcome == row.WinningOutcome
	}
	if v := get(rec, "time_to_resolution_hours"); v != "" {
		if row.TimeToResolutionHours, err = strconv.ParseFloat(v, 64); err != nil {
			return row, fmt.Errorf("invalid time_to_resolution_hours: %w", err)
		}
	} else if !row.ResolvedAt.IsZero() {
		row.TimeToResolutionHours = row.ResolvedAt.Sub(row.Timestamp).Hours()
	}
	if v := get(rec, "volume_total"); v != "" {
		if row.VolumeTotal, err = strconv.ParseFloat(v, 64); err != nil {
			return row, fmt.Errorf("invalid volume_total: %w", err)
		}
	}
	if v := get(rec, "liquidity"); v != "" {
		if row.Liquidity, err = strconv.ParseFloat(v, 64); err != nil {
			return row, fmt.Errorf("invalid liquidity: %w", err)
		}
	}
	if v := get(rec, "sampled"); v != "" {
		if row.Sampled, err = strconv.ParseBool(v); err != nil {
			return row, fmt.Errorf("invalid sampled: %w", err)
		}
	}
	return row, nil
}

// parseTimestamp accepts RFC 3339 or unix seconds
func parseTimestamp(v string) (time.Time, error) {
	if secs, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// ReadFile reads a dataset CSV from disk
func ReadFile(path string) ([]models.TradeRow, DiscardTally, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open dataset: %w", err)
	}
	defer f.Close()

	rows, tally, err := ReadCSV(f)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return rows, tally, nil
}

// CombineResult summarises a merge of several dataset files
type CombineResult struct {
	Rows       []models.TradeRow
	Files      int
	Read       int // valid rows read, before dedup
	Duplicates int
	Discarded  DiscardTally
}

// Combine merges dataset files, drops duplicate rows and sorts by trade time
func Combine(paths []string) (*CombineResult, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("no dataset files to combine")
	}

	res := &CombineResult{Discarded: make(DiscardTally)}
	var all []models.TradeRow
	for _, p := range paths {
		rows, tally, err := ReadFile(p)
		if err != nil {
			return nil, err
		}
		res.Discarded.Merge(tally)
		all = append(all, rows...)
		res.Files++
		res.Read += len(rows)
	}

	unique, removed := Dedupe(all)
	SortByTime(unique)
	res.Rows = unique
	res.Duplicates = removed
	return res, nil
}
