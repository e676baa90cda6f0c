package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/rewired-gh/polycalib/internal/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS trades (
	condition_id             TEXT    NOT NULL,
	question                 TEXT    NOT NULL,
	category                 TEXT    NOT NULL,
	trade_timestamp          INTEGER NOT NULL,
	price                    TEXT    NOT NULL,
	size                     TEXT    NOT NULL,
	side                     TEXT    NOT NULL,
	outcome                  TEXT    NOT NULL,
	outcome_index            INTEGER NOT NULL,
	transaction_hash         TEXT    NOT NULL,
	winning_outcome          TEXT    NOT NULL,
	won                      INTEGER NOT NULL,
	resolved_at              INTEGER NOT NULL,
	time_to_resolution_hours REAL    NOT NULL,
	volume_total             REAL    NOT NULL,
	liquidity                REAL    NOT NULL,
	sampled                  INTEGER NOT NULL,
	UNIQUE (condition_id, trade_timestamp, price, size, side)
);
CREATE INDEX IF NOT EXISTS idx_trades_condition ON trades (condition_id);
`

// SQLiteSink mirrors dataset rows into a SQLite database. The UNIQUE
// constraint on the dedup key makes repeated inserts idempotent.
type SQLiteSink struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database at path. ":memory:" is accepted for tests.
func OpenSQLite(path string, dirPermissions os.FileMode) (*SQLiteSink, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), dirPermissions); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection keeps ":memory:" databases alive across calls
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return &SQLiteSink{db: db}, nil
}

// InsertRows writes rows in one transaction and returns how many were new
func (s *SQLiteSink) InsertRows(ctx context.Context, rows []models.TradeRow) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO trades (
		condition_id, question, category, trade_timestamp, price, size, side,
		outcome, outcome_index, transaction_hash, winning_outcome, won,
		resolved_at, time_to_resolution_hours, volume_total, liquidity, sampled
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	inserted := 0
	for i := range rows {
		r := &rows[i]
		key := r.Key()
		res, err := stmt.ExecContext(ctx,
			r.ConditionID, r.Question, r.Category, key.Timestamp, key.Price, key.Size, key.Side,
			r.Outcome, r.OutcomeIndex, r.TransactionHash, r.WinningOutcome, boolToInt(r.Won),
			r.ResolvedAt.Unix(), r.TimeToResolutionHours, r.VolumeTotal, r.Liquidity, boolToInt(r.Sampled),
		)
		if err != nil {
			return inserted, fmt.Errorf("failed to insert trade for %s: %w", r.ConditionID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return inserted, fmt.Errorf("failed to read affected rows: %w", err)
		}
		inserted += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit: %w", err)
	}
	return inserted, nil
}

// LoadRows returns every stored row ordered by trade time
func (s *SQLiteSink) LoadRows(ctx context.Context) ([]models.TradeRow, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT
		condition_id, question, category, trade_timestamp, price, size, side,
		outcome, outcome_index, transaction_hash, winning_outcome, won,
		resolved_at, time_to_resolution_hours, volume_total, liquidity, sampled
	FROM trades ORDER BY trade_timestamp, condition_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	defer rows.Close()

	var result []models.TradeRow
	for rows.Next() {
		var (
			r            models.TradeRow
			ts, resolved int64
			price, size  string
			won, sampled int
		)
		if err := rows.Scan(
			&r.ConditionID, &r.Question, &r.Category, &ts, &price, &size, &r.Side,
			&r.Outcome, &r.OutcomeIndex, &r.TransactionHash, &r.WinningOutcome, &won,
			&resolved, &r.TimeToResolutionHours, &r.VolumeTotal, &r.Liquidity, &sampled,
		); err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		if r.Price, err = strconv.ParseFloat(price, 64); err != nil {
			return nil, fmt.Errorf("invalid stored price %q: %w", price, err)
		}
		if r.Size, err = strconv.ParseFloat(size, 64); err != nil {
			return nil, fmt.Errorf("invalid stored size %q: %w", size, err)
		}
		r.Timestamp = time.Unix(ts, 0).UTC()
		r.ResolvedAt = time.Unix(resolved, 0).UTC()
		r.Won = won == 1
		r.Sampled = sampled == 1
		result = append(result, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate trades: %w", err)
	}
	return result, nil
}

// Count returns the number of stored rows
func (s *SQLiteSink) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM trades`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count trades: %w", err)
	}
	return n, nil
}

// Close closes the database
func (s *SQLiteSink) Close() error {
	return s.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
