// Package journal persists fills and equity snapshots to SQLite so runs can
// be inspected after the process exits. The trading core never reads it
// back; it is an optional sink, not a source of truth.
package journal

import (
	"database/sql"
	"fmt"
	"math/rand"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/oklog/ulid/v2"

	"github.com/jfenwick/microtrader/internal/ledger"
)

const schema = `
CREATE TABLE IF NOT EXISTS fills (
	fill_id TEXT PRIMARY KEY,
	run_id TEXT NOT NULL,
	symbol TEXT NOT NULL,
	side TEXT NOT NULL,
	quantity REAL NOT NULL,
	price REAL NOT NULL,
	strategy TEXT NOT NULL,
	filled_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS equity (
	snapshot_id TEXT PRIMARY KEY,
	run_id TEXT NOT NULL,
	time DATETIME NOT NULL,
	equity REAL NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_fills_run ON fills(run_id);
CREATE INDEX IF NOT EXISTS idx_equity_run_time ON equity(run_id, time);
`

// SQLiteJournal appends fills and equity points for one run.
type SQLiteJournal struct {
	db      *sql.DB
	runID   string
	entropy *rand.Rand
}

// NewSQLite opens (creating if needed) the journal database at path and
// starts a new run.
func NewSQLite(path string) (*SQLiteJournal, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening journal db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating journal schema: %w", err)
	}

	entropy := rand.New(rand.NewSource(time.Now().UnixNano()))
	return &SQLiteJournal{
		db:      db,
		runID:   ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String(),
		entropy: entropy,
	}, nil
}

// RunID identifies this journal session.
func (j *SQLiteJournal) RunID() string { return j.runID }

func (j *SQLiteJournal) newID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), j.entropy).String()
}

// RecordFill appends one fill row.
func (j *SQLiteJournal) RecordFill(f ledger.Fill) error {
	_, err := j.db.Exec(`
		INSERT INTO fills
		(fill_id, run_id, symbol, side, quantity, price, strategy, filled_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		j.newID(), j.runID, f.Symbol, string(f.Side), f.Quantity, f.Price,
		f.StrategyName, f.Timestamp,
	)
	return err
}

// RecordFills appends every fill in order; used after a backtest run.
func (j *SQLiteJournal) RecordFills(fills []ledger.Fill) error {
	for _, f := range fills {
		if err := j.RecordFill(f); err != nil {
			return err
		}
	}
	return nil
}

// RecordEquity appends one equity observation.
func (j *SQLiteJournal) RecordEquity(t time.Time, equity float64) error {
	_, err := j.db.Exec(`
		INSERT INTO equity (snapshot_id, run_id, time, equity)
		VALUES (?, ?, ?, ?)`,
		j.newID(), j.runID, t, equity,
	)
	return err
}

// FillCount returns the number of fills recorded for this run.
func (j *SQLiteJournal) FillCount() (int, error) {
	var n int
	err := j.db.QueryRow(`SELECT COUNT(*) FROM fills WHERE run_id = ?`, j.runID).Scan(&n)
	return n, err
}

// Close releases the database handle.
func (j *SQLiteJournal) Close() error {
	return j.db.Close()
}
