package recorder

import (
	"database/sql"
	"fmt"
	"sync"

	"github.com/zeromicro/go-zero/core/logx"
	_ "modernc.org/sqlite"
)

// SQLiteRecorder persists run history to a SQLite database.
type SQLiteRecorder struct {
	db *sql.DB
	mu sync.Mutex
}

// NewSQLiteRecorder opens (or creates) the SQLite database and runs migrations.
func NewSQLiteRecorder(dbPath string) (*SQLiteRecorder, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// WAL lets readers inspect history while a run is writing.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	r := &SQLiteRecorder{db: db}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	logx.Infof("sqlite recorder opened: %s", dbPath)
	return r, nil
}

func (r *SQLiteRecorder) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			started_at  INTEGER NOT NULL,
			finished_at INTEGER NOT NULL,
			updated     INTEGER,
			unchanged   INTEGER,
			failed      INTEGER,
			dry_run     INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at)`,

		`CREATE TABLE IF NOT EXISTS series_results (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id       INTEGER NOT NULL REFERENCES runs(id),
			series_id    TEXT NOT NULL,
			outcome      TEXT NOT NULL,
			source       TEXT,
			source_id    TEXT,
			attempts     INTEGER,
			observations INTEGER,
			last_date    TEXT,
			kind         TEXT,
			error        TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_series_results_series ON series_results(series_id, run_id)`,
	}

	for _, s := range stmts {
		if _, err := r.db.Exec(s); err != nil {
			return fmt.Errorf("exec %q: %w", s[:40], err)
		}
	}
	return nil
}

func (r *SQLiteRecorder) RecordRun(run *RunRecord) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	res, err := r.db.Exec(`INSERT INTO runs
		(started_at, finished_at, updated, unchanged, failed, dry_run)
		VALUES (?,?,?,?,?,?)`,
		run.StartedAt.Unix(), run.FinishedAt.Unix(),
		run.Updated, run.Unchanged, run.Failed, run.DryRun,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r *SQLiteRecorder) RecordSeries(rec *SeriesRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.Exec(`INSERT INTO series_results
		(run_id, series_id, outcome, source, source_id, attempts, observations, last_date, kind, error)
		VALUES (?,?,?,?,?,?,?,?,?,?)`,
		rec.RunID, rec.SeriesID, rec.Outcome, rec.Source, rec.SourceID,
		rec.Attempts, rec.Observations, rec.LastDate, rec.Kind, rec.Error,
	)
	return err
}

func (r *SQLiteRecorder) Close() error {
	return r.db.Close()
}
