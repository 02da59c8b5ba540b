// Package state implements component E: a SQLite-backed, crash-recoverable
// processing-state store keyed by (run_id, paper_id), plus run records and
// checkpoints, following the teacher's internal/db package shape exactly
// (same connection string idiom, same schema_version migration pattern).
package state

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/ratsarchiv/pipeline/internal/logger"
)

// Store wraps a SQLite database connection.
type Store struct {
	sql *sql.DB
}

// Open opens (or creates) the SQLite database at path and runs migrations.
func Open(path string) (*Store, error) {
	sqlDB, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open state db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("ping state db: %w", err)
	}
	s := &Store{sql: sqlDB}
	if err := s.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate state db: %w", err)
	}
	logger.Success("STATE", fmt.Sprintf("opened %s", path))
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.sql.Close()
}

func (s *Store) migrate() error {
	version := 0
	s.sql.QueryRow("SELECT version FROM schema_version ORDER BY version DESC LIMIT 1").Scan(&version)

	if version < 1 {
		_, err := s.sql.Exec(`
			CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY);

			CREATE TABLE IF NOT EXISTS runs (
				run_id               TEXT PRIMARY KEY,
				city                 TEXT NOT NULL,
				started_at           TEXT NOT NULL,
				ended_at             TEXT NOT NULL DEFAULT '',
				fetched              INTEGER NOT NULL DEFAULT 0,
				processed            INTEGER NOT NULL DEFAULT 0,
				failed               INTEGER NOT NULL DEFAULT 0,
				skipped              INTEGER NOT NULL DEFAULT 0,
				locations_extracted  INTEGER NOT NULL DEFAULT 0,
				locations_geocoded   INTEGER NOT NULL DEFAULT 0,
				terminal_status      TEXT NOT NULL DEFAULT ''
			);

			CREATE TABLE IF NOT EXISTS processing_state (
				run_id      TEXT NOT NULL,
				paper_id    TEXT NOT NULL,
				status      TEXT NOT NULL,
				first_seen  TEXT NOT NULL,
				last_update TEXT NOT NULL,
				retry_count INTEGER NOT NULL DEFAULT 0,
				last_error  TEXT NOT NULL DEFAULT '',
				PRIMARY KEY (run_id, paper_id)
			);
			CREATE INDEX IF NOT EXISTS idx_processing_state_paper ON processing_state(paper_id);
			CREATE INDEX IF NOT EXISTS idx_processing_state_status ON processing_state(run_id, status);

			CREATE TABLE IF NOT EXISTS checkpoints (
				run_id               TEXT PRIMARY KEY,
				batch_seq            INTEGER NOT NULL,
				last_completed_paper TEXT NOT NULL DEFAULT ''
			);

			INSERT OR IGNORE INTO schema_version (version) VALUES (1);
		`)
		if err != nil {
			return fmt.Errorf("migration v1: %w", err)
		}
		logger.Info("STATE", "applied migration v1")
	}

	return nil
}
