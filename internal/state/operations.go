package state

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/ratsarchiv/pipeline/internal/model"
)

// BeginRun inserts a new run record, stamped with startedAt.
func (s *Store) BeginRun(runID, city string, startedAt time.Time) error {
	_, err := s.sql.Exec(`
		INSERT INTO runs (run_id, city, started_at) VALUES (?, ?, ?)
	`, runID, city, startedAt.UTC().Format(time.RFC3339))
	return err
}

// EndRun stamps a run's completion timestamp, counters, and terminal status.
func (s *Store) EndRun(rec model.RunRecord) error {
	_, err := s.sql.Exec(`
		UPDATE runs SET
			ended_at = ?, fetched = ?, processed = ?, failed = ?, skipped = ?,
			locations_extracted = ?, locations_geocoded = ?, terminal_status = ?
		WHERE run_id = ?
	`,
		rec.EndedAt.UTC().Format(time.RFC3339), rec.Fetched, rec.Processed, rec.Failed, rec.Skipped,
		rec.LocationsExtracted, rec.LocationsGeocoded, rec.TerminalStatus, rec.RunID,
	)
	return err
}

// Mark upserts the processing-state record for (runID, paperID). It rejects
// an unknown status value but does not check the transition against
// model.ProcessingStatus.CanTransitionTo, on INSERT or on update: the
// caller is trusted to supply a legal transition, matching spec.md's
// "each mark durable before the next accepted" contract. FirstSeen is
// preserved across repeated marks; LastUpdate always advances.
func (s *Store) Mark(runID, paperID string, status model.ProcessingStatus, retryCount int, lastError string, now time.Time) error {
	if !status.IsValid() {
		return fmt.Errorf("invalid processing status %q", status)
	}
	ts := now.UTC().Format(time.RFC3339)
	_, err := s.sql.Exec(`
		INSERT INTO processing_state (run_id, paper_id, status, first_seen, last_update, retry_count, last_error)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, paper_id)
		DO UPDATE SET
			status      = excluded.status,
			last_update = excluded.last_update,
			retry_count = excluded.retry_count,
			last_error  = excluded.last_error
	`, runID, paperID, string(status), ts, ts, retryCount, lastError)
	return err
}

// IsCompleted reports whether paperID was marked completed in *any* run ever
// recorded, making resumption durable across separate orchestrator
// invocations rather than scoped to a single run (spec.md §4.E).
func (s *Store) IsCompleted(paperID string) (bool, error) {
	var count int
	err := s.sql.QueryRow(`
		SELECT COUNT(*) FROM processing_state WHERE paper_id = ? AND status = ?
	`, paperID, string(model.StatusCompleted)).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// WriteCheckpoint durably records the batch sequence number and last
// completed paper for runID, overwriting any prior checkpoint for that run.
func (s *Store) WriteCheckpoint(cp model.Checkpoint) error {
	_, err := s.sql.Exec(`
		INSERT INTO checkpoints (run_id, batch_seq, last_completed_paper)
		VALUES (?, ?, ?)
		ON CONFLICT(run_id)
		DO UPDATE SET batch_seq = excluded.batch_seq, last_completed_paper = excluded.last_completed_paper
	`, cp.RunID, cp.BatchSeq, cp.LastCompletedPaper)
	return err
}

// LatestCheckpoint returns the stored checkpoint for runID, if any.
func (s *Store) LatestCheckpoint(runID string) (model.Checkpoint, bool, error) {
	var cp model.Checkpoint
	cp.RunID = runID
	err := s.sql.QueryRow(`
		SELECT batch_seq, last_completed_paper FROM checkpoints WHERE run_id = ?
	`, runID).Scan(&cp.BatchSeq, &cp.LastCompletedPaper)
	if err == sql.ErrNoRows {
		return model.Checkpoint{}, false, nil
	}
	if err != nil {
		return model.Checkpoint{}, false, err
	}
	return cp, true, nil
}

// FailedPaperIDs returns the paper IDs marked failed within runID, for a
// reset/retry pass.
func (s *Store) FailedPaperIDs(runID string) ([]string, error) {
	rows, err := s.sql.Query(`
		SELECT paper_id FROM processing_state WHERE run_id = ? AND status = ?
	`, runID, string(model.StatusFailed))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// ResetFailed moves every failed paper in runID back to pending, per
// spec.md's explicit-retry transition (Failed -> Pending only).
func (s *Store) ResetFailed(runID string, now time.Time) (int64, error) {
	res, err := s.sql.Exec(`
		UPDATE processing_state SET status = ?, last_update = ?
		WHERE run_id = ? AND status = ?
	`, string(model.StatusPending), now.UTC().Format(time.RFC3339), runID, string(model.StatusFailed))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ResetFailedForCity moves every failed paper back to pending across all
// runs recorded for city, the reset operation spec.md §4.E describes for
// callers wishing to reprocess failed entries (orchestrator.reprocess_failed,
// spec.md §6).
func (s *Store) ResetFailedForCity(city string, now time.Time) (int64, error) {
	res, err := s.sql.Exec(`
		UPDATE processing_state SET status = ?, last_update = ?
		WHERE status = ? AND run_id IN (SELECT run_id FROM runs WHERE city = ?)
	`, string(model.StatusPending), now.UTC().Format(time.RFC3339), string(model.StatusFailed), city)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Summarize recomputes a RunRecord's status counters from processing_state,
// without touching its timestamps or terminal status.
func (s *Store) Summarize(runID string) (processed, failed, skipped int, err error) {
	row := s.sql.QueryRow(`
		SELECT
			SUM(CASE WHEN status = ? THEN 1 ELSE 0 END),
			SUM(CASE WHEN status = ? THEN 1 ELSE 0 END),
			SUM(CASE WHEN status = ? THEN 1 ELSE 0 END)
		FROM processing_state WHERE run_id = ?
	`, string(model.StatusCompleted), string(model.StatusFailed), string(model.StatusSkipped), runID)

	var p, f, sk *int
	if err := row.Scan(&p, &f, &sk); err != nil {
		return 0, 0, 0, err
	}
	deref := func(v *int) int {
		if v == nil {
			return 0
		}
		return *v
	}
	return deref(p), deref(f), deref(sk), nil
}
