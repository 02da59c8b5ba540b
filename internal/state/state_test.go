package state

import (
	"database/sql"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ratsarchiv/pipeline/internal/model"
)

// openTestStore opens an in-memory SQLite DB and runs migrations.
func openTestStore(t *testing.T) *Store {
	t.Helper()
	sqlDB, err := sql.Open("sqlite", ":memory:?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		t.Fatalf("open in-memory db: %v", err)
	}
	s := &Store{sql: sqlDB}
	if err := s.migrate(); err != nil {
		sqlDB.Close()
		t.Fatalf("migrate: %v", err)
	}
	return s
}

func TestMark_UpsertAndStatusRoundTrip(t *testing.T) {
	s := openTestStore(t)
	defer s.Close()

	now := time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)
	if err := s.BeginRun("run1", "Frankfurt", now); err != nil {
		t.Fatalf("BeginRun: %v", err)
	}
	if err := s.Mark("run1", "paper1", model.StatusPending, 0, "", now); err != nil {
		t.Fatalf("Mark pending: %v", err)
	}
	if err := s.Mark("run1", "paper1", model.StatusInProgress, 0, "", now.Add(time.Second)); err != nil {
		t.Fatalf("Mark in-progress: %v", err)
	}
	if err := s.Mark("run1", "paper1", model.StatusCompleted, 0, "", now.Add(2*time.Second)); err != nil {
		t.Fatalf("Mark completed: %v", err)
	}

	done, err := s.IsCompleted("paper1")
	if err != nil {
		t.Fatalf("IsCompleted: %v", err)
	}
	if !done {
		t.Fatal("expected paper1 to be completed")
	}
}

func TestIsCompleted_DurableAcrossRuns(t *testing.T) {
	s := openTestStore(t)
	defer s.Close()

	now := time.Now()
	if err := s.BeginRun("run1", "Frankfurt", now); err != nil {
		t.Fatalf("BeginRun: %v", err)
	}
	if err := s.Mark("run1", "paper1", model.StatusCompleted, 0, "", now); err != nil {
		t.Fatalf("Mark: %v", err)
	}

	// A second, later run never having seen paper1 should still see it as
	// completed — completion is durable across invocations, not scoped to
	// a single run.
	if err := s.BeginRun("run2", "Frankfurt", now.Add(time.Hour)); err != nil {
		t.Fatalf("BeginRun run2: %v", err)
	}
	done, err := s.IsCompleted("paper1")
	if err != nil {
		t.Fatalf("IsCompleted: %v", err)
	}
	if !done {
		t.Fatal("expected completion to survive across runs")
	}
}

func TestCheckpoint_WriteAndLatest(t *testing.T) {
	s := openTestStore(t)
	defer s.Close()

	if err := s.BeginRun("run1", "Frankfurt", time.Now()); err != nil {
		t.Fatalf("BeginRun: %v", err)
	}
	if _, ok, err := s.LatestCheckpoint("run1"); err != nil || ok {
		t.Fatalf("expected no checkpoint yet, got ok=%v err=%v", ok, err)
	}

	if err := s.WriteCheckpoint(model.Checkpoint{RunID: "run1", BatchSeq: 1, LastCompletedPaper: "p5"}); err != nil {
		t.Fatalf("WriteCheckpoint: %v", err)
	}
	cp, ok, err := s.LatestCheckpoint("run1")
	if err != nil || !ok {
		t.Fatalf("expected checkpoint, got ok=%v err=%v", ok, err)
	}
	if cp.BatchSeq != 1 || cp.LastCompletedPaper != "p5" {
		t.Fatalf("unexpected checkpoint: %+v", cp)
	}

	if err := s.WriteCheckpoint(model.Checkpoint{RunID: "run1", BatchSeq: 2, LastCompletedPaper: "p9"}); err != nil {
		t.Fatalf("WriteCheckpoint overwrite: %v", err)
	}
	cp2, _, err := s.LatestCheckpoint("run1")
	if err != nil {
		t.Fatalf("LatestCheckpoint: %v", err)
	}
	if cp2.BatchSeq != 2 || cp2.LastCompletedPaper != "p9" {
		t.Fatalf("expected checkpoint overwritten, got %+v", cp2)
	}
}

func TestResetFailed_MovesFailedToPending(t *testing.T) {
	s := openTestStore(t)
	defer s.Close()

	now := time.Now()
	if err := s.BeginRun("run1", "Frankfurt", now); err != nil {
		t.Fatalf("BeginRun: %v", err)
	}
	if err := s.Mark("run1", "p1", model.StatusFailed, 1, "boom", now); err != nil {
		t.Fatalf("Mark failed: %v", err)
	}
	if err := s.Mark("run1", "p2", model.StatusCompleted, 0, "", now); err != nil {
		t.Fatalf("Mark completed: %v", err)
	}

	n, err := s.ResetFailed("run1", now.Add(time.Minute))
	if err != nil {
		t.Fatalf("ResetFailed: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 row reset, got %d", n)
	}

	ids, err := s.FailedPaperIDs("run1")
	if err != nil {
		t.Fatalf("FailedPaperIDs: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("expected no failed papers after reset, got %v", ids)
	}
}

func TestResetFailedForCity_SpansMultipleRuns(t *testing.T) {
	s := openTestStore(t)
	defer s.Close()

	now := time.Now()
	if err := s.BeginRun("run1", "Frankfurt", now); err != nil {
		t.Fatalf("BeginRun run1: %v", err)
	}
	if err := s.Mark("run1", "p1", model.StatusFailed, 1, "boom", now); err != nil {
		t.Fatalf("Mark p1 failed: %v", err)
	}
	if err := s.BeginRun("run2", "Frankfurt", now); err != nil {
		t.Fatalf("BeginRun run2: %v", err)
	}
	if err := s.Mark("run2", "p2", model.StatusFailed, 1, "boom again", now); err != nil {
		t.Fatalf("Mark p2 failed: %v", err)
	}
	if err := s.BeginRun("run3", "Other City", now); err != nil {
		t.Fatalf("BeginRun run3: %v", err)
	}
	if err := s.Mark("run3", "p3", model.StatusFailed, 1, "boom elsewhere", now); err != nil {
		t.Fatalf("Mark p3 failed: %v", err)
	}

	n, err := s.ResetFailedForCity("Frankfurt", now.Add(time.Minute))
	if err != nil {
		t.Fatalf("ResetFailedForCity: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 rows reset across Frankfurt's runs, got %d", n)
	}

	otherIDs, err := s.FailedPaperIDs("run3")
	if err != nil {
		t.Fatalf("FailedPaperIDs run3: %v", err)
	}
	if len(otherIDs) != 1 {
		t.Fatalf("expected the other city's failed paper untouched, got %v", otherIDs)
	}
}

func TestSummarize_CountsByStatus(t *testing.T) {
	s := openTestStore(t)
	defer s.Close()

	now := time.Now()
	if err := s.BeginRun("run1", "Frankfurt", now); err != nil {
		t.Fatalf("BeginRun: %v", err)
	}
	s.Mark("run1", "p1", model.StatusCompleted, 0, "", now)
	s.Mark("run1", "p2", model.StatusCompleted, 0, "", now)
	s.Mark("run1", "p3", model.StatusFailed, 1, "err", now)
	s.Mark("run1", "p4", model.StatusSkipped, 0, "", now)

	processed, failed, skipped, err := s.Summarize("run1")
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if processed != 2 || failed != 1 || skipped != 1 {
		t.Fatalf("unexpected summary: processed=%d failed=%d skipped=%d", processed, failed, skipped)
	}
}

func TestMark_RejectsInvalidStatus(t *testing.T) {
	s := openTestStore(t)
	defer s.Close()

	err := s.Mark("run1", "p1", model.ProcessingStatus("bogus"), 0, "", time.Now())
	if err == nil {
		t.Fatal("expected error for invalid status")
	}
}
