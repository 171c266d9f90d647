package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/michaelbrown/runbox/internal/storage"
)

func testStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("opening memory db: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordAndGetExecution(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	score := 72.25
	e := &storage.Execution{
		ID:         "abc12345-0000-0000-0000-000000000000",
		Language:   "javascript",
		Mode:       "evaluate",
		Rubric:     "default",
		ExitStatus: "ok",
		HTTPStatus: 200,
		DurationMs: 41,
		Score:      &score,
	}

	if err := s.RecordExecution(ctx, e); err != nil {
		t.Fatalf("RecordExecution: %v", err)
	}

	got, err := s.GetExecution(ctx, e.ID)
	if err != nil {
		t.Fatalf("GetExecution: %v", err)
	}

	if got.Language != "javascript" {
		t.Errorf("language = %q, want %q", got.Language, "javascript")
	}
	if got.HTTPStatus != 200 || got.DurationMs != 41 {
		t.Errorf("http_status = %d duration = %d", got.HTTPStatus, got.DurationMs)
	}
	if got.Score == nil || *got.Score != score {
		t.Errorf("score = %v, want %v", got.Score, score)
	}
	if got.CreatedAt.IsZero() {
		t.Error("created_at should not be zero")
	}
}

func TestRawExecutionHasNoScore(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	s.RecordExecution(ctx, &storage.Execution{ID: "raw1", Mode: "raw", ExitStatus: "timeout", HTTPStatus: 408})

	got, err := s.GetExecution(ctx, "raw1")
	if err != nil {
		t.Fatalf("GetExecution: %v", err)
	}
	if got.Score != nil {
		t.Errorf("score = %v, want nil", *got.Score)
	}
}

func TestGetExecutionByPrefix(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	s.RecordExecution(ctx, &storage.Execution{ID: "abc12345-0000-0000-0000-000000000000", Mode: "raw"})

	got, err := s.GetExecution(ctx, "abc12345")
	if err != nil {
		t.Fatalf("GetExecution by prefix: %v", err)
	}
	if got.ID != "abc12345-0000-0000-0000-000000000000" {
		t.Errorf("got ID %q", got.ID)
	}
}

func TestGetExecutionAmbiguousPrefix(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	for _, id := range []string{
		"abc00000-0000-0000-0000-000000000000",
		"abc11111-0000-0000-0000-000000000000",
	} {
		if err := s.RecordExecution(ctx, &storage.Execution{ID: id, Mode: "raw"}); err != nil {
			t.Fatalf("RecordExecution: %v", err)
		}
	}

	if _, err := s.GetExecution(ctx, "abc"); !errors.Is(err, storage.ErrAmbiguous) {
		t.Fatalf("ambiguous prefix: err = %v, want ErrAmbiguous", err)
	}
	if _, err := s.GetExecution(ctx, "zzz"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("unknown id: err = %v, want ErrNotFound", err)
	}
}

func TestListExecutions(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, status := range []string{"ok", "timeout", "ok", "runtimeError"} {
		s.RecordExecution(ctx, &storage.Execution{
			ID:         string(rune('a' + i)),
			Mode:       "raw",
			ExitStatus: status,
			CreatedAt:  base.Add(time.Duration(i) * time.Second),
		})
	}

	all, err := s.ListExecutions(ctx, storage.ExecutionListOptions{})
	if err != nil {
		t.Fatalf("ListExecutions: %v", err)
	}
	if len(all) != 4 {
		t.Fatalf("got %d executions, want 4", len(all))
	}
	if all[0].ID != "d" {
		t.Errorf("newest first: got %q, want d", all[0].ID)
	}

	ok, _ := s.ListExecutions(ctx, storage.ExecutionListOptions{ExitStatus: "ok"})
	if len(ok) != 2 {
		t.Errorf("got %d ok executions, want 2", len(ok))
	}

	page, _ := s.ListExecutions(ctx, storage.ExecutionListOptions{Limit: 2, Offset: 1})
	if len(page) != 2 || page[0].ID != "c" {
		t.Errorf("page = %+v", page)
	}
}

func TestSummaryAndPrune(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	old := time.Now().Add(-48 * time.Hour)

	s.RecordExecution(ctx, &storage.Execution{ID: "1", Mode: "raw", ExitStatus: "ok", CreatedAt: old})
	s.RecordExecution(ctx, &storage.Execution{ID: "2", Mode: "raw", ExitStatus: "ok"})
	s.RecordExecution(ctx, &storage.Execution{ID: "3", Mode: "raw", ExitStatus: "syntaxError"})

	summary, err := s.Summary(ctx)
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if len(summary) != 2 || summary[0].ExitStatus != "ok" || summary[0].Count != 2 {
		t.Errorf("summary = %+v", summary)
	}

	n, err := s.Prune(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if n != 1 {
		t.Errorf("pruned %d, want 1", n)
	}
}

func TestRejectsUnknownMode(t *testing.T) {
	s := testStore(t)
	if err := s.RecordExecution(context.Background(), &storage.Execution{ID: "m", Mode: "debug"}); err == nil {
		t.Fatal("expected constraint error for unknown mode")
	}
}
