package pgstore_test

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/medtriage/internal/postgres"
	"github.com/linnemanlabs/medtriage/internal/triage"
	"github.com/linnemanlabs/medtriage/internal/triage/pgstore"
)

func openStore(t *testing.T) *pgstore.Store {
	t.Helper()
	dsn := os.Getenv("MEDTRIAGE_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("MEDTRIAGE_TEST_DATABASE_URL not set, skipping integration test")
	}
	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, dsn)
	if err != nil {
		t.Fatalf("postgres.NewPool: %v", err)
	}
	t.Cleanup(pool.Close)

	s, err := pgstore.New(ctx, pool)
	if err != nil {
		t.Fatalf("pgstore.New: %v", err)
	}
	return s
}

func testRecord(createdAt time.Time) *triage.Record {
	return &triage.Record{
		ID:       ulid.Make().String(),
		Symptoms: "ألم صدر",
		Result: triage.Result{
			Specialty:        "Cardiology",
			SeverityLevel:    triage.SeverityHigh,
			Urgent:           true,
			Explanation:      "explanation",
			Confidence:       0.91,
			Answer:           "See a cardiologist soon.",
			AnswerConfidence: 0.72,
			Disclaimer:       triage.Disclaimer,
			ModelLabel:       "cardio",
			ConfidenceSource: triage.ConfidenceProbability,
			AnswerStatus:     triage.AnswerMatched,
		},
		CreatedAt: createdAt,
		Duration:  0.004,
	}
}

func TestPutAndGet(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	r := testRecord(time.Now().Truncate(time.Microsecond).UTC())
	if err := s.Put(ctx, r); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, ok, err := s.Get(ctx, r.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok {
		t.Fatal("Get returned ok=false, want true")
	}

	assertEqual(t, "ID", r.ID, got.ID)
	assertEqual(t, "Symptoms", r.Symptoms, got.Symptoms)
	assertEqual(t, "Result", r.Result, got.Result)
	assertEqual(t, "Cached", r.Cached, got.Cached)
	assertEqual(t, "Duration", r.Duration, got.Duration)
	if !got.CreatedAt.Equal(r.CreatedAt) {
		t.Errorf("CreatedAt: got %v, want %v", got.CreatedAt, r.CreatedAt)
	}
}

func TestGetMissing(t *testing.T) {
	s := openStore(t)

	_, ok, err := s.Get(context.Background(), "does-not-exist")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok {
		t.Fatal("Get returned ok=true for missing ID")
	}
}

func TestUpsert(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	r := testRecord(time.Now().Truncate(time.Microsecond).UTC())
	if err := s.Put(ctx, r); err != nil {
		t.Fatalf("Put: %v", err)
	}

	r.Cached = true
	r.Result.AnswerStatus = triage.AnswerDegraded
	if err := s.Put(ctx, r); err != nil {
		t.Fatalf("Put (update): %v", err)
	}

	got, _, err := s.Get(ctx, r.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	assertEqual(t, "Cached", true, got.Cached)
	assertEqual(t, "AnswerStatus", triage.AnswerDegraded, got.Result.AnswerStatus)
}

func TestListRecent(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	// far-future timestamps keep these rows ahead of other test data
	base := time.Now().Add(24 * time.Hour).Truncate(time.Microsecond).UTC()
	var ids []string
	for i := range 3 {
		r := testRecord(base.Add(time.Duration(i) * time.Second))
		r.Symptoms = fmt.Sprintf("list-%d", i)
		if err := s.Put(ctx, r); err != nil {
			t.Fatalf("Put: %v", err)
		}
		ids = append(ids, r.ID)
	}

	got, err := s.ListRecent(ctx, 2)
	if err != nil {
		t.Fatalf("ListRecent: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	assertEqual(t, "first", ids[2], got[0].ID)
	assertEqual(t, "second", ids[1], got[1].ID)
}

func assertEqual[T comparable](t *testing.T, field string, want, got T) {
	t.Helper()
	if want != got {
		t.Errorf("%s: got %v, want %v", field, got, want)
	}
}
