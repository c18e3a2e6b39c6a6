package ingest

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/japaniel/sragetl/pkg/db"
)

func setupDB(t *testing.T) *sql.DB {
	conn, err := db.Open(":memory:")
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func record(year, day int, state string, age int64) db.Record {
	d := time.Date(year, time.March, day, 0, 0, 0, 0, time.UTC)
	return db.Record{
		Year:              year,
		NotificationDate:  d,
		State:             sql.NullString{String: state, Valid: true},
		Sex:               sql.NullInt64{Int64: 2, Valid: true},
		Age:               sql.NullInt64{Int64: age, Valid: true},
		Outcome:           sql.NullInt64{Int64: 1, Valid: true},
		NotificationMonth: 3,
		NotificationYear:  year,
	}
}

func testRun(year int) db.ETLRun {
	return db.ETLRun{
		Year: year, RunID: "run", URL: "http://example/INFLUD.csv", DownloadDate: time.Now(),
		FileHash: "deadbeef", TotalRecords: 5, QualityScore: 0.9,
	}
}

func TestLoadInsertsAndRecordsSuccess(t *testing.T) {
	conn := setupDB(t)
	recs := []db.Record{record(2024, 1, "SP", 1), record(2024, 2, "SP", 2), record(2024, 3, "RJ", 3)}

	var progress []int
	l := NewLoader(conn)
	l.BatchSize = 2
	l.OnProgress = func(current, total int) { progress = append(progress, current) }

	res, err := l.Load(context.Background(), recs, testRun(2024))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if res.Inserted != 3 || res.Duplicates != 0 {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(progress) != 2 || progress[1] != 3 {
		t.Fatalf("unexpected progress callbacks %v", progress)
	}
	run, err := db.GetETLRun(conn, 2024)
	if err != nil || run == nil {
		t.Fatalf("get run: %v %v", run, err)
	}
	if run.Status != db.StatusSuccess || run.ProcessedRecords != 3 || run.FileHash != "deadbeef" {
		t.Fatalf("unexpected run %+v", run)
	}
}

func TestLoadIsIdempotent(t *testing.T) {
	conn := setupDB(t)
	recs := []db.Record{record(2024, 1, "SP", 1), record(2024, 2, "MG", 2)}
	l := NewLoader(conn)
	for i := 0; i < 2; i++ {
		if _, err := l.Load(context.Background(), recs, testRun(2024)); err != nil {
			t.Fatalf("Load %d: %v", i, err)
		}
	}
	n, err := db.CountYear(conn, 2024)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 rows after reload, got %d", n)
	}
}

func TestLoadCountsDuplicates(t *testing.T) {
	conn := setupDB(t)
	recs := []db.Record{record(2024, 1, "SP", 1), record(2024, 1, "SP", 1), record(2024, 1, "SP", 1)}
	res, err := NewLoader(conn).Load(context.Background(), recs, testRun(2024))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if res.Inserted != 1 || res.Duplicates != 2 {
		t.Fatalf("expected 1 inserted and 2 duplicates, got %+v", res)
	}
}

func TestFailedLoadKeepsPreviousPartition(t *testing.T) {
	conn := setupDB(t)
	l := NewLoader(conn)
	if _, err := l.Load(context.Background(), []db.Record{record(2024, 1, "SP", 1)}, testRun(2024)); err != nil {
		t.Fatalf("first load: %v", err)
	}

	_, err := l.Load(context.Background(), nil, testRun(2024))
	var serr *StorageError
	if !errors.As(err, &serr) {
		t.Fatalf("expected StorageError, got %v", err)
	}
	if !errors.Is(err, ErrNothingLoaded) {
		t.Fatalf("expected ErrNothingLoaded cause, got %v", err)
	}

	n, _ := db.CountYear(conn, 2024)
	if n != 1 {
		t.Fatalf("expected previous partition to survive, got %d rows", n)
	}
	run, _ := db.GetETLRun(conn, 2024)
	if run.Status != db.StatusError || run.ErrorLog == "" || run.FileHash != "" {
		t.Fatalf("expected ERROR run without hash, got %+v", run)
	}
}

func TestLoadCancelledContext(t *testing.T) {
	conn := setupDB(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewLoader(conn).Load(ctx, []db.Record{record(2024, 1, "SP", 1)}, testRun(2024))
	var serr *StorageError
	if !errors.As(err, &serr) || serr.Year != 2024 {
		t.Fatalf("expected StorageError for 2024, got %v", err)
	}
	if n, _ := db.CountYear(conn, 2024); n != 0 {
		t.Fatalf("expected no rows, got %d", n)
	}
}
