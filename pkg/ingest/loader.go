package ingest

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/japaniel/sragetl/pkg/db"
	"github.com/japaniel/sragetl/pkg/logging"
)

// WriteFunc performs database writes inside the load transaction.
type WriteFunc func(ctx context.Context, tx *sql.Tx) error

// StorageError reports a failed transactional load of a year.
type StorageError struct {
	Year int
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("load year %d: %v", e.Year, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// ErrNothingLoaded is the cause of a StorageError when no row was inserted.
var ErrNothingLoaded = errors.New("no records inserted")

// LoadResult summarizes a successful load.
type LoadResult struct {
	Replaced   int64 // rows of the previous partition
	Inserted   int64
	Duplicates int64 // records ignored because their natural key already existed
	Run        db.ETLRun
	Elapsed    time.Duration
}

// Loader replaces the partition of a year in one transaction and records the run.
type Loader struct {
	DB *sql.DB
	// BatchSize is the number of records per INSERT statement.
	BatchSize int
	Logger    *slog.Logger
	// OnProgress is called after each batch with the records written so far.
	OnProgress func(current, total int)
}

// NewLoader creates a loader with the default batch size.
func NewLoader(conn *sql.DB) *Loader {
	return &Loader{DB: conn, BatchSize: 500}
}

// Load deletes the stored rows of run.Year, inserts records and upserts run
// with status SUCCESS, all in one transaction. On failure the transaction is
// rolled back (the previous partition survives), an ERROR run is recorded and
// a *StorageError is returned.
func (l *Loader) Load(ctx context.Context, records []db.Record, run db.ETLRun) (*LoadResult, error) {
	log := logging.OrDiscard(l.Logger).With("year", run.Year)
	start := time.Now()
	res := &LoadResult{}

	batch := l.BatchSize
	if batch <= 0 || batch > db.MaxRecordsPerInsert {
		batch = min(500, db.MaxRecordsPerInsert)
	}

	writes := []WriteFunc{
		func(ctx context.Context, tx *sql.Tx) error {
			n, err := db.DeleteYear(tx, run.Year)
			res.Replaced = n
			return err
		},
	}
	for lo := 0; lo < len(records); lo += batch {
		chunk := records[lo:min(lo+batch, len(records))]
		done := lo + len(chunk)
		writes = append(writes, func(ctx context.Context, tx *sql.Tx) error {
			n, err := db.InsertRecords(tx, chunk)
			if err != nil {
				return err
			}
			res.Inserted += n
			if l.OnProgress != nil {
				l.OnProgress(done, len(records))
			}
			return nil
		})
	}
	writes = append(writes, func(ctx context.Context, tx *sql.Tx) error {
		if res.Inserted == 0 {
			return ErrNothingLoaded
		}
		res.Duplicates = int64(len(records)) - res.Inserted
		res.Run = run
		res.Run.Status = db.StatusSuccess
		res.Run.ErrorLog = ""
		res.Run.ProcessedRecords = int(res.Inserted)
		return db.UpsertETLRun(tx, res.Run)
	})

	if err := l.execute(ctx, writes); err != nil {
		failed := run
		failed.Status = db.StatusError
		failed.ErrorLog = err.Error()
		failed.FileHash = ""
		failed.ProcessedRecords = 0
		if rerr := l.RecordFailure(failed); rerr != nil {
			log.Error("could not record failed run", "err", rerr)
		}
		log.Error("load failed, previous partition kept", "err", err)
		return nil, &StorageError{Year: run.Year, Err: err}
	}

	res.Elapsed = time.Since(start)
	log.Info("loaded partition",
		"inserted", res.Inserted, "duplicates", res.Duplicates, "replaced", res.Replaced,
		"elapsed", res.Elapsed.Round(time.Millisecond))
	return res, nil
}

// RecordFailure upserts an ERROR run outside any load transaction.
func (l *Loader) RecordFailure(run db.ETLRun) error {
	run.Status = db.StatusError
	return db.UpsertETLRun(l.DB, run)
}

// execute runs writes in a single transaction, committing only if all succeed.
func (l *Loader) execute(ctx context.Context, writes []WriteFunc) error {
	tx, err := l.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin load tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback() // ignored if committed
	}()

	for _, w := range writes {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := w(ctx, tx); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit load (%d writes): %w", len(writes), err)
	}
	return nil
}
