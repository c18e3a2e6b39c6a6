package etl

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/japaniel/sragetl/pkg/db"
	"github.com/japaniel/sragetl/pkg/extract"
	"github.com/japaniel/sragetl/pkg/ingest"
	"github.com/japaniel/sragetl/pkg/logging"
	"github.com/japaniel/sragetl/pkg/transform"
)

// Pipeline runs fetch, parse, transform and load for one year at a time.
// Runs against the same database must not overlap.
type Pipeline struct {
	DB          *sql.DB
	Extractor   *extract.Extractor
	Parser      *transform.Parser
	Transformer *transform.Transformer
	Loader      *ingest.Loader
	Logger      *slog.Logger
	// KeepCache leaves the downloaded extract on disk after a successful load
	// so the next run can skip the download when the content is unchanged.
	KeepCache bool

	now func() time.Time
}

// New wires a pipeline with default components over conn.
func New(conn *sql.DB, cacheDir string, logger *slog.Logger) *Pipeline {
	ex := extract.NewExtractor(cacheDir, db.HashLookup{DB: conn})
	ex.Logger = logger
	parser := transform.NewParser()
	parser.Logger = logger
	tr := transform.NewTransformer()
	tr.Logger = logger
	loader := ingest.NewLoader(conn)
	loader.Logger = logger
	return &Pipeline{
		DB:          conn,
		Extractor:   ex,
		Parser:      parser,
		Transformer: tr,
		Loader:      loader,
		Logger:      logger,
		now:         time.Now,
	}
}

func (p *Pipeline) clock() time.Time {
	if p.now == nil {
		return time.Now()
	}
	return p.now()
}

// ProcessYear runs the year and reports whether it ended with SUCCESS.
func (p *Pipeline) ProcessYear(ctx context.Context, year int) bool {
	_, err := p.Run(ctx, year)
	return err == nil
}

// Run processes one year and returns the recorded run. Failures of known years
// are recorded as ERROR runs; an unknown year returns *extract.NotFoundError
// without touching the metadata table.
func (p *Pipeline) Run(ctx context.Context, year int) (*db.ETLRun, error) {
	log := logging.OrDiscard(p.Logger).With("year", year)
	start := p.clock()

	url, err := p.Extractor.URL(year)
	if err != nil {
		log.Error("year not available", "err", err)
		yearsFailed.Add(1)
		return nil, err
	}
	run := db.ETLRun{
		Year:         year,
		RunID:        ulid.Make().String(),
		URL:          url,
		DownloadDate: start,
	}
	log = log.With("run_id", run.RunID)
	log.Info("starting ETL run", "url", url)

	payload, err := p.Extractor.Fetch(ctx, year)
	if err != nil {
		return nil, p.fail(log, run, start, "extract", err)
	}
	if payload.Cached {
		cacheHits.Add(1)
	} else {
		bytesDownloaded.Add(payload.Size)
	}

	rows, err := p.Parser.ParseFrom(payload.Open)
	if err != nil {
		return nil, p.fail(log, run, start, "parse", err)
	}

	res, err := p.Transformer.Transform(ctx, rows, year)
	if err != nil {
		return nil, p.fail(log, run, start, "transform", err)
	}

	run.FileHash = payload.Hash
	run.TotalRecords = res.Total
	run.QualityScore = res.QualityScore
	run.ProcessingSeconds = elapsedSeconds(start, p.clock())

	loaded, err := p.Loader.Load(ctx, res.Records, run)
	if err != nil {
		// The loader already recorded the ERROR run.
		yearsFailed.Add(1)
		return nil, err
	}
	rowsLoaded.Add(loaded.Inserted)
	yearsProcessed.Add(1)

	if !p.KeepCache {
		if err := payload.Remove(); err != nil {
			log.Warn("could not remove cached extract", "path", payload.Path, "err", err)
		}
	}

	log.Info("ETL run complete",
		"records", loaded.Inserted, "quality", loaded.Run.QualityScore,
		"seconds", loaded.Run.ProcessingSeconds)
	return &loaded.Run, nil
}

func (p *Pipeline) fail(log *slog.Logger, run db.ETLRun, start time.Time, stage string, cause error) error {
	yearsFailed.Add(1)
	run.Status = db.StatusError
	run.ErrorLog = fmt.Sprintf("%s: %v", stage, cause)
	run.ProcessingSeconds = elapsedSeconds(start, p.clock())
	log.Error("ETL run failed", "stage", stage, "err", cause)
	if err := db.UpsertETLRun(p.DB, run); err != nil {
		log.Error("could not record failed run", "err", err)
		return errors.Join(cause, err)
	}
	return cause
}

func elapsedSeconds(start, end time.Time) float64 {
	return math.Round(end.Sub(start).Seconds()*100) / 100
}

// BatchSummary tallies a multi-year run.
type BatchSummary struct {
	Succeeded []int
	Failed    []int
	Errors    map[int]error
}

// ProcessYears runs each year in order, continuing past failures. It stops
// early only when ctx is cancelled; the remaining years are then reported as failed.
func (p *Pipeline) ProcessYears(ctx context.Context, years []int) BatchSummary {
	log := logging.OrDiscard(p.Logger)
	sum := BatchSummary{Errors: make(map[int]error)}
	for _, year := range years {
		if err := ctx.Err(); err != nil {
			sum.Failed = append(sum.Failed, year)
			sum.Errors[year] = err
			continue
		}
		if _, err := p.Run(ctx, year); err != nil {
			sum.Failed = append(sum.Failed, year)
			sum.Errors[year] = err
			continue
		}
		sum.Succeeded = append(sum.Succeeded, year)
	}
	log.Info("batch complete", "succeeded", len(sum.Succeeded), "failed", len(sum.Failed), "total", len(years))
	return sum
}

// DatabaseStats summarizes the stored years, their quality and the database size.
func (p *Pipeline) DatabaseStats(ctx context.Context) (*db.Stats, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return db.GetStats(p.DB)
}
