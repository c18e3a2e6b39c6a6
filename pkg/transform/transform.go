package transform

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"math"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/japaniel/sragetl/pkg/db"
	"github.com/japaniel/sragetl/pkg/logging"
)

// PoolFactory creates the worker pool used by a Transform call. Tests swap it.
type PoolFactory func(workers, queue int) *WorkerPool

// Transformer turns parsed rows into normalized records.
type Transformer struct {
	Workers     int
	ChunkSize   int
	Logger      *slog.Logger
	PoolFactory PoolFactory
}

// NewTransformer creates a transformer sized to the machine.
func NewTransformer() *Transformer {
	return &Transformer{
		Workers:     runtime.NumCPU(),
		ChunkSize:   5000,
		PoolFactory: NewWorkerPool,
	}
}

// Result is the output of a Transform call.
type Result struct {
	Records []db.Record
	// Total is the number of input rows, Dropped those without a notification date.
	Total   int
	Dropped int
	// Columns are the essential columns found in the input.
	Columns      []string
	QualityScore float64
}

// chunkResult is what one worker produces for a slice of rows.
type chunkResult struct {
	records []db.Record
	dropped int
	nulls   int
	cells   int
}

// Transform cleans rows, derives the computed fields and scores completeness.
func (t *Transformer) Transform(ctx context.Context, rows *RowSet, year int) (*Result, error) {
	log := logging.OrDiscard(t.Logger).With("year", year)
	layout := newLayout(rows)
	if layout.notific < 0 {
		log.Warn("extract has no DT_NOTIFIC column, every row is dropped")
	}

	chunkSize := t.ChunkSize
	if chunkSize <= 0 {
		chunkSize = 5000
	}
	nChunks := (rows.Len() + chunkSize - 1) / chunkSize
	results := make([]chunkResult, nChunks)

	factory := t.PoolFactory
	if factory == nil {
		factory = NewWorkerPool
	}
	pool := factory(t.Workers, nChunks)

	var errMu sync.Mutex
	var firstErr error
	pool.OnError = func(err error) {
		errMu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		errMu.Unlock()
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	pool.Start(ctx)

	for i := 0; i < nChunks; i++ {
		lo := i * chunkSize
		hi := min(lo+chunkSize, rows.Len())
		slot := &results[i]
		err := pool.SubmitCtx(ctx, func(ctx context.Context) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			*slot = layout.normalize(rows.Rows[lo:hi], year)
			return nil
		})
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("submit chunk %d: %w", i, err)
		}
	}
	pool.Close()

	if firstErr != nil {
		return nil, firstErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res := &Result{Total: rows.Len(), Columns: layout.columns}
	var nulls, cells int
	for _, c := range results {
		res.Records = append(res.Records, c.records...)
		res.Dropped += c.dropped
		nulls += c.nulls
		cells += c.cells
	}
	res.QualityScore = qualityScore(nulls, cells)

	log.Info("transformed extract",
		"rows", res.Total, "kept", len(res.Records), "dropped", res.Dropped,
		"columns", len(res.Columns), "quality", res.QualityScore)
	return res, nil
}

// qualityScore is 1 - nulls/cells rounded to 3 decimals. No cells scores 0.
func qualityScore(nulls, cells int) float64 {
	if cells == 0 {
		return 0
	}
	return math.Round((1-float64(nulls)/float64(cells))*1000) / 1000
}

// layout holds the positions of the essential columns in a RowSet (-1 when absent).
type layout struct {
	columns []string

	notific, onset, admission, outcomeDate int
	state, municip, sex, age               int
	outcome, icu, vaccine, classification  int
	flags                                  [db.NumFlags]int
}

func newLayout(rows *RowSet) *layout {
	l := &layout{}
	idx := func(col string) int {
		i := rows.Index(col)
		if i >= 0 {
			l.columns = append(l.columns, col)
		}
		return i
	}
	l.notific = idx("DT_NOTIFIC")
	l.onset = idx("DT_SIN_PRI")
	l.admission = idx("DT_INTERNA")
	l.outcomeDate = idx("DT_EVOLUCA")
	l.state = idx("SG_UF")
	l.municip = idx("ID_MUNICIP")
	l.sex = idx("CS_SEXO")
	l.age = idx("NU_IDADE_N")
	l.outcome = idx("EVOLUCAO")
	l.icu = idx("UTI")
	l.vaccine = idx("VACINA")
	l.classification = idx("CLASSI_FIN")
	for i, col := range flagSourceColumns {
		l.flags[i] = idx(col)
	}
	return l
}

// cellCounter tallies the completeness of the columns a record carries.
type cellCounter struct{ nulls, cells int }

func (c *cellCounter) add(valid bool) {
	c.cells++
	if !valid {
		c.nulls++
	}
}

func (l *layout) normalize(rows [][]string, year int) chunkResult {
	var out chunkResult
	out.records = make([]db.Record, 0, len(rows))
	var cc cellCounter

	cell := func(row []string, i int) string {
		if i < 0 || i >= len(row) {
			return ""
		}
		return row[i]
	}

	for _, row := range rows {
		notif, ok := ParseDate(cell(row, l.notific))
		if !ok {
			out.dropped++
			continue
		}
		r := db.Record{
			Year:              year,
			NotificationDate:  notif,
			NotificationMonth: int(notif.Month()),
			NotificationYear:  notif.Year(),
		}
		_, r.EpiWeek = notif.ISOWeek()
		cc.add(true) // year
		cc.add(true) // dt_notific
		cc.add(true) // month
		cc.add(true) // notification year
		cc.add(true) // epidemiological week

		for _, d := range []struct {
			col int
			dst *sql.NullTime
		}{
			{l.onset, &r.SymptomOnsetDate},
			{l.admission, &r.AdmissionDate},
			{l.outcomeDate, &r.OutcomeDate},
		} {
			if d.col < 0 {
				continue
			}
			if t, ok := ParseDate(cell(row, d.col)); ok {
				*d.dst = sql.NullTime{Time: t, Valid: true}
			}
			cc.add(d.dst.Valid)
		}

		if l.state >= 0 {
			uf := strings.ToUpper(strings.TrimSpace(cell(row, l.state)))
			if uf != "" {
				r.State = sql.NullString{String: uf, Valid: true}
			}
			if region, ok := Regions[uf]; ok {
				r.Region = sql.NullString{String: region, Valid: true}
			}
			cc.add(r.State.Valid)
			cc.add(r.Region.Valid)
		}
		if l.municip >= 0 {
			if m := strings.TrimSpace(cell(row, l.municip)); m != "" {
				r.Municipality = sql.NullString{String: m, Valid: true}
			}
			cc.add(r.Municipality.Valid)
		}

		if l.sex >= 0 {
			r.Sex = ParseSex(cell(row, l.sex))
			r.SexDesc = describe(SexCodes, r.Sex)
			cc.add(r.Sex.Valid)
			cc.add(r.SexDesc.Valid)
		}
		if l.age >= 0 {
			r.Age = ParseCode(cell(row, l.age))
			band := AgeBands[len(AgeBands)-1]
			if r.Age.Valid {
				band = AgeBand(r.Age.Int64)
			}
			r.AgeBand = sql.NullString{String: band, Valid: true}
			cc.add(r.Age.Valid)
			cc.add(true)
		}

		for _, c := range []struct {
			col   int
			code  *sql.NullInt64
			desc  *sql.NullString
			table map[int64]string
		}{
			{l.outcome, &r.Outcome, &r.OutcomeDesc, OutcomeCodes},
			{l.icu, &r.ICU, &r.ICUDesc, YesNoCodes},
			{l.vaccine, &r.Vaccinated, &r.VaccinatedDesc, YesNoCodes},
			{l.classification, &r.Classification, &r.ClassificationDesc, ClassificationCodes},
		} {
			if c.col < 0 {
				continue
			}
			*c.code = ParseCode(cell(row, c.col))
			*c.desc = describe(c.table, *c.code)
			cc.add(c.code.Valid)
			cc.add(c.desc.Valid)
		}

		for i, col := range l.flags {
			if col < 0 {
				continue
			}
			r.Flags[i] = ParseCode(cell(row, col))
			cc.add(r.Flags[i].Valid)
		}

		out.records = append(out.records, r)
	}
	out.nulls, out.cells = cc.nulls, cc.cells
	return out
}

// ParseDate parses a date cell with the accepted layouts. Blank or unparsable
// cells report false.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), true
		}
	}
	return time.Time{}, false
}

// ParseCode parses a numeric cell as a float and truncates it. Blank or
// unparsable cells are null.
func ParseCode(s string) sql.NullInt64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return sql.NullInt64{}
	}
	f, err := strconv.ParseFloat(strings.Replace(s, ",", ".", 1), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(f), Valid: true}
}

// ParseSex accepts the numeric codes and the M/F/I letters.
func ParseSex(s string) sql.NullInt64 {
	if code, ok := sexLetters[strings.ToUpper(strings.TrimSpace(s))]; ok {
		return sql.NullInt64{Int64: code, Valid: true}
	}
	return ParseCode(s)
}

func describe(table map[int64]string, code sql.NullInt64) sql.NullString {
	if !code.Valid {
		return sql.NullString{}
	}
	desc, ok := table[code.Int64]
	if !ok {
		return sql.NullString{}
	}
	return sql.NullString{String: desc, Valid: true}
}
