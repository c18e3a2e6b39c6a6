package query

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"unicode"

	sq "github.com/Masterminds/squirrel"

	"github.com/japaniel/sragetl/pkg/db"
	"github.com/japaniel/sragetl/pkg/transform"
)

// Filter selects raw records. Zero fields do not filter.
type Filter struct {
	Years      []int
	States     []string
	Outcome    *int64
	ICU        *int64
	Vaccinated *int64
	Limit      uint64
}

// SearchLimit caps the rows returned by Search.
const SearchLimit = 1000

// Records returns the records matching f, most recent notification first.
func (q *Querier) Records(ctx context.Context, f Filter) ([]db.Record, error) {
	b := q.sb.Select(db.RecordSelectColumns...).From("srag_data")
	if len(f.Years) > 0 {
		b = b.Where(sq.Eq{"year": f.Years})
	}
	if len(f.States) > 0 {
		b = b.Where(sq.Eq{"sg_uf": f.States})
	}
	if f.Outcome != nil {
		b = b.Where(sq.Eq{"evolucao": *f.Outcome})
	}
	if f.ICU != nil {
		b = b.Where(sq.Eq{"uti": *f.ICU})
	}
	if f.Vaccinated != nil {
		b = b.Where(sq.Eq{"vacina": *f.Vaccinated})
	}
	b = b.OrderBy("dt_notific DESC", "id")
	if f.Limit > 0 {
		b = b.Limit(f.Limit)
	}

	rows, err := b.QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("select records: %w", err)
	}
	defer rows.Close()
	var out []db.Record
	for rows.Next() {
		r, err := db.ScanRecord(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func code(v int64) *int64 { return &v }

// SearchFilter maps a free-text question onto a Filter: death words select
// outcome 2, "uti" selects ICU cases, "vacin" selects vaccinated cases and the
// first state code written as an upper-case word selects that state. year 0 searches all years.
func SearchFilter(text string, year int) Filter {
	lower := strings.ToLower(text)
	f := Filter{Limit: SearchLimit}
	if year > 0 {
		f.Years = []int{year}
	}
	if strings.Contains(lower, "obito") || strings.Contains(lower, "óbito") || strings.Contains(lower, "morte") {
		f.Outcome = code(transform.OutcomeDeath)
	}
	if strings.Contains(lower, "uti") {
		f.ICU = code(transform.CodeYes)
	}
	if strings.Contains(lower, "vacin") {
		f.Vaccinated = code(transform.CodeYes)
	}
	if uf := stateInText(text); uf != "" {
		f.States = []string{uf}
	}
	return f
}

// stateInText returns the first state code (in alphabetical order) that appears
// as a standalone upper-case word of text.
func stateInText(text string) string {
	words := strings.FieldsFunc(text, func(r rune) bool { return !unicode.IsLetter(r) })
	seen := make(map[string]bool, len(words))
	for _, w := range words {
		// Upper case only: "se", "to" and "pa" are ordinary words too.
		if len(w) == 2 && w == strings.ToUpper(w) {
			seen[w] = true
		}
	}
	states := make([]string, 0, len(transform.Regions))
	for uf := range transform.Regions {
		states = append(states, uf)
	}
	sort.Strings(states)
	for _, uf := range states {
		if seen[uf] {
			return uf
		}
	}
	return ""
}

// Search returns up to SearchLimit records matching the keywords of text.
func (q *Querier) Search(ctx context.Context, text string, year int) ([]db.Record, Filter, error) {
	f := SearchFilter(text, year)
	recs, err := q.Records(ctx, f)
	return recs, f, err
}

// YearStatus is the last run of a year as shown by Info.
type YearStatus struct {
	Status  db.Status `json:"status"`
	Quality float64   `json:"qualidade"`
	Records int       `json:"registros"`
}

// DatabaseInfo is a database-wide summary.
type DatabaseInfo struct {
	YearsAvailable int                `json:"anos_disponiveis"`
	TotalRecords   int                `json:"total_registros"`
	Period         string             `json:"periodo"`
	DateRange      string             `json:"data_range"`
	SizeMB         float64            `json:"tamanho_mb"`
	YearStatus     map[int]YearStatus `json:"status_anos"`
}

// Info summarizes the stored years, date range, size and run status per year.
func (q *Querier) Info(ctx context.Context) (*DatabaseInfo, error) {
	info := &DatabaseInfo{Period: "N/A", DateRange: "N/A", YearStatus: make(map[int]YearStatus)}
	var minYear, maxYear sql.NullInt64
	var minDate, maxDate sql.NullString
	err := q.sb.Select("COUNT(DISTINCT year)", "COUNT(*)", "MIN(year)", "MAX(year)", "MIN(dt_notific)", "MAX(dt_notific)").
		From("srag_data").
		QueryRowContext(ctx).
		Scan(&info.YearsAvailable, &info.TotalRecords, &minYear, &maxYear, &minDate, &maxDate)
	if err != nil {
		return nil, fmt.Errorf("database info: %w", err)
	}
	if minYear.Valid {
		info.Period = fmt.Sprintf("%d - %d", minYear.Int64, maxYear.Int64)
	}
	if minDate.Valid {
		info.DateRange = minDate.String + " - " + maxDate.String
	}

	runs, err := db.ListETLRuns(q.DB)
	if err != nil {
		return nil, err
	}
	for _, r := range runs {
		info.YearStatus[r.Year] = YearStatus{Status: r.Status, Quality: r.QualityScore, Records: r.TotalRecords}
	}
	if info.SizeMB, err = db.SizeMB(q.DB); err != nil {
		return nil, err
	}
	return info, nil
}
