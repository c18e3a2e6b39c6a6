// Package query holds the read-only aggregate queries over the loaded records.
package query

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"math"
	"time"

	sq "github.com/Masterminds/squirrel"
	"golang.org/x/sync/errgroup"

	"github.com/japaniel/sragetl/pkg/db"
	"github.com/japaniel/sragetl/pkg/logging"
)

// DataUnavailableError is returned by every query except Availability when the
// year has no stored rows.
type DataUnavailableError struct {
	Year   int
	Status db.Status
}

func (e *DataUnavailableError) Error() string {
	return fmt.Sprintf("no data available for %d (status %s); run the ETL for this year first", e.Year, e.Status)
}

// Querier runs aggregate queries. It is safe for concurrent use.
type Querier struct {
	DB     *sql.DB
	Logger *slog.Logger

	sb sq.StatementBuilderType
}

// New creates a Querier over conn.
func New(conn *sql.DB) *Querier {
	return &Querier{DB: conn, sb: sq.StatementBuilder.RunWith(conn)}
}

// Availability describes what is stored for a year.
type Availability struct {
	Year         int        `json:"year"`
	Available    bool       `json:"available"`
	Records      int        `json:"records"`
	Status       db.Status  `json:"status"`
	QualityScore float64    `json:"quality_score"`
	DownloadDate *time.Time `json:"download_date,omitempty"`
	TotalRecords int        `json:"total_records"`
}

// Availability reports the stored row count and the last run of a year. A year
// that was never processed reports status NOT_PROCESSED.
func (q *Querier) Availability(ctx context.Context, year int) (*Availability, error) {
	a := &Availability{Year: year, Status: db.StatusNotProcessed}
	err := q.sb.Select("COUNT(*)").From("srag_data").Where(sq.Eq{"year": year}).
		QueryRowContext(ctx).Scan(&a.Records)
	if err != nil {
		return nil, fmt.Errorf("count year %d: %w", year, err)
	}
	a.Available = a.Records > 0

	run, err := db.GetETLRun(q.DB, year)
	if err != nil {
		return nil, err
	}
	if run != nil {
		a.Status = run.Status
		a.QualityScore = run.QualityScore
		a.TotalRecords = run.TotalRecords
		if !run.DownloadDate.IsZero() {
			d := run.DownloadDate
			a.DownloadDate = &d
		}
	}
	return a, nil
}

func (q *Querier) requireData(ctx context.Context, year int) error {
	a, err := q.Availability(ctx, year)
	if err != nil {
		return err
	}
	if !a.Available {
		logging.OrDiscard(q.Logger).Debug("query on year without data", "year", year, "status", a.Status)
		return &DataUnavailableError{Year: year, Status: a.Status}
	}
	return nil
}

// rate returns part/total as a percentage rounded to 2 decimals, 0 when total is 0.
func rate(part, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(part)*100/float64(total)*100) / 100
}

const (
	deathsExpr     = "COALESCE(SUM(CASE WHEN evolucao = 2 THEN 1 ELSE 0 END), 0)"
	icuExpr        = "COALESCE(SUM(CASE WHEN uti = 1 THEN 1 ELSE 0 END), 0)"
	vaccinatedExpr = "COALESCE(SUM(CASE WHEN vacina = 1 THEN 1 ELSE 0 END), 0)"
)

// ClinicalIndicators are the headline counts and rates of a year.
type ClinicalIndicators struct {
	Year            int     `json:"year"`
	TotalCases      int     `json:"total_casos"`
	Deaths          int     `json:"obitos"`
	ICUCases        int     `json:"uti_casos"`
	Vaccinated      int     `json:"vacinados"`
	MortalityRate   float64 `json:"taxa_mortalidade"`
	ICURate         float64 `json:"taxa_uti"`
	VaccinationRate float64 `json:"taxa_vacinacao"`
}

// ClinicalIndicators returns total cases, deaths, ICU and vaccinated cases and their rates.
func (q *Querier) ClinicalIndicators(ctx context.Context, year int) (*ClinicalIndicators, error) {
	if err := q.requireData(ctx, year); err != nil {
		return nil, err
	}
	c := &ClinicalIndicators{Year: year}
	err := q.sb.Select("COUNT(*)", deathsExpr, icuExpr, vaccinatedExpr).
		From("srag_data").Where(sq.Eq{"year": year}).
		QueryRowContext(ctx).Scan(&c.TotalCases, &c.Deaths, &c.ICUCases, &c.Vaccinated)
	if err != nil {
		return nil, fmt.Errorf("clinical indicators %d: %w", year, err)
	}
	c.MortalityRate = rate(c.Deaths, c.TotalCases)
	c.ICURate = rate(c.ICUCases, c.TotalCases)
	c.VaccinationRate = rate(c.Vaccinated, c.TotalCases)
	return c, nil
}

// Granularity selects the time bucket of TemporalTrends.
type Granularity string

const (
	Day   Granularity = "day"
	Week  Granularity = "week"
	Month Granularity = "month"
)

// ParseGranularity accepts day, week or month.
func ParseGranularity(s string) (Granularity, error) {
	switch g := Granularity(s); g {
	case Day, Week, Month:
		return g, nil
	}
	return "", fmt.Errorf("unknown granularity %q (want day, week or month)", s)
}

func (g Granularity) expr() string {
	switch g {
	case Week:
		return "strftime('%Y-%W', dt_notific)"
	case Day:
		return "strftime('%Y-%m-%d', dt_notific)"
	default:
		return "strftime('%Y-%m', dt_notific)"
	}
}

// TrendPoint is one time bucket.
type TrendPoint struct {
	Period   string `json:"period"`
	Cases    int    `json:"casos_notificados"`
	Deaths   int    `json:"obitos"`
	ICUCases int    `json:"uti_casos"`
}

// TemporalTrends buckets cases, deaths and ICU cases by notification date, in
// chronological order.
func (q *Querier) TemporalTrends(ctx context.Context, year int, g Granularity) ([]TrendPoint, error) {
	if err := q.requireData(ctx, year); err != nil {
		return nil, err
	}
	bucket := g.expr()
	rows, err := q.sb.Select(bucket, "COUNT(*)", deathsExpr, icuExpr).
		From("srag_data").
		Where(sq.Eq{"year": year}).Where(sq.NotEq{"dt_notific": nil}).
		GroupBy(bucket).OrderBy(bucket).
		QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("temporal trends %d: %w", year, err)
	}
	defer rows.Close()

	var out []TrendPoint
	for rows.Next() {
		var p TrendPoint
		if err := rows.Scan(&p.Period, &p.Cases, &p.Deaths, &p.ICUCases); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// GroupCount is the size of one demographic group and its share of the year.
type GroupCount struct {
	Label   string  `json:"label"`
	Cases   int     `json:"casos"`
	Percent float64 `json:"percentual"`
}

// Demographics are the three independent groupings of a year.
type Demographics struct {
	BySex     []GroupCount `json:"por_sexo"`
	ByAgeBand []GroupCount `json:"por_idade"`
	ByRegion  []GroupCount `json:"por_regiao"`
}

// ageBandOrder sorts age bands in their fixed sequence rather than alphabetically.
const ageBandOrder = `CASE faixa_etaria
	WHEN '0-2' THEN 1 WHEN '3-12' THEN 2 WHEN '13-18' THEN 3 WHEN '19-30' THEN 4
	WHEN '31-50' THEN 5 WHEN '51-65' THEN 6 WHEN '65+' THEN 7 ELSE 8 END`

// DemographicBreakdown groups the year by sex, age band and region. The three
// groupings run concurrently.
func (q *Querier) DemographicBreakdown(ctx context.Context, year int) (*Demographics, error) {
	if err := q.requireData(ctx, year); err != nil {
		return nil, err
	}
	d := &Demographics{}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		d.BySex, err = q.groupCounts(gctx, year, "cs_sexo_desc", "cs_sexo_desc")
		return err
	})
	g.Go(func() (err error) {
		d.ByAgeBand, err = q.groupCounts(gctx, year, "faixa_etaria", ageBandOrder)
		return err
	})
	g.Go(func() (err error) {
		d.ByRegion, err = q.groupCounts(gctx, year, "regiao", "COUNT(*) DESC", "regiao")
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("demographic breakdown %d: %w", year, err)
	}
	return d, nil
}

func (q *Querier) groupCounts(ctx context.Context, year int, col string, orderBy ...string) ([]GroupCount, error) {
	rows, err := q.sb.Select(col, "COUNT(*)").
		From("srag_data").
		Where(sq.Eq{"year": year}).Where(sq.NotEq{col: nil}).
		GroupBy(col).OrderBy(orderBy...).
		QueryContext(ctx)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []GroupCount
	total := 0
	for rows.Next() {
		var gc GroupCount
		if err := rows.Scan(&gc.Label, &gc.Cases); err != nil {
			return nil, err
		}
		total += gc.Cases
		out = append(out, gc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Percent = rate(out[i].Cases, total)
	}
	return out, nil
}

// SignificanceFloor is the minimum number of cases a state needs to appear in
// the vaccination ranking.
const SignificanceFloor = 10

// StateRate is a per-state rate: vaccinated cases in the vaccination ranking,
// deaths in MortalityByState.
type StateRate struct {
	State string  `json:"sg_uf"`
	Total int     `json:"total_casos"`
	Count int     `json:"count"`
	Rate  float64 `json:"rate"`
}

// StateVaccinationRanking returns the vaccination rate of every state with at
// least SignificanceFloor cases of known vaccination status, lowest rate first.
func (q *Querier) StateVaccinationRanking(ctx context.Context, year int) ([]StateRate, error) {
	if err := q.requireData(ctx, year); err != nil {
		return nil, err
	}
	rateExpr := "ROUND(" + vaccinatedExpr + " * 100.0 / COUNT(*), 2)"
	return q.stateRates(ctx, q.sb.Select("sg_uf", "COUNT(*)", vaccinatedExpr).
		From("srag_data").
		Where(sq.Eq{"year": year}).Where(sq.NotEq{"vacina": nil, "sg_uf": nil}).
		GroupBy("sg_uf").
		Having("COUNT(*) >= ?", SignificanceFloor).
		OrderBy(rateExpr+" ASC", "sg_uf"))
}

// MortalityByState returns the death rate of every state over cases with a
// known outcome, highest first.
func (q *Querier) MortalityByState(ctx context.Context, year int) ([]StateRate, error) {
	if err := q.requireData(ctx, year); err != nil {
		return nil, err
	}
	rateExpr := "ROUND(" + deathsExpr + " * 100.0 / COUNT(*), 2)"
	return q.stateRates(ctx, q.sb.Select("sg_uf", "COUNT(*)", deathsExpr).
		From("srag_data").
		Where(sq.Eq{"year": year}).Where(sq.NotEq{"evolucao": nil, "sg_uf": nil}).
		GroupBy("sg_uf").
		OrderBy(rateExpr+" DESC", "sg_uf"))
}

func (q *Querier) stateRates(ctx context.Context, b sq.SelectBuilder) ([]StateRate, error) {
	rows, err := b.QueryContext(ctx)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []StateRate
	for rows.Next() {
		var s StateRate
		if err := rows.Scan(&s.State, &s.Total, &s.Count); err != nil {
			return nil, err
		}
		s.Rate = rate(s.Count, s.Total)
		out = append(out, s)
	}
	return out, rows.Err()
}

// VaccinationGroup is one vaccination status, optionally within a state.
type VaccinationGroup struct {
	State       string  `json:"sg_uf,omitempty"`
	Code        int     `json:"vacina"`
	Description string  `json:"vacina_desc"`
	Cases       int     `json:"casos"`
	Percent     float64 `json:"percentual"`
}

// VaccinationBreakdown counts cases by vaccination status, per state when
// byState is set. Percentages are shares of all cases with a known status.
func (q *Querier) VaccinationBreakdown(ctx context.Context, year int, byState bool) ([]VaccinationGroup, error) {
	if err := q.requireData(ctx, year); err != nil {
		return nil, err
	}
	cols := []string{"vacina", "COALESCE(vacina_desc, '')", "COUNT(*)"}
	group := []string{"vacina", "vacina_desc"}
	order := []string{"vacina"}
	if byState {
		cols = append([]string{"COALESCE(sg_uf, '')"}, cols...)
		group = append([]string{"sg_uf"}, group...)
		order = append([]string{"sg_uf"}, order...)
	}
	rows, err := q.sb.Select(cols...).From("srag_data").
		Where(sq.Eq{"year": year}).Where(sq.NotEq{"vacina": nil}).
		GroupBy(group...).OrderBy(order...).
		QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("vaccination breakdown %d: %w", year, err)
	}
	defer rows.Close()

	var out []VaccinationGroup
	total := 0
	for rows.Next() {
		var v VaccinationGroup
		dest := []interface{}{&v.Code, &v.Description, &v.Cases}
		if byState {
			dest = append([]interface{}{&v.State}, dest...)
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		total += v.Cases
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Percent = rate(out[i].Cases, total)
	}
	return out, nil
}

// YearsAvailable lists the years with stored rows.
func (q *Querier) YearsAvailable(ctx context.Context) ([]int, error) {
	rows, err := q.sb.Select("DISTINCT year").From("srag_data").OrderBy("year").QueryContext(ctx)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var years []int
	for rows.Next() {
		var y int
		if err := rows.Scan(&y); err != nil {
			return nil, err
		}
		years = append(years, y)
	}
	return years, rows.Err()
}
