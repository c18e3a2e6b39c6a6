package query

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/japaniel/sragetl/pkg/db"
	"github.com/japaniel/sragetl/pkg/transform"
)

type caseSpec struct {
	state      string
	month      time.Month
	vaccinated bool
	death      bool
	icu        bool
	sex        int64
	age        int64
}

func nullInt(v int64) sql.NullInt64 { return sql.NullInt64{Int64: v, Valid: true} }

func nullStr(s string) sql.NullString { return sql.NullString{String: s, Valid: s != ""} }

func yesNo(b bool) int64 {
	if b {
		return 1
	}
	return 2
}

func buildRecord(year int, i int, c caseSpec) db.Record {
	month := c.month
	if month == 0 {
		month = time.January
	}
	d := time.Date(year, month, 1+i%28, 0, 0, 0, 0, time.UTC)
	sex := c.sex
	if sex == 0 {
		sex = 1
	}
	outcome := int64(transform.OutcomeCure)
	if c.death {
		outcome = transform.OutcomeDeath
	}
	_, week := d.ISOWeek()
	return db.Record{
		Year:              year,
		NotificationDate:  d,
		State:             nullStr(c.state),
		Region:            nullStr(transform.Regions[c.state]),
		Sex:               nullInt(sex),
		SexDesc:           nullStr(transform.SexCodes[sex]),
		Age:               nullInt(int64(i)),
		AgeBand:           nullStr(transform.AgeBand(c.age)),
		Outcome:           nullInt(outcome),
		OutcomeDesc:       nullStr(transform.OutcomeCodes[outcome]),
		ICU:               nullInt(yesNo(c.icu)),
		Vaccinated:        nullInt(yesNo(c.vaccinated)),
		VaccinatedDesc:    nullStr(transform.YesNoCodes[yesNo(c.vaccinated)]),
		NotificationMonth: int(month),
		NotificationYear:  year,
		EpiWeek:           week,
	}
}

func seed(t *testing.T, year int, cases []caseSpec) *Querier {
	t.Helper()
	conn, err := db.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	recs := make([]db.Record, len(cases))
	for i, c := range cases {
		recs[i] = buildRecord(year, i, c)
	}
	if len(recs) > 0 {
		n, err := db.InsertRecords(conn, recs)
		require.NoError(t, err)
		require.EqualValues(t, len(recs), n)
		require.NoError(t, db.UpsertETLRun(conn, db.ETLRun{
			Year: year, Status: db.StatusSuccess, QualityScore: 0.95,
			TotalRecords: len(recs), ProcessedRecords: len(recs), DownloadDate: time.Now(),
		}))
	}
	return New(conn)
}

func repeat(n int, c caseSpec) []caseSpec {
	out := make([]caseSpec, n)
	for i := range out {
		out[i] = c
	}
	return out
}

func withVaccinated(cases []caseSpec, n int) []caseSpec {
	for i := 0; i < n; i++ {
		cases[i].vaccinated = true
	}
	return cases
}

func TestStateVaccinationRankingExample(t *testing.T) {
	var cases []caseSpec
	cases = append(cases, withVaccinated(repeat(8, caseSpec{state: "AC"}), 2)...)
	cases = append(cases, withVaccinated(repeat(20, caseSpec{state: "BA"}), 18)...)
	cases = append(cases, withVaccinated(repeat(15, caseSpec{state: "CE"}), 3)...)
	q := seed(t, 2024, cases)

	ranking, err := q.StateVaccinationRanking(context.Background(), 2024)
	require.NoError(t, err)
	require.Len(t, ranking, 2)
	assert.Equal(t, StateRate{State: "CE", Total: 15, Count: 3, Rate: 20.0}, ranking[0])
	assert.Equal(t, StateRate{State: "BA", Total: 20, Count: 18, Rate: 90.0}, ranking[1])

	report, err := q.VaccinationReport(context.Background(), 2024)
	require.NoError(t, err)
	assert.Contains(t, report, "ANÁLISE DE VACINAÇÃO - 2024")
	assert.Contains(t, report, "CE: 20,0%")
	assert.Contains(t, report, "Total de estados analisados: 2")
}

func TestTemporalTrendsMonthly(t *testing.T) {
	q := seed(t, 2024, []caseSpec{
		{state: "SP", month: time.March},
		{state: "SP", month: time.January},
		{state: "SP", month: time.February, death: true, icu: true},
	})
	trends, err := q.TemporalTrends(context.Background(), 2024, Month)
	require.NoError(t, err)
	require.Len(t, trends, 3)
	assert.Equal(t, "2024-01", trends[0].Period)
	assert.Equal(t, "2024-02", trends[1].Period)
	assert.Equal(t, "2024-03", trends[2].Period)
	for _, p := range trends {
		assert.Equal(t, 1, p.Cases)
	}
	assert.Equal(t, 1, trends[1].Deaths)
	assert.Equal(t, 1, trends[1].ICUCases)

	daily, err := q.TemporalTrends(context.Background(), 2024, Day)
	require.NoError(t, err)
	assert.Len(t, daily, 3)
	assert.Regexp(t, `^2024-01-\d\d$`, daily[0].Period)
}

func TestQueriesOnMissingYear(t *testing.T) {
	q := seed(t, 2024, []caseSpec{{state: "SP"}})
	ctx := context.Background()

	a, err := q.Availability(ctx, 2020)
	require.NoError(t, err)
	assert.False(t, a.Available)
	assert.Equal(t, db.StatusNotProcessed, a.Status)

	var due *DataUnavailableError
	_, err = q.ClinicalIndicators(ctx, 2020)
	assert.True(t, errors.As(err, &due))
	_, err = q.TemporalTrends(ctx, 2020, Week)
	assert.True(t, errors.As(err, &due))
	_, err = q.DemographicBreakdown(ctx, 2020)
	assert.True(t, errors.As(err, &due))
	_, err = q.StateVaccinationRanking(ctx, 2020)
	assert.True(t, errors.As(err, &due))
	_, err = q.MortalityByState(ctx, 2020)
	assert.True(t, errors.As(err, &due))
	_, err = q.VaccinationBreakdown(ctx, 2020, true)
	assert.True(t, errors.As(err, &due))
	assert.Equal(t, 2020, due.Year)
}

func TestAvailabilityReportsRun(t *testing.T) {
	q := seed(t, 2024, []caseSpec{{state: "SP"}, {state: "RJ"}})
	a, err := q.Availability(context.Background(), 2024)
	require.NoError(t, err)
	assert.True(t, a.Available)
	assert.Equal(t, 2, a.Records)
	assert.Equal(t, db.StatusSuccess, a.Status)
	assert.Equal(t, 0.95, a.QualityScore)
	assert.NotNil(t, a.DownloadDate)
}

func TestClinicalIndicators(t *testing.T) {
	q := seed(t, 2024, []caseSpec{
		{state: "SP", death: true, icu: true, vaccinated: true},
		{state: "SP", icu: true},
		{state: "RJ"},
		{state: "RJ", vaccinated: true},
	})
	c, err := q.ClinicalIndicators(context.Background(), 2024)
	require.NoError(t, err)
	assert.Equal(t, 4, c.TotalCases)
	assert.Equal(t, 1, c.Deaths)
	assert.Equal(t, 2, c.ICUCases)
	assert.Equal(t, 2, c.Vaccinated)
	assert.Equal(t, 25.0, c.MortalityRate)
	assert.Equal(t, 50.0, c.ICURate)
	assert.Equal(t, 50.0, c.VaccinationRate)
	for _, r := range []float64{c.MortalityRate, c.ICURate, c.VaccinationRate} {
		assert.GreaterOrEqual(t, r, 0.0)
		assert.LessOrEqual(t, r, 100.0)
	}
}

func TestRateZeroTotal(t *testing.T) {
	assert.Equal(t, 0.0, rate(0, 0))
	assert.Equal(t, 33.33, rate(1, 3))
}

func TestDemographicBreakdownOrdering(t *testing.T) {
	q := seed(t, 2024, []caseSpec{
		{state: "SP", age: 70},
		{state: "SP", age: 1, sex: 2},
		{state: "RJ", age: 25},
		{state: "BA", age: 14},
		{state: "RS", age: 70},
	})
	d, err := q.DemographicBreakdown(context.Background(), 2024)
	require.NoError(t, err)

	var bands []string
	for _, g := range d.ByAgeBand {
		bands = append(bands, g.Label)
	}
	assert.Equal(t, []string{"0-2", "13-18", "19-30", "65+"}, bands)

	require.NotEmpty(t, d.ByRegion)
	assert.Equal(t, "Sudeste", d.ByRegion[0].Label)
	assert.Equal(t, 3, d.ByRegion[0].Cases)
	assert.Equal(t, 60.0, d.ByRegion[0].Percent)

	require.Len(t, d.BySex, 2)
	var total float64
	for _, g := range d.BySex {
		total += g.Percent
	}
	assert.InDelta(t, 100.0, total, 0.01)
}

func TestMortalityByStateDescending(t *testing.T) {
	cases := []caseSpec{
		{state: "SP", death: true}, {state: "SP"}, {state: "SP"}, {state: "SP"},
		{state: "RJ", death: true}, {state: "RJ"},
	}
	q := seed(t, 2024, cases)
	m, err := q.MortalityByState(context.Background(), 2024)
	require.NoError(t, err)
	require.Len(t, m, 2)
	assert.Equal(t, "RJ", m[0].State)
	assert.Equal(t, 50.0, m[0].Rate)
	assert.Equal(t, "SP", m[1].State)
	assert.Equal(t, 25.0, m[1].Rate)
}

func TestVaccinationBreakdown(t *testing.T) {
	q := seed(t, 2024, withVaccinated(repeat(4, caseSpec{state: "SP"}), 1))
	groups, err := q.VaccinationBreakdown(context.Background(), 2024, false)
	require.NoError(t, err)
	require.Len(t, groups, 2)
	assert.Equal(t, VaccinationGroup{Code: 1, Description: "Sim", Cases: 1, Percent: 25.0}, groups[0])
	assert.Equal(t, VaccinationGroup{Code: 2, Description: "Não", Cases: 3, Percent: 75.0}, groups[1])

	byState, err := q.VaccinationBreakdown(context.Background(), 2024, true)
	require.NoError(t, err)
	require.Len(t, byState, 2)
	assert.Equal(t, "SP", byState[0].State)
}

func TestSearchMapsKeywordsToFilters(t *testing.T) {
	f := SearchFilter("Quantos óbitos na UTI em SP?", 2024)
	require.NotNil(t, f.Outcome)
	assert.EqualValues(t, 2, *f.Outcome)
	require.NotNil(t, f.ICU)
	assert.EqualValues(t, 1, *f.ICU)
	assert.Nil(t, f.Vaccinated)
	assert.Equal(t, []string{"SP"}, f.States)
	assert.Equal(t, []int{2024}, f.Years)
	assert.EqualValues(t, SearchLimit, f.Limit)

	f = SearchFilter("se houver casos vacinados", 0)
	assert.Empty(t, f.States)
	assert.Empty(t, f.Years)
	require.NotNil(t, f.Vaccinated)

	q := seed(t, 2024, []caseSpec{
		{state: "SP", death: true}, {state: "SP"}, {state: "RJ", death: true},
	})
	recs, _, err := q.Search(context.Background(), "mortes em SP", 2024)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "SP", recs[0].State.String)
	assert.EqualValues(t, 2, recs[0].Outcome.Int64)
	assert.Equal(t, "Óbito", recs[0].OutcomeDesc.String)
}

func TestRecordsOrderAndYears(t *testing.T) {
	q := seed(t, 2024, []caseSpec{
		{state: "SP", month: time.January},
		{state: "SP", month: time.March},
	})
	recs, err := q.Records(context.Background(), Filter{})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.True(t, recs[0].NotificationDate.After(recs[1].NotificationDate))
	assert.Equal(t, 3, recs[0].NotificationMonth)

	years, err := q.YearsAvailable(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int{2024}, years)
}

func TestInfo(t *testing.T) {
	q := seed(t, 2024, []caseSpec{{state: "SP", month: time.February}, {state: "RJ", month: time.May}})
	info, err := q.Info(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, info.YearsAvailable)
	assert.Equal(t, 2, info.TotalRecords)
	assert.Equal(t, "2024 - 2024", info.Period)
	assert.Equal(t, "2024-02-01 - 2024-05-02", info.DateRange)
	assert.Equal(t, db.StatusSuccess, info.YearStatus[2024].Status)

	empty := seed(t, 2024, nil)
	info, err = empty.Info(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "N/A", info.Period)
	assert.Equal(t, "N/A", info.DateRange)
}

func TestParseGranularity(t *testing.T) {
	g, err := ParseGranularity("week")
	require.NoError(t, err)
	assert.Equal(t, Week, g)
	_, err = ParseGranularity("year")
	assert.Error(t, err)
}
