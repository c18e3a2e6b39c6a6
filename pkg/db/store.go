package db

import (
	"database/sql"
	"fmt"
	"math"
	"strings"
)

// DBExecutor is an interface that allows methods to accept either *sql.DB or *sql.Tx
type DBExecutor interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
	Query(query string, args ...interface{}) (*sql.Rows, error)
	QueryRow(query string, args ...interface{}) *sql.Row
}

// DateLayout is the text layout used for every date column.
const DateLayout = "2006-01-02"

// maxSQLVariables is the bound parameter limit of the bundled SQLite build.
const maxSQLVariables = 32766

// RecordColumns lists the insertable srag_data columns in the order produced by recordArgs.
var RecordColumns = append([]string{
	"year", "dt_notific", "dt_sin_pri", "dt_interna", "dt_evoluca",
	"sg_uf", "id_municip", "cs_sexo", "cs_sexo_desc", "nu_idade_n", "faixa_etaria",
	"evolucao", "evolucao_desc", "uti", "uti_desc", "vacina", "vacina_desc",
	"classi_fin", "classi_fin_desc",
}, append(FlagColumns[:],
	"mes_notific", "ano_notific", "semana_epidemio", "regiao",
)...)

// MaxRecordsPerInsert is the largest batch InsertRecords accepts in one statement.
var MaxRecordsPerInsert = maxSQLVariables / len(RecordColumns)

// nullableDate returns nil for an invalid time else the ISO date text.
func nullableDate(t sql.NullTime) interface{} {
	if !t.Valid {
		return nil
	}
	return t.Time.Format(DateLayout)
}

func recordArgs(r *Record) []interface{} {
	args := []interface{}{
		r.Year, r.NotificationDate.Format(DateLayout),
		nullableDate(r.SymptomOnsetDate), nullableDate(r.AdmissionDate), nullableDate(r.OutcomeDate),
		r.State, r.Municipality, r.Sex, r.SexDesc, r.Age, r.AgeBand,
		r.Outcome, r.OutcomeDesc, r.ICU, r.ICUDesc, r.Vaccinated, r.VaccinatedDesc,
		r.Classification, r.ClassificationDesc,
	}
	for _, f := range r.Flags {
		args = append(args, f)
	}
	return append(args, r.NotificationMonth, r.NotificationYear, r.EpiWeek, r.Region)
}

// InsertRecords inserts recs with one multi-row statement. Rows colliding with an
// existing natural key are ignored; the number of inserted rows is returned.
func InsertRecords(db DBExecutor, recs []Record) (int64, error) {
	if len(recs) == 0 {
		return 0, nil
	}
	if len(recs) > MaxRecordsPerInsert {
		return 0, fmt.Errorf("batch of %d records exceeds limit of %d", len(recs), MaxRecordsPerInsert)
	}

	placeholder := "(" + strings.TrimSuffix(strings.Repeat("?, ", len(RecordColumns)), ", ") + ")"
	var sb strings.Builder
	sb.WriteString("INSERT OR IGNORE INTO srag_data (")
	sb.WriteString(strings.Join(RecordColumns, ", "))
	sb.WriteString(") VALUES ")
	args := make([]interface{}, 0, len(recs)*len(RecordColumns))
	for i := range recs {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(placeholder)
		args = append(args, recordArgs(&recs[i])...)
	}

	res, err := db.Exec(sb.String(), args...)
	if err != nil {
		return 0, fmt.Errorf("insert %d records: %w", len(recs), err)
	}
	return res.RowsAffected()
}

// DeleteYear removes the whole partition of a year.
func DeleteYear(db DBExecutor, year int) (int64, error) {
	res, err := db.Exec(`DELETE FROM srag_data WHERE year = ?`, year)
	if err != nil {
		return 0, fmt.Errorf("delete year %d: %w", year, err)
	}
	return res.RowsAffected()
}

// CountYear returns the number of rows stored for a year.
func CountYear(db DBExecutor, year int) (int, error) {
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM srag_data WHERE year = ?`, year).Scan(&n); err != nil {
		return 0, fmt.Errorf("count year %d: %w", year, err)
	}
	return n, nil
}

// UpsertETLRun creates or overwrites the metadata row of run.Year.
func UpsertETLRun(db DBExecutor, run ETLRun) error {
	if run.Year <= 0 {
		return fmt.Errorf("year must be positive")
	}
	var hash, errLog interface{}
	if run.FileHash != "" {
		hash = run.FileHash
	}
	if run.ErrorLog != "" {
		errLog = run.ErrorLog
	}
	_, err := db.Exec(`INSERT INTO etl_metadata
		(year, run_id, url, download_date, file_hash, total_records, processed_records,
		 data_quality_score, processing_time_seconds, status, error_log)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(year) DO UPDATE SET
		  run_id = excluded.run_id,
		  url = excluded.url,
		  download_date = excluded.download_date,
		  file_hash = excluded.file_hash,
		  total_records = excluded.total_records,
		  processed_records = excluded.processed_records,
		  data_quality_score = excluded.data_quality_score,
		  processing_time_seconds = excluded.processing_time_seconds,
		  status = excluded.status,
		  error_log = excluded.error_log`,
		run.Year, run.RunID, run.URL, run.DownloadDate.UTC(), hash, run.TotalRecords, run.ProcessedRecords,
		run.QualityScore, run.ProcessingSeconds, string(run.Status), errLog)
	if err != nil {
		return fmt.Errorf("upsert etl run %d: %w", run.Year, err)
	}
	return nil
}

const etlRunColumns = `year, run_id, url, download_date, file_hash, total_records, processed_records,
	data_quality_score, processing_time_seconds, status, error_log`

func scanETLRun(scan func(dest ...interface{}) error) (ETLRun, error) {
	var run ETLRun
	var runID, url, hash, status, errLog sql.NullString
	var downloaded sql.NullTime
	var total, processed sql.NullInt64
	var score, seconds sql.NullFloat64
	if err := scan(&run.Year, &runID, &url, &downloaded, &hash, &total, &processed, &score, &seconds, &status, &errLog); err != nil {
		return run, err
	}
	run.RunID = runID.String
	run.URL = url.String
	if downloaded.Valid {
		run.DownloadDate = downloaded.Time
	}
	run.FileHash = hash.String
	run.TotalRecords = int(total.Int64)
	run.ProcessedRecords = int(processed.Int64)
	run.QualityScore = score.Float64
	run.ProcessingSeconds = seconds.Float64
	run.Status = Status(status.String)
	run.ErrorLog = errLog.String
	return run, nil
}

// GetETLRun returns the metadata row of a year, or nil when the year was never processed.
func GetETLRun(db DBExecutor, year int) (*ETLRun, error) {
	row := db.QueryRow(`SELECT `+etlRunColumns+` FROM etl_metadata WHERE year = ?`, year)
	run, err := scanETLRun(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get etl run %d: %w", year, err)
	}
	return &run, nil
}

// ListETLRuns returns every metadata row ordered by year.
func ListETLRuns(db DBExecutor) ([]ETLRun, error) {
	rows, err := db.Query(`SELECT ` + etlRunColumns + ` FROM etl_metadata ORDER BY year`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ETLRun
	for rows.Next() {
		run, err := scanETLRun(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// LastSuccessfulHash returns the content hash of the year's last SUCCESS run, or "".
func LastSuccessfulHash(db DBExecutor, year int) (string, error) {
	var hash sql.NullString
	err := db.QueryRow(`SELECT file_hash FROM etl_metadata WHERE year = ? AND status = ?`, year, string(StatusSuccess)).Scan(&hash)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return hash.String, nil
}

// HashLookup adapts a DBExecutor to the extractor's last-hash capability.
type HashLookup struct{ DB DBExecutor }

// LastHash implements the extractor lookup.
func (h HashLookup) LastHash(year int) (string, error) { return LastSuccessfulHash(h.DB, year) }

// SizeMB returns the database size from the page count, rounded to 2 decimals.
func SizeMB(db DBExecutor) (float64, error) {
	var pages, pageSize int64
	if err := db.QueryRow(`PRAGMA page_count`).Scan(&pages); err != nil {
		return 0, err
	}
	if err := db.QueryRow(`PRAGMA page_size`).Scan(&pageSize); err != nil {
		return 0, err
	}
	mb := float64(pages*pageSize) / (1024 * 1024)
	return math.Round(mb*100) / 100, nil
}

// GetStats builds the database-wide summary of stored years and ETL runs.
func GetStats(db DBExecutor) (*Stats, error) {
	stats := &Stats{
		Years:       make(map[int]YearStats),
		DataQuality: make(map[int]QualityStats),
	}

	rows, err := db.Query(`SELECT year, COUNT(*), MIN(dt_notific), MAX(dt_notific)
		FROM srag_data GROUP BY year ORDER BY year`)
	if err != nil {
		return nil, fmt.Errorf("year stats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var year int
		var ys YearStats
		var minDate, maxDate sql.NullString
		if err := rows.Scan(&year, &ys.Records, &minDate, &maxDate); err != nil {
			return nil, err
		}
		ys.MinDate = minDate.String
		ys.MaxDate = maxDate.String
		stats.Years[year] = ys
		stats.TotalRecords += ys.Records
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	runs, err := ListETLRuns(db)
	if err != nil {
		return nil, fmt.Errorf("quality stats: %w", err)
	}
	for _, r := range runs {
		stats.DataQuality[r.Year] = QualityStats{Score: r.QualityScore, Status: r.Status}
	}

	if stats.DatabaseSizeMB, err = SizeMB(db); err != nil {
		return nil, fmt.Errorf("database size: %w", err)
	}
	return stats, nil
}

// RecordSelectColumns are the srag_data columns read by ScanRecord, in scan order.
var RecordSelectColumns = append([]string{"id"}, RecordColumns...)

// ScanRecord scans a row selected with RecordSelectColumns.
func ScanRecord(scan func(dest ...interface{}) error) (Record, error) {
	var r Record
	var month, year, week sql.NullInt64
	dest := []interface{}{
		&r.ID, &r.Year, &r.NotificationDate,
		&r.SymptomOnsetDate, &r.AdmissionDate, &r.OutcomeDate,
		&r.State, &r.Municipality, &r.Sex, &r.SexDesc, &r.Age, &r.AgeBand,
		&r.Outcome, &r.OutcomeDesc, &r.ICU, &r.ICUDesc, &r.Vaccinated, &r.VaccinatedDesc,
		&r.Classification, &r.ClassificationDesc,
	}
	for i := range r.Flags {
		dest = append(dest, &r.Flags[i])
	}
	dest = append(dest, &month, &year, &week, &r.Region)
	if err := scan(dest...); err != nil {
		return r, err
	}
	r.NotificationMonth = int(month.Int64)
	r.NotificationYear = int(year.Int64)
	r.EpiWeek = int(week.Int64)
	return r, nil
}
