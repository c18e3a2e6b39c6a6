package db

import (
	"database/sql"
	"time"
)

// Status is the outcome of the last ETL attempt for a year.
type Status string

const (
	StatusSuccess      Status = "SUCCESS"
	StatusError        Status = "ERROR"
	StatusNotProcessed Status = "NOT_PROCESSED"
)

// FlagColumns lists the symptom and comorbidity columns in table order.
var FlagColumns = [NumFlags]string{
	"febre", "tosse", "garganta", "dispneia", "desc_resp", "saturacao",
	"diarreia", "vomito", "outro_sin",
	"cardiopati", "hematologi", "sind_down", "hepatica", "asma", "diabetes",
	"neurologic", "pneumopati", "imunodepre", "renal", "obesidade",
}

// NumFlags is the number of symptom and comorbidity columns.
const NumFlags = 20

// Record is one normalized SRAG notification.
type Record struct {
	ID   int64
	Year int

	NotificationDate time.Time
	SymptomOnsetDate sql.NullTime
	AdmissionDate    sql.NullTime
	OutcomeDate      sql.NullTime

	State        sql.NullString
	Municipality sql.NullString
	Region       sql.NullString

	Sex     sql.NullInt64
	SexDesc sql.NullString
	Age     sql.NullInt64
	AgeBand sql.NullString

	Outcome            sql.NullInt64
	OutcomeDesc        sql.NullString
	ICU                sql.NullInt64
	ICUDesc            sql.NullString
	Vaccinated         sql.NullInt64
	VaccinatedDesc     sql.NullString
	Classification     sql.NullInt64
	ClassificationDesc sql.NullString

	// Flags holds the symptom/comorbidity codes in FlagColumns order.
	Flags [NumFlags]sql.NullInt64

	NotificationMonth int
	NotificationYear  int
	EpiWeek           int
}

// ETLRun is the metadata row kept for the last processing attempt of a year.
type ETLRun struct {
	Year              int
	RunID             string
	URL               string
	DownloadDate      time.Time
	FileHash          string
	TotalRecords      int
	ProcessedRecords  int
	QualityScore      float64
	ProcessingSeconds float64
	Status            Status
	ErrorLog          string
}

// YearStats summarizes the rows stored for one year.
type YearStats struct {
	Records int    `json:"records"`
	MinDate string `json:"min_date"`
	MaxDate string `json:"max_date"`
}

// QualityStats is the quality score and status recorded for a year.
type QualityStats struct {
	Score  float64 `json:"score"`
	Status Status  `json:"status"`
}

// Stats is a database-wide summary.
type Stats struct {
	Years          map[int]YearStats    `json:"years"`
	TotalRecords   int                  `json:"total_records"`
	DataQuality    map[int]QualityStats `json:"data_quality"`
	DatabaseSizeMB float64              `json:"database_size_mb"`
}
