package etl

import "expvar"

// Process-wide pipeline counters, published under /debug/vars when an HTTP
// server with the expvar handler is running.
var (
	yearsProcessed  = expvar.NewInt("sragetl_years_processed")
	yearsFailed     = expvar.NewInt("sragetl_years_failed")
	rowsLoaded      = expvar.NewInt("sragetl_rows_loaded")
	bytesDownloaded = expvar.NewInt("sragetl_bytes_downloaded")
	cacheHits       = expvar.NewInt("sragetl_cache_hits")
)

// Metrics is a snapshot of the pipeline counters.
type Metrics struct {
	YearsProcessed  int64 `json:"years_processed"`
	YearsFailed     int64 `json:"years_failed"`
	RowsLoaded      int64 `json:"rows_loaded"`
	BytesDownloaded int64 `json:"bytes_downloaded"`
	CacheHits       int64 `json:"cache_hits"`
}

// Snapshot reads the current counter values.
func Snapshot() Metrics {
	return Metrics{
		YearsProcessed:  yearsProcessed.Value(),
		YearsFailed:     yearsFailed.Value(),
		RowsLoaded:      rowsLoaded.Value(),
		BytesDownloaded: bytesDownloaded.Value(),
		CacheHits:       cacheHits.Value(),
	}
}
