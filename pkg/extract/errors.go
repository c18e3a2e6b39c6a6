package extract

import "fmt"

// NotFoundError is returned for a year without a known source URL.
type NotFoundError struct{ Year int }

func (e *NotFoundError) Error() string { return fmt.Sprintf("no source available for year %d", e.Year) }

// NetworkError wraps any transport failure during a download.
type NetworkError struct {
	URL string
	Err error
}

func (e *NetworkError) Error() string { return fmt.Sprintf("download %s: %v", e.URL, e.Err) }

func (e *NetworkError) Unwrap() error { return e.Err }
