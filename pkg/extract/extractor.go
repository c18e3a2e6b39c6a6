package extract

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/japaniel/sragetl/pkg/logging"
)

// HashLookup returns the content hash of the last successful load of a year, or "".
type HashLookup interface {
	LastHash(year int) (string, error)
}

// Payload is a downloaded (or reused) yearly extract on local disk.
type Payload struct {
	Year   int
	URL    string
	Path   string
	Hash   string
	Size   int64
	Cached bool
}

// Open returns a reader over the cached file.
func (p *Payload) Open() (io.ReadCloser, error) { return os.Open(p.Path) }

// Remove deletes the cached file. Callers remove it once the year is loaded.
func (p *Payload) Remove() error {
	if err := os.Remove(p.Path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Extractor downloads yearly CSV extracts into a local cache directory.
type Extractor struct {
	Sources  map[int]string
	CacheDir string
	// CacheTTL bounds how old a cached file may be before it is downloaded
	// again even when its hash matches. 0 disables the check.
	CacheTTL time.Duration
	Hashes   HashLookup
	Client   *http.Client
	Logger   *slog.Logger

	now func() time.Time
}

// NewExtractor creates an extractor over the default DATASUS sources.
func NewExtractor(cacheDir string, hashes HashLookup) *Extractor {
	return &Extractor{
		Sources:  DefaultSources,
		CacheDir: cacheDir,
		Hashes:   hashes,
		// Yearly extracts are several hundred MB; only the connection is bounded.
		Client: &http.Client{Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			ResponseHeaderTimeout: 60 * time.Second,
		}},
		now: time.Now,
	}
}

// URL returns the source URL of a year.
func (e *Extractor) URL(year int) (string, error) {
	url, ok := e.Sources[year]
	if !ok {
		return "", &NotFoundError{Year: year}
	}
	return url, nil
}

// CachePath is where the extract of a year is stored.
func (e *Extractor) CachePath(year int) string {
	return filepath.Join(e.CacheDir, fmt.Sprintf("INFLUD%d.csv", year))
}

// Fetch makes the extract of year available on disk, reusing the cached file
// when it matches the last successful load.
func (e *Extractor) Fetch(ctx context.Context, year int) (*Payload, error) {
	url, err := e.URL(year)
	if err != nil {
		return nil, err
	}
	log := logging.OrDiscard(e.Logger).With("year", year)
	path := e.CachePath(year)

	if p, ok := e.cached(log, year, url, path); ok {
		log.Info("cached extract is up to date, skipping download", "path", path)
		return p, nil
	}

	log.Info("downloading extract", "url", url)
	start := e.clock()
	p, err := e.download(ctx, year, url, path)
	if err != nil {
		return nil, err
	}
	log.Info("download complete", "bytes", p.Size, "elapsed", e.clock().Sub(start).Round(time.Millisecond))
	return p, nil
}

func (e *Extractor) clock() time.Time {
	if e.now == nil {
		return time.Now()
	}
	return e.now()
}

func (e *Extractor) cached(log *slog.Logger, year int, url, path string) (*Payload, bool) {
	if e.Hashes == nil {
		return nil, false
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, false
	}
	if e.CacheTTL > 0 && e.clock().Sub(info.ModTime()) > e.CacheTTL {
		log.Info("cached extract expired", "age", e.clock().Sub(info.ModTime()).Round(time.Second))
		return nil, false
	}
	stored, err := e.Hashes.LastHash(year)
	if err != nil {
		log.Warn("could not read last successful hash", "err", err)
		return nil, false
	}
	if stored == "" {
		return nil, false
	}
	hash, size, err := FileHash(path)
	if err != nil {
		log.Warn("could not hash cached extract", "err", err)
		return nil, false
	}
	if hash != stored {
		return nil, false
	}
	return &Payload{Year: year, URL: url, Path: path, Hash: hash, Size: size, Cached: true}, true
}

func (e *Extractor) download(ctx context.Context, year int, url, path string) (*Payload, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &NetworkError{URL: url, Err: err}
	}
	req.Header.Set("User-Agent", "sragetl")

	client := e.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, &NetworkError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &NetworkError{URL: url, Err: fmt.Errorf("unexpected status: %s", resp.Status)}
	}

	tmp := path + ".part"
	out, err := os.Create(tmp)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", tmp, err)
	}
	h := md5.New()
	n, err := io.Copy(io.MultiWriter(out, h), resp.Body)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmp)
		return nil, &NetworkError{URL: url, Err: err}
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return nil, fmt.Errorf("move %s into place: %w", tmp, err)
	}

	return &Payload{Year: year, URL: url, Path: path, Hash: hex.EncodeToString(h.Sum(nil)), Size: n}, nil
}

// FileHash returns the hex MD5 digest and size of a file.
func FileHash(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()
	h := md5.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}
