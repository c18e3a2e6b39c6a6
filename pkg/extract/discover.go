package extract

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// DatasetPage is the OpenDataSUS page that links the yearly SRAG extracts.
const DatasetPage = "https://opendatasus.saude.gov.br/dataset/srag-2019-a-2025"

// extractName matches INFLUD<yy>[-dd-mm-yyyy].csv file names.
var extractName = regexp.MustCompile(`(?i)INFLUD(\d{2})(?:-(\d{2}-\d{2}-\d{4}))?\.csv$`)

// Discover reads the dataset page at pageURL and returns the extract URL
// linked for each year.
func Discover(ctx context.Context, client *http.Client, pageURL string) (map[int]string, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("parse page url: %w", err)
	}
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, &NetworkError{URL: pageURL, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, &NetworkError{URL: pageURL, Err: fmt.Errorf("unexpected status %s", resp.Status)}
	}
	return ParseSourceLinks(resp.Body, base)
}

// ParseSourceLinks collects extract links from an HTML document. Relative links
// resolve against base. When a year is linked more than once the extract with
// the latest date suffix wins.
func ParseSourceLinks(r io.Reader, base *url.URL) (map[int]string, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}
	found := make(map[int]string)
	stamps := make(map[int]time.Time)
	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		href = strings.TrimSpace(href)
		m := extractName.FindStringSubmatch(href)
		if m == nil {
			return
		}
		u, err := url.Parse(href)
		if err != nil {
			return
		}
		if base != nil {
			u = base.ResolveReference(u)
		}
		yy, _ := strconv.Atoi(m[1])
		year := 2000 + yy
		var stamp time.Time
		if m[2] != "" {
			stamp, _ = time.Parse("02-01-2006", m[2])
		}
		if _, ok := found[year]; ok && !stamp.After(stamps[year]) {
			return
		}
		found[year] = u.String()
		stamps[year] = stamp
	})
	return found, nil
}

// Merge returns base overlaid with extra.
func Merge(base, extra map[int]string) map[int]string {
	out := make(map[int]string, len(base)+len(extra))
	for y, u := range base {
		out[y] = u
	}
	for y, u := range extra {
		out[y] = u
	}
	return out
}
