package corpus

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-shiori/go-readability"

	"github.com/japaniel/sragetl/pkg/retrieval"
)

// MaxPageSize limits the HTML body read by Fetch.
const MaxPageSize = 10 * 1024 * 1024

// DefaultChunkRunes is the chunk size used by Page.Inputs when none is given.
const DefaultChunkRunes = 1500

// ErrPageTooLarge is returned when a page body exceeds MaxPageSize.
var ErrPageTooLarge = errors.New("page exceeds maximum size")

// Page is the readable text of an HTML document.
type Page struct {
	URL      string
	Title    string
	Byline   string
	SiteName string
	Text     string
}

// FetchTimeout bounds a page download when Fetch gets no client.
const FetchTimeout = 30 * time.Second

// Fetch downloads rawURL and extracts its readable text. A nil client uses
// one limited to FetchTimeout.
func Fetch(ctx context.Context, client *http.Client, rawURL string) (*Page, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	if client == nil {
		client = &http.Client{Timeout: FetchTimeout}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", rawURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("get %s: status %d", rawURL, resp.StatusCode)
	}
	if resp.ContentLength > MaxPageSize {
		return nil, ErrPageTooLarge
	}
	// One byte past the limit tells a full page from a truncated one.
	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxPageSize+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", rawURL, err)
	}
	if len(body) > MaxPageSize {
		return nil, ErrPageTooLarge
	}
	return FromHTML(bytes.NewReader(body), u)
}

// FromHTML extracts the readable article of an HTML document.
func FromHTML(r io.Reader, pageURL *url.URL) (*Page, error) {
	article, err := readability.FromReader(r, pageURL)
	if err != nil {
		return nil, fmt.Errorf("extract article: %w", err)
	}
	p := &Page{
		Title:    strings.TrimSpace(article.Title),
		Byline:   article.Byline,
		SiteName: article.SiteName,
		Text:     strings.TrimSpace(article.TextContent),
	}
	if pageURL != nil {
		p.URL = pageURL.String()
	}
	return p, nil
}

// Inputs splits the page text into chunks of whole sentences of at most
// maxRunes runes each. A single longer sentence forms its own chunk.
func (p *Page) Inputs(maxRunes int) []retrieval.Input {
	if maxRunes <= 0 {
		maxRunes = DefaultChunkRunes
	}
	var chunks []string
	var current strings.Builder
	size := 0
	for _, s := range splitSentences(p.Text) {
		n := utf8.RuneCountInString(s)
		if size > 0 && size+1+n > maxRunes {
			chunks = append(chunks, current.String())
			current.Reset()
			size = 0
		}
		if size > 0 {
			current.WriteByte(' ')
			size++
		}
		current.WriteString(s)
		size += n
	}
	if size > 0 {
		chunks = append(chunks, current.String())
	}

	out := make([]retrieval.Input, 0, len(chunks))
	for i, c := range chunks {
		meta := map[string]any{"type": "web", "topic": "pagina", "chunk": i}
		if p.URL != "" {
			meta["url"] = p.URL
		}
		if p.Title != "" {
			meta["title"] = p.Title
		}
		if p.SiteName != "" {
			meta["source"] = p.SiteName
		}
		out = append(out, retrieval.Input{Content: c, Metadata: meta})
	}
	return out
}

// splitSentences cuts text after sentence punctuation and line breaks and
// drops blank pieces.
func splitSentences(text string) []string {
	var sentences []string
	var current strings.Builder
	flush := func() {
		if s := strings.TrimSpace(current.String()); s != "" {
			sentences = append(sentences, strings.Join(strings.Fields(s), " "))
		}
		current.Reset()
	}
	runes := []rune(text)
	for i, r := range runes {
		if r == '\n' {
			flush()
			continue
		}
		current.WriteRune(r)
		if r == '.' || r == '!' || r == '?' {
			// decimals such as 2.1 stay in one sentence
			if i+1 < len(runes) && runes[i+1] != ' ' && runes[i+1] != '\n' {
				continue
			}
			flush()
		}
	}
	flush()
	return sentences
}
