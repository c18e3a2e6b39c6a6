package transform

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	xtransform "golang.org/x/text/transform"

	"github.com/japaniel/sragetl/pkg/logging"
)

// Strategy is one (encoding, delimiter) attempt at reading an extract.
type Strategy struct {
	Name   string
	Decode func(io.Reader) io.Reader
	Comma  rune
}

// Latin1 decodes ISO-8859-1 input. It never fails.
func Latin1(r io.Reader) io.Reader {
	return xtransform.NewReader(r, charmap.ISO8859_1.NewDecoder())
}

// UTF8 passes UTF-8 input through and fails on invalid sequences.
func UTF8(r io.Reader) io.Reader {
	return xtransform.NewReader(r, encoding.UTF8Validator)
}

// CP1252 decodes Windows-1252 input.
func CP1252(r io.Reader) io.Reader {
	return xtransform.NewReader(r, charmap.Windows1252.NewDecoder())
}

// DefaultStrategies is the canonical attempt order.
var DefaultStrategies = []Strategy{
	{Name: "latin-1;", Decode: Latin1, Comma: ';'},
	{Name: "utf-8;", Decode: UTF8, Comma: ';'},
	{Name: "cp1252;", Decode: CP1252, Comma: ';'},
	{Name: "latin-1,", Decode: Latin1, Comma: ','},
}

// RowSet is a parsed extract: a header and string cells.
type RowSet struct {
	Header   []string
	Rows     [][]string
	Strategy string
	// Skipped counts malformed lines (more fields than the header).
	Skipped int
}

// Index returns the position of a column in Header, or -1.
func (rs *RowSet) Index(col string) int {
	for i, h := range rs.Header {
		if h == col {
			return i
		}
	}
	return -1
}

// Len returns the number of rows.
func (rs *RowSet) Len() int { return len(rs.Rows) }

// ParseError is returned when every strategy failed.
type ParseError struct {
	Attempts []StrategyError
}

// StrategyError records why one strategy was rejected.
type StrategyError struct {
	Strategy string
	Err      error
}

func (e *ParseError) Error() string {
	parts := make([]string, len(e.Attempts))
	for i, a := range e.Attempts {
		parts[i] = fmt.Sprintf("%s: %v", a.Strategy, a.Err)
	}
	return "all parse strategies failed (" + strings.Join(parts, "; ") + ")"
}

func (e *ParseError) Unwrap() []error {
	errs := make([]error, len(e.Attempts))
	for i, a := range e.Attempts {
		errs[i] = a.Err
	}
	return errs
}

// Parser reads extracts with an ordered list of strategies; the first one that
// reads the whole input without error wins.
type Parser struct {
	Strategies []Strategy
	// Keep restricts the retained columns (in this order). nil keeps all.
	Keep   []string
	Logger *slog.Logger
}

// NewParser creates a parser with the default strategies keeping the essential columns.
func NewParser() *Parser {
	return &Parser{Strategies: DefaultStrategies, Keep: EssentialColumns}
}

// Parse reads an in-memory extract.
func (p *Parser) Parse(raw []byte) (*RowSet, error) {
	return p.ParseFrom(func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(raw)), nil
	})
}

// ParseFrom reads an extract through open, called once per strategy attempt.
func (p *Parser) ParseFrom(open func() (io.ReadCloser, error)) (*RowSet, error) {
	log := logging.OrDiscard(p.Logger)
	strategies := p.Strategies
	if strategies == nil {
		strategies = DefaultStrategies
	}

	perr := &ParseError{}
	for i, s := range strategies {
		rc, err := open()
		if err != nil {
			return nil, err
		}
		rs, err := ParseWith(rc, s, p.Keep)
		rc.Close()
		if err != nil {
			log.Warn("parse strategy failed", "attempt", i+1, "strategy", s.Name, "err", err)
			perr.Attempts = append(perr.Attempts, StrategyError{Strategy: s.Name, Err: err})
			continue
		}
		log.Info("parsed extract", "strategy", s.Name, "rows", rs.Len(), "columns", len(rs.Header), "skipped", rs.Skipped)
		return rs, nil
	}
	return nil, perr
}

var errEmptyHeader = errors.New("empty header")

// ParseWith reads r with a single strategy.
func ParseWith(r io.Reader, s Strategy, keep []string) (*RowSet, error) {
	decoded := r
	if s.Decode != nil {
		decoded = s.Decode(r)
	}
	cr := csv.NewReader(decoded)
	cr.Comma = s.Comma
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, errEmptyHeader
	}
	if err != nil {
		return nil, err
	}
	full := make([]string, len(header))
	nonEmpty := false
	for i, h := range header {
		h = strings.TrimSpace(h)
		if i == 0 {
			h = strings.TrimPrefix(strings.TrimPrefix(h, "\ufeff"), "\u00ef\u00bb\u00bf")
		}
		full[i] = h
		if h != "" {
			nonEmpty = true
		}
	}
	if !nonEmpty {
		return nil, errEmptyHeader
	}

	// Column projection: positions in the source for each retained column.
	var idxs []int
	var kept []string
	if keep == nil {
		kept = full
		idxs = make([]int, len(full))
		for i := range full {
			idxs[i] = i
		}
	} else {
		pos := make(map[string]int, len(full))
		for i, h := range full {
			if _, dup := pos[h]; !dup {
				pos[h] = i
			}
		}
		for _, k := range keep {
			if i, ok := pos[k]; ok {
				kept = append(kept, k)
				idxs = append(idxs, i)
			}
		}
	}

	rs := &RowSet{Header: kept, Strategy: s.Name}
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if len(rec) > len(full) {
			rs.Skipped++
			continue
		}
		row := make([]string, len(idxs))
		for j, i := range idxs {
			if i < len(rec) {
				row[j] = strings.Clone(rec[i])
			}
		}
		rs.Rows = append(rs.Rows, row)
	}
	return rs, nil
}
