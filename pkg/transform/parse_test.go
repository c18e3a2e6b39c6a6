package transform

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"testing/iotest"
)

func failing(io.Reader) io.Reader { return iotest.ErrReader(errors.New("decoder exploded")) }

func TestParseLatin1Semicolon(t *testing.T) {
	raw := []byte("DT_NOTIFIC;SG_UF;ID_MUNICIP\n15/01/2024;SP;S\xe3o Paulo\n")
	p := &Parser{}
	rs, err := p.Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if rs.Strategy != "latin-1;" {
		t.Fatalf("expected latin-1; strategy, got %q", rs.Strategy)
	}
	if rs.Len() != 1 {
		t.Fatalf("expected 1 row, got %d", rs.Len())
	}
	if got := rs.Rows[0][rs.Index("ID_MUNICIP")]; got != "São Paulo" {
		t.Fatalf("expected decoded municipality, got %q", got)
	}
}

func TestParseFallsBackWhenUTF8Invalid(t *testing.T) {
	raw := []byte("A;B\n1;caf\xe9\n")
	p := &Parser{Strategies: []Strategy{
		{Name: "utf-8;", Decode: UTF8, Comma: ';'},
		{Name: "cp1252;", Decode: CP1252, Comma: ';'},
	}}
	rs, err := p.Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if rs.Strategy != "cp1252;" {
		t.Fatalf("expected fallback to cp1252;, got %q", rs.Strategy)
	}
	if rs.Rows[0][1] != "café" {
		t.Fatalf("unexpected cell %q", rs.Rows[0][1])
	}
}

func TestFallbackYieldsSameRowsAsDirectStrategy(t *testing.T) {
	raw := []byte("DT_NOTIFIC;SG_UF;CS_SEXO\n15/01/2024;SP;1\n16/01/2024;RJ;2\n")
	direct, err := (&Parser{Strategies: []Strategy{DefaultStrategies[1]}}).Parse(raw)
	if err != nil {
		t.Fatalf("direct parse: %v", err)
	}
	fallback, err := (&Parser{Strategies: []Strategy{
		{Name: "broken", Decode: failing, Comma: ';'},
		DefaultStrategies[1],
	}}).Parse(raw)
	if err != nil {
		t.Fatalf("fallback parse: %v", err)
	}
	if !reflect.DeepEqual(direct.Header, fallback.Header) || !reflect.DeepEqual(direct.Rows, fallback.Rows) {
		t.Fatalf("fallback result differs:\n%v\n%v", direct.Rows, fallback.Rows)
	}
}

func TestParseAllStrategiesFail(t *testing.T) {
	p := &Parser{Strategies: []Strategy{
		{Name: "a", Decode: failing, Comma: ';'},
		{Name: "b", Decode: failing, Comma: ','},
	}}
	_, err := p.Parse([]byte("x;y\n1;2\n"))
	var perr *ParseError
	if !errors.As(err, &perr) {
		t.Fatalf("expected ParseError, got %v", err)
	}
	if len(perr.Attempts) != 2 || perr.Attempts[0].Strategy != "a" || perr.Attempts[1].Strategy != "b" {
		t.Fatalf("unexpected attempts: %+v", perr.Attempts)
	}
}

func TestParseEmptyInputFails(t *testing.T) {
	_, err := NewParser().Parse(nil)
	var perr *ParseError
	if !errors.As(err, &perr) {
		t.Fatalf("expected ParseError, got %v", err)
	}
	if !errors.Is(err, errEmptyHeader) {
		t.Fatalf("expected empty header cause, got %v", err)
	}
}

func TestParseSkipsLongRowsAndPadsShortOnes(t *testing.T) {
	raw := []byte("A;B;C\n1;2;3\n1;2;3;4\n5\n")
	rs, err := (&Parser{}).Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if rs.Skipped != 1 {
		t.Fatalf("expected 1 skipped row, got %d", rs.Skipped)
	}
	want := [][]string{{"1", "2", "3"}, {"5", "", ""}}
	if !reflect.DeepEqual(rs.Rows, want) {
		t.Fatalf("unexpected rows %v", rs.Rows)
	}
}

func TestParseKeepProjectsColumns(t *testing.T) {
	raw := []byte("\xef\xbb\xbfSG_UF;EXTRA;DT_NOTIFIC\nSP;x;15/01/2024\n")
	p := &Parser{Strategies: []Strategy{DefaultStrategies[1]}, Keep: []string{"DT_NOTIFIC", "SG_UF", "MISSING"}}
	rs, err := p.Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !reflect.DeepEqual(rs.Header, []string{"DT_NOTIFIC", "SG_UF"}) {
		t.Fatalf("unexpected header %v", rs.Header)
	}
	if !reflect.DeepEqual(rs.Rows[0], []string{"15/01/2024", "SP"}) {
		t.Fatalf("unexpected row %v", rs.Rows[0])
	}
}

func TestParseFromReopensPerStrategy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "INFLUD2024.csv")
	if err := os.WriteFile(path, []byte("DT_NOTIFIC,SG_UF\n15/01/2024,SP\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	opens := 0
	open := func() (io.ReadCloser, error) {
		opens++
		return os.Open(path)
	}
	p := &Parser{Strategies: []Strategy{
		{Name: "broken", Decode: failing, Comma: ';'},
		DefaultStrategies[3],
	}}
	rs, err := p.ParseFrom(open)
	if err != nil {
		t.Fatalf("ParseFrom: %v", err)
	}
	if opens != 2 {
		t.Fatalf("expected one open per strategy, got %d", opens)
	}
	if rs.Strategy != DefaultStrategies[3].Name || rs.Index("SG_UF") != 1 || rs.Rows[0][1] != "SP" {
		t.Fatalf("unexpected result %+v", rs)
	}
}

func TestParseFromOpenError(t *testing.T) {
	p := NewParser()
	_, err := p.ParseFrom(func() (io.ReadCloser, error) {
		return os.Open(filepath.Join(t.TempDir(), "missing.csv"))
	})
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
}
