package retrieval

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
)

const (
	documentsFile = "documents.json"
	modelFile     = "model.gob"
)

type model struct {
	Vectorizer *Vectorizer
	Matrix     []Vector
}

func ensureDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}
	return nil
}

// load reads the persisted documents and model. A missing directory state
// yields no documents; a missing model yields a nil model.
func load(dir string) ([]Document, *model, error) {
	raw, err := os.ReadFile(filepath.Join(dir, documentsFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("read documents: %w", err)
	}
	var docs []Document
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&docs); err != nil {
		return nil, nil, fmt.Errorf("decode documents: %w", err)
	}
	for n := range docs {
		for k, v := range docs[n].Metadata {
			docs[n].Metadata[k] = fromJSON(v)
		}
	}

	f, err := os.Open(filepath.Join(dir, modelFile))
	if errors.Is(err, fs.ErrNotExist) {
		return docs, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("open model: %w", err)
	}
	defer f.Close()
	var m model
	if err := gob.NewDecoder(f).Decode(&m); err != nil {
		return nil, nil, fmt.Errorf("decode model: %w", err)
	}
	if m.Vectorizer == nil {
		return docs, nil, nil
	}
	return docs, &m, nil
}

// fromJSON turns decoded JSON numbers back into int when they are integral
// and float64 otherwise, recursing into objects and arrays.
func fromJSON(v any) any {
	switch t := v.(type) {
	case json.Number:
		if n, err := strconv.ParseInt(string(t), 10, 0); err == nil {
			return int(n)
		}
		f, _ := t.Float64()
		return f
	case map[string]any:
		for k, e := range t {
			t[k] = fromJSON(e)
		}
		return t
	case []any:
		for n, e := range t {
			t[n] = fromJSON(e)
		}
		return t
	default:
		return v
	}
}

func save(dir string, docs []Document, m *model) error {
	raw, err := json.MarshalIndent(docs, "", "  ")
	if err != nil {
		return fmt.Errorf("encode documents: %w", err)
	}
	if err := writeFile(filepath.Join(dir, documentsFile), func(f *os.File) error {
		_, err := f.Write(raw)
		return err
	}); err != nil {
		return err
	}
	path := filepath.Join(dir, modelFile)
	if m == nil {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("remove model: %w", err)
		}
		return nil
	}
	return writeFile(path, func(f *os.File) error {
		return gob.NewEncoder(f).Encode(m)
	})
}

// writeFile writes through a temp file in the same directory and renames it.
func writeFile(path string, write func(*os.File) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create %s: %w", filepath.Base(path), err)
	}
	defer os.Remove(tmp.Name())
	if err := write(tmp); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename %s: %w", filepath.Base(path), err)
	}
	return nil
}
