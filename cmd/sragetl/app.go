package main

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strconv"

	"github.com/japaniel/sragetl/pkg/assistant"
	"github.com/japaniel/sragetl/pkg/config"
	"github.com/japaniel/sragetl/pkg/corpus"
	"github.com/japaniel/sragetl/pkg/db"
	"github.com/japaniel/sragetl/pkg/etl"
	"github.com/japaniel/sragetl/pkg/extract"
	"github.com/japaniel/sragetl/pkg/llm"
	"github.com/japaniel/sragetl/pkg/logging"
	"github.com/japaniel/sragetl/pkg/retrieval"
)

// app carries the flags and configuration shared by all commands.
type app struct {
	cfgPath  string
	dbPath   string
	logLevel string

	cfg    *config.Config
	logger *slog.Logger
}

func (a *app) init() error {
	cfg, err := config.Load(a.cfgPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if a.dbPath != "" {
		cfg.Database.Path = a.dbPath
	}
	level := cfg.LogLevel()
	if a.logLevel != "" {
		level = a.logLevel
	}
	a.cfg = cfg
	a.logger = logging.New(level)
	return nil
}

func (a *app) openDB() (*sql.DB, error) {
	return db.Open(a.cfg.Database.Path)
}

func (a *app) newPipeline(conn *sql.DB) *etl.Pipeline {
	p := etl.New(conn, a.cfg.ETL.CacheDir, a.logger)
	p.KeepCache = a.cfg.ETL.KeepCache
	p.Extractor.CacheTTL = a.cfg.ETL.CacheTTL
	p.Extractor.Sources = extract.Merge(extract.DefaultSources, a.cfg.ETL.Sources)
	if a.cfg.ETL.Workers > 0 {
		p.Transformer.Workers = a.cfg.ETL.Workers
	}
	p.Transformer.ChunkSize = a.cfg.ETL.ChunkSize
	p.Loader.BatchSize = a.cfg.ETL.BatchSize
	return p
}

// openIndex opens the persisted index and, when seed is set, seeds it if empty.
func (a *app) openIndex(seed bool) (*retrieval.Index, error) {
	idx, err := retrieval.Open(a.cfg.Retrieval.Dir, a.logger)
	if err != nil {
		return nil, err
	}
	idx.RefitEvery = a.cfg.Retrieval.RefitEvery
	if seed {
		if n, err := corpus.Seed(idx); err != nil {
			return nil, fmt.Errorf("seeding index: %w", err)
		} else if n > 0 {
			a.logger.Info("seeded index", "documents", n)
		}
	}
	return idx, nil
}

func (a *app) newAssistant(idx *retrieval.Index) *assistant.Assistant {
	var completer assistant.Completer
	if a.cfg.ChatEnabled() {
		completer = llm.NewClient(a.cfg.Chat, a.logger)
	}
	as := assistant.New(idx, completer, a.logger)
	as.TopK = a.cfg.Retrieval.TopK
	return as
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseYear(s string) (int, error) {
	y, err := strconv.Atoi(s)
	if err != nil || y < 1900 || y > 2100 {
		return 0, fmt.Errorf("invalid year %q", s)
	}
	return y, nil
}

func parseYears(args []string) ([]int, error) {
	years := make([]int, 0, len(args))
	for _, s := range args {
		y, err := parseYear(s)
		if err != nil {
			return nil, err
		}
		years = append(years, y)
	}
	return years, nil
}
