package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	configPathEnv = "SRAG_CONFIG"
	dbPathEnv     = "SRAG_DB"
	cacheDirEnv   = "SRAG_CACHE_DIR"
	indexDirEnv   = "SRAG_INDEX_DIR"
	logLevelEnv   = "LOG_LEVEL"
	apiKeyEnv     = "OPENAI_API_KEY"
	chatModelEnv  = "CHAT_MODEL"
	chatURLEnv    = "CHAT_ENDPOINT"
	maxRetriesEnv = "MAX_RETRIES"
	debugEnv      = "DEBUG"
)

// Config is the root configuration of the sragetl binary.
type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	ETL       ETLConfig       `yaml:"etl"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Chat      ChatConfig      `yaml:"chat"`
	Log       LogConfig       `yaml:"log"`
}

// DatabaseConfig locates the SQLite file.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// ETLConfig tunes extraction and loading.
type ETLConfig struct {
	CacheDir string `yaml:"cache_dir"`
	// CacheTTL is the maximum age of a cached extract; 0 disables the check.
	CacheTTL  time.Duration `yaml:"cache_ttl"`
	KeepCache bool          `yaml:"keep_cache"`
	Workers   int           `yaml:"workers"`
	ChunkSize int           `yaml:"chunk_size"`
	BatchSize int           `yaml:"batch_size"`
	Years     []int         `yaml:"years"`
	// Sources overrides or extends the built-in year to URL table.
	Sources map[int]string `yaml:"sources,omitempty"`
}

// RetrievalConfig configures the document index.
type RetrievalConfig struct {
	Dir        string `yaml:"dir"`
	RefitEvery int    `yaml:"refit_every"`
	TopK       int    `yaml:"top_k"`
	Seed       bool   `yaml:"seed"`
}

// ChatConfig defines how to reach an OpenAI-compatible chat completion API.
type ChatConfig struct {
	Endpoint     string `yaml:"endpoint"`
	Model        string `yaml:"model"`
	APIKey       string `yaml:"api_key"`
	MaxRetries   int    `yaml:"max_retries"`
	TimeoutSecs  int    `yaml:"timeout_secs"`
	SystemPrompt string `yaml:"system_prompt"`
}

// LogConfig sets the log level. Debug forces "debug".
type LogConfig struct {
	Level string `yaml:"level"`
	Debug bool   `yaml:"debug"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{Path: "datasus_srag.db"},
		ETL: ETLConfig{
			CacheDir:  filepath.Join("data", "cache"),
			CacheTTL:  24 * time.Hour,
			ChunkSize: 5000,
			BatchSize: 500,
			Years:     []int{2019, 2020, 2021, 2022, 2023, 2024, 2025},
		},
		Retrieval: RetrievalConfig{Dir: filepath.Join("data", "simple_rag"), RefitEvery: 1, TopK: 3, Seed: true},
		Chat: ChatConfig{
			Endpoint:    "https://api.openai.com/v1/chat/completions",
			Model:       "gpt-4o-mini",
			MaxRetries:  3,
			TimeoutSecs: 30,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads .env, then the YAML file at path (or $SRAG_CONFIG, or
// ./config.yaml) over the defaults, then applies environment overrides.
// A missing file means defaults unless path was given explicitly.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	explicit := path != ""
	if !explicit {
		path = os.Getenv(configPathEnv)
		explicit = path != ""
	}
	if path == "" {
		path = "config.yaml"
	}

	cfg := Default()
	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return cfg, nil
}

// Save writes cfg as YAML, creating parent directories.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// LogLevel returns the effective log level name.
func (c *Config) LogLevel() string {
	if c.Log.Debug {
		return "debug"
	}
	return c.Log.Level
}

// ChatEnabled reports whether an API key is configured.
func (c *Config) ChatEnabled() bool { return c.Chat.APIKey != "" }

func (c *Config) applyEnvOverrides() error {
	if v := os.Getenv(dbPathEnv); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv(cacheDirEnv); v != "" {
		c.ETL.CacheDir = v
	}
	if v := os.Getenv(indexDirEnv); v != "" {
		c.Retrieval.Dir = v
	}
	if v := os.Getenv(logLevelEnv); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv(apiKeyEnv); v != "" {
		c.Chat.APIKey = v
	}
	if v := os.Getenv(chatModelEnv); v != "" {
		c.Chat.Model = v
	}
	if v := os.Getenv(chatURLEnv); v != "" {
		c.Chat.Endpoint = v
	}
	if v := os.Getenv(maxRetriesEnv); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return fmt.Errorf("%s: invalid value %q", maxRetriesEnv, v)
		}
		c.Chat.MaxRetries = n
	}
	if v := os.Getenv(debugEnv); v != "" {
		c.Log.Debug = strings.EqualFold(v, "true") || v == "1"
	}
	return nil
}

func (c *Config) applyDefaults() {
	d := Default()
	if c.Database.Path == "" {
		c.Database.Path = d.Database.Path
	}
	if c.ETL.CacheDir == "" {
		c.ETL.CacheDir = d.ETL.CacheDir
	}
	if c.ETL.ChunkSize <= 0 {
		c.ETL.ChunkSize = d.ETL.ChunkSize
	}
	if c.ETL.BatchSize <= 0 {
		c.ETL.BatchSize = d.ETL.BatchSize
	}
	if len(c.ETL.Years) == 0 {
		c.ETL.Years = d.ETL.Years
	}
	if c.Retrieval.RefitEvery <= 0 {
		c.Retrieval.RefitEvery = 1
	}
	if c.Retrieval.TopK <= 0 {
		c.Retrieval.TopK = d.Retrieval.TopK
	}
	if c.Chat.Endpoint == "" {
		c.Chat.Endpoint = d.Chat.Endpoint
	}
	if c.Chat.Model == "" {
		c.Chat.Model = d.Chat.Model
	}
	if c.Chat.TimeoutSecs <= 0 {
		c.Chat.TimeoutSecs = d.Chat.TimeoutSecs
	}
	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
}
