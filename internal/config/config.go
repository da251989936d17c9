// Package config loads framestore settings from YAML with FRAMESTORE_*
// environment overrides.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/freeeve/framestore/internal/archive"
	"github.com/freeeve/framestore/internal/link"
	"github.com/freeeve/framestore/internal/spatial"
	"github.com/freeeve/framestore/internal/store"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "FRAMESTORE_"

// Config is the root configuration.
type Config struct {
	Store   StoreConfig   `yaml:"store"`
	Link    LinkConfig    `yaml:"link"`
	Ingest  IngestConfig  `yaml:"ingest"`
	HTTP    HTTPConfig    `yaml:"http"`
	Log     LogConfig     `yaml:"log"`
	Archive ArchiveConfig `yaml:"archive"`
}

type StoreConfig struct {
	Path           string        `yaml:"path"`
	Backend        string        `yaml:"backend"`
	TColumn        string        `yaml:"tcolumn"`
	Compression    string        `yaml:"compression"`
	FlushThreshold int64         `yaml:"flush_threshold"`
	CacheBytes     int64         `yaml:"cache_bytes"`
	CompactRatio   float64       `yaml:"compact_ratio"`
	SyncOnFlush    bool          `yaml:"sync_on_flush"`
	FlushInterval  time.Duration `yaml:"flush_interval"`
}

type LinkConfig struct {
	SearchRange float64  `yaml:"search_range"`
	Memory      int      `yaml:"memory"`
	Strategy    string   `yaml:"strategy"`
	PosColumns  []string `yaml:"pos_columns"`
	Predictor   string   `yaml:"predictor"`
}

type IngestConfig struct {
	WatchDir     string        `yaml:"watch_dir"`
	PollInterval time.Duration `yaml:"poll_interval"`
	Parallelism  int           `yaml:"parallelism"`
}

type HTTPConfig struct {
	Addr        string   `yaml:"addr"`
	RateLimit   float64  `yaml:"rate_limit"` // requests per second, 0 disables
	Burst       int      `yaml:"burst"`
	CORSOrigins []string `yaml:"cors_origins"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// ArchiveConfig addresses the S3-compatible bucket used by backup/restore.
type ArchiveConfig struct {
	Endpoint  string `yaml:"endpoint"`
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Secure    bool   `yaml:"secure"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Store: StoreConfig{
			Compression: "zstd",
		},
		Link: LinkConfig{
			Strategy:  "kdtree",
			Predictor: "none",
		},
		Ingest: IngestConfig{
			PollInterval: 10 * time.Second,
		},
		HTTP: HTTPConfig{
			Addr:      ":8080",
			RateLimit: 100,
			Burst:     200,
		},
		Log: LogConfig{
			Level: "info",
		},
		Archive: ArchiveConfig{
			Secure: true,
		},
	}
}

// Load reads the YAML file at path over the defaults, then applies
// environment overrides. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		expanded, err := homedir.Expand(path)
		if err != nil {
			return cfg, fmt.Errorf("config path: %w", err)
		}
		data, err := os.ReadFile(expanded)
		if err != nil {
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		// Strict field validation catches typos like "serach_range".
		decoder := yaml.NewDecoder(bytes.NewReader(data))
		decoder.KnownFields(true)
		if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return cfg, fmt.Errorf("failed to parse YAML: %w", err)
		}
	}
	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return cfg, err
	}
	if err := cfg.expandPaths(); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func (c *Config) expandPaths() error {
	for _, p := range []*string{&c.Store.Path, &c.Ingest.WatchDir} {
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return fmt.Errorf("expand %q: %w", *p, err)
		}
		*p = expanded
	}
	return nil
}

type envVar struct {
	name string
	set  func(c *Config, v string) error
}

var envVars = []envVar{
	{"STORE_PATH", func(c *Config, v string) error { c.Store.Path = v; return nil }},
	{"STORE_BACKEND", func(c *Config, v string) error { c.Store.Backend = v; return nil }},
	{"STORE_COMPRESSION", func(c *Config, v string) error { c.Store.Compression = v; return nil }},
	{"LINK_SEARCH_RANGE", func(c *Config, v string) (err error) {
		c.Link.SearchRange, err = strconv.ParseFloat(v, 64)
		return err
	}},
	{"LINK_MEMORY", func(c *Config, v string) (err error) {
		c.Link.Memory, err = strconv.Atoi(v)
		return err
	}},
	{"INGEST_WATCH_DIR", func(c *Config, v string) error { c.Ingest.WatchDir = v; return nil }},
	{"HTTP_ADDR", func(c *Config, v string) error { c.HTTP.Addr = v; return nil }},
	{"LOG_LEVEL", func(c *Config, v string) error { c.Log.Level = v; return nil }},
	{"LOG_JSON", func(c *Config, v string) (err error) {
		c.Log.JSON, err = strconv.ParseBool(v)
		return err
	}},
	{"ARCHIVE_ENDPOINT", func(c *Config, v string) error { c.Archive.Endpoint = v; return nil }},
	{"ARCHIVE_BUCKET", func(c *Config, v string) error { c.Archive.Bucket = v; return nil }},
	{"ARCHIVE_ACCESS_KEY", func(c *Config, v string) error { c.Archive.AccessKey = v; return nil }},
	{"ARCHIVE_SECRET_KEY", func(c *Config, v string) error { c.Archive.SecretKey = v; return nil }},
}

func applyEnv(c *Config, lookup func(string) (string, bool)) error {
	for _, ev := range envVars {
		v, ok := lookup(EnvPrefix + ev.name)
		if !ok {
			continue
		}
		if err := ev.set(c, v); err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, ev.name, err)
		}
	}
	return nil
}

// Validate checks value ranges and names.
func (c *Config) Validate() error {
	switch store.BackendFor(store.Config{Path: c.Store.Path, Backend: c.Store.Backend}) {
	case store.BackendMemory, store.BackendFile, store.BackendSQLite:
	default:
		return fmt.Errorf("store.backend: unknown backend %q", c.Store.Backend)
	}
	if _, err := store.ParseCompression(c.Store.Compression); err != nil {
		return fmt.Errorf("store.compression: %w", err)
	}
	if _, err := spatial.ParseStrategy(c.Link.Strategy); err != nil {
		return fmt.Errorf("link.strategy: %w", err)
	}
	if _, err := link.ParsePredictor(c.Link.Predictor); err != nil {
		return fmt.Errorf("link.predictor: %w", err)
	}
	if c.Link.SearchRange < 0 {
		return fmt.Errorf("link.search_range must be >= 0")
	}
	if c.Link.Memory < 0 {
		return fmt.Errorf("link.memory must be >= 0")
	}
	if c.HTTP.RateLimit < 0 {
		return fmt.Errorf("http.rate_limit must be >= 0")
	}
	return nil
}

// StoreOptions converts the store section for store.Open.
func (c *Config) StoreOptions(log zerolog.Logger) store.Config {
	comp, _ := store.ParseCompression(c.Store.Compression)
	return store.Config{
		Path:           c.Store.Path,
		Backend:        c.Store.Backend,
		TColumn:        c.Store.TColumn,
		Compression:    comp,
		FlushThreshold: c.Store.FlushThreshold,
		CacheBytes:     c.Store.CacheBytes,
		CompactRatio:   c.Store.CompactRatio,
		SyncOnFlush:    c.Store.SyncOnFlush,
		Logger:         log,
	}
}

// LinkerOptions converts the link section for link.New. The time column
// follows the store's.
func (c *Config) LinkerOptions(log zerolog.Logger) link.Config {
	strategy, _ := spatial.ParseStrategy(c.Link.Strategy)
	predictor, _ := link.ParsePredictor(c.Link.Predictor)
	return link.Config{
		SearchRange: c.Link.SearchRange,
		Memory:      c.Link.Memory,
		Strategy:    strategy,
		PosColumns:  c.Link.PosColumns,
		TColumn:     c.Store.TColumn,
		Predictor:   predictor,
		Logger:      log,
	}
}

// ArchiveOptions converts the archive section for archive.Dial.
func (c *Config) ArchiveOptions() archive.Config {
	return archive.Config{
		Endpoint:  c.Archive.Endpoint,
		Bucket:    c.Archive.Bucket,
		Prefix:    c.Archive.Prefix,
		AccessKey: c.Archive.AccessKey,
		SecretKey: c.Archive.SecretKey,
		Secure:    c.Archive.Secure,
	}
}
