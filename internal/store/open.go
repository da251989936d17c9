package store

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/freeeve/framestore/internal/frame"
)

// Backend names accepted by Config.Backend.
const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

// Config configures a store
type Config struct {
	Path           string
	Backend        string      // memory, file or sqlite; empty selects by Path
	TColumn        string      // time column name, default "frame"
	Compression    Compression // payload codec for new files, default zstd
	FlushThreshold int64       // flush the memtable past this many bytes, default 64MB
	CacheBytes     int64       // frame cache size, default 32MB (negative disables)
	CompactRatio   float64     // compact on Close above this dead/total ratio, default 0.5 (negative disables)
	SyncOnFlush    bool        // fsync after every flush
	Logger         zerolog.Logger
}

func (cfg *Config) applyDefaults() {
	if cfg.TColumn == "" {
		cfg.TColumn = frame.ColFrame
	}
	if cfg.Compression == CompressionDefault {
		cfg.Compression = CompressionZstd
	}
	if cfg.FlushThreshold == 0 {
		cfg.FlushThreshold = 64 * 1024 * 1024
	}
	if cfg.CacheBytes == 0 {
		cfg.CacheBytes = 32 * 1024 * 1024
	}
	if cfg.CompactRatio == 0 {
		cfg.CompactRatio = 0.5
	}
}

// BackendFor returns the backend a config resolves to.
func BackendFor(cfg Config) string {
	if cfg.Backend != "" {
		return strings.ToLower(cfg.Backend)
	}
	if cfg.Path == "" || cfg.Path == ":memory:" {
		return BackendMemory
	}
	switch strings.ToLower(filepath.Ext(cfg.Path)) {
	case ".db", ".sqlite", ".sqlite3":
		return BackendSQLite
	default:
		return BackendFile
	}
}

// Open opens the store described by cfg.
func Open(cfg Config) (FramewiseStore, error) {
	switch b := BackendFor(cfg); b {
	case BackendMemory:
		return NewMemStore(cfg.TColumn), nil
	case BackendFile:
		s, err := OpenFileStore(cfg)
		if err != nil {
			return nil, err
		}
		return s, nil
	case BackendSQLite:
		s, err := OpenSQLiteStore(cfg)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", b)
	}
}
