package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/freeeve/framestore/internal/frame"
	"github.com/freeeve/framestore/internal/store"
)

// Config configures the ingest worker.
type Config struct {
	WatchDir     string         // Directory to watch for feature files
	ProcessedDir string         // Directory to move ingested files to
	FailedDir    string         // Directory to move unreadable files to
	PollInterval time.Duration  // How often to check for new files
	Parallelism  int            // Files parsed concurrently (default GOMAXPROCS)
	Logger       zerolog.Logger // Logger
}

// compacter is implemented by stores that can reclaim superseded records.
type compacter interface {
	Compact() error
}

// Worker watches a folder and ingests feature files.
type Worker struct {
	cfg Config
	s   store.FramewiseStore
	log zerolog.Logger
}

// NewWorker creates a new ingest worker. It returns nil when cfg.WatchDir is
// empty.
func NewWorker(cfg Config, s store.FramewiseStore) (*Worker, error) {
	if cfg.WatchDir == "" {
		return nil, nil // Disabled
	}
	if cfg.ProcessedDir == "" {
		cfg.ProcessedDir = filepath.Join(cfg.WatchDir, "processed")
	}
	if cfg.FailedDir == "" {
		cfg.FailedDir = filepath.Join(cfg.WatchDir, "failed")
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 10 * time.Second
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = runtime.GOMAXPROCS(0)
	}

	// Ensure directories exist
	for _, dir := range []string{cfg.WatchDir, cfg.ProcessedDir, cfg.FailedDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	return &Worker{
		cfg: cfg,
		s:   s,
		log: cfg.Logger.With().Str("component", "ingest").Logger(),
	}, nil
}

// Run polls the watch directory until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info().
		Str("watch_dir", w.cfg.WatchDir).
		Str("processed_dir", w.cfg.ProcessedDir).
		Dur("poll_interval", w.cfg.PollInterval).
		Msg("ingest worker started")

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := w.ProcessNewFiles(ctx); err != nil && !errors.Is(err, context.Canceled) {
				w.log.Warn().Err(err).Msg("process files failed")
			}
		}
	}
}

type parsedFile struct {
	name  string
	table *frame.Table
	err   error
}

// ProcessNewFiles ingests all feature files in the watch directory. Files
// are parsed in parallel and put in name order, so a later file wins when
// two files carry the same frame. It returns the number of files ingested.
func (w *Worker) ProcessNewFiles(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	entries, err := os.ReadDir(w.cfg.WatchDir)
	if err != nil {
		return 0, err
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && IsFeatureFile(e.Name()) {
			files = append(files, e.Name())
		}
	}
	if len(files) == 0 {
		return 0, nil
	}

	// Sort by name to process in order
	sort.Strings(files)
	w.log.Info().Int("files", len(files)).Int("parallelism", w.cfg.Parallelism).Msg("found feature files")

	parsed := make([]parsedFile, len(files))
	var g errgroup.Group
	g.SetLimit(w.cfg.Parallelism)
	for i, name := range files {
		g.Go(func() error {
			if ctx.Err() != nil {
				parsed[i] = parsedFile{name: name, err: ctx.Err()}
				return nil
			}
			t, err := ReadFeatureFile(filepath.Join(w.cfg.WatchDir, name))
			parsed[i] = parsedFile{name: name, table: t, err: err}
			return nil
		})
	}
	g.Wait()

	var processed, failed int
	for _, p := range parsed {
		if err := ctx.Err(); err != nil {
			return processed, err
		}
		if p.err == nil {
			var res Result
			res, p.err = putFrames(ctx, p.table, w.s, w.log)
			if p.err == nil {
				w.log.Info().Str("file", p.name).Int("frames", res.Frames).Int("rows", res.Rows).Msg("ingested file")
			}
		}
		if errors.Is(p.err, context.Canceled) {
			return processed, p.err
		}

		dest := w.cfg.ProcessedDir
		if p.err != nil {
			w.log.Error().Err(p.err).Str("file", p.name).Msg("ingest failed")
			dest = w.cfg.FailedDir
			failed++
		} else {
			processed++
		}
		if err := os.Rename(filepath.Join(w.cfg.WatchDir, p.name), filepath.Join(dest, p.name)); err != nil {
			w.log.Warn().Err(err).Str("file", p.name).Msg("move file failed")
		}
	}

	// Flush after processing all files in this batch
	w.log.Info().Int("processed", processed).Int("failed", failed).Msg("batch complete, flushing")
	if err := w.s.Flush(); err != nil {
		return processed, err
	}
	if c, ok := w.s.(compacter); ok && processed > 0 {
		if err := c.Compact(); err != nil {
			w.log.Error().Err(err).Msg("compaction failed")
		}
	}
	return processed, nil
}
