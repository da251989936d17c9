package ingest

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog"

	"github.com/freeeve/framestore/internal/frame"
	"github.com/freeeve/framestore/internal/store"
)

// Result summarises one ingested file.
type Result struct {
	Frames int
	Rows   int
}

// IsFeatureFile reports whether name is a feature CSV (.csv or .csv.zst).
func IsFeatureFile(name string) bool {
	name = strings.ToLower(name)
	return strings.HasSuffix(name, ".csv") || strings.HasSuffix(name, ".csv.zst")
}

type zstdReadCloser struct {
	*zstd.Decoder
	f *os.File
}

func (z zstdReadCloser) Close() error {
	z.Decoder.Close()
	return z.f.Close()
}

// OpenFeatureFile opens a feature CSV, decompressing .zst files.
func OpenFeatureFile(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	if !strings.HasSuffix(strings.ToLower(path), ".zst") {
		return f, nil
	}
	dec, err := zstd.NewReader(bufio.NewReader(f))
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("zstd reader: %w", err)
	}
	return zstdReadCloser{Decoder: dec, f: f}, nil
}

// ReadFeatureFile reads a whole feature CSV into one table.
func ReadFeatureFile(path string) (*frame.Table, error) {
	rc, err := OpenFeatureFile(path)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	t, err := frame.ReadCSV(rc)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return t, nil
}

// IngestFile reads a feature CSV, splits it by the store's time column and
// puts every frame. Frames already in the store are replaced. Cancelling ctx
// stops between frames; frames put so far stay in the store.
func IngestFile(ctx context.Context, path string, s store.FramewiseStore) (Result, error) {
	t, err := ReadFeatureFile(path)
	if err != nil {
		return Result{}, err
	}
	return putFrames(ctx, t, s, zerolog.Nop())
}

func putFrames(ctx context.Context, t *frame.Table, s store.FramewiseStore, log zerolog.Logger) (Result, error) {
	var res Result
	frames, err := t.SplitByFrame(s.TColumn())
	if err != nil {
		return res, err
	}
	start := time.Now()
	for _, ft := range frames {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if err := s.Put(ft); err != nil {
			return res, err
		}
		res.Frames++
		res.Rows += ft.Len()
	}
	log.Debug().
		Int("frames", res.Frames).
		Int("rows", res.Rows).
		Dur("elapsed", time.Since(start)).
		Msg("put frames")
	return res, nil
}
