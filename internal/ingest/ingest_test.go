package ingest

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zstd"

	"github.com/freeeve/framestore/internal/frame"
	"github.com/freeeve/framestore/internal/store"
)

// featureCSV renders frames first..last with rows features each.
func featureCSV(t *testing.T, first, last, rows int, x0 float64) []byte {
	t.Helper()
	tbl := frame.NewTable(frame.FeatureColumns...)
	for f := first; f <= last; f++ {
		for i := 0; i < rows; i++ {
			if err := tbl.AppendRow(float64(i), x0+float64(i), 100, 2, 0.1, 10, 300, 0.05, float64(f)); err != nil {
				t.Fatalf("AppendRow: %v", err)
			}
		}
	}
	var buf bytes.Buffer
	if err := frame.WriteCSV(&buf, tbl); err != nil {
		t.Fatalf("WriteCSV: %v", err)
	}
	return buf.Bytes()
}

func writeZstd(t *testing.T, path string, data []byte) {
	t.Helper()
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		t.Fatal(err)
	}
	defer enc.Close()
	if err := os.WriteFile(path, enc.EncodeAll(data, nil), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestIngestFile(t *testing.T) {
	dir := t.TempDir()
	plain := filepath.Join(dir, "a.csv")
	if err := os.WriteFile(plain, featureCSV(t, 0, 4, 3, 0), 0o644); err != nil {
		t.Fatal(err)
	}
	packed := filepath.Join(dir, "b.csv.zst")
	writeZstd(t, packed, featureCSV(t, 5, 6, 2, 0))

	s := store.NewMemStore("")
	defer s.Close()

	res, err := IngestFile(context.Background(), plain, s)
	if err != nil {
		t.Fatalf("IngestFile(csv): %v", err)
	}
	if res.Frames != 5 || res.Rows != 15 {
		t.Errorf("csv result = %+v, want 5 frames, 15 rows", res)
	}
	res, err = IngestFile(context.Background(), packed, s)
	if err != nil {
		t.Fatalf("IngestFile(csv.zst): %v", err)
	}
	if res.Frames != 2 || res.Rows != 4 {
		t.Errorf("zst result = %+v, want 2 frames, 4 rows", res)
	}

	if m, _ := s.MaxFrame(); m != 6 {
		t.Errorf("MaxFrame = %d, want 6", m)
	}
	got, err := s.Get(2)
	if err != nil {
		t.Fatalf("Get(2): %v", err)
	}
	if got.Len() != 3 {
		t.Errorf("Get(2).Len() = %d, want 3", got.Len())
	}
}

func TestIngestFileErrors(t *testing.T) {
	dir := t.TempDir()
	s := store.NewMemStore("")
	defer s.Close()

	if _, err := IngestFile(context.Background(), filepath.Join(dir, "missing.csv"), s); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("missing file = %v, want ErrNotExist", err)
	}

	noFrame := filepath.Join(dir, "noframe.csv")
	os.WriteFile(noFrame, []byte("x,y\n1,2\n"), 0o644)
	if _, err := IngestFile(context.Background(), noFrame, s); !errors.Is(err, frame.ErrInvalidData) {
		t.Errorf("file without frame column = %v, want ErrInvalidData", err)
	}

	ok := filepath.Join(dir, "ok.csv")
	os.WriteFile(ok, featureCSV(t, 0, 3, 1, 0), 0o644)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := IngestFile(ctx, ok, s); !errors.Is(err, context.Canceled) {
		t.Errorf("cancelled ingest = %v, want context.Canceled", err)
	}
}

func TestWorkerProcessNewFiles(t *testing.T) {
	dir := t.TempDir()
	s := store.NewMemStore("")
	defer s.Close()

	w, err := NewWorker(Config{WatchDir: dir, Parallelism: 2}, s)
	if err != nil {
		t.Fatalf("NewWorker: %v", err)
	}

	// Both files carry frame 3; the later name wins.
	os.WriteFile(filepath.Join(dir, "01.csv"), featureCSV(t, 0, 3, 2, 0), 0o644)
	writeZstd(t, filepath.Join(dir, "02.csv.zst"), featureCSV(t, 3, 5, 2, 1000))
	os.WriteFile(filepath.Join(dir, "03.csv"), []byte("x,y\nnot,numbers\n"), 0o644)
	os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644)

	n, err := w.ProcessNewFiles(context.Background())
	if err != nil {
		t.Fatalf("ProcessNewFiles: %v", err)
	}
	if n != 2 {
		t.Errorf("processed = %d, want 2", n)
	}

	frames, _ := s.Frames()
	if len(frames) != 6 {
		t.Errorf("Frames = %v, want 0..5", frames)
	}
	got, err := s.Get(3)
	if err != nil {
		t.Fatalf("Get(3): %v", err)
	}
	if x := got.Value(0, frame.ColX); x != 1000 {
		t.Errorf("frame 3 x = %v, want 1000 from the later file", x)
	}

	for _, name := range []string{"01.csv", "02.csv.zst"} {
		if _, err := os.Stat(filepath.Join(dir, "processed", name)); err != nil {
			t.Errorf("%s not moved to processed: %v", name, err)
		}
	}
	if _, err := os.Stat(filepath.Join(dir, "failed", "03.csv")); err != nil {
		t.Errorf("03.csv not moved to failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "notes.txt")); err != nil {
		t.Errorf("unrelated file touched: %v", err)
	}

	// Nothing left to do.
	n, err = w.ProcessNewFiles(context.Background())
	if err != nil || n != 0 {
		t.Errorf("second ProcessNewFiles = %d, %v; want 0, nil", n, err)
	}
}

func TestNewWorkerDisabled(t *testing.T) {
	w, err := NewWorker(Config{}, store.NewMemStore(""))
	if err != nil || w != nil {
		t.Errorf("NewWorker(no dir) = %v, %v; want nil, nil", w, err)
	}
}

func TestIsFeatureFile(t *testing.T) {
	tests := map[string]bool{
		"a.csv":      true,
		"A.CSV":      true,
		"a.csv.zst":  true,
		"a.zst":      false,
		"a.json":     false,
		"csv":        false,
		"frames.tsv": false,
	}
	for name, want := range tests {
		if got := IsFeatureFile(name); got != want {
			t.Errorf("IsFeatureFile(%q) = %v, want %v", name, got, want)
		}
	}
}
