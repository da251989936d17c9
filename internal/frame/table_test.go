package frame

import (
	"bytes"
	"errors"
	"math"
	"strings"
	"testing"
)

func featureTable(t *testing.T, frameIdx int, n int) *Table {
	t.Helper()
	tbl := NewTable(FeatureColumns...)
	for i := 0; i < n; i++ {
		// y, x, mass, size, ecc, signal, raw_mass, ep, frame
		if err := tbl.AppendRow(float64(i)*10, float64(i)*5, 100+float64(i), 2.5, 0.1, 12, 400, 0.05, float64(frameIdx)); err != nil {
			t.Fatalf("AppendRow: %v", err)
		}
	}
	return tbl
}

func TestAppendRowArity(t *testing.T) {
	tbl := NewTable(ColX, ColY)
	err := tbl.AppendRow(1, 2, 3)
	if !errors.Is(err, ErrInvalidData) {
		t.Fatalf("AppendRow with 3 values = %v, want ErrInvalidData", err)
	}
	if tbl.Len() != 0 {
		t.Errorf("Len = %d, want 0", tbl.Len())
	}
}

func TestFrameIndex(t *testing.T) {
	tbl := featureTable(t, 7, 3)
	f, err := tbl.FrameIndex(ColFrame)
	if err != nil {
		t.Fatalf("FrameIndex: %v", err)
	}
	if f != 7 {
		t.Errorf("FrameIndex = %d, want 7", f)
	}

	mixed := tbl.Clone()
	_ = mixed.AppendRow(1, 1, 1, 1, 1, 1, 1, 1, 8)
	if _, err := mixed.FrameIndex(ColFrame); !errors.Is(err, ErrInvalidData) {
		t.Errorf("FrameIndex on mixed table = %v, want ErrInvalidData", err)
	}

	if _, err := NewTable(ColX).FrameIndex(ColFrame); !errors.Is(err, ErrInvalidData) {
		t.Errorf("FrameIndex without frame column = %v, want ErrInvalidData", err)
	}

	frac := NewTable(ColX, ColFrame)
	_ = frac.AppendRow(1, 2.5)
	if _, err := frac.FrameIndex(ColFrame); !errors.Is(err, ErrInvalidData) {
		t.Errorf("FrameIndex on fractional frame = %v, want ErrInvalidData", err)
	}
}

func TestWithColumn(t *testing.T) {
	tbl := featureTable(t, 0, 3)
	out, err := tbl.WithColumn(ColParticle, []float64{0, 1, 2})
	if err != nil {
		t.Fatalf("WithColumn: %v", err)
	}
	if tbl.HasColumn(ColParticle) {
		t.Error("WithColumn modified the receiver")
	}
	if got := out.Value(2, ColParticle); got != 2 {
		t.Errorf("particle[2] = %v, want 2", got)
	}

	// Replacing keeps column order.
	again, err := out.WithColumn(ColParticle, []float64{5, 6, 7})
	if err != nil {
		t.Fatalf("WithColumn replace: %v", err)
	}
	if len(again.Columns()) != len(out.Columns()) {
		t.Errorf("replace changed column count: %d vs %d", len(again.Columns()), len(out.Columns()))
	}
	if got := again.Value(0, ColParticle); got != 5 {
		t.Errorf("particle[0] = %v, want 5", got)
	}

	if _, err := tbl.WithColumn(ColParticle, []float64{1}); !errors.Is(err, ErrInvalidData) {
		t.Errorf("WithColumn with short values = %v, want ErrInvalidData", err)
	}
}

func TestConcatUnionColumns(t *testing.T) {
	a := NewTable(ColX, ColFrame)
	_ = a.AppendRow(1, 0)
	b := NewTable(ColX, ColParticle, ColFrame)
	_ = b.AppendRow(2, 9, 1)

	out := Concat(a, b)
	want := []string{ColX, ColFrame, ColParticle}
	got := out.Columns()
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("Columns = %v, want %v", got, want)
	}
	if out.Len() != 2 {
		t.Fatalf("Len = %d, want 2", out.Len())
	}
	if !math.IsNaN(out.Value(0, ColParticle)) {
		t.Errorf("particle[0] = %v, want NaN", out.Value(0, ColParticle))
	}
	if out.Value(1, ColParticle) != 9 {
		t.Errorf("particle[1] = %v, want 9", out.Value(1, ColParticle))
	}
}

func TestSplitByFrame(t *testing.T) {
	all := Concat(featureTable(t, 3, 2), featureTable(t, 1, 4), featureTable(t, 2, 1))
	parts, err := all.SplitByFrame(ColFrame)
	if err != nil {
		t.Fatalf("SplitByFrame: %v", err)
	}
	if len(parts) != 3 {
		t.Fatalf("got %d parts, want 3", len(parts))
	}
	wantLens := []int{4, 1, 2}
	for i, p := range parts {
		f, err := p.FrameIndex(ColFrame)
		if err != nil {
			t.Fatalf("part %d FrameIndex: %v", i, err)
		}
		if f != i+1 {
			t.Errorf("part %d frame = %d, want %d", i, f, i+1)
		}
		if p.Len() != wantLens[i] {
			t.Errorf("part %d Len = %d, want %d", i, p.Len(), wantLens[i])
		}
	}
}

func TestBinaryRoundTrip(t *testing.T) {
	tbl := featureTable(t, 4, 25)
	nan, _ := tbl.WithColumn(ColEP, make([]float64, 25))
	for i := 0; i < 25; i += 3 {
		nan.rows[i][nan.index[ColEP]] = math.NaN()
	}

	for _, in := range []*Table{tbl, nan, NewTable(ColX, ColY)} {
		data, err := in.MarshalBinary()
		if err != nil {
			t.Fatalf("MarshalBinary: %v", err)
		}
		out, err := DecodeTable(data)
		if err != nil {
			t.Fatalf("DecodeTable: %v", err)
		}
		if !in.Equal(out) {
			t.Errorf("decoded table differs from input")
		}
	}
}

func TestDecodeTableCorrupt(t *testing.T) {
	data, _ := featureTable(t, 0, 3).MarshalBinary()
	cases := map[string][]byte{
		"magic":     append([]byte("XXXX"), data[4:]...),
		"truncated": data[:len(data)-3],
		"short":     data[:5],
	}
	for name, b := range cases {
		if _, err := DecodeTable(b); !errors.Is(err, ErrInvalidData) {
			t.Errorf("%s: DecodeTable = %v, want ErrInvalidData", name, err)
		}
	}
}

func TestCSVRoundTrip(t *testing.T) {
	tbl := featureTable(t, 2, 5)
	var buf bytes.Buffer
	if err := WriteCSV(&buf, tbl); err != nil {
		t.Fatalf("WriteCSV: %v", err)
	}
	out, err := ReadCSV(&buf)
	if err != nil {
		t.Fatalf("ReadCSV: %v", err)
	}
	if !tbl.Equal(out) {
		t.Errorf("csv round trip differs")
	}
}

func TestReadCSVPandasIndex(t *testing.T) {
	in := ",y,x,mass,frame\n0,1.5,2.5,100,0\n1,3,4,,0\n"
	tbl, err := ReadCSV(strings.NewReader(in))
	if err != nil {
		t.Fatalf("ReadCSV: %v", err)
	}
	if got := strings.Join(tbl.Columns(), ","); got != "y,x,mass,frame" {
		t.Errorf("Columns = %s, want y,x,mass,frame", got)
	}
	if !math.IsNaN(tbl.Value(1, ColMass)) {
		t.Errorf("empty cell = %v, want NaN", tbl.Value(1, ColMass))
	}
	if _, err := ReadCSV(strings.NewReader("x,y\n1,abc\n")); !errors.Is(err, ErrInvalidData) {
		t.Errorf("ReadCSV with bad number = %v, want ErrInvalidData", err)
	}
}

func TestSliceSource(t *testing.T) {
	a, b := featureTable(t, 0, 1), featureTable(t, 1, 1)
	src := NewSliceSource(a, b)
	var got []*Table
	for src.Next() {
		got = append(got, src.Table())
	}
	if len(got) != 2 || got[0] != a || got[1] != b {
		t.Fatalf("SliceSource yielded %d tables", len(got))
	}
	if src.Next() {
		t.Error("Next after exhaustion = true")
	}
	if src.Err() != nil {
		t.Errorf("Err = %v", src.Err())
	}
}
