package link

import (
	"context"
	"math"
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/freeeve/framestore/internal/frame"
	"github.com/freeeve/framestore/internal/spatial"
	"github.com/freeeve/framestore/internal/store"
)

// makeFrame builds a frame with one feature per (x, y) pair.
func makeFrame(t *testing.T, idx int, xy ...[2]float64) *frame.Table {
	t.Helper()
	tbl := frame.NewTable(frame.FeatureColumns...)
	for _, p := range xy {
		require.NoError(t, tbl.AppendRow(p[1], p[0], 100, 2.5, 0.1, 12, 400, 0.05, float64(idx)))
	}
	return tbl
}

func particles(t *testing.T, tbl *frame.Table) []int {
	t.Helper()
	col := tbl.Column(frame.ColParticle)
	require.NotNil(t, col, "missing particle column")
	out := make([]int, len(col))
	for i, v := range col {
		out[i] = int(v)
	}
	return out
}

func newLinker(t *testing.T, cfg Config) *Linker {
	t.Helper()
	l, err := New(cfg)
	require.NoError(t, err)
	return l
}

// jitteredClusters yields frames 0..n-1 with three features that wander by
// less than one pixel per frame, shuffled in row order.
func jitteredClusters(t *testing.T, n int) []*frame.Table {
	rng := rand.New(rand.NewSource(11))
	centers := [][2]float64{{10, 10}, {50, 20}, {30, 80}}
	var out []*frame.Table
	for f := 0; f < n; f++ {
		pts := make([][2]float64, len(centers))
		for i, c := range centers {
			pts[i] = [2]float64{c[0] + rng.Float64()*0.8, c[1] + rng.Float64()*0.8}
		}
		rng.Shuffle(len(pts), func(i, j int) { pts[i], pts[j] = pts[j], pts[i] })
		out = append(out, makeFrame(t, f, pts...))
	}
	return out
}

// clusterOf names the nearest of the three jitteredClusters centers.
func clusterOf(x, y float64) int {
	centers := [][2]float64{{10, 10}, {50, 20}, {30, 80}}
	best, bestD := -1, math.Inf(1)
	for i, c := range centers {
		if d := math.Hypot(x-c[0], y-c[1]); d < bestD {
			best, bestD = i, d
		}
	}
	return best
}

func TestStreamKeepsIDsAcrossFrames(t *testing.T) {
	for _, strategy := range []spatial.Strategy{spatial.StrategyKDTree, spatial.StrategyBrute} {
		t.Run(strategy.String(), func(t *testing.T) {
			s := store.NewMemStore("")
			defer s.Close()
			for _, tbl := range jitteredClusters(t, 10) {
				require.NoError(t, s.Put(tbl))
			}
			it, err := s.Iterator()
			require.NoError(t, err)

			l := newLinker(t, Config{SearchRange: 5, Strategy: strategy})
			stream := l.Iter(it)
			idOf := map[int]int{} // cluster -> particle id
			frames := 0
			for stream.Next() {
				tbl := stream.Table()
				ids := particles(t, tbl)
				xs, ys := tbl.Column(frame.ColX), tbl.Column(frame.ColY)
				for row, id := range ids {
					c := clusterOf(xs[row], ys[row])
					if prev, ok := idOf[c]; ok {
						assert.Equal(t, prev, id, "frame %d cluster %d", frames, c)
					} else {
						idOf[c] = id
					}
				}
				frames++
			}
			require.NoError(t, stream.Err())
			assert.Equal(t, 10, frames)
			assert.Len(t, idOf, 3)
			assert.Equal(t, 3, l.NextID())
		})
	}
}

func TestNewFeaturesGetNewIDs(t *testing.T) {
	l := newLinker(t, Config{SearchRange: 2})
	out, err := l.Step(makeFrame(t, 0, [2]float64{0, 0}, [2]float64{10, 0}))
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, particles(t, out))

	out, err = l.Step(makeFrame(t, 1, [2]float64{20, 0}, [2]float64{10.5, 0}, [2]float64{0.5, 0}))
	require.NoError(t, err)
	assert.Equal(t, []int{2, 1, 0}, particles(t, out))
}

func TestGreedyClosestFirst(t *testing.T) {
	l := newLinker(t, Config{SearchRange: 3})
	_, err := l.Step(makeFrame(t, 0, [2]float64{0, 0}, [2]float64{2, 0}))
	require.NoError(t, err)

	// Track 1 is closest to row 0 and claims it; track 0 takes row 1.
	out, err := l.Step(makeFrame(t, 1, [2]float64{1.9, 0}, [2]float64{-1, 0}))
	require.NoError(t, err)
	assert.Equal(t, []int{1, 0}, particles(t, out))
}

func TestTieGoesToLowerTrackID(t *testing.T) {
	l := newLinker(t, Config{SearchRange: 3})
	_, err := l.Step(makeFrame(t, 0, [2]float64{-1, 0}, [2]float64{1, 0}))
	require.NoError(t, err)

	// Row 0 is equidistant from both tracks.
	out, err := l.Step(makeFrame(t, 1, [2]float64{0, 0}))
	require.NoError(t, err)
	assert.Equal(t, []int{0}, particles(t, out))
}

func TestMemory(t *testing.T) {
	frames := func() []*frame.Table {
		return []*frame.Table{
			makeFrame(t, 0, [2]float64{0, 0}, [2]float64{50, 50}),
			makeFrame(t, 1, [2]float64{50, 50}),
			makeFrame(t, 2, [2]float64{0.5, 0}, [2]float64{50, 50}),
		}
	}

	run := func(memory int) []int {
		l := newLinker(t, Config{SearchRange: 2, Memory: memory})
		var last *frame.Table
		stream := l.Iter(frame.NewSliceSource(frames()...))
		for stream.Next() {
			last = stream.Table()
		}
		require.NoError(t, stream.Err())
		return particles(t, last)
	}

	assert.Equal(t, []int{0, 1}, run(1), "particle should survive a one-frame gap")
	assert.Equal(t, []int{2, 1}, run(0), "without memory the particle gets a new id")
}

func TestWindowStaysBounded(t *testing.T) {
	const perFrame, memory = 20, 2
	l := newLinker(t, Config{SearchRange: 1, Memory: memory})
	rng := rand.New(rand.NewSource(5))
	for f := 0; f < 500; f++ {
		pts := make([][2]float64, perFrame)
		for i := range pts {
			pts[i] = [2]float64{rng.Float64() * 1e6, rng.Float64() * 1e6}
		}
		_, err := l.Step(makeFrame(t, f, pts...))
		require.NoError(t, err)
		require.LessOrEqual(t, l.ActiveTracks(), perFrame*(memory+1), "frame %d", f)
	}
	assert.Equal(t, 500*perFrame, l.NextID())
}

func TestVelocityPredictor(t *testing.T) {
	// Accelerating particle: steps of 3 then 6 pixels.
	xs := []float64{0, 3, 9, 15, 21}
	frames := func() []*frame.Table {
		var out []*frame.Table
		for f, x := range xs {
			out = append(out, makeFrame(t, f, [2]float64{x, 0}))
		}
		return out
	}
	link := func(p Predictor) []int {
		l := newLinker(t, Config{SearchRange: 4, Predictor: p})
		var ids []int
		stream := l.Iter(frame.NewSliceSource(frames()...))
		for stream.Next() {
			ids = append(ids, particles(t, stream.Table())...)
		}
		require.NoError(t, stream.Err())
		return ids
	}

	assert.Equal(t, []int{0, 0, 0, 0, 0}, link(VelocityPredictor{}))
	assert.Equal(t, []int{0, 0, 1, 2, 3}, link(NullPredictor{}))
}

func TestStepErrors(t *testing.T) {
	l := newLinker(t, Config{SearchRange: 2})
	_, err := l.Step(makeFrame(t, 5, [2]float64{0, 0}))
	require.NoError(t, err)

	_, err = l.Step(makeFrame(t, 5, [2]float64{0, 0}))
	assert.ErrorIs(t, err, ErrInvalidData, "repeated frame")
	_, err = l.Step(makeFrame(t, 4, [2]float64{0, 0}))
	assert.ErrorIs(t, err, ErrInvalidData, "earlier frame")

	mixed := makeFrame(t, 6, [2]float64{0, 0})
	require.NoError(t, mixed.AppendRow(0, 0, 0, 0, 0, 0, 0, 0, 7))
	_, err = l.Step(mixed)
	assert.ErrorIs(t, err, ErrInvalidData, "mixed frames")

	noPos := frame.NewTable(frame.ColFrame)
	require.NoError(t, noPos.AppendRow(6))
	_, err = l.Step(noPos)
	assert.ErrorIs(t, err, ErrInvalidData, "missing position columns")

	_, err = l.Step(makeFrame(t, 6, [2]float64{math.NaN(), 0}))
	assert.ErrorIs(t, err, ErrInvalidData, "NaN position")

	// Rejected frames leave the linker usable.
	out, err := l.Step(makeFrame(t, 6, [2]float64{0.5, 0}))
	require.NoError(t, err)
	assert.Equal(t, []int{0}, particles(t, out))
}

func TestEmptyFramePassesThrough(t *testing.T) {
	l := newLinker(t, Config{SearchRange: 2})
	out, err := l.Step(frame.NewTable(frame.FeatureColumns...))
	require.NoError(t, err)
	assert.Equal(t, 0, out.Len())
	assert.True(t, out.HasColumn(frame.ColParticle))
	assert.Equal(t, 0, l.ActiveTracks())
}

func TestNewValidatesConfig(t *testing.T) {
	for _, cfg := range []Config{
		{},
		{SearchRange: -1},
		{SearchRange: math.NaN()},
		{SearchRange: math.Inf(1)},
		{SearchRange: 1, Memory: -1},
	} {
		_, err := New(cfg)
		assert.Error(t, err, "%+v", cfg)
	}
}

func TestThreeDimensionalLinking(t *testing.T) {
	l := newLinker(t, Config{SearchRange: 1, PosColumns: []string{frame.ColX, frame.ColY, frame.ColZ}})
	mk := func(idx int, z float64) *frame.Table {
		tbl := frame.NewTable(frame.ColX, frame.ColY, frame.ColZ, frame.ColFrame)
		require.NoError(t, tbl.AppendRow(0, 0, z, float64(idx)))
		return tbl
	}
	_, err := l.Step(mk(0, 0))
	require.NoError(t, err)
	out, err := l.Step(mk(1, 5))
	require.NoError(t, err)
	assert.Equal(t, []int{1}, particles(t, out), "z displacement must count")
}

func TestStreamEarlyStop(t *testing.T) {
	s := store.NewMemStore("")
	for _, tbl := range jitteredClusters(t, 10) {
		require.NoError(t, s.Put(tbl))
	}
	it, err := s.Iterator()
	require.NoError(t, err)

	l := newLinker(t, Config{SearchRange: 5})
	stream := l.Iter(it)
	for i := 0; i < 3; i++ {
		require.True(t, stream.Next())
	}
	// Abandon the stream; the store is still valid.
	assert.Equal(t, 7, it.Remaining())
	require.NoError(t, s.Flush())
	require.NoError(t, s.Close())
}

func TestLinkStore(t *testing.T) {
	src := store.NewMemStore("")
	dst := store.NewMemStore("")
	defer src.Close()
	defer dst.Close()
	for _, tbl := range jitteredClusters(t, 10) {
		require.NoError(t, src.Put(tbl))
	}
	require.NoError(t, src.PutFrame(10, frame.NewTable(frame.FeatureColumns...)))

	it, err := src.Iterator()
	require.NoError(t, err)
	n, err := newLinker(t, Config{SearchRange: 5}).LinkStore(context.Background(), it, dst)
	require.NoError(t, err)
	assert.Equal(t, 11, n)

	frames, err := dst.Frames()
	require.NoError(t, err)
	assert.Len(t, frames, 11)
	got, err := dst.Get(9)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int{0, 1, 2}, particles(t, got))
}

func TestLinkStoreInPlace(t *testing.T) {
	for _, tc := range []struct {
		name string
		open func(path string) (store.FramewiseStore, error)
	}{
		{"FileStore", func(path string) (store.FramewiseStore, error) {
			return store.OpenFileStore(store.Config{Path: path + ".fws", FlushThreshold: 1})
		}},
		{"SQLiteStore", func(path string) (store.FramewiseStore, error) {
			return store.OpenSQLiteStore(store.Config{Path: path + ".db", FlushThreshold: 1})
		}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "frames")
			s, err := tc.open(path)
			require.NoError(t, err)
			// Write everything twice so the log carries dead records and
			// the final close compacts.
			for round := 0; round < 2; round++ {
				for _, tbl := range jitteredClusters(t, 10) {
					require.NoError(t, s.Put(tbl))
				}
			}
			require.NoError(t, s.PutFrame(10, frame.NewTable(frame.FeatureColumns...)))
			require.NoError(t, s.Flush())

			it, err := s.Iterator()
			require.NoError(t, err)
			l := newLinker(t, Config{SearchRange: 5})
			n, err := l.LinkStore(context.Background(), it, s)
			require.NoError(t, err)
			assert.Equal(t, 11, n)
			assert.Equal(t, 3, l.NextID())
			require.NoError(t, s.Close())

			s, err = tc.open(path)
			require.NoError(t, err)
			defer s.Close()
			frames, err := s.Frames()
			require.NoError(t, err)
			require.Len(t, frames, 11)
			for _, f := range frames[:10] {
				got, err := s.Get(f)
				require.NoError(t, err)
				assert.ElementsMatch(t, []int{0, 1, 2}, particles(t, got), "frame %d", f)
			}
			empty, err := s.Get(10)
			require.NoError(t, err)
			assert.Equal(t, 0, empty.Len())
			assert.True(t, empty.HasColumn(frame.ColParticle))
		})
	}
}

func TestLinkStoreCancelled(t *testing.T) {
	src := store.NewMemStore("")
	dst := store.NewMemStore("")
	for _, tbl := range jitteredClusters(t, 5) {
		require.NoError(t, src.Put(tbl))
	}
	it, err := src.Iterator()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	n, err := newLinker(t, Config{SearchRange: 5}).LinkStore(ctx, it, dst)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, n)
	m, err := dst.MaxFrame()
	require.NoError(t, err)
	assert.Equal(t, store.NoFrame, m)
}

func TestParsePredictor(t *testing.T) {
	p, err := ParsePredictor("velocity")
	require.NoError(t, err)
	assert.IsType(t, VelocityPredictor{}, p)
	p, err = ParsePredictor("")
	require.NoError(t, err)
	assert.IsType(t, NullPredictor{}, p)
	_, err = ParsePredictor("kalman")
	assert.Error(t, err)
}
