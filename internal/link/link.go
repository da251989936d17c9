// Package link assigns particle ids to features across frames.
//
// A Linker consumes one frame at a time and keeps only the tracks that can
// still be continued, so memory stays bounded by the number of features in
// the last Memory+1 frames no matter how long the input is.
//
// Matching is greedy: every (track, feature) pair within SearchRange of the
// track's predicted position is a candidate, candidates are taken in order of
// increasing distance (ties go to the lower track id, then the lower feature
// row) whenever both ends are still free. Features left over start new
// tracks.
package link

import (
	"fmt"
	"math"
	"sort"

	"github.com/rs/zerolog"

	"github.com/freeeve/framestore/internal/frame"
	"github.com/freeeve/framestore/internal/spatial"
)

// ErrInvalidData is returned for frames the linker cannot use: missing
// columns, mixed or non-increasing frame indices, non-finite positions.
var ErrInvalidData = frame.ErrInvalidData

// Config configures a Linker.
type Config struct {
	SearchRange float64          // maximum displacement between observations, required
	Memory      int              // frames a particle may go unseen and keep its id
	Strategy    spatial.Strategy // neighbour search, default kdtree
	PosColumns  []string         // default x, y
	TColumn     string           // default frame
	Predictor   Predictor        // default NullPredictor
	Logger      zerolog.Logger
}

// Linker links frames incrementally. It is not safe for concurrent use.
type Linker struct {
	cfg    Config
	log    zerolog.Logger
	tracks []*Track // live window, ascending by ID
	nextID int
	last   int // last linked frame index, -1 before the first
}

// New creates a linker.
func New(cfg Config) (*Linker, error) {
	if !(cfg.SearchRange > 0) || math.IsInf(cfg.SearchRange, 0) {
		return nil, fmt.Errorf("search range must be positive and finite, got %v", cfg.SearchRange)
	}
	if cfg.Memory < 0 {
		return nil, fmt.Errorf("memory must be >= 0, got %d", cfg.Memory)
	}
	if len(cfg.PosColumns) == 0 {
		cfg.PosColumns = []string{frame.ColX, frame.ColY}
	}
	if cfg.TColumn == "" {
		cfg.TColumn = frame.ColFrame
	}
	if cfg.Predictor == nil {
		cfg.Predictor = NullPredictor{}
	}
	return &Linker{
		cfg:  cfg,
		log:  cfg.Logger.With().Str("component", "linker").Logger(),
		last: -1,
	}, nil
}

// ActiveTracks returns the number of tracks in the live window.
func (l *Linker) ActiveTracks() int {
	return len(l.tracks)
}

// NextID returns the id the next new track will get.
func (l *Linker) NextID() int {
	return l.nextID
}

// Reset forgets all tracks; ids restart at 0.
func (l *Linker) Reset() {
	l.tracks = nil
	l.nextID = 0
	l.last = -1
}

// Step links one frame and returns a copy of it with a particle column.
// Frames must arrive in strictly increasing order. A table without rows
// passes through with an empty particle column and does not affect state.
func (l *Linker) Step(t *frame.Table) (*frame.Table, error) {
	if t == nil {
		return nil, fmt.Errorf("%w: nil frame", ErrInvalidData)
	}
	if t.Len() == 0 {
		return t.WithColumn(frame.ColParticle, nil)
	}
	if err := t.Require(append([]string{l.cfg.TColumn}, l.cfg.PosColumns...)...); err != nil {
		return nil, err
	}
	idx, err := t.FrameIndex(l.cfg.TColumn)
	if err != nil {
		return nil, err
	}
	if idx <= l.last {
		return nil, fmt.Errorf("%w: frame %d does not follow frame %d", ErrInvalidData, idx, l.last)
	}
	points, err := l.positions(t)
	if err != nil {
		return nil, fmt.Errorf("frame %d: %w", idx, err)
	}

	l.evict(idx - l.cfg.Memory - 1)
	ids, matched := l.match(points, idx)
	created := 0
	for row, id := range ids {
		if id >= 0 {
			continue
		}
		tr := &Track{
			ID:       l.nextID,
			Pos:      append([]float64(nil), points[row]...),
			Frame:    idx,
			Velocity: make([]float64, len(points[row])),
		}
		l.nextID++
		l.tracks = append(l.tracks, tr)
		ids[row] = tr.ID
		created++
	}
	l.last = idx
	l.evict(idx - l.cfg.Memory)

	l.log.Debug().
		Int("frame", idx).
		Int("features", len(points)).
		Int("linked", matched).
		Int("new", created).
		Int("active", len(l.tracks)).
		Msg("linked frame")

	col := make([]float64, len(ids))
	for i, id := range ids {
		col[i] = float64(id)
	}
	return t.WithColumn(frame.ColParticle, col)
}

func (l *Linker) positions(t *frame.Table) ([][]float64, error) {
	cols := make([][]float64, len(l.cfg.PosColumns))
	for i, c := range l.cfg.PosColumns {
		cols[i] = t.Column(c)
	}
	points := make([][]float64, t.Len())
	for row := range points {
		p := make([]float64, len(cols))
		for d := range cols {
			v := cols[d][row]
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, fmt.Errorf("%w: row %d has non-finite %s", ErrInvalidData, row, l.cfg.PosColumns[d])
			}
			p[d] = v
		}
		points[row] = p
	}
	return points, nil
}

// evict drops tracks last seen before frame oldest.
func (l *Linker) evict(oldest int) {
	kept := l.tracks[:0]
	for _, tr := range l.tracks {
		if tr.Frame >= oldest {
			kept = append(kept, tr)
		}
	}
	for i := len(kept); i < len(l.tracks); i++ {
		l.tracks[i] = nil
	}
	l.tracks = kept
}

type candidate struct {
	dist  float64
	track int // position in l.tracks
	row   int
}

// match assigns live tracks to feature rows. ids[row] is the track id or -1.
func (l *Linker) match(points [][]float64, idx int) (ids []int, matched int) {
	ids = make([]int, len(points))
	for i := range ids {
		ids[i] = -1
	}
	if len(l.tracks) == 0 {
		return ids, 0
	}

	index := spatial.New(l.cfg.Strategy, points)
	var cands []candidate
	for ti, tr := range l.tracks {
		pred := l.cfg.Predictor.Predict(tr, idx)
		for _, row := range index.Within(pred, l.cfg.SearchRange) {
			cands = append(cands, candidate{
				dist:  spatial.SquaredL2(pred, points[row]),
				track: ti,
				row:   row,
			})
		}
	}
	// l.tracks is ascending by id, so track position orders like track id.
	sort.Slice(cands, func(i, j int) bool {
		a, b := cands[i], cands[j]
		if a.dist != b.dist {
			return a.dist < b.dist
		}
		if a.track != b.track {
			return a.track < b.track
		}
		return a.row < b.row
	})

	taken := make([]bool, len(l.tracks))
	for _, c := range cands {
		if taken[c.track] || ids[c.row] >= 0 {
			continue
		}
		taken[c.track] = true
		tr := l.tracks[c.track]
		ids[c.row] = tr.ID
		tr.observe(points[c.row], idx)
		matched++
	}
	return ids, matched
}
