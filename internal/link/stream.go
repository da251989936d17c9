package link

import (
	"context"
	"fmt"

	"github.com/freeeve/framestore/internal/frame"
)

// Stream lazily links the frames of a source. Each call to Next pulls
// exactly one input frame. Stream implements frame.Source.
type Stream struct {
	l   *Linker
	src frame.Source
	cur *frame.Table
	err error
}

// Iter returns a stream linking src with l. Abandoning the stream early
// leaves src and l usable.
func (l *Linker) Iter(src frame.Source) *Stream {
	return &Stream{l: l, src: src}
}

func (s *Stream) Next() bool {
	s.cur = nil
	if s.err != nil || !s.src.Next() {
		if s.err == nil {
			s.err = s.src.Err()
		}
		return false
	}
	out, err := s.l.Step(s.src.Table())
	if err != nil {
		s.err = err
		return false
	}
	s.cur = out
	return true
}

// Table returns the current linked frame.
func (s *Stream) Table() *frame.Table {
	return s.cur
}

func (s *Stream) Err() error {
	return s.err
}

// Putter receives linked frames. A store.FramewiseStore is a Putter.
type Putter interface {
	Put(t *frame.Table) error
	PutFrame(idx int, t *frame.Table) error
}

// framer is a source that knows the index of its current frame, such as a
// store iterator.
type framer interface {
	Frame() int
}

// LinkStore links every frame of src and writes it to dst. It stops before
// the next frame when ctx is cancelled; frames already written stay in dst.
// Empty frames are written only when src reports frame indices. It returns
// the number of frames written.
func (l *Linker) LinkStore(ctx context.Context, src frame.Source, dst Putter) (int, error) {
	s := l.Iter(src)
	n := 0
	for {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		if !s.Next() {
			break
		}
		t := s.Table()
		var err error
		if t.Len() > 0 {
			err = dst.Put(t)
		} else if fs, ok := src.(framer); ok {
			err = dst.PutFrame(fs.Frame(), t)
		} else {
			continue
		}
		if err != nil {
			return n, fmt.Errorf("write linked frame: %w", err)
		}
		n++
	}
	return n, s.Err()
}
