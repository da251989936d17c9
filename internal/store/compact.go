package store

import (
	"bufio"
	"fmt"
	"os"
	"time"
)

// Compact flushes pending writes and rewrites the store file with only the
// live record of each frame. The new file replaces the old one atomically.
func (s *FileStore) Compact() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if err := s.flushLocked(); err != nil {
		return err
	}
	return s.compactLocked()
}

// compactLocked rewrites the file (caller must hold mu, memtable empty).
func (s *FileStore) compactLocked() error {
	start := time.Now()
	oldSize := s.size
	tmpPath := s.path + ".compact.tmp"

	out, err := os.Create(tmpPath)
	if err != nil {
		return ioError("create "+tmpPath, err)
	}
	fail := func(op string, err error) error {
		out.Close()
		os.Remove(tmpPath)
		return ioError(op, err)
	}

	hdr, err := encodeFileHeader(s.header)
	if err != nil {
		out.Close()
		os.Remove(tmpPath)
		return err
	}
	w := bufio.NewWriterSize(out, 1<<20)
	if _, err := w.Write(hdr); err != nil {
		return fail("write header", err)
	}

	// Records are copied verbatim; the checksum does not cover the offset.
	keydir := make(map[int]keydirEntry, len(s.keydir))
	off := int64(len(hdr))
	for _, idx := range bitmapFrames(s.live) {
		e, ok := s.keydir[idx]
		if !ok {
			continue
		}
		raw, err := s.readRaw(e)
		if err != nil {
			out.Close()
			os.Remove(tmpPath)
			return err
		}
		if _, err := w.Write(raw); err != nil {
			return fail("write record", err)
		}
		keydir[idx] = keydirEntry{offset: off, length: e.length}
		off += e.size()
	}

	if err := w.Flush(); err != nil {
		return fail("flush "+tmpPath, err)
	}
	if err := out.Sync(); err != nil {
		return fail("sync "+tmpPath, err)
	}
	if err := out.Close(); err != nil {
		os.Remove(tmpPath)
		return ioError("close "+tmpPath, err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return ioError("rename "+tmpPath, err)
	}

	// The old handle now points at the replaced file.
	s.f.Close()
	f, err := os.OpenFile(s.path, os.O_RDWR, 0o644)
	if err != nil {
		return ioError(fmt.Sprintf("reopen %s after compaction", s.path), err)
	}
	s.f = f
	s.keydir = keydir
	s.size = off
	s.dead = 0
	if s.cache != nil {
		s.cache.Clear()
	}
	s.stats.SetFileStats(s.size, s.dead)

	s.log.Info().
		Int64("before_bytes", oldSize).
		Int64("after_bytes", off).
		Int("frames", len(keydir)).
		Dur("elapsed", time.Since(start)).
		Msg("compacted store file")
	return nil
}
