package store

import (
	"fmt"
	"time"
)

// Flush appends all pending writes to the store file.
func (s *FileStore) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return s.flushLocked()
}

// placedRecord is a flushed record and where it landed in the file.
type placedRecord struct {
	frame  int
	kind   byte
	offset int64
	length uint32
}

// flushLocked drains the memtable into one append (caller must hold mu).
// On failure the drained writes are buffered again and the file is cut back
// to its previous end.
func (s *FileStore) flushLocked() error {
	records := s.mem.Flush()
	if len(records) == 0 {
		return nil
	}
	start := time.Now()

	var buf []byte
	placed := make([]placedRecord, 0, len(records))
	for _, r := range records {
		off := s.size + int64(len(buf))
		if r.table == nil {
			// A frame that never reached the file needs no tombstone.
			if _, onDisk := s.keydir[r.frame]; !onDisk {
				continue
			}
			buf = appendRecord(buf, recordDelete, uint32(r.frame), nil)
			placed = append(placed, placedRecord{frame: r.frame, kind: recordDelete, offset: off})
			continue
		}

		payload, err := s.codec.encodeTable(r.table)
		if err != nil {
			rebuffer(s.mem, records)
			return fmt.Errorf("encode frame %d: %w", r.frame, err)
		}
		buf = appendRecord(buf, recordPut, uint32(r.frame), payload)
		placed = append(placed, placedRecord{frame: r.frame, kind: recordPut, offset: off, length: uint32(len(payload))})
	}
	if len(buf) == 0 {
		return nil
	}

	if _, err := s.f.WriteAt(buf, s.size); err != nil {
		rebuffer(s.mem, records)
		if terr := s.f.Truncate(s.size); terr != nil {
			s.log.Error().Err(terr).Msg("failed to cut back partial flush")
		}
		return ioError("append records", err)
	}
	if s.cfg.SyncOnFlush {
		if err := s.f.Sync(); err != nil {
			rebuffer(s.mem, records)
			return ioError("sync", err)
		}
	}

	for _, p := range placed {
		if old, ok := s.keydir[p.frame]; ok {
			s.dead += old.size()
		}
		if p.kind == recordDelete {
			delete(s.keydir, p.frame)
			s.dead += recordHeaderSize
			continue
		}
		s.keydir[p.frame] = keydirEntry{offset: p.offset, length: p.length}
	}
	s.size += int64(len(buf))

	s.stats.IncrementFlushes()
	s.stats.SetFileStats(s.size, s.dead)
	s.log.Debug().
		Int("records", len(placed)).
		Int("bytes", len(buf)).
		Dur("elapsed", time.Since(start)).
		Msg("flushed memtable")
	return nil
}

// rebuffer puts drained writes back into mem after a failed flush. Writes
// made since the drain are kept.
func rebuffer(mem *Memtable, records []memRecord) {
	for _, r := range records {
		if _, _, pending := mem.Get(r.frame); pending {
			continue
		}
		if r.table == nil {
			mem.Delete(r.frame)
		} else {
			mem.Put(r.frame, r.table)
		}
	}
}
