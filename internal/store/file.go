package store

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/freeeve/framestore/internal/frame"
)

// keydirEntry locates the latest on-disk record of a frame.
type keydirEntry struct {
	offset int64  // start of the record header
	length uint32 // payload length
}

func (e keydirEntry) size() int64 {
	return recordHeaderSize + int64(e.length)
}

// FileStore persists frames in a single append-only log file. An in-memory
// keydir maps each frame to its latest record and is rebuilt on open.
type FileStore struct {
	mu     sync.RWMutex
	cfg    Config
	log    zerolog.Logger
	path   string
	f      *os.File
	header *FileHeader
	codec  *blockCodec

	keydir map[int]keydirEntry // flushed frames
	live   *roaring.Bitmap     // flushed and pending frames, minus pending deletes
	size   int64               // end of the last valid record
	dead   int64               // bytes of superseded records and tombstones

	mem    *Memtable
	cache  *FrameCache
	stats  *StatsCollector
	closed bool

	flushStop chan struct{}
	flushDone chan struct{}
}

// OpenFileStore opens or creates a file store at cfg.Path.
func OpenFileStore(cfg Config) (*FileStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("file store: empty path")
	}
	explicitTCol := cfg.TColumn != ""
	cfg.applyDefaults()

	f, err := os.OpenFile(cfg.Path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, ioError("open "+cfg.Path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, ioError("stat "+cfg.Path, err)
	}

	s := &FileStore{
		cfg:    cfg,
		log:    cfg.Logger.With().Str("store", cfg.Path).Logger(),
		path:   cfg.Path,
		f:      f,
		keydir: make(map[int]keydirEntry),
		live:   roaring.New(),
		mem:    NewMemtable(),
		stats:  NewStatsCollector(),
	}
	if cfg.CacheBytes > 0 {
		s.cache = NewFrameCache(cfg.CacheBytes)
	}

	if info.Size() == 0 {
		err = s.create()
	} else {
		err = s.load(info.Size(), explicitTCol)
	}
	if err != nil {
		f.Close()
		return nil, err
	}

	s.codec, err = newBlockCodec(s.header.Compression)
	if err != nil {
		f.Close()
		return nil, err
	}
	s.stats.SetFileStats(s.size, s.dead)
	return s, nil
}

// create writes the header of a new store file.
func (s *FileStore) create() error {
	s.header = &FileHeader{
		Version:     FileVersion,
		Compression: s.cfg.Compression,
		ID:          uuid.New(),
		TColumn:     s.cfg.TColumn,
	}
	buf, err := encodeFileHeader(s.header)
	if err != nil {
		return err
	}
	if _, err := s.f.WriteAt(buf, 0); err != nil {
		return ioError("write header", err)
	}
	if err := s.f.Sync(); err != nil {
		return ioError("sync header", err)
	}
	s.size = int64(len(buf))
	s.log.Debug().Str("id", s.header.ID.String()).Stringer("compression", s.header.Compression).Msg("created store file")
	return nil
}

// load reads the header and replays the record log into the keydir. A torn
// or corrupt tail is truncated away.
func (s *FileStore) load(fileSize int64, explicitTCol bool) error {
	h, err := ReadFileHeader(io.NewSectionReader(s.f, 0, fileSize))
	if err != nil {
		return fmt.Errorf("open %s: %w", s.path, err)
	}
	if explicitTCol && h.TColumn != s.cfg.TColumn {
		return fmt.Errorf("%w: store time column is %q, not %q", ErrInvalidData, h.TColumn, s.cfg.TColumn)
	}
	s.header = h
	s.cfg.TColumn = h.TColumn

	off := h.Size()
	r := bufio.NewReaderSize(io.NewSectionReader(s.f, off, fileSize-off), 1<<20)
	prefix := make([]byte, recordHeaderSize)
	var records int
	var reason string

	for off < fileSize {
		if _, err := io.ReadFull(r, prefix); err != nil {
			reason = "short record header"
			break
		}
		rh := decodeRecordHeader(prefix)
		if off+recordHeaderSize+int64(rh.length) > fileSize {
			reason = "record extends past end of file"
			break
		}
		payload := make([]byte, rh.length)
		if _, err := io.ReadFull(r, payload); err != nil {
			reason = "short record payload"
			break
		}
		if !rh.verify(prefix, payload) {
			reason = "checksum mismatch"
			break
		}

		idx := int(rh.frame)
		old, existed := s.keydir[idx]
		switch rh.kind {
		case recordPut:
			if existed {
				s.dead += old.size()
			}
			s.keydir[idx] = keydirEntry{offset: off, length: rh.length}
			s.live.Add(rh.frame)
		case recordDelete:
			if existed {
				s.dead += old.size()
			}
			s.dead += recordHeaderSize
			delete(s.keydir, idx)
			s.live.Remove(rh.frame)
		default:
			reason = fmt.Sprintf("unknown record kind %d", rh.kind)
		}
		if reason != "" {
			break
		}
		off += recordHeaderSize + int64(rh.length)
		records++
	}

	if off < fileSize {
		s.log.Warn().
			Int64("offset", off).
			Int64("dropped_bytes", fileSize-off).
			Str("reason", reason).
			Msg("truncating torn tail of store file")
		if err := s.f.Truncate(off); err != nil {
			return ioError("truncate torn tail", err)
		}
	}
	s.size = off
	s.log.Debug().Int("records", records).Uint64("frames", s.live.GetCardinality()).Msg("loaded store file")
	return nil
}

// Header returns the file header.
func (s *FileStore) Header() FileHeader {
	return *s.header
}

// Path returns the store file path.
func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) Put(t *frame.Table) error {
	return s.put(0, t, false)
}

func (s *FileStore) PutFrame(idx int, t *frame.Table) error {
	return s.put(idx, t, true)
}

func (s *FileStore) put(idx int, t *frame.Table, explicit bool) error {
	idx, stored, err := prepareTable(s.cfg.TColumn, t, idx, explicit)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.stats.IncrementWrites()
	s.mem.Put(idx, stored)
	s.live.Add(uint32(idx))
	if s.cache != nil {
		s.cache.Invalidate(idx)
	}
	if s.mem.Size() >= s.cfg.FlushThreshold {
		return s.flushLocked()
	}
	return nil
}

func (s *FileStore) Get(idx int) (*frame.Table, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	s.stats.IncrementReads()

	if t, deleted, ok := s.mem.Get(idx); ok {
		if deleted {
			return nil, ErrNotFound
		}
		return t.Clone(), nil
	}
	if s.cache != nil {
		if t := s.cache.Get(idx); t != nil {
			return t.Clone(), nil
		}
	}

	e, ok := s.keydir[idx]
	if !ok {
		return nil, ErrNotFound
	}
	t, err := s.readRecord(idx, e)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		s.cache.Put(idx, t)
	}
	return t.Clone(), nil
}

// readRecord reads and decodes the record at e.
func (s *FileStore) readRecord(idx int, e keydirEntry) (*frame.Table, error) {
	buf, err := s.readRaw(e)
	if err != nil {
		return nil, err
	}
	rh := decodeRecordHeader(buf)
	payload := buf[recordHeaderSize:]
	if rh.kind != recordPut || int(rh.frame) != idx || !rh.verify(buf, payload) {
		return nil, fmt.Errorf("%w: corrupt record for frame %d at offset %d", ErrInvalidData, idx, e.offset)
	}
	t, err := s.codec.decodeTable(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: decode frame %d: %v", ErrInvalidData, idx, err)
	}
	return t, nil
}

// readRaw returns the full record bytes (header and payload) at e.
func (s *FileStore) readRaw(e keydirEntry) ([]byte, error) {
	buf := make([]byte, e.size())
	if _, err := s.f.ReadAt(buf, e.offset); err != nil {
		return nil, ioError(fmt.Sprintf("read record at %d", e.offset), err)
	}
	return buf, nil
}

func (s *FileStore) Delete(idx int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if idx < 0 || int64(idx) > MaxFrameIndex || !s.live.Contains(uint32(idx)) {
		return ErrNotFound
	}
	s.stats.IncrementDeletes()
	s.mem.Delete(idx)
	s.live.Remove(uint32(idx))
	if s.cache != nil {
		s.cache.Invalidate(idx)
	}
	return nil
}

func (s *FileStore) Frames() ([]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	return bitmapFrames(s.live), nil
}

func (s *FileStore) Iterator() (*Iterator, error) {
	frames, err := s.Frames()
	if err != nil {
		return nil, err
	}
	return newIterator(frames, s.Get), nil
}

func (s *FileStore) MaxFrame() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return NoFrame, ErrClosed
	}
	return bitmapMax(s.live), nil
}

func (s *FileStore) TColumn() string {
	return s.cfg.TColumn
}

func (s *FileStore) Dump(n int) (*frame.Table, error) {
	it, err := s.Iterator()
	if err != nil {
		return nil, err
	}
	return dump(it, n)
}

func (s *FileStore) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := s.stats.Stats()
	st.Frames = int(s.live.GetCardinality())
	st.PendingFrames = s.mem.Count()
	st.PendingBytes = s.mem.Size()
	if s.cache != nil {
		st.CacheHits, st.CacheMisses = s.cache.Stats()
	}
	return st
}

// Close flushes pending writes, compacts when the dead ratio exceeds
// CompactRatio, and closes the file. The handle is unusable afterwards even
// if an error is returned.
func (s *FileStore) Close() error {
	s.StopBackgroundFlush()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.closed = true

	var errs []error
	if err := s.flushLocked(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) == 0 && s.needsCompaction() {
		if err := s.compactLocked(); err != nil {
			s.log.Warn().Err(err).Msg("compaction on close failed")
			errs = append(errs, err)
		}
	}
	if err := s.f.Sync(); err != nil {
		errs = append(errs, ioError("sync", err))
	}
	if err := s.f.Close(); err != nil {
		errs = append(errs, ioError("close", err))
	}
	s.codec.Close()
	if s.cache != nil {
		s.cache.Clear()
	}
	return errors.Join(errs...)
}

func (s *FileStore) needsCompaction() bool {
	if s.cfg.CompactRatio <= 0 || s.dead == 0 || s.size == 0 {
		return false
	}
	return float64(s.dead)/float64(s.size) > s.cfg.CompactRatio
}
