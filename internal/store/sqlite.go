package store

import (
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/freeeve/framestore/internal/frame"
)

//go:embed schema.sql
var schemaSQL string

// SQLiteStore keeps one row per frame in a SQLite database. Writes are
// buffered in a memtable and committed in one transaction per flush.
type SQLiteStore struct {
	mu     sync.RWMutex
	cfg    Config
	log    zerolog.Logger
	db     *sql.DB
	id     uuid.UUID
	codec  *blockCodec
	live   *roaring.Bitmap
	mem    *Memtable
	stats  *StatsCollector
	closed bool
}

// OpenSQLiteStore opens or creates a SQLite store at cfg.Path.
//
// The database runs in WAL mode with NORMAL synchronous writes and a single
// connection.
func OpenSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlite store: empty path")
	}
	explicitTCol := cfg.TColumn != ""
	cfg.applyDefaults()

	db, err := sql.Open("sqlite3", cfg.Path)
	if err != nil {
		return nil, ioError("open database", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, ioError("connect to database", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &SQLiteStore{
		cfg:   cfg,
		log:   cfg.Logger.With().Str("store", cfg.Path).Logger(),
		db:    db,
		live:  roaring.New(),
		mem:   NewMemtable(),
		stats: NewStatsCollector(),
	}
	if err := s.init(explicitTCol); err != nil {
		db.Close()
		return nil, err
	}
	s.codec, err = newBlockCodec(s.cfg.Compression)
	if err != nil {
		db.Close()
		return nil, err
	}
	s.updateFileStats()
	return s, nil
}

func (s *SQLiteStore) init(explicitTCol bool) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return ioError(fmt.Sprintf("execute %q", p), err)
		}
	}
	if _, err := s.db.Exec(schemaSQL); err != nil {
		return ioError("apply schema", err)
	}

	meta, err := s.readMeta()
	if err != nil {
		return err
	}
	if len(meta) == 0 {
		s.id = uuid.New()
		if err := s.writeMeta(map[string]string{
			"id":          s.id.String(),
			"tcolumn":     s.cfg.TColumn,
			"compression": s.cfg.Compression.String(),
		}); err != nil {
			return err
		}
		s.log.Debug().Str("id", s.id.String()).Msg("created sqlite store")
	} else {
		if explicitTCol && meta["tcolumn"] != s.cfg.TColumn {
			return fmt.Errorf("%w: store time column is %q, not %q", ErrInvalidData, meta["tcolumn"], s.cfg.TColumn)
		}
		s.cfg.TColumn = meta["tcolumn"]
		if s.cfg.Compression, err = ParseCompression(meta["compression"]); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidData, err)
		}
		if s.id, err = uuid.Parse(meta["id"]); err != nil {
			return fmt.Errorf("%w: store id: %v", ErrInvalidData, err)
		}
	}

	rows, err := s.db.Query(`SELECT frame FROM frames`)
	if err != nil {
		return ioError("load frame keys", err)
	}
	defer rows.Close()
	for rows.Next() {
		var idx int64
		if err := rows.Scan(&idx); err != nil {
			return ioError("scan frame key", err)
		}
		s.live.Add(uint32(idx))
	}
	if err := rows.Err(); err != nil {
		return ioError("load frame keys", err)
	}
	return nil
}

func (s *SQLiteStore) readMeta() (map[string]string, error) {
	rows, err := s.db.Query(`SELECT key, value FROM meta`)
	if err != nil {
		return nil, ioError("read meta", err)
	}
	defer rows.Close()
	meta := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, ioError("scan meta", err)
		}
		meta[k] = v
	}
	if err := rows.Err(); err != nil {
		return nil, ioError("read meta", err)
	}
	return meta, nil
}

func (s *SQLiteStore) writeMeta(meta map[string]string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return ioError("begin", err)
	}
	defer tx.Rollback()
	for k, v := range meta {
		if _, err := tx.Exec(`INSERT INTO meta (key, value) VALUES (?, ?)`, k, v); err != nil {
			return ioError("write meta", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return ioError("commit meta", err)
	}
	return nil
}

// ID returns the store instance id.
func (s *SQLiteStore) ID() uuid.UUID {
	return s.id
}

func (s *SQLiteStore) Put(t *frame.Table) error {
	return s.put(0, t, false)
}

func (s *SQLiteStore) PutFrame(idx int, t *frame.Table) error {
	return s.put(idx, t, true)
}

func (s *SQLiteStore) put(idx int, t *frame.Table, explicit bool) error {
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
	if s.mem.Size() >= s.cfg.FlushThreshold {
		return s.flushLocked()
	}
	return nil
}

func (s *SQLiteStore) Get(idx int) (*frame.Table, error) {
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

	var data []byte
	err := s.db.QueryRow(`SELECT data FROM frames WHERE frame = ?`, idx).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, ioError(fmt.Sprintf("read frame %d", idx), err)
	}
	t, err := s.codec.decodeTable(data)
	if err != nil {
		return nil, fmt.Errorf("%w: decode frame %d: %v", ErrInvalidData, idx, err)
	}
	return t, nil
}

func (s *SQLiteStore) Delete(idx int) error {
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
	return nil
}

func (s *SQLiteStore) Frames() ([]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	return bitmapFrames(s.live), nil
}

func (s *SQLiteStore) Iterator() (*Iterator, error) {
	frames, err := s.Frames()
	if err != nil {
		return nil, err
	}
	return newIterator(frames, s.Get), nil
}

func (s *SQLiteStore) MaxFrame() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return NoFrame, ErrClosed
	}
	return bitmapMax(s.live), nil
}

func (s *SQLiteStore) TColumn() string {
	return s.cfg.TColumn
}

func (s *SQLiteStore) Dump(n int) (*frame.Table, error) {
	it, err := s.Iterator()
	if err != nil {
		return nil, err
	}
	return dump(it, n)
}

// Flush commits pending writes in one transaction.
func (s *SQLiteStore) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return s.flushLocked()
}

func (s *SQLiteStore) flushLocked() error {
	records := s.mem.Flush()
	if len(records) == 0 {
		return nil
	}
	if err := s.commit(records); err != nil {
		rebuffer(s.mem, records)
		return err
	}
	s.stats.IncrementFlushes()
	s.updateFileStats()
	s.log.Debug().Int("records", len(records)).Msg("flushed memtable")
	return nil
}

func (s *SQLiteStore) commit(records []memRecord) error {
	tx, err := s.db.Begin()
	if err != nil {
		return ioError("begin", err)
	}
	defer tx.Rollback()

	upsert, err := tx.Prepare(`
		INSERT INTO frames (frame, nrows, data) VALUES (?, ?, ?)
		ON CONFLICT(frame) DO UPDATE SET nrows = excluded.nrows, data = excluded.data
	`)
	if err != nil {
		return ioError("prepare upsert", err)
	}
	defer upsert.Close()

	for _, r := range records {
		if r.table == nil {
			if _, err := tx.Exec(`DELETE FROM frames WHERE frame = ?`, r.frame); err != nil {
				return ioError(fmt.Sprintf("delete frame %d", r.frame), err)
			}
			continue
		}
		payload, err := s.codec.encodeTable(r.table)
		if err != nil {
			return fmt.Errorf("encode frame %d: %w", r.frame, err)
		}
		if _, err := upsert.Exec(r.frame, r.table.Len(), payload); err != nil {
			return ioError(fmt.Sprintf("write frame %d", r.frame), err)
		}
	}
	if err := tx.Commit(); err != nil {
		return ioError("commit", err)
	}
	return nil
}

// Compact flushes pending writes and vacuums the database.
func (s *SQLiteStore) Compact() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if err := s.flushLocked(); err != nil {
		return err
	}
	if _, err := s.db.Exec(`VACUUM`); err != nil {
		return ioError("vacuum", err)
	}
	s.updateFileStats()
	return nil
}

func (s *SQLiteStore) updateFileStats() {
	var size int64
	if info, err := os.Stat(s.cfg.Path); err == nil {
		size = info.Size()
	}
	s.stats.SetFileStats(size, 0)
}

func (s *SQLiteStore) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := s.stats.Stats()
	st.Frames = int(s.live.GetCardinality())
	st.PendingFrames = s.mem.Count()
	st.PendingBytes = s.mem.Size()
	return st
}

// Close flushes pending writes and closes the database. The handle is
// unusable afterwards even if an error is returned.
func (s *SQLiteStore) Close() error {
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
	if err := s.db.Close(); err != nil {
		errs = append(errs, ioError("close database", err))
	}
	s.codec.Close()
	return errors.Join(errs...)
}
