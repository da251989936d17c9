// Package store provides framewise storage for particle-tracking feature
// tables: one table per integer frame index, replaced on re-put, iterated in
// ascending frame order.
//
// Backends:
//   - MemStore: in-memory map, for tests and short pipelines
//   - FileStore: one append-only log file per store, with a key directory
//     rebuilt on open, a memtable for pending writes and offline compaction
//   - SQLiteStore: one SQLite file with a row per frame
//
// Record layout (FileStore):
//   - Header: magic, version, payload codec, store UUID, time column
//   - Records: kind, frame, payload length, CRC32, compressed table block
//
// All backends share the FramewiseStore contract: a stored table is returned
// verbatim until overwritten, MaxFrame tracks the highest key, and Close
// flushes pending writes and invalidates the handle.
package store
