package httpapi

import (
	"encoding/json"
	"math"
	"net/http"
	"strconv"

	"github.com/freeeve/framestore/internal/frame"
	"github.com/freeeve/framestore/internal/store"
)

// Value is a table cell; NaN and infinities encode as null.
type Value float64

func (v Value) MarshalJSON() ([]byte, error) {
	f := float64(v)
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return []byte("null"), nil
	}
	return strconv.AppendFloat(nil, f, 'g', -1, 64), nil
}

func (v *Value) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*v = Value(math.NaN())
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return err
	}
	*v = Value(f)
	return nil
}

// TableResponse is the JSON form of a frame table.
type TableResponse struct {
	Frame   *int      `json:"frame,omitempty"`
	Columns []string  `json:"columns"`
	Rows    [][]Value `json:"rows"`
}

// ToTableResponse converts a table. frameIdx < 0 omits the frame field.
func ToTableResponse(t *frame.Table, frameIdx int) *TableResponse {
	resp := &TableResponse{
		Columns: t.Columns(),
		Rows:    make([][]Value, t.Len()),
	}
	if frameIdx >= 0 {
		resp.Frame = &frameIdx
	}
	for i := range resp.Rows {
		row := t.Row(i)
		out := make([]Value, len(row))
		for j, v := range row {
			out[j] = Value(v)
		}
		resp.Rows[i] = out
	}
	return resp
}

// FramesResponse lists the frames of a store.
type FramesResponse struct {
	TColumn  string `json:"tcolumn"`
	MaxFrame int    `json:"max_frame"`
	Count    int    `json:"count"`
	Frames   []int  `json:"frames"`
}

// StatsResponse mirrors store.Stats.
type StatsResponse struct {
	TotalReads    uint64 `json:"total_reads"`
	TotalWrites   uint64 `json:"total_writes"`
	TotalDeletes  uint64 `json:"total_deletes"`
	Flushes       uint64 `json:"flushes"`
	Frames        int    `json:"frames"`
	PendingFrames int    `json:"pending_frames"`
	PendingBytes  int64  `json:"pending_bytes"`
	FileBytes     int64  `json:"file_bytes"`
	DeadBytes     int64  `json:"dead_bytes"`
	CacheHits     uint64 `json:"cache_hits"`
	CacheMisses   uint64 `json:"cache_misses"`
}

func toStatsResponse(s store.Stats) StatsResponse {
	return StatsResponse{
		TotalReads:    s.TotalReads,
		TotalWrites:   s.TotalWrites,
		TotalDeletes:  s.TotalDeletes,
		Flushes:       s.Flushes,
		Frames:        s.Frames,
		PendingFrames: s.PendingFrames,
		PendingBytes:  s.PendingBytes,
		FileBytes:     s.FileBytes,
		DeadBytes:     s.DeadBytes,
		CacheHits:     s.CacheHits,
		CacheMisses:   s.CacheMisses,
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
	// Don't call http.Error after setting headers - it causes "superfluous WriteHeader"
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
