package httpapi

import (
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/freeeve/framestore/internal/frame"
	"github.com/freeeve/framestore/internal/store"
)

func newTestStore(t *testing.T, frames ...int) *store.MemStore {
	t.Helper()
	s := store.NewMemStore("")
	for _, f := range frames {
		tbl := frame.NewTable(frame.ColX, frame.ColY, frame.ColFrame)
		require.NoError(t, tbl.AppendRow(float64(f), 1, float64(f)))
		require.NoError(t, tbl.AppendRow(float64(f)+0.5, math.NaN(), float64(f)))
		require.NoError(t, s.Put(tbl))
	}
	return s
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	h := NewRouter(zerolog.Nop(), newTestStore(t), Options{})
	rec := get(t, h, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))
}

func TestReadyAfterClose(t *testing.T) {
	s := newTestStore(t, 1)
	h := NewRouter(zerolog.Nop(), s, Options{})
	assert.Equal(t, http.StatusOK, get(t, h, "/readyz").Code)

	require.NoError(t, s.Close())
	assert.Equal(t, http.StatusServiceUnavailable, get(t, h, "/readyz").Code)
	assert.Equal(t, http.StatusServiceUnavailable, get(t, h, "/v1/frames").Code)
}

func TestFrames(t *testing.T) {
	h := NewRouter(zerolog.Nop(), newTestStore(t, 4, 0, 2), Options{})
	rec := get(t, h, "/v1/frames")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp FramesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, FramesResponse{TColumn: "frame", MaxFrame: 4, Count: 3, Frames: []int{0, 2, 4}}, resp)
}

func TestFramesEmpty(t *testing.T) {
	h := NewRouter(zerolog.Nop(), newTestStore(t), Options{})
	var resp FramesResponse
	require.NoError(t, json.Unmarshal(get(t, h, "/v1/frames").Body.Bytes(), &resp))
	assert.Equal(t, store.NoFrame, resp.MaxFrame)
	assert.Equal(t, 0, resp.Count)
}

func TestFrame(t *testing.T) {
	h := NewRouter(zerolog.Nop(), newTestStore(t, 3), Options{})

	rec := get(t, h, "/v1/frames/3")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp TableResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Frame)
	assert.Equal(t, 3, *resp.Frame)
	assert.Equal(t, []string{"x", "y", "frame"}, resp.Columns)
	require.Len(t, resp.Rows, 2)
	assert.Equal(t, Value(3.5), resp.Rows[1][0])
	assert.True(t, math.IsNaN(float64(resp.Rows[1][1])), "NaN should round-trip through null")
	assert.Contains(t, rec.Body.String(), "null")
}

func TestFrameErrors(t *testing.T) {
	h := NewRouter(zerolog.Nop(), newTestStore(t, 3), Options{})
	tests := []struct {
		target string
		want   int
	}{
		{"/v1/frames/4", http.StatusNotFound},
		{"/v1/frames/abc", http.StatusBadRequest},
		{"/v1/frames/-1", http.StatusBadRequest},
		{"/v1/dump?n=-2", http.StatusBadRequest},
		{"/v1/dump?n=x", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			rec := get(t, h, tt.target)
			assert.Equal(t, tt.want, rec.Code)
			var body map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestDump(t *testing.T) {
	h := NewRouter(zerolog.Nop(), newTestStore(t, 0, 1, 2, 3), Options{DefaultDump: 2})
	tests := []struct {
		target string
		rows   int
	}{
		{"/v1/dump", 4},
		{"/v1/dump?n=1", 2},
		{"/v1/dump?n=0", 8},
		{"/v1/dump?n=10", 8},
	}
	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			rec := get(t, h, tt.target)
			require.Equal(t, http.StatusOK, rec.Code)
			var resp TableResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Nil(t, resp.Frame)
			assert.Len(t, resp.Rows, tt.rows)
		})
	}
}

func TestStats(t *testing.T) {
	s := newTestStore(t, 0, 1)
	_, err := s.Get(1)
	require.NoError(t, err)

	h := NewRouter(zerolog.Nop(), s, Options{})
	var resp StatsResponse
	require.NoError(t, json.Unmarshal(get(t, h, "/v1/stats").Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Frames)
	assert.Equal(t, uint64(2), resp.TotalWrites)
}

func TestMethodNotAllowed(t *testing.T) {
	h := NewRouter(zerolog.Nop(), newTestStore(t, 0), Options{})
	req := httptest.NewRequest(http.MethodPost, "/v1/frames", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestPprofDisabledByDefault(t *testing.T) {
	h := NewRouter(zerolog.Nop(), newTestStore(t), Options{})
	assert.Equal(t, http.StatusNotFound, get(t, h, "/debug/pprof/").Code)
}
