package httpapi

import (
	"errors"
	"net/http"
	"net/http/pprof"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/freeeve/framestore/internal/store"
)

// Options configures the router.
type Options struct {
	RateLimit   float64  // requests per second, 0 disables
	Burst       int      // rate limiter burst
	CORSOrigins []string // allowed origins, empty allows any
	DefaultDump int      // frames returned by /v1/dump without n, default 10
	Pprof       bool     // mount /debug/pprof
}

// Handler serves read-only views of a store.
type Handler struct {
	s    store.FramewiseStore
	opts Options
	log  zerolog.Logger
}

// NewRouter creates the HTTP API over s.
func NewRouter(log zerolog.Logger, s store.FramewiseStore, opts Options) http.Handler {
	if opts.DefaultDump <= 0 {
		opts.DefaultDump = 10
	}
	h := &Handler{s: s, opts: opts, log: log}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", h.health)
	mux.HandleFunc("GET /readyz", h.ready)
	mux.HandleFunc("GET /v1/stats", h.stats)
	mux.HandleFunc("GET /v1/frames", h.frames)
	mux.HandleFunc("GET /v1/frames/{frame}", h.frame)
	mux.HandleFunc("GET /v1/dump", h.dump)

	if opts.Pprof {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}

	handler := CORS(opts.CORSOrigins, RequestID(AccessLog(log, RateLimit(opts.RateLimit, opts.Burst, mux))))
	return handler
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// ready fails once the store has been closed.
func (h *Handler) ready(w http.ResponseWriter, r *http.Request) {
	if _, err := h.s.MaxFrame(); err != nil {
		h.storeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, toStatsResponse(h.s.Stats()))
}

func (h *Handler) frames(w http.ResponseWriter, r *http.Request) {
	frames, err := h.s.Frames()
	if err != nil {
		h.storeError(w, r, err)
		return
	}
	maxFrame := store.NoFrame
	if len(frames) > 0 {
		maxFrame = frames[len(frames)-1]
	}
	writeJSON(w, FramesResponse{
		TColumn:  h.s.TColumn(),
		MaxFrame: maxFrame,
		Count:    len(frames),
		Frames:   frames,
	})
}

func (h *Handler) frame(w http.ResponseWriter, r *http.Request) {
	idx, err := strconv.Atoi(r.PathValue("frame"))
	if err != nil || idx < 0 {
		writeError(w, http.StatusBadRequest, "invalid frame index")
		return
	}
	t, err := h.s.Get(idx)
	if err != nil {
		h.storeError(w, r, err)
		return
	}
	writeJSON(w, ToTableResponse(t, idx))
}

func (h *Handler) dump(w http.ResponseWriter, r *http.Request) {
	n := h.opts.DefaultDump
	if q := r.URL.Query().Get("n"); q != "" {
		v, err := strconv.Atoi(q)
		if err != nil || v < 0 {
			writeError(w, http.StatusBadRequest, "n must be a non-negative integer")
			return
		}
		n = v
	}
	t, err := h.s.Dump(n)
	if err != nil {
		h.storeError(w, r, err)
		return
	}
	writeJSON(w, ToTableResponse(t, -1))
}

func (h *Handler) storeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "frame not found")
	case errors.Is(err, store.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, "store is closed")
	default:
		h.log.Error().Err(err).Str("rid", GetRequestID(r.Context())).Msg("store error")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
