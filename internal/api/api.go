// Package api exposes a recording session over HTTP.
//
// Commands are plain POST requests returning the resulting state. The state
// is also streamed as JSON over a websocket at /api/state/ws, throttled so
// live amplitude updates never flood a slow client. Session list changes
// are pushed over /api/sessions/ws.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/MrWong99/voxnote/internal/recording"
	"github.com/MrWong99/voxnote/internal/store"
)

const (
	defaultCommandTimeout = 30 * time.Second
	defaultStreamInterval = 50 * time.Millisecond
)

// Recorder is the subset of [recording.Session] the handlers drive.
type Recorder interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	EndSession(ctx context.Context) error
	ClearTranscript(ctx context.Context) error
	RemoveLastWord(ctx context.Context) error
	State() recording.State
	Updates() (<-chan struct{}, func())
}

var _ Recorder = (*recording.Session)(nil)

// Option is a functional option for [NewHandler].
type Option func(*Handler)

// WithCommandTimeout bounds how long a command such as stop may wait for
// the transcription pipeline to drain.
func WithCommandTimeout(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.cmdTimeout = d
		}
	}
}

// WithStreamInterval sets the minimum time between two websocket state
// messages.
func WithStreamInterval(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.interval = d
		}
	}
}

// Handler serves the recording API.
type Handler struct {
	rec        Recorder
	store      store.Store
	cmdTimeout time.Duration
	interval   time.Duration
}

// NewHandler creates a Handler for rec and the sessions in st.
func NewHandler(rec Recorder, st store.Store, opts ...Option) *Handler {
	h := &Handler{
		rec:        rec,
		store:      st,
		cmdTimeout: defaultCommandTimeout,
		interval:   defaultStreamInterval,
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// RegisterRoutes registers all API routes on mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/state", h.GetState)
	mux.HandleFunc("GET /api/state/ws", h.StreamState)
	mux.HandleFunc("POST /api/start", h.command(h.rec.Start))
	mux.HandleFunc("POST /api/stop", h.command(h.rec.Stop))
	mux.HandleFunc("POST /api/end", h.command(h.rec.EndSession))
	mux.HandleFunc("POST /api/clear", h.command(h.rec.ClearTranscript))
	mux.HandleFunc("POST /api/undo", h.command(h.rec.RemoveLastWord))
	mux.HandleFunc("GET /api/sessions", h.ListSessions)
	mux.HandleFunc("GET /api/sessions/ws", h.StreamSessions)
	mux.HandleFunc("GET /api/sessions/{id}", h.GetSession)
	mux.HandleFunc("DELETE /api/sessions/{id}", h.DeleteSession)
}

// GetState handles GET /api/state.
func (h *Handler) GetState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, toStateResponse(h.rec.State()))
}

// command wraps a Recorder command as a handler that answers with the
// resulting state.
func (h *Handler) command(fn func(context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), h.cmdTimeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			status := statusFor(err)
			if status >= http.StatusInternalServerError {
				slog.Warn("api command failed", "path", r.URL.Path, "err", err)
			}
			writeError(w, status, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, toStateResponse(h.rec.State()))
	}
}

// ListSessions handles GET /api/sessions.
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	metas, err := h.store.LoadAll(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}
	if metas == nil {
		metas = []store.Metadata{}
	}
	writeJSON(w, http.StatusOK, metas)
}

// GetSession handles GET /api/sessions/{id}.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.store.Load(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sess.Metadata)
}

// DeleteSession handles DELETE /api/sessions/{id}.
func (h *Handler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == h.rec.State().SessionID {
		writeError(w, http.StatusConflict, "cannot delete the active session")
		return
	}
	if err := h.store.Delete(r.Context(), id); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, recording.ErrNotRecording):
		return http.StatusConflict
	case errors.Is(err, recording.ErrUnavailable), errors.Is(err, recording.ErrNotInitialized):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

// ── responses ───────────────────────────────────────────────────────────────

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// UtteranceResponse is an utterance with its duration in seconds.
type UtteranceResponse struct {
	Index    int     `json:"index"`
	Duration float64 `json:"duration"`
	Text     string  `json:"text"`
}

// StateResponse mirrors [recording.State] with durations in seconds.
type StateResponse struct {
	IsRecording   bool                `json:"isRecording"`
	IsProcessing  bool                `json:"isProcessing"`
	Transcript    string              `json:"transcribedText"`
	Utterances    []UtteranceResponse `json:"utterances"`
	LiveAmplitude float32             `json:"liveAmplitude"`
	LiveBuckets   []float32           `json:"liveBuckets"`
	SessionID     string              `json:"sessionId"`
	Unavailable   bool                `json:"unavailable"`
}

func toStateResponse(st recording.State) StateResponse {
	resp := StateResponse{
		IsRecording:   st.IsRecording,
		IsProcessing:  st.IsProcessing,
		Transcript:    st.Transcript,
		Utterances:    make([]UtteranceResponse, 0, len(st.Utterances)),
		LiveAmplitude: st.LiveAmplitude,
		LiveBuckets:   st.LiveBuckets,
		SessionID:     st.SessionID,
		Unavailable:   st.Unavailable,
	}
	if resp.LiveBuckets == nil {
		resp.LiveBuckets = []float32{}
	}
	for _, u := range st.Utterances {
		resp.Utterances = append(resp.Utterances, UtteranceResponse{
			Index:    u.Index,
			Duration: u.Duration.Seconds(),
			Text:     u.Text,
		})
	}
	return resp
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}
