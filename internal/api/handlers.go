package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/bluele/gcache"
	"github.com/go-chi/chi/v5"

	"horarios/internal/board"
	"horarios/internal/schedule"
)

// BoardSource is what the handlers read from; *board.Controller implements it.
type BoardSource interface {
	Board() *board.Board
	Refresh(ctx context.Context) bool
}

// ErrorResponse is the JSON body of every non-2xx response.
type ErrorResponse struct {
	Error   string                 `json:"error"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// HealthResponse is the JSON response for GET /health
type HealthResponse struct {
	Status      string              `json:"status"`
	Provenance  schedule.Provenance `json:"provenance"`
	Message     string              `json:"message"`
	SnapshotID  string              `json:"snapshotId,omitempty"`
	Lines       int                 `json:"lines"`
	RefreshedAt *time.Time          `json:"refreshedAt,omitempty"`
	AgeSeconds  int64               `json:"ageSeconds"`
	CachedAt    *time.Time          `json:"cachedAt,omitempty"`
	Timestamp   time.Time           `json:"timestamp"`
}

// Handler serves the rendered board over HTTP.
type Handler struct {
	src    BoardSource
	cache  gcache.Cache
	maxAge int
	now    func() time.Time
}

// NewHandler creates a handler backed by src. Encoded responses are kept in
// an LRU keyed by board version, so repeated polls between renders reuse them.
func NewHandler(src BoardSource, maxAge time.Duration) *Handler {
	return &Handler{
		src: src,
		cache: gcache.New(64).
			LRU().
			Expiration(10 * time.Minute).
			Build(),
		maxAge: int(maxAge / time.Second),
		now:    time.Now,
	}
}

// GetBoard handles GET /api/board
func (h *Handler) GetBoard(w http.ResponseWriter, r *http.Request) {
	b := h.src.Board()
	if b == nil {
		writeError(w, http.StatusServiceUnavailable, ErrorResponse{Error: "Board not rendered yet"})
		return
	}
	h.writeCached(w, fmt.Sprintf("board:%s:%d", b.SnapshotID, b.Version), b)
}

// GetLine handles GET /api/lines/{slug}
// Returns the stops of a single line from the latest board.
func (h *Handler) GetLine(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	b := h.src.Board()
	if b == nil {
		writeError(w, http.StatusServiceUnavailable, ErrorResponse{Error: "Board not rendered yet"})
		return
	}
	line, ok := b.Line(slug)
	if !ok {
		writeError(w, http.StatusNotFound, ErrorResponse{
			Error:   "Line not found",
			Details: map[string]interface{}{"slug": slug},
		})
		return
	}
	h.writeCached(w, fmt.Sprintf("line:%s:%s:%d", slug, b.SnapshotID, b.Version), line)
}

// Health handles GET /health
// Reports which tier served the data and how old it is; 503 when no tier did.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	now := h.now().UTC()
	resp := HealthResponse{
		Status:     "unavailable",
		Provenance: schedule.ProvenanceUnavailable,
		Message:    schedule.ProvenanceUnavailable.Message(),
		Timestamp:  now,
	}
	b := h.src.Board()
	if b != nil {
		resp.Provenance = b.Provenance
		resp.Message = b.Message
		resp.Lines = len(b.Lines)
		resp.CachedAt = b.CachedAt
		if !b.RefreshedAt.IsZero() {
			at := b.RefreshedAt.UTC()
			resp.RefreshedAt = &at
			resp.AgeSeconds = int64(now.Sub(at) / time.Second)
		}
		if b.Provenance != schedule.ProvenanceUnavailable {
			resp.Status = "ok"
			resp.SnapshotID = b.SnapshotID.String()
		}
	}

	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}

// Refresh handles POST /api/refresh
// Runs the data source chain now; 409 when a refresh is already in flight.
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	if !h.src.Refresh(r.Context()) {
		writeError(w, http.StatusConflict, ErrorResponse{Error: "Refresh already running or superseded"})
		return
	}
	b := h.src.Board()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"refreshed":  true,
		"provenance": b.Provenance,
		"version":    b.Version,
	})
}

func (h *Handler) writeCached(w http.ResponseWriter, key string, v any) {
	var body []byte
	if cached, err := h.cache.Get(key); err == nil {
		body = cached.([]byte)
	} else {
		encoded, err := json.Marshal(v)
		if err != nil {
			log.Printf("encode %s: %v", key, err)
			writeError(w, http.StatusInternalServerError, ErrorResponse{Error: "Failed to encode response"})
			return
		}
		body = encoded
		h.cache.Set(key, body)
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", fmt.Sprintf("public, max-age=%d", h.maxAge))
	w.Header().Set("Vary", "Accept-Encoding")
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

func writeError(w http.ResponseWriter, status int, resp ErrorResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}
