package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"horarios/internal/board"
	"horarios/internal/schedule"
)

type stubSource struct {
	mu        sync.Mutex
	board     *board.Board
	refreshOK bool
	refreshes int
}

func (s *stubSource) Board() *board.Board {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.board
}

func (s *stubSource) Refresh(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshes++
	if s.refreshOK && s.board != nil {
		s.board.Version++
	}
	return s.refreshOK
}

func sampleBoard(p schedule.Provenance, refreshed time.Time) *board.Board {
	return &board.Board{
		SnapshotID:  uuid.New(),
		Version:     1,
		Provenance:  p,
		Message:     p.Message(),
		RefreshedAt: refreshed,
		CurrentTime: "08:00:00",
		Weekday:     "lunes",
		Lines: []board.LineBoard{{
			Name: "Zona Oeste",
			Slug: "zona-oeste",
			Stops: []board.StopStatus{{
				Stop:     "Salida Terminal",
				Upcoming: []string{"08:05", "08:30"},
				Label:    "Próximo: 08:00 AHORA | Siguientes: 08:05, 08:30",
			}},
		}},
	}
}

func do(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestGetBoard(t *testing.T) {
	src := &stubSource{board: sampleBoard(schedule.ProvenanceRemote, time.Now())}
	r := NewRouter(src, Options{MaxAge: 15 * time.Second})

	rec := do(t, r, http.MethodGet, "/api/board")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "public, max-age=15", rec.Header().Get("Cache-Control"))

	var got board.Board
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, schedule.ProvenanceRemote, got.Provenance)
	require.Len(t, got.Lines, 1)
	assert.Equal(t, "Salida Terminal", got.Lines[0].Stops[0].Stop)
}

func TestGetBoardCachedPerVersion(t *testing.T) {
	b := sampleBoard(schedule.ProvenanceRemote, time.Now())
	src := &stubSource{board: b}
	h := NewHandler(src, time.Second)

	first := httptest.NewRecorder()
	h.GetBoard(first, httptest.NewRequest(http.MethodGet, "/api/board", nil))
	assert.Equal(t, 1, h.cache.Len(false))

	// same version: served from cache, even though the struct changed
	b.CurrentTime = "08:00:30"
	second := httptest.NewRecorder()
	h.GetBoard(second, httptest.NewRequest(http.MethodGet, "/api/board", nil))
	assert.Equal(t, first.Body.String(), second.Body.String())

	b.Version++
	third := httptest.NewRecorder()
	h.GetBoard(third, httptest.NewRequest(http.MethodGet, "/api/board", nil))
	assert.Contains(t, third.Body.String(), "08:00:30")
	assert.Equal(t, 2, h.cache.Len(false))
}

func TestGetBoardNotRendered(t *testing.T) {
	rec := do(t, NewRouter(&stubSource{}, Options{}), http.MethodGet, "/api/board")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "Board not rendered yet")
}

func TestGetLine(t *testing.T) {
	r := NewRouter(&stubSource{board: sampleBoard(schedule.ProvenanceBundled, time.Now())}, Options{})

	rec := do(t, r, http.MethodGet, "/api/lines/zona-oeste")
	require.Equal(t, http.StatusOK, rec.Code)
	var line board.LineBoard
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &line))
	assert.Equal(t, "Zona Oeste", line.Name)

	rec = do(t, r, http.MethodGet, "/api/lines/linea-z")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	var errResp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &errResp))
	assert.Equal(t, "linea-z", errResp.Details["slug"])
}

func TestHealth(t *testing.T) {
	refreshed := time.Date(2026, time.October, 19, 11, 0, 0, 0, time.UTC)
	tests := []struct {
		name       string
		board      *board.Board
		wantCode   int
		wantStatus string
	}{
		{"remote", sampleBoard(schedule.ProvenanceRemote, refreshed), http.StatusOK, "ok"},
		{"cache", sampleBoard(schedule.ProvenanceCache, refreshed), http.StatusOK, "ok"},
		{"unavailable", sampleBoard(schedule.ProvenanceUnavailable, refreshed), http.StatusServiceUnavailable, "unavailable"},
		{"not rendered", nil, http.StatusServiceUnavailable, "unavailable"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHandler(&stubSource{board: tt.board}, 0)
			h.now = func() time.Time { return refreshed.Add(90 * time.Second) }

			rec := httptest.NewRecorder()
			h.Health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
			require.Equal(t, tt.wantCode, rec.Code)

			var resp HealthResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tt.wantStatus, resp.Status)
			if tt.board != nil {
				assert.Equal(t, int64(90), resp.AgeSeconds)
				assert.Equal(t, tt.board.Provenance, resp.Provenance)
			}
		})
	}
}

func TestRefresh(t *testing.T) {
	src := &stubSource{board: sampleBoard(schedule.ProvenanceRemote, time.Now()), refreshOK: true}
	r := NewRouter(src, Options{})

	rec := do(t, r, http.MethodPost, "/api/refresh")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"version":2`)

	src.refreshOK = false
	rec = do(t, r, http.MethodPost, "/api/refresh")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, 2, src.refreshes)
}

func TestHealthzAndMetrics(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("horarios_up 1\n"))
	})
	r := NewRouter(&stubSource{}, Options{Metrics: metrics})

	rec := do(t, r, http.MethodGet, "/healthz")
	assert.Equal(t, "ok", rec.Body.String())

	rec = do(t, r, http.MethodGet, "/metrics")
	assert.True(t, strings.HasPrefix(rec.Body.String(), "horarios_up"))
}

func TestCORS(t *testing.T) {
	r := NewRouter(&stubSource{}, Options{AllowedOrigins: []string{"https://horarios.example"}})
	req := httptest.NewRequest(http.MethodOptions, "/api/board", nil)
	req.Header.Set("Origin", "https://horarios.example")
	req.Header.Set("Access-Control-Request-Method", "GET")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, "https://horarios.example", rec.Header().Get("Access-Control-Allow-Origin"))
}
