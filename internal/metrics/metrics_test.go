package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"horarios/internal/schedule"
)

func TestObserveTier(t *testing.T) {
	c := NewCollector(time.Minute, 30*time.Second, 5*time.Second)

	c.ObserveTier(schedule.ProvenanceRemote, "timeout", 5*time.Second)
	c.ObserveTier(schedule.ProvenanceBundled, "", time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.TierAttempts.WithLabelValues("remote", "timeout")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.TierAttempts.WithLabelValues("bundled-fallback", "ok")))
	assert.Equal(t, 60.0, testutil.ToFloat64(c.RefreshInterval))
}

func TestRefreshCommittedSwitchesProvenance(t *testing.T) {
	c := NewCollector(time.Minute, 30*time.Second, 5*time.Second)
	at := time.Unix(1_800_000_000, 0)

	c.RefreshCommitted(schedule.ProvenanceRemote, 4, at, time.Second)
	c.RefreshCommitted(schedule.ProvenanceCache, 3, at, time.Second)

	assert.Equal(t, 0.0, testutil.ToFloat64(c.Provenance.WithLabelValues("remote")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Provenance.WithLabelValues("persisted-cache")))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.DatasetLines))
	assert.Equal(t, float64(at.Unix()), testutil.ToFloat64(c.LastRefresh))
}

func TestHandler(t *testing.T) {
	c := NewCollector(time.Minute, 30*time.Second, 5*time.Second)
	c.RefreshSkip()

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "horarios_refresh_skipped_total 1"))
	assert.Contains(t, body, `horarios_dataset_provenance{provenance="unavailable"} 0`)
}
