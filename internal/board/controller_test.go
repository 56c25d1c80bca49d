package board

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"horarios/internal/clock"
	"horarios/internal/schedule"
	"horarios/internal/source"
	"horarios/internal/stops"
)

var art = time.FixedZone("ART", -3*60*60)

// Monday 2026-10-19.
func monday(h, m int) time.Time {
	return time.Date(2026, time.October, 19, h, m, 0, 0, art)
}

func testDataset() schedule.Dataset {
	return schedule.Dataset{
		"Zona Oeste": {
			Name:  "Zona Oeste",
			Stops: []string{"Salida Terminal", "Chacabuco y Güemes", "Policlinico"},
			Schedules: map[string]schedule.Day{
				"lunes": {
					"Salida Terminal":    {"08:00", "08:05", "08:30", "09:00"},
					"Chacabuco y Guemes": {"05:30", "07:02"},
				},
				"martes": {
					"Salida Terminal":    {"06:47"},
					"Chacabuco y Guemes": {"05:45"},
				},
			},
		},
		"Línea A": {
			Name:  "Línea A",
			Stops: []string{"Terminal"},
			Schedules: map[string]schedule.Day{
				"lunes": {"Terminal": {"05:18", "8:5", "23:30"}},
			},
		},
	}
}

func aliases(t *testing.T) *stops.AliasTable {
	t.Helper()
	table, err := stops.NewAliasTable([]stops.Alias{{Variant: "Chacabuco y Güemes", Canonical: "Chacabuco y Guemes"}})
	require.NoError(t, err)
	return table
}

func result(p schedule.Provenance) source.Result {
	return source.Result{Dataset: testDataset(), Provenance: p, SnapshotID: uuid.New(), LoadedAt: monday(8, 0)}
}

func TestBuild(t *testing.T) {
	b, stats := Build(result(schedule.ProvenanceRemote), clock.Capture(monday(8, 1)), BuildOptions{Aliases: aliases(t)})

	require.Len(t, b.Lines, 2)
	assert.Equal(t, "Línea A", b.Lines[0].Name, "lines are sorted by name")
	assert.Equal(t, "zona-oeste", b.Lines[1].Slug)
	assert.Equal(t, "lunes", b.Weekday)
	assert.Equal(t, "08:01:00", b.CurrentTime)
	assert.Equal(t, schedule.ProvenanceRemote.Message(), b.Message)

	zo := b.Lines[1].Stops
	require.Len(t, zo, 3)

	require.NotNil(t, zo[0].Next)
	assert.Equal(t, "08:05", zo[0].Next.Time)
	assert.False(t, zo[0].Next.IsNow)
	assert.Equal(t, []string{"08:30", "09:00"}, zo[0].Upcoming)

	assert.Nil(t, zo[1].Next, "alias resolves, but the day is over")
	assert.Equal(t, []string{"05:30"}, zo[1].Upcoming)
	assert.True(t, zo[1].Tomorrow)

	assert.True(t, zo[2].NoService)
	assert.Equal(t, "Sin servicio", zo[2].Label)
	assert.Equal(t, []string{"Zona Oeste/Policlinico"}, stats.Unresolved)

	la := b.Lines[0].Stops[0]
	require.NotNil(t, la.Next)
	assert.Equal(t, "23:30", la.Next.Time)
	assert.Equal(t, 1, stats.Malformed)
}

func TestBuildNextDayRollover(t *testing.T) {
	b, _ := Build(result(schedule.ProvenanceRemote), clock.Capture(monday(23, 35)),
		BuildOptions{Aliases: aliases(t), NextDayRollover: true})

	zo, ok := b.Line("zona-oeste")
	require.True(t, ok)
	assert.Equal(t, []string{"06:47"}, zo.Stops[0].Upcoming, "first tuesday departure")
	assert.Equal(t, []string{"05:45"}, zo.Stops[1].Upcoming)

	la, _ := b.Line("linea-a")
	assert.True(t, la.Stops[0].NoService, "no tuesday table for this line")
}

func TestBuildSameDayRollover(t *testing.T) {
	b, _ := Build(result(schedule.ProvenanceRemote), clock.Capture(monday(23, 35)), BuildOptions{Aliases: aliases(t)})
	zo, _ := b.Line("zona-oeste")
	assert.Equal(t, []string{"08:00"}, zo.Stops[0].Upcoming, "monday's first departure again")
	assert.Equal(t, "Mañana: 08:00", zo.Stops[0].Label)
}

func TestBuildWeekdayOverride(t *testing.T) {
	sunday := time.Date(2026, time.October, 18, 8, 1, 0, 0, art)
	b, _ := Build(result(schedule.ProvenanceBundled), clock.Capture(sunday), BuildOptions{Weekday: "lunes"})
	zo, _ := b.Line("zona-oeste")
	require.NotNil(t, zo.Stops[0].Next)
	assert.Equal(t, "lunes", b.Weekday)
}

func TestBoardJSON(t *testing.T) {
	b, _ := Build(result(schedule.ProvenanceRemote), clock.Capture(monday(8, 0)), BuildOptions{})
	raw, err := json.Marshal(b)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "remote", decoded["provenance"])
	lines := decoded["lines"].([]any)
	stop := lines[1].(map[string]any)["stops"].([]any)[0].(map[string]any)
	assert.Equal(t, map[string]any{"time": "08:00", "isNow": true}, stop["next"])

	noService := lines[1].(map[string]any)["stops"].([]any)[2].(map[string]any)
	assert.Nil(t, noService["next"])
	assert.Equal(t, []any{}, noService["upcoming"])
}

type scriptedLoader struct {
	mu      sync.Mutex
	results []source.Result
	calls   int
	gate    chan struct{}
}

func (l *scriptedLoader) Load(ctx context.Context) source.Result {
	if l.gate != nil {
		<-l.gate
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	r := l.results[l.calls%len(l.results)]
	l.calls++
	return r
}

type recordingSink struct {
	mu     sync.Mutex
	boards []*Board
}

func (s *recordingSink) PublishBoard(b *Board) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.boards = append(s.boards, b)
	return nil
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.boards)
}

type countingMetrics struct {
	started, skipped, discarded, committed, renders atomic.Int32
}

func (m *countingMetrics) RefreshStarted() { m.started.Add(1) }
func (m *countingMetrics) RefreshSkip()    { m.skipped.Add(1) }
func (m *countingMetrics) RefreshDiscard() { m.discarded.Add(1) }
func (m *countingMetrics) RefreshCommitted(schedule.Provenance, int, time.Time, time.Duration) {
	m.committed.Add(1)
}
func (m *countingMetrics) ObserveRender(time.Duration, int, int) { m.renders.Add(1) }

func fixedClock() time.Time { return monday(8, 0) }

func TestRefreshCommitsAndPublishes(t *testing.T) {
	loader := &scriptedLoader{results: []source.Result{result(schedule.ProvenanceRemote)}}
	sink := &recordingSink{}
	m := &countingMetrics{}
	c := NewController(loader, Options{Location: art, Now: fixedClock, Metrics: m}, sink)

	assert.Nil(t, c.Board())
	assert.Equal(t, schedule.ProvenanceUnavailable, c.Current().Provenance)

	require.True(t, c.Refresh(context.Background()))
	require.NotNil(t, c.Board())
	assert.Equal(t, schedule.ProvenanceRemote, c.Board().Provenance)
	assert.Equal(t, 1, sink.count())
	assert.EqualValues(t, 1, m.committed.Load())

	c.Render()
	assert.Equal(t, uint64(2), c.Board().Version)
	assert.Equal(t, 2, sink.count())
}

func TestRefreshOverlapSkipped(t *testing.T) {
	gate := make(chan struct{})
	loader := &scriptedLoader{results: []source.Result{result(schedule.ProvenanceRemote)}, gate: gate}
	m := &countingMetrics{}
	c := NewController(loader, Options{Location: art, Now: fixedClock, Metrics: m})

	done := make(chan bool)
	go func() { done <- c.Refresh(context.Background()) }()

	require.Eventually(t, func() bool { return c.refreshing.Load() }, time.Second, time.Millisecond)
	assert.False(t, c.Refresh(context.Background()), "overlapping refresh is skipped")
	assert.EqualValues(t, 1, m.skipped.Load())

	close(gate)
	assert.True(t, <-done)
	assert.EqualValues(t, 1, m.started.Load())
}

func TestCommitLastWriterWins(t *testing.T) {
	m := &countingMetrics{}
	c := NewController(&scriptedLoader{}, Options{Location: art, Metrics: m})

	newer := result(schedule.ProvenanceRemote)
	older := result(schedule.ProvenanceBundled)

	assert.True(t, c.commit(2, newer))
	assert.False(t, c.commit(1, older), "older run finishing late is discarded")
	assert.Equal(t, newer.SnapshotID, c.Current().SnapshotID)
	assert.EqualValues(t, 1, m.discarded.Load())
}

// ctxLoader mimics the chain: a cancelled ctx fails the remote tier and the
// bundled data is returned instead.
type ctxLoader struct{}

func (ctxLoader) Load(ctx context.Context) source.Result {
	if ctx.Err() != nil {
		return result(schedule.ProvenanceBundled)
	}
	return result(schedule.ProvenanceRemote)
}

func TestCancelledRefreshKeepsCurrentData(t *testing.T) {
	sink := &recordingSink{}
	m := &countingMetrics{}
	c := NewController(ctxLoader{}, Options{Location: art, Now: fixedClock, Metrics: m}, sink)

	require.True(t, c.Refresh(context.Background()))
	remote := c.Current()
	require.Equal(t, schedule.ProvenanceRemote, remote.Provenance)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.False(t, c.Refresh(ctx))
	assert.Equal(t, schedule.ProvenanceRemote, c.Current().Provenance)
	assert.Equal(t, remote.SnapshotID, c.Current().SnapshotID)
	assert.Equal(t, schedule.ProvenanceRemote, c.Board().Provenance)
	assert.Equal(t, 1, sink.count(), "no render for the cancelled run")
	assert.EqualValues(t, 1, m.discarded.Load())
	assert.EqualValues(t, 1, m.committed.Load())
	assert.False(t, c.refreshing.Load())

	require.True(t, c.Refresh(context.Background()), "later refreshes still commit")
}

func TestUnavailableBoard(t *testing.T) {
	loader := &scriptedLoader{results: []source.Result{{Provenance: schedule.ProvenanceUnavailable, Dataset: schedule.Dataset{}}}}
	c := NewController(loader, Options{Location: art, Now: fixedClock})

	require.True(t, c.Refresh(context.Background()))
	b := c.Board()
	assert.Equal(t, schedule.ProvenanceUnavailable, b.Provenance)
	assert.Empty(t, b.Lines)
	assert.Contains(t, b.Message, "No hay datos disponibles")
}

func TestTimersStartAndStop(t *testing.T) {
	loader := &scriptedLoader{results: []source.Result{result(schedule.ProvenanceRemote)}}
	sink := &recordingSink{}
	c := NewController(loader, Options{
		Location:        art,
		Now:             fixedClock,
		RefreshInterval: 20 * time.Millisecond,
		RenderInterval:  5 * time.Millisecond,
	}, sink)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.StartRefresher(ctx)
	c.StartRenderer(ctx)

	require.Eventually(t, func() bool { return sink.count() >= 5 }, 2*time.Second, time.Millisecond)
	c.Stop()

	n := sink.count()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, n, sink.count(), "no renders after Stop")
}
