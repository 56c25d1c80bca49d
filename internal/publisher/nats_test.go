package publisher

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"horarios/internal/board"
	"horarios/internal/schedule"
)

type fakeConn struct {
	mu       sync.Mutex
	subjects []string
	payloads map[string][]byte
	failOn   string
}

func (c *fakeConn) Publish(subject string, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if subject == c.failOn {
		return errors.New("boom")
	}
	if c.payloads == nil {
		c.payloads = make(map[string][]byte)
	}
	c.subjects = append(c.subjects, subject)
	c.payloads[subject] = data
	return nil
}

type fakeMetrics struct {
	published, errs, observed int
}

func (m *fakeMetrics) NATSPublishedInc()            { m.published++ }
func (m *fakeMetrics) NATSPublishErrInc()           { m.errs++ }
func (m *fakeMetrics) PublishObserve(time.Duration) { m.observed++ }
func (m *fakeMetrics) NATSSetConnected(bool)        {}

func testBoard() *board.Board {
	return &board.Board{
		Provenance:  schedule.ProvenanceBundled,
		CurrentTime: "08:01:00",
		Weekday:     "lunes",
		Lines: []board.LineBoard{
			{Name: "Línea A", Slug: "linea-a", Stops: []board.StopStatus{{Stop: "Terminal", Upcoming: []string{}, Label: "Sin servicio", NoService: true}}},
			{Name: "Zona Oeste", Slug: "zona-oeste"},
		},
	}
}

func TestSubjectToken(t *testing.T) {
	tests := []struct{ in, want string }{
		{"zona-oeste", "zona-oeste"},
		{" a b ", "a_b"},
		{"x.y>*", "x_y__"},
		{"", "_"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, subjectToken(tt.in), tt.in)
	}
	assert.Equal(t, "horarios.vm", subjectPrefix(" .horarios.vm. "))
}

func TestPublishBoard(t *testing.T) {
	conn := &fakeConn{}
	m := &fakeMetrics{}
	p := NewPublisher(conn, "horarios", false, m)

	require.NoError(t, p.PublishBoard(testBoard()))
	assert.Equal(t, []string{"horarios.linea-a", "horarios.zona-oeste", "horarios.board"}, conn.subjects)
	assert.Equal(t, 3, m.published)
	assert.Equal(t, 3, m.observed)

	var msg LineMessage
	require.NoError(t, json.Unmarshal(conn.payloads["horarios.linea-a"], &msg))
	assert.Equal(t, "bundled-fallback", msg.Provenance)
	assert.Equal(t, "Terminal", msg.Line.Stops[0].Stop)
	assert.Equal(t, "lunes", msg.Weekday)
}

func TestPublishBoardContinuesAfterError(t *testing.T) {
	conn := &fakeConn{failOn: "horarios.linea-a"}
	m := &fakeMetrics{}
	p := NewPublisher(conn, "horarios", true, m)

	err := p.PublishBoard(testBoard())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "horarios.linea-a")
	assert.Equal(t, []string{"horarios.zona-oeste", "horarios.board"}, conn.subjects)
	assert.Equal(t, 1, m.errs)
}
