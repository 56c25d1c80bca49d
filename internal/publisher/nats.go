package publisher

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"horarios/internal/board"
)

// Conn is the subset of *nats.Conn used for publishing.
type Conn interface {
	Publish(subject string, data []byte) error
}

type NATSPublisher struct {
	nc          *nats.Conn
	conn        Conn
	prefix      string
	logSubjects bool
	metrics     PublisherMetrics
}

type PublisherMetrics interface {
	NATSPublishedInc()
	NATSPublishErrInc()
	PublishObserve(d time.Duration)
	NATSSetConnected(connected bool)
}

func NewNATSPublisher(url, prefix string, logSubjects bool, m PublisherMetrics) (*NATSPublisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("horarios-board"),
		nats.DisconnectHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			log.Printf("nats disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(true)
			}
			log.Printf("nats reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			log.Printf("nats closed")
		}),
	)
	if err != nil {
		return nil, err
	}
	if m != nil {
		m.NATSSetConnected(true)
	}
	p := NewPublisher(nc, prefix, logSubjects, m)
	p.nc = nc
	return p, nil
}

// NewPublisher wraps an existing connection.
func NewPublisher(conn Conn, prefix string, logSubjects bool, m PublisherMetrics) *NATSPublisher {
	return &NATSPublisher{conn: conn, prefix: subjectPrefix(prefix), logSubjects: logSubjects, metrics: m}
}

func (p *NATSPublisher) Close() {
	if p.nc != nil {
		p.nc.Drain()
		p.nc.Close()
	}
}

// LineMessage is published for each line on <prefix>.<slug>.
type LineMessage struct {
	SnapshotID  string          `json:"snapshotId"`
	Provenance  string          `json:"provenance"`
	GeneratedAt time.Time       `json:"generatedAt"`
	CurrentTime string          `json:"currentTime"`
	Weekday     string          `json:"weekday"`
	Line        board.LineBoard `json:"line"`
}

// PublishBoard sends every line to its own subject and the whole board to
// <prefix>.board. All lines are attempted; the first error is returned.
func (p *NATSPublisher) PublishBoard(b *board.Board) error {
	var errs []error
	for _, l := range b.Lines {
		msg := LineMessage{
			SnapshotID:  b.SnapshotID.String(),
			Provenance:  string(b.Provenance),
			GeneratedAt: b.GeneratedAt,
			CurrentTime: b.CurrentTime,
			Weekday:     b.Weekday,
			Line:        l,
		}
		if err := p.PublishLine(msg); err != nil {
			errs = append(errs, err)
		}
	}
	if err := p.publishJSON(p.prefix+".board", b); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}

func (p *NATSPublisher) PublishLine(msg LineMessage) error {
	return p.publishJSON(fmt.Sprintf("%s.%s", p.prefix, subjectToken(msg.Line.Slug)), msg)
}

func (p *NATSPublisher) publishJSON(subject string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if p.logSubjects {
		log.Printf("nats publish subject=%s", subject)
	}
	start := time.Now()
	err = p.conn.Publish(subject, b)
	if p.metrics != nil {
		p.metrics.PublishObserve(time.Since(start))
		if err != nil {
			p.metrics.NATSPublishErrInc()
		} else {
			p.metrics.NATSPublishedInc()
		}
	}
	if err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

func subjectToken(s string) string {
	s = strings.TrimSpace(s)
	// NATS token cannot contain spaces, '>', '*', or trailing '.'
	repl := strings.NewReplacer(" ", "_", ".", "_", ">", "_", "*", "_", "/", "_", "\t", "_")
	s = repl.Replace(s)
	if s == "" {
		s = "_"
	}
	return s
}

// subjectPrefix sanitizes each dot-separated token of prefix.
func subjectPrefix(prefix string) string {
	parts := strings.Split(strings.Trim(strings.TrimSpace(prefix), "."), ".")
	for i, part := range parts {
		parts[i] = subjectToken(part)
	}
	return strings.Join(parts, ".")
}
