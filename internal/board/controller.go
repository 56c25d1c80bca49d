package board

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"horarios/internal/clock"
	"horarios/internal/schedule"
	"horarios/internal/source"
	"horarios/internal/stops"
)

// Loader produces a fresh dataset; *source.Chain is the production one.
type Loader interface {
	Load(ctx context.Context) source.Result
}

// Sink receives every rendered board.
type Sink interface {
	PublishBoard(b *Board) error
}

type Metrics interface {
	RefreshStarted()
	RefreshSkip()
	RefreshDiscard()
	RefreshCommitted(p schedule.Provenance, lines int, at time.Time, d time.Duration)
	ObserveRender(d time.Duration, unresolved, malformed int)
}

type Options struct {
	RefreshInterval time.Duration
	RenderInterval  time.Duration
	Location        *time.Location
	NextDayRollover bool
	Weekday         string // fixed weekday key; empty follows the clock
	Aliases         *stops.AliasTable
	Metrics         Metrics
	Now             func() time.Time
}

// Controller owns the current dataset and board, and the timers that refresh
// and re-render them.
type Controller struct {
	loader Loader
	sinks  []Sink
	opts   Options

	refreshing atomic.Bool
	seq        atomic.Uint64

	mu        sync.RWMutex
	current   source.Result
	committed uint64
	board     *Board

	renderMu sync.Mutex
	version  uint64
	warned   map[string]struct{}

	timersMu sync.Mutex
	cancels  []context.CancelFunc
	wg       sync.WaitGroup
}

func NewController(loader Loader, opts Options, sinks ...Sink) *Controller {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	return &Controller{
		loader:  loader,
		sinks:   sinks,
		opts:    opts,
		current: source.Result{Provenance: schedule.ProvenanceUnavailable, Dataset: schedule.Dataset{}},
		warned:  make(map[string]struct{}),
	}
}

// AddSink registers a sink for subsequent renders. Call before starting timers.
func (c *Controller) AddSink(s Sink) {
	c.renderMu.Lock()
	c.sinks = append(c.sinks, s)
	c.renderMu.Unlock()
}

// Refresh runs the data source chain and, if its result is the newest,
// commits it and renders. A call made while another refresh is running
// returns false immediately. A result produced after ctx was cancelled is
// discarded and the current data kept.
func (c *Controller) Refresh(ctx context.Context) bool {
	if !c.refreshing.CompareAndSwap(false, true) {
		if c.opts.Metrics != nil {
			c.opts.Metrics.RefreshSkip()
		}
		log.Printf("refresh still running, skipping tick")
		return false
	}
	defer c.refreshing.Store(false)

	seq := c.seq.Add(1)
	if c.opts.Metrics != nil {
		c.opts.Metrics.RefreshStarted()
	}
	start := time.Now()
	res := c.loader.Load(ctx)
	if err := ctx.Err(); err != nil {
		c.discard("refresh %d cancelled (%v), keeping %s", seq, err, c.Current().Provenance)
		return false
	}
	if !c.commit(seq, res) {
		return false
	}
	if c.opts.Metrics != nil {
		c.opts.Metrics.RefreshCommitted(res.Provenance, len(res.Dataset), res.LoadedAt, time.Since(start))
	}
	c.Render()
	return true
}

// commit installs res unless a result with a higher sequence number is
// already installed. Refresh is serialized by the refreshing flag, so the
// sequence check only guards commits made outside that flag.
func (c *Controller) commit(seq uint64, res source.Result) bool {
	c.mu.Lock()
	if have := c.committed; seq <= have {
		c.mu.Unlock()
		c.discard("discarding stale refresh %d (have %d)", seq, have)
		return false
	}
	c.current = res
	c.committed = seq
	c.mu.Unlock()

	c.renderMu.Lock()
	c.warned = make(map[string]struct{})
	c.renderMu.Unlock()
	return true
}

func (c *Controller) discard(format string, args ...any) {
	if c.opts.Metrics != nil {
		c.opts.Metrics.RefreshDiscard()
	}
	log.Printf(format, args...)
}

// Render resolves the current dataset against one clock capture and
// publishes the board to every sink.
func (c *Controller) Render() *Board {
	c.renderMu.Lock()
	defer c.renderMu.Unlock()

	start := time.Now()
	c.mu.RLock()
	res := c.current
	c.mu.RUnlock()

	wc := clock.Capture(c.now())
	b, stats := Build(res, wc, BuildOptions{
		Aliases:         c.opts.Aliases,
		NextDayRollover: c.opts.NextDayRollover,
		Weekday:         c.opts.Weekday,
	})
	c.version++
	b.Version = c.version
	logUnresolved(c.warned, b.Weekday, stats.Unresolved)

	c.mu.Lock()
	c.board = b
	c.mu.Unlock()

	for _, s := range c.sinks {
		if err := s.PublishBoard(b); err != nil {
			log.Printf("publish board error: %v", err)
		}
	}
	if c.opts.Metrics != nil {
		c.opts.Metrics.ObserveRender(time.Since(start), len(stats.Unresolved), stats.Malformed)
	}
	return b
}

// Board returns the latest rendered board, or nil before the first render.
func (c *Controller) Board() *Board {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.board
}

// Current returns the committed chain result.
func (c *Controller) Current() source.Result {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

// StartRefresher refreshes immediately and then every RefreshInterval. Each
// tick runs on its own goroutine; ticks that find a refresh in flight are
// skipped.
func (c *Controller) StartRefresher(parent context.Context) {
	if c.opts.RefreshInterval <= 0 {
		c.Refresh(parent)
		return
	}
	c.every(parent, c.opts.RefreshInterval, true, true, func(ctx context.Context) { c.Refresh(ctx) })
}

// StartRenderer re-renders every RenderInterval without reloading data, so
// next departures advance between refreshes.
func (c *Controller) StartRenderer(parent context.Context) {
	if c.opts.RenderInterval <= 0 {
		return
	}
	c.every(parent, c.opts.RenderInterval, false, false, func(context.Context) { c.Render() })
}

func (c *Controller) every(parent context.Context, d time.Duration, immediate, async bool, fn func(context.Context)) {
	ctx, cancel := context.WithCancel(parent)
	c.timersMu.Lock()
	c.cancels = append(c.cancels, cancel)
	c.timersMu.Unlock()

	run := func() {
		if !async {
			fn(ctx)
			return
		}
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			fn(ctx)
		}()
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if immediate {
			run()
		}
		ticker := time.NewTicker(d)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				run()
			}
		}
	}()
}

// Stop cancels both timers and waits for them to return.
func (c *Controller) Stop() {
	c.timersMu.Lock()
	for _, cancel := range c.cancels {
		cancel()
	}
	c.cancels = nil
	c.timersMu.Unlock()
	c.wg.Wait()
}

func (c *Controller) now() time.Time {
	if c.opts.Now != nil {
		return c.opts.Now().In(c.opts.Location)
	}
	return time.Now().In(c.opts.Location)
}
