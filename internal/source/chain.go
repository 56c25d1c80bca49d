package source

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"horarios/internal/cache"
	"horarios/internal/schedule"
)

const DefaultTimeout = 5 * time.Second

// Failure reasons reported to Metrics.
const (
	ReasonTimeout  = "timeout"
	ReasonError    = "error"
	ReasonEmpty    = "empty"
	ReasonDisabled = "disabled"
)

var (
	ErrEmpty    = errors.New("no usable lines")
	errDisabled = errors.New("tier not configured")
)

// RemoteStore reads the remote lines collection.
type RemoteStore interface {
	FetchLines(ctx context.Context) ([]schedule.Document, error)
}

// SnapshotStore persists the last remote dataset.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, ds schedule.Dataset, at time.Time) error
	LoadSnapshot(ctx context.Context) (cache.Snapshot, error)
}

type Metrics interface {
	ObserveTier(tier schedule.Provenance, reason string, d time.Duration)
	AddInvalidDocuments(n int)
	IncCacheWriteErrors()
}

// TierFailure is a diagnostic for a tier that did not produce data.
type TierFailure struct {
	Tier   schedule.Provenance
	Reason string
	Err    error
}

func (f TierFailure) Error() string {
	return fmt.Sprintf("%s: %s: %v", f.Tier, f.Reason, f.Err)
}

type Result struct {
	Dataset    schedule.Dataset
	Provenance schedule.Provenance
	SnapshotID uuid.UUID
	LoadedAt   time.Time
	CachedAt   *time.Time // set for persisted-cache
	Failures   []TierFailure
}

// Chain tries remote, bundled and cached data in that order, once each, and
// returns the first non-empty dataset. Tiers left nil count as failed.
type Chain struct {
	Remote  RemoteStore
	Bundled func() schedule.Dataset
	Cache   SnapshotStore
	Timeout time.Duration
	Metrics Metrics
	Now     func() time.Time
}

// Load runs the chain. It never returns an error: when every tier fails the
// result has provenance unavailable and an empty dataset.
func (c *Chain) Load(ctx context.Context) Result {
	res := Result{SnapshotID: uuid.New(), LoadedAt: c.now()}

	fail := func(tier schedule.Provenance, reason string, err error, d time.Duration) {
		res.Failures = append(res.Failures, TierFailure{Tier: tier, Reason: reason, Err: err})
		log.Printf("warning: %s tier failed (%s): %v", tier, reason, err)
		c.observe(tier, reason, d)
	}

	start := time.Now()
	ds, err := c.loadRemote(ctx)
	if err == nil {
		c.observe(schedule.ProvenanceRemote, "", time.Since(start))
		res.Dataset, res.Provenance = ds, schedule.ProvenanceRemote
		if c.Cache != nil {
			if err := c.Cache.SaveSnapshot(ctx, ds, res.LoadedAt); err != nil {
				log.Printf("warning: save snapshot: %v", err)
				if c.Metrics != nil {
					c.Metrics.IncCacheWriteErrors()
				}
			}
		}
		log.Printf("schedule loaded from remote store (%d lines)", len(ds))
		return res
	}
	fail(schedule.ProvenanceRemote, reasonFor(err), err, time.Since(start))

	start = time.Now()
	if c.Bundled == nil {
		fail(schedule.ProvenanceBundled, ReasonDisabled, errDisabled, 0)
	} else if ds := c.Bundled(); ds.Empty() {
		fail(schedule.ProvenanceBundled, ReasonEmpty, ErrEmpty, time.Since(start))
	} else {
		c.observe(schedule.ProvenanceBundled, "", time.Since(start))
		res.Dataset, res.Provenance = ds, schedule.ProvenanceBundled
		log.Printf("using bundled schedule (%d lines)", len(ds))
		return res
	}

	start = time.Now()
	snap, err := c.loadCache(ctx)
	if err == nil {
		c.observe(schedule.ProvenanceCache, "", time.Since(start))
		res.Dataset, res.Provenance = snap.Dataset, schedule.ProvenanceCache
		if !snap.SavedAt.IsZero() {
			at := snap.SavedAt
			res.CachedAt = &at
		}
		log.Printf("using cached schedule (%d lines, saved %s)", len(snap.Dataset), formatSavedAt(snap.SavedAt))
		return res
	}
	fail(schedule.ProvenanceCache, reasonFor(err), err, time.Since(start))

	res.Dataset, res.Provenance = schedule.Dataset{}, schedule.ProvenanceUnavailable
	log.Printf("no schedule data available (remote, bundled nor cache)")
	return res
}

type fetchResult struct {
	docs []schedule.Document
	err  error
}

func (c *Chain) loadRemote(ctx context.Context) (schedule.Dataset, error) {
	if c.Remote == nil {
		return nil, errDisabled
	}
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// The store may not honor ctx; a late answer is discarded.
	ch := make(chan fetchResult, 1)
	go func() {
		docs, err := c.Remote.FetchLines(ctx)
		ch <- fetchResult{docs: docs, err: err}
	}()

	var fr fetchResult
	select {
	case fr = <-ch:
	case <-ctx.Done():
		return nil, fmt.Errorf("fetch lines: %w", ctx.Err())
	}
	if fr.err != nil {
		return nil, fmt.Errorf("fetch lines: %w", fr.err)
	}

	lines := make([]schedule.Line, 0, len(fr.docs))
	var invalid int
	for _, d := range fr.docs {
		l, err := schedule.DecodeDocument(d.Raw)
		if err != nil {
			invalid++
			log.Printf("warning: dropping line document %s: %v", d.ID, err)
			continue
		}
		lines = append(lines, l)
	}
	ds, errs := schedule.FromLines(lines)
	for _, err := range errs {
		invalid++
		log.Printf("warning: dropping line: %v", err)
	}
	if invalid > 0 && c.Metrics != nil {
		c.Metrics.AddInvalidDocuments(invalid)
	}
	if ds.Empty() {
		return nil, ErrEmpty
	}
	return ds, nil
}

func (c *Chain) loadCache(ctx context.Context) (cache.Snapshot, error) {
	if c.Cache == nil {
		return cache.Snapshot{}, errDisabled
	}
	snap, err := c.Cache.LoadSnapshot(ctx)
	if err != nil {
		return cache.Snapshot{}, err
	}
	if snap.Dataset.Empty() {
		return cache.Snapshot{}, ErrEmpty
	}
	return snap, nil
}

func reasonFor(err error) string {
	switch {
	case errors.Is(err, errDisabled):
		return ReasonDisabled
	case errors.Is(err, context.DeadlineExceeded):
		return ReasonTimeout
	case errors.Is(err, ErrEmpty), errors.Is(err, cache.ErrNotFound):
		return ReasonEmpty
	default:
		return ReasonError
	}
}

func (c *Chain) observe(tier schedule.Provenance, reason string, d time.Duration) {
	if c.Metrics != nil {
		c.Metrics.ObserveTier(tier, reason, d)
	}
}

func (c *Chain) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

func formatSavedAt(t time.Time) string {
	if t.IsZero() {
		return "unknown"
	}
	return t.Format(time.RFC3339)
}
