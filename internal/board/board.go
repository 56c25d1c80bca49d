package board

import (
	"log"
	"time"

	"github.com/google/uuid"

	"horarios/internal/clock"
	"horarios/internal/departures"
	"horarios/internal/schedule"
	"horarios/internal/source"
	"horarios/internal/stops"
)

// Board is what every render sink receives.
type Board struct {
	SnapshotID  uuid.UUID           `json:"snapshotId"`
	Version     uint64              `json:"version"`
	Provenance  schedule.Provenance `json:"provenance"`
	Message     string              `json:"message"`
	GeneratedAt time.Time           `json:"generatedAt"`
	RefreshedAt time.Time           `json:"refreshedAt"`
	CachedAt    *time.Time          `json:"cachedAt,omitempty"`
	CurrentTime string              `json:"currentTime"`
	CurrentDate string              `json:"currentDate"`
	Weekday     string              `json:"weekday"`
	Lines       []LineBoard         `json:"lines"`
}

// Line returns the line with the given slug.
func (b *Board) Line(slug string) (LineBoard, bool) {
	for _, l := range b.Lines {
		if l.Slug == slug {
			return l, true
		}
	}
	return LineBoard{}, false
}

type LineBoard struct {
	Name  string       `json:"name"`
	Slug  string       `json:"slug"`
	Stops []StopStatus `json:"stops"`
}

type StopStatus struct {
	Stop      string                `json:"stop"`
	Next      *departures.Departure `json:"next"`
	Upcoming  []string              `json:"upcoming"`
	Tomorrow  bool                  `json:"tomorrow"`
	NoService bool                  `json:"noService"`
	Label     string                `json:"label"`
}

// BuildOptions control how a board is resolved.
type BuildOptions struct {
	Aliases         *stops.AliasTable
	NextDayRollover bool
	// Weekday, when set, replaces the weekday key taken from the clock.
	Weekday string
}

// BuildStats are data-quality counters for one build.
type BuildStats struct {
	Unresolved []string // "line/stop" pairs with no table entry for the day
	Malformed  int
}

// Build resolves every (line, stop) pair of res against the single clock
// capture wc.
func Build(res source.Result, wc clock.WallClock, opt BuildOptions) (*Board, BuildStats) {
	day := wc.WeekdayKey
	if opt.Weekday != "" {
		day = opt.Weekday
	}
	b := &Board{
		SnapshotID:  res.SnapshotID,
		Provenance:  res.Provenance,
		Message:     res.Provenance.Message(),
		GeneratedAt: wc.Instant,
		RefreshedAt: res.LoadedAt,
		CachedAt:    res.CachedAt,
		CurrentTime: wc.Time,
		CurrentDate: wc.Date,
		Weekday:     day,
		Lines:       make([]LineBoard, 0, len(res.Dataset)),
	}

	var stats BuildStats
	for _, line := range res.Dataset.Lines() {
		today := line.ForDay(day)
		tomorrow := line.ForDay(clock.NextWeekdayKey(day))

		lb := LineBoard{Name: line.Name, Slug: line.Slug(), Stops: make([]StopStatus, 0, len(line.Stops))}
		for _, stop := range line.Stops {
			_, times, ok := opt.Aliases.Lookup(stop, today)
			if !ok {
				stats.Unresolved = append(stats.Unresolved, line.Name+"/"+stop)
			}

			var r departures.Result
			if opt.NextDayRollover {
				_, next, _ := opt.Aliases.Lookup(stop, tomorrow)
				r = departures.ResolveWithNextDay(times, next, wc.CurrentMinutes)
			} else {
				r = departures.Resolve(times, wc.CurrentMinutes)
			}
			stats.Malformed += len(r.Skipped)

			upcoming := r.Upcoming
			if upcoming == nil {
				upcoming = []string{}
			}
			lb.Stops = append(lb.Stops, StopStatus{
				Stop:      stop,
				Next:      r.Next,
				Upcoming:  upcoming,
				Tomorrow:  r.Tomorrow,
				NoService: r.NoService(),
				Label:     r.Label(),
			})
		}
		b.Lines = append(b.Lines, lb)
	}
	return b, stats
}

// logUnresolved reports each unresolved stop once per snapshot.
func logUnresolved(seen map[string]struct{}, day string, unresolved []string) {
	for _, key := range unresolved {
		k := day + "|" + key
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		log.Printf("warning: no departures for %s on %s", key, day)
	}
}
