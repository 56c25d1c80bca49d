package departures

import (
	"log"
	"sort"
	"strings"

	"horarios/internal/clock"
)

const (
	// NowWindowMinutes is the largest gap at which the next bus is shown as "AHORA".
	NowWindowMinutes = 2
	// LookaheadCount is how many departures are listed after the next one.
	LookaheadCount = 3
)

type Departure struct {
	Time    string `json:"time"`
	Minutes int    `json:"-"`
	IsNow   bool   `json:"isNow"`
}

// Result is the resolution for a single stop.
//
// When every departure of the day has passed, Next is nil, Tomorrow is set and
// Upcoming holds the first departure of the following service day.
type Result struct {
	Next     *Departure
	Upcoming []string
	Tomorrow bool
	Skipped  []string
}

func (r Result) NoService() bool {
	return r.Next == nil && len(r.Upcoming) == 0
}

// Label renders the result the way the board shows it.
func (r Result) Label() string {
	switch {
	case r.Next != nil:
		s := "Próximo: " + r.Next.Time
		if r.Next.IsNow {
			s += " AHORA"
		}
		if len(r.Upcoming) > 0 {
			s += " | Siguientes: " + strings.Join(r.Upcoming, ", ")
		}
		return s
	case len(r.Upcoming) > 0:
		return "Mañana: " + r.Upcoming[0]
	default:
		return "Sin servicio"
	}
}

type entry struct {
	time    string
	minutes int
}

// parse drops malformed entries, logging each one.
func parse(times []string) ([]entry, []string) {
	out := make([]entry, 0, len(times))
	var skipped []string
	for _, s := range times {
		m, err := clock.ParseMinutes(s)
		if err != nil {
			log.Printf("warning: skipping departure: %v", err)
			skipped = append(skipped, s)
			continue
		}
		out = append(out, entry{time: s, minutes: m})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].minutes < out[j].minutes })
	return out, skipped
}

// Resolve finds the next departure at or after currentMinutes.
//
// Times are compared as minutes of a single day. Once the day is exhausted the
// earliest entry of the same list is reported as tomorrow's first bus.
func Resolve(times []string, currentMinutes int) Result {
	all, skipped := parse(times)
	res := resolveToday(all, currentMinutes)
	res.Skipped = skipped
	if res.Next == nil && len(all) > 0 {
		res.Upcoming = []string{all[0].time}
		res.Tomorrow = true
	}
	return res
}

// ResolveWithNextDay behaves like Resolve but, once today is exhausted, takes
// the first departure from tomorrow's list instead of repeating today's.
func ResolveWithNextDay(today, tomorrow []string, currentMinutes int) Result {
	all, skipped := parse(today)
	res := resolveToday(all, currentMinutes)
	res.Skipped = skipped
	if res.Next != nil {
		return res
	}
	next, skippedTomorrow := parse(tomorrow)
	res.Skipped = append(res.Skipped, skippedTomorrow...)
	if len(next) > 0 {
		res.Upcoming = []string{next[0].time}
		res.Tomorrow = true
	}
	return res
}

func resolveToday(all []entry, currentMinutes int) Result {
	var upcoming []entry
	for i, e := range all {
		if e.minutes >= currentMinutes {
			upcoming = all[i:]
			break
		}
	}
	if len(upcoming) == 0 {
		return Result{Upcoming: []string{}}
	}

	first := upcoming[0]
	res := Result{
		Next: &Departure{
			Time:    first.time,
			Minutes: first.minutes,
			IsNow:   first.minutes-currentMinutes <= NowWindowMinutes,
		},
	}
	end := len(upcoming)
	if end > LookaheadCount+1 {
		end = LookaheadCount + 1
	}
	res.Upcoming = make([]string, 0, end-1)
	for _, e := range upcoming[1:end] {
		res.Upcoming = append(res.Upcoming, e.time)
	}
	return res
}
