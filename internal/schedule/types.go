package schedule

import (
	"sort"
	"strings"

	"horarios/internal/clock"
)

// Provenance records which tier produced a Dataset.
type Provenance string

const (
	ProvenanceRemote      Provenance = "remote"
	ProvenanceBundled     Provenance = "bundled-fallback"
	ProvenanceCache       Provenance = "persisted-cache"
	ProvenanceUnavailable Provenance = "unavailable"
)

// Message is the status line shown for each provenance.
func (p Provenance) Message() string {
	switch p {
	case ProvenanceRemote:
		return "Datos cargados desde el servidor"
	case ProvenanceBundled:
		return "Usando datos locales"
	case ProvenanceCache:
		return "Usando datos cacheados"
	default:
		return "No hay datos disponibles (servidor, local ni cache)"
	}
}

// Day maps a stop name to its departures ("HH:MM") for one weekday.
type Day map[string][]string

// Stops returns the stop keys of the table, sorted.
func (d Day) Stops() []string {
	out := make([]string, 0, len(d))
	for k := range d {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

type Line struct {
	Name      string         `json:"name" yaml:"name" validate:"required"`
	Stops     []string       `json:"stops" yaml:"stops" validate:"required,min=1,dive,required"`
	Schedules map[string]Day `json:"schedules" yaml:"schedules" validate:"required,min=1,dive,keys,required,endkeys,required"`
}

// ForDay returns the departures table for a weekday key, or nil.
func (l Line) ForDay(key string) Day {
	return l.Schedules[key]
}

// Days returns the weekday keys present, sorted.
func (l Line) Days() []string {
	out := make([]string, 0, len(l.Schedules))
	for k := range l.Schedules {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Slug is the identifier used in URLs and NATS subjects ("Línea A" -> "linea-a").
func (l Line) Slug() string {
	return Slug(l.Name)
}

func Slug(name string) string {
	return strings.Join(strings.Fields(clock.Fold(name)), "-")
}

// Dataset maps line name to Line. It is treated as immutable once built.
type Dataset map[string]Line

func (d Dataset) Empty() bool { return len(d) == 0 }

// Names returns the line names in display order.
func (d Dataset) Names() []string {
	out := make([]string, 0, len(d))
	for name := range d {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Lines returns the lines in display order.
func (d Dataset) Lines() []Line {
	names := d.Names()
	out := make([]Line, 0, len(names))
	for _, name := range names {
		out = append(out, d[name])
	}
	return out
}

// BySlug finds a line by its slug.
func (d Dataset) BySlug(slug string) (Line, bool) {
	for _, l := range d {
		if l.Slug() == slug {
			return l, true
		}
	}
	return Line{}, false
}
