package schedule

import (
	"fmt"

	"horarios/internal/clock"
)

type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

type Issue struct {
	Severity Severity `json:"severity"`
	Line     string   `json:"line"`
	Day      string   `json:"day,omitempty"`
	Stop     string   `json:"stop,omitempty"`
	Message  string   `json:"message"`
}

// LineSummary is the per-line part of a Report.
type LineSummary struct {
	Name  string   `json:"name"`
	Stops int      `json:"stops"`
	Days  []string `json:"days"`
}

// Report is the result of an integrity check over a Dataset.
type Report struct {
	Lines    []LineSummary `json:"lines"`
	Issues   []Issue       `json:"issues"`
	Errors   int           `json:"errors"`
	Warnings int           `json:"warnings"`

	// MissingDays are weekday keys no line has a table for; every stop
	// renders "Sin servicio" on those days.
	MissingDays []string `json:"missingDays,omitempty"`
}

func (r *Report) OK() bool { return r.Errors == 0 }

func (r *Report) add(sev Severity, line, day, stop, format string, args ...any) {
	r.Issues = append(r.Issues, Issue{
		Severity: sev,
		Line:     line,
		Day:      day,
		Stop:     stop,
		Message:  fmt.Sprintf(format, args...),
	})
	if sev == SeverityError {
		r.Errors++
	} else {
		r.Warnings++
	}
}

// Check walks every line, day and stop of d.
//
// Missing stops or schedules are errors. Malformed departures, unknown
// weekday keys and stops listed on the route but absent from a day are
// warnings: resolution tolerates all of them.
func Check(d Dataset) *Report {
	r := &Report{}
	if d.Empty() {
		r.add(SeverityError, "", "", "", "no lines loaded")
		return r
	}
	covered := make(map[string]bool)
	for _, line := range d.Lines() {
		r.Lines = append(r.Lines, LineSummary{Name: line.Name, Stops: len(line.Stops), Days: line.Days()})

		if len(line.Stops) == 0 {
			r.add(SeverityError, line.Name, "", "", "stops is empty")
		}
		if len(line.Schedules) == 0 {
			r.add(SeverityError, line.Name, "", "", "schedules is missing")
			continue
		}
		for _, day := range line.Days() {
			covered[day] = true
			if !clock.IsWeekdayKey(day) {
				r.add(SeverityWarning, line.Name, day, "", "unknown weekday key %q", day)
			}
			table := line.Schedules[day]
			for _, stop := range line.Stops {
				if _, ok := table[stop]; !ok {
					r.add(SeverityWarning, line.Name, day, stop, "stop missing from day table")
				}
			}
			for _, stop := range table.Stops() {
				for _, t := range table[stop] {
					if _, err := clock.ParseMinutes(t); err != nil {
						r.add(SeverityWarning, line.Name, day, stop, "invalid time %q", t)
					}
				}
			}
		}
	}
	for _, key := range clock.WeekdayKeys() {
		if !covered[key] {
			r.MissingDays = append(r.MissingDays, key)
		}
	}
	return r
}
