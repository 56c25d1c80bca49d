package clock

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const (
	MinutesPerDay = 24 * 60

	minHours   = 0
	maxHours   = 23
	minMinutes = 0
	maxMinutes = 59
)

var (
	ErrInvalidFormat = errors.New("invalid time format")
	ErrOutOfRange    = errors.New("time out of range")
)

var hhmm = regexp.MustCompile(`^\d{2}:\d{2}$`)

// ParseMinutes converts "HH:MM" into minutes since midnight.
func ParseMinutes(s string) (int, error) {
	if !hhmm.MatchString(s) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidFormat, s)
	}
	parts := strings.SplitN(s, ":", 2)
	h, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidFormat, s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidFormat, s)
	}
	if h < minHours || h > maxHours || m < minMinutes || m > maxMinutes {
		return 0, fmt.Errorf("%w: %q", ErrOutOfRange, s)
	}
	return h*60 + m, nil
}

// FormatMinutes is the inverse of ParseMinutes for values in [0, MinutesPerDay).
func FormatMinutes(m int) string {
	m = ((m % MinutesPerDay) + MinutesPerDay) % MinutesPerDay
	return fmt.Sprintf("%02d:%02d", m/60, m%60)
}

// WallClock is a single capture of the current instant. One resolution pass
// over all lines and stops must use the same capture.
type WallClock struct {
	Instant        time.Time
	Time           string // 15:04:05
	Date           string // domingo, 18 de octubre de 2026
	WeekdayKey     string
	CurrentMinutes int
}

func Capture(now time.Time) WallClock {
	return WallClock{
		Instant:        now,
		Time:           now.Format("15:04:05"),
		Date:           LongDate(now),
		WeekdayKey:     WeekdayKey(now.Weekday()),
		CurrentMinutes: now.Hour()*60 + now.Minute(),
	}
}

var weekdayNames = [...]string{"domingo", "lunes", "martes", "miércoles", "jueves", "viernes", "sábado"}

var monthNames = [...]string{
	"enero", "febrero", "marzo", "abril", "mayo", "junio",
	"julio", "agosto", "septiembre", "octubre", "noviembre", "diciembre",
}

// WeekdayName returns the es-AR weekday name, accents included.
func WeekdayName(d time.Weekday) string {
	return weekdayNames[d]
}

// WeekdayKey returns the schedule table key for d.
func WeekdayKey(d time.Weekday) string {
	return NormalizeWeekday(weekdayNames[d])
}

// WeekdayKeys lists every valid key, Sunday first.
func WeekdayKeys() []string {
	keys := make([]string, len(weekdayNames))
	for i := range weekdayNames {
		keys[i] = WeekdayKey(time.Weekday(i))
	}
	return keys
}

// IsWeekdayKey reports whether key is one of the normalized weekday keys.
func IsWeekdayKey(key string) bool {
	for i := range weekdayNames {
		if WeekdayKey(time.Weekday(i)) == key {
			return true
		}
	}
	return false
}

// NextWeekdayKey returns the key of the day after key, or "" if key is unknown.
func NextWeekdayKey(key string) string {
	for i := range weekdayNames {
		if WeekdayKey(time.Weekday(i)) == key {
			return WeekdayKey(time.Weekday((i + 1) % 7))
		}
	}
	return ""
}

// NormalizeWeekday maps a locale weekday name to its key ("Miércoles" -> "miercoles").
func NormalizeWeekday(name string) string {
	return Fold(name)
}

// Fold trims s, lowercases it and strips diacritics.
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, strings.TrimSpace(s))
	if err != nil {
		out = s
	}
	return strings.ToLower(out)
}

// LongDate formats t like the es-AR long date ("sábado, 4 de enero de 2025").
func LongDate(t time.Time) string {
	return fmt.Sprintf("%s, %d de %s de %d", weekdayNames[t.Weekday()], t.Day(), monthNames[t.Month()-1], t.Year())
}
