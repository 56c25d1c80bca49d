package schedule

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"

	"horarios/internal/clock"
)

var ErrInvalidDocument = errors.New("invalid line document")

var validate = validator.New()

// Validate checks the shape of a line. Departure strings are not checked
// here; malformed times are skipped at resolution.
func Validate(l Line) error {
	if err := validate.Struct(l); err != nil {
		return fmt.Errorf("%w %q: %v", ErrInvalidDocument, l.Name, err)
	}
	return nil
}

// normalizeDays rewrites weekday keys to their folded form ("Miércoles" -> "miercoles").
func normalizeDays(l Line) Line {
	if len(l.Schedules) == 0 {
		return l
	}
	days := make(map[string]Day, len(l.Schedules))
	for _, k := range l.Days() {
		nk := clock.NormalizeWeekday(k)
		if _, dup := days[nk]; dup {
			continue
		}
		days[nk] = l.Schedules[k]
	}
	l.Schedules = days
	return l
}

// Document is one raw entry of the remote lines collection.
type Document struct {
	ID  string
	Raw json.RawMessage
}

// DecodeDocument parses and validates one remote line document.
func DecodeDocument(raw []byte) (Line, error) {
	var l Line
	if err := json.Unmarshal(raw, &l); err != nil {
		return Line{}, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	l = normalizeDays(l)
	if err := Validate(l); err != nil {
		return Line{}, err
	}
	return l, nil
}

// FromLines builds a Dataset from individually decoded lines. Invalid lines
// and repeated names are dropped and reported.
func FromLines(lines []Line) (Dataset, []error) {
	ds := make(Dataset, len(lines))
	var errs []error
	for _, l := range lines {
		l = normalizeDays(l)
		if err := Validate(l); err != nil {
			errs = append(errs, err)
			continue
		}
		if _, dup := ds[l.Name]; dup {
			errs = append(errs, fmt.Errorf("%w: duplicate line %q", ErrInvalidDocument, l.Name))
			continue
		}
		ds[l.Name] = l
	}
	return ds, errs
}

// FromNamed builds a Dataset from a map keyed by line name, filling missing
// names from the keys.
func FromNamed(named map[string]Line) (Dataset, []error) {
	lines := make([]Line, 0, len(named))
	for _, name := range Dataset(named).Names() {
		l := named[name]
		if l.Name == "" {
			l.Name = name
		}
		lines = append(lines, l)
	}
	return FromLines(lines)
}

// MarshalDataset encodes d as a JSON object keyed by line name.
func MarshalDataset(d Dataset) ([]byte, error) {
	return json.Marshal(d)
}

// UnmarshalDataset decodes a JSON object keyed by line name. Invalid lines are
// dropped and reported; a document that is not an object is an error.
func UnmarshalDataset(raw []byte) (Dataset, []error, error) {
	var named map[string]Line
	if err := json.Unmarshal(raw, &named); err != nil {
		return nil, nil, fmt.Errorf("decode dataset: %w", err)
	}
	ds, errs := FromNamed(named)
	return ds, errs, nil
}
