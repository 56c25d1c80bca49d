package bundled

import (
	_ "embed"
	"errors"
	"fmt"
	"log"
	"sync"

	"gopkg.in/yaml.v3"

	"horarios/internal/schedule"
)

//go:embed lines.yaml
var linesYAML []byte

var (
	once    sync.Once
	dataset schedule.Dataset
	loadErr error
)

// Parse decodes a YAML timetable keyed by line name. Any invalid line fails
// the whole document.
func Parse(data []byte) (schedule.Dataset, error) {
	var named map[string]schedule.Line
	if err := yaml.Unmarshal(data, &named); err != nil {
		return nil, fmt.Errorf("decode bundled lines: %w", err)
	}
	ds, errs := schedule.FromNamed(named)
	if len(errs) > 0 {
		return nil, fmt.Errorf("bundled lines: %w", errors.Join(errs...))
	}
	return ds, nil
}

// Load returns the timetable compiled into the binary. It is parsed once.
func Load() (schedule.Dataset, error) {
	once.Do(func() {
		dataset, loadErr = Parse(linesYAML)
	})
	return dataset, loadErr
}

// Fallback adapts Load to the chain's bundled tier. A bundle that fails to
// parse is reported once per call and served as empty.
func Fallback() func() schedule.Dataset {
	return func() schedule.Dataset {
		ds, err := Load()
		if err != nil {
			log.Printf("warning: bundled schedule unusable: %v", err)
			return nil
		}
		return ds
	}
}
