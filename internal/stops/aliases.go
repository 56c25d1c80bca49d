package stops

import (
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	degreeSign       = "°"
	ordinalIndicator = "º"
)

var ErrInvalidAlias = errors.New("invalid alias")

//go:embed aliases.yaml
var defaultAliases []byte

// Alias maps one known spelling of a stop name to the canonical key.
type Alias struct {
	Variant   string `yaml:"variant"`
	Canonical string `yaml:"canonical"`
}

// AliasTable is an ordered, validated set of aliases. It is read-only after
// construction and safe for concurrent use.
type AliasTable struct {
	pairs     []Alias
	canonical map[string]string
}

// NewAliasTable validates pairs and builds the lookup index. A variant may be
// declared once, must differ from its canonical, and no canonical may itself
// be a variant.
func NewAliasTable(pairs []Alias) (*AliasTable, error) {
	t := &AliasTable{
		pairs:     make([]Alias, 0, len(pairs)),
		canonical: make(map[string]string, len(pairs)),
	}
	for i, p := range pairs {
		if strings.TrimSpace(p.Variant) == "" || strings.TrimSpace(p.Canonical) == "" {
			return nil, fmt.Errorf("%w: entry %d has an empty field", ErrInvalidAlias, i)
		}
		if p.Variant == p.Canonical {
			return nil, fmt.Errorf("%w: %q maps to itself", ErrInvalidAlias, p.Variant)
		}
		if strings.Contains(p.Variant, degreeSign) || strings.Contains(p.Canonical, degreeSign) {
			return nil, fmt.Errorf("%w: entry %d uses %q, write %q instead", ErrInvalidAlias, i, degreeSign, ordinalIndicator)
		}
		if prev, dup := t.canonical[p.Variant]; dup {
			return nil, fmt.Errorf("%w: %q declared twice (%q and %q)", ErrInvalidAlias, p.Variant, prev, p.Canonical)
		}
		t.canonical[p.Variant] = p.Canonical
		t.pairs = append(t.pairs, p)
	}
	for _, p := range t.pairs {
		if next, chained := t.canonical[p.Canonical]; chained {
			return nil, fmt.Errorf("%w: canonical %q is also a variant of %q", ErrInvalidAlias, p.Canonical, next)
		}
	}
	return t, nil
}

// ParseAliases decodes a YAML alias document.
func ParseAliases(data []byte) (*AliasTable, error) {
	var doc struct {
		Aliases []Alias `yaml:"aliases"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode aliases: %w", err)
	}
	return NewAliasTable(doc.Aliases)
}

// Default returns the alias table compiled into the binary.
func Default() (*AliasTable, error) {
	return ParseAliases(defaultAliases)
}

func (t *AliasTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.pairs)
}

// Pairs returns a copy of the declared aliases in order.
func (t *AliasTable) Pairs() []Alias {
	if t == nil {
		return nil
	}
	out := make([]Alias, len(t.pairs))
	copy(out, t.pairs)
	return out
}

// Canonical applies the character fix and the static lookup only.
func (t *AliasTable) Canonical(name string) string {
	name = strings.ReplaceAll(name, degreeSign, ordinalIndicator)
	if t == nil {
		return name
	}
	if c, ok := t.canonical[name]; ok {
		return c
	}
	return name
}

// Normalize returns the key under which name should be looked up in day.
//
// The degree sign is rewritten to the ordinal indicator, known variants are
// mapped to their canonical spelling and, when that spelling is not a key of
// day, the raw name and then the other spellings of the same stop are tried
// in declared order. Only pairs sharing the resolved canonical are tried: a
// pair for a different stop is never adopted just because its spelling is a
// key of day. If nothing matches, the canonical spelling is returned and the
// lookup misses.
func (t *AliasTable) Normalize(name string, day map[string][]string) string {
	resolved := t.Canonical(name)
	if day == nil {
		return resolved
	}
	if _, ok := day[resolved]; ok {
		return resolved
	}
	if _, ok := day[name]; ok {
		return name
	}
	if t != nil {
		for _, p := range t.pairs {
			if p.Canonical != resolved {
				continue
			}
			if _, ok := day[p.Variant]; ok {
				return p.Variant
			}
		}
	}
	return resolved
}

// Lookup resolves name against day. A miss means no service for that stop.
func (t *AliasTable) Lookup(name string, day map[string][]string) (key string, times []string, ok bool) {
	key = t.Normalize(name, day)
	times, ok = day[key]
	return key, times, ok
}
