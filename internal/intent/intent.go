// Package intent defines the intent table: the catalogue of actions the
// interpreter can resolve, together with their synonym phrases and slot
// schemas.
//
// A Table is built once at startup (from YAML or the embedded default) and is
// read-only afterwards, so it can be shared by every component without
// locking.
package intent

import (
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"
)

// Reserved intent identifiers understood by the pipeline itself.
const (
	// Unknown is the intent assigned to segments that neither the rules nor
	// the fallback model could resolve. It is never declared in a table.
	Unknown = "unknown"

	// Exit terminates the remaining chained segments of a turn.
	Exit = "exit"

	// Cancel stops the active long-running handler of a session.
	Cancel = "cancel"
)

// SlotType is the value type of a slot.
type SlotType string

const (
	Integer  SlotType = "integer"
	Ordinal  SlotType = "ordinal"
	Enum     SlotType = "enum"
	FreeText SlotType = "freetext"
	Filename SlotType = "filename"
)

// Valid reports whether t is one of the known slot types.
func (t SlotType) Valid() bool {
	switch t {
	case Integer, Ordinal, Enum, FreeText, Filename:
		return true
	}
	return false
}

// Numeric reports whether values of t are integers.
func (t SlotType) Numeric() bool { return t == Integer || t == Ordinal }

// Textual reports whether values of t are free-form strings.
func (t SlotType) Textual() bool { return t == FreeText || t == Filename }

// Compatible reports whether a value of type a may fill a slot of type b.
// Identical types are compatible, and the two textual types are
// interchangeable.
func Compatible(a, b SlotType) bool {
	if a == b {
		return true
	}
	return a.Textual() && b.Textual()
}

// DefaultPolicy controls what happens when a required slot is omitted.
type DefaultPolicy string

const (
	// DefaultNone reports the slot as missing.
	DefaultNone DefaultPolicy = "none"

	// DefaultContext borrows a compatible value from recent history.
	DefaultContext DefaultPolicy = "context"
)

// SlotSpec declares one parameter of an intent.
type SlotSpec struct {
	Name     string        `yaml:"name" json:"name"`
	Type     SlotType      `yaml:"type" json:"type"`
	Required bool          `yaml:"required" json:"required"`
	Default  DefaultPolicy `yaml:"default,omitempty" json:"default,omitempty"`

	// Values is the closed value set of an enum slot.
	Values []string `yaml:"values,omitempty" json:"values,omitempty"`

	// Strip lists leading keywords removed from a freetext value
	// ("for" in "search for cats").
	Strip []string `yaml:"strip,omitempty" json:"strip,omitempty"`

	// Prepositions introduce a filename value ("to" in "rename x to y").
	Prepositions []string `yaml:"prepositions,omitempty" json:"prepositions,omitempty"`

	// Leading makes a filename slot take the words before the first
	// preposition instead of the words after it.
	Leading bool `yaml:"leading,omitempty" json:"leading,omitempty"`
}

// Spec describes a single intent.
type Spec struct {
	ID          string     `yaml:"id" json:"id"`
	Canonical   string     `yaml:"canonical" json:"canonical"`
	Description string     `yaml:"description,omitempty" json:"description,omitempty"`
	Synonyms    []string   `yaml:"synonyms,omitempty" json:"synonyms,omitempty"`
	Slots       []SlotSpec `yaml:"slots,omitempty" json:"slots,omitempty"`
}

// Phrases returns the canonical phrase followed by every synonym.
func (s Spec) Phrases() []string {
	out := make([]string, 0, 1+len(s.Synonyms))
	out = append(out, s.Canonical)
	return append(out, s.Synonyms...)
}

// Slot returns the schema entry for name.
func (s Spec) Slot(name string) (SlotSpec, bool) {
	for _, ss := range s.Slots {
		if ss.Name == name {
			return ss, true
		}
	}
	return SlotSpec{}, false
}

var (
	wildcardRE     = regexp.MustCompile(`\{([a-z0-9_]+)\}`)
	wildcardWordRE = regexp.MustCompile(`^\{([a-z0-9_]+)\}$`)
)

// Wildcards returns the slot names referenced by {slot} markers in phrase.
func Wildcards(phrase string) []string {
	var names []string
	for _, m := range wildcardRE.FindAllStringSubmatch(phrase, -1) {
		names = append(names, m[1])
	}
	return names
}

// IsWildcard reports whether word is a bare {slot} marker and returns the
// slot name.
func IsWildcard(word string) (string, bool) {
	m := wildcardWordRE.FindStringSubmatch(word)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// Table is an immutable, ordered set of intents. Registration order is
// significant: it breaks ties between equally long synonym matches.
type Table struct {
	specs []Spec
	byID  map[string]int
}

// NewTable validates specs and builds a Table.
func NewTable(specs []Spec) (*Table, error) {
	t := &Table{
		specs: make([]Spec, 0, len(specs)),
		byID:  make(map[string]int, len(specs)),
	}
	var errs []error
	for i, s := range specs {
		if err := validate(s); err != nil {
			errs = append(errs, fmt.Errorf("intent #%d (%q): %w", i, s.ID, err))
			continue
		}
		if _, dup := t.byID[s.ID]; dup {
			errs = append(errs, fmt.Errorf("intent %q: duplicate id", s.ID))
			continue
		}
		t.byID[s.ID] = len(t.specs)
		t.specs = append(t.specs, s)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	if len(t.specs) == 0 {
		return nil, errors.New("intent table is empty")
	}
	return t, nil
}

func validate(s Spec) error {
	if strings.TrimSpace(s.ID) == "" {
		return errors.New("missing id")
	}
	if s.ID == Unknown {
		return fmt.Errorf("%q is reserved", Unknown)
	}
	if strings.TrimSpace(s.Canonical) == "" {
		return errors.New("missing canonical phrase")
	}
	seen := make(map[string]bool, len(s.Slots))
	for _, ss := range s.Slots {
		if ss.Name == "" {
			return errors.New("slot without name")
		}
		if seen[ss.Name] {
			return fmt.Errorf("slot %q declared twice", ss.Name)
		}
		seen[ss.Name] = true
		if !ss.Type.Valid() {
			return fmt.Errorf("slot %q: unknown type %q", ss.Name, ss.Type)
		}
		if ss.Type == Enum && len(ss.Values) == 0 {
			return fmt.Errorf("slot %q: enum without values", ss.Name)
		}
		switch ss.Default {
		case "", DefaultNone, DefaultContext:
		default:
			return fmt.Errorf("slot %q: unknown default policy %q", ss.Name, ss.Default)
		}
	}
	for _, p := range s.Phrases() {
		for _, name := range Wildcards(p) {
			if !seen[name] {
				return fmt.Errorf("phrase %q references undeclared slot %q", p, name)
			}
		}
	}
	return nil
}

// Lookup returns the intent with the given id.
func (t *Table) Lookup(id string) (Spec, bool) {
	i, ok := t.byID[id]
	if !ok {
		return Spec{}, false
	}
	return t.specs[i], true
}

// Order returns the registration index of id, or -1.
func (t *Table) Order(id string) int {
	if i, ok := t.byID[id]; ok {
		return i
	}
	return -1
}

// Specs returns the intents in registration order. The returned slice is a
// copy; the Spec values share their backing slices with the table and must
// not be modified.
func (t *Table) Specs() []Spec { return slices.Clone(t.specs) }

// Len returns the number of intents.
func (t *Table) Len() int { return len(t.specs) }
