package intent

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultTable []byte

// document is the on-disk layout of an intent table file.
type document struct {
	Intents []Spec `yaml:"intents"`
}

// Parse decodes a YAML intent table.
func Parse(data []byte) (*Table, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decoding intent table: %w", err)
	}
	return NewTable(doc.Intents)
}

// Load reads a YAML intent table from path.
func Load(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading intent table: %w", err)
	}
	t, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

// Default returns the built-in intent table.
func Default() *Table {
	t, err := Parse(defaultTable)
	if err != nil {
		panic(fmt.Sprintf("intent: embedded default table is invalid: %v", err))
	}
	return t
}

// LoadOrDefault loads path when it is non-empty and falls back to the
// built-in table otherwise.
func LoadOrDefault(path string) (*Table, error) {
	if path == "" {
		t, err := Parse(defaultTable)
		if err != nil {
			return nil, fmt.Errorf("built-in table: %w", err)
		}
		return t, nil
	}
	return Load(path)
}
