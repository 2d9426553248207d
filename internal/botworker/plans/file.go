package plans

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

//go:embed plans.schema.json
var schemaText string

var tableSchema = jsonschema.MustCompileString("plans.schema.json", schemaText)

type fileFormat struct {
	Default string `yaml:"default"`
	Plans   map[string]struct {
		MaxMemoryMB    int `yaml:"max_memory_mb"`
		MaxRunningBots int `yaml:"max_running_bots"`
	} `yaml:"plans"`
}

// LoadTable reads a YAML plan table from path. An empty path returns the
// built-in table.
//
//	default: free
//	plans:
//	  free:  {max_memory_mb: 128, max_running_bots: 1}
//	  team:  {max_memory_mb: 2048, max_running_bots: 50}
func LoadTable(path string) (Table, error) {
	if path == "" {
		return DefaultTable(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Table{}, fmt.Errorf("read plan table: %w", err)
	}
	return ParseTable(data)
}

// ParseTable validates data against the plan table schema and decodes it.
func ParseTable(data []byte) (Table, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return Table{}, fmt.Errorf("parse plan table: %w", err)
	}
	// The validator expects JSON-decoded values, so normalise through JSON.
	raw, err := json.Marshal(doc)
	if err != nil {
		return Table{}, fmt.Errorf("normalise plan table: %w", err)
	}
	var normalised any
	if err := json.Unmarshal(raw, &normalised); err != nil {
		return Table{}, fmt.Errorf("normalise plan table: %w", err)
	}
	if err := tableSchema.Validate(normalised); err != nil {
		return Table{}, fmt.Errorf("invalid plan table: %w", err)
	}

	var f fileFormat
	if err := yaml.Unmarshal(data, &f); err != nil {
		return Table{}, fmt.Errorf("decode plan table: %w", err)
	}

	t := Table{Default: f.Default, Plans: make(map[string]Limits, len(f.Plans))}
	if t.Default == "" {
		t.Default = Free
	}
	for name, p := range f.Plans {
		t.Plans[name] = Limits{Name: name, MaxMemoryMBPerBot: p.MaxMemoryMB, MaxRunningBots: p.MaxRunningBots}
	}
	if _, ok := t.Plans[t.Default]; !ok {
		return Table{}, fmt.Errorf("invalid plan table: default plan %q is not defined", t.Default)
	}
	return t, nil
}
