package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/roach88/mvsync/internal/apply"
	"github.com/roach88/mvsync/internal/config"
)

// Scenario defines an end-to-end view maintenance scenario.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Definitions is the CUE file or directory holding the tables and
	// handlers. Relative paths are resolved against the scenario file.
	Definitions string `yaml:"definitions"`

	// Handler is the handler whose targets the steps maintain.
	Handler string `yaml:"handler"`

	// Settings overrides the handler defaults.
	Settings *config.HandlerSettings `yaml:"settings,omitempty"`

	// Scan overrides the scan defaults.
	Scan *config.ScanSettings `yaml:"scan,omitempty"`

	// Steps run in order.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final tables and offsets.
	Assertions []Assertion `yaml:"assertions"`
}

// Step is one scenario step. Exactly one field is set.
type Step struct {
	// SQL runs a statement against the store, typically to edit source rows.
	SQL string `yaml:"sql,omitempty"`

	// Change appends a change-log entry.
	Change *ChangeStep `yaml:"change,omitempty"`

	// Poll runs one feeder poll of the named table.
	Poll string `yaml:"poll,omitempty"`

	// Scan runs a full scan of the named target.
	Scan string `yaml:"scan,omitempty"`
}

// ChangeStep is a change-log entry for one source row.
type ChangeStep struct {
	Table string `yaml:"table"`
	// Op is "upsert" or "delete".
	Op string `yaml:"op"`
	// Key lists the primary-key values in key column order.
	Key []any `yaml:"key"`
}

// Kind returns the change kind of the step.
func (c *ChangeStep) Kind() apply.ChangeKind { return apply.ChangeKind(c.Op) }

// Assertion validates the final state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "row_count": Table holds exactly Count rows
	// - "row": exactly one row matches Where and it carries Expect
	// - "absent": no row matches Where
	// - "offset": the handler's saved offset for Table is Seq
	Type string `yaml:"type"`

	// Table is a target or source table name.
	Table string `yaml:"table"`

	// Where filters rows by column value. All fields must match.
	Where map[string]any `yaml:"where,omitempty"`

	// Expect contains expected column values (used by row).
	// Subset match: only the listed columns are compared.
	Expect map[string]any `yaml:"expect,omitempty"`

	// Count is the expected number of rows (used by row_count).
	Count int `yaml:"count,omitempty"`

	// Seq is the expected change-log offset (used by offset).
	Seq int64 `yaml:"seq,omitempty"`
}

// Assertion type constants.
const (
	AssertRowCount = "row_count"
	AssertRow      = "row"
	AssertAbsent   = "absent"
	AssertOffset   = "offset"
)

// LoadScenario reads and parses a scenario YAML file, resolving the
// definitions path against the file's directory.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	return LoadScenarioWithBasePath(path, filepath.Dir(path))
}

// LoadScenarioWithBasePath reads and parses a scenario YAML file,
// resolving the definitions path relative to basePath.
func LoadScenarioWithBasePath(path, basePath string) (*Scenario, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	// Strict decoding catches typos like "assertion:" vs "assertions:".
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(raw))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if scenario.Definitions != "" && !filepath.IsAbs(scenario.Definitions) && basePath != "" {
		scenario.Definitions = filepath.Join(basePath, scenario.Definitions)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Definitions == "" {
		return fmt.Errorf("definitions is required")
	}
	if s.Handler == "" {
		return fmt.Errorf("handler is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	if _, err := os.Stat(s.Definitions); os.IsNotExist(err) {
		return fmt.Errorf("definitions not found: %s", s.Definitions)
	}

	for i, step := range s.Steps {
		if err := validateStep(i, &step); err != nil {
			return err
		}
	}
	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(index int, s *Step) error {
	set := 0
	if s.SQL != "" {
		set++
	}
	if s.Change != nil {
		set++
	}
	if s.Poll != "" {
		set++
	}
	if s.Scan != "" {
		set++
	}
	if set != 1 {
		return fmt.Errorf("steps[%d]: exactly one of sql, change, poll or scan is required", index)
	}

	if c := s.Change; c != nil {
		if c.Table == "" {
			return fmt.Errorf("steps[%d].change: table is required", index)
		}
		if c.Kind() != apply.ChangeUpsert && c.Kind() != apply.ChangeDelete {
			return fmt.Errorf("steps[%d].change: op must be upsert or delete, got %q", index, c.Op)
		}
		if len(c.Key) == 0 {
			return fmt.Errorf("steps[%d].change: key is required", index)
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}
	if a.Table == "" {
		return fmt.Errorf("assertions[%d]: table is required", index)
	}

	switch a.Type {
	case AssertRowCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for row_count", index)
		}
	case AssertRow:
		if len(a.Where) == 0 {
			return fmt.Errorf("assertions[%d]: where is required for row", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for row", index)
		}
	case AssertAbsent:
		if len(a.Where) == 0 {
			return fmt.Errorf("assertions[%d]: where is required for absent", index)
		}
	case AssertOffset:
		if a.Seq < 0 {
			return fmt.Errorf("assertions[%d]: seq must be non-negative for offset", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
