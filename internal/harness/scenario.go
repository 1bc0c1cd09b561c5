package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"gopkg.in/yaml.v3"
)

// Scenario defines a projection conformance scenario: resources to store,
// definitions to register, one execution, and assertions on its outcome.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Resources are stored in order. Each resource's CID is bound to its
	// name, so later content can refer to it as "${name}".
	Resources []ResourceStep `yaml:"resources"`

	// Definitions are registered in order after the resources. Their CIDs
	// are bound the same way, so a role can nest an earlier definition.
	Definitions []DefinitionStep `yaml:"definitions"`

	// Run names the definition to execute. Empty means the last one.
	Run string `yaml:"run,omitempty"`

	// Params are the execution parameters; strings may use "${name}".
	Params map[string]interface{} `yaml:"params,omitempty"`

	// Materialize emits the result as a view after execution.
	Materialize bool `yaml:"materialize,omitempty"`

	// ExecutionID fixes the execution ID for deterministic logs.
	// Defaults to "test-execution".
	ExecutionID string `yaml:"execution_id,omitempty"`

	// Assertions validate the execution outcome.
	Assertions []Assertion `yaml:"assertions"`
}

// ResourceStep stores one resource. Exactly one of Content and Raw is set.
type ResourceStep struct {
	Name string `yaml:"name"`

	// Content is structured content, stored canonicalized.
	Content interface{} `yaml:"content,omitempty"`

	// Raw is stored byte for byte.
	Raw string `yaml:"raw,omitempty"`
}

// DefinitionStep registers one projection definition.
type DefinitionStep struct {
	Name    string                 `yaml:"name"`
	Content map[string]interface{} `yaml:"content"`
}

// Assertion validates one aspect of the outcome.
type Assertion struct {
	// Type specifies the assertion type:
	// - "succeeds": the execution returned a container
	// - "error": the execution failed with Code
	// - "role_count": Role has exactly Count members
	// - "root_count": the query selected exactly Count roots
	// - "fields": the container fields include Expect (subset match)
	// - "warning": a warning with Code was recorded, Count times when set
	// - "emitted": materialization wrote Count outputs
	Type string `yaml:"type"`

	Role   string                 `yaml:"role,omitempty"`
	Code   string                 `yaml:"code,omitempty"`
	Count  *int                   `yaml:"count,omitempty"`
	Expect map[string]interface{} `yaml:"expect,omitempty"`
}

// Assertion type constants.
const (
	AssertSucceeds  = "succeeds"
	AssertError     = "error"
	AssertRoleCount = "role_count"
	AssertRootCount = "root_count"
	AssertFields    = "fields"
	AssertWarning   = "warning"
	AssertEmitted   = "emitted"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict field validation catches typos like "assertion:" vs "assertions:".
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// FindScenarios returns the sorted paths of every .yaml and .yml file
// directly inside dir.
func FindScenarios(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch filepath.Ext(e.Name()) {
		case ".yaml", ".yml":
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	slices.Sort(paths)
	return paths, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Definitions) == 0 {
		return fmt.Errorf("definitions list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	seen := map[string]bool{}
	bind := func(field, name string) error {
		if name == "" {
			return fmt.Errorf("%s: name is required", field)
		}
		if seen[name] {
			return fmt.Errorf("%s: name %q is already bound", field, name)
		}
		seen[name] = true
		return nil
	}

	for i, r := range s.Resources {
		field := fmt.Sprintf("resources[%d]", i)
		if err := bind(field, r.Name); err != nil {
			return err
		}
		if (r.Content == nil) == (r.Raw == "") {
			return fmt.Errorf("%s: exactly one of content and raw is required", field)
		}
	}

	defNames := map[string]bool{}
	for i, d := range s.Definitions {
		field := fmt.Sprintf("definitions[%d]", i)
		if err := bind(field, d.Name); err != nil {
			return err
		}
		if len(d.Content) == 0 {
			return fmt.Errorf("%s: content is required", field)
		}
		defNames[d.Name] = true
	}
	if s.Run != "" && !defNames[s.Run] {
		return fmt.Errorf("run: %q is not a definition in this scenario", s.Run)
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(i, &a); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertSucceeds:
	case AssertError:
		if a.Code == "" {
			return fmt.Errorf("assertions[%d]: code is required for error", index)
		}
	case AssertRoleCount:
		if a.Role == "" {
			return fmt.Errorf("assertions[%d]: role is required for role_count", index)
		}
		if a.Count == nil || *a.Count < 0 {
			return fmt.Errorf("assertions[%d]: non-negative count is required for role_count", index)
		}
	case AssertRootCount, AssertEmitted:
		if a.Count == nil || *a.Count < 0 {
			return fmt.Errorf("assertions[%d]: non-negative count is required for %s", index, a.Type)
		}
	case AssertFields:
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for fields", index)
		}
	case AssertWarning:
		if a.Code == "" {
			return fmt.Errorf("assertions[%d]: code is required for warning", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
