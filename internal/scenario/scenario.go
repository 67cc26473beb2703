// Package scenario runs YAML-described record workflows against a record
// store: create, retrieve, query, update and delete steps with captured
// variables and JSONPath assertions on each step's result.
package scenario

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Step actions.
const (
	ActionCreate   = "create"
	ActionRetrieve = "retrieve"
	ActionQuery    = "query"
	ActionUpdate   = "update"
	ActionDelete   = "delete"
)

// Expected error kinds.
const (
	ErrorAny        = "any"
	ErrorNotFound   = "not_found"
	ErrorBadRequest = "bad_request"
	ErrorConflict   = "conflict"
	ErrorMissingID  = "missing_id"
)

// Scenario is a named sequence of record operations.
type Scenario struct {
	Name        string            `yaml:"name" json:"name"`
	Description string            `yaml:"description,omitempty" json:"description,omitempty"`
	Setup       Setup             `yaml:"setup,omitempty" json:"setup,omitempty"`
	Variables   map[string]string `yaml:"variables,omitempty" json:"variables,omitempty"`
	Steps       []Step            `yaml:"steps" json:"steps"`

	// dir is the directory of the file the scenario was loaded from; seed
	// paths resolve against it.
	dir string
}

// Setup prepares the twin before the first step runs.
type Setup struct {
	Reset bool   `yaml:"reset,omitempty" json:"reset,omitempty"`
	Seed  string `yaml:"seed,omitempty" json:"seed,omitempty"`
}

// Step is one record operation.
//
// The step result is a JSON document that Capture and Expect.Body address
// with JSONPath:
//
//	create, update, delete: {"id": ..., "entity": ...}
//	retrieve:               the record's columns
//	query:                  {"value": [...], "count": n, "more": bool}
type Step struct {
	Name     string         `yaml:"name" json:"name"`
	Action   string         `yaml:"action" json:"action"`
	Entity   string         `yaml:"entity,omitempty" json:"entity,omitempty"`
	ID       string         `yaml:"id,omitempty" json:"id,omitempty"`
	Data     map[string]any `yaml:"data,omitempty" json:"data,omitempty"`
	Select   []string       `yaml:"select,omitempty" json:"select,omitempty"`
	FetchXML string         `yaml:"fetch_xml,omitempty" json:"fetch_xml,omitempty"`
	// Query is a raw OData query string, e.g. "?$select=name&$top=3".
	Query    string `yaml:"query,omitempty" json:"query,omitempty"`
	PageSize int    `yaml:"page_size,omitempty" json:"page_size,omitempty"`

	Capture map[string]string `yaml:"capture,omitempty" json:"capture,omitempty"`
	Expect  *Expect           `yaml:"expect,omitempty" json:"expect,omitempty"`
}

// Expect holds the assertions for a step.
type Expect struct {
	// Error names the failure the step must produce; empty means success.
	Error string         `yaml:"error,omitempty" json:"error,omitempty"`
	Count *int           `yaml:"count,omitempty" json:"count,omitempty"`
	Body  map[string]any `yaml:"body,omitempty" json:"body,omitempty"`
}

// entity returns the step's entity, defaulting to account.
func (s Step) entity() string {
	if s.Entity == "" {
		return "account"
	}
	return s.Entity
}

// Validate checks a scenario for structural errors before it runs.
func (s *Scenario) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("scenario name is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("scenario %q has no steps", s.Name)
	}
	for i, step := range s.Steps {
		label := step.Name
		if label == "" {
			label = fmt.Sprintf("#%d", i+1)
		}
		switch step.Action {
		case ActionCreate:
			if step.Data == nil {
				return fmt.Errorf("step %s: create requires data", label)
			}
		case ActionUpdate:
			if step.ID == "" || step.Data == nil {
				return fmt.Errorf("step %s: update requires id and data", label)
			}
		case ActionRetrieve, ActionDelete:
			// An empty id is allowed so a step can assert missing_id.
		case ActionQuery:
			if step.FetchXML != "" && step.Query != "" {
				return fmt.Errorf("step %s: fetch_xml and query are mutually exclusive", label)
			}
		default:
			return fmt.Errorf("step %s: unknown action %q", label, step.Action)
		}
		if step.Expect != nil {
			switch step.Expect.Error {
			case "", ErrorAny, ErrorNotFound, ErrorBadRequest, ErrorConflict, ErrorMissingID:
			default:
				return fmt.Errorf("step %s: unknown expected error %q", label, step.Expect.Error)
			}
		}
	}
	return nil
}

// Parse decodes a scenario from YAML (JSON is accepted as a YAML subset).
func Parse(data []byte) (*Scenario, error) {
	var s Scenario
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parsing scenario: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// LoadFile reads and validates a scenario file.
func LoadFile(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading scenario %s: %w", path, err)
	}
	s, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	s.dir = filepath.Dir(path)
	return s, nil
}

// LoadDir loads every .yaml, .yml and .json scenario in dir, sorted by file name.
func LoadDir(dir string) ([]*Scenario, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading scenario dir: %w", err)
	}
	var out []*Scenario
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch filepath.Ext(e.Name()) {
		case ".yaml", ".yml", ".json":
		default:
			continue
		}
		s, err := LoadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// seedPath resolves the setup seed file against the scenario's directory.
func (s *Scenario) seedPath() string {
	if s.Setup.Seed == "" || filepath.IsAbs(s.Setup.Seed) || s.dir == "" {
		return s.Setup.Seed
	}
	return filepath.Join(s.dir, s.Setup.Seed)
}
