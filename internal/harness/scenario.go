package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/roach88/livestore/internal/event"
	"github.com/roach88/livestore/internal/store"
	"github.com/roach88/livestore/internal/value"
)

// Scenario is a stream of events and the expected outcome.
type Scenario struct {
	// Name uniquely identifies this scenario; it names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Schema is a CUE schema directory, relative to the scenario file.
	// Empty selects the built-in domain catalog.
	Schema string `yaml:"schema,omitempty"`

	// Orphans sets the registry's default orphan policy.
	Orphans string `yaml:"orphans,omitempty"`

	// Events are enqueued in order on one engine.
	Events []Step `yaml:"events"`

	// Assertions validate the final state.
	Assertions []Assertion `yaml:"assertions"`
}

// Step is one envelope in wire form.
type Step struct {
	Store    string         `yaml:"store"`
	Type     string         `yaml:"type"`
	ObjectID any            `yaml:"object_id,omitempty"`
	Data     map[string]any `yaml:"data,omitempty"`
	Channel  string         `yaml:"channel,omitempty"`

	// ExpectError is an error code (e.g. MISSING_ID) or a message
	// fragment the step must fail with.
	ExpectError string `yaml:"expect_error,omitempty"`
}

// Envelope converts the step to an envelope.
func (s Step) Envelope() (event.Envelope, error) {
	var id value.ID
	if s.ObjectID != nil {
		var err error
		if id, err = toID(s.ObjectID); err != nil {
			return event.Envelope{}, fmt.Errorf("object_id: %w", err)
		}
	}

	var data value.Object
	if s.Data != nil {
		obj, err := value.ObjectFromMap(s.Data)
		if err != nil {
			return event.Envelope{}, fmt.Errorf("data: %w", err)
		}
		data = obj
	}

	env, err := event.Build(s.Store, s.Type, id, data)
	if err != nil {
		return event.Envelope{}, err
	}
	env.Channel = s.Channel
	return env, nil
}

// Assertion validates final state.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	Store string `yaml:"store,omitempty"`
	Index string `yaml:"index,omitempty"`

	ID     any   `yaml:"id,omitempty"`
	Parent any   `yaml:"parent,omitempty"`
	Key    any   `yaml:"key,omitempty"`
	IDs    []any `yaml:"ids,omitempty"`

	// Expect is a subset of the record's fields (record).
	Expect map[string]any `yaml:"expect,omitempty"`

	Count  *int     `yaml:"count,omitempty"`
	Ready  *bool    `yaml:"ready,omitempty"`
	Stores []string `yaml:"stores,omitempty"`
}

// Assertion type constants.
const (
	AssertRecord   = "record"
	AssertAbsent   = "absent"
	AssertCount    = "count"
	AssertMembers  = "members"
	AssertLookup   = "lookup"
	AssertOrphans  = "orphans"
	AssertReady    = "ready"
	AssertDeferred = "deferred"
	AssertResync   = "resync"
)

// LoadScenario reads and parses a scenario YAML file. A relative schema
// path is resolved against the file's directory.
// Returns an error if the file doesn't exist, is malformed, contains
// unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data, filepath.Dir(path))
}

// ParseScenario parses scenario YAML, resolving the schema path against
// baseDir.
func ParseScenario(data []byte, baseDir string) (*Scenario, error) {
	// Strict field validation catches typos like "assertion:" vs "assertions:".
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if scenario.Schema != "" && !filepath.IsAbs(scenario.Schema) && baseDir != "" {
		scenario.Schema = filepath.Join(baseDir, scenario.Schema)
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
	if len(s.Events) == 0 {
		return fmt.Errorf("events list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}
	if s.Orphans != "" {
		if _, err := store.ParseOrphanPolicy(s.Orphans); err != nil {
			return fmt.Errorf("orphans: %w", err)
		}
	}
	if s.Schema != "" {
		if info, err := os.Stat(s.Schema); err != nil || !info.IsDir() {
			return fmt.Errorf("schema directory not found: %s", s.Schema)
		}
	}

	for i, step := range s.Events {
		if step.Store == "" {
			return fmt.Errorf("events[%d]: store is required", i)
		}
		if step.Type == "" {
			return fmt.Errorf("events[%d]: type is required", i)
		}
		if _, err := step.Envelope(); err != nil {
			return fmt.Errorf("events[%d]: %w", i, err)
		}
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
	need := func(ok bool, what string) error {
		if ok {
			return nil
		}
		return fmt.Errorf("assertions[%d]: %s is required for %s", index, what, a.Type)
	}

	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	case AssertRecord:
		if err := need(a.Store != "", "store"); err != nil {
			return err
		}
		if err := need(a.ID != nil, "id"); err != nil {
			return err
		}
		return need(len(a.Expect) > 0, "expect")
	case AssertAbsent:
		if err := need(a.Store != "", "store"); err != nil {
			return err
		}
		return need(a.ID != nil, "id")
	case AssertCount, AssertDeferred:
		if err := need(a.Store != "", "store"); err != nil {
			return err
		}
		if err := need(a.Count != nil, "count"); err != nil {
			return err
		}
		if *a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative", index)
		}
	case AssertMembers:
		if err := need(a.Index != "", "index"); err != nil {
			return err
		}
		return need(a.Parent != nil, "parent")
	case AssertLookup:
		if err := need(a.Index != "", "index"); err != nil {
			return err
		}
		if err := need(a.Parent != nil, "parent"); err != nil {
			return err
		}
		if err := need(a.Key != nil, "key"); err != nil {
			return err
		}
		return need(a.ID != nil, "id")
	case AssertOrphans:
		return need(a.Index != "", "index")
	case AssertReady:
		if err := need(a.Store != "", "store"); err != nil {
			return err
		}
		return need(a.Ready != nil, "ready")
	case AssertResync:
		return need(len(a.Stores) > 0, "stores")
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}

func toID(v any) (value.ID, error) {
	val, err := value.FromAny(v)
	if err != nil {
		return value.ID{}, err
	}
	return value.IDFromValue(val)
}

func toIDs(vs []any) ([]value.ID, error) {
	ids := make([]value.ID, len(vs))
	for i, v := range vs {
		id, err := toID(v)
		if err != nil {
			return nil, fmt.Errorf("ids[%d]: %w", i, err)
		}
		ids[i] = id
	}
	return ids, nil
}
