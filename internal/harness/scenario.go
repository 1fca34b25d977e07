package harness

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Scenario defines a sequence of session requests and the checks run on the
// resulting trace and final store state.
type Scenario struct {
	// Name uniquely identifies this scenario. Golden files are named after it.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// ApplicationID is the key discriminator shared by every node.
	ApplicationID string `yaml:"application_id,omitempty"`

	// Flow contains the steps, run in order.
	Flow []Step `yaml:"flow"`

	// Assertions validate the final trace and state.
	Assertions []Assertion `yaml:"assertions"`
}

// Step is one operation in the flow.
type Step struct {
	Op string `yaml:"op"`

	// Node names the provider that runs the step. Defaults to DefaultNode.
	Node string `yaml:"node,omitempty"`

	// Session is the session id.
	Session string `yaml:"session,omitempty"`

	// Timeout is the session timeout in minutes for create. Defaults to 20.
	Timeout int `yaml:"timeout,omitempty"`

	// Items are the entries written by create or set, in order.
	Items []Item `yaml:"items,omitempty"`

	// Keys are the entries deleted by remove.
	Keys []string `yaml:"keys,omitempty"`

	// LockID overrides the lock id presented by release.
	LockID *int64 `yaml:"lock_id,omitempty"`

	// Duration is the clock advance, in time.ParseDuration syntax.
	Duration string `yaml:"duration,omitempty"`

	// Expect validates the step's outcome. Nil means no check.
	Expect *Expect `yaml:"expect,omitempty"`
}

// Item is an ordered key/value pair.
type Item struct {
	Key   string `yaml:"key"`
	Value any    `yaml:"value"`
}

// Expect specifies the expected result of a step.
type Expect struct {
	// Outcome is the trace outcome: ok, acquired, not_found, locked, or an
	// error code such as LOCK_OWNERSHIP_MISMATCH.
	Outcome string `yaml:"outcome"`

	// Keys, when set, must equal the keys reported by the step in order.
	Keys []string `yaml:"keys,omitempty"`

	// LockAge, when set, must equal the reported lock age.
	LockAge string `yaml:"lock_age,omitempty"`

	// Mode, when set, must equal the envelope mode used by write.
	Mode string `yaml:"mode,omitempty"`
}

// Assertion validates trace or final state.
type Assertion struct {
	Type string `yaml:"type"`

	// Op is the operation name (trace_contains, trace_count).
	Op string `yaml:"op,omitempty"`

	// Ops is the expected order (trace_order).
	Ops []string `yaml:"ops,omitempty"`

	// Session narrows trace_contains and names the final_state session.
	Session string `yaml:"session,omitempty"`

	// Outcome narrows trace_contains and trace_count.
	Outcome string `yaml:"outcome,omitempty"`

	// Count is the expected number of steps (trace_count).
	Count int `yaml:"count,omitempty"`

	// Expect is the expected final state (final_state).
	Expect *StateExpect `yaml:"expect,omitempty"`
}

// StateExpect describes the stored session checked by final_state. Only the
// fields that are set are compared.
type StateExpect struct {
	Exists *bool          `yaml:"exists,omitempty"`
	Locked *bool          `yaml:"locked,omitempty"`
	Keys   []string       `yaml:"keys,omitempty"`
	Values map[string]any `yaml:"values,omitempty"`
}

// Operation names.
const (
	OpCreate  = "create"
	OpAcquire = "acquire"
	OpSet     = "set"
	OpRemove  = "remove"
	OpClear   = "clear"
	OpWrite   = "write"
	OpRelease = "release"
	OpGet     = "get"
	OpDelete  = "delete"
	OpAdvance = "advance"
	OpPurge   = "purge"
)

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertFinalState    = "final_state"
)

// DefaultNode is the node used by steps that do not name one.
const DefaultNode = "node"

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

// ParseScenario parses scenario YAML with strict field validation.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
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
	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}

	for i, step := range s.Flow {
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

func validateStep(i int, step *Step) error {
	switch step.Op {
	case "":
		return fmt.Errorf("flow[%d]: op is required", i)
	case OpAdvance:
		d, err := time.ParseDuration(step.Duration)
		if err != nil {
			return fmt.Errorf("flow[%d]: advance needs a duration: %w", i, err)
		}
		if d < 0 {
			return fmt.Errorf("flow[%d]: duration must not be negative", i)
		}
	case OpPurge:
	case OpCreate, OpAcquire, OpSet, OpRemove, OpClear, OpWrite, OpRelease, OpGet, OpDelete:
		if step.Session == "" {
			return fmt.Errorf("flow[%d]: %s requires session", i, step.Op)
		}
	default:
		return fmt.Errorf("flow[%d]: unknown op %q", i, step.Op)
	}

	if step.Timeout < 0 {
		return fmt.Errorf("flow[%d]: timeout must not be negative", i)
	}
	if step.Expect != nil && step.Expect.Outcome == "" {
		return fmt.Errorf("flow[%d].expect: outcome is required", i)
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	case AssertTraceContains:
		if a.Op == "" {
			return fmt.Errorf("assertions[%d]: op is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Ops) == 0 {
			return fmt.Errorf("assertions[%d]: ops list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Op == "" {
			return fmt.Errorf("assertions[%d]: op is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertFinalState:
		if a.Session == "" {
			return fmt.Errorf("assertions[%d]: session is required for final_state", index)
		}
		if a.Expect == nil {
			return fmt.Errorf("assertions[%d]: expect is required for final_state", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
