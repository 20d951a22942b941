package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Scenario defines a dispense scenario.
type Scenario struct {
	// Name uniquely identifies this scenario. Also names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Fixture is a CUE fixture directory, relative to the scenario file.
	// Empty selects the built-in default fixture.
	Fixture string `yaml:"fixture,omitempty"`

	// Machine is the fixture machine steps target unless they name another.
	Machine string `yaml:"machine"`

	// NotifyMode is "level" (default) or "edge".
	NotifyMode string `yaml:"notify_mode,omitempty"`

	Steps []Step `yaml:"steps"`

	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// Step is one action. Exactly one of Dispense, AddIngredient or Concurrent
// is set.
type Step struct {
	// Dispense is the beverage to dispense.
	Dispense string `yaml:"dispense,omitempty"`

	// AddIngredient is the ingredient to restock by Quantity.
	AddIngredient string   `yaml:"add_ingredient,omitempty"`
	Quantity      Quantity `yaml:"quantity,omitempty"`

	// Machine overrides the scenario machine for this step.
	Machine string `yaml:"machine,omitempty"`

	// Concurrent steps run at the same time. Nested steps may not carry
	// their own expect clause or nest further groups.
	Concurrent []Step `yaml:"concurrent,omitempty"`

	Expect *Expect `yaml:"expect,omitempty"`
}

// Kind returns "dispense", "add_ingredient" or "concurrent".
func (s Step) Kind() string {
	switch {
	case len(s.Concurrent) > 0:
		return StepConcurrent
	case s.AddIngredient != "":
		return StepAddIngredient
	default:
		return StepDispense
	}
}

// Step kinds.
const (
	StepDispense      = "dispense"
	StepAddIngredient = "add_ingredient"
	StepConcurrent    = "concurrent"
)

// Expect specifies what a step must produce. Unset fields are not checked.
type Expect struct {
	// Error is the expected engine error code; empty expects success.
	Error string `yaml:"error,omitempty"`

	// Ingredient is the ingredient the error must name.
	Ingredient string `yaml:"ingredient,omitempty"`

	// Notifications lists the ingredients notified, in recipe order.
	// Nil skips the check; an empty list expects none.
	Notifications *[]string `yaml:"notifications,omitempty"`

	// Stock is a subset of the machine stock after the step.
	Stock map[string]Quantity `yaml:"stock,omitempty"`

	// Outcomes counts results of a concurrent group by "ok" or error code.
	Outcomes map[string]int `yaml:"outcomes,omitempty"`
}

// Quantity is a decimal read from a YAML scalar without float rounding.
type Quantity struct {
	decimal.Decimal
}

// UnmarshalYAML parses the scalar text as a decimal.
func (q *Quantity) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: quantity must be a number", node.Line)
	}
	d, err := decimal.NewFromString(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: invalid quantity %q", node.Line, node.Value)
	}
	q.Decimal = d
	return nil
}

// Assertion validates the state at the end of a scenario.
type Assertion struct {
	// Type is one of AssertStock, AssertNotifications, AssertOutcomes,
	// AssertJournal.
	Type string `yaml:"type"`

	// Machine defaults to the scenario machine.
	Machine string `yaml:"machine,omitempty"`

	// Stock is the exact expected stock (used by stock).
	Stock map[string]Quantity `yaml:"stock,omitempty"`

	// Ingredient filters notifications (used by notifications).
	Ingredient string `yaml:"ingredient,omitempty"`

	// Outcome is "ok" or an error code (used by outcomes).
	Outcome string `yaml:"outcome,omitempty"`

	// Count is the expected number of matches.
	Count int `yaml:"count,omitempty"`
}

// Assertion type constants.
const (
	AssertStock         = "stock"
	AssertNotifications = "notifications"
	AssertOutcomes      = "outcomes"
	AssertJournal       = "journal"
)

// LoadScenario reads and parses a scenario YAML file. A relative fixture
// path is resolved against the scenario's directory.
//
// Unknown fields are rejected to catch typos.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	s, err := ParseScenario(data)
	if err != nil {
		return nil, err
	}
	if s.Fixture != "" && !filepath.IsAbs(s.Fixture) {
		s.Fixture = filepath.Join(filepath.Dir(path), s.Fixture)
	}
	if s.Fixture != "" {
		if _, err := os.Stat(s.Fixture); err != nil {
			return nil, fmt.Errorf("invalid scenario: fixture not found: %s", s.Fixture)
		}
	}
	return s, nil
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var s Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&s); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &s, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Machine == "" {
		return fmt.Errorf("machine is required")
	}
	switch s.NotifyMode {
	case "", "level", "edge":
	default:
		return fmt.Errorf("notify_mode must be level or edge, got %q", s.NotifyMode)
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	for i, step := range s.Steps {
		if err := validateStep(fmt.Sprintf("steps[%d]", i), step, true); err != nil {
			return err
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(i, a); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(where string, s Step, topLevel bool) error {
	set := 0
	if s.Dispense != "" {
		set++
	}
	if s.AddIngredient != "" {
		set++
	}
	if len(s.Concurrent) > 0 {
		set++
	}
	if set != 1 {
		return fmt.Errorf("%s: exactly one of dispense, add_ingredient or concurrent is required", where)
	}

	if s.Kind() == StepConcurrent {
		if !topLevel {
			return fmt.Errorf("%s: concurrent groups cannot be nested", where)
		}
		for i, sub := range s.Concurrent {
			subWhere := fmt.Sprintf("%s.concurrent[%d]", where, i)
			if err := validateStep(subWhere, sub, false); err != nil {
				return err
			}
			if sub.Expect != nil {
				return fmt.Errorf("%s: expect belongs on the concurrent group", subWhere)
			}
		}
	}

	if s.Expect != nil && s.Kind() != StepConcurrent && len(s.Expect.Outcomes) > 0 {
		return fmt.Errorf("%s.expect: outcomes only apply to concurrent groups", where)
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a Assertion) error {
	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	case AssertStock:
		if len(a.Stock) == 0 {
			return fmt.Errorf("assertions[%d]: stock is required for stock", index)
		}
	case AssertNotifications, AssertJournal:
	case AssertOutcomes:
		if a.Outcome == "" {
			return fmt.Errorf("assertions[%d]: outcome is required for outcomes", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	if a.Count < 0 {
		return fmt.Errorf("assertions[%d]: count must be non-negative", index)
	}
	return nil
}
