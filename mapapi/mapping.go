package mapapi

import (
	"fmt"
)

// OutputKind discriminates what a mapping produces.
type OutputKind uint8

const (
	// OutputSymbol writes a single key symbol down/up in lockstep with the
	// physical combination.
	OutputSymbol OutputKind = iota
	// OutputMacro runs a compiled macro bound to the combination.
	OutputMacro
	// OutputDisabled consumes the physical event and writes nothing.
	OutputDisabled
)

// OutputSpec describes the output side of a mapping.
type OutputSpec struct {
	Kind OutputKind `json:"kind"`
	// Symbol is the key name for OutputSymbol.
	Symbol string `json:"symbol,omitempty"`
	// Macro is the macro source text for OutputMacro.
	Macro string `json:"macro,omitempty"`
	// Target names the virtual device the output is written to.
	Target string `json:"target"`
}

func (o OutputSpec) String() string {
	switch o.Kind {
	case OutputSymbol:
		return o.Symbol
	case OutputMacro:
		return o.Macro
	default:
		return "disable"
	}
}

// Mapping binds one combination to one output.
type Mapping struct {
	Combination Combination
	Output      OutputSpec
}

// ConfigSet is the compiled mapping configuration handed to the engine by
// the configuration source. At most one mapping may own a combination,
// including all permutations of its non-final events.
type ConfigSet struct {
	mappings map[string]*Mapping
	order    []string
}

func NewConfigSet() *ConfigSet {
	return &ConfigSet{
		mappings: make(map[string]*Mapping),
	}
}

// Register adds a mapping. It fails when a permutation of the combination
// is already owned by another mapping.
func (c *ConfigSet) Register(combination Combination, output OutputSpec) error {
	key := combination.Key()
	if existing, ok := c.mappings[key]; ok {
		return fmt.Errorf("combination %s is already mapped to %s", combination, existing.Output)
	}
	c.mappings[key] = &Mapping{Combination: combination, Output: output}
	c.order = append(c.order, key)
	return nil
}

// Get looks up the mapping owning the given combination, if any.
func (c *ConfigSet) Get(combination Combination) (*Mapping, bool) {
	m, ok := c.mappings[combination.Key()]
	return m, ok
}

// GetKey looks up a mapping by canonical combination key.
func (c *ConfigSet) GetKey(key string) (*Mapping, bool) {
	m, ok := c.mappings[key]
	return m, ok
}

// Len returns the number of registered mappings.
func (c *ConfigSet) Len() int {
	return len(c.mappings)
}

// Each visits mappings in registration order.
func (c *ConfigSet) Each(fn func(m *Mapping) bool) {
	for _, key := range c.order {
		if !fn(c.mappings[key]) {
			return
		}
	}
}

// Contains reports whether any mapping references the given type and code.
func (c *ConfigSet) Contains(tc TypeCode) bool {
	for _, key := range c.order {
		if c.mappings[key].Combination.Contains(tc) {
			return true
		}
	}
	return false
}
