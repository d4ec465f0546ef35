package mapapi

import (
	"fmt"
	"sort"
	"strings"
)

// Combination is an ordered, non-empty chord of input events. The last
// event is the trigger that completes the chord; equality is invariant
// under permutation of all events before it.
type Combination []InputEvent

// NewCombination validates and returns a combination.
func NewCombination(events ...InputEvent) (Combination, error) {
	if len(events) == 0 {
		return nil, fmt.Errorf("combination must contain at least one event")
	}
	return Combination(events), nil
}

// Trigger returns the final event of the combination.
func (c Combination) Trigger() InputEvent {
	return c[len(c)-1]
}

// Modifiers returns all events before the trigger.
func (c Combination) Modifiers() Combination {
	return c[:len(c)-1]
}

// Key returns the canonical stable string for the combination: the
// non-final events sorted, followed by the trigger, joined by "+". Two
// combinations that differ only in the order of their non-final events
// produce the same key.
func (c Combination) Key() string {
	parts := make([]string, 0, len(c))
	for _, ev := range c.Modifiers() {
		parts = append(parts, ev.String())
	}
	sort.Strings(parts)
	parts = append(parts, c.Trigger().String())
	return strings.Join(parts, "+")
}

// String serializes the combination in its original order.
func (c Combination) String() string {
	parts := make([]string, len(c))
	for i, ev := range c {
		parts[i] = ev.String()
	}
	return strings.Join(parts, "+")
}

// Equal reports permutation-invariant equality.
func (c Combination) Equal(other Combination) bool {
	return c.Key() == other.Key()
}

// Contains reports whether the combination includes an event with the given
// type and code.
func (c Combination) Contains(tc TypeCode) bool {
	for _, ev := range c {
		if ev.TypeCode() == tc {
			return true
		}
	}
	return false
}

// ParseCombination parses the "type,code,value" triples joined by "+"
// produced by String. The textual form round-trips.
func ParseCombination(s string) (Combination, error) {
	parts := strings.Split(s, "+")
	events := make([]InputEvent, 0, len(parts))
	for _, part := range parts {
		ev, err := ParseInputEvent(strings.TrimSpace(part))
		if err != nil {
			return nil, fmt.Errorf("invalid combination %q: %w", s, err)
		}
		events = append(events, ev)
	}
	return NewCombination(events...)
}
