// Package mapapi defines the data model shared between the configuration
// source, the injection engine and the status sink: input events, event
// combinations, mappings and injector states.
package mapapi

import (
	"fmt"
	"strconv"
	"strings"

	evdev "github.com/holoplot/go-evdev"
)

// InputEvent is a single kernel-level input event. Two events are the same
// input for matching purposes when their Type and Code are equal; Value
// carries state (0 is release for digital inputs, a signed magnitude for
// analog ones).
type InputEvent struct {
	Type  evdev.EvType
	Code  evdev.EvCode
	Value int32
}

// TypeCode is the matching identity of an InputEvent.
type TypeCode struct {
	Type evdev.EvType
	Code evdev.EvCode
}

func NewInputEvent(typ evdev.EvType, code evdev.EvCode, value int32) InputEvent {
	return InputEvent{Type: typ, Code: code, Value: value}
}

func (e InputEvent) TypeCode() TypeCode {
	return TypeCode{Type: e.Type, Code: e.Code}
}

// Modify returns a copy of the event with a different value.
func (e InputEvent) Modify(value int32) InputEvent {
	e.Value = value
	return e
}

// IsKeyEvent reports whether the event behaves like a digital key, either a
// real EV_KEY or an analog event that has been normalized to a ternary value.
func (e InputEvent) IsKeyEvent() bool {
	return e.Type == evdev.EV_KEY || e.Value == -1 || e.Value == 1
}

// IsWheelEvent reports whether the event is a relative wheel movement. Wheel
// events never report a clean release and need debouncing.
func (e InputEvent) IsWheelEvent() bool {
	return e.Type == evdev.EV_REL && (e.Code == evdev.REL_WHEEL || e.Code == evdev.REL_HWHEEL)
}

// String renders the event in its stable serialized form "type,code,value".
func (e InputEvent) String() string {
	return fmt.Sprintf("%d,%d,%d", e.Type, e.Code, e.Value)
}

// ParseInputEvent parses the "type,code,value" form produced by String.
func ParseInputEvent(s string) (InputEvent, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return InputEvent{}, fmt.Errorf("invalid event %q: expected type,code,value", s)
	}
	fields := make([]int64, 3)
	for i, part := range parts {
		v, err := strconv.ParseInt(strings.TrimSpace(part), 10, 32)
		if err != nil {
			return InputEvent{}, fmt.Errorf("invalid event %q: %w", s, err)
		}
		fields[i] = v
	}
	return InputEvent{
		Type:  evdev.EvType(fields[0]),
		Code:  evdev.EvCode(fields[1]),
		Value: int32(fields[2]),
	}, nil
}
