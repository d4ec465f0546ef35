// Package keysym resolves human-readable key and button names to numeric
// event codes and back.
package keysym

import (
	"sort"
	"strings"

	evdev "github.com/holoplot/go-evdev"
	"github.com/iancoleman/strcase"
)

// DisableName is the sentinel symbol that maps a combination to no output.
const DisableName = "disable"

// DisableCode is the reserved negative code of the disable sentinel.
const DisableCode = -1

// xkbAliases maps common XKB keysym names onto kernel key names, so that
// configurations written against X-style names keep resolving.
var xkbAliases = map[string]string{
	"Control_L": "KEY_LEFTCTRL",
	"Control_R": "KEY_RIGHTCTRL",
	"Shift_L":   "KEY_LEFTSHIFT",
	"Shift_R":   "KEY_RIGHTSHIFT",
	"Alt_L":     "KEY_LEFTALT",
	"Alt_R":     "KEY_RIGHTALT",
	"Super_L":   "KEY_LEFTMETA",
	"Super_R":   "KEY_RIGHTMETA",
	"Return":    "KEY_ENTER",
	"Escape":    "KEY_ESC",
	"BackSpace": "KEY_BACKSPACE",
	"Tab":       "KEY_TAB",
	"space":     "KEY_SPACE",
	"Delete":    "KEY_DELETE",
	"Home":      "KEY_HOME",
	"End":       "KEY_END",
	"Prior":     "KEY_PAGEUP",
	"Next":      "KEY_PAGEDOWN",
	"Left":      "KEY_LEFT",
	"Right":     "KEY_RIGHT",
	"Up":        "KEY_UP",
	"Down":      "KEY_DOWN",
}

type entry struct {
	// name is the case-preserving canonical spelling.
	name string
	code int
}

// Table is the symbol table. Lookups are case-insensitive; stored names
// keep their canonical case.
type Table struct {
	byName map[string]entry
	byCode map[evdev.EvCode]string
	names  []string
}

// New builds the table from the kernel key name list, friendly aliases for
// every name (short form, camelCase for multi-word keys, XKB names) and the
// disable sentinel.
func New() *Table {
	t := &Table{
		byName: make(map[string]entry),
		byCode: make(map[evdev.EvCode]string),
	}
	names := make([]string, 0, len(evdev.KEYFromString))
	for name := range evdev.KEYFromString {
		names = append(names, name)
	}
	// Deterministic canonical choice when several names share a code.
	sort.Strings(names)
	for _, name := range names {
		code := evdev.KEYFromString[name]
		t.add(name, int(code))
		if _, ok := t.byCode[code]; !ok {
			t.byCode[code] = name
		}
		trimmed := strings.TrimPrefix(name, "KEY_")
		if trimmed != name {
			t.add(trimmed, int(code))
			if strings.Contains(trimmed, "_") {
				t.add(strcase.ToLowerCamel(strings.ToLower(trimmed)), int(code))
			}
		}
	}
	for alias, name := range xkbAliases {
		if code, ok := evdev.KEYFromString[name]; ok {
			t.add(alias, int(code))
		}
	}
	t.add(DisableName, DisableCode)
	for _, e := range t.byName {
		t.names = append(t.names, e.name)
	}
	sort.Strings(t.names)
	return t
}

// add stores a name unless its case-insensitive form is already taken.
func (t *Table) add(name string, code int) {
	key := strings.ToLower(name)
	if _, ok := t.byName[key]; ok {
		return
	}
	t.byName[key] = entry{name: name, code: code}
}

// Get resolves a name to its code, case-insensitively. The disable
// sentinel resolves to DisableCode.
func (t *Table) Get(name string) (int, bool) {
	e, ok := t.byName[strings.ToLower(name)]
	if !ok {
		return 0, false
	}
	return e.code, true
}

// GetCode resolves a name to an emittable key code. The disable sentinel
// is not emittable.
func (t *Table) GetCode(name string) (evdev.EvCode, bool) {
	code, ok := t.Get(name)
	if !ok || code < 0 {
		return 0, false
	}
	return evdev.EvCode(code), true
}

// Canonical returns the case-preserving canonical spelling of a name.
func (t *Table) Canonical(name string) (string, bool) {
	e, ok := t.byName[strings.ToLower(name)]
	if !ok {
		return "", false
	}
	return e.name, true
}

// Name returns the canonical kernel name of a code, or the empty string.
func (t *Table) Name(code evdev.EvCode) string {
	return t.byCode[code]
}

// IsDisable reports whether the name is the disable sentinel.
func (t *Table) IsDisable(name string) bool {
	return strings.EqualFold(name, DisableName)
}

// List returns every known name in sorted order.
func (t *Table) List() []string {
	return t.names
}
