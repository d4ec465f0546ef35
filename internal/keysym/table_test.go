package keysym

import (
	"testing"

	evdev "github.com/holoplot/go-evdev"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookupIsCaseInsensitive(t *testing.T) {
	table := New()

	for _, name := range []string{"KEY_A", "key_a", "a", "A"} {
		code, ok := table.Get(name)
		require.True(t, ok, name)
		assert.Equal(t, int(evdev.KEY_A), code, name)
	}
}

func TestCanonicalCaseIsPreserved(t *testing.T) {
	table := New()

	name, ok := table.Canonical("key_leftshift")
	require.True(t, ok)
	assert.Equal(t, "KEY_LEFTSHIFT", name)

	name, ok = table.Canonical("CONTROL_L")
	require.True(t, ok)
	assert.Equal(t, "Control_L", name)
}

func TestXKBAliases(t *testing.T) {
	table := New()

	code, ok := table.Get("Control_L")
	require.True(t, ok)
	assert.Equal(t, int(evdev.KEY_LEFTCTRL), code)

	code, ok = table.Get("Return")
	require.True(t, ok)
	assert.Equal(t, int(evdev.KEY_ENTER), code)
}

func TestDisableSentinel(t *testing.T) {
	table := New()

	code, ok := table.Get("disable")
	require.True(t, ok)
	assert.Equal(t, DisableCode, code)
	assert.True(t, table.IsDisable("Disable"))

	// The sentinel never resolves to an emittable code.
	_, ok = table.GetCode("disable")
	assert.False(t, ok)
}

func TestNameRoundTrip(t *testing.T) {
	table := New()

	code, ok := table.GetCode("KEY_F1")
	require.True(t, ok)
	assert.Equal(t, "KEY_F1", table.Name(code))
}

func TestUnknownName(t *testing.T) {
	table := New()

	_, ok := table.Get("KEY_DOES_NOT_EXIST")
	assert.False(t, ok)
	assert.NotEmpty(t, table.List())
}
