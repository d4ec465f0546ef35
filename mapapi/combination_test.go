package mapapi

import (
	"testing"

	evdev "github.com/holoplot/go-evdev"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func key(code evdev.EvCode, value int32) InputEvent {
	return NewInputEvent(evdev.EV_KEY, code, value)
}

func TestCombinationPermutationInvariance(t *testing.T) {
	a := key(1, 1)
	b := key(2, 1)
	c := key(3, 1)
	trigger := key(4, 1)

	first, err := NewCombination(a, b, c, trigger)
	require.NoError(t, err)

	permutations := [][]InputEvent{
		{a, c, b, trigger},
		{b, a, c, trigger},
		{b, c, a, trigger},
		{c, a, b, trigger},
		{c, b, a, trigger},
	}
	for _, events := range permutations {
		other, err := NewCombination(events...)
		require.NoError(t, err)
		assert.Equal(t, first.Key(), other.Key())
		assert.True(t, first.Equal(other))
	}

	// Moving the trigger makes a different combination.
	swapped, err := NewCombination(a, b, trigger, c)
	require.NoError(t, err)
	assert.NotEqual(t, first.Key(), swapped.Key())
}

func TestCombinationRoundTrip(t *testing.T) {
	combo, err := NewCombination(key(30, 1), key(48, 1))
	require.NoError(t, err)
	assert.Equal(t, "1,30,1+1,48,1", combo.String())

	parsed, err := ParseCombination(combo.String())
	require.NoError(t, err)
	assert.Equal(t, combo, parsed)

	parsed, err = ParseCombination(combo.Key())
	require.NoError(t, err)
	assert.True(t, combo.Equal(parsed))
}

func TestCombinationRejectsEmpty(t *testing.T) {
	_, err := NewCombination()
	assert.Error(t, err)

	_, err = ParseCombination("")
	assert.Error(t, err)

	_, err = ParseCombination("1,30")
	assert.Error(t, err)
}

func TestConfigSetRejectsPermutationDuplicates(t *testing.T) {
	set := NewConfigSet()

	combo, err := NewCombination(key(1, 1), key(2, 1), key(3, 1))
	require.NoError(t, err)
	require.NoError(t, set.Register(combo, OutputSpec{Kind: OutputSymbol, Symbol: "a", Target: "keyboard"}))

	permuted, err := NewCombination(key(2, 1), key(1, 1), key(3, 1))
	require.NoError(t, err)
	err = set.Register(permuted, OutputSpec{Kind: OutputSymbol, Symbol: "b", Target: "keyboard"})
	assert.Error(t, err)

	// Same keys with a different trigger is a distinct combination.
	distinct, err := NewCombination(key(1, 1), key(3, 1), key(2, 1))
	require.NoError(t, err)
	assert.NoError(t, set.Register(distinct, OutputSpec{Kind: OutputSymbol, Symbol: "b", Target: "keyboard"}))

	assert.Equal(t, 2, set.Len())
}

func TestConfigSetContains(t *testing.T) {
	set := NewConfigSet()
	combo, err := NewCombination(key(10, 1))
	require.NoError(t, err)
	require.NoError(t, set.Register(combo, OutputSpec{Kind: OutputDisabled, Target: "keyboard"}))

	assert.True(t, set.Contains(TypeCode{Type: evdev.EV_KEY, Code: 10}))
	assert.False(t, set.Contains(TypeCode{Type: evdev.EV_KEY, Code: 11}))
}
