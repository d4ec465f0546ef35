package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterAndGet(t *testing.T) {
	r := NewRegistry[int]()
	require.NoError(t, r.Register("one", 1))
	require.NoError(t, r.Register("two", 2))

	v, err := r.Get("one")
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	_, err = r.Get("three")
	assert.Error(t, err)
	assert.True(t, r.Has("two"))
	assert.False(t, r.Has("three"))
}

func TestDuplicateRegistrationFails(t *testing.T) {
	r := NewRegistry[string]()
	require.NoError(t, r.Register("k", "a"))
	assert.Error(t, r.Register("k", "b"))
	assert.Panics(t, func() { r.MustRegister("k", "c") })
}

func TestKeysAreSorted(t *testing.T) {
	r := NewRegistry[struct{}]()
	r.MustRegister("b", struct{}{})
	r.MustRegister("a", struct{}{})
	r.MustRegister("c", struct{}{})
	assert.Equal(t, []string{"a", "b", "c"}, r.Keys())
}
