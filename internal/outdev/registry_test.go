package outdev

import (
	"testing"

	evdev "github.com/holoplot/go-evdev"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/remapd/remapd/mapapi"
)

type fakeHandle struct {
	events []evdev.InputEvent
	closed bool
}

func (f *fakeHandle) WriteOne(ev *evdev.InputEvent) error {
	f.events = append(f.events, *ev)
	return nil
}

func (f *fakeHandle) Close() error {
	f.closed = true
	return nil
}

func fakeRegistry(t *testing.T) (*Registry, map[string]*fakeHandle) {
	t.Helper()
	handles := make(map[string]*fakeHandle)
	reg := NewRegistry(zap.NewNop(), WithOpener(func(name string, caps map[evdev.EvType][]evdev.EvCode) (handle, error) {
		h := &fakeHandle{}
		handles[name] = h
		return h, nil
	}))
	return reg, handles
}

func TestWriteChecksCapabilities(t *testing.T) {
	reg, handles := fakeRegistry(t)
	require.NoError(t, reg.Create())

	kb, err := reg.Get(TargetKeyboard)
	require.NoError(t, err)

	require.NoError(t, kb.Write(mapapi.NewInputEvent(evdev.EV_KEY, evdev.KEY_A, 1)))
	require.NoError(t, kb.Sync())

	// A keyboard does not advertise relative motion.
	err = kb.Write(mapapi.NewInputEvent(evdev.EV_REL, evdev.REL_X, 5))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCapability)

	h := handles["remapd "+TargetKeyboard]
	require.Len(t, h.events, 2)
	assert.Equal(t, evdev.EvType(evdev.EV_KEY), h.events[0].Type)
	assert.Equal(t, evdev.EvType(evdev.EV_SYN), h.events[1].Type)
}

func TestExpandBeforeCreate(t *testing.T) {
	reg, _ := fakeRegistry(t)

	caps := mapapi.NewCapabilities().Add(evdev.EV_REL, evdev.REL_WHEEL)
	require.NoError(t, reg.Expand(TargetKeyboard, caps))
	require.NoError(t, reg.Create())

	kb, err := reg.Get(TargetKeyboard)
	require.NoError(t, err)
	assert.NoError(t, kb.Write(mapapi.NewInputEvent(evdev.EV_REL, evdev.REL_WHEEL, -1)))

	// Capability expansion after creation is refused.
	assert.Error(t, reg.Expand(TargetKeyboard, caps))
}

func TestFindTargetFallback(t *testing.T) {
	reg, _ := fakeRegistry(t)
	require.NoError(t, reg.Create())

	dev, ok := reg.FindTarget(mapapi.NewInputEvent(evdev.EV_REL, evdev.REL_X, 1))
	require.True(t, ok)
	assert.Equal(t, TargetMouse, dev.Name())

	_, ok = reg.FindTarget(mapapi.NewInputEvent(evdev.EV_ABS, evdev.ABS_X, 1))
	assert.False(t, ok)
}

func TestWriterReroutesToCapableDevice(t *testing.T) {
	reg, handles := fakeRegistry(t)
	require.NoError(t, reg.Create())

	kb, err := reg.Writer(TargetKeyboard)
	require.NoError(t, err)

	// Keyboard events stay on the keyboard.
	require.NoError(t, kb.Write(mapapi.NewInputEvent(evdev.EV_KEY, evdev.KEY_A, 1)))
	// Wheel motion is beyond the keyboard and reroutes to the mouse.
	require.NoError(t, kb.Write(mapapi.NewInputEvent(evdev.EV_REL, evdev.REL_WHEEL, -1)))
	require.NoError(t, kb.Sync())

	kbHandle := handles["remapd "+TargetKeyboard]
	mouseHandle := handles["remapd "+TargetMouse]
	require.Len(t, kbHandle.events, 2)
	assert.Equal(t, evdev.EvType(evdev.EV_KEY), kbHandle.events[0].Type)
	assert.Equal(t, evdev.EvType(evdev.EV_SYN), kbHandle.events[1].Type)
	require.Len(t, mouseHandle.events, 2)
	assert.Equal(t, evdev.EvType(evdev.EV_REL), mouseHandle.events[0].Type)
	assert.Equal(t, evdev.EvType(evdev.EV_SYN), mouseHandle.events[1].Type)

	// Nothing declared can emit absolute axes.
	err = kb.Write(mapapi.NewInputEvent(evdev.EV_ABS, evdev.ABS_X, 1))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCapability)
}

func TestUnknownTarget(t *testing.T) {
	reg, _ := fakeRegistry(t)
	_, err := reg.Get("projector")
	assert.Error(t, err)
}

func TestCloseReleasesHandles(t *testing.T) {
	reg, handles := fakeRegistry(t)
	require.NoError(t, reg.Create())
	reg.Close()

	for name, h := range handles {
		assert.True(t, h.closed, name)
	}

	kb, err := reg.Get(TargetKeyboard)
	require.NoError(t, err)
	assert.Error(t, kb.Write(mapapi.NewInputEvent(evdev.EV_KEY, evdev.KEY_A, 1)))
}
