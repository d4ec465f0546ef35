package injectsvc

import (
	"context"
	"testing"
	"time"

	evdev "github.com/holoplot/go-evdev"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/remapd/remapd/internal/keysym"
	"github.com/remapd/remapd/internal/macro"
	"github.com/remapd/remapd/internal/outdev"
	"github.com/remapd/remapd/internal/varstore"
	"github.com/remapd/remapd/mapapi"
	"github.com/remapd/remapd/pkg/bus"
)

func testService(t *testing.T, backend Backend) (*Service, *outdev.MemoryOpener, *StatusBus) {
	t.Helper()
	opener := outdev.NewMemoryOpener()
	registry := outdev.NewRegistry(zap.NewNop(), outdev.WithOpener(opener.Open))
	env := &macro.Environment{
		Log:       zap.NewNop(),
		Symbols:   keysym.New(),
		Variables: varstore.New(zap.NewNop(), nil),
	}
	status := bus.NewBus[string, mapapi.StatusEvent](zap.NewNop())
	svc := NewService(zap.NewNop(), backend, registry, env, status,
		WithGrabRetry(1, time.Millisecond), WithTickRate(time.Millisecond))
	return svc, opener, status
}

func TestServiceApplyRunsGroupEndToEnd(t *testing.T) {
	dev := newFakeDevice(keyboardInfo("/dev/input/event1", 10))
	backend := newFakeBackend(dev)
	svc, opener, _ := testService(t, backend)
	defer svc.StopAll()

	require.NoError(t, svc.Apply(context.Background(), testConfig(t), mapapi.DefaultOptions()))

	require.Eventually(t, func() bool {
		for _, state := range svc.States() {
			if state == mapapi.StateRunning {
				return true
			}
		}
		return false
	}, time.Second, time.Millisecond)

	dev.events <- mapapi.NewInputEvent(evdev.EV_KEY, 10, 1)
	dev.events <- mapapi.NewInputEvent(evdev.EV_KEY, 10, 0)
	require.Eventually(t, func() bool {
		return len(opener.Events(outdev.TargetKeyboard)) == 2
	}, time.Second, time.Millisecond)
	assert.Equal(t, []mapapi.InputEvent{
		mapapi.NewInputEvent(evdev.EV_KEY, evdev.KEY_A, 1),
		mapapi.NewInputEvent(evdev.EV_KEY, evdev.KEY_A, 0),
	}, opener.Events(outdev.TargetKeyboard))

	svc.StopAll()
	assert.Empty(t, svc.States())
	assert.False(t, dev.grabbed)
}

func TestServiceApplyReportsMappingErrors(t *testing.T) {
	dev := newFakeDevice(keyboardInfo("/dev/input/event1", 10, 11))
	backend := newFakeBackend(dev)
	svc, _, status := testService(t, backend)
	defer svc.StopAll()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := status.Subscribe(ctx)

	cfg := testConfig(t)
	bad, err := mapapi.NewCombination(mapapi.NewInputEvent(evdev.EV_KEY, 11, 1))
	require.NoError(t, err)
	require.NoError(t, cfg.Register(bad, mapapi.OutputSpec{
		Kind:   mapapi.OutputSymbol,
		Symbol: "definitely_not_a_key",
		Target: outdev.TargetKeyboard,
	}))

	require.NoError(t, svc.Apply(ctx, cfg, mapapi.DefaultOptions()))

	var reported mapapi.StatusEvent
	require.Eventually(t, func() bool {
		for {
			select {
			case msg := <-events:
				if msg.Message.Kind == mapapi.StatusMappingError {
					reported = msg.Message
					return true
				}
			default:
				return false
			}
		}
	}, time.Second, time.Millisecond)
	assert.Equal(t, bad.Key(), reported.Mapping)
	assert.Error(t, reported.Err)

	// The valid mapping still drives a unit.
	require.Eventually(t, func() bool {
		return len(svc.States()) == 1
	}, time.Second, time.Millisecond)
}

func TestServiceApplySkipsIrrelevantGroups(t *testing.T) {
	dev := newFakeDevice(keyboardInfo("/dev/input/event1", 50, 51))
	backend := newFakeBackend(dev)
	svc, _, _ := testService(t, backend)
	defer svc.StopAll()

	require.NoError(t, svc.Apply(context.Background(), testConfig(t), mapapi.DefaultOptions()))
	assert.Empty(t, svc.States())
	assert.Zero(t, dev.grabAttempts())
}
