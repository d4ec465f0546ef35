package stick

import (
	"context"
	"testing"
	"time"

	evdev "github.com/holoplot/go-evdev"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/remapd/remapd/internal/outdev"
	"github.com/remapd/remapd/mapapi"
)

func fastOptions() mapapi.Options {
	opts := mapapi.DefaultOptions()
	opts.PointerSpeed = 2000
	opts.WheelSpeed = 2000
	return opts
}

func startTranslator(t *testing.T, tr *Translator) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = tr.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestPointerMotionWhileDeflected(t *testing.T) {
	rec := outdev.NewRecorder(nil)
	tr := New(zap.NewNop(), SideLeft, mapapi.PurposeMouse, fastOptions(), rec, WithTickRate(time.Millisecond))
	tr.DeclareAxis(evdev.ABS_X, evdev.AbsInfo{Minimum: -32768, Maximum: 32767})
	tr.DeclareAxis(evdev.ABS_Y, evdev.AbsInfo{Minimum: -32768, Maximum: 32767})

	require.True(t, tr.Feed(mapapi.NewInputEvent(evdev.EV_ABS, evdev.ABS_X, 32767)))
	startTranslator(t, tr)

	require.Eventually(t, func() bool { return rec.Len() >= 3 }, time.Second, time.Millisecond)
	for _, ev := range rec.Events() {
		assert.Equal(t, evdev.EvType(evdev.EV_REL), ev.Type)
		assert.Equal(t, evdev.EvCode(evdev.REL_X), ev.Code)
		assert.Positive(t, ev.Value)
	}
}

func TestStopsWithinOneTickAtRest(t *testing.T) {
	rec := outdev.NewRecorder(nil)
	tr := New(zap.NewNop(), SideLeft, mapapi.PurposeMouse, fastOptions(), rec, WithTickRate(time.Millisecond))
	tr.DeclareAxis(evdev.ABS_X, evdev.AbsInfo{Minimum: -32768, Maximum: 32767})
	tr.DeclareAxis(evdev.ABS_Y, evdev.AbsInfo{Minimum: -32768, Maximum: 32767})

	require.True(t, tr.Feed(mapapi.NewInputEvent(evdev.EV_ABS, evdev.ABS_X, 32767)))
	startTranslator(t, tr)
	require.Eventually(t, func() bool { return rec.Len() >= 3 }, time.Second, time.Millisecond)

	// Back to rest: emission must stop without any further input events.
	require.True(t, tr.Feed(mapapi.NewInputEvent(evdev.EV_ABS, evdev.ABS_X, 0)))
	var settled int
	require.Eventually(t, func() bool {
		n := rec.Len()
		if n == settled && n > 0 {
			return true
		}
		settled = n
		return false
	}, time.Second, 5*time.Millisecond)

	after := rec.Len()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, after, rec.Len())
}

func TestWheelVerticalInverted(t *testing.T) {
	rec := outdev.NewRecorder(nil)
	tr := New(zap.NewNop(), SideLeft, mapapi.PurposeWheel, fastOptions(), rec, WithTickRate(time.Millisecond))
	tr.DeclareAxis(evdev.ABS_X, evdev.AbsInfo{Minimum: -32768, Maximum: 32767})
	tr.DeclareAxis(evdev.ABS_Y, evdev.AbsInfo{Minimum: -32768, Maximum: 32767})

	// Stick pushed down (positive Y) scrolls down, which is a negative
	// wheel value.
	require.True(t, tr.Feed(mapapi.NewInputEvent(evdev.EV_ABS, evdev.ABS_Y, 32767)))
	startTranslator(t, tr)

	require.Eventually(t, func() bool { return rec.Len() >= 3 }, time.Second, time.Millisecond)
	for _, ev := range rec.Events() {
		assert.Equal(t, evdev.EvCode(evdev.REL_WHEEL), ev.Code)
		assert.Negative(t, ev.Value)
	}
}

func TestRightSideUsesRightAxes(t *testing.T) {
	rec := outdev.NewRecorder(nil)
	tr := New(zap.NewNop(), SideRight, mapapi.PurposeMouse, fastOptions(), rec)

	assert.False(t, tr.Feed(mapapi.NewInputEvent(evdev.EV_ABS, evdev.ABS_X, 100)))
	assert.True(t, tr.Feed(mapapi.NewInputEvent(evdev.EV_ABS, evdev.ABS_RX, 100)))
	assert.True(t, tr.Feed(mapapi.NewInputEvent(evdev.EV_ABS, evdev.ABS_RY, 100)))
}

func TestButtonsPurposeLeavesAxesToMatching(t *testing.T) {
	rec := outdev.NewRecorder(nil)
	tr := New(zap.NewNop(), SideLeft, mapapi.PurposeButtons, fastOptions(), rec)

	assert.False(t, tr.Feed(mapapi.NewInputEvent(evdev.EV_ABS, evdev.ABS_X, 32767)))
	assert.False(t, tr.Feed(mapapi.NewInputEvent(evdev.EV_ABS, evdev.ABS_Y, 32767)))
	require.NoError(t, tr.Run(context.Background()))
	assert.Zero(t, rec.Len())
}

func TestPurposeNoneIsInert(t *testing.T) {
	rec := outdev.NewRecorder(nil)
	tr := New(zap.NewNop(), SideLeft, mapapi.PurposeNone, mapapi.DefaultOptions(), rec)

	assert.False(t, tr.Feed(mapapi.NewInputEvent(evdev.EV_ABS, evdev.ABS_X, 32767)))
	require.NoError(t, tr.Run(context.Background()))
	assert.Zero(t, rec.Len())
}
