package macro

import (
	"context"
	"testing"
	"time"

	evdev "github.com/holoplot/go-evdev"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/remapd/remapd/internal/outdev"
	"github.com/remapd/remapd/internal/varstore"
	"github.com/remapd/remapd/mapapi"
)

func startEnv(t *testing.T) (*Environment, context.Context) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	env := testEnv()
	go func() {
		_ = env.Variables.Start(ctx)
	}()
	<-env.Variables.Ready()
	return env, ctx
}

func TestKeystrokeSleepUpdatesWhileRunning(t *testing.T) {
	env, ctx := startEnv(t)
	rec := outdev.NewRecorder(nil)

	m, err := NewCompiler(env).Compile(`repeat(20, key(a))`)
	require.NoError(t, err)
	env.KeystrokeSleep.Store(time.Microsecond)

	m.Press()
	done := make(chan struct{})
	go func() {
		defer close(done)
		assert.NoError(t, m.Run(ctx, rec))
	}()
	// Reconfiguration stores a new pause while the run is still writing.
	for i := 0; i < 100; i++ {
		env.KeystrokeSleep.Store(time.Duration(i%2) * time.Microsecond)
	}
	m.Release()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("macro did not finish")
	}
	assert.Len(t, keyEvents(rec.Events()), 40)
}

func keyEvents(events []mapapi.InputEvent) []mapapi.InputEvent {
	var out []mapapi.InputEvent
	for _, ev := range events {
		if ev.Type == evdev.EV_KEY {
			out = append(out, ev)
		}
	}
	return out
}

func TestKeyWritesDownThenUp(t *testing.T) {
	env, ctx := startEnv(t)
	rec := outdev.NewRecorder(nil)

	m, err := NewCompiler(env).Compile(`key(a)`)
	require.NoError(t, err)

	m.Press()
	m.Run(ctx, rec)
	m.Release()

	events := keyEvents(rec.Events())
	require.Len(t, events, 2)
	assert.Equal(t, mapapi.NewInputEvent(evdev.EV_KEY, evdev.KEY_A, 1), events[0])
	assert.Equal(t, mapapi.NewInputEvent(evdev.EV_KEY, evdev.KEY_A, 0), events[1])

	// A sequential re-run after completion is honored: four writes total,
	// never interleaved.
	m.Press()
	m.Run(ctx, rec)
	m.Release()
	events = keyEvents(rec.Events())
	require.Len(t, events, 4)
	assert.Equal(t, int32(1), events[2].Value)
	assert.Equal(t, int32(0), events[3].Value)
}

func TestConcurrentRunIsIgnored(t *testing.T) {
	env, ctx := startEnv(t)
	rec := outdev.NewRecorder(nil)

	m, err := NewCompiler(env).Compile(`hold()`)
	require.NoError(t, err)

	m.Press()
	done := make(chan struct{})
	go func() {
		m.Run(ctx, rec)
		close(done)
	}()
	time.Sleep(10 * time.Millisecond)

	// The second run request on the same still-running instance is
	// dropped.
	m.Run(ctx, rec)

	m.Release()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("macro did not finish after release")
	}
}

func TestRepeatEmitsExactPairs(t *testing.T) {
	env, ctx := startEnv(t)
	rec := outdev.NewRecorder(nil)

	m, err := NewCompiler(env).Compile(`repeat(3, key(a))`)
	require.NoError(t, err)

	m.Press()
	m.Run(ctx, rec)
	m.Release()

	events := keyEvents(rec.Events())
	require.Len(t, events, 6)
	for i := 0; i < 6; i += 2 {
		assert.Equal(t, int32(1), events[i].Value)
		assert.Equal(t, int32(0), events[i+1].Value)
	}
}

func TestHoldRepeatsUntilRelease(t *testing.T) {
	env, ctx := startEnv(t)
	rec := outdev.NewRecorder(nil)

	m, err := NewCompiler(env).Compile(`hold(key(a))`)
	require.NoError(t, err)

	m.Press()
	done := make(chan struct{})
	go func() {
		m.Run(ctx, rec)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	m.Release()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("hold did not complete after release")
	}

	events := keyEvents(rec.Events())
	require.GreaterOrEqual(t, len(events), 4, "expected more than one down/up pair while held")
	afterRelease := rec.Len()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, afterRelease, rec.Len(), "no events may be written after release")

	// Pairs stay balanced.
	assert.Equal(t, int32(0), events[len(events)-1].Value)
}

func TestHoldSymbolPressesUntilRelease(t *testing.T) {
	env, ctx := startEnv(t)
	rec := outdev.NewRecorder(nil)

	m, err := NewCompiler(env).Compile(`hold(b)`)
	require.NoError(t, err)

	m.Press()
	done := make(chan struct{})
	go func() {
		m.Run(ctx, rec)
		close(done)
	}()

	require.Eventually(t, func() bool { return rec.Len() >= 1 }, time.Second, time.Millisecond)
	events := keyEvents(rec.Events())
	require.Len(t, events, 1)
	assert.Equal(t, int32(1), events[0].Value)

	m.Release()
	<-done
	events = keyEvents(rec.Events())
	require.Len(t, events, 2)
	assert.Equal(t, int32(0), events[1].Value)
}

func TestModifyWrapsChild(t *testing.T) {
	env, ctx := startEnv(t)
	rec := outdev.NewRecorder(nil)

	m, err := NewCompiler(env).Compile(`modify(Shift_L, key(a))`)
	require.NoError(t, err)

	m.Press()
	m.Run(ctx, rec)
	m.Release()

	events := keyEvents(rec.Events())
	require.Len(t, events, 4)
	assert.Equal(t, evdev.EvCode(evdev.KEY_LEFTSHIFT), events[0].Code)
	assert.Equal(t, int32(1), events[0].Value)
	assert.Equal(t, evdev.EvCode(evdev.KEY_A), events[1].Code)
	assert.Equal(t, evdev.EvCode(evdev.KEY_A), events[2].Code)
	assert.Equal(t, evdev.EvCode(evdev.KEY_LEFTSHIFT), events[3].Code)
	assert.Equal(t, int32(0), events[3].Value)
}

func TestSetAndIfEq(t *testing.T) {
	env, ctx := startEnv(t)
	rec := outdev.NewRecorder(nil)
	compiler := NewCompiler(env)

	setter, err := compiler.Compile(`set(mode, 1)`)
	require.NoError(t, err)
	setter.Press()
	setter.Run(ctx, rec)
	setter.Release()

	cond, err := compiler.Compile(`if_eq($mode, 1, then=key(a), else=key(b))`)
	require.NoError(t, err)
	cond.Press()
	cond.Run(ctx, rec)
	cond.Release()

	events := keyEvents(rec.Events())
	require.Len(t, events, 2)
	assert.Equal(t, evdev.EvCode(evdev.KEY_A), events[0].Code)

	// Change the variable; the else branch runs.
	rec.Reset()
	require.NoError(t, env.Variables.Set(ctx, "mode", varstore.NumberValue(2)))
	cond.Press()
	cond.Run(ctx, rec)
	cond.Release()
	events = keyEvents(rec.Events())
	require.Len(t, events, 2)
	assert.Equal(t, evdev.EvCode(evdev.KEY_B), events[0].Code)
}

func TestRepeatCountFromVariable(t *testing.T) {
	env, ctx := startEnv(t)
	rec := outdev.NewRecorder(nil)
	compiler := NewCompiler(env)

	m, err := compiler.Compile(`repeat($n, key(a))`)
	require.NoError(t, err)

	// Non-numeric count aborts just this invocation without writes.
	require.NoError(t, env.Variables.Set(ctx, "n", varstore.StringValue("lots")))
	m.Press()
	m.Run(ctx, rec)
	m.Release()
	assert.Empty(t, keyEvents(rec.Events()))

	require.NoError(t, env.Variables.Set(ctx, "n", varstore.NumberValue(2)))
	m.Press()
	m.Run(ctx, rec)
	m.Release()
	assert.Len(t, keyEvents(rec.Events()), 4)
}

func TestIfTap(t *testing.T) {
	env, ctx := startEnv(t)
	rec := outdev.NewRecorder(nil)

	m, err := NewCompiler(env).Compile(`if_tap(then=key(a), else=key(b), timeout=50)`)
	require.NoError(t, err)

	// Released quickly: tap branch.
	m.Press()
	done := make(chan struct{})
	go func() {
		m.Run(ctx, rec)
		close(done)
	}()
	time.Sleep(5 * time.Millisecond)
	m.Release()
	<-done
	events := keyEvents(rec.Events())
	require.Len(t, events, 2)
	assert.Equal(t, evdev.EvCode(evdev.KEY_A), events[0].Code)

	// Held past the timeout: hold branch.
	rec.Reset()
	m.Press()
	done = make(chan struct{})
	go func() {
		m.Run(ctx, rec)
		close(done)
	}()
	time.Sleep(80 * time.Millisecond)
	m.Release()
	<-done
	events = keyEvents(rec.Events())
	require.Len(t, events, 2)
	assert.Equal(t, evdev.EvCode(evdev.KEY_B), events[0].Code)
}

func TestIfSingle(t *testing.T) {
	env, ctx := startEnv(t)
	rec := outdev.NewRecorder(nil)

	m, err := NewCompiler(env).Compile(`if_single(key(a), key(b))`)
	require.NoError(t, err)

	// Trigger released without any other key: then branch.
	m.Press()
	done := make(chan struct{})
	go func() {
		m.Run(ctx, rec)
		close(done)
	}()
	time.Sleep(5 * time.Millisecond)
	m.Release()
	<-done
	events := keyEvents(rec.Events())
	require.Len(t, events, 2)
	assert.Equal(t, evdev.EvCode(evdev.KEY_A), events[0].Code)

	// Another key observed while waiting: else branch.
	rec.Reset()
	m.Press()
	done = make(chan struct{})
	go func() {
		m.Run(ctx, rec)
		close(done)
	}()
	time.Sleep(5 * time.Millisecond)
	m.NotifyKeyDown(mapapi.NewInputEvent(evdev.EV_KEY, evdev.KEY_X, 1))
	<-done
	m.Release()
	events = keyEvents(rec.Events())
	require.Len(t, events, 2)
	assert.Equal(t, evdev.EvCode(evdev.KEY_B), events[0].Code)
}

func TestChordPressesAndReleasesInOrder(t *testing.T) {
	env, ctx := startEnv(t)
	rec := outdev.NewRecorder(nil)

	m, err := NewCompiler(env).Compile(`a + b`)
	require.NoError(t, err)

	m.Press()
	done := make(chan struct{})
	go func() {
		m.Run(ctx, rec)
		close(done)
	}()
	require.Eventually(t, func() bool { return len(keyEvents(rec.Events())) >= 2 }, time.Second, time.Millisecond)
	m.Release()
	<-done

	events := keyEvents(rec.Events())
	require.Len(t, events, 4)
	assert.Equal(t, evdev.EvCode(evdev.KEY_A), events[0].Code)
	assert.Equal(t, evdev.EvCode(evdev.KEY_B), events[1].Code)
	assert.Equal(t, evdev.EvCode(evdev.KEY_B), events[2].Code)
	assert.Equal(t, evdev.EvCode(evdev.KEY_A), events[3].Code)
}

func TestCapabilityErrorAbortsRemainingTasks(t *testing.T) {
	env, ctx := startEnv(t)
	// A recorder that only accepts KEY_A: the second keystroke fails and
	// the rest of the sequence is aborted, without a crash.
	caps := mapapi.NewCapabilities().Add(evdev.EV_KEY, evdev.KEY_A)
	rec := outdev.NewRecorder(caps)

	m, err := NewCompiler(env).Compile(`key(a).key(b).key(a)`)
	require.NoError(t, err)

	m.Press()
	m.Run(ctx, rec)
	m.Release()

	events := keyEvents(rec.Events())
	require.Len(t, events, 2)
	assert.Equal(t, evdev.EvCode(evdev.KEY_A), events[0].Code)
}
