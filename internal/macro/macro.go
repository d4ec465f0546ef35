// Package macro compiles macro source text into an executable task tree
// and runs it with correct timing against a virtual output device.
//
// A compiled Macro is bound to a trigger: the physical combination that
// starts it. Press and Release transitions drive the hold semantics of
// hold, hold_keys, if_tap and if_single tasks.
package macro

import (
	"context"
	"sync"
	"time"

	evdev "github.com/holoplot/go-evdev"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/remapd/remapd/internal/keysym"
	"github.com/remapd/remapd/internal/outdev"
	"github.com/remapd/remapd/internal/varstore"
	"github.com/remapd/remapd/mapapi"
)

// Environment bundles what every macro needs: symbol resolution at compile
// time, the shared variable store and timing configuration at run time.
type Environment struct {
	Log       *zap.Logger
	Symbols   *keysym.Table
	Variables *varstore.Store
	// KeystrokeSleep is read by running macros while configuration
	// changes store a new value, hence the atomic.
	KeystrokeSleep atomic.Duration
}

// Macro is a compiled task sequence. The root macro of a mapping is run by
// the keycode mapper; nested macros run inline within their parent's flow.
type Macro struct {
	env   *Environment
	src   string
	tasks []task
	caps  mapapi.Capabilities

	running *atomic.Bool

	mu        sync.Mutex
	holding   bool
	releaseCh chan struct{}
	observers map[chan mapapi.InputEvent]struct{}
}

func newMacro(env *Environment, src string, tasks []task) *Macro {
	caps := mapapi.NewCapabilities()
	for _, t := range tasks {
		caps.Merge(t.capabilities())
	}
	return &Macro{
		env:       env,
		src:       src,
		tasks:     tasks,
		caps:      caps,
		running:   atomic.NewBool(false),
		observers: make(map[chan mapapi.InputEvent]struct{}),
	}
}

// Source returns the macro source text.
func (m *Macro) Source() string {
	return m.src
}

// Capabilities returns the union of output codes this macro and all its
// descendants may emit, computed once at compile time.
func (m *Macro) Capabilities() mapapi.Capabilities {
	return m.caps.Clone()
}

// Press marks the trigger as held. Called before Run.
func (m *Macro) Press() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.holding {
		return
	}
	m.holding = true
	m.releaseCh = make(chan struct{})
}

// Release marks the trigger as released. Every suspended descendant task
// of the current run wakes up and unwinds, so held keys are always
// eventually released.
func (m *Macro) Release() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.holding {
		return
	}
	m.holding = false
	close(m.releaseCh)
}

// IsHolding reports whether the trigger is currently held.
func (m *Macro) IsHolding() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.holding
}

// released returns a channel closed once the trigger is released. When the
// trigger is not held at all the channel is already closed.
func (m *Macro) released() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.holding {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return m.releaseCh
}

// NotifyKeyDown feeds a newly observed key-down into tasks racing against
// other events, such as if_single. The mapper calls it for every qualifying
// press while the macro runs.
func (m *Macro) NotifyKeyDown(ev mapapi.InputEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for ch := range m.observers {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (m *Macro) observe() (chan mapapi.InputEvent, func()) {
	ch := make(chan mapapi.InputEvent, 1)
	m.mu.Lock()
	m.observers[ch] = struct{}{}
	m.mu.Unlock()
	return ch, func() {
		m.mu.Lock()
		delete(m.observers, ch)
		m.mu.Unlock()
	}
}

// Run executes the macro against the writer. A run while a previous run of
// the same instance is still in flight is ignored, so hold state cannot be
// corrupted; a strictly sequential re-run is honored. A failing task aborts
// its remaining siblings; the error is logged and returned so the caller
// can report it.
func (m *Macro) Run(ctx context.Context, w outdev.Writer) error {
	if !m.running.CompareAndSwap(false, true) {
		m.env.Log.Debug("Ignoring concurrent macro run", zap.String("macro", m.src))
		return nil
	}
	defer m.running.Store(false)
	rs := &runState{
		ctx:    ctx,
		env:    m.env,
		writer: w,
		root:   m,
	}
	if err := m.run(rs); err != nil {
		m.env.Log.Warn("Macro aborted", zap.String("macro", m.src), zap.Error(err))
		return err
	}
	return nil
}

// run executes the task sequence inline. Nested macros enter here directly
// and share the root's trigger and writer.
func (m *Macro) run(rs *runState) error {
	for _, t := range m.tasks {
		if err := rs.ctx.Err(); err != nil {
			return err
		}
		if err := t.run(rs); err != nil {
			return err
		}
	}
	return nil
}

// runState carries the per-run execution context through the task tree.
type runState struct {
	ctx    context.Context
	env    *Environment
	writer outdev.Writer
	root   *Macro
}

// writeKey writes one key event followed by the configured inter-keystroke
// pause.
func (rs *runState) writeKey(code evdev.EvCode, value int32) error {
	return rs.write(mapapi.NewInputEvent(evdev.EV_KEY, code, value))
}

// write emits one event plus sync and applies the inter-keystroke pause.
func (rs *runState) write(ev mapapi.InputEvent) error {
	if err := rs.writer.Write(ev); err != nil {
		return err
	}
	if err := rs.writer.Sync(); err != nil {
		return err
	}
	rs.sleep(rs.env.KeystrokeSleep.Load())
	return nil
}

// sleep pauses this macro's own flow only. Other macros run concurrently
// on their own goroutines and are not affected.
func (rs *runState) sleep(d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-rs.ctx.Done():
	}
}
