// Package mapper is the hot-path dispatcher invoked once per raw input
// event. It tracks which physical inputs are currently down, matches them
// against the configured combinations, triggers the bound output and
// forwards everything unmapped untouched.
package mapper

import (
	"context"
	"errors"
	"sync"

	evdev "github.com/holoplot/go-evdev"
	"go.uber.org/zap"

	"github.com/remapd/remapd/internal/outdev"
	"github.com/remapd/remapd/mapapi"
)

// entry is the live record of one physical input currently held down. It
// keeps the release path symmetric with whatever the press produced.
type entry struct {
	// input is the normalized press that created the entry.
	input mapapi.InputEvent
	// raw is the original kernel event, forwarded on passthrough.
	raw mapapi.InputEvent
	// binding is the output the press triggered, nil for passthrough.
	binding *Binding
}

// axisRange is the device-reported extent of one absolute axis.
type axisRange struct {
	min int32
	max int32
}

// Mapper dispatches events for one device group. All state is local to
// the group; concurrent groups never share a Mapper.
type Mapper struct {
	log      *zap.Logger
	opts     mapapi.Options
	forward  outdev.Writer
	bindings []*Binding

	mu         sync.Mutex
	unreleased map[mapapi.TypeCode]*entry
	debounce   map[mapapi.TypeCode]int
	axes       map[evdev.EvCode]axisRange
	notify     func(ev mapapi.StatusEvent)
}

type Option func(*Mapper)

// WithNotify installs the sink receiving runtime status events, such as a
// macro run aborting.
func WithNotify(fn func(ev mapapi.StatusEvent)) Option {
	return func(m *Mapper) {
		m.notify = fn
	}
}

func New(log *zap.Logger, opts mapapi.Options, forward outdev.Writer, bindings []*Binding, mOpts ...Option) *Mapper {
	m := &Mapper{
		log:        log.Named("mapper"),
		opts:       opts,
		forward:    forward,
		bindings:   bindings,
		unreleased: make(map[mapapi.TypeCode]*entry),
		debounce:   make(map[mapapi.TypeCode]int),
		axes:       make(map[evdev.EvCode]axisRange),
		notify:     func(mapapi.StatusEvent) {},
	}
	for _, opt := range mOpts {
		opt(m)
	}
	return m
}

// DeclareAxis records the reported range of an absolute axis so its values
// can be normalized. Axes without a declared range fall back to the sign
// of the value, which fits hat switches reporting -1..1 directly.
func (m *Mapper) DeclareAxis(code evdev.EvCode, info evdev.AbsInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.axes[code] = axisRange{min: info.Minimum, max: info.Maximum}
}

// Map dispatches one raw input event.
func (m *Mapper) Map(ctx context.Context, raw mapapi.InputEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	norm := m.normalize(raw)
	tc := norm.TypeCode()

	if norm.Value == 0 {
		m.release(tc, raw, false)
		return
	}

	if existing, ok := m.unreleased[tc]; ok {
		if existing.input == norm {
			// Continuation of a held input, common for analog axes and key
			// autorepeat. Refresh the debounce window, never re-trigger.
			m.refreshDebounce(norm)
			return
		}
		// Direction flipped without a rest sample in between. Close out
		// the old state before treating this as a fresh press.
		m.release(tc, raw.Modify(0), true)
	}

	m.press(ctx, norm, raw)
}

// Tick advances every debounce countdown by one dispatcher tick. An input
// whose countdown expires without a refreshing press is released as if the
// kernel had reported one.
func (m *Mapper) Tick() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for tc, remaining := range m.debounce {
		remaining--
		if remaining > 0 {
			m.debounce[tc] = remaining
			continue
		}
		delete(m.debounce, tc)
		if e, ok := m.unreleased[tc]; ok {
			m.release(tc, e.raw.Modify(0), true)
		}
	}
}

// ReleaseAll releases every input still recorded as down. Called on
// injector shutdown so held keys and running macros always unwind.
func (m *Mapper) ReleaseAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for tc, e := range m.unreleased {
		m.release(tc, e.raw.Modify(0), true)
	}
}

func (m *Mapper) press(ctx context.Context, norm, raw mapapi.InputEvent) {
	tc := norm.TypeCode()
	binding := m.match(norm)
	if binding == nil && norm.Type == evdev.EV_REL {
		// Relative deltas carry no held state: every unmapped motion
		// sample and wheel notch forwards as-is.
		m.forwardEvent(raw)
		return
	}
	m.unreleased[tc] = &entry{input: norm, raw: raw, binding: binding}
	if norm.Type == evdev.EV_REL {
		// The kernel never reports a relative release; the debounce
		// countdown synthesizes one.
		m.debounce[tc] = m.opts.DebounceTicks
	}

	m.notifyMacros(norm, binding)

	if binding == nil {
		m.forwardEvent(raw)
		return
	}
	switch binding.kind {
	case mapapi.OutputDisabled:
		// Consumed, nothing written.
	case mapapi.OutputSymbol:
		m.writeOutput(binding, mapapi.NewInputEvent(evdev.EV_KEY, binding.code, 1))
	case mapapi.OutputMacro:
		binding.macro.Press()
		go m.runMacro(ctx, binding)
	}
}

// runMacro executes the binding's macro on its own goroutine and reports
// an aborted run to the status sink. Shutdown cancellation is routine, not
// an error.
func (m *Mapper) runMacro(ctx context.Context, b *Binding) {
	err := b.macro.Run(ctx, b.writer)
	if err == nil || errors.Is(err, context.Canceled) {
		return
	}
	m.notify(mapapi.StatusEvent{
		Kind:    mapapi.StatusMacroError,
		Mapping: b.Mapping.Combination.Key(),
		Err:     err,
		Message: err.Error(),
	})
}

// release removes the unreleased entry for tc and fires the matching
// release path. synthesized marks releases the kernel never reported,
// such as debounce expiry; those never forward the raw event.
func (m *Mapper) release(tc mapapi.TypeCode, raw mapapi.InputEvent, synthesized bool) {
	e, ok := m.unreleased[tc]
	if !ok {
		if !synthesized {
			m.forwardEvent(raw)
		}
		return
	}
	delete(m.unreleased, tc)
	delete(m.debounce, tc)

	if e.binding == nil {
		if !synthesized || e.raw.Type == evdev.EV_KEY {
			m.forwardEvent(raw)
		}
		return
	}
	switch e.binding.kind {
	case mapapi.OutputDisabled:
	case mapapi.OutputSymbol:
		m.writeOutput(e.binding, mapapi.NewInputEvent(evdev.EV_KEY, e.binding.code, 0))
	case mapapi.OutputMacro:
		e.binding.macro.Release()
	}
}

// match searches the registered combinations for the best match against
// the currently-down inputs plus the new press: largest combination first,
// and between equals the one completed by the newest event.
func (m *Mapper) match(norm mapapi.InputEvent) *Binding {
	down := make(map[mapapi.TypeCode]int32, len(m.unreleased)+1)
	for tc, e := range m.unreleased {
		down[tc] = e.input.Value
	}
	down[norm.TypeCode()] = norm.Value

	var (
		best        *Binding
		bestLen     int
		bestTrigger bool
	)
	for _, b := range m.bindings {
		combo := b.Mapping.Combination
		if !comboDown(combo, down, norm) {
			continue
		}
		trigger := combo.Trigger() == norm
		if best == nil || len(combo) > bestLen || (len(combo) == bestLen && trigger && !bestTrigger) {
			best, bestLen, bestTrigger = b, len(combo), trigger
		}
	}
	return best
}

// comboDown reports whether every event of the combination is currently
// down and the new press is part of it.
func comboDown(combo mapapi.Combination, down map[mapapi.TypeCode]int32, norm mapapi.InputEvent) bool {
	containsNew := false
	for _, ev := range combo {
		value, ok := down[ev.TypeCode()]
		if !ok || value != ev.Value {
			return false
		}
		if ev == norm {
			containsNew = true
		}
	}
	return containsNew
}

// notifyMacros feeds the press into macros waiting on observed events,
// excluding the macro the press itself triggered.
func (m *Mapper) notifyMacros(norm mapapi.InputEvent, triggered *Binding) {
	for _, b := range m.bindings {
		if b == triggered || b.macro == nil {
			continue
		}
		b.macro.NotifyKeyDown(norm)
	}
}

func (m *Mapper) refreshDebounce(norm mapapi.InputEvent) {
	if _, ok := m.debounce[norm.TypeCode()]; ok || norm.Type == evdev.EV_REL {
		m.debounce[norm.TypeCode()] = m.opts.DebounceTicks
	}
}

// normalize maps analog values onto the ternary -1/0/1 scale so axis
// movements can participate in combinations like digital keys. Key
// autorepeat collapses onto the press value.
func (m *Mapper) normalize(ev mapapi.InputEvent) mapapi.InputEvent {
	switch {
	case ev.Type == evdev.EV_KEY:
		if ev.Value > 1 {
			return ev.Modify(1)
		}
	case ev.Type == evdev.EV_ABS:
		return ev.Modify(m.ternary(ev.Code, ev.Value))
	case ev.Type == evdev.EV_REL:
		return ev.Modify(sign(ev.Value))
	}
	return ev
}

// ternary thresholds an absolute value at the configured fraction of the
// axis range, measured from the center.
func (m *Mapper) ternary(code evdev.EvCode, value int32) int32 {
	r, ok := m.axes[code]
	if !ok || r.max <= r.min {
		return sign(value)
	}
	center := float64(r.min+r.max) / 2
	half := float64(r.max-r.min) / 2
	deviation := float64(value) - center
	threshold := m.opts.AxisThreshold * half
	switch {
	case deviation > threshold:
		return 1
	case deviation < -threshold:
		return -1
	default:
		return 0
	}
}

func sign(v int32) int32 {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}

func (m *Mapper) forwardEvent(ev mapapi.InputEvent) {
	if err := m.forward.Write(ev); err != nil {
		m.log.Warn("Dropped passthrough event", zap.Stringer("event", ev), zap.Error(err))
		return
	}
	if err := m.forward.Sync(); err != nil {
		m.log.Warn("Failed to sync passthrough device", zap.Error(err))
	}
}

func (m *Mapper) writeOutput(b *Binding, ev mapapi.InputEvent) {
	if err := b.writer.Write(ev); err != nil {
		m.log.Warn("Dropped mapped event",
			zap.String("mapping", b.Mapping.Combination.String()),
			zap.Stringer("event", ev),
			zap.Error(err),
		)
		return
	}
	if err := b.writer.Sync(); err != nil {
		m.log.Warn("Failed to sync output device", zap.Error(err))
	}
}
