package macro

import (
	"fmt"
	"math"
	"time"

	evdev "github.com/holoplot/go-evdev"

	"github.com/remapd/remapd/internal/varstore"
	"github.com/remapd/remapd/mapapi"
)

// task is one node of the compiled tree.
type task interface {
	run(rs *runState) error
	capabilities() mapapi.Capabilities
}

// symbolArg is a key code known at compile time, or a variable resolved
// against live state at execution time.
type symbolArg struct {
	code     evdev.EvCode
	variable string
}

func (a symbolArg) resolve(rs *runState) (evdev.EvCode, error) {
	if a.variable == "" {
		return a.code, nil
	}
	value := rs.env.Variables.Get(rs.ctx, a.variable)
	if !value.IsSet() {
		return 0, fmt.Errorf("variable $%s is not set", a.variable)
	}
	code, ok := rs.env.Symbols.GetCode(value.String())
	if !ok {
		return 0, fmt.Errorf("variable $%s does not hold a key name: %q", a.variable, value)
	}
	return code, nil
}

// capability returns the code when it is a compile-time constant. Variable
// symbols contribute nothing; the write is capability-checked at run time
// instead.
func (a symbolArg) capability() (evdev.EvCode, bool) {
	return a.code, a.variable == ""
}

// numberArg is a number known at compile time or a variable resolved at
// execution time. A variable holding a non-numeric value is a runtime
// macro error.
type numberArg struct {
	value    float64
	variable string
}

func (a numberArg) resolve(rs *runState) (float64, error) {
	if a.variable == "" {
		return a.value, nil
	}
	value := rs.env.Variables.Get(rs.ctx, a.variable)
	if !value.IsSet() {
		return 0, fmt.Errorf("variable $%s is not set", a.variable)
	}
	n, ok := value.Number()
	if !ok {
		return 0, fmt.Errorf("variable $%s is not numeric: %q", a.variable, value)
	}
	return n, nil
}

// valueArg is an arbitrary compile-time constant or variable reference,
// used by set/add/if_eq.
type valueArg struct {
	constant varstore.Value
	variable string
}

func (a valueArg) resolve(rs *runState) varstore.Value {
	if a.variable == "" {
		return a.constant
	}
	return rs.env.Variables.Get(rs.ctx, a.variable)
}

// keyTask writes a full down/up pair: exactly two writes separated by the
// configured pause.
type keyTask struct {
	symbol symbolArg
}

func (t keyTask) run(rs *runState) error {
	code, err := t.symbol.resolve(rs)
	if err != nil {
		return err
	}
	if err := rs.writeKey(code, 1); err != nil {
		return err
	}
	return rs.writeKey(code, 0)
}

func (t keyTask) capabilities() mapapi.Capabilities {
	caps := mapapi.NewCapabilities()
	if code, ok := t.symbol.capability(); ok {
		caps.Add(evdev.EV_KEY, code)
	}
	return caps
}

// keyHalfTask writes only the down or only the up half of a keystroke.
type keyHalfTask struct {
	symbol symbolArg
	value  int32
}

func (t keyHalfTask) run(rs *runState) error {
	code, err := t.symbol.resolve(rs)
	if err != nil {
		return err
	}
	return rs.writeKey(code, t.value)
}

func (t keyHalfTask) capabilities() mapapi.Capabilities {
	caps := mapapi.NewCapabilities()
	if code, ok := t.symbol.capability(); ok {
		caps.Add(evdev.EV_KEY, code)
	}
	return caps
}

// eventTask writes one raw event verbatim.
type eventTask struct {
	event mapapi.InputEvent
}

func (t eventTask) run(rs *runState) error {
	return rs.write(t.event)
}

func (t eventTask) capabilities() mapapi.Capabilities {
	return mapapi.NewCapabilities().Add(t.event.Type, t.event.Code)
}

// waitTask suspends this macro's own continuation for a number of
// milliseconds.
type waitTask struct {
	ms numberArg
}

func (t waitTask) run(rs *runState) error {
	ms, err := t.ms.resolve(rs)
	if err != nil {
		return err
	}
	rs.sleep(time.Duration(ms * float64(time.Millisecond)))
	return nil
}

func (t waitTask) capabilities() mapapi.Capabilities {
	return mapapi.NewCapabilities()
}

// holdTask blocks until the trigger is released. With a symbol it presses
// the key for the duration of the hold; with a child macro it repeats the
// child as long as the trigger is held.
type holdTask struct {
	symbol *symbolArg
	child  *Macro
}

func (t holdTask) run(rs *runState) error {
	switch {
	case t.symbol != nil:
		code, err := t.symbol.resolve(rs)
		if err != nil {
			return err
		}
		if err := rs.writeKey(code, 1); err != nil {
			return err
		}
		t.block(rs)
		return rs.writeKey(code, 0)
	case t.child != nil:
		for rs.root.IsHolding() && rs.ctx.Err() == nil {
			if err := t.child.run(rs); err != nil {
				return err
			}
		}
		return nil
	default:
		t.block(rs)
		return nil
	}
}

func (t holdTask) block(rs *runState) {
	select {
	case <-rs.root.released():
	case <-rs.ctx.Done():
	}
}

func (t holdTask) capabilities() mapapi.Capabilities {
	caps := mapapi.NewCapabilities()
	if t.symbol != nil {
		if code, ok := t.symbol.capability(); ok {
			caps.Add(evdev.EV_KEY, code)
		}
	}
	if t.child != nil {
		caps.Merge(t.child.caps)
	}
	return caps
}

// holdKeysTask presses all listed keys, blocks until the trigger is
// released and releases them in reverse order. Keys already written stay
// balanced even when a later press fails.
type holdKeysTask struct {
	symbols []symbolArg
}

func (t holdKeysTask) run(rs *runState) error {
	pressed := make([]evdev.EvCode, 0, len(t.symbols))
	var pressErr error
	for _, sym := range t.symbols {
		code, err := sym.resolve(rs)
		if err != nil {
			pressErr = err
			break
		}
		if err := rs.writeKey(code, 1); err != nil {
			pressErr = err
			break
		}
		pressed = append(pressed, code)
	}
	if pressErr == nil {
		select {
		case <-rs.root.released():
		case <-rs.ctx.Done():
		}
	}
	for i := len(pressed) - 1; i >= 0; i-- {
		if err := rs.writeKey(pressed[i], 0); err != nil && pressErr == nil {
			pressErr = err
		}
	}
	return pressErr
}

func (t holdKeysTask) capabilities() mapapi.Capabilities {
	caps := mapapi.NewCapabilities()
	for _, sym := range t.symbols {
		if code, ok := sym.capability(); ok {
			caps.Add(evdev.EV_KEY, code)
		}
	}
	return caps
}

// repeatTask runs the child a fixed number of times. The count may come
// from a variable; a non-numeric count aborts the invocation.
type repeatTask struct {
	count numberArg
	child *Macro
}

func (t repeatTask) run(rs *runState) error {
	count, err := t.count.resolve(rs)
	if err != nil {
		return err
	}
	n := int(math.Floor(count))
	for i := 0; i < n; i++ {
		if err := rs.ctx.Err(); err != nil {
			return err
		}
		if err := t.child.run(rs); err != nil {
			return err
		}
	}
	return nil
}

func (t repeatTask) capabilities() mapapi.Capabilities {
	return t.child.Capabilities()
}

// modifyTask presses a modifier, runs the child, then releases the
// modifier. The release happens even when the child fails.
type modifyTask struct {
	modifier symbolArg
	child    *Macro
}

func (t modifyTask) run(rs *runState) error {
	code, err := t.modifier.resolve(rs)
	if err != nil {
		return err
	}
	if err := rs.writeKey(code, 1); err != nil {
		return err
	}
	childErr := t.child.run(rs)
	if err := rs.writeKey(code, 0); err != nil && childErr == nil {
		return err
	}
	return childErr
}

func (t modifyTask) capabilities() mapapi.Capabilities {
	caps := t.child.Capabilities()
	if code, ok := t.modifier.capability(); ok {
		caps.Add(evdev.EV_KEY, code)
	}
	return caps
}

// setTask writes a variable in the shared store.
type setTask struct {
	name  string
	value valueArg
}

func (t setTask) run(rs *runState) error {
	return rs.env.Variables.Set(rs.ctx, t.name, t.value.resolve(rs))
}

func (t setTask) capabilities() mapapi.Capabilities {
	return mapapi.NewCapabilities()
}

// addTask increments a numeric variable. An unset variable counts as zero;
// a non-numeric one is a runtime error.
type addTask struct {
	name  string
	delta numberArg
}

func (t addTask) run(rs *runState) error {
	delta, err := t.delta.resolve(rs)
	if err != nil {
		return err
	}
	current := rs.env.Variables.Get(rs.ctx, t.name)
	base := 0.0
	if current.IsSet() {
		n, ok := current.Number()
		if !ok {
			return fmt.Errorf("cannot add to non-numeric variable $%s = %q", t.name, current)
		}
		base = n
	}
	return rs.env.Variables.Set(rs.ctx, t.name, varstore.NumberValue(base+delta))
}

func (t addTask) capabilities() mapapi.Capabilities {
	return mapapi.NewCapabilities()
}

// ifEqTask branches on a variable's current value.
type ifEqTask struct {
	variable string
	value    valueArg
	then     *Macro
	els      *Macro
}

func (t ifEqTask) run(rs *runState) error {
	current := rs.env.Variables.Get(rs.ctx, t.variable)
	branch := t.els
	if current.Equal(t.value.resolve(rs)) {
		branch = t.then
	}
	if branch == nil {
		return nil
	}
	return branch.run(rs)
}

func (t ifEqTask) capabilities() mapapi.Capabilities {
	caps := mapapi.NewCapabilities()
	if t.then != nil {
		caps.Merge(t.then.caps)
	}
	if t.els != nil {
		caps.Merge(t.els.caps)
	}
	return caps
}

// ifTapTask races the trigger's release against a timeout: a release
// within the window runs the tap branch, otherwise the hold branch runs
// while the trigger is still down.
type ifTapTask struct {
	then    *Macro
	els     *Macro
	timeout time.Duration
}

func (t ifTapTask) run(rs *runState) error {
	branch := t.els
	if !rs.root.IsHolding() {
		branch = t.then
	} else {
		timer := time.NewTimer(t.timeout)
		defer timer.Stop()
		select {
		case <-rs.root.released():
			branch = t.then
		case <-timer.C:
		case <-rs.ctx.Done():
			return rs.ctx.Err()
		}
	}
	if branch == nil {
		return nil
	}
	return branch.run(rs)
}

func (t ifTapTask) capabilities() mapapi.Capabilities {
	caps := mapapi.NewCapabilities()
	if t.then != nil {
		caps.Merge(t.then.caps)
	}
	if t.els != nil {
		caps.Merge(t.els.caps)
	}
	return caps
}

// ifSingleTask runs the then branch when the trigger is released without
// any other key being pressed meanwhile; a newly observed key-down or an
// optional timeout selects the else branch.
type ifSingleTask struct {
	then    *Macro
	els     *Macro
	timeout time.Duration
}

func (t ifSingleTask) run(rs *runState) error {
	observed, cancel := rs.root.observe()
	defer cancel()

	var timeoutCh <-chan time.Time
	if t.timeout > 0 {
		timer := time.NewTimer(t.timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	branch := t.els
	select {
	case <-rs.root.released():
		branch = t.then
	case <-observed:
	case <-timeoutCh:
	case <-rs.ctx.Done():
		return rs.ctx.Err()
	}
	if branch == nil {
		return nil
	}
	return branch.run(rs)
}

func (t ifSingleTask) capabilities() mapapi.Capabilities {
	caps := mapapi.NewCapabilities()
	if t.then != nil {
		caps.Merge(t.then.caps)
	}
	if t.els != nil {
		caps.Merge(t.els.caps)
	}
	return caps
}

// relDirection maps a direction name onto a relative axis and sign.
type relDirection struct {
	code evdev.EvCode
	sign int32
}

// relTask emits proportional relative motion at a fixed tick rate for as
// long as the trigger is held: pointer movement for mouse(), wheel detents
// for wheel().
type relTask struct {
	direction relDirection
	// speed is in units per tick.
	speed    numberArg
	tickRate time.Duration
}

func (t relTask) run(rs *runState) error {
	speed, err := t.speed.resolve(rs)
	if err != nil {
		return err
	}
	ticker := time.NewTicker(t.tickRate)
	defer ticker.Stop()
	// Fractional speeds accumulate across ticks so slow motion still
	// progresses.
	carry := 0.0
	for {
		select {
		case <-rs.root.released():
			return nil
		case <-rs.ctx.Done():
			return nil
		case <-ticker.C:
			carry += speed
			step := math.Trunc(carry)
			if step == 0 {
				continue
			}
			carry -= step
			ev := mapapi.NewInputEvent(evdev.EV_REL, t.direction.code, int32(step)*t.direction.sign)
			if err := rs.writer.Write(ev); err != nil {
				return err
			}
			if err := rs.writer.Sync(); err != nil {
				return err
			}
		}
	}
}

func (t relTask) capabilities() mapapi.Capabilities {
	return mapapi.NewCapabilities().Add(evdev.EV_REL, t.direction.code)
}
