// Package outdev owns the synthetic output devices. The registry declares
// a small fixed set of named devices with baseline capabilities, widens
// them with every capability discovered while compiling the active
// configuration, creates the kernel devices once, and offers a
// capability-checked write-and-sync primitive.
package outdev

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	evdev "github.com/holoplot/go-evdev"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/remapd/remapd/mapapi"
)

// Standard device names. Mappings address their target by one of these.
const (
	TargetKeyboard      = "keyboard"
	TargetMouse         = "mouse"
	TargetKeyboardMouse = "keyboard + mouse"
	TargetGamepad       = "gamepad"
)

// ErrCapability marks a write of an event the target device did not
// advertise. It is a configuration problem to surface, never a silent
// drop.
var ErrCapability = errors.New("device cannot emit event")

// Writer is the write-and-sync primitive handed to the mapper and the
// macro executor.
type Writer interface {
	Write(ev mapapi.InputEvent) error
	Sync() error
}

// handle is the created kernel device. Satisfied by *evdev.InputDevice.
type handle interface {
	WriteOne(ev *evdev.InputEvent) error
	Close() error
}

// Opener creates one kernel device. Swapped out in tests.
type Opener func(name string, caps map[evdev.EvType][]evdev.EvCode) (handle, error)

func defaultOpener(name string, caps map[evdev.EvType][]evdev.EvCode) (handle, error) {
	return evdev.CreateDevice(name, evdev.InputID{
		BusType: unix.BUS_USB,
		Vendor:  0x0072,
		Product: 0x0f0f,
		Version: 1,
	}, caps)
}

// Device is one named virtual output device.
type Device struct {
	log  *zap.Logger
	name string
	caps mapapi.Capabilities

	mu     sync.Mutex
	handle handle
}

func (d *Device) Name() string {
	return d.name
}

// Capabilities returns the advertised capability map for introspection.
func (d *Device) Capabilities() mapapi.Capabilities {
	return d.caps.Clone()
}

func (d *Device) Has(typ evdev.EvType, code evdev.EvCode) bool {
	return d.caps.Has(typ, code)
}

// Write emits a single event after checking the advertised capabilities.
func (d *Device) Write(ev mapapi.InputEvent) error {
	if !d.caps.Has(ev.Type, ev.Code) {
		return fmt.Errorf("%w: %q cannot write %s", ErrCapability, d.name, ev)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.handle == nil {
		return fmt.Errorf("device %q is not created", d.name)
	}
	return d.handle.WriteOne(&evdev.InputEvent{Type: ev.Type, Code: ev.Code, Value: ev.Value})
}

// Sync flushes buffered events to readers of the device.
func (d *Device) Sync() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.handle == nil {
		return fmt.Errorf("device %q is not created", d.name)
	}
	return d.handle.WriteOne(&evdev.InputEvent{Type: evdev.EV_SYN, Code: evdev.SYN_REPORT})
}

// Registry declares and owns the virtual devices. Capabilities may only be
// widened before Create; afterwards the devices are immutable.
type Registry struct {
	log     *zap.Logger
	open    Opener
	devices map[string]*Device
	order   []string
	created bool
}

type Option func(*Registry)

func WithOpener(open Opener) Option {
	return func(r *Registry) {
		r.open = open
	}
}

// NewRegistry declares the fixed device set with baseline capabilities.
func NewRegistry(log *zap.Logger, opts ...Option) *Registry {
	r := &Registry{
		log:     log,
		open:    defaultOpener,
		devices: make(map[string]*Device),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.declare(TargetKeyboard, keyboardBaseline())
	r.declare(TargetMouse, mouseBaseline())
	r.declare(TargetKeyboardMouse, keyboardBaseline().Merge(mouseBaseline()))
	r.declare(TargetGamepad, gamepadBaseline())
	return r
}

func (r *Registry) declare(name string, caps mapapi.Capabilities) {
	r.devices[name] = &Device{
		log:  r.log.Named(strings.ReplaceAll(name, " ", "")),
		name: name,
		caps: caps,
	}
	r.order = append(r.order, name)
}

// Names lists the declared devices.
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

// Get returns a declared device by name.
func (r *Registry) Get(name string) (*Device, error) {
	dev, ok := r.devices[name]
	if !ok {
		return nil, fmt.Errorf("unknown target device %q", name)
	}
	return dev, nil
}

// Expand widens a device's capabilities with codes a compiled macro may
// emit. Must happen before Create.
func (r *Registry) Expand(name string, caps mapapi.Capabilities) error {
	if r.created {
		return fmt.Errorf("cannot expand %q: devices are already created", name)
	}
	dev, err := r.Get(name)
	if err != nil {
		return err
	}
	dev.caps.Merge(caps)
	return nil
}

// Create creates every declared kernel device. Called once per privileged
// process start.
func (r *Registry) Create() error {
	if r.created {
		return fmt.Errorf("devices are already created")
	}
	for _, name := range r.order {
		dev := r.devices[name]
		caps := make(map[evdev.EvType][]evdev.EvCode, len(dev.caps))
		for typ := range dev.caps {
			caps[typ] = dev.caps.Codes(typ)
		}
		h, err := r.open("remapd "+name, caps)
		if err != nil {
			r.closeAll()
			return fmt.Errorf("failed to create virtual device %q: %w", name, err)
		}
		dev.handle = h
		r.log.Info("Created virtual device", zap.String("name", name))
	}
	r.created = true
	return nil
}

// Created reports whether the kernel devices exist yet.
func (r *Registry) Created() bool {
	return r.created
}

// Writer returns a writer backed by the named device that reroutes events
// the device cannot emit to any declared device that can. The engine
// resolves mapping targets through this, so a macro emitting, say, wheel
// motion through the keyboard target still reaches the kernel.
func (r *Registry) Writer(name string) (Writer, error) {
	dev, err := r.Get(name)
	if err != nil {
		return nil, err
	}
	return &routedWriter{registry: r, primary: dev, pending: make(map[*Device]struct{})}, nil
}

type routedWriter struct {
	registry *Registry
	primary  *Device

	mu      sync.Mutex
	pending map[*Device]struct{}
}

func (w *routedWriter) Write(ev mapapi.InputEvent) error {
	target := w.primary
	if !target.caps.Has(ev.Type, ev.Code) {
		alt, ok := w.registry.FindTarget(ev)
		if !ok {
			return fmt.Errorf("%w: no device can emit %s", ErrCapability, ev)
		}
		target = alt
	}
	if err := target.Write(ev); err != nil {
		return err
	}
	w.mu.Lock()
	w.pending[target] = struct{}{}
	w.mu.Unlock()
	return nil
}

// Sync flushes every device written since the last Sync.
func (w *routedWriter) Sync() error {
	w.mu.Lock()
	pending := w.pending
	w.pending = make(map[*Device]struct{}, len(pending))
	w.mu.Unlock()
	if len(pending) == 0 {
		return w.primary.Sync()
	}
	var firstErr error
	for dev := range pending {
		if err := dev.Sync(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// FindTarget returns some declared device able to emit the event, used as
// a fallback when the configured target lacks a capability.
func (r *Registry) FindTarget(ev mapapi.InputEvent) (*Device, bool) {
	for _, name := range r.order {
		dev := r.devices[name]
		if dev.caps.Has(ev.Type, ev.Code) {
			return dev, true
		}
	}
	return nil, false
}

func (r *Registry) Close() {
	r.closeAll()
	r.created = false
}

func (r *Registry) closeAll() {
	for _, name := range r.order {
		dev := r.devices[name]
		dev.mu.Lock()
		if dev.handle != nil {
			if err := dev.handle.Close(); err != nil {
				r.log.Warn("Failed to close virtual device", zap.String("name", name), zap.Error(err))
			}
			dev.handle = nil
		}
		dev.mu.Unlock()
	}
}

func keyboardBaseline() mapapi.Capabilities {
	caps := mapapi.NewCapabilities()
	for name, code := range evdev.KEYFromString {
		if strings.HasPrefix(name, "KEY_") {
			caps.Add(evdev.EV_KEY, code)
		}
	}
	return caps
}

func mouseBaseline() mapapi.Capabilities {
	caps := mapapi.NewCapabilities()
	caps.Add(evdev.EV_KEY,
		evdev.BTN_LEFT, evdev.BTN_RIGHT, evdev.BTN_MIDDLE,
		evdev.BTN_SIDE, evdev.BTN_EXTRA,
	)
	caps.Add(evdev.EV_REL,
		evdev.REL_X, evdev.REL_Y,
		evdev.REL_WHEEL, evdev.REL_HWHEEL,
	)
	return caps
}

func gamepadBaseline() mapapi.Capabilities {
	caps := mapapi.NewCapabilities()
	caps.Add(evdev.EV_KEY,
		evdev.BTN_SOUTH, evdev.BTN_EAST, evdev.BTN_NORTH, evdev.BTN_WEST,
		evdev.BTN_TL, evdev.BTN_TR, evdev.BTN_TL2, evdev.BTN_TR2,
		evdev.BTN_SELECT, evdev.BTN_START, evdev.BTN_MODE,
		evdev.BTN_THUMBL, evdev.BTN_THUMBR,
		evdev.BTN_DPAD_UP, evdev.BTN_DPAD_DOWN, evdev.BTN_DPAD_LEFT, evdev.BTN_DPAD_RIGHT,
	)
	return caps
}
