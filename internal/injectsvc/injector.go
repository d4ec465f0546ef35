package injectsvc

import (
	"context"
	"fmt"
	"sync"
	"time"

	evdev "github.com/holoplot/go-evdev"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/remapd/remapd/internal/mapper"
	"github.com/remapd/remapd/internal/outdev"
	"github.com/remapd/remapd/internal/stick"
	"github.com/remapd/remapd/mapapi"
)

// Notify delivers one status event to the sink. It must never block.
type Notify func(ev mapapi.StatusEvent)

const (
	defaultGrabAttempts = 5
	defaultGrabBackoff  = 200 * time.Millisecond
	defaultTickRate     = 20 * time.Millisecond
)

// Injector drives the injection lifecycle of one device group: grab the
// relevant nodes, run the read and dispatch loops, release everything on
// the way out.
type Injector struct {
	log     *zap.Logger
	backend Backend
	group   Group
	cfg     *mapapi.ConfigSet
	opts    mapapi.Options

	mapper   *mapper.Mapper
	sticks   []*stick.Translator
	keyboard outdev.Writer
	notify   Notify

	grabAttempts int
	grabBackoff  time.Duration
	tickRate     time.Duration

	mu    sync.Mutex
	state mapapi.InjectorState
	stop  context.CancelFunc
}

type InjectorOption func(*Injector)

// WithGrabRetry bounds the exclusive-grab attempts per device node.
func WithGrabRetry(attempts int, backoff time.Duration) InjectorOption {
	return func(inj *Injector) {
		inj.grabAttempts = attempts
		inj.grabBackoff = backoff
	}
}

// WithTickRate overrides the debounce tick interval, used by tests.
func WithTickRate(d time.Duration) InjectorOption {
	return func(inj *Injector) {
		inj.tickRate = d
	}
}

// NewInjector builds the injection unit for one group. The keyboard writer
// is used to restore numlock state when grabbing flipped it.
func NewInjector(
	log *zap.Logger,
	backend Backend,
	group Group,
	cfg *mapapi.ConfigSet,
	opts mapapi.Options,
	m *mapper.Mapper,
	sticks []*stick.Translator,
	keyboard outdev.Writer,
	notify Notify,
	injOpts ...InjectorOption,
) *Injector {
	inj := &Injector{
		log:          log.Named("injector").With(zap.String("group", group.Name)),
		backend:      backend,
		group:        group,
		cfg:          cfg,
		opts:         opts,
		mapper:       m,
		sticks:       sticks,
		keyboard:     keyboard,
		notify:       notify,
		grabAttempts: defaultGrabAttempts,
		grabBackoff:  defaultGrabBackoff,
		tickRate:     defaultTickRate,
		state:        mapapi.StateUnknown,
	}
	for _, opt := range injOpts {
		opt(inj)
	}
	return inj
}

// State returns the current lifecycle state.
func (inj *Injector) State() mapapi.InjectorState {
	inj.mu.Lock()
	defer inj.mu.Unlock()
	return inj.state
}

// Stop requests the running injector to shut down. It returns immediately;
// the Run call finishes the teardown.
func (inj *Injector) Stop() {
	inj.mu.Lock()
	stop := inj.stop
	inj.mu.Unlock()
	if stop != nil {
		stop()
	}
}

func (inj *Injector) setState(s mapapi.InjectorState) {
	inj.mu.Lock()
	if inj.state == s {
		inj.mu.Unlock()
		return
	}
	inj.state = s
	inj.mu.Unlock()
	inj.log.Info("Injector state changed", zap.Stringer("state", s))
	if inj.notify != nil {
		inj.notify(mapapi.StatusEvent{
			Kind:  mapapi.StatusInjector,
			Group: inj.group.Key,
			State: s,
		})
	}
}

// Run drives the whole lifecycle and blocks until the injector stops. A
// failed grab of every relevant node ends in NoGrab; an unexpected read
// error ends in Failed. Neither is returned as an error: the caller
// observes the terminal state instead.
func (inj *Injector) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	inj.mu.Lock()
	inj.stop = cancel
	inj.mu.Unlock()

	inj.setState(mapapi.StateStarting)

	var grabbed []Device
	sawRelevant := false
	for _, info := range inj.group.Devices {
		if !relevantDevice(info, inj.cfg, inj.opts) {
			// A node whose capabilities the configuration never uses is
			// skipped without a grab attempt.
			inj.log.Debug("Skipping unused device", zap.String("path", info.Path))
			continue
		}
		sawRelevant = true
		dev, err := inj.backend.Open(info.Path)
		if err != nil {
			inj.log.Warn("Failed to open device", zap.String("path", info.Path), zap.Error(err))
			continue
		}
		if err := inj.grab(ctx, dev); err != nil {
			inj.log.Warn("Failed to grab device", zap.String("path", info.Path), zap.Error(err))
			_ = dev.Close()
			continue
		}
		grabbed = append(grabbed, dev)
	}

	if len(grabbed) == 0 {
		if sawRelevant {
			inj.setState(mapapi.StateNoGrab)
		} else {
			inj.setState(mapapi.StateStopped)
		}
		return nil
	}

	numlockDev, numlockOn := saveNumlock(grabbed)

	for _, dev := range grabbed {
		for code, info := range dev.Info().Axes {
			inj.mapper.DeclareAxis(code, info)
			for _, st := range inj.sticks {
				st.DeclareAxis(code, info)
			}
		}
	}

	inj.setState(mapapi.StateRunning)

	g, gctx := errgroup.WithContext(ctx)
	for _, dev := range grabbed {
		dev := dev
		// Closing the node is what unblocks a pending read.
		context.AfterFunc(gctx, func() { _ = dev.Close() })
		g.Go(func() error {
			return inj.readLoop(gctx, dev)
		})
	}
	g.Go(func() error {
		return inj.tickLoop(gctx)
	})
	for _, st := range inj.sticks {
		st := st
		g.Go(func() error {
			return st.Run(gctx)
		})
	}

	err := g.Wait()

	inj.mapper.ReleaseAll()
	inj.restoreNumlock(numlockDev, numlockOn)
	for _, dev := range grabbed {
		if uerr := dev.Ungrab(); uerr != nil {
			inj.log.Debug("Ungrab failed", zap.Error(uerr))
		}
		_ = dev.Close()
	}

	if ctx.Err() != nil {
		inj.setState(mapapi.StateStopped)
		return nil
	}
	inj.log.Error("Injector failed", zap.Error(err))
	inj.setState(mapapi.StateFailed)
	if inj.notify != nil {
		inj.notify(mapapi.StatusEvent{
			Kind:    mapapi.StatusInjector,
			Group:   inj.group.Key,
			State:   mapapi.StateFailed,
			Err:     err,
			Message: fmt.Sprintf("injection for %q stopped unexpectedly", inj.group.Name),
		})
	}
	return nil
}

func (inj *Injector) grab(ctx context.Context, dev Device) error {
	var err error
	for attempt := 0; attempt < inj.grabAttempts; attempt++ {
		if err = dev.Grab(); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(inj.grabBackoff):
		}
	}
	return fmt.Errorf("giving up after %d attempts: %w", inj.grabAttempts, err)
}

func (inj *Injector) readLoop(ctx context.Context, dev Device) error {
	for {
		ev, err := dev.ReadOne()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("reading %q: %w", dev.Info().Path, err)
		}
		if ev.Type == evdev.EV_SYN {
			continue
		}
		consumed := false
		for _, st := range inj.sticks {
			if st.Feed(ev) {
				consumed = true
				break
			}
		}
		if consumed {
			continue
		}
		inj.mapper.Map(ctx, ev)
	}
}

func (inj *Injector) tickLoop(ctx context.Context) error {
	ticker := time.NewTicker(inj.tickRate)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			inj.mapper.Tick()
		}
	}
}

// saveNumlock snapshots the numlock LED of the first node that has one.
// Grabbing a keyboard can flip LED state on some drivers.
func saveNumlock(devices []Device) (Device, bool) {
	for _, dev := range devices {
		if on, err := dev.NumLockOn(); err == nil {
			return dev, on
		}
	}
	return nil, false
}

// restoreNumlock taps the numlock key on the virtual keyboard when the
// grab flipped the LED. Best effort: a node that is already gone is left
// alone.
func (inj *Injector) restoreNumlock(dev Device, saved bool) {
	if dev == nil || inj.keyboard == nil {
		return
	}
	current, err := dev.NumLockOn()
	if err != nil || current == saved {
		return
	}
	for _, value := range []int32{1, 0} {
		if err := inj.keyboard.Write(mapapi.NewInputEvent(evdev.EV_KEY, evdev.KEY_NUMLOCK, value)); err != nil {
			inj.log.Warn("Failed to restore numlock", zap.Error(err))
			return
		}
	}
	if err := inj.keyboard.Sync(); err != nil {
		inj.log.Warn("Failed to restore numlock", zap.Error(err))
	}
}

// relevantDevice reports whether the configuration can ever use the node:
// some mapped combination references one of its codes, or a joystick
// purpose is assigned and the node has absolute axes.
func relevantDevice(info DeviceInfo, cfg *mapapi.ConfigSet, opts mapapi.Options) bool {
	for typ, codes := range info.Capabilities {
		for code := range codes {
			if cfg.Contains(mapapi.TypeCode{Type: typ, Code: code}) {
				return true
			}
		}
	}
	if len(info.Axes) > 0 && (opts.JoystickLeft != mapapi.PurposeNone || opts.JoystickRight != mapapi.PurposeNone) {
		return true
	}
	return false
}
