package injectsvc

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/remapd/remapd/internal/macro"
	"github.com/remapd/remapd/internal/mapper"
	"github.com/remapd/remapd/internal/outdev"
	"github.com/remapd/remapd/internal/stick"
	"github.com/remapd/remapd/mapapi"
	"github.com/remapd/remapd/pkg/bus"
)

// StatusBus carries injector state transitions and per-mapping errors out
// of the engine, keyed by group.
type StatusBus = bus.Bus[string, mapapi.StatusEvent]

// Service turns an applied configuration into running injector units, one
// per device group. Units are isolated: they share only the variable store
// and the virtual devices.
type Service struct {
	log      *zap.Logger
	backend  Backend
	registry *outdev.Registry
	env      *macro.Environment
	status   *StatusBus
	injOpts  []InjectorOption

	mu    sync.Mutex
	units map[string]*unit
}

type unit struct {
	injector *Injector
	cancel   context.CancelFunc
	done     chan struct{}
}

func NewService(log *zap.Logger, backend Backend, registry *outdev.Registry, env *macro.Environment, status *StatusBus, injOpts ...InjectorOption) *Service {
	return &Service{
		log:      log.Named("injectsvc"),
		backend:  backend,
		registry: registry,
		env:      env,
		status:   status,
		injOpts:  injOpts,
		units:    make(map[string]*unit),
	}
}

// Run keeps the service alive until the context ends, then stops every
// unit.
func (s *Service) Run(ctx context.Context) error {
	<-ctx.Done()
	s.StopAll()
	return nil
}

// Apply replaces the active configuration: running units stop, mappings
// are recompiled, virtual devices are created on first use and a fresh
// unit starts per relevant device group. Mapping compile errors go to the
// status bus; the rest of the configuration stays usable.
func (s *Service) Apply(ctx context.Context, cfg *mapapi.ConfigSet, opts mapapi.Options) error {
	s.StopAll()

	s.env.KeystrokeSleep.Store(opts.KeystrokeSleep)

	// Targets resolve through the registry's rerouting writer, so an
	// output the named device cannot emit falls back to one that can.
	resolve := func(name string) (outdev.Writer, error) {
		return s.registry.Writer(name)
	}

	// Validation pass: reports per-mapping errors once and collects the
	// capabilities the virtual devices must advertise.
	bindings, failures := mapper.CompileBindings(s.env, cfg, resolve)
	for _, failure := range failures {
		s.log.Warn("Mapping rejected", zap.Error(failure))
		s.status.Publish(ctx, "", mapapi.StatusEvent{
			Kind:    mapapi.StatusMappingError,
			Mapping: failure.Mapping.Combination.Key(),
			Err:     failure.Err,
			Message: failure.Error(),
		})
	}

	if !s.registry.Created() {
		for _, b := range bindings {
			if err := s.registry.Expand(b.Mapping.Output.Target, b.Capabilities()); err != nil {
				return err
			}
		}
		if err := s.registry.Create(); err != nil {
			return fmt.Errorf("failed to create virtual devices: %w", err)
		}
	}

	infos, err := s.backend.Enumerate()
	if err != nil {
		return fmt.Errorf("failed to enumerate input devices: %w", err)
	}

	forward, err := s.registry.Writer(outdev.TargetKeyboardMouse)
	if err != nil {
		return err
	}
	keyboard, err := s.registry.Writer(outdev.TargetKeyboard)
	if err != nil {
		return err
	}
	mouse, err := s.registry.Writer(outdev.TargetMouse)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, group := range BuildGroups(infos) {
		if !s.relevantGroup(group, cfg, opts) {
			continue
		}
		s.startUnit(ctx, group, cfg, opts, resolve, forward, keyboard, mouse)
	}
	return nil
}

func (s *Service) relevantGroup(g Group, cfg *mapapi.ConfigSet, opts mapapi.Options) bool {
	for _, info := range g.Devices {
		if relevantDevice(info, cfg, opts) {
			return true
		}
	}
	return false
}

// startUnit compiles a fresh set of bindings for the group, so macro hold
// state is never shared between groups, and launches its injector.
func (s *Service) startUnit(
	ctx context.Context,
	group Group,
	cfg *mapapi.ConfigSet,
	opts mapapi.Options,
	resolve mapper.TargetFunc,
	forward, keyboard, mouse outdev.Writer,
) {
	bindings, _ := mapper.CompileBindings(s.env, cfg, resolve)

	var sticks []*stick.Translator
	if opts.JoystickLeft != mapapi.PurposeNone {
		sticks = append(sticks, stick.New(s.log, stick.SideLeft, opts.JoystickLeft, opts, mouse))
	}
	if opts.JoystickRight != mapapi.PurposeNone {
		sticks = append(sticks, stick.New(s.log, stick.SideRight, opts.JoystickRight, opts, mouse))
	}

	notify := func(ev mapapi.StatusEvent) {
		s.status.Publish(ctx, group.Key, ev)
	}
	m := mapper.New(s.log, opts, forward, bindings, mapper.WithNotify(notify))
	inj := NewInjector(s.log, s.backend, group, cfg, opts, m, sticks, keyboard, notify, s.injOpts...)

	unitCtx, cancel := context.WithCancel(ctx)
	u := &unit{injector: inj, cancel: cancel, done: make(chan struct{})}
	s.units[group.Key] = u
	go func() {
		defer close(u.done)
		if err := inj.Run(unitCtx); err != nil {
			s.log.Error("Injector exited with error", zap.String("group", group.Key), zap.Error(err))
		}
	}()
}

// StopAll stops every unit and waits for their teardown to finish.
func (s *Service) StopAll() {
	s.mu.Lock()
	units := s.units
	s.units = make(map[string]*unit)
	s.mu.Unlock()
	for _, u := range units {
		u.cancel()
	}
	for _, u := range units {
		<-u.done
	}
}

// States snapshots the lifecycle state of every active unit.
func (s *Service) States() map[string]mapapi.InjectorState {
	s.mu.Lock()
	defer s.mu.Unlock()
	states := make(map[string]mapapi.InjectorState, len(s.units))
	for key, u := range s.units {
		states[key] = u.injector.State()
	}
	return states
}
