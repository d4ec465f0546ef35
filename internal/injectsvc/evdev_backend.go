package injectsvc

import (
	"fmt"
	"strings"

	evdev "github.com/holoplot/go-evdev"
	"github.com/jochenvg/go-udev"
	"go.uber.org/zap"

	"github.com/remapd/remapd/mapapi"
)

// EvdevBackend discovers input nodes through udev and opens them through
// evdev. It is the one production Backend implementation.
type EvdevBackend struct {
	log  *zap.Logger
	udev *udev.Udev
}

func NewEvdevBackend(log *zap.Logger) *EvdevBackend {
	return &EvdevBackend{
		log:  log.Named("evdev"),
		udev: &udev.Udev{},
	}
}

// Enumerate lists every event node currently present, probing name,
// topology and capabilities. Nodes that cannot be opened are skipped with
// a log entry, since enumeration runs unprivileged paths too.
func (b *EvdevBackend) Enumerate() ([]DeviceInfo, error) {
	paths, err := b.eventNodes()
	if err != nil {
		return nil, err
	}
	var infos []DeviceInfo
	for _, path := range paths {
		info, err := probe(path)
		if err != nil {
			b.log.Debug("Skipping input node", zap.String("path", path), zap.Error(err))
			continue
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// eventNodes lists /dev/input/event* device nodes from udev, falling back
// to scanning /dev/input when udev yields nothing.
func (b *EvdevBackend) eventNodes() ([]string, error) {
	e := b.udev.NewEnumerate()
	e.AddMatchSubsystem("input")
	devices, err := e.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate input subsystem: %w", err)
	}
	var paths []string
	for _, dev := range devices {
		if !strings.HasPrefix(dev.Sysname(), "event") {
			continue
		}
		if node := dev.Devnode(); node != "" {
			paths = append(paths, node)
		}
	}
	if len(paths) > 0 {
		return paths, nil
	}

	listed, err := evdev.ListDevicePaths()
	if err != nil {
		return nil, fmt.Errorf("failed to list input devices: %w", err)
	}
	for _, p := range listed {
		paths = append(paths, p.Path)
	}
	return paths, nil
}

func probe(path string) (DeviceInfo, error) {
	dev, err := evdev.Open(path)
	if err != nil {
		return DeviceInfo{}, err
	}
	defer dev.Close()

	info := DeviceInfo{
		Path:         path,
		Capabilities: mapapi.NewCapabilities(),
	}
	if name, err := dev.Name(); err == nil {
		info.Name = name
	}
	if phys, err := dev.PhysicalLocation(); err == nil {
		info.Phys = phys
	}
	if uniq, err := dev.UniqueID(); err == nil {
		info.Uniq = uniq
	}
	for _, typ := range dev.CapableTypes() {
		for _, code := range dev.CapableEvents(typ) {
			info.Capabilities.Add(typ, code)
		}
	}
	if axes, err := dev.AbsInfos(); err == nil && len(axes) > 0 {
		info.Axes = axes
	}
	return info, nil
}

// Open opens one node for grabbing and reading.
func (b *EvdevBackend) Open(path string) (Device, error) {
	info, err := probe(path)
	if err != nil {
		return nil, err
	}
	dev, err := evdev.Open(path)
	if err != nil {
		return nil, err
	}
	return &evdevDevice{info: info, dev: dev}, nil
}

type evdevDevice struct {
	info DeviceInfo
	dev  *evdev.InputDevice
}

func (d *evdevDevice) Info() DeviceInfo {
	return d.info
}

func (d *evdevDevice) Grab() error {
	return d.dev.Grab()
}

func (d *evdevDevice) Ungrab() error {
	return d.dev.Ungrab()
}

func (d *evdevDevice) ReadOne() (mapapi.InputEvent, error) {
	ev, err := d.dev.ReadOne()
	if err != nil {
		return mapapi.InputEvent{}, err
	}
	return mapapi.NewInputEvent(ev.Type, ev.Code, ev.Value), nil
}

func (d *evdevDevice) NumLockOn() (bool, error) {
	states, err := d.dev.State(evdev.EV_LED)
	if err != nil {
		return false, err
	}
	on, ok := states[evdev.LED_NUML]
	if !ok {
		return false, fmt.Errorf("device %q has no numlock LED", d.info.Name)
	}
	return on, nil
}

func (d *evdevDevice) Close() error {
	return d.dev.Close()
}
