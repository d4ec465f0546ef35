// Package injectsvc owns the injection side of the engine: it discovers
// physical device groups, grabs their nodes exclusively, runs one read and
// dispatch loop per node and exposes the lifecycle of every group as a
// small state machine.
package injectsvc

import (
	"sort"
	"strings"

	evdev "github.com/holoplot/go-evdev"

	"github.com/remapd/remapd/mapapi"
)

// DeviceInfo describes one input device node as reported by the backend.
type DeviceInfo struct {
	// Path is the node the backend opens, e.g. /dev/input/event3.
	Path string
	Name string
	// Phys is the physical topology string. Nodes belonging to the same
	// piece of hardware share its prefix before the last slash.
	Phys string
	Uniq string

	Capabilities mapapi.Capabilities
	Axes         map[evdev.EvCode]evdev.AbsInfo
}

// HasKeys reports whether the node offers any EV_KEY capability at all.
func (d DeviceInfo) HasKeys() bool {
	return len(d.Capabilities.Codes(evdev.EV_KEY)) > 0
}

// Device is one opened input node.
type Device interface {
	Info() DeviceInfo
	Grab() error
	Ungrab() error
	// ReadOne blocks until the next event arrives.
	ReadOne() (mapapi.InputEvent, error)
	// NumLockOn reads the numlock LED. Nodes without LEDs return an error.
	NumLockOn() (bool, error)
	Close() error
}

// Backend abstracts device discovery and opening, so tests can run the
// whole lifecycle against fakes.
type Backend interface {
	Enumerate() ([]DeviceInfo, error)
	Open(path string) (Device, error)
}

// Group is a set of device nodes that belong to one piece of hardware and
// are injected by one unit.
type Group struct {
	// Key identifies the group across enumerations.
	Key     string
	Name    string
	Devices []DeviceInfo
}

// Capabilities returns the union over all nodes of the group.
func (g Group) Capabilities() mapapi.Capabilities {
	caps := mapapi.NewCapabilities()
	for _, dev := range g.Devices {
		caps.Merge(dev.Capabilities)
	}
	return caps
}

// BuildGroups clusters device nodes into groups by their physical
// topology. Nodes with the same grouping key end up in one group; the
// first node seen under a key decides the group's name.
func BuildGroups(infos []DeviceInfo) []Group {
	byKey := make(map[string]*Group)
	var order []string
	for _, info := range infos {
		key := groupKey(info)
		g, ok := byKey[key]
		if !ok {
			g = &Group{Key: key, Name: info.Name}
			byKey[key] = g
			order = append(order, key)
		}
		g.Devices = append(g.Devices, info)
	}
	sort.Strings(order)
	groups := make([]Group, 0, len(byKey))
	for _, key := range order {
		groups = append(groups, *byKey[key])
	}
	return groups
}

// groupKey derives the grouping key of one node. The phys string carries
// the per-node suffix after its last slash, which is stripped; nodes
// without a phys fall back to their name.
func groupKey(info DeviceInfo) string {
	phys := info.Phys
	if phys == "" {
		if info.Uniq != "" {
			return info.Uniq
		}
		return info.Name
	}
	if idx := strings.LastIndex(phys, "/"); idx > 0 {
		return phys[:idx]
	}
	return phys
}
