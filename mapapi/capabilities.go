package mapapi

import (
	"sort"

	evdev "github.com/holoplot/go-evdev"
)

// Capabilities is an event-type → code-set map describing what a device
// can emit or what a macro may write.
type Capabilities map[evdev.EvType]map[evdev.EvCode]struct{}

func NewCapabilities() Capabilities {
	return make(Capabilities)
}

func (c Capabilities) Add(typ evdev.EvType, codes ...evdev.EvCode) Capabilities {
	set, ok := c[typ]
	if !ok {
		set = make(map[evdev.EvCode]struct{})
		c[typ] = set
	}
	for _, code := range codes {
		set[code] = struct{}{}
	}
	return c
}

// Merge adds every capability of other into c.
func (c Capabilities) Merge(other Capabilities) Capabilities {
	for typ, codes := range other {
		for code := range codes {
			c.Add(typ, code)
		}
	}
	return c
}

func (c Capabilities) Has(typ evdev.EvType, code evdev.EvCode) bool {
	set, ok := c[typ]
	if !ok {
		return false
	}
	_, ok = set[code]
	return ok
}

// Codes returns the codes of one event type in sorted order.
func (c Capabilities) Codes(typ evdev.EvType) []evdev.EvCode {
	set := c[typ]
	codes := make([]evdev.EvCode, 0, len(set))
	for code := range set {
		codes = append(codes, code)
	}
	sort.Slice(codes, func(i, j int) bool { return codes[i] < codes[j] })
	return codes
}

func (c Capabilities) Clone() Capabilities {
	clone := NewCapabilities()
	return clone.Merge(c)
}
