package outdev

import (
	"fmt"
	"sync"

	evdev "github.com/holoplot/go-evdev"

	"github.com/remapd/remapd/mapapi"
)

// Recorder is a Writer that captures events instead of writing them to the
// kernel, with the same capability checking as a real device. Used by
// engine tests.
type Recorder struct {
	caps mapapi.Capabilities

	mu     sync.Mutex
	events []mapapi.InputEvent
	syncs  int
}

// NewRecorder returns a recorder. A nil capability map accepts every
// event.
func NewRecorder(caps mapapi.Capabilities) *Recorder {
	return &Recorder{caps: caps}
}

func (r *Recorder) Write(ev mapapi.InputEvent) error {
	if r.caps != nil && !r.caps.Has(ev.Type, ev.Code) {
		return fmt.Errorf("%w: recorder cannot write %s", ErrCapability, ev)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *Recorder) Sync() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.syncs++
	return nil
}

// Events returns a copy of everything written so far.
func (r *Recorder) Events() []mapapi.InputEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]mapapi.InputEvent(nil), r.events...)
}

// Len returns the number of recorded events.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
	r.syncs = 0
}

// MemoryOpener creates in-memory kernel device stand-ins, recording writes
// per device name. Used by tests that exercise the registry end to end.
type MemoryOpener struct {
	mu      sync.Mutex
	handles map[string]*memoryHandle
}

func NewMemoryOpener() *MemoryOpener {
	return &MemoryOpener{handles: make(map[string]*memoryHandle)}
}

// Open satisfies Opener.
func (o *MemoryOpener) Open(name string, caps map[evdev.EvType][]evdev.EvCode) (handle, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	h := &memoryHandle{}
	o.handles[name] = h
	return h, nil
}

// Events returns everything written to the named device so far, sync
// events excluded.
func (o *MemoryOpener) Events(name string) []mapapi.InputEvent {
	o.mu.Lock()
	h, ok := o.handles[name]
	o.mu.Unlock()
	if !ok {
		return nil
	}
	return h.snapshot()
}

type memoryHandle struct {
	mu     sync.Mutex
	events []mapapi.InputEvent
}

func (h *memoryHandle) WriteOne(ev *evdev.InputEvent) error {
	if ev.Type == evdev.EV_SYN {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, mapapi.NewInputEvent(ev.Type, ev.Code, ev.Value))
	return nil
}

func (h *memoryHandle) Close() error {
	return nil
}

func (h *memoryHandle) snapshot() []mapapi.InputEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]mapapi.InputEvent(nil), h.events...)
}
