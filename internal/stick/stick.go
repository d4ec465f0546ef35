// Package stick translates joystick deflection into pointer or scroll
// wheel motion. Translation is timer-driven: the latest axis values are
// sampled at a fixed rate and motion is emitted for as long as an axis
// deviates from rest, independent of whether further input events arrive.
package stick

import (
	"context"
	"math"
	"time"

	evdev "github.com/holoplot/go-evdev"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/remapd/remapd/internal/outdev"
	"github.com/remapd/remapd/mapapi"
)

// DefaultTickRate is the sampling interval of the translation loop.
const DefaultTickRate = 16 * time.Millisecond

// Side names the two sticks of a gamepad.
type Side string

const (
	SideLeft  Side = "left"
	SideRight Side = "right"
)

// axisRange is the device-reported extent of one axis.
type axisRange struct {
	min int32
	max int32
}

// Translator drives one stick side. Axis samples arrive on the injector's
// read loop through Feed; the emit loop runs on its own goroutine and only
// shares the latest raw values through atomics.
type Translator struct {
	log      *zap.Logger
	writer   outdev.Writer
	purpose  mapapi.Purpose
	opts     mapapi.Options
	tickRate time.Duration

	xCode, yCode   evdev.EvCode
	xRange, yRange axisRange
	x, y           *atomic.Int32
}

type Option func(*Translator)

// WithTickRate overrides the sampling interval, used by tests.
func WithTickRate(d time.Duration) Option {
	return func(t *Translator) {
		t.tickRate = d
	}
}

// New builds a translator for one stick side. A purpose it does not
// translate produces a translator whose Feed never consumes and whose Run
// exits immediately.
func New(log *zap.Logger, side Side, purpose mapapi.Purpose, opts mapapi.Options, writer outdev.Writer, tOpts ...Option) *Translator {
	t := &Translator{
		log:      log.Named("stick").With(zap.String("side", string(side))),
		writer:   writer,
		purpose:  purpose,
		opts:     opts,
		tickRate: DefaultTickRate,
		xCode:    evdev.ABS_X,
		yCode:    evdev.ABS_Y,
		x:        atomic.NewInt32(0),
		y:        atomic.NewInt32(0),
	}
	if side == SideRight {
		t.xCode = evdev.ABS_RX
		t.yCode = evdev.ABS_RY
	}
	for _, opt := range tOpts {
		opt(t)
	}
	return t
}

// DeclareAxis records the reported range of one of the translator's axes.
// Other codes are ignored.
func (t *Translator) DeclareAxis(code evdev.EvCode, info evdev.AbsInfo) {
	r := axisRange{min: info.Minimum, max: info.Maximum}
	switch code {
	case t.xCode:
		t.xRange = r
	case t.yCode:
		t.yRange = r
	}
}

// translating reports whether the translator itself produces output from
// its axes. The buttons purpose leaves axis events to the mapper's
// threshold matching, so those must pass through untouched.
func (t *Translator) translating() bool {
	return t.purpose == mapapi.PurposeMouse || t.purpose == mapapi.PurposeWheel
}

// Feed offers one raw event to the translator. It consumes events of its
// two axes while it is translating them and reports whether it did.
func (t *Translator) Feed(ev mapapi.InputEvent) bool {
	if !t.translating() || ev.Type != evdev.EV_ABS {
		return false
	}
	switch ev.Code {
	case t.xCode:
		t.x.Store(ev.Value)
	case t.yCode:
		t.y.Store(ev.Value)
	default:
		return false
	}
	return true
}

// Run samples the axes until the context is cancelled. Both axes at rest
// stop emission within one tick.
func (t *Translator) Run(ctx context.Context) error {
	if !t.translating() {
		return nil
	}
	ticker := time.NewTicker(t.tickRate)
	defer ticker.Stop()

	// Sub-unit motion per tick accumulates so slow deflection still moves.
	var carryX, carryY float64
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := t.emit(&carryX, &carryY); err != nil {
				t.log.Warn("Dropped stick motion", zap.Error(err))
			}
		}
	}
}

func (t *Translator) emit(carryX, carryY *float64) error {
	dx := t.deflection(t.x.Load(), t.xRange)
	dy := t.deflection(t.y.Load(), t.yRange)
	if dx == 0 && dy == 0 {
		*carryX, *carryY = 0, 0
		return nil
	}

	perSecond := float64(t.opts.PointerSpeed)
	xCode, yCode := evdev.EvCode(evdev.REL_X), evdev.EvCode(evdev.REL_Y)
	if t.purpose == mapapi.PurposeWheel {
		perSecond = float64(t.opts.WheelSpeed)
		xCode, yCode = evdev.REL_HWHEEL, evdev.REL_WHEEL
		// Scroll direction is inverted relative to pointer motion.
		dy = -dy
	}
	perTick := perSecond * t.tickRate.Seconds()

	stepX := t.step(carryX, dx, perTick)
	stepY := t.step(carryY, dy, perTick)

	wrote := false
	if stepX != 0 {
		if err := t.writer.Write(mapapi.NewInputEvent(evdev.EV_REL, xCode, stepX)); err != nil {
			return err
		}
		wrote = true
	}
	if stepY != 0 {
		if err := t.writer.Write(mapapi.NewInputEvent(evdev.EV_REL, yCode, stepY)); err != nil {
			return err
		}
		wrote = true
	}
	if wrote {
		return t.writer.Sync()
	}
	return nil
}

// step converts one axis deflection into whole motion units for this tick,
// carrying the fraction over to the next tick.
func (t *Translator) step(carry *float64, deflection, perTick float64) int32 {
	curved := math.Copysign(math.Pow(math.Abs(deflection), t.opts.NonLinearity), deflection)
	*carry += curved * perTick
	whole := math.Trunc(*carry)
	*carry -= whole
	return int32(whole)
}

// deflection normalizes a raw axis value to [-1, 1] around the axis
// center. Without a declared range the value itself is clamped, which fits
// hats reporting -1..1.
func (t *Translator) deflection(value int32, r axisRange) float64 {
	if r.max <= r.min {
		return clamp(float64(value), -1, 1)
	}
	center := float64(r.min+r.max) / 2
	half := float64(r.max-r.min) / 2
	return clamp((float64(value)-center)/half, -1, 1)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
