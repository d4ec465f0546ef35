package configsvc

import (
	"fmt"
	"time"

	"github.com/remapd/remapd/internal/macro"
	"github.com/remapd/remapd/internal/outdev"
	"github.com/remapd/remapd/mapapi"
)

// Preset is the on-disk schema of one remapping preset.
type Preset struct {
	Mappings []PresetMapping `json:"mappings"`
	Options  PresetOptions   `json:"options"`
}

// PresetMapping binds a serialized combination to an output. Exactly one
// of Symbol, Macro and Disabled should be set; a Symbol that looks like
// macro source is compiled as one, matching what hand-written presets
// expect.
type PresetMapping struct {
	Combination string `json:"combination"`
	Symbol      string `json:"symbol,omitempty"`
	Macro       string `json:"macro,omitempty"`
	Disabled    bool   `json:"disabled,omitempty"`
	// Target names the virtual output device, keyboard when empty.
	Target string `json:"target,omitempty"`
}

// PresetOptions mirrors mapapi.Options with YAML-friendly types. Zero
// fields keep their engine default.
type PresetOptions struct {
	KeystrokeSleepMs int     `json:"keystrokeSleepMs,omitempty"`
	NonLinearity     float64 `json:"nonLinearity,omitempty"`
	PointerSpeed     int     `json:"pointerSpeed,omitempty"`
	WheelSpeed       int     `json:"wheelSpeed,omitempty"`
	JoystickLeft     string  `json:"joystickLeft,omitempty"`
	JoystickRight    string  `json:"joystickRight,omitempty"`
	DebounceTicks    int     `json:"debounceTicks,omitempty"`
	AxisThreshold    float64 `json:"axisThreshold,omitempty"`
}

// DefaultPreset is written to disk for fresh installations.
func DefaultPreset() Preset {
	return Preset{Mappings: []PresetMapping{}}
}

// Compile turns a preset into the engine's configuration. Broken mappings
// are returned as errors and left out; everything else stays usable.
func (p Preset) Compile() (*mapapi.ConfigSet, mapapi.Options, []error) {
	var errs []error
	cfg := mapapi.NewConfigSet()
	for i, pm := range p.Mappings {
		combination, output, err := pm.compile()
		if err != nil {
			errs = append(errs, fmt.Errorf("mapping %d: %w", i, err))
			continue
		}
		if err := cfg.Register(combination, output); err != nil {
			errs = append(errs, fmt.Errorf("mapping %d: %w", i, err))
		}
	}
	opts, err := p.Options.compile()
	if err != nil {
		errs = append(errs, err)
	}
	return cfg, opts, errs
}

func (pm PresetMapping) compile() (mapapi.Combination, mapapi.OutputSpec, error) {
	combination, err := mapapi.ParseCombination(pm.Combination)
	if err != nil {
		return nil, mapapi.OutputSpec{}, err
	}
	output := mapapi.OutputSpec{Target: pm.Target}
	if output.Target == "" {
		output.Target = outdev.TargetKeyboard
	}
	switch {
	case pm.Disabled:
		output.Kind = mapapi.OutputDisabled
	case pm.Macro != "":
		output.Kind = mapapi.OutputMacro
		output.Macro = pm.Macro
	case macro.IsMacro(pm.Symbol):
		output.Kind = mapapi.OutputMacro
		output.Macro = pm.Symbol
	case pm.Symbol != "":
		output.Kind = mapapi.OutputSymbol
		output.Symbol = pm.Symbol
	default:
		return nil, mapapi.OutputSpec{}, fmt.Errorf("combination %s has no output", pm.Combination)
	}
	return combination, output, nil
}

func (po PresetOptions) compile() (mapapi.Options, error) {
	opts := mapapi.DefaultOptions()
	if po.KeystrokeSleepMs > 0 {
		opts.KeystrokeSleep = time.Duration(po.KeystrokeSleepMs) * time.Millisecond
	}
	if po.NonLinearity > 0 {
		opts.NonLinearity = po.NonLinearity
	}
	if po.PointerSpeed > 0 {
		opts.PointerSpeed = po.PointerSpeed
	}
	if po.WheelSpeed > 0 {
		opts.WheelSpeed = po.WheelSpeed
	}
	if po.DebounceTicks > 0 {
		opts.DebounceTicks = po.DebounceTicks
	}
	if po.AxisThreshold > 0 {
		opts.AxisThreshold = po.AxisThreshold
	}
	var err error
	if opts.JoystickLeft, err = parsePurpose(po.JoystickLeft); err != nil {
		return opts, fmt.Errorf("joystickLeft: %w", err)
	}
	if opts.JoystickRight, err = parsePurpose(po.JoystickRight); err != nil {
		return opts, fmt.Errorf("joystickRight: %w", err)
	}
	return opts, nil
}

func parsePurpose(s string) (mapapi.Purpose, error) {
	switch mapapi.Purpose(s) {
	case "", mapapi.PurposeNone:
		return mapapi.PurposeNone, nil
	case mapapi.PurposeMouse:
		return mapapi.PurposeMouse, nil
	case mapapi.PurposeWheel:
		return mapapi.PurposeWheel, nil
	case mapapi.PurposeButtons:
		return mapapi.PurposeButtons, nil
	default:
		return mapapi.PurposeNone, fmt.Errorf("unknown purpose %q", s)
	}
}
