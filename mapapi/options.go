package mapapi

import "time"

// Purpose assigns a joystick side to a kind of synthetic output.
type Purpose string

const (
	PurposeNone    Purpose = "none"
	PurposeMouse   Purpose = "mouse"
	PurposeWheel   Purpose = "wheel"
	PurposeButtons Purpose = "buttons"
)

// Options is the small tunables record supplied next to the mapping set.
type Options struct {
	// KeystrokeSleep is the pause applied after every discrete key-down and
	// key-up write.
	KeystrokeSleep time.Duration `json:"keystrokeSleep"`
	// NonLinearity shapes the analog response curve. 1 is linear.
	NonLinearity float64 `json:"nonLinearity"`
	// PointerSpeed scales joystick-driven pointer motion, in pixels per
	// second at full deflection.
	PointerSpeed int `json:"pointerSpeed"`
	// WheelSpeed scales joystick-driven wheel motion, in detents per second
	// at full deflection.
	WheelSpeed int `json:"wheelSpeed"`
	// JoystickLeft and JoystickRight assign a purpose to each stick.
	JoystickLeft  Purpose `json:"joystickLeft"`
	JoystickRight Purpose `json:"joystickRight"`
	// DebounceTicks is how many dispatcher ticks a wheel-style event stays
	// logically held without a refreshing press before a release is
	// synthesized.
	DebounceTicks int
	// AxisThreshold is the fraction of the reported axis range beyond which
	// an analog value is treated as a digital press. Global, not
	// per-device.
	AxisThreshold float64
}

// DefaultOptions returns the engine defaults.
func DefaultOptions() Options {
	return Options{
		KeystrokeSleep: 10 * time.Millisecond,
		NonLinearity:   1,
		PointerSpeed:   80,
		WheelSpeed:     20,
		JoystickLeft:   PurposeNone,
		JoystickRight:  PurposeNone,
		DebounceTicks:  3,
		AxisThreshold:  0.3,
	}
}
