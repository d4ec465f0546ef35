package mapapi

// InjectorState is the lifecycle state of one injection unit.
type InjectorState uint8

const (
	StateUnknown InjectorState = iota
	StateStarting
	StateRunning
	StateStopped
	StateFailed
	StateNoGrab
)

func (s InjectorState) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	case StateNoGrab:
		return "no-grab"
	default:
		return "unknown"
	}
}

// Terminal reports whether the injector can leave this state again.
func (s InjectorState) Terminal() bool {
	return s == StateStopped || s == StateFailed || s == StateNoGrab
}

// StatusKind discriminates status notifications.
type StatusKind uint8

const (
	StatusInjector StatusKind = iota
	StatusMacroError
	StatusMappingError
)

// StatusEvent is a discrete notification emitted by the engine. The engine
// never blocks waiting for the sink to consume it.
type StatusEvent struct {
	Kind  StatusKind
	Group string
	State InjectorState
	// Mapping is the canonical combination key the error belongs to, when
	// the notification concerns a single mapping.
	Mapping string
	Err     error
	Message string
}
