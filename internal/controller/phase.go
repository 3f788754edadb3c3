package controller

// Phase represents the dimming state machine position.
type Phase int

const (
	// PhaseActive means motion was seen recently; the bulb holds the
	// configured active brightness.
	PhaseActive Phase = iota
	// PhaseDimming means the idle window elapsed and brightness is
	// decaying along the schedule.
	PhaseDimming
	// PhaseOff means brightness reached the configured floor. Not a power
	// state: the bulb stays addressable at minimum brightness.
	PhaseOff
)

// String returns a human-readable name for the phase.
func (p Phase) String() string {
	switch p {
	case PhaseActive:
		return "active"
	case PhaseDimming:
		return "dimming"
	case PhaseOff:
		return "off"
	default:
		return "unknown"
	}
}
