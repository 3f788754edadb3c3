package controller

import "time"

// Schedule maps elapsed no-motion time to a target phase and brightness.
// It is a pure function of its parameters so the decay can be unit-tested
// by sampling arbitrary elapsed durations without running a clock.
type Schedule struct {
	// ActiveBrightness is held while motion is recent.
	ActiveBrightness uint16
	// MinBrightness is the floor reached at the end of the decay.
	MinBrightness uint16
	// ActiveTimeout is the no-motion window before dimming starts.
	ActiveTimeout time.Duration
	// DimDuration is the span of the linear decay from active to floor.
	DimDuration time.Duration
}

// PhaseAt returns the phase for a given elapsed time since the last motion.
func (s Schedule) PhaseAt(elapsed time.Duration) Phase {
	switch {
	case elapsed < s.ActiveTimeout:
		return PhaseActive
	case elapsed < s.ActiveTimeout+s.DimDuration && s.MinBrightness < s.ActiveBrightness:
		return PhaseDimming
	default:
		return PhaseOff
	}
}

// BrightnessAt returns the target brightness for a given elapsed time since
// the last motion: the active level inside the active window, then a linear
// decay down to the floor across DimDuration. Samples at increasing elapsed
// times are non-increasing.
func (s Schedule) BrightnessAt(elapsed time.Duration) uint16 {
	if elapsed < s.ActiveTimeout {
		return s.ActiveBrightness
	}
	if s.MinBrightness >= s.ActiveBrightness {
		return s.MinBrightness
	}

	dimmed := elapsed - s.ActiveTimeout
	if s.DimDuration <= 0 || dimmed >= s.DimDuration {
		return s.MinBrightness
	}

	span := float64(s.ActiveBrightness - s.MinBrightness)
	frac := float64(dimmed) / float64(s.DimDuration)
	return s.ActiveBrightness - uint16(frac*span)
}
