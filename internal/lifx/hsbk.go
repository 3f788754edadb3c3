package lifx

// Brightness bounds used by the dimming schedule.
//
// MinBrightness is 2% of the full scale, the lowest level at which the bulb
// is still visibly on. MaxBrightness is 100%.
const (
	MinBrightness uint16 = 328 // 0xFFFF/200, rounded
	MaxBrightness uint16 = 0xFFFF
)

// HSBK is the bulb color model: hue, saturation, brightness, kelvin.
// Every channel is a 16-bit value on the wire. Hue is 360 degrees scaled to
// 0-65535, saturation and brightness are percentages scaled to 0-65535,
// kelvin ranges from 2500 (warm) to 9000 (cool).
type HSBK struct {
	Hue        uint16
	Saturation uint16
	Brightness uint16
	Kelvin     uint16
}

// Partial is an HSBK with optional channels. A nil channel means "leave the
// bulb's current value unchanged". The wire format has no per-channel
// optionality, so a Partial must be merged against a concrete HSBK before
// encoding.
type Partial struct {
	Hue        *uint16
	Saturation *uint16
	Brightness *uint16
	Kelvin     *uint16
}

// Uint16 returns a pointer to v, for building Partial values.
func Uint16(v uint16) *uint16 {
	return &v
}

// Empty reports whether no channel is set. An empty Partial is a no-op
// update and must never be sent as a standalone packet.
func (p Partial) Empty() bool {
	return p.Hue == nil && p.Saturation == nil && p.Brightness == nil && p.Kelvin == nil
}

// Merge resolves the Partial against the bulb's known current color: each
// channel takes the requested value if set, the current value otherwise.
// The result is always fully concrete and ready for encoding.
func (p Partial) Merge(current HSBK) HSBK {
	merged := current
	if p.Hue != nil {
		merged.Hue = *p.Hue
	}
	if p.Saturation != nil {
		merged.Saturation = *p.Saturation
	}
	if p.Brightness != nil {
		merged.Brightness = *p.Brightness
	}
	if p.Kelvin != nil {
		merged.Kelvin = *p.Kelvin
	}
	return merged
}
