package lifx

// MessageType identifies the payload carried by a packet.
type MessageType uint16

// Message types used by motiond. The LIFX LAN protocol defines many more;
// only the ones needed to read and set color are implemented.
const (
	TypeAcknowledgement MessageType = 45
	TypeGetColor        MessageType = 101
	TypeSetColor        MessageType = 102
	TypeLightState      MessageType = 107
)

// String returns a human-readable name for the message type.
func (t MessageType) String() string {
	switch t {
	case TypeAcknowledgement:
		return "acknowledgement"
	case TypeGetColor:
		return "get_color"
	case TypeSetColor:
		return "set_color"
	case TypeLightState:
		return "light_state"
	default:
		return "unknown"
	}
}

// Payload is a decoded message body.
type Payload interface {
	messageType() MessageType
}

// GetColor requests the bulb's current color. The bulb answers with a
// LightState.
type GetColor struct{}

// SetColor changes the bulb's color over Duration milliseconds. All four
// HSBK channels are mandatory on the wire.
type SetColor struct {
	Color    HSBK
	Duration uint32
}

// LightState is the bulb's answer to GetColor: current color, power level
// and label.
type LightState struct {
	Color HSBK
	Power uint16
	Label string
}

// Acknowledgement is sent by the bulb when a request had the ack-required
// flag set.
type Acknowledgement struct{}

func (GetColor) messageType() MessageType        { return TypeGetColor }
func (SetColor) messageType() MessageType        { return TypeSetColor }
func (LightState) messageType() MessageType      { return TypeLightState }
func (Acknowledgement) messageType() MessageType { return TypeAcknowledgement }
