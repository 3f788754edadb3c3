// Package lifx implements the subset of the LIFX LAN protocol that motiond
// needs to drive a single bulb: header framing, the color messages and the
// HSBK model. Encoding and decoding are pure transforms over byte slices.
package lifx

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// HeaderSize is the fixed size of the packet header in bytes.
const HeaderSize = 36

// Port is the LIFX LAN protocol UDP port.
const Port = 56700

// Protocol field layout: bits 0-11 carry the protocol number, bit 12 is the
// addressable flag (always set, packets target a device identifier), bit 13
// is the tagged flag (set when broadcasting to all devices).
const (
	protocolNumber  uint16 = 1024
	flagAddressable uint16 = 1 << 12
	flagTagged      uint16 = 1 << 13
)

var (
	// ErrPacketTooLarge means the encoded packet would not fit the 16-bit
	// size field.
	ErrPacketTooLarge = errors.New("packet too large")
	// ErrTruncatedPacket means fewer bytes were available than the packet
	// declared.
	ErrTruncatedPacket = errors.New("truncated packet")
	// ErrUnknownMessageType means the packet type is not one the codec
	// understands.
	ErrUnknownMessageType = errors.New("unknown message type")
)

// Header is the decoded form of the 36-byte packet header. The total-size
// and message-type fields are derived from the payload during encoding and
// are not carried here.
type Header struct {
	// Source identifies this client; the bulb echoes it in responses.
	Source uint32
	// Target is the device MAC, or zero to broadcast to all devices.
	Target uint64
	// AckRequired asks the bulb to confirm the request with an
	// Acknowledgement message.
	AckRequired bool
	// ResRequired asks the bulb to answer with a state message.
	ResRequired bool
	// Sequence is a wrap-around request counter echoed in responses.
	Sequence uint8
}

// Encode serializes a header and payload into a single packet. All integer
// fields are little-endian. The addressable flag is always set; the tagged
// flag is set when the target is the all-devices broadcast. Returns
// ErrPacketTooLarge when the total size does not fit the 16-bit size field.
func Encode(h Header, p Payload) ([]byte, error) {
	body := encodePayload(p)

	total := HeaderSize + len(body)
	if total > 0xFFFF {
		return nil, fmt.Errorf("%w: %d bytes", ErrPacketTooLarge, total)
	}

	flags := protocolNumber | flagAddressable
	if h.Target == 0 {
		flags |= flagTagged
	}

	var resp byte
	if h.AckRequired {
		resp |= 1 << 0
	}
	if h.ResRequired {
		resp |= 1 << 1
	}

	buf := make([]byte, total)
	binary.LittleEndian.PutUint16(buf[0:2], uint16(total))
	binary.LittleEndian.PutUint16(buf[2:4], flags)
	binary.LittleEndian.PutUint32(buf[4:8], h.Source)
	binary.LittleEndian.PutUint64(buf[8:16], h.Target)
	// buf[16:22] reserved, must encode as zero
	buf[22] = resp
	buf[23] = h.Sequence
	// buf[24:32] reserved
	binary.LittleEndian.PutUint16(buf[32:34], uint16(p.messageType()))
	// buf[34:36] reserved
	copy(buf[HeaderSize:], body)

	return buf, nil
}

// Decode parses a packet into its header and payload. Returns
// ErrTruncatedPacket when fewer bytes are available than the packet
// declares, and ErrUnknownMessageType (with the header still filled in)
// when the type is not one of the shapes the codec parses. Nonzero reserved
// bits are tolerated but never interpreted.
func Decode(data []byte) (Header, Payload, error) {
	h, typ, body, err := decodeHeader(data)
	if err != nil {
		return Header{}, nil, err
	}

	switch typ {
	case TypeGetColor:
		return h, GetColor{}, nil
	case TypeAcknowledgement:
		return h, Acknowledgement{}, nil
	case TypeSetColor:
		p, err := decodeSetColor(body)
		return h, p, err
	case TypeLightState:
		p, err := decodeLightState(body)
		return h, p, err
	default:
		return h, nil, fmt.Errorf("%w: %d", ErrUnknownMessageType, typ)
	}
}

func decodeHeader(data []byte) (Header, MessageType, []byte, error) {
	if len(data) < HeaderSize {
		return Header{}, 0, nil, fmt.Errorf("%w: %d of %d header bytes", ErrTruncatedPacket, len(data), HeaderSize)
	}

	size := int(binary.LittleEndian.Uint16(data[0:2]))
	if size < HeaderSize || size > len(data) {
		return Header{}, 0, nil, fmt.Errorf("%w: %d of %d declared bytes", ErrTruncatedPacket, len(data), size)
	}

	resp := data[22]
	h := Header{
		Source:      binary.LittleEndian.Uint32(data[4:8]),
		Target:      binary.LittleEndian.Uint64(data[8:16]),
		AckRequired: resp&(1<<0) != 0,
		ResRequired: resp&(1<<1) != 0,
		Sequence:    data[23],
	}
	typ := MessageType(binary.LittleEndian.Uint16(data[32:34]))

	return h, typ, data[HeaderSize:size], nil
}

// Payload wire sizes.
const (
	setColorSize   = 1 + 8 + 4
	lightStateSize = 8 + 2 + 2 + 32 + 8
)

func encodePayload(p Payload) []byte {
	switch m := p.(type) {
	case SetColor:
		buf := make([]byte, setColorSize)
		// buf[0] reserved
		putHSBK(buf[1:9], m.Color)
		binary.LittleEndian.PutUint32(buf[9:13], m.Duration)
		return buf
	case LightState:
		buf := make([]byte, lightStateSize)
		putHSBK(buf[0:8], m.Color)
		// buf[8:10] reserved
		binary.LittleEndian.PutUint16(buf[10:12], m.Power)
		copy(buf[12:44], m.Label)
		// buf[44:52] reserved
		return buf
	default:
		// GetColor and Acknowledgement carry no payload.
		return nil
	}
}

func decodeSetColor(body []byte) (SetColor, error) {
	if len(body) < setColorSize {
		return SetColor{}, fmt.Errorf("%w: %d of %d payload bytes", ErrTruncatedPacket, len(body), setColorSize)
	}
	return SetColor{
		Color:    getHSBK(body[1:9]),
		Duration: binary.LittleEndian.Uint32(body[9:13]),
	}, nil
}

func decodeLightState(body []byte) (LightState, error) {
	if len(body) < lightStateSize {
		return LightState{}, fmt.Errorf("%w: %d of %d payload bytes", ErrTruncatedPacket, len(body), lightStateSize)
	}
	return LightState{
		Color: getHSBK(body[0:8]),
		Power: binary.LittleEndian.Uint16(body[10:12]),
		Label: trimLabel(body[12:44]),
	}, nil
}

func putHSBK(buf []byte, c HSBK) {
	binary.LittleEndian.PutUint16(buf[0:2], c.Hue)
	binary.LittleEndian.PutUint16(buf[2:4], c.Saturation)
	binary.LittleEndian.PutUint16(buf[4:6], c.Brightness)
	binary.LittleEndian.PutUint16(buf[6:8], c.Kelvin)
}

func getHSBK(buf []byte) HSBK {
	return HSBK{
		Hue:        binary.LittleEndian.Uint16(buf[0:2]),
		Saturation: binary.LittleEndian.Uint16(buf[2:4]),
		Brightness: binary.LittleEndian.Uint16(buf[4:6]),
		Kelvin:     binary.LittleEndian.Uint16(buf[6:8]),
	}
}

// trimLabel converts the fixed 32-byte label field to a string, dropping
// the NUL padding.
func trimLabel(buf []byte) string {
	for i, b := range buf {
		if b == 0 {
			return string(buf[:i])
		}
	}
	return string(buf)
}
