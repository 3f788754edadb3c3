// Package bulb provides the request/response client on top of the codec and
// transport: source and sequence bookkeeping, SetColor fire-and-forget and
// the GetColor round-trip.
package bulb

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/motiond/internal/lifx"
	"github.com/dokzlo13/motiond/internal/transport"
)

// ErrUnexpectedReply means the bulb answered a GetColor with something other
// than a LightState before the deadline.
var ErrUnexpectedReply = errors.New("unexpected reply from bulb")

const defaultRoundTripTimeout = 2 * time.Second

// Client talks to a single bulb. Safe for concurrent use; the sequence
// counter is the only shared state.
type Client struct {
	conn   *transport.Conn
	source uint32
	target uint64
	ack    bool

	roundTripTimeout time.Duration

	mu  sync.Mutex
	seq uint8
}

// Options configures a Client.
type Options struct {
	// Target is the bulb's device identifier, zero for broadcast. The
	// socket is connected to one bulb either way.
	Target uint64
	// Ack asks the bulb to acknowledge SetColor requests.
	Ack bool
	// RoundTripTimeout bounds GetColor (and ack) waits.
	RoundTripTimeout time.Duration
}

// New creates a Client over an open bulb socket. The source identifier is
// random per process so stale replies from a previous run are ignored.
func New(conn *transport.Conn, opts Options) *Client {
	if opts.RoundTripTimeout == 0 {
		opts.RoundTripTimeout = defaultRoundTripTimeout
	}

	u := uuid.New()
	source := binary.LittleEndian.Uint32(u[:4])

	return &Client{
		conn:             conn,
		source:           source,
		target:           opts.Target,
		ack:              opts.Ack,
		roundTripTimeout: opts.RoundTripTimeout,
	}
}

// ParseTarget converts a MAC address string to the 64-bit target field.
func ParseTarget(mac string) (uint64, error) {
	hw, err := net.ParseMAC(mac)
	if err != nil {
		return 0, fmt.Errorf("invalid bulb target %q: %w", mac, err)
	}
	if len(hw) != 6 {
		return 0, fmt.Errorf("invalid bulb target %q: want a 6-byte MAC", mac)
	}
	buf := make([]byte, 8)
	copy(buf, hw)
	return binary.LittleEndian.Uint64(buf), nil
}

func (c *Client) nextSeq() uint8 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++ // wraps
	return c.seq
}

// SetColor sets all four channels over the given transition duration.
// When acks are enabled it waits (bounded) for the bulb's confirmation.
func (c *Client) SetColor(ctx context.Context, color lifx.HSBK, duration time.Duration) error {
	seq := c.nextSeq()
	packet, err := lifx.Encode(
		lifx.Header{Source: c.source, Target: c.target, AckRequired: c.ack, Sequence: seq},
		lifx.SetColor{Color: color, Duration: uint32(duration.Milliseconds())},
	)
	if err != nil {
		return err
	}

	if err := c.conn.Send(packet); err != nil {
		return err
	}

	log.Debug().
		Uint16("brightness", color.Brightness).
		Uint16("kelvin", color.Kelvin).
		Dur("duration", duration).
		Uint8("seq", seq).
		Msg("Sent set_color")

	if !c.ack {
		return nil
	}
	return c.awaitReply(ctx, seq, lifx.TypeAcknowledgement)
}

// GetColor reads the bulb's current color via a LightState round-trip.
func (c *Client) GetColor(ctx context.Context) (lifx.HSBK, error) {
	seq := c.nextSeq()
	packet, err := lifx.Encode(
		lifx.Header{Source: c.source, Target: c.target, ResRequired: true, Sequence: seq},
		lifx.GetColor{},
	)
	if err != nil {
		return lifx.HSBK{}, err
	}

	if err := c.conn.Send(packet); err != nil {
		return lifx.HSBK{}, err
	}

	reply, err := c.receive(ctx, seq, lifx.TypeLightState)
	if err != nil {
		return lifx.HSBK{}, err
	}

	state := reply.(lifx.LightState)
	log.Debug().
		Uint16("brightness", state.Color.Brightness).
		Str("label", state.Label).
		Msg("Received light_state")
	return state.Color, nil
}

// ChangeColor reads the bulb's current color, applies transform and writes
// the result back over the given transition duration.
func (c *Client) ChangeColor(ctx context.Context, transform func(lifx.HSBK) lifx.HSBK, duration time.Duration) error {
	color, err := c.GetColor(ctx)
	if err != nil {
		return err
	}
	return c.SetColor(ctx, transform(color), duration)
}

func (c *Client) awaitReply(ctx context.Context, seq uint8, want lifx.MessageType) error {
	_, err := c.receive(ctx, seq, want)
	return err
}

// receive drains datagrams until one matches our source, the request
// sequence and the wanted type, or the deadline passes. Unrelated traffic
// (other clients on the LAN, late replies) is skipped, not an error.
func (c *Client) receive(ctx context.Context, seq uint8, want lifx.MessageType) (lifx.Payload, error) {
	deadline := time.Now().Add(c.roundTripTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	buf := make([]byte, 1024)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, fmt.Errorf("%w waiting for %s", transport.ErrReceiveTimeout, want)
		}

		n, err := c.conn.Receive(buf, remaining)
		if err != nil {
			return nil, err
		}

		header, payload, err := lifx.Decode(buf[:n])
		if err != nil {
			log.Debug().Err(err).Msg("Skipping undecodable datagram")
			continue
		}
		if header.Source != c.source || header.Sequence != seq {
			continue
		}
		switch payload.(type) {
		case lifx.LightState:
			if want != lifx.TypeLightState {
				return nil, fmt.Errorf("%w: %T", ErrUnexpectedReply, payload)
			}
		case lifx.Acknowledgement:
			if want != lifx.TypeAcknowledgement {
				return nil, fmt.Errorf("%w: %T", ErrUnexpectedReply, payload)
			}
		default:
			return nil, fmt.Errorf("%w: %T", ErrUnexpectedReply, payload)
		}
		return payload, nil
	}
}
