// Package transport owns the UDP socket to the bulb. Each datagram is
// independent; there is no persistent connection state beyond the socket
// itself.
package transport

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/motiond/internal/lifx"
)

var (
	// ErrSendFailed wraps any network error on the outgoing path.
	ErrSendFailed = errors.New("send failed")
	// ErrReceiveTimeout means no datagram arrived within the timeout.
	ErrReceiveTimeout = errors.New("receive timeout")
)

// Conn is a connected UDP socket to a single bulb. It is the only component
// that touches the socket.
type Conn struct {
	conn        net.Conn
	sendTimeout time.Duration
}

// Dial connects to the bulb at address. A missing port defaults to the LIFX
// LAN port. The send timeout bounds every outgoing write so a slow network
// path cannot stall the caller.
func Dial(address string, sendTimeout time.Duration) (*Conn, error) {
	if _, _, err := net.SplitHostPort(address); err != nil {
		address = net.JoinHostPort(address, strconv.Itoa(lifx.Port))
	}
	if sendTimeout == 0 {
		sendTimeout = 2 * time.Second
	}

	conn, err := net.Dial("udp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to dial bulb at %s: %w", address, err)
	}

	log.Debug().Str("address", address).Msg("Bulb socket opened")

	return &Conn{conn: conn, sendTimeout: sendTimeout}, nil
}

// Send writes one datagram to the bulb. Fire-and-forget: failures are
// reported, never retried here. Retry policy belongs to the controller.
func (c *Conn) Send(packet []byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.sendTimeout)); err != nil {
		return fmt.Errorf("%w: %v", ErrSendFailed, err)
	}
	if _, err := c.conn.Write(packet); err != nil {
		return fmt.Errorf("%w: %v", ErrSendFailed, err)
	}
	return nil
}

// Receive blocks up to timeout waiting for one reply datagram and appends
// nothing: it fills buf and returns the number of bytes read.
func (c *Conn) Receive(buf []byte, timeout time.Duration) (int, error) {
	if err := c.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return 0, err
	}
	n, err := c.conn.Read(buf)
	if err != nil {
		var nerr net.Error
		if errors.As(err, &nerr) && nerr.Timeout() {
			return 0, fmt.Errorf("%w after %s", ErrReceiveTimeout, timeout)
		}
		return 0, err
	}
	return n, nil
}

// LocalAddr returns the socket's local address.
func (c *Conn) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

// Close releases the socket.
func (c *Conn) Close() error {
	return c.conn.Close()
}
