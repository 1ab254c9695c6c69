// Package transport provides the byte-stream channel the protocol engine
// runs over. The radio side is either a TCP endpoint or a USB-CDC network
// adapter that looks like one; both present the same stream semantics.
package transport

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/dbehnke/cpslink/pkg/logger"
)

// Channel is a connected byte stream to the radio. ReadFull and WriteAll
// block until satisfied or the channel fails; a failed channel cannot be
// reused. Implementations must deliver writes without coalescing: the
// radio's frame timing is sensitive to batched sends.
type Channel interface {
	// ReadFull reads exactly len(buf) bytes.
	ReadFull(buf []byte) error
	// WriteAll writes all of buf.
	WriteAll(buf []byte) error
	io.Closer
}

// connChannel adapts a net.Conn to the Channel interface.
type connChannel struct {
	conn net.Conn
}

func (c *connChannel) ReadFull(buf []byte) error {
	_, err := io.ReadFull(c.conn, buf)
	return err
}

func (c *connChannel) WriteAll(buf []byte) error {
	for len(buf) > 0 {
		n, err := c.conn.Write(buf)
		if err != nil {
			return err
		}
		buf = buf[n:]
	}
	return nil
}

func (c *connChannel) Close() error {
	return c.conn.Close()
}

// FromConn wraps an already-connected stream (a USB-CDC endpoint, a test
// pipe) as a Channel. The caller is responsible for any no-coalescing
// setup the underlying transport needs.
func FromConn(conn net.Conn) Channel {
	return &connChannel{conn: conn}
}

// Config holds TCP transport configuration
type Config struct {
	Host           string
	Port           int
	ConnectTimeout time.Duration
}

// Dial connects to a radio over TCP. Send coalescing (Nagle) is disabled:
// the radio drops frames that arrive glued to their predecessor.
func Dial(ctx context.Context, cfg Config, log *logger.Logger) (Channel, error) {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	dialer := &net.Dialer{Timeout: cfg.ConnectTimeout}

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to radio at %s: %w", addr, err)
	}

	if tcpConn, ok := conn.(*net.TCPConn); ok {
		if err := tcpConn.SetNoDelay(true); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to disable send coalescing: %w", err)
		}
	}

	log.Info("Connected to radio",
		logger.String("remote", conn.RemoteAddr().String()),
		logger.String("local", conn.LocalAddr().String()))

	return &connChannel{conn: conn}, nil
}
