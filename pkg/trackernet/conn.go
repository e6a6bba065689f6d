package trackernet

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"time"
)

const (
	WriteTimeout = time.Second * 5
	DialTimeout  = time.Second * 5

	// MaxDatagramSize is the largest UDP payload over IPv4. A smaller read
	// buffer silently truncates datagrams on a connected socket.
	MaxDatagramSize = 65507
)

var ErrNotIPv4 = errors.New("trackernet: tracker does not resolve to an IPv4 address")

// Conn is a connected UDP socket bound to a single tracker.
type Conn struct {
	// Underlaying UDP connection.
	c net.Conn
	// Timeout used when writing on this connection.
	timeout time.Duration
	remote  netip.AddrPort
}

// Dial resolves host ("host:port") to an IPv4 address and opens connected
// UDP socket to it. Reads are not bounded by deadline, the reader goroutine
// owns them until Close.
func Dial(ctx context.Context, host string) (*Conn, error) {
	d := net.Dialer{Timeout: DialTimeout}
	conn, err := d.DialContext(ctx, "udp4", host)
	if err != nil {
		return nil, fmt.Errorf("trackernet: dial %s: %w", host, err)
	}

	remote, err := netip.ParseAddrPort(conn.RemoteAddr().String())
	if err != nil || !remote.Addr().Unmap().Is4() {
		conn.Close()
		return nil, ErrNotIPv4
	}

	return NewConn(conn, WriteTimeout), nil
}

// NewConn wraps already connected socket.
func NewConn(c net.Conn, timeout time.Duration) *Conn {
	remote, _ := netip.ParseAddrPort(c.RemoteAddr().String())
	return &Conn{
		c:       c,
		timeout: timeout,
		remote:  netip.AddrPortFrom(remote.Addr().Unmap(), remote.Port()),
	}
}

// Write sends one datagram.
// Write deadline is set to Conn.timeout
func (c *Conn) Write(data []byte) error {
	if err := c.c.SetWriteDeadline(time.Now().Add(c.timeout)); err != nil {
		return err
	}
	n, err := c.c.Write(data)
	if err != nil {
		return err
	}
	if n != len(data) {
		return fmt.Errorf("trackernet: short write %d of %d bytes", n, len(data))
	}
	return nil
}

// Read blocks until next datagram arrives or the socket is closed.
func (c *Conn) Read(buf []byte) (int, error) {
	return c.c.Read(buf)
}

func (c *Conn) RemoteAddr() netip.AddrPort {
	return c.remote
}

func (c *Conn) Close() error {
	return c.c.Close()
}
