package announce

import (
	"context"

	"github.com/anivanovic/gotrack/pkg/stats"
	"github.com/anivanovic/gotrack/pkg/tracker"
)

// countingConn reports datagram traffic to stats.
type countingConn struct {
	tracker.Conn
	stats *stats.Stats
}

func (c *countingConn) Read(buf []byte) (int, error) {
	n, err := c.Conn.Read(buf)
	if n > 0 {
		c.stats.AddReceived(n)
	}
	return n, err
}

func (c *countingConn) Write(data []byte) error {
	if err := c.Conn.Write(data); err != nil {
		return err
	}
	c.stats.AddSent(len(data))
	return nil
}

func countingDial(dial tracker.DialFunc, st *stats.Stats) tracker.DialFunc {
	if dial == nil {
		dial = tracker.DialUDP
	}
	return func(ctx context.Context, host string) (tracker.Conn, error) {
		conn, err := dial(ctx, host)
		if err != nil {
			return nil, err
		}
		return &countingConn{Conn: conn, stats: st}, nil
	}
}
