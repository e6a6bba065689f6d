package stats

import (
	"math"
	"sync/atomic"
	"time"
)

// Stats counts progress of announcing to torrent trackers. Safe for
// concurrent use.
type Stats struct {
	start    time.Time
	trackers uint64

	announced uint64
	failed    uint64
	peers     uint64
	sent      uint64
	received  uint64
}

func NewStats(trackers int) *Stats {
	return &Stats{
		start:    time.Now(),
		trackers: uint64(trackers),
	}
}

func (ts *Stats) AddAnnounced() {
	atomic.AddUint64(&ts.announced, 1)
}

func (ts *Stats) AddFailed() {
	atomic.AddUint64(&ts.failed, 1)
}

func (ts *Stats) SetPeers(n int) {
	atomic.StoreUint64(&ts.peers, uint64(n))
}

func (ts *Stats) AddSent(size int) {
	atomic.AddUint64(&ts.sent, uint64(size))
}

func (ts *Stats) AddReceived(size int) {
	atomic.AddUint64(&ts.received, uint64(size))
}

func (ts *Stats) Trackers() uint64 {
	return ts.trackers
}

func (ts *Stats) Announced() uint64 {
	return atomic.LoadUint64(&ts.announced)
}

func (ts *Stats) Failed() uint64 {
	return atomic.LoadUint64(&ts.failed)
}

func (ts *Stats) Peers() uint64 {
	return atomic.LoadUint64(&ts.peers)
}

func (ts *Stats) Sent() uint64 {
	return atomic.LoadUint64(&ts.sent)
}

func (ts *Stats) Received() uint64 {
	return atomic.LoadUint64(&ts.received)
}

func (ts *Stats) Elapsed() time.Duration {
	return time.Since(ts.start)
}

// PercentCompleted is share of trackers that either answered or gave up.
func (ts *Stats) PercentCompleted() int {
	if ts.trackers == 0 {
		return 0
	}

	finished := ts.Announced() + ts.Failed()
	return int(math.Round((float64(finished) / float64(ts.trackers)) * 100.0))
}
