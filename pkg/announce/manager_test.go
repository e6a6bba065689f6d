package announce

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/anivanovic/gotrack"
	"github.com/anivanovic/gotrack/pkg/mux"
	"github.com/anivanovic/gotrack/pkg/stats"
	"github.com/anivanovic/gotrack/pkg/tracker"
)

type trackerBehaviour int

const (
	answer trackerBehaviour = iota
	refuse
	silent
)

// startTracker runs BEP15 tracker on loopback and returns its announce url.
func startTracker(t *testing.T, behaviour trackerBehaviour, peers ...netip.AddrPort) string {
	t.Helper()

	pc, err := net.ListenPacket("udp4", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { pc.Close() })

	var block []byte
	for _, p := range peers {
		ip := p.Addr().As4()
		block = append(block, ip[:]...)
		block = binary.BigEndian.AppendUint16(block, p.Port())
	}

	go func() {
		buf := make([]byte, 2048)
		for {
			n, addr, err := pc.ReadFrom(buf)
			if err != nil {
				return
			}
			if n < 16 || behaviour == silent {
				continue
			}

			action := binary.BigEndian.Uint32(buf[8:12])
			res := binary.BigEndian.AppendUint32(nil, action)
			res = append(res, buf[12:16]...)
			switch {
			case action == 0:
				res = binary.BigEndian.AppendUint64(res, 77)
			case behaviour == refuse:
				res = binary.BigEndian.AppendUint32(nil, 3)
				res = append(res, buf[12:16]...)
				res = append(res, "torrent not registered"...)
			default:
				res = binary.BigEndian.AppendUint32(res, 900)
				res = binary.BigEndian.AppendUint32(res, 1)
				res = binary.BigEndian.AppendUint32(res, uint32(len(peers)))
				res = append(res, block...)
			}
			pc.WriteTo(res, addr)
		}
	}()

	return fmt.Sprintf("udp://%s/announce", pc.LocalAddr())
}

func startMux(t *testing.T, log *zap.Logger) *mux.Multiplexer {
	t.Helper()

	m := mux.New(log, mux.WithPollInterval(time.Millisecond*5))
	go m.Run(context.Background())
	t.Cleanup(func() { m.Close() })
	return m
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Tracker.Timeout = time.Millisecond * 50
	cfg.Tracker.MaxRetries = 1
	cfg.Attempts = 2
	cfg.RetryDelay = time.Millisecond
	cfg.Rate = 0
	return cfg
}

func testTorrent(t *testing.T) tracker.Torrent {
	t.Helper()

	peerID, err := gotrack.NewPeerID()
	require.NoError(t, err)
	return tracker.Torrent{
		InfoHash: gotrack.InfoHash{0xaa},
		PeerID:   peerID,
		Data:     gotrack.AnnounceData{Left: 1024},
	}
}

func TestManager_Run(t *testing.T) {
	t.Parallel()

	p1 := netip.MustParseAddrPort("192.168.1.1:6881")
	p2 := netip.MustParseAddrPort("10.0.0.5:80")
	p3 := netip.MustParseAddrPort("10.0.0.6:51413")

	urls := []string{
		startTracker(t, answer, p1, p2),
		startTracker(t, answer, p2, p3),
		startTracker(t, refuse),
		"http://tracker.test/announce",
	}
	log := zaptest.NewLogger(t)
	st := stats.NewStats(len(urls))
	mng := NewMng(testTorrent(t), urls, startMux(t, log), testConfig(), st, log)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	defer cancel()
	res, err := mng.Run(ctx)
	require.NoError(t, err)

	assert.ElementsMatch(t, []netip.AddrPort{p1, p2, p3}, res.Peers)
	assert.ElementsMatch(t, res.Peers, mng.Peers())
	assert.Equal(t, 2, res.Announced())
	require.Len(t, res.Trackers, 4)

	first := res.Trackers[0]
	assert.NoError(t, first.Err)
	assert.Equal(t, time.Second*900, first.Interval)
	assert.Equal(t, uint32(2), first.Seeders)
	assert.Equal(t, []netip.AddrPort{p1, p2}, first.Peers)

	var trackerErr *tracker.TrackerError
	require.ErrorAs(t, res.Trackers[2].Err, &trackerErr)
	assert.Equal(t, "torrent not registered", trackerErr.Message)
	assert.Equal(t, uint(1), res.Trackers[2].Attempts)

	assert.True(t, res.Trackers[3].Skipped())
	assert.Equal(t, uint(1), res.Trackers[3].Attempts)

	assert.Equal(t, uint(4), mng.Finished())
	assert.Equal(t, uint64(2), st.Announced())
	assert.Equal(t, uint64(2), st.Failed())
	assert.Equal(t, uint64(3), st.Peers())
	assert.Equal(t, 100, st.PercentCompleted())
	// 3 connects and 3 announces
	assert.GreaterOrEqual(t, st.Sent(), uint64(3*16+3*98))
	assert.Positive(t, st.Received())

	_, err = mng.Run(ctx)
	assert.ErrorIs(t, err, ErrDone)
}

func TestManager_NoTrackerAnswered(t *testing.T) {
	t.Parallel()

	log := zaptest.NewLogger(t)
	urls := []string{startTracker(t, silent)}
	mng := NewMng(testTorrent(t), urls, startMux(t, log), testConfig(), nil, log)

	res, err := mng.Run(context.Background())
	assert.ErrorIs(t, err, ErrNoTrackerAnswered)
	require.Len(t, res.Trackers, 1)
	assert.ErrorIs(t, res.Trackers[0].Err, tracker.ErrTimeout)
	assert.Equal(t, uint(2), res.Trackers[0].Attempts)
	assert.Empty(t, res.Peers)
	assert.Equal(t, uint64(1), mng.Stats().Failed())
}

func TestManager_Close(t *testing.T) {
	t.Parallel()

	log := zaptest.NewLogger(t)
	cfg := testConfig()
	cfg.Tracker.Timeout = time.Minute
	mng := NewMng(testTorrent(t), []string{startTracker(t, silent)}, startMux(t, log), cfg, nil, log)

	type runResult struct {
		res *Result
		err error
	}
	done := make(chan runResult, 1)
	go func() {
		res, err := mng.Run(context.Background())
		done <- runResult{res, err}
	}()

	assert.Eventually(t, func() bool {
		mng.sessMu.Lock()
		defer mng.sessMu.Unlock()
		return len(mng.sessions) == 1
	}, time.Second*2, time.Millisecond)
	require.NoError(t, mng.Close())

	select {
	case r := <-done:
		assert.ErrorIs(t, r.err, ErrNoTrackerAnswered)
		assert.ErrorIs(t, r.res.Trackers[0].Err, tracker.ErrSessionClosed)
		assert.Equal(t, uint(1), r.res.Trackers[0].Attempts)
	case <-time.After(time.Second * 2):
		t.Fatal("run did not return after close")
	}
}

func TestManager_ContextCancelled(t *testing.T) {
	t.Parallel()

	log := zaptest.NewLogger(t)
	cfg := testConfig()
	cfg.Tracker.Timeout = time.Minute
	mng := NewMng(testTorrent(t), []string{startTracker(t, silent)}, startMux(t, log), cfg, nil, log)

	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond*50)
	defer cancel()
	_, err := mng.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRetryable(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "timeout", err: tracker.ErrTimeout, want: true},
		{name: "transport", err: &tracker.TransportError{Op: "read", Err: errors.New("refused")}, want: true},
		{name: "malformed", err: fmt.Errorf("x: %w", tracker.ErrMalformedResponse), want: true},
		{name: "tracker error", err: &tracker.TrackerError{Message: "no"}, want: false},
		{name: "unsupported scheme", err: tracker.ErrUnsupportedScheme, want: false},
		{name: "missing port", err: tracker.ErrMissingPort, want: false},
		{name: "closed", err: tracker.ErrSessionClosed, want: false},
		{name: "cancelled", err: context.Canceled, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, retryable(tt.err))
		})
	}
}
