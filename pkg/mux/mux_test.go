package mux

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

const waitFor = time.Second * 2

type fakeSocket struct {
	packets chan []byte
	failure chan error
	closed  chan struct{}
	once    sync.Once
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{
		packets: make(chan []byte, 16),
		failure: make(chan error, 1),
		closed:  make(chan struct{}),
	}
}

func (s *fakeSocket) Read(buf []byte) (int, error) {
	select {
	case p := <-s.packets:
		return copy(buf, p), nil
	case err := <-s.failure:
		return 0, err
	case <-s.closed:
		return 0, net.ErrClosed
	}
}

func (s *fakeSocket) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

func (s *fakeSocket) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

type recordingHandler struct {
	mu      sync.Mutex
	packets []string
	errs    []error
	ticks   int
	panics  bool
}

func (h *recordingHandler) HandlePacket(data []byte) {
	if h.panics {
		panic("bad packet")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.packets = append(h.packets, string(data))
}

func (h *recordingHandler) HandleError(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.errs = append(h.errs, err)
}

func (h *recordingHandler) Tick(time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ticks++
}

func (h *recordingHandler) received() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.packets...)
}

func (h *recordingHandler) tickCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ticks
}

func (h *recordingHandler) errors() []error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]error(nil), h.errs...)
}

func startMux(t *testing.T, log *zap.Logger) (*Multiplexer, <-chan error) {
	t.Helper()

	m := New(log, WithPollInterval(time.Millisecond*10))
	runErr := make(chan error, 1)
	go func() { runErr <- m.Run(context.Background()) }()
	t.Cleanup(func() { m.Close() })
	// loop is running once a call goes through
	require.NoError(t, m.Do(context.Background(), func() {}))
	return m, runErr
}

func TestMultiplexer_RoutesPacketsToOwner(t *testing.T) {
	t.Parallel()

	m, _ := startMux(t, zaptest.NewLogger(t))
	first, second := newFakeSocket(), newFakeSocket()
	h1, h2 := &recordingHandler{}, &recordingHandler{}
	require.NoError(t, m.Register(first, h1))
	require.NoError(t, m.Register(second, h2))

	first.packets <- []byte("one")
	second.packets <- []byte("two")
	first.packets <- []byte("three")

	assert.Eventually(t, func() bool { return len(h1.received()) == 2 }, waitFor, time.Millisecond)
	assert.Eventually(t, func() bool { return len(h2.received()) == 1 }, waitFor, time.Millisecond)
	assert.Equal(t, []string{"one", "three"}, h1.received())
	assert.Equal(t, []string{"two"}, h2.received())
}

func TestMultiplexer_TicksRegisteredHandlers(t *testing.T) {
	t.Parallel()

	m, _ := startMux(t, zaptest.NewLogger(t))
	sock := newFakeSocket()
	h := &recordingHandler{}
	require.NoError(t, m.Register(sock, h))

	assert.Eventually(t, func() bool { return h.tickCount() >= 3 }, waitFor, time.Millisecond)

	require.True(t, m.Unregister(sock))
	// let an in-flight tick finish
	require.NoError(t, m.Do(context.Background(), func() {}))
	ticks := h.tickCount()
	time.Sleep(time.Millisecond * 50)
	assert.Equal(t, ticks, h.tickCount())
}

func TestMultiplexer_DiscardsPacketsAfterUnregister(t *testing.T) {
	t.Parallel()

	m, _ := startMux(t, zaptest.NewLogger(t))
	sock := newFakeSocket()
	h := &recordingHandler{}
	require.NoError(t, m.Register(sock, h))
	require.True(t, m.Unregister(sock))

	sock.packets <- []byte("late")
	time.Sleep(time.Millisecond * 50)
	assert.Empty(t, h.received())
}

func TestMultiplexer_ReadErrorReported(t *testing.T) {
	t.Parallel()

	m, _ := startMux(t, zaptest.NewLogger(t))
	sock := newFakeSocket()
	h := &recordingHandler{}
	require.NoError(t, m.Register(sock, h))

	boom := errors.New("connection refused")
	sock.failure <- boom
	assert.Eventually(t, func() bool { return len(h.errors()) == 1 }, waitFor, time.Millisecond)
	assert.ErrorIs(t, h.errors()[0], boom)
}

func TestMultiplexer_RecoversHandlerPanic(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.ErrorLevel)
	m, _ := startMux(t, zap.New(core))

	bad, good := newFakeSocket(), newFakeSocket()
	badHandler, goodHandler := &recordingHandler{panics: true}, &recordingHandler{}
	require.NoError(t, m.Register(bad, badHandler))
	require.NoError(t, m.Register(good, goodHandler))

	bad.packets <- []byte("boom")
	assert.Eventually(t, bad.isClosed, waitFor, time.Millisecond)
	_, ok := m.Registry().Lookup(bad)
	assert.False(t, ok)
	assert.Equal(t, 1, logs.FilterMessage("recovered handler panic, socket unregistered").Len())

	good.packets <- []byte("still running")
	assert.Eventually(t, func() bool { return len(goodHandler.received()) == 1 }, waitFor, time.Millisecond)
}

func TestMultiplexer_Do(t *testing.T) {
	t.Parallel()

	m, _ := startMux(t, zaptest.NewLogger(t))

	called := false
	require.NoError(t, m.Do(context.Background(), func() { called = true }))
	assert.True(t, called)

	// a panicking call does not stop the loop
	require.NoError(t, m.Do(context.Background(), func() { panic("call") }))
	require.NoError(t, m.Do(context.Background(), func() {}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, m.Do(ctx, func() { select {} }), context.Canceled)
}

func TestMultiplexer_Close(t *testing.T) {
	t.Parallel()

	m, runErr := startMux(t, zaptest.NewLogger(t))
	first, second := newFakeSocket(), newFakeSocket()
	require.NoError(t, m.Register(first, &recordingHandler{}))
	require.NoError(t, m.Register(second, &recordingHandler{}))

	require.NoError(t, m.Close())
	assert.True(t, first.isClosed())
	assert.True(t, second.isClosed())
	assert.Equal(t, 0, m.Registry().Len())

	select {
	case err := <-runErr:
		assert.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("run did not return after close")
	}

	assert.ErrorIs(t, m.Register(newFakeSocket(), &recordingHandler{}), ErrClosed)
	assert.ErrorIs(t, m.Do(context.Background(), func() {}), ErrClosed)
	assert.ErrorIs(t, m.Run(context.Background()), ErrClosed)
	assert.NoError(t, m.Close())
}

func TestMultiplexer_RunTwice(t *testing.T) {
	t.Parallel()

	m, _ := startMux(t, zaptest.NewLogger(t))
	require.NoError(t, m.Do(context.Background(), func() {}))
	assert.ErrorIs(t, m.Run(context.Background()), ErrAlreadyRunning)
}

func TestMultiplexer_RunStopsWithContext(t *testing.T) {
	t.Parallel()

	m := New(zaptest.NewLogger(t))
	defer m.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond*20)
	defer cancel()
	assert.ErrorIs(t, m.Run(ctx), context.DeadlineExceeded)
}

func TestMultiplexer_DeliversLargeDatagram(t *testing.T) {
	t.Parallel()

	server, err := net.ListenPacket("udp4", "127.0.0.1:0")
	require.NoError(t, err)
	defer server.Close()
	client, err := net.Dial("udp4", server.LocalAddr().String())
	require.NoError(t, err)

	m, _ := startMux(t, zaptest.NewLogger(t))
	h := &recordingHandler{}
	require.NoError(t, m.Register(client, h))

	// announce header followed by 400 compact peers
	payload := make([]byte, 20+400*6)
	for i := range payload {
		payload[i] = byte(i)
	}
	_, err = server.WriteTo(payload, client.LocalAddr())
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return len(h.received()) == 1 }, waitFor, time.Millisecond)
	assert.Equal(t, string(payload), h.received()[0])
	assert.Empty(t, h.errors())
}

func TestMultiplexer_RegisterRacingClose(t *testing.T) {
	t.Parallel()

	for range 50 {
		m := New(zaptest.NewLogger(t))
		go m.Run(context.Background())

		socks := make([]*fakeSocket, 8)
		registered := make([]bool, len(socks))
		var wg sync.WaitGroup
		for i := range socks {
			socks[i] = newFakeSocket()
			wg.Add(1)
			go func() {
				defer wg.Done()
				registered[i] = m.Register(socks[i], &recordingHandler{}) == nil
			}()
		}
		require.NoError(t, m.Close())
		wg.Wait()

		for i, sock := range socks {
			if registered[i] {
				assert.True(t, sock.isClosed(), "socket registered before close must be closed")
			}
		}
		assert.Equal(t, 0, m.Registry().Len())
	}
}
