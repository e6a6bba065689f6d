package mux

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/tevino/abool/v2"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/anivanovic/gotrack/pkg/trackernet"
)

const (
	DefaultPollInterval = time.Millisecond * 100
	DefaultQueueSize    = 256
)

var (
	ErrClosed         = errors.New("mux: multiplexer closed")
	ErrAlreadyRunning = errors.New("mux: multiplexer already running")
)

// Socket is a datagram source owned by single Handler.
type Socket interface {
	Read(buf []byte) (int, error)
	Close() error
}

// Handler reacts to socket events. Every method is called from the loop
// goroutine, never concurrently.
type Handler interface {
	HandlePacket(data []byte)
	// HandleError reports a read error other than socket close. The
	// socket is no longer read afterwards.
	HandleError(err error)
	Tick(now time.Time)
}

type event struct {
	sock Socket
	data []byte
	err  error
}

type call struct {
	fn   func()
	done chan struct{}
}

type Option func(*Multiplexer)

func WithPollInterval(d time.Duration) Option {
	return func(m *Multiplexer) {
		if d > 0 {
			m.pollInterval = d
		}
	}
}

func WithQueueSize(n int) Option {
	return func(m *Multiplexer) {
		if n > 0 {
			m.queueSize = n
		}
	}
}

// Multiplexer routes datagrams from many sockets to their handlers on one
// goroutine and drives handler deadlines with a ticker.
type Multiplexer struct {
	log      *zap.Logger
	registry *Registry

	pollInterval time.Duration
	queueSize    int

	events chan event
	calls  chan call

	running *abool.AtomicBool
	closed  *abool.AtomicBool
	done    chan struct{}
}

func New(log *zap.Logger, opts ...Option) *Multiplexer {
	m := &Multiplexer{
		log:          log.Named("mux"),
		registry:     NewRegistry(),
		pollInterval: DefaultPollInterval,
		queueSize:    DefaultQueueSize,
		running:      abool.New(),
		closed:       abool.New(),
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.events = make(chan event, m.queueSize)
	m.calls = make(chan call)
	return m
}

func (m *Multiplexer) Registry() *Registry {
	return m.registry
}

// Register starts reading sock and routes its datagrams to h.
// Safe to call while Run is executing. On error the caller keeps ownership
// of sock.
func (m *Multiplexer) Register(sock Socket, h Handler) error {
	if m.closed.IsSet() {
		return ErrClosed
	}
	if err := m.registry.Register(sock, h); err != nil {
		return err
	}
	// Close may have taken its snapshot before the insert.
	if m.closed.IsSet() {
		m.registry.Unregister(sock)
		return ErrClosed
	}

	go m.read(sock)
	return nil
}

// Unregister stops routing events of sock. Socket is not closed, its owner
// is responsible for that.
func (m *Multiplexer) Unregister(sock Socket) bool {
	return m.registry.Unregister(sock)
}

func (m *Multiplexer) read(sock Socket) {
	buf := make([]byte, trackernet.MaxDatagramSize)
	for {
		n, err := sock.Read(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			m.push(event{sock: sock, err: err})
			return
		}

		data := make([]byte, n)
		copy(data, buf[:n])
		if !m.push(event{sock: sock, data: data}) {
			return
		}
	}
}

func (m *Multiplexer) push(ev event) bool {
	select {
	case m.events <- ev:
		return true
	case <-m.done:
		return false
	}
}

// Run dispatches events until ctx is done or Close is called.
func (m *Multiplexer) Run(ctx context.Context) error {
	if m.closed.IsSet() {
		return ErrClosed
	}
	if !m.running.SetToIf(false, true) {
		return ErrAlreadyRunning
	}
	defer m.running.UnSet()

	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	m.log.Debug("event loop started", zap.Duration("poll interval", m.pollInterval))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.done:
			return nil
		case ev := <-m.events:
			m.dispatch(ev)
		case c := <-m.calls:
			m.invoke(c)
		case now := <-ticker.C:
			for sock, h := range m.registry.Handlers() {
				m.safely(sock, func() { h.Tick(now) })
			}
		}
	}
}

func (m *Multiplexer) dispatch(ev event) {
	h, ok := m.registry.Lookup(ev.sock)
	if !ok {
		// unregistered while datagram was queued
		return
	}

	if ev.err != nil {
		m.safely(ev.sock, func() { h.HandleError(ev.err) })
		return
	}
	m.safely(ev.sock, func() { h.HandlePacket(ev.data) })
}

func (m *Multiplexer) invoke(c call) {
	defer close(c.done)
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("recovered panic in loop call", zap.Any("panic", r))
		}
	}()
	c.fn()
}

// safely runs fn and drops the socket from the loop if fn panics.
func (m *Multiplexer) safely(sock Socket, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("recovered handler panic, socket unregistered",
				zap.Any("panic", r),
				zap.String("socket", fmt.Sprintf("%p", sock)))
			if m.registry.Unregister(sock) {
				if err := sock.Close(); err != nil {
					m.log.Warn("error closing socket", zap.Error(err))
				}
			}
		}
	}()
	fn()
}

// Do runs fn on the loop goroutine and waits for it to return. It must not
// be called from a Handler.
func (m *Multiplexer) Do(ctx context.Context, fn func()) error {
	if m.closed.IsSet() {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	c := call{fn: fn, done: make(chan struct{})}
	select {
	case m.calls <- c:
	case <-ctx.Done():
		return ctx.Err()
	case <-m.done:
		return ErrClosed
	}

	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-m.done:
		return ErrClosed
	}
}

// Close stops the loop and closes every registered socket.
func (m *Multiplexer) Close() error {
	if !m.closed.SetToIf(false, true) {
		return nil
	}
	close(m.done)

	var err error
	for sock := range m.registry.Handlers() {
		m.registry.Unregister(sock)
		err = multierr.Append(err, sock.Close())
	}
	return err
}
