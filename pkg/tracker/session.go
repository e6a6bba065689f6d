package tracker

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/netip"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jpillora/backoff"
	"github.com/tevino/abool/v2"
	"go.uber.org/zap"

	"github.com/anivanovic/gotrack"
	"github.com/anivanovic/gotrack/pkg/mux"
)

type State int32

const (
	Idle State = iota
	ConnectSent
	Connected
	AnnounceSent
	Announced
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case ConnectSent:
		return "connect sent"
	case Connected:
		return "connected"
	case AnnounceSent:
		return "announce sent"
	case Announced:
		return "announced"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Dispatcher owns the event loop sessions are driven by. *mux.Multiplexer
// implements it.
type Dispatcher interface {
	Register(sock mux.Socket, h mux.Handler) error
	Unregister(sock mux.Socket) bool
	Do(ctx context.Context, fn func()) error
}

// Torrent is what a session announces.
type Torrent struct {
	InfoHash gotrack.InfoHash
	PeerID   gotrack.PeerID
	Data     gotrack.AnnounceData
}

type AnnounceResult struct {
	Interval time.Duration
	Leechers uint32
	Seeders  uint32
	Peers    []netip.AddrPort
}

// cycle is one connect/announce round awaited by Wait.
type cycle struct {
	done   chan struct{}
	once   sync.Once
	result *AnnounceResult
	err    error
}

func newCycle() *cycle {
	return &cycle{done: make(chan struct{})}
}

func (c *cycle) finish(result *AnnounceResult, err error) {
	c.once.Do(func() {
		c.result, c.err = result, err
		close(c.done)
	})
}

// Session is BEP15 client state machine for single tracker. Protocol state
// is touched only from the dispatcher loop: packet handling, ticks and
// functions passed to Dispatcher.Do.
type Session struct {
	id   string
	url  string
	host string
	cfg  Config
	d    Dispatcher
	log  *zap.Logger

	connMu sync.Mutex
	conn   Conn
	state  atomic.Int32
	closed *abool.AtomicBool

	// loop goroutine only
	txID     uint32
	connID   uint64
	connAt   time.Time
	deadline time.Time
	event    gotrack.Event
	key      uint32
	backoff  *backoff.Backoff
	newTxID  func() uint32
	now      func() time.Time

	mu            sync.Mutex
	torrent       Torrent
	cycle         *cycle
	result        *AnnounceResult
	err           error
	mismatches    int
	onStateChange func(from, to State)
}

func NewSession(rawURL string, t Torrent, cfg Config, d Dispatcher, log *zap.Logger) (*Session, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("tracker: parse url %q: %w", rawURL, err)
	}
	if u.Scheme != "udp" {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}
	if u.Port() == "" {
		return nil, fmt.Errorf("%w: %s", ErrMissingPort, rawURL)
	}

	cfg = cfg.withDefaults()
	id := uuid.NewString()
	s := &Session{
		id:      id,
		url:     rawURL,
		host:    u.Host,
		cfg:     cfg,
		d:       d,
		log:     log.With(zap.String("url", rawURL), zap.String("session", id)),
		closed:  abool.New(),
		torrent: t,
		key:     rand.Uint32(),
		backoff: newBackoff(cfg),
		newTxID: rand.Uint32,
		now:     time.Now,
	}
	return s, nil
}

func newBackoff(cfg Config) *backoff.Backoff {
	retries := min(cfg.MaxRetries, 16)
	return &backoff.Backoff{
		Min:    cfg.Timeout,
		Max:    cfg.Timeout * time.Duration(1<<retries),
		Factor: 2,
	}
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) URL() string {
	return s.url
}

func (s *Session) State() State {
	return State(s.state.Load())
}

// Start opens the socket, registers it with dispatcher and begins the first
// announce cycle with event started.
func (s *Session) Start(ctx context.Context) error {
	if err := s.open(ctx); err != nil {
		return err
	}
	return s.Announce(ctx, gotrack.EventStarted)
}

func (s *Session) open(ctx context.Context) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	if s.closed.IsSet() {
		return ErrSessionClosed
	}
	if s.conn != nil {
		return ErrAlreadyStarted
	}

	conn, err := s.cfg.Dial(ctx, s.host)
	if err != nil {
		return &TransportError{Op: "dial", Err: err}
	}
	if err := s.d.Register(conn, s); err != nil {
		conn.Close()
		return fmt.Errorf("tracker: register socket: %w", err)
	}
	s.conn = conn
	s.log.Debug("socket opened")
	return nil
}

// Announce begins new connect/announce cycle. Connection id is reused while
// it is still valid.
func (s *Session) Announce(ctx context.Context, event gotrack.Event) error {
	if s.closed.IsSet() {
		return ErrSessionClosed
	}
	s.connMu.Lock()
	started := s.conn != nil
	s.connMu.Unlock()
	if !started {
		return ErrNotStarted
	}

	var err error
	if doErr := s.d.Do(ctx, func() { err = s.begin(event) }); doErr != nil {
		return doErr
	}
	return err
}

func (s *Session) begin(event gotrack.Event) error {
	switch s.State() {
	case ConnectSent, Connected, AnnounceSent:
		return ErrCycleInProgress
	case Failed:
		return fmt.Errorf("%w: %w", ErrSessionFailed, s.Err())
	}

	s.mu.Lock()
	if s.closed.IsSet() {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	s.cycle = newCycle()
	s.mu.Unlock()

	s.event = event
	s.backoff.Reset()
	if s.connectionValid() {
		s.sendAnnounce()
	} else {
		s.sendConnect()
	}
	return nil
}

func (s *Session) connectionValid() bool {
	return !s.connAt.IsZero() && s.now().Sub(s.connAt) < s.cfg.ConnectionIDTTL
}

func (s *Session) nextTxID() uint32 {
	for {
		if id := s.newTxID(); id != s.txID {
			s.txID = id
			return id
		}
	}
}

func (s *Session) sendConnect() {
	req := connectRequest{
		ProtocolID:    protocolID,
		Action:        actionConnect,
		TransactionID: s.nextTxID(),
	}
	if s.send(req) {
		s.setState(ConnectSent)
		s.log.Debug("connect sent", zap.Uint32("tx", req.TransactionID))
	}
}

func (s *Session) sendAnnounce() {
	if !s.connectionValid() {
		s.log.Debug("connection id expired, reconnecting")
		s.sendConnect()
		return
	}

	s.mu.Lock()
	t := s.torrent
	s.mu.Unlock()

	req := announceRequest{
		ConnectionID:  s.connID,
		Action:        actionAnnounce,
		TransactionID: s.nextTxID(),
		InfoHash:      t.InfoHash,
		PeerID:        t.PeerID,
		Downloaded:    t.Data.Downloaded,
		Left:          t.Data.Left,
		Uploaded:      t.Data.Uploaded,
		Event:         uint32(s.event),
		Key:           s.key,
		NumWant:       s.cfg.NumWant,
		Port:          s.port(t.Data),
	}
	if s.send(req) {
		s.setState(AnnounceSent)
		s.log.Debug("announce sent",
			zap.Uint32("tx", req.TransactionID),
			zap.Stringer("event", s.event))
	}
}

func (s *Session) port(data gotrack.AnnounceData) uint16 {
	if data.Port != 0 {
		return data.Port
	}
	return s.cfg.Port
}

// send writes packet and arms the response deadline.
func (s *Session) send(packet any) bool {
	data, err := encodePacket(packet)
	if err != nil {
		s.fail(fmt.Errorf("tracker: encode request: %w", err))
		return false
	}
	if err := s.conn.Write(data); err != nil {
		s.fail(&TransportError{Op: "write", Err: err})
		return false
	}
	s.deadline = s.now().Add(s.backoff.Duration())
	return true
}

func (s *Session) setState(state State) {
	old := State(s.state.Swap(int32(state)))
	if old == state {
		return
	}

	s.mu.Lock()
	fn := s.onStateChange
	s.mu.Unlock()
	if fn != nil {
		fn(old, state)
	}
}

// HandlePacket processes one datagram from tracker.
func (s *Session) HandlePacket(data []byte) {
	if s.closed.IsSet() {
		return
	}

	header, err := decodeHeader(data)
	if err != nil {
		s.mismatch(err)
		return
	}

	switch header.Action {
	case actionConnect:
		s.onConnect(header, data)
	case actionAnnounce:
		s.onAnnounce(header, data)
	case actionError:
		s.onError(header, data)
	case actionScrape:
		s.log.Debug("scrape response ignored", zap.Uint32("tx", header.TransactionID))
	default:
		s.log.Warn("unknown tracker action", zap.Uint32("action", header.Action))
	}
}

func (s *Session) awaits(state State, header responseHeader) error {
	if s.State() != state {
		return fmt.Errorf("%w: action %d in state %s", ErrProtocolMismatch, header.Action, s.State())
	}
	if header.TransactionID != s.txID {
		return fmt.Errorf("%w: transaction id %d, awaiting %d", ErrProtocolMismatch, header.TransactionID, s.txID)
	}
	return nil
}

func (s *Session) onConnect(header responseHeader, data []byte) {
	if err := s.awaits(ConnectSent, header); err != nil {
		s.mismatch(err)
		return
	}
	res, err := decodeConnect(data)
	if err != nil {
		s.mismatch(err)
		return
	}

	s.connID = res.ConnectionID
	s.connAt = s.now()
	s.backoff.Reset()
	s.setState(Connected)
	s.log.Debug("connected", zap.Uint64("connection id", res.ConnectionID))

	s.sendAnnounce()
}

func (s *Session) onAnnounce(header responseHeader, data []byte) {
	if err := s.awaits(AnnounceSent, header); err != nil {
		s.mismatch(err)
		return
	}
	res, peers, err := decodeAnnounce(data)
	if err != nil {
		if errors.Is(err, ErrProtocolMismatch) {
			s.mismatch(err)
			return
		}
		s.fail(err)
		return
	}

	result := &AnnounceResult{
		Interval: time.Duration(res.Interval) * time.Second,
		Leechers: res.Leechers,
		Seeders:  res.Seeders,
		Peers:    peers,
	}
	s.deadline = time.Time{}
	if s.event == gotrack.EventStarted {
		s.event = gotrack.EventNone
	}

	s.mu.Lock()
	s.result, s.err = result, nil
	c := s.cycle
	s.mu.Unlock()

	s.setState(Announced)
	s.log.Info("tracker announced",
		zap.Duration("interval", result.Interval),
		zap.Uint32("leechers", result.Leechers),
		zap.Uint32("seeders", result.Seeders),
		zap.Int("peers", len(peers)))
	if c != nil {
		c.finish(result, nil)
	}
}

func (s *Session) onError(header responseHeader, data []byte) {
	state := s.State()
	if state != ConnectSent && state != AnnounceSent {
		s.mismatch(fmt.Errorf("%w: error response in state %s", ErrProtocolMismatch, state))
		return
	}
	if err := s.awaits(state, header); err != nil {
		s.mismatch(err)
		return
	}

	s.fail(&TrackerError{Message: string(data[headerSize:])})
}

func (s *Session) mismatch(err error) {
	s.mu.Lock()
	s.mismatches++
	s.mu.Unlock()
	s.log.Debug("response discarded", zap.Error(err))
}

// HandleError is called when reading the socket failed.
func (s *Session) HandleError(err error) {
	if s.closed.IsSet() {
		return
	}
	s.fail(&TransportError{Op: "read", Err: err})
}

// Tick resends pending request once its deadline passed.
func (s *Session) Tick(now time.Time) {
	if s.closed.IsSet() || s.deadline.IsZero() || now.Before(s.deadline) {
		return
	}

	state := s.State()
	if state != ConnectSent && state != AnnounceSent {
		s.deadline = time.Time{}
		return
	}
	if int(s.backoff.Attempt()) > s.cfg.MaxRetries {
		s.fail(fmt.Errorf("%w (%d resends)", ErrTimeout, s.cfg.MaxRetries))
		return
	}

	s.log.Debug("request timed out, resending",
		zap.Stringer("state", state),
		zap.Float64("attempt", s.backoff.Attempt()))
	if state == ConnectSent {
		s.sendConnect()
	} else {
		s.sendAnnounce()
	}
}

func (s *Session) fail(err error) {
	s.deadline = time.Time{}

	s.mu.Lock()
	s.err = err
	c := s.cycle
	s.mu.Unlock()

	s.setState(Failed)
	s.log.Warn("tracker session failed", zap.Error(err))
	if c != nil {
		c.finish(nil, err)
	}
}

// Wait blocks until current announce cycle finishes.
func (s *Session) Wait(ctx context.Context) (*AnnounceResult, error) {
	s.mu.Lock()
	c := s.cycle
	s.mu.Unlock()
	if c == nil {
		return nil, ErrNotStarted
	}

	select {
	case <-c.done:
		return c.result, c.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Peers returns peers from the last successful announce.
func (s *Session) Peers() []netip.AddrPort {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.result == nil {
		return nil
	}
	return append([]netip.AddrPort(nil), s.result.Peers...)
}

func (s *Session) Interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.result == nil {
		return 0
	}
	return s.result.Interval
}

func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Mismatches returns number of discarded responses.
func (s *Session) Mismatches() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mismatches
}

// OnStateChange registers fn called from the loop goroutine on every state
// transition.
func (s *Session) OnStateChange(fn func(from, to State)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onStateChange = fn
}

// UpdateStats sets counters sent with the next announce.
func (s *Session) UpdateStats(data gotrack.AnnounceData) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if data.Downloaded < s.torrent.Data.Downloaded || data.Uploaded < s.torrent.Data.Uploaded {
		return ErrStatsDecreased
	}
	s.torrent.Data = data
	return nil
}

// Close unregisters the socket and closes it. Pending Wait returns
// ErrSessionClosed.
func (s *Session) Close() error {
	if !s.closed.SetToIf(false, true) {
		return nil
	}

	var err error
	s.connMu.Lock()
	if s.conn != nil {
		s.d.Unregister(s.conn)
		err = s.conn.Close()
	}
	s.connMu.Unlock()

	s.mu.Lock()
	c := s.cycle
	s.mu.Unlock()
	if c != nil {
		c.finish(nil, ErrSessionClosed)
	}
	s.log.Debug("session closed")
	return err
}

