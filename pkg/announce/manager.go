package announce

import (
	"context"
	"errors"
	"net/netip"
	"sync"
	"time"

	"github.com/avast/retry-go"
	"github.com/bits-and-blooms/bitset"
	"github.com/tevino/abool/v2"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/anivanovic/gotrack/pkg/stats"
	"github.com/anivanovic/gotrack/pkg/tracker"
)

var (
	ErrNoTrackerAnswered = errors.New("announce: no tracker answered")
	ErrDone              = errors.New("announce: manager already run")
)

type Config struct {
	Tracker tracker.Config
	// Attempts is number of whole connect/announce cycles per tracker.
	Attempts   uint
	RetryDelay time.Duration
	// Rate limits session starts per second, zero means unlimited.
	Rate  float64
	Burst int
}

func DefaultConfig() Config {
	return Config{
		Tracker:    tracker.DefaultConfig(),
		Attempts:   3,
		RetryDelay: time.Second,
		Rate:       10,
		Burst:      5,
	}
}

type TrackerResult struct {
	URL      string
	Attempts uint
	Interval time.Duration
	Leechers uint32
	Seeders  uint32
	Peers    []netip.AddrPort
	Err      error
}

func (r TrackerResult) Skipped() bool {
	return errors.Is(r.Err, tracker.ErrUnsupportedScheme)
}

type Result struct {
	Trackers []TrackerResult
	// Peers from all trackers without duplicates, in order of discovery.
	Peers []netip.AddrPort
}

func (r *Result) Announced() int {
	n := 0
	for _, t := range r.Trackers {
		if t.Err == nil {
			n++
		}
	}
	return n
}

// Manager announces torrent to all of its trackers concurrently, one session
// per tracker url, and gathers peers they return.
type Manager struct {
	log     *zap.Logger
	cfg     Config
	d       tracker.Dispatcher
	torrent tracker.Torrent
	urls    []string
	limiter *rate.Limiter
	stats   *stats.Stats

	poolMu   sync.Mutex
	peerPool map[netip.AddrPort]struct{}
	peers    []netip.AddrPort
	finished *bitset.BitSet

	sessMu   sync.Mutex
	sessions map[*tracker.Session]struct{}

	done *abool.AtomicBool
}

func NewMng(
	torrent tracker.Torrent,
	urls []string,
	d tracker.Dispatcher,
	cfg Config,
	st *stats.Stats,
	log *zap.Logger,
) *Manager {
	limit := rate.Inf
	if cfg.Rate > 0 {
		limit = rate.Limit(cfg.Rate)
	}
	if cfg.Attempts == 0 {
		cfg.Attempts = 1
	}
	if st == nil {
		st = stats.NewStats(len(urls))
	}
	cfg.Tracker.Dial = countingDial(cfg.Tracker.Dial, st)

	return &Manager{
		log:      log.Named("announce"),
		cfg:      cfg,
		d:        d,
		torrent:  torrent,
		urls:     urls,
		limiter:  rate.NewLimiter(limit, max(cfg.Burst, 1)),
		stats:    st,
		peerPool: make(map[netip.AddrPort]struct{}, 100),
		finished: bitset.New(uint(len(urls))),
		sessions: make(map[*tracker.Session]struct{}),
		done:     abool.New(),
	}
}

// Run announces to every tracker and returns once all of them answered or
// gave up. Failure of one tracker does not affect others.
func (mng *Manager) Run(ctx context.Context) (*Result, error) {
	if !mng.done.SetToIf(false, true) {
		return nil, ErrDone
	}
	mng.log.Info("trackers", zap.Strings("urls", mng.urls))

	results := make([]TrackerResult, len(mng.urls))
	var wg sync.WaitGroup
	for i, url := range mng.urls {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = mng.runTracker(ctx, url)
			mng.finish(uint(i), results[i])
		}()
	}
	wg.Wait()

	res := &Result{Trackers: results, Peers: mng.Peers()}
	if err := ctx.Err(); err != nil {
		return res, err
	}
	if res.Announced() == 0 {
		return res, ErrNoTrackerAnswered
	}
	return res, nil
}

func (mng *Manager) runTracker(ctx context.Context, url string) TrackerResult {
	tr := TrackerResult{URL: url}
	err := retry.Do(
		func() error {
			tr.Attempts++
			res, err := mng.announceOnce(ctx, url)
			if err != nil {
				return err
			}
			tr.Interval = res.Interval
			tr.Leechers = res.Leechers
			tr.Seeders = res.Seeders
			tr.Peers = res.Peers
			return nil
		},
		retry.LastErrorOnly(true),
		retry.RetryIf(retryable),
		retry.OnRetry(func(n uint, err error) {
			mng.log.Warn("failed tracker announce",
				zap.Error(err),
				zap.String("url", url),
				zap.Uint("attempt", n+1))
		}),
		retry.Attempts(mng.cfg.Attempts),
		retry.Delay(mng.cfg.RetryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.Context(ctx),
	)
	tr.Err = err
	return tr
}

func (mng *Manager) announceOnce(ctx context.Context, url string) (*tracker.AnnounceResult, error) {
	if err := mng.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	s, err := tracker.NewSession(url, mng.torrent, mng.cfg.Tracker, mng.d, mng.log)
	if err != nil {
		return nil, err
	}
	mng.track(s)
	defer func() {
		mng.untrack(s)
		if err := s.Close(); err != nil {
			mng.log.Debug("error closing tracker session", zap.Error(err), zap.String("url", url))
		}
	}()

	if err := s.Start(ctx); err != nil {
		return nil, err
	}
	return s.Wait(ctx)
}

// retryable excludes failures another cycle cannot fix.
func retryable(err error) bool {
	var trackerErr *tracker.TrackerError
	switch {
	case errors.As(err, &trackerErr),
		errors.Is(err, tracker.ErrUnsupportedScheme),
		errors.Is(err, tracker.ErrMissingPort),
		errors.Is(err, tracker.ErrSessionClosed),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return false
	default:
		return true
	}
}

func (mng *Manager) finish(i uint, tr TrackerResult) {
	switch {
	case tr.Err == nil:
		mng.stats.AddAnnounced()
		mng.log.Info("tracker sent peers",
			zap.String("url", tr.URL),
			zap.Int("peers", len(tr.Peers)))
	case tr.Skipped():
		mng.stats.AddFailed()
		mng.log.Info("skipping tracker", zap.String("url", tr.URL), zap.Error(tr.Err))
	default:
		mng.stats.AddFailed()
		mng.log.Warn("tracker announce failed", zap.String("url", tr.URL), zap.Error(tr.Err))
	}

	mng.poolMu.Lock()
	defer mng.poolMu.Unlock()
	mng.finished.Set(i)
	for _, p := range tr.Peers {
		mng.addPeer(p)
	}
	mng.stats.SetPeers(len(mng.peers))
}

// addPeer must be called with poolMu held.
func (mng *Manager) addPeer(p netip.AddrPort) bool {
	if _, ok := mng.peerPool[p]; ok {
		return false
	}
	mng.peerPool[p] = struct{}{}
	mng.peers = append(mng.peers, p)
	return true
}

func (mng *Manager) Peers() []netip.AddrPort {
	mng.poolMu.Lock()
	defer mng.poolMu.Unlock()
	return append([]netip.AddrPort(nil), mng.peers...)
}

// Finished returns number of trackers that answered or gave up.
func (mng *Manager) Finished() uint {
	mng.poolMu.Lock()
	defer mng.poolMu.Unlock()
	return mng.finished.Count()
}

func (mng *Manager) Stats() *stats.Stats {
	return mng.stats
}

func (mng *Manager) track(s *tracker.Session) {
	mng.sessMu.Lock()
	defer mng.sessMu.Unlock()
	mng.sessions[s] = struct{}{}
}

func (mng *Manager) untrack(s *tracker.Session) {
	mng.sessMu.Lock()
	defer mng.sessMu.Unlock()
	delete(mng.sessions, s)
}

// Close closes sessions still in flight, their waiting cycles fail with
// tracker.ErrSessionClosed.
func (mng *Manager) Close() error {
	mng.sessMu.Lock()
	defer mng.sessMu.Unlock()

	var err error
	for s := range mng.sessions {
		err = multierr.Append(err, s.Close())
	}
	return err
}
