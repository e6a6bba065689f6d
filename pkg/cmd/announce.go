package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/anivanovic/gotrack"
	"github.com/anivanovic/gotrack/pkg/announce"
	"github.com/anivanovic/gotrack/pkg/metainfo"
	"github.com/anivanovic/gotrack/pkg/mux"
	"github.com/anivanovic/gotrack/pkg/printer"
	"github.com/anivanovic/gotrack/pkg/stats"
	"github.com/anivanovic/gotrack/pkg/tracker"
)

var ErrNoTrackers = errors.New("torrent has no trackers")

type announceFlags struct {
	progress bool
}

func NewAnnounceCommand(app *App) *cobra.Command {
	f := &announceFlags{}
	cmd := &cobra.Command{
		Use:   "announce <torrent_file>",
		Short: "Announce torrent to its UDP trackers",
		Long:  "Announce torrent to every UDP tracker listed in torrent file and print peers they return",
		Args:  cobra.ExactArgs(1),
		RunE: app.NewCmdRun(func(ctx context.Context, appCtx AppContext, args []string) error {
			return runAnnounce(ctx, appCtx, args, f)
		}),
	}

	flags := cmd.Flags()
	flags.BoolVar(&f.progress, "progress", false, "Print live announce progress")
	flags.Duration("timeout", 0, "Timeout of the first tracker request, doubled on every resend")
	flags.Int("retries", 0, "Number of request resends before tracker is considered dead")
	flags.Uint("attempts", 0, "Number of whole announce cycles per tracker")
	flags.Uint16P("port", "p", 0, "Port reported to trackers")
	flags.Int32("num-want", 0, "Number of peers requested from tracker, -1 for tracker default")
	_ = app.v.BindPFlag("tracker.timeout", flags.Lookup("timeout"))
	_ = app.v.BindPFlag("tracker.max_retries", flags.Lookup("retries"))
	_ = app.v.BindPFlag("announce.attempts", flags.Lookup("attempts"))
	_ = app.v.BindPFlag("tracker.port", flags.Lookup("port"))
	_ = app.v.BindPFlag("tracker.num_want", flags.Lookup("num-want"))

	return cmd
}

func runAnnounce(ctx context.Context, appCtx AppContext, args []string, f *announceFlags) error {
	m, err := readTorrent(args[0])
	if err != nil {
		return err
	}
	urls := m.Trackers()
	if len(urls) == 0 {
		return ErrNoTrackers
	}

	peerID, err := gotrack.NewPeerID()
	if err != nil {
		return err
	}
	log := appCtx.log.With(zap.Stringer("info hash", m.InfoHash))
	cfg := appCtx.cfg

	mx := mux.New(log, mux.WithPollInterval(cfg.Mux.PollInterval))
	defer func() {
		if err := mx.Close(); err != nil {
			log.Warn("error closing sockets", zap.Error(err))
		}
	}()
	go func() {
		if err := mx.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("event loop stopped", zap.Error(err))
		}
	}()

	st := stats.NewStats(len(urls))
	var pp *stats.ProgressPrinter
	if f.progress {
		pp = stats.NewProgressPrinter(st, appCtx.printer.Out())
		go pp.Run(time.Millisecond * 500)
	}

	torrent := tracker.Torrent{
		InfoHash: m.InfoHash,
		PeerID:   peerID,
		Data: gotrack.AnnounceData{
			Left: uint64(m.TotalLength()),
			Port: cfg.Tracker.Port,
		},
	}
	mng := announce.NewMng(torrent, urls, mx, cfg.AnnounceConfig(), st, log)
	defer mng.Close()

	res, err := mng.Run(ctx)
	if pp != nil {
		pp.Close()
	}
	if res != nil {
		printer.Announce(appCtx.printer, res)
	}
	if err != nil {
		return fmt.Errorf("announce %s: %w", m.Info.Name, err)
	}
	return nil
}

func readTorrent(path string) (*metainfo.Metainfo, error) {
	data, err := readFile(path)
	if err != nil {
		return nil, err
	}
	return metainfo.Parse(data)
}
