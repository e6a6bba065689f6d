package stats

import (
	"fmt"
	"io"
	"time"

	"code.cloudfoundry.org/bytefmt"
	"github.com/gosuri/uilive"
)

type ProgressPrinter struct {
	stats *Stats
	w     *uilive.Writer

	stop chan struct{}
	done chan struct{}
}

func NewProgressPrinter(stats *Stats, out io.Writer) *ProgressPrinter {
	w := uilive.New()
	w.Out = out
	p := &ProgressPrinter{
		stats: stats,
		w:     w,
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	p.w.Start()
	return p
}

// Run prints progress every interval until Close.
func (pp *ProgressPrinter) Run(interval time.Duration) {
	defer close(pp.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			pp.Print()
		case <-pp.stop:
			pp.Print()
			return
		}
	}
}

func (pp *ProgressPrinter) Close() {
	close(pp.stop)
	<-pp.done
	pp.w.Stop()
}

func (pp *ProgressPrinter) Print() {
	_, _ = fmt.Fprint(pp.w, progressBar(pp.stats.PercentCompleted(), 20))
	_, _ = fmt.Fprintf(
		pp.w,
		" trackers (%d/%d), failed (%d), peers (%d), sent (%s), received (%s), elapsed (%s)\n",
		pp.stats.Announced(),
		pp.stats.Trackers(),
		pp.stats.Failed(),
		pp.stats.Peers(),
		bytefmt.ByteSize(pp.stats.Sent()),
		bytefmt.ByteSize(pp.stats.Received()),
		pp.stats.Elapsed().Round(time.Millisecond),
	)
	pp.w.Flush()
}
