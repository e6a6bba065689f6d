package printer

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"code.cloudfoundry.org/bytefmt"

	"github.com/anivanovic/gotrack/pkg/announce"
	"github.com/anivanovic/gotrack/pkg/metainfo"
)

// Announce prints per tracker status followed by the gathered peers.
func Announce(p Printer, res *announce.Result) {
	w := tabwriter.NewWriter(p.Out(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TRACKER\tSTATUS\tATTEMPTS\tINTERVAL\tSEEDERS\tLEECHERS\tPEERS")
	for _, t := range res.Trackers {
		switch {
		case t.Err == nil:
			fmt.Fprintf(w, "%s\tok\t%d\t%s\t%d\t%d\t%d\n",
				t.URL, t.Attempts, t.Interval, t.Seeders, t.Leechers, len(t.Peers))
		case t.Skipped():
			fmt.Fprintf(w, "%s\tskipped\t-\t-\t-\t-\t-\n", t.URL)
		default:
			fmt.Fprintf(w, "%s\tfailed: %v\t%d\t-\t-\t-\t-\n", t.URL, t.Err, t.Attempts)
		}
	}
	w.Flush()

	p.Infof("\n%d unique peers from %d of %d trackers\n", len(res.Peers), res.Announced(), len(res.Trackers))
	for _, peer := range res.Peers {
		p.Info(peer.String())
	}
}

func Metainfo(p Printer, m *metainfo.Metainfo) {
	w := tabwriter.NewWriter(p.Out(), 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "name:\t%s\n", m.Info.Name)
	fmt.Fprintf(w, "size:\t%s\n", bytefmt.ByteSize(uint64(m.TotalLength())))
	fmt.Fprintf(w, "pieces:\t%d x %s\n", m.PieceCount(), bytefmt.ByteSize(uint64(m.Info.PieceLength)))
	if len(m.Info.Files) > 0 {
		fmt.Fprintf(w, "files:\t%d\n", len(m.Info.Files))
	}
	if m.Info.Private {
		fmt.Fprintf(w, "private:\tyes\n")
	}
	fmt.Fprintf(w, "info hash:\t%s\n", m.InfoHash)
	if !m.Canonical() {
		fmt.Fprintf(w, "canonical info hash:\t%s\n", m.CanonicalInfoHash)
	}
	if m.Comment != "" {
		fmt.Fprintf(w, "comment:\t%s\n", m.Comment)
	}
	if m.CreatedBy != "" {
		fmt.Fprintf(w, "created by:\t%s\n", m.CreatedBy)
	}
	fmt.Fprintf(w, "trackers:\t%s\n", strings.Join(m.Trackers(), "\n\t"))
	w.Flush()
}
