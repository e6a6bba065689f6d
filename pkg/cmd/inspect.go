package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/anivanovic/gotrack/pkg/printer"
)

func NewInspectCommand(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect <torrent_file>",
		Short: "Print torrent metadata",
		Long:  "Parse torrent file and print its name, size, info hash and trackers",
		Args:  cobra.ExactArgs(1),
		RunE:  app.NewCmdRun(runInspect),
	}
	return cmd
}

func runInspect(_ context.Context, appCtx AppContext, args []string) error {
	m, err := readTorrent(args[0])
	if err != nil {
		return err
	}

	printer.Metainfo(appCtx.printer, m)
	return nil
}
