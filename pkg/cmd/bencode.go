package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/anivanovic/gotrack/pkg/bencode"
)

type bencodeFlags struct {
	key string
}

func NewBencodeCommand(app *App) *cobra.Command {
	f := &bencodeFlags{}
	cmd := &cobra.Command{
		Use:   "bencode <file>",
		Short: "Decode bencode file",
		Long:  "Decode file in bencode format and print human readable tree of its values",
		Args:  cobra.ExactArgs(1),
		RunE: app.NewCmdRun(func(ctx context.Context, appCtx AppContext, args []string) error {
			return runBencode(ctx, appCtx, args, f)
		}),
	}
	cmd.Flags().StringVarP(&f.key, "key", "k", "", "Print only value under this top level dictionary key")
	return cmd
}

func runBencode(_ context.Context, appCtx AppContext, args []string, f *bencodeFlags) error {
	data, err := readFile(args[0])
	if err != nil {
		return err
	}

	if f.key != "" {
		raw, err := bencode.RawField(data, f.key)
		if err != nil {
			return err
		}
		appCtx.log.Debug("raw field", zap.String("key", f.key), zap.Int("size", len(raw)))
		data = raw
	}

	value, err := bencode.Decode(data)
	if err != nil {
		return err
	}
	appCtx.printer.Info(value.String())
	return nil
}

func readFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file %s: %w", path, err)
	}
	return data, nil
}
