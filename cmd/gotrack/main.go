package main

import (
	"os"

	"github.com/anivanovic/gotrack/pkg/cmd"
	"github.com/anivanovic/gotrack/pkg/printer"
)

func main() {
	if err := cmd.NewApp().Execute(); err != nil {
		printer.NewConsole().Errorf("gotrack: %v\n", err)
		os.Exit(1)
	}
}
