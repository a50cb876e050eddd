package main

import (
	"context"
	"errors"
	"os"

	"github.com/whot/papagai/cmd"
	perrors "github.com/whot/papagai/internal/errors"
	"github.com/whot/papagai/internal/ui"
)

// Version information set via ldflags at build time
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	cmd.SetVersionInfo(version, commit, date)
	if err := cmd.Execute(context.Background()); err != nil {
		console := ui.NewConsole(os.Stdout, os.Stderr)
		if errors.Is(err, context.Canceled) {
			console.Error("interrupted")
			os.Exit(130)
		}
		var ce *perrors.ConflictError
		if errors.As(err, &ce) {
			console.Error("%s", ce.Error())
		} else {
			console.Error("%v", err)
		}
		os.Exit(1)
	}
}
