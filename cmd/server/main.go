package main

import (
	"context"

	"github.com/alecthomas/kong"

	"github.com/keymint/keymint/cmd/server/internal/commands"
)

var (
	version = "dev"
	cli     struct {
		Debug    bool `help:"Enable debug mode."`
		Version  kong.VersionFlag
		Serve    commands.ServeCmd    `cmd:"" help:"Start the license validation server"`
		Watchdog commands.WatchdogCmd `cmd:"" help:"Run the server under the restarting supervisor"`
	}
)

func main() {
	ctx := context.Background()
	cmd := kong.Parse(&cli,
		kong.Vars{
			"version": version,
		},
		kong.BindTo(ctx, (*context.Context)(nil)))
	err := cmd.Run(&commands.Globals{Debug: cli.Debug, Version: version})
	cmd.FatalIfErrorf(err)
}
