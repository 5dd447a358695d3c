package main

import (
	"context"

	"github.com/alecthomas/kong"

	"github.com/keymint/keymint/cmd/cli/internal/commands"
)

var (
	version = "dev"
	cli     struct {
		Init    commands.InitCmd   `cmd:"" help:"Initialize the license database schema"`
		Issue   commands.IssueCmd  `cmd:"" help:"Issue a new license"`
		List    commands.ListCmd   `cmd:"" help:"List all licenses"`
		Remove  commands.RemoveCmd `cmd:"" help:"Remove a license by id"`
		Count   commands.CountCmd  `cmd:"" help:"Count licenses issued to a company"`
		Debug   bool               `help:"Enable debug mode."`
		Version kong.VersionFlag
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
