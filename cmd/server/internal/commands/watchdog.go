package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/keymint/keymint/internal/config"
	"github.com/keymint/keymint/internal/logger"
	"github.com/keymint/keymint/internal/watchdog"
)

type WatchdogCmd struct {
	Interval time.Duration `help:"how long each server process runs before being replaced" default:"10m" env:"KEYMINT_WATCHDOG_INTERVAL"`
	Grace    time.Duration `help:"SIGTERM to SIGKILL grace period for the child" default:"10s" env:"KEYMINT_WATCHDOG_GRACE"`
	Config   string        `help:"path to YAML config file; also forwarded to the child" default:"" env:"KEYMINT_CONFIG"`

	ServeArgs []string `arg:"" optional:"" passthrough:"" help:"Extra arguments forwarded to the serve command."`
}

func (c *WatchdogCmd) Run(globals *Globals) error {
	log := logger.Setup(globals.Debug)

	if c.Config != "" {
		cfg, err := config.Load(c.Config)
		if err != nil {
			return err
		}
		if cfg.Watchdog.Interval != 0 {
			c.Interval = cfg.Watchdog.Interval.Std()
		}
		if cfg.Watchdog.Grace != 0 {
			c.Grace = cfg.Watchdog.Grace.Std()
		}
	}

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to resolve own executable: %w", err)
	}

	command := []string{exe, "serve"}
	if globals.Debug {
		command = append(command, "--debug")
	}
	if c.Config != "" {
		command = append(command, "--config", c.Config)
	}
	command = append(command, c.ServeArgs...)

	s, err := watchdog.New(command,
		watchdog.WithInterval(c.Interval),
		watchdog.WithGrace(c.Grace),
	)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(log.WithContext(context.Background()), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info().
		Dur("interval", c.Interval).
		Strs("command", command).
		Msg("Starting supervisor")

	err = s.Run(ctx)
	if errors.Is(err, context.Canceled) {
		// Shut down by signal.
		return nil
	}
	return err
}
