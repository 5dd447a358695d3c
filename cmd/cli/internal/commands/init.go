package commands

import (
	"context"
	"fmt"

	postgresstore "github.com/keymint/keymint/internal/store/postgres"
)

type InitCmd struct {
	DatabaseFlags `embed:""`
}

// Run creates the license schema if it does not exist. Safe to run repeatedly.
func (c *InitCmd) Run(ctx context.Context, globals *Globals) error {
	_, pool, err := c.open(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := postgresstore.RunMigrations(ctx, pool); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	fmt.Println("Database initialized.")
	return nil
}
