package commands

import (
	"context"
	"fmt"
)

type CountCmd struct {
	DatabaseFlags `embed:""`

	Company string `arg:"" help:"Company name to count licenses for"`
}

func (c *CountCmd) Run(ctx context.Context, globals *Globals) error {
	st, pool, err := c.open(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	count, err := st.CountByCompany(ctx, c.Company)
	if err != nil {
		return fmt.Errorf("failed to count licenses: %w", err)
	}

	fmt.Printf("%s: %d license(s)\n", c.Company, count)
	return nil
}
