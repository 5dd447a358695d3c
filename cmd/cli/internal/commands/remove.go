package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/keymint/keymint/internal/store"
)

type RemoveCmd struct {
	DatabaseFlags `embed:""`

	ID string `arg:"" help:"Id of the license to remove"`
}

// Run deletes a license unconditionally, bound or not.
func (c *RemoveCmd) Run(ctx context.Context, globals *Globals) error {
	st, pool, err := c.open(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := st.Delete(ctx, c.ID); err != nil {
		if errors.Is(err, store.ErrLicenseNotFound) {
			return fmt.Errorf("no license with id %q", c.ID)
		}
		return fmt.Errorf("failed to remove license: %w", err)
	}

	fmt.Printf("License with ID %s removed.\n", c.ID)
	return nil
}
