package commands

import (
	"context"
	"fmt"

	"github.com/keymint/keymint/internal/models"
)

type ListCmd struct {
	DatabaseFlags `embed:""`
}

func (c *ListCmd) Run(ctx context.Context, globals *Globals) error {
	st, pool, err := c.open(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	licenses, err := st.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list licenses: %w", err)
	}

	if len(licenses) == 0 {
		fmt.Println("No licenses found.")
		return nil
	}

	for _, lic := range licenses {
		fmt.Printf("ID: %s, Key: %s, Company: %s, %s\n",
			lic.ID, lic.ActivationKey, lic.Company, activationState(lic))
	}
	fmt.Printf("\n%d license(s)\n", len(licenses))

	return nil
}

func activationState(lic *models.License) string {
	if !lic.Bound() {
		return "Unactivated"
	}
	return fmt.Sprintf("Activated: %s on %s",
		lic.BoundFingerprint, lic.ActivatedAt.Format("2006-01-02 15:04:05"))
}
