package commands

import (
	"context"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/keymint/keymint/internal/license"
	"github.com/keymint/keymint/internal/store"
)

type IssueCmd struct {
	DatabaseFlags `embed:""`

	ID      string `help:"Customer or user id for the new license" xor:"source"`
	Company string `help:"Company the license is issued to" default:"individual"`
	File    string `help:"YAML file with a batch of licenses to issue" xor:"source"`
}

// batchEntry is one license in a batch issue file.
type batchEntry struct {
	ID      string `yaml:"id"`
	Company string `yaml:"company"`
}

func (c *IssueCmd) Run(ctx context.Context, globals *Globals) error {
	if c.ID == "" && c.File == "" {
		return errors.New("either --id or --file is required")
	}

	st, pool, err := c.open(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	if c.File != "" {
		return c.issueBatch(ctx, st)
	}

	lic, err := license.Issue(ctx, st, c.ID, c.Company)
	if err != nil {
		if errors.Is(err, store.ErrLicenseAlreadyExists) {
			return fmt.Errorf("license with id %q already exists", c.ID)
		}
		return fmt.Errorf("failed to issue license: %w", err)
	}

	fmt.Printf("Created license with activation key: %s\n", lic.ActivationKey)
	return nil
}

// issueBatch issues one license per entry in the YAML file. Entries whose
// id already exists are reported and skipped so a batch can be re-run.
func (c *IssueCmd) issueBatch(ctx context.Context, st store.LicenseStore) error {
	data, err := os.ReadFile(c.File)
	if err != nil {
		return fmt.Errorf("failed to read batch file: %w", err)
	}

	var entries []batchEntry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("failed to parse batch file: %w", err)
	}

	for _, entry := range entries {
		lic, err := license.Issue(ctx, st, entry.ID, entry.Company)
		if err != nil {
			if errors.Is(err, store.ErrLicenseAlreadyExists) {
				fmt.Printf("Skipped %s: already exists\n", entry.ID)
				continue
			}
			return fmt.Errorf("failed to issue license for %q: %w", entry.ID, err)
		}
		fmt.Printf("Created license for %s with activation key: %s\n", lic.ID, lic.ActivationKey)
	}

	return nil
}
