// Package commands implements the license administration CLI. It talks to
// the postgres store directly rather than going through the validation
// server, mirroring how licenses were always issued for this system.
package commands

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	postgresstore "github.com/keymint/keymint/internal/store/postgres"
)

type Globals struct {
	Debug   bool
	Version string
}

// DatabaseFlags is embedded by every command that needs store access.
type DatabaseFlags struct {
	ConnString string `help:"PostgreSQL connection string" env:"POSTGRES_CONNECTION_STRING" required:""`
}

// open connects to the database and returns the license store along with
// the pool for cleanup.
func (d *DatabaseFlags) open(ctx context.Context) (*postgresstore.LicenseStore, *pgxpool.Pool, error) {
	pool, err := postgresstore.NewPool(ctx, &postgresstore.PoolConfig{
		ConnString: d.ConnString,
		// The CLI runs one operation at a time.
		MaxConns: 2,
		MinConns: 1,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return postgresstore.NewLicenseStore(pool), pool, nil
}
