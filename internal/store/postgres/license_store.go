package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/keymint/keymint/internal/models"
	"github.com/keymint/keymint/internal/store"
)

// LicenseStore implements store.LicenseStore using PostgreSQL.
type LicenseStore struct {
	pool *pgxpool.Pool
}

// NewLicenseStore creates a new PostgreSQL-backed license store.
// It shares the connection pool with other stores.
func NewLicenseStore(pool *pgxpool.Pool) *LicenseStore {
	return &LicenseStore{
		pool: pool,
	}
}

// Reset closes all pool connections so the next query establishes fresh
// ones. The retry executor calls this after a failed attempt instead of
// handing out a handle known to be broken.
func (s *LicenseStore) Reset() {
	s.pool.Reset()
}

// Ping verifies database connectivity.
func (s *LicenseStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Create inserts a new license record.
func (s *LicenseStore) Create(ctx context.Context, lic *models.License) error {
	query := `
		INSERT INTO licenses (
			id, activation_key, bound_fingerprint, activated_at, company, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6
		)
	`

	_, err := s.pool.Exec(ctx, query,
		lic.ID,
		lic.ActivationKey,
		lic.BoundFingerprint,
		lic.ActivatedAt,
		lic.Company,
		lic.CreatedAt,
	)

	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrLicenseAlreadyExists
		}
		return fmt.Errorf("failed to create license: %w", mapPostgresError(err))
	}

	log.Debug().
		Str("id", lic.ID).
		Str("company", lic.Company).
		Msg("Created license")

	return nil
}

// GetByActivationKey retrieves a license by its activation key.
func (s *LicenseStore) GetByActivationKey(ctx context.Context, activationKey string) (*models.License, error) {
	query := `
		SELECT id, activation_key, bound_fingerprint, activated_at, company, created_at
		FROM licenses
		WHERE activation_key = $1
	`

	var lic models.License
	err := s.pool.QueryRow(ctx, query, activationKey).Scan(
		&lic.ID,
		&lic.ActivationKey,
		&lic.BoundFingerprint,
		&lic.ActivatedAt,
		&lic.Company,
		&lic.CreatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrLicenseNotFound
		}
		return nil, fmt.Errorf("failed to get license: %w", mapPostgresError(err))
	}

	return &lic, nil
}

// BindFingerprint binds a fingerprint to an unbound license using a single
// conditional UPDATE. The WHERE clause on the sentinel value makes this a
// compare-and-set at the row level, so concurrent first-use requests from
// different devices (or from a second server process) get exactly one
// winner. A replayed bind that already succeeded matches no rows and gets
// ErrAlreadyBound, letting the caller re-read and observe its own binding.
func (s *LicenseStore) BindFingerprint(ctx context.Context, activationKey, fingerprint string, activatedAt time.Time) error {
	query := `
		UPDATE licenses
		SET bound_fingerprint = $2, activated_at = $3
		WHERE activation_key = $1 AND bound_fingerprint = $4
	`

	result, err := s.pool.Exec(ctx, query, activationKey, fingerprint, activatedAt, models.UnboundFingerprint)
	if err != nil {
		return fmt.Errorf("failed to bind fingerprint: %w", mapPostgresError(err))
	}

	if result.RowsAffected() == 0 {
		// Either the key is unknown or another request bound it first.
		var exists bool
		err := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM licenses WHERE activation_key = $1)`, activationKey).Scan(&exists)
		if err != nil {
			return fmt.Errorf("failed to check license existence: %w", mapPostgresError(err))
		}
		if !exists {
			return store.ErrLicenseNotFound
		}
		return store.ErrAlreadyBound
	}

	log.Info().
		Str("activation_key", activationKey).
		Msg("Bound license to device fingerprint")

	return nil
}

// List returns all licenses ordered by creation time.
func (s *LicenseStore) List(ctx context.Context) ([]*models.License, error) {
	query := `
		SELECT id, activation_key, bound_fingerprint, activated_at, company, created_at
		FROM licenses
		ORDER BY created_at DESC
	`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list licenses: %w", mapPostgresError(err))
	}
	defer rows.Close()

	var licenses []*models.License
	for rows.Next() {
		var lic models.License
		err := rows.Scan(
			&lic.ID,
			&lic.ActivationKey,
			&lic.BoundFingerprint,
			&lic.ActivatedAt,
			&lic.Company,
			&lic.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan license: %w", err)
		}
		licenses = append(licenses, &lic)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating licenses: %w", err)
	}

	return licenses, nil
}

// Delete removes a license by id, regardless of binding state.
func (s *LicenseStore) Delete(ctx context.Context, id string) error {
	result, err := s.pool.Exec(ctx, `DELETE FROM licenses WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete license: %w", mapPostgresError(err))
	}

	if result.RowsAffected() == 0 {
		return store.ErrLicenseNotFound
	}

	log.Info().
		Str("id", id).
		Msg("Deleted license")

	return nil
}

// CountByCompany returns the number of licenses issued to a company.
func (s *LicenseStore) CountByCompany(ctx context.Context, company string) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM licenses WHERE company = $1`, company).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count licenses: %w", mapPostgresError(err))
	}

	return count, nil
}
