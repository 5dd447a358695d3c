package store

import (
	"context"
	"errors"
	"time"

	"github.com/keymint/keymint/internal/models"
)

// Sentinel errors for common error conditions
var (
	ErrLicenseNotFound      = errors.New("license not found")
	ErrLicenseAlreadyExists = errors.New("license already exists")

	// ErrAlreadyBound is returned by BindFingerprint when the conditional
	// update matched no rows because another request bound the key first
	// (or a retried bind already succeeded). Callers re-read the record and
	// re-evaluate against the winning fingerprint.
	ErrAlreadyBound = errors.New("license already bound")
)

// LicenseStore defines the interface for license storage operations.
type LicenseStore interface {
	// Create inserts a new unbound license record.
	// Returns ErrLicenseAlreadyExists if the id or activation key is taken.
	Create(ctx context.Context, lic *models.License) error

	// GetByActivationKey retrieves a license by its activation key.
	// Returns ErrLicenseNotFound if no such key was issued.
	GetByActivationKey(ctx context.Context, activationKey string) (*models.License, error)

	// BindFingerprint performs the one-time UNBOUND -> bound transition as a
	// single conditional mutation. Exactly one caller can win for a given
	// key; losers get ErrAlreadyBound. The guard must live at the storage
	// level, never in an in-process lock, since successive server processes
	// may run against the same store.
	BindFingerprint(ctx context.Context, activationKey, fingerprint string, activatedAt time.Time) error

	// List returns a snapshot of all license records.
	List(ctx context.Context) ([]*models.License, error)

	// Delete removes a license by id regardless of its binding state.
	// Returns ErrLicenseNotFound if the id does not exist.
	Delete(ctx context.Context, id string) error

	// CountByCompany returns the number of licenses issued to a company.
	CountByCompany(ctx context.Context, company string) (int, error)
}
