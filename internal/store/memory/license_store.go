package memory

import (
	"context"
	"sync"
	"time"

	"github.com/keymint/keymint/internal/models"
	"github.com/keymint/keymint/internal/store"
)

// LicenseStore implements store.LicenseStore using in-memory storage.
// This implementation is for testing and development only - data is lost on restart.
type LicenseStore struct {
	mu sync.RWMutex

	byID  map[string]*models.License // id -> License
	byKey map[string]*models.License // activation_key -> License
}

// NewLicenseStore creates a new in-memory license store.
func NewLicenseStore() *LicenseStore {
	return &LicenseStore{
		byID:  make(map[string]*models.License),
		byKey: make(map[string]*models.License),
	}
}

// Create inserts a new license record.
func (s *LicenseStore) Create(ctx context.Context, lic *models.License) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byID[lic.ID]; exists {
		return store.ErrLicenseAlreadyExists
	}
	if _, exists := s.byKey[lic.ActivationKey]; exists {
		return store.ErrLicenseAlreadyExists
	}

	// Clone to avoid external modifications
	clone := *lic
	s.byID[lic.ID] = &clone
	s.byKey[lic.ActivationKey] = &clone

	return nil
}

// GetByActivationKey retrieves a license by its activation key.
func (s *LicenseStore) GetByActivationKey(ctx context.Context, activationKey string) (*models.License, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	lic, exists := s.byKey[activationKey]
	if !exists {
		return nil, store.ErrLicenseNotFound
	}

	clone := *lic
	return &clone, nil
}

// BindFingerprint binds a fingerprint to an unbound license. The check and
// write happen under the store lock, giving the same single-winner semantics
// as the conditional UPDATE in the postgres implementation.
func (s *LicenseStore) BindFingerprint(ctx context.Context, activationKey, fingerprint string, activatedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	lic, exists := s.byKey[activationKey]
	if !exists {
		return store.ErrLicenseNotFound
	}

	if lic.Bound() {
		return store.ErrAlreadyBound
	}

	lic.BoundFingerprint = fingerprint
	at := activatedAt
	lic.ActivatedAt = &at

	return nil
}

// List returns a snapshot of all licenses.
func (s *LicenseStore) List(ctx context.Context) ([]*models.License, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	licenses := make([]*models.License, 0, len(s.byID))
	for _, lic := range s.byID {
		clone := *lic
		licenses = append(licenses, &clone)
	}

	return licenses, nil
}

// Delete removes a license by id.
func (s *LicenseStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	lic, exists := s.byID[id]
	if !exists {
		return store.ErrLicenseNotFound
	}

	delete(s.byID, id)
	delete(s.byKey, lic.ActivationKey)

	return nil
}

// CountByCompany returns the number of licenses issued to a company.
func (s *LicenseStore) CountByCompany(ctx context.Context, company string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, lic := range s.byID {
		if lic.Company == company {
			count++
		}
	}

	return count, nil
}
