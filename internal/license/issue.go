package license

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/keymint/keymint/internal/models"
	"github.com/keymint/keymint/internal/store"
)

// DefaultCompany is used when a license is issued without a company tag.
const DefaultCompany = "individual"

// Issue creates a new unbound license record with a random activation key
// and returns it. Fails with store.ErrLicenseAlreadyExists if the id is
// already taken.
func Issue(ctx context.Context, st store.LicenseStore, id, company string) (*models.License, error) {
	if id == "" {
		return nil, fmt.Errorf("license id is required")
	}
	if company == "" {
		company = DefaultCompany
	}

	lic := &models.License{
		ID:               id,
		ActivationKey:    uuid.NewString(),
		BoundFingerprint: models.UnboundFingerprint,
		Company:          company,
		CreatedAt:        time.Now().UTC(),
	}

	if err := st.Create(ctx, lic); err != nil {
		return nil, err
	}

	return lic, nil
}
