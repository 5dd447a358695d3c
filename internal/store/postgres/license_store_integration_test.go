//go:build integration

package postgres

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/keymint/keymint/internal/models"
	"github.com/keymint/keymint/internal/store"
)

func setupPostgresContainer(t *testing.T, ctx context.Context) (*LicenseStore, func()) {
	// Start postgres container
	req := testcontainers.ContainerRequest{
		Image:        "postgres:18-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)

	host, err := container.Host(ctx)
	require.NoError(t, err)

	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	connString := fmt.Sprintf("postgres://test:test@%s:%s/testdb?sslmode=disable", host, port.Port())

	pool, err := NewPool(ctx, &PoolConfig{ConnString: connString})
	require.NoError(t, err)

	require.NoError(t, RunMigrations(ctx, pool))

	cleanup := func() {
		pool.Close()
		_ = container.Terminate(ctx)
	}

	return NewLicenseStore(pool), cleanup
}

func TestIntegration_LicenseLifecycle(t *testing.T) {
	ctx := context.Background()
	st, cleanup := setupPostgresContainer(t, ctx)
	defer cleanup()

	lic := &models.License{
		ID:               "cust-1",
		ActivationKey:    "11111111-2222-3333-4444-555555555555",
		BoundFingerprint: models.UnboundFingerprint,
		Company:          "NTi",
		CreatedAt:        time.Now().UTC(),
	}

	t.Run("create license", func(t *testing.T) {
		require.NoError(t, st.Create(ctx, lic))
	})

	t.Run("duplicate id rejected", func(t *testing.T) {
		dup := *lic
		dup.ActivationKey = "another-key"
		err := st.Create(ctx, &dup)
		require.ErrorIs(t, err, store.ErrLicenseAlreadyExists)
	})

	t.Run("get by activation key", func(t *testing.T) {
		got, err := st.GetByActivationKey(ctx, lic.ActivationKey)
		require.NoError(t, err)
		require.Equal(t, "cust-1", got.ID)
		require.Equal(t, models.UnboundFingerprint, got.BoundFingerprint)
		require.Nil(t, got.ActivatedAt)
	})

	t.Run("unknown key returns not found", func(t *testing.T) {
		_, err := st.GetByActivationKey(ctx, "no-such-key")
		require.ErrorIs(t, err, store.ErrLicenseNotFound)
	})

	t.Run("bind fingerprint", func(t *testing.T) {
		require.NoError(t, st.BindFingerprint(ctx, lic.ActivationKey, "device-a", time.Now().UTC()))

		got, err := st.GetByActivationKey(ctx, lic.ActivationKey)
		require.NoError(t, err)
		require.Equal(t, "device-a", got.BoundFingerprint)
		require.NotNil(t, got.ActivatedAt)
	})

	t.Run("second bind loses", func(t *testing.T) {
		err := st.BindFingerprint(ctx, lic.ActivationKey, "device-b", time.Now().UTC())
		require.ErrorIs(t, err, store.ErrAlreadyBound)

		got, err := st.GetByActivationKey(ctx, lic.ActivationKey)
		require.NoError(t, err)
		require.Equal(t, "device-a", got.BoundFingerprint)
	})

	t.Run("bind unknown key returns not found", func(t *testing.T) {
		err := st.BindFingerprint(ctx, "no-such-key", "device-a", time.Now().UTC())
		require.ErrorIs(t, err, store.ErrLicenseNotFound)
	})

	t.Run("count by company", func(t *testing.T) {
		count, err := st.CountByCompany(ctx, "NTi")
		require.NoError(t, err)
		require.Equal(t, 1, count)
	})

	t.Run("delete license", func(t *testing.T) {
		require.NoError(t, st.Delete(ctx, "cust-1"))

		err := st.Delete(ctx, "cust-1")
		require.ErrorIs(t, err, store.ErrLicenseNotFound)
	})
}

func TestIntegration_ConcurrentBindSingleWinner(t *testing.T) {
	ctx := context.Background()
	st, cleanup := setupPostgresContainer(t, ctx)
	defer cleanup()

	lic := &models.License{
		ID:               "cust-race",
		ActivationKey:    "aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee",
		BoundFingerprint: models.UnboundFingerprint,
		Company:          "individual",
		CreatedAt:        time.Now().UTC(),
	}
	require.NoError(t, st.Create(ctx, lic))

	const attempts = 8
	var wg sync.WaitGroup
	errs := make([]error, attempts)

	for i := range attempts {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			errs[n] = st.BindFingerprint(ctx, lic.ActivationKey, fmt.Sprintf("device-%d", n), time.Now().UTC())
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
		} else {
			require.ErrorIs(t, err, store.ErrAlreadyBound)
		}
	}
	require.Equal(t, 1, wins)

	got, err := st.GetByActivationKey(ctx, lic.ActivationKey)
	require.NoError(t, err)
	require.True(t, got.Bound())
}

func TestIntegration_MigrationsIdempotent(t *testing.T) {
	ctx := context.Background()
	st, cleanup := setupPostgresContainer(t, ctx)
	defer cleanup()

	// Running migrations again must be a no-op.
	require.NoError(t, RunMigrations(ctx, st.pool))
}
