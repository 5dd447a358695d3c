package license

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/keymint/keymint/internal/models"
	"github.com/keymint/keymint/internal/store"
	"github.com/keymint/keymint/internal/store/memory"
)

var errConnReset = errors.New("connection reset by peer")

// flakyStore wraps a LicenseStore and injects transient failures.
type flakyStore struct {
	store.LicenseStore

	mu        sync.Mutex
	failReads int
	failBinds int
	// commitBeforeFailing makes a failing bind apply its mutation first,
	// simulating a commit whose acknowledgement was lost.
	commitBeforeFailing bool
}

func (f *flakyStore) GetByActivationKey(ctx context.Context, key string) (*models.License, error) {
	f.mu.Lock()
	fail := f.failReads > 0
	if fail {
		f.failReads--
	}
	f.mu.Unlock()

	if fail {
		return nil, errConnReset
	}
	return f.LicenseStore.GetByActivationKey(ctx, key)
}

func (f *flakyStore) BindFingerprint(ctx context.Context, key, fingerprint string, at time.Time) error {
	f.mu.Lock()
	fail := f.failBinds > 0
	if fail {
		f.failBinds--
	}
	commit := f.commitBeforeFailing
	f.mu.Unlock()

	if fail {
		if commit {
			_ = f.LicenseStore.BindFingerprint(ctx, key, fingerprint, at)
		}
		return errConnReset
	}
	return f.LicenseStore.BindFingerprint(ctx, key, fingerprint, at)
}

func newTestService(st store.LicenseStore) *Service {
	return NewService(st, WithRetryPolicy(3, time.Millisecond))
}

func issueTestLicense(t *testing.T, st store.LicenseStore, id string) *models.License {
	t.Helper()
	lic, err := Issue(context.Background(), st, id, "")
	require.NoError(t, err)
	require.Equal(t, DefaultCompany, lic.Company)
	require.Equal(t, models.UnboundFingerprint, lic.BoundFingerprint)
	return lic
}

func TestService_CheckLifecycle(t *testing.T) {
	ctx := context.Background()
	st := memory.NewLicenseStore()
	svc := newTestService(st)

	lic := issueTestLicense(t, st, "cust-1")

	t.Run("unknown key returns not found without mutation", func(t *testing.T) {
		verdict, err := svc.Check(ctx, "bad-key", "device-a")
		require.NoError(t, err)
		require.Equal(t, StatusNotFound, verdict.Status)
		require.False(t, verdict.Valid)

		got, err := st.GetByActivationKey(ctx, lic.ActivationKey)
		require.NoError(t, err)
		require.False(t, got.Bound())
	})

	t.Run("first use binds and activates", func(t *testing.T) {
		verdict, err := svc.Check(ctx, lic.ActivationKey, "device-a")
		require.NoError(t, err)
		require.Equal(t, StatusActivated, verdict.Status)
		require.True(t, verdict.Valid)

		got, err := st.GetByActivationKey(ctx, lic.ActivationKey)
		require.NoError(t, err)
		require.Equal(t, "device-a", got.BoundFingerprint)
		require.NotNil(t, got.ActivatedAt)
	})

	t.Run("repeat use with same fingerprint validates", func(t *testing.T) {
		got, err := st.GetByActivationKey(ctx, lic.ActivationKey)
		require.NoError(t, err)
		activatedAt := *got.ActivatedAt

		verdict, err := svc.Check(ctx, lic.ActivationKey, "device-a")
		require.NoError(t, err)
		require.Equal(t, StatusValidated, verdict.Status)
		require.True(t, verdict.Valid)

		// No further mutation.
		got, err = st.GetByActivationKey(ctx, lic.ActivationKey)
		require.NoError(t, err)
		require.Equal(t, activatedAt, *got.ActivatedAt)
	})

	t.Run("different fingerprint is rejected and binding untouched", func(t *testing.T) {
		verdict, err := svc.Check(ctx, lic.ActivationKey, "device-b")
		require.NoError(t, err)
		require.Equal(t, StatusMismatch, verdict.Status)
		require.False(t, verdict.Valid)

		got, err := st.GetByActivationKey(ctx, lic.ActivationKey)
		require.NoError(t, err)
		require.Equal(t, "device-a", got.BoundFingerprint)
	})
}

func TestService_ConcurrentFirstUse(t *testing.T) {
	ctx := context.Background()
	st := memory.NewLicenseStore()
	svc := newTestService(st)

	lic := issueTestLicense(t, st, "cust-race")

	var wg sync.WaitGroup
	verdicts := make([]Verdict, 2)
	checkErrs := make([]error, 2)
	fingerprints := []string{"device-f", "device-g"}

	for i := range 2 {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			verdicts[n], checkErrs[n] = svc.Check(ctx, lic.ActivationKey, fingerprints[n])
		}(i)
	}
	wg.Wait()

	require.NoError(t, checkErrs[0])
	require.NoError(t, checkErrs[1])

	got, err := st.GetByActivationKey(ctx, lic.ActivationKey)
	require.NoError(t, err)
	require.Contains(t, fingerprints, got.BoundFingerprint)

	for i, v := range verdicts {
		if fingerprints[i] == got.BoundFingerprint {
			// Winner activated, or loser that raced an identical fingerprint.
			require.True(t, v.Valid)
			require.Contains(t, []Status{StatusActivated, StatusValidated}, v.Status)
		} else {
			require.Equal(t, StatusMismatch, v.Status)
			require.False(t, v.Valid)
		}
	}
}

func TestService_ReplayAfterLostCommitAck(t *testing.T) {
	ctx := context.Background()
	inner := memory.NewLicenseStore()
	flaky := &flakyStore{LicenseStore: inner, failBinds: 1, commitBeforeFailing: true}
	svc := newTestService(flaky)

	lic := issueTestLicense(t, inner, "cust-replay")

	// The first bind attempt commits but its acknowledgement is lost. The
	// retried attempt loses the conditional update to its own prior success
	// and must observe that success rather than rebinding.
	verdict, err := svc.Check(ctx, lic.ActivationKey, "device-a")
	require.NoError(t, err)
	require.True(t, verdict.Valid)
	require.Equal(t, StatusValidated, verdict.Status)

	got, err := inner.GetByActivationKey(ctx, lic.ActivationKey)
	require.NoError(t, err)
	require.Equal(t, "device-a", got.BoundFingerprint)
}

func TestService_TransientReadFailuresRecovered(t *testing.T) {
	ctx := context.Background()
	inner := memory.NewLicenseStore()
	flaky := &flakyStore{LicenseStore: inner, failReads: 2}
	svc := newTestService(flaky)

	lic := issueTestLicense(t, inner, "cust-flaky")

	verdict, err := svc.Check(ctx, lic.ActivationKey, "device-a")
	require.NoError(t, err)
	require.Equal(t, StatusActivated, verdict.Status)
}

func TestService_StoreFailureAfterRetries(t *testing.T) {
	ctx := context.Background()
	inner := memory.NewLicenseStore()
	flaky := &flakyStore{LicenseStore: inner, failReads: 10}
	svc := newTestService(flaky)

	lic := issueTestLicense(t, inner, "cust-down")

	verdict, err := svc.Check(ctx, lic.ActivationKey, "device-a")
	require.Error(t, err)
	require.Equal(t, StatusError, verdict.Status)
	require.False(t, verdict.Valid)

	// Three attempts were consumed, never a fourth.
	flaky.mu.Lock()
	remaining := flaky.failReads
	flaky.mu.Unlock()
	require.Equal(t, 7, remaining)
}

func TestIssue(t *testing.T) {
	ctx := context.Background()
	st := memory.NewLicenseStore()

	t.Run("issue generates unique keys", func(t *testing.T) {
		a, err := Issue(ctx, st, "cust-a", "NTi")
		require.NoError(t, err)
		b, err := Issue(ctx, st, "cust-b", "NTi")
		require.NoError(t, err)

		require.NotEqual(t, a.ActivationKey, b.ActivationKey)
		require.Equal(t, "NTi", a.Company)
	})

	t.Run("duplicate id rejected", func(t *testing.T) {
		_, err := Issue(ctx, st, "cust-a", "")
		require.ErrorIs(t, err, store.ErrLicenseAlreadyExists)
	})

	t.Run("empty id rejected", func(t *testing.T) {
		_, err := Issue(ctx, st, "", "")
		require.Error(t, err)
	})
}
