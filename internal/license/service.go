package license

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/keymint/keymint/internal/models"
	"github.com/keymint/keymint/internal/store"
	"github.com/keymint/keymint/internal/store/retry"
	"github.com/keymint/keymint/internal/telemetry"
)

// Service drives the activation protocol against a license store. All store
// access goes through a retry executor; protocol verdict errors are marked
// permanent so only transient storage failures are retried.
type Service struct {
	store store.LicenseStore
	exec  *retry.Executor
	now   func() time.Time
}

// ServiceOption configures a Service.
type ServiceOption func(*serviceConfig)

type serviceConfig struct {
	maxTries  uint
	delay     time.Duration
	reconnect func()
	now       func() time.Time
}

// WithRetryPolicy overrides the default retry policy (3 attempts, 2s apart).
func WithRetryPolicy(maxTries uint, delay time.Duration) ServiceOption {
	return func(c *serviceConfig) {
		c.maxTries = maxTries
		c.delay = delay
	}
}

// WithReconnect sets the hook invoked after a failed store attempt, used to
// discard broken connections before the next try.
func WithReconnect(fn func()) ServiceOption {
	return func(c *serviceConfig) { c.reconnect = fn }
}

// WithClock overrides the activation timestamp source, for tests.
func WithClock(now func() time.Time) ServiceOption {
	return func(c *serviceConfig) { c.now = now }
}

// NewService creates a Service around the given store.
func NewService(st store.LicenseStore, opts ...ServiceOption) *Service {
	cfg := &serviceConfig{
		maxTries: retry.DefaultMaxTries,
		delay:    retry.DefaultDelay,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	metrics := telemetry.GetMetrics()
	reconnect := func() {
		metrics.StoreRetriesTotal.Add(context.Background(), 1)
		metrics.StoreReconnectsTotal.Add(context.Background(), 1)
		if cfg.reconnect != nil {
			cfg.reconnect()
		}
	}

	exec := retry.New(
		retry.WithMaxTries(cfg.maxTries),
		retry.WithDelay(cfg.delay),
		retry.WithPermanent(isProtocolError),
		retry.WithReconnect(reconnect),
	)

	return &Service{
		store: st,
		exec:  exec,
		now:   cfg.now,
	}
}

// isProtocolError reports whether err is a protocol outcome rather than a
// transient storage failure. These are never retried: re-executing a
// not-found read or a lost bind cannot change the answer.
func isProtocolError(err error) bool {
	return errors.Is(err, store.ErrLicenseNotFound) ||
		errors.Is(err, store.ErrLicenseAlreadyExists) ||
		errors.Is(err, store.ErrAlreadyBound)
}

// Check evaluates an (activation key, fingerprint) pair and, on first use,
// commits the one-time binding. It returns a verdict for every request; the
// error is non-nil only when the store failed after all retries, in which
// case the verdict is internal-error.
func (s *Service) Check(ctx context.Context, activationKey, fingerprint string) (Verdict, error) {
	metrics := telemetry.GetMetrics()
	metrics.ChecksTotal.Add(ctx, 1)

	started := time.Now()
	verdict, err := s.check(ctx, activationKey, fingerprint)

	metrics.CheckDuration.Record(ctx, float64(time.Since(started).Milliseconds()))
	metrics.VerdictsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("status", string(verdict.Status)),
	))

	return verdict, err
}

func (s *Service) check(ctx context.Context, activationKey, fingerprint string) (Verdict, error) {
	lic, err := s.fetch(ctx, activationKey)
	if err != nil {
		if errors.Is(err, store.ErrLicenseNotFound) {
			zerolog.Ctx(ctx).Warn().Msg("License check for unknown activation key")
			return VerdictFor(StatusNotFound), nil
		}
		telemetry.GetMetrics().StoreFailuresTotal.Add(ctx, 1)
		return VerdictFor(StatusError), fmt.Errorf("failed to fetch license: %w", err)
	}

	verdict := Evaluate(lic, fingerprint)
	if verdict.Status != StatusActivated {
		return verdict, nil
	}

	return s.bind(ctx, activationKey, fingerprint)
}

// bind commits the UNBOUND -> bound transition. Losing the conditional
// update is not a failure: the loser is re-evaluated against the winning
// state, so a request that raced with an identical replay of itself still
// comes back valid.
func (s *Service) bind(ctx context.Context, activationKey, fingerprint string) (Verdict, error) {
	err := s.exec.Do(ctx, "bind fingerprint", func(ctx context.Context) error {
		return s.store.BindFingerprint(ctx, activationKey, fingerprint, s.now().UTC())
	})

	switch {
	case err == nil:
		telemetry.GetMetrics().BindsTotal.Add(ctx, 1)
		zerolog.Ctx(ctx).Info().Msg("License activated")
		return VerdictFor(StatusActivated), nil

	case errors.Is(err, store.ErrAlreadyBound):
		telemetry.GetMetrics().BindRacesLostTotal.Add(ctx, 1)
		return s.reevaluate(ctx, activationKey, fingerprint)

	case errors.Is(err, store.ErrLicenseNotFound):
		// Deleted between read and bind.
		return VerdictFor(StatusNotFound), nil

	default:
		telemetry.GetMetrics().StoreFailuresTotal.Add(ctx, 1)
		return VerdictFor(StatusError), fmt.Errorf("failed to bind license: %w", err)
	}
}

// reevaluate re-reads a license after a lost bind race and applies the
// transition table against the now-bound state.
func (s *Service) reevaluate(ctx context.Context, activationKey, fingerprint string) (Verdict, error) {
	lic, err := s.fetch(ctx, activationKey)
	if err != nil {
		if errors.Is(err, store.ErrLicenseNotFound) {
			return VerdictFor(StatusNotFound), nil
		}
		telemetry.GetMetrics().StoreFailuresTotal.Add(ctx, 1)
		return VerdictFor(StatusError), fmt.Errorf("failed to re-read license after lost bind race: %w", err)
	}

	verdict := Evaluate(lic, fingerprint)
	if verdict.Status == StatusActivated {
		// The bind reported already-bound but the record reads unbound.
		// Only an out-of-band delete and re-issue can produce this; refuse
		// to guess rather than loop.
		return VerdictFor(StatusError), fmt.Errorf("license %s in inconsistent binding state", activationKey)
	}

	return verdict, nil
}

func (s *Service) fetch(ctx context.Context, activationKey string) (*models.License, error) {
	return retry.Query(ctx, s.exec, "get license", func(ctx context.Context) (*models.License, error) {
		return s.store.GetByActivationKey(ctx, activationKey)
	})
}
