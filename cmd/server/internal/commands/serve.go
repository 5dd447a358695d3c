package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/keymint/keymint/internal/config"
	"github.com/keymint/keymint/internal/license"
	"github.com/keymint/keymint/internal/logger"
	"github.com/keymint/keymint/internal/server"
	"github.com/keymint/keymint/internal/store"
	memorystore "github.com/keymint/keymint/internal/store/memory"
	postgresstore "github.com/keymint/keymint/internal/store/postgres"
	"github.com/keymint/keymint/internal/telemetry"
)

type ServeCmd struct {
	// Server configuration
	Listen      string   `help:"HTTP server listen address" default:"0.0.0.0:5000" env:"KEYMINT_LISTEN"`
	Cert        string   `help:"path to TLS cert file (serves plain HTTP when unset)" default:"" env:"KEYMINT_TLS_CERT"`
	Key         string   `help:"path to TLS key file" default:"" env:"KEYMINT_TLS_KEY"`
	Config      string   `help:"path to YAML config file; file values override flags" default:"" env:"KEYMINT_CONFIG"`
	CORSOrigins []string `help:"allowed CORS origins for the validation API" default:"" env:"KEYMINT_CORS_ORIGINS"`
	Telemetry   bool     `help:"enable OTLP metrics and traces" default:"false" env:"KEYMINT_TELEMETRY"`

	// Retry configuration
	RetryAttempts uint          `help:"store attempts per operation, including the first" default:"3" env:"KEYMINT_RETRY_ATTEMPTS"`
	RetryDelay    time.Duration `help:"fixed delay between store attempts" default:"2s" env:"KEYMINT_RETRY_DELAY"`

	// Store configuration
	StoreType     string             `help:"store type (memory or postgres)" default:"memory" env:"KEYMINT_STORE_TYPE" enum:"memory,postgres"`
	PostgresStore PostgresStoreFlags `embed:"" prefix:"postgres-"`
}

type PostgresStoreFlags struct {
	ConnString string `help:"PostgreSQL connection string" env:"POSTGRES_CONNECTION_STRING"`

	// Connection Pool Configuration
	MaxConns        int32 `help:"maximum number of connections in pool" default:"10"`
	MinConns        int32 `help:"minimum number of connections in pool" default:"2"`
	MaxConnLifetime int32 `help:"maximum connection lifetime in seconds" default:"3600"`
	MaxConnIdleTime int32 `help:"maximum connection idle time in seconds" default:"1800"`

	// Migration Configuration
	AutoMigrate bool `help:"run database migrations on startup" default:"false" env:"KEYMINT_POSTGRES_AUTO_MIGRATE"`
}

// applyConfigFile overlays values from a YAML config file onto the command
// flags. The file wins where it sets a value.
func (c *ServeCmd) applyConfigFile(cfg *config.Server) {
	if cfg.Listen != "" {
		c.Listen = cfg.Listen
	}
	if len(cfg.CORSOrigins) > 0 {
		c.CORSOrigins = cfg.CORSOrigins
	}
	if cfg.Store.Type != "" {
		c.StoreType = cfg.Store.Type
	}
	if cfg.Store.ConnString != "" {
		c.PostgresStore.ConnString = cfg.Store.ConnString
	}
	if cfg.Store.MaxConns != 0 {
		c.PostgresStore.MaxConns = cfg.Store.MaxConns
	}
	if cfg.Store.MinConns != 0 {
		c.PostgresStore.MinConns = cfg.Store.MinConns
	}
	if cfg.Store.AutoMigrate {
		c.PostgresStore.AutoMigrate = true
	}
	if cfg.Retry.MaxTries != 0 {
		c.RetryAttempts = cfg.Retry.MaxTries
	}
	if cfg.Retry.Delay != 0 {
		c.RetryDelay = cfg.Retry.Delay.Std()
	}
}

func (c *ServeCmd) Run(globals *Globals) error {
	log := logger.Setup(globals.Debug)
	ctx := log.WithContext(context.Background())

	log.Info().Str("version", globals.Version).Bool("debug", globals.Debug).Msg("Starting license server")

	if c.Config != "" {
		cfg, err := config.Load(c.Config)
		if err != nil {
			return err
		}
		c.applyConfigFile(cfg)
		log.Info().Str("path", c.Config).Msg("Loaded config file")
	}

	if c.Telemetry {
		shutdown, err := telemetry.InitTelemetry(ctx, "keymint-server", globals.Version)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialize telemetry, continuing without metrics")
			shutdown = func(ctx context.Context) error { return nil }
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("Failed to shutdown telemetry")
			}
		}()
	}

	var (
		licenseStore store.LicenseStore
		serviceOpts  []license.ServiceOption
		serverOpts   []server.Option
	)

	serviceOpts = append(serviceOpts, license.WithRetryPolicy(c.RetryAttempts, c.RetryDelay))

	switch c.StoreType {
	case "postgres":
		poolCfg := &postgresstore.PoolConfig{
			ConnString:      c.PostgresStore.ConnString,
			MaxConns:        c.PostgresStore.MaxConns,
			MinConns:        c.PostgresStore.MinConns,
			MaxConnLifetime: c.PostgresStore.MaxConnLifetime,
			MaxConnIdleTime: c.PostgresStore.MaxConnIdleTime,
		}
		pool, err := postgresstore.NewPool(ctx, poolCfg)
		if err != nil {
			return fmt.Errorf("failed to create connection pool: %w", err)
		}
		defer pool.Close()

		if c.PostgresStore.AutoMigrate {
			if err := postgresstore.RunMigrations(ctx, pool); err != nil {
				return fmt.Errorf("failed to run migrations: %w", err)
			}
			log.Info().Msg("Database migrations completed")
		}

		pgStore := postgresstore.NewLicenseStore(pool)
		licenseStore = pgStore

		// On a failed attempt the executor discards pool connections
		// rather than reusing a handle known to be broken.
		serviceOpts = append(serviceOpts, license.WithReconnect(pgStore.Reset))
		serverOpts = append(serverOpts, server.WithPinger(pgStore))

		log.Info().Msg("Using PostgreSQL license store")

	default:
		licenseStore = memorystore.NewLicenseStore()
		log.Warn().Msg("Using in-memory license store, issued licenses are lost on restart")
	}

	svc := license.NewService(licenseStore, serviceOpts...)
	handler := server.New(svc, serverOpts...).Handler(log, c.CORSOrigins)

	httpServer := configureHTTPServer(c.Listen, handler)

	if c.Cert != "" && c.Key != "" {
		log.Info().Str("addr", c.Listen).Msg("Starting HTTPS server")
		return httpServer.ListenAndServeTLS(c.Cert, c.Key)
	}

	log.Info().Str("addr", c.Listen).Msg("Starting HTTP server")
	return httpServer.ListenAndServe()
}
