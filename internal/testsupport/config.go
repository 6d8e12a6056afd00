package testsupport

import (
	"path/filepath"
	"testing"

	"lifeline/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults to the SQLite queue backend and the settlement simulator so
// tests need no external services.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.DataDir = filepath.Join(base, "data")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Paths.APIBind = "127.0.0.1:0"
	cfg.Funding.NGOAddress = "sim:emergency-ngo"
	cfg.Funding.GovernmentAddress = "sim:local-government"
	cfg.Funding.ReliefAddress = "sim:disaster-relief"

	for _, opt := range opts {
		opt(&cfg)
	}

	return &cfg
}

// WithQueueBackend selects the queue backend on the test config.
func WithQueueBackend(backend, redisAddr string) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Queue.Backend = backend
		cfg.Queue.RedisAddr = redisAddr
	}
}

// WithThreshold overrides the verification threshold on the test config.
func WithThreshold(threshold int) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Verification.Threshold = threshold
	}
}
