package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	DataDir string `toml:"data_dir"`
	LogDir  string `toml:"log_dir"`
	APIBind string `toml:"api_bind"`
}

// Queue configures the durable queue backend shared by all workers.
type Queue struct {
	// Backend selects the broker implementation: "sqlite" or "redis".
	Backend           string `toml:"backend"`
	PollInterval      int    `toml:"poll_interval"`
	VisibilityTimeout int    `toml:"visibility_timeout"`
	ErrorRetryWait    int    `toml:"error_retry_wait"`
	RedisAddr         string `toml:"redis_addr"`
	RedisDB           int    `toml:"redis_db"`
	RedisPassword     string `toml:"redis_password"`
}

// Pipeline configures per-worker retry exhaustion policy.
type Pipeline struct {
	DetectorMaxRetries  int `toml:"detector_max_retries"`
	VerifierMaxRetries  int `toml:"verifier_max_retries"`
	DisburserMaxRetries int `toml:"disburser_max_retries"`
}

// Verification configures the verifier stage.
type Verification struct {
	// Threshold is the pass boundary: a score must be strictly greater to pass.
	Threshold int `toml:"threshold"`
}

// Funding configures disbursement amounts and recipient addresses.
type Funding struct {
	NGOAddress        string  `toml:"ngo_address"`
	GovernmentAddress string  `toml:"government_address"`
	ReliefAddress     string  `toml:"relief_address"`
	MinAmount         float64 `toml:"min_amount"`
	MaxAmount         float64 `toml:"max_amount"`
}

// Settlement configures the external ledger network client and the
// transaction manager's retry and confirmation policy.
type Settlement struct {
	// Mode selects the client: "sim" for the in-process simulator, "rpc"
	// for the JSON-RPC HTTP client.
	Mode                 string  `toml:"mode"`
	Endpoint             string  `toml:"endpoint"`
	RequestTimeout       int     `toml:"request_timeout"`
	BaseFee              int64   `toml:"base_fee"`
	FeeMultiplier        float64 `toml:"fee_multiplier"`
	MaxAttempts          int     `toml:"max_attempts"`
	RetryBackoff         int     `toml:"retry_backoff"`
	RetryBackoffCap      int     `toml:"retry_backoff_cap"`
	ConfirmationInterval int     `toml:"confirmation_interval"`
	ConfirmationDeadline int     `toml:"confirmation_deadline"`
}

// Orchestrator configures worker supervision.
type Orchestrator struct {
	HeartbeatTimeout  int `toml:"heartbeat_timeout"`
	RestartBackoff    int `toml:"restart_backoff"`
	RestartBackoffCap int `toml:"restart_backoff_cap"`
	HealthyWindow     int `toml:"healthy_window"`
	// MaxRestarts bounds consecutive restarts per worker; 0 means unlimited.
	MaxRestarts int `toml:"max_restarts"`
}

// Intake configures observation ingestion beyond the HTTP API.
type Intake struct {
	BridgeEnabled bool   `toml:"bridge_enabled"`
	BridgeDevice  string `toml:"bridge_device"`
	BridgeSource  string `toml:"bridge_source"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	Crashes        bool   `toml:"crashes"`
	DeadLetters    bool   `toml:"dead_letters"`
	Transactions   bool   `toml:"transactions"`
	Pipeline       bool   `toml:"pipeline"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
	// RetentionDays prunes timestamped daemon logs older than this many
	// days on startup. Zero disables pruning.
	RetentionDays int `toml:"retention_days"`
}

// Config encapsulates all configuration values for lifeline.
//
// Configuration sections by subsystem:
//   - Paths: data/log directories and the API bind address
//   - Queue: durable queue backend and polling cadence
//   - Pipeline: per-worker retry exhaustion limits
//   - Verification: score threshold
//   - Funding: recipient addresses and amount clamps
//   - Settlement: ledger network client, fees, confirmation policy
//   - Orchestrator: heartbeat and restart supervision
//   - Intake: hardware bridge ingestion
//   - Notifications: ntfy push notification settings
//   - Logging: log format and level
type Config struct {
	Paths         Paths         `toml:"paths"`
	Queue         Queue         `toml:"queue"`
	Pipeline      Pipeline      `toml:"pipeline"`
	Verification  Verification  `toml:"verification"`
	Funding       Funding       `toml:"funding"`
	Settlement    Settlement    `toml:"settlement"`
	Orchestrator  Orchestrator  `toml:"orchestrator"`
	Intake        Intake        `toml:"intake"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/lifeline/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned
// config has all path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	// A .env in the working directory supplies the environment fallbacks
	// normalize reads, so credentials stay out of the TOML file. A missing
	// .env is fine.
	_ = godotenv.Load()

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("lifeline.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// QueueDBPath returns the SQLite queue database location.
func (c *Config) QueueDBPath() string {
	return filepath.Join(c.Paths.DataDir, "queue.db")
}

// LedgerDBPath returns the SQLite transaction ledger database location.
func (c *Config) LedgerDBPath() string {
	return filepath.Join(c.Paths.DataDir, "ledger.db")
}

// LockPath returns the daemon single-instance lock file location.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.DataDir, "lifelined.lock")
}

// SocketPath returns the daemon IPC socket location.
func (c *Config) SocketPath() string {
	return filepath.Join(c.Paths.DataDir, "lifelined.sock")
}

// PIDPath returns the daemon pid file location.
func (c *Config) PIDPath() string {
	return filepath.Join(c.Paths.DataDir, "lifelined.pid")
}

// RecipientAddress resolves a configured recipient address by role.
func (c *Config) RecipientAddress(role string) string {
	switch role {
	case "emergency_ngo":
		return c.Funding.NGOAddress
	case "local_government":
		return c.Funding.GovernmentAddress
	case "disaster_relief":
		return c.Funding.ReliefAddress
	}
	return ""
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
