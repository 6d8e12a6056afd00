package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeQueue()
	c.normalizePipeline()
	c.normalizeFunding()
	c.normalizeSettlement()
	c.normalizeOrchestrator()
	c.normalizeIntake()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if c.Paths.APIBind == "" {
		c.Paths.APIBind = defaultAPIBind
	}
	return nil
}

func (c *Config) normalizeQueue() {
	c.Queue.Backend = strings.ToLower(strings.TrimSpace(c.Queue.Backend))
	if c.Queue.Backend == "" {
		c.Queue.Backend = defaultQueueBackend
	}
	if c.Queue.PollInterval <= 0 {
		c.Queue.PollInterval = defaultPollInterval
	}
	if c.Queue.VisibilityTimeout <= 0 {
		c.Queue.VisibilityTimeout = defaultVisibilityTimeout
	}
	if c.Queue.ErrorRetryWait <= 0 {
		c.Queue.ErrorRetryWait = defaultErrorRetryWait
	}
	c.Queue.RedisAddr = strings.TrimSpace(c.Queue.RedisAddr)
	if c.Queue.RedisPassword == "" {
		if value, ok := os.LookupEnv("LIFELINE_REDIS_PASSWORD"); ok {
			c.Queue.RedisPassword = strings.TrimSpace(value)
		}
	}
}

func (c *Config) normalizePipeline() {
	if c.Pipeline.DetectorMaxRetries <= 0 {
		c.Pipeline.DetectorMaxRetries = defaultMaxRetries
	}
	if c.Pipeline.VerifierMaxRetries <= 0 {
		c.Pipeline.VerifierMaxRetries = defaultMaxRetries
	}
	if c.Pipeline.DisburserMaxRetries <= 0 {
		c.Pipeline.DisburserMaxRetries = defaultMaxRetries
	}
}

func (c *Config) normalizeFunding() {
	if c.Funding.NGOAddress == "" {
		if value, ok := os.LookupEnv("EMERGENCY_NGO_ADDRESS"); ok {
			c.Funding.NGOAddress = strings.TrimSpace(value)
		}
	}
	if c.Funding.NGOAddress == "" {
		c.Funding.NGOAddress = defaultNGOAddress
	}
	if c.Funding.GovernmentAddress == "" {
		if value, ok := os.LookupEnv("LOCAL_GOVERNMENT_ADDRESS"); ok {
			c.Funding.GovernmentAddress = strings.TrimSpace(value)
		}
	}
	if c.Funding.GovernmentAddress == "" {
		c.Funding.GovernmentAddress = defaultGovernmentAddress
	}
	if c.Funding.ReliefAddress == "" {
		if value, ok := os.LookupEnv("DISASTER_RELIEF_ADDRESS"); ok {
			c.Funding.ReliefAddress = strings.TrimSpace(value)
		}
	}
	if c.Funding.ReliefAddress == "" {
		c.Funding.ReliefAddress = defaultReliefAddress
	}
	if c.Funding.MinAmount <= 0 {
		c.Funding.MinAmount = defaultMinAmount
	}
	if c.Funding.MaxAmount <= 0 {
		c.Funding.MaxAmount = defaultMaxAmount
	}
}

func (c *Config) normalizeSettlement() {
	c.Settlement.Mode = strings.ToLower(strings.TrimSpace(c.Settlement.Mode))
	if c.Settlement.Mode == "" {
		c.Settlement.Mode = defaultSettlementMode
	}
	c.Settlement.Endpoint = strings.TrimSpace(c.Settlement.Endpoint)
	if c.Settlement.Endpoint == "" {
		if value, ok := os.LookupEnv("SETTLEMENT_RPC_URL"); ok {
			c.Settlement.Endpoint = strings.TrimSpace(value)
		}
	}
	if c.Settlement.RequestTimeout <= 0 {
		c.Settlement.RequestTimeout = defaultSettlementTimeout
	}
	if c.Settlement.BaseFee <= 0 {
		c.Settlement.BaseFee = defaultBaseFee
	}
	if c.Settlement.FeeMultiplier <= 0 {
		c.Settlement.FeeMultiplier = defaultFeeMultiplier
	}
	if c.Settlement.MaxAttempts <= 0 {
		c.Settlement.MaxAttempts = defaultMaxAttempts
	}
	if c.Settlement.RetryBackoff <= 0 {
		c.Settlement.RetryBackoff = defaultRetryBackoff
	}
	if c.Settlement.RetryBackoffCap <= 0 {
		c.Settlement.RetryBackoffCap = defaultRetryBackoffCap
	}
	if c.Settlement.ConfirmationInterval <= 0 {
		c.Settlement.ConfirmationInterval = defaultConfirmationInterval
	}
	if c.Settlement.ConfirmationDeadline <= 0 {
		c.Settlement.ConfirmationDeadline = defaultConfirmationDeadline
	}
}

func (c *Config) normalizeOrchestrator() {
	if c.Orchestrator.HeartbeatTimeout <= 0 {
		c.Orchestrator.HeartbeatTimeout = defaultHeartbeatTimeout
	}
	if c.Orchestrator.RestartBackoff <= 0 {
		c.Orchestrator.RestartBackoff = defaultRestartBackoff
	}
	if c.Orchestrator.RestartBackoffCap <= 0 {
		c.Orchestrator.RestartBackoffCap = defaultRestartBackoffCap
	}
	if c.Orchestrator.HealthyWindow <= 0 {
		c.Orchestrator.HealthyWindow = defaultHealthyWindow
	}
	if c.Orchestrator.MaxRestarts < 0 {
		c.Orchestrator.MaxRestarts = 0
	}
}

func (c *Config) normalizeIntake() {
	c.Intake.BridgeDevice = strings.TrimSpace(c.Intake.BridgeDevice)
	if c.Intake.BridgeDevice == "" {
		c.Intake.BridgeDevice = defaultBridgeDevice
	}
	c.Intake.BridgeSource = strings.TrimSpace(c.Intake.BridgeSource)
	if c.Intake.BridgeSource == "" {
		c.Intake.BridgeSource = defaultBridgeSource
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.RetentionDays < 0 {
		c.Logging.RetentionDays = 0
	}
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.NtfyTopic == "" {
		if value, ok := os.LookupEnv("LIFELINE_NTFY_TOPIC"); ok {
			c.Notifications.NtfyTopic = strings.TrimSpace(value)
		}
	}
	if c.Notifications.RequestTimeout <= 0 {
		c.Notifications.RequestTimeout = defaultNotifyTimeout
	}
}
