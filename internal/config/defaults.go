package config

const (
	defaultDataDir = "~/.local/share/lifeline"
	defaultLogDir  = "~/.local/share/lifeline/logs"
	defaultAPIBind = "127.0.0.1:7787"

	defaultQueueBackend      = "sqlite"
	defaultPollInterval      = 1
	defaultVisibilityTimeout = 60
	defaultErrorRetryWait    = 10

	defaultMaxRetries = 3

	defaultVerificationThreshold = 75

	defaultNGOAddress        = "sim:emergency-ngo"
	defaultGovernmentAddress = "sim:local-government"
	defaultReliefAddress     = "sim:disaster-relief"
	defaultMinAmount         = 0.01
	defaultMaxAmount         = 2.0

	defaultSettlementMode       = "sim"
	defaultSettlementTimeout    = 10
	defaultBaseFee              = 20
	defaultFeeMultiplier        = 1.2
	defaultMaxAttempts          = 3
	defaultRetryBackoff         = 2
	defaultRetryBackoffCap      = 30
	defaultConfirmationInterval = 15
	defaultConfirmationDeadline = 300

	defaultHeartbeatTimeout  = 60
	defaultRestartBackoff    = 1
	defaultRestartBackoffCap = 60
	defaultHealthyWindow     = 60

	defaultBridgeDevice = "/dev/ttyUSB0"
	defaultBridgeSource = "serial-bridge"

	defaultNotifyTimeout = 10

	defaultLogFormat        = "console"
	defaultLogLevel         = "info"
	defaultLogRetentionDays = 60
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
			APIBind: defaultAPIBind,
		},
		Queue: Queue{
			Backend:           defaultQueueBackend,
			PollInterval:      defaultPollInterval,
			VisibilityTimeout: defaultVisibilityTimeout,
			ErrorRetryWait:    defaultErrorRetryWait,
			RedisAddr:         "127.0.0.1:6379",
		},
		Pipeline: Pipeline{
			DetectorMaxRetries:  defaultMaxRetries,
			VerifierMaxRetries:  defaultMaxRetries,
			DisburserMaxRetries: defaultMaxRetries,
		},
		Verification: Verification{
			Threshold: defaultVerificationThreshold,
		},
		Funding: Funding{
			MinAmount: defaultMinAmount,
			MaxAmount: defaultMaxAmount,
		},
		Settlement: Settlement{
			Mode:                 defaultSettlementMode,
			RequestTimeout:       defaultSettlementTimeout,
			BaseFee:              defaultBaseFee,
			FeeMultiplier:        defaultFeeMultiplier,
			MaxAttempts:          defaultMaxAttempts,
			RetryBackoff:         defaultRetryBackoff,
			RetryBackoffCap:      defaultRetryBackoffCap,
			ConfirmationInterval: defaultConfirmationInterval,
			ConfirmationDeadline: defaultConfirmationDeadline,
		},
		Orchestrator: Orchestrator{
			HeartbeatTimeout:  defaultHeartbeatTimeout,
			RestartBackoff:    defaultRestartBackoff,
			RestartBackoffCap: defaultRestartBackoffCap,
			HealthyWindow:     defaultHealthyWindow,
		},
		Intake: Intake{
			BridgeDevice: defaultBridgeDevice,
			BridgeSource: defaultBridgeSource,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyTimeout,
			Crashes:        true,
			DeadLetters:    true,
			Transactions:   true,
			Pipeline:       true,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
