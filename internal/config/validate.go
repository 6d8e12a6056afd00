package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateQueue(); err != nil {
		return err
	}
	if err := c.validateVerification(); err != nil {
		return err
	}
	if err := c.validateFunding(); err != nil {
		return err
	}
	if err := c.validateSettlement(); err != nil {
		return err
	}
	if err := c.validateOrchestrator(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateQueue() error {
	switch c.Queue.Backend {
	case "sqlite":
	case "redis":
		if strings.TrimSpace(c.Queue.RedisAddr) == "" {
			return errors.New("queue.redis_addr must be set when queue.backend is \"redis\"")
		}
	default:
		return fmt.Errorf("queue.backend must be \"sqlite\" or \"redis\", got %q", c.Queue.Backend)
	}
	if c.Queue.VisibilityTimeout <= c.Queue.PollInterval {
		return errors.New("queue.visibility_timeout must exceed queue.poll_interval")
	}
	return nil
}

func (c *Config) validateVerification() error {
	if c.Verification.Threshold < 0 || c.Verification.Threshold > 100 {
		return fmt.Errorf("verification.threshold must be within [0,100], got %d", c.Verification.Threshold)
	}
	return nil
}

func (c *Config) validateFunding() error {
	for name, addr := range map[string]string{
		"funding.ngo_address":        c.Funding.NGOAddress,
		"funding.government_address": c.Funding.GovernmentAddress,
		"funding.relief_address":     c.Funding.ReliefAddress,
	} {
		if strings.TrimSpace(addr) == "" {
			return fmt.Errorf("%s must be set", name)
		}
		if c.Settlement.Mode == "rpc" && strings.HasPrefix(addr, "sim:") {
			return fmt.Errorf("%s still uses a simulator placeholder; set a real address for rpc mode", name)
		}
	}
	if c.Funding.MinAmount >= c.Funding.MaxAmount {
		return fmt.Errorf("funding.min_amount (%v) must be below funding.max_amount (%v)", c.Funding.MinAmount, c.Funding.MaxAmount)
	}
	return nil
}

func (c *Config) validateSettlement() error {
	switch c.Settlement.Mode {
	case "sim":
	case "rpc":
		if c.Settlement.Endpoint == "" {
			defaultPath, err := DefaultConfigPath()
			if err != nil {
				defaultPath = "~/.config/lifeline/config.toml"
			}
			return fmt.Errorf("settlement.endpoint is required for rpc mode. Set SETTLEMENT_RPC_URL or edit %s (create with 'lifeline config init')", defaultPath)
		}
	default:
		return fmt.Errorf("settlement.mode must be \"sim\" or \"rpc\", got %q", c.Settlement.Mode)
	}
	if c.Settlement.FeeMultiplier <= 1 {
		return fmt.Errorf("settlement.fee_multiplier must exceed 1, got %v", c.Settlement.FeeMultiplier)
	}
	if c.Settlement.RetryBackoffCap < c.Settlement.RetryBackoff {
		return errors.New("settlement.retry_backoff_cap must be at least settlement.retry_backoff")
	}
	if c.Settlement.ConfirmationDeadline < c.Settlement.ConfirmationInterval {
		return errors.New("settlement.confirmation_deadline must be at least settlement.confirmation_interval")
	}
	return nil
}

func (c *Config) validateOrchestrator() error {
	if err := ensurePositiveMap(map[string]int{
		"queue.poll_interval":              c.Queue.PollInterval,
		"queue.visibility_timeout":         c.Queue.VisibilityTimeout,
		"queue.error_retry_wait":           c.Queue.ErrorRetryWait,
		"orchestrator.heartbeat_timeout":   c.Orchestrator.HeartbeatTimeout,
		"orchestrator.restart_backoff":     c.Orchestrator.RestartBackoff,
		"orchestrator.healthy_window":      c.Orchestrator.HealthyWindow,
		"settlement.request_timeout":       c.Settlement.RequestTimeout,
		"settlement.max_attempts":          c.Settlement.MaxAttempts,
		"settlement.confirmation_interval": c.Settlement.ConfirmationInterval,
	}); err != nil {
		return err
	}
	if c.Orchestrator.RestartBackoffCap < c.Orchestrator.RestartBackoff {
		return errors.New("orchestrator.restart_backoff_cap must be at least orchestrator.restart_backoff")
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for name, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive, got %d", name, value)
		}
	}
	return nil
}
