package preflight

import (
	"context"
	"fmt"
	"strings"

	"lifeline/internal/config"
)

// CheckSettlementFromConfig evaluates settlement readiness from config and
// connectivity.
func CheckSettlementFromConfig(cfg *config.Config) Result {
	const name = "Settlement network"

	if cfg == nil {
		return Result{Name: name, Detail: "Unknown"}
	}
	switch strings.TrimSpace(cfg.Settlement.Mode) {
	case "", "sim":
		return Result{Name: name, Passed: true, Detail: "Simulator"}
	case "rpc":
		if strings.TrimSpace(cfg.Settlement.Endpoint) == "" {
			return Result{Name: name, Detail: "Missing endpoint"}
		}
		return CheckSettlement(context.Background(), cfg)
	default:
		return Result{Name: name, Detail: fmt.Sprintf("Unsupported mode %q", cfg.Settlement.Mode)}
	}
}

// CheckNotificationsFromConfig evaluates notification readiness from config.
func CheckNotificationsFromConfig(cfg *config.Config) Result {
	const name = "Notifications"

	if cfg == nil {
		return Result{Name: name, Detail: "Unknown"}
	}
	if strings.TrimSpace(cfg.Notifications.NtfyTopic) == "" {
		return Result{Name: name, Detail: "Not configured"}
	}
	return Result{Name: name, Passed: true, Detail: "Configured"}
}

// CheckBridgeFromConfig evaluates intake bridge readiness from config and
// the device node.
func CheckBridgeFromConfig(cfg *config.Config) Result {
	const name = "Intake bridge"

	if cfg == nil {
		return Result{Name: name, Detail: "Unknown"}
	}
	if !cfg.Intake.BridgeEnabled {
		return Result{Name: name, Passed: true, Detail: "Disabled"}
	}
	check := CheckBridgeDevice(cfg.Intake.BridgeDevice)
	if check.Passed {
		return Result{Name: name, Passed: true, Detail: check.Detail}
	}
	return Result{Name: name, Detail: check.Detail}
}

// QueueBackendLabel renders a display-friendly description of the
// configured queue backend for status UIs.
func QueueBackendLabel(cfg *config.Config) string {
	if cfg == nil {
		return "unknown"
	}
	if cfg.Queue.Backend == "redis" {
		return fmt.Sprintf("redis (%s)", cfg.Queue.RedisAddr)
	}
	return fmt.Sprintf("sqlite (%s)", cfg.QueueDBPath())
}
