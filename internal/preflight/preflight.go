package preflight

import (
	"context"

	"lifeline/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes all applicable preflight checks for the given config.
// Checks are only run when the corresponding feature is enabled.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	var results []Result

	// Data and log directories (always checked)
	results = append(results, CheckDirectoryAccess("Data directory", cfg.Paths.DataDir))
	results = append(results, CheckDirectoryAccess("Log directory", cfg.Paths.LogDir))

	// Queue storage
	if cfg.Queue.Backend == "redis" {
		results = append(results, CheckRedis(ctx, cfg))
	} else {
		results = append(results, CheckQueueStore(ctx, cfg))
	}

	// Ledger storage (always checked)
	results = append(results, CheckLedgerStore(ctx, cfg))

	// Settlement network
	results = append(results, CheckSettlement(ctx, cfg))

	// Hardware intake bridge
	if cfg.Intake.BridgeEnabled {
		results = append(results, CheckBridgeDevice(cfg.Intake.BridgeDevice))
	}

	return results
}

// Passed reports whether every result in the set passed.
func Passed(results []Result) bool {
	for _, r := range results {
		if !r.Passed {
			return false
		}
	}
	return true
}
