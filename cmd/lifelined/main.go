// Command lifelined runs the lifeline daemon in the foreground. The
// lifeline CLI launches the same runtime through its hidden daemon
// subcommand; this binary exists for service managers that want to own
// the process directly.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"lifeline/internal/config"
	"lifeline/internal/daemonrun"
)

func main() {
	configPath := flag.String("config", "", "Configuration file path")
	logLevel := flag.String("log-level", "", "Override the configured log level (debug, info, warn, error)")
	flag.Parse()

	cfg, _, _, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	if err := daemonrun.Run(context.Background(), cfg, daemonrun.Options{LogLevel: *logLevel}); err != nil {
		fmt.Fprintf(os.Stderr, "lifelined: %v\n", err)
		os.Exit(1)
	}
}
