// knxproj - KNX ETS project extraction
//
// This is the main entry point for the knxproj command. It reads ETS
// .knxproj archives (ETS4, ETS5 and ETS6, optionally password protected)
// and turns them into a cross-referenced JSON model, either on the command
// line, over HTTP or as retained MQTT messages.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// configEnvVar names the config file when --config is not given. Without
// either, defaults and KNXPROJ_* overrides apply.
const configEnvVar = "KNXPROJ_CONFIG"

func main() {
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run executes the command line in args, separated from main for testability.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	root := newRootCmd(stdout, stderr)
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

// getConfigPath returns the --config value, falling back to KNXPROJ_CONFIG.
func getConfigPath(flag string) string {
	if flag != "" {
		return flag
	}
	return os.Getenv(configEnvVar)
}
