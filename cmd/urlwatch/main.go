// Package main is the entry point for the urlwatch CLI.
//
// urlwatch checks registered URLs on a fixed cadence and records connection,
// time-to-first-byte and response timings for every check.
//
// Usage:
//
//	urlwatch serve -c urlwatch.yaml              # Run the scheduler and inspection API
//	urlwatch add https://example.com 30 'Welcome' # Register a URL
//	urlwatch list                                # Show the watch list
//	urlwatch show 1 --checks 20                  # Show a watch item and its recent checks
//	urlwatch version                             # Show version info
package main

import "os"

// Version information - set at build time via ldflags.
// Example: go build -ldflags "-X main.version=1.0.0"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		// Cobra already prints the error, just exit with code 1
		os.Exit(1)
	}
}
