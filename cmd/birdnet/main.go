// Package main is the entry point for the birdnet CLI.
//
// Usage:
//
//	birdnet [flags] <command> [subcommand] [args]
//
// Commands:
//
//	config     - Configuration management (contexts, services)
//	labels     - List the species vocabulary of the configured classifier
//	predict    - Classify a raw PCM recording chunk by chunk
//	serve      - Serve the prediction message contract over WebSocket
//	artifacts  - Inspect and publish classifier artifacts
//	version    - Show version information
package main

import (
	"fmt"
	"os"

	"github.com/FrLars21/bioacoustics/cmd/birdnet/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
