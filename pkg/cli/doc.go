// Package cli provides common utilities for the birdnet command-line tool.
//
// This package includes:
//   - Output formatting (YAML, JSON, table, raw) with optional jq filtering
//   - Request file loading (YAML/JSON, or stdin)
//   - Human readable durations and sizes
//
// Example usage:
//
//	cli.Output(result, cli.OutputOptions{
//	    Format: cli.FormatTable,
//	    Query:  ".[] | select(.confidence > 0.5)",
//	})
package cli
