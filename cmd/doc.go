// Package cmd implements the command-line interface of ugKV. It provides a
// hierarchical command structure with operations for running the server and
// interacting with it as a client.
//
// The package is organized into several subpackages:
//
//   - kv: Client commands (set, get, del) and the perf benchmark
//   - serve: Starts and configures the server
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// Every flag can also be set as environment variable UGKV_<FLAG> (dashes
// replaced by underscores) or in a .env / .env.local file.
//
// See ugkv -help for a list of all commands.
package cmd
