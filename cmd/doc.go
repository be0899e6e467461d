// Package cmd implements the command-line interface of dNet.
//
// The package is organized into several subpackages:
//
//   - serve: Runs the simulation side route server (bridge or listener mode)
//     with a set of demo routes
//   - host: Runs the out-of-process HTTP host the simulation connects to
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// Every flag can also be set as environment variable DNET_<FLAG>
// (e.g. DNET_LOG_LEVEL=debug), .env and .env.local are loaded on start.
//
// See dnet -help for a list of all commands.
package cmd
