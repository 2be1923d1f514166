// Package cli constructs the forge-migrate command-line interface. It wires
// the Cobra command hierarchy, the layered configuration loader and the
// structured logger, and registers one subcommand per migration entry point.
package cli
