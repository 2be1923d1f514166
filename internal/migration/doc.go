// Package migration holds the configuration handed to the orchestration core
// and the environment that wires the forge clients, the ledger, the user
// resolver and the git transfer shared by every command.
package migration
