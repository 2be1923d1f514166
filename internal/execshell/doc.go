// Package execshell runs the git binary on behalf of the migration.
//
// ShellExecutor wraps a CommandRunner with structured logging that never
// reveals credentials embedded in remote URLs, and OSCommandRunner provides
// the default os/exec backed runner.
package execshell
