package execshell

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

const (
	commandFailedErrorTemplateConstant    = "%s exited with code %d: %s"
	commandExecutionErrorTemplateConstant = "%s could not be executed: %v"
	loggerNotConfiguredMessageConstant    = "shell executor logger not configured"
	runnerNotConfiguredMessageConstant    = "shell executor command runner not configured"
)

// CommandName identifies an executable.
type CommandName string

// CommandGit is the only executable the migration runs.
const CommandGit CommandName = CommandName("git")

// CommandDetails describes the arguments and environment of a command invocation.
type CommandDetails struct {
	Arguments            []string
	WorkingDirectory     string
	EnvironmentVariables map[string]string
	StandardInput        []byte
}

// ShellCommand couples an executable with its invocation details.
type ShellCommand struct {
	Name    CommandName
	Details CommandDetails
}

// ExecutionResult captures the observable outcome of a finished process.
type ExecutionResult struct {
	StandardOutput string
	StandardError  string
	ExitCode       int
}

// CommandRunner executes shell commands.
type CommandRunner interface {
	Run(executionContext context.Context, command ShellCommand) (ExecutionResult, error)
}

// ErrLoggerNotConfigured indicates a missing logger dependency.
var ErrLoggerNotConfigured = errors.New(loggerNotConfiguredMessageConstant)

// ErrCommandRunnerNotConfigured indicates a missing runner dependency.
var ErrCommandRunnerNotConfigured = errors.New(runnerNotConfiguredMessageConstant)

// CommandFailedError reports a process that exited with a non-zero code.
type CommandFailedError struct {
	Command ShellCommand
	Result  ExecutionResult
}

// Error describes the failure with credentials removed.
func (failedError CommandFailedError) Error() string {
	return fmt.Sprintf(commandFailedErrorTemplateConstant, describeCommand(failedError.Command), failedError.Result.ExitCode, RedactCredentials(strings.TrimSpace(failedError.Result.StandardError)))
}

// CommandExecutionError reports a process that could not be started or awaited.
type CommandExecutionError struct {
	Command ShellCommand
	Cause   error
}

// Error describes the failure with credentials removed.
func (executionError CommandExecutionError) Error() string {
	return fmt.Sprintf(commandExecutionErrorTemplateConstant, describeCommand(executionError.Command), RedactCredentials(fmt.Sprint(executionError.Cause)))
}

// Unwrap exposes the underlying cause.
func (executionError CommandExecutionError) Unwrap() error {
	return executionError.Cause
}
