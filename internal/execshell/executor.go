package execshell

import (
	"context"

	"go.uber.org/zap"
)

const (
	logFieldCommandConstant          = "command"
	logFieldWorkingDirectoryConstant = "working_directory"
	logFieldExitCodeConstant         = "exit_code"
	logFieldErrorConstant            = "error"
)

// ShellExecutor runs commands through a CommandRunner and logs every invocation.
type ShellExecutor struct {
	logger    *zap.Logger
	runner    CommandRunner
	formatter CommandMessageFormatter
}

// NewShellExecutor validates the dependencies and constructs a ShellExecutor.
func NewShellExecutor(logger *zap.Logger, runner CommandRunner) (*ShellExecutor, error) {
	if logger == nil {
		return nil, ErrLoggerNotConfigured
	}
	if runner == nil {
		return nil, ErrCommandRunnerNotConfigured
	}
	return &ShellExecutor{logger: logger, runner: runner}, nil
}

// ExecuteGit runs git with the supplied details.
func (executor *ShellExecutor) ExecuteGit(executionContext context.Context, details CommandDetails) (ExecutionResult, error) {
	return executor.execute(executionContext, ShellCommand{Name: CommandGit, Details: details})
}

func (executor *ShellExecutor) execute(executionContext context.Context, command ShellCommand) (ExecutionResult, error) {
	commandFields := []zap.Field{
		zap.String(logFieldCommandConstant, describeCommand(command)),
		zap.String(logFieldWorkingDirectoryConstant, command.Details.WorkingDirectory),
	}

	executor.logger.Debug(executor.formatter.BuildStartedMessage(command), commandFields...)

	executionResult, runError := executor.runner.Run(executionContext, command)
	if runError != nil {
		executor.logger.Warn(
			executor.formatter.BuildExecutionFailureMessage(command, runError),
			append(commandFields, zap.String(logFieldErrorConstant, RedactCredentials(runError.Error())))...,
		)
		return ExecutionResult{}, CommandExecutionError{Command: command, Cause: runError}
	}

	if executionResult.ExitCode != 0 {
		executor.logger.Warn(
			executor.formatter.BuildFailureMessage(command, executionResult),
			append(commandFields, zap.Int(logFieldExitCodeConstant, executionResult.ExitCode))...,
		)
		return ExecutionResult{}, CommandFailedError{Command: command, Result: executionResult}
	}

	executor.logger.Info(executor.formatter.BuildSuccessMessage(command), commandFields...)
	return executionResult, nil
}
