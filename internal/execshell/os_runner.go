package execshell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
)

const (
	environmentAssignmentTemplateConstant = "%s=%s"
	gitTerminalPromptVariableConstant     = "GIT_TERMINAL_PROMPT"
	gitTerminalPromptDisabledConstant     = "0"
)

// OSCommandRunner executes commands using the operating system facilities.
type OSCommandRunner struct{}

// NewOSCommandRunner constructs a runner backed by os/exec.
func NewOSCommandRunner() *OSCommandRunner {
	return &OSCommandRunner{}
}

// Run executes the command and returns its output. Interactive credential
// prompts are disabled so a rejected credential fails instead of blocking.
func (runner *OSCommandRunner) Run(executionContext context.Context, command ShellCommand) (ExecutionResult, error) {
	executable := exec.CommandContext(executionContext, string(command.Name), append([]string{}, command.Details.Arguments...)...)

	if len(command.Details.WorkingDirectory) > 0 {
		executable.Dir = command.Details.WorkingDirectory
	}

	environmentVariables := map[string]string{gitTerminalPromptVariableConstant: gitTerminalPromptDisabledConstant}
	for environmentKey, environmentValue := range command.Details.EnvironmentVariables {
		environmentVariables[environmentKey] = environmentValue
	}
	environmentKeys := make([]string, 0, len(environmentVariables))
	for environmentKey := range environmentVariables {
		environmentKeys = append(environmentKeys, environmentKey)
	}
	sort.Strings(environmentKeys)

	mergedEnvironment := append([]string{}, os.Environ()...)
	for _, environmentKey := range environmentKeys {
		mergedEnvironment = append(mergedEnvironment, fmt.Sprintf(environmentAssignmentTemplateConstant, environmentKey, environmentVariables[environmentKey]))
	}
	executable.Env = mergedEnvironment

	var standardOutputBuffer bytes.Buffer
	var standardErrorBuffer bytes.Buffer
	executable.Stdout = &standardOutputBuffer
	executable.Stderr = &standardErrorBuffer

	if len(command.Details.StandardInput) > 0 {
		executable.Stdin = bytes.NewReader(command.Details.StandardInput)
	}

	runError := executable.Run()
	executionResult := ExecutionResult{
		StandardOutput: standardOutputBuffer.String(),
		StandardError:  standardErrorBuffer.String(),
	}
	if runError == nil {
		return executionResult, nil
	}

	var exitError *exec.ExitError
	if errors.As(runError, &exitError) && executionContext.Err() == nil {
		executionResult.ExitCode = exitError.ExitCode()
		return executionResult, nil
	}
	if contextError := executionContext.Err(); contextError != nil {
		return ExecutionResult{}, contextError
	}
	return ExecutionResult{}, runError
}
