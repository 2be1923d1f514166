package execshell

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

const (
	startedTemplateConstant             = "Running %s"
	succeededTemplateConstant           = "Completed %s"
	failedTemplateConstant              = "%s failed with exit code %d%s"
	executionFailedTemplateConstant     = "%s failed: %s"
	cloneStartedTemplateConstant        = "Cloning %s"
	cloneSucceededTemplateConstant      = "Cloned %s"
	pushStartedTemplateConstant         = "Pushing %s to %s"
	pushSucceededTemplateConstant       = "Pushed %s to %s"
	lsRemoteStartedTemplateConstant     = "Listing references of %s"
	lsRemoteSucceededTemplateConstant   = "Listed references of %s"
	standardErrorSuffixTemplateConstant = ": %s"
	argumentSeparatorConstant           = " "
	referenceSeparatorConstant          = ", "
	redactedPasswordConstant            = "xxxxx"
	gitCloneSubcommandConstant          = "clone"
	gitPushSubcommandConstant           = "push"
	gitLSRemoteSubcommandConstant       = "ls-remote"
	flagPrefixConstant                  = "-"
	unknownFailureMessageConstant       = "unknown error"
	missingValueLabelConstant           = "unknown"
)

var credentialPattern = regexp.MustCompile(`(https?://)[^/\s:@]+(:[^/\s@]*)?@`)

// RedactCredentials removes user information from every URL embedded in text.
func RedactCredentials(text string) string {
	return credentialPattern.ReplaceAllString(text, "${1}"+redactedPasswordConstant+"@")
}

type messageStage int

const (
	messageStageStart messageStage = iota
	messageStageSuccess
	messageStageFailure
	messageStageExecutionFailure
)

// CommandMessageFormatter renders human readable, credential-free descriptions of git invocations.
type CommandMessageFormatter struct{}

// BuildStartedMessage describes a command about to run.
func (formatter CommandMessageFormatter) BuildStartedMessage(command ShellCommand) string {
	return formatter.buildMessage(command, ExecutionResult{}, nil, messageStageStart)
}

// BuildSuccessMessage describes a command that succeeded.
func (formatter CommandMessageFormatter) BuildSuccessMessage(command ShellCommand) string {
	return formatter.buildMessage(command, ExecutionResult{}, nil, messageStageSuccess)
}

// BuildFailureMessage describes a command that exited with a non-zero code.
func (formatter CommandMessageFormatter) BuildFailureMessage(command ShellCommand, result ExecutionResult) string {
	return formatter.buildMessage(command, result, nil, messageStageFailure)
}

// BuildExecutionFailureMessage describes a command that could not be run.
func (formatter CommandMessageFormatter) BuildExecutionFailureMessage(command ShellCommand, failure error) string {
	return formatter.buildMessage(command, ExecutionResult{}, failure, messageStageExecutionFailure)
}

func (formatter CommandMessageFormatter) buildMessage(command ShellCommand, result ExecutionResult, failure error, stage messageStage) string {
	commandLabel := describeCommand(command)
	switch stage {
	case messageStageFailure:
		return fmt.Sprintf(failedTemplateConstant, commandLabel, result.ExitCode, formatter.standardErrorSuffix(result.StandardError))
	case messageStageExecutionFailure:
		failureDescription := unknownFailureMessageConstant
		if failure != nil {
			failureDescription = RedactCredentials(failure.Error())
		}
		return fmt.Sprintf(executionFailedTemplateConstant, commandLabel, failureDescription)
	}

	positionalArguments := positional(command.Details.Arguments)
	if len(positionalArguments) == 0 {
		return formatter.genericMessage(commandLabel, stage)
	}

	switch positionalArguments[0] {
	case gitCloneSubcommandConstant:
		source := displayRemote(argumentAt(positionalArguments, 1))
		if stage == messageStageStart {
			return fmt.Sprintf(cloneStartedTemplateConstant, source)
		}
		return fmt.Sprintf(cloneSucceededTemplateConstant, source)
	case gitPushSubcommandConstant:
		destination := displayRemote(argumentAt(positionalArguments, 1))
		references := missingValueLabelConstant
		if len(positionalArguments) > 2 {
			references = strings.Join(positionalArguments[2:], referenceSeparatorConstant)
		}
		if stage == messageStageStart {
			return fmt.Sprintf(pushStartedTemplateConstant, references, destination)
		}
		return fmt.Sprintf(pushSucceededTemplateConstant, references, destination)
	case gitLSRemoteSubcommandConstant:
		remote := displayRemote(argumentAt(positionalArguments, 1))
		if stage == messageStageStart {
			return fmt.Sprintf(lsRemoteStartedTemplateConstant, remote)
		}
		return fmt.Sprintf(lsRemoteSucceededTemplateConstant, remote)
	default:
		return formatter.genericMessage(commandLabel, stage)
	}
}

func (formatter CommandMessageFormatter) genericMessage(commandLabel string, stage messageStage) string {
	if stage == messageStageStart {
		return fmt.Sprintf(startedTemplateConstant, commandLabel)
	}
	return fmt.Sprintf(succeededTemplateConstant, commandLabel)
}

func (formatter CommandMessageFormatter) standardErrorSuffix(standardError string) string {
	trimmedStandardError := strings.TrimSpace(standardError)
	if len(trimmedStandardError) == 0 {
		return ""
	}
	return fmt.Sprintf(standardErrorSuffixTemplateConstant, RedactCredentials(trimmedStandardError))
}

func describeCommand(command ShellCommand) string {
	parts := append([]string{string(command.Name)}, command.Details.Arguments...)
	return RedactCredentials(strings.Join(parts, argumentSeparatorConstant))
}

func positional(arguments []string) []string {
	positionalArguments := make([]string, 0, len(arguments))
	for _, argument := range arguments {
		if strings.HasPrefix(argument, flagPrefixConstant) {
			continue
		}
		positionalArguments = append(positionalArguments, argument)
	}
	return positionalArguments
}

func argumentAt(arguments []string, index int) string {
	if index < 0 || index >= len(arguments) {
		return missingValueLabelConstant
	}
	return arguments[index]
}

func displayRemote(remote string) string {
	parsedURL, parseError := url.Parse(remote)
	if parseError != nil || len(parsedURL.Host) == 0 {
		return RedactCredentials(remote)
	}
	parsedURL.User = nil
	return parsedURL.String()
}
