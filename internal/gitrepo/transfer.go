package gitrepo

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/lremane/gitlab-2-forge-migration/internal/execshell"
)

const (
	gitCloneSubcommandConstant        = "clone"
	gitMirrorFlagConstant             = "--mirror"
	gitPushSubcommandConstant         = "push"
	gitForceFlagConstant              = "--force"
	gitLSRemoteSubcommandConstant     = "ls-remote"
	gitRefsFlagConstant               = "--refs"
	branchesRefSpecConstant           = "+refs/heads/*:refs/heads/*"
	tagsRefSpecConstant               = "+refs/tags/*:refs/tags/*"
	temporaryDirectoryPatternConstant = "forge-migration-*"
	clonedRepositoryDirectoryConstant = "repository.git"
	referenceLineFieldSeparator       = "\t"
	workDirectoryErrorTemplate        = "unable to prepare work directory: %w"
	cloneErrorTemplateConstant        = "unable to clone source: %w"
	pushErrorTemplateConstant         = "unable to push to target: %w"
	listReferencesErrorTemplate       = "unable to list remote references: %w"
	executorNotConfiguredMessage      = "git executor not configured"
)

var missingRemoteMarkers = []string{
	"not found",
	"does not appear to be a git repository",
}

// ErrGitExecutorNotConfigured indicates a Transfer constructed without an executor.
var ErrGitExecutorNotConfigured = errors.New(executorNotConfiguredMessage)

// GitExecutor runs git commands.
type GitExecutor interface {
	ExecuteGit(executionContext context.Context, details execshell.CommandDetails) (execshell.ExecutionResult, error)
}

// Transfer copies repositories between remotes through a temporary bare clone.
type Transfer struct {
	executor      GitExecutor
	workDirectory string
}

// NewTransfer constructs a Transfer. An empty workDirectory uses the system temporary directory.
func NewTransfer(executor GitExecutor, workDirectory string) (*Transfer, error) {
	if executor == nil {
		return nil, ErrGitExecutorNotConfigured
	}
	return &Transfer{executor: executor, workDirectory: strings.TrimSpace(workDirectory)}, nil
}

// CopyAll mirrors every branch and tag of sourceURL into destinationURL. Both
// URLs carry their own credentials. The temporary clone is always removed.
func (transfer *Transfer) CopyAll(executionContext context.Context, sourceURL string, destinationURL string) error {
	if len(transfer.workDirectory) > 0 {
		if creationError := os.MkdirAll(transfer.workDirectory, 0o755); creationError != nil {
			return fmt.Errorf(workDirectoryErrorTemplate, creationError)
		}
	}

	temporaryDirectory, temporaryDirectoryError := os.MkdirTemp(transfer.workDirectory, temporaryDirectoryPatternConstant)
	if temporaryDirectoryError != nil {
		return fmt.Errorf(workDirectoryErrorTemplate, temporaryDirectoryError)
	}
	defer os.RemoveAll(temporaryDirectory)

	clonedRepositoryPath := filepath.Join(temporaryDirectory, clonedRepositoryDirectoryConstant)

	_, cloneError := transfer.executor.ExecuteGit(executionContext, execshell.CommandDetails{
		Arguments:        []string{gitCloneSubcommandConstant, gitMirrorFlagConstant, sourceURL, clonedRepositoryPath},
		WorkingDirectory: temporaryDirectory,
	})
	if cloneError != nil {
		return fmt.Errorf(cloneErrorTemplateConstant, cloneError)
	}

	_, pushError := transfer.executor.ExecuteGit(executionContext, execshell.CommandDetails{
		Arguments:        []string{gitPushSubcommandConstant, gitForceFlagConstant, destinationURL, branchesRefSpecConstant, tagsRefSpecConstant},
		WorkingDirectory: clonedRepositoryPath,
	})
	if pushError != nil {
		return fmt.Errorf(pushErrorTemplateConstant, pushError)
	}

	return nil
}

// ListReferences returns the reference names advertised by a remote.
func (transfer *Transfer) ListReferences(executionContext context.Context, remoteURL string) ([]string, error) {
	executionResult, listError := transfer.executor.ExecuteGit(executionContext, execshell.CommandDetails{
		Arguments: []string{gitLSRemoteSubcommandConstant, gitRefsFlagConstant, remoteURL},
	})
	if listError != nil {
		return nil, fmt.Errorf(listReferencesErrorTemplate, listError)
	}

	references := make([]string, 0)
	for _, line := range strings.Split(executionResult.StandardOutput, "\n") {
		fields := strings.Split(strings.TrimSpace(line), referenceLineFieldSeparator)
		if len(fields) != 2 {
			continue
		}
		references = append(references, strings.TrimSpace(fields[1]))
	}
	return references, nil
}

// IsRemoteMissing reports whether a git failure means the remote repository does not exist.
func IsRemoteMissing(err error) bool {
	var failedError execshell.CommandFailedError
	if !errors.As(err, &failedError) {
		return false
	}
	standardError := strings.ToLower(failedError.Result.StandardError)
	for _, marker := range missingRemoteMarkers {
		if strings.Contains(standardError, marker) {
			return true
		}
	}
	return false
}
