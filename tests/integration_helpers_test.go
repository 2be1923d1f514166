package tests

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const integrationCommandTimeout = 3 * time.Minute

func repositoryRoot(testInstance *testing.T) string {
	testInstance.Helper()
	currentWorkingDirectory, workingDirectoryError := os.Getwd()
	requireNoError(testInstance, workingDirectoryError, "")
	return filepath.Dir(currentWorkingDirectory)
}

func runIntegrationCommand(testInstance *testing.T, environment []string, arguments ...string) (string, error) {
	testInstance.Helper()
	executionContext, cancel := context.WithTimeout(context.Background(), integrationCommandTimeout)
	defer cancel()

	command := exec.CommandContext(executionContext, "go", append([]string{"run", "."}, arguments...)...)
	command.Dir = repositoryRoot(testInstance)
	command.Env = append(append([]string{}, os.Environ()...), environment...)

	outputBytes, runError := command.CombinedOutput()
	return string(outputBytes), runError
}

func filterStructuredOutput(rawOutput string) string {
	lines := strings.Split(rawOutput, "\n")
	var filtered []string
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if len(trimmed) == 0 {
			continue
		}
		if strings.HasPrefix(trimmed, "{") {
			continue
		}
		filtered = append(filtered, line)
	}
	if len(filtered) == 0 {
		return ""
	}
	return strings.Join(filtered, "\n") + "\n"
}

func requireNoError(testInstance *testing.T, err error, output string) {
	testInstance.Helper()
	if err != nil {
		testInstance.Fatalf("command failed: %v\n%s", err, output)
	}
}
