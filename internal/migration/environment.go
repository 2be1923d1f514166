package migration

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/lremane/gitlab-2-forge-migration/internal/execshell"
	"github.com/lremane/gitlab-2-forge-migration/internal/forgejo"
	"github.com/lremane/gitlab-2-forge-migration/internal/gitlab"
	"github.com/lremane/gitlab-2-forge-migration/internal/gitrepo"
	"github.com/lremane/gitlab-2-forge-migration/internal/ledger"
	"github.com/lremane/gitlab-2-forge-migration/internal/mapping"
	"github.com/lremane/gitlab-2-forge-migration/internal/restclient"
)

const (
	sourceClientErrorTemplate    = "configure source client: %w"
	targetClientErrorTemplate    = "configure target client: %w"
	ledgerErrorTemplate          = "open ledger: %w"
	resolverErrorTemplate        = "configure user resolver: %w"
	gitExecutorErrorTemplate     = "configure git executor: %w"
	environmentReadyMessage      = "migration environment ready"
	logFieldSourceHostConstant   = "source_host"
	logFieldLedgerPathConstant   = "ledger_path"
	logFieldWorkersConstant      = "workers"
	logFieldAdminTokenConstant   = "admin_token_configured"
	logFieldTargetRootConstant   = "target_base_url"
	logFieldSourceRootConstant   = "source_base_url"
	logFieldMirrorVerifyConstant = "mirror_verify_remote"
	logFieldRunIDConstant        = "run_id"
	logFieldCommandConstant      = "command"
	logFieldOutcomeConstant      = "outcome"
	runStartedMessageConstant    = "run started"
	runFinishedMessageConstant   = "run finished"
)

// Environment bundles the collaborators shared by the migrating commands.
type Environment struct {
	Configuration Configuration
	Logger        *zap.Logger
	Source        *gitlab.Client
	Target        *forgejo.Client
	Store         *ledger.Store
	Users         *mapping.UserResolver
	Transfer      *gitrepo.Transfer
}

// RetryPolicy converts the retry settings into the transport policy.
func (configuration Configuration) RetryPolicy() restclient.RetryPolicy {
	maxAttempts := uint(0)
	if configuration.Retry.MaxAttempts > 0 {
		maxAttempts = uint(configuration.Retry.MaxAttempts)
	}
	return restclient.RetryPolicy{
		MaxAttempts:     maxAttempts,
		InitialInterval: configuration.Retry.InitialInterval,
		MaxInterval:     configuration.Retry.MaxInterval,
	}
}

// NewSourceClient builds the GitLab client described by configuration.
func NewSourceClient(configuration Configuration, logger *zap.Logger) (*gitlab.Client, error) {
	sourceClient, clientError := gitlab.NewClient(gitlab.Options{
		BaseURL:     configuration.Source.BaseURL,
		Token:       configuration.Source.Token,
		HTTPClient:  &http.Client{Timeout: configuration.HTTP.Timeout},
		RetryPolicy: configuration.RetryPolicy(),
		Logger:      logger,
	})
	if clientError != nil {
		return nil, fmt.Errorf(sourceClientErrorTemplate, clientError)
	}
	return sourceClient, nil
}

// NewTargetClient builds the Forgejo client described by configuration.
func NewTargetClient(configuration Configuration, logger *zap.Logger) (*forgejo.Client, error) {
	targetClient, clientError := forgejo.NewClient(forgejo.Options{
		BaseURL:     configuration.Target.BaseURL,
		Token:       configuration.Target.Token,
		AdminToken:  configuration.Target.AdminToken,
		HTTPClient:  &http.Client{Timeout: configuration.HTTP.Timeout},
		RetryPolicy: configuration.RetryPolicy(),
		Logger:      logger,
	})
	if clientError != nil {
		return nil, fmt.Errorf(targetClientErrorTemplate, clientError)
	}
	return targetClient, nil
}

// Open validates configuration and wires a complete environment. The caller must Close it.
func Open(executionContext context.Context, configuration Configuration, logger *zap.Logger) (*Environment, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	sanitized := configuration.Sanitize()
	if validationError := sanitized.Validate(); validationError != nil {
		return nil, validationError
	}

	sourceClient, sourceError := NewSourceClient(sanitized, logger)
	if sourceError != nil {
		return nil, sourceError
	}
	targetClient, targetError := NewTargetClient(sanitized, logger)
	if targetError != nil {
		return nil, targetError
	}

	shellExecutor, executorError := execshell.NewShellExecutor(logger, execshell.NewOSCommandRunner())
	if executorError != nil {
		return nil, fmt.Errorf(gitExecutorErrorTemplate, executorError)
	}
	transfer, transferError := gitrepo.NewTransfer(shellExecutor, sanitized.Git.WorkDirectory)
	if transferError != nil {
		return nil, fmt.Errorf(gitExecutorErrorTemplate, transferError)
	}

	store, storeError := ledger.Open(executionContext, sanitized.Ledger.Path)
	if storeError != nil {
		return nil, fmt.Errorf(ledgerErrorTemplate, storeError)
	}

	resolver, resolverError := mapping.NewUserResolver(mapping.UserResolverDependencies{
		Source:              sourceClient,
		Target:              targetClient,
		Store:               store,
		Logger:              logger,
		FallbackEmailDomain: sanitized.Users.FallbackEmailDomain,
		SendNotify:          sanitized.Users.Notify,
	})
	if resolverError != nil {
		return nil, errors.Join(fmt.Errorf(resolverErrorTemplate, resolverError), store.Close())
	}

	logger.Info(environmentReadyMessage,
		zap.String(logFieldSourceRootConstant, sanitized.Source.BaseURL),
		zap.String(logFieldSourceHostConstant, sourceClient.Host()),
		zap.String(logFieldTargetRootConstant, sanitized.Target.BaseURL),
		zap.Bool(logFieldAdminTokenConstant, len(sanitized.Target.AdminToken) > 0),
		zap.String(logFieldLedgerPathConstant, sanitized.Ledger.Path),
		zap.Int(logFieldWorkersConstant, sanitized.Workers),
		zap.Bool(logFieldMirrorVerifyConstant, sanitized.Mirror.VerifyRemote),
	)

	return &Environment{
		Configuration: sanitized,
		Logger:        logger,
		Source:        sourceClient,
		Target:        targetClient,
		Store:         store,
		Users:         resolver,
		Transfer:      transfer,
	}, nil
}

// Close releases the ledger.
func (environment *Environment) Close() error {
	if environment == nil || environment.Store == nil {
		return nil
	}
	return environment.Store.Close()
}

// RunOutcome summarises how a recorded run ended.
type RunOutcome string

// Run outcomes stored in the ledger.
const (
	RunOutcomeSucceeded RunOutcome = "succeeded"
	RunOutcomeFailed    RunOutcome = "failed"
	RunOutcomeCancelled RunOutcome = "cancelled"
)

// Record executes action as a ledger run so every invocation is traceable by its run identifier.
func (environment *Environment) Record(executionContext context.Context, command string, action func(executionContext context.Context, logger *zap.Logger) error) error {
	return RecordRun(executionContext, environment.Store, environment.Logger, command, action)
}

// RunRecorder stores the start and end of command invocations.
type RunRecorder interface {
	BeginRun(executionContext context.Context, command string) (ledger.Run, error)
	FinishRun(executionContext context.Context, runID string, outcome string) error
}

// RecordRun executes action between BeginRun and FinishRun and hands it a logger tagged with the run identifier.
func RecordRun(executionContext context.Context, recorder RunRecorder, logger *zap.Logger, command string, action func(executionContext context.Context, logger *zap.Logger) error) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	run, beginError := recorder.BeginRun(executionContext, command)
	if beginError != nil {
		return beginError
	}
	runLogger := logger.With(zap.String(logFieldRunIDConstant, run.ID), zap.String(logFieldCommandConstant, command))
	runLogger.Info(runStartedMessageConstant)

	actionError := action(executionContext, runLogger)

	outcome := RunOutcomeSucceeded
	switch {
	case actionError == nil:
	case errors.Is(actionError, context.Canceled), errors.Is(actionError, context.DeadlineExceeded):
		outcome = RunOutcomeCancelled
	default:
		outcome = RunOutcomeFailed
	}

	finishError := recorder.FinishRun(context.WithoutCancel(executionContext), run.ID, string(outcome))
	runLogger.Info(runFinishedMessageConstant, zap.String(logFieldOutcomeConstant, string(outcome)))
	return errors.Join(actionError, finishError)
}
