package mirrors

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lremane/gitlab-2-forge-migration/internal/forgejo"
	"github.com/lremane/gitlab-2-forge-migration/internal/gitrepo"
	"github.com/lremane/gitlab-2-forge-migration/internal/ledger"
	"github.com/lremane/gitlab-2-forge-migration/internal/migrationerrors"
)

const (
	gitCredentialUsernameConstant = "oauth2"
	credentialReferenceConstant   = "mirror.token"
	noCredentialReferenceConstant = "none"
	planMessageTemplate           = "PLAN-CREATE-MIRROR: %s -> %s (interval %s)\n"
	doneMessageTemplate           = "CREATE-MIRROR-DONE: %s -> %s\n"
	skipExistingMessageTemplate   = "CREATE-MIRROR-SKIP: %s (mirror to %s already exists)\n"
	skipFailedMessageTemplate     = "CREATE-MIRROR-SKIP: %s (error: %v)\n"
	nothingCompleteMessage        = "no completed repositories, nothing to mirror"
	mirrorCreatedMessage          = "push mirror created"
	mirrorExistsMessage           = "push mirror already configured"
	mirrorFailedMessage           = "push mirror not configured"
	mirrorSummaryMessage          = "mirror summary"
	logFieldRepositoryConstant    = "repository"
	logFieldRemoteConstant        = "remote"
	logFieldCreatedConstant       = "created"
	logFieldExistingConstant      = "existing"
	logFieldFailedConstant        = "failed"
	sourceAddressMissingMessage   = "source address unknown"
	listCompletedErrorTemplate    = "list completed repositories: %w"
	listMirrorsErrorTemplate      = "list push mirrors: %w"
	createMirrorErrorTemplate     = "create push mirror: %w"
	verifyRemoteErrorTemplate     = "source remote unreachable: %w"
	credentialsErrorTemplate      = "prepare source remote: %w"
	saveMirrorErrorTemplate       = "record mirror of %s: %w"
	failuresErrorTemplate         = "%d of %d mirrors failed: %w"
)

// ErrServiceNotConfigured indicates a service built without its collaborators.
var ErrServiceNotConfigured = errors.New("mirror service not configured")

// Store reads completed repositories and records configured mirrors.
type Store interface {
	CompletedRepositories(executionContext context.Context) ([]ledger.RepositoryRecord, error)
	SaveMirror(executionContext context.Context, mirror ledger.MirrorRecord) error
}

// Target lists and creates push mirrors.
type Target interface {
	ListPushMirrors(executionContext context.Context, owner string, name string) ([]forgejo.PushMirror, error)
	CreatePushMirror(executionContext context.Context, owner string, name string, option forgejo.CreatePushMirrorOption) (forgejo.PushMirror, error)
}

// RemoteVerifier checks that a remote answers with the supplied credentials.
type RemoteVerifier interface {
	ListReferences(executionContext context.Context, remoteURL string) ([]string, error)
}

// Dependencies wires the mirror service.
type Dependencies struct {
	Store  Store
	Target Target
	// Verifier is only required when VerifyRemote is set.
	Verifier     RemoteVerifier
	Logger       *zap.Logger
	Output       io.Writer
	Interval     time.Duration
	SyncOnCommit bool
	Username     string
	Token        string
	VerifyRemote bool
}

// Options adjusts one Configure call.
type Options struct {
	DryRun bool
}

// Result counts what Configure did.
type Result struct {
	Created  int
	Existing int
	Planned  int
	Failures []migrationerrors.MirrorConfigError
}

// Service configures push mirrors for completed repositories.
type Service struct {
	dependencies Dependencies
	logger       *zap.Logger
}

// NewService constructs the mirror service.
func NewService(dependencies Dependencies) (*Service, error) {
	if dependencies.Store == nil || dependencies.Target == nil || (dependencies.VerifyRemote && dependencies.Verifier == nil) {
		return nil, ErrServiceNotConfigured
	}
	logger := dependencies.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{dependencies: dependencies, logger: logger}, nil
}

// Configure creates one push mirror per completed repository, pointing at its
// source address. Repositories that already mirror to that address are left
// alone. A repository whose mirror cannot be configured does not stop the
// others; its MirrorConfigError is collected in the result.
func (service *Service) Configure(executionContext context.Context, options Options) (Result, error) {
	records, listError := service.dependencies.Store.CompletedRepositories(executionContext)
	if listError != nil {
		return Result{}, fmt.Errorf(listCompletedErrorTemplate, listError)
	}
	result := Result{}
	if len(records) == 0 {
		service.logger.Info(nothingCompleteMessage)
		return result, nil
	}

	for _, record := range records {
		if contextError := executionContext.Err(); contextError != nil {
			return result, contextError
		}
		configureError := service.configure(executionContext, record, options, &result)
		if configureError == nil {
			continue
		}
		var mirrorError migrationerrors.MirrorConfigError
		if !errors.As(configureError, &mirrorError) {
			return result, configureError
		}
		if isCancellation(mirrorError.Cause) {
			return result, mirrorError.Cause
		}
		service.logger.Warn(mirrorFailedMessage, zap.String(logFieldRepositoryConstant, record.TargetFullName()), zap.Error(mirrorError.Cause))
		service.printf(skipFailedMessageTemplate, record.TargetFullName(), mirrorError.Cause)
		result.Failures = append(result.Failures, mirrorError)
	}

	service.logger.Info(mirrorSummaryMessage,
		zap.Int(logFieldCreatedConstant, result.Created),
		zap.Int(logFieldExistingConstant, result.Existing),
		zap.Int(logFieldFailedConstant, len(result.Failures)),
	)
	if len(result.Failures) > 0 {
		failureErrors := make([]error, 0, len(result.Failures))
		for _, failure := range result.Failures {
			failureErrors = append(failureErrors, failure)
		}
		return result, fmt.Errorf(failuresErrorTemplate, len(result.Failures), len(records), errors.Join(failureErrors...))
	}
	return result, nil
}

func (service *Service) configure(executionContext context.Context, record ledger.RepositoryRecord, options Options, result *Result) error {
	repository := record.TargetFullName()
	remoteAddress := strings.TrimSpace(record.SourceHTTPURL)
	if len(remoteAddress) == 0 {
		return mirrorFailure(repository, errors.New(sourceAddressMissingMessage))
	}
	logger := service.logger.With(zap.String(logFieldRepositoryConstant, repository), zap.String(logFieldRemoteConstant, remoteAddress))

	existing, listError := service.dependencies.Target.ListPushMirrors(executionContext, record.TargetOwner, record.TargetName)
	if listError != nil {
		return mirrorFailure(repository, fmt.Errorf(listMirrorsErrorTemplate, listError))
	}
	for _, pushMirror := range existing {
		if gitrepo.SameRemote(pushMirror.RemoteAddress, remoteAddress) {
			logger.Debug(mirrorExistsMessage)
			service.printf(skipExistingMessageTemplate, repository, remoteAddress)
			result.Existing++
			if options.DryRun {
				return nil
			}
			return service.save(executionContext, record, remoteAddress)
		}
	}

	if options.DryRun {
		service.printf(planMessageTemplate, repository, remoteAddress, service.dependencies.Interval)
		result.Planned++
		return nil
	}

	if service.dependencies.VerifyRemote {
		verifyURL, credentialsError := gitrepo.WithCredentials(remoteAddress, service.username(), service.dependencies.Token)
		if credentialsError != nil {
			return mirrorFailure(repository, fmt.Errorf(credentialsErrorTemplate, credentialsError))
		}
		if _, verifyError := service.dependencies.Verifier.ListReferences(executionContext, verifyURL); verifyError != nil {
			return mirrorFailure(repository, fmt.Errorf(verifyRemoteErrorTemplate, verifyError))
		}
	}

	_, createError := service.dependencies.Target.CreatePushMirror(executionContext, record.TargetOwner, record.TargetName, forgejo.CreatePushMirrorOption{
		RemoteAddress:  remoteAddress,
		RemoteUsername: service.username(),
		RemotePassword: service.dependencies.Token,
		Interval:       service.dependencies.Interval.String(),
		SyncOnCommit:   service.dependencies.SyncOnCommit,
	})
	if createError != nil {
		return mirrorFailure(repository, fmt.Errorf(createMirrorErrorTemplate, createError))
	}
	logger.Info(mirrorCreatedMessage)
	service.printf(doneMessageTemplate, repository, remoteAddress)
	result.Created++
	return service.save(executionContext, record, remoteAddress)
}

func (service *Service) save(executionContext context.Context, record ledger.RepositoryRecord, remoteAddress string) error {
	credentialReference := noCredentialReferenceConstant
	if len(service.dependencies.Token) > 0 {
		credentialReference = credentialReferenceConstant
	}
	saveError := service.dependencies.Store.SaveMirror(context.WithoutCancel(executionContext), ledger.MirrorRecord{
		TargetRepositoryID:  record.TargetID,
		RemoteAddress:       gitrepo.NormalizeRemoteAddress(remoteAddress),
		CredentialReference: credentialReference,
		SyncInterval:        service.dependencies.Interval.String(),
	})
	if saveError != nil {
		return fmt.Errorf(saveMirrorErrorTemplate, record.TargetFullName(), saveError)
	}
	return nil
}

func (service *Service) username() string {
	if username := strings.TrimSpace(service.dependencies.Username); len(username) > 0 {
		return username
	}
	return gitCredentialUsernameConstant
}

func (service *Service) printf(format string, arguments ...any) {
	if service.dependencies.Output == nil {
		return
	}
	fmt.Fprintf(service.dependencies.Output, format, arguments...)
}

func mirrorFailure(repository string, cause error) error {
	return migrationerrors.MirrorConfigError{Repository: repository, Cause: cause}
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
