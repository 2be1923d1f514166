package users

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/lremane/gitlab-2-forge-migration/internal/forgejo"
	"github.com/lremane/gitlab-2-forge-migration/internal/gitlab"
	"github.com/lremane/gitlab-2-forge-migration/internal/ledger"
	"github.com/lremane/gitlab-2-forge-migration/internal/migrationerrors"
)

const (
	userSkippedMessageConstant     = "skipping source account"
	userFailedMessageConstant      = "account migration failed"
	keyImportedMessageConstant     = "ssh key imported"
	migrationDoneMessageConstant   = "account migration finished"
	logFieldUsernameConstant       = "username"
	logFieldSourceIDConstant       = "source_id"
	logFieldTargetUserConstant     = "target_user"
	logFieldKeyTitleConstant       = "key_title"
	logFieldReasonConstant         = "reason"
	logFieldMappedConstant         = "mapped_count"
	logFieldKeysConstant           = "keys_imported"
	logFieldFailedConstant         = "failed_count"
	logFieldMappingErrorConstant   = "mapping_error"
	reasonBotConstant              = "bot account"
	reasonConfiguredConstant       = "listed in users.skip_usernames"
	listUsersErrorTemplate         = "list source accounts: %w"
	listSourceKeysErrorTemplate    = "list source keys of %s: %w"
	listTargetKeysErrorTemplate    = "list target keys of %s: %w"
	createKeyErrorTemplate         = "import key %q for %s: %w"
	untitledKeyTemplate            = "key %d"
	migrateUsersIncompleteTemplate = "%d of %d accounts failed to migrate"
)

// ErrServiceNotConfigured indicates a service built without its collaborators.
var ErrServiceNotConfigured = errors.New("user migration service not configured")

// SourceDirectory lists source accounts and their keys.
type SourceDirectory interface {
	ListUsers(executionContext context.Context) ([]gitlab.User, error)
	ListUserKeys(executionContext context.Context, userID int64) ([]gitlab.SSHKey, error)
}

// TargetKeys lists and registers target SSH keys.
type TargetKeys interface {
	ListUserKeys(executionContext context.Context, login string) ([]forgejo.PublicKey, error)
	CreateUserKey(executionContext context.Context, login string, option forgejo.CreateKeyOption) (forgejo.PublicKey, error)
}

// Resolver maps a source account to a target account, creating it when missing.
type Resolver interface {
	Resolve(executionContext context.Context, reference gitlab.UserReference) (ledger.UserMapping, error)
}

// Dependencies wires the user migration service.
type Dependencies struct {
	Source        SourceDirectory
	Target        TargetKeys
	Resolver      Resolver
	Logger        *zap.Logger
	SkipUsernames []string
}

// Failure records one account that could not be migrated.
type Failure struct {
	Username string
	Err      error
}

// Result summarises a user migration run.
type Result struct {
	Mapped       int
	Collisions   int
	KeysImported int
	Skipped      int
	Failures     []Failure
}

// Service migrates accounts and SSH keys.
type Service struct {
	source        SourceDirectory
	target        TargetKeys
	resolver      Resolver
	logger        *zap.Logger
	skipUsernames map[string]struct{}
}

// NewService constructs the user migration service.
func NewService(dependencies Dependencies) (*Service, error) {
	if dependencies.Source == nil || dependencies.Target == nil || dependencies.Resolver == nil {
		return nil, ErrServiceNotConfigured
	}
	logger := dependencies.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	skipUsernames := make(map[string]struct{}, len(dependencies.SkipUsernames))
	for _, username := range dependencies.SkipUsernames {
		skipUsernames[strings.ToLower(strings.TrimSpace(username))] = struct{}{}
	}
	return &Service{
		source:        dependencies.Source,
		target:        dependencies.Target,
		resolver:      dependencies.Resolver,
		logger:        logger,
		skipUsernames: skipUsernames,
	}, nil
}

// Migrate maps every source account to a target account and imports its SSH
// keys. A failing account is recorded and the run continues with the next one.
func (service *Service) Migrate(executionContext context.Context) (Result, error) {
	sourceUsers, listError := service.source.ListUsers(executionContext)
	if listError != nil {
		return Result{}, fmt.Errorf(listUsersErrorTemplate, listError)
	}

	var result Result
	for _, sourceUser := range sourceUsers {
		if contextError := executionContext.Err(); contextError != nil {
			return result, contextError
		}
		if reason, skip := service.skipReason(sourceUser); skip {
			result.Skipped++
			service.logger.Info(userSkippedMessageConstant, zap.String(logFieldUsernameConstant, sourceUser.Username), zap.String(logFieldReasonConstant, reason))
			continue
		}

		userMapping, resolveError := service.resolver.Resolve(executionContext, gitlab.UserReference{ID: sourceUser.ID, Username: sourceUser.Username, Name: sourceUser.Name})
		if resolveError != nil {
			if isCancellation(resolveError) {
				return result, resolveError
			}
			service.recordFailure(&result, sourceUser, resolveError)
			continue
		}
		result.Mapped++
		if userMapping.Collision {
			result.Collisions++
		}

		importedKeys, keysError := service.importKeys(executionContext, sourceUser, userMapping.TargetUsername)
		result.KeysImported += importedKeys
		if keysError != nil {
			if isCancellation(keysError) {
				return result, keysError
			}
			service.recordFailure(&result, sourceUser, keysError)
		}
	}

	service.logger.Info(migrationDoneMessageConstant,
		zap.Int(logFieldMappedConstant, result.Mapped),
		zap.Int(logFieldKeysConstant, result.KeysImported),
		zap.Int(logFieldFailedConstant, len(result.Failures)),
	)
	if len(result.Failures) > 0 {
		failureErrors := make([]error, 0, len(result.Failures))
		for _, failure := range result.Failures {
			failureErrors = append(failureErrors, failure.Err)
		}
		return result, fmt.Errorf(migrateUsersIncompleteTemplate+": %w", len(result.Failures), len(sourceUsers), errors.Join(failureErrors...))
	}
	return result, nil
}

func (service *Service) importKeys(executionContext context.Context, sourceUser gitlab.User, targetLogin string) (int, error) {
	sourceKeys, sourceError := service.source.ListUserKeys(executionContext, sourceUser.ID)
	if sourceError != nil {
		return 0, fmt.Errorf(listSourceKeysErrorTemplate, sourceUser.Username, sourceError)
	}
	if len(sourceKeys) == 0 {
		return 0, nil
	}
	targetKeys, targetError := service.target.ListUserKeys(executionContext, targetLogin)
	if targetError != nil {
		return 0, fmt.Errorf(listTargetKeysErrorTemplate, targetLogin, targetError)
	}

	existingTitles := make(map[string]struct{}, len(targetKeys))
	existingKeys := make(map[string]struct{}, len(targetKeys))
	for _, targetKey := range targetKeys {
		existingTitles[targetKey.Title] = struct{}{}
		existingKeys[keyMaterial(targetKey.Key)] = struct{}{}
	}

	imported := 0
	for _, sourceKey := range sourceKeys {
		title := strings.TrimSpace(sourceKey.Title)
		if len(title) == 0 {
			title = fmt.Sprintf(untitledKeyTemplate, sourceKey.ID)
		}
		if _, exists := existingTitles[title]; exists {
			continue
		}
		if _, exists := existingKeys[keyMaterial(sourceKey.Key)]; exists {
			continue
		}
		_, createError := service.target.CreateUserKey(executionContext, targetLogin, forgejo.CreateKeyOption{Title: title, Key: strings.TrimSpace(sourceKey.Key)})
		if createError != nil {
			return imported, fmt.Errorf(createKeyErrorTemplate, title, targetLogin, createError)
		}
		existingTitles[title] = struct{}{}
		existingKeys[keyMaterial(sourceKey.Key)] = struct{}{}
		imported++
		service.logger.Info(keyImportedMessageConstant, zap.String(logFieldTargetUserConstant, targetLogin), zap.String(logFieldKeyTitleConstant, title))
	}
	return imported, nil
}

func (service *Service) skipReason(sourceUser gitlab.User) (string, bool) {
	if sourceUser.Bot {
		return reasonBotConstant, true
	}
	if _, listed := service.skipUsernames[strings.ToLower(sourceUser.Username)]; listed {
		return reasonConfiguredConstant, true
	}
	return "", false
}

func (service *Service) recordFailure(result *Result, sourceUser gitlab.User, failure error) {
	result.Failures = append(result.Failures, Failure{Username: sourceUser.Username, Err: failure})
	service.logger.Warn(userFailedMessageConstant,
		zap.String(logFieldUsernameConstant, sourceUser.Username),
		zap.Int64(logFieldSourceIDConstant, sourceUser.ID),
		zap.Bool(logFieldMappingErrorConstant, isMappingError(failure)),
		zap.Error(failure),
	)
}

// keyMaterial strips the comment of an authorized_keys line so the same key with different comments compares equal.
func keyMaterial(key string) string {
	fields := strings.Fields(key)
	if len(fields) >= 2 {
		return fields[0] + " " + fields[1]
	}
	return strings.TrimSpace(key)
}

func isMappingError(err error) bool {
	var mappingError migrationerrors.MappingError
	return errors.As(err, &mappingError)
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
