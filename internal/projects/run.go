package projects

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
	unresolvedReferenceMessageConstant = "reference degraded"
	logFieldItemKindConstant           = "item_kind"
	logFieldItemConstant               = "source_item"
	logFieldReferenceKindConstant      = "reference_kind"
	logFieldReferenceConstant          = "reference"
	logFieldFieldConstant              = "field"
	logFieldLoginConstant              = "login"
	readAccessGrantedMessageConstant   = "read access granted"
	resolveParticipantErrorTemplate    = "resolve %s: %w"
	grantReadAccessErrorTemplate       = "grant read access to %s: %w"
)

// repositoryRun carries the state of one repository through its stages.
type repositoryRun struct {
	project      gitlab.Project
	record       ledger.RepositoryRecord
	logger       *zap.Logger
	participants *participants
}

func (run *repositoryRun) owner() string {
	return run.record.TargetOwner
}

func (run *repositoryRun) name() string {
	return run.record.TargetName
}

func (run *repositoryRun) logUnresolved(kind ledger.ItemKind, sourceItemID string, unresolved []migrationerrors.MappingError) {
	for _, reference := range unresolved {
		run.logger.Warn(unresolvedReferenceMessageConstant,
			zap.String(logFieldItemKindConstant, string(kind)),
			zap.String(logFieldItemConstant, sourceItemID),
			zap.String(logFieldReferenceKindConstant, reference.Kind),
			zap.String(logFieldReferenceConstant, reference.Reference),
			zap.String(logFieldFieldConstant, reference.Field),
		)
	}
}

// participants resolves the accounts referenced by issues and merge requests
// and grants them read access so they can be named as author or assignee.
type participants struct {
	service    *Service
	logger     *zap.Logger
	logins     map[int64]string
	unresolved map[int64]struct{}
	granted    map[string]struct{}
}

func newParticipants(service *Service, logger *zap.Logger) *participants {
	return &participants{
		service:    service,
		logger:     logger,
		logins:     make(map[int64]string),
		unresolved: make(map[int64]struct{}),
		granted:    make(map[string]struct{}),
	}
}

// prepare resolves every reference and grants read access on the run's
// repository. References without a target account are left unresolved and
// degrade in the mapped item.
func (registry *participants) prepare(executionContext context.Context, run *repositoryRun, references []gitlab.UserReference) error {
	for _, reference := range references {
		if reference.ID == 0 {
			continue
		}
		login, resolved := registry.logins[reference.ID]
		if !resolved {
			if _, known := registry.unresolved[reference.ID]; known {
				continue
			}
			userMapping, resolveError := registry.service.resolver.Resolve(executionContext, reference)
			if resolveError != nil {
				var mappingError migrationerrors.MappingError
				if errors.As(resolveError, &mappingError) {
					registry.unresolved[reference.ID] = struct{}{}
					continue
				}
				return fmt.Errorf(resolveParticipantErrorTemplate, reference.Username, resolveError)
			}
			login = userMapping.TargetUsername
			registry.logins[reference.ID] = login
		}
		if grantError := registry.grantRead(executionContext, run, login); grantError != nil {
			return grantError
		}
	}
	return nil
}

func (registry *participants) grantRead(executionContext context.Context, run *repositoryRun, login string) error {
	normalizedLogin := strings.ToLower(login)
	if _, done := registry.granted[normalizedLogin]; done {
		return nil
	}
	if strings.EqualFold(login, run.owner()) {
		registry.granted[normalizedLogin] = struct{}{}
		return nil
	}
	isCollaborator, checkError := registry.service.target.IsCollaborator(executionContext, run.owner(), run.name(), login)
	if checkError != nil {
		return fmt.Errorf(grantReadAccessErrorTemplate, login, checkError)
	}
	if !isCollaborator {
		if addError := registry.service.target.AddCollaborator(executionContext, run.owner(), run.name(), login, forgejo.PermissionRead); addError != nil {
			return fmt.Errorf(grantReadAccessErrorTemplate, login, addError)
		}
		registry.logger.Debug(readAccessGrantedMessageConstant, zap.String(logFieldLoginConstant, login))
	}
	registry.granted[normalizedLogin] = struct{}{}
	return nil
}

// usersTable snapshots the resolved logins for the entity mapper.
func (registry *participants) usersTable() map[int64]string {
	table := make(map[int64]string, len(registry.logins))
	for sourceID, login := range registry.logins {
		table[sourceID] = login
	}
	return table
}
