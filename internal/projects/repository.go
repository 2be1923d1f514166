package projects

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/lremane/gitlab-2-forge-migration/internal/forgejo"
	"github.com/lremane/gitlab-2-forge-migration/internal/gitlab"
	"github.com/lremane/gitlab-2-forge-migration/internal/gitrepo"
	"github.com/lremane/gitlab-2-forge-migration/internal/mapping"
	"github.com/lremane/gitlab-2-forge-migration/internal/migrationerrors"
	"github.com/lremane/gitlab-2-forge-migration/internal/restclient"
)

const (
	gitCredentialUsernameConstant      = "oauth2"
	sourceMemberStateActiveConstant    = "active"
	ownerFieldConstant                 = "owner"
	ownerMissingMessageConstant        = "namespace owner does not exist on the source"
	conflictUnknownMessageConstant     = "not created by this migration"
	conflictClaimedMessageTemplate     = "already the target of %s"
	conflictReplacedMessageConstant    = "recorded target was replaced by another repository"
	repositoryCreatedMessageConstant   = "target repository created"
	repositoryAdoptedMessageConstant   = "adopted empty target repository created by an interrupted run"
	repositoryRecreateMessageConstant  = "recorded target repository is gone, creating it again"
	emptySourceMessageConstant         = "source repository has no references, nothing to push"
	wikiMissingMessageConstant         = "source wiki has no content"
	wikiCopiedMessageConstant          = "wiki copied"
	codeCopiedMessageConstant          = "code copied"
	collaboratorSkippedMessageConstant = "member has no target account"
	repositoryArchivedMessageConstant  = "target repository archived"
	logFieldReferenceCountConstant     = "reference_count"
	logFieldMemberConstant             = "member"
	resolveOwnerErrorTemplate          = "resolve owner of %s: %w"
	lookupTargetErrorTemplate          = "look up target repository %s/%s: %w"
	recordTargetErrorTemplate          = "record target repository %s/%s: %w"
	createTargetErrorTemplate          = "create target repository %s/%s: %w"
	credentialsErrorTemplate           = "prepare git remote: %w"
	listSourceReferencesErrorTemplate  = "list source references: %w"
	copyCodeErrorTemplate              = "copy code: %w"
	setDefaultBranchErrorTemplate      = "set default branch %s: %w"
	enableWikiErrorTemplate            = "enable wiki: %w"
	copyWikiErrorTemplate              = "copy wiki: %w"
	listMembersErrorTemplate           = "list project members: %w"
	addCollaboratorErrorTemplate       = "add collaborator %s: %w"
	resolveMemberErrorTemplate         = "resolve member %s: %w"
	archiveErrorTemplate               = "archive target repository: %w"
)

// importCode creates the target repository, or adopts the one an interrupted
// run created, and pushes every branch and tag into it.
func (service *Service) importCode(executionContext context.Context, run *repositoryRun) error {
	owner, ownerError := service.resolveOwner(executionContext, run.project.Namespace)
	if ownerError != nil {
		return fmt.Errorf(resolveOwnerErrorTemplate, run.project.PathWithNamespace, ownerError)
	}
	repository, repositoryError := service.ensureTargetRepository(executionContext, run, owner, mapping.CleanName(run.project.Path))
	if repositoryError != nil {
		return repositoryError
	}

	sourceURL, sourceURLError := gitrepo.WithCredentials(run.project.HTTPURLToRepo, gitCredentialUsernameConstant, service.sourceToken)
	if sourceURLError != nil {
		return fmt.Errorf(credentialsErrorTemplate, sourceURLError)
	}
	references, listError := service.git.ListReferences(executionContext, sourceURL)
	if listError != nil {
		return fmt.Errorf(listSourceReferencesErrorTemplate, listError)
	}
	if len(references) == 0 {
		run.logger.Info(emptySourceMessageConstant)
		return nil
	}

	targetURL, targetURLError := gitrepo.WithCredentials(service.target.RepositoryCloneURL(run.owner(), run.name()), gitCredentialUsernameConstant, service.targetToken)
	if targetURLError != nil {
		return fmt.Errorf(credentialsErrorTemplate, targetURLError)
	}
	if copyError := service.git.CopyAll(executionContext, sourceURL, targetURL); copyError != nil {
		return fmt.Errorf(copyCodeErrorTemplate, copyError)
	}
	run.logger.Info(codeCopiedMessageConstant, zap.Int(logFieldReferenceCountConstant, len(references)))

	defaultBranch := strings.TrimSpace(run.project.DefaultBranch)
	if len(defaultBranch) > 0 && defaultBranch != repository.DefaultBranch {
		if _, editError := service.target.EditRepository(executionContext, run.owner(), run.name(), forgejo.EditRepositoryOption{DefaultBranch: &defaultBranch}); editError != nil {
			return fmt.Errorf(setDefaultBranchErrorTemplate, defaultBranch, editError)
		}
	}
	return nil
}

func (service *Service) resolveOwner(executionContext context.Context, namespace gitlab.Namespace) (string, error) {
	if namespace.Kind == gitlab.NamespaceKindGroup {
		groupMapping, found, lookupError := service.store.GroupMapping(executionContext, namespace.FullPath)
		if lookupError != nil {
			return "", lookupError
		}
		if found && len(groupMapping.TargetOrganization) > 0 {
			return groupMapping.TargetOrganization, nil
		}
		return mapping.TargetOwner(namespace), nil
	}

	sourceUser, found, lookupError := service.source.FindUserByUsername(executionContext, namespace.Path)
	if lookupError != nil {
		return "", lookupError
	}
	if !found {
		return "", migrationerrors.MappingError{
			Kind:      migrationerrors.MappingReferenceKindUser,
			Reference: namespace.Path,
			Field:     ownerFieldConstant,
			Message:   ownerMissingMessageConstant,
		}
	}
	userMapping, resolveError := service.resolver.Resolve(executionContext, gitlab.UserReference{ID: sourceUser.ID, Username: sourceUser.Username, Name: sourceUser.Name})
	if resolveError != nil {
		return "", resolveError
	}
	return userMapping.TargetUsername, nil
}

// ensureTargetRepository returns the repository this source maps to. An
// existing repository is only reused when the ledger ties it to this source:
// either it is the recorded target, or it is empty and the ledger recorded the
// intent to create exactly that owner and name. Anything else is a conflict.
func (service *Service) ensureTargetRepository(executionContext context.Context, run *repositoryRun, owner string, name string) (forgejo.Repository, error) {
	if run.record.HasTarget() {
		owner, name = run.record.TargetOwner, run.record.TargetName
		recorded, found, lookupError := service.target.GetRepository(executionContext, owner, name)
		if lookupError != nil {
			return forgejo.Repository{}, fmt.Errorf(lookupTargetErrorTemplate, owner, name, lookupError)
		}
		if found && recorded.ID == run.record.TargetID {
			return recorded, nil
		}
		if found {
			return forgejo.Repository{}, repositoryConflict(owner, name, conflictReplacedMessageConstant)
		}
		run.logger.Warn(repositoryRecreateMessageConstant, zap.String(logFieldTargetConstant, owner+"/"+name))
	}

	existing, found, lookupError := service.target.GetRepository(executionContext, owner, name)
	if lookupError != nil {
		return forgejo.Repository{}, fmt.Errorf(lookupTargetErrorTemplate, owner, name, lookupError)
	}
	if found {
		if adoptError := service.checkAdoptable(executionContext, run, owner, name, existing); adoptError != nil {
			return forgejo.Repository{}, adoptError
		}
		run.logger.Info(repositoryAdoptedMessageConstant, zap.String(logFieldTargetConstant, owner+"/"+name))
		return existing, service.recordTarget(executionContext, run, owner, name, existing.ID)
	}

	if intentError := service.recordTarget(executionContext, run, owner, name, 0); intentError != nil {
		return forgejo.Repository{}, intentError
	}
	option := mapping.MapRepository(run.project)
	option.Name = name
	var created forgejo.Repository
	var createError error
	if run.project.Namespace.Kind == gitlab.NamespaceKindGroup {
		created, createError = service.target.CreateOrganizationRepository(executionContext, owner, option)
	} else {
		created, createError = service.target.CreateUserRepository(executionContext, owner, option)
	}
	if createError != nil {
		if !restclient.IsAlreadyExists(createError) {
			return forgejo.Repository{}, fmt.Errorf(createTargetErrorTemplate, owner, name, createError)
		}
		raced, racedFound, racedError := service.target.GetRepository(executionContext, owner, name)
		if racedError != nil {
			return forgejo.Repository{}, fmt.Errorf(lookupTargetErrorTemplate, owner, name, racedError)
		}
		if !racedFound {
			return forgejo.Repository{}, fmt.Errorf(createTargetErrorTemplate, owner, name, createError)
		}
		if adoptError := service.checkAdoptable(executionContext, run, owner, name, raced); adoptError != nil {
			return forgejo.Repository{}, adoptError
		}
		created = raced
	} else {
		run.logger.Info(repositoryCreatedMessageConstant, zap.String(logFieldTargetConstant, owner+"/"+name))
	}
	return created, service.recordTarget(executionContext, run, owner, name, created.ID)
}

func (service *Service) checkAdoptable(executionContext context.Context, run *repositoryRun, owner string, name string, existing forgejo.Repository) error {
	claimed, claimedFound, claimedError := service.store.RepositoryByTarget(executionContext, owner, name)
	if claimedError != nil {
		return claimedError
	}
	if claimedFound && claimed.SourceID != run.record.SourceID {
		return repositoryConflict(owner, name, fmt.Sprintf(conflictClaimedMessageTemplate, claimed.SourcePath))
	}
	intended := strings.EqualFold(run.record.TargetOwner, owner) && strings.EqualFold(run.record.TargetName, name)
	if !intended || !existing.Empty {
		return repositoryConflict(owner, name, conflictUnknownMessageConstant)
	}
	return nil
}

func (service *Service) recordTarget(executionContext context.Context, run *repositoryRun, owner string, name string, targetID int64) error {
	if recordError := service.store.RecordTarget(executionContext, run.record.SourceID, owner, name, targetID); recordError != nil {
		return fmt.Errorf(recordTargetErrorTemplate, owner, name, recordError)
	}
	run.record.TargetOwner = owner
	run.record.TargetName = name
	run.record.TargetID = targetID
	return nil
}

func repositoryConflict(owner string, name string, message string) error {
	return migrationerrors.ConflictError{
		Entity:     migrationerrors.ConflictEntityRepository,
		Identifier: owner + "/" + name,
		Message:    message,
	}
}

// importWiki copies the source wiki when it has content.
func (service *Service) importWiki(executionContext context.Context, run *repositoryRun) error {
	if !run.project.WikiEnabled {
		return nil
	}
	sourceURL, sourceURLError := gitrepo.WithCredentials(run.project.WikiURL(), gitCredentialUsernameConstant, service.sourceToken)
	if sourceURLError != nil {
		return fmt.Errorf(credentialsErrorTemplate, sourceURLError)
	}
	references, listError := service.git.ListReferences(executionContext, sourceURL)
	if listError != nil && !gitrepo.IsRemoteMissing(listError) {
		return fmt.Errorf(listSourceReferencesErrorTemplate, listError)
	}
	if len(references) == 0 {
		run.logger.Info(wikiMissingMessageConstant)
		return nil
	}

	hasWiki := true
	if _, editError := service.target.EditRepository(executionContext, run.owner(), run.name(), forgejo.EditRepositoryOption{HasWiki: &hasWiki}); editError != nil {
		return fmt.Errorf(enableWikiErrorTemplate, editError)
	}
	targetURL, targetURLError := gitrepo.WithCredentials(service.target.WikiCloneURL(run.owner(), run.name()), gitCredentialUsernameConstant, service.targetToken)
	if targetURLError != nil {
		return fmt.Errorf(credentialsErrorTemplate, targetURLError)
	}
	if copyError := service.git.CopyAll(executionContext, sourceURL, targetURL); copyError != nil {
		return fmt.Errorf(copyWikiErrorTemplate, copyError)
	}
	run.logger.Info(wikiCopiedMessageConstant, zap.Int(logFieldReferenceCountConstant, len(references)))
	return nil
}

// finishRepository grants project members collaborator access and archives
// repositories that are archived on the source.
func (service *Service) finishRepository(executionContext context.Context, run *repositoryRun) error {
	members, listError := service.source.ListProjectMembers(executionContext, run.project.ID)
	if listError != nil {
		return fmt.Errorf(listMembersErrorTemplate, listError)
	}

	var memberErrors []error
	for _, member := range members {
		if len(member.State) > 0 && member.State != sourceMemberStateActiveConstant {
			continue
		}
		userMapping, resolveError := service.resolver.Resolve(executionContext, member.Reference())
		if resolveError != nil {
			var mappingError migrationerrors.MappingError
			switch {
			case errors.As(resolveError, &mappingError):
				run.logger.Warn(collaboratorSkippedMessageConstant, zap.String(logFieldMemberConstant, member.Username), zap.Error(resolveError))
			case isCancellation(resolveError):
				return resolveError
			default:
				memberErrors = append(memberErrors, fmt.Errorf(resolveMemberErrorTemplate, member.Username, resolveError))
			}
			continue
		}
		if strings.EqualFold(userMapping.TargetUsername, run.owner()) {
			continue
		}
		permission := collaboratorPermission(mapping.MapRole(member.AccessLevel))
		if addError := service.target.AddCollaborator(executionContext, run.owner(), run.name(), userMapping.TargetUsername, permission); addError != nil {
			if isCancellation(addError) {
				return addError
			}
			memberErrors = append(memberErrors, fmt.Errorf(addCollaboratorErrorTemplate, userMapping.TargetUsername, addError))
		}
	}
	if len(memberErrors) > 0 {
		return errors.Join(memberErrors...)
	}

	if run.project.Archived {
		archived := true
		if _, editError := service.target.EditRepository(executionContext, run.owner(), run.name(), forgejo.EditRepositoryOption{Archived: &archived}); editError != nil {
			return fmt.Errorf(archiveErrorTemplate, editError)
		}
		run.logger.Info(repositoryArchivedMessageConstant)
	}
	return nil
}

// collaboratorPermission caps a role at admin, the strongest permission a collaborator can hold.
func collaboratorPermission(role string) string {
	if role == forgejo.PermissionOwner {
		return forgejo.PermissionAdmin
	}
	return role
}
