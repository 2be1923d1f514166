package groups

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/lremane/gitlab-2-forge-migration/internal/forgejo"
	"github.com/lremane/gitlab-2-forge-migration/internal/gitlab"
	"github.com/lremane/gitlab-2-forge-migration/internal/ledger"
	"github.com/lremane/gitlab-2-forge-migration/internal/mapping"
	"github.com/lremane/gitlab-2-forge-migration/internal/migrationerrors"
	"github.com/lremane/gitlab-2-forge-migration/internal/restclient"
)

const (
	organizationCreatedMessageConstant  = "organization created"
	organizationAdoptedMessageConstant  = "organization already present"
	teamCreatedMessageConstant          = "team created"
	memberAddedMessageConstant          = "member added"
	memberUpgradedMessageConstant       = "member role upgraded"
	memberUnmappedMessageConstant       = "member has no target account"
	groupMigratedMessageConstant        = "group migrated"
	logFieldGroupConstant               = "group"
	logFieldOrganizationConstant        = "organization"
	logFieldTeamConstant                = "team"
	logFieldMemberConstant              = "member"
	logFieldRoleConstant                = "role"
	logFieldPreviousRoleConstant        = "previous_role"
	logFieldAddedConstant               = "added_count"
	logFieldUpgradedConstant            = "upgraded_count"
	logFieldUnchangedConstant           = "unchanged_count"
	logFieldUnmappedConstant            = "unmapped_count"
	occupiedByAccountMessageConstant    = "name is taken by an account that is not an organization"
	ensureOrganizationErrorTemplate     = "ensure organization for group %s: %w"
	ensureTeamsErrorTemplate            = "ensure teams of organization %s: %w"
	listTeamMembersErrorTemplate        = "list members of team %s/%s: %w"
	listSourceMembersErrorTemplate      = "list members of group %s: %w"
	resolveMemberErrorTemplate          = "resolve member %s of group %s: %w"
	addMemberErrorTemplate              = "add %s to team %s/%s: %w"
	removeMemberErrorTemplate           = "remove %s from team %s/%s: %w"
	recordMemberErrorTemplate           = "record member %s of group %s: %w"
	recordOrganizationErrorTemplate     = "record organization for group %s: %w"
	teamDescriptionTemplate             = "Members with %s access migrated from GitLab"
	lookupGroupMappingErrorTemplate     = "look up group mapping for %s: %w"
	sourceMemberStateActiveConstant     = "active"
	unitCodeConstant                    = "repo.code"
	unitIssuesConstant                  = "repo.issues"
	unitPullsConstant                   = "repo.pulls"
	unitReleasesConstant                = "repo.releases"
	unitWikiConstant                    = "repo.wiki"
	unitProjectsConstant                = "repo.projects"
	unitPackagesConstant                = "repo.packages"
	organizationTeamsMissingErrTemplate = "organization %s has no %s team after creation"
)

// ErrServiceNotConfigured indicates a service built without its collaborators.
var ErrServiceNotConfigured = errors.New("group migration service not configured")

var teamUnits = []string{unitCodeConstant, unitIssuesConstant, unitPullsConstant, unitReleasesConstant, unitWikiConstant, unitProjectsConstant, unitPackagesConstant}

// SourceMembers lists the direct members of a source group.
type SourceMembers interface {
	ListGroupMembers(executionContext context.Context, groupID int64) ([]gitlab.Member, error)
}

// TargetOrganizations manages target organizations and their teams.
type TargetOrganizations interface {
	GetOrganization(executionContext context.Context, name string) (forgejo.Organization, bool, error)
	CreateOrganization(executionContext context.Context, option forgejo.CreateOrganizationOption) (forgejo.Organization, error)
	ListTeams(executionContext context.Context, organization string) ([]forgejo.Team, error)
	CreateTeam(executionContext context.Context, organization string, option forgejo.CreateTeamOption) (forgejo.Team, error)
	ListTeamMembers(executionContext context.Context, teamID int64) ([]forgejo.User, error)
	AddTeamMember(executionContext context.Context, teamID int64, login string) error
	RemoveTeamMember(executionContext context.Context, teamID int64, login string) error
}

// Resolver maps a source account to its target account.
type Resolver interface {
	Resolve(executionContext context.Context, reference gitlab.UserReference) (ledger.UserMapping, error)
}

// Store persists group mappings and granted roles.
type Store interface {
	GroupMapping(executionContext context.Context, sourcePath string) (ledger.GroupMapping, bool, error)
	SaveGroupMapping(executionContext context.Context, mapping ledger.GroupMapping) error
	SaveGroupMember(executionContext context.Context, member ledger.GroupMember) error
}

// Dependencies wires the group migration service.
type Dependencies struct {
	Source   SourceMembers
	Target   TargetOrganizations
	Resolver Resolver
	Store    Store
	Logger   *zap.Logger
}

// GroupResult summarises the migration of one group.
type GroupResult struct {
	SourcePath   string
	Organization string
	Created      bool
	Added        int
	Upgraded     int
	Unchanged    int
	Unmapped     []migrationerrors.MappingError
	// Blocked is set when the organization or its teams could not be ensured,
	// leaving no place for the repositories of the group.
	Blocked error
}

// Result summarises a group migration run.
type Result struct {
	Groups []GroupResult
}

// Unavailable maps the source path of every blocked group to its failure.
func (result Result) Unavailable() map[string]error {
	unavailable := make(map[string]error)
	for _, groupResult := range result.Groups {
		if groupResult.Blocked != nil {
			unavailable[groupResult.SourcePath] = groupResult.Blocked
		}
	}
	return unavailable
}

// Service migrates groups into organizations.
type Service struct {
	source   SourceMembers
	target   TargetOrganizations
	resolver Resolver
	store    Store
	logger   *zap.Logger
}

// NewService constructs the group migration service.
func NewService(dependencies Dependencies) (*Service, error) {
	if dependencies.Source == nil || dependencies.Target == nil || dependencies.Resolver == nil || dependencies.Store == nil {
		return nil, ErrServiceNotConfigured
	}
	logger := dependencies.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		source:   dependencies.Source,
		target:   dependencies.Target,
		resolver: dependencies.Resolver,
		store:    dependencies.Store,
		logger:   logger,
	}, nil
}

// Migrate ensures an organization with role teams exists for every group and
// reconciles its membership. Members without a target account are reported
// and skipped. Any other failure is returned after the remaining groups ran.
func (service *Service) Migrate(executionContext context.Context, groups []gitlab.Group) (Result, error) {
	var result Result
	var groupErrors []error
	for _, group := range groups {
		if contextError := executionContext.Err(); contextError != nil {
			return result, contextError
		}
		groupResult, groupError := service.migrateGroup(executionContext, group)
		result.Groups = append(result.Groups, groupResult)
		if groupError != nil {
			if errors.Is(groupError, context.Canceled) || errors.Is(groupError, context.DeadlineExceeded) {
				return result, groupError
			}
			groupErrors = append(groupErrors, groupError)
		}
	}
	return result, errors.Join(groupErrors...)
}

func (service *Service) migrateGroup(executionContext context.Context, group gitlab.Group) (GroupResult, error) {
	groupResult := GroupResult{SourcePath: group.FullPath}

	organization, created, organizationError := service.ensureOrganization(executionContext, group)
	if organizationError != nil {
		groupResult.Blocked = fmt.Errorf(ensureOrganizationErrorTemplate, group.FullPath, organizationError)
		return groupResult, groupResult.Blocked
	}
	groupResult.Organization = organization.Name
	groupResult.Created = created

	teams, teamsError := service.ensureTeams(executionContext, organization.Name)
	if teamsError != nil {
		groupResult.Blocked = fmt.Errorf(ensureTeamsErrorTemplate, organization.Name, teamsError)
		return groupResult, groupResult.Blocked
	}

	reconcileError := service.reconcileMembers(executionContext, group, organization.Name, teams, &groupResult)
	service.logger.Info(groupMigratedMessageConstant,
		zap.String(logFieldGroupConstant, group.FullPath),
		zap.String(logFieldOrganizationConstant, organization.Name),
		zap.Int(logFieldAddedConstant, groupResult.Added),
		zap.Int(logFieldUpgradedConstant, groupResult.Upgraded),
		zap.Int(logFieldUnchangedConstant, groupResult.Unchanged),
		zap.Int(logFieldUnmappedConstant, len(groupResult.Unmapped)),
	)
	return groupResult, reconcileError
}

func (service *Service) ensureOrganization(executionContext context.Context, group gitlab.Group) (forgejo.Organization, bool, error) {
	organizationName := mapping.OrganizationName(group.FullPath)
	recorded, recordedFound, recordedError := service.store.GroupMapping(executionContext, group.FullPath)
	if recordedError != nil {
		return forgejo.Organization{}, false, fmt.Errorf(lookupGroupMappingErrorTemplate, group.FullPath, recordedError)
	}
	if recordedFound && len(recorded.TargetOrganization) > 0 {
		organizationName = recorded.TargetOrganization
	}

	organization, exists, lookupError := service.target.GetOrganization(executionContext, organizationName)
	if lookupError != nil {
		return forgejo.Organization{}, false, lookupError
	}
	created := false
	if exists {
		service.logger.Info(organizationAdoptedMessageConstant, zap.String(logFieldGroupConstant, group.FullPath), zap.String(logFieldOrganizationConstant, organization.Name))
	} else {
		option := mapping.MapGroup(group)
		option.Name = organizationName
		createdOrganization, createError := service.target.CreateOrganization(executionContext, option)
		switch {
		case createError == nil:
			organization = createdOrganization
			created = true
			service.logger.Info(organizationCreatedMessageConstant, zap.String(logFieldGroupConstant, group.FullPath), zap.String(logFieldOrganizationConstant, organization.Name))
		case restclient.IsAlreadyExists(createError):
			existing, found, refetchError := service.target.GetOrganization(executionContext, organizationName)
			if refetchError != nil {
				return forgejo.Organization{}, false, refetchError
			}
			if !found {
				return forgejo.Organization{}, false, migrationerrors.ConflictError{
					Entity:     migrationerrors.ConflictEntityOrganization,
					Identifier: organizationName,
					Message:    occupiedByAccountMessageConstant,
				}
			}
			organization = existing
		default:
			return forgejo.Organization{}, false, createError
		}
	}
	if len(organization.Name) == 0 {
		organization.Name = organizationName
	}

	saveError := service.store.SaveGroupMapping(executionContext, ledger.GroupMapping{
		SourcePath:           group.FullPath,
		SourceGroupID:        group.ID,
		TargetOrganization:   organization.Name,
		TargetOrganizationID: organization.ID,
	})
	if saveError != nil {
		return forgejo.Organization{}, false, fmt.Errorf(recordOrganizationErrorTemplate, group.FullPath, saveError)
	}
	return organization, created, nil
}

// ensureTeams returns one team per role, keyed by permission.
func (service *Service) ensureTeams(executionContext context.Context, organizationName string) (map[string]forgejo.Team, error) {
	existingTeams, listError := service.target.ListTeams(executionContext, organizationName)
	if listError != nil {
		return nil, listError
	}
	teamsByName := make(map[string]forgejo.Team, len(existingTeams))
	for _, team := range existingTeams {
		teamsByName[strings.ToLower(team.Name)] = team
	}

	teams := make(map[string]forgejo.Team, len(mapping.OrderedRoles()))
	for _, role := range mapping.OrderedRoles() {
		teamName := mapping.TeamName(role)
		if team, exists := teamsByName[strings.ToLower(teamName)]; exists {
			teams[role] = team
			continue
		}
		if role == forgejo.PermissionOwner {
			return nil, fmt.Errorf(organizationTeamsMissingErrTemplate, organizationName, teamName)
		}
		team, createError := service.target.CreateTeam(executionContext, organizationName, forgejo.CreateTeamOption{
			Name:                    teamName,
			Description:             fmt.Sprintf(teamDescriptionTemplate, role),
			Permission:              role,
			IncludesAllRepositories: true,
			Units:                   teamUnits,
		})
		if createError != nil {
			return nil, createError
		}
		teams[role] = team
		service.logger.Info(teamCreatedMessageConstant, zap.String(logFieldOrganizationConstant, organizationName), zap.String(logFieldTeamConstant, teamName))
	}
	return teams, nil
}

type membership struct {
	highestRole string
	teams       map[string]struct{}
}

func (service *Service) reconcileMembers(executionContext context.Context, group gitlab.Group, organizationName string, teams map[string]forgejo.Team, groupResult *GroupResult) error {
	current := make(map[string]*membership)
	for _, role := range mapping.OrderedRoles() {
		team := teams[role]
		teamMembers, listError := service.target.ListTeamMembers(executionContext, team.ID)
		if listError != nil {
			return fmt.Errorf(listTeamMembersErrorTemplate, organizationName, team.Name, listError)
		}
		for _, teamMember := range teamMembers {
			login := strings.ToLower(teamMember.Login)
			entry, known := current[login]
			if !known {
				entry = &membership{teams: make(map[string]struct{})}
				current[login] = entry
			}
			entry.teams[role] = struct{}{}
			if mapping.RoleRank(role) > mapping.RoleRank(entry.highestRole) {
				entry.highestRole = role
			}
		}
	}

	sourceMembers, sourceError := service.source.ListGroupMembers(executionContext, group.ID)
	if sourceError != nil {
		return fmt.Errorf(listSourceMembersErrorTemplate, group.FullPath, sourceError)
	}

	var memberErrors []error
	for _, sourceMember := range sourceMembers {
		if len(sourceMember.State) > 0 && sourceMember.State != sourceMemberStateActiveConstant {
			continue
		}
		userMapping, resolveError := service.resolver.Resolve(executionContext, sourceMember.Reference())
		if resolveError != nil {
			var mappingError migrationerrors.MappingError
			if errors.As(resolveError, &mappingError) {
				groupResult.Unmapped = append(groupResult.Unmapped, mappingError)
				service.logger.Warn(memberUnmappedMessageConstant, zap.String(logFieldGroupConstant, group.FullPath), zap.String(logFieldMemberConstant, sourceMember.Username), zap.Error(resolveError))
				continue
			}
			if errors.Is(resolveError, context.Canceled) || errors.Is(resolveError, context.DeadlineExceeded) {
				return resolveError
			}
			memberErrors = append(memberErrors, fmt.Errorf(resolveMemberErrorTemplate, sourceMember.Username, group.FullPath, resolveError))
			continue
		}

		grantedRole, memberError := service.grant(executionContext, organizationName, teams, current, userMapping.TargetUsername, mapping.MapRole(sourceMember.AccessLevel), groupResult)
		if memberError != nil {
			memberErrors = append(memberErrors, memberError)
			continue
		}
		saveError := service.store.SaveGroupMember(executionContext, ledger.GroupMember{
			SourcePath:     group.FullPath,
			SourceUserID:   sourceMember.ID,
			TargetUsername: userMapping.TargetUsername,
			Role:           grantedRole,
		})
		if saveError != nil {
			memberErrors = append(memberErrors, fmt.Errorf(recordMemberErrorTemplate, sourceMember.Username, group.FullPath, saveError))
		}
	}
	return errors.Join(memberErrors...)
}

// grant puts login into the team of desiredRole unless it already holds an
// equal or stronger role, and removes it from weaker teams. It returns the
// role the member holds afterwards.
func (service *Service) grant(executionContext context.Context, organizationName string, teams map[string]forgejo.Team, current map[string]*membership, login string, desiredRole string, groupResult *GroupResult) (string, error) {
	normalizedLogin := strings.ToLower(login)
	existing, isMember := current[normalizedLogin]
	if isMember && mapping.RoleRank(existing.highestRole) >= mapping.RoleRank(desiredRole) {
		groupResult.Unchanged++
		return existing.highestRole, nil
	}

	desiredTeam := teams[desiredRole]
	if addError := service.target.AddTeamMember(executionContext, desiredTeam.ID, login); addError != nil {
		return "", fmt.Errorf(addMemberErrorTemplate, login, organizationName, desiredTeam.Name, addError)
	}
	if !isMember {
		existing = &membership{teams: make(map[string]struct{})}
		current[normalizedLogin] = existing
		groupResult.Added++
		service.logger.Info(memberAddedMessageConstant, zap.String(logFieldOrganizationConstant, organizationName), zap.String(logFieldMemberConstant, login), zap.String(logFieldRoleConstant, desiredRole))
	} else {
		groupResult.Upgraded++
		service.logger.Info(memberUpgradedMessageConstant, zap.String(logFieldOrganizationConstant, organizationName), zap.String(logFieldMemberConstant, login), zap.String(logFieldRoleConstant, desiredRole), zap.String(logFieldPreviousRoleConstant, existing.highestRole))
	}

	for _, role := range mapping.OrderedRoles() {
		if mapping.RoleRank(role) >= mapping.RoleRank(desiredRole) {
			break
		}
		if _, inTeam := existing.teams[role]; !inTeam {
			continue
		}
		lowerTeam := teams[role]
		if removeError := service.target.RemoveTeamMember(executionContext, lowerTeam.ID, login); removeError != nil {
			return "", fmt.Errorf(removeMemberErrorTemplate, login, organizationName, lowerTeam.Name, removeError)
		}
		delete(existing.teams, role)
	}
	existing.teams[desiredRole] = struct{}{}
	existing.highestRole = desiredRole
	return desiredRole, nil
}
