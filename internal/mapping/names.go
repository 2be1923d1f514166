package mapping

import (
	"regexp"
	"strings"

	"golang.org/x/text/cases"

	"github.com/lremane/gitlab-2-forge-migration/internal/forgejo"
	"github.com/lremane/gitlab-2-forge-migration/internal/gitlab"
)

const (
	spaceConstant                   = " "
	spaceReplacementConstant        = "_"
	disallowedReplacementConstant   = "-"
	namespaceSeparatorConstant      = "/"
	organizationSeparatorConstant   = "-"
	reservedNameSuffixConstant      = "-user"
	visibilityPublicConstant        = "public"
	visibilityInternalConstant      = "internal"
	visibilityPrivateConstant       = "private"
	organizationVisibilityLimited   = "limited"
	teamNameReadersConstant         = "Readers"
	teamNameWritersConstant         = "Writers"
	teamNameMaintainersConstant     = "Maintainers"
	teamNameOwnersConstant          = "Owners"
	unknownPermissionRankConstant   = 0
	readPermissionRankConstant      = 1
	writePermissionRankConstant     = 2
	adminPermissionRankConstant     = 3
	ownerPermissionRankConstant     = 4
	disallowedNameCharactersPattern = `[^A-Za-z0-9_.-]`
)

var disallowedNameCharacters = regexp.MustCompile(disallowedNameCharactersPattern)

var reservedTargetNames = map[string]struct{}{
	"plugins": {},
}

var emailFolder = cases.Fold()

// NormalizeEmail trims and case-folds an email address so equal addresses compare equal.
func NormalizeEmail(email string) string {
	return emailFolder.String(strings.TrimSpace(email))
}

// CleanName converts a GitLab path or name into a name Forgejo accepts.
func CleanName(name string) string {
	cleanedName := strings.ReplaceAll(strings.TrimSpace(name), spaceConstant, spaceReplacementConstant)
	cleanedName = disallowedNameCharacters.ReplaceAllString(cleanedName, disallowedReplacementConstant)
	if _, reserved := reservedTargetNames[strings.ToLower(cleanedName)]; reserved {
		return cleanedName + reservedNameSuffixConstant
	}
	return cleanedName
}

// OrganizationName flattens a possibly nested group path into one organization name.
func OrganizationName(groupFullPath string) string {
	segments := strings.Split(strings.Trim(groupFullPath, namespaceSeparatorConstant), namespaceSeparatorConstant)
	cleanedSegments := make([]string, 0, len(segments))
	for _, segment := range segments {
		if len(strings.TrimSpace(segment)) == 0 {
			continue
		}
		cleanedSegments = append(cleanedSegments, strings.TrimSpace(segment))
	}
	return CleanName(strings.Join(cleanedSegments, organizationSeparatorConstant))
}

// TargetOwner returns the organization or user that owns the migrated project.
func TargetOwner(namespace gitlab.Namespace) string {
	if namespace.Kind == gitlab.NamespaceKindGroup {
		return OrganizationName(namespace.FullPath)
	}
	return CleanName(namespace.Path)
}

// MapRole converts a GitLab access level into a Forgejo permission.
func MapRole(accessLevel int) string {
	switch {
	case accessLevel >= gitlab.AccessLevelOwner:
		return forgejo.PermissionOwner
	case accessLevel >= gitlab.AccessLevelMaintainer:
		return forgejo.PermissionAdmin
	case accessLevel >= gitlab.AccessLevelDeveloper:
		return forgejo.PermissionWrite
	default:
		return forgejo.PermissionRead
	}
}

// RoleRank orders Forgejo permissions; unknown permissions rank lowest.
func RoleRank(permission string) int {
	switch permission {
	case forgejo.PermissionRead:
		return readPermissionRankConstant
	case forgejo.PermissionWrite:
		return writePermissionRankConstant
	case forgejo.PermissionAdmin:
		return adminPermissionRankConstant
	case forgejo.PermissionOwner:
		return ownerPermissionRankConstant
	default:
		return unknownPermissionRankConstant
	}
}

// OrderedRoles lists the Forgejo permissions from weakest to strongest.
func OrderedRoles() []string {
	return []string{forgejo.PermissionRead, forgejo.PermissionWrite, forgejo.PermissionAdmin, forgejo.PermissionOwner}
}

// TeamName returns the organization team that materialises a permission.
func TeamName(permission string) string {
	switch permission {
	case forgejo.PermissionWrite:
		return teamNameWritersConstant
	case forgejo.PermissionAdmin:
		return teamNameMaintainersConstant
	case forgejo.PermissionOwner:
		return teamNameOwnersConstant
	default:
		return teamNameReadersConstant
	}
}

// IsPrivateVisibility reports whether a GitLab visibility maps to a private Forgejo repository.
func IsPrivateVisibility(visibility string) bool {
	return visibility != visibilityPublicConstant
}

// MapOrganizationVisibility converts a GitLab group visibility into a Forgejo organization visibility.
func MapOrganizationVisibility(visibility string) string {
	switch visibility {
	case visibilityPublicConstant:
		return visibilityPublicConstant
	case visibilityInternalConstant:
		return organizationVisibilityLimited
	default:
		return visibilityPrivateConstant
	}
}
