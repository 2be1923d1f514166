package mapping

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lremane/gitlab-2-forge-migration/internal/forgejo"
	"github.com/lremane/gitlab-2-forge-migration/internal/gitlab"
)

func TestCleanName(testInstance *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "plain", input: "project-x", expected: "project-x"},
		{name: "spaces", input: "My Project", expected: "My_Project"},
		{name: "disallowed characters", input: "café+tools", expected: "caf--tools"},
		{name: "reserved", input: "Plugins", expected: "Plugins-user"},
		{name: "dots kept", input: "site.io", expected: "site.io"},
	}

	for _, testCase := range testCases {
		testInstance.Run(testCase.name, func(subTest *testing.T) {
			require.Equal(subTest, testCase.expected, CleanName(testCase.input))
		})
	}
}

func TestOrganizationNameFlattensNestedGroups(testInstance *testing.T) {
	require.Equal(testInstance, "team-a", OrganizationName("team-a"))
	require.Equal(testInstance, "platform-backend-core", OrganizationName("platform/backend/core/"))
	require.Equal(testInstance, "plugins-user", OrganizationName("plugins"))
}

func TestNormalizeEmail(testInstance *testing.T) {
	require.Equal(testInstance, "alice@example.com", NormalizeEmail("  Alice@Example.COM "))
	require.Equal(testInstance, NormalizeEmail("STRASSE@example.com"), NormalizeEmail("strasse@EXAMPLE.com"))
	require.Empty(testInstance, NormalizeEmail("   "))
}

func TestMapRole(testInstance *testing.T) {
	testCases := []struct {
		name         string
		accessLevel  int
		expectedRole string
		expectedTeam string
	}{
		{name: "guest", accessLevel: gitlab.AccessLevelGuest, expectedRole: forgejo.PermissionRead, expectedTeam: "Readers"},
		{name: "reporter", accessLevel: gitlab.AccessLevelReporter, expectedRole: forgejo.PermissionRead, expectedTeam: "Readers"},
		{name: "developer", accessLevel: gitlab.AccessLevelDeveloper, expectedRole: forgejo.PermissionWrite, expectedTeam: "Writers"},
		{name: "maintainer", accessLevel: gitlab.AccessLevelMaintainer, expectedRole: forgejo.PermissionAdmin, expectedTeam: "Maintainers"},
		{name: "owner", accessLevel: gitlab.AccessLevelOwner, expectedRole: forgejo.PermissionOwner, expectedTeam: "Owners"},
	}

	for _, testCase := range testCases {
		testInstance.Run(testCase.name, func(subTest *testing.T) {
			role := MapRole(testCase.accessLevel)
			require.Equal(subTest, testCase.expectedRole, role)
			require.Equal(subTest, testCase.expectedTeam, TeamName(role))
		})
	}

	require.Greater(testInstance, RoleRank(forgejo.PermissionWrite), RoleRank(forgejo.PermissionRead))
	require.Zero(testInstance, RoleRank("unknown"))
}

func TestTargetOwner(testInstance *testing.T) {
	require.Equal(testInstance, "team-a-sub", TargetOwner(gitlab.Namespace{Kind: gitlab.NamespaceKindGroup, FullPath: "team-a/sub", Path: "sub"}))
	require.Equal(testInstance, "alice", TargetOwner(gitlab.Namespace{Kind: gitlab.NamespaceKindUser, FullPath: "alice", Path: "alice"}))
}

func TestVisibilityMapping(testInstance *testing.T) {
	require.False(testInstance, IsPrivateVisibility("public"))
	require.True(testInstance, IsPrivateVisibility("internal"))
	require.True(testInstance, IsPrivateVisibility("private"))
	require.Equal(testInstance, "limited", MapOrganizationVisibility("internal"))
	require.Equal(testInstance, "private", MapOrganizationVisibility(""))
}
