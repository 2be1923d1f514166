package inventory

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/lremane/gitlab-2-forge-migration/internal/gitlab"
	"github.com/lremane/gitlab-2-forge-migration/internal/migrationerrors"
)

type stubGroupResolver struct {
	groups  map[string]gitlab.Group
	lookups []string
}

func (resolver *stubGroupResolver) GetGroup(_ context.Context, fullPath string) (gitlab.Group, bool, error) {
	resolver.lookups = append(resolver.lookups, fullPath)
	group, found := resolver.groups[fullPath]
	return group, found, nil
}

func newTestSelector(testInstance *testing.T, resolver *stubGroupResolver, logger *zap.Logger) *Selector {
	testInstance.Helper()
	selector, creationError := NewSelector(SelectorDependencies{Groups: resolver, SourceHost: "gitlab.example.com", Logger: logger})
	require.NoError(testInstance, creationError)
	return selector
}

func teamResolver() *stubGroupResolver {
	return &stubGroupResolver{groups: map[string]gitlab.Group{
		"team-a":     {ID: 10, FullPath: "team-a"},
		"team-a/sub": {ID: 11, FullPath: "team-a/sub"},
	}}
}

func TestSelectSkipsExcludedEntriesInOrder(testInstance *testing.T) {
	inventory := Inventory{Entries: []Entry{
		{SourceID: 5, Path: "team-a/alpha", Namespace: "team-a", NamespaceKind: "group", Include: true},
		{SourceID: 2, Path: "team-a/beta", Namespace: "team-a", NamespaceKind: "group", Include: false},
		{SourceID: 9, Path: "team-a/sub/gamma", Namespace: "team-a/sub", NamespaceKind: "group", Include: true},
	}}
	resolver := teamResolver()

	worklist, selectError := newTestSelector(testInstance, resolver, nil).Select(context.Background(), inventory)
	require.NoError(testInstance, selectError)

	require.Len(testInstance, worklist.Entries, 2)
	require.Equal(testInstance, int64(5), worklist.Entries[0].SourceID)
	require.Equal(testInstance, int64(9), worklist.Entries[1].SourceID)
	require.Len(testInstance, worklist.Groups, 2)
	require.Equal(testInstance, []string{"team-a", "team-a/sub"}, resolver.lookups)
}

func TestSelectValidatesEntries(testInstance *testing.T) {
	testCases := []struct {
		name          string
		entries       []Entry
		expectedField string
		expectedRow   int
	}{
		{
			name:          "missing identifier",
			entries:       []Entry{{Path: "team-a/alpha", Include: true}},
			expectedField: ColumnSourceID,
			expectedRow:   1,
		},
		{
			name:          "missing path",
			entries:       []Entry{{SourceID: 1, Include: true, Row: 4}},
			expectedField: ColumnPath,
			expectedRow:   4,
		},
		{
			name: "duplicate identifier",
			entries: []Entry{
				{SourceID: 1, Path: "team-a/alpha", Include: true},
				{SourceID: 1, Path: "team-a/beta", Include: false},
			},
			expectedField: ColumnSourceID,
			expectedRow:   2,
		},
		{
			name:          "unresolved group",
			entries:       []Entry{{SourceID: 1, Path: "team-z/alpha", Namespace: "team-z", NamespaceKind: "group", Include: true}},
			expectedField: ColumnNamespace,
			expectedRow:   1,
		},
		{
			name:          "namespace disagrees with path",
			entries:       []Entry{{SourceID: 1, Path: "team-b/alpha", Namespace: "team-a", NamespaceKind: "group", Include: true}},
			expectedField: ColumnNamespace,
			expectedRow:   1,
		},
	}

	for _, testCase := range testCases {
		testInstance.Run(testCase.name, func(subTest *testing.T) {
			_, selectError := newTestSelector(subTest, teamResolver(), nil).Select(context.Background(), Inventory{Entries: testCase.entries})
			var validationError migrationerrors.ValidationError
			require.ErrorAs(subTest, selectError, &validationError)
			require.Equal(subTest, testCase.expectedField, validationError.FieldName)
			require.Equal(subTest, testCase.expectedRow, validationError.Row)
		})
	}
}

func TestSelectSkipsUserNamespacesAndWarnsOnForeignHost(testInstance *testing.T) {
	observerCore, observedLogs := observer.New(zapcore.WarnLevel)
	inventory := Inventory{Entries: []Entry{
		{SourceID: 1, Path: "alice/tool", Namespace: "alice", NamespaceKind: "user", Include: true, HTTPURL: "https://gitlab.example.com/alice/tool.git"},
		{SourceID: 2, Path: "team-a/alpha", Namespace: "team-a", NamespaceKind: "group", Include: true, HTTPURL: "https://old-gitlab.example.com/team-a/alpha.git"},
	}}
	resolver := teamResolver()

	worklist, selectError := newTestSelector(testInstance, resolver, zap.New(observerCore)).Select(context.Background(), inventory)
	require.NoError(testInstance, selectError)
	require.Len(testInstance, worklist.Entries, 2)
	require.Len(testInstance, worklist.Groups, 1)
	require.Equal(testInstance, []string{"team-a"}, resolver.lookups)
	require.Equal(testInstance, 1, observedLogs.Len())
	require.Equal(testInstance, "old-gitlab.example.com", observedLogs.All()[0].ContextMap()["host"])
}

func TestLoadWorklistReadsFile(testInstance *testing.T) {
	inventoryPath := filepath.Join(testInstance.TempDir(), "inventory.csv")
	require.NoError(testInstance, WriteFile(inventoryPath, Inventory{Entries: []Entry{
		{SourceID: 1, Path: "alice/tool", NamespaceKind: "user", Include: true},
		{SourceID: 2, Path: "alice/old", NamespaceKind: "user", Include: false},
	}}))

	worklist, loadError := LoadWorklist(context.Background(), inventoryPath, SelectorDependencies{Groups: &stubGroupResolver{}})
	require.NoError(testInstance, loadError)
	require.Len(testInstance, worklist.Entries, 1)
	require.Equal(testInstance, "alice/tool", worklist.Entries[0].Path)

	_, missingError := LoadWorklist(context.Background(), filepath.Join(testInstance.TempDir(), "absent.csv"), SelectorDependencies{Groups: &stubGroupResolver{}})
	require.Error(testInstance, missingError)
}
