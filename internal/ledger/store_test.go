package ledger

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const (
	testSourceIdentifierConstant = int64(42)
	testSourcePathConstant       = "team-a/project-x"
	testSourceURLConstant        = "https://gitlab.example.com/team-a/project-x.git"
	testTargetOwnerConstant      = "team-a"
	testTargetNameConstant       = "project-x"
	testTargetIdentifierConstant = int64(900)
	testLedgerFileNameConstant   = "ledger.db"
)

func openTestStore(testInstance *testing.T) *Store {
	testInstance.Helper()
	store, openError := Open(context.Background(), filepath.Join(testInstance.TempDir(), "state", testLedgerFileNameConstant))
	require.NoError(testInstance, openError)
	testInstance.Cleanup(func() { require.NoError(testInstance, store.Close()) })
	return store
}

func seedRepository(testInstance *testing.T, store *Store) RepositoryRecord {
	testInstance.Helper()
	record, ensureError := store.EnsureRepository(context.Background(), testSourceIdentifierConstant, testSourcePathConstant, testSourceURLConstant)
	require.NoError(testInstance, ensureError)
	return record
}

func TestOpenRequiresPath(testInstance *testing.T) {
	_, openError := Open(context.Background(), "  ")
	require.Error(testInstance, openError)
}

func TestOpenIsRepeatable(testInstance *testing.T) {
	ledgerPath := filepath.Join(testInstance.TempDir(), testLedgerFileNameConstant)

	firstStore, firstError := Open(context.Background(), ledgerPath)
	require.NoError(testInstance, firstError)
	_, ensureError := firstStore.EnsureRepository(context.Background(), testSourceIdentifierConstant, testSourcePathConstant, testSourceURLConstant)
	require.NoError(testInstance, ensureError)
	require.NoError(testInstance, firstStore.Close())

	secondStore, secondError := Open(context.Background(), ledgerPath)
	require.NoError(testInstance, secondError)
	defer secondStore.Close()

	record, found, loadError := secondStore.Repository(context.Background(), testSourceIdentifierConstant)
	require.NoError(testInstance, loadError)
	require.True(testInstance, found)
	require.Equal(testInstance, StagePending, record.Stage)
}

func TestEnsureRepositoryKeepsProgress(testInstance *testing.T) {
	store := openTestStore(testInstance)
	seedRepository(testInstance, store)
	require.NoError(testInstance, store.RecordTarget(context.Background(), testSourceIdentifierConstant, testTargetOwnerConstant, testTargetNameConstant, testTargetIdentifierConstant))
	_, completeError := store.CompleteStage(context.Background(), testSourceIdentifierConstant, StageCodeImported)
	require.NoError(testInstance, completeError)

	record := seedRepository(testInstance, store)
	require.Equal(testInstance, StageCodeImported, record.Stage)
	require.Equal(testInstance, testTargetIdentifierConstant, record.TargetID)
	require.Equal(testInstance, "team-a/project-x", record.TargetFullName())
}

func TestCompleteStageEnforcesOrder(testInstance *testing.T) {
	testCases := []struct {
		name          string
		committed     []Stage
		attempted     Stage
		expectedError error
	}{
		{
			name:      "first stage",
			attempted: StageCodeImported,
		},
		{
			name:          "skipping a stage",
			attempted:     StageWikiImported,
			expectedError: ErrStagePredecessorMissing,
		},
		{
			name:          "repeating a stage",
			committed:     []Stage{StageCodeImported},
			attempted:     StageCodeImported,
			expectedError: ErrStagePredecessorMissing,
		},
		{
			name:      "following a committed stage",
			committed: []Stage{StageCodeImported, StageWikiImported},
			attempted: StageLabelsImported,
		},
	}

	for _, testCase := range testCases {
		testInstance.Run(testCase.name, func(subTest *testing.T) {
			store := openTestStore(subTest)
			seedRepository(subTest, store)
			for _, stage := range testCase.committed {
				_, completeError := store.CompleteStage(context.Background(), testSourceIdentifierConstant, stage)
				require.NoError(subTest, completeError)
			}

			record, completeError := store.CompleteStage(context.Background(), testSourceIdentifierConstant, testCase.attempted)
			if testCase.expectedError != nil {
				require.ErrorIs(subTest, completeError, testCase.expectedError)
				return
			}
			require.NoError(subTest, completeError)
			require.Equal(subTest, testCase.attempted, record.Stage)
		})
	}
}

func TestCompleteStageUnknownRepository(testInstance *testing.T) {
	store := openTestStore(testInstance)
	_, completeError := store.CompleteStage(context.Background(), 7, StageCodeImported)
	require.ErrorIs(testInstance, completeError, ErrRepositoryNotRecorded)
}

func TestFailStageKeepsCommittedStage(testInstance *testing.T) {
	store := openTestStore(testInstance)
	seedRepository(testInstance, store)
	_, completeError := store.CompleteStage(context.Background(), testSourceIdentifierConstant, StageCodeImported)
	require.NoError(testInstance, completeError)

	require.NoError(testInstance, store.FailStage(context.Background(), testSourceIdentifierConstant, StageWikiImported, "wiki push rejected"))

	record, _, loadError := store.Repository(context.Background(), testSourceIdentifierConstant)
	require.NoError(testInstance, loadError)
	require.Equal(testInstance, StageFailed, record.State())
	require.Equal(testInstance, StageCodeImported, record.Stage)
	require.Equal(testInstance, StageWikiImported, record.NextStage())
	require.Equal(testInstance, "wiki push rejected", record.LastError)

	updated, retryError := store.CompleteStage(context.Background(), testSourceIdentifierConstant, StageWikiImported)
	require.NoError(testInstance, retryError)
	require.False(testInstance, updated.Failed)
	require.Empty(testInstance, updated.LastError)
}

func TestResetRepositoryKeepsItems(testInstance *testing.T) {
	store := openTestStore(testInstance)
	seedRepository(testInstance, store)
	require.NoError(testInstance, store.RecordTarget(context.Background(), testSourceIdentifierConstant, testTargetOwnerConstant, testTargetNameConstant, testTargetIdentifierConstant))
	require.NoError(testInstance, store.RecordItem(context.Background(), ItemRecord{
		TargetRepositoryID: testTargetIdentifierConstant,
		Kind:               ItemKindLabel,
		SourceItemID:       "bug",
		TargetItemID:       3,
		Status:             ItemStatusImported,
	}))
	_, completeError := store.CompleteStage(context.Background(), testSourceIdentifierConstant, StageCodeImported)
	require.NoError(testInstance, completeError)

	require.NoError(testInstance, store.ResetRepository(context.Background(), testSourceIdentifierConstant))

	record, _, loadError := store.Repository(context.Background(), testSourceIdentifierConstant)
	require.NoError(testInstance, loadError)
	require.Equal(testInstance, StagePending, record.Stage)
	require.Equal(testInstance, testTargetIdentifierConstant, record.TargetID)

	item, found, itemError := store.Item(context.Background(), testTargetIdentifierConstant, ItemKindLabel, "bug")
	require.NoError(testInstance, itemError)
	require.True(testInstance, found)
	require.Equal(testInstance, int64(3), item.TargetItemID)
}

func TestRecordItemNeverDowngradesImport(testInstance *testing.T) {
	store := openTestStore(testInstance)
	imported := ItemRecord{
		TargetRepositoryID: testTargetIdentifierConstant,
		Kind:               ItemKindIssue,
		SourceItemID:       "7",
		SourceName:         "#7",
		TargetItemID:       12,
		Status:             ItemStatusImported,
	}
	require.NoError(testInstance, store.RecordItem(context.Background(), imported))

	failed := imported
	failed.TargetItemID = 0
	failed.Status = ItemStatusFailed
	failed.LastError = "boom"
	require.NoError(testInstance, store.RecordItem(context.Background(), failed))

	item, found, loadError := store.Item(context.Background(), testTargetIdentifierConstant, ItemKindIssue, "7")
	require.NoError(testInstance, loadError)
	require.True(testInstance, found)
	require.Equal(testInstance, ItemStatusImported, item.Status)
	require.Equal(testInstance, int64(12), item.TargetItemID)
}

func TestFailedItemsAndCounts(testInstance *testing.T) {
	store := openTestStore(testInstance)
	seedRepository(testInstance, store)
	require.NoError(testInstance, store.RecordTarget(context.Background(), testSourceIdentifierConstant, testTargetOwnerConstant, testTargetNameConstant, testTargetIdentifierConstant))

	for _, sourceItemID := range []string{"1", "2", "3"} {
		status := ItemStatusImported
		if sourceItemID == "2" {
			status = ItemStatusFailed
		}
		require.NoError(testInstance, store.RecordItem(context.Background(), ItemRecord{
			TargetRepositoryID: testTargetIdentifierConstant,
			Kind:               ItemKindIssue,
			SourceItemID:       sourceItemID,
			Status:             status,
		}))
	}

	failedItems, failedError := store.FailedItems(context.Background(), testTargetIdentifierConstant)
	require.NoError(testInstance, failedError)
	require.Len(testInstance, failedItems, 1)
	require.Equal(testInstance, "2", failedItems[0].SourceItemID)

	record, completeError := store.CompleteStage(context.Background(), testSourceIdentifierConstant, StageCodeImported)
	require.NoError(testInstance, completeError)
	require.Equal(testInstance, 2, record.Counts.Issues)
}

func TestUserMappingLookups(testInstance *testing.T) {
	store := openTestStore(testInstance)
	mapping := UserMapping{
		SourceUserID:    5,
		SourceUsername:  "alice",
		NormalizedEmail: "alice@example.com",
		TargetUserID:    11,
		TargetUsername:  "alice",
	}
	require.NoError(testInstance, store.SaveUserMapping(context.Background(), mapping))

	loaded, found, loadError := store.UserMapping(context.Background(), 5)
	require.NoError(testInstance, loadError)
	require.True(testInstance, found)
	require.Equal(testInstance, "alice", loaded.TargetUsername)

	byEmail, emailError := store.UserMappingsByEmail(context.Background(), "alice@example.com")
	require.NoError(testInstance, emailError)
	require.Len(testInstance, byEmail, 1)

	byTarget, targetError := store.UserMappingsByTarget(context.Background(), "ALICE")
	require.NoError(testInstance, targetError)
	require.Len(testInstance, byTarget, 1)

	_, missing, missingError := store.UserMapping(context.Background(), 6)
	require.NoError(testInstance, missingError)
	require.False(testInstance, missing)
}

func TestGroupAndMirrorRecords(testInstance *testing.T) {
	store := openTestStore(testInstance)
	require.NoError(testInstance, store.SaveGroupMapping(context.Background(), GroupMapping{
		SourcePath:           "team-a",
		SourceGroupID:        3,
		TargetOrganization:   "team-a",
		TargetOrganizationID: 8,
	}))
	mapping, found, mappingError := store.GroupMapping(context.Background(), "team-a")
	require.NoError(testInstance, mappingError)
	require.True(testInstance, found)
	require.Equal(testInstance, int64(8), mapping.TargetOrganizationID)

	require.NoError(testInstance, store.SaveGroupMember(context.Background(), GroupMember{SourcePath: "team-a", SourceUserID: 5, TargetUsername: "alice", Role: "read"}))
	require.NoError(testInstance, store.SaveGroupMember(context.Background(), GroupMember{SourcePath: "team-a", SourceUserID: 5, TargetUsername: "alice", Role: "write"}))
	members, membersError := store.GroupMembers(context.Background(), "team-a")
	require.NoError(testInstance, membersError)
	require.Len(testInstance, members, 1)
	require.Equal(testInstance, "write", members[0].Role)

	mirror := MirrorRecord{TargetRepositoryID: testTargetIdentifierConstant, RemoteAddress: "https://gitlab.example.com/team-a/project-x.git", SyncInterval: "8h0m0s"}
	require.NoError(testInstance, store.SaveMirror(context.Background(), mirror))
	require.NoError(testInstance, store.SaveMirror(context.Background(), mirror))
	mirrors, mirrorsError := store.ListMirrors(context.Background())
	require.NoError(testInstance, mirrorsError)
	require.Len(testInstance, mirrors, 1)
}

func TestRunsAreRecorded(testInstance *testing.T) {
	store := openTestStore(testInstance)
	run, beginError := store.BeginRun(context.Background(), "migrate-projects")
	require.NoError(testInstance, beginError)
	require.NotEmpty(testInstance, run.ID)
	require.NoError(testInstance, store.FinishRun(context.Background(), run.ID, "succeeded"))
}

func TestStoreRespectsCancelledContext(testInstance *testing.T) {
	store := openTestStore(testInstance)
	cancelledContext, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, loadError := store.Repository(cancelledContext, testSourceIdentifierConstant)
	require.True(testInstance, errors.Is(loadError, context.Canceled))
}
