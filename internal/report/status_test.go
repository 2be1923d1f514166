package report

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/lremane/gitlab-2-forge-migration/internal/ledger"
	"github.com/lremane/gitlab-2-forge-migration/internal/migration"
)

func TestBuildStatus(testInstance *testing.T) {
	updatedAt := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	view := BuildStatus([]ledger.RepositoryRecord{
		{SourceID: 1, SourcePath: "team-a/one", TargetOwner: "team-a", TargetName: "one", Stage: ledger.StageComplete, Counts: ledger.StageCounts{Issues: 4, Labels: 2}, UpdatedAt: updatedAt},
		{SourceID: 2, SourcePath: "team-a/two", Stage: ledger.StageWikiImported},
		{SourceID: 3, SourcePath: "team-a/three", Stage: ledger.StageWikiImported, Failed: true, LastError: "labels rejected"},
	})

	require.Len(testInstance, view.Repositories, 3)
	require.Equal(testInstance, "complete", view.Repositories[0].State)
	require.Empty(testInstance, view.Repositories[0].NextStage)
	require.Equal(testInstance, ItemCounts{Labels: 2, Issues: 4}, view.Repositories[0].Imported)
	require.Equal(testInstance, "2024-03-01T12:00:00Z", view.Repositories[0].UpdatedAt)
	require.Equal(testInstance, string(ledger.StageLabelsImported), view.Repositories[1].NextStage)
	require.Equal(testInstance, "failed", view.Repositories[2].State)
	require.Equal(testInstance, string(ledger.StageLabelsImported), view.Repositories[2].NextStage)
	require.Equal(testInstance, map[string]int{"complete": 1, "wiki_imported": 1, "failed": 1}, view.Totals)
}

func TestStatusCommandReadsLedger(testInstance *testing.T) {
	ledgerPath := filepath.Join(testInstance.TempDir(), "ledger.db")
	store, openError := ledger.Open(context.Background(), ledgerPath)
	require.NoError(testInstance, openError)
	_, ensureError := store.EnsureRepository(context.Background(), 5, "team-a/project-x", "https://gitlab.example.com/team-a/project-x.git")
	require.NoError(testInstance, ensureError)
	require.NoError(testInstance, store.Close())

	builder := CommandBuilder{ConfigurationProvider: func() migration.Configuration {
		configuration := migration.DefaultConfiguration()
		configuration.Ledger.Path = ledgerPath
		return configuration
	}}
	command, buildError := builder.Build()
	require.NoError(testInstance, buildError)

	var output bytes.Buffer
	command.SetOut(&output)
	command.SetContext(context.Background())
	require.NoError(testInstance, command.RunE(command, nil))
	require.Contains(testInstance, output.String(), "source_path: team-a/project-x")
	require.Contains(testInstance, output.String(), "state: pending")
	require.Contains(testInstance, output.String(), "next_stage: code_imported")
}

func TestStatusCommandRejectsArguments(testInstance *testing.T) {
	builder := CommandBuilder{}
	command, buildError := builder.Build()
	require.NoError(testInstance, buildError)
	require.ErrorIs(testInstance, command.RunE(&cobra.Command{}, []string{"extra"}), errUnexpectedArguments)
}
