package report

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/lremane/gitlab-2-forge-migration/internal/ledger"
	"github.com/lremane/gitlab-2-forge-migration/internal/migration"
)

const (
	commandUseConstant              = "status"
	commandShortDescriptionConstant = "Show the migration state of every repository recorded in the ledger"
	commandLongDescriptionConstant  = "status reads the ledger and prints every repository with its state, the next stage a run would execute, the last error and the number of imported items. It never contacts either forge."
	unexpectedArgumentsMessage      = "status does not accept positional arguments"
)

var errUnexpectedArguments = errors.New(unexpectedArgumentsMessage)

// CommandBuilder assembles the status command.
type CommandBuilder struct {
	LoggerProvider        migration.LoggerProvider
	ConfigurationProvider migration.ConfigurationProvider
}

// Build constructs the status command.
func (builder *CommandBuilder) Build() (*cobra.Command, error) {
	return &cobra.Command{
		Use:   commandUseConstant,
		Short: commandShortDescriptionConstant,
		Long:  commandLongDescriptionConstant,
		RunE:  builder.run,
	}, nil
}

func (builder *CommandBuilder) run(command *cobra.Command, arguments []string) error {
	if len(arguments) > 0 {
		return errUnexpectedArguments
	}
	configuration := migration.ResolveConfiguration(builder.ConfigurationProvider)
	if len(configuration.Ledger.Path) == 0 {
		return ledger.ErrStoreNotConfigured
	}

	store, storeError := ledger.Open(command.Context(), configuration.Ledger.Path)
	if storeError != nil {
		return storeError
	}
	defer store.Close()

	records, listError := store.ListRepositories(command.Context())
	if listError != nil {
		return listError
	}
	return Render(command.OutOrStdout(), BuildStatus(records))
}
