package mirrors

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lremane/gitlab-2-forge-migration/internal/migration"
)

const (
	commandUseConstant              = "create-mirrors"
	commandShortDescriptionConstant = "Configure push mirrors from migrated repositories back to the source"
	commandLongDescriptionConstant  = "create-mirrors configures, for every repository the ledger records as complete, a push mirror from the target repository back to its source repository. The mirror authenticates with mirror.token, or the source token when none is set. Existing mirrors to the same address are kept. A mirror that cannot be configured is reported without stopping the others, and the command can be re-run on its own."
	flagDryRunNameConstant          = "dry-run"
	flagDryRunDescriptionConstant   = "Print the mirrors that would be created without creating them"
	unexpectedArgumentsMessage      = "create-mirrors does not accept positional arguments"
	commandExecutionErrorTemplate   = "mirror configuration failed: %w"
)

var errUnexpectedArguments = errors.New(unexpectedArgumentsMessage)

// CommandBuilder assembles the create-mirrors command.
type CommandBuilder struct {
	LoggerProvider        migration.LoggerProvider
	ConfigurationProvider migration.ConfigurationProvider
}

// Build constructs the create-mirrors command.
func (builder *CommandBuilder) Build() (*cobra.Command, error) {
	command := &cobra.Command{
		Use:   commandUseConstant,
		Short: commandShortDescriptionConstant,
		Long:  commandLongDescriptionConstant,
		RunE:  builder.run,
	}
	command.Flags().Bool(flagDryRunNameConstant, false, flagDryRunDescriptionConstant)
	return command, nil
}

func (builder *CommandBuilder) run(command *cobra.Command, arguments []string) error {
	if len(arguments) > 0 {
		return errUnexpectedArguments
	}
	dryRunValue, _ := command.Flags().GetBool(flagDryRunNameConstant)

	configuration := migration.ResolveConfiguration(builder.ConfigurationProvider)
	environment, environmentError := migration.Open(command.Context(), configuration, migration.ResolveLogger(builder.LoggerProvider))
	if environmentError != nil {
		return environmentError
	}
	defer environment.Close()

	runError := environment.Record(command.Context(), commandUseConstant, func(executionContext context.Context, runLogger *zap.Logger) error {
		mirrorConfiguration := environment.Configuration.Mirror
		mirrorToken := mirrorConfiguration.Token
		if len(mirrorToken) == 0 {
			mirrorToken = environment.Configuration.Source.Token
		}
		service, serviceError := NewService(Dependencies{
			Store:        environment.Store,
			Target:       environment.Target,
			Verifier:     environment.Transfer,
			Logger:       runLogger,
			Output:       command.OutOrStdout(),
			Interval:     mirrorConfiguration.Interval,
			SyncOnCommit: mirrorConfiguration.SyncOnCommit,
			Username:     mirrorConfiguration.Username,
			Token:        mirrorToken,
			VerifyRemote: mirrorConfiguration.VerifyRemote,
		})
		if serviceError != nil {
			return serviceError
		}
		_, configureError := service.Configure(executionContext, Options{DryRun: dryRunValue})
		return configureError
	})
	if runError != nil {
		return fmt.Errorf(commandExecutionErrorTemplate, runError)
	}
	return nil
}
