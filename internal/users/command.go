package users

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lremane/gitlab-2-forge-migration/internal/migration"
)

const (
	commandUseConstant              = "migrate-users"
	commandShortDescriptionConstant = "Create target accounts and import SSH keys for every source account"
	commandLongDescriptionConstant  = "migrate-users maps every active source account to a target account by email, then username, creating the account with a temporary password when neither matches, and imports the account's SSH keys."
	unexpectedArgumentsMessage      = "migrate-users does not accept positional arguments"
	commandExecutionErrorTemplate   = "user migration failed: %w"
	usersSummaryMessageConstant     = "account summary"
	logFieldCollisionsConstant      = "collisions"
	logFieldSkippedConstant         = "skipped_count"
	flagNotifyNameConstant          = "notify"
	flagNotifyDescriptionConstant   = "Ask the target to email created accounts their credentials (defaults to users.notify)"
)

var errUnexpectedArguments = errors.New(unexpectedArgumentsMessage)

// CommandBuilder assembles the migrate-users command.
type CommandBuilder struct {
	LoggerProvider        migration.LoggerProvider
	ConfigurationProvider migration.ConfigurationProvider
}

// Build constructs the migrate-users command.
func (builder *CommandBuilder) Build() (*cobra.Command, error) {
	command := &cobra.Command{
		Use:   commandUseConstant,
		Short: commandShortDescriptionConstant,
		Long:  commandLongDescriptionConstant,
		RunE:  builder.run,
	}
	command.Flags().Bool(flagNotifyNameConstant, false, flagNotifyDescriptionConstant)
	return command, nil
}

func (builder *CommandBuilder) run(command *cobra.Command, arguments []string) error {
	if len(arguments) > 0 {
		return errUnexpectedArguments
	}

	configuration := migration.ResolveConfiguration(builder.ConfigurationProvider)
	if command.Flags().Changed(flagNotifyNameConstant) {
		configuration.Users.Notify, _ = command.Flags().GetBool(flagNotifyNameConstant)
	}
	environment, environmentError := migration.Open(command.Context(), configuration, migration.ResolveLogger(builder.LoggerProvider))
	if environmentError != nil {
		return environmentError
	}
	defer environment.Close()

	runError := environment.Record(command.Context(), commandUseConstant, func(executionContext context.Context, runLogger *zap.Logger) error {
		service, serviceError := NewService(Dependencies{
			Source:        environment.Source,
			Target:        environment.Target,
			Resolver:      environment.Users,
			Logger:        runLogger,
			SkipUsernames: environment.Configuration.Users.SkipUsernames,
		})
		if serviceError != nil {
			return serviceError
		}
		result, migrateError := service.Migrate(executionContext)
		runLogger.Info(usersSummaryMessageConstant,
			zap.Int(logFieldMappedConstant, result.Mapped),
			zap.Int(logFieldCollisionsConstant, result.Collisions),
			zap.Int(logFieldSkippedConstant, result.Skipped),
			zap.Int(logFieldKeysConstant, result.KeysImported),
		)
		return migrateError
	})
	if runError != nil {
		return fmt.Errorf(commandExecutionErrorTemplate, runError)
	}
	return nil
}
