package groups

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lremane/gitlab-2-forge-migration/internal/inventory"
	"github.com/lremane/gitlab-2-forge-migration/internal/migration"
)

const (
	commandUseConstant              = "migrate-groups"
	commandShortDescriptionConstant = "Create organizations and teams for the groups of the selected repositories"
	commandLongDescriptionConstant  = "migrate-groups reads the inventory, selects the repositories marked for migration and creates one organization per source group they belong to, with Readers, Writers, Maintainers and Owners teams holding the group's members."
	unexpectedArgumentsMessage      = "migrate-groups does not accept positional arguments"
	commandExecutionErrorTemplate   = "group migration failed: %w"
)

var errUnexpectedArguments = errors.New(unexpectedArgumentsMessage)

// CommandBuilder assembles the migrate-groups command.
type CommandBuilder struct {
	LoggerProvider        migration.LoggerProvider
	ConfigurationProvider migration.ConfigurationProvider
}

// Build constructs the migrate-groups command.
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
	environment, environmentError := migration.Open(command.Context(), configuration, migration.ResolveLogger(builder.LoggerProvider))
	if environmentError != nil {
		return environmentError
	}
	defer environment.Close()

	runError := environment.Record(command.Context(), commandUseConstant, func(executionContext context.Context, runLogger *zap.Logger) error {
		worklist, worklistError := inventory.LoadWorklist(executionContext, environment.Configuration.Inventory.Path, inventory.SelectorDependencies{
			Groups:     environment.Source,
			SourceHost: environment.Source.Host(),
			Logger:     runLogger,
		})
		if worklistError != nil {
			return worklistError
		}
		service, serviceError := NewEnvironmentService(environment, runLogger)
		if serviceError != nil {
			return serviceError
		}
		_, migrateError := service.Migrate(executionContext, worklist.Groups)
		return migrateError
	})
	if runError != nil {
		return fmt.Errorf(commandExecutionErrorTemplate, runError)
	}
	return nil
}

// NewEnvironmentService builds the service from a migration environment.
func NewEnvironmentService(environment *migration.Environment, logger *zap.Logger) (*Service, error) {
	return NewService(Dependencies{
		Source:   environment.Source,
		Target:   environment.Target,
		Resolver: environment.Users,
		Store:    environment.Store,
		Logger:   logger,
	})
}
