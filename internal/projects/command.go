package projects

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lremane/gitlab-2-forge-migration/internal/groups"
	"github.com/lremane/gitlab-2-forge-migration/internal/inventory"
	"github.com/lremane/gitlab-2-forge-migration/internal/ledger"
	"github.com/lremane/gitlab-2-forge-migration/internal/migration"
	"github.com/lremane/gitlab-2-forge-migration/internal/report"
)

const (
	commandUseConstant               = "migrate-projects"
	commandShortDescriptionConstant  = "Migrate the selected repositories with their wiki, labels, milestones, issues, merge requests and releases"
	commandLongDescriptionConstant   = "migrate-projects reads the inventory, ensures the organizations of the selected repositories exist and then walks every repository through its migration stages. Progress is kept in the ledger so an interrupted or failed run resumes where it stopped. A summary of succeeded, partially failed and failed repositories is printed at the end."
	flagWorkersNameConstant          = "workers"
	flagWorkersDescriptionConstant   = "Number of repositories migrated concurrently (defaults to the configured workers)"
	flagRestartNameConstant          = "restart"
	flagRestartDescriptionConstant   = "Reset the selected repositories to pending; items already imported are not created again"
	unexpectedArgumentsMessage       = "migrate-projects does not accept positional arguments"
	invalidWorkersMessage            = "--workers must be at least 1"
	commandExecutionErrorTemplate    = "project migration failed: %w"
	groupsErrorTemplate              = "prepare organizations: %w"
	groupsIncompleteMessage          = "some organizations were not fully prepared"
	logFieldUnavailableCountConstant = "unavailable_count"
)

var (
	errUnexpectedArguments = errors.New(unexpectedArgumentsMessage)
	errInvalidWorkers      = errors.New(invalidWorkersMessage)
)

// CommandBuilder assembles the migrate-projects command.
type CommandBuilder struct {
	LoggerProvider        migration.LoggerProvider
	ConfigurationProvider migration.ConfigurationProvider
}

// Build constructs the migrate-projects command.
func (builder *CommandBuilder) Build() (*cobra.Command, error) {
	command := &cobra.Command{
		Use:   commandUseConstant,
		Short: commandShortDescriptionConstant,
		Long:  commandLongDescriptionConstant,
		RunE:  builder.run,
	}
	command.Flags().Int(flagWorkersNameConstant, 0, flagWorkersDescriptionConstant)
	command.Flags().Bool(flagRestartNameConstant, false, flagRestartDescriptionConstant)
	return command, nil
}

func (builder *CommandBuilder) run(command *cobra.Command, arguments []string) error {
	if len(arguments) > 0 {
		return errUnexpectedArguments
	}

	configuration := migration.ResolveConfiguration(builder.ConfigurationProvider)
	if command.Flags().Changed(flagWorkersNameConstant) {
		workersValue, _ := command.Flags().GetInt(flagWorkersNameConstant)
		if workersValue < 1 {
			return errInvalidWorkers
		}
		configuration.Workers = workersValue
	}
	restartValue, _ := command.Flags().GetBool(flagRestartNameConstant)

	environment, environmentError := migration.Open(command.Context(), configuration, migration.ResolveLogger(builder.LoggerProvider))
	if environmentError != nil {
		return environmentError
	}
	defer environment.Close()

	var outcomes []Outcome
	runError := environment.Record(command.Context(), commandUseConstant, func(executionContext context.Context, runLogger *zap.Logger) error {
		worklist, worklistError := inventory.LoadWorklist(executionContext, environment.Configuration.Inventory.Path, inventory.SelectorDependencies{
			Groups:     environment.Source,
			SourceHost: environment.Source.Host(),
			Logger:     runLogger,
		})
		if worklistError != nil {
			return worklistError
		}

		groupService, groupServiceError := groups.NewEnvironmentService(environment, runLogger)
		if groupServiceError != nil {
			return groupServiceError
		}
		groupResult, groupsError := groupService.Migrate(executionContext, worklist.Groups)
		if groupsError != nil {
			if isCancellation(groupsError) {
				return groupsError
			}
			runLogger.Warn(groupsIncompleteMessage, zap.Int(logFieldUnavailableCountConstant, len(groupResult.Unavailable())), zap.Error(groupsError))
			groupsError = fmt.Errorf(groupsErrorTemplate, groupsError)
		}

		service, serviceError := NewService(Dependencies{
			Source:         environment.Source,
			Target:         environment.Target,
			Store:          environment.Store,
			Resolver:       environment.Users,
			Git:            environment.Transfer,
			Logger:         runLogger,
			SourceToken:    environment.Configuration.Source.Token,
			TargetToken:    environment.Target.Token(),
			Workers:        environment.Configuration.Workers,
			FallbackAuthor: environment.Configuration.Users.FallbackAuthor,
		})
		if serviceError != nil {
			return serviceError
		}

		var migrateError error
		outcomes, migrateError = service.MigrateWorklist(executionContext, worklist.Entries, Options{
			Restart:               restartValue,
			UnavailableNamespaces: groupResult.Unavailable(),
		})
		return errors.Join(groupsError, migrateError)
	})

	if len(outcomes) > 0 {
		records := make([]ledger.RepositoryRecord, 0, len(outcomes))
		for _, outcome := range outcomes {
			record := outcome.Record
			if record.SourceID == 0 {
				record = ledger.RepositoryRecord{SourceID: outcome.SourceID, SourcePath: outcome.SourcePath, Failed: outcome.Err != nil, LastError: errorText(outcome.Err)}
			}
			records = append(records, record)
		}
		summary, summaryError := report.Summarize(context.WithoutCancel(command.Context()), records, environment.Store)
		if summaryError != nil {
			runError = errors.Join(runError, summaryError)
		} else if renderError := report.Render(command.OutOrStdout(), summary); renderError != nil {
			runError = errors.Join(runError, renderError)
		}
	}

	if runError != nil {
		return fmt.Errorf(commandExecutionErrorTemplate, runError)
	}
	return nil
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
