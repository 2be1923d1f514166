package inventory

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lremane/gitlab-2-forge-migration/internal/ledger"
	"github.com/lremane/gitlab-2-forge-migration/internal/migration"
)

const (
	commandUseConstant               = "extract-inventory"
	commandShortDescriptionConstant  = "Write every visible source repository to the inventory file"
	commandLongDescriptionConstant   = "extract-inventory pages through every project the source credential can see and writes one CSV row per repository. Edit the include column to exclude repositories before migrating."
	flagAppendNameConstant           = "append"
	flagAppendDescriptionConstant    = "Keep existing rows and their edits, appending only repositories not yet listed"
	flagOutputNameConstant           = "output"
	flagOutputDescriptionConstant    = "Inventory file to write (defaults to inventory.path)"
	unexpectedArgumentsMessage       = "extract-inventory does not accept positional arguments"
	inventoryWrittenMessageConstant  = "inventory written"
	logFieldInventoryPathConstant    = "inventory_path"
	logFieldEntryCountConstant       = "entry_count"
	commandExecutionErrorTemplate    = "inventory extraction failed: %w"
	readExistingInventoryErrTemplate = "read existing inventory: %w"
	partialSuffixConstant            = ".partial"
	partialInventoryMessageConstant  = "extraction incomplete, existing inventory left unchanged"
	logFieldPartialPathConstant      = "partial_path"
)

var errUnexpectedArguments = errors.New(unexpectedArgumentsMessage)

// CommandBuilder assembles the extract-inventory command.
type CommandBuilder struct {
	LoggerProvider        migration.LoggerProvider
	ConfigurationProvider migration.ConfigurationProvider
}

// Build constructs the extract-inventory command.
func (builder *CommandBuilder) Build() (*cobra.Command, error) {
	command := &cobra.Command{
		Use:   commandUseConstant,
		Short: commandShortDescriptionConstant,
		Long:  commandLongDescriptionConstant,
		RunE:  builder.run,
	}
	command.Flags().Bool(flagAppendNameConstant, false, flagAppendDescriptionConstant)
	command.Flags().String(flagOutputNameConstant, "", flagOutputDescriptionConstant)
	return command, nil
}

func (builder *CommandBuilder) run(command *cobra.Command, arguments []string) error {
	if len(arguments) > 0 {
		return errUnexpectedArguments
	}

	configuration := migration.ResolveConfiguration(builder.ConfigurationProvider)
	if outputValue, _ := command.Flags().GetString(flagOutputNameConstant); len(strings.TrimSpace(outputValue)) > 0 {
		configuration.Inventory.Path = strings.TrimSpace(outputValue)
	}
	appendMode, _ := command.Flags().GetBool(flagAppendNameConstant)
	if validationError := configuration.ValidateSource(); validationError != nil {
		return validationError
	}

	logger := migration.ResolveLogger(builder.LoggerProvider)
	sourceClient, sourceError := migration.NewSourceClient(configuration, logger)
	if sourceError != nil {
		return sourceError
	}
	extractor, extractorError := NewExtractor(sourceClient, logger)
	if extractorError != nil {
		return extractorError
	}

	store, storeError := ledger.Open(command.Context(), configuration.Ledger.Path)
	if storeError != nil {
		return storeError
	}
	defer store.Close()

	runError := migration.RecordRun(command.Context(), store, logger, commandUseConstant, func(executionContext context.Context, runLogger *zap.Logger) error {
		return extractToFile(executionContext, extractor, configuration.Inventory.Path, appendMode, runLogger)
	})
	if runError != nil {
		return fmt.Errorf(commandExecutionErrorTemplate, runError)
	}
	return nil
}

// extractToFile writes whatever was extracted, even when extraction failed part
// way. An incomplete extraction never replaces an existing inventory: it is
// merged into it in append mode and written next to it otherwise.
func extractToFile(executionContext context.Context, extractor *Extractor, path string, appendMode bool, logger *zap.Logger) error {
	entries, extractError := extractor.Extract(executionContext)

	inventory := Inventory{Entries: entries}
	if appendMode {
		existing, readError := ReadFile(path)
		switch {
		case readError == nil:
			inventory = Merge(existing, entries, logger)
		case errors.Is(readError, os.ErrNotExist):
		default:
			return errors.Join(extractError, fmt.Errorf(readExistingInventoryErrTemplate, readError))
		}
	}

	outputPath := path
	if extractError != nil && !appendMode {
		if _, statError := os.Stat(path); statError == nil {
			outputPath = path + partialSuffixConstant
			logger.Warn(partialInventoryMessageConstant, zap.String(logFieldInventoryPathConstant, path), zap.String(logFieldPartialPathConstant, outputPath))
		}
	}

	if writeError := WriteFile(outputPath, inventory); writeError != nil {
		return errors.Join(extractError, writeError)
	}
	logger.Info(inventoryWrittenMessageConstant, zap.String(logFieldInventoryPathConstant, outputPath), zap.Int(logFieldEntryCountConstant, len(inventory.Entries)))
	return extractError
}
