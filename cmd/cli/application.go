package cli

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/lremane/gitlab-2-forge-migration/internal/groups"
	"github.com/lremane/gitlab-2-forge-migration/internal/inventory"
	"github.com/lremane/gitlab-2-forge-migration/internal/migration"
	"github.com/lremane/gitlab-2-forge-migration/internal/mirrors"
	"github.com/lremane/gitlab-2-forge-migration/internal/projects"
	"github.com/lremane/gitlab-2-forge-migration/internal/report"
	"github.com/lremane/gitlab-2-forge-migration/internal/users"
	"github.com/lremane/gitlab-2-forge-migration/internal/utils"
)

const (
	applicationNameConstant                 = "forge-migrate"
	applicationShortDescriptionConstant     = "Migrate GitLab groups, users and projects to Forgejo"
	applicationLongDescriptionConstant      = "forge-migrate extracts an editable inventory from GitLab and replays users, groups, repositories and their metadata onto Forgejo, resuming from a local ledger."
	applicationVersionTemplateConstant      = "{{.Name}} version: {{.Version}}\n"
	developmentVersionConstant              = "(devel)"
	configFileFlagNameConstant              = "config"
	configFileFlagUsageConstant             = "Optional path to a configuration file (YAML)."
	logLevelFlagNameConstant                = "log-level"
	logLevelFlagUsageConstant               = "Override the configured log level."
	logFormatFlagNameConstant               = "log-format"
	logFormatFlagUsageConstant              = "Override the configured log format (structured or console)."
	commonConfigurationKeyConstant          = "common"
	commonLogLevelConfigKeyConstant         = commonConfigurationKeyConstant + ".log_level"
	commonLogFormatConfigKeyConstant        = commonConfigurationKeyConstant + ".log_format"
	migrationConfigurationKeyConstant       = "migration"
	environmentPrefixConstant               = "FORGEMIGRATE"
	configurationNameConstant               = "config"
	configurationTypeConstant               = "yaml"
	configurationInitializedMessageConstant = "configuration initialized"
	configurationLogLevelFieldConstant      = "log_level"
	configurationLogFormatFieldConstant     = "log_format"
	configurationFileFieldConstant          = "config_file"
	configurationLoadErrorTemplateConstant  = "unable to load configuration: %w"
	loggerCreationErrorTemplateConstant     = "unable to create logger: %w"
	loggerSyncErrorTemplateConstant         = "unable to flush logger: %w"
	rootCommandInfoMessageConstant          = "forge-migrate CLI executed"
	rootCommandDebugMessageConstant         = "forge-migrate CLI diagnostics"
	logFieldCommandNameConstant             = "command_name"
	logFieldArgumentCountConstant           = "argument_count"
	logFieldArgumentsConstant               = "arguments"
	loggerNotInitializedMessageConstant     = "logger not initialized"
	defaultConfigurationSearchPathConstant  = "."
)

// ApplicationConfiguration describes the persisted configuration for the CLI entrypoint.
type ApplicationConfiguration struct {
	Common    ApplicationCommonConfiguration `mapstructure:"common"`
	Migration migration.Configuration        `mapstructure:"migration"`
}

// ApplicationCommonConfiguration stores logging configuration shared across commands.
type ApplicationCommonConfiguration struct {
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`
}

type commandBuilder interface {
	Build() (*cobra.Command, error)
}

// Application wires the Cobra root command, configuration loader, and structured logger.
type Application struct {
	rootCommand           *cobra.Command
	configurationLoader   *utils.ConfigurationLoader
	loggerFactory         *utils.LoggerFactory
	logger                *zap.Logger
	configuration         ApplicationConfiguration
	configurationMetadata utils.LoadedConfiguration
	configurationFilePath string
	logLevelFlagValue     string
	logFormatFlagValue    string
}

// NewApplication assembles a fully wired CLI application instance.
func NewApplication() *Application {
	configurationLoader := utils.NewConfigurationLoader(
		configurationNameConstant,
		configurationTypeConstant,
		environmentPrefixConstant,
		[]string{defaultConfigurationSearchPathConstant},
	)
	configurationLoader.SetEmbeddedConfiguration(EmbeddedDefaultConfiguration())

	application := &Application{
		configurationLoader: configurationLoader,
		loggerFactory:       utils.NewLoggerFactory(),
		logger:              zap.NewNop(),
	}

	cobraCommand := &cobra.Command{
		Use:           applicationNameConstant,
		Short:         applicationShortDescriptionConstant,
		Long:          applicationLongDescriptionConstant,
		Version:       resolveVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(command *cobra.Command, arguments []string) error {
			return application.initializeConfiguration(command)
		},
		RunE: func(command *cobra.Command, arguments []string) error {
			return application.runRootCommand(command, arguments)
		},
	}

	cobraCommand.SetContext(context.Background())
	cobraCommand.SetVersionTemplate(applicationVersionTemplateConstant)
	cobraCommand.PersistentFlags().StringVar(&application.configurationFilePath, configFileFlagNameConstant, "", configFileFlagUsageConstant)
	cobraCommand.PersistentFlags().StringVar(&application.logLevelFlagValue, logLevelFlagNameConstant, "", logLevelFlagUsageConstant)
	cobraCommand.PersistentFlags().StringVar(&application.logFormatFlagValue, logFormatFlagNameConstant, "", logFormatFlagUsageConstant)

	for _, builder := range application.commandBuilders() {
		subcommand, buildError := builder.Build()
		if buildError == nil {
			cobraCommand.AddCommand(subcommand)
		}
	}

	application.rootCommand = cobraCommand

	return application
}

// RootCommand exposes the root Cobra command.
func (application *Application) RootCommand() *cobra.Command {
	return application.rootCommand
}

// Execute runs the configured Cobra command hierarchy and ensures logger flushing.
func (application *Application) Execute() error {
	return application.ExecuteContext(context.Background())
}

// ExecuteContext runs the command hierarchy with executionContext, so that
// cancelling it stops in-flight migrations at their next checkpoint.
func (application *Application) ExecuteContext(executionContext context.Context) error {
	executionError := application.rootCommand.ExecuteContext(executionContext)
	if syncError := application.flushLogger(); syncError != nil {
		return errors.Join(executionError, fmt.Errorf(loggerSyncErrorTemplateConstant, syncError))
	}
	return executionError
}

// Execute builds a fresh application instance and executes the root command hierarchy.
func Execute(executionContext context.Context) error {
	return NewApplication().ExecuteContext(executionContext)
}

func (application *Application) commandBuilders() []commandBuilder {
	loggerProvider := func() *zap.Logger {
		return application.logger
	}
	configurationProvider := func() migration.Configuration {
		return application.configuration.Migration
	}
	return []commandBuilder{
		&inventory.CommandBuilder{LoggerProvider: loggerProvider, ConfigurationProvider: configurationProvider},
		&users.CommandBuilder{LoggerProvider: loggerProvider, ConfigurationProvider: configurationProvider},
		&groups.CommandBuilder{LoggerProvider: loggerProvider, ConfigurationProvider: configurationProvider},
		&projects.CommandBuilder{LoggerProvider: loggerProvider, ConfigurationProvider: configurationProvider},
		&mirrors.CommandBuilder{LoggerProvider: loggerProvider, ConfigurationProvider: configurationProvider},
		&report.CommandBuilder{LoggerProvider: loggerProvider, ConfigurationProvider: configurationProvider},
	}
}

func (application *Application) initializeConfiguration(command *cobra.Command) error {
	defaultValues := map[string]any{
		commonLogLevelConfigKeyConstant:  string(utils.LogLevelInfo),
		commonLogFormatConfigKeyConstant: string(utils.LogFormatStructured),
	}
	for configurationKey, configurationValue := range migration.DefaultConfigurationValues(migrationConfigurationKeyConstant) {
		defaultValues[configurationKey] = configurationValue
	}

	loadedConfiguration, loadError := application.configurationLoader.LoadConfiguration(application.configurationFilePath, defaultValues, &application.configuration)
	if loadError != nil {
		return fmt.Errorf(configurationLoadErrorTemplateConstant, loadError)
	}

	application.configurationMetadata = loadedConfiguration

	if application.persistentFlagChanged(command, logLevelFlagNameConstant) {
		application.configuration.Common.LogLevel = application.logLevelFlagValue
	}

	if application.persistentFlagChanged(command, logFormatFlagNameConstant) {
		application.configuration.Common.LogFormat = application.logFormatFlagValue
	}

	logger, loggerCreationError := application.loggerFactory.CreateLogger(
		utils.LogLevel(application.configuration.Common.LogLevel),
		utils.LogFormat(application.configuration.Common.LogFormat),
	)
	if loggerCreationError != nil {
		return fmt.Errorf(loggerCreationErrorTemplateConstant, loggerCreationError)
	}

	application.logger = logger

	application.logger.Info(
		configurationInitializedMessageConstant,
		zap.String(configurationLogLevelFieldConstant, application.configuration.Common.LogLevel),
		zap.String(configurationLogFormatFieldConstant, application.configuration.Common.LogFormat),
		zap.String(configurationFileFieldConstant, application.configurationMetadata.ConfigFileUsed),
	)

	return nil
}

func (application *Application) runRootCommand(command *cobra.Command, arguments []string) error {
	if application.logger == nil {
		return errors.New(loggerNotInitializedMessageConstant)
	}

	application.logger.Info(
		rootCommandInfoMessageConstant,
		zap.String(logFieldCommandNameConstant, command.Name()),
		zap.Int(logFieldArgumentCountConstant, len(arguments)),
	)

	application.logger.Debug(
		rootCommandDebugMessageConstant,
		zap.Strings(logFieldArgumentsConstant, arguments),
	)

	if len(arguments) == 0 {
		return command.Help()
	}

	return nil
}

func (application *Application) flushLogger() error {
	if application.logger == nil {
		return nil
	}

	syncError := application.logger.Sync()
	switch {
	case syncError == nil:
		return nil
	case errors.Is(syncError, syscall.ENOTSUP):
		return nil
	case errors.Is(syncError, syscall.EINVAL):
		return nil
	case errors.Is(syncError, syscall.ENOTTY):
		return nil
	default:
		return syncError
	}
}

func (application *Application) persistentFlagChanged(command *cobra.Command, flagName string) bool {
	if command == nil {
		return false
	}

	flagSetsToInspect := []*pflag.FlagSet{
		command.PersistentFlags(),
		command.InheritedFlags(),
	}

	if rootCommand := command.Root(); rootCommand != nil {
		flagSetsToInspect = append(flagSetsToInspect, rootCommand.PersistentFlags())
	}

	for _, flagSet := range flagSetsToInspect {
		if flagSet != nil && flagSet.Changed(flagName) {
			return true
		}
	}

	return false
}

func resolveVersion() string {
	buildInformation, available := debug.ReadBuildInfo()
	if !available {
		return developmentVersionConstant
	}
	version := strings.TrimSpace(buildInformation.Main.Version)
	if len(version) == 0 {
		return developmentVersionConstant
	}
	return version
}
