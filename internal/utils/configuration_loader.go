package utils

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

const (
	environmentKeySeparatorOldConstant              = "."
	environmentKeySeparatorNewConstant              = "_"
	listSeparatorConstant                           = ","
	configurationReadErrorTemplateConstant          = "read configuration: %w"
	configurationUnmarshalErrorTemplateConstant     = "parse configuration: %w"
	configurationFileMissingErrorTemplateConstant   = "configuration file %s: %w"
	embeddedConfigurationMergeErrorTemplateConstant = "merge embedded configuration: %w"
)

// ConfigurationLoader wraps Viper to load a YAML configuration file, embedded
// defaults and environment overrides into a mapstructure-tagged struct.
type ConfigurationLoader struct {
	configurationName         string
	configurationType         string
	environmentPrefix         string
	searchPaths               []string
	environmentKeyReplacer    *strings.Replacer
	embeddedConfiguration     []byte
	embeddedConfigurationType string
}

// LoadedConfiguration surfaces metadata about the resolved configuration.
type LoadedConfiguration struct {
	ConfigFileUsed string
}

// NewConfigurationLoader creates a loader that searches searchPaths for
// configurationName and reads environment variables named PREFIX_SECTION_KEY.
func NewConfigurationLoader(configurationName string, configurationType string, environmentPrefix string, searchPaths []string) *ConfigurationLoader {
	return &ConfigurationLoader{
		configurationName:      configurationName,
		configurationType:      configurationType,
		environmentPrefix:      environmentPrefix,
		searchPaths:            append([]string(nil), searchPaths...),
		environmentKeyReplacer: strings.NewReplacer(environmentKeySeparatorOldConstant, environmentKeySeparatorNewConstant),
	}
}

// SetEmbeddedConfiguration stores configuration data merged before any file.
func (loader *ConfigurationLoader) SetEmbeddedConfiguration(configurationData []byte, configurationType string) {
	if loader == nil {
		return
	}
	loader.embeddedConfigurationType = strings.TrimSpace(configurationType)
	loader.embeddedConfiguration = append([]byte(nil), configurationData...)
}

// LoadConfiguration populates targetConfiguration from, in increasing
// precedence, defaultValues, the embedded configuration, the configuration
// file and the environment. An explicitly named file must exist; a file found
// through the search paths is optional. Durations accept Go duration strings
// and lists accept comma separated values, so both work from the environment.
func (loader *ConfigurationLoader) LoadConfiguration(configurationFilePath string, defaultValues map[string]any, targetConfiguration any) (LoadedConfiguration, error) {
	viperInstance := viper.New()
	viperInstance.SetConfigName(loader.configurationName)
	viperInstance.SetConfigType(loader.configurationType)

	for defaultKey, defaultValue := range defaultValues {
		viperInstance.SetDefault(defaultKey, defaultValue)
	}

	if len(loader.embeddedConfiguration) > 0 {
		if len(loader.embeddedConfigurationType) > 0 {
			viperInstance.SetConfigType(loader.embeddedConfigurationType)
		}
		if mergeError := viperInstance.MergeConfig(bytes.NewReader(loader.embeddedConfiguration)); mergeError != nil {
			return LoadedConfiguration{}, fmt.Errorf(embeddedConfigurationMergeErrorTemplateConstant, mergeError)
		}
		viperInstance.SetConfigType(loader.configurationType)
	}

	viperInstance.SetEnvPrefix(loader.environmentPrefix)
	viperInstance.SetEnvKeyReplacer(loader.environmentKeyReplacer)
	viperInstance.AutomaticEnv()

	trimmedPath := strings.TrimSpace(configurationFilePath)
	if len(trimmedPath) > 0 {
		if _, statError := os.Stat(trimmedPath); statError != nil {
			return LoadedConfiguration{}, fmt.Errorf(configurationFileMissingErrorTemplateConstant, trimmedPath, statError)
		}
		viperInstance.SetConfigFile(trimmedPath)
	} else {
		for _, searchPath := range loader.searchPaths {
			viperInstance.AddConfigPath(searchPath)
		}
	}

	if readError := viperInstance.MergeInConfig(); readError != nil {
		var notFoundError viper.ConfigFileNotFoundError
		if !errors.As(readError, &notFoundError) {
			return LoadedConfiguration{}, fmt.Errorf(configurationReadErrorTemplateConstant, readError)
		}
	}

	decodeHook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(listSeparatorConstant),
		mapstructure.TextUnmarshallerHookFunc(),
	))
	if unmarshalError := viperInstance.Unmarshal(targetConfiguration, decodeHook); unmarshalError != nil {
		return LoadedConfiguration{}, fmt.Errorf(configurationUnmarshalErrorTemplateConstant, unmarshalError)
	}

	return LoadedConfiguration{ConfigFileUsed: viperInstance.ConfigFileUsed()}, nil
}
