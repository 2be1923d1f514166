package migration

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lremane/gitlab-2-forge-migration/internal/migrationerrors"
)

func validConfiguration() Configuration {
	configuration := DefaultConfiguration()
	configuration.Source = SourceConfiguration{BaseURL: "https://gitlab.example.com", Token: "source-token"}
	configuration.Target = TargetConfiguration{BaseURL: "https://forgejo.example.com", Token: "target-token"}
	return configuration
}

func TestConfigurationValidate(testInstance *testing.T) {
	testCases := []struct {
		name          string
		mutate        func(*Configuration)
		expectedField string
	}{
		{name: "valid", mutate: func(*Configuration) {}},
		{name: "missing source url", mutate: func(configuration *Configuration) { configuration.Source.BaseURL = "" }, expectedField: "source.base_url"},
		{name: "relative source url", mutate: func(configuration *Configuration) { configuration.Source.BaseURL = "gitlab.example.com" }, expectedField: "source.base_url"},
		{name: "missing source token", mutate: func(configuration *Configuration) { configuration.Source.Token = "" }, expectedField: "source.token"},
		{name: "ftp target url", mutate: func(configuration *Configuration) { configuration.Target.BaseURL = "ftp://forgejo.example.com" }, expectedField: "target.base_url"},
		{name: "missing target token", mutate: func(configuration *Configuration) { configuration.Target.Token = "" }, expectedField: "target.token"},
		{name: "missing ledger", mutate: func(configuration *Configuration) { configuration.Ledger.Path = "" }, expectedField: "ledger.path"},
		{name: "zero workers", mutate: func(configuration *Configuration) { configuration.Workers = 0 }, expectedField: "workers"},
		{name: "zero attempts", mutate: func(configuration *Configuration) { configuration.Retry.MaxAttempts = 0 }, expectedField: "retry.max_attempts"},
		{name: "inverted intervals", mutate: func(configuration *Configuration) { configuration.Retry.MaxInterval = time.Millisecond }, expectedField: "retry.max_interval"},
		{name: "short mirror interval", mutate: func(configuration *Configuration) { configuration.Mirror.Interval = time.Minute }, expectedField: "mirror.interval"},
		{name: "disabled mirror interval", mutate: func(configuration *Configuration) { configuration.Mirror.Interval = 0 }},
	}

	for _, testCase := range testCases {
		testInstance.Run(testCase.name, func(subTest *testing.T) {
			configuration := validConfiguration()
			testCase.mutate(&configuration)

			validationError := configuration.Sanitize().Validate()
			if len(testCase.expectedField) == 0 {
				require.NoError(subTest, validationError)
				return
			}
			var typedError migrationerrors.ValidationError
			require.ErrorAs(subTest, validationError, &typedError)
			require.Equal(subTest, testCase.expectedField, typedError.FieldName)
		})
	}
}

func TestDefaultConfigurationValuesPrefix(testInstance *testing.T) {
	values := DefaultConfigurationValues("migration")
	require.Equal(testInstance, 1, values["migration.workers"])
	require.Equal(testInstance, "8h0m0s", values["migration.mirror.interval"])
	require.Contains(testInstance, values, "migration.source.token")

	unprefixed := DefaultConfigurationValues("")
	require.Equal(testInstance, "migration-ledger.db", unprefixed["ledger.path"])
}

func TestOpenRejectsInvalidConfigurationBeforeSideEffects(testInstance *testing.T) {
	temporaryDirectory := testInstance.TempDir()
	configuration := validConfiguration()
	configuration.Ledger.Path = filepath.Join(temporaryDirectory, "nested", "ledger.db")
	configuration.Target.Token = ""

	_, openError := Open(context.Background(), configuration, nil)
	require.True(testInstance, migrationerrors.IsValidation(openError))
	require.NoDirExists(testInstance, filepath.Join(temporaryDirectory, "nested"))
}

func TestOpenWiresEnvironment(testInstance *testing.T) {
	configuration := validConfiguration()
	configuration.Ledger.Path = filepath.Join(testInstance.TempDir(), "ledger.db")

	environment, openError := Open(context.Background(), configuration, nil)
	require.NoError(testInstance, openError)
	defer environment.Close()

	require.NotNil(testInstance, environment.Source)
	require.NotNil(testInstance, environment.Target)
	require.NotNil(testInstance, environment.Users)
	require.NotNil(testInstance, environment.Transfer)
	require.Equal(testInstance, "gitlab.example.com", environment.Source.Host())
	require.Equal(testInstance, uint(5), environment.Configuration.RetryPolicy().MaxAttempts)
}
