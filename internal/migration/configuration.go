package migration

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/lremane/gitlab-2-forge-migration/internal/migrationerrors"
)

const (
	defaultLedgerPathConstant             = "migration-ledger.db"
	defaultInventoryPathConstant          = "inventory.csv"
	defaultWorkersConstant                = 1
	defaultRetryMaxAttemptsConstant       = 5
	defaultRetryInitialIntervalConstant   = 500 * time.Millisecond
	defaultRetryMaxIntervalConstant       = 30 * time.Second
	defaultHTTPTimeoutConstant            = 60 * time.Second
	defaultMirrorIntervalConstant         = 8 * time.Hour
	defaultFallbackEmailDomainConstant    = "noemail-git.local"
	minimumMirrorIntervalConstant         = 10 * time.Minute
	configurationKeySeparatorConstant     = "."
	fieldSourceBaseURLConstant            = "source.base_url"
	fieldSourceTokenConstant              = "source.token"
	fieldTargetBaseURLConstant            = "target.base_url"
	fieldTargetTokenConstant              = "target.token"
	fieldLedgerPathConstant               = "ledger.path"
	fieldInventoryPathConstant            = "inventory.path"
	fieldWorkersConstant                  = "workers"
	fieldRetryMaxAttemptsConstant         = "retry.max_attempts"
	fieldRetryInitialIntervalConstant     = "retry.initial_interval"
	fieldRetryMaxIntervalConstant         = "retry.max_interval"
	fieldHTTPTimeoutConstant              = "http.timeout"
	fieldGitWorkDirectoryConstant         = "git.work_directory"
	fieldMirrorIntervalConstant           = "mirror.interval"
	fieldMirrorSyncOnCommitConstant       = "mirror.sync_on_commit"
	fieldMirrorUsernameConstant           = "mirror.username"
	fieldMirrorTokenConstant              = "mirror.token"
	fieldMirrorVerifyRemoteConstant       = "mirror.verify_remote"
	fieldTargetAdminTokenConstant         = "target.admin_token"
	fieldUsersFallbackAuthorConstant      = "users.fallback_author"
	fieldUsersFallbackEmailDomainConstant = "users.fallback_email_domain"
	fieldUsersNotifyConstant              = "users.notify"
	fieldUsersSkipUsernamesConstant       = "users.skip_usernames"
	messageInvalidURLConstant             = "must be an absolute http(s) URL"
	messagePositiveConstant               = "must be at least 1"
	messageNonNegativeConstant            = "must not be negative"
	messageIntervalOrderConstant          = "must not be shorter than retry.initial_interval"
	messageMirrorIntervalTemplate         = "must be zero or at least %s"
	schemeHTTPConstant                    = "http"
	schemeHTTPSConstant                   = "https"
)

// Configuration is the opaque object the orchestration core receives from its caller.
type Configuration struct {
	Source    SourceConfiguration    `mapstructure:"source"`
	Target    TargetConfiguration    `mapstructure:"target"`
	Ledger    LedgerConfiguration    `mapstructure:"ledger"`
	Inventory InventoryConfiguration `mapstructure:"inventory"`
	Workers   int                    `mapstructure:"workers"`
	Retry     RetryConfiguration     `mapstructure:"retry"`
	HTTP      HTTPConfiguration      `mapstructure:"http"`
	Git       GitConfiguration       `mapstructure:"git"`
	Mirror    MirrorConfiguration    `mapstructure:"mirror"`
	Users     UsersConfiguration     `mapstructure:"users"`
}

// SourceConfiguration addresses the GitLab instance.
type SourceConfiguration struct {
	BaseURL string `mapstructure:"base_url"`
	Token   string `mapstructure:"token"`
}

// TargetConfiguration addresses the Forgejo instance.
type TargetConfiguration struct {
	BaseURL    string `mapstructure:"base_url"`
	Token      string `mapstructure:"token"`
	AdminToken string `mapstructure:"admin_token"`
}

// LedgerConfiguration locates the SQLite ledger.
type LedgerConfiguration struct {
	Path string `mapstructure:"path"`
}

// InventoryConfiguration locates the inventory file.
type InventoryConfiguration struct {
	Path string `mapstructure:"path"`
}

// RetryConfiguration bounds retries of transient API failures.
type RetryConfiguration struct {
	MaxAttempts     int           `mapstructure:"max_attempts"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
}

// HTTPConfiguration tunes the API transports.
type HTTPConfiguration struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

// GitConfiguration tunes the git transfers.
type GitConfiguration struct {
	WorkDirectory string `mapstructure:"work_directory"`
}

// MirrorConfiguration describes the push mirrors pointing back to the source.
type MirrorConfiguration struct {
	Interval     time.Duration `mapstructure:"interval"`
	SyncOnCommit bool          `mapstructure:"sync_on_commit"`
	Username     string        `mapstructure:"username"`
	Token        string        `mapstructure:"token"`
	VerifyRemote bool          `mapstructure:"verify_remote"`
}

// UsersConfiguration tunes account creation and author fallback.
type UsersConfiguration struct {
	FallbackAuthor      string   `mapstructure:"fallback_author"`
	FallbackEmailDomain string   `mapstructure:"fallback_email_domain"`
	SkipUsernames       []string `mapstructure:"skip_usernames"`
	Notify              bool     `mapstructure:"notify"`
}

// DefaultConfiguration returns the baseline configuration.
func DefaultConfiguration() Configuration {
	return Configuration{
		Ledger:    LedgerConfiguration{Path: defaultLedgerPathConstant},
		Inventory: InventoryConfiguration{Path: defaultInventoryPathConstant},
		Workers:   defaultWorkersConstant,
		Retry: RetryConfiguration{
			MaxAttempts:     defaultRetryMaxAttemptsConstant,
			InitialInterval: defaultRetryInitialIntervalConstant,
			MaxInterval:     defaultRetryMaxIntervalConstant,
		},
		HTTP:   HTTPConfiguration{Timeout: defaultHTTPTimeoutConstant},
		Mirror: MirrorConfiguration{Interval: defaultMirrorIntervalConstant},
		Users:  UsersConfiguration{FallbackEmailDomain: defaultFallbackEmailDomainConstant, SkipUsernames: []string{}},
	}
}

// DefaultConfigurationValues returns viper defaults for the configuration under prefix.
func DefaultConfigurationValues(prefix string) map[string]any {
	defaults := DefaultConfiguration()
	values := map[string]any{
		fieldSourceBaseURLConstant:            defaults.Source.BaseURL,
		fieldSourceTokenConstant:              defaults.Source.Token,
		fieldTargetBaseURLConstant:            defaults.Target.BaseURL,
		fieldTargetTokenConstant:              defaults.Target.Token,
		fieldTargetAdminTokenConstant:         defaults.Target.AdminToken,
		fieldMirrorUsernameConstant:           defaults.Mirror.Username,
		fieldMirrorTokenConstant:              defaults.Mirror.Token,
		fieldUsersFallbackAuthorConstant:      defaults.Users.FallbackAuthor,
		fieldUsersSkipUsernamesConstant:       defaults.Users.SkipUsernames,
		fieldLedgerPathConstant:               defaults.Ledger.Path,
		fieldInventoryPathConstant:            defaults.Inventory.Path,
		fieldWorkersConstant:                  defaults.Workers,
		fieldRetryMaxAttemptsConstant:         defaults.Retry.MaxAttempts,
		fieldRetryInitialIntervalConstant:     defaults.Retry.InitialInterval.String(),
		fieldRetryMaxIntervalConstant:         defaults.Retry.MaxInterval.String(),
		fieldHTTPTimeoutConstant:              defaults.HTTP.Timeout.String(),
		fieldGitWorkDirectoryConstant:         defaults.Git.WorkDirectory,
		fieldMirrorIntervalConstant:           defaults.Mirror.Interval.String(),
		fieldMirrorSyncOnCommitConstant:       defaults.Mirror.SyncOnCommit,
		fieldMirrorVerifyRemoteConstant:       defaults.Mirror.VerifyRemote,
		fieldUsersFallbackEmailDomainConstant: defaults.Users.FallbackEmailDomain,
		fieldUsersNotifyConstant:              defaults.Users.Notify,
	}
	trimmedPrefix := strings.Trim(strings.TrimSpace(prefix), configurationKeySeparatorConstant)
	if len(trimmedPrefix) == 0 {
		return values
	}
	prefixed := make(map[string]any, len(values))
	for key, value := range values {
		prefixed[trimmedPrefix+configurationKeySeparatorConstant+key] = value
	}
	return prefixed
}

// Sanitize trims string values.
func (configuration Configuration) Sanitize() Configuration {
	sanitized := configuration
	sanitized.Source.BaseURL = strings.TrimSpace(configuration.Source.BaseURL)
	sanitized.Source.Token = strings.TrimSpace(configuration.Source.Token)
	sanitized.Target.BaseURL = strings.TrimSpace(configuration.Target.BaseURL)
	sanitized.Target.Token = strings.TrimSpace(configuration.Target.Token)
	sanitized.Target.AdminToken = strings.TrimSpace(configuration.Target.AdminToken)
	sanitized.Ledger.Path = strings.TrimSpace(configuration.Ledger.Path)
	sanitized.Inventory.Path = strings.TrimSpace(configuration.Inventory.Path)
	sanitized.Git.WorkDirectory = strings.TrimSpace(configuration.Git.WorkDirectory)
	sanitized.Mirror.Username = strings.TrimSpace(configuration.Mirror.Username)
	sanitized.Mirror.Token = strings.TrimSpace(configuration.Mirror.Token)
	sanitized.Users.FallbackAuthor = strings.TrimSpace(configuration.Users.FallbackAuthor)
	sanitized.Users.FallbackEmailDomain = strings.TrimSpace(configuration.Users.FallbackEmailDomain)
	skipUsernames := make([]string, 0, len(configuration.Users.SkipUsernames))
	for _, username := range configuration.Users.SkipUsernames {
		if trimmedUsername := strings.TrimSpace(username); len(trimmedUsername) > 0 {
			skipUsernames = append(skipUsernames, trimmedUsername)
		}
	}
	sanitized.Users.SkipUsernames = skipUsernames
	return sanitized
}

// ValidateSource checks the settings needed to read from the source forge.
func (configuration Configuration) ValidateSource() error {
	if urlError := validateBaseURL(fieldSourceBaseURLConstant, configuration.Source.BaseURL); urlError != nil {
		return urlError
	}
	if len(configuration.Source.Token) == 0 {
		return required(fieldSourceTokenConstant)
	}
	return configuration.validateTransport()
}

// Validate checks every setting a migrating command needs, before any side effect.
func (configuration Configuration) Validate() error {
	if sourceError := configuration.ValidateSource(); sourceError != nil {
		return sourceError
	}
	if urlError := validateBaseURL(fieldTargetBaseURLConstant, configuration.Target.BaseURL); urlError != nil {
		return urlError
	}
	if len(configuration.Target.Token) == 0 {
		return required(fieldTargetTokenConstant)
	}
	if len(configuration.Ledger.Path) == 0 {
		return required(fieldLedgerPathConstant)
	}
	if configuration.Workers < 1 {
		return migrationerrors.ValidationError{FieldName: fieldWorkersConstant, Message: messagePositiveConstant}
	}
	if configuration.Mirror.Interval < 0 || (configuration.Mirror.Interval > 0 && configuration.Mirror.Interval < minimumMirrorIntervalConstant) {
		return migrationerrors.ValidationError{
			FieldName: fieldMirrorIntervalConstant,
			Message:   fmt.Sprintf(messageMirrorIntervalTemplate, minimumMirrorIntervalConstant),
		}
	}
	return nil
}

func (configuration Configuration) validateTransport() error {
	if configuration.Retry.MaxAttempts < 1 {
		return migrationerrors.ValidationError{FieldName: fieldRetryMaxAttemptsConstant, Message: messagePositiveConstant}
	}
	if configuration.Retry.InitialInterval < 0 {
		return migrationerrors.ValidationError{FieldName: fieldRetryInitialIntervalConstant, Message: messageNonNegativeConstant}
	}
	if configuration.Retry.MaxInterval < configuration.Retry.InitialInterval {
		return migrationerrors.ValidationError{FieldName: fieldRetryMaxIntervalConstant, Message: messageIntervalOrderConstant}
	}
	if configuration.HTTP.Timeout < 0 {
		return migrationerrors.ValidationError{FieldName: fieldHTTPTimeoutConstant, Message: messageNonNegativeConstant}
	}
	return nil
}

func validateBaseURL(fieldName string, value string) error {
	if len(value) == 0 {
		return required(fieldName)
	}
	parsedURL, parseError := url.Parse(value)
	if parseError != nil || len(parsedURL.Host) == 0 || (parsedURL.Scheme != schemeHTTPConstant && parsedURL.Scheme != schemeHTTPSConstant) {
		return migrationerrors.ValidationError{FieldName: fieldName, Message: messageInvalidURLConstant}
	}
	return nil
}

func required(fieldName string) error {
	return migrationerrors.ValidationError{FieldName: fieldName, Message: migrationerrors.ValidationMessageRequired}
}
