package migration

import (
	"go.uber.org/zap"
)

// LoggerProvider supplies the logger configured by the root command.
type LoggerProvider func() *zap.Logger

// ConfigurationProvider supplies the configuration loaded by the root command.
type ConfigurationProvider func() Configuration

// ResolveLogger returns the provided logger or a no-op logger.
func ResolveLogger(provider LoggerProvider) *zap.Logger {
	if provider == nil {
		return zap.NewNop()
	}
	logger := provider()
	if logger == nil {
		return zap.NewNop()
	}
	return logger
}

// ResolveConfiguration returns the provided configuration, or the defaults, sanitized.
func ResolveConfiguration(provider ConfigurationProvider) Configuration {
	if provider == nil {
		return DefaultConfiguration().Sanitize()
	}
	return provider().Sanitize()
}
