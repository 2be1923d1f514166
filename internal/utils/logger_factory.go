package utils

import (
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	logLevelDebugStringConstant          = "debug"
	logLevelInfoStringConstant           = "info"
	logLevelWarnStringConstant           = "warn"
	logLevelErrorStringConstant          = "error"
	logFormatStructuredStringConstant    = "structured"
	logFormatConsoleStringConstant       = "console"
	timeKeyConstant                      = "time"
	unsupportedLogLevelTemplateConstant  = "unsupported log level: %s"
	unsupportedLogFormatTemplateConstant = "unsupported log format: %s"
)

// LogLevel enumerates supported logging granularities.
type LogLevel string

// Supported log levels.
const (
	LogLevelDebug LogLevel = LogLevel(logLevelDebugStringConstant)
	LogLevelInfo  LogLevel = LogLevel(logLevelInfoStringConstant)
	LogLevelWarn  LogLevel = LogLevel(logLevelWarnStringConstant)
	LogLevelError LogLevel = LogLevel(logLevelErrorStringConstant)
)

// LogFormat enumerates supported logger output encodings.
type LogFormat string

// Supported log formats.
const (
	LogFormatStructured LogFormat = LogFormat(logFormatStructuredStringConstant)
	LogFormatConsole    LogFormat = LogFormat(logFormatConsoleStringConstant)
)

var logLevelMapping = map[LogLevel]zapcore.Level{
	LogLevelDebug: zapcore.DebugLevel,
	LogLevelInfo:  zapcore.InfoLevel,
	LogLevelWarn:  zapcore.WarnLevel,
	LogLevelError: zapcore.ErrorLevel,
}

// LoggerFactory builds the diagnostic logger. Logs go to the error stream so
// command output such as the run summary stays machine readable.
type LoggerFactory struct {
	output io.Writer
}

// NewLoggerFactory constructs a factory writing to standard error.
func NewLoggerFactory() *LoggerFactory {
	return &LoggerFactory{output: os.Stderr}
}

// NewLoggerFactoryWithOutput constructs a factory writing to output.
func NewLoggerFactoryWithOutput(output io.Writer) *LoggerFactory {
	if output == nil {
		output = os.Stderr
	}
	return &LoggerFactory{output: output}
}

// CreateLogger produces a zap.Logger honoring the requested level and format.
// Level and format are matched case-insensitively.
func (factory *LoggerFactory) CreateLogger(requestedLogLevel LogLevel, requestedLogFormat LogFormat) (*zap.Logger, error) {
	normalizedLevel := LogLevel(strings.ToLower(strings.TrimSpace(string(requestedLogLevel))))
	zapLogLevel, levelExists := logLevelMapping[normalizedLevel]
	if !levelExists {
		return nil, fmt.Errorf(unsupportedLogLevelTemplateConstant, requestedLogLevel)
	}

	var encoder zapcore.Encoder
	switch LogFormat(strings.ToLower(strings.TrimSpace(string(requestedLogFormat)))) {
	case LogFormatStructured:
		encoderConfiguration := zap.NewProductionEncoderConfig()
		encoderConfiguration.TimeKey = timeKeyConstant
		encoderConfiguration.EncodeTime = zapcore.ISO8601TimeEncoder
		encoder = zapcore.NewJSONEncoder(encoderConfiguration)
	case LogFormatConsole:
		encoderConfiguration := zap.NewDevelopmentEncoderConfig()
		encoderConfiguration.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encoderConfiguration)
	default:
		return nil, fmt.Errorf(unsupportedLogFormatTemplateConstant, requestedLogFormat)
	}

	core := zapcore.NewCore(encoder, zapcore.Lock(zapcore.AddSync(factory.output)), zap.NewAtomicLevelAt(zapLogLevel))
	return zap.New(core, zap.AddStacktrace(zapcore.ErrorLevel)), nil
}
