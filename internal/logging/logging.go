// Package logging provides structured logging functionality.
package logging

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogConfig holds logging configuration.
type LogConfig struct {
	Level      string
	Console    bool
	File       bool
	FilePath   string
	MaxSize    int // megabytes
	MaxBackups int
	MaxAge     int // days
}

// DefaultLogConfig returns the default logging configuration.
func DefaultLogConfig() LogConfig {
	home, _ := os.UserHomeDir()
	return LogConfig{
		Level:      "info",
		Console:    true,
		File:       true,
		FilePath:   filepath.Join(home, ".config", "oi-trader", "logs", "oitrader.log"),
		MaxSize:    100,
		MaxBackups: 7,
		MaxAge:     30,
	}
}

// NewLogger creates a new logger with default configuration.
func NewLogger() zerolog.Logger {
	return NewLoggerWithConfig(DefaultLogConfig())
}

// NewLoggerWithConfig creates a new logger with the specified configuration.
func NewLoggerWithConfig(cfg LogConfig) zerolog.Logger {
	var writers []io.Writer

	// Console writer
	if cfg.Console {
		consoleWriter := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
			FormatLevel: func(i interface{}) string {
				if ll, ok := i.(string); ok {
					switch ll {
					case "debug":
						return "\033[36mDBG\033[0m"
					case "info":
						return "\033[32mINF\033[0m"
					case "warn":
						return "\033[33mWRN\033[0m"
					case "error":
						return "\033[31mERR\033[0m"
					default:
						return ll
					}
				}
				return "???"
			},
		}
		writers = append(writers, consoleWriter)
	}

	// File writer with rotation
	if cfg.File {
		logDir := filepath.Dir(cfg.FilePath)
		if err := os.MkdirAll(logDir, 0755); err == nil {
			fileWriter := &lumberjack.Logger{
				Filename:   cfg.FilePath,
				MaxSize:    cfg.MaxSize,
				MaxBackups: cfg.MaxBackups,
				MaxAge:     cfg.MaxAge,
				Compress:   true,
			}
			writers = append(writers, fileWriter)
		}
	}

	var writer io.Writer
	if len(writers) == 0 {
		writer = os.Stdout
	} else if len(writers) == 1 {
		writer = writers[0]
	} else {
		writer = zerolog.MultiLevelWriter(writers...)
	}

	level := parseLevel(cfg.Level)
	zerolog.SetGlobalLevel(level)

	logger := zerolog.New(writer).
		With().
		Timestamp().
		Caller().
		Logger()

	return logger
}

func parseLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// SetDebugLevel sets the global log level to debug.
func SetDebugLevel() {
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
}

// SetInfoLevel sets the global log level to info.
func SetInfoLevel() {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

// ContextKey is the type for context keys.
type ContextKey string

const (
	// LoggerKey is the context key for the logger.
	LoggerKey ContextKey = "logger"
)

// WithLogger adds a logger to the context.
func WithLogger(ctx context.Context, logger zerolog.Logger) context.Context {
	return context.WithValue(ctx, LoggerKey, logger)
}

// FromContext retrieves the logger from context.
func FromContext(ctx context.Context) zerolog.Logger {
	if logger, ok := ctx.Value(LoggerKey).(zerolog.Logger); ok {
		return logger
	}
	return zerolog.Nop()
}

// WithContract adds an option contract to the logger context.
func WithContract(logger zerolog.Logger, contract string) zerolog.Logger {
	return logger.With().Str("contract", contract).Logger()
}

// WithSessionDate adds a trading date to the logger context.
func WithSessionDate(logger zerolog.Logger, date time.Time) zerolog.Logger {
	return logger.With().Str("session_date", date.Format("2006-01-02")).Logger()
}

// WithOperation adds an operation name to the logger context.
func WithOperation(logger zerolog.Logger, operation string) zerolog.Logger {
	return logger.With().Str("operation", operation).Logger()
}

// LogEntrySignal logs an entry signal event.
func LogEntrySignal(logger zerolog.Logger, contract string, price, vwap, oiChangePct float64) {
	logger.Info().
		Str("event", "entry_signal").
		Str("contract", contract).
		Float64("price", price).
		Float64("vwap", vwap).
		Float64("oi_change_pct", oiChangePct).
		Msg("Entry signal")
}

// LogExitSignal logs an exit signal event.
func LogExitSignal(logger zerolog.Logger, contract, reason string, exitPrice float64) {
	logger.Info().
		Str("event", "exit_signal").
		Str("contract", contract).
		Str("reason", reason).
		Float64("exit_price", exitPrice).
		Msg("Exit signal")
}

// LogTradeClosed logs a completed round trip.
func LogTradeClosed(logger zerolog.Logger, contract string, entry, exit, pnl, pnlPct float64, reason string) {
	logger.Info().
		Str("event", "trade_closed").
		Str("contract", contract).
		Float64("entry_price", entry).
		Float64("exit_price", exit).
		Float64("pnl", pnl).
		Float64("pnl_pct", pnlPct).
		Str("reason", reason).
		Msg("Trade closed")
}

// LogSessionReset logs a fresh trading day reset.
func LogSessionReset(logger zerolog.Logger, date time.Time) {
	logger.Info().
		Str("event", "session_reset").
		Str("date", date.Format("2006-01-02")).
		Msg("Session reset for new trading day")
}

// LogSkippedCycle logs an evaluation cycle skipped for missing data.
func LogSkippedCycle(logger zerolog.Logger, stage string, err error) {
	logger.Warn().
		Str("event", "cycle_skipped").
		Str("stage", stage).
		Err(err).
		Msg("Evaluation cycle skipped")
}

// LogAPICall logs a broker API call.
func LogAPICall(logger zerolog.Logger, method, endpoint string, duration time.Duration, err error) {
	event := logger.Debug().
		Str("event", "api_call").
		Str("method", method).
		Str("endpoint", endpoint).
		Dur("duration", duration)

	if err != nil {
		event.Err(err).Msg("API call failed")
	} else {
		event.Msg("API call completed")
	}
}
