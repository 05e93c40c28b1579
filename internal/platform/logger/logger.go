package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

var (
	output        io.Writer = os.Stdout
	level                   = new(slog.LevelVar)
	defaultLogger           = slog.New(slog.NewJSONHandler(output, &slog.HandlerOptions{Level: level}))
)

func L() *slog.Logger {
	return defaultLogger
}

func SetLevel(l slog.Level) {
	level.Set(l)
}

// SetLevelFromString aceita debug, info, warn e error; valores desconhecidos mantêm info.
func SetLevelFromString(s string) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		level.Set(slog.LevelDebug)
	case "warn", "warning":
		level.Set(slog.LevelWarn)
	case "error":
		level.Set(slog.LevelError)
	default:
		level.Set(slog.LevelInfo)
	}
}

// SetOutput troca o destino dos logs; usado nos testes para capturar a saída.
func SetOutput(w io.Writer) {
	output = w
	defaultLogger = slog.New(slog.NewJSONHandler(output, &slog.HandlerOptions{Level: level}))
}

func With(args ...any) *slog.Logger {
	return defaultLogger.With(args...)
}

func Debug(msg string, args ...any) {
	defaultLogger.Debug(msg, args...)
}

func Info(msg string, args ...any) {
	defaultLogger.Info(msg, args...)
}

func Warn(msg string, args ...any) {
	defaultLogger.Warn(msg, args...)
}

func Error(msg string, args ...any) {
	defaultLogger.Error(msg, args...)
}

func Fatal(msg string, args ...any) {
	defaultLogger.Error(msg, args...)
	os.Exit(1)
}
