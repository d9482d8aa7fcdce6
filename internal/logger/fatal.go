package logger

import (
	"fmt"
	"log/slog"
	"os"
)

func Fatal(msg string, args ...any) {
	slog.Error(msg, args...)
	os.Exit(1)
}

func Fatalf(format string, args ...any) {
	slog.Error(fmt.Sprintf(format, args...))
	os.Exit(1)
}

func FatalWithLogger(logger *slog.Logger, msg string, args ...any) {
	logger.Error(msg, args...)
	os.Exit(1)
}

// FatalWithCode logs and exits with a caller-chosen code, for callers that
// need to signal a process supervisor which failure class stopped the
// process (config error, bind failure, persistence init failure) rather
// than a uniform exit(1).
func FatalWithCode(logger *slog.Logger, code int, msg string, args ...any) {
	logger.Error(msg, args...)
	os.Exit(code)
}
