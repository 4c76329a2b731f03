package logger

import (
	"log/slog"
	"os"
)

// New returns the process logger. JSON output when SCHOOLREG_ENV is
// production-like, human-readable text otherwise.
func New() *slog.Logger {
	env := os.Getenv("SCHOOLREG_ENV")
	if env == "production" || env == "staging" {
		return slog.New(slog.NewJSONHandler(os.Stdout, nil))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, nil))
}
