package logging

import (
	"log/slog"
	"os"
)

func Init() {
	slog.SetDefault(slog.New(
		slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: LevelFromEnv(),
		}),
	))
}

// LevelFromEnv maps LOG_LEVEL onto a slog level. Production only shows errors.
func LevelFromEnv() slog.Level {
	l, ok := os.LookupEnv("LOG_LEVEL")
	if !ok {
		return slog.LevelError
	}
	return ParseLevel(l)
}

func ParseLevel(l string) slog.Level {
	switch l {
	case "dev", "development", "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}
