package logging

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/hanamilabs/tg-forwarder/internal/config"
	"gopkg.in/natefinch/lumberjack.v2"
)

const loggerName = "tg_forwarder"

func New(cfg config.Settings) (*slog.Logger, io.Closer, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.LogFilePath), 0o755); err != nil {
		return nil, nil, err
	}

	rotatingWriter := &lumberjack.Logger{
		Filename:   cfg.LogFilePath,
		MaxSize:    cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
		MaxAge:     cfg.LogMaxAgeDays,
		Compress:   true,
	}

	writer := io.MultiWriter(os.Stdout, rotatingWriter)
	return NewWithWriter(writer, cfg.LogLevel), rotatingWriter, nil
}

func NewWithWriter(w io.Writer, level string) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: ParseLevel(level)})
	return slog.New(handler).With("logger", loggerName)
}

// Bootstrap logs to stderr before settings are known.
func Bootstrap() *slog.Logger {
	return NewWithWriter(os.Stderr, os.Getenv(config.KeyLogLevel))
}

func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error", "critical":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
