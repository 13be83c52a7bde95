package logging

import (
	"encoding/hex"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"

	"govee-gateway/internal/config"
)

// New builds the process logger. Development builds write colored text unless
// APP_ENV=prod or NO_COLOR is set; release builds write JSON.
func New(cfg config.Config, version string, appName string) *slog.Logger {
	return newLogger(os.Stdout, cfg, version, appName, os.Getenv("NO_COLOR") != "")
}

func newLogger(w io.Writer, cfg config.Config, version string, appName string, noColor bool) *slog.Logger {
	if version == "dev" && cfg.AppEnv != "prod" {
		h := tint.NewHandler(w, &tint.Options{
			Level:       cfg.LogLevel,
			AddSource:   cfg.LogLevel <= slog.LevelDebug,
			TimeFormat:  time.Kitchen,
			NoColor:     noColor,
			ReplaceAttr: replaceAttr,
		})
		return slog.New(h).With("app", appName)
	}

	h := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:       cfg.LogLevel,
		ReplaceAttr: replaceAttr,
	})
	return slog.New(h).With(
		"app", appName,
		"version", version,
		"env", cfg.AppEnv,
	)
}

// replaceAttr renders raw byte attributes as hex instead of base64.
func replaceAttr(_ []string, a slog.Attr) slog.Attr {
	if b, ok := a.Value.Any().([]byte); ok {
		return slog.String(a.Key, hex.EncodeToString(b))
	}
	return a
}
