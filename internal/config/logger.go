package config

import (
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// SetupLogger configures the global zerolog logger from the logging section
func SetupLogger(config LoggingConfig) {
	// Set global log level
	level, err := zerolog.ParseLevel(config.Level)
	if err != nil || config.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	var out io.Writer = os.Stdout
	if config.Format != "json" {
		out = zerolog.ConsoleWriter{Out: os.Stdout}
	}

	if config.Directory != "" {
		if err := os.MkdirAll(config.Directory, 0o755); err == nil {
			f, err := os.OpenFile(filepath.Join(config.Directory, "app.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
			if err == nil {
				out = zerolog.MultiLevelWriter(out, f)
			}
		}
	}

	log.Logger = zerolog.New(out).With().Timestamp().Logger()
}
