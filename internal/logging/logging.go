package logging

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// New builds the root logger. The level defaults to error so normal CLI
// output stays clean; LOG_LEVEL overrides it for development.
func New(out io.Writer) zerolog.Logger {
	level := zerolog.ErrorLevel

	if l, ok := os.LookupEnv("LOG_LEVEL"); ok {
		switch l {
		case "dev", "development", "debug":
			level = zerolog.DebugLevel
		case "info":
			level = zerolog.InfoLevel
		case "warn", "warning":
			level = zerolog.WarnLevel
		case "error", "production", "prod":
			level = zerolog.ErrorLevel
		}
	}

	w := zerolog.ConsoleWriter{Out: out}
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}
