package cliconfig

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Logger returns the console logger used by the CLI, writing to stderr.
// An unknown level falls back to info and is reported as an error.
func Logger(level string) (zerolog.Logger, error) {
	output := zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.RFC3339,
	}
	l := zerolog.New(output).With().Timestamp().Logger()

	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		return l.Level(zerolog.InfoLevel), fmt.Errorf("unknown log level %q", level)
	}
	return l.Level(lvl), nil
}
