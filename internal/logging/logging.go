// Package logging configures the process-wide logrus logger.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
)

const (
	FormatText = "text"
	FormatJSON = "json"
)

// Setup applies level and format to the standard logger.
func Setup(level, format string) error {
	return configure(log.StandardLogger(), os.Stdout, level, format)
}

func configure(logger *log.Logger, out io.Writer, level, format string) error {
	lvl, err := log.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}

	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", FormatText:
		logger.SetFormatter(&log.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
		})
	case FormatJSON:
		logger.SetFormatter(&log.JSONFormatter{})
	default:
		return fmt.Errorf("invalid log format %q: want %q or %q", format, FormatText, FormatJSON)
	}

	logger.SetOutput(out)
	logger.SetLevel(lvl)
	return nil
}
