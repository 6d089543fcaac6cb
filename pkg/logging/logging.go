// Package logging sets up the process-wide structured logger.
//
// The core (pkg/core) never imports this package directly — it accepts
// a zerolog.Logger at construction time so it stays testable without a
// live sink. Call New once per process and thread the result down.
package logging

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New builds a zerolog.Logger writing human-readable output to stderr in
// development and JSON in anything else, matching the teacher's habit of
// a short emoji-tagged headline per lifecycle event — kept here as the
// log message text, with every other field attached as structured data.
func New(component string, pretty bool) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339Nano

	var w = os.Stderr
	logger := zerolog.New(w).With().Timestamp().Str("component", component).Logger()
	if pretty {
		logger = logger.Output(zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05.000"})
	}
	return logger
}
