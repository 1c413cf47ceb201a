// Package logging configures the process-wide zerolog logger.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/term"
)

// New builds a console logger writing to w. Color is dropped when w is not
// a terminal or NO_COLOR is set. verbose lowers the level to debug.
func New(w io.Writer, verbose bool) zerolog.Logger {
	noColor := os.Getenv("NO_COLOR") != ""
	if f, ok := w.(*os.File); ok {
		if !term.IsTerminal(int(f.Fd())) {
			noColor = true
		}
	} else {
		noColor = true
	}

	out := zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: time.RFC3339,
		NoColor:    noColor,
	}

	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}
