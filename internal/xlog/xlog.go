// Package xlog is the logging seam used across srtcore. It wraps zerolog
// so every component logs structured fields (connection id, socket id,
// state) instead of formatted strings, while keeping the same
// Banner/Section console helpers the rest of the codebase is used to.
package xlog

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

var base zerolog.Logger

func init() {
	zerolog.TimeFieldFormat = time.RFC3339
	base = zerolog.New(consoleWriter(os.Stderr)).With().Timestamp().Logger()
}

func consoleWriter(w io.Writer) io.Writer {
	return zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05"}
}

// SetLevel sets the minimum level logged by the package default logger.
func SetLevel(level zerolog.Level) {
	base = base.Level(level)
}

// Default returns the package-wide base logger.
func Default() zerolog.Logger {
	return base
}

// For returns a child logger tagged with a component name, e.g.
// xlog.For("conn") or xlog.For("mux").
func For(component string) zerolog.Logger {
	return base.With().Str("component", component).Logger()
}

// Banner prints the startup banner to stdout. Kept as a plain fmt-style
// console helper since it is operator-facing output, not a log line.
func Banner(title, version string) {
	const border = "═══════════════════════════════════════════════════════════"
	os.Stdout.WriteString("\n╔" + border + "╗\n")
	os.Stdout.WriteString("║ " + title + "\n")
	os.Stdout.WriteString("║ version " + version + "\n")
	os.Stdout.WriteString("╚" + border + "╝\n\n")
}

// Section prints a section header to stdout.
func Section(title string) {
	const border = "───────────────────────────────────────────────────────────"
	os.Stdout.WriteString(border + "\n" + title + "\n" + border + "\n")
}
