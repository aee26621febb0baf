// Package logging builds the loggers the rest of shuttle writes to.
package logging

import (
	"io"
	"log"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// New returns a prefixed logger. With a file path the log rotates at a
// modest size so long-lived workspaces do not accumulate unbounded logs;
// verbose additionally mirrors entries to stderr. Without a path and
// without verbose the logger discards everything.
func New(prefix, filePath string, verbose bool) *log.Logger {
	var sinks []io.Writer
	if filePath != "" {
		sinks = append(sinks, &lumberjack.Logger{
			Filename:   filePath,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     30, // days
			Compress:   true,
		})
	}
	if verbose {
		sinks = append(sinks, os.Stderr)
	}

	var out io.Writer
	switch len(sinks) {
	case 0:
		out = io.Discard
	case 1:
		out = sinks[0]
	default:
		out = io.MultiWriter(sinks...)
	}
	return log.New(out, prefix, log.LstdFlags)
}
