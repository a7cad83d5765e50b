// Package logger provides named loggers that share one process-wide handler.
package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/cenkalti/log"
)

var handler log.Handler

func init() {
	SetHandler(log.NewFileHandler(os.Stderr))
	SetLevel(log.INFO)
}

// SetHandler changes the global logging handler.
func SetHandler(h log.Handler) {
	handler = h
	handler.SetFormatter(logFormatter{})
}

// SetLevel sets the logging level on the global handler.
func SetLevel(l log.Level) {
	handler.SetLevel(l)
}

var levels = map[string]log.Level{
	"debug":   log.DEBUG,
	"info":    log.INFO,
	"notice":  log.NOTICE,
	"warning": log.WARNING,
	"error":   log.ERROR,
}

// SetLevelName sets the global level from its lowercase name, e.g. "debug".
func SetLevelName(name string) error {
	l, ok := levels[strings.ToLower(name)]
	if !ok {
		return fmt.Errorf("unknown log level: %q", name)
	}
	SetLevel(l)
	return nil
}

// Logger is for logging messages from inside of the program in various logging levels.
type Logger log.Logger

// New returns a new Logger with a name.
// Log messages are prefixed with this name by the default Handler.
func New(name string) Logger {
	logger := log.NewLogger(name)
	logger.SetLevel(log.DEBUG) // level is filtered by the handler
	logger.SetHandler(handler)
	return logger
}

type logFormatter struct{}

// Format outputs a message like "2014-02-28 18:15:57.123 INFO     [torrent x] run.go:42 message"
func (f logFormatter) Format(rec *log.Record) string {
	return fmt.Sprintf("%s %-8s [%s] %s %s",
		rec.Time.Format("2006-01-02 15:04:05.000"),
		rec.Level,
		rec.LoggerName,
		filepath.Base(rec.Filename)+":"+strconv.Itoa(rec.Line),
		rec.Message)
}
