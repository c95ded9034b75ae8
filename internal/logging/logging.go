// Package logging configures the process logger.
package logging

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/charmbracelet/log"
)

// New creates a logger writing to w at the given level ("debug", "info",
// "warn", "error"). Unknown levels fall back to info.
func New(w io.Writer, level, prefix string) *log.Logger {
	l := log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
		Prefix:          prefix,
	})
	lvl, err := log.ParseLevel(level)
	if err != nil {
		lvl = log.InfoLevel
	}
	l.SetLevel(lvl)
	return l
}

// Setup builds a stderr logger and installs it as the package default, so
// plain log.Printf calls across the worker go through it.
func Setup(level, prefix string) *log.Logger {
	l := New(os.Stderr, level, prefix)
	log.SetDefault(l)
	return l
}

// ForJob returns a child logger tagged with the job id.
func ForJob(l *log.Logger, jobID string) *log.Logger {
	return l.With("job", jobID)
}

// AsynqLogger adapts a logger to the asynq.Logger interface.
type AsynqLogger struct {
	L *log.Logger
}

func (a AsynqLogger) Debug(args ...interface{}) { a.L.Debug(fmt.Sprint(args...)) }
func (a AsynqLogger) Info(args ...interface{})  { a.L.Info(fmt.Sprint(args...)) }
func (a AsynqLogger) Warn(args ...interface{})  { a.L.Warn(fmt.Sprint(args...)) }
func (a AsynqLogger) Error(args ...interface{}) { a.L.Error(fmt.Sprint(args...)) }
func (a AsynqLogger) Fatal(args ...interface{}) { a.L.Fatal(fmt.Sprint(args...)) }
