// Package util provides leveled logging and traffic statistics.
package util

import (
	"fmt"
	"io"
	"os"

	"github.com/pterm/pterm"
)

// logger writes to stderr so stdout carries nothing but instruction lines.
var logger = pterm.DefaultLogger.
	WithTime(true).
	WithTimeFormat("02 Jan 15:04:05").
	WithMaxWidth(1000).
	WithWriter(os.Stderr)

func LogDebug(format string, args ...interface{}) {
	logger.Debug(fmt.Sprintf(format, args...))
}

func LogInfo(format string, args ...interface{}) {
	logger.Info(fmt.Sprintf(format, args...))
}

func LogWarning(format string, args ...interface{}) {
	logger.Warn(fmt.Sprintf(format, args...))
}

func LogError(format string, args ...interface{}) {
	logger.Error(fmt.Sprintf(format, args...))
}

// EnableDebug makes debug messages visible. Call it before logging starts.
func EnableDebug() {
	logger.Level = pterm.LogLevelDebug
}

// SetLogOutput redirects all log output. Call it before logging starts.
func SetLogOutput(w io.Writer) {
	logger.Writer = w
}
