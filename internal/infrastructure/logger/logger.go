// Package logger holds the process-wide leveled loggers. Per-job audit logs
// are written by the joblog adapter, not here.
package logger

import (
	"io"
	"log"
	"os"
)

var (
	Info  *log.Logger
	Warn  *log.Logger
	Error *log.Logger
	Debug *log.Logger
)

const flags = log.Ldate | log.Ltime | log.LUTC | log.Lshortfile

func init() {
	Setup(os.Stdout, false)
}

// Setup points every level at w. Debug output is discarded unless debug is set.
func Setup(w io.Writer, debug bool) {
	Info = log.New(w, "INFO: ", flags)
	Warn = log.New(w, "WARN: ", flags)
	Error = log.New(w, "ERROR: ", flags)

	debugOut := io.Discard
	if debug {
		debugOut = w
	}
	Debug = log.New(debugOut, "DEBUG: ", flags)
}
