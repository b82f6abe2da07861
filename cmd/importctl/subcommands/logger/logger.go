// Package logger provides loggers for tests of subcommands.
package logger

import (
	"log"
	"strings"
	"testing"
)

// ForTest returns a logger writing to t.Log.
//
// Logs are shown when the test fails, or with `go test -v`.
func ForTest(t *testing.T) *log.Logger {
	return log.New(testWriter{t: t}, "", 0)
}

type testWriter struct {
	t *testing.T
}

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Helper()
	w.t.Log(strings.TrimRight(string(p), "\n"))
	return len(p), nil
}
