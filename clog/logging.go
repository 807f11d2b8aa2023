// Package clog provides the structured logging used across clusterlib.
//
// Error-level entries are routed to stderr and everything else to stdout,
// so container log collectors can split streams without parsing content.
package clog

import (
	"bytes"
	"os"

	"github.com/sirupsen/logrus"
)

// streamSplitter routes formatted log lines to stdout or stderr by level.
type streamSplitter struct{}

func (streamSplitter) Write(p []byte) (int, error) {
	if bytes.Contains(p, []byte("level=error")) || bytes.Contains(p, []byte("level=fatal")) ||
		bytes.Contains(p, []byte(`"level":"error"`)) || bytes.Contains(p, []byte(`"level":"fatal"`)) {
		return os.Stderr.Write(p)
	}
	return os.Stdout.Write(p)
}

// Logger is the package-wide logger instance. Factories may replace its
// formatter/level; components should log through it or a derived entry
// rather than creating their own logrus.Logger.
var Logger = logrus.New()

func init() {
	Logger.SetOutput(streamSplitter{})
}
