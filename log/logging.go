// Package log provides the structured logging foundation shared by every
// long-lived component of the orchestration core: session store, flow
// engine, conversation service, dispatcher, and the CLI.
//
// Output routing strategy: error-level records go to stderr so that
// container orchestrators and shell pipelines can treat them with higher
// priority; everything else goes to stdout. This mirrors how the rest of
// the stack separates operational noise from failures that need paging.
package log

import (
	"bytes"
	"os"

	"github.com/sirupsen/logrus"
)

// OutputSplitter routes formatted logrus output to stdout or stderr
// depending on whether the record is error-level, so downstream log
// collectors can apply different handling per stream.
type OutputSplitter struct{}

func (s *OutputSplitter) Write(p []byte) (n int, err error) {
	if bytes.Contains(p, []byte("level=error")) || bytes.Contains(p, []byte(`"level":"error"`)) {
		return os.Stderr.Write(p)
	}
	return os.Stdout.Write(p)
}

// Base is the process-wide bootstrap logger, used only before dependency
// injection has completed (e.g. while parsing CLI flags). Every
// constructed component should receive its own *Logger instead.
var Base = logrus.New()

func init() {
	Base.SetOutput(&OutputSplitter{})
}
