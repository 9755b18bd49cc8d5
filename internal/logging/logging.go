// Package logging constructs the structured logger every long-lived
// component takes as an injected dependency, following the same
// *logrus.Logger field-injection convention used throughout the
// daemon and node components.
package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

// New returns a logrus.Logger writing text-formatted lines to stderr,
// with debug-level output gated by debug.
func New(debug bool) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stderr)
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	if debug {
		log.SetLevel(logrus.DebugLevel)
	} else {
		log.SetLevel(logrus.InfoLevel)
	}
	return log
}
