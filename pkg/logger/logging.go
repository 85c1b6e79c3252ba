package logger

import (
	"os"

	"github.com/sirupsen/logrus"
)

var log = logrus.New()

func Init(logFile string) {
	log.SetFormatter(&logrus.TextFormatter{
		ForceColors:     true,
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err == nil {
		log.SetOutput(file)
	} else {
		log.Warn("Failed to log to file, using default stderr")
	}
}

// Component returns a logrus.Entry tagged with a "component" field, so every
// line a package emits can be filtered by subsystem (tracker, bundle,
// loader, driver, ...).
func Component(name string) *logrus.Entry {
	return log.WithField("component", name)
}

// SetLevel adjusts the minimum level emitted; used by the CLI's --log-level flag.
func SetLevel(level logrus.Level) {
	log.SetLevel(level)
}
