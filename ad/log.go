package ad

import "github.com/sirupsen/logrus"

// log is the package-level structured logger. It never sits on the hot
// path of Forward/Reverse; only Optimize, the per-thread registry's
// push/pop, and sweep-level anomaly reporting (stale comparisons,
// failed atomics) write through it.
var log = logrus.New()

func init() {
	log.SetLevel(logrus.InfoLevel)
}

// SetLogLevel adjusts the package logger's verbosity. level is one of
// logrus's level names ("debug", "info", "warn", ...); an unparsable
// level leaves the current level unchanged.
func SetLogLevel(level string) {
	if lvl, err := logrus.ParseLevel(level); err == nil {
		log.SetLevel(lvl)
	}
}
