package prometheus

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"
)

// LogrusCollector is a logrus hook counting log entries by level and prefix,
// so a rising error rate shows up on the metrics surface without scraping
// the log stream itself.
type LogrusCollector struct {
	counterVec *prometheus.CounterVec
}

var (
	supportedLevels = []logrus.Level{logrus.InfoLevel, logrus.WarnLevel, logrus.ErrorLevel}
	counterVec      = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "log_entries_total",
		Help: "Total number of log messages.",
	}, []string{"level", "prefix"})
)

const prefixKey = "prefix"
const defaultprefix = "global"

// NewLogrusCollector returns a logrus hook backed by the package counter.
func NewLogrusCollector() *LogrusCollector {
	return &LogrusCollector{
		counterVec: counterVec,
	}
}

// Fire is called on every log call.
func (hook *LogrusCollector) Fire(entry *logrus.Entry) error {
	prefix := defaultprefix
	if prefixValue, ok := entry.Data[prefixKey]; ok {
		prefix, ok = prefixValue.(string)
		if !ok {
			return errors.New("prefix is not a string")
		}
	}
	hook.counterVec.WithLabelValues(entry.Level.String(), prefix).Inc()
	return nil
}

// Levels returns the log levels this hook reacts to.
func (_ *LogrusCollector) Levels() []logrus.Level {
	return supportedLevels
}
