// Package logutil mirrors the process log stream into a file so operators
// keep a persistent record beyond stdout.
package logutil

import (
	"fmt"
	"os"
	"strings"

	joonix "github.com/joonix/log"
	"github.com/sirupsen/logrus"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"
)

var _ = logrus.Hook(&WriterHook{})

// WriterHook copies log entries of the configured levels to the file logger.
type WriterHook struct {
	LogLevels []logrus.Level
}

// Fire formats the entry and appends it to the log file.
func (hook *WriterHook) Fire(entry *logrus.Entry) error {
	line, err := entry.String()
	if err != nil {
		return err
	}
	line = strings.TrimSuffix(line, "\n")
	fileLogger.Println(line)
	return err
}

// Levels defines on which log levels this hook triggers.
func (hook *WriterHook) Levels() []logrus.Level {
	return hook.LogLevels
}

var fileLogger = &logrus.Logger{
	Level: logrus.TraceLevel,
}

// ConfigurePersistentLogging adds a log-to-file writer hook to the global
// logrus logger. The hook appends new entries to the named file using the
// requested format.
func ConfigurePersistentLogging(logFileName, logFileFormatName string) error {
	logrus.WithField("logFileName", logFileName).Info("Logs will be made persistent")
	f, err := os.OpenFile(logFileName, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644) // #nosec G304
	if err != nil {
		return err
	}
	fileLogger.SetOutput(f)

	switch logFileFormatName {
	case "text":
		formatter := new(prefixed.TextFormatter)
		formatter.TimestampFormat = "2006-01-02 15:04:05"
		formatter.FullTimestamp = true
		formatter.DisableColors = true
		fileLogger.SetFormatter(formatter)
	case "fluentd":
		fileLogger.SetFormatter(&joonix.FluentdFormatter{})
	case "json":
		fileLogger.SetFormatter(&logrus.JSONFormatter{})
	default:
		return fmt.Errorf("unknown log file format %v", logFileFormatName)
	}

	logrus.Info("File logger initialized")
	logrus.AddHook(&WriterHook{
		LogLevels: logrus.AllLevels,
	})

	return nil
}
