package obs

import (
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	loggerOnce sync.Once
	logger     *logrus.Logger
)

// Logger returns the shared structured logger used across the service.
func Logger() *logrus.Logger {
	loggerOnce.Do(func() {
		logger = logrus.New()
		logger.SetOutput(os.Stdout)
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime: "ts",
			},
		})
		logger.SetLevel(logrus.InfoLevel)
	})
	return logger
}

// SetLevel adjusts the shared logger level; unknown names keep the current level.
func SetLevel(name string) {
	name = strings.TrimSpace(name)
	if name == "" {
		return
	}
	lvl, err := logrus.ParseLevel(name)
	if err != nil {
		Logger().WithField("level", name).Warn("unknown log level ignored")
		return
	}
	Logger().SetLevel(lvl)
}

// LogRequest emits a structured log line with common HTTP fields.
func LogRequest(msg string, fields map[string]any) {
	Logger().WithFields(logrus.Fields(fields)).Info(msg)
}
