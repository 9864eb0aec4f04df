package logger

import (
	"io"
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

type Entry = logrus.Entry

var (
	mu  sync.RWMutex
	log *logrus.Logger
)

// Config selects level and output format.
type Config struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// Init replaces the process logger.
func Init(cfg Config) *logrus.Logger {
	return InitWithOutput(cfg, os.Stdout)
}

// InitWithOutput is Init with an explicit sink, mostly for tests.
func InitWithOutput(cfg Config, out io.Writer) *logrus.Logger {
	l := logrus.New()

	level, err := logrus.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		level = logrus.InfoLevel
	}
	l.SetLevel(level)

	if cfg.Format == "json" {
		l.SetFormatter(&logrus.JSONFormatter{TimestampFormat: "2006-01-02 15:04:05.000"})
	} else {
		l.SetFormatter(&logrus.TextFormatter{
			TimestampFormat: "2006-01-02 15:04:05.000",
			FullTimestamp:   true,
		})
	}
	l.SetOutput(out)

	mu.Lock()
	log = l
	mu.Unlock()
	return l
}

// InitFromEnv reads LOG_LEVEL and LOG_FORMAT.
func InitFromEnv() *logrus.Logger {
	level := os.Getenv("LOG_LEVEL")
	if level == "" {
		level = "info"
	}
	format := os.Getenv("LOG_FORMAT")
	if format == "" {
		format = "text"
	}
	return Init(Config{Level: level, Format: format})
}

// Get returns the process logger, initializing it from the environment on first use.
func Get() *logrus.Logger {
	mu.RLock()
	l := log
	mu.RUnlock()
	if l != nil {
		return l
	}
	return InitFromEnv()
}

// WithComponent returns an entry tagged with the component name.
func WithComponent(component string) *Entry {
	return Get().WithField("component", component)
}
