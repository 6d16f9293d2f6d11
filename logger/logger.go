package logger

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

var log *logrus.Logger

// FileSink describes the optional rotating log file written next to the
// console output.
type FileSink struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// Init configures the package logger to write text output to stderr.
// Unknown levels fall back to info.
func Init(level string) {
	log = newLogger(level)
}

// InitWithFile configures the package logger like Init and additionally
// tees JSON entries into a rotating file.
func InitWithFile(level string, sink FileSink) error {
	l := newLogger(level)
	if strings.TrimSpace(sink.Path) != "" {
		if dir := filepath.Dir(sink.Path); dir != "" {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return err
			}
		}
		l.AddHook(&fileHook{
			writer: &lumberjack.Logger{
				Filename:   sink.Path,
				MaxSize:    nonZero(sink.MaxSizeMB, 20),
				MaxBackups: nonZero(sink.MaxBackups, 3),
				MaxAge:     nonZero(sink.MaxAgeDays, 30),
				Compress:   sink.Compress,
			},
			formatter: &logrus.JSONFormatter{},
		})
	}
	log = l
	return nil
}

func newLogger(level string) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	lvl, err := logrus.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		lvl = logrus.InfoLevel
	}
	l.SetLevel(lvl)
	return l
}

// Logger returns the underlying logrus logger, initialising it at info level
// when Init has not been called yet.
func Logger() *logrus.Logger {
	if log == nil {
		Init("info")
	}
	return log
}

// Level reports the active level name.
func Level() string {
	return Logger().GetLevel().String()
}

func WithFields(fields map[string]interface{}) *logrus.Entry {
	return Logger().WithFields(logrus.Fields(fields))
}

func Debug(args ...interface{}) { Logger().Debug(args...) }
func Info(args ...interface{})  { Logger().Info(args...) }
func Warn(args ...interface{})  { Logger().Warn(args...) }
func Error(args ...interface{}) { Logger().Error(args...) }
func Fatal(args ...interface{}) { Logger().Fatal(args...) }

func Debugf(format string, args ...interface{}) { Logger().Debugf(format, args...) }
func Infof(format string, args ...interface{})  { Logger().Infof(format, args...) }
func Warnf(format string, args ...interface{})  { Logger().Warnf(format, args...) }
func Errorf(format string, args ...interface{}) { Logger().Errorf(format, args...) }
func Fatalf(format string, args ...interface{}) { Logger().Fatalf(format, args...) }

type fileHook struct {
	writer    io.Writer
	formatter logrus.Formatter
}

func (h *fileHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *fileHook) Fire(entry *logrus.Entry) error {
	line, err := h.formatter.Format(entry)
	if err != nil {
		return err
	}
	_, err = h.writer.Write(line)
	return err
}

func nonZero(value, fallback int) int {
	if value <= 0 {
		return fallback
	}
	return value
}
