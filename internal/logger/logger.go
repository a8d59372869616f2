package logger

import (
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

const logFileName = "meeting-dashboard.log"

type Logger struct {
	*logrus.Logger
	fileLogger *logrus.Logger
}

var (
	mu            sync.RWMutex
	defaultLogger *Logger
)

func init() {
	// 未调用 Init 时只输出到控制台
	defaultLogger = &Logger{
		Logger:     newConsoleLogger(logrus.DebugLevel),
		fileLogger: newDiscardLogger(),
	}
}

// Init 按配置重建日志器：控制台彩色文本 + 文件 JSON（lumberjack 轮转）
func Init(level, dir string) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}

	consoleLogger := newConsoleLogger(lvl)

	fileLogger := logrus.New()
	fileLogger.SetFormatter(&logrus.JSONFormatter{
		PrettyPrint:     false,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	fileLogger.SetLevel(lvl)

	if err := os.MkdirAll(dir, 0755); err != nil {
		consoleLogger.Errorf("无法创建日志目录: %v", err)
		fileLogger.SetOutput(io.Discard)
	} else {
		fileLogger.SetOutput(&lumberjack.Logger{
			Filename:   filepath.Join(dir, logFileName),
			MaxSize:    10,
			MaxBackups: 10,
			MaxAge:     30,
			Compress:   true,
		})
	}

	mu.Lock()
	defaultLogger = &Logger{
		Logger:     consoleLogger,
		fileLogger: fileLogger,
	}
	mu.Unlock()
}

func newConsoleLogger(level logrus.Level) *logrus.Logger {
	l := logrus.New()
	l.SetFormatter(&logrus.TextFormatter{
		ForceColors:   true,
		FullTimestamp: true,
	})
	l.SetOutput(os.Stdout)
	l.SetLevel(level)
	return l
}

func newDiscardLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func current() *Logger {
	mu.RLock()
	defer mu.RUnlock()
	return defaultLogger
}

// WithFields 返回带结构化字段的控制台日志条目（HTTP 访问日志使用）
func WithFields(fields map[string]any) *logrus.Entry {
	return current().Logger.WithFields(logrus.Fields(fields))
}

func Infof(format string, args ...any) {
	l := current()
	l.Logger.Infof(format, args...)
	l.fileLogger.Infof(format, args...)
}

func Warnf(format string, args ...any) {
	l := current()
	l.Logger.Warnf(format, args...)
	l.fileLogger.Warnf(format, args...)
}

func Errorf(format string, args ...any) {
	l := current()
	l.Logger.Errorf(format, args...)
	l.fileLogger.Errorf(format, args...)
}

func Fatalf(format string, args ...any) {
	l := current()
	l.fileLogger.Errorf(format, args...)
	l.Logger.Fatalf(format, args...)
}

func Debugf(format string, args ...any) {
	l := current()
	l.Logger.Debugf(format, args...)
	l.fileLogger.Debugf(format, args...)
}
