package logger

import (
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	defaultLogPath   = "logs/emailer.log"
	defaultMaxSizeMB = 100
	defaultMaxFiles  = 5
)

// newRotatingWriter opens the log file named by cfg through lumberjack.
// Zero sizes fall back to the package defaults; MaxAgeDays of zero keeps
// rotated files until MaxFiles evicts them.
func newRotatingWriter(cfg LoggingConfig) *lumberjack.Logger {
	w := &lumberjack.Logger{
		Filename:   cfg.FilePath,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxFiles,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
		LocalTime:  false,
	}
	if w.Filename == "" {
		w.Filename = defaultLogPath
	}
	if w.MaxSize <= 0 {
		w.MaxSize = defaultMaxSizeMB
	}
	if w.MaxBackups <= 0 {
		w.MaxBackups = defaultMaxFiles
	}
	return w
}
