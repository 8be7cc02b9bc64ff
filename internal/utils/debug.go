package utils

import (
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	logMu   sync.RWMutex
	logger  = zerolog.Nop()
	logFile io.Closer
)

// LogOptions configures the debug log
type LogOptions struct {
	Dir        string // directory for debug.log; empty keeps logging disabled unless Writer is set
	Level      string // debug, info, warn, error
	MaxBackups int    // rotated files to keep
	MaxSizeMB  int
	Writer     io.Writer // optional extra/alternative sink (e.g. console or test buffer)
}

// ConfigureLogging installs the process-wide logger. It can be called again to reconfigure.
func ConfigureLogging(opts LogOptions) error {
	level, err := zerolog.ParseLevel(opts.Level)
	if err != nil || opts.Level == "" {
		level = zerolog.InfoLevel
	}

	var writers []io.Writer
	var closer io.Closer
	if opts.Dir != "" {
		maxSize := opts.MaxSizeMB
		if maxSize <= 0 {
			maxSize = 10
		}
		lj := &lumberjack.Logger{
			Filename:   filepath.Join(opts.Dir, "debug.log"),
			MaxSize:    maxSize,
			MaxBackups: opts.MaxBackups,
		}
		writers = append(writers, lj)
		closer = lj
	}
	if opts.Writer != nil {
		writers = append(writers, opts.Writer)
	}

	next := zerolog.Nop()
	if len(writers) > 0 {
		zerolog.TimeFieldFormat = time.RFC3339Nano
		next = zerolog.New(zerolog.MultiLevelWriter(writers...)).Level(level).With().Timestamp().Logger()
	}

	logMu.Lock()
	old := logFile
	logger = next
	logFile = closer
	logMu.Unlock()

	if old != nil {
		return old.Close()
	}
	return nil
}

// CloseLogging flushes and closes the log file, leaving logging disabled
func CloseLogging() error {
	return ConfigureLogging(LogOptions{})
}

// Logger returns a sub-logger tagged with component. It reflects the
// configuration at call time, so callers should not cache it across ConfigureLogging.
func Logger(component string) zerolog.Logger {
	logMu.RLock()
	defer logMu.RUnlock()
	return logger.With().Str("component", component).Logger()
}

// Debug writes a formatted debug line to the log
func Debug(format string, args ...any) {
	logMu.RLock()
	l := logger
	logMu.RUnlock()
	l.Debug().Msg(fmt.Sprintf(format, args...))
}
