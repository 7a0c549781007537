// Package logs is the module's leveled, per-subsystem logger. It mirrors
// the shape of daglabs-btcd's internal logger/logger.go: one backend, one
// Logger per subsystem tag, output fanned out to stdout and a rotating log
// file via github.com/jrick/logrotate. That internal "logs" package is not
// itself part of the retrieval pack, so this is a reimplementation of its
// public contract rather than a copy.
package logs

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jrick/logrotate/rotator"
)

// Level is a logging severity, ordered least to most severe.
type Level uint8

const (
	LevelTrace Level = iota
	LevelDebug
	LevelInfo
	LevelWarn
	LevelError
	LevelCritical
	LevelOff
)

func (l Level) String() string {
	switch l {
	case LevelTrace:
		return "TRC"
	case LevelDebug:
		return "DBG"
	case LevelInfo:
		return "INF"
	case LevelWarn:
		return "WRN"
	case LevelError:
		return "ERR"
	case LevelCritical:
		return "CRT"
	default:
		return "OFF"
	}
}

// Subsystem tags, one per major component in the node.
const (
	SubsystemStore    = "STOR"
	SubsystemMempool  = "MEMP"
	SubsystemBuilder  = "BLDR"
	SubsystemCheckpt  = "CHKP"
	SubsystemGossip   = "GOSS"
	SubsystemPeerHost = "PEER"
	SubsystemScoring  = "SCOR"
	SubsystemNode     = "NODE"
)

// Logger writes leveled, subsystem-tagged lines to a shared backend.
type Logger struct {
	subsystem string
	backend   *Backend
}

func (l *Logger) log(level Level, args ...interface{}) {
	l.backend.write(level, l.subsystem, fmt.Sprint(args...))
}

func (l *Logger) logf(level Level, format string, args ...interface{}) {
	l.backend.write(level, l.subsystem, fmt.Sprintf(format, args...))
}

func (l *Logger) Trace(args ...interface{})                 { l.log(LevelTrace, args...) }
func (l *Logger) Tracef(f string, args ...interface{})      { l.logf(LevelTrace, f, args...) }
func (l *Logger) Debug(args ...interface{})                 { l.log(LevelDebug, args...) }
func (l *Logger) Debugf(f string, args ...interface{})      { l.logf(LevelDebug, f, args...) }
func (l *Logger) Info(args ...interface{})                  { l.log(LevelInfo, args...) }
func (l *Logger) Infof(f string, args ...interface{})       { l.logf(LevelInfo, f, args...) }
func (l *Logger) Warn(args ...interface{})                  { l.log(LevelWarn, args...) }
func (l *Logger) Warnf(f string, args ...interface{})       { l.logf(LevelWarn, f, args...) }
func (l *Logger) Error(args ...interface{})                 { l.log(LevelError, args...) }
func (l *Logger) Errorf(f string, args ...interface{})      { l.logf(LevelError, f, args...) }
func (l *Logger) Critical(args ...interface{})              { l.log(LevelCritical, args...) }
func (l *Logger) Criticalf(f string, args ...interface{})   { l.logf(LevelCritical, f, args...) }

// SetLevel adjusts the minimum level this logger emits.
func (l *Logger) SetLevel(level Level) {
	l.backend.setLevel(l.subsystem, level)
}

// Backend owns the rotator-backed writer and per-subsystem level table
// shared by every Logger it issues.
type Backend struct {
	mu       sync.Mutex
	writer   io.Writer
	rotator  *rotator.Rotator
	levels   map[string]Level
	defLevel Level
}

// NewBackend opens a rotating log file at logPath (created, with its
// directory, if absent) and returns a Backend that writes to it and to
// stdout, matching daglabs-btcd's logWriter fan-out.
func NewBackend(logPath string) (*Backend, error) {
	if dir := filepath.Dir(logPath); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("logs: creating log directory %s: %w", dir, err)
		}
	}
	r, err := rotator.New(logPath, 10*1024, false, 3)
	if err != nil {
		return nil, fmt.Errorf("logs: opening log rotator at %s: %w", logPath, err)
	}
	return &Backend{
		rotator:  r,
		levels:   make(map[string]Level),
		defLevel: LevelInfo,
	}, nil
}

// Logger returns the Logger for subsystem, creating its level entry at the
// backend's default level if this is the first time it is requested.
func (b *Backend) Logger(subsystem string) *Logger {
	b.mu.Lock()
	if _, ok := b.levels[subsystem]; !ok {
		b.levels[subsystem] = b.defLevel
	}
	b.mu.Unlock()
	return &Logger{subsystem: subsystem, backend: b}
}

func (b *Backend) setLevel(subsystem string, level Level) {
	b.mu.Lock()
	b.levels[subsystem] = level
	b.mu.Unlock()
}

func (b *Backend) write(level Level, subsystem, msg string) {
	b.mu.Lock()
	min, ok := b.levels[subsystem]
	b.mu.Unlock()
	if ok && level < min {
		return
	}

	line := fmt.Sprintf("%s [%s] %s %s\n", time.Now().Format("2006-01-02 15:04:05.000"), level, subsystem, msg)
	os.Stdout.WriteString(line)
	if b.rotator != nil {
		_, _ = b.rotator.Write([]byte(line))
	}
}

// Close releases the backend's log rotator.
func (b *Backend) Close() error {
	if b.rotator == nil {
		return nil
	}
	return b.rotator.Close()
}
