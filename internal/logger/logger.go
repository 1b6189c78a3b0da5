// Copyright 2025 the AMQ-OS Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package logger provides the kernel's logging facility: slog with
// text or JSON output, a TRACE level below DEBUG, and optional
// rotated file output.
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Custom severity levels. slog has no TRACE, so it sits below DEBUG.
const (
	LevelTrace   = slog.Level(-8)
	LevelDebug   = slog.LevelDebug
	LevelInfo    = slog.LevelInfo
	LevelWarning = slog.LevelWarn
	LevelError   = slog.LevelError
	// LevelOff disables all logging.
	LevelOff = slog.Level(12)
)

type Config struct {
	// Severity is one of TRACE, DEBUG, INFO, WARNING, ERROR, OFF.
	Severity string

	// Format is "text" or "json".
	Format string

	// FilePath, when non-empty, sends output to a rotated log file
	// instead of stderr.
	FilePath string

	// MaxFileSizeMB bounds each rotated file.
	MaxFileSizeMB int

	// MaxBackups bounds the number of rotated files kept.
	MaxBackups int
}

type loggerFactory struct {
	format string
	level  *slog.LevelVar
	writer io.Writer
}

var (
	defaultLoggerFactory = &loggerFactory{
		format: "text",
		level:  new(slog.LevelVar),
		writer: os.Stderr,
	}
	defaultLogger = slog.New(defaultLoggerFactory.handler())
)

// InitLogFile configures the default logger from cfg. Call once at boot.
func InitLogFile(cfg Config) error {
	var w io.Writer = os.Stderr
	if cfg.FilePath != "" {
		w = &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    cfg.MaxFileSizeMB,
			MaxBackups: cfg.MaxBackups,
		}
	}

	level, err := parseLevel(cfg.Severity)
	if err != nil {
		return err
	}

	defaultLoggerFactory.format = cfg.Format
	defaultLoggerFactory.writer = w
	defaultLoggerFactory.level.Set(level)
	defaultLogger = slog.New(defaultLoggerFactory.handler())
	return nil
}

func parseLevel(severity string) (slog.Level, error) {
	switch severity {
	case "", "INFO":
		return LevelInfo, nil
	case "TRACE":
		return LevelTrace, nil
	case "DEBUG":
		return LevelDebug, nil
	case "WARNING":
		return LevelWarning, nil
	case "ERROR":
		return LevelError, nil
	case "OFF":
		return LevelOff, nil
	}
	return 0, fmt.Errorf("invalid log severity: %q", severity)
}

func severityName(l slog.Level) string {
	switch {
	case l <= LevelTrace:
		return "TRACE"
	case l <= LevelDebug:
		return "DEBUG"
	case l <= LevelInfo:
		return "INFO"
	case l <= LevelWarning:
		return "WARNING"
	default:
		return "ERROR"
	}
}

func (f *loggerFactory) handler() slog.Handler {
	opts := &slog.HandlerOptions{
		Level: f.level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.LevelKey {
				level := a.Value.Any().(slog.Level)
				return slog.String("severity", severityName(level))
			}
			if a.Key == slog.MessageKey {
				a.Key = "message"
			}
			return a
		},
	}

	if f.format == "json" {
		return slog.NewJSONHandler(f.writer, opts)
	}
	return slog.NewTextHandler(f.writer, opts)
}

// Tracef prints the message with TRACE severity.
func Tracef(format string, v ...interface{}) {
	defaultLogger.Log(nil, LevelTrace, fmt.Sprintf(format, v...))
}

// Debugf prints the message with DEBUG severity.
func Debugf(format string, v ...interface{}) {
	defaultLogger.Log(nil, LevelDebug, fmt.Sprintf(format, v...))
}

// Infof prints the message with INFO severity.
func Infof(format string, v ...interface{}) {
	defaultLogger.Log(nil, LevelInfo, fmt.Sprintf(format, v...))
}

// Warnf prints the message with WARNING severity.
func Warnf(format string, v ...interface{}) {
	defaultLogger.Log(nil, LevelWarning, fmt.Sprintf(format, v...))
}

// Errorf prints the message with ERROR severity.
func Errorf(format string, v ...interface{}) {
	defaultLogger.Log(nil, LevelError, fmt.Sprintf(format, v...))
}
