// Copyright 2025 Kadir Pekel
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

// Package logger configures the process-wide slog logger.
//
// Two formats are supported: "text" renders LEVEL message key=value lines,
// colored when the output is a terminal, and "json" uses slog's JSONHandler
// for machine-readable server logs. Logs emitted by third-party libraries
// through slog are suppressed unless the level is debug.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"runtime"
	"strings"
)

// Output formats accepted by Init.
const (
	FormatText = "text"
	FormatJSON = "json"
)

const modulePrefix = "github.com/kadirpekel/aguibridge"

var defaultLogger *slog.Logger

// ParseLevel converts a string log level to slog.Level.
// Valid levels: debug, info, warn, error.
func ParseLevel(levelStr string) (slog.Level, error) {
	switch strings.ToLower(levelStr) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, &UnknownLevelError{Level: levelStr}
	}
}

// UnknownLevelError reports an unrecognized log level string.
type UnknownLevelError struct {
	Level string
}

func (e *UnknownLevelError) Error() string {
	return "unknown log level '" + e.Level + "' (want debug, info, warn or error)"
}

// Init installs the process-wide logger and sets it as slog's default, so
// libraries logging through slog route here too.
func Init(level slog.Level, output *os.File, format string) {
	var handler slog.Handler
	switch format {
	case FormatJSON:
		handler = slog.NewJSONHandler(output, &slog.HandlerOptions{Level: level})
	default:
		handler = &textHandler{
			writer:   output,
			useColor: isTerminal(output),
			level:    level,
		}
	}

	defaultLogger = slog.New(&libraryFilter{handler: handler, minLevel: level})
	slog.SetDefault(defaultLogger)
}

// Get returns the default logger, initializing it at info level if Init has
// not run yet.
func Get() *slog.Logger {
	if defaultLogger == nil {
		Init(slog.LevelInfo, os.Stderr, FormatText)
	}
	return defaultLogger
}

// Component returns a logger tagged with a component name.
func Component(name string) *slog.Logger {
	return Get().With("component", name)
}

// OpenLogFile opens or creates a log file at the specified path.
// Returns the file handle and a cleanup function, or an error.
func OpenLogFile(path string) (*os.File, func(), error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, err
	}

	cleanup := func() {
		file.Close()
	}

	return file, cleanup, nil
}

// libraryFilter drops records originating outside this module unless the
// level is debug. Keeps chatty dependencies quiet in normal operation.
type libraryFilter struct {
	handler  slog.Handler
	minLevel slog.Level
}

func (f *libraryFilter) Enabled(ctx context.Context, level slog.Level) bool {
	if level < f.minLevel {
		return false
	}
	return f.handler.Enabled(ctx, level)
}

func (f *libraryFilter) Handle(ctx context.Context, record slog.Record) error {
	if f.minLevel > slog.LevelDebug && !fromThisModule(record.PC) {
		return nil
	}
	return f.handler.Handle(ctx, record)
}

func (f *libraryFilter) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &libraryFilter{handler: f.handler.WithAttrs(attrs), minLevel: f.minLevel}
}

func (f *libraryFilter) WithGroup(name string) slog.Handler {
	return &libraryFilter{handler: f.handler.WithGroup(name), minLevel: f.minLevel}
}

// fromThisModule checks whether the record's program counter sits in this
// module's packages.
func fromThisModule(pc uintptr) bool {
	if pc == 0 {
		return false
	}
	fn := runtime.FuncForPC(pc)
	if fn == nil {
		return false
	}
	if strings.Contains(fn.Name(), modulePrefix) {
		return true
	}
	file, _ := fn.FileLine(pc)
	return strings.Contains(file, "aguibridge/")
}

// textHandler renders LEVEL message key=value lines, colored on terminals.
type textHandler struct {
	writer   io.Writer
	useColor bool
	level    slog.Level
	attrs    []slog.Attr
	prefix   string
}

func (h *textHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *textHandler) Handle(_ context.Context, record slog.Record) error {
	var buf strings.Builder

	levelStr := record.Level.String()
	if h.useColor {
		buf.WriteString(levelColor(record.Level))
		buf.WriteString(levelStr)
		buf.WriteString(colorReset)
	} else {
		buf.WriteString(levelStr)
	}
	buf.WriteByte(' ')
	buf.WriteString(record.Message)

	writeAttr := func(a slog.Attr) {
		buf.WriteByte(' ')
		if h.prefix != "" {
			buf.WriteString(h.prefix)
			buf.WriteByte('.')
		}
		buf.WriteString(a.Key)
		buf.WriteByte('=')
		buf.WriteString(a.Value.String())
	}

	for _, a := range h.attrs {
		writeAttr(a)
	}
	record.Attrs(func(a slog.Attr) bool {
		writeAttr(a)
		return true
	})

	buf.WriteByte('\n')
	_, err := io.WriteString(h.writer, buf.String())
	return err
}

func (h *textHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &next
}

func (h *textHandler) WithGroup(name string) slog.Handler {
	next := *h
	if next.prefix != "" {
		next.prefix += "." + name
	} else {
		next.prefix = name
	}
	return &next
}

const colorReset = "\033[0m"

// levelColor returns the ANSI color code for a log level.
func levelColor(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return "\033[31m" // Red
	case level >= slog.LevelWarn:
		return "\033[33m" // Yellow
	case level >= slog.LevelInfo:
		return "\033[36m" // Cyan
	default:
		return "\033[90m" // Gray
	}
}

// isTerminal checks if the file is a terminal.
func isTerminal(file *os.File) bool {
	if fileInfo, err := file.Stat(); err == nil {
		return (fileInfo.Mode() & os.ModeCharDevice) != 0
	}
	return false
}
