package logging

import (
	"bytes"
	"fmt"
	"io"
	"log"
	"os"
	"sync"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

// colorize indicates whether or not warning and error output should be
// colorized. It is computed once at startup based on the standard error
// stream, which is where the standard logger writes by default.
var colorize = isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd())

// writer is an io.Writer that splits its input stream into lines and writes
// those lines to an underlying logger.
type writer struct {
	// callback is the logging callback.
	callback func(string)
	// buffer is any incomplete line fragment left over from a previous write.
	buffer []byte
}

// trimCarriageReturn trims any single trailing carriage return from the end of
// a byte slice.
func trimCarriageReturn(buffer []byte) []byte {
	if len(buffer) > 0 && buffer[len(buffer)-1] == '\r' {
		return buffer[:len(buffer)-1]
	}
	return buffer
}

// Write implements io.Writer.Write.
func (w *writer) Write(buffer []byte) (int, error) {
	// Append the data to our internal buffer.
	w.buffer = append(w.buffer, buffer...)

	// Process all complete lines in the buffer, tracking the number of bytes
	// that we process.
	var processed int
	remaining := w.buffer
	for {
		// Find the index of the next newline character.
		index := bytes.IndexByte(remaining, '\n')
		if index == -1 {
			break
		}

		// Process the line.
		w.callback(string(trimCarriageReturn(remaining[:index])))

		// Update the number of bytes that we've processed.
		processed += index + 1

		// Update the remaining slice.
		remaining = remaining[index+1:]
	}

	// If we managed to process bytes, then shift any leftover bytes to the
	// front of the buffer and truncate it.
	if processed > 0 {
		leftover := len(w.buffer) - processed
		if leftover > 0 {
			copy(w.buffer[:leftover], w.buffer[processed:])
		}
		w.buffer = w.buffer[:leftover]
	}

	// Done.
	return len(buffer), nil
}

// Logger is the main logger type. It has the novel property that it still
// functions if nil, but it doesn't log anything. It is safe for concurrent
// usage.
type Logger struct {
	// lock serializes access to the underlying stream.
	lock *sync.Mutex
	// level is the maximum level at which the logger will record messages.
	level Level
	// prefix is any prefix specified for the logger.
	prefix string
	// logger is the underlying standard logger.
	logger *log.Logger
}

// NewLogger creates a new logger with the specified level, writing its output
// to the specified stream.
func NewLogger(level Level, stream io.Writer) *Logger {
	return &Logger{
		lock:   &sync.Mutex{},
		level:  level,
		logger: log.New(stream, "", log.LstdFlags|log.Lmicroseconds),
	}
}

// RootLogger is the root logger from which all other loggers derive by
// default. It logs warnings and errors to standard error.
var RootLogger = NewLogger(LevelWarn, os.Stderr)

// Sublogger creates a new sublogger with the specified name.
func (l *Logger) Sublogger(name string) *Logger {
	// If the logger is nil, then the sublogger will be as well.
	if l == nil {
		return nil
	}

	// Compute the new prefix.
	prefix := name
	if l.prefix != "" {
		prefix = l.prefix + "." + name
	}

	// Create the new logger. It shares the lock and output stream of its
	// parent.
	return &Logger{
		lock:   l.lock,
		level:  l.level,
		prefix: prefix,
		logger: l.logger,
	}
}

// Level returns the logger's level. It is safe to call on a nil logger, in
// which case it returns LevelDisabled.
func (l *Logger) Level() Level {
	if l == nil {
		return LevelDisabled
	}
	return l.level
}

// output is the internal logging method.
func (l *Logger) output(level Level, line string) {
	// Tag the line with its level and any prefix.
	if l.prefix != "" {
		line = fmt.Sprintf("%s [%s] %s", level.tag(), l.prefix, line)
	} else {
		line = fmt.Sprintf("%s %s", level.tag(), line)
	}

	// Colorize warning and error output if appropriate.
	if colorize {
		if level == LevelWarn {
			line = color.YellowString("%s", line)
		} else if level == LevelError {
			line = color.RedString("%s", line)
		}
	}

	// Log.
	l.lock.Lock()
	l.logger.Output(4, line)
	l.lock.Unlock()
}

// log is the shared entry point for unformatted logging.
func (l *Logger) log(level Level, v ...interface{}) {
	if l != nil && l.level >= level {
		l.output(level, fmt.Sprint(v...))
	}
}

// logf is the shared entry point for formatted logging.
func (l *Logger) logf(level Level, format string, v ...interface{}) {
	if l != nil && l.level >= level {
		l.output(level, fmt.Sprintf(format, v...))
	}
}

// Error logs an error with semantics equivalent to fmt.Print.
func (l *Logger) Error(v ...interface{}) {
	l.log(LevelError, v...)
}

// Errorf logs an error with semantics equivalent to fmt.Printf.
func (l *Logger) Errorf(format string, v ...interface{}) {
	l.logf(LevelError, format, v...)
}

// Warn logs a warning with semantics equivalent to fmt.Print.
func (l *Logger) Warn(v ...interface{}) {
	l.log(LevelWarn, v...)
}

// Warnf logs a warning with semantics equivalent to fmt.Printf.
func (l *Logger) Warnf(format string, v ...interface{}) {
	l.logf(LevelWarn, format, v...)
}

// Info logs information with semantics equivalent to fmt.Print.
func (l *Logger) Info(v ...interface{}) {
	l.log(LevelInfo, v...)
}

// Infof logs information with semantics equivalent to fmt.Printf.
func (l *Logger) Infof(format string, v ...interface{}) {
	l.logf(LevelInfo, format, v...)
}

// Debug logs debug information with semantics equivalent to fmt.Print.
func (l *Logger) Debug(v ...interface{}) {
	l.log(LevelDebug, v...)
}

// Debugf logs debug information with semantics equivalent to fmt.Printf.
func (l *Logger) Debugf(format string, v ...interface{}) {
	l.logf(LevelDebug, format, v...)
}

// Trace logs tracing information with semantics equivalent to fmt.Print.
func (l *Logger) Trace(v ...interface{}) {
	l.log(LevelTrace, v...)
}

// Tracef logs tracing information with semantics equivalent to fmt.Printf.
func (l *Logger) Tracef(format string, v ...interface{}) {
	l.logf(LevelTrace, format, v...)
}

// Writer returns an io.Writer that logs complete lines at the specified
// level.
func (l *Logger) Writer(level Level) io.Writer {
	// If the logger is nil or the level is squelched, then we can just discard
	// input since it won't be logged anyway. This saves us the overhead of
	// scanning lines.
	if l == nil || l.level < level {
		return io.Discard
	}

	// Create the writer.
	return &writer{
		callback: func(s string) {
			l.log(level, s)
		},
	}
}
