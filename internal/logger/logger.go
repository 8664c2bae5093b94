// Package logger provides the leveled structured logger shared by the
// recorder and the replayer: a log/slog logger with a text or JSON handler,
// rotated through lumberjack when writing to a file.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/crashconsistency/dsfs/cfg"
)

// Severity levels. These are distinct slog.Level values (not the stdlib's
// Debug/Info/Warn/Error) so TRACE can sit below slog's built-in Debug.
const (
	LevelTrace slog.Level = -8
	LevelDebug slog.Level = slog.LevelDebug
	LevelInfo  slog.Level = slog.LevelInfo
	LevelWarn  slog.Level = slog.LevelWarn
	LevelError slog.Level = slog.LevelError
	LevelOff   slog.Level = 100
)

var severityNames = map[slog.Level]string{
	LevelTrace: "TRACE",
	LevelDebug: "DEBUG",
	LevelInfo:  "INFO",
	LevelWarn:  "WARNING",
	LevelError: "ERROR",
}

// loggerFactory owns the destination and formatting choices for the
// package-level logger, so SetLogFormat/InitLogFile can rebuild the handler
// without callers holding onto a *slog.Logger themselves.
type loggerFactory struct {
	file            *lumberjack.Logger
	level           string
	format          string
	logRotateConfig RotateConfig
}

var defaultLoggerFactory = &loggerFactory{
	level:           cfg.INFO,
	format:          "text",
	logRotateConfig: DefaultRotateConfig(),
}

var defaultLogger = slog.New(
	defaultLoggerFactory.createJsonOrTextHandler(os.Stderr, new(slog.LevelVar), ""),
)

// createJsonOrTextHandler builds the slog.Handler matching f.format, writing
// through programLevel so the level can be adjusted after construction. The
// prefix is prepended to every message. Text output carries the time as
// time="DD/MM/YYYY hh:mm:ss.uuuuuu"; JSON output carries it first, as
// "timestamp":{"seconds":N,"nanos":N}.
func (f *loggerFactory) createJsonOrTextHandler(w io.Writer, programLevel *slog.LevelVar, prefix string) slog.Handler {
	replace := func(groups []string, a slog.Attr) slog.Attr {
		switch a.Key {
		case slog.MessageKey:
			a.Key = "message"
			a.Value = slog.StringValue(prefix + a.Value.String())
		case slog.LevelKey:
			level, _ := a.Value.Any().(slog.Level)
			name, ok := severityNames[level]
			if !ok {
				name = level.String()
			}
			a.Key = "severity"
			a.Value = slog.StringValue(name)
		case slog.TimeKey:
			t := a.Value.Time()
			if f.format == "text" {
				a.Key = "time"
				a.Value = slog.StringValue(t.Format("02/01/2006 15:04:05.000000"))
			} else {
				a.Key = "timestamp"
				a.Value = slog.GroupValue(
					slog.Int64("seconds", t.Unix()),
					slog.Int64("nanos", int64(t.Nanosecond())),
				)
			}
		}
		return a
	}

	opts := &slog.HandlerOptions{Level: programLevel, ReplaceAttr: replace}

	// "text" is the only format that renders as text; an empty or unrecognized
	// format falls back to JSON, matching the CLI's explicit "text" default.
	if f.format == "text" {
		return slog.NewTextHandler(w, opts)
	}
	return slog.NewJSONHandler(w, opts)
}

// jsonTimestampHandler wraps a JSON handler and appends a
// "timestamp":{"seconds":N,"nanos":N} group after the record's other fields;
// slog's own time field is left as it is. createJsonOrTextHandler does not
// use it: it emits the timestamp group in place of the time field instead.
type jsonTimestampHandler struct {
	inner *slog.JSONHandler
}

func (h *jsonTimestampHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *jsonTimestampHandler) Handle(ctx context.Context, r slog.Record) error {
	rewritten := slog.NewRecord(r.Time, r.Level, r.Message, r.PC)
	rewritten.AddAttrs(slog.Group("timestamp",
		slog.Int64("seconds", r.Time.Unix()),
		slog.Int64("nanos", int64(r.Time.Nanosecond())),
	))
	r.Attrs(func(a slog.Attr) bool {
		rewritten.AddAttrs(a)
		return true
	})
	return h.inner.Handle(ctx, rewritten)
}

func (h *jsonTimestampHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &jsonTimestampHandler{inner: h.inner.WithAttrs(attrs).(*slog.JSONHandler)}
}

func (h *jsonTimestampHandler) WithGroup(name string) slog.Handler {
	return &jsonTimestampHandler{inner: h.inner.WithGroup(name).(*slog.JSONHandler)}
}

func setLoggingLevel(level string, programLevel *slog.LevelVar) {
	switch level {
	case cfg.TRACE:
		programLevel.Set(LevelTrace)
	case cfg.DEBUG:
		programLevel.Set(LevelDebug)
	case cfg.INFO:
		programLevel.Set(LevelInfo)
	case cfg.WARNING:
		programLevel.Set(LevelWarn)
	case cfg.ERROR:
		programLevel.Set(LevelError)
	case cfg.OFF:
		programLevel.Set(LevelOff)
	default:
		programLevel.Set(LevelInfo)
	}
}

// SetLogFormat switches the default logger's output format ("text" or
// "json", defaulting to "json" for anything else) while preserving its
// destination and level.
func SetLogFormat(format string) {
	defaultLoggerFactory.format = format

	var programLevel = new(slog.LevelVar)
	setLoggingLevel(defaultLoggerFactory.level, programLevel)

	var w io.Writer = os.Stderr
	if defaultLoggerFactory.file != nil {
		w = defaultLoggerFactory.file
	}
	defaultLogger = slog.New(defaultLoggerFactory.createJsonOrTextHandler(w, programLevel, ""))
}

// InitLogFile points the default logger at a rotated log file. An empty
// FilePath leaves the logger writing to stderr.
func InitLogFile(rotate RotateConfig, logConfig cfg.LoggingConfig) error {
	defaultLoggerFactory.logRotateConfig = rotate
	defaultLoggerFactory.level = logConfig.Severity
	if logConfig.Format != "" {
		defaultLoggerFactory.format = logConfig.Format
	}

	var w io.Writer = os.Stderr
	if logConfig.FilePath != "" {
		lj := &lumberjack.Logger{
			Filename:   string(logConfig.FilePath),
			MaxSize:    rotate.MaxFileSizeMB,
			MaxBackups: rotate.BackupFileCount,
			Compress:   rotate.Compress,
		}
		defaultLoggerFactory.file = lj
		w = lj
	}

	var programLevel = new(slog.LevelVar)
	setLoggingLevel(defaultLoggerFactory.level, programLevel)
	defaultLogger = slog.New(defaultLoggerFactory.createJsonOrTextHandler(w, programLevel, ""))
	return nil
}

func logf(level slog.Level, format string, args ...any) {
	defaultLogger.Log(context.Background(), level, fmt.Sprintf(format, args...))
}

// Tracef logs below slog's Debug floor -- the harness's most verbose level,
// used for per-operation replay tracing.
func Tracef(format string, args ...any) { logf(LevelTrace, format, args...) }

// Debugf logs at debug severity.
func Debugf(format string, args ...any) { logf(LevelDebug, format, args...) }

// Infof logs at info severity.
func Infof(format string, args ...any) { logf(LevelInfo, format, args...) }

// Warnf logs at warning severity.
func Warnf(format string, args ...any) { logf(LevelWarn, format, args...) }

// Errorf logs at error severity.
func Errorf(format string, args ...any) { logf(LevelError, format, args...) }

// Fatalf logs at error severity and then exits the process with status 1.
func Fatalf(format string, args ...any) {
	logf(LevelError, format, args...)
	os.Exit(1)
}
