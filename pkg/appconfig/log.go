package appconfig

import (
	"fmt"
	"strings"

	"github.com/gookit/slog"
)

// Log formats.
const (
	LogFormatText = "text"
	LogFormatJSON = "json"
)

// Log configures the process wide logger.
type Log struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func DefaultLog() Log {
	return Log{Level: "info", Format: LogFormatText}
}

func (l *Log) validate() error {
	if _, err := l.level(); err != nil {
		return err
	}
	if l.Format != LogFormatText && l.Format != LogFormatJSON {
		return fmt.Errorf("unsupported format %q", l.Format)
	}
	return nil
}

func (l *Log) level() (slog.Level, error) {
	switch strings.ToLower(l.Level) {
	case "trace":
		return slog.TraceLevel, nil
	case "debug":
		return slog.DebugLevel, nil
	case "info", "":
		return slog.InfoLevel, nil
	case "warn", "warning":
		return slog.WarnLevel, nil
	case "error":
		return slog.ErrorLevel, nil
	default:
		return 0, fmt.Errorf("unsupported level %q", l.Level)
	}
}

// Apply configures the standard slog logger.
func (l *Log) Apply() error {
	level, err := l.level()
	if err != nil {
		return err
	}
	slog.SetLogLevel(level)
	if l.Format == LogFormatJSON {
		slog.SetFormatter(slog.NewJSONFormatter())
	} else {
		slog.SetFormatter(slog.NewTextFormatter())
	}
	return nil
}
