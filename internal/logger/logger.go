package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	defaultMaxSizeMB  = 50
	defaultMaxBackups = 5
	defaultMaxAgeDays = 14
)

// New creates a new slog.Logger instance with the specified logging level
// level can be: "debug", "info", "warn", "error"
// Default is "info"
func New(level string) *slog.Logger {
	return newLogger(os.Stdout, "text", level)
}

// NewJSON creates a new slog.Logger with JSON output
func NewJSON(level string) *slog.Logger {
	return newLogger(os.Stdout, "json", level)
}

// Options selects the output of NewWithOptions.
type Options struct {
	Level  string
	Format string // text or json
	File   string // optional rotating log file, written in addition to stdout
}

// NewWithOptions builds a logger from Options. When File is set, records go
// to stdout and to a size-rotated file. The returned closer flushes the file
// and must be called on shutdown.
func NewWithOptions(opts Options) (*slog.Logger, io.Closer) {
	if opts.File == "" {
		return newLogger(os.Stdout, opts.Format, opts.Level), nopCloser{}
	}

	rotator := &lumberjack.Logger{
		Filename:   opts.File,
		MaxSize:    defaultMaxSizeMB,
		MaxBackups: defaultMaxBackups,
		MaxAge:     defaultMaxAgeDays,
		Compress:   true,
	}
	return newLogger(io.MultiWriter(os.Stdout, rotator), opts.Format, opts.Level), rotator
}

func newLogger(w io.Writer, format, level string) *slog.Logger {
	handlerOpts := &slog.HandlerOptions{Level: parseLevel(level)}

	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(w, handlerOpts)
	} else {
		handler = slog.NewTextHandler(w, handlerOpts)
	}
	return slog.New(handler)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// parseLevel converts string level to slog.Level
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo // Default to info
	}
}

// TruncateLongFields truncates long string values in a JSON payload for logging.
// Keeps debug logs of large upstream responses (announcement bodies, company
// descriptions) readable.
func TruncateLongFields(body string, maxFieldLength int) string {
	var data interface{}
	if err := json.Unmarshal([]byte(body), &data); err != nil {
		return body // Return as-is if not valid JSON
	}

	data = truncateValue(data, maxFieldLength)

	truncated, err := json.Marshal(data)
	if err != nil {
		return body
	}

	return string(truncated)
}

// truncateValue recursively truncates long string values in a map or slice
func truncateValue(v interface{}, maxLength int) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		for key, value := range val {
			switch key {
			case "content", "description", "gsjj":
				// Free text fields are truncated more aggressively
				if str, ok := value.(string); ok && len(str) > 50 {
					val[key] = fmt.Sprintf("%s... [truncated %d chars]", str[:50], len(str)-50)
				}
			default:
				val[key] = truncateValue(value, maxLength)
			}
		}
		return val
	case []interface{}:
		for i := range val {
			val[i] = truncateValue(val[i], maxLength)
		}
		return val
	case string:
		if len(val) > maxLength {
			return val[:maxLength] + "... [truncated]"
		}
		return val
	default:
		return v
	}
}
