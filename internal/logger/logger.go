package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Default logging configuration constants
const (
	DefaultMaxSizeMB  = 10 // MB
	DefaultMaxBackups = 3  // number of backup files
	DefaultMaxAgeDays = 7  // days
	DefaultFileName   = "craftd.log"
)

// Config describes where the daemon logs. Console output always goes to the
// writer passed to New; File adds a rotating file when Dir is set.
type Config struct {
	Level  string     `mapstructure:"level" toml:"level" json:"level"`    // debug|info|warn|error
	Format string     `mapstructure:"format" toml:"format" json:"format"` // text|json
	Color  bool       `mapstructure:"color" toml:"color" json:"color"`
	File   FileConfig `mapstructure:"file" toml:"file" json:"file"`
}

// FileConfig holds rotation parameters, following lumberjack semantics.
type FileConfig struct {
	Dir        string `mapstructure:"dir" toml:"dir" json:"dir"`
	Name       string `mapstructure:"name" toml:"name" json:"name"` // default craftd.log
	MaxSizeMB  int    `mapstructure:"max_size_mb" toml:"max_size_mb" json:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" toml:"max_backups" json:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days" toml:"max_age_days" json:"max_age_days"`
	Compress   bool   `mapstructure:"compress" toml:"compress" json:"compress"`
}

// Writer returns a rotating writer, or nil when no directory is configured.
func (f FileConfig) Writer() io.WriteCloser {
	if f.Dir == "" {
		return nil
	}
	name := f.Name
	if name == "" {
		name = DefaultFileName
	}
	return &lj.Logger{
		Filename:   filepath.Join(f.Dir, name),
		MaxSize:    valOr(f.MaxSizeMB, DefaultMaxSizeMB),
		MaxBackups: valOr(f.MaxBackups, DefaultMaxBackups),
		MaxAge:     valOr(f.MaxAgeDays, DefaultMaxAgeDays),
		Compress:   f.Compress,
	}
}

// ParseLevel maps a level name to slog.Level. Empty means info.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
}

// New builds the daemon logger. The returned closer releases the log file;
// it is never nil.
func New(c Config, console io.Writer) (*slog.Logger, io.Closer, error) {
	level, err := ParseLevel(c.Level)
	if err != nil {
		return nil, nil, err
	}
	if console == nil {
		console = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: level}
	handlers := []slog.Handler{consoleHandler(c, console, opts)}

	var closer io.Closer = nopCloser{}
	if w := c.File.Writer(); w != nil {
		if err := os.MkdirAll(c.File.Dir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("create log dir: %w", err)
		}
		// files never get ANSI codes
		handlers = append(handlers, slog.NewJSONHandler(w, opts))
		closer = w
	}
	if len(handlers) == 1 {
		return slog.New(handlers[0]), closer, nil
	}
	return slog.New(NewMultiHandler(handlers...)), closer, nil
}

func consoleHandler(c Config, w io.Writer, opts *slog.HandlerOptions) slog.Handler {
	switch {
	case strings.EqualFold(c.Format, "json"):
		return slog.NewJSONHandler(w, opts)
	case c.Color:
		return NewColorTextHandler(w, opts, true)
	default:
		return slog.NewTextHandler(w, opts)
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func valOr(v int, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
