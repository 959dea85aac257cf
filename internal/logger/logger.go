package logger

import (
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures the process logger.
type Options struct {
	Level  string
	Pretty bool
	File   string // rotated log file; empty disables file output
}

// New builds a timestamped logger writing to stderr and, when File is set,
// to a rotating log file. Unknown levels fall back to info.
func New(opts Options) zerolog.Logger {
	return NewWithWriter(os.Stderr, opts)
}

// NewWithWriter is New with a custom console writer.
func NewWithWriter(console io.Writer, opts Options) zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	if opts.Pretty {
		console = zerolog.ConsoleWriter{Out: console, TimeFormat: "15:04:05"}
	}
	out := console
	if opts.File != "" {
		_ = os.MkdirAll(filepath.Dir(opts.File), 0o755)
		out = zerolog.MultiLevelWriter(console, &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    100, // MB
			MaxBackups: 30,
			MaxAge:     90, // days
		})
	}

	level, err := zerolog.ParseLevel(opts.Level)
	if err != nil || opts.Level == "" {
		level = zerolog.InfoLevel
	}

	return zerolog.New(out).
		With().
		Timestamp().
		Logger().
		Level(level)
}
