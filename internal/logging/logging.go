package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Config describes logger runtime configuration.
type Config struct {
	Level       string `mapstructure:"level"`
	Format      string `mapstructure:"format"`
	TimeFormat  string `mapstructure:"time_format"`
	Caller      bool   `mapstructure:"caller"`
	PrettyPrint bool   `mapstructure:"pretty"`
	File        string `mapstructure:"file"`
}

// NewLogger constructs a zerolog logger from config. The returned closer
// releases the log file when one is configured and is never nil.
func NewLogger(cfg Config) (zerolog.Logger, io.Closer, error) {
	zerolog.TimeFieldFormat = time.RFC3339
	if cfg.TimeFormat != "" {
		zerolog.TimeFieldFormat = cfg.TimeFormat
	}

	level := zerolog.InfoLevel
	if parsed, err := zerolog.ParseLevel(strings.ToLower(cfg.Level)); err == nil && cfg.Level != "" {
		level = parsed
	}

	writer, closer, err := logWriter(cfg, os.Stdout)
	if err != nil {
		return zerolog.Nop(), nopCloser{}, err
	}

	return build(writer, level, cfg.Caller), closer, nil
}

func build(w io.Writer, level zerolog.Level, caller bool) zerolog.Logger {
	builder := zerolog.New(w).Level(level).With().Timestamp()
	if caller {
		builder = builder.Caller()
	}
	return builder.Logger()
}

func logWriter(cfg Config, stdout io.Writer) (io.Writer, io.Closer, error) {
	var console io.Writer = stdout
	if cfg.PrettyPrint || strings.EqualFold(cfg.Format, "console") {
		console = zerolog.ConsoleWriter{
			Out:        stdout,
			TimeFormat: zerolog.TimeFieldFormat,
		}
	}
	if cfg.File == "" {
		return console, nopCloser{}, nil
	}

	// the file always receives JSON lines, whatever the console format
	f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file %s: %w", cfg.File, err)
	}
	return io.MultiWriter(console, f), f, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
