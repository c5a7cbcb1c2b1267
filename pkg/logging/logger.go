package logging

import (
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger is the process wide logger. Packages derive component entries from it.
var Logger = logrus.New()

// Options controls where and how much is logged.
type Options struct {
	// File enables rotated file output in addition to stderr. Empty logs to stderr only.
	File  string
	Level string
	JSON  bool
}

// Init configures Logger. It may be called more than once, e.g. after flags are parsed.
func Init(opts Options) error {
	level := logrus.InfoLevel
	if opts.Level != "" {
		parsed, err := logrus.ParseLevel(opts.Level)
		if err != nil {
			return err
		}
		level = parsed
	}
	Logger.SetLevel(level)

	if opts.JSON {
		Logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		Logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	var out io.Writer = os.Stderr
	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0700); err != nil {
			return err
		}
		out = io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
			Compress:   true,
		})
	}
	Logger.SetOutput(out)
	return nil
}

// Discard silences Logger. Tests use it to keep output clean.
func Discard() {
	Logger.SetOutput(io.Discard)
}
