// Package logging configures the shared logrus logger for the Covenantrix
// shell and captures engine diagnostics for the UI.
package logging

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

var setupOnce sync.Once

// SetupBaseLogger configures the global logrus logger: timestamped text
// output on stderr, caller reporting enabled, level from the LOG_LEVEL
// environment variable (info when unset or unparsable).
func SetupBaseLogger() {
	setupOnce.Do(func() {
		log.SetFormatter(&log.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
		})
		log.SetReportCaller(true)
		log.SetOutput(os.Stderr)
		log.SetLevel(parseLevel(os.Getenv("LOG_LEVEL")))
	})
}

// EnableFileOutput mirrors shell logs into a rotating file under logDir in
// addition to stderr. Rotation keeps up to five 20MB files.
func EnableFileOutput(logDir string) error {
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return err
	}
	rotator := &lumberjack.Logger{
		Filename:   filepath.Join(logDir, "covenantrix-shell.log"),
		MaxSize:    20,
		MaxBackups: 5,
		Compress:   true,
	}
	log.SetOutput(io.MultiWriter(os.Stderr, rotator))
	return nil
}

// SetLevelFromString applies a new log level at runtime, used by the config
// hot-reload path. Unknown values are ignored.
func SetLevelFromString(level string) {
	if strings.TrimSpace(level) == "" {
		return
	}
	if parsed, err := log.ParseLevel(strings.ToLower(strings.TrimSpace(level))); err == nil {
		log.SetLevel(parsed)
	}
}

func parseLevel(raw string) log.Level {
	parsed, err := log.ParseLevel(strings.ToLower(strings.TrimSpace(raw)))
	if err != nil {
		return log.InfoLevel
	}
	return parsed
}
