// Package logging configures the process-wide logrus logger and the gin
// request logging middleware.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/eldercircle/eldercircle-billing/internal/config"
	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	defaultLogFile    = "logs/billing.log"
	defaultMaxSizeMB  = 50
	defaultMaxBackups = 5
	defaultMaxAgeDays = 30
)

// Setup applies cfg to the standard logrus logger. The returned closer
// flushes the log file, if one was opened.
func Setup(cfg config.LogConfig) (io.Closer, error) {
	level, errLevel := log.ParseLevel(strings.TrimSpace(cfg.Level))
	if errLevel != nil {
		return nil, fmt.Errorf("logging: %w", errLevel)
	}
	log.SetLevel(level)

	switch strings.ToLower(strings.TrimSpace(cfg.Format)) {
	case "json":
		log.SetFormatter(&log.JSONFormatter{TimestampFormat: "2006-01-02T15:04:05.000Z07:00"})
	case "", "text":
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true, TimestampFormat: "2006-01-02 15:04:05"})
	default:
		return nil, fmt.Errorf("logging: unknown format %q", cfg.Format)
	}

	if !cfg.ToFile {
		log.SetOutput(os.Stdout)
		return nopCloser{}, nil
	}

	writer := newRotatingWriter(cfg)
	if errDir := os.MkdirAll(filepath.Dir(writer.Filename), 0o755); errDir != nil {
		return nil, fmt.Errorf("logging: create log dir: %w", errDir)
	}
	log.SetOutput(io.MultiWriter(os.Stdout, writer))
	return writer, nil
}

func newRotatingWriter(cfg config.LogConfig) *lumberjack.Logger {
	file := strings.TrimSpace(cfg.File)
	if file == "" {
		file = defaultLogFile
	}
	writer := &lumberjack.Logger{
		Filename:   file,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   true,
	}
	if writer.MaxSize <= 0 {
		writer.MaxSize = defaultMaxSizeMB
	}
	if writer.MaxBackups <= 0 {
		writer.MaxBackups = defaultMaxBackups
	}
	if writer.MaxAge <= 0 {
		writer.MaxAge = defaultMaxAgeDays
	}
	return writer
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
