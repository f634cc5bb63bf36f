package logger

import (
	"fmt"
	"io"
	"os"
	"sync"

	log "github.com/sirupsen/logrus"

	"model-registrar/internal/config"
)

// Init configures the package-level logrus logger: console output at the
// configured level and, when cfg.ErrorFile is set, an append-only file that
// receives error-and-above entries. The returned closer releases the file.
func Init(cfg config.LoggerConfig) (io.Closer, error) {
	level, err := log.ParseLevel(cfg.Level)
	if err != nil {
		level = log.DebugLevel
	}
	log.SetLevel(level)
	log.SetOutput(os.Stderr)

	formatter := newFormatter(cfg.Format)
	log.SetFormatter(formatter)

	if cfg.ErrorFile == "" {
		return io.NopCloser(nil), nil
	}

	f, err := os.OpenFile(cfg.ErrorFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open error log: %w", err)
	}
	log.AddHook(NewErrorFileHook(f, formatter))
	return f, nil
}

func newFormatter(format string) log.Formatter {
	if format == "json" {
		return &log.JSONFormatter{}
	}
	return &log.TextFormatter{FullTimestamp: true}
}

// ErrorFileHook copies error, fatal and panic entries to w.
type ErrorFileHook struct {
	mu        sync.Mutex
	w         io.Writer
	formatter log.Formatter
}

func NewErrorFileHook(w io.Writer, formatter log.Formatter) *ErrorFileHook {
	return &ErrorFileHook{w: w, formatter: formatter}
}

func (h *ErrorFileHook) Levels() []log.Level {
	return []log.Level{log.PanicLevel, log.FatalLevel, log.ErrorLevel}
}

func (h *ErrorFileHook) Fire(entry *log.Entry) error {
	line, err := h.formatter.Format(entry)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err = h.w.Write(line)
	return err
}
