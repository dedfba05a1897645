package logging

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	logger = logrus.New()
	once   sync.Once
)

// Options controls Init.
type Options struct {
	Level  string // debug, info, warn, error
	Format string // json or text
	File   string // rotated log file; empty logs to stdout only
}

// Init configures the process logger once. Later calls are no-ops.
func Init(opts Options) *logrus.Logger {
	once.Do(func() {
		lvl, err := logrus.ParseLevel(strings.ToLower(strings.TrimSpace(opts.Level)))
		if err != nil {
			lvl = logrus.InfoLevel
		}
		logger.SetLevel(lvl)

		var out io.Writer = os.Stdout
		if opts.File != "" {
			out = io.MultiWriter(os.Stdout, &lumberjack.Logger{
				Filename:   opts.File,
				MaxSize:    50, // megabytes
				MaxBackups: 3,
				MaxAge:     7, // days
				Compress:   true,
			})
		}
		logger.SetOutput(out)

		prettyCaller := func(f *runtime.Frame) (string, string) {
			parts := strings.Split(f.File, "/")
			return fmt.Sprintf("%s()", f.Function), fmt.Sprintf("%s:%d", parts[len(parts)-1], f.Line)
		}
		if opts.Format == "text" {
			logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, CallerPrettyfier: prettyCaller})
		} else {
			logger.SetFormatter(&logrus.JSONFormatter{CallerPrettyfier: prettyCaller})
		}
		logger.SetReportCaller(true)
	})
	return logger
}

// L returns the process logger.
func L() *logrus.Logger { return logger }

// FromCtx returns an entry carrying the request id of c.
func FromCtx(c *fiber.Ctx) *logrus.Entry {
	return logger.WithField("request_id", RequestID(c))
}

// RequestID reads the id set by fiber's requestid middleware.
func RequestID(c *fiber.Ctx) string {
	if c == nil {
		return ""
	}
	if v, ok := c.Locals("requestid").(string); ok {
		return v
	}
	return c.GetRespHeader(fiber.HeaderXRequestID)
}

// Middleware emits one structured entry per HTTP request.
func Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		if err != nil {
			if fe, ok := err.(*fiber.Error); ok {
				status = fe.Code
			}
		}
		entry := logger.WithFields(logrus.Fields{
			"method":      c.Method(),
			"path":        c.Path(),
			"status":      status,
			"duration_ms": time.Since(start).Milliseconds(),
			"request_id":  RequestID(c),
		})
		if status >= fiber.StatusInternalServerError {
			entry.Warn("http_request")
		} else {
			entry.Info("http_request")
		}
		return err
	}
}
