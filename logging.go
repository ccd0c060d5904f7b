package ringlb

import (
	"log/slog"

	"github.com/saiintbrisson/ringlb/internal/logging"
)

// StructuredLogger is the project's slog-backed logger. It satisfies the
// Logger interface workers accept.
type StructuredLogger = logging.Logger

// NewStructuredLogger wraps an existing slog logger.
func NewStructuredLogger(l *slog.Logger) *StructuredLogger {
	return logging.FromSlog(l)
}

// DefaultLogger returns the process-wide default logger.
func DefaultLogger() *StructuredLogger {
	return logging.Default()
}
