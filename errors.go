package ringlb

import (
	"errors"
	"fmt"
	"syscall"
)

// Error represents a structured load balancer error with context and errno
// mapping
type Error struct {
	Op       string        // Operation that failed (e.g., "ACCEPT", "CONNECT")
	Server   string        // Server name ("" if not applicable)
	BridgeID int           // Bridge id (-1 if not applicable)
	Code     ErrorCode     // High-level error category
	Errno    syscall.Errno // Kernel errno (0 if not applicable)
	Msg      string        // Human-readable message
	Inner    error         // Wrapped error
}

// Error implements the error interface
func (e *Error) Error() string {
	var parts []string

	if e.Op != "" {
		parts = append(parts, fmt.Sprintf("op=%s", e.Op))
	}

	if e.Server != "" {
		parts = append(parts, fmt.Sprintf("server=%s", e.Server))
	}

	if e.BridgeID >= 0 {
		parts = append(parts, fmt.Sprintf("bridge=%d", e.BridgeID))
	}

	if e.Errno != 0 {
		parts = append(parts, fmt.Sprintf("errno=%d", e.Errno))
	}

	msg := e.Msg
	if msg == "" {
		msg = string(e.Code)
	}

	if len(parts) > 0 {
		return fmt.Sprintf("ringlb: %s (%s)", msg, parts[0])
	}

	return fmt.Sprintf("ringlb: %s", msg)
}

// Unwrap returns the wrapped error for errors.Is/As support
func (e *Error) Unwrap() error {
	return e.Inner
}

// Is provides errors.Is support for code comparison
func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}

	if te, ok := target.(*Error); ok {
		return e.Code == te.Code
	}

	return false
}

// ErrorCode represents the high-level error categories of the worker's
// taxonomy: fatal errors abort the worker, bridge errors tear down one
// connection, transient errors are retried, ignored errors are logged
// only.
type ErrorCode string

const (
	ErrCodeFatal          ErrorCode = "fatal"
	ErrCodeBridgeTeardown ErrorCode = "bridge teardown"
	ErrCodeTransient      ErrorCode = "transient"
	ErrCodeIgnored        ErrorCode = "ignored"

	ErrCodeNotImplemented ErrorCode = "not implemented"
	ErrCodeBadConfig      ErrorCode = "invalid configuration"
)

// Error constructors

// NewError creates a new structured error
func NewError(op string, code ErrorCode, msg string) *Error {
	return &Error{
		Op:       op,
		BridgeID: -1,
		Code:     code,
		Msg:      msg,
	}
}

// NewErrorWithErrno creates a new structured error with errno
func NewErrorWithErrno(op string, code ErrorCode, errno syscall.Errno) *Error {
	return &Error{
		Op:       op,
		BridgeID: -1,
		Code:     code,
		Errno:    errno,
		Msg:      errno.Error(),
	}
}

// NewBridgeError creates a new bridge-scoped error
func NewBridgeError(op string, bridgeID int, code ErrorCode, msg string) *Error {
	return &Error{
		Op:       op,
		BridgeID: bridgeID,
		Code:     code,
		Msg:      msg,
	}
}

// WrapError wraps an existing error with load balancer context
func WrapError(op string, inner error) *Error {
	if inner == nil {
		return nil
	}

	// If it's already a structured error, just update the operation
	if le, ok := inner.(*Error); ok {
		return &Error{
			Op:       op,
			Server:   le.Server,
			BridgeID: le.BridgeID,
			Code:     le.Code,
			Errno:    le.Errno,
			Msg:      le.Msg,
			Inner:    le.Inner,
		}
	}

	var errno syscall.Errno
	if errors.As(inner, &errno) {
		return &Error{
			Op:       op,
			BridgeID: -1,
			Code:     mapErrnoToCode(errno),
			Errno:    errno,
			Msg:      errno.Error(),
			Inner:    inner,
		}
	}

	return &Error{
		Op:       op,
		BridgeID: -1,
		Code:     ErrCodeFatal,
		Msg:      inner.Error(),
		Inner:    inner,
	}
}

// mapErrnoToCode classifies a kernel errno: the accept path's short
// survivable list is transient, its short non-recoverable list is fatal,
// a list of per-connection socket errnos tears down one bridge, and
// everything unknown is treated as fatal rather than retried.
func mapErrnoToCode(errno syscall.Errno) ErrorCode {
	switch errno {
	case syscall.ECONNABORTED, syscall.EPERM, syscall.EINTR, syscall.EPROTO:
		return ErrCodeTransient
	case syscall.ENOTSOCK, syscall.EBADF, syscall.EFAULT, syscall.EINVAL,
		syscall.EMFILE, syscall.ENFILE, syscall.EOPNOTSUPP:
		return ErrCodeFatal
	case syscall.ECONNREFUSED, syscall.ECONNRESET, syscall.EPIPE,
		syscall.ETIMEDOUT, syscall.EHOSTUNREACH, syscall.ENETUNREACH,
		syscall.ENOBUFS:
		return ErrCodeBridgeTeardown
	default:
		return ErrCodeFatal
	}
}

// IsCode checks if an error matches a specific error code
func IsCode(err error, code ErrorCode) bool {
	var lbErr *Error
	if errors.As(err, &lbErr) {
		return lbErr.Code == code
	}
	return false
}

// IsErrno checks if an error matches a specific errno
func IsErrno(err error, errno syscall.Errno) bool {
	var lbErr *Error
	if errors.As(err, &lbErr) {
		return lbErr.Errno == errno
	}
	return false
}
