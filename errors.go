package devhandler

import (
	"errors"
	"fmt"
	"syscall"
)

// Error represents a structured device handler error with context and errno mapping
type Error struct {
	Op     string        // Operation that failed (e.g., "attach", "register")
	Device string        // Device name (empty if not applicable)
	Code   ErrorCode     // High-level error category
	Errno  syscall.Errno // Kernel errno (0 if not applicable)
	Msg    string        // Human-readable message
	Inner  error         // Wrapped error
}

// Error implements the error interface
func (e *Error) Error() string {
	var parts []string

	if e.Op != "" {
		parts = append(parts, fmt.Sprintf("op=%s", e.Op))
	}

	if e.Device != "" {
		parts = append(parts, fmt.Sprintf("dev=%s", e.Device))
	}

	if e.Errno != 0 {
		parts = append(parts, fmt.Sprintf("errno=%d", e.Errno))
	}

	msg := e.Msg
	if msg == "" {
		msg = string(e.Code)
	}
	if e.Inner != nil && e.Msg != e.Inner.Error() {
		msg = fmt.Sprintf("%s: %v", msg, e.Inner)
	}

	if len(parts) > 0 {
		return fmt.Sprintf("devhandler: %s (%s)", msg, joinParts(parts))
	}

	return fmt.Sprintf("devhandler: %s", msg)
}

func joinParts(parts []string) string {
	s := parts[0]
	for _, p := range parts[1:] {
		s += " " + p
	}
	return s
}

// Unwrap returns the wrapped error for errors.Is/As support
func (e *Error) Unwrap() error {
	return e.Inner
}

// Is matches another *Error by code, so the sentinels below work with errors.Is.
func (e *Error) Is(target error) bool {
	if te, ok := target.(*Error); ok {
		return e.Code == te.Code
	}
	return false
}

// ErrorCode represents high-level error categories
type ErrorCode string

const (
	ErrCodeDeviceTypeMismatch        ErrorCode = "device type mismatch"
	ErrCodeAllocationFailure         ErrorCode = "allocation failure"
	ErrCodeTransientCondition        ErrorCode = "transient condition"
	ErrCodeCapacityQueryFailed       ErrorCode = "capacity query failed"
	ErrCodeDeviceParameterSyncFailed ErrorCode = "device parameter sync failed"
	ErrCodeRegistrationFailed        ErrorCode = "registration failed"
	ErrCodeNoHandler                 ErrorCode = "no handler for device type"
	ErrCodeDeviceNotAttached         ErrorCode = "device not attached"
	ErrCodeInvalidParameters         ErrorCode = "invalid parameters"
	ErrCodeTimeout                   ErrorCode = "timeout"
	ErrCodeIOError                   ErrorCode = "I/O error"
)

// Sentinels for errors.Is
var (
	ErrDeviceTypeMismatch        = &Error{Code: ErrCodeDeviceTypeMismatch}
	ErrAllocationFailure         = &Error{Code: ErrCodeAllocationFailure}
	ErrTransientCondition        = &Error{Code: ErrCodeTransientCondition}
	ErrCapacityQueryFailed       = &Error{Code: ErrCodeCapacityQueryFailed}
	ErrDeviceParameterSyncFailed = &Error{Code: ErrCodeDeviceParameterSyncFailed}
	ErrRegistrationFailed        = &Error{Code: ErrCodeRegistrationFailed}
	ErrNoHandler                 = &Error{Code: ErrCodeNoHandler}
	ErrDeviceNotAttached         = &Error{Code: ErrCodeDeviceNotAttached}
	ErrInvalidParameters         = &Error{Code: ErrCodeInvalidParameters}
	ErrTimeout                   = &Error{Code: ErrCodeTimeout}
	ErrIOError                   = &Error{Code: ErrCodeIOError}
)

// Error constructors

// NewError creates a new structured error
func NewError(op string, code ErrorCode, msg string) *Error {
	return &Error{
		Op:   op,
		Code: code,
		Msg:  msg,
	}
}

// NewDeviceError creates a new device-specific error
func NewDeviceError(op, device string, code ErrorCode, msg string) *Error {
	return &Error{
		Op:     op,
		Device: device,
		Code:   code,
		Msg:    msg,
	}
}

// newDeviceErrorf wraps inner with device context and a code.
func newDeviceErrorf(op, device string, code ErrorCode, inner error, format string, args ...any) *Error {
	return &Error{
		Op:     op,
		Device: device,
		Code:   code,
		Msg:    fmt.Sprintf(format, args...),
		Inner:  inner,
	}
}

// WrapError wraps an existing error with handler context
func WrapError(op string, inner error) *Error {
	if inner == nil {
		return nil
	}

	// If it's already a structured error, just update the operation
	var he *Error
	if errors.As(inner, &he) {
		return &Error{
			Op:     op,
			Device: he.Device,
			Code:   he.Code,
			Errno:  he.Errno,
			Msg:    he.Msg,
			Inner:  he.Inner,
		}
	}

	var errno syscall.Errno
	if errors.As(inner, &errno) {
		return &Error{
			Op:    op,
			Code:  mapErrnoToCode(errno),
			Errno: errno,
			Msg:   errno.Error(),
			Inner: inner,
		}
	}

	return &Error{
		Op:    op,
		Code:  ErrCodeIOError,
		Msg:   inner.Error(),
		Inner: inner,
	}
}

// mapErrnoToCode maps syscall errno to handler error codes
func mapErrnoToCode(errno syscall.Errno) ErrorCode {
	switch errno {
	case syscall.ENODEV, syscall.ENXIO:
		return ErrCodeDeviceTypeMismatch
	case syscall.EINVAL, syscall.E2BIG:
		return ErrCodeInvalidParameters
	case syscall.ENOMEM, syscall.ENOSPC:
		return ErrCodeAllocationFailure
	case syscall.ETIMEDOUT:
		return ErrCodeTimeout
	case syscall.EAGAIN:
		return ErrCodeTransientCondition
	default:
		return ErrCodeIOError
	}
}

// IsCode checks if an error matches a specific error code
func IsCode(err error, code ErrorCode) bool {
	var he *Error
	if errors.As(err, &he) {
		return he.Code == code
	}
	return false
}

// IsErrno checks if an error matches a specific errno
func IsErrno(err error, errno syscall.Errno) bool {
	var he *Error
	if errors.As(err, &he) {
		return he.Errno == errno
	}
	return false
}
