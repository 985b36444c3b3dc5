package devhandler

import (
	"errors"
	"fmt"
	"syscall"
	"testing"
)

func TestStructuredError(t *testing.T) {
	err := NewDeviceError("attach", "sr0", ErrCodeDeviceTypeMismatch, "expected type cdrom, got disk")

	if err.Op != "attach" {
		t.Errorf("Expected Op=attach, got %s", err.Op)
	}

	if err.Code != ErrCodeDeviceTypeMismatch {
		t.Errorf("Expected Code=ErrCodeDeviceTypeMismatch, got %s", err.Code)
	}

	expected := "devhandler: expected type cdrom, got disk (op=attach dev=sr0)"
	if err.Error() != expected {
		t.Errorf("Expected error message %q, got %q", expected, err.Error())
	}
}

func TestErrorIncludesCause(t *testing.T) {
	cause := errors.New("mode sense rejected")
	err := newDeviceErrorf("attach", "sr0", ErrCodeDeviceParameterSyncFailed, cause, "parameter sync failed")

	expected := "devhandler: parameter sync failed: mode sense rejected (op=attach dev=sr0)"
	if err.Error() != expected {
		t.Errorf("Expected error message %q, got %q", expected, err.Error())
	}
	if !errors.Is(err, cause) {
		t.Error("Expected errors.Is to reach the cause")
	}
}

func TestWrapError(t *testing.T) {
	inner := syscall.ENOMEM
	err := WrapError("attach", inner)

	if err.Code != ErrCodeAllocationFailure {
		t.Errorf("Expected Code=ErrCodeAllocationFailure, got %s", err.Code)
	}

	if err.Errno != syscall.ENOMEM {
		t.Errorf("Expected Errno=ENOMEM, got %v", err.Errno)
	}

	if !errors.Is(err, syscall.ENOMEM) {
		t.Error("Expected wrapped error to satisfy errors.Is for ENOMEM")
	}
}

func TestWrapErrorKeepsStructuredCode(t *testing.T) {
	inner := fmt.Errorf("registry: %w", NewError("register", ErrCodeRegistrationFailed, "duplicate handler dev_cdrom"))
	err := WrapError("start", inner)

	if err.Op != "start" {
		t.Errorf("Expected Op=start, got %s", err.Op)
	}
	if err.Code != ErrCodeRegistrationFailed {
		t.Errorf("Expected Code=ErrCodeRegistrationFailed, got %s", err.Code)
	}
	if WrapError("noop", nil) != nil {
		t.Error("WrapError(nil) should return nil")
	}
}

func TestSentinelErrors(t *testing.T) {
	var sentinelErr error = ErrDeviceParameterSyncFailed

	structuredErr := &Error{Code: ErrCodeDeviceParameterSyncFailed, Device: "sr0"}
	if !errors.Is(structuredErr, ErrDeviceParameterSyncFailed) {
		t.Error("Structured error should match sentinel via errors.Is")
	}
	if errors.Is(structuredErr, ErrAllocationFailure) {
		t.Error("Structured error should not match a different sentinel")
	}

	if sentinelErr.Error() != "devhandler: device parameter sync failed" {
		t.Errorf("Expected sentinel error message, got %q", sentinelErr.Error())
	}

	wrappedErr := fmt.Errorf("target: %w", WrapError("TEST_OP", syscall.ETIMEDOUT))
	if !errors.Is(wrappedErr, ErrTimeout) {
		t.Error("Wrapped ETIMEDOUT should match ErrTimeout")
	}
}

func TestIsCode(t *testing.T) {
	err := NewError("TEST", ErrCodeTimeout, "operation timed out")

	if !IsCode(err, ErrCodeTimeout) {
		t.Error("IsCode should return true for matching code")
	}

	if IsCode(err, ErrCodeIOError) {
		t.Error("IsCode should return false for non-matching code")
	}

	if IsCode(nil, ErrCodeTimeout) {
		t.Error("IsCode should return false for nil error")
	}
}

func TestIsErrno(t *testing.T) {
	err := WrapError("TEST", syscall.EIO)

	if !IsErrno(err, syscall.EIO) {
		t.Error("IsErrno should return true for matching errno")
	}

	if IsErrno(err, syscall.EPERM) {
		t.Error("IsErrno should return false for non-matching errno")
	}

	if IsErrno(nil, syscall.EIO) {
		t.Error("IsErrno should return false for nil error")
	}
}

func TestErrnoMapping(t *testing.T) {
	testCases := []struct {
		errno    syscall.Errno
		expected ErrorCode
	}{
		{syscall.ENODEV, ErrCodeDeviceTypeMismatch},
		{syscall.EINVAL, ErrCodeInvalidParameters},
		{syscall.ENOMEM, ErrCodeAllocationFailure},
		{syscall.ETIMEDOUT, ErrCodeTimeout},
		{syscall.EAGAIN, ErrCodeTransientCondition},
		{syscall.EIO, ErrCodeIOError},
	}

	for _, tc := range testCases {
		code := mapErrnoToCode(tc.errno)
		if code != tc.expected {
			t.Errorf("mapErrnoToCode(%v) = %s, want %s", tc.errno, code, tc.expected)
		}
	}
}
