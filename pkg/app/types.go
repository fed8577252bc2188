package app

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/deploymenttheory/go-mdraid/internal/types"
)

// ArrayTarget names the array a command operates on
type ArrayTarget struct {
	Minor int
}

// ParseArrayTarget accepts "md3", "/dev/md3" or "3"
func ParseArrayTarget(s string) (ArrayTarget, error) {
	name := strings.TrimPrefix(strings.TrimSpace(s), "/dev/")
	name = strings.TrimPrefix(name, "md")
	minor, err := strconv.Atoi(name)
	if err != nil || minor < 0 {
		return ArrayTarget{}, NewError(ErrCodeInvalidInput, fmt.Sprintf("invalid array name %q", s), err)
	}
	return ArrayTarget{Minor: minor}, nil
}

// String returns the device name of the target
func (t ArrayTarget) String() string {
	return fmt.Sprintf("md%d", t.Minor)
}

// ProgressUpdate represents resync progress of one array
type ProgressUpdate struct {
	Message     string
	Completed   int64
	Total       int64
	StartedAt   time.Time
	ElapsedTime time.Duration
}

// Percent calculates completion percentage
func (p *ProgressUpdate) Percent() int {
	if p.Total == 0 {
		return 0
	}
	return int((p.Completed * 100) / p.Total)
}

// Rate calculates blocks per second
func (p *ProgressUpdate) Rate() float64 {
	if p.ElapsedTime == 0 {
		return 0
	}
	return float64(p.Completed) / p.ElapsedTime.Seconds()
}

// ETA estimates time to completion
func (p *ProgressUpdate) ETA() time.Duration {
	if p.Completed == 0 || p.Total == 0 {
		return 0
	}
	rate := p.Rate()
	if rate == 0 {
		return 0
	}
	remaining := p.Total - p.Completed
	return time.Duration(float64(remaining)/rate) * time.Second
}

// CommonError represents application-level errors
type CommonError struct {
	Code    string
	Message string
	Cause   error
}

func (e *CommonError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *CommonError) Unwrap() error {
	return e.Cause
}

// Common error codes
const (
	ErrCodeInvalidInput   = "INVALID_INPUT"
	ErrCodeDeviceAccess   = "DEVICE_ACCESS"
	ErrCodeArrayNotFound  = "ARRAY_NOT_FOUND"
	ErrCodeBusy           = "BUSY"
	ErrCodeFatal          = "FATAL"
	ErrCodeInternal       = "INTERNAL"
	ErrCodeIO             = "IO"
	ErrCodeTimeout        = "TIMEOUT"
	ErrCodeNotImplemented = "NOT_IMPLEMENTED"
)

// NewError creates a new CommonError
func NewError(code, message string, cause error) *CommonError {
	return &CommonError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// FromError wraps err in a CommonError whose code follows the error's
// classification. Errors that already are a CommonError pass through.
func FromError(message string, err error) error {
	if err == nil {
		return nil
	}
	var ce *CommonError
	if errors.As(err, &ce) {
		return err
	}
	return NewError(CodeOf(err), message, err)
}

// CodeOf maps an error to its application error code
func CodeOf(err error) string {
	var ce *CommonError
	switch {
	case errors.As(err, &ce):
		return ce.Code
	case errors.Is(err, types.ErrArrayNotFound):
		return ErrCodeArrayNotFound
	case errors.Is(err, types.ErrBusy), errors.Is(err, types.ErrDeviceLocked):
		return ErrCodeBusy
	case errors.Is(err, types.ErrNotSupported):
		return ErrCodeNotImplemented
	case errors.Is(err, types.ErrDeviceNotFound):
		return ErrCodeDeviceAccess
	}

	switch types.KindOf(err) {
	case types.KindFatal:
		return ErrCodeFatal
	case types.KindBug:
		return ErrCodeInternal
	case types.KindUser:
		return ErrCodeInvalidInput
	case types.KindTransient:
		return ErrCodeIO
	}
	if errors.Is(err, types.ErrIO) {
		return ErrCodeIO
	}
	return ErrCodeDeviceAccess
}
