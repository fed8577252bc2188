package types

import (
	"errors"
	"fmt"
)

// Distinguishable failure conditions. Callers match them with errors.Is.
var (
	ErrBadMagic           = errors.New("bad superblock magic")
	ErrChecksumMismatch   = errors.New("superblock checksum mismatch")
	ErrAlreadyImported    = errors.New("device already imported")
	ErrZeroSize           = errors.New("device has zero size")
	ErrNoSuperblock       = errors.New("device has no valid superblock")
	ErrBug                = errors.New("internal invariant violated")
	ErrUnsupportedVersion = errors.New("unsupported superblock version")
	ErrUUIDMismatch       = errors.New("set uuid mismatch")
	ErrSuperblockMismatch = errors.New("same set uuid but different superblock")
	ErrInvalidSize        = errors.New("invalid device size")
	ErrInvalidChunkSize   = errors.New("invalid chunk size")
	ErrBusy               = errors.New("device or array busy")
	ErrInterrupted        = errors.New("operation interrupted")
	ErrNotRunning         = errors.New("array not running")
	ErrAlreadyRunning     = errors.New("array already running")
	ErrNoDevices          = errors.New("array has no devices")
	ErrUnsupportedLevel   = errors.New("unsupported raid level")
	ErrDeviceNotFound     = errors.New("device not found")
	ErrArrayNotFound      = errors.New("array not found")
	ErrArrayExists        = errors.New("array already exists")
	ErrNoFreeSlot         = errors.New("no free descriptor slot")
	ErrHasSuperblock      = errors.New("array already has a superblock")
	ErrNoArraySuperblock  = errors.New("array has no superblock")
	ErrNotSupported       = errors.New("operation not supported by personality")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrIO                 = errors.New("i/o error")
	ErrDeviceLocked       = errors.New("device is locked by another user")
)

// ErrorKind classifies a failure by how a caller should react to it.
type ErrorKind int

const (
	// KindUnknown is reported for errors that carry no classification.
	KindUnknown ErrorKind = iota
	// KindFatal aborts the operation; the array cannot reach Running.
	KindFatal
	// KindBug is an invariant violation that should be unreachable.
	KindBug
	// KindUser means caller-supplied data was rejected.
	KindUser
	// KindTransient may succeed when retried.
	KindTransient
)

func (k ErrorKind) String() string {
	switch k {
	case KindFatal:
		return "fatal"
	case KindBug:
		return "bug"
	case KindUser:
		return "user"
	case KindTransient:
		return "transient"
	default:
		return "unknown"
	}
}

// MDError is a classified failure of an array operation.
type MDError struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *MDError) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *MDError) Unwrap() error { return e.Err }

// Fatal classifies err as fatal to op.
func Fatal(op string, err error) error { return &MDError{Kind: KindFatal, Op: op, Err: err} }

// Bug classifies err as an invariant violation detected by op.
func Bug(op string, err error) error { return &MDError{Kind: KindBug, Op: op, Err: err} }

// UserError classifies err as a rejection of caller-supplied data.
func UserError(op string, err error) error { return &MDError{Kind: KindUser, Op: op, Err: err} }

// Transient classifies err as retryable.
func Transient(op string, err error) error { return &MDError{Kind: KindTransient, Op: op, Err: err} }

// KindOf returns the classification of the outermost MDError in err's chain.
func KindOf(err error) ErrorKind {
	var mdErr *MDError
	if errors.As(err, &mdErr) {
		return mdErr.Kind
	}
	return KindUnknown
}
