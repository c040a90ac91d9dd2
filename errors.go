package t4api

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

var (
	// ErrBusy means the adapter or a filter slot is contended. Retry later.
	ErrBusy = errors.New("busy")
	// ErrCancelled means a wait was interrupted. The operation it was
	// waiting for is unresolved; poll later.
	ErrCancelled = errors.New("wait cancelled, operation still in progress")
	// ErrDeviceGone means the sub-interface has been doomed.
	ErrDeviceGone = errors.New("device gone")
	// ErrModeMismatch means a filter uses a field the active filter mode
	// does not expose.
	ErrModeMismatch = errors.New("filter specification does not fit the filter mode")
	ErrInvalidSpec  = errors.New("invalid argument")
	ErrPermission   = errors.New("filter is locked")
	ErrInUse        = errors.New("filters in use")
	ErrNotSupported = errors.New("not supported")
	// ErrResourceExhausted means a fixed hardware resource ran out.
	ErrResourceExhausted = errors.New("resource exhausted")
	// ErrNoUsableVectorKind is returned when no interrupt vector kind can be
	// granted even at maximum degradation.
	ErrNoUsableVectorKind = fmt.Errorf("no usable interrupt vector kind: %w", ErrResourceExhausted)
)

// FirmwareError is the negative outcome of an asynchronous filter command.
type FirmwareError struct {
	Idx  uint32
	Op   FilterOp
	Code ReplyCode
}

func (e *FirmwareError) Error() string {
	return fmt.Sprintf("filter %d %s failed with firmware error %d", e.Idx, e.Op, e.Code)
}

// Errno maps an error from this module to the errno a kernel driver would
// report for it. It returns 0 for nil and EIO for anything unknown.
func Errno(err error) unix.Errno {
	var fwErr *FirmwareError
	switch {
	case err == nil:
		return 0
	case errors.Is(err, ErrCancelled):
		return unix.EINPROGRESS
	case errors.Is(err, ErrBusy), errors.Is(err, ErrInUse):
		return unix.EBUSY
	case errors.Is(err, ErrDeviceGone), errors.Is(err, ErrNoUsableVectorKind):
		return unix.ENXIO
	case errors.Is(err, ErrModeMismatch):
		return unix.E2BIG
	case errors.Is(err, ErrInvalidSpec):
		return unix.EINVAL
	case errors.Is(err, ErrPermission):
		return unix.EPERM
	case errors.Is(err, ErrResourceExhausted):
		return unix.EAGAIN
	case errors.Is(err, ErrNotSupported):
		return unix.EOPNOTSUPP
	case errors.As(err, &fwErr):
		return unix.EIO
	}
	return unix.EIO
}
