package core

import (
	"github.com/cockroachdb/errors"
)

// Capacity errors. These signal a misconfigured fixed-size limit and are fatal
// to the frame that hit them.
var (
	ErrCommandListsExhausted   = errors.New("command list pool exhausted")
	ErrLinearAllocatorOverflow = errors.New("linear allocator capacity exceeded")
	ErrQueryPoolExhausted      = errors.New("query pool exhausted")
	ErrDescriptorPoolExhausted = errors.New("descriptor pool exhausted")
)

// Misuse errors. Programmer errors surfaced synchronously to the caller.
var (
	ErrDoubleFree           = errors.New("object already queued for destruction")
	ErrInvalidHandle        = errors.New("invalid handle")
	ErrUnsupportedKind      = errors.New("no release strategy for object kind")
	ErrCommandListNotActive = errors.New("command list is not active")
	ErrSlotOutOfRange       = errors.New("binding slot out of range")
	ErrInvalidAlignment     = errors.New("alignment must be a power of two")
	ErrInvalidConfig        = errors.New("invalid configuration")
	ErrDeviceClosed         = errors.New("device is shut down")
)

// Fatal errors. The device must be torn down and recreated.
var (
	ErrDeviceLost    = errors.New("device lost")
	ErrFenceTimeout  = errors.New("fence wait timed out")
	ErrReleaseFailed = errors.New("releasing gpu object failed")
)

// ErrNotImplemented is returned by backends for optional operations they do
// not support.
var ErrNotImplemented = errors.New("not implemented by backend")

// statusError carries a sentinel status next to the failure that caused it.
// Both are reachable through Unwrap, so errors.Is matches either.
type statusError struct {
	status error
	cause  error
}

func (e *statusError) Error() string   { return e.status.Error() + ": " + e.cause.Error() }
func (e *statusError) Unwrap() []error { return []error{e.status, e.cause} }

// WithStatus tags err with the sentinel status. It returns err unchanged when
// it is nil or already carries status.
func WithStatus(err, status error) error {
	if err == nil || errors.Is(err, status) {
		return err
	}
	return errors.WithStackDepth(&statusError{status: status, cause: err}, 1)
}

// IsFatal reports whether err requires a full device reset.
func IsFatal(err error) bool {
	return errors.IsAny(err, ErrDeviceLost, ErrFenceTimeout, ErrReleaseFailed)
}
