// Package errs defines the structured error taxonomy shared by every
// package in this module. Every operation that can fail
// returns an *Error carrying a Kind and, where applicable, a wrapped
// cause, so callers can branch on failure class without parsing
// strings.
package errs

import (
	"fmt"

	"github.com/gravitational/trace"
)

// Kind discriminates the class of failure. The set is fixed by the
// PIV/box error taxonomy; it is not meant to grow ad hoc.
type Kind int

const (
	KindUnknown Kind = iota
	KindPCSC
	KindPCSCContext
	KindIO
	KindAPDU
	KindPIVTag
	KindInvalidData
	KindPermission
	KindMinRetries
	KindNotFound
	KindDuplicate
	KindNotSupported
	KindLength
	KindBadAlgorithm
	KindCertFlag
	KindDecompression
	KindDeviceOutOfMemory
	KindResetConditions
	KindExtensionMissing
	KindExtensionInvalid
	KindBoxSealed
	KindPadding
	KindMagic
	KindVersion
	KindCurve
	KindKeyAuth
	KindKeysNotEqual
	KindArgument
)

var kindNames = map[Kind]string{
	KindUnknown:           "Unknown",
	KindPCSC:              "PCSCError",
	KindPCSCContext:       "PCSCContextError",
	KindIO:                "IOError",
	KindAPDU:              "APDUError",
	KindPIVTag:            "PIVTagError",
	KindInvalidData:       "InvalidDataError",
	KindPermission:        "PermissionError",
	KindMinRetries:        "MinRetriesError",
	KindNotFound:          "NotFoundError",
	KindDuplicate:         "DuplicateError",
	KindNotSupported:      "NotSupportedError",
	KindLength:            "LengthError",
	KindBadAlgorithm:      "BadAlgorithmError",
	KindCertFlag:          "CertFlagError",
	KindDecompression:     "DecompressionError",
	KindDeviceOutOfMemory: "DeviceOutOfMemoryError",
	KindResetConditions:   "ResetConditionsError",
	KindExtensionMissing:  "ExtensionMissing",
	KindExtensionInvalid:  "ExtensionInvalid",
	KindBoxSealed:         "BoxSealed",
	KindPadding:           "PaddingError",
	KindMagic:             "MagicError",
	KindVersion:           "VersionError",
	KindCurve:             "CurveError",
	KindKeyAuth:           "KeyAuthError",
	KindKeysNotEqual:      "KeysNotEqualError",
	KindArgument:          "ArgumentError",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "Unknown"
}

// Error is the structured error value returned by this module. It
// always carries a Kind and, like an ordinary fmt.Errorf("...: %w")
// chain, may wrap an underlying cause.
type Error struct {
	Kind  Kind
	msg   string
	cause error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.msg, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.msg)
}

// Unwrap exposes the cause chain to errors.Is/errors.As.
func (e *Error) Unwrap() error { return e.cause }

// New creates an *Error of the given kind with no cause.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, msg: fmt.Sprintf(format, args...)}
}

// Wrap creates an *Error of the given kind, wrapping cause with a
// stack-carrying trace.Wrap so the original call site survives in the
// cause chain.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	if cause == nil {
		return New(kind, format, args...)
	}
	return &Error{Kind: kind, msg: fmt.Sprintf(format, args...), cause: trace.Wrap(cause)}
}

// CausedBy reports whether err, or any error in its cause chain, is an
// *Error of the given kind.
func CausedBy(err error, kind Kind) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			if e.Kind == kind {
				return true
			}
			err = e.cause
			continue
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = unwrapper.Unwrap()
	}
	return false
}

// Is reports whether err carries the given Kind at its outermost
// level; unlike CausedBy it does not walk the chain.
func Is(err error, kind Kind) bool {
	e, ok := err.(*Error)
	return ok && e.Kind == kind
}
