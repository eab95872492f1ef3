package rope

import (
	"syscall"

	"github.com/pkg/errors"
)

// Kind enumerates the flat error taxonomy the core can return to callers.
// It unifies OS errors and URI-loader errors into one vocabulary so a
// caller never has to switch on the origin of a failure.
type Kind int

const (
	// KindUnexpected is the residual bucket for anything not otherwise
	// classified.
	KindUnexpected Kind = iota
	KindOutOfMemory
	KindOutOfBounds
	KindBufferFrozen
	KindMultipleHardLinks
	KindFileNotFound
	KindIsDir
	KindNameTooLong
	KindBadPathName
	KindSymLinkLoop
	KindLinkQuotaExceeded
	KindNoSpaceLeft
	KindAccessDenied
	KindFileNotMounted
	KindConnectionTimedOut
	KindDeviceBusy
	KindUnknownHostName
	KindFdQuotaExceeded
	KindNetworkUnreachable
	KindConnectionRefused
	KindConnectionResetByPeer
	KindNoDevice
	KindDbusFailure
	KindTlsInitializationFailed
	KindTemporaryNameServerFailure
	KindNameServerFailure
)

func (k Kind) String() string {
	switch k {
	case KindOutOfMemory:
		return "OutOfMemory"
	case KindOutOfBounds:
		return "OutOfBounds"
	case KindBufferFrozen:
		return "BufferFrozen"
	case KindMultipleHardLinks:
		return "MultipleHardLinks"
	case KindFileNotFound:
		return "FileNotFound"
	case KindIsDir:
		return "IsDir"
	case KindNameTooLong:
		return "NameTooLong"
	case KindBadPathName:
		return "BadPathName"
	case KindSymLinkLoop:
		return "SymLinkLoop"
	case KindLinkQuotaExceeded:
		return "LinkQuotaExceeded"
	case KindNoSpaceLeft:
		return "NoSpaceLeft"
	case KindAccessDenied:
		return "AccessDenied"
	case KindFileNotMounted:
		return "FileNotMounted"
	case KindConnectionTimedOut:
		return "ConnectionTimedOut"
	case KindDeviceBusy:
		return "DeviceBusy"
	case KindUnknownHostName:
		return "UnknownHostName"
	case KindFdQuotaExceeded:
		return "FdQuotaExceeded"
	case KindNetworkUnreachable:
		return "NetworkUnreachable"
	case KindConnectionRefused:
		return "ConnectionRefused"
	case KindConnectionResetByPeer:
		return "ConnectionResetByPeer"
	case KindNoDevice:
		return "NoDevice"
	case KindDbusFailure:
		return "DbusFailure"
	case KindTlsInitializationFailed:
		return "TlsInitializationFailed"
	case KindTemporaryNameServerFailure:
		return "TemporaryNameServerFailure"
	case KindNameServerFailure:
		return "NameServerFailure"
	default:
		return "Unexpected"
	}
}

// Error is the core's error type: a Kind plus the wrapped cause, so
// callers can branch on Kind while logs still see the original error.
type Error struct {
	Kind    Kind
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.cause != nil {
		return e.Kind.String() + ": " + e.cause.Error()
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error { return e.cause }

// Cause returns the underlying error, for callers still using the
// github.com/pkg/errors Cause convention.
func (e *Error) Cause() error { return e.cause }

// newError builds a *Error wrapping cause with github.com/pkg/errors so a
// stack trace is attached the first time the error is created.
func newError(kind Kind, cause error) *Error {
	if cause != nil {
		cause = errors.WithStack(cause)
	}
	return &Error{Kind: kind, cause: cause}
}

func newErrorf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, cause: errors.Errorf(format, args...)}
}

// IsKind reports whether err (or something it wraps) is a *Error of kind k.
func IsKind(err error, k Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == k
	}
	return false
}

// translateErrno maps a syscall errno surfaced by open/save into the
// core's taxonomy. Anything unrecognized becomes KindUnexpected.
func translateErrno(err error) *Error {
	if err == nil {
		return nil
	}
	var errno syscall.Errno
	if !errors.As(err, &errno) {
		return newError(KindUnexpected, err)
	}
	switch errno {
	case syscall.ENOENT:
		return newError(KindFileNotFound, err)
	case syscall.EISDIR:
		return newError(KindIsDir, err)
	case syscall.ENAMETOOLONG:
		return newError(KindNameTooLong, err)
	case syscall.EINVAL:
		return newError(KindBadPathName, err)
	case syscall.ELOOP:
		return newError(KindSymLinkLoop, err)
	case syscall.EMLINK:
		return newError(KindLinkQuotaExceeded, err)
	case syscall.ENOSPC:
		return newError(KindNoSpaceLeft, err)
	case syscall.EACCES, syscall.EPERM:
		return newError(KindAccessDenied, err)
	case syscall.ENODEV:
		return newError(KindNoDevice, err)
	case syscall.ENXIO:
		return newError(KindFileNotMounted, err)
	case syscall.ETIMEDOUT:
		return newError(KindConnectionTimedOut, err)
	case syscall.EBUSY:
		return newError(KindDeviceBusy, err)
	case syscall.EMFILE, syscall.ENFILE:
		return newError(KindFdQuotaExceeded, err)
	case syscall.ENETUNREACH:
		return newError(KindNetworkUnreachable, err)
	case syscall.ECONNREFUSED:
		return newError(KindConnectionRefused, err)
	case syscall.ECONNRESET:
		return newError(KindConnectionResetByPeer, err)
	default:
		return newError(KindUnexpected, err)
	}
}

// URILoaderError is the structured error shape a URILoader is expected to
// return; Translate maps its (domain, code) pair onto the core taxonomy
// the same way translateErrno maps syscall.Errno.
type URILoaderError struct {
	Domain  string
	Code    string
	Message string
}

func (e *URILoaderError) Error() string { return e.Domain + "/" + e.Code + ": " + e.Message }

// translateURILoaderError maps known (domain, code) pairs to the flat
// taxonomy. Unknown pairs fall through to KindUnexpected.
func translateURILoaderError(err error) *Error {
	var le *URILoaderError
	if !errors.As(err, &le) {
		return newError(KindUnexpected, err)
	}
	switch le.Code {
	case "dbus-failure":
		return newError(KindDbusFailure, le)
	case "tls-init-failed":
		return newError(KindTlsInitializationFailed, le)
	case "nameserver-temp-failure":
		return newError(KindTemporaryNameServerFailure, le)
	case "nameserver-failure":
		return newError(KindNameServerFailure, le)
	case "unknown-host":
		return newError(KindUnknownHostName, le)
	case "not-found":
		return newError(KindFileNotFound, le)
	case "access-denied":
		return newError(KindAccessDenied, le)
	default:
		return newError(KindUnexpected, le)
	}
}

// Translate unifies OS and URI-loader errors into the core taxonomy. It is
// the single entry point open/save use before returning an error to a
// caller.
func Translate(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	var le *URILoaderError
	if errors.As(err, &le) {
		return translateURILoaderError(err)
	}
	return translateErrno(err)
}

var (
	// ErrOutOfBounds is returned by Read/Insert/Delete/Copy/Iter when an
	// offset or range exceeds the buffer's length.
	ErrOutOfBounds = newErrorf(KindOutOfBounds, "offset or range out of bounds")
	// ErrBufferFrozen is returned by Insert/Delete/Copy on a frozen buffer.
	ErrBufferFrozen = newErrorf(KindBufferFrozen, "buffer is frozen")
	// ErrMultipleHardLinks is returned by Save when the destination has
	// more than one hard link and is also mmapped by a live buffer.
	ErrMultipleHardLinks = newErrorf(KindMultipleHardLinks, "refusing to overwrite a multiply-linked mmapped file")
)
