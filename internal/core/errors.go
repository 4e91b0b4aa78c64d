package core

import (
	"errors"
	"fmt"
)

// ErrorKind buckets failures the way the display layer cares about them.
type ErrorKind string

const (
	KindIdentityNotFound ErrorKind = "identity_not_found"
	KindNetwork          ErrorKind = "network"
	KindParse            ErrorKind = "parse"
	KindSessionExpired   ErrorKind = "session_expired"
	KindUnknown          ErrorKind = "unknown"
)

// Error is a classified domain error. The wrapped cause is optional.
type Error struct {
	Kind  ErrorKind
	Msg   string
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Cause)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Cause }

func NewError(kind ErrorKind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

func WrapError(kind ErrorKind, msg string, cause error) *Error {
	return &Error{Kind: kind, Msg: msg, Cause: cause}
}

// KindOf classifies any error, unwrapping as needed. A nil error has no
// kind; everything that is not a core.Error is Unknown.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindUnknown
}

// IsSessionExpired reports whether err (anywhere in its chain) is a
// session-expiry failure. Refresh cycles abort on it.
func IsSessionExpired(err error) bool {
	return KindOf(err) == KindSessionExpired
}
