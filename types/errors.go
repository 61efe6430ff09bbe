package types

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned by operations on a closed store or scheduler.
	ErrClosed = errors.New("livesync: closed")

	// ErrInvalidInterval is returned when a poll interval is not positive.
	ErrInvalidInterval = errors.New("livesync: poll interval must be positive")

	// ErrNoLoader is returned when a refresh is attempted without a loader.
	ErrNoLoader = errors.New("livesync: no loader configured")

	// ErrReadOnly is returned by loaders that cannot send mutations.
	ErrReadOnly = errors.New("livesync: loader is read-only")

	// ErrEmptyDocument is wrapped when a resource resolves to nothing.
	ErrEmptyDocument = errors.New("empty document")
)

// ErrorKind classifies fetch failures for logs and metrics.
// The cache itself treats every kind the same way.
type ErrorKind string

const (
	KindNetwork ErrorKind = "network"
	KindDecode  ErrorKind = "decode"
	KindServer  ErrorKind = "server"
)

// Status-like codes used for failures that never produced an HTTP status.
const (
	CodeUnavailable = 503
	CodeTimeout     = 504
	CodeBadDocument = 502
)

// FetchError is the failure of one fetch for one key.
type FetchError struct {
	Kind    ErrorKind
	Key     string
	Code    int
	Message string
	Err     error
}

func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fetch %s: %s error %d: %s: %v", e.Key, e.Kind, e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("fetch %s: %s error %d: %s", e.Key, e.Kind, e.Code, e.Message)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// NewNetworkError wraps a transport failure.
func NewNetworkError(key string, code int, err error) *FetchError {
	msg := "transport failure"
	if code == CodeTimeout {
		msg = "timeout"
	}
	return &FetchError{Kind: KindNetwork, Key: key, Code: code, Message: msg, Err: err}
}

// NewDecodeError wraps a body that could not be decoded.
func NewDecodeError(key string, err error) *FetchError {
	return &FetchError{Kind: KindDecode, Key: key, Code: CodeBadDocument, Message: "malformed document", Err: err}
}

// NewServerError reports a non-2xx response.
func NewServerError(key string, status int, message string) *FetchError {
	if message == "" {
		message = "unexpected status"
	}
	return &FetchError{Kind: KindServer, Key: key, Code: status, Message: message}
}

// KindOf returns the kind of a fetch failure. Errors that are not a
// *FetchError are treated as network failures.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindNetwork
}
