package sync //nolint:revive,nolintlint // package name mirrors the domain

import (
	"errors"
	"fmt"

	"github.com/conductorone/catalog-sync/pkg/document"
	"github.com/conductorone/catalog-sync/pkg/uhttp"
)

// Error kinds. Use errors.Is against these to classify a failure.
var (
	// ErrTransport is a network failure or timeout talking to a remote system.
	ErrTransport = errors.New("transport error")
	// ErrRemoteAPI is a non-success status or a malformed response body.
	ErrRemoteAPI = errors.New("remote api error")
	// ErrValidation is a remote record missing a required identifier.
	ErrValidation = errors.New("validation error")
	// ErrPersistence is a failed write to the catalog store.
	ErrPersistence = errors.New("persistence error")
	// ErrMappingIncomplete means a category has no destination term yet.
	ErrMappingIncomplete = errors.New("category mapping incomplete")
)

type Error struct {
	Kind error
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	return e.Kind == target
}

// Retryable is true for failures scoped to one remote call.
func (e *Error) Retryable() bool {
	return e.Kind == ErrTransport || e.Kind == ErrRemoteAPI
}

func newError(kind error, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// remoteError classifies a failure returned by a remote collaborator.
func remoteError(op string, err error) error {
	var e *Error
	if errors.As(err, &e) {
		return err
	}

	var statusErr *uhttp.StatusError
	var ctErr *uhttp.ContentTypeError
	switch {
	case errors.As(err, &statusErr),
		errors.As(err, &ctErr),
		errors.Is(err, document.ErrNotObject),
		errors.Is(err, document.ErrNotList):
		return newError(ErrRemoteAPI, op, err)
	default:
		return newError(ErrTransport, op, err)
	}
}

// ErrorKind names the kind of err for logs and metrics.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrTransport):
		return "transport"
	case errors.Is(err, ErrRemoteAPI):
		return "remote_api"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrPersistence):
		return "persistence"
	case errors.Is(err, ErrMappingIncomplete):
		return "mapping_incomplete"
	default:
		return "unknown"
	}
}
