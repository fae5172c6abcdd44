package api

import (
	"fmt"

	"github.com/containerd/errdefs"
)

// StatusError is returned for any non-2xx response that is not
// recovered by the refresh path. It unwraps to an errdefs sentinel so
// callers can classify without inspecting status codes.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("request failed: status %d", e.Status)
	}
	return fmt.Sprintf("request failed: status %d: %s", e.Status, e.Body)
}

func (e *StatusError) Unwrap() error {
	switch e.Status {
	case 400:
		return errdefs.ErrInvalidArgument
	case 401:
		return errdefs.ErrUnauthenticated
	case 403:
		return errdefs.ErrPermissionDenied
	case 404:
		return errdefs.ErrNotFound
	case 409:
		return errdefs.ErrConflict
	default:
		return errdefs.ErrUnknown
	}
}

// IsAuthenticationRequired reports whether err means the caller has no
// usable credential and must log in again.
func IsAuthenticationRequired(err error) bool {
	return errdefs.IsUnauthorized(err)
}

// IsForbidden reports whether err means the caller is authenticated but
// not allowed to perform the operation.
func IsForbidden(err error) bool {
	return errdefs.IsPermissionDenied(err)
}

// IsNotFound reports whether err means the requested resource does not
// exist.
func IsNotFound(err error) bool {
	return errdefs.IsNotFound(err)
}

// IsTransport reports whether err is a network-level failure rather
// than a server response.
func IsTransport(err error) bool {
	return errdefs.IsUnavailable(err)
}
