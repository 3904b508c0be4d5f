package transport

import (
	"fmt"
	"net/http"
)

type (
	RequestKind string

	// Error is a transport level failure.
	Error struct {
		Request RequestKind
		// HTTP status code or websocket close code, 0 if no response was received
		Status int
		// Response body (HTTP only)
		Body []byte
		Err  error
	}

	// Class is the error category driving the session reaction.
	Class int
)

const (
	RequestDocument RequestKind = "document"
	RequestPatch    RequestKind = "patch"
	RequestSocket   RequestKind = "socket"
)

const (
	// ClassConnection errors raise connection-error and trigger a reconnection.
	ClassConnection Class = iota
	// ClassRejected errors are application level patch rejections: logged and dropped.
	ClassRejected
)

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.Err != nil && e.Status != 0:
		return fmt.Sprintf("%s request: status %d: %v", e.Request, e.Status, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s request: %v", e.Request, e.Err)
	default:
		return fmt.Sprintf("%s request: status %d (%s)", e.Request, e.Status, http.StatusText(e.Status))
	}
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// String implements the stringer interface.
func (c Class) String() string {
	switch c {
	case ClassConnection:
		return "connection"
	case ClassRejected:
		return "rejected"
	}

	return fmt.Sprintf("class(%d)", int(c))
}

// Classify maps a transport error to its category.
func Classify(err *Error) Class {
	if err == nil {
		return ClassConnection
	}

	switch {
	case err.Request == RequestSocket:
		return ClassConnection
	case err.Status == 0, err.Status >= 599:
		// no response or out of range status
		return ClassConnection
	case err.Request == RequestPatch && err.Status >= 400 && err.Status < 500:
		return ClassRejected
	}

	// 5xx on a patch, any non-2xx on the document fetch
	return ClassConnection
}
