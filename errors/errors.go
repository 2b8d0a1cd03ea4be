// Package errors defines the coded error taxonomy shared by the server and
// client sessions. Every failure the dispatch pipeline or a session can produce
// carries one of the codes below, so callers can branch on the category and the
// server can map it to a wire status without string matching.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

type ErrorCode int

const (
	// Startup / registration time.
	Config ErrorCode = iota + 1000
	SchemaLoad
	SchemaCompile

	// Per-request, server side.
	Parse ErrorCode = iota + 2000
	RequestValidation
	ResponseValidation
	Handler
	RouteNotFound

	// Client side.
	Transport ErrorCode = iota + 3000
	VersionMismatch
)

// DockError is an error with a category code. Msg is the full human-readable
// message, including any wrapped cause.
type DockError struct {
	Code ErrorCode
	Msg  string
}

func (e DockError) Error() string {
	return e.Msg
}

func New(code ErrorCode, msg string) DockError {
	return DockError{Code: code, Msg: msg}
}

func Newf(code ErrorCode, format string, args ...interface{}) DockError {
	return DockError{Code: code, Msg: fmt.Sprintf(format, args...)}
}

func NewConfigError(msg string) DockError {
	return New(Config, msg)
}

func NewConfigErrorf(format string, args ...interface{}) DockError {
	return Newf(Config, format, args...)
}

func NewSchemaLoadError(msg string) DockError {
	return New(SchemaLoad, msg)
}

func NewSchemaCompileError(msg string) DockError {
	return New(SchemaCompile, msg)
}

func NewParseError(msg string) DockError {
	return New(Parse, msg)
}

func NewHandlerError(msg string) DockError {
	return New(Handler, msg)
}

func NewRouteNotFoundError(path string) DockError {
	return Newf(RouteNotFound, "Unknown request title: %s", path)
}

func NewTransportError(msg string) DockError {
	return New(Transport, msg)
}

func NewVersionMismatchError(local, remote string) DockError {
	return Newf(VersionMismatch, "version mismatch: local %q remote %q", local, remote)
}

// CodeOf extracts the error code, or ok=false for uncoded errors.
func CodeOf(err error) (ErrorCode, bool) {
	var de DockError
	if errors.As(err, &de) {
		return de.Code, true
	}
	return 0, false
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code ErrorCode) bool {
	c, ok := CodeOf(err)
	return ok && c == code
}

// HTTPStatus maps a per-request error code to the wire status the server
// answers with. Unknown routes are 404; every other request failure is the
// client's 400 equivalent.
func HTTPStatus(code ErrorCode) int {
	if code == RouteNotFound {
		return http.StatusNotFound
	}
	return http.StatusBadRequest
}
