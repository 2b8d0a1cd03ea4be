// Package dispatch implements the server-side request pipeline.
//
// Each request runs to completion through a fixed sequence, short-circuiting on
// the first failure:
//
//	route lookup → parse body → validate request → handler → validate response → serialize
//
// Failures at any stage become a 400-equivalent result (404 for unknown routes)
// and the server keeps running; this layer never terminates the process. The
// handler invocation (and only that stage) runs inside the middleware chain, so
// schema validation cannot be bypassed by middleware.
package dispatch

import (
	"context"
	"net/http"
	"sync/atomic"

	"nudock/errors"
	"nudock/logger"
	"nudock/message"
	"nudock/registry"
)

const (
	contentTypeJSON = "application/json"
	contentTypeText = "text/plain"
)

// Result is what the transport writes back: a status code and a body.
type Result struct {
	Status      int
	ContentType string
	Body        []byte
}

// Dispatcher routes, validates and answers requests against one registry.
// It is safe for concurrent use: the registry and compiled validators are
// read-only, the counter is atomic, and every request owns its own documents.
type Dispatcher struct {
	reg      *registry.Registry
	validate bool
	counter  atomic.Uint64
	invoke   Invoker
}

// New builds a dispatcher. When validate is false the schema gates are skipped
// entirely and messages pass straight through. Middleware wraps the handler
// invocation in the order given.
func New(reg *registry.Registry, validate bool, mws ...Middleware) *Dispatcher {
	d := &Dispatcher{reg: reg, validate: validate}
	d.invoke = Chain(mws...)(d.callHandler)
	return d
}

// Count returns the number of dispatch attempts so far, failed ones included.
func (d *Dispatcher) Count() uint64 {
	return d.counter.Load()
}

// Dispatch handles one request end to end and always produces a Result.
func (d *Dispatcher) Dispatch(ctx context.Context, path string, rawBody []byte) Result {
	d.counter.Add(1)

	// Catch-all first: any path without a registration is answered not-found,
	// independent of body content. The body is never parsed for unknown routes.
	entry, ok := d.reg.Lookup(path)
	if !ok {
		nferr := errors.NewRouteNotFoundError(path)
		logger.Warnf("dispatch: %v", nferr)
		return jsonErrorResult(errors.HTTPStatus(errors.RouteNotFound), nferr.Error())
	}

	doc, err := message.Parse(rawBody)
	if err != nil {
		perr := errors.NewParseError(err.Error())
		logger.Errorf("dispatch %s: %v", path, perr)
		return textResult(errors.HTTPStatus(errors.Parse), perr.Error())
	}

	if d.validate {
		if verr := entry.Schemas.ValidateRequest(doc); verr != nil {
			logger.Errorf("dispatch %s: %v", path, verr)
			return validationResult(verr, entry.Schemas.RawRequest, doc)
		}
	}

	resp, err := d.invoke(ctx, path, doc)
	if err != nil {
		code, ok := errors.CodeOf(err)
		if !ok {
			code = errors.Handler
		}
		logger.Errorf("dispatch %s: handler failed: %v", path, err)
		return textResult(errors.HTTPStatus(code), err.Error())
	}

	if d.validate {
		// A bad handler result is a server-side bug: the computed response is
		// discarded, never sent.
		if verr := entry.Schemas.ValidateResponse(resp); verr != nil {
			logger.Errorf("dispatch %s: %v", path, verr)
			return validationResult(verr, entry.Schemas.RawResponse, resp)
		}
	}

	body, err := message.Dump(resp)
	if err != nil {
		herr := errors.NewHandlerError(err.Error())
		logger.Errorf("dispatch %s: %v", path, herr)
		return textResult(errors.HTTPStatus(errors.Handler), herr.Error())
	}
	return Result{Status: http.StatusOK, ContentType: contentTypeJSON, Body: body}
}

// callHandler is the innermost invoker, wrapped by the middleware chain.
func (d *Dispatcher) callHandler(ctx context.Context, path string, req message.Document) (message.Document, error) {
	entry, ok := d.reg.Lookup(path)
	if !ok {
		return nil, errors.NewRouteNotFoundError(path)
	}
	resp, err := entry.Handler.Handle(ctx, req)
	if err != nil {
		if _, coded := errors.CodeOf(err); coded {
			return nil, err
		}
		return nil, errors.NewHandlerError(err.Error())
	}
	return resp, nil
}

func textResult(status int, body string) Result {
	return Result{Status: status, ContentType: contentTypeText, Body: []byte(body)}
}

func jsonErrorResult(status int, msg string) Result {
	body, err := message.Dump(message.Object{"error": msg})
	if err != nil {
		return textResult(status, msg)
	}
	return Result{Status: status, ContentType: contentTypeJSON, Body: body}
}

// validationResult builds the diagnostic body for a schema violation: the
// failure detail, the sub-schema the document was expected to match, and the
// document that was received.
func validationResult(verr error, expected, received message.Document) Result {
	code, _ := errors.CodeOf(verr)
	body, err := message.Dump(message.Object{
		"error":    verr.Error(),
		"expected": expected,
		"received": received,
	})
	if err != nil {
		return textResult(errors.HTTPStatus(code), verr.Error())
	}
	return Result{Status: errors.HTTPStatus(code), ContentType: contentTypeJSON, Body: body}
}
