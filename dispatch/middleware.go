package dispatch

import (
	"context"
	"time"

	"nudock/errors"
	"nudock/logger"
	"nudock/message"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// Invoker runs one handler invocation: validated request document in, response
// document or error out.
type Invoker func(ctx context.Context, path string, req message.Document) (message.Document, error)

// Middleware wraps an Invoker with extra behaviour around the handler call.
type Middleware func(next Invoker) Invoker

// Chain composes middlewares so the first one given is outermost:
// Chain(A, B)(h) runs A before B before h.
func Chain(middlewares ...Middleware) Middleware {
	return func(next Invoker) Invoker {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}

// Logging logs each handler invocation with a per-request id and its duration.
func Logging() Middleware {
	return func(next Invoker) Invoker {
		return func(ctx context.Context, path string, req message.Document) (message.Document, error) {
			id := uuid.NewString()
			start := time.Now()
			resp, err := next(ctx, path, req)
			if err != nil {
				logger.Errorf("request %s %s failed after %s: %v", id, path, time.Since(start), err)
			} else {
				logger.Debugf("request %s %s took %s", id, path, time.Since(start))
			}
			return resp, err
		}
	}
}

// Recover converts a handler panic into a handler error so one broken handler
// cannot take the server down.
func Recover() Middleware {
	return func(next Invoker) Invoker {
		return func(ctx context.Context, path string, req message.Document) (resp message.Document, err error) {
			defer func() {
				if r := recover(); r != nil {
					err = errors.Newf(errors.Handler, "handler for %s panicked: %v", path, r)
					resp = nil
				}
			}()
			return next(ctx, path, req)
		}
	}
}

// RateLimit applies a token-bucket limit across all handler invocations.
func RateLimit(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next Invoker) Invoker {
		return func(ctx context.Context, path string, req message.Document) (message.Document, error) {
			if !limiter.Allow() {
				return nil, errors.NewHandlerError("rate limit exceeded")
			}
			return next(ctx, path, req)
		}
	}
}
