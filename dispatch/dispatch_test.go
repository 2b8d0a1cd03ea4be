package dispatch

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"nudock/message"
	"nudock/registry"
	"nudock/schema"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const pingSchema = `{
  "properties": {
    "request": {"type": "object"},
    "response": {"type": "string"}
  }
}`

const setParametersSchema = `{
  "properties": {
    "request": {
      "type": "object",
      "required": ["osc_pars"],
      "properties": {
        "osc_pars": {"type": "object", "additionalProperties": {"type": "number"}}
      }
    },
    "response": {
      "type": "object",
      "required": ["status"],
      "properties": {"status": {"type": "string"}}
    }
  }
}`

func loadPair(t *testing.T, content string) *schema.Pair {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "op.schema.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	pair, err := schema.NewStore(dir).Load(path)
	require.NoError(t, err)
	return pair
}

func pong() registry.Handler {
	return registry.HandlerFunc(func(_ context.Context, _ message.Document) (message.Document, error) {
		return "pong", nil
	})
}

func newTestDispatcher(t *testing.T, validate bool, mws ...Middleware) (*Dispatcher, *registry.Registry) {
	t.Helper()
	reg := registry.New()
	require.NoError(t, reg.Register("/ping", pong(), loadPair(t, pingSchema)))
	return New(reg, validate, mws...), reg
}

func TestDispatchSuccess(t *testing.T) {
	d, _ := newTestDispatcher(t, true)
	res := d.Dispatch(context.Background(), "/ping", []byte(`{}`))
	assert.Equal(t, http.StatusOK, res.Status)
	assert.Equal(t, "application/json", res.ContentType)
	assert.JSONEq(t, `"pong"`, string(res.Body))
}

func TestDispatchParseError(t *testing.T) {
	d, _ := newTestDispatcher(t, true)
	res := d.Dispatch(context.Background(), "/ping", []byte(`{"broken`))
	assert.Equal(t, http.StatusBadRequest, res.Status)
	assert.Equal(t, "text/plain", res.ContentType)
}

func TestDispatchUnknownRoute(t *testing.T) {
	d, _ := newTestDispatcher(t, true)

	// Not-found wins independent of body content, even unparseable bodies.
	for _, raw := range []string{`{"any": "body"}`, `not json at all`, ``} {
		res := d.Dispatch(context.Background(), "/nonexistent", []byte(raw))
		assert.Equal(t, http.StatusNotFound, res.Status)

		var body map[string]string
		require.NoError(t, json.Unmarshal(res.Body, &body))
		assert.Equal(t, "Unknown request title: /nonexistent", body["error"])
	}
}

func TestRequestValidationBlocksHandler(t *testing.T) {
	invoked := false
	reg := registry.New()
	h := registry.HandlerFunc(func(_ context.Context, _ message.Document) (message.Document, error) {
		invoked = true
		return message.Object{"status": "parameters set"}, nil
	})
	require.NoError(t, reg.Register("/set_parameters", h, loadPair(t, setParametersSchema)))
	d := New(reg, true)

	res := d.Dispatch(context.Background(), "/set_parameters",
		[]byte(`{"osc_pars": {"Theta23": "not-a-number"}}`))
	assert.Equal(t, http.StatusBadRequest, res.Status)
	assert.False(t, invoked)

	// Diagnostic body carries the failure, the expected schema and the document.
	var body map[string]any
	require.NoError(t, json.Unmarshal(res.Body, &body))
	assert.Contains(t, body["error"], "request validation failed")
	assert.Contains(t, body, "expected")
	assert.Contains(t, body, "received")
}

func TestResponseValidationDiscardsResult(t *testing.T) {
	reg := registry.New()
	h := registry.HandlerFunc(func(_ context.Context, _ message.Document) (message.Document, error) {
		return message.Object{"status": 17}, nil // violates the response schema
	})
	require.NoError(t, reg.Register("/set_parameters", h, loadPair(t, setParametersSchema)))
	d := New(reg, true)

	res := d.Dispatch(context.Background(), "/set_parameters", []byte(`{"osc_pars": {}}`))
	assert.Equal(t, http.StatusBadRequest, res.Status)

	var body map[string]any
	require.NoError(t, json.Unmarshal(res.Body, &body))
	assert.Contains(t, body["error"], "response validation failed")
	assert.NotContains(t, string(res.Body), `"status":17`)
}

func TestValidationDisabledPassesThrough(t *testing.T) {
	reg := registry.New()
	h := registry.HandlerFunc(func(_ context.Context, req message.Document) (message.Document, error) {
		return message.Object{"echo": req}, nil
	})
	require.NoError(t, reg.Register("/set_parameters", h, loadPair(t, setParametersSchema)))
	d := New(reg, false)

	// Violates the request schema, but validation is off.
	res := d.Dispatch(context.Background(), "/set_parameters",
		[]byte(`{"osc_pars": {"Theta23": "not-a-number"}}`))
	assert.Equal(t, http.StatusOK, res.Status)
}

func TestHandlerError(t *testing.T) {
	reg := registry.New()
	h := registry.HandlerFunc(func(_ context.Context, _ message.Document) (message.Document, error) {
		return nil, assert.AnError
	})
	require.NoError(t, reg.Register("/boom", h, loadPair(t, pingSchema)))
	d := New(reg, false)

	res := d.Dispatch(context.Background(), "/boom", []byte(`{}`))
	assert.Equal(t, http.StatusBadRequest, res.Status)
	assert.Contains(t, string(res.Body), assert.AnError.Error())
}

func TestCounterCountsEveryAttempt(t *testing.T) {
	d, _ := newTestDispatcher(t, true)
	require.EqualValues(t, 0, d.Count())

	d.Dispatch(context.Background(), "/ping", []byte(`{}`))
	d.Dispatch(context.Background(), "/ping", []byte(`{}`))
	d.Dispatch(context.Background(), "/nonexistent", []byte(`{}`))
	d.Dispatch(context.Background(), "/ping", []byte(`not json`))
	assert.EqualValues(t, 4, d.Count())
}

func TestRecoverMiddleware(t *testing.T) {
	reg := registry.New()
	h := registry.HandlerFunc(func(_ context.Context, _ message.Document) (message.Document, error) {
		panic("boom")
	})
	require.NoError(t, reg.Register("/panic", h, loadPair(t, pingSchema)))
	d := New(reg, false, Recover())

	res := d.Dispatch(context.Background(), "/panic", []byte(`{}`))
	assert.Equal(t, http.StatusBadRequest, res.Status)
	assert.Contains(t, string(res.Body), "panicked")
}

func TestRateLimitMiddleware(t *testing.T) {
	d, _ := newTestDispatcher(t, false, RateLimit(1, 1))

	res := d.Dispatch(context.Background(), "/ping", []byte(`{}`))
	assert.Equal(t, http.StatusOK, res.Status)

	res = d.Dispatch(context.Background(), "/ping", []byte(`{}`))
	assert.Equal(t, http.StatusBadRequest, res.Status)
	assert.Contains(t, string(res.Body), "rate limit exceeded")
}

func TestChainOrder(t *testing.T) {
	var order []string
	mw := func(name string) Middleware {
		return func(next Invoker) Invoker {
			return func(ctx context.Context, path string, req message.Document) (message.Document, error) {
				order = append(order, name)
				return next(ctx, path, req)
			}
		}
	}
	d, _ := newTestDispatcher(t, false, mw("outer"), mw("inner"))

	d.Dispatch(context.Background(), "/ping", []byte(`{}`))
	assert.Equal(t, []string{"outer", "inner"}, order)
}

func TestMiddlewareRunsInsideValidation(t *testing.T) {
	// Middleware must not observe requests rejected by validation.
	var seen int
	mw := func(next Invoker) Invoker {
		return func(ctx context.Context, path string, req message.Document) (message.Document, error) {
			seen++
			return next(ctx, path, req)
		}
	}
	reg := registry.New()
	h := registry.HandlerFunc(func(_ context.Context, _ message.Document) (message.Document, error) {
		return message.Object{"status": "parameters set"}, nil
	})
	require.NoError(t, reg.Register("/set_parameters", h, loadPair(t, setParametersSchema)))
	d := New(reg, true, mw)

	d.Dispatch(context.Background(), "/set_parameters", []byte(`{"osc_pars": {"x": "bad"}}`))
	assert.Equal(t, 0, seen)

	d.Dispatch(context.Background(), "/set_parameters", []byte(`{"osc_pars": {"x": 1.0}}`))
	assert.Equal(t, 1, seen)
}
