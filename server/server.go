// Package server implements the server role of a session: it owns the handler
// registry, builds the dispatch pipeline, performs the version handshake and
// serves registered operations over the configured local transport.
//
// Request flow:
//
//	POST <path> → route (handshake first, then exact registration, then 404)
//	  → Dispatcher.Dispatch → parse → validate → handler → validate → respond
//
// net/http serves each request on its own goroutine; the registry and compiled
// validators are read-only once Start has been called, and each request parses
// into documents it owns, so no per-request locking is needed.
package server

import (
	"context"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"nudock/config"
	"nudock/dispatch"
	"nudock/errors"
	"nudock/logger"
	"nudock/message"
	"nudock/registry"
	"nudock/schema"
	"nudock/transport"
)

// Server is a session in the server role. Create with New, add operations with
// Register, then Start. Start is one-shot: a server never restarts and never
// becomes a client.
type Server struct {
	cfg      config.Config
	comm     transport.CommType
	reg      *registry.Registry
	store    *schema.Store
	mws      []dispatch.Middleware
	disp     *dispatch.Dispatcher
	httpSrv  *http.Server
	started  atomic.Bool
	stopping atomic.Bool
}

func New(cfg config.Config) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Server{
		cfg:   cfg,
		comm:  cfg.CommType(),
		reg:   registry.New(),
		store: schema.NewStore(cfg.SchemasDir),
	}, nil
}

// Register adds an operation using the default schema path,
// <schemas_dir>/<name>.schema.json.
func (s *Server) Register(name string, handler registry.Handler) error {
	return s.RegisterWithSchema(name, handler, s.store.PathFor(name))
}

// RegisterWithSchema adds an operation with an explicit schema file. A schema
// that fails to load or compile is reported and the operation is simply not
// served; the process carries on.
func (s *Server) RegisterWithSchema(name string, handler registry.Handler, schemaPath string) error {
	pair, err := s.store.Load(schemaPath)
	if err != nil {
		logger.Errorf("server: not serving %q: %v", name, err)
		return err
	}
	if err := s.reg.Register(name, handler, pair); err != nil {
		return err
	}
	logger.Infof("server: registered request handler for %q with schema at %s", name, schemaPath)
	return nil
}

// Use appends dispatch middleware. Middleware wraps handler invocations only;
// it must be added before Start, which builds the chain once.
func (s *Server) Use(mw dispatch.Middleware) {
	s.mws = append(s.mws, mw)
}

// Start binds the configured transport and serves until the listener stops,
// either through Shutdown or through a handshake version mismatch. It blocks,
// mirroring the session contract: a started server never starts again.
func (s *Server) Start() error {
	if s.started.Swap(true) {
		return errors.NewConfigError("server already started")
	}

	s.disp = dispatch.New(s.reg, s.cfg.Debug, s.mws...)

	ln, err := transport.Listen(s.comm, s.cfg.Port)
	if err != nil {
		return err
	}
	s.httpSrv = &http.Server{Handler: http.HandlerFunc(s.route)}

	logger.Infof("server: version %s, validation enabled: %v", s.cfg.Version, s.cfg.Debug)
	for _, name := range s.reg.Names() {
		logger.Infof("server: serving %s", name)
	}

	if err := s.httpSrv.Serve(ln); err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and drains in-flight ones, giving up
// after the timeout.
func (s *Server) Shutdown(timeout time.Duration) error {
	if !s.started.Load() || s.httpSrv == nil {
		return errors.NewConfigError("server not started")
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.httpSrv.Shutdown(ctx)
}

// RequestCount returns the number of dispatched request attempts so far.
func (s *Server) RequestCount() uint64 {
	if s.disp == nil {
		return 0
	}
	return s.disp.Count()
}

// route is the single entry point for every inbound request. Precedence is
// explicit: the handshake path first, then exact registry matches via the
// dispatcher, then the catch-all not-found reply. Registered operations always
// shadow the catch-all, whatever order they were registered in.
func (s *Server) route(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeResult(w, dispatch.Result{
			Status:      http.StatusBadRequest,
			ContentType: "text/plain",
			Body:        []byte(err.Error()),
		})
		return
	}

	if r.Method != http.MethodPost {
		s.writeNotFound(w, r.URL.Path)
		return
	}

	if r.URL.Path == registry.HandshakePath {
		s.handleHandshake(w, body)
		return
	}

	writeResult(w, s.disp.Dispatch(r.Context(), r.URL.Path, body))
}

// handleHandshake serves the reserved version-check operation. It is exempt
// from the schema pipeline. The reply always carries this server's version;
// on a failed check the listener is stopped right after the reply goes out,
// since mismatched deployments cannot be recovered by retrying.
func (s *Server) handleHandshake(w http.ResponseWriter, body []byte) {
	// A body that does not parse is an ordinary per-request failure: answer
	// 400 and keep listening. Only a failed version comparison is fatal.
	doc, err := message.Parse(body)
	if err != nil {
		logger.Errorf("server: handshake body unreadable: %v", err)
		writeResult(w, dispatch.Result{
			Status:      http.StatusBadRequest,
			ContentType: "text/plain",
			Body:        []byte(err.Error()),
		})
		return
	}

	remote, ok := message.StringField(doc, "version")
	matched := false
	switch {
	case !ok:
		logger.Errorf("server: handshake request carries no \"version\" entry, stopping; full request: %s", body)
	case remote != s.cfg.Version:
		logger.Errorf("server: %v, stopping", errors.NewVersionMismatchError(s.cfg.Version, remote))
	default:
		logger.Infof("server: handshake ok, version %s", s.cfg.Version)
		matched = true
	}

	reply, _ := message.Dump(message.Object{"version": s.cfg.Version})
	writeResult(w, dispatch.Result{
		Status:      http.StatusOK,
		ContentType: "application/json",
		Body:        reply,
	})

	if !matched {
		s.stop()
	}
}

// stop shuts the listener down asynchronously so the current response can be
// written first.
func (s *Server) stop() {
	if s.stopping.Swap(true) {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.httpSrv.Shutdown(ctx)
	}()
}

func (s *Server) writeNotFound(w http.ResponseWriter, path string) {
	body, _ := message.Dump(message.Object{"error": errors.NewRouteNotFoundError(path).Error()})
	writeResult(w, dispatch.Result{
		Status:      http.StatusNotFound,
		ContentType: "application/json",
		Body:        body,
	})
}

func writeResult(w http.ResponseWriter, res dispatch.Result) {
	w.Header().Set("Content-Type", res.ContentType)
	w.WriteHeader(res.Status)
	if _, err := w.Write(res.Body); err != nil {
		logger.Errorf("server: writing response: %v", err)
	}
}
