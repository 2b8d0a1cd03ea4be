// Package client implements the client role of a session: it attaches to a
// server over the configured local transport, performs the version handshake
// once at startup, and then sends named requests.
//
// Failures surface as coded errors rather than terminating the process; the
// embedding application owns the decision to retry, log or exit.
package client

import (
	"bytes"
	"io"
	"net/http"
	"sync/atomic"

	"nudock/config"
	"nudock/errors"
	"nudock/logger"
	"nudock/message"
	"nudock/registry"
	"nudock/transport"

	pkgerrors "github.com/pkg/errors"
)

// Client is a session in the client role. Create with New, then Start — which
// performs the handshake and must succeed before any SendRequest. Start is
// one-shot: a client never restarts and never becomes a server.
type Client struct {
	cfg     config.Config
	comm    transport.CommType
	http    *http.Client
	baseURL string
	started atomic.Bool
	counter atomic.Uint64
}

func New(cfg config.Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Client{cfg: cfg, comm: cfg.CommType()}, nil
}

// Start builds the transport and performs the version handshake. A transport
// failure or a non-success reply is fatal to startup and returned as a coded
// error. A version mismatch in an otherwise successful reply is logged but
// does not stop the client: the server side is the one that enforces it.
func (c *Client) Start() error {
	if c.started.Swap(true) {
		return errors.NewConfigError("client already started")
	}

	httpClient, baseURL, err := transport.NewHTTPClient(c.comm, c.cfg.Port)
	if err != nil {
		c.started.Store(false)
		return err
	}
	c.http = httpClient
	c.baseURL = baseURL
	logger.Infof("client: version %s attaching via %s", c.cfg.Version, c.comm)

	reply, err := c.post(registry.HandshakePath, message.Object{"version": c.cfg.Version})
	if err != nil {
		c.started.Store(false)
		return pkgerrors.Wrap(err, "client handshake failed")
	}

	remote, ok := message.StringField(reply, "version")
	if !ok {
		logger.Warnf("client: handshake reply carries no \"version\" entry: %v", reply)
	} else if remote != c.cfg.Version {
		logger.Warnf("client: %v", errors.NewVersionMismatchError(c.cfg.Version, remote))
	} else {
		logger.Infof("client: handshake ok, version %s", remote)
	}
	return nil
}

// SendRequest sends one named request and returns the server's response
// document. The attempt counter increments for every call, failed ones
// included. Unknown routes come back as RouteNotFound errors, any other
// non-success reply or wire failure as a Transport error.
func (c *Client) SendRequest(name string, msg message.Document) (message.Document, error) {
	c.counter.Add(1)
	if !c.started.Load() {
		return nil, errors.NewConfigError("client needs to be started first")
	}
	if name == "" {
		return nil, errors.NewConfigError("request name is empty")
	}

	resp, err := c.post(name, msg)
	if err != nil {
		return nil, err
	}
	logger.Debugf("client: request counter: %d", c.counter.Load())
	return resp, nil
}

// RequestCount returns the number of send attempts so far.
func (c *Client) RequestCount() uint64 {
	return c.counter.Load()
}

// Close releases idle transport connections.
func (c *Client) Close() {
	if c.http != nil {
		c.http.CloseIdleConnections()
	}
}

func (c *Client) post(path string, msg message.Document) (message.Document, error) {
	body, err := message.Dump(msg)
	if err != nil {
		return nil, errors.NewParseError(err.Error())
	}

	res, err := c.http.Post(c.baseURL+path, "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, errors.NewTransportError(pkgerrors.Wrapf(err, "sending %s", path).Error())
	}
	defer res.Body.Close()

	respBody, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, errors.NewTransportError(pkgerrors.Wrapf(err, "reading %s reply", path).Error())
	}

	if res.StatusCode != http.StatusOK {
		if res.StatusCode == http.StatusNotFound {
			return nil, errors.Newf(errors.RouteNotFound, "request %s failed with status %d: %s",
				path, res.StatusCode, respBody)
		}
		return nil, errors.Newf(errors.Transport, "request %s failed with status %d: %s",
			path, res.StatusCode, respBody)
	}

	doc, err := message.Parse(respBody)
	if err != nil {
		return nil, errors.NewParseError(err.Error())
	}
	return doc, nil
}
