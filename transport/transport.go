// Package transport selects and builds the local wire: an HTTP listener and
// client over either a unix domain socket or localhost TCP. The raw-TCP comm
// type parses but is rejected at startup.
package transport

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"nudock/errors"
	"nudock/logger"

	pkgerrors "github.com/pkg/errors"
)

// CommType selects how server and client reach each other on one machine.
type CommType int

const (
	// UnixSocket is a unix domain socket; the fastest option, same machine only.
	UnixSocket CommType = iota
	// Localhost is TCP bound to localhost.
	Localhost
	// TCP is accepted as configuration but not supported.
	TCP
)

func (c CommType) String() string {
	switch c {
	case UnixSocket:
		return "unix"
	case Localhost:
		return "localhost"
	case TCP:
		return "tcp"
	}
	return fmt.Sprintf("CommType(%d)", int(c))
}

// ParseCommType parses a configuration string into a CommType.
func ParseCommType(s string) (CommType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "unix", "unix_domain_socket":
		return UnixSocket, nil
	case "localhost":
		return Localhost, nil
	case "tcp":
		return TCP, nil
	}
	return 0, errors.NewConfigErrorf("unknown comm type %q", s)
}

// SocketPath derives the unix socket path from the configured port number, so
// a server and client configured alike meet on the same socket.
func SocketPath(port int) string {
	return fmt.Sprintf("/tmp/nudock-%d.sock", port)
}

// Listen binds the configured transport. For unix sockets any stale socket
// file left by a previous run is removed before binding.
func Listen(comm CommType, port int) (net.Listener, error) {
	switch comm {
	case UnixSocket:
		path := SocketPath(port)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return nil, errors.NewConfigError(pkgerrors.Wrapf(err, "removing stale socket %s", path).Error())
		}
		logger.Infof("transport: listening on unix socket %s", path)
		ln, err := net.Listen("unix", path)
		if err != nil {
			return nil, errors.NewConfigError(pkgerrors.Wrap(err, "binding unix socket").Error())
		}
		return ln, nil
	case Localhost:
		addr := fmt.Sprintf("localhost:%d", port)
		logger.Infof("transport: listening on %s", addr)
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return nil, errors.NewConfigError(pkgerrors.Wrapf(err, "binding %s", addr).Error())
		}
		return ln, nil
	case TCP:
		return nil, errors.NewConfigError("TCP for communication not supported")
	}
	return nil, errors.NewConfigErrorf("unsupported comm type %v", comm)
}

// NewHTTPClient builds the client side of the configured transport and the
// base URL to POST operation paths against.
func NewHTTPClient(comm CommType, port int) (*http.Client, string, error) {
	switch comm {
	case UnixSocket:
		path := SocketPath(port)
		client := &http.Client{
			Transport: &http.Transport{
				DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
					var d net.Dialer
					return d.DialContext(ctx, "unix", path)
				},
			},
		}
		// The host part is a placeholder; the dialer ignores it.
		return client, "http://unix", nil
	case Localhost:
		client := &http.Client{
			Transport: &http.Transport{
				DialContext: (&net.Dialer{Timeout: 10 * time.Second}).DialContext,
			},
		}
		return client, fmt.Sprintf("http://localhost:%d", port), nil
	case TCP:
		return nil, "", errors.NewConfigError("TCP for communication not supported")
	}
	return nil, "", errors.NewConfigErrorf("unsupported comm type %v", comm)
}
