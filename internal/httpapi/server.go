package httpapi

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/vinayprograms/agentkit/logging"
	"golang.org/x/net/netutil"
)

// Server wraps the HTTP listener with a connection cap and graceful shutdown.
type Server struct {
	httpServer *http.Server
	addr       string
	maxConns   int
	logger     *logging.Logger
}

// NewServer creates a server for handler on addr. maxConns caps simultaneous
// connections at the listener; 0 means unlimited.
func NewServer(addr string, handler http.Handler, maxConns int) *Server {
	return &Server{
		httpServer: &http.Server{
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
		addr:     addr,
		maxConns: maxConns,
		logger:   logging.New().WithComponent("server"),
	}
}

// ListenAndServe blocks serving requests until Shutdown or a listener error.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	if s.maxConns > 0 {
		ln = netutil.LimitListener(ln, s.maxConns)
	}

	s.logger.Info("listening", map[string]interface{}{
		"addr":      ln.Addr().String(),
		"max_conns": s.maxConns,
	})
	return s.httpServer.Serve(ln)
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down")
	return s.httpServer.Shutdown(ctx)
}
