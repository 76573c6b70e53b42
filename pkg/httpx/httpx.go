// Package httpx hides the choice of HTTP engine behind one server type.
// The gateway handler is plain net/http; the fasthttp engine serves it
// through the adaptor. SSE streaming requires the nethttp engine.
package httpx

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"

	"feedsync/pkg/logger"
)

// Server serves one handler on one address with the selected engine.
type Server struct {
	Addr     string
	Engine   string // "nethttp" (default) or "fasthttp"
	Handler  http.Handler
	CertFile string
	KeyFile  string

	std  *http.Server
	fast *fasthttp.Server
}

// Start begins serving in a background goroutine and returns a channel that
// receives the terminal serve error, if any.
func (s *Server) Start() <-chan error {
	errCh := make(chan error, 1)
	switch s.Engine {
	case "", "nethttp":
		s.std = &http.Server{
			Addr:              s.Addr,
			Handler:           s.Handler,
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			logger.Info("http_listen", "addr", s.Addr, "engine", "nethttp")
			var err error
			if s.CertFile != "" && s.KeyFile != "" {
				err = s.std.ListenAndServeTLS(s.CertFile, s.KeyFile)
			} else {
				err = s.std.ListenAndServe()
			}
			if err != nil && err != http.ErrServerClosed {
				errCh <- err
			}
			close(errCh)
		}()
	case "fasthttp":
		s.fast = &fasthttp.Server{
			Handler:     fasthttpadaptor.NewFastHTTPHandler(s.Handler),
			Name:        "feedsync",
			ReadTimeout: 10 * time.Second,
		}
		go func() {
			logger.Info("http_listen", "addr", s.Addr, "engine", "fasthttp")
			var err error
			if s.CertFile != "" && s.KeyFile != "" {
				err = s.fast.ListenAndServeTLS(s.Addr, s.CertFile, s.KeyFile)
			} else {
				err = s.fast.ListenAndServe(s.Addr)
			}
			if err != nil {
				errCh <- err
			}
			close(errCh)
		}()
	default:
		errCh <- fmt.Errorf("unknown http engine: %s", s.Engine)
		close(errCh)
	}
	return errCh
}

// Shutdown stops the server, waiting up to the context deadline on the
// nethttp engine.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.std != nil {
		return s.std.Shutdown(ctx)
	}
	if s.fast != nil {
		return s.fast.Shutdown()
	}
	return nil
}
