package server

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
)

type config struct {
	silent         bool
	gracefulPeriod time.Duration
}

type Option func(*config) *config

// set graceful period for shutdown.
//
// In-flight requests can continue for the period after ctx is done.
//
// GracefulPeriod is 30 seconds by default.
func WithGracefulPeriod(d time.Duration) Option {
	return func(c *config) *config {
		c.gracefulPeriod = d
		return c
	}
}

// Silent hides the banner and the address of echo.
func Silent() Option {
	return func(c *config) *config {
		c.silent = true
		return c
	}
}

// Listen opens the socket the server accepts connections on.
type Listen func() (net.Listener, error)

// OnPort listens on the port of all interfaces. Port 0 picks a free one.
func OnPort(p int) Listen {
	return func() (net.Listener, error) {
		return net.Listen("tcp", fmt.Sprintf(":%d", p))
	}
}

// OnLocalPort is OnPort, listening on localhost only.
func OnLocalPort(p int) Listen {
	return func() (net.Listener, error) {
		return net.Listen("tcp", fmt.Sprintf("localhost:%d", p))
	}
}

type Server struct {
	// port number the server listens on.
	Port int

	// ServerStop gets the error the server stops with, then is closed.
	//
	// It is http.ErrServerClosed when the server stops by ctx.
	ServerStop <-chan error

	e *echo.Echo
}

// RefuseKeepAlive makes the server close connections after their current request.
//
// Call it when the replica starts draining, so that the load balancer moves
// connections to other replicas while in-flight requests go on.
func (s *Server) RefuseKeepAlive() {
	s.e.Server.SetKeepAlivesEnabled(false)
}

// Start serves e.
//
// # Params
//
// - ctx context.Context: To stop the server, cancel this context.
// The server stops accepting new connections, and waits for in-flight
// requests up to the graceful period.
//
// - listen Listen: where to listen on.
//
// - e *echo.Echo: routes and middlewares to be served.
//
// - opts ...Option: options to configure server.
//
// # Returns
//
// - *Server: the server being started.
//
// - error: when listen fails. The server is not started.
func Start(ctx context.Context, listen Listen, e *echo.Echo, opts ...Option) (*Server, error) {
	conf := &config{gracefulPeriod: 30 * time.Second}
	for _, opt := range opts {
		conf = opt(conf)
	}

	if conf.silent {
		e.HideBanner = true
		e.HidePort = true
	}

	l, err := listen()
	if err != nil {
		return nil, err
	}
	e.Listener = l

	once := sync.Once{}
	context.AfterFunc(ctx, func() {
		once.Do(func() {
			if 0 < conf.gracefulPeriod {
				gctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), conf.gracefulPeriod)
				defer cancel()
				e.Shutdown(gctx) // try to shutdown gracefully
			}
			e.Close() // close forcefully
		})
	})

	ch := make(chan error, 1)
	go func() {
		defer close(ch)
		ch <- e.Start("")
	}()

	port := 0
	if addr, ok := l.Addr().(*net.TCPAddr); ok {
		port = addr.Port
	}
	return &Server{Port: port, ServerStop: ch, e: e}, nil
}
