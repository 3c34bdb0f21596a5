package feed

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Server accepts line feeds over TCP. Every connection is an independent
// stream; all of them share one Processor, whose exclusive region keeps
// deduplication exact across connections.
type Server struct {
	// Processor receives every record. Required.
	Processor Processor

	// Config bounds each connection's queue and line length.
	Config Config

	// IdleTimeout closes a connection that sends nothing for this long.
	// Zero disables the timeout.
	IdleTimeout time.Duration

	// Logger receives connection lifecycle logs. Nil disables logging.
	Logger *slog.Logger

	mu       sync.Mutex
	listener net.Listener
}

// ListenAndServe listens on addr and serves until ctx is cancelled or a
// processor fails.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln. It returns nil after ctx is cancelled and
// every connection has drained, or the first processor error. A connection
// that fails to read is closed and logged; it does not stop the server.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		<-ctx.Done()
		return ln.Close()
	})

	g.Go(func() error {
		for {
			conn, err := ln.Accept()
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
			g.Go(func() error {
				return s.serveConn(ctx, conn)
			})
		}
	})

	err := g.Wait()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// Addr returns the listener address once Serve has started.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) serveConn(ctx context.Context, conn net.Conn) error {
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()
	defer conn.Close()

	remote := conn.RemoteAddr().String()
	if s.Logger != nil {
		s.Logger.Debug("feed connection opened", slog.String("remote", remote))
	}

	var src io.Reader = conn
	if s.IdleTimeout > 0 {
		src = &idleConn{Conn: conn, timeout: s.IdleTimeout}
	}

	err := Run(ctx, src, s.Processor, s.Config)

	var readErr *ReadError
	switch {
	case err == nil, ctx.Err() != nil:
		err = nil
	case errors.As(err, &readErr):
		if s.Logger != nil {
			s.Logger.Warn("feed connection failed",
				slog.String("remote", remote),
				slog.String("error", err.Error()))
		}
		err = nil
	}

	if s.Logger != nil {
		s.Logger.Debug("feed connection closed", slog.String("remote", remote))
	}
	return err
}

// idleConn pushes the read deadline forward before every read.
type idleConn struct {
	net.Conn
	timeout time.Duration
}

func (c *idleConn) Read(p []byte) (int, error) {
	if err := c.Conn.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
		return 0, err
	}
	return c.Conn.Read(p)
}
