// Package acceptor owns the listener lifecycle a 9P2000.L server needs
// around a session: accepting connections, bounding their count, and
// driving graceful shutdown across all of them.
package acceptor

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/l9p/l9p/internal/addr"
	"github.com/l9p/l9p/internal/backend"
	"github.com/l9p/l9p/internal/logger"
	"github.com/l9p/l9p/internal/session"
)

// Config controls how an Acceptor listens and shuts down. It is the
// transport-facing half of the server's configuration; Session.Config
// covers the protocol-facing half.
type Config struct {
	// Listen is a <scheme>!<address>!<port> endpoint, parsed by
	// internal/addr.
	Listen string

	// MaxConnections caps concurrent connections. Zero means unlimited.
	MaxConnections int

	// ShutdownTimeout bounds how long Serve waits for active connections to
	// finish once ctx is cancelled before force-closing them.
	ShutdownTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 30 * time.Second
	}
}

// Acceptor listens for connections and serves each one as a 9P2000.L
// session over a Backend[S]. Shutdown closes the listener, cancels
// in-flight requests, waits up to ShutdownTimeout, then force-closes
// stragglers.
type Acceptor[S any] struct {
	cfg        Config
	backend    backend.Backend[S]
	sessionCfg session.Config
	metrics    session.Metrics

	listenerMu sync.Mutex
	listener   net.Listener

	activeConns sync.WaitGroup
	connCount   atomic.Int32
	connections sync.Map // remote addr string -> net.Conn

	connSemaphore chan struct{}

	shutdownOnce   sync.Once
	shutdown       chan struct{}
	cancelRequests context.CancelFunc
}

// New returns an Acceptor ready to Serve. metrics may be nil.
func New[S any](cfg Config, be backend.Backend[S], sessionCfg session.Config, metrics session.Metrics) *Acceptor[S] {
	cfg.applyDefaults()

	var sem chan struct{}
	if cfg.MaxConnections > 0 {
		sem = make(chan struct{}, cfg.MaxConnections)
	}

	return &Acceptor[S]{
		cfg:           cfg,
		backend:       be,
		sessionCfg:    sessionCfg,
		metrics:       metrics,
		connSemaphore: sem,
		shutdown:      make(chan struct{}),
	}
}

// Addr returns the listener's bound address. It is only valid once Serve
// has started listening; useful in tests that bind an OS-assigned port.
func (a *Acceptor[S]) Addr() net.Addr {
	a.listenerMu.Lock()
	ln := a.listener
	a.listenerMu.Unlock()
	if ln == nil {
		return nil
	}
	return ln.Addr()
}

// ActiveConnections reports the current number of connections being served.
func (a *Acceptor[S]) ActiveConnections() int32 {
	return a.connCount.Load()
}

// Serve binds the configured endpoint and accepts connections until ctx is
// cancelled, serving each one as an independent Session. It blocks until
// shutdown completes. It returns a non-nil error if the endpoint cannot be
// parsed or bound, or if some connections had to be force-closed after
// ShutdownTimeout.
func (a *Acceptor[S]) Serve(ctx context.Context) error {
	ep, err := addr.Parse(a.cfg.Listen)
	if err != nil {
		return fmt.Errorf("acceptor: %w", err)
	}

	ln, err := net.Listen(ep.Network, ep.Address)
	if err != nil {
		return fmt.Errorf("acceptor: listen %s: %w", a.cfg.Listen, err)
	}
	a.listenerMu.Lock()
	a.listener = ln
	a.listenerMu.Unlock()
	logger.Infow("9p: listening", "endpoint", a.cfg.Listen, "addr", ln.Addr())

	reqCtx, cancel := context.WithCancel(context.Background())
	a.cancelRequests = cancel

	go func() {
		<-ctx.Done()
		logger.Info("9p: shutdown signal received: %v", ctx.Err())
		a.initiateShutdown()
	}()

	for {
		if a.connSemaphore != nil {
			select {
			case a.connSemaphore <- struct{}{}:
			case <-a.shutdown:
				return a.gracefulShutdown()
			}
		}

		conn, err := a.listener.Accept()
		if err != nil {
			if a.connSemaphore != nil {
				<-a.connSemaphore
			}
			select {
			case <-a.shutdown:
				return a.gracefulShutdown()
			default:
				logger.Debug("9p: accept error: %v", err)
				continue
			}
		}

		a.activeConns.Add(1)
		n := a.connCount.Add(1)
		remote := conn.RemoteAddr().String()
		a.connections.Store(remote, conn)
		logger.Debugw("9p: connection accepted", "remote", remote, "active", n)

		s := session.New[S](conn, a.backend, a.sessionCfg, a.metrics)
		go func(remote string, conn net.Conn) {
			defer func() {
				a.connections.Delete(remote)
				a.activeConns.Done()
				n := a.connCount.Add(-1)
				if a.connSemaphore != nil {
					<-a.connSemaphore
				}
				logger.Debugw("9p: connection closed", "remote", remote, "active", n)
			}()
			s.Serve(reqCtx)
		}(remote, conn)
	}
}

// initiateShutdown stops accepting new connections and cancels in-flight
// requests. Safe to call more than once.
func (a *Acceptor[S]) initiateShutdown() {
	a.shutdownOnce.Do(func() {
		close(a.shutdown)
		a.listenerMu.Lock()
		ln := a.listener
		a.listenerMu.Unlock()
		if ln != nil {
			if err := ln.Close(); err != nil {
				logger.Debug("9p: error closing listener: %v", err)
			}
		}
		a.cancelRequests()
	})
}

// gracefulShutdown waits for active connections to finish on their own, up
// to ShutdownTimeout, then force-closes whatever remains.
func (a *Acceptor[S]) gracefulShutdown() error {
	active := a.connCount.Load()
	logger.Infow("9p: graceful shutdown, waiting for connections", "active", active, "timeout", a.cfg.ShutdownTimeout)

	done := make(chan struct{})
	go func() {
		a.activeConns.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("9p: graceful shutdown complete")
		return nil
	case <-time.After(a.cfg.ShutdownTimeout):
		remaining := a.connCount.Load()
		logger.Warnw("9p: shutdown timeout exceeded, forcing closure", "active", remaining)
		a.forceCloseConnections()
		return fmt.Errorf("acceptor: shutdown timeout: %d connections force-closed", remaining)
	}
}

func (a *Acceptor[S]) forceCloseConnections() {
	closed := 0
	a.connections.Range(func(key, value any) bool {
		conn := value.(net.Conn)
		if err := conn.Close(); err != nil {
			logger.Debug("9p: error force-closing %s: %v", key, err)
		} else {
			closed++
		}
		return true
	})
	if closed > 0 {
		logger.Info("9p: force-closed %d connection(s)", closed)
	}
}

// Stop requests shutdown and waits for it to complete, honoring ctx's
// deadline in addition to the configured ShutdownTimeout.
func (a *Acceptor[S]) Stop(ctx context.Context) error {
	a.initiateShutdown()

	done := make(chan struct{})
	go func() {
		a.activeConns.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		a.forceCloseConnections()
		return ctx.Err()
	}
}
