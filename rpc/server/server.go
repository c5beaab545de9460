package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/ValentinKolb/ugKV/lib/conn"
	"github.com/ValentinKolb/ugKV/lib/queue"
	"github.com/ValentinKolb/ugKV/lib/table"
	"github.com/ValentinKolb/ugKV/rpc/common"
	"github.com/ValentinKolb/ugKV/rpc/transport"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("rpc")

var (
	ErrAlreadyStarted = errors.New("server already started")
	ErrNotStarted     = errors.New("server not started")
)

// NewRPCServer creates a new server for the given config and transport.
// Nothing is allocated or bound before Start.
//
// Usage:
//
//	s := server.NewRPCServer(
//		config,
//		tcp.NewTCPServerTransport(),
//	)
//
//	if err := s.Serve(); err != nil {
//		panic(err)
//	}
func NewRPCServer(config common.ServerConfig, transport transport.IServerTransport) *Server {
	// https://github.com/golang/go/issues/17393
	if runtime.GOOS == "darwin" {
		signal.Ignore(syscall.Signal(0xd))
	}

	return &Server{
		config:    config,
		transport: transport,
	}
}

// Server wires the storage and dispatch pipeline to a transport:
//
//	transport -> registry (frame extraction) -> queue -> worker pool -> table
//	                                                        |
//	transport <----------------- framed response -----------+
type Server struct {
	config    common.ServerConfig
	transport transport.IServerTransport

	mu       sync.Mutex
	started  bool
	stopped  bool
	addr     net.Addr
	table    *table.Table
	queue    *queue.Queue
	pool     *queue.Pool
	registry *conn.Registry
	metrics  *serverMetrics
	httpSrv  *http.Server
	httpAddr net.Addr
}

// Start builds all components, starts the workers and begins accepting
// connections. It returns the address the transport is bound to.
func (s *Server) Start() (net.Addr, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil, ErrAlreadyStarted
	}
	if err := s.config.Validate(); err != nil {
		return nil, err
	}

	Logger.Infof("starting server%s", s.config.String())

	s.metrics = newServerMetrics()
	s.table = table.New(&table.Options{
		InitialCapacity: s.config.InitialCapacity,
		GrowthIncrement: s.config.GrowthIncrement,
		LoadFactor:      s.config.LoadFactor,
	})
	s.queue = queue.New()
	s.registry = conn.NewRegistry(conn.Options{
		MaxConnections: s.config.MaxConnections,
		MaxPayloadSize: s.config.MaxPayloadBytes,
	}, meteredSink{queue: s.queue, metrics: s.metrics})
	s.metrics.registerGauges(s.table, s.queue, s.registry)

	executor := queue.NewExecutor(s.table, meteredWriter{writer: s.transport, metrics: s.metrics})
	s.pool = queue.NewPool(s.queue, s.config.Workers, s.metrics.timed(executor))
	s.pool.Start()

	s.transport.RegisterHandler(&connHandler{registry: s.registry, metrics: s.metrics})
	addr, err := s.transport.Listen(s.config)
	if err != nil {
		s.pool.Stop()
		return nil, err
	}
	s.addr = addr

	if s.config.MetricsEndpoint != "" {
		if err := s.startMetrics(); err != nil {
			_ = s.transport.Close()
			s.pool.Stop()
			return nil, err
		}
	}

	s.started = true
	Logger.Infof("server listening on %s with %d workers", addr, s.pool.Workers())
	return addr, nil
}

// startMetrics serves the Prometheus metrics on the configured endpoint
func (s *Server) startMetrics() error {
	listener, err := net.Listen("tcp", s.config.MetricsEndpoint)
	if err != nil {
		return fmt.Errorf("failed to listen for metrics: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", s.metrics.handler())
	s.httpSrv = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	s.httpAddr = listener.Addr()

	go func() {
		if err := s.httpSrv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			Logger.Errorf("metrics endpoint failed: %v", err)
		}
	}()

	Logger.Infof("serving metrics on http://%s/metrics", listener.Addr())
	return nil
}

// Shutdown stops accepting connections, closes the open ones and waits until
// the workers have drained the queue.
func (s *Server) Shutdown() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return ErrNotStarted
	}
	if s.stopped {
		return nil
	}
	s.stopped = true

	var errs []error
	if err := s.transport.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close transport: %w", err))
	}

	// no connection is left that could enqueue
	s.pool.Stop()

	if s.httpSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop metrics endpoint: %w", err))
		}
	}

	Logger.Infof("server stopped with %d entries in the table", s.table.Len())
	return errors.Join(errs...)
}

// Serve starts the server and blocks until SIGINT or SIGTERM is received
func (s *Server) Serve() error {
	if _, err := s.Start(); err != nil {
		return err
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sig)

	received := <-sig
	Logger.Infof("received %s, shutting down", received)

	return s.Shutdown()
}

// Addr returns the bound address, nil before Start
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// MetricsAddr returns the address of the metrics endpoint, nil if disabled
func (s *Server) MetricsAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.httpAddr
}

// Table returns the table of a started server, nil before Start
func (s *Server) Table() *table.Table {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.table
}
