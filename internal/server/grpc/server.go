package grpcserver

import (
	"context"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	executorv1 "github.com/golemcloud/golem-sub031/api/executor/v1"
	"github.com/golemcloud/golem-sub031/internal/executor"
	"github.com/golemcloud/golem-sub031/internal/metrics"
	"github.com/golemcloud/golem-sub031/internal/runtime"
	"github.com/golemcloud/golem-sub031/pkg/log"
)

const (
	defaultShutdownGrace = 10 * time.Second
	// Component binaries travel in RegisterComponent requests.
	defaultMaxRecvBytes = 64 << 20
)

// Server serves the health and WorkerExecutor services.
type Server struct {
	grpc   *grpc.Server
	health *healthSvc
	logger log.Logger
	grace  time.Duration

	stopOnce sync.Once
}

type Options struct {
	Metrics *metrics.Metrics
	Logger  log.Logger
	// ShutdownGrace bounds how long in-flight calls, such as a long
	// InvokeAndAwait, may run once the server stops.
	ShutdownGrace time.Duration
	MaxRecvBytes  int
	// ServerOptions are passed to grpc.NewServer after the built-in ones.
	ServerOptions []grpc.ServerOption
}

func New(rt *runtime.Runtime, exec *executor.Executor, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = log.NewNopLogger()
	}
	if opts.ShutdownGrace <= 0 {
		opts.ShutdownGrace = defaultShutdownGrace
	}
	if opts.MaxRecvBytes <= 0 {
		opts.MaxRecvBytes = defaultMaxRecvBytes
	}
	logger := opts.Logger.With(log.Component("grpc"))
	sopts := []grpc.ServerOption{
		grpc.MaxRecvMsgSize(opts.MaxRecvBytes),
		grpc.ChainUnaryInterceptor(
			observeUnary(logger, opts.Metrics),
			recoverUnary(logger),
		),
	}
	s := &Server{
		grpc:   grpc.NewServer(append(sopts, opts.ServerOptions...)...),
		health: &healthSvc{rt: rt},
		logger: logger,
		grace:  opts.ShutdownGrace,
	}
	healthpb.RegisterHealthServer(s.grpc, s.health)
	executorv1.RegisterWorkerExecutorServer(s.grpc, &executorSvc{exec: exec})
	return s
}

func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, l)
}

// Serve accepts connections on l until ctx is done.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	s.logger.Info("grpc listening", log.Str("addr", l.Addr().String()))
	done := make(chan error, 1)
	go func() { done <- s.grpc.Serve(l) }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		s.Close()
		return nil
	}
}

// Close reports NOT_SERVING, lets in-flight calls finish within the grace
// period and then cuts the rest off. It is safe to call more than once.
func (s *Server) Close() {
	s.stopOnce.Do(func() {
		s.health.draining.Store(true)
		stopped := make(chan struct{})
		go func() {
			s.grpc.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-time.After(s.grace):
			s.logger.Warn("grace period over, closing open calls", log.Dur("grace", s.grace))
			s.grpc.Stop()
		}
	})
}

// observeUnary converts domain errors to status codes and records request
// metrics.
func observeUnary(logger log.Logger, m *metrics.Metrics) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		if err != nil {
			err = Status(err)
			if status.Code(err) == codes.Internal {
				logger.Error("request failed", log.Str("method", info.FullMethod), log.Err(err))
			} else {
				logger.Debug("request failed", log.Str("method", info.FullMethod), log.Err(err))
			}
		}
		m.ObserveRequest("grpc:"+info.FullMethod, time.Since(start), err)
		return resp, err
	}
}

func recoverUnary(logger log.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
		defer func() {
			if v := recover(); v != nil {
				logger.Error("handler panicked", log.Str("method", info.FullMethod), log.Any("panic", v))
				err = status.Errorf(codes.Internal, "%s panicked", info.FullMethod)
			}
		}()
		return handler(ctx, req)
	}
}
