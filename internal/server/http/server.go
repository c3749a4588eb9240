package httpserver

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/golemcloud/golem-sub031/internal/executor"
	"github.com/golemcloud/golem-sub031/internal/metrics"
	"github.com/golemcloud/golem-sub031/internal/runtime"
	"github.com/golemcloud/golem-sub031/internal/server/http/controllers"
	"github.com/golemcloud/golem-sub031/pkg/log"
)

const shutdownGrace = 5 * time.Second

type Server struct {
	handler http.Handler
	logger  log.Logger
	srv     atomic.Pointer[http.Server]
}

// New builds the admin server. m may be nil.
func New(rt *runtime.Runtime, exec *executor.Executor, m *metrics.Metrics, logger log.Logger) *Server {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	logger = logger.With(log.Component("http"))
	var h http.Handler = controllers.Routes(rt, exec, m)
	h = allowCORS(h)
	h = recoverPanics(h, logger)
	h = accessLog(h, logger)
	return &Server{handler: h, logger: logger}
}

// Handler exposes the routes for tests and embedding.
func (s *Server) Handler() http.Handler { return s.handler }

// ListenAndServe serves addr until ctx is done, then drains open requests
// for a few seconds. The events streams end with ctx.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          log.ToStdLogger(s.logger),
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	s.srv.Store(srv)
	s.logger.Info("http listening", log.Str("addr", l.Addr().String()))
	done := make(chan error, 1)
	go func() { done <- srv.Serve(l) }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
	}
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return nil
}

// Close drops the listener and open connections without draining.
func (s *Server) Close() {
	if srv := s.srv.Load(); srv != nil {
		_ = srv.Close()
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Flush keeps Server-Sent Events working behind the recorder.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func accessLog(next http.Handler, logger log.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		fields := []log.Field{
			log.Str("method", r.Method),
			log.Str("path", r.URL.Path),
			log.Int("status", rec.status),
			log.Dur("elapsed", time.Since(start)),
		}
		if rec.status >= http.StatusInternalServerError {
			logger.Warn("request failed", fields...)
			return
		}
		logger.Debug("request", fields...)
	})
}

func recoverPanics(next http.Handler, logger log.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				if v == http.ErrAbortHandler {
					panic(v)
				}
				logger.Error("handler panicked", log.Str("path", r.URL.Path), log.Any("panic", v))
				http.Error(w, `{"error":"internal error","code":"Internal"}`, http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func allowCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
