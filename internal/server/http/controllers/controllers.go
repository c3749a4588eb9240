package controllers

import (
	"net/http"
	"time"

	"github.com/golemcloud/golem-sub031/internal/executor"
	"github.com/golemcloud/golem-sub031/internal/metrics"
	"github.com/golemcloud/golem-sub031/internal/runtime"
)

// Controller owns a group of routes.
type Controller interface {
	RegisterRoutes(mux *http.ServeMux)
}

// Routes mounts every controller of the admin API. m may be nil, in which
// case /metrics is not served.
func Routes(rt *runtime.Runtime, exec *executor.Executor, m *metrics.Metrics) *http.ServeMux {
	mux := http.NewServeMux()
	for _, c := range []Controller{
		&HealthController{rt: rt, exec: exec},
		NewWorkersController(exec, time.Second),
		NewClusterController(exec),
	} {
		c.RegisterRoutes(mux)
	}
	if m != nil {
		mux.Handle("GET /metrics", m.Handler())
	}
	return mux
}

// HealthController answers liveness and readiness checks.
type HealthController struct {
	rt   *runtime.Runtime
	exec *executor.Executor
}

func (c *HealthController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/healthz", c.handleHealth)
	mux.HandleFunc("GET /v1/readyz", c.handleReady)
}

// handleHealth checks that storage still serves reads.
func (c *HealthController) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := c.rt.CheckHealth(r.Context()); err != nil {
		reply(w, http.StatusServiceUnavailable, errorBody{Error: err.Error(), Code: "Unavailable"})
		return
	}
	replyOK(w, map[string]string{"status": "ok"})
}

// handleReady reports ready once the executor owns at least one shard.
func (c *HealthController) handleReady(w http.ResponseWriter, _ *http.Request) {
	owned := len(c.exec.Shards().Sorted())
	if owned == 0 {
		reply(w, http.StatusServiceUnavailable, map[string]any{"status": "no_shards", "ownedShards": 0})
		return
	}
	replyOK(w, map[string]any{"status": "ready", "ownedShards": owned})
}
