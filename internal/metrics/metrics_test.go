package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/golemcloud/golem-sub031/internal/recovery"
	"github.com/golemcloud/golem-sub031/internal/trap"
)

func TestCollectors(t *testing.T) {
	m := New()
	m.ObserveInvocation("increment", 10*time.Millisecond, nil)
	m.ObserveInvocation("increment", time.Millisecond, errors.New("boom"))
	m.ObserveDurableCall("wall-clock::now", true)
	m.ObserveDurableCall("wall-clock::now", false)
	m.ObserveTrap(trap.ErrorTrap(trap.OutOfMemoryError()), recovery.Decision{Kind: recovery.Delayed, Delay: time.Second})
	m.ObserveTrap(trap.InterruptTrap(trap.Suspend), recovery.Decision{Kind: recovery.None})
	m.SetActiveWorkers(3)
	m.Storage().ObserveBatchCommit(time.Millisecond, 4, 128)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.invocations.WithLabelValues("increment", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.invocations.WithLabelValues("increment", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.durableCalls.WithLabelValues("wall-clock::now", "replay")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.traps.WithLabelValues("out_of_memory", recovery.Delayed.String())))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.traps.WithLabelValues("interrupt_suspend", recovery.None.String())))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.activeWorkers))
	assert.Equal(t, 128.0, testutil.ToFloat64(m.storageBytes.WithLabelValues("batch")))
}

func TestHandler(t *testing.T) {
	m := New()
	m.SetOwnedShards(2)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "golem_executor_owned_shards 2")
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	m.ObserveInvocation("f", time.Second, nil)
	m.ObserveRequest("Invoke", time.Second, nil)
	m.Storage().ObserveWrite(time.Second, 1)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
