package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/golemcloud/golem-sub031/internal/durability"
	"github.com/golemcloud/golem-sub031/internal/host"
	"github.com/golemcloud/golem-sub031/internal/model"
	"github.com/golemcloud/golem-sub031/internal/oplog"
	"github.com/golemcloud/golem-sub031/internal/status"
	"github.com/golemcloud/golem-sub031/internal/workerconfig"
	"github.com/golemcloud/golem-sub031/pkg/log"
)

// instance is the supervisor's handle on one running program instance.
type instance struct {
	token *token
	work  chan *invocation
	// ready is set by the supervisor once replay finished.
	ready bool
	// oneShot instances run a single invocation; spent is set once it was
	// handed out.
	oneShot bool
	spent   bool
}

type eventKind uint8

const (
	eventReady eventKind = iota
	eventCompleted
	eventTrapped
	eventClosed
)

// event is sent from an instance goroutine to the supervisor.
type event struct {
	kind     eventKind
	inst     *instance
	key      model.IdempotencyKey
	function string
	resp     json.RawMessage
	err      error
	stderr   string
	elapsed  time.Duration
	// index is the oplog index of a completion.
	index oplog.Index
	// begun is set on traps raised after the invocation was recorded.
	begun bool
}

func (w *Worker) emit(ev event) {
	select {
	case w.events <- ev:
	case <-w.stopped:
	}
}

// run owns the program instance: it replays the oplog, reports ready and
// then executes queued invocations one at a time until it traps.
func (w *Worker) run(inst *instance, rec status.Record) {
	ctx := w.ctx
	var stderr bytes.Buffer
	trapped := func(err error, function string, started time.Time, begun bool) {
		ev := event{kind: eventTrapped, inst: inst, err: err, stderr: stderr.String(), function: function, begun: begun}
		if !started.IsZero() {
			ev.elapsed = time.Since(started)
		}
		w.emit(ev)
	}

	exec, err := durability.Open(ctx, durability.Options{
		Store:          w.deps.Oplog,
		Worker:         w.id,
		ComponentType:  rec.ComponentType,
		DeletedRegions: rec.DeletedRegions,
		Interrupted:    inst.token.Err,
		Tracer:         w.deps.Tracer,
		Observer:       w.deps.Observer,
		Logger:         w.logger,
	})
	if err != nil {
		trapped(err, "", time.Time{}, false)
		return
	}
	var binary []byte
	if w.deps.Components != nil {
		binary, err = w.deps.Components.Binary(ctx, w.id.ComponentID, rec.ComponentVersion)
		if err != nil {
			trapped(fmt.Errorf("load component %s version %d: %w", w.id.ComponentID, rec.ComponentVersion, err), "", time.Time{}, false)
			return
		}
	}
	prog, err := w.deps.Host.Instantiate(ctx, host.Spec{
		Worker:           w.id,
		ComponentVersion: rec.ComponentVersion,
		ComponentType:    rec.ComponentType,
		Binary:           binary,
		Config:           workerconfig.Build(w.id, rec.ComponentVersion, rec.Args, rec.Env, rec.DeletedRegions, w.deps.MemorySize),
		Exec:             exec,
		Proxy:            w.deps.Proxy,
	})
	if err != nil {
		trapped(err, "", time.Time{}, false)
		return
	}
	defer func() {
		if err := prog.Close(context.WithoutCancel(ctx)); err != nil {
			w.logger.Warn("close instance", log.Err(err))
		}
	}()

	replayed := 0
	for {
		inv, ok, err := exec.NextInvocation(ctx)
		if err != nil {
			trapped(err, "", time.Time{}, false)
			return
		}
		if !ok {
			break
		}
		started := time.Now()
		resp, err := w.invoke(ctx, exec, prog, inv.Function, inv.Request, &stderr)
		if err != nil {
			trapped(err, inv.Function, started, false)
			return
		}
		replayed++
		w.emit(event{kind: eventCompleted, inst: inst, key: inv.IdempotencyKey, function: inv.Function, resp: resp, index: exec.Cursor(), elapsed: time.Since(started)})
	}
	if replayed > 0 {
		w.logger.Debug("replay finished", log.Int("invocations", replayed), log.Uint64("cursor", uint64(exec.Cursor())))
	}
	w.emit(event{kind: eventReady, inst: inst})

	for {
		select {
		case inv := <-inst.work:
			stderr.Reset()
			started := time.Now()
			if err := inst.token.Err(); err != nil {
				trapped(err, inv.function, started, false)
				return
			}
			if err := exec.BeginInvocation(ctx, inv.function, inv.request, inv.result.Key); err != nil {
				trapped(err, inv.function, started, false)
				return
			}
			resp, err := w.invoke(ctx, exec, prog, inv.function, inv.request, &stderr)
			if err != nil {
				trapped(err, inv.function, started, true)
				return
			}
			w.emit(event{kind: eventCompleted, inst: inst, key: inv.result.Key, function: inv.function, resp: resp, index: exec.Cursor(), elapsed: time.Since(started)})
			if rec.ComponentType == model.Ephemeral {
				w.emit(event{kind: eventClosed, inst: inst})
				return
			}
		case <-inst.token.Done():
			trapped(inst.token.Err(), "", time.Time{}, false)
			return
		}
	}
}

// invoke runs one exported function and records or replays its completion.
func (w *Worker) invoke(ctx context.Context, exec *durability.Execution, prog host.Instance, function string, request json.RawMessage, stderr io.Writer) (json.RawMessage, error) {
	ctx, span := w.deps.Tracer.Start(ctx, "invoke "+function, trace.WithAttributes(
		attribute.String("worker.id", w.id.String()),
		attribute.Bool("worker.replay", !exec.IsLive()),
	))
	defer span.End()

	resp, err := prog.Invoke(ctx, function, request, stderr)
	if err == nil {
		resp, err = exec.CompleteInvocation(ctx, resp)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return resp, err
}
