package controllers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	executorv1 "github.com/golemcloud/golem-sub031/api/executor/v1"
	"github.com/golemcloud/golem-sub031/internal/executor"
	"github.com/golemcloud/golem-sub031/internal/model"
	"github.com/golemcloud/golem-sub031/internal/oplog"
	grpcserver "github.com/golemcloud/golem-sub031/internal/server/grpc"
	"github.com/golemcloud/golem-sub031/internal/trap"
)

// WorkersController exposes the worker lifecycle as JSON endpoints. Workers
// are addressed as /v1/workers/{component}/{name}.
type WorkersController struct {
	exec *executor.Executor
	// poll is how often the events stream checks for changes.
	poll time.Duration
}

func NewWorkersController(exec *executor.Executor, poll time.Duration) *WorkersController {
	if poll <= 0 {
		poll = time.Second
	}
	return &WorkersController{exec: exec, poll: poll}
}

// RegisterRoutes registers worker routes with the given mux.
func (c *WorkersController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/workers", c.handleList)
	mux.HandleFunc("POST /v1/workers/{component}/{name}", c.handleCreate)
	mux.HandleFunc("GET /v1/workers/{component}/{name}", c.handleGet)
	mux.HandleFunc("POST /v1/workers/{component}/{name}/invoke", c.handleInvoke)
	mux.HandleFunc("POST /v1/workers/{component}/{name}/invoke-and-await", c.handleInvokeAndAwait)
	mux.HandleFunc("POST /v1/workers/{component}/{name}/interrupt", c.handleInterrupt)
	mux.HandleFunc("POST /v1/workers/{component}/{name}/resume", c.handleResume)
	mux.HandleFunc("POST /v1/workers/{component}/{name}/jump", c.handleJump)
	mux.HandleFunc("PUT /v1/workers/{component}/{name}/retry-policy", c.handleRetryPolicy)
	mux.HandleFunc("GET /v1/workers/{component}/{name}/oplog", c.handleOplog)
	mux.HandleFunc("GET /v1/workers/{component}/{name}/events", c.handleEvents)
}

func workerFromPath(r *http.Request) (model.WorkerID, error) {
	cid, err := model.ParseComponentID(r.PathValue("component"))
	if err != nil {
		return model.WorkerID{}, fmt.Errorf("%w: %v", executor.ErrInvalidRequest, err)
	}
	return model.WorkerID{ComponentID: cid, WorkerName: r.PathValue("name")}, nil
}

// handleList lists workers, optionally narrowed by a CEL ?filter.
func (c *WorkersController) handleList(w http.ResponseWriter, r *http.Request) {
	filter, err := executor.ParseWorkerFilter(r.URL.Query().Get("filter"))
	if err != nil {
		replyError(w, err)
		return
	}
	mds, err := c.exec.ListWorkers(r.Context(), filter)
	if err != nil {
		replyError(w, err)
		return
	}
	out := executorv1.ListWorkersResponse{Workers: make([]executorv1.WorkerMetadata, len(mds))}
	for i, md := range mds {
		out.Workers[i] = executor.WireMetadata(md)
	}
	replyOK(w, out)
}

type createWorkerReq struct {
	ComponentVersion *uint64             `json:"componentVersion"`
	Args             []string            `json:"args"`
	Env              []executorv1.EnvVar `json:"env"`
}

func (c *WorkersController) handleCreate(w http.ResponseWriter, r *http.Request) {
	id, err := workerFromPath(r)
	if err != nil {
		replyError(w, err)
		return
	}
	var req createWorkerReq
	if err := decode(r, &req); err != nil {
		replyError(w, err)
		return
	}
	var version *model.ComponentVersion
	if req.ComponentVersion != nil {
		v := model.ComponentVersion(*req.ComponentVersion)
		version = &v
	}
	md, err := c.exec.CreateWorker(r.Context(), id, version, req.Args, executor.ModelEnv(req.Env))
	if err != nil {
		replyError(w, err)
		return
	}
	reply(w, http.StatusCreated, executorv1.CreateWorkerResponse{Worker: id.String(), ComponentVersion: uint64(md.Version)})
}

func (c *WorkersController) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := workerFromPath(r)
	if err != nil {
		replyError(w, err)
		return
	}
	md, err := c.exec.GetMetadata(r.Context(), id)
	if err != nil {
		replyError(w, err)
		return
	}
	replyOK(w, executor.WireMetadata(md))
}

type invokeReq struct {
	Function       string          `json:"function"`
	Input          json.RawMessage `json:"input"`
	IdempotencyKey string          `json:"idempotencyKey"`
}

func (c *WorkersController) decodeInvoke(r *http.Request) (model.WorkerID, invokeReq, error) {
	id, err := workerFromPath(r)
	if err != nil {
		return model.WorkerID{}, invokeReq{}, err
	}
	var req invokeReq
	if err := decode(r, &req); err != nil {
		return model.WorkerID{}, invokeReq{}, err
	}
	if req.Function == "" {
		return model.WorkerID{}, invokeReq{}, fmt.Errorf("%w: function is required", executor.ErrInvalidRequest)
	}
	return id, req, nil
}

func (c *WorkersController) handleInvoke(w http.ResponseWriter, r *http.Request) {
	id, req, err := c.decodeInvoke(r)
	if err != nil {
		replyError(w, err)
		return
	}
	key, err := c.exec.Invoke(r.Context(), id, req.Function, req.Input, model.IdempotencyKey(req.IdempotencyKey))
	if err != nil {
		replyError(w, err)
		return
	}
	reply(w, http.StatusAccepted, executorv1.InvokeResponse{IdempotencyKey: string(key)})
}

type invokeAndAwaitResp struct {
	IdempotencyKey string          `json:"idempotencyKey"`
	Result         json.RawMessage `json:"result"`
}

func (c *WorkersController) handleInvokeAndAwait(w http.ResponseWriter, r *http.Request) {
	id, req, err := c.decodeInvoke(r)
	if err != nil {
		replyError(w, err)
		return
	}
	out, key, err := c.exec.InvokeAndAwait(r.Context(), id, req.Function, req.Input, model.IdempotencyKey(req.IdempotencyKey))
	if err != nil {
		replyError(w, err)
		return
	}
	if len(out) == 0 {
		out = json.RawMessage("null")
	}
	replyOK(w, invokeAndAwaitResp{IdempotencyKey: string(key), Result: out})
}

func (c *WorkersController) handleInterrupt(w http.ResponseWriter, r *http.Request) {
	id, err := workerFromPath(r)
	if err != nil {
		replyError(w, err)
		return
	}
	kind := trap.Interrupt
	if k := r.URL.Query().Get("kind"); k != "" {
		if kind, err = trap.ParseInterruptKind(k); err != nil {
			replyInvalid(w, err)
			return
		}
	}
	if err := c.exec.Interrupt(r.Context(), id, kind); err != nil {
		replyError(w, err)
		return
	}
	replyEmpty(w)
}

func (c *WorkersController) handleResume(w http.ResponseWriter, r *http.Request) {
	id, err := workerFromPath(r)
	if err != nil {
		replyError(w, err)
		return
	}
	if err := c.exec.Resume(r.Context(), id); err != nil {
		replyError(w, err)
		return
	}
	replyEmpty(w)
}

type jumpReq struct {
	Target uint64 `json:"target"`
}

func (c *WorkersController) handleJump(w http.ResponseWriter, r *http.Request) {
	id, err := workerFromPath(r)
	if err != nil {
		replyError(w, err)
		return
	}
	var req jumpReq
	if err := decode(r, &req); err != nil {
		replyError(w, err)
		return
	}
	if err := c.exec.Jump(r.Context(), id, oplog.Index(req.Target)); err != nil {
		replyError(w, err)
		return
	}
	replyEmpty(w)
}

func (c *WorkersController) handleRetryPolicy(w http.ResponseWriter, r *http.Request) {
	id, err := workerFromPath(r)
	if err != nil {
		replyError(w, err)
		return
	}
	cfg := model.DefaultRetryConfig()
	if err := decode(r, &cfg); err != nil {
		replyError(w, err)
		return
	}
	if err := c.exec.SetRetryPolicy(r.Context(), id, cfg); err != nil {
		replyError(w, err)
		return
	}
	replyEmpty(w)
}

// handleOplog returns entries from ?from (default 1), at most ?limit of them.
// Entries inside deleted regions are hidden unless ?includeDeleted is set.
func (c *WorkersController) handleOplog(w http.ResponseWriter, r *http.Request) {
	id, err := workerFromPath(r)
	if err != nil {
		replyError(w, err)
		return
	}
	q := queryOf(r)
	from, limit, withDeleted := q.uint("from"), q.uint("limit"), q.flag("includeDeleted")
	if q.err != nil {
		replyError(w, q.err)
		return
	}
	recs, deleted, err := c.exec.ReadOplog(r.Context(), id, oplog.Index(from), int(limit))
	if err != nil {
		replyError(w, err)
		return
	}
	entries, err := executor.WireOplog(recs, deleted)
	if err != nil {
		replyError(w, err)
		return
	}
	if !withDeleted && !deleted.IsEmpty() {
		kept := entries[:0]
		for _, e := range entries {
			if !e.Deleted {
				kept = append(kept, e)
			}
		}
		entries = kept
	}
	replyOK(w, executorv1.ReadOplogResponse{Entries: entries})
}

// pingEvery is how many quiet polls pass before the events stream sends a
// keep-alive comment.
const pingEvery = 15

// handleEvents streams the worker's metadata as Server-Sent Events whenever
// its status, phase or oplog index changes.
func (c *WorkersController) handleEvents(w http.ResponseWriter, r *http.Request) {
	id, err := workerFromPath(r)
	if err != nil {
		replyError(w, err)
		return
	}
	ctx := r.Context()
	md, err := c.exec.GetMetadata(ctx, id)
	if err != nil {
		replyError(w, err)
		return
	}
	stream := openEventStream(w)
	last := executor.WireMetadata(md)
	if err := stream.send(last.OplogIndex, "status", last); err != nil {
		return
	}
	ticker := time.NewTicker(c.poll)
	defer ticker.Stop()
	quiet := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		md, err := c.exec.GetMetadata(ctx, id)
		if err != nil {
			_ = stream.send(0, "error", errorBody{Error: err.Error(), Code: grpcserver.Code(err).String()})
			return
		}
		next := executor.WireMetadata(md)
		if next.Status == last.Status && next.Phase == last.Phase && next.OplogIndex == last.OplogIndex {
			if quiet++; quiet%pingEvery == 0 {
				if err := stream.ping(); err != nil {
					return
				}
			}
			continue
		}
		quiet, last = 0, next
		if err := stream.send(next.OplogIndex, "status", next); err != nil {
			return
		}
	}
}
