package controllers

import (
	"fmt"
	"io"
	"net/http"

	"google.golang.org/grpc/codes"

	executorv1 "github.com/golemcloud/golem-sub031/api/executor/v1"
	"github.com/golemcloud/golem-sub031/internal/executor"
	"github.com/golemcloud/golem-sub031/internal/model"
	"github.com/golemcloud/golem-sub031/internal/shard"
)

// maxComponentBytes caps uploaded program binaries.
const maxComponentBytes = 64 << 20

// ClusterController handles shard assignment and component registration.
type ClusterController struct {
	exec *executor.Executor
}

func NewClusterController(exec *executor.Executor) *ClusterController {
	return &ClusterController{exec: exec}
}

// RegisterRoutes registers shard and component routes with the given mux.
func (c *ClusterController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/shards", c.handleShards)
	mux.HandleFunc("POST /v1/shards/assign", c.handleAssign)
	mux.HandleFunc("POST /v1/shards/revoke", c.handleRevoke)
	mux.HandleFunc("POST /v1/components", c.handleRegister)
	mux.HandleFunc("POST /v1/components/{component}", c.handleRegister)
}

func (c *ClusterController) handleShards(w http.ResponseWriter, _ *http.Request) {
	replyOK(w, executor.WireShards(c.exec.Shards()))
}

func decodeShards(r *http.Request) (executorv1.ShardsRequest, []shard.ID, error) {
	var req executorv1.ShardsRequest
	if err := decode(r, &req); err != nil {
		return req, nil, err
	}
	ids := make([]shard.ID, len(req.ShardIDs))
	for i, id := range req.ShardIDs {
		ids[i] = shard.ID(id)
	}
	return req, ids, nil
}

func (c *ClusterController) handleAssign(w http.ResponseWriter, r *http.Request) {
	req, ids, err := decodeShards(r)
	if err != nil {
		replyError(w, err)
		return
	}
	n := req.NumberOfShards
	if n == 0 {
		n = c.exec.Shards().NumberOfShards
	}
	a, err := c.exec.AssignShards(r.Context(), n, ids...)
	if err != nil {
		replyError(w, err)
		return
	}
	replyOK(w, executor.WireShards(a))
}

func (c *ClusterController) handleRevoke(w http.ResponseWriter, r *http.Request) {
	_, ids, err := decodeShards(r)
	if err != nil {
		replyError(w, err)
		return
	}
	a, err := c.exec.RevokeShards(r.Context(), ids...)
	if err != nil {
		replyError(w, err)
		return
	}
	replyOK(w, executor.WireShards(a))
}

// handleRegister stores the request body as a program binary. The name and
// type come from the query string; a component id in the path adds a new
// version.
func (c *ClusterController) handleRegister(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	ct, err := model.ParseComponentType(q.Get("type"))
	if err != nil {
		replyInvalid(w, err)
		return
	}
	var cid *model.ComponentID
	if s := r.PathValue("component"); s != "" {
		id, err := model.ParseComponentID(s)
		if err != nil {
			replyInvalid(w, err)
			return
		}
		cid = &id
	}
	bin, err := io.ReadAll(io.LimitReader(r.Body, maxComponentBytes+1))
	if err != nil {
		replyInvalid(w, err)
		return
	}
	if len(bin) > maxComponentBytes {
		reply(w, http.StatusRequestEntityTooLarge, errorBody{
			Error: fmt.Sprintf("component larger than %d bytes", maxComponentBytes),
			Code:  codes.ResourceExhausted.String(),
		})
		return
	}
	md, err := c.exec.RegisterComponent(r.Context(), cid, q.Get("name"), ct, bin)
	if err != nil {
		replyError(w, err)
		return
	}
	reply(w, http.StatusCreated, executor.WireComponent(md))
}
