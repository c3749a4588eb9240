package grpcserver

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	executorv1 "github.com/golemcloud/golem-sub031/api/executor/v1"
	"github.com/golemcloud/golem-sub031/internal/executor"
	"github.com/golemcloud/golem-sub031/internal/model"
	"github.com/golemcloud/golem-sub031/internal/oplog"
	"github.com/golemcloud/golem-sub031/internal/shard"
	"github.com/golemcloud/golem-sub031/internal/trap"
)

type executorSvc struct {
	executorv1.UnimplementedWorkerExecutorServer
	exec *executor.Executor
}

func parseWorker(s string) (model.WorkerID, error) {
	id, err := model.ParseWorkerID(s)
	if err != nil {
		return model.WorkerID{}, fmt.Errorf("%w: %v", executor.ErrInvalidRequest, err)
	}
	return id, nil
}

func parseInput(s string) (json.RawMessage, error) {
	if s == "" {
		return nil, nil
	}
	if !json.Valid([]byte(s)) {
		return nil, fmt.Errorf("%w: input is not valid JSON", executor.ErrInvalidRequest)
	}
	return json.RawMessage(s), nil
}

func (s *executorSvc) CreateWorker(ctx context.Context, req *executorv1.CreateWorkerRequest) (*executorv1.CreateWorkerResponse, error) {
	w, err := parseWorker(req.Worker)
	if err != nil {
		return nil, err
	}
	var version *model.ComponentVersion
	if req.ComponentVersion != nil {
		v := model.ComponentVersion(*req.ComponentVersion)
		version = &v
	}
	md, err := s.exec.CreateWorker(ctx, w, version, req.Args, executor.ModelEnv(req.Env))
	if err != nil {
		return nil, err
	}
	return &executorv1.CreateWorkerResponse{Worker: w.String(), ComponentVersion: uint64(md.Version)}, nil
}

func (s *executorSvc) Invoke(ctx context.Context, req *executorv1.InvokeRequest) (*executorv1.InvokeResponse, error) {
	w, err := parseWorker(req.Worker)
	if err != nil {
		return nil, err
	}
	input, err := parseInput(req.Input)
	if err != nil {
		return nil, err
	}
	key, err := s.exec.Invoke(ctx, w, req.Function, input, model.IdempotencyKey(req.IdempotencyKey))
	if err != nil {
		return nil, err
	}
	return &executorv1.InvokeResponse{IdempotencyKey: string(key)}, nil
}

func (s *executorSvc) InvokeAndAwait(ctx context.Context, req *executorv1.InvokeRequest) (*executorv1.InvokeAndAwaitResponse, error) {
	w, err := parseWorker(req.Worker)
	if err != nil {
		return nil, err
	}
	input, err := parseInput(req.Input)
	if err != nil {
		return nil, err
	}
	out, key, err := s.exec.InvokeAndAwait(ctx, w, req.Function, input, model.IdempotencyKey(req.IdempotencyKey))
	if err != nil {
		return nil, err
	}
	return &executorv1.InvokeAndAwaitResponse{IdempotencyKey: string(key), Result: string(out)}, nil
}

func (s *executorSvc) Interrupt(ctx context.Context, req *executorv1.InterruptRequest) (*executorv1.Empty, error) {
	w, err := parseWorker(req.Worker)
	if err != nil {
		return nil, err
	}
	kind := trap.Interrupt
	if req.Kind != "" {
		if kind, err = trap.ParseInterruptKind(req.Kind); err != nil {
			return nil, fmt.Errorf("%w: %v", executor.ErrInvalidRequest, err)
		}
	}
	if err := s.exec.Interrupt(ctx, w, kind); err != nil {
		return nil, err
	}
	return &executorv1.Empty{}, nil
}

func (s *executorSvc) Resume(ctx context.Context, req *executorv1.WorkerRequest) (*executorv1.Empty, error) {
	w, err := parseWorker(req.Worker)
	if err != nil {
		return nil, err
	}
	if err := s.exec.Resume(ctx, w); err != nil {
		return nil, err
	}
	return &executorv1.Empty{}, nil
}

func (s *executorSvc) Jump(ctx context.Context, req *executorv1.JumpRequest) (*executorv1.Empty, error) {
	w, err := parseWorker(req.Worker)
	if err != nil {
		return nil, err
	}
	if err := s.exec.Jump(ctx, w, oplog.Index(req.Target)); err != nil {
		return nil, err
	}
	return &executorv1.Empty{}, nil
}

func (s *executorSvc) SetRetryPolicy(ctx context.Context, req *executorv1.SetRetryPolicyRequest) (*executorv1.Empty, error) {
	w, err := parseWorker(req.Worker)
	if err != nil {
		return nil, err
	}
	cfg := model.DefaultRetryConfig()
	cfg.MaxAttempts = req.MaxAttempts
	cfg.MaxJitterFactor = req.MaxJitterFactor
	if req.Multiplier != 0 {
		cfg.Multiplier = req.Multiplier
	}
	if cfg.MinDelay, err = parseDelay("minDelay", req.MinDelay, cfg.MinDelay); err != nil {
		return nil, err
	}
	if cfg.MaxDelay, err = parseDelay("maxDelay", req.MaxDelay, cfg.MaxDelay); err != nil {
		return nil, err
	}
	if err := s.exec.SetRetryPolicy(ctx, w, cfg); err != nil {
		return nil, err
	}
	return &executorv1.Empty{}, nil
}

func parseDelay(field, s string, def time.Duration) (time.Duration, error) {
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", executor.ErrInvalidRequest, field, err)
	}
	return d, nil
}

func (s *executorSvc) GetMetadata(ctx context.Context, req *executorv1.WorkerRequest) (*executorv1.WorkerMetadata, error) {
	w, err := parseWorker(req.Worker)
	if err != nil {
		return nil, err
	}
	md, err := s.exec.GetMetadata(ctx, w)
	if err != nil {
		return nil, err
	}
	out := executor.WireMetadata(md)
	return &out, nil
}

func (s *executorSvc) ListWorkers(ctx context.Context, req *executorv1.ListWorkersRequest) (*executorv1.ListWorkersResponse, error) {
	filter, err := executor.ParseWorkerFilter(req.Filter)
	if err != nil {
		return nil, err
	}
	mds, err := s.exec.ListWorkers(ctx, filter)
	if err != nil {
		return nil, err
	}
	out := &executorv1.ListWorkersResponse{Workers: make([]executorv1.WorkerMetadata, len(mds))}
	for i, md := range mds {
		out.Workers[i] = executor.WireMetadata(md)
	}
	return out, nil
}

func (s *executorSvc) ReadOplog(ctx context.Context, req *executorv1.ReadOplogRequest) (*executorv1.ReadOplogResponse, error) {
	w, err := parseWorker(req.Worker)
	if err != nil {
		return nil, err
	}
	recs, deleted, err := s.exec.ReadOplog(ctx, w, oplog.Index(req.From), req.Count)
	if err != nil {
		return nil, err
	}
	entries, err := executor.WireOplog(recs, deleted)
	if err != nil {
		return nil, err
	}
	return &executorv1.ReadOplogResponse{Entries: entries}, nil
}

func (s *executorSvc) RegisterComponent(ctx context.Context, req *executorv1.RegisterComponentRequest) (*executorv1.Component, error) {
	ct, err := model.ParseComponentType(req.Type)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", executor.ErrInvalidRequest, err)
	}
	var cid *model.ComponentID
	if req.ComponentID != "" {
		id, err := model.ParseComponentID(req.ComponentID)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", executor.ErrInvalidRequest, err)
		}
		cid = &id
	}
	md, err := s.exec.RegisterComponent(ctx, cid, req.Name, ct, req.Binary)
	if err != nil {
		return nil, err
	}
	out := executor.WireComponent(md)
	return &out, nil
}

func shardIDs(in []int64) []shard.ID {
	out := make([]shard.ID, len(in))
	for i, id := range in {
		out[i] = shard.ID(id)
	}
	return out
}

func (s *executorSvc) AssignShards(ctx context.Context, req *executorv1.ShardsRequest) (*executorv1.ShardsResponse, error) {
	n := req.NumberOfShards
	if n == 0 {
		n = s.exec.Shards().NumberOfShards
	}
	a, err := s.exec.AssignShards(ctx, n, shardIDs(req.ShardIDs)...)
	if err != nil {
		return nil, err
	}
	out := executor.WireShards(a)
	return &out, nil
}

func (s *executorSvc) RevokeShards(ctx context.Context, req *executorv1.ShardsRequest) (*executorv1.ShardsResponse, error) {
	a, err := s.exec.RevokeShards(ctx, shardIDs(req.ShardIDs)...)
	if err != nil {
		return nil, err
	}
	out := executor.WireShards(a)
	return &out, nil
}
