package executor

import (
	"encoding/json"

	executorv1 "github.com/golemcloud/golem-sub031/api/executor/v1"
	"github.com/golemcloud/golem-sub031/internal/component"
	"github.com/golemcloud/golem-sub031/internal/model"
	"github.com/golemcloud/golem-sub031/internal/oplog"
	"github.com/golemcloud/golem-sub031/internal/shard"
)

// WireMetadata converts metadata to its API form.
func WireMetadata(md Metadata) executorv1.WorkerMetadata {
	r := md.Record
	out := executorv1.WorkerMetadata{
		Worker:            md.Worker.String(),
		Status:            r.Status.String(),
		ComponentVersion:  uint64(r.ComponentVersion),
		ComponentType:     r.ComponentType.String(),
		Args:              r.Args,
		Env:               WireEnv(r.Env),
		OplogIndex:        uint64(r.OplogIdx),
		RetryCount:        r.ErrorCount,
		PendingInvocation: string(r.PendingInvocation),
		Active:            md.Active,
		UpdatedAt:         r.UpdatedAt,
	}
	if md.Active {
		out.Phase = md.Phase.String()
	}
	if r.LastError != nil {
		out.LastError = r.LastError.ToString(r.Stderr)
	}
	for _, reg := range r.DeletedRegions.Regions() {
		out.DeletedRegions = append(out.DeletedRegions, executorv1.Region{Start: uint64(reg.Start), End: uint64(reg.End)})
	}
	return out
}

func WireEnv(env []model.EnvVar) []executorv1.EnvVar {
	if len(env) == 0 {
		return nil
	}
	out := make([]executorv1.EnvVar, len(env))
	for i, e := range env {
		out[i] = executorv1.EnvVar{Key: e.Key, Value: e.Value}
	}
	return out
}

func ModelEnv(env []executorv1.EnvVar) []model.EnvVar {
	if len(env) == 0 {
		return nil
	}
	out := make([]model.EnvVar, len(env))
	for i, e := range env {
		out[i] = model.EnvVar{Key: e.Key, Value: e.Value}
	}
	return out
}

// WireOplog converts oplog records; entries inside deleted regions are
// flagged.
func WireOplog(recs []oplog.Record, deleted oplog.DeletedRegions) ([]executorv1.OplogEntry, error) {
	out := make([]executorv1.OplogEntry, 0, len(recs))
	for _, rec := range recs {
		body, err := json.Marshal(rec.Entry)
		if err != nil {
			return nil, err
		}
		e := executorv1.OplogEntry{
			Index:     uint64(rec.Index),
			Kind:      rec.Entry.Kind.String(),
			Timestamp: rec.Entry.Timestamp,
			Deleted:   deleted.IsDeleted(rec.Index),
		}
		if string(body) != "{}" {
			e.Body = string(body)
		}
		out = append(out, e)
	}
	return out, nil
}

func WireComponent(md component.Metadata) executorv1.Component {
	return executorv1.Component{
		ComponentID: md.ID.String(),
		Name:        md.Name,
		Version:     uint64(md.Version),
		Type:        md.Type.String(),
		Size:        int64(md.Size),
	}
}

func WireShards(a shard.Assignment) executorv1.ShardsResponse {
	ids := a.Sorted()
	out := executorv1.ShardsResponse{NumberOfShards: a.NumberOfShards, ShardIDs: make([]int64, len(ids))}
	for i, id := range ids {
		out.ShardIDs[i] = int64(id)
	}
	return out
}
