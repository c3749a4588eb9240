package shard

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/golemcloud/golem-sub031/internal/model"
)

// ID is a partition of the worker id space.
type ID int64

func (s ID) String() string { return "<" + strconv.FormatInt(int64(s), 10) + ">" }

// HashString is the 32-bit polynomial string hash (31*h + b, wrapping).
// The bit pattern is part of the routing contract and must never change.
func HashString(s string) int32 {
	var h int32
	for i := 0; i < len(s); i++ {
		h = 31*h + int32(s[i])
	}
	return h
}

// HashWorkerID combines a hash of the component id's high 64 bits with a
// hash of its low 64 bits concatenated with the worker name.
func HashWorkerID(id model.WorkerID) int64 {
	u := id.ComponentID.UUID
	hiBits := int64(uint64(u[0])<<56 | uint64(u[1])<<48 | uint64(u[2])<<40 | uint64(u[3])<<32 |
		uint64(u[4])<<24 | uint64(u[5])<<16 | uint64(u[6])<<8 | uint64(u[7]))
	loBits := int64(uint64(u[8])<<56 | uint64(u[9])<<48 | uint64(u[10])<<40 | uint64(u[11])<<32 |
		uint64(u[12])<<24 | uint64(u[13])<<16 | uint64(u[14])<<8 | uint64(u[15]))

	high := HashString(strconv.FormatInt(hiBits, 10))
	low := HashString(strconv.FormatInt(loBits, 10) + id.WorkerName)
	return int64(high)<<32 | int64(low)&0xFFFFFFFF
}

// FromWorkerID maps a worker to its shard: |hash| mod numberOfShards.
func FromWorkerID(id model.WorkerID, numberOfShards int) ID {
	if numberOfShards <= 0 {
		return 0
	}
	h := HashWorkerID(id)
	n := int64(numberOfShards)
	if h == math.MinInt64 {
		return ID(uint64(h) % uint64(n))
	}
	if h < 0 {
		h = -h
	}
	return ID(h % n)
}

// InvalidShardIDError is returned when a worker hashes to a shard this
// process does not own. Callers should retry against the owner.
type InvalidShardIDError struct {
	ShardID  ID
	ShardIDs []ID
}

func (e *InvalidShardIDError) Error() string {
	parts := make([]string, len(e.ShardIDs))
	for i, s := range e.ShardIDs {
		parts[i] = s.String()
	}
	return fmt.Sprintf("invalid shard id: %s not in [%s]", e.ShardID, strings.Join(parts, ", "))
}

// Assignment is the set of shards owned by this process for a fixed
// number of shards. The zero value owns nothing.
type Assignment struct {
	NumberOfShards int
	ShardIDs       map[ID]struct{}
}

// NewAssignment builds an assignment owning ids.
func NewAssignment(numberOfShards int, ids ...ID) Assignment {
	a := Assignment{NumberOfShards: numberOfShards, ShardIDs: make(map[ID]struct{}, len(ids))}
	for _, id := range ids {
		a.ShardIDs[id] = struct{}{}
	}
	return a
}

// Owns reports whether shard id is assigned to this process.
func (a Assignment) Owns(id ID) bool {
	_, ok := a.ShardIDs[id]
	return ok
}

// Sorted returns the owned shard ids in ascending order.
func (a Assignment) Sorted() []ID {
	out := make([]ID, 0, len(a.ShardIDs))
	for id := range a.ShardIDs {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// CheckWorker fails with *InvalidShardIDError unless the worker's shard is owned.
func (a Assignment) CheckWorker(id model.WorkerID) error {
	sid := FromWorkerID(id, a.NumberOfShards)
	if a.Owns(sid) {
		return nil
	}
	return &InvalidShardIDError{ShardID: sid, ShardIDs: a.Sorted()}
}

// Register returns a copy that additionally owns ids.
func (a Assignment) Register(numberOfShards int, ids ...ID) Assignment {
	out := NewAssignment(numberOfShards, a.Sorted()...)
	for _, id := range ids {
		out.ShardIDs[id] = struct{}{}
	}
	return out
}

// Revoke returns a copy without ids.
func (a Assignment) Revoke(ids ...ID) Assignment {
	out := NewAssignment(a.NumberOfShards, a.Sorted()...)
	for _, id := range ids {
		delete(out.ShardIDs, id)
	}
	return out
}

func (a Assignment) String() string {
	return fmt.Sprintf("ShardAssignment{number_of_shards: %d, shard_ids: %v}", a.NumberOfShards, a.Sorted())
}
